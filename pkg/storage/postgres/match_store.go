package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/rnrlcrm/tradecore/internal/app/domain/match"
)

// MatchStore persists match.Match rows, implementing
// services/matching.MatchStore. Matches are append-only:
// Save upserts on ID so a retried allocation with the same generated ID is
// idempotent, but no update-with-version path exists here.
type MatchStore struct {
	*BaseStore
}

// NewMatchStore wraps db for the matches table.
func NewMatchStore(db *sql.DB) *MatchStore {
	return &MatchStore{BaseStore: NewBaseStore(db, "matches")}
}

// Save implements services/matching.MatchStore.
func (s *MatchStore) Save(ctx context.Context, m *match.Match) error {
	breakdown, err := json.Marshal(m.ScoreBreakdown)
	if err != nil {
		return fmt.Errorf("marshal score_breakdown: %w", err)
	}
	_, err = s.ExecContext(ctx, `
		INSERT INTO matches (
			id, requirement_id, availability_id, allocated_qty,
			score, score_breakdown, risk_status, warnings,
			requirement_version, availability_version, created_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			$9, $10, $11
		)
		ON CONFLICT (id) DO UPDATE SET
			allocated_qty = EXCLUDED.allocated_qty,
			score = EXCLUDED.score,
			score_breakdown = EXCLUDED.score_breakdown,
			risk_status = EXCLUDED.risk_status,
			warnings = EXCLUDED.warnings
	`,
		m.ID, m.RequirementID, m.AvailabilityID, decStr(m.AllocatedQty),
		m.Score, breakdown, m.RiskStatus, pq.Array(m.Warnings),
		m.RequirementVersion, m.AvailabilityVersion, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save match: %w", err)
	}
	return nil
}

// Get returns a persisted match by ID.
func (s *MatchStore) Get(ctx context.Context, id string) (*match.Match, bool) {
	row := s.QueryRowContext(ctx, matchSelect+` WHERE id = $1`, id)
	m, err := scanMatch(row)
	if err != nil {
		return nil, false
	}
	return m, true
}

// ListByRequirement returns every match recorded against requirementID.
func (s *MatchStore) ListByRequirement(ctx context.Context, requirementID string) []*match.Match {
	rows, err := s.QueryContext(ctx, matchSelect+` WHERE requirement_id = $1 ORDER BY created_at`, requirementID)
	if err != nil {
		return nil
	}
	defer rows.Close()
	var out []*match.Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil
		}
		out = append(out, m)
	}
	return out
}

const matchSelect = `
	SELECT
		id, requirement_id, availability_id, allocated_qty,
		score, score_breakdown, risk_status, warnings,
		requirement_version, availability_version, created_at
	FROM matches`

func scanMatch(r row) (*match.Match, error) {
	var m match.Match
	var allocatedQty string
	var breakdown json.RawMessage
	var warnings pq.StringArray

	err := r.Scan(
		&m.ID, &m.RequirementID, &m.AvailabilityID, &allocatedQty,
		&m.Score, &breakdown, &m.RiskStatus, &warnings,
		&m.RequirementVersion, &m.AvailabilityVersion, &m.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan match: %w", err)
	}
	if err := decFromStr(allocatedQty, &m.AllocatedQty); err != nil {
		return nil, err
	}
	if len(breakdown) > 0 {
		if err := json.Unmarshal(breakdown, &m.ScoreBreakdown); err != nil {
			return nil, fmt.Errorf("unmarshal score_breakdown: %w", err)
		}
	}
	m.Warnings = []string(warnings)
	return &m, nil
}
