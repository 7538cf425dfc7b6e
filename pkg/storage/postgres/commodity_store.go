package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/rnrlcrm/tradecore/internal/app/domain/commodity"
)

// CommodityStore persists the commodity catalog, implementing
// services/availability.CommodityLookup and services/requirement.CommodityLookup.
// Catalog entries change rarely and carry a nested shape (ParameterSpec,
// MatchingPolicy) that maps poorly onto flat columns, so the row stores
// the full commodity.Commodity as one JSON document alongside id/name for
// indexing — the same tradeoff the quality_params/score_breakdown columns
// make elsewhere in this package.
type CommodityStore struct {
	*BaseStore
}

// NewCommodityStore wraps db for the commodities table.
func NewCommodityStore(db *sql.DB) *CommodityStore {
	return &CommodityStore{BaseStore: NewBaseStore(db, "commodities")}
}

// Put inserts or replaces a catalog entry.
func (s *CommodityStore) Put(ctx context.Context, c *commodity.Commodity) error {
	doc, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal commodity: %w", err)
	}
	_, err = s.ExecContext(ctx, `
		INSERT INTO commodities (id, name, base_unit, document)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, base_unit = EXCLUDED.base_unit, document = EXCLUDED.document
	`, c.ID, c.Name, c.BaseUnit, doc)
	if err != nil {
		return fmt.Errorf("upsert commodity: %w", err)
	}
	return nil
}

// GetCommodity implements services/availability.CommodityLookup and
// services/requirement.CommodityLookup.
func (s *CommodityStore) GetCommodity(ctx context.Context, commodityID string) (*commodity.Commodity, error) {
	var doc json.RawMessage
	err := s.QueryRowContext(ctx, `SELECT document FROM commodities WHERE id = $1`, commodityID).Scan(&doc)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("commodity %s not found", commodityID)
		}
		return nil, fmt.Errorf("scan commodity: %w", err)
	}
	var c commodity.Commodity
	if err := json.Unmarshal(doc, &c); err != nil {
		return nil, fmt.Errorf("unmarshal commodity: %w", err)
	}
	return &c, nil
}
