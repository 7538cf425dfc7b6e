package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/rnrlcrm/tradecore/internal/app/domain/commodity"
	"github.com/rnrlcrm/tradecore/internal/app/domain/requirement"
)

// RequirementStore persists requirement.Requirement rows, implementing
// both services/requirement.Store and services/matching.RequirementStore.
type RequirementStore struct {
	*BaseStore
}

// NewRequirementStore wraps db for the requirements table.
func NewRequirementStore(db *sql.DB) *RequirementStore {
	return &RequirementStore{BaseStore: NewBaseStore(db, "requirements")}
}

// Create implements services/requirement.Store.
func (s *RequirementStore) Create(ctx context.Context, r *requirement.Requirement) error {
	deliveries, err := json.Marshal(r.DeliveryLocations)
	if err != nil {
		return fmt.Errorf("marshal delivery_locations: %w", err)
	}
	quality, err := json.Marshal(r.QualityParams)
	if err != nil {
		return fmt.Errorf("marshal quality_params: %w", err)
	}
	scoreVector, err := json.Marshal(r.AIScoreVector)
	if err != nil {
		return fmt.Errorf("marshal ai_score_vector: %w", err)
	}
	_, err = s.ExecContext(ctx, `
		INSERT INTO requirements (
			id, version, buyer_id, commodity_id,
			quantity, allocated, trade_unit, qty_in_base_unit,
			delivery_locations, quality_tolerance, quality_params, budget_max,
			intent, status,
			ai_suggested_price, ai_suggested_tolerance, ai_score_vector, ai_recommended_sellers,
			buyer_trust_score, risk_precheck_status, risk_precheck_score,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			$9, $10, $11, $12,
			$13, $14,
			$15, $16, $17, $18,
			$19, $20, $21,
			$22, $23
		)
	`,
		r.ID, r.Version, r.BuyerID, r.CommodityID,
		decStr(r.Quantity), decStr(r.Allocated), r.TradeUnit, decStr(r.QtyInBaseUnit),
		deliveries, r.QualityTolerance, quality, optionalDecStr(r.BudgetMax),
		r.Intent, r.Status,
		optionalDecStr(r.AISuggestedPrice), optionalFloatArg(r.AISuggestedTolerance), scoreVector, pq.Array(recommendedSellersSlice(r.AIRecommendedSellers)),
		r.BuyerTrustScore, r.RiskPrecheckStatus, r.RiskPrecheckScore,
		r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert requirement: %w", err)
	}
	return nil
}

// Get implements services/requirement.Store.
func (s *RequirementStore) Get(ctx context.Context, id string) (*requirement.Requirement, error) {
	row := s.QueryRowContext(ctx, requirementSelect+` WHERE id = $1`, id)
	return scanRequirement(row)
}

// UpdateWithVersion implements services/requirement.Store.
func (s *RequirementStore) UpdateWithVersion(ctx context.Context, r *requirement.Requirement) (bool, error) {
	quality, err := json.Marshal(r.QualityParams)
	if err != nil {
		return false, fmt.Errorf("marshal quality_params: %w", err)
	}
	scoreVector, err := json.Marshal(r.AIScoreVector)
	if err != nil {
		return false, fmt.Errorf("marshal ai_score_vector: %w", err)
	}
	now := time.Now().UTC()
	result, err := s.ExecContext(ctx, `
		UPDATE requirements SET
			allocated = $3, quality_params = $4, status = $5,
			ai_suggested_price = $6, ai_suggested_tolerance = $7, ai_score_vector = $8,
			ai_recommended_sellers = $9, buyer_trust_score = $10,
			risk_precheck_status = $11, risk_precheck_score = $12, updated_at = $13,
			version = version + 1
		WHERE id = $1 AND version = $2
	`,
		r.ID, r.Version,
		decStr(r.Allocated), quality, r.Status,
		optionalDecStr(r.AISuggestedPrice), optionalFloatArg(r.AISuggestedTolerance), scoreVector,
		pq.Array(recommendedSellersSlice(r.AIRecommendedSellers)), r.BuyerTrustScore,
		r.RiskPrecheckStatus, r.RiskPrecheckScore, now,
	)
	if err != nil {
		return false, fmt.Errorf("update requirement: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return false, nil
	}
	r.Version++
	r.UpdatedAt = now
	return true, nil
}

// ListOpenForSweep implements services/matching.RequirementStore: every
// PUBLISHED/PARTIALLY_MATCHED requirement with remaining quantity,
// candidates for the matcher's periodic safety sweep.
func (s *RequirementStore) ListOpenForSweep(ctx context.Context, limit int) ([]*requirement.Requirement, error) {
	rows, err := s.QueryContext(ctx, requirementSelect+`
		WHERE status IN ('PUBLISHED', 'PARTIALLY_MATCHED') AND quantity > allocated
		ORDER BY created_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list open for sweep: %w", err)
	}
	defer rows.Close()
	var out []*requirement.Requirement
	for rows.Next() {
		r, err := scanRequirement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// FulfilledCount implements services/requirement.TrustHistory: the number
// of buyerID's requirements that reached FULFILLED against the total it
// has ever posted, the raw counts behind buyer_trust_score.
func (s *RequirementStore) FulfilledCount(ctx context.Context, buyerID string) (int, int, error) {
	var total, fulfilled int
	err := s.QueryRowContext(ctx, `
		SELECT count(*), count(*) FILTER (WHERE status = 'FULFILLED')
		FROM requirements WHERE buyer_id = $1
	`, buyerID).Scan(&total, &fulfilled)
	if err != nil {
		return 0, 0, fmt.Errorf("count fulfilled requirements: %w", err)
	}
	return fulfilled, total, nil
}

const requirementSelect = `
	SELECT
		id, version, buyer_id, commodity_id,
		quantity, allocated, trade_unit, qty_in_base_unit,
		delivery_locations, quality_tolerance, quality_params, budget_max,
		intent, status,
		ai_suggested_price, ai_suggested_tolerance, ai_score_vector, ai_recommended_sellers,
		buyer_trust_score, risk_precheck_status, risk_precheck_score,
		created_at, updated_at
	FROM requirements`

func scanRequirement(r row) (*requirement.Requirement, error) {
	var req requirement.Requirement
	var deliveries, quality, scoreVector json.RawMessage
	var recommended pq.StringArray
	var quantity, allocated, qtyBase string
	var budgetMax, aiPrice sql.NullString
	var aiTolerance sql.NullFloat64

	err := r.Scan(
		&req.ID, &req.Version, &req.BuyerID, &req.CommodityID,
		&quantity, &allocated, &req.TradeUnit, &qtyBase,
		&deliveries, &req.QualityTolerance, &quality, &budgetMax,
		&req.Intent, &req.Status,
		&aiPrice, &aiTolerance, &scoreVector, &recommended,
		&req.BuyerTrustScore, &req.RiskPrecheckStatus, &req.RiskPrecheckScore,
		&req.CreatedAt, &req.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("requirement not found: %w", err)
		}
		return nil, fmt.Errorf("scan requirement: %w", err)
	}
	if err := decFromStr(quantity, &req.Quantity); err != nil {
		return nil, err
	}
	if err := decFromStr(allocated, &req.Allocated); err != nil {
		return nil, err
	}
	if err := decFromStr(qtyBase, &req.QtyInBaseUnit); err != nil {
		return nil, err
	}
	budgetMaxVal, err := optionalDecFromStr(budgetMax)
	if err != nil {
		return nil, err
	}
	req.BudgetMax = budgetMaxVal
	aiPriceVal, err := optionalDecFromStr(aiPrice)
	if err != nil {
		return nil, err
	}
	req.AISuggestedPrice = aiPriceVal
	if aiTolerance.Valid {
		v := aiTolerance.Float64
		req.AISuggestedTolerance = &v
	}
	if len(deliveries) > 0 {
		var dl []requirement.DeliveryLocation
		if err := json.Unmarshal(deliveries, &dl); err != nil {
			return nil, fmt.Errorf("unmarshal delivery_locations: %w", err)
		}
		req.DeliveryLocations = dl
	}
	if len(quality) > 0 {
		var qp commodity.QualityParams
		if err := json.Unmarshal(quality, &qp); err != nil {
			return nil, fmt.Errorf("unmarshal quality_params: %w", err)
		}
		req.QualityParams = qp
	}
	if len(scoreVector) > 0 {
		var sv []float64
		if err := json.Unmarshal(scoreVector, &sv); err != nil {
			return nil, fmt.Errorf("unmarshal ai_score_vector: %w", err)
		}
		req.AIScoreVector = sv
	}
	if len(recommended) > 0 {
		req.AIRecommendedSellers = make(map[string]struct{}, len(recommended))
		for _, id := range recommended {
			req.AIRecommendedSellers[id] = struct{}{}
		}
	}
	return &req, nil
}

func recommendedSellersSlice(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	return out
}
