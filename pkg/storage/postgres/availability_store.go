package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/rnrlcrm/tradecore/internal/app/domain/availability"
	"github.com/rnrlcrm/tradecore/internal/app/domain/commodity"
	"github.com/rnrlcrm/tradecore/internal/app/domain/risk"
)

// AvailabilityStore persists availability.Availability rows, implementing
// both services/availability.Store (the optimistic-locked write path) and
// services/matching.AvailabilityStore (the location-first candidate
// query, step 1).
type AvailabilityStore struct {
	*BaseStore
}

// NewAvailabilityStore wraps db for the availabilities table.
func NewAvailabilityStore(db *sql.DB) *AvailabilityStore {
	return &AvailabilityStore{BaseStore: NewBaseStore(db, "availabilities")}
}

// Create implements services/availability.Store.
func (s *AvailabilityStore) Create(ctx context.Context, a *availability.Availability) error {
	quality, err := json.Marshal(a.QualityParams)
	if err != nil {
		return fmt.Errorf("marshal quality_params: %w", err)
	}
	_, err = s.ExecContext(ctx, `
		INSERT INTO availabilities (
			id, version, seller_id, seller_branch_id, commodity_id,
			location_id, adhoc_address, adhoc_lat, adhoc_lon, country, region,
			city, lat, lon,
			total, reserved, sold, trade_unit, qty_in_base_unit,
			base_price, price_unit, price_per_base_unit,
			quality_params, valid_from, valid_until,
			market_visibility, restricted_buyers, status,
			risk_precheck_status, risk_precheck_score,
			first_reserved_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, $11,
			$12, $13, $14,
			$15, $16, $17, $18, $19,
			$20, $21, $22,
			$23, $24, $25,
			$26, $27, $28,
			$29, $30,
			$31, $32, $33
		)
	`,
		a.ID, a.Version, a.SellerID, a.SellerBranchID, a.CommodityID,
		a.LocationID, a.AdHocAddress, a.AdHocLat, a.AdHocLon, a.Country, a.Region,
		a.City, a.Lat, a.Lon,
		decStr(a.Total), decStr(a.Reserved), decStr(a.Sold), a.TradeUnit, decStr(a.QtyInBaseUnit),
		decStr(a.BasePrice), a.PriceUnit, decStr(a.PricePerBaseUnit),
		quality, a.ValidFrom, a.ValidUntil,
		a.MarketVisibility, pq.Array(restrictedBuyersSlice(a.RestrictedBuyers)), a.Status,
		a.RiskPrecheckStatus, a.RiskPrecheckScore,
		a.FirstReservedAt, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert availability: %w", err)
	}
	return nil
}

// Get implements services/availability.Store.
func (s *AvailabilityStore) Get(ctx context.Context, id string) (*availability.Availability, error) {
	row := s.QueryRowContext(ctx, `
		SELECT
			id, version, seller_id, seller_branch_id, commodity_id,
			location_id, adhoc_address, adhoc_lat, adhoc_lon, country, region,
			city, lat, lon,
			total, reserved, sold, trade_unit, qty_in_base_unit,
			base_price, price_unit, price_per_base_unit,
			quality_params, valid_from, valid_until,
			market_visibility, restricted_buyers, status,
			risk_precheck_status, risk_precheck_score,
			first_reserved_at, created_at, updated_at
		FROM availabilities WHERE id = $1
	`, id)
	return scanAvailability(row)
}

// UpdateWithVersion implements services/availability.Store: the write is
// conditioned on the row's current version still matching a.Version
// ("WHERE id=$1 AND version=$2"); a zero rows-affected result means a
// concurrent writer won the race and the caller retries.
func (s *AvailabilityStore) UpdateWithVersion(ctx context.Context, a *availability.Availability) (bool, error) {
	quality, err := json.Marshal(a.QualityParams)
	if err != nil {
		return false, fmt.Errorf("marshal quality_params: %w", err)
	}
	now := time.Now().UTC()
	result, err := s.ExecContext(ctx, `
		UPDATE availabilities SET
			reserved = $3, sold = $4, qty_in_base_unit = $5,
			base_price = $6, price_unit = $7, price_per_base_unit = $8,
			quality_params = $9, valid_from = $10, valid_until = $11,
			market_visibility = $12, restricted_buyers = $13, status = $14,
			risk_precheck_status = $15, risk_precheck_score = $16,
			first_reserved_at = $17, updated_at = $18, version = version + 1
		WHERE id = $1 AND version = $2
	`,
		a.ID, a.Version,
		decStr(a.Reserved), decStr(a.Sold), decStr(a.QtyInBaseUnit),
		decStr(a.BasePrice), a.PriceUnit, decStr(a.PricePerBaseUnit),
		quality, a.ValidFrom, a.ValidUntil,
		a.MarketVisibility, pq.Array(restrictedBuyersSlice(a.RestrictedBuyers)), a.Status,
		a.RiskPrecheckStatus, a.RiskPrecheckScore,
		a.FirstReservedAt, now,
	)
	if err != nil {
		return false, fmt.Errorf("update availability: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return false, nil
	}
	a.Version++
	a.UpdatedAt = now
	return true, nil
}

// ListExpiring implements services/availability.Store, backing the
// availability expiry sweeper.
func (s *AvailabilityStore) ListExpiring(ctx context.Context, cutoff time.Time, limit int) ([]*availability.Availability, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT
			id, version, seller_id, seller_branch_id, commodity_id,
			location_id, adhoc_address, adhoc_lat, adhoc_lon, country, region,
			city, lat, lon,
			total, reserved, sold, trade_unit, qty_in_base_unit,
			base_price, price_unit, price_per_base_unit,
			quality_params, valid_from, valid_until,
			market_visibility, restricted_buyers, status,
			risk_precheck_status, risk_precheck_score,
			first_reserved_at, created_at, updated_at
		FROM availabilities
		WHERE status IN ('AVAILABLE', 'PARTIALLY_SOLD') AND valid_until <= $1
		ORDER BY valid_until
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list expiring: %w", err)
	}
	defer rows.Close()
	return scanAvailabilityRows(rows)
}

// ListOpenByCommodityLocation implements services/matching.AvailabilityStore,
// the DB-level location-first hard filter: same
// country, and same region unless region is empty (the
// cross-state-allowed policy), bounded by limit (MAX_CANDIDATES).
func (s *AvailabilityStore) ListOpenByCommodityLocation(ctx context.Context, commodityID, country, region string, limit int) ([]*availability.Availability, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT
			id, version, seller_id, seller_branch_id, commodity_id,
			location_id, adhoc_address, adhoc_lat, adhoc_lon, country, region,
			city, lat, lon,
			total, reserved, sold, trade_unit, qty_in_base_unit,
			base_price, price_unit, price_per_base_unit,
			quality_params, valid_from, valid_until,
			market_visibility, restricted_buyers, status,
			risk_precheck_status, risk_precheck_score,
			first_reserved_at, created_at, updated_at
		FROM availabilities
		WHERE status IN ('AVAILABLE', 'PARTIALLY_SOLD')
			AND commodity_id = $1
			AND country = $2
			AND ($3 = '' OR region = $3)
			AND valid_until > now()
		ORDER BY valid_from, id
		LIMIT $4
	`, commodityID, country, region, limit)
	if err != nil {
		return nil, fmt.Errorf("list open by commodity/location: %w", err)
	}
	defer rows.Close()
	return scanAvailabilityRows(rows)
}

func scanAvailabilityRows(rows *sql.Rows) ([]*availability.Availability, error) {
	var out []*availability.Availability
	for rows.Next() {
		a, err := scanAvailability(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// row is satisfied by both *sql.Row and *sql.Rows.
type row interface {
	Scan(dest ...any) error
}

func scanAvailability(r row) (*availability.Availability, error) {
	var a availability.Availability
	var quality json.RawMessage
	var restricted pq.StringArray
	var total, reserved, sold, qtyBase, basePrice, pricePerBase string

	err := r.Scan(
		&a.ID, &a.Version, &a.SellerID, &a.SellerBranchID, &a.CommodityID,
		&a.LocationID, &a.AdHocAddress, &a.AdHocLat, &a.AdHocLon, &a.Country, &a.Region,
		&a.City, &a.Lat, &a.Lon,
		&total, &reserved, &sold, &a.TradeUnit, &qtyBase,
		&basePrice, &a.PriceUnit, &pricePerBase,
		&quality, &a.ValidFrom, &a.ValidUntil,
		&a.MarketVisibility, &restricted, &a.Status,
		&a.RiskPrecheckStatus, &a.RiskPrecheckScore,
		&a.FirstReservedAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("availability not found: %w", err)
		}
		return nil, fmt.Errorf("scan availability: %w", err)
	}
	if err := decFromStr(total, &a.Total); err != nil {
		return nil, err
	}
	if err := decFromStr(reserved, &a.Reserved); err != nil {
		return nil, err
	}
	if err := decFromStr(sold, &a.Sold); err != nil {
		return nil, err
	}
	if err := decFromStr(qtyBase, &a.QtyInBaseUnit); err != nil {
		return nil, err
	}
	if err := decFromStr(basePrice, &a.BasePrice); err != nil {
		return nil, err
	}
	if err := decFromStr(pricePerBase, &a.PricePerBaseUnit); err != nil {
		return nil, err
	}
	if len(quality) > 0 {
		var qp commodity.QualityParams
		if err := json.Unmarshal(quality, &qp); err != nil {
			return nil, fmt.Errorf("unmarshal quality_params: %w", err)
		}
		a.QualityParams = qp
	}
	if len(restricted) > 0 {
		a.RestrictedBuyers = make(map[string]struct{}, len(restricted))
		for _, id := range restricted {
			a.RestrictedBuyers[id] = struct{}{}
		}
	}
	if a.RiskPrecheckStatus == "" {
		a.RiskPrecheckStatus = risk.StatusPass
	}
	return &a, nil
}

func restrictedBuyersSlice(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	return out
}
