package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rnrlcrm/tradecore/internal/app/services/risk"
)

// CreditStore persists per-partner credit usage, implementing
// risk.CreditChecker.
type CreditStore struct {
	*BaseStore
}

// NewCreditStore wraps db for the partner_credit_lines table.
func NewCreditStore(db *sql.DB) *CreditStore {
	return &CreditStore{BaseStore: NewBaseStore(db, "partner_credit_lines")}
}

// CreditUsage implements risk.CreditChecker. A partner with no recorded
// line reports used=0, limit=0, which the engine's credit rule treats as
// "no cap configured" rather than "fully exhausted".
func (s *CreditStore) CreditUsage(ctx context.Context, partnerID string) (decimal.Decimal, decimal.Decimal, error) {
	var used, limit string
	err := s.QueryRowContext(ctx, `
		SELECT used, credit_limit FROM partner_credit_lines WHERE partner_id = $1
	`, partnerID).Scan(&used, &limit)
	if err == sql.ErrNoRows {
		return decimal.Zero, decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("scan credit line: %w", err)
	}
	var usedDec, limitDec decimal.Decimal
	if err := decFromStr(used, &usedDec); err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	if err := decFromStr(limit, &limitDec); err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return usedDec, limitDec, nil
}

// SetLimit upserts partnerID's current usage and limit.
func (s *CreditStore) SetLimit(ctx context.Context, partnerID string, used, limit decimal.Decimal) error {
	_, err := s.ExecContext(ctx, `
		INSERT INTO partner_credit_lines (partner_id, used, credit_limit)
		VALUES ($1, $2, $3)
		ON CONFLICT (partner_id) DO UPDATE SET used = EXCLUDED.used, credit_limit = EXCLUDED.credit_limit
	`, partnerID, decStr(used), decStr(limit))
	if err != nil {
		return fmt.Errorf("set credit limit: %w", err)
	}
	return nil
}

// CircularTradeStore persists same-day open postings per partner/
// commodity/side, implementing risk.CircularTradeChecker.
type CircularTradeStore struct {
	*BaseStore
}

// NewCircularTradeStore wraps db for the open_postings table.
func NewCircularTradeStore(db *sql.DB) *CircularTradeStore {
	return &CircularTradeStore{BaseStore: NewBaseStore(db, "open_postings")}
}

// HasOpenCounterPosting implements risk.CircularTradeChecker: it reports
// whether partnerID holds an open posting of the opposite side on day.
func (s *CircularTradeStore) HasOpenCounterPosting(ctx context.Context, partnerID, commodityID string, day time.Time, side risk.Side) (bool, error) {
	counter := risk.SideBuy
	if side == risk.SideBuy {
		counter = risk.SideSell
	}
	var exists bool
	err := s.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM open_postings
			WHERE partner_id = $1 AND commodity_id = $2 AND trade_day = $3 AND side = $4
		)
	`, partnerID, commodityID, day.UTC().Format("2006-01-02"), counter).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check open counter posting: %w", err)
	}
	return exists, nil
}

// RecordOpenPosting marks partnerID as holding an open posting of side in
// commodityID on day, until ClearPosting is called.
func (s *CircularTradeStore) RecordOpenPosting(ctx context.Context, partnerID, commodityID string, day time.Time, side risk.Side) error {
	_, err := s.ExecContext(ctx, `
		INSERT INTO open_postings (partner_id, commodity_id, trade_day, side)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (partner_id, commodity_id, trade_day, side) DO NOTHING
	`, partnerID, commodityID, day.UTC().Format("2006-01-02"), side)
	if err != nil {
		return fmt.Errorf("record open posting: %w", err)
	}
	return nil
}

// ClearPosting removes an open-posting marker once it settles.
func (s *CircularTradeStore) ClearPosting(ctx context.Context, partnerID, commodityID string, day time.Time, side risk.Side) error {
	_, err := s.ExecContext(ctx, `
		DELETE FROM open_postings
		WHERE partner_id = $1 AND commodity_id = $2 AND trade_day = $3 AND side = $4
	`, partnerID, commodityID, day.UTC().Format("2006-01-02"), side)
	if err != nil {
		return fmt.Errorf("clear posting: %w", err)
	}
	return nil
}
