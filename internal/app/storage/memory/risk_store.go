package memory

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rnrlcrm/tradecore/internal/app/services/risk"
)

// CreditStore is an in-memory risk.CreditChecker backing the Tier-1 credit
// rule: each partner carries a used/limit pair, defaulting
// to an unlimited line (used=0, limit=0 meaning "no cap configured").
type CreditStore struct {
	mu     sync.Mutex
	limits map[string]creditLine
}

type creditLine struct {
	used  decimal.Decimal
	limit decimal.Decimal
}

// NewCreditStore returns an empty store.
func NewCreditStore() *CreditStore { return &CreditStore{limits: make(map[string]creditLine)} }

// SetLimit records partnerID's current usage and limit.
func (s *CreditStore) SetLimit(partnerID string, used, limit decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limits[partnerID] = creditLine{used: used, limit: limit}
}

// CreditUsage implements risk.CreditChecker. A partner with no recorded
// line reports used=0, limit=0, which the engine's credit rule treats as
// "no cap configured" rather than "fully exhausted".
func (s *CreditStore) CreditUsage(_ context.Context, partnerID string) (decimal.Decimal, decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	line, ok := s.limits[partnerID]
	if !ok {
		return decimal.Zero, decimal.Zero, nil
	}
	return line.used, line.limit, nil
}

// CircularTradeStore is an in-memory risk.CircularTradeChecker tracking
// same-day open postings per partner/commodity/side.
type CircularTradeStore struct {
	mu       sync.Mutex
	postings map[circularKey]bool
}

type circularKey struct {
	partnerID   string
	commodityID string
	day         string
	side        risk.Side
}

// NewCircularTradeStore returns an empty store.
func NewCircularTradeStore() *CircularTradeStore {
	return &CircularTradeStore{postings: make(map[circularKey]bool)}
}

// RecordOpenPosting marks partnerID as holding an open posting of side in
// commodityID on day, until ClearPosting is called (settlement or
// cancellation).
func (s *CircularTradeStore) RecordOpenPosting(partnerID, commodityID string, day time.Time, side risk.Side) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.postings[dayKey(partnerID, commodityID, day, side)] = true
}

// ClearPosting removes an open-posting marker once it settles.
func (s *CircularTradeStore) ClearPosting(partnerID, commodityID string, day time.Time, side risk.Side) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.postings, dayKey(partnerID, commodityID, day, side))
}

// HasOpenCounterPosting implements risk.CircularTradeChecker: it reports
// whether partnerID holds an open posting of the opposite side.
func (s *CircularTradeStore) HasOpenCounterPosting(_ context.Context, partnerID, commodityID string, day time.Time, side risk.Side) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counter := risk.SideBuy
	if side == risk.SideBuy {
		counter = risk.SideSell
	}
	return s.postings[dayKey(partnerID, commodityID, day, counter)], nil
}

func dayKey(partnerID, commodityID string, day time.Time, side risk.Side) circularKey {
	return circularKey{
		partnerID:   partnerID,
		commodityID: commodityID,
		day:         day.UTC().Format("2006-01-02"),
		side:        side,
	}
}
