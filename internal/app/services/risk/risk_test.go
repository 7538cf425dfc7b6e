package risk_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/rnrlcrm/tradecore/internal/app/domain/party"
	domrisk "github.com/rnrlcrm/tradecore/internal/app/domain/risk"
	"github.com/rnrlcrm/tradecore/internal/app/external"
	"github.com/rnrlcrm/tradecore/internal/app/services/capability"
	"github.com/rnrlcrm/tradecore/internal/app/services/insider"
	"github.com/rnrlcrm/tradecore/internal/app/services/risk"
	"github.com/rnrlcrm/tradecore/internal/app/storage/memory"
)

type stubCredit struct {
	used, limit decimal.Decimal
}

func (s stubCredit) CreditUsage(context.Context, string) (decimal.Decimal, decimal.Decimal, error) {
	return s.used, s.limit, nil
}

type stubCircular struct{ open bool }

func (s stubCircular) HasOpenCounterPosting(context.Context, string, string, time.Time, risk.Side) (bool, error) {
	return s.open, nil
}

type stubML struct {
	result external.MLInferenceResult
	err    error
	delay  time.Duration
}

func (m stubML) Predict(ctx context.Context, _ string, _ map[string]float64) (external.MLInferenceResult, error) {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return external.MLInferenceResult{}, ctx.Err()
		}
	}
	if m.err != nil {
		return external.MLInferenceResult{}, m.err
	}
	return m.result, nil
}

func seedBuyerSeller(t *testing.T, partners *memory.PartnerStore) {
	t.Helper()
	partners.Put(&party.Partner{ID: "buyer-1", HomeCountry: "IN", EntityClass: party.ClassBusinessEntity})
	partners.Put(&party.Partner{ID: "seller-1", HomeCountry: "IN", EntityClass: party.ClassBusinessEntity})
}

func TestAssessTradeMLDegradedFallsBackToRuleScore(t *testing.T) {
	partners := memory.NewPartnerStore()
	seedBuyerSeller(t, partners)
	validator := insider.New(partners)
	credit := stubCredit{used: decimal.NewFromInt(0), limit: decimal.NewFromInt(1_000_000)}

	cfg := risk.DefaultConfig()
	cfg.Tier2Budget = 20 * time.Millisecond
	ml := stubML{delay: 50 * time.Millisecond} // exceeds Tier2Budget -> degrade

	engine := risk.New(partners, validator, credit, stubCircular{}, ml, cfg, nil)

	assessment, err := engine.AssessTrade(context.Background(), risk.TradeInput{
		BuyerID:     "buyer-1",
		SellerID:    "seller-1",
		CommodityID: "wheat",
		TradeValue:  decimal.NewFromInt(1000),
		TradeDay:    time.Now(),
		Features:    map[string]float64{"price_volatility": 0.1, "fraud_signal": 0.05},
	})
	require.NoError(t, err)
	require.True(t, assessment.MLDegraded)
	require.NotEqual(t, domrisk.StatusFail, assessment.Tier1Status)
}

func TestAssessTradePartyLinkBlocksSelfTrade(t *testing.T) {
	partners := memory.NewPartnerStore()
	partners.Put(&party.Partner{ID: "p1", HomeCountry: "IN", EntityClass: party.ClassBusinessEntity})
	validator := insider.New(partners)
	engine := risk.New(partners, validator, nil, nil, stubML{result: external.MLInferenceResult{Score: 95, Confidence: 0.9}}, risk.DefaultConfig(), nil)

	assessment, err := engine.AssessTrade(context.Background(), risk.TradeInput{
		BuyerID:     "p1",
		SellerID:    "p1",
		CommodityID: "wheat",
		TradeValue:  decimal.NewFromInt(100),
		TradeDay:    time.Now(),
	})
	require.NoError(t, err)
	require.Equal(t, domrisk.StatusFail, assessment.FinalStatus)
	require.Contains(t, assessment.Tier1Reasons[0], "party-link")
}

func TestAssessTradeCreditLimitExceededFails(t *testing.T) {
	partners := memory.NewPartnerStore()
	seedBuyerSeller(t, partners)
	validator := insider.New(partners)
	credit := stubCredit{used: decimal.NewFromInt(900), limit: decimal.NewFromInt(1000)}
	engine := risk.New(partners, validator, credit, stubCircular{}, stubML{result: external.MLInferenceResult{Score: 95}}, risk.DefaultConfig(), nil)

	assessment, err := engine.AssessTrade(context.Background(), risk.TradeInput{
		BuyerID:     "buyer-1",
		SellerID:    "seller-1",
		CommodityID: "wheat",
		TradeValue:  decimal.NewFromInt(200),
		TradeDay:    time.Now(),
	})
	require.NoError(t, err)
	require.Equal(t, domrisk.StatusFail, assessment.FinalStatus)
}

func TestAssessTradeCircularTradingFails(t *testing.T) {
	partners := memory.NewPartnerStore()
	seedBuyerSeller(t, partners)
	validator := insider.New(partners)
	credit := stubCredit{used: decimal.NewFromInt(0), limit: decimal.NewFromInt(1_000_000)}
	engine := risk.New(partners, validator, credit, stubCircular{open: true}, stubML{result: external.MLInferenceResult{Score: 95}}, risk.DefaultConfig(), nil)

	assessment, err := engine.AssessTrade(context.Background(), risk.TradeInput{
		BuyerID:     "buyer-1",
		SellerID:    "seller-1",
		CommodityID: "wheat",
		TradeValue:  decimal.NewFromInt(200),
		TradeDay:    time.Now(),
	})
	require.NoError(t, err)
	require.Equal(t, domrisk.StatusFail, assessment.FinalStatus)
}

func TestAssessPostingCrossBorderDenialFails(t *testing.T) {
	partners := memory.NewPartnerStore()
	partners.Put(&party.Partner{ID: "p1", HomeCountry: "US", EntityClass: party.ClassBusinessEntity, Capabilities: party.Zero()})
	validator := insider.New(partners)
	engine := risk.New(partners, validator, nil, nil, stubML{result: external.MLInferenceResult{Score: 95}}, risk.DefaultConfig(), nil)

	assessment, err := engine.AssessPosting(context.Background(), risk.PostingInput{
		PartnerID:   "p1",
		CommodityID: "wheat",
		Country:     "IN",
		Direction:   capability.Sell,
		TradeDay:    time.Now(),
	})
	require.NoError(t, err)
	require.Equal(t, domrisk.StatusFail, assessment.FinalStatus)
	require.Contains(t, assessment.Tier1Reasons[0], "foreign entity")
}

func TestAssessPostingTier2PassThreshold(t *testing.T) {
	partners := memory.NewPartnerStore()
	caps := party.Zero()
	caps[party.CapDomesticSellIndia] = true
	partners.Put(&party.Partner{ID: "p1", HomeCountry: "IN", EntityClass: party.ClassBusinessEntity, Capabilities: caps})
	validator := insider.New(partners)
	engine := risk.New(partners, validator, nil, nil, stubML{result: external.MLInferenceResult{Score: 85, Confidence: 0.8}}, risk.DefaultConfig(), nil)

	assessment, err := engine.AssessPosting(context.Background(), risk.PostingInput{
		PartnerID:   "p1",
		CommodityID: "wheat",
		Country:     "IN",
		Direction:   capability.Sell,
		TradeDay:    time.Now(),
	})
	require.NoError(t, err)
	require.Equal(t, domrisk.StatusPass, assessment.FinalStatus)
	require.False(t, assessment.MLDegraded)
}

func TestAssessPostingMLErrorDegradesNotFails(t *testing.T) {
	partners := memory.NewPartnerStore()
	caps := party.Zero()
	caps[party.CapDomesticSellIndia] = true
	partners.Put(&party.Partner{ID: "p1", HomeCountry: "IN", EntityClass: party.ClassBusinessEntity, Capabilities: caps})
	validator := insider.New(partners)
	engine := risk.New(partners, validator, nil, nil, stubML{err: errors.New("model unavailable")}, risk.DefaultConfig(), nil)

	assessment, err := engine.AssessPosting(context.Background(), risk.PostingInput{
		PartnerID:   "p1",
		CommodityID: "wheat",
		Country:     "IN",
		Direction:   capability.Sell,
		TradeDay:    time.Now(),
		Features:    map[string]float64{"a": 0.9, "b": 0.9},
	})
	require.NoError(t, err)
	require.True(t, assessment.MLDegraded)
	require.NotEqual(t, domrisk.StatusFail, assessment.Tier1Status)
}
