// Package risk implements the dual-tier Risk Engine: Tier-1
// deterministic blocking rules, followed by Tier-2 advisory ML scoring
// with a deterministic fallback when inference is unavailable or slow.
package risk

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"

	"github.com/rnrlcrm/tradecore/internal/app/apperr"
	"github.com/rnrlcrm/tradecore/internal/app/domain/party"
	domrisk "github.com/rnrlcrm/tradecore/internal/app/domain/risk"
	"github.com/rnrlcrm/tradecore/internal/app/external"
	"github.com/rnrlcrm/tradecore/internal/app/services/capability"
	"github.com/rnrlcrm/tradecore/internal/app/services/insider"
	"github.com/rnrlcrm/tradecore/pkg/logger"
)

// Side is which direction a partner is acting in for the circular-trading
// check.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// PartnerLookup resolves a partner's home country, entity class, and
// capabilities for the national-compliance and role-restriction rules.
type PartnerLookup interface {
	GetPartner(ctx context.Context, partnerID string) (*party.Partner, error)
}

// CreditChecker reports a counterparty's current credit usage and limit
// for the credit rule.
type CreditChecker interface {
	CreditUsage(ctx context.Context, partnerID string) (used, limit decimal.Decimal, err error)
}

// CircularTradeChecker reports whether partnerID has an open counter
// posting of the opposite side in the same commodity on the same trade
// day.
type CircularTradeChecker interface {
	HasOpenCounterPosting(ctx context.Context, partnerID, commodityID string, day time.Time, side Side) (bool, error)
}

// PostingInput is what AssessPosting evaluates.
type PostingInput struct {
	PartnerID   string
	CommodityID string
	Country     string
	Direction   capability.Direction
	TradeDay    time.Time
	Features    map[string]float64 // fed to Tier-2 ML/fallback scorer
}

// TradeInput is what AssessTrade evaluates for a prospective match.
type TradeInput struct {
	BuyerID     string
	SellerID    string
	CommodityID string
	TradeValue  decimal.Decimal
	TradeDay    time.Time
	Features    map[string]float64
}

// Config carries the per-tier timeouts and score thresholds.
type Config struct {
	Tier1Budget   time.Duration
	Tier2Budget   time.Duration
	PassThreshold float64
	WarnThreshold float64
	RuleWeight    float64
	MLWeight      float64
}

// DefaultConfig returns the engine's default timing budgets and score
// thresholds.
func DefaultConfig() Config {
	return Config{
		Tier1Budget:   200 * time.Millisecond,
		Tier2Budget:   500 * time.Millisecond,
		PassThreshold: 80,
		WarnThreshold: 60,
		RuleWeight:    0.7,
		MLWeight:      0.3,
	}
}

// Engine evaluates Tier-1 rules and Tier-2 scoring.
type Engine struct {
	partners PartnerLookup
	insider  *insider.Validator
	credit   CreditChecker
	circular CircularTradeChecker
	ml       external.MLInference
	cfg      Config
	log      *logger.Logger
}

// New builds an Engine.
func New(partners PartnerLookup, insiderValidator *insider.Validator, credit CreditChecker, circular CircularTradeChecker, ml external.MLInference, cfg Config, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.NewDefault("risk")
	}
	return &Engine{partners: partners, insider: insiderValidator, credit: credit, circular: circular, ml: ml, cfg: cfg, log: log}
}

// AssessPosting runs Tier-1 (national compliance, role restriction,
// circular trading) then Tier-2 scoring for a single-sided posting.
func (e *Engine) AssessPosting(ctx context.Context, in PostingInput) (*domrisk.Assessment, error) {
	tier1Ctx, cancel := context.WithTimeout(ctx, e.cfg.Tier1Budget)
	defer cancel()

	var reasons []string
	status := domrisk.StatusPass

	p, err := e.partners.GetPartner(tier1Ctx, in.PartnerID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "load partner for risk assessment", err)
	}
	if p.EntityClass == party.ClassServiceProvider {
		status = domrisk.StatusFail
		reasons = append(reasons, "role restricted: service providers cannot trade")
	}
	if err := capability.ValidateDirection(p.HomeCountry, p.Capabilities, in.Country, in.Direction); err != nil {
		status = domrisk.StatusFail
		reasons = append(reasons, err.Error())
	}
	if e.circular != nil {
		opposite := SideBuy
		if in.Direction == capability.Buy {
			opposite = SideSell
		}
		open, err := e.circular.HasOpenCounterPosting(tier1Ctx, in.PartnerID, in.CommodityID, in.TradeDay, opposite)
		if err != nil {
			e.log.WithField("partner_id", in.PartnerID).WithField("error", err).Warn("circular-trade check failed, treating as clear")
		} else if open {
			status = domrisk.StatusFail
			reasons = append(reasons, "circular trading: open counter-posting same day")
		}
	}

	return e.finish(ctx, status, reasons, in.Features)
}

// AssessTrade runs the full Tier-1 rule set (national compliance, party
// link, role restriction, circular trading, credit) for a prospective
// match, then Tier-2 scoring.
func (e *Engine) AssessTrade(ctx context.Context, in TradeInput) (*domrisk.Assessment, error) {
	tier1Ctx, cancel := context.WithTimeout(ctx, e.cfg.Tier1Budget)
	defer cancel()

	var reasons []string
	status := domrisk.StatusPass

	if reason, err := e.insider.Validate(tier1Ctx, in.BuyerID, in.SellerID); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "party-link check", err)
	} else if reason != "" {
		status = domrisk.StatusFail
		reasons = append(reasons, "party-link: "+string(reason))
	}

	buyer, err := e.partners.GetPartner(tier1Ctx, in.BuyerID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "load buyer", err)
	}
	seller, err := e.partners.GetPartner(tier1Ctx, in.SellerID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "load seller", err)
	}
	if buyer.EntityClass == party.ClassServiceProvider || seller.EntityClass == party.ClassServiceProvider {
		status = domrisk.StatusFail
		reasons = append(reasons, "role restricted: service providers cannot trade")
	}

	if e.credit != nil {
		used, limit, err := e.credit.CreditUsage(tier1Ctx, in.BuyerID)
		if err != nil {
			e.log.WithField("buyer_id", in.BuyerID).WithField("error", err).Warn("credit check failed, treating as clear")
		} else if limit.IsPositive() && used.Add(in.TradeValue).GreaterThan(limit) {
			status = domrisk.StatusFail
			reasons = append(reasons, "credit limit exceeded")
		}
	}

	if e.circular != nil {
		buyerOpen, _ := e.circular.HasOpenCounterPosting(tier1Ctx, in.BuyerID, in.CommodityID, in.TradeDay, SideSell)
		sellerOpen, _ := e.circular.HasOpenCounterPosting(tier1Ctx, in.SellerID, in.CommodityID, in.TradeDay, SideBuy)
		if buyerOpen || sellerOpen {
			status = domrisk.StatusFail
			reasons = append(reasons, "circular trading: open counter-posting same day")
		}
	}

	return e.finish(ctx, status, reasons, in.Features)
}

func (e *Engine) finish(ctx context.Context, tier1Status domrisk.Status, reasons []string, features map[string]float64) (*domrisk.Assessment, error) {
	if tier1Status == domrisk.StatusFail {
		return &domrisk.Assessment{
			Tier1Status:  tier1Status,
			Tier1Reasons: reasons,
			FinalStatus:  domrisk.StatusFail,
			Factors:      map[string]float64{},
		}, nil
	}

	tier2Score, confidence, degraded := e.scoreTier2(ctx, features)
	tier2Status := domrisk.ScoreToStatus(tier2Score, e.cfg.PassThreshold, e.cfg.WarnThreshold)
	ruleComponent := 100.0
	if tier1Status == domrisk.StatusWarn {
		ruleComponent = e.cfg.WarnThreshold
	}
	finalStatus, finalScore := domrisk.Compose(tier1Status, tier2Status, tier2Score, ruleComponent, e.cfg.RuleWeight, e.cfg.MLWeight)

	return &domrisk.Assessment{
		Tier1Status:     tier1Status,
		Tier1Reasons:    reasons,
		Tier2Score:      tier2Score,
		Tier2Confidence: confidence,
		FinalStatus:     finalStatus,
		FinalScore:      finalScore,
		Factors:         features,
		MLDegraded:      degraded,
	}, nil
}

// scoreTier2 calls the ML inference contract with the configured budget;
// on error or timeout it falls back to a deterministic rule-only score
// derived from the feature vector and sets degraded=true.
func (e *Engine) scoreTier2(ctx context.Context, features map[string]float64) (score, confidence float64, degraded bool) {
	if e.ml != nil {
		mlCtx, cancel := context.WithTimeout(ctx, e.cfg.Tier2Budget)
		defer cancel()
		result, err := e.ml.Predict(mlCtx, "risk_tier2", features)
		if err == nil {
			return result.Score, result.Confidence, false
		}
		e.log.WithField("error", err).Warn("tier-2 ML inference degraded, falling back to rule-only score")
	}
	return fallbackScore(features), 0, true
}

// Named Tier-2 feature keys a caller may populate in Features. The four
// risk-indicator factors are recorded as "how much of this risk is
// present" (higher input = more risk), the opposite sense of the [0,100]
// PASS-leaning score fallbackScore produces, so they're inverted before
// averaging; KYCCompleteness is already "higher is better" and passes
// through unchanged. Any other caller-supplied key is treated as
// already scaled higher-is-better, same as KYCCompleteness.
const (
	FeaturePaymentDefaultProbability = "payment_default_probability"
	FeatureFraudAnomalyScore         = "fraud_anomaly_score"
	FeatureQualityDeviation          = "quality_deviation"
	FeaturePriceVolatility           = "price_volatility"
	FeatureKYCCompleteness           = "kyc_completeness"
)

var invertedRiskFactors = map[string]bool{
	FeaturePaymentDefaultProbability: true,
	FeatureFraudAnomalyScore:         true,
	FeatureQualityDeviation:          true,
	FeaturePriceVolatility:           true,
}

// fallbackScore derives a deterministic [0,100] score from the feature
// vector using a variance-penalized mean (gonum/stat: the unweighted mean
// of the scaled factors minus half their standard deviation), so a
// spike in any single risk-indicator factor (fraud anomaly, price
// volatility, payment-default probability, quality deviation) pulls the
// score down even without an ML model available.
func fallbackScore(features map[string]float64) float64 {
	if len(features) == 0 {
		return 100
	}
	values := make([]float64, 0, len(features))
	for k, v := range features {
		scaled := clamp01(v)
		if invertedRiskFactors[k] {
			scaled = 1 - scaled
		}
		values = append(values, scaled*100)
	}
	mean := stat.Mean(values, nil)
	if len(values) < 2 {
		return mean
	}
	stdDev := stat.StdDev(values, nil)
	penalty := stdDev * 0.5
	return clampScore(mean - penalty)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
