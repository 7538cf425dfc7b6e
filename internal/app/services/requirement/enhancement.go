package requirement

import (
	"context"
	"hash/fnv"
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/rnrlcrm/tradecore/internal/app/domain/commodity"
	domreq "github.com/rnrlcrm/tradecore/internal/app/domain/requirement"
)

// EnhancementStep is a single AI-enhancement contract: it
// takes the requirement built so far and returns either an augmented copy
// or the input unchanged. Implementations MAY use heuristics; the pipeline
// enforces the per-step timeout and degrade-on-error behavior, not the
// step itself.
type EnhancementStep func(ctx context.Context, r *domreq.Requirement) (*domreq.Requirement, error)

// PriceHistory supplies recent matched-trade prices for a commodity, the
// data source behind the price-suggestion step.
type PriceHistory interface {
	RecentAveragePrice(ctx context.Context, commodityID string) (price decimal.Decimal, ok bool, err error)
}

// NewPriceSuggestionStep builds the price-suggestion step. A nil history
// makes the step a permanent no-op, the graceful-degrade path taken when
// no external input is wired.
func NewPriceSuggestionStep(history PriceHistory) EnhancementStep {
	return func(ctx context.Context, r *domreq.Requirement) (*domreq.Requirement, error) {
		if history == nil {
			return r, nil
		}
		price, ok, err := history.RecentAveragePrice(ctx, r.CommodityID)
		if err != nil || !ok {
			return r, err
		}
		cp := *r
		cp.AISuggestedPrice = &price
		return &cp, nil
	}
}

// ToleranceWideningStep records a suggested quality tolerance in
// AISuggestedTolerance: 1.5x the buyer's quality_tolerance, capped at 1.0,
// for buyers with a trust score below 0.3 (on the heuristic that a
// less-established buyer benefits from a wider candidate pool), and the
// buyer's own tolerance otherwise. QualityTolerance itself is not changed.
func ToleranceWideningStep(_ context.Context, r *domreq.Requirement) (*domreq.Requirement, error) {
	widened := r.QualityTolerance
	if r.BuyerTrustScore < 0.3 {
		widened = math.Min(r.QualityTolerance*1.5, 1.0)
	}
	cp := *r
	cp.AISuggestedTolerance = &widened
	return &cp, nil
}

// PseudoEmbeddingStep derives a small deterministic vector from the
// commodity ID and quality-parameter keys, standing in for a real
// embedding model. It is stable across runs for the same input. The vector
// is stored on the requirement as AIScoreVector; the matcher does not read
// it (duplicate detection compares quality params).
func PseudoEmbeddingStep(_ context.Context, r *domreq.Requirement) (*domreq.Requirement, error) {
	cp := *r
	cp.AIScoreVector = pseudoEmbed(r.CommodityID, r.QualityParams)
	return &cp, nil
}

const embeddingDims = 8

func pseudoEmbed(commodityID string, params commodity.QualityParams) []float64 {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	vec := make([]float64, embeddingDims)
	h := fnv.New32a()
	_, _ = h.Write([]byte(commodityID))
	base := float64(h.Sum32()%1000) / 1000.0
	for i := range vec {
		hh := fnv.New32a()
		_, _ = hh.Write([]byte(commodityID))
		for _, k := range keys {
			_, _ = hh.Write([]byte(k))
		}
		_, _ = hh.Write([]byte{byte(i)})
		vec[i] = (base + float64(hh.Sum32()%1000)/1000.0) / 2
	}
	return vec
}

// DefaultSteps returns the pipeline order implies: suggest a
// price, widen tolerance for low-trust buyers, then derive the
// pseudo-embedding used as the requirement's AI score vector.
func DefaultSteps() []EnhancementStep {
	return []EnhancementStep{
		NewPriceSuggestionStep(nil),
		ToleranceWideningStep,
		PseudoEmbeddingStep,
	}
}

// runEnhancementPipeline runs every configured step with the per-step
// timeout names, degrading to the unmodified requirement on
// any step's error or timeout rather than failing creation.
func (s *Service) runEnhancementPipeline(ctx context.Context, r *domreq.Requirement) *domreq.Requirement {
	cur := r
	for i, step := range s.steps {
		stepCtx, cancel := context.WithTimeout(ctx, defaultStepTimeout)
		next, err := step(stepCtx, cur)
		cancel()
		if err != nil {
			s.log.WithField("step", i).WithField("error", err).Warn("AI enhancement step degraded to input")
			continue
		}
		if next != nil {
			cur = next
		}
	}
	return cur
}
