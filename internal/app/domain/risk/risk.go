// Package risk models the RiskAssessment produced by the dual-tier risk
// engine: Tier-1 rule verdicts plus Tier-2 score,
// composed into one final status/score pair.
package risk

// Status is a three-valued verdict: blocking FAIL, advisory WARN, or PASS.
type Status string

const (
	StatusPass Status = "PASS"
	StatusWarn Status = "WARN"
	StatusFail Status = "FAIL"
)

// rank orders statuses for the max(tier1, tier2) composition rule:
// FAIL > WARN > PASS.
var rank = map[Status]int{
	StatusPass: 0,
	StatusWarn: 1,
	StatusFail: 2,
}

// Worse returns the more severe of a and b (FAIL worst, PASS best).
func Worse(a, b Status) Status {
	if rank[a] >= rank[b] {
		return a
	}
	return b
}

// Kind distinguishes what is being assessed, AssessRisk.
type Kind string

const (
	KindPosting Kind = "POSTING"
	KindTrade   Kind = "TRADE"
)

// Assessment is the derived risk record stored per posting/match.
type Assessment struct {
	Tier1Status  Status
	Tier1Reasons []string
	Tier2Score   float64 // [0,100]
	Tier2Confidence float64
	FinalStatus  Status
	FinalScore   float64
	Factors      map[string]float64
	MLDegraded   bool
}

// ScoreToStatus maps a Tier-2 score to a Status using the thresholds
// defines: >=80 PASS, [60,80) WARN, <60 FAIL.
func ScoreToStatus(score, passThreshold, warnThreshold float64) Status {
	switch {
	case score >= passThreshold:
		return StatusPass
	case score >= warnThreshold:
		return StatusWarn
	default:
		return StatusFail
	}
}

// Compose derives FinalStatus/FinalScore from the two tiers: FAIL wins
// outright; otherwise the worse of the two statuses wins; the score is a
// weighted blend of a rule component and the Tier-2 score.
func Compose(tier1 Status, tier2 Status, tier2Score, ruleComponent, ruleWeight, mlWeight float64) (Status, float64) {
	final := tier1
	if tier1 != StatusFail {
		final = Worse(tier1, tier2)
	}
	if tier1 == StatusFail || tier2 == StatusFail {
		final = StatusFail
	}
	score := ruleWeight*ruleComponent + mlWeight*tier2Score
	return final, score
}
