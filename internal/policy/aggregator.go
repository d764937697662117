package policy

import (
	"strings"
)

// NoRulesMatchedExplanation is returned when no rule matched the request.
const NoRulesMatchedExplanation = "no rules matched the request context"

// Risk scoring heuristics.
const (
	baseRisk         = 0.1
	sensitiveRisk    = 0.3
	multiAllowRelief = 0.1
)

// AggregateResult is the combined outcome of one evaluation pass.
type AggregateResult struct {
	Decision       Decision
	Confidence     float64
	RiskScore      float64
	Explanation    string
	AppliedRuleIDs []string
}

// Aggregate combines per-rule outcomes into a final decision.
//
// Priority order: any matched deny rule denies unconditionally; otherwise
// any matched allow rule allows; otherwise the request is denied.
func Aggregate(results []RuleResult, ctx *RequestContext) AggregateResult {
	var (
		denyMatched  bool
		allowMatched int
		explanations []string
		appliedIDs   []string
		confidence   float64
	)

	for _, r := range results {
		confidence += r.Confidence
		if !r.Matched {
			continue
		}
		appliedIDs = append(appliedIDs, r.Rule.ID)
		explanations = append(explanations, r.Rule.Explanation)
		switch r.Rule.Action {
		case DecisionDeny:
			denyMatched = true
		case DecisionAllow:
			allowMatched++
		}
	}

	decision := DecisionDeny
	if !denyMatched && allowMatched > 0 {
		decision = DecisionAllow
	}

	if len(results) > 0 {
		confidence /= float64(len(results))
	}

	explanation := NoRulesMatchedExplanation
	if len(explanations) > 0 {
		explanation = strings.Join(explanations, "; ")
	}

	return AggregateResult{
		Decision:       decision,
		Confidence:     clamp01(confidence),
		RiskScore:      riskScore(ctx, allowMatched),
		Explanation:    explanation,
		AppliedRuleIDs: appliedIDs,
	}
}

// riskScore estimates the potential negative impact of the decision.
func riskScore(ctx *RequestContext, allowMatched int) float64 {
	risk := baseRisk
	action := strings.ToLower(ctx.Action)
	if strings.Contains(action, "admin") || strings.Contains(action, "delete") {
		risk += sensitiveRisk
	}
	if allowMatched > 1 {
		risk -= multiAllowRelief
	}
	return clamp01(risk)
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
