package policy

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// Confidence assigned per rule outcome. Fixed heuristics rather than a
// measured uncertainty; tune here if the aggregation model changes.
const (
	MatchedConfidence   = 0.9
	UnmatchedConfidence = 0.1
)

// DefaultEvalWorkers bounds the per-policy evaluation fan-out.
const DefaultEvalWorkers = 16

// Evaluator runs all rules of a compiled policy against a request
// concurrently. A faulting rule never prevents the others from
// completing; it yields an unmatched result with zero confidence.
type Evaluator struct {
	maxWorkers int
}

// NewEvaluator creates an evaluator with the given worker bound.
// A non-positive bound falls back to DefaultEvalWorkers.
func NewEvaluator(maxWorkers int) *Evaluator {
	if maxWorkers <= 0 {
		maxWorkers = DefaultEvalWorkers
	}
	return &Evaluator{maxWorkers: maxWorkers}
}

// Evaluate produces one RuleResult per rule, in rule order. It returns
// ctx.Err() if the deadline expires before all rules complete; callers
// fail closed on that path. A stalled predicate's goroutine cannot be
// interrupted, but the call itself returns at the deadline.
func (e *Evaluator) Evaluate(ctx context.Context, compiled *CompiledPolicy, req *RequestContext) ([]RuleResult, error) {
	rules := compiled.Rules
	results := make([]RuleResult, len(rules))

	workers := e.maxWorkers
	if len(rules) < workers {
		workers = len(rules)
	}

	jobs := make(chan int, len(rules))
	for i := range rules {
		jobs <- i
	}
	close(jobs)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				results[idx] = evalRule(&rules[idx], req)
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-done:
		return results, nil
	}
}

// evalRule runs a single rule's predicate, isolating panics.
func evalRule(rule *Rule, req *RequestContext) (result RuleResult) {
	result = RuleResult{Rule: rule}

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("rule_id", rule.ID).
				Interface("panic", r).
				Msg("Rule predicate panicked, treating as unmatched")
			result.Matched = false
			result.Confidence = 0
		}
	}()

	if rule.Condition != nil && rule.Condition(req) {
		result.Matched = true
		result.Confidence = MatchedConfidence
	} else {
		result.Matched = false
		result.Confidence = UnmatchedConfidence
	}
	return result
}
