package policy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// DefaultEvalTimeout is the per-request evaluation deadline. The engine
// fails closed when it expires, keeping the latency target intact even
// with a pathological predicate.
const DefaultEvalTimeout = 25 * time.Millisecond

// DefaultBatchWorkers bounds concurrent requests inside EnforceBatch.
const DefaultBatchWorkers = 8

// ArtifactCompiler produces compiled policies from artifacts.
type ArtifactCompiler interface {
	Compile(artifact Artifact) *CompiledPolicy
}

// Observer receives every finished enforcement result, e.g. for audit
// persistence or metrics. Observers must not block the request path.
type Observer interface {
	ObserveDecision(req *RequestContext, res *EnforcementResult)
}

// Service is the enforcement engine's public surface. It owns the policy
// registry and the decision cache; construct one per engine instance.
type Service struct {
	compiler  ArtifactCompiler
	evaluator *Evaluator
	cache     *DecisionCache

	registryMu sync.RWMutex
	registry   map[string]*CompiledPolicy

	evalTimeout  time.Duration
	batchWorkers int
	observers    []Observer

	startedAt time.Time

	statMu        sync.Mutex
	avgProcessNs  int64
	decisionCount int64
}

// ServiceConfig holds enforcement service settings.
type ServiceConfig struct {
	Compiler     ArtifactCompiler
	Cache        CacheConfig
	EvalTimeout  time.Duration
	EvalWorkers  int
	BatchWorkers int
	Observers    []Observer
}

// NewService creates an enforcement service.
func NewService(cfg ServiceConfig) *Service {
	if cfg.EvalTimeout <= 0 {
		cfg.EvalTimeout = DefaultEvalTimeout
	}
	if cfg.BatchWorkers <= 0 {
		cfg.BatchWorkers = DefaultBatchWorkers
	}
	return &Service{
		compiler:     cfg.Compiler,
		evaluator:    NewEvaluator(cfg.EvalWorkers),
		cache:        NewDecisionCache(cfg.Cache),
		registry:     make(map[string]*CompiledPolicy),
		evalTimeout:  cfg.EvalTimeout,
		batchWorkers: cfg.BatchWorkers,
		observers:    cfg.Observers,
		startedAt:    time.Now(),
	}
}

// Start launches background tasks (the cache sweep). They stop when ctx
// is cancelled.
func (s *Service) Start(ctx context.Context) {
	s.cache.Start(ctx)
}

// CompilePolicy compiles an artifact and registers the result, replacing
// any prior compilation of the same artifact id.
func (s *Service) CompilePolicy(artifact Artifact) *CompiledPolicy {
	compiled := s.compiler.Compile(artifact)

	s.registryMu.Lock()
	_, replaced := s.registry[compiled.ID]
	s.registry[compiled.ID] = compiled
	s.registryMu.Unlock()

	log.Info().
		Str("policy_id", compiled.ID).
		Int("rules", len(compiled.Rules)).
		Bool("replaced", replaced).
		Dur("compile_duration", compiled.CompileDuration).
		Msg("Registered compiled policy")

	return compiled
}

// Policy returns the compiled policy for id, if registered.
func (s *Service) Policy(id string) (*CompiledPolicy, bool) {
	s.registryMu.RLock()
	defer s.registryMu.RUnlock()
	compiled, ok := s.registry[id]
	return compiled, ok
}

// Enforce renders an allow/deny decision for one request against one
// registered policy. It never returns an error: unknown policies, faulting
// rules, and deadline overruns all terminate in a well-formed deny.
func (s *Service) Enforce(ctx context.Context, req *RequestContext, policyID string) *EnforcementResult {
	start := time.Now()
	requestID := uuid.NewString()
	trail := []AuditEvent{event("receive", fmt.Sprintf("enforcing policy %q for action %q", policyID, req.Action))}

	key := Key(req, policyID)
	if cached, ok := s.cache.Get(key); ok {
		res := cached
		res.RequestID = requestID
		res.CacheHit = true
		res.ProcessingTimeMs = msSince(start)
		res.AuditTrail = append(append([]AuditEvent{}, cached.AuditTrail...),
			event("cache", "decision served from cache"))
		s.finish(req, &res)
		return &res
	}

	compiled, ok := s.Policy(policyID)
	if !ok {
		trail = append(trail, event("lookup", fmt.Sprintf("policy %q is not registered", policyID)))
		res := s.denyResult(requestID, policyID, req, start, 0,
			fmt.Sprintf("policy %q is not registered, denying", policyID), trail)
		log.Warn().
			Err(ErrPolicyNotFound).
			Str("policy_id", policyID).
			Str("request_id", requestID).
			Msg("Enforcement against unknown policy")
		s.finish(req, res)
		return res
	}

	evalCtx, cancel := context.WithTimeout(ctx, s.evalTimeout)
	defer cancel()

	results, err := s.evaluator.Evaluate(evalCtx, compiled, req)
	if err != nil {
		trail = append(trail, event("evaluate", "evaluation deadline exceeded"))
		res := s.denyResult(requestID, policyID, req, start, 0,
			"rule evaluation exceeded the deadline, denying", trail)
		log.Error().
			Err(err).
			Str("policy_id", policyID).
			Str("request_id", requestID).
			Msg("Rule evaluation timed out, failing closed")
		s.finish(req, res)
		return res
	}
	trail = append(trail, event("evaluate", fmt.Sprintf("evaluated %d rules", len(results))))

	agg := Aggregate(results, req)
	trail = append(trail, event("aggregate",
		fmt.Sprintf("decision %s from %d matched rules", agg.Decision, len(agg.AppliedRuleIDs))))

	res := &EnforcementResult{
		RequestID:        requestID,
		Decision:         agg.Decision,
		PolicyID:         policyID,
		ProcessingTimeMs: msSince(start),
		Confidence:       agg.Confidence,
		Explanation:      agg.Explanation,
		AppliedRuleIDs:   agg.AppliedRuleIDs,
		RiskScore:        agg.RiskScore,
		AuditTrail:       trail,
	}

	entry := *res
	entry.RequestID = ""
	s.cache.Put(key, entry)

	s.finish(req, res)
	return res
}

// BatchRequest pairs one request context with its target policy.
type BatchRequest struct {
	Context  *RequestContext `json:"context"`
	PolicyID string          `json:"policy_id"`
}

// EnforceBatch evaluates requests independently through a bounded worker
// pool, preserving input order. There are no shared transaction semantics
// across a batch.
func (s *Service) EnforceBatch(ctx context.Context, requests []BatchRequest) []*EnforcementResult {
	results := make([]*EnforcementResult, len(requests))

	workers := s.batchWorkers
	if len(requests) < workers {
		workers = len(requests)
	}

	jobs := make(chan int, len(requests))
	for i := range requests {
		jobs <- i
	}
	close(jobs)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				results[idx] = s.Enforce(ctx, requests[idx].Context, requests[idx].PolicyID)
			}
		}()
	}
	wg.Wait()

	return results
}

// Stats reports engine-level statistics.
type Stats struct {
	PolicyCount         int     `json:"policy_count"`
	CacheEntryCount     int     `json:"cache_entry_count"`
	CacheHitRate        float64 `json:"cache_hit_rate"`
	AvgProcessingTimeMs float64 `json:"avg_processing_time_ms"`
	UptimeMs            int64   `json:"uptime_ms"`
}

// Stats returns a snapshot of engine statistics.
func (s *Service) Stats() Stats {
	s.registryMu.RLock()
	policyCount := len(s.registry)
	s.registryMu.RUnlock()

	s.statMu.Lock()
	avgNs := s.avgProcessNs
	s.statMu.Unlock()

	return Stats{
		PolicyCount:         policyCount,
		CacheEntryCount:     s.cache.Len(),
		CacheHitRate:        s.cache.HitRate(),
		AvgProcessingTimeMs: float64(avgNs) / 1e6,
		UptimeMs:            time.Since(s.startedAt).Milliseconds(),
	}
}

func (s *Service) denyResult(requestID, policyID string, req *RequestContext, start time.Time, confidence float64, explanation string, trail []AuditEvent) *EnforcementResult {
	return &EnforcementResult{
		RequestID:        requestID,
		Decision:         DecisionDeny,
		PolicyID:         policyID,
		ProcessingTimeMs: msSince(start),
		Confidence:       confidence,
		Explanation:      explanation,
		RiskScore:        riskScore(req, 0),
		AuditTrail:       trail,
	}
}

// finish records stats and notifies observers for a completed decision.
func (s *Service) finish(req *RequestContext, res *EnforcementResult) {
	s.recordProcessing(res.ProcessingTimeMs)
	for _, obs := range s.observers {
		obs.ObserveDecision(req, res)
	}
}

// recordProcessing maintains an exponential moving average of processing
// time, seeded by the first sample.
func (s *Service) recordProcessing(ms float64) {
	ns := int64(ms * 1e6)
	s.statMu.Lock()
	defer s.statMu.Unlock()
	s.decisionCount++
	if s.avgProcessNs == 0 {
		s.avgProcessNs = ns
		return
	}
	const alpha = 10
	s.avgProcessNs = (s.avgProcessNs*(100-alpha) + ns*alpha) / 100
}

func event(stage, detail string) AuditEvent {
	return AuditEvent{Timestamp: time.Now(), Stage: stage, Detail: detail}
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Nanoseconds()) / 1e6
}

// ErrPolicyNotFound is reported in logs and audit trails when enforcement
// targets an unregistered policy. The public Enforce contract converts it
// to a deny decision rather than surfacing it.
var ErrPolicyNotFound = errors.New("policy not found")
