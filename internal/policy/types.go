package policy

import (
	"time"
)

// Decision is the engine's verdict for one access request.
type Decision string

const (
	DecisionAllow       Decision = "allow"
	DecisionDeny        Decision = "deny"
	DecisionConditional Decision = "conditional"
)

// ArtifactType tags the source format of a policy artifact.
type ArtifactType string

const (
	// ArtifactTypeRego is a rule-language artifact containing allow blocks.
	ArtifactTypeRego ArtifactType = "rego"
	// ArtifactTypeNatural is free-form policy text produced by an external
	// generation pipeline. Not enforceable by the engine.
	ArtifactTypeNatural ArtifactType = "natural"
)

// Artifact is an immutable policy source produced outside the engine.
// The engine treats Content as opaque beyond the recognized rule syntax.
type Artifact struct {
	ID      string       `json:"id"`
	Type    ArtifactType `json:"type"`
	Content string       `json:"content"`
}

// Predicate decides whether a rule's condition holds for a request.
type Predicate func(*RequestContext) bool

// Rule is a single condition -> action mapping inside a compiled policy.
// Rules are immutable after compilation.
type Rule struct {
	ID          string
	Condition   Predicate
	Action      Decision
	Explanation string
	Weight      float64
}

// CompiledPolicy is the evaluable representation of one artifact.
// A compiled policy always carries at least one rule; the compiler appends
// a fallback when the artifact yields none.
type CompiledPolicy struct {
	ID               string
	SourceArtifactID string
	Rules            []Rule
	CompiledAt       time.Time
	CompileDuration  time.Duration
}

// Resource identifies the object of an access request.
type Resource struct {
	Type       string         `json:"type"`
	ID         string         `json:"id,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// RequestContext is the attribute bag describing one access attempt.
// It is never persisted beyond the request except inside cache entries.
type RequestContext struct {
	Action      string         `json:"action"`
	User        string         `json:"user"`
	Resource    *Resource      `json:"resource,omitempty"`
	Environment map[string]any `json:"environment,omitempty"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}

// RuleResult is the outcome of evaluating one rule against one request.
type RuleResult struct {
	Rule       *Rule
	Matched    bool
	Confidence float64
}

// AuditEvent is one step in the decision audit trail.
type AuditEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Stage     string    `json:"stage"`
	Detail    string    `json:"detail"`
}

// EnforcementResult is the externally visible outcome of one enforcement
// call. Confidence and RiskScore are both in [0,1].
type EnforcementResult struct {
	RequestID        string       `json:"request_id"`
	Decision         Decision     `json:"decision"`
	PolicyID         string       `json:"policy_id"`
	ProcessingTimeMs float64      `json:"processing_time_ms"`
	Confidence       float64      `json:"confidence"`
	Explanation      string       `json:"explanation"`
	AppliedRuleIDs   []string     `json:"applied_rule_ids"`
	RiskScore        float64      `json:"risk_score"`
	CacheHit         bool         `json:"cache_hit"`
	AuditTrail       []AuditEvent `json:"audit_trail"`
}
