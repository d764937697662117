// Package audit persists enforcement decisions to SQLite for later
// inspection. Writes go through an async buffered writer so the decision
// path never blocks on storage.
package audit

import (
	"time"

	"github.com/goccy/go-json"

	"github.com/carbongrid/enforcer/internal/policy"
)

// Record is a single persisted enforcement decision.
type Record struct {
	ID        int64     `json:"id"`
	RequestID string    `json:"request_id"`
	PolicyID  string    `json:"policy_id"`
	Timestamp time.Time `json:"timestamp"`
	LatencyMs float64   `json:"latency_ms"`

	// Request info
	Action       string `json:"action"`
	User         string `json:"user"`
	ResourceType string `json:"resource_type,omitempty"`

	// Decision
	Decision     string  `json:"decision"`
	Confidence   float64 `json:"confidence"`
	RiskScore    float64 `json:"risk_score"`
	Explanation  string  `json:"explanation"`
	AppliedRules string  `json:"applied_rules,omitempty"` // JSON array as string
	CacheHit     bool    `json:"cache_hit"`
	Trail        string  `json:"trail,omitempty"` // JSON array as string
}

// FromDecision builds a record from a finished enforcement result.
func FromDecision(req *policy.RequestContext, res *policy.EnforcementResult) *Record {
	rec := &Record{
		RequestID:   res.RequestID,
		PolicyID:    res.PolicyID,
		Timestamp:   time.Now(),
		LatencyMs:   res.ProcessingTimeMs,
		Action:      req.Action,
		User:        req.User,
		Decision:    string(res.Decision),
		Confidence:  res.Confidence,
		RiskScore:   res.RiskScore,
		Explanation: res.Explanation,
		CacheHit:    res.CacheHit,
	}
	if req.Resource != nil {
		rec.ResourceType = req.Resource.Type
	}
	if raw, err := json.Marshal(res.AppliedRuleIDs); err == nil {
		rec.AppliedRules = string(raw)
	}
	if raw, err := json.Marshal(res.AuditTrail); err == nil {
		rec.Trail = string(raw)
	}
	return rec
}

// QueryOptions filters audit records.
type QueryOptions struct {
	StartTime *time.Time
	EndTime   *time.Time

	PolicyID string
	User     string
	Action   string
	Decision string

	Limit  int
	Offset int

	OrderBy   string
	OrderDesc bool
}

// Stats contains aggregate decision statistics.
type Stats struct {
	TotalDecisions int64   `json:"total_decisions"`
	Allowed        int64   `json:"allowed"`
	Denied         int64   `json:"denied"`
	UniquePolicies int64   `json:"unique_policies"`
	UniqueUsers    int64   `json:"unique_users"`
	CacheHits      int64   `json:"cache_hits"`
	AvgLatencyMs   float64 `json:"avg_latency_ms"`
	AvgRiskScore   float64 `json:"avg_risk_score"`
}
