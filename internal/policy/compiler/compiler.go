package compiler

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/carbongrid/enforcer/internal/policy"
)

// Compiler turns policy artifacts into compiled policies. Compile never
// fails: artifacts that cannot be parsed degrade to a safe default rule
// set rather than producing an error.
type Compiler struct {
	parser   ArtifactParser
	fallback ArtifactParser

	// fallbackAction is applied to non-rule-language artifacts, which the
	// engine passes through rather than enforces. Allow unless configured
	// otherwise.
	fallbackAction policy.Decision
}

// Options configures a Compiler.
type Options struct {
	// FallbackAction for non-rule-language artifacts. Empty means allow.
	FallbackAction policy.Decision
}

// New creates a compiler with the OPA parser and regex-scan fallback.
func New(opts Options) *Compiler {
	action := opts.FallbackAction
	if action == "" {
		action = policy.DecisionAllow
	}
	return &Compiler{
		parser:         NewRegoParser(),
		fallback:       NewScanParser(),
		fallbackAction: action,
	}
}

// Compile produces a compiled policy for the artifact. The result always
// contains at least one rule.
func (c *Compiler) Compile(artifact policy.Artifact) *policy.CompiledPolicy {
	start := time.Now()

	var rules []policy.Rule
	switch artifact.Type {
	case policy.ArtifactTypeRego:
		rules = c.compileRuleLanguage(artifact)
	default:
		rules = []policy.Rule{c.passthroughRule(artifact)}
	}

	compiled := &policy.CompiledPolicy{
		ID:               artifact.ID,
		SourceArtifactID: artifact.ID,
		Rules:            rules,
		CompiledAt:       time.Now(),
		CompileDuration:  time.Since(start),
	}

	log.Debug().
		Str("artifact_id", artifact.ID).
		Str("artifact_type", string(artifact.Type)).
		Int("rules", len(rules)).
		Dur("duration", compiled.CompileDuration).
		Msg("Compiled policy artifact")

	return compiled
}

func (c *Compiler) compileRuleLanguage(artifact policy.Artifact) []policy.Rule {
	parsed, err := c.parser.Parse(artifact.Content)
	if err != nil {
		// Degraded mode: the body is not a valid module, scan it instead.
		log.Warn().
			Err(err).
			Str("artifact_id", artifact.ID).
			Msg("Artifact did not parse as a module, falling back to scan")
		parsed, _ = c.fallback.Parse(artifact.Content)
	}

	if len(parsed) == 0 {
		return []policy.Rule{defaultDenyRule()}
	}

	rules := make([]policy.Rule, 0, len(parsed))
	for i, pr := range parsed {
		if pr.Unrecognized > 0 {
			log.Warn().
				Str("artifact_id", artifact.ID).
				Int("rule", i).
				Int("clauses", pr.Unrecognized).
				Msg("Unrecognized clauses compiled to always-true")
		}
		cond := pr.Condition
		rules = append(rules, policy.Rule{
			ID:          fmt.Sprintf("allow_rule_%d", i),
			Condition:   cond.Eval,
			Action:      policy.DecisionAllow,
			Explanation: fmt.Sprintf("allow rule %d: %s", i, describe(cond)),
			Weight:      1.0,
		})
	}
	return rules
}

func defaultDenyRule() policy.Rule {
	t := &True{}
	return policy.Rule{
		ID:          "default_deny",
		Condition:   t.Eval,
		Action:      policy.DecisionDeny,
		Explanation: "no allow rules defined, denying by default",
		Weight:      1.0,
	}
}

func (c *Compiler) passthroughRule(artifact policy.Artifact) policy.Rule {
	t := &True{}
	verb := "passing through"
	if c.fallbackAction == policy.DecisionDeny {
		verb = "denying"
	}
	return policy.Rule{
		ID:          "fallback_" + string(c.fallbackAction),
		Condition:   t.Eval,
		Action:      c.fallbackAction,
		Explanation: fmt.Sprintf("artifact type %q is not enforceable, %s", artifact.Type, verb),
		Weight:      1.0,
	}
}
