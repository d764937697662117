package compiler

import (
	"fmt"

	"github.com/open-policy-agent/opa/ast"
)

// ParsedRule is one allow block extracted from an artifact body.
type ParsedRule struct {
	Condition Condition
	// Unrecognized counts clauses that fell back to always-true.
	Unrecognized int
}

// ArtifactParser extracts allow rules from a rule-language artifact body.
// The engine ships two implementations: the OPA-backed parser and a regex
// scanner used when the body does not parse as a module. A full policy
// language evaluator could be substituted here.
type ArtifactParser interface {
	Parse(content string) ([]ParsedRule, error)
}

// regoParser extracts allow rules from a Rego module using the OPA parser.
// Only the condition syntax described by the Field set is recognized;
// everything else inside an allow block compiles to always-true.
type regoParser struct{}

// NewRegoParser returns the OPA-backed artifact parser.
func NewRegoParser() ArtifactParser {
	return &regoParser{}
}

func (p *regoParser) Parse(content string) ([]ParsedRule, error) {
	// Rego v0 syntax so bare `allow { ... }` blocks parse without `if`.
	module, err := ast.ParseModuleWithOpts("artifact.rego", content, ast.ParserOptions{
		RegoVersion: ast.RegoV0,
	})
	if err != nil {
		return nil, fmt.Errorf("parsing artifact module: %w", err)
	}

	var rules []ParsedRule
	for _, rule := range module.Rules {
		if rule.Default {
			continue
		}
		if string(rule.Head.Name) != "allow" {
			continue
		}
		rules = append(rules, parseBody(rule.Body))
	}
	return rules, nil
}

// parseBody lowers a rule body into a condition tree. Each recognized
// equality clause becomes a Clause node; anything else becomes True.
func parseBody(body ast.Body) ParsedRule {
	and := &And{}
	unrecognized := 0
	for _, expr := range body {
		clause, ok := parseExpr(expr)
		if !ok {
			and.Children = append(and.Children, &True{})
			unrecognized++
			continue
		}
		and.Children = append(and.Children, clause)
	}
	if len(and.Children) == 0 {
		return ParsedRule{Condition: &True{}}
	}
	return ParsedRule{Condition: and, Unrecognized: unrecognized}
}

// parseExpr recognizes `<field> == "<literal>"` (either operand order).
// Both unification (=) and equality (==) operators are accepted.
func parseExpr(expr *ast.Expr) (*Clause, bool) {
	op := expr.Operator()
	if op == nil {
		return nil, false
	}
	opName := op.String()
	if opName != "eq" && opName != "equal" {
		return nil, false
	}

	lhs, rhs := expr.Operand(0), expr.Operand(1)
	if lhs == nil || rhs == nil {
		return nil, false
	}
	if clause, ok := termsToClause(lhs, rhs); ok {
		return clause, true
	}
	return termsToClause(rhs, lhs)
}

func termsToClause(fieldTerm, valueTerm *ast.Term) (*Clause, bool) {
	ref, ok := fieldTerm.Value.(ast.Ref)
	if !ok {
		return nil, false
	}
	field, ok := recognizedField(ref.String())
	if !ok {
		return nil, false
	}
	lit, ok := valueTerm.Value.(ast.String)
	if !ok {
		return nil, false
	}
	return &Clause{Field: field, Value: string(lit)}, true
}

func recognizedField(path string) (Field, bool) {
	switch Field(path) {
	case FieldAction, FieldUser, FieldResourceType:
		return Field(path), true
	}
	return "", false
}
