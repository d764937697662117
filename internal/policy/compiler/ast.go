// Package compiler turns raw policy artifacts into compiled, evaluable
// policies. Rule-language artifacts are parsed with the OPA parser; the
// recognized condition syntax is deliberately small (see Clause).
package compiler

import (
	"fmt"
	"strings"

	"github.com/carbongrid/enforcer/internal/policy"
)

// Field names the request attributes a condition clause may test.
// This is a closed set; clauses against any other field compile to
// always-true (see parseExpr).
type Field string

const (
	FieldAction       Field = "input.action"
	FieldUser         Field = "input.user"
	FieldResourceType Field = "input.resource.type"
)

// Condition is a node in the compiled condition tree.
type Condition interface {
	// Eval reports whether the condition holds for the request.
	Eval(ctx *policy.RequestContext) bool
	// Accept dispatches the node to a visitor.
	Accept(v Visitor) error
}

// Visitor traverses a condition tree, e.g. to render explanations or
// lint a compiled policy.
type Visitor interface {
	VisitClause(*Clause) error
	VisitAnd(*And) error
	VisitTrue(*True) error
}

// Clause is an equality test of one recognized field against a literal.
type Clause struct {
	Field Field
	Value string
}

func (c *Clause) Eval(ctx *policy.RequestContext) bool {
	return fieldValue(c.Field, ctx) == c.Value
}

func (c *Clause) Accept(v Visitor) error { return v.VisitClause(c) }

func (c *Clause) String() string {
	return fmt.Sprintf("%s == %q", c.Field, c.Value)
}

// And holds when every child condition holds.
type And struct {
	Children []Condition
}

func (a *And) Eval(ctx *policy.RequestContext) bool {
	for _, child := range a.Children {
		if !child.Eval(ctx) {
			return false
		}
	}
	return true
}

func (a *And) Accept(v Visitor) error { return v.VisitAnd(a) }

// True always holds. Unrecognized clauses compile to it; an allow block
// the engine cannot read in full still matches permissively.
type True struct{}

func (t *True) Eval(*policy.RequestContext) bool { return true }

func (t *True) Accept(v Visitor) error { return v.VisitTrue(t) }

// Walk visits every node of a condition tree depth-first.
func Walk(c Condition, v Visitor) error {
	if err := c.Accept(v); err != nil {
		return err
	}
	if and, ok := c.(*And); ok {
		for _, child := range and.Children {
			if err := Walk(child, v); err != nil {
				return err
			}
		}
	}
	return nil
}

func fieldValue(f Field, ctx *policy.RequestContext) string {
	switch f {
	case FieldAction:
		return ctx.Action
	case FieldUser:
		return ctx.User
	case FieldResourceType:
		if ctx.Resource == nil {
			return ""
		}
		return ctx.Resource.Type
	}
	return ""
}

// describe renders a human-readable summary of a condition tree, used for
// rule explanations.
func describe(c Condition) string {
	var parts []string
	_ = Walk(c, &describeVisitor{parts: &parts})
	if len(parts) == 0 {
		return "always"
	}
	return strings.Join(parts, " and ")
}

type describeVisitor struct {
	parts *[]string
}

func (d *describeVisitor) VisitClause(c *Clause) error {
	*d.parts = append(*d.parts, c.String())
	return nil
}

func (d *describeVisitor) VisitAnd(*And) error { return nil }

func (d *describeVisitor) VisitTrue(*True) error { return nil }
