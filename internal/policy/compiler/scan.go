package compiler

import (
	"regexp"
)

var (
	allowBlockRe = regexp.MustCompile(`(?s)allow\s*\{([^}]*)\}`)
	clauseRe     = regexp.MustCompile(`(input\.(?:action|user|resource\.type))\s*={1,2}\s*"([^"]*)"`)
	lineRe       = regexp.MustCompile(`[^\n;]+`)
)

// scanParser is the degraded-mode parser: a regex scan over the artifact
// body for allow blocks. Used when the body does not parse as a module,
// so a malformed artifact still compiles to something enforceable.
type scanParser struct{}

// NewScanParser returns the regex-based artifact parser.
func NewScanParser() ArtifactParser {
	return &scanParser{}
}

func (p *scanParser) Parse(content string) ([]ParsedRule, error) {
	var rules []ParsedRule
	for _, block := range allowBlockRe.FindAllStringSubmatch(content, -1) {
		rules = append(rules, scanBody(block[1]))
	}
	return rules, nil
}

// scanBody treats each non-empty line (or ;-separated statement) of an
// allow block as one clause, with the same unknown-clause-to-true default
// as the module parser.
func scanBody(body string) ParsedRule {
	and := &And{}
	unrecognized := 0
	for _, stmt := range lineRe.FindAllString(body, -1) {
		if isBlank(stmt) {
			continue
		}
		m := clauseRe.FindStringSubmatch(stmt)
		if m == nil {
			and.Children = append(and.Children, &True{})
			unrecognized++
			continue
		}
		and.Children = append(and.Children, &Clause{Field: Field(m[1]), Value: m[2]})
	}
	if len(and.Children) == 0 {
		return ParsedRule{Condition: &True{}}
	}
	return ParsedRule{Condition: and, Unrecognized: unrecognized}
}

func isBlank(s string) bool {
	for _, r := range s {
		if r != ' ' && r != '\t' && r != '\r' {
			return false
		}
	}
	return true
}
