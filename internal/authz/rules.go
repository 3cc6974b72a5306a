// Package authz maps inbound requests to required roles and evaluates them
// against an authenticated Principal.
package authz

import (
	"fmt"
	"strings"
)

// segmentKind classifies one compiled pattern segment.
type segmentKind int

const (
	segmentLiteral segmentKind = iota
	segmentParam
	segmentWildcard
)

type segment struct {
	kind segmentKind
	// value is the literal text or the parameter name.
	value string
}

// Rule declares required roles for a path pattern.
type Rule struct {
	// Pattern is an anchored path template: literal segments, named
	// parameters (":id") and single-segment wildcards ("*").
	Pattern string

	// Methods maps an HTTP method (or "*" as catch-all) to required roles.
	Methods map[string][]string

	// TenantCheck enables tenant isolation enforcement for this route.
	TenantCheck bool

	// Service names the downstream target.
	Service string
}

// CompiledRule is a rule with its pattern compiled into an anchored
// segment matcher.
type CompiledRule struct {
	Rule
	segments []segment

	// exact is true when every segment is a literal. Exact rules take
	// precedence over parameterized and wildcard rules.
	exact bool

	// order is the registration index, the documented tie-break among
	// equally specific matches.
	order int
}

// Compile validates and compiles a rule pattern.
func Compile(rule Rule, order int) (*CompiledRule, error) {
	if rule.Pattern == "" || !strings.HasPrefix(rule.Pattern, "/") {
		return nil, fmt.Errorf("pattern %q must start with '/'", rule.Pattern)
	}
	if len(rule.Methods) == 0 {
		return nil, fmt.Errorf("pattern %q declares no methods", rule.Pattern)
	}
	for method := range rule.Methods {
		if method != "*" && method != strings.ToUpper(method) {
			return nil, fmt.Errorf("pattern %q: method %q must be upper-case", rule.Pattern, method)
		}
	}

	compiled := &CompiledRule{
		Rule:  rule,
		exact: true,
		order: order,
	}

	for _, part := range splitPath(rule.Pattern) {
		switch {
		case part == "*":
			compiled.segments = append(compiled.segments, segment{kind: segmentWildcard})
			compiled.exact = false
		case strings.HasPrefix(part, ":"):
			name := part[1:]
			if name == "" {
				return nil, fmt.Errorf("pattern %q has an unnamed parameter", rule.Pattern)
			}
			compiled.segments = append(compiled.segments, segment{kind: segmentParam, value: name})
			compiled.exact = false
		case part == "":
			return nil, fmt.Errorf("pattern %q has an empty segment", rule.Pattern)
		default:
			compiled.segments = append(compiled.segments, segment{kind: segmentLiteral, value: part})
		}
	}

	return compiled, nil
}

// Match checks a request path against the compiled pattern. The match is
// anchored: segment counts must agree.
func (r *CompiledRule) Match(path string) (bool, map[string]string) {
	parts := splitPath(path)
	if len(parts) != len(r.segments) {
		return false, nil
	}

	var params map[string]string
	for i, seg := range r.segments {
		switch seg.kind {
		case segmentLiteral:
			if parts[i] != seg.value {
				return false, nil
			}
		case segmentParam:
			if parts[i] == "" {
				return false, nil
			}
			if params == nil {
				params = make(map[string]string)
			}
			params[seg.value] = parts[i]
		case segmentWildcard:
			if parts[i] == "" {
				return false, nil
			}
		}
	}
	return true, params
}

// RolesFor returns the required roles for a method, consulting the
// catch-all entry for unlisted methods. The second return is false when
// the rule does not cover the method at all.
func (r *CompiledRule) RolesFor(method string) ([]string, bool) {
	if roles, ok := r.Methods[method]; ok {
		return roles, true
	}
	if roles, ok := r.Methods["*"]; ok {
		return roles, true
	}
	return nil, false
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return []string{""}
	}
	return strings.Split(trimmed, "/")
}
