// Package pagectx resolves which area of the monitored test-management app a
// URL belongs to. Resolution is stateless and recomputed per access.
package pagectx

import (
	"net/url"
	"strings"
)

// Context identifies the functional area of the app a page belongs to.
type Context string

const (
	Defects    Context = "defects"
	TestCases  Context = "test_cases"
	TestRuns   Context = "test_runs"
	TestPlans  Context = "test_plans"
	TestSuites Context = "test_suites"
	Projects   Context = "projects"
	Settings   Context = "settings"
	Reports    Context = "reports"
	Unknown    Context = "unknown"
)

// contextRule pairs a path substring with the context it maps to.
// Order matters: the first matching rule wins.
type contextRule struct {
	substr string
	ctx    Context
}

var contextRules = []contextRule{
	{"/defect", Defects},
	{"/case", TestCases},
	{"/test", TestCases},
	{"/run", TestRuns},
	{"/plan", TestPlans},
	{"/suite", TestSuites},
	{"/project", Projects},
	{"/settings", Settings},
	{"/report", Reports},
}

// Resolve maps a URL path to its page context using substring matching in
// fixed priority order. Unrecognized paths resolve to Unknown.
func Resolve(path string) Context {
	for _, rule := range contextRules {
		if strings.Contains(path, rule.substr) {
			return rule.ctx
		}
	}
	return Unknown
}

// ResolveURL parses a full URL and resolves the context from its path.
// Malformed URLs resolve to Unknown rather than erroring; this is a
// best-effort observational system.
func ResolveURL(rawURL string) Context {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Unknown
	}
	return Resolve(u.Path)
}

// ComplexityMultiplier weights the distress score by how demanding the page
// area is. Areas with heavier workflows amplify the score.
func (c Context) ComplexityMultiplier() float64 {
	switch c {
	case TestPlans:
		return 1.3
	case TestRuns, Reports:
		return 1.2
	case Settings:
		return 1.1
	default:
		return 1.0
	}
}
