package healer

import (
	"regexp"

	"github.com/openagents/openagents/internal/domain"
)

// errorPattern is one entry in the fixed classification dictionary.
type errorPattern struct {
	name string
	re   *regexp.Regexp
}

// errorPatterns is the ordered classification dictionary. Order matters:
// detected names are reported in this order.
//
//nolint:gochecknoglobals // compile-time pattern table
var errorPatterns = []errorPattern{
	{name: "ts_error_code", re: regexp.MustCompile(`\bTS\d{4,5}\b`)},
	{name: "missing_module", re: regexp.MustCompile(`(?i)cannot find (module|name)`)},
	{name: "import_resolution", re: regexp.MustCompile(`(?i)(failed to resolve import|module not found|cannot resolve)`)},
	{name: "type_error", re: regexp.MustCompile(`(?i)\btypeerror\b`)},
	{name: "reference_error", re: regexp.MustCompile(`(?i)\breferenceerror\b`)},
	{name: "syntax_error", re: regexp.MustCompile(`(?i)\bsyntaxerror\b`)},
	{name: "test_assertion", re: regexp.MustCompile(`(?i)(assertionerror|assertion failed|expected .* (to|but) |\d+ tests? failed)`)},
}

// ClassifyErrorPatterns returns the names of every dictionary pattern found
// in the payload, in dictionary order.
func ClassifyErrorPatterns(payload string) []string {
	if payload == "" {
		return nil
	}
	var found []string
	for _, p := range errorPatterns {
		if p.re.MatchString(payload) {
			found = append(found, p.name)
		}
	}
	return found
}

// DeriveHeuristics classifies the failure payload into the booleans spell
// handlers branch on.
func DeriveHeuristics(scenario domain.Scenario, payload string, failureCount, previousAttempts int) domain.Heuristics {
	patterns := ClassifyErrorPatterns(payload)
	h := domain.Heuristics{
		Scenario:         scenario,
		FailureCount:     failureCount,
		ErrorPatterns:    patterns,
		PreviousAttempts: previousAttempts,
	}
	for _, p := range patterns {
		switch p {
		case "missing_module", "import_resolution":
			h.HasMissingImports = true
		case "ts_error_code", "type_error":
			h.HasTypeErrors = true
		case "test_assertion":
			h.HasTestAssertions = true
		}
	}
	// A test failure recurring across attempts without any type or import
	// signal smells flaky rather than broken.
	h.IsFlaky = h.HasTestAssertions && previousAttempts > 0 && !h.HasTypeErrors && !h.HasMissingImports
	return h
}
