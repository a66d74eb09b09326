// Package sqlcheck statically screens cross-tenant SQL before execution.
// It is a shape-and-denylist check, not a parser: word-boundary matching
// keeps identifiers like deleted_at out of trouble, but creative quoting
// can in principle slip past a denylist. The executor's read-only role and
// narrowed search path are the backstop.
package sqlcheck

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxQueryLength bounds query-planner cost for caller-supplied statements.
const MaxQueryLength = 5000

// ValidationError explains why a statement was rejected.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "sqlcheck: " + e.Reason
}

var (
	// Mutating, DDL and session-control verbs. SELECT is the only verb the
	// gateway executes.
	forbiddenKeywords = regexp.MustCompile(`(?i)\b(DELETE|DROP|TRUNCATE|ALTER|GRANT|REVOKE|INSERT|UPDATE|CREATE|REPLACE|EXEC|EXECUTE|CALL|SET|COMMIT|ROLLBACK|SAVEPOINT|DECLARE)\b`)

	// System catalogs and the shared public namespace are outside the
	// caller's sandbox.
	systemCatalogs = regexp.MustCompile(`(?i)(\b(pg_catalog|information_schema)\b|\bpg_[a-z_]+|\bpublic\s*\.)`)

	selectPrefix = regexp.MustCompile(`(?i)^SELECT\b`)
)

// Validate runs the checks in a fixed order and returns the first failure.
func Validate(query string) error {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return &ValidationError{Reason: "empty query"}
	}

	if !selectPrefix.MatchString(trimmed) {
		return &ValidationError{Reason: "only SELECT statements are allowed"}
	}

	if m := forbiddenKeywords.FindString(trimmed); m != "" {
		return &ValidationError{Reason: fmt.Sprintf("forbidden keyword %s", strings.ToUpper(m))}
	}

	if len(trimmed) > MaxQueryLength {
		return &ValidationError{Reason: fmt.Sprintf("query exceeds %d characters", MaxQueryLength)}
	}

	// A semicolon is only acceptable as the terminal character; anything
	// else is a stacked statement.
	if strings.Contains(strings.TrimSuffix(trimmed, ";"), ";") {
		return &ValidationError{Reason: "multiple statements are not allowed"}
	}

	if strings.Contains(trimmed, "--") || strings.Contains(trimmed, "/*") {
		return &ValidationError{Reason: "comments are not allowed"}
	}

	if m := systemCatalogs.FindString(trimmed); m != "" {
		return &ValidationError{Reason: fmt.Sprintf("access to %s is not allowed", strings.TrimSpace(m))}
	}

	return nil
}
