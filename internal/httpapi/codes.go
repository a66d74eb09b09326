package httpapi

// Machine-readable error codes attached to every denial. Stable across
// releases; clients branch on these, not on messages.
const (
	CodeUnauthenticated  = "UNAUTHENTICATED"
	CodeForbidden        = "FORBIDDEN"
	CodeRateLimited      = "RATE_LIMITED"
	CodeInvalidRequest   = "INVALID_REQUEST"
	CodeInvalidQuery     = "INVALID_QUERY"
	CodeExecutionError   = "EXECUTION_ERROR"
	CodeExecutionTimeout = "EXECUTION_TIMEOUT"
	CodeInternal         = "INTERNAL"
	CodeNotFound         = "NOT_FOUND"
)
