package audit

import (
	"errors"
	"time"
)

// ErrNotFound is returned for a point lookup of an unknown record id.
var ErrNotFound = errors.New("audit: record not found")

// Operation kinds recorded by the gateway.
const (
	OpCrossTenantQuery = "cross_tenant_query"
)

// Record is one cross-tenant query attempt, allowed or denied. Records are
// append-only: the pipeline never mutates or deletes them; retention is an
// external time-boxed job.
type Record struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"createdAt"`
	SourceDept  string    `json:"sourceDept"`
	TargetDept  string    `json:"targetDept"`
	SubjectID   string    `json:"subjectId"`
	Operation   string    `json:"operation"`
	QueryText   string    `json:"queryText"`
	Reason      string    `json:"reason"`
	Allowed     bool      `json:"allowed"`
	DenyCode    string    `json:"denyCode,omitempty"`
	ResultCount int       `json:"resultCount"`
	DurationMs  int64     `json:"durationMs"`
	ClientIP    string    `json:"clientIp"`
	UserAgent   string    `json:"userAgent"`
}

// Filter narrows List results. Limit is capped at 500 and defaults to 100.
type Filter struct {
	From      time.Time
	To        time.Time
	SubjectID string
	Allowed   *bool
	Limit     int
}

// TargetCount is one entry of the per-target breakdown in Stats.
type TargetCount struct {
	Tenant string `json:"tenant"`
	Count  int64  `json:"count"`
}

// Stats aggregates a tenant's outbound query activity.
type Stats struct {
	Total         int64         `json:"total"`
	Allowed       int64         `json:"allowed"`
	Denied        int64         `json:"denied"`
	AvgDurationMs float64       `json:"avgDurationMs"`
	TopTargets    []TargetCount `json:"topTargets"`
}
