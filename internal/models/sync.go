package models

import "time"

// CourseAction is what a sync run did with one external course.
type CourseAction string

// Course actions recorded per external course.
const (
	CourseActionCreated  CourseAction = "created"
	CourseActionUpdated  CourseAction = "updated"
	CourseActionConflict CourseAction = "conflict"
	CourseActionFailed   CourseAction = "failed"
)

// CourseResult is the reconciliation result for one external course.
type CourseResult struct {
	ExternalCourseID string       `json:"external_course_id"`
	CourseID         string       `json:"course_id,omitempty"`
	Name             string       `json:"name"`
	Action           CourseAction `json:"action"`
	StudentsCreated  int          `json:"students_created"`
	Enrollments      int          `json:"enrollments"`
	Assignments      int          `json:"assignments"`
	SkippedItems     int          `json:"skipped_items"`
	Reason           string       `json:"reason,omitempty"`
}

// CourseConflict names a course already claimed by another account.
type CourseConflict struct {
	ExternalCourseID string `json:"external_course_id"`
	Name             string `json:"name"`
}

// CourseFailure names a course whose import failed.
type CourseFailure struct {
	ExternalCourseID string `json:"external_course_id,omitempty"`
	Name             string `json:"name,omitempty"`
	Reason           string `json:"reason"`
}

// SyncOutcome aggregates one run. Synced+Skipped+Errors always equals Total.
type SyncOutcome struct {
	Synced           int              `json:"synced"`
	Skipped          int              `json:"skipped"`
	Errors           int              `json:"errors"`
	Total            int              `json:"total"`
	ConflictDetected bool             `json:"conflict_detected"`
	SkippedItems     int              `json:"skipped_items"`
	Conflicts        []CourseConflict `json:"conflicts,omitempty"`
	Failures         []CourseFailure  `json:"failures,omitempty"`
}

// SyncSeverity is the caller-facing classification of an outcome.
type SyncSeverity string

// Severities returned to callers.
const (
	SyncSeveritySuccess SyncSeverity = "success"
	SyncSeverityPartial SyncSeverity = "partial"
	SyncSeverityFailed  SyncSeverity = "failed"
)

// SyncReport is the result of one sync run.
type SyncReport struct {
	AccountID string       `json:"account_id"`
	Success   bool         `json:"success"`
	Severity  SyncSeverity `json:"severity"`
	Message   string       `json:"message"`
	SyncOutcome
	Courses    []CourseResult `json:"courses,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}

// DisconnectCounts reports what a disconnect removed.
type DisconnectCounts struct {
	Courses     int64 `json:"courses"`
	Enrollments int64 `json:"enrollments"`
	Assignments int64 `json:"assignments"`
	Integration bool  `json:"integration"`
}
