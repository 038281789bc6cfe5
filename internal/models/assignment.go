package models

import "time"

const (
	// AssignmentTypeDefault is stamped on coursework imported by sync.
	AssignmentTypeDefault = "assignment"
	// AssignmentSyncStatusSynced marks an assignment refreshed by the last sync.
	AssignmentSyncStatusSynced = "synced"
)

// Assignment is a course's coursework item.
type Assignment struct {
	ID                          string     `db:"id" json:"id"`
	CourseID                    string     `db:"course_id" json:"course_id"`
	GoogleClassroomCourseworkID *string    `db:"google_classroom_coursework_id" json:"google_classroom_coursework_id,omitempty"`
	Title                       string     `db:"title" json:"title"`
	Description                 *string    `db:"description" json:"description,omitempty"`
	MaxPoints                   float64    `db:"max_points" json:"max_points"`
	DueDate                     *time.Time `db:"due_date" json:"due_date,omitempty"`
	AssignmentType              string     `db:"assignment_type" json:"assignment_type"`
	SyncStatus                  *string    `db:"sync_status" json:"sync_status,omitempty"`
	LastSyncAt                  *time.Time `db:"last_sync_at" json:"last_sync_at,omitempty"`
	CreatedAt                   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt                   time.Time  `db:"updated_at" json:"updated_at"`
}
