package models

import "time"

// Course is a class owned by one teacher account, optionally linked to a
// classroom course. Rows with a GoogleClassroomCourseID were created by sync.
type Course struct {
	ID                      string     `db:"id" json:"id"`
	TeacherID               string     `db:"teacher_id" json:"teacher_id"`
	GoogleClassroomCourseID *string    `db:"google_classroom_course_id" json:"google_classroom_course_id,omitempty"`
	Name                    string     `db:"name" json:"name"`
	Description             *string    `db:"description" json:"description,omitempty"`
	Subject                 *string    `db:"subject" json:"subject,omitempty"`
	Section                 *string    `db:"section" json:"section,omitempty"`
	Room                    *string    `db:"room" json:"room,omitempty"`
	EnrollmentCode          *string    `db:"enrollment_code" json:"enrollment_code,omitempty"`
	IsActive                bool       `db:"is_active" json:"is_active"`
	EnrollmentCount         int        `db:"enrollment_count" json:"enrollment_count"`
	SyncStatus              *string    `db:"sync_status" json:"sync_status,omitempty"`
	LastSyncAt              *time.Time `db:"last_sync_at" json:"last_sync_at,omitempty"`
	CreatedAt               time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt               time.Time  `db:"updated_at" json:"updated_at"`
}

// OwnedBy reports whether accountID owns the course.
func (c *Course) OwnedBy(accountID string) bool {
	return c.TeacherID == accountID
}
