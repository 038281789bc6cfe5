package models

import "time"

// StudentProfile is a local identity resolved by external student id.
type StudentProfile struct {
	ID                string    `db:"id" json:"id"`
	ExternalStudentID string    `db:"external_student_id" json:"external_student_id"`
	FullName          string    `db:"full_name" json:"full_name"`
	Email             *string   `db:"email" json:"email,omitempty"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}
