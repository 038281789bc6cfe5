package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/classroom-sync/internal/models"
)

// EnrollmentRepository handles persistence of enrollments.
type EnrollmentRepository struct {
	db sqlx.ExtContext
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db sqlx.ExtContext) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// Upsert links a student to a course keyed by (course_id, student_id).
// Re-running it for an existing pair is a no-op.
func (r *EnrollmentRepository) Upsert(ctx context.Context, enrollment *models.Enrollment) (UpsertResult, error) {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	if enrollment.EnrolledAt.IsZero() {
		enrollment.EnrolledAt = time.Now().UTC()
	}
	const query = `INSERT INTO enrollments (id, course_id, student_id, enrolled_at)
        VALUES (:id, :course_id, :student_id, :enrolled_at)
        ON CONFLICT (course_id, student_id) DO NOTHING`
	res, err := sqlx.NamedExecContext(ctx, r.db, query, enrollment)
	if err != nil {
		return UpsertSkipped, fmt.Errorf("upsert enrollment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return UpsertSkipped, fmt.Errorf("upsert enrollment rows affected: %w", err)
	}
	if affected == 0 {
		return UpsertSkipped, nil
	}
	return UpsertCreated, nil
}
