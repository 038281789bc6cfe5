package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/classroom-sync/internal/models"
)

const courseColumns = `id, teacher_id, google_classroom_course_id, name, description, subject, section, room,
        enrollment_code, is_active, enrollment_count, sync_status, last_sync_at, created_at, updated_at`

// CourseRepository persists courses.
type CourseRepository struct {
	db sqlx.ExtContext
}

// NewCourseRepository constructs the repository.
func NewCourseRepository(db sqlx.ExtContext) *CourseRepository {
	return &CourseRepository{db: db}
}

// FindByExternalID returns the course linked to a classroom course id.
func (r *CourseRepository) FindByExternalID(ctx context.Context, externalID string) (*models.Course, error) {
	query := `SELECT ` + courseColumns + ` FROM courses WHERE google_classroom_course_id = $1`
	var course models.Course
	if err := sqlx.GetContext(ctx, r.db, &course, query, externalID); err != nil {
		return nil, fmt.Errorf("find course by external id: %w", err)
	}
	return &course, nil
}

// Claim inserts the course unless its external id is already taken. It
// returns false when another row won the external id.
func (r *CourseRepository) Claim(ctx context.Context, course *models.Course) (bool, error) {
	const query = `INSERT INTO courses (id, teacher_id, google_classroom_course_id, name, description, subject, section, room,
        enrollment_code, is_active, enrollment_count, sync_status, last_sync_at, created_at, updated_at)
        VALUES (:id, :teacher_id, :google_classroom_course_id, :name, :description, :subject, :section, :room,
        :enrollment_code, :is_active, :enrollment_count, :sync_status, :last_sync_at, :created_at, :updated_at)
        ON CONFLICT (google_classroom_course_id) DO NOTHING`
	res, err := sqlx.NamedExecContext(ctx, r.db, query, course)
	if err != nil {
		return false, fmt.Errorf("claim course: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim course rows affected: %w", err)
	}
	return affected == 1, nil
}

// Update writes the provider-owned fields in place. With requireOwner the
// write only applies while teacher_id still matches; ownership itself is
// never reassigned.
func (r *CourseRepository) Update(ctx context.Context, course *models.Course, requireOwner bool) (bool, error) {
	query := `UPDATE courses SET name = :name, description = :description, subject = :subject, section = :section,
        room = :room, enrollment_code = :enrollment_code, is_active = :is_active, sync_status = :sync_status,
        last_sync_at = :last_sync_at, updated_at = :updated_at
        WHERE id = :id`
	if requireOwner {
		query += ` AND teacher_id = :teacher_id`
	}
	res, err := sqlx.NamedExecContext(ctx, r.db, query, course)
	if err != nil {
		return false, fmt.Errorf("update course: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update course rows affected: %w", err)
	}
	return affected == 1, nil
}

// RefreshEnrollmentCount recomputes enrollment_count from the enrollments table.
func (r *CourseRepository) RefreshEnrollmentCount(ctx context.Context, courseID string, at time.Time) (int, error) {
	const query = `UPDATE courses
        SET enrollment_count = (SELECT COUNT(*) FROM enrollments WHERE course_id = $1), updated_at = $2
        WHERE id = $1
        RETURNING enrollment_count`
	var count int
	if err := sqlx.GetContext(ctx, r.db, &count, query, courseID, at); err != nil {
		return 0, fmt.Errorf("refresh enrollment count: %w", err)
	}
	return count, nil
}
