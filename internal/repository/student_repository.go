package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/classroom-sync/internal/models"
)

// StudentRepository persists student profiles.
type StudentRepository struct {
	db sqlx.ExtContext
}

// NewStudentRepository constructs the repository.
func NewStudentRepository(db sqlx.ExtContext) *StudentRepository {
	return &StudentRepository{db: db}
}

// FindByExternalID returns the profile for an external student id.
func (r *StudentRepository) FindByExternalID(ctx context.Context, externalID string) (*models.StudentProfile, error) {
	const query = `SELECT id, external_student_id, full_name, email, created_at, updated_at
        FROM student_profiles WHERE external_student_id = $1`
	var profile models.StudentProfile
	if err := sqlx.GetContext(ctx, r.db, &profile, query, externalID); err != nil {
		return nil, fmt.Errorf("find student profile: %w", err)
	}
	return &profile, nil
}

// FindOrCreate resolves profile.ExternalStudentID to a profile id, inserting
// when absent. Existing profiles are reused unchanged. profile.ID is set to
// the stored id and the result reports whether a row was created.
func (r *StudentRepository) FindOrCreate(ctx context.Context, profile *models.StudentProfile) (bool, error) {
	existing, err := r.FindByExternalID(ctx, profile.ExternalStudentID)
	if err == nil {
		*profile = *existing
		return false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, err
	}

	if profile.ID == "" {
		profile.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	profile.CreatedAt = now
	profile.UpdatedAt = now

	// a concurrent insert for the same external id resolves to the stored row
	const query = `INSERT INTO student_profiles (id, external_student_id, full_name, email, created_at, updated_at)
        VALUES (:id, :external_student_id, :full_name, :email, :created_at, :updated_at)
        ON CONFLICT (external_student_id) DO UPDATE SET external_student_id = EXCLUDED.external_student_id
        RETURNING id`
	rows, err := sqlx.NamedQueryContext(ctx, r.db, query, profile)
	if err != nil {
		return false, fmt.Errorf("insert student profile: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return false, fmt.Errorf("insert student profile: %w", err)
		}
		return false, fmt.Errorf("insert student profile: no id returned")
	}
	var storedID string
	if err := rows.Scan(&storedID); err != nil {
		return false, fmt.Errorf("scan student profile id: %w", err)
	}
	created := storedID == profile.ID
	profile.ID = storedID
	return created, nil
}
