package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/classroom-sync/internal/models"
)

// AssignmentRepository persists coursework.
type AssignmentRepository struct {
	db sqlx.ExtContext
}

// NewAssignmentRepository constructs the repository.
func NewAssignmentRepository(db sqlx.ExtContext) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

// Upsert inserts or refreshes an assignment keyed by its coursework id.
// An existing row attached to a different course is left untouched and
// reported as skipped. assignment_type and created_at are kept on update.
func (r *AssignmentRepository) Upsert(ctx context.Context, assignment *models.Assignment) (UpsertResult, error) {
	if assignment.ID == "" {
		assignment.ID = uuid.NewString()
	}
	const query = `INSERT INTO assignments (id, course_id, google_classroom_coursework_id, title, description, max_points,
        due_date, assignment_type, sync_status, last_sync_at, created_at, updated_at)
        VALUES (:id, :course_id, :google_classroom_coursework_id, :title, :description, :max_points,
        :due_date, :assignment_type, :sync_status, :last_sync_at, :created_at, :updated_at)
        ON CONFLICT (google_classroom_coursework_id) DO UPDATE SET
            title = EXCLUDED.title, description = EXCLUDED.description, max_points = EXCLUDED.max_points,
            due_date = EXCLUDED.due_date, sync_status = EXCLUDED.sync_status,
            last_sync_at = EXCLUDED.last_sync_at, updated_at = EXCLUDED.updated_at
        WHERE assignments.course_id = EXCLUDED.course_id
        RETURNING id, (xmax = 0) AS inserted`
	rows, err := sqlx.NamedQueryContext(ctx, r.db, query, assignment)
	if err != nil {
		return UpsertSkipped, fmt.Errorf("upsert assignment: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return UpsertSkipped, fmt.Errorf("upsert assignment: %w", err)
		}
		return UpsertSkipped, nil
	}
	var (
		storedID string
		inserted bool
	)
	if err := rows.Scan(&storedID, &inserted); err != nil {
		return UpsertSkipped, fmt.Errorf("scan assignment upsert: %w", err)
	}
	assignment.ID = storedID
	if inserted {
		return UpsertCreated, nil
	}
	return UpsertUpdated, nil
}
