package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/classroom-sync/internal/models"
)

// UpsertResult reports what an idempotent write did.
type UpsertResult int

// Upsert outcomes.
const (
	UpsertSkipped UpsertResult = iota
	UpsertCreated
	UpsertUpdated
)

// IntegrationStore persists per-account classroom credentials and sync state.
type IntegrationStore interface {
	FindByAccountID(ctx context.Context, accountID string) (*models.Integration, error)
	UpdateTokens(ctx context.Context, accountID string, update models.TokenUpdate) error
	MarkSyncing(ctx context.Context, accountID string, at time.Time) error
	FinishSync(ctx context.Context, accountID string, status models.SyncStatus, lastSyncAt *time.Time, lastError *string) error
	IdentityClaimedElsewhere(ctx context.Context, accountID, provider, externalUserID string) (bool, error)
}

// CourseStore reads and claims courses.
type CourseStore interface {
	FindByExternalID(ctx context.Context, externalID string) (*models.Course, error)
	Claim(ctx context.Context, course *models.Course) (bool, error)
	Update(ctx context.Context, course *models.Course, requireOwner bool) (bool, error)
	RefreshEnrollmentCount(ctx context.Context, courseID string, at time.Time) (int, error)
}

// StudentStore resolves student profiles by external id.
type StudentStore interface {
	FindByExternalID(ctx context.Context, externalID string) (*models.StudentProfile, error)
	FindOrCreate(ctx context.Context, profile *models.StudentProfile) (bool, error)
}

// EnrollmentStore links students to courses.
type EnrollmentStore interface {
	Upsert(ctx context.Context, enrollment *models.Enrollment) (UpsertResult, error)
}

// AssignmentStore upserts coursework.
type AssignmentStore interface {
	Upsert(ctx context.Context, assignment *models.Assignment) (UpsertResult, error)
}

// Tx exposes the repositories bound to one transaction.
type Tx interface {
	Courses() CourseStore
	Students() StudentStore
	Enrollments() EnrollmentStore
	Assignments() AssignmentStore
}

// Store wires the sync repositories to one database handle.
type Store struct {
	db *sqlx.DB
}

// NewStore constructs a Store.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Integrations returns the credential store.
func (s *Store) Integrations() IntegrationStore {
	return NewIntegrationRepository(s.db)
}

// Courses returns a course repository outside any transaction.
func (s *Store) Courses() CourseStore {
	return NewCourseRepository(s.db)
}

// WithinTx runs fn in one transaction, committing when fn returns nil.
func (s *Store) WithinTx(ctx context.Context, fn func(Tx) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin sync tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(txScope{ext: tx}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit sync tx: %w", err)
	}
	return nil
}

// Disconnect removes the integration and everything sync created for the
// account. User-created courses (no external id) are left alone.
func (s *Store) Disconnect(ctx context.Context, accountID string) (counts models.DisconnectCounts, err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return counts, fmt.Errorf("begin disconnect tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const linked = `SELECT id FROM courses WHERE teacher_id = $1 AND google_classroom_course_id IS NOT NULL`

	if counts.Assignments, err = execCount(ctx, tx, `DELETE FROM assignments WHERE course_id IN (`+linked+`)`, accountID); err != nil {
		return counts, fmt.Errorf("delete synced assignments: %w", err)
	}
	if counts.Enrollments, err = execCount(ctx, tx, `DELETE FROM enrollments WHERE course_id IN (`+linked+`)`, accountID); err != nil {
		return counts, fmt.Errorf("delete synced enrollments: %w", err)
	}
	if counts.Courses, err = execCount(ctx, tx, `DELETE FROM courses WHERE teacher_id = $1 AND google_classroom_course_id IS NOT NULL`, accountID); err != nil {
		return counts, fmt.Errorf("delete synced courses: %w", err)
	}
	removed, err := execCount(ctx, tx, `DELETE FROM integrations WHERE account_id = $1`, accountID)
	if err != nil {
		return counts, fmt.Errorf("delete integration: %w", err)
	}
	counts.Integration = removed > 0

	if err = tx.Commit(); err != nil {
		return counts, fmt.Errorf("commit disconnect tx: %w", err)
	}
	return counts, nil
}

type txScope struct {
	ext sqlx.ExtContext
}

func (t txScope) Courses() CourseStore         { return NewCourseRepository(t.ext) }
func (t txScope) Students() StudentStore       { return NewStudentRepository(t.ext) }
func (t txScope) Enrollments() EnrollmentStore { return NewEnrollmentRepository(t.ext) }
func (t txScope) Assignments() AssignmentStore { return NewAssignmentRepository(t.ext) }

func execCount(ctx context.Context, ext sqlx.ExecerContext, query string, args ...interface{}) (int64, error) {
	res, err := ext.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
