package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/classroom-sync/internal/models"
	"github.com/noah-isme/classroom-sync/internal/repository"
	"github.com/noah-isme/classroom-sync/pkg/classroom"
	appErrors "github.com/noah-isme/classroom-sync/pkg/errors"
	"github.com/noah-isme/classroom-sync/pkg/lock"
)

// ClassroomAPI is the read side of the classroom provider.
type ClassroomAPI interface {
	ListCourses(accessToken string) *classroom.Pager[classroom.Course]
	ListStudents(accessToken, courseID string) *classroom.Pager[classroom.Student]
	ListCoursework(accessToken, courseID string) *classroom.Pager[classroom.Coursework]
}

type reconcileStore interface {
	Courses() repository.CourseStore
	WithinTx(ctx context.Context, fn func(repository.Tx) error) error
}

// errCourseClaimed aborts a course transaction when another account owns the row.
var errCourseClaimed = errors.New("course owned by another account")

// AccessTokenSource yields the token for the next provider call batch.
type AccessTokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// ReconcileRequest identifies who is syncing and with which credentials.
type ReconcileRequest struct {
	AccountID   string
	Role        models.UserRole
	Credentials AccessTokenSource
}

// Reconciler decides create, update, skip or conflict for one external
// course and persists the course, its roster and its coursework atomically.
type Reconciler struct {
	store   reconcileStore
	api     ClassroomAPI
	locker  lock.Locker
	lockTTL time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

// NewReconciler constructs a Reconciler.
func NewReconciler(store reconcileStore, api ClassroomAPI, locker lock.Locker, lockTTL time.Duration, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if lockTTL <= 0 {
		lockTTL = time.Minute
	}
	return &Reconciler{
		store:   store,
		api:     api,
		locker:  locker,
		lockTTL: lockTTL,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// ReconcileCourse imports one external course. Conflicts come back as a
// result with a nil error. Failures come back as a failed result together
// with the mapped application error; nothing for that course is persisted.
func (r *Reconciler) ReconcileCourse(ctx context.Context, req ReconcileRequest, course classroom.Course) (result models.CourseResult, err error) {
	result = models.CourseResult{ExternalCourseID: course.ExternalID, Name: course.Name}
	log := r.logger.Sugar().With("account_id", req.AccountID, "external_course_id", course.ExternalID)

	defer func() {
		if p := recover(); p != nil {
			err = appErrors.Wrap(fmt.Errorf("panic: %v", p), appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "course import crashed")
			result = failedResult(result, err)
			log.Errorw("course reconcile panicked", "panic", p)
		}
	}()

	existing, err := r.findCourse(ctx, r.store.Courses(), course.ExternalID)
	if err != nil {
		return failedResult(result, err), err
	}
	override := req.Role.CanOverrideOwnership()
	if existing != nil && !existing.OwnedBy(req.AccountID) && !override {
		log.Infow("course claimed by another account, skipping", "course_id", existing.ID)
		return conflictResult(result), nil
	}

	// Provider reads happen before any write so a slow or failing fetch
	// never holds the course lock or an open transaction.
	var students []classroom.Student
	if existing == nil {
		token, err := req.Credentials.AccessToken(ctx)
		if err != nil {
			log.Warnw("access token unavailable for roster fetch", "error", err)
			return failedResult(result, err), err
		}
		pager := r.api.ListStudents(token, course.ExternalID)
		if students, err = pager.All(ctx); err != nil {
			mapped := mapProviderError(err)
			log.Warnw("roster fetch failed", "error", err)
			return failedResult(result, mapped), mapped
		}
		result.SkippedItems += pager.Malformed()
	}

	token, err := req.Credentials.AccessToken(ctx)
	if err != nil {
		log.Warnw("access token unavailable for coursework fetch", "error", err)
		return failedResult(result, err), err
	}
	workPager := r.api.ListCoursework(token, course.ExternalID)
	coursework, err := workPager.All(ctx)
	if err != nil {
		mapped := mapProviderError(err)
		log.Warnw("coursework fetch failed", "error", err)
		return failedResult(result, mapped), mapped
	}
	result.SkippedItems += workPager.Malformed()

	handle, err := r.locker.Acquire(ctx, "course:"+course.ExternalID, r.lockTTL)
	if err != nil {
		wrapped := appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock course")
		return failedResult(result, wrapped), wrapped
	}
	defer func() {
		if releaseErr := handle.Release(context.WithoutCancel(ctx)); releaseErr != nil {
			log.Warnw("release course lock", "error", releaseErr)
		}
	}()

	staged := result
	err = r.store.WithinTx(ctx, func(tx repository.Tx) error {
		staged = result
		return r.persist(ctx, tx, req, course, existing, students, coursework, override, &staged)
	})
	switch {
	case errors.Is(err, errCourseClaimed):
		log.Infow("course claimed by another account during import, skipping")
		return conflictResult(result), nil
	case err != nil:
		var wrapped *appErrors.Error
		if !errors.As(err, &wrapped) {
			wrapped = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist course")
		}
		log.Errorw("course persist failed", "error", err)
		return failedResult(result, wrapped), wrapped
	}

	if staged.SkippedItems > 0 {
		log.Infow("skipped malformed or foreign items", "count", staged.SkippedItems)
	}
	log.Infow("course reconciled", "course_id", staged.CourseID, "action", staged.Action,
		"enrollments", staged.Enrollments, "assignments", staged.Assignments)
	return staged, nil
}

func (r *Reconciler) persist(ctx context.Context, tx repository.Tx, req ReconcileRequest, course classroom.Course,
	existing *models.Course, students []classroom.Student, coursework []classroom.Coursework, override bool, result *models.CourseResult) error {
	now := r.now()
	row := courseRow(course, req.AccountID, now)

	if existing == nil {
		claimed, err := tx.Courses().Claim(ctx, row)
		if err != nil {
			return err
		}
		if claimed {
			result.Action = models.CourseActionCreated
			result.CourseID = row.ID
			if err := r.importRoster(ctx, tx, row.ID, students, now, result); err != nil {
				return err
			}
			return r.upsertCoursework(ctx, tx, row.ID, coursework, now, result)
		}
		// lost the insert race; decide again against the winning row
		if existing, err = r.findCourse(ctx, tx.Courses(), course.ExternalID); err != nil {
			return err
		}
		if existing == nil {
			return fmt.Errorf("course %s vanished after claim conflict", course.ExternalID)
		}
		if !existing.OwnedBy(req.AccountID) && !override {
			return errCourseClaimed
		}
	}

	row.ID = existing.ID
	row.TeacherID = req.AccountID
	updated, err := tx.Courses().Update(ctx, row, !override)
	if err != nil {
		return err
	}
	if !updated {
		return errCourseClaimed
	}
	result.Action = models.CourseActionUpdated
	result.CourseID = existing.ID
	return r.upsertCoursework(ctx, tx, existing.ID, coursework, now, result)
}

func (r *Reconciler) importRoster(ctx context.Context, tx repository.Tx, courseID string, students []classroom.Student, now time.Time, result *models.CourseResult) error {
	for _, student := range students {
		profile := &models.StudentProfile{
			ExternalStudentID: student.ExternalID,
			FullName:          student.FullName,
			Email:             nullableString(student.Email),
		}
		created, err := tx.Students().FindOrCreate(ctx, profile)
		if err != nil {
			return err
		}
		if created {
			result.StudentsCreated++
		}
		outcome, err := tx.Enrollments().Upsert(ctx, &models.Enrollment{CourseID: courseID, StudentID: profile.ID, EnrolledAt: now})
		if err != nil {
			return err
		}
		if outcome == repository.UpsertCreated {
			result.Enrollments++
		}
	}
	if _, err := tx.Courses().RefreshEnrollmentCount(ctx, courseID, now); err != nil {
		return err
	}
	return nil
}

func (r *Reconciler) upsertCoursework(ctx context.Context, tx repository.Tx, courseID string, items []classroom.Coursework, now time.Time, result *models.CourseResult) error {
	synced := models.AssignmentSyncStatusSynced
	for _, item := range items {
		externalID := item.ExternalID
		assignment := &models.Assignment{
			CourseID:                    courseID,
			GoogleClassroomCourseworkID: &externalID,
			Title:                       item.Title,
			Description:                 nullableString(item.Description),
			MaxPoints:                   item.MaxPoints,
			DueDate:                     item.DueDate,
			AssignmentType:              models.AssignmentTypeDefault,
			SyncStatus:                  &synced,
			LastSyncAt:                  &now,
			CreatedAt:                   now,
			UpdatedAt:                   now,
		}
		outcome, err := tx.Assignments().Upsert(ctx, assignment)
		if err != nil {
			return err
		}
		if outcome == repository.UpsertSkipped {
			result.SkippedItems++
			continue
		}
		result.Assignments++
	}
	return nil
}

func (r *Reconciler) findCourse(ctx context.Context, courses repository.CourseStore, externalID string) (*models.Course, error) {
	course, err := courses.FindByExternalID(ctx, externalID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	return course, nil
}

func courseRow(course classroom.Course, teacherID string, now time.Time) *models.Course {
	externalID := course.ExternalID
	synced := string(models.SyncStatusSynced)
	return &models.Course{
		ID:                      uuid.NewString(),
		TeacherID:               teacherID,
		GoogleClassroomCourseID: &externalID,
		Name:                    course.Name,
		Description:             nullableString(course.Description),
		Subject:                 nullableString(course.Subject),
		Section:                 nullableString(course.Section),
		Room:                    nullableString(course.Room),
		EnrollmentCode:          nullableString(course.EnrollmentCode),
		IsActive:                course.Active,
		SyncStatus:              &synced,
		LastSyncAt:              &now,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
}

func conflictResult(result models.CourseResult) models.CourseResult {
	result.Action = models.CourseActionConflict
	result.CourseID = ""
	result.SkippedItems = 0
	result.Reason = appErrors.ErrOwnershipConflict.Message
	return result
}

func failedResult(result models.CourseResult, err error) models.CourseResult {
	result.Action = models.CourseActionFailed
	result.CourseID = ""
	result.StudentsCreated, result.Enrollments, result.Assignments = 0, 0, 0
	result.Reason = appErrors.FromError(err).Message
	return result
}

// mapProviderError converts classroom client failures into the sync taxonomy.
func mapProviderError(err error) error {
	switch classroom.KindOf(err) {
	case classroom.KindAuth:
		return appErrors.WrapAs(appErrors.ErrProviderAuth, err)
	case classroom.KindMalformed:
		return appErrors.WrapAs(appErrors.ErrMalformedPayload, err)
	case classroom.KindUnavailable:
		return appErrors.WrapAs(appErrors.ErrProviderUnavailable, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return appErrors.WrapAs(appErrors.ErrProviderUnavailable, err)
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "classroom request failed")
}

func nullableString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
