package service

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/classroom-sync/internal/models"
	appErrors "github.com/noah-isme/classroom-sync/pkg/errors"
	"github.com/noah-isme/classroom-sync/pkg/lock"
)

func TestRunSyncImportsNewCourse(t *testing.T) {
	h := newSyncHarness(t)
	h.store.addIntegration("T1", "token-t1", "g-t1")
	h.seedAlgebra("token-t1")

	report, err := h.svc.RunSync(context.Background(), RunRequest{AccountID: "T1", Role: models.RoleTeacher})
	require.NoError(t, err)

	assert.True(t, report.Success)
	assert.Equal(t, models.SyncSeveritySuccess, report.Severity)
	assert.Equal(t, 1, report.Synced)
	assert.Equal(t, 0, report.Skipped)
	assert.Equal(t, 0, report.Errors)
	assert.Equal(t, 1, report.Total)

	course := h.store.courseByExternalID("c1")
	require.NotNil(t, course)
	assert.Equal(t, "T1", course.TeacherID)
	assert.Equal(t, "Algebra I", course.Name)
	assert.Equal(t, 2, course.EnrollmentCount)
	assert.Equal(t, 2, h.store.enrollmentsFor(course.ID))

	_, profiles, _, _ := h.store.counts()
	assert.Equal(t, 2, profiles)

	assignments := h.store.assignmentsFor(course.ID)
	require.Len(t, assignments, 1)
	assert.Equal(t, "HW1", assignments[0].Title)
	assert.Equal(t, 50.0, assignments[0].MaxPoints)
	require.NotNil(t, assignments[0].DueDate)
	assert.True(t, time.Date(2025, 5, 1, 23, 59, 0, 0, time.UTC).Equal(*assignments[0].DueDate))

	integration := h.store.integration("T1")
	assert.Equal(t, models.SyncStatusSynced, integration.SyncStatus)
	assert.NotNil(t, integration.LastSyncAt)
	assert.Nil(t, integration.LastError)
	assert.Equal(t, []models.SyncStatus{models.SyncStatusSyncing, models.SyncStatusSynced}, h.store.statusLog["T1"])
}

func TestRunSyncRejectsCourseOwnedByAnotherAccount(t *testing.T) {
	h := newSyncHarness(t)
	h.store.addIntegration("T1", "token-t1", "g-t1")
	h.store.addIntegration("T2", "token-t2", "g-t2")
	h.seedAlgebra("token-t1")
	h.provider.setCourses("token-t2", course("c1", "Algebra I (renamed)"))

	_, err := h.svc.RunSync(context.Background(), RunRequest{AccountID: "T1", Role: models.RoleTeacher})
	require.NoError(t, err)
	before := h.store.courseByExternalID("c1")
	rosterCalls := h.provider.callCount("/v1/courses/c1/students")

	report, err := h.svc.RunSync(context.Background(), RunRequest{AccountID: "T2", Role: models.RoleTeacher})
	require.NoError(t, err)

	assert.False(t, report.Success)
	assert.Equal(t, models.SyncSeverityFailed, report.Severity)
	assert.Equal(t, messageClaimedElsewhere, report.Message)
	assert.True(t, report.ConflictDetected)
	assert.Equal(t, 0, report.Synced)
	assert.Equal(t, 1, report.Skipped)
	require.Len(t, report.Conflicts, 1)
	assert.Equal(t, "c1", report.Conflicts[0].ExternalCourseID)

	assert.Equal(t, before, h.store.courseByExternalID("c1"))
	assert.Equal(t, rosterCalls, h.provider.callCount("/v1/courses/c1/students"))
	assert.Equal(t, models.SyncStatusError, h.store.integration("T2").SyncStatus)
}

func TestRunSyncPartialWhenSomeCoursesAreClaimed(t *testing.T) {
	h := newSyncHarness(t)
	h.store.addIntegration("T1", "token-t1", "g-t1")
	h.store.addIntegration("T2", "token-t2", "g-t2")
	h.seedAlgebra("token-t1")
	h.provider.setCourses("token-t2", course("c1", "Algebra I"), course("c3", "Chemistry"))

	_, err := h.svc.RunSync(context.Background(), RunRequest{AccountID: "T1", Role: models.RoleTeacher})
	require.NoError(t, err)

	report, err := h.svc.RunSync(context.Background(), RunRequest{AccountID: "T2", Role: models.RoleTeacher})
	require.NoError(t, err)

	assert.True(t, report.Success)
	assert.Equal(t, models.SyncSeverityPartial, report.Severity)
	assert.Equal(t, 1, report.Synced)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, "T2", h.store.courseByExternalID("c3").TeacherID)
	assert.Equal(t, "T1", h.store.courseByExternalID("c1").TeacherID)

	integration := h.store.integration("T2")
	assert.Equal(t, models.SyncStatusSynced, integration.SyncStatus)
	require.NotNil(t, integration.LastError)
	assert.Equal(t, report.Message, *integration.LastError)
}

func TestRunSyncIsIdempotent(t *testing.T) {
	h := newSyncHarness(t)
	h.store.addIntegration("T1", "token-t1", "g-t1")
	h.seedAlgebra("token-t1")

	_, err := h.svc.RunSync(context.Background(), RunRequest{AccountID: "T1", Role: models.RoleTeacher})
	require.NoError(t, err)
	courses, profiles, enrollments, assignments := h.store.counts()

	report, err := h.svc.RunSync(context.Background(), RunRequest{AccountID: "T1", Role: models.RoleTeacher})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Synced)
	assert.Equal(t, 0, report.Skipped)
	c2, p2, e2, a2 := h.store.counts()
	assert.Equal(t, []int{courses, profiles, enrollments, assignments}, []int{c2, p2, e2, a2})
	// roster is only imported on first creation
	assert.Equal(t, 1, h.provider.callCount("/v1/courses/c1/students"))
}

func TestRunSyncUpdatesCourseworkOnExistingCourse(t *testing.T) {
	h := newSyncHarness(t)
	h.store.addIntegration("T1", "token-t1", "g-t1")
	externalID := "c1"
	h.store.putCourse(models.Course{ID: "course-1", TeacherID: "T1", GoogleClassroomCourseID: &externalID, Name: "Algebra"})
	h.provider.setCourses("token-t1", course("c1", "Algebra I"))
	h.provider.mu.Lock()
	h.provider.students["c1"] = []map[string]any{student("s1", "Ada", "Lovelace")}
	h.provider.coursework["c1"] = []map[string]any{
		{"id": "w1", "title": "HW1"},
		{"id": "w2", "title": "HW2"},
		{"id": "w3"},
	}
	h.provider.mu.Unlock()

	report, err := h.svc.RunSync(context.Background(), RunRequest{AccountID: "T1", Role: models.RoleTeacher})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Synced)
	assignments := h.store.assignmentsFor("course-1")
	assert.Len(t, assignments, 3)
	for _, assignment := range assignments {
		assert.Equal(t, 100.0, assignment.MaxPoints)
		if *assignment.GoogleClassroomCourseworkID == "w3" {
			assert.Equal(t, "Untitled Assignment", assignment.Title)
		}
	}
	assert.Equal(t, 0, h.store.enrollmentsFor("course-1"))
	assert.Equal(t, 0, h.provider.callCount("/v1/courses/c1/students"))
	assert.Equal(t, "Algebra I", h.store.courseByExternalID("c1").Name)
}

func TestRunSyncSkipsCourseworkWithoutID(t *testing.T) {
	h := newSyncHarness(t)
	h.store.addIntegration("T1", "token-t1", "g-t1")
	h.provider.setCourses("token-t1", course("c1", "Algebra I"))
	h.provider.mu.Lock()
	h.provider.coursework["c1"] = []map[string]any{
		{"id": "w1", "title": "HW1"},
		{"title": "no id"},
		{"id": "w2", "title": "HW2"},
	}
	h.provider.mu.Unlock()

	report, err := h.svc.RunSync(context.Background(), RunRequest{AccountID: "T1", Role: models.RoleTeacher})
	require.NoError(t, err)

	assert.Equal(t, models.SyncSeveritySuccess, report.Severity)
	assert.Equal(t, 0, report.Errors)
	assert.Equal(t, 1, report.SkippedItems)
	assert.Len(t, h.store.assignmentsFor(h.store.courseByExternalID("c1").ID), 2)
}

func TestRunSyncIsolatesCourseFailures(t *testing.T) {
	h := newSyncHarness(t)
	h.store.addIntegration("T1", "token-t1", "g-t1")
	h.seedAlgebra("token-t1")
	h.provider.setCourses("token-t1", course("c1", "Algebra I"), course("c2", "Biology"))
	h.provider.mu.Lock()
	h.provider.failures["/v1/courses/c2/students"] = http.StatusInternalServerError
	h.provider.mu.Unlock()

	report, err := h.svc.RunSync(context.Background(), RunRequest{AccountID: "T1", Role: models.RoleTeacher})
	require.NoError(t, err)

	assert.Equal(t, models.SyncSeverityPartial, report.Severity)
	assert.Equal(t, 1, report.Synced)
	assert.Equal(t, 1, report.Errors)
	assert.Equal(t, report.Total, report.Synced+report.Skipped+report.Errors)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "c2", report.Failures[0].ExternalCourseID)
	assert.NotNil(t, h.store.courseByExternalID("c1"))
	assert.Nil(t, h.store.courseByExternalID("c2"))
	// one attempt plus one retry
	assert.Equal(t, 2, h.provider.callCount("/v1/courses/c2/students"))
}

func TestRunSyncFailsWhenEveryCourseErrors(t *testing.T) {
	h := newSyncHarness(t)
	h.store.addIntegration("T1", "token-t1", "g-t1")
	h.provider.setCourses("token-t1", course("c2", "Biology"))
	h.provider.mu.Lock()
	h.provider.failures["/v1/courses/c2/courseWork"] = http.StatusBadGateway
	h.provider.mu.Unlock()

	report, err := h.svc.RunSync(context.Background(), RunRequest{AccountID: "T1", Role: models.RoleTeacher})
	require.NoError(t, err)

	assert.False(t, report.Success)
	assert.Equal(t, models.SyncSeverityFailed, report.Severity)
	assert.Equal(t, models.SyncStatusError, h.store.integration("T1").SyncStatus)
	assert.Nil(t, h.store.integration("T1").LastSyncAt)
}

func TestRunSyncAdminOverridesOwnership(t *testing.T) {
	h := newSyncHarness(t)
	h.store.addIntegration("T1", "token-t1", "g-t1")
	h.store.addIntegration("A1", "token-admin", "g-admin")
	h.seedAlgebra("token-t1")
	h.provider.setCourses("token-admin", course("c1", "Algebra I (admin)"))

	_, err := h.svc.RunSync(context.Background(), RunRequest{AccountID: "T1", Role: models.RoleTeacher})
	require.NoError(t, err)

	report, err := h.svc.RunSync(context.Background(), RunRequest{AccountID: "A1", Role: models.RoleAdmin})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Synced)
	assert.False(t, report.ConflictDetected)
	course := h.store.courseByExternalID("c1")
	assert.Equal(t, "T1", course.TeacherID)
	assert.Equal(t, "Algebra I (admin)", course.Name)
}

func TestRunSyncRejectsConcurrentRunForAccount(t *testing.T) {
	h := newSyncHarness(t)
	h.store.addIntegration("T1", "token-t1", "g-t1")
	h.seedAlgebra("token-t1")

	handle, err := h.locker.TryAcquire(context.Background(), accountLockKey("T1"), time.Minute)
	require.NoError(t, err)
	defer func() { _ = handle.Release(context.Background()) }()

	_, err = h.svc.RunSync(context.Background(), RunRequest{AccountID: "T1", Role: models.RoleTeacher})
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrSyncInProgress)
	assert.Nil(t, h.store.courseByExternalID("c1"))
	assert.Equal(t, models.SyncStatusPending, h.store.integration("T1").SyncStatus)
}

func TestRunSyncRecoversStaleSyncingStatus(t *testing.T) {
	h := newSyncHarness(t)
	h.store.addIntegration("T1", "token-t1", "g-t1")
	h.store.setIntegration("T1", func(i *models.Integration) { i.SyncStatus = models.SyncStatusSyncing })
	h.seedAlgebra("token-t1")

	report, err := h.svc.RunSync(context.Background(), RunRequest{AccountID: "T1", Role: models.RoleTeacher})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Synced)
	assert.Equal(t, models.SyncStatusSynced, h.store.integration("T1").SyncStatus)
}

func TestRunSyncConcurrentAccountsClaimCourseOnce(t *testing.T) {
	h := newSyncHarness(t)
	h.store.addIntegration("T1", "token-t1", "g-t1")
	h.store.addIntegration("T2", "token-t2", "g-t2")
	h.seedAlgebra("token-t1")
	h.provider.setCourses("token-t2", course("c1", "Algebra I"))

	var wg sync.WaitGroup
	reports := make([]*models.SyncReport, 2)
	for i, account := range []string{"T1", "T2"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			report, err := h.svc.RunSync(context.Background(), RunRequest{AccountID: account, Role: models.RoleTeacher})
			assert.NoError(t, err)
			reports[i] = report
		}()
	}
	wg.Wait()

	require.NotNil(t, reports[0])
	require.NotNil(t, reports[1])
	assert.Equal(t, 1, reports[0].Synced+reports[1].Synced)
	assert.Equal(t, 1, reports[0].Skipped+reports[1].Skipped)
	courses, _, enrollments, assignments := h.store.counts()
	assert.Equal(t, 1, courses)
	assert.Equal(t, 2, enrollments)
	assert.Equal(t, 1, assignments)
}

func TestRunSyncRefreshesExpiredToken(t *testing.T) {
	h := newSyncHarness(t)
	h.store.addIntegration("T1", "stale", "g-t1")
	h.store.setIntegration("T1", func(i *models.Integration) {
		past := time.Now().Add(-time.Minute)
		i.TokenExpiresAt = &past
	})
	h.seedAlgebra("fresh")

	report, err := h.svc.RunSync(context.Background(), RunRequest{AccountID: "T1", Role: models.RoleTeacher})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Synced)
	assert.Equal(t, 1, h.tokens.callCount())
	integration := h.store.integration("T1")
	assert.Equal(t, "fresh", integration.AccessToken)
	assert.Equal(t, "refresh-T1", integration.RefreshToken)
	assert.True(t, integration.TokenExpiresAt.After(time.Now()))
}

func TestRunSyncRefreshesTokenThatExpiresMidRun(t *testing.T) {
	h := newSyncHarness(t)
	start := time.Now().UTC()
	clock := &fakeClock{now: start}
	h.svc.now = clock.Now
	h.tokens.body = `{"access_token":"fresh","token_type":"Bearer","expires_in":36000}`

	h.store.addIntegration("T1", "t1", "g-t1")
	h.seedAlgebra("t1")
	h.provider.setCourses("t1", course("c1", "Algebra I"), course("c2", "Biology"))
	h.provider.setCourses("fresh", course("c1", "Algebra I"), course("c2", "Biology"))
	// t1 stops working once the course list has been served and the clock
	// has moved past its expiry.
	h.provider.afterAuth = func(path string) {
		if path == "/v1/courses" {
			clock.Set(start.Add(2 * time.Hour))
			delete(h.provider.courses, "t1")
		}
	}

	report, err := h.svc.RunSync(context.Background(), RunRequest{AccountID: "T1", Role: models.RoleTeacher})
	require.NoError(t, err)

	assert.Equal(t, 2, report.Synced)
	assert.Equal(t, 0, report.Errors)
	assert.Equal(t, 1, h.tokens.callCount())
	assert.Equal(t, 1, h.provider.callCount("/v1/courses"))
	assert.Equal(t, "fresh", h.store.integration("T1").AccessToken)
	assert.Equal(t, models.SyncStatusSynced, h.store.integration("T1").SyncStatus)
}

func TestRunSyncFailsWhenTokenExpiresAgainAfterRefresh(t *testing.T) {
	h := newSyncHarness(t)
	start := time.Now().UTC()
	clock := &fakeClock{now: start}
	h.svc.now = clock.Now

	h.store.addIntegration("T1", "t1", "g-t1")
	h.seedAlgebra("t1")
	h.provider.setCourses("fresh", course("c1", "Algebra I"))
	// The refreshed token lives one hour from the real clock, so jumping
	// the run clock three hours ahead leaves it expired as well.
	h.provider.afterAuth = func(path string) {
		if path == "/v1/courses" {
			clock.Set(start.Add(3 * time.Hour))
		}
	}

	report, err := h.svc.RunSync(context.Background(), RunRequest{AccountID: "T1", Role: models.RoleTeacher})
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrProviderAuth)
	require.NotNil(t, report)
	assert.Equal(t, 1, report.Errors)
	assert.Equal(t, 1, h.tokens.callCount())
	assert.Nil(t, h.store.courseByExternalID("c1"))
}

func TestRunSyncRetriesCourseListAfterTokenRejection(t *testing.T) {
	h := newSyncHarness(t)
	h.store.addIntegration("T1", "stale", "g-t1")
	h.seedAlgebra("fresh")

	report, err := h.svc.RunSync(context.Background(), RunRequest{AccountID: "T1", Role: models.RoleTeacher})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Synced)
	assert.Equal(t, 1, h.tokens.callCount())
	assert.Equal(t, 2, h.provider.callCount("/v1/courses"))
}

func TestRunSyncMarksIntegrationExpiredWhenRefreshRejected(t *testing.T) {
	h := newSyncHarness(t)
	h.store.addIntegration("T1", "stale", "g-t1")
	h.store.setIntegration("T1", func(i *models.Integration) {
		past := time.Now().Add(-time.Minute)
		i.TokenExpiresAt = &past
	})
	h.tokens.status = http.StatusBadRequest
	h.tokens.body = `{"error":"invalid_grant","error_description":"Token has been revoked"}`

	report, err := h.svc.RunSync(context.Background(), RunRequest{AccountID: "T1", Role: models.RoleTeacher})
	require.Error(t, err)
	assert.Nil(t, report)
	assert.ErrorIs(t, err, appErrors.ErrAuthExpired)
	assert.Equal(t, models.SyncStatusExpired, h.store.integration("T1").SyncStatus)

	_, err = h.svc.RunSync(context.Background(), RunRequest{AccountID: "T1", Role: models.RoleTeacher})
	assert.ErrorIs(t, err, appErrors.ErrAuthExpired)
	assert.Equal(t, 1, h.tokens.callCount())
}

func TestRunSyncAbortsOnMidRunTokenRejection(t *testing.T) {
	h := newSyncHarness(t)
	h.store.addIntegration("T1", "token-t1", "g-t1")
	h.seedAlgebra("token-t1")
	h.provider.setCourses("token-t1", course("c1", "Algebra I"), course("c2", "Biology"))
	h.provider.mu.Lock()
	h.provider.failures["/v1/courses/c1/students"] = http.StatusUnauthorized
	h.provider.mu.Unlock()

	report, err := h.svc.RunSync(context.Background(), RunRequest{AccountID: "T1", Role: models.RoleTeacher})
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrProviderAuth)
	require.NotNil(t, report)
	assert.False(t, report.Success)
	assert.Equal(t, 2, report.Total)
	assert.Equal(t, report.Total, report.Synced+report.Skipped+report.Errors)
	assert.Nil(t, h.store.courseByExternalID("c1"))
	assert.Equal(t, models.SyncStatusError, h.store.integration("T1").SyncStatus)
}

func TestRunSyncRejectsIdentityLinkedToAnotherAccount(t *testing.T) {
	h := newSyncHarness(t)
	h.store.addIntegration("T1", "token-t1", "g-shared")
	h.store.addIntegration("T2", "token-t2", "g-shared")
	h.seedAlgebra("token-t2")

	_, err := h.svc.RunSync(context.Background(), RunRequest{AccountID: "T2", Role: models.RoleTeacher})
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrOwnershipConflict)
	assert.Nil(t, h.store.courseByExternalID("c1"))
	assert.Equal(t, 0, h.provider.callCount("/v1/courses"))
	assert.Equal(t, models.SyncStatusError, h.store.integration("T2").SyncStatus)
}

func TestRunSyncWithoutIntegration(t *testing.T) {
	h := newSyncHarness(t)

	_, err := h.svc.RunSync(context.Background(), RunRequest{AccountID: "ghost", Role: models.RoleTeacher})
	assert.ErrorIs(t, err, appErrors.ErrIntegrationNotFound)
}

func TestRunSyncWithNoCourses(t *testing.T) {
	h := newSyncHarness(t)
	h.store.addIntegration("T1", "token-t1", "g-t1")
	h.provider.setCourses("token-t1")

	report, err := h.svc.RunSync(context.Background(), RunRequest{AccountID: "T1", Role: models.RoleTeacher})
	require.NoError(t, err)
	assert.True(t, report.Success)
	assert.Equal(t, "No classroom courses found", report.Message)
	assert.Equal(t, 0, report.Total)
}

func TestLastReportReturnsCachedRun(t *testing.T) {
	h := newSyncHarness(t)
	h.store.addIntegration("T1", "token-t1", "g-t1")
	h.seedAlgebra("token-t1")

	_, err := h.svc.LastReport(context.Background(), "T1")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	report, err := h.svc.RunSync(context.Background(), RunRequest{AccountID: "T1", Role: models.RoleTeacher})
	require.NoError(t, err)

	cached, err := h.svc.LastReport(context.Background(), "T1")
	require.NoError(t, err)
	assert.Equal(t, report.Synced, cached.Synced)
	assert.Equal(t, report.Message, cached.Message)
}

func TestDisconnectRemovesSyncedData(t *testing.T) {
	h := newSyncHarness(t)
	h.store.addIntegration("T1", "token-t1", "g-t1")
	h.seedAlgebra("token-t1")
	h.store.putCourse(models.Course{ID: "manual", TeacherID: "T1", Name: "Homeroom"})

	_, err := h.svc.RunSync(context.Background(), RunRequest{AccountID: "T1", Role: models.RoleTeacher})
	require.NoError(t, err)

	counts, err := h.svc.Disconnect(context.Background(), "T1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Courses)
	assert.Equal(t, int64(2), counts.Enrollments)
	assert.Equal(t, int64(1), counts.Assignments)
	assert.True(t, counts.Integration)

	courses, _, _, _ := h.store.counts()
	assert.Equal(t, 1, courses)
	assert.Nil(t, h.store.integration("T1"))

	_, err = h.svc.LastReport(context.Background(), "T1")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	_, err = h.svc.Disconnect(context.Background(), "T1")
	assert.ErrorIs(t, err, appErrors.ErrIntegrationNotFound)
}

func TestEnqueueRunsSyncInBackground(t *testing.T) {
	h := newSyncHarness(t)
	h.store.addIntegration("T1", "token-t1", "g-t1")
	h.seedAlgebra("token-t1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.svc.StartWorkers(ctx)
	defer h.svc.StopWorkers()

	require.NoError(t, h.svc.Enqueue(RunRequest{AccountID: "T1", Role: models.RoleTeacher}))

	assert.Eventually(t, func() bool {
		integration := h.store.integration("T1")
		return integration != nil && integration.SyncStatus == models.SyncStatusSynced
	}, 2*time.Second, 10*time.Millisecond)
	assert.NotNil(t, h.store.courseByExternalID("c1"))
}

func TestRetryableSyncError(t *testing.T) {
	assert.True(t, retryableSyncError(appErrors.ErrSyncInProgress))
	assert.True(t, retryableSyncError(appErrors.WrapAs(appErrors.ErrProviderUnavailable, context.DeadlineExceeded)))
	assert.False(t, retryableSyncError(appErrors.ErrAuthExpired))
	assert.False(t, retryableSyncError(appErrors.ErrOwnershipConflict))
}

// renewalLocker wraps account lock handles so tests can observe renewals or
// simulate a lock that expired underneath the run.
type renewalLocker struct {
	*lock.Memory
	extends atomic.Int32
	lost    bool
}

func (l *renewalLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (lock.Handle, error) {
	handle, err := l.Memory.TryAcquire(ctx, key, ttl)
	if err != nil || !strings.HasPrefix(key, "account:") {
		return handle, err
	}
	return &renewalHandle{Handle: handle, owner: l}, nil
}

type renewalHandle struct {
	lock.Handle
	owner *renewalLocker
}

func (h *renewalHandle) Extend(ctx context.Context, ttl time.Duration) error {
	h.owner.extends.Add(1)
	if h.owner.lost {
		return lock.ErrNotHeld
	}
	return h.Handle.Extend(ctx, ttl)
}

func TestRunSyncRenewsAccountLockDuringLongRun(t *testing.T) {
	h := newSyncHarness(t)
	locker := &renewalLocker{Memory: h.locker}
	h.svc.locker = locker
	h.svc.cfg.LockTTL = 30 * time.Millisecond
	h.store.addIntegration("T1", "token-t1", "g-t1")
	h.seedAlgebra("token-t1")
	h.provider.afterAuth = func(path string) {
		if path == "/v1/courses" {
			time.Sleep(80 * time.Millisecond)
		}
	}

	report, err := h.svc.RunSync(context.Background(), RunRequest{AccountID: "T1", Role: models.RoleTeacher})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Synced)
	assert.GreaterOrEqual(t, locker.extends.Load(), int32(1))

	// released once the run returns
	handle, err := h.locker.TryAcquire(context.Background(), "account:T1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, handle.Release(context.Background()))
}

func TestRunSyncCancelsWhenAccountLockIsLost(t *testing.T) {
	h := newSyncHarness(t)
	locker := &renewalLocker{Memory: h.locker, lost: true}
	h.svc.locker = locker
	h.svc.cfg.LockTTL = 30 * time.Millisecond
	h.store.addIntegration("T1", "token-t1", "g-t1")
	h.seedAlgebra("token-t1")
	h.provider.afterAuth = func(path string) {
		if path == "/v1/courses" {
			time.Sleep(80 * time.Millisecond)
		}
	}

	_, err := h.svc.RunSync(context.Background(), RunRequest{AccountID: "T1", Role: models.RoleTeacher})
	require.Error(t, err)
	assert.Nil(t, h.store.courseByExternalID("c1"))
	assert.Equal(t, models.SyncStatusError, h.store.integration("T1").SyncStatus)
}
