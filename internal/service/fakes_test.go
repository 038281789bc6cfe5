package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/classroom-sync/internal/models"
	"github.com/noah-isme/classroom-sync/internal/repository"
	"github.com/noah-isme/classroom-sync/pkg/classroom"
	appErrors "github.com/noah-isme/classroom-sync/pkg/errors"
	"github.com/noah-isme/classroom-sync/pkg/lock"
)

// fakeStore keeps rows in maps and enforces the same unique keys as the
// migration: courses by external id, profiles by external student id,
// enrollments by (course, student) and assignments by coursework id.
type fakeStore struct {
	mu   sync.Mutex
	txMu sync.Mutex

	integrations  map[string]*models.Integration
	courses       map[string]*models.Course
	students      map[string]*models.StudentProfile
	enrollments   map[string]*models.Enrollment
	assignments   map[string]*models.Assignment
	courseUpdates int
	statusLog     map[string][]models.SyncStatus
}

type fakeSnapshot struct {
	courses     map[string]*models.Course
	students    map[string]*models.StudentProfile
	enrollments map[string]*models.Enrollment
	assignments map[string]*models.Assignment
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		integrations: make(map[string]*models.Integration),
		courses:      make(map[string]*models.Course),
		students:     make(map[string]*models.StudentProfile),
		enrollments:  make(map[string]*models.Enrollment),
		assignments:  make(map[string]*models.Assignment),
		statusLog:    make(map[string][]models.SyncStatus),
	}
}

func (s *fakeStore) Integrations() repository.IntegrationStore { return fakeIntegrations{s} }
func (s *fakeStore) Courses() repository.CourseStore           { return fakeCourses{s} }

func (s *fakeStore) WithinTx(ctx context.Context, fn func(repository.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	snap := s.snapshot()
	if err := fn(fakeTx{s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

func (s *fakeStore) Disconnect(ctx context.Context, accountID string) (models.DisconnectCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var counts models.DisconnectCounts
	for id, course := range s.courses {
		if course.TeacherID != accountID || course.GoogleClassroomCourseID == nil {
			continue
		}
		for key, enrollment := range s.enrollments {
			if enrollment.CourseID == id {
				delete(s.enrollments, key)
				counts.Enrollments++
			}
		}
		for aid, assignment := range s.assignments {
			if assignment.CourseID == id {
				delete(s.assignments, aid)
				counts.Assignments++
			}
		}
		delete(s.courses, id)
		counts.Courses++
	}
	if _, ok := s.integrations[accountID]; ok {
		delete(s.integrations, accountID)
		counts.Integration = true
	}
	return counts, nil
}

func (s *fakeStore) snapshot() fakeSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := fakeSnapshot{
		courses:     make(map[string]*models.Course, len(s.courses)),
		students:    make(map[string]*models.StudentProfile, len(s.students)),
		enrollments: make(map[string]*models.Enrollment, len(s.enrollments)),
		assignments: make(map[string]*models.Assignment, len(s.assignments)),
	}
	for k, v := range s.courses {
		snap.courses[k] = v
	}
	for k, v := range s.students {
		snap.students[k] = v
	}
	for k, v := range s.enrollments {
		snap.enrollments[k] = v
	}
	for k, v := range s.assignments {
		snap.assignments[k] = v
	}
	return snap
}

func (s *fakeStore) restore(snap fakeSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.courses = snap.courses
	s.students = snap.students
	s.enrollments = snap.enrollments
	s.assignments = snap.assignments
}

func (s *fakeStore) addIntegration(accountID, accessToken, externalUserID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	expires := time.Now().UTC().Add(time.Hour)
	integration := &models.Integration{
		ID:             uuid.NewString(),
		AccountID:      accountID,
		Provider:       models.ProviderGoogleClassroom,
		AccessToken:    accessToken,
		RefreshToken:   "refresh-" + accountID,
		TokenExpiresAt: &expires,
		SyncStatus:     models.SyncStatusPending,
	}
	if externalUserID != "" {
		integration.ExternalUserID = &externalUserID
	}
	s.integrations[accountID] = integration
}

func (s *fakeStore) integration(accountID string) *models.Integration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if integration, ok := s.integrations[accountID]; ok {
		clone := *integration
		return &clone
	}
	return nil
}

func (s *fakeStore) setIntegration(accountID string, mutate func(*models.Integration)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *s.integrations[accountID]
	mutate(&clone)
	s.integrations[accountID] = &clone
}

func (s *fakeStore) courseByExternalID(externalID string) *models.Course {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, course := range s.courses {
		if course.GoogleClassroomCourseID != nil && *course.GoogleClassroomCourseID == externalID {
			clone := *course
			return &clone
		}
	}
	return nil
}

func (s *fakeStore) putCourse(course models.Course) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.courses[course.ID] = &course
}

func (s *fakeStore) counts() (courses, students, enrollments, assignments int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.courses), len(s.students), len(s.enrollments), len(s.assignments)
}

func (s *fakeStore) assignmentsFor(courseID string) []models.Assignment {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Assignment
	for _, assignment := range s.assignments {
		if assignment.CourseID == courseID {
			out = append(out, *assignment)
		}
	}
	return out
}

func (s *fakeStore) enrollmentsFor(courseID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, enrollment := range s.enrollments {
		if enrollment.CourseID == courseID {
			n++
		}
	}
	return n
}

type fakeTx struct{ s *fakeStore }

func (t fakeTx) Courses() repository.CourseStore         { return fakeCourses{t.s} }
func (t fakeTx) Students() repository.StudentStore       { return fakeStudents{t.s} }
func (t fakeTx) Enrollments() repository.EnrollmentStore { return fakeEnrollments{t.s} }
func (t fakeTx) Assignments() repository.AssignmentStore { return fakeAssignments{t.s} }

type fakeIntegrations struct{ s *fakeStore }

func (f fakeIntegrations) FindByAccountID(ctx context.Context, accountID string) (*models.Integration, error) {
	if integration := f.s.integration(accountID); integration != nil {
		return integration, nil
	}
	return nil, fmt.Errorf("find integration: %w", sql.ErrNoRows)
}

func (f fakeIntegrations) UpdateTokens(ctx context.Context, accountID string, update models.TokenUpdate) error {
	f.s.setIntegration(accountID, func(i *models.Integration) {
		i.AccessToken = update.AccessToken
		if update.RefreshToken != "" {
			i.RefreshToken = update.RefreshToken
		}
		expires := update.ExpiresAt
		i.TokenExpiresAt = &expires
	})
	return nil
}

func (f fakeIntegrations) MarkSyncing(ctx context.Context, accountID string, at time.Time) error {
	f.s.setIntegration(accountID, func(i *models.Integration) {
		i.SyncStatus = models.SyncStatusSyncing
		i.LastError = nil
	})
	f.s.mu.Lock()
	f.s.statusLog[accountID] = append(f.s.statusLog[accountID], models.SyncStatusSyncing)
	f.s.mu.Unlock()
	return nil
}

func (f fakeIntegrations) FinishSync(ctx context.Context, accountID string, status models.SyncStatus, lastSyncAt *time.Time, lastError *string) error {
	f.s.setIntegration(accountID, func(i *models.Integration) {
		i.SyncStatus = status
		if lastSyncAt != nil {
			stamp := *lastSyncAt
			i.LastSyncAt = &stamp
		}
		i.LastError = lastError
	})
	f.s.mu.Lock()
	f.s.statusLog[accountID] = append(f.s.statusLog[accountID], status)
	f.s.mu.Unlock()
	return nil
}

func (f fakeIntegrations) IdentityClaimedElsewhere(ctx context.Context, accountID, provider, externalUserID string) (bool, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, integration := range f.s.integrations {
		if integration.AccountID == accountID || integration.Provider != provider || integration.ExternalUserID == nil {
			continue
		}
		if *integration.ExternalUserID == externalUserID && integration.SyncStatus != models.SyncStatusExpired {
			return true, nil
		}
	}
	return false, nil
}

type fakeCourses struct{ s *fakeStore }

func (f fakeCourses) FindByExternalID(ctx context.Context, externalID string) (*models.Course, error) {
	if course := f.s.courseByExternalID(externalID); course != nil {
		return course, nil
	}
	return nil, fmt.Errorf("find course by external id: %w", sql.ErrNoRows)
}

func (f fakeCourses) Claim(ctx context.Context, course *models.Course) (bool, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, existing := range f.s.courses {
		if existing.GoogleClassroomCourseID != nil && course.GoogleClassroomCourseID != nil &&
			*existing.GoogleClassroomCourseID == *course.GoogleClassroomCourseID {
			return false, nil
		}
	}
	clone := *course
	f.s.courses[course.ID] = &clone
	return true, nil
}

func (f fakeCourses) Update(ctx context.Context, course *models.Course, requireOwner bool) (bool, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	existing, ok := f.s.courses[course.ID]
	if !ok || (requireOwner && existing.TeacherID != course.TeacherID) {
		return false, nil
	}
	clone := *existing
	clone.Name = course.Name
	clone.Description = course.Description
	clone.Subject = course.Subject
	clone.Section = course.Section
	clone.Room = course.Room
	clone.EnrollmentCode = course.EnrollmentCode
	clone.IsActive = course.IsActive
	clone.SyncStatus = course.SyncStatus
	clone.LastSyncAt = course.LastSyncAt
	clone.UpdatedAt = course.UpdatedAt
	f.s.courses[course.ID] = &clone
	f.s.courseUpdates++
	return true, nil
}

func (f fakeCourses) RefreshEnrollmentCount(ctx context.Context, courseID string, at time.Time) (int, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	count := 0
	for _, enrollment := range f.s.enrollments {
		if enrollment.CourseID == courseID {
			count++
		}
	}
	clone := *f.s.courses[courseID]
	clone.EnrollmentCount = count
	f.s.courses[courseID] = &clone
	return count, nil
}

type fakeStudents struct{ s *fakeStore }

func (f fakeStudents) FindByExternalID(ctx context.Context, externalID string) (*models.StudentProfile, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, profile := range f.s.students {
		if profile.ExternalStudentID == externalID {
			clone := *profile
			return &clone, nil
		}
	}
	return nil, fmt.Errorf("find student profile: %w", sql.ErrNoRows)
}

func (f fakeStudents) FindOrCreate(ctx context.Context, profile *models.StudentProfile) (bool, error) {
	if existing, err := f.FindByExternalID(ctx, profile.ExternalStudentID); err == nil {
		*profile = *existing
		return false, nil
	}
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	profile.ID = uuid.NewString()
	clone := *profile
	f.s.students[profile.ID] = &clone
	return true, nil
}

type fakeEnrollments struct{ s *fakeStore }

func (f fakeEnrollments) Upsert(ctx context.Context, enrollment *models.Enrollment) (repository.UpsertResult, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	key := enrollment.CourseID + "|" + enrollment.StudentID
	if _, ok := f.s.enrollments[key]; ok {
		return repository.UpsertSkipped, nil
	}
	clone := *enrollment
	clone.ID = uuid.NewString()
	f.s.enrollments[key] = &clone
	return repository.UpsertCreated, nil
}

type fakeAssignments struct{ s *fakeStore }

func (f fakeAssignments) Upsert(ctx context.Context, assignment *models.Assignment) (repository.UpsertResult, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for id, existing := range f.s.assignments {
		if *existing.GoogleClassroomCourseworkID != *assignment.GoogleClassroomCourseworkID {
			continue
		}
		if existing.CourseID != assignment.CourseID {
			return repository.UpsertSkipped, nil
		}
		clone := *existing
		clone.Title = assignment.Title
		clone.Description = assignment.Description
		clone.MaxPoints = assignment.MaxPoints
		clone.DueDate = assignment.DueDate
		clone.SyncStatus = assignment.SyncStatus
		clone.LastSyncAt = assignment.LastSyncAt
		clone.UpdatedAt = assignment.UpdatedAt
		f.s.assignments[id] = &clone
		assignment.ID = id
		return repository.UpsertUpdated, nil
	}
	assignment.ID = uuid.NewString()
	clone := *assignment
	f.s.assignments[assignment.ID] = &clone
	return repository.UpsertCreated, nil
}

// fakeProvider serves the classroom REST endpoints from in-memory payloads.
// Each accepted bearer token sees its own course list.
type fakeProvider struct {
	mu         sync.Mutex
	courses    map[string][]map[string]any
	students   map[string][]map[string]any
	coursework map[string][]map[string]any
	failures   map[string]int
	calls      map[string]int
	// afterAuth runs with mu held once a request's token has been accepted.
	afterAuth func(path string)
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		courses:    make(map[string][]map[string]any),
		students:   make(map[string][]map[string]any),
		coursework: make(map[string][]map[string]any),
		failures:   make(map[string]int),
		calls:      make(map[string]int),
	}
}

func (p *fakeProvider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[r.URL.Path]++

	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	listed, ok := p.courses[token]
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if p.afterAuth != nil {
		p.afterAuth(r.URL.Path)
	}
	if status, failing := p.failures[r.URL.Path]; failing {
		w.WriteHeader(status)
		return
	}

	var payload map[string]any
	rest := strings.TrimPrefix(r.URL.Path, "/v1/courses")
	switch {
	case rest == "":
		payload = map[string]any{"courses": listed}
	case strings.HasSuffix(rest, "/students"):
		payload = map[string]any{"students": p.students[strings.TrimSuffix(strings.TrimPrefix(rest, "/"), "/students")]}
	case strings.HasSuffix(rest, "/courseWork"):
		payload = map[string]any{"courseWork": p.coursework[strings.TrimSuffix(strings.TrimPrefix(rest, "/"), "/courseWork")]}
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func (p *fakeProvider) callCount(path string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[path]
}

func (p *fakeProvider) setCourses(token string, courses ...map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.courses[token] = courses
}

func course(id, name string) map[string]any {
	return map[string]any{"id": id, "name": name, "courseState": "ACTIVE", "descriptionHeading": name + " heading"}
}

func student(id, given, family string) map[string]any {
	return map[string]any{
		"userId": id,
		"profile": map[string]any{
			"id":           id,
			"name":         map[string]any{"givenName": given, "familyName": family},
			"emailAddress": strings.ToLower(given) + "@example.com",
		},
	}
}

// fakeClock is a settable clock shared by the service and the test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// fakeTokenServer answers refresh-token grants.
type fakeTokenServer struct {
	mu     sync.Mutex
	calls  int
	status int
	body   string
}

func (t *fakeTokenServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls++
	w.Header().Set("Content-Type", "application/json")
	if t.status != 0 {
		w.WriteHeader(t.status)
	}
	_, _ = w.Write([]byte(t.body))
}

func (t *fakeTokenServer) callCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

type memoryCache struct {
	mu    sync.Mutex
	items map[string][]byte
}

func newMemoryCache() *memoryCache {
	return &memoryCache{items: make(map[string][]byte)}
}

func (m *memoryCache) Get(ctx context.Context, key string, dest interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.items[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *memoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = raw
	return nil
}

func (m *memoryCache) Delete(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.items, key)
	}
	return nil
}

type syncHarness struct {
	store    *fakeStore
	provider *fakeProvider
	tokens   *fakeTokenServer
	locker   *lock.Memory
	svc      *SyncService
}

func newSyncHarness(t *testing.T) *syncHarness {
	t.Helper()
	h := &syncHarness{
		store:    newFakeStore(),
		provider: newFakeProvider(),
		tokens:   &fakeTokenServer{body: `{"access_token":"fresh","token_type":"Bearer","expires_in":3600}`},
		locker:   lock.NewMemory(),
	}
	providerSrv := httptest.NewServer(h.provider)
	t.Cleanup(providerSrv.Close)
	tokenSrv := httptest.NewServer(h.tokens)
	t.Cleanup(tokenSrv.Close)

	client := classroom.NewClient(classroom.Config{
		BaseURL:       providerSrv.URL,
		MaxRetries:    1,
		RetryInterval: time.Millisecond,
	}, providerSrv.Client(), nil)
	refresher := NewTokenRefresher(TokenRefresherConfig{
		ClientID:     "client",
		ClientSecret: "secret",
		TokenURL:     tokenSrv.URL,
	}, h.store.Integrations(), tokenSrv.Client(), nil, nil)
	cache := NewCacheService(newMemoryCache(), nil, time.Hour, nil, true)

	h.svc = NewSyncService(h.store, client, refresher, h.locker, cache, nil, SyncConfig{
		Workers:         4,
		LockTTL:         time.Minute,
		ReportTTL:       time.Hour,
		QueueWorkers:    1,
		QueueRetries:    2,
		QueueRetryDelay: 10 * time.Millisecond,
	}, nil)
	return h
}

// seedAlgebra installs the c1 scenario: two students, one coursework item.
func (h *syncHarness) seedAlgebra(token string) {
	h.provider.setCourses(token, course("c1", "Algebra I"))
	h.provider.mu.Lock()
	defer h.provider.mu.Unlock()
	h.provider.students["c1"] = []map[string]any{student("s1", "Ada", "Lovelace"), student("s2", "Alan", "Turing")}
	h.provider.coursework["c1"] = []map[string]any{{
		"id":        "w1",
		"title":     "HW1",
		"maxPoints": 50,
		"dueDate":   map[string]any{"year": 2025, "month": 5, "day": 1},
	}}
}
