package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/classroom-sync/internal/models"
	"github.com/noah-isme/classroom-sync/internal/repository"
	"github.com/noah-isme/classroom-sync/pkg/classroom"
	appErrors "github.com/noah-isme/classroom-sync/pkg/errors"
	"github.com/noah-isme/classroom-sync/pkg/jobs"
	"github.com/noah-isme/classroom-sync/pkg/lock"
)

const (
	syncJobType       = "classroom_sync"
	reportKeyPrefix   = "classroom-sync:report:"
	finalizeTimeout   = 5 * time.Second
	defaultLockTTL    = 10 * time.Minute
	defaultRetryDelay = 30 * time.Second
)

type syncStore interface {
	Integrations() repository.IntegrationStore
	Courses() repository.CourseStore
	WithinTx(ctx context.Context, fn func(repository.Tx) error) error
	Disconnect(ctx context.Context, accountID string) (models.DisconnectCounts, error)
}

type tokenSource interface {
	EnsureFresh(ctx context.Context, integration *models.Integration, now time.Time) (bool, error)
	ForceRefresh(ctx context.Context, integration *models.Integration, now time.Time) error
}

// SyncConfig tunes the orchestrator.
type SyncConfig struct {
	Workers         int
	LockTTL         time.Duration
	ReportTTL       time.Duration
	QueueWorkers    int
	QueueRetries    int
	QueueRetryDelay time.Duration
}

// RunRequest identifies the account to sync and the caller's role.
type RunRequest struct {
	AccountID string
	Role      models.UserRole
}

// SyncService drives classroom sync runs for one account at a time.
type SyncService struct {
	store      syncStore
	api        ClassroomAPI
	tokens     tokenSource
	reconciler *Reconciler
	reporter   ConflictReporter
	locker     lock.Locker
	cache      *CacheService
	metrics    *MetricsService
	queue      *jobs.Queue
	cfg        SyncConfig
	logger     *zap.Logger
	now        func() time.Time
}

// NewSyncService constructs the orchestrator and its reconciler.
func NewSyncService(store syncStore, api ClassroomAPI, tokens tokenSource, locker lock.Locker, cache *CacheService, metrics *MetricsService, cfg SyncConfig, logger *zap.Logger) *SyncService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	if cfg.QueueRetryDelay <= 0 {
		cfg.QueueRetryDelay = defaultRetryDelay
	}
	svc := &SyncService{
		store:      store,
		api:        api,
		tokens:     tokens,
		reconciler: NewReconciler(store, api, locker, cfg.LockTTL, logger),
		reporter:   NewConflictReporter(),
		locker:     locker,
		cache:      cache,
		metrics:    metrics,
		cfg:        cfg,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
	svc.queue = jobs.NewQueue(syncJobType, svc.runJob, jobs.QueueConfig{
		Workers:    cfg.QueueWorkers,
		MaxRetries: cfg.QueueRetries,
		RetryDelay: cfg.QueueRetryDelay,
		Retryable:  retryableSyncError,
		Logger:     logger,
	})
	return svc
}

// StartWorkers begins consuming queued sync jobs.
func (s *SyncService) StartWorkers(ctx context.Context) {
	s.queue.Start(ctx)
}

// StopWorkers stops the queue and waits for running jobs.
func (s *SyncService) StopWorkers() {
	s.queue.Stop()
}

// Enqueue schedules a sync run in the background. A run already queued for
// the account is not queued twice.
func (s *SyncService) Enqueue(req RunRequest) error {
	err := s.queue.Enqueue(jobs.Job{ID: req.AccountID, Type: syncJobType, Payload: req})
	if errors.Is(err, jobs.ErrDuplicate) {
		return appErrors.Clone(appErrors.ErrSyncInProgress, "a classroom sync is already queued for this account")
	}
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrServiceUnavailable.Code, appErrors.ErrServiceUnavailable.Status, "failed to queue classroom sync")
	}
	return nil
}

func (s *SyncService) runJob(ctx context.Context, job jobs.Job) error {
	req, ok := job.Payload.(RunRequest)
	if !ok {
		return fmt.Errorf("unexpected payload %T for job %s", job.Payload, job.ID)
	}
	_, err := s.RunSync(ctx, req)
	return err
}

// retryableSyncError requeues runs that lost the account lock or could not
// reach the provider.
func retryableSyncError(err error) bool {
	return errors.Is(err, appErrors.ErrSyncInProgress) || errors.Is(err, appErrors.ErrProviderUnavailable)
}

// RunSync performs one sync run for an account. Concurrent runs for the same
// account are rejected with ErrSyncInProgress. The integration always leaves
// the syncing state, even if the run panics.
func (s *SyncService) RunSync(ctx context.Context, req RunRequest) (report *models.SyncReport, err error) {
	handle, err := s.locker.TryAcquire(ctx, accountLockKey(req.AccountID), s.cfg.LockTTL)
	if errors.Is(err, lock.ErrNotAcquired) {
		return nil, appErrors.Clone(appErrors.ErrSyncInProgress, "")
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock account")
	}
	defer func() {
		if releaseErr := handle.Release(context.WithoutCancel(ctx)); releaseErr != nil {
			s.logger.Warn("release account lock", zap.String("account_id", req.AccountID), zap.Error(releaseErr))
		}
	}()

	ctx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	defer s.keepLocked(ctx, handle, req.AccountID, cancelRun)()

	integration, err := s.loadIntegration(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}
	if integration.SyncStatus == models.SyncStatusExpired {
		return nil, appErrors.Clone(appErrors.ErrAuthExpired, "")
	}

	startedAt := s.now()
	if err := s.store.Integrations().MarkSyncing(ctx, req.AccountID, startedAt); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark sync started")
	}
	s.metrics.SyncStarted()
	s.logger.Sugar().Infow("classroom sync started", "account_id", req.AccountID, "role", req.Role)

	defer func() {
		if p := recover(); p != nil {
			s.logger.Sugar().Errorw("classroom sync panicked", "account_id", req.AccountID, "panic", p)
			report = nil
			err = appErrors.Wrap(fmt.Errorf("panic: %v", p), appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "classroom sync crashed")
		}
		s.finalize(ctx, req.AccountID, startedAt, report, err)
	}()

	return s.execute(ctx, req, integration, startedAt)
}

// keepLocked renews the account lock at a third of its TTL until the returned
// stop func is called. Losing the lock cancels the run.
func (s *SyncService) keepLocked(ctx context.Context, handle lock.Handle, accountID string, cancelRun context.CancelFunc) (stop func()) {
	ctx = context.WithoutCancel(ctx)
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(s.cfg.LockTTL / 3)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
			}
			err := handle.Extend(ctx, s.cfg.LockTTL)
			if err == nil {
				continue
			}
			if errors.Is(err, lock.ErrNotHeld) {
				s.logger.Error("account lock lost, cancelling sync", zap.String("account_id", accountID))
				cancelRun()
				return
			}
			s.logger.Warn("extend account lock", zap.String("account_id", accountID), zap.Error(err))
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

func (s *SyncService) execute(ctx context.Context, req RunRequest, integration *models.Integration, startedAt time.Time) (*models.SyncReport, error) {
	if integration.ExternalUserID != nil && *integration.ExternalUserID != "" {
		claimed, err := s.store.Integrations().IdentityClaimedElsewhere(ctx, req.AccountID, integration.Provider, *integration.ExternalUserID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to verify classroom identity")
		}
		if claimed {
			return nil, appErrors.Clone(appErrors.ErrOwnershipConflict, messageClaimedElsewhere)
		}
	}

	creds := newRunCredentials(s.tokens, integration, s.now)
	token, err := creds.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	pager := s.api.ListCourses(token)
	courses, err := pager.All(ctx)
	if classroom.IsAuth(err) {
		retryToken, refreshed, refreshErr := creds.ForceRefresh(ctx)
		if refreshErr != nil {
			return nil, refreshErr
		}
		if refreshed {
			s.logger.Info("course listing rejected token, refreshed once", zap.String("account_id", req.AccountID))
			pager = s.api.ListCourses(retryToken)
			courses, err = pager.All(ctx)
		}
	}
	if err != nil {
		return nil, mapProviderError(err)
	}

	results := make([]models.CourseResult, len(courses), len(courses)+pager.Malformed())
	rreq := ReconcileRequest{AccountID: req.AccountID, Role: req.Role, Credentials: creds}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for i, course := range courses {
		g.Go(func() error {
			if gctx.Err() != nil {
				results[i] = failedResult(models.CourseResult{ExternalCourseID: course.ExternalID, Name: course.Name},
					appErrors.Clone(appErrors.ErrServiceUnavailable, "sync aborted before this course was processed"))
				return nil
			}
			result, err := s.reconciler.ReconcileCourse(gctx, rreq, course)
			results[i] = result
			s.metrics.RecordCourseAction(string(result.Action))
			if fatalCourseError(err) {
				return err
			}
			return nil
		})
	}
	fatal := g.Wait()

	for i := 0; i < pager.Malformed(); i++ {
		results = append(results, failedResult(models.CourseResult{}, appErrors.ErrMalformedPayload))
		s.metrics.RecordCourseAction(string(models.CourseActionFailed))
	}

	report := s.reporter.Report(req.AccountID, results, startedAt, s.now())
	if fatal != nil {
		report.Success = false
		report.Severity = models.SyncSeverityFailed
		report.Message = "Classroom rejected the access token during sync; run sync again"
		if errors.Is(fatal, appErrors.ErrAuthExpired) {
			report.Message = "Classroom authorization expired during sync; reconnect required"
		}
		return report, fatal
	}
	return report, nil
}

// fatalCourseError reports whether a course failure must stop the whole run.
// Token failures apply to every remaining course.
func fatalCourseError(err error) bool {
	return errors.Is(err, appErrors.ErrProviderAuth) || errors.Is(err, appErrors.ErrAuthExpired)
}

// finalize writes the terminal status. It runs on a context detached from
// cancellation so an aborted request still leaves the syncing state.
func (s *SyncService) finalize(ctx context.Context, accountID string, startedAt time.Time, report *models.SyncReport, runErr error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	finishedAt := s.now()
	status := models.SyncStatusSynced
	severity := "aborted"
	var (
		lastSyncAt *time.Time
		lastError  *string
	)

	switch {
	case errors.Is(runErr, appErrors.ErrAuthExpired):
		status = models.SyncStatusExpired
		msg := appErrors.FromError(runErr).Message
		lastError = &msg
	case runErr != nil:
		status = models.SyncStatusError
		msg := appErrors.FromError(runErr).Message
		lastError = &msg
	case report.Severity == models.SyncSeverityFailed:
		status = models.SyncStatusError
		lastError = &report.Message
	default:
		lastSyncAt = &finishedAt
		if report.Severity == models.SyncSeverityPartial {
			lastError = &report.Message
		}
	}
	if report != nil {
		severity = string(report.Severity)
	}

	if err := s.store.Integrations().FinishSync(ctx, accountID, status, lastSyncAt, lastError); err != nil {
		s.logger.Error("failed to record sync status", zap.String("account_id", accountID), zap.String("status", string(status)), zap.Error(err))
	}
	if report != nil {
		if err := s.cache.Set(ctx, reportKey(accountID), report, s.cfg.ReportTTL); err != nil {
			s.logger.Warn("failed to cache sync report", zap.String("account_id", accountID), zap.Error(err))
		}
	}
	s.metrics.SyncFinished(severity, finishedAt.Sub(startedAt))

	fields := []zap.Field{
		zap.String("account_id", accountID),
		zap.String("status", string(status)),
		zap.String("severity", severity),
		zap.Duration("elapsed", finishedAt.Sub(startedAt)),
	}
	if report != nil {
		fields = append(fields, zap.Int("synced", report.Synced), zap.Int("skipped", report.Skipped),
			zap.Int("errors", report.Errors), zap.Int("total", report.Total))
	}
	if runErr != nil {
		s.logger.Warn("classroom sync finished with error", append(fields, zap.Error(runErr))...)
		return
	}
	s.logger.Info("classroom sync finished", fields...)
}

// LastReport returns the most recent cached report for the account.
func (s *SyncService) LastReport(ctx context.Context, accountID string) (*models.SyncReport, error) {
	var report models.SyncReport
	hit, err := s.cache.Get(ctx, reportKey(accountID), &report)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load sync report")
	}
	if !hit {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "no sync report available")
	}
	return &report, nil
}

// Status returns the integration summary for the account.
func (s *SyncService) Status(ctx context.Context, accountID string) (*models.Integration, error) {
	return s.loadIntegration(ctx, accountID)
}

// Disconnect removes the integration and every synced row for the account.
func (s *SyncService) Disconnect(ctx context.Context, accountID string) (*models.DisconnectCounts, error) {
	handle, err := s.locker.TryAcquire(ctx, accountLockKey(accountID), s.cfg.LockTTL)
	if errors.Is(err, lock.ErrNotAcquired) {
		return nil, appErrors.Clone(appErrors.ErrSyncInProgress, "cannot disconnect while a classroom sync is running")
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock account")
	}
	defer func() {
		if releaseErr := handle.Release(context.WithoutCancel(ctx)); releaseErr != nil {
			s.logger.Warn("release account lock", zap.String("account_id", accountID), zap.Error(releaseErr))
		}
	}()

	counts, err := s.store.Disconnect(ctx, accountID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to disconnect classroom")
	}
	if !counts.Integration && counts.Courses == 0 {
		return nil, appErrors.Clone(appErrors.ErrIntegrationNotFound, "")
	}
	_ = s.cache.Invalidate(ctx, reportKey(accountID))

	s.logger.Info("classroom disconnected",
		zap.String("account_id", accountID),
		zap.Int64("courses", counts.Courses),
		zap.Int64("enrollments", counts.Enrollments),
		zap.Int64("assignments", counts.Assignments))
	return &counts, nil
}

func (s *SyncService) loadIntegration(ctx context.Context, accountID string) (*models.Integration, error) {
	integration, err := s.store.Integrations().FindByAccountID(ctx, accountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrIntegrationNotFound, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load integration")
	}
	return integration, nil
}

func accountLockKey(accountID string) string {
	return "account:" + accountID
}

func reportKey(accountID string) string {
	return reportKeyPrefix + accountID
}
