package service

import (
	"fmt"
	"time"

	"github.com/noah-isme/classroom-sync/internal/models"
)

const messageClaimedElsewhere = "This classroom is already connected to another account"

// ConflictReporter turns per-course results into the caller-facing outcome.
type ConflictReporter struct{}

// NewConflictReporter constructs a ConflictReporter.
func NewConflictReporter() ConflictReporter {
	return ConflictReporter{}
}

// Aggregate counts course results. Every result lands in exactly one of
// synced, skipped or errors.
func (ConflictReporter) Aggregate(results []models.CourseResult) models.SyncOutcome {
	outcome := models.SyncOutcome{Total: len(results)}
	for _, result := range results {
		outcome.SkippedItems += result.SkippedItems
		switch result.Action {
		case models.CourseActionCreated, models.CourseActionUpdated:
			outcome.Synced++
		case models.CourseActionConflict:
			outcome.Skipped++
			outcome.ConflictDetected = true
			outcome.Conflicts = append(outcome.Conflicts, models.CourseConflict{
				ExternalCourseID: result.ExternalCourseID,
				Name:             result.Name,
			})
		default:
			outcome.Errors++
			outcome.Failures = append(outcome.Failures, models.CourseFailure{
				ExternalCourseID: result.ExternalCourseID,
				Name:             result.Name,
				Reason:           result.Reason,
			})
		}
	}
	return outcome
}

// Classify maps an outcome to a severity and a human-readable message.
func (ConflictReporter) Classify(outcome models.SyncOutcome) (models.SyncSeverity, string) {
	switch {
	case outcome.ConflictDetected && outcome.Synced == 0:
		return models.SyncSeverityFailed, messageClaimedElsewhere
	case outcome.ConflictDetected:
		msg := fmt.Sprintf("Synced %d of %d courses; %d skipped because they are connected to another account",
			outcome.Synced, outcome.Total, outcome.Skipped)
		if outcome.Errors > 0 {
			msg += fmt.Sprintf("; %d failed", outcome.Errors)
		}
		return models.SyncSeverityPartial, msg
	case outcome.Errors > 0 && outcome.Synced > 0:
		return models.SyncSeverityPartial, fmt.Sprintf("Synced %d of %d courses; %d failed", outcome.Synced, outcome.Total, outcome.Errors)
	case outcome.Errors > 0:
		return models.SyncSeverityFailed, fmt.Sprintf("No courses synced; %d failed", outcome.Errors)
	case outcome.Total == 0:
		return models.SyncSeveritySuccess, "No classroom courses found"
	default:
		return models.SyncSeveritySuccess, fmt.Sprintf("Synced %d courses", outcome.Synced)
	}
}

// Report builds the run report.
func (r ConflictReporter) Report(accountID string, results []models.CourseResult, startedAt, finishedAt time.Time) *models.SyncReport {
	outcome := r.Aggregate(results)
	severity, message := r.Classify(outcome)
	return &models.SyncReport{
		AccountID:   accountID,
		Success:     severity != models.SyncSeverityFailed,
		Severity:    severity,
		Message:     message,
		SyncOutcome: outcome,
		Courses:     results,
		StartedAt:   startedAt,
		FinishedAt:  finishedAt,
	}
}
