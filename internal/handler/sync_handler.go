package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/classroom-sync/internal/dto"
	"github.com/noah-isme/classroom-sync/internal/models"
	"github.com/noah-isme/classroom-sync/internal/service"
	appErrors "github.com/noah-isme/classroom-sync/pkg/errors"
	"github.com/noah-isme/classroom-sync/pkg/export"
	"github.com/noah-isme/classroom-sync/pkg/response"
)

// SyncRunner defines the sync operations used by the handler.
type SyncRunner interface {
	RunSync(ctx context.Context, req service.RunRequest) (*models.SyncReport, error)
	Enqueue(req service.RunRequest) error
	LastReport(ctx context.Context, accountID string) (*models.SyncReport, error)
	Status(ctx context.Context, accountID string) (*models.Integration, error)
	Disconnect(ctx context.Context, accountID string) (*models.DisconnectCounts, error)
}

// SyncHandler exposes classroom integration endpoints.
type SyncHandler struct {
	service SyncRunner
}

// NewSyncHandler constructs a SyncHandler.
func NewSyncHandler(svc SyncRunner) *SyncHandler {
	return &SyncHandler{service: svc}
}

// Sync godoc
// @Summary Synchronize classroom courses
// @Description Imports the caller's classroom courses, rosters and coursework. A partial run answers 200 with meta.warning.
// @Description Runs as a plain owner whatever the caller's role; ownership override is only granted on the admin route.
// @Tags Classroom
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /integrations/classroom/sync [post]
func (h *SyncHandler) Sync(c *gin.Context) {
	claims := currentClaims(c)
	if claims == nil {
		return
	}
	h.run(c, ownerRun(claims.UserID))
}

// SyncAsync godoc
// @Summary Queue a classroom sync
// @Tags Classroom
// @Produce json
// @Security BearerAuth
// @Success 202 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /integrations/classroom/sync/async [post]
func (h *SyncHandler) SyncAsync(c *gin.Context) {
	claims := currentClaims(c)
	if claims == nil {
		return
	}
	if err := h.service.Enqueue(ownerRun(claims.UserID)); err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, dto.SyncQueuedResponse{AccountID: claims.UserID, Status: "queued"})
}

// ownerRun syncs an account as its own teacher, without ownership override.
func ownerRun(accountID string) service.RunRequest {
	return service.RunRequest{AccountID: accountID, Role: models.RoleTeacher}
}

// AdminSync godoc
// @Summary Synchronize classroom courses for another account
// @Description Runs with the caller's role, so ADMIN and SUPERADMIN override course ownership; existing course owners are never reassigned.
// @Tags Classroom
// @Produce json
// @Security BearerAuth
// @Param id path string true "Account ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /admin/accounts/{id}/classroom/sync [post]
func (h *SyncHandler) AdminSync(c *gin.Context) {
	claims := currentClaims(c)
	if claims == nil {
		return
	}
	accountID := c.Param("id")
	if accountID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "account id required"))
		return
	}
	h.run(c, service.RunRequest{AccountID: accountID, Role: claims.Role})
}

// Status godoc
// @Summary Classroom connection status
// @Tags Classroom
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /integrations/classroom/status [get]
func (h *SyncHandler) Status(c *gin.Context) {
	claims := currentClaims(c)
	if claims == nil {
		return
	}
	integration, err := h.service.Status(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.NewIntegrationStatusResponse(integration))
}

// LastReport godoc
// @Summary Last classroom sync report
// @Tags Classroom
// @Produce json,text/csv
// @Security BearerAuth
// @Param format query string false "json (default) or csv"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /integrations/classroom/sync/last [get]
func (h *SyncHandler) LastReport(c *gin.Context) {
	claims := currentClaims(c)
	if claims == nil {
		return
	}
	report, err := h.service.LastReport(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if c.Query("format") == "csv" {
		c.Header("Content-Type", "text/csv; charset=utf-8")
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=classroom-sync-%s.csv", report.FinishedAt.Format("20060102T150405Z")))
		c.Status(http.StatusOK)
		if err := export.WriteCSV(c.Writer, reportTable(report)); err != nil {
			_ = c.Error(err)
		}
		return
	}
	response.JSON(c, http.StatusOK, report)
}

// Disconnect godoc
// @Summary Disconnect classroom
// @Description Removes the integration together with synced courses, enrollments and assignments.
// @Tags Classroom
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /integrations/classroom [delete]
func (h *SyncHandler) Disconnect(c *gin.Context) {
	claims := currentClaims(c)
	if claims == nil {
		return
	}
	counts, err := h.service.Disconnect(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.DisconnectResponse{
		Courses:     counts.Courses,
		Enrollments: counts.Enrollments,
		Assignments: counts.Assignments,
	})
}

func (h *SyncHandler) run(c *gin.Context, req service.RunRequest) {
	report, err := h.service.RunSync(c.Request.Context(), req)
	switch {
	case err != nil && report != nil:
		response.Failure(c, err, report)
	case err != nil:
		response.Error(c, err)
	case report.Severity == models.SyncSeverityFailed:
		response.Failure(c, failedRunError(report), report)
	case report.Severity == models.SyncSeverityPartial:
		response.JSON(c, http.StatusOK, report, map[string]interface{}{"warning": report.Message})
	default:
		response.JSON(c, http.StatusOK, report)
	}
}

func reportTable(report *models.SyncReport) export.Table {
	table := export.Table{Columns: []string{
		"external_course_id", "course_id", "name", "action",
		"students_created", "enrollments", "assignments", "skipped_items", "reason",
	}}
	for _, course := range report.Courses {
		table.Rows = append(table.Rows, []string{
			course.ExternalCourseID,
			course.CourseID,
			course.Name,
			string(course.Action),
			strconv.Itoa(course.StudentsCreated),
			strconv.Itoa(course.Enrollments),
			strconv.Itoa(course.Assignments),
			strconv.Itoa(course.SkippedItems),
			course.Reason,
		})
	}
	return table
}

func failedRunError(report *models.SyncReport) error {
	if report.ConflictDetected {
		return appErrors.Clone(appErrors.ErrOwnershipConflict, report.Message)
	}
	return appErrors.Clone(appErrors.ErrProviderUnavailable, report.Message)
}
