package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mikestefanello/backlite"

	"github.com/mrlokans/bookshop/internal/apperrors"
	dbaudit "github.com/mrlokans/bookshop/internal/database/audit"
	"github.com/mrlokans/bookshop/internal/entities"
)

// AuditReader lists audit events.
type AuditReader interface {
	GetEvents(q dbaudit.Query) ([]entities.AuditEvent, int64, error)
}

// TaskStatusReader reports background task progress.
type TaskStatusReader interface {
	Status(ctx context.Context, taskID string) (backlite.TaskStatus, error)
}

// AdminController exposes operational endpoints to superadmins.
type AdminController struct {
	audit AuditReader
	jobs  JobRunner
	tasks TaskStatusReader
}

func NewAdminController(audit AuditReader, jobs JobRunner, tasks TaskStatusReader) *AdminController {
	return &AdminController{audit: audit, jobs: jobs, tasks: tasks}
}

// ListAudit handles GET /api/admin/audit.
// Filters: type, entity_type, entity_id, user_id, limit, offset.
func (ac *AdminController) ListAudit(c *gin.Context) {
	if ac.audit == nil {
		respondErr(c, apperrors.ErrNotFound)
		return
	}
	limit, offset := parsePage(c)
	q := dbaudit.Query{
		EventType:  entities.AuditEventType(c.Query("type")),
		EntityType: c.Query("entity_type"),
		Limit:      limit,
		Offset:     offset,
	}
	if raw := c.Query("entity_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			respondErr(c, apperrors.Invalid("entity_id", "must be an integer"))
			return
		}
		q.EntityID = uint(id)
	}
	if raw := c.Query("user_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			respondErr(c, apperrors.Invalid("user_id", "must be an integer"))
			return
		}
		q.UserID = uint(id)
	}

	events, total, err := ac.audit.GetEvents(q)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, paginated(events, total, limit, offset, len(events)))
}

// RunJob handles POST /api/admin/jobs/:name/run, e.g. payment_sweep.
func (ac *AdminController) RunJob(c *gin.Context) {
	if ac.jobs == nil {
		respondErr(c, apperrors.ErrNotFound)
		return
	}
	name := c.Param("name")
	if err := ac.jobs.RunNow(name); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job": name, "message": "job started"})
}

// TaskStatus handles GET /api/admin/tasks/:id.
func (ac *AdminController) TaskStatus(c *gin.Context) {
	if ac.tasks == nil {
		respondErr(c, apperrors.ErrNotFound)
		return
	}
	taskID := c.Param("id")

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status, err := ac.tasks.Status(ctx, taskID)
	if err != nil {
		respondErr(c, err)
		return
	}
	if status == backlite.TaskStatusNotFound {
		respondErr(c, apperrors.ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": taskID, "status": taskStatusToString(status)})
}

func taskStatusToString(status backlite.TaskStatus) string {
	switch status {
	case backlite.TaskStatusPending:
		return "pending"
	case backlite.TaskStatusRunning:
		return "running"
	case backlite.TaskStatusSuccess:
		return "success"
	case backlite.TaskStatusFailure:
		return "failure"
	case backlite.TaskStatusNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}
