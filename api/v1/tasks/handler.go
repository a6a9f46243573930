package tasks

import (
	"errors"
	"strconv"

	"fleetd/internal/httpx"
	"fleetd/internal/model"
	"fleetd/internal/service"
	"fleetd/internal/storage"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ListRequest represents list tasks request
type ListRequest struct {
	Page     int    `form:"page"`
	PageSize int    `form:"pageSize"`
	Status   string `form:"status"`
	Type     string `form:"type"`
	DeviceID int    `form:"deviceId"`
}

// CreateRequest represents create task request
type CreateRequest struct {
	Name     string         `json:"name"`
	Type     string         `json:"type" binding:"required"`
	Priority string         `json:"priority"`
	Config   datatypes.JSON `json:"config"`
	DeviceID *int           `json:"deviceId"`
	ProxyID  *int           `json:"proxyId"`
}

// IDRequest carries a single task id in a command body
type IDRequest struct {
	ID int `json:"id" binding:"required"`
}

// BatchCancelRequest represents cancel tasks request
type BatchCancelRequest struct {
	IDs []int `json:"ids" binding:"required,min=1"`
}

// Handler handles tasks API
type Handler struct {
	db    *gorm.DB
	svc   *service.TaskService
	store *storage.ArtifactStore
}

// NewHandler creates a new tasks handler
func NewHandler(db *gorm.DB, svc *service.TaskService, store *storage.ArtifactStore) *Handler {
	return &Handler{
		db:    db,
		svc:   svc,
		store: store,
	}
}

// List handles GET /api/v1/tasks
func (h *Handler) List(c *gin.Context) {
	var req ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid(err.Error()))
		return
	}

	if req.Page < 1 {
		req.Page = 1
	}
	if req.PageSize < 1 {
		req.PageSize = 15
	}

	query := h.db.Model(&model.Task{})
	if req.Status != "" {
		query = query.Where("status = ?", req.Status)
	}
	if req.Type != "" {
		query = query.Where("type = ?", req.Type)
	}
	if req.DeviceID > 0 {
		query = query.Where("device_id = ?", req.DeviceID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to count tasks", err))
		return
	}

	var tasks []model.Task
	offset := (req.Page - 1) * req.PageSize
	if err := query.
		Offset(offset).
		Limit(req.PageSize).
		Order("id DESC").
		Find(&tasks).Error; err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to fetch tasks", err))
		return
	}

	httpx.OKItems(c, tasks, total, req.Page, req.PageSize)
}

// Get handles GET /api/v1/tasks/get
func (h *Handler) Get(c *gin.Context) {
	id, ok := intQuery(c, "id")
	if !ok {
		return
	}

	var task model.Task
	if err := h.db.First(&task, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			httpx.FailErr(c, httpx.ErrNotFound("task not found"))
			return
		}
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to fetch task", err))
		return
	}

	httpx.OK(c, task)
}

// Create handles POST /api/v1/tasks/create
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid("invalid request body"))
		return
	}

	if !model.ValidTaskType(req.Type) {
		httpx.FailErr(c, httpx.ErrParamInvalid("unknown task type: "+req.Type))
		return
	}
	if req.Priority != "" && !model.ValidTaskPriority(req.Priority) {
		httpx.FailErr(c, httpx.ErrParamInvalid("unknown priority: "+req.Priority))
		return
	}
	if req.DeviceID != nil {
		var device model.Device
		if err := h.db.First(&device, *req.DeviceID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				httpx.FailErr(c, httpx.ErrNotFound("target device not found"))
				return
			}
			httpx.FailErr(c, httpx.ErrDatabaseError("failed to fetch device", err))
			return
		}
	}

	task, err := h.svc.Create(c.Request.Context(), service.CreateInput{
		UserID:   c.GetInt("uid"),
		Name:     req.Name,
		Type:     req.Type,
		Priority: req.Priority,
		Config:   req.Config,
		DeviceID: req.DeviceID,
		ProxyID:  req.ProxyID,
	})
	if err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to create task", err))
		return
	}

	httpx.OK(c, task)
}

// Retry handles POST /api/v1/tasks/retry
func (h *Handler) Retry(c *gin.Context) {
	var req IDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid("invalid request body"))
		return
	}

	task, err := h.svc.Retry(c.Request.Context(), req.ID)
	if err != nil {
		failTransition(c, err, "only failed or cancelled tasks can be retried")
		return
	}

	httpx.OK(c, task)
}

// Cancel handles POST /api/v1/tasks/cancel
func (h *Handler) Cancel(c *gin.Context) {
	var req IDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid("invalid request body"))
		return
	}

	task, err := h.svc.Cancel(c.Request.Context(), req.ID)
	if err != nil {
		failTransition(c, err, "task already reached a terminal state")
		return
	}

	httpx.OK(c, task)
}

// CancelBatch handles POST /api/v1/tasks/cancel-batch
func (h *Handler) CancelBatch(c *gin.Context) {
	var req BatchCancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid("invalid request body"))
		return
	}

	cancelled, err := h.svc.CancelMany(c.Request.Context(), req.IDs)
	if err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to cancel tasks", err))
		return
	}

	httpx.OK(c, gin.H{"cancelled": cancelled})
}

// Delete handles POST /api/v1/tasks/delete
func (h *Handler) Delete(c *gin.Context) {
	var req IDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid("invalid request body"))
		return
	}

	if err := h.svc.Delete(c.Request.Context(), req.ID); err != nil {
		if errors.Is(err, service.ErrTaskNotFound) {
			httpx.FailErr(c, httpx.ErrNotFound("task not found"))
			return
		}
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to delete task", err))
		return
	}

	httpx.OK(c, gin.H{"id": req.ID})
}

// ListDomains handles GET /api/v1/tasks/domains
func (h *Handler) ListDomains(c *gin.Context) {
	taskID, ok := intQuery(c, "taskId")
	if !ok {
		return
	}

	var domains []model.ExtractedDomain
	if err := h.db.
		Where("task_id = ?", taskID).
		Order("id ASC").
		Find(&domains).Error; err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to fetch domains", err))
		return
	}

	httpx.OK(c, gin.H{"items": domains, "total": len(domains)})
}

// ArtifactURL handles GET /api/v1/tasks/artifact-url. It returns a
// short-lived presigned download URL for a captured artifact.
func (h *Handler) ArtifactURL(c *gin.Context) {
	domainID, ok := intQuery(c, "domainId")
	if !ok {
		return
	}

	var domain model.ExtractedDomain
	if err := h.db.First(&domain, domainID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			httpx.FailErr(c, httpx.ErrNotFound("domain record not found"))
			return
		}
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to fetch domain record", err))
		return
	}
	if domain.ArtifactPath == "" {
		httpx.FailErr(c, httpx.ErrNotFound("no artifact captured for this domain"))
		return
	}

	url, err := h.store.PresignGet(c.Request.Context(), domain.ArtifactPath)
	if err != nil {
		httpx.FailErr(c, httpx.ErrExternalError("failed to presign artifact URL", err))
		return
	}

	httpx.OK(c, gin.H{"url": url})
}

// failTransition maps task lifecycle errors onto the response envelope.
func failTransition(c *gin.Context, err error, conflictMsg string) {
	switch {
	case errors.Is(err, service.ErrTaskNotFound):
		httpx.FailErr(c, httpx.ErrNotFound("task not found"))
	case errors.Is(err, service.ErrInvalidTransition):
		httpx.FailErr(c, httpx.ErrInvalidTransition(conflictMsg))
	default:
		httpx.FailErr(c, httpx.ErrDatabaseError("task update failed", err))
	}
}

// intQuery parses a required positive integer query parameter, replying with
// a parameter error on failure.
func intQuery(c *gin.Context, name string) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		httpx.FailErr(c, httpx.ErrParamMissing("parameter '"+name+"' is required"))
		return 0, false
	}
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		httpx.FailErr(c, httpx.ErrParamInvalid("parameter '"+name+"' must be a positive integer"))
		return 0, false
	}
	return id, true
}
