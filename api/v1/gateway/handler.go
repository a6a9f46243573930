package gateway

import (
	"errors"
	"path/filepath"
	"strconv"

	"fleetd/internal/enroll"
	"fleetd/internal/httpx"
	"fleetd/internal/ingest"
	"fleetd/internal/model"
	"fleetd/internal/registry"
	"fleetd/internal/scheduler"
	"fleetd/internal/storage"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// RegisterRequest represents a device registration call. DeviceID carries a
// previously assigned identity so a reinstalled device converges onto its
// old row instead of minting a new one.
type RegisterRequest struct {
	HardwareID  string `json:"hardwareId" binding:"required"`
	DeviceID    int    `json:"deviceId"`
	Name        string `json:"name"`
	EnrollToken string `json:"enrollToken"`
}

// RegisterResponse carries the identity and fresh token the device must use
// on every subsequent call.
type RegisterResponse struct {
	DeviceID int    `json:"deviceId"`
	Token    string `json:"token"`
	Created  bool   `json:"created"`
}

// HeartbeatRequest represents a device heartbeat
type HeartbeatRequest struct {
	Status string `json:"status"`
}

// AckRequest acknowledges the start of execution of an assigned task
type AckRequest struct {
	TaskID int `json:"taskId" binding:"required"`
}

// ResultRequest represents a device's result submission
type ResultRequest struct {
	TaskID int `json:"taskId" binding:"required"`
	ingest.Outcome
}

// Handler handles the device-facing gateway API
type Handler struct {
	db        *gorm.DB
	registry  *registry.Service
	scheduler *scheduler.Service
	ingestor  *ingest.Service
	tokens    *enroll.TokenStore
	store     *storage.ArtifactStore
}

// NewHandler creates a new gateway handler
func NewHandler(db *gorm.DB, reg *registry.Service, sched *scheduler.Service, ing *ingest.Service, tokens *enroll.TokenStore, store *storage.ArtifactStore) *Handler {
	return &Handler{
		db:        db,
		registry:  reg,
		scheduler: sched,
		ingestor:  ing,
		tokens:    tokens,
		store:     store,
	}
}

// device returns the authenticated device placed in the context by the
// DeviceAuth middleware.
func device(c *gin.Context) *model.Device {
	return c.MustGet("device").(*model.Device)
}

// Register handles POST /api/v1/gateway/register. Registration is
// unauthenticated: possession of a hardware id is enough, an enrollment
// token only pre-names the device.
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid("invalid request body"))
		return
	}

	name := req.Name
	if req.EnrollToken != "" {
		data, err := h.tokens.ConsumeToken(c.Request.Context(), req.EnrollToken)
		if err != nil {
			httpx.FailErr(c, httpx.ErrInvalidToken("enrollment token invalid or already used"))
			return
		}
		if data.DeviceName != "" {
			name = data.DeviceName
		}
	}

	dev, created, err := h.registry.Register(c.Request.Context(), registry.RegisterInput{
		HardwareID:    req.HardwareID,
		PriorIdentity: req.DeviceID,
		Name:          name,
		IP:            c.ClientIP(),
	})
	if err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to register device", err))
		return
	}

	httpx.OK(c, RegisterResponse{
		DeviceID: dev.ID,
		Token:    dev.Token,
		Created:  created,
	})
}

// Heartbeat handles POST /api/v1/gateway/heartbeat. The heartbeat doubles as
// the work poll: the response carries at most one task, either a fresh
// assignment or the redelivery of one the device never acknowledged.
func (h *Handler) Heartbeat(c *gin.Context) {
	var req HeartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid("invalid request body"))
		return
	}

	dev := device(c)
	if err := h.registry.Heartbeat(c.Request.Context(), dev, model.DeviceStatus(req.Status), c.ClientIP()); err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to record heartbeat", err))
		return
	}

	task, err := h.scheduler.ClaimNext(c.Request.Context(), dev)
	if err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to claim a task", err))
		return
	}

	httpx.OK(c, gin.H{"task": task})
}

// Ack handles POST /api/v1/gateway/tasks/ack
func (h *Handler) Ack(c *gin.Context) {
	var req AckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid("invalid request body"))
		return
	}

	if err := h.scheduler.MarkRunning(c.Request.Context(), device(c), req.TaskID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			httpx.FailErr(c, httpx.ErrInvalidTransition("task is not assigned to this device"))
			return
		}
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to mark task running", err))
		return
	}

	httpx.OK(c, gin.H{"taskId": req.TaskID})
}

// SubmitResult handles POST /api/v1/gateway/tasks/result. Retransmits of an
// already finalized task are accepted as no-ops so devices can retry freely.
func (h *Handler) SubmitResult(c *gin.Context) {
	var req ResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid("invalid request body"))
		return
	}

	task, applied, err := h.ingestor.Submit(c.Request.Context(), device(c), req.TaskID, &req.Outcome)
	if err != nil {
		switch {
		case errors.Is(err, ingest.ErrTaskNotFound):
			httpx.FailErr(c, httpx.ErrNotFound("task not found"))
		case errors.Is(err, ingest.ErrNotBound):
			httpx.FailErr(c, httpx.ErrForbidden("task is not bound to this device"))
		case errors.Is(err, ingest.ErrBadState):
			httpx.FailErr(c, httpx.ErrInvalidTransition("task state does not accept a result"))
		default:
			httpx.FailErr(c, httpx.ErrDatabaseError("failed to ingest result", err))
		}
		return
	}

	httpx.OK(c, gin.H{
		"taskId":  task.ID,
		"status":  task.Status,
		"applied": applied,
	})
}

// UploadArtifact handles POST /api/v1/gateway/tasks/artifact. The multipart
// form carries the file plus a taskId and optionally the domainId the
// capture belongs to.
func (h *Handler) UploadArtifact(c *gin.Context) {
	taskID, err := strconv.Atoi(c.PostForm("taskId"))
	if err != nil || taskID <= 0 {
		httpx.FailErr(c, httpx.ErrParamInvalid("form field 'taskId' must be a positive integer"))
		return
	}

	var task model.Task
	if err := h.db.First(&task, taskID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			httpx.FailErr(c, httpx.ErrNotFound("task not found"))
			return
		}
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to fetch task", err))
		return
	}
	dev := device(c)
	if task.DeviceID == nil || *task.DeviceID != dev.ID {
		httpx.FailErr(c, httpx.ErrForbidden("task is not bound to this device"))
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		httpx.FailErr(c, httpx.ErrParamMissing("form field 'file' is required"))
		return
	}

	src, err := file.Open()
	if err != nil {
		httpx.FailErr(c, httpx.ErrInternalError("failed to open uploaded file", err))
		return
	}
	defer src.Close()

	contentType := file.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	key, err := h.store.Put(c.Request.Context(), taskID, filepath.Base(file.Filename), src, file.Size, contentType)
	if err != nil {
		httpx.FailErr(c, httpx.ErrExternalError("failed to store artifact", err))
		return
	}

	if raw := c.PostForm("domainId"); raw != "" {
		domainID, err := strconv.Atoi(raw)
		if err != nil || domainID <= 0 {
			httpx.FailErr(c, httpx.ErrParamInvalid("form field 'domainId' must be a positive integer"))
			return
		}
		res := h.db.Model(&model.ExtractedDomain{}).
			Where("id = ? AND task_id = ?", domainID, taskID).
			Update("artifact_path", key)
		if res.Error != nil {
			httpx.FailErr(c, httpx.ErrDatabaseError("failed to attach artifact", res.Error))
			return
		}
		if res.RowsAffected == 0 {
			httpx.FailErr(c, httpx.ErrNotFound("domain record not found for this task"))
			return
		}
	}

	httpx.OK(c, gin.H{"key": key})
}
