package devices

import (
	"errors"
	"strconv"
	"time"

	"fleetd/internal/config"
	"fleetd/internal/enroll"
	"fleetd/internal/httpx"
	"fleetd/internal/model"
	"fleetd/internal/registry"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// ListRequest represents list devices request
type ListRequest struct {
	Page     int    `form:"page"`
	PageSize int    `form:"pageSize"`
	Name     string `form:"name"`
	Status   string `form:"status"`
}

// DeviceDTO is a device row with its derived liveness flag. Live is
// computed from the last heartbeat at read time, it is never stored.
type DeviceDTO struct {
	ID            int        `json:"id"`
	HardwareID    string     `json:"hardwareId"`
	Name          string     `json:"name"`
	Status        string     `json:"status"`
	Live          bool       `json:"live"`
	LastHeartbeat *time.Time `json:"lastHeartbeat,omitempty"`
	LastIP        string     `json:"lastIp,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// DeleteRequest represents delete device request
type DeleteRequest struct {
	ID int `json:"id" binding:"required"`
}

// EnrollTokenRequest represents create enrollment token request
type EnrollTokenRequest struct {
	DeviceName string `json:"deviceName"`
	TTLSec     int    `json:"ttlSec"`
}

// Handler handles devices API
type Handler struct {
	db       *gorm.DB
	registry *registry.Service
	tokens   *enroll.TokenStore
	cfg      *config.Config
}

// NewHandler creates a new devices handler
func NewHandler(db *gorm.DB, reg *registry.Service, tokens *enroll.TokenStore, cfg *config.Config) *Handler {
	return &Handler{
		db:       db,
		registry: reg,
		tokens:   tokens,
		cfg:      cfg,
	}
}

func (h *Handler) toDTO(device *model.Device) DeviceDTO {
	return DeviceDTO{
		ID:            device.ID,
		HardwareID:    device.HardwareID,
		Name:          device.Name,
		Status:        string(device.Status),
		Live:          h.registry.Live(device),
		LastHeartbeat: device.LastHeartbeat,
		LastIP:        device.LastIP,
		CreatedAt:     device.CreatedAt,
	}
}

// List handles GET /api/v1/devices
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

	query := h.db.Model(&model.Device{})
	if req.Name != "" {
		query = query.Where("name LIKE ?", "%"+req.Name+"%")
	}
	if req.Status != "" {
		query = query.Where("status = ?", req.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to count devices", err))
		return
	}

	var devices []model.Device
	offset := (req.Page - 1) * req.PageSize
	if err := query.
		Offset(offset).
		Limit(req.PageSize).
		Order("id DESC").
		Find(&devices).Error; err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to fetch devices", err))
		return
	}

	items := make([]DeviceDTO, len(devices))
	for i := range devices {
		items[i] = h.toDTO(&devices[i])
	}

	httpx.OKItems(c, items, total, req.Page, req.PageSize)
}

// Get handles GET /api/v1/devices/get
func (h *Handler) Get(c *gin.Context) {
	id, ok := intQuery(c, "id")
	if !ok {
		return
	}

	var device model.Device
	if err := h.db.First(&device, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			httpx.FailErr(c, httpx.ErrNotFound("device not found"))
			return
		}
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to fetch device", err))
		return
	}

	httpx.OK(c, h.toDTO(&device))
}

// Delete handles POST /api/v1/devices/delete
func (h *Handler) Delete(c *gin.Context) {
	var req DeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid("invalid request body"))
		return
	}

	if err := h.registry.Delete(c.Request.Context(), req.ID); err != nil {
		switch {
		case errors.Is(err, registry.ErrDeviceNotFound):
			httpx.FailErr(c, httpx.ErrNotFound("device not found"))
		case errors.Is(err, registry.ErrDeviceBusy):
			httpx.FailErr(c, httpx.ErrInvalidTransition("device still holds unfinished tasks"))
		default:
			httpx.FailErr(c, httpx.ErrDatabaseError("failed to delete device", err))
		}
		return
	}

	httpx.OK(c, gin.H{"id": req.ID})
}

// CreateEnrollToken handles POST /api/v1/devices/enroll-token
func (h *Handler) CreateEnrollToken(c *gin.Context) {
	var req EnrollTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid("invalid request body"))
		return
	}

	ttl := req.TTLSec
	if ttl <= 0 {
		ttl = h.cfg.Fleet.EnrollTTLSec
	}

	uid := c.GetInt("uid")
	token, err := h.tokens.CreateToken(c.Request.Context(), req.DeviceName, uid, ttl)
	if err != nil {
		httpx.FailErr(c, httpx.ErrInternalError("failed to create enrollment token", err))
		return
	}

	httpx.OK(c, gin.H{
		"token":    token,
		"ttlSec":   ttl,
		"expireAt": time.Now().Add(time.Duration(ttl) * time.Second).Format(time.RFC3339),
	})
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
