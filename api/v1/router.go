package v1

import (
	"strconv"

	"fleetd/api/v1/auth"
	"fleetd/api/v1/devices"
	"fleetd/api/v1/gateway"
	"fleetd/api/v1/middleware"
	"fleetd/api/v1/tasks"
	"fleetd/internal/config"
	"fleetd/internal/enroll"
	"fleetd/internal/httpx"
	"fleetd/internal/ingest"
	"fleetd/internal/registry"
	"fleetd/internal/scheduler"
	"fleetd/internal/service"
	"fleetd/internal/storage"
	"fleetd/internal/ws"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Deps collects everything the API surface needs
type Deps struct {
	DB          *gorm.DB
	Cfg         *config.Config
	Registry    *registry.Service
	Scheduler   *scheduler.Service
	Ingestor    *ingest.Service
	Tasks       *service.TaskService
	Enroll      *enroll.TokenStore
	Store       *storage.ArtifactStore
	Broadcaster *ws.Broadcaster
}

// SetupRouter sets up the API v1 routes
func SetupRouter(r *gin.Engine, deps *Deps) {
	v1 := r.Group("/api/v1")
	{
		// Public routes (no authentication required)
		v1.GET("/ping", pingHandler)

		// Auth routes
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/login", auth.LoginHandler(deps.DB))
		}

		// Device-facing gateway. Registration is open; everything else
		// requires the per-device token minted at registration.
		gatewayHandler := gateway.NewHandler(deps.DB, deps.Registry, deps.Scheduler, deps.Ingestor, deps.Enroll, deps.Store)
		gatewayGroup := v1.Group("/gateway")
		{
			gatewayGroup.POST("/register", gatewayHandler.Register)

			deviceAuthed := gatewayGroup.Group("")
			deviceAuthed.Use(middleware.DeviceAuth(deps.Registry))
			{
				deviceAuthed.POST("/heartbeat", gatewayHandler.Heartbeat)
				deviceAuthed.POST("/tasks/ack", gatewayHandler.Ack)
				deviceAuthed.POST("/tasks/result", gatewayHandler.SubmitResult)
				deviceAuthed.POST("/tasks/artifact", gatewayHandler.UploadArtifact)
			}
		}

		// Protected operator routes (authentication required)
		protected := v1.Group("")
		protected.Use(middleware.AuthRequired())
		{
			protected.GET("/me", meHandler)
			protected.GET("/events", eventsHandler(deps.Broadcaster))

			// Devices routes
			devicesHandler := devices.NewHandler(deps.DB, deps.Registry, deps.Enroll, deps.Cfg)
			devicesGroup := protected.Group("/devices")
			{
				devicesGroup.GET("", devicesHandler.List)
				devicesGroup.GET("/get", devicesHandler.Get)
				devicesGroup.POST("/delete", devicesHandler.Delete)
				devicesGroup.POST("/enroll-token", devicesHandler.CreateEnrollToken)
			}

			// Tasks routes
			tasksHandler := tasks.NewHandler(deps.DB, deps.Tasks, deps.Store)
			tasksGroup := protected.Group("/tasks")
			{
				tasksGroup.GET("", tasksHandler.List)
				tasksGroup.GET("/get", tasksHandler.Get)
				tasksGroup.POST("/create", tasksHandler.Create)
				tasksGroup.POST("/retry", tasksHandler.Retry)
				tasksGroup.POST("/cancel", tasksHandler.Cancel)
				tasksGroup.POST("/cancel-batch", tasksHandler.CancelBatch)
				tasksGroup.POST("/delete", tasksHandler.Delete)
				tasksGroup.GET("/domains", tasksHandler.ListDomains)
				tasksGroup.GET("/artifact-url", tasksHandler.ArtifactURL)
			}
		}
	}
}

// pingHandler handles the ping request using unified response
func pingHandler(c *gin.Context) {
	httpx.OK(c, gin.H{
		"pong": true,
	})
}

// meHandler returns current user information
func meHandler(c *gin.Context) {
	uid, _ := c.Get("uid")
	username, _ := c.Get("username")
	role, _ := c.Get("role")

	httpx.OK(c, gin.H{
		"uid":      uid,
		"username": username,
		"role":     role,
	})
}

// eventsHandler replays journaled events for observers that fell behind the
// live stream.
func eventsHandler(b *ws.Broadcaster) gin.HandlerFunc {
	return func(c *gin.Context) {
		topic := c.Query("topic")
		if topic != ws.TopicDevices && topic != ws.TopicTasks {
			httpx.FailErr(c, httpx.ErrParamInvalid("parameter 'topic' must be 'devices' or 'tasks'"))
			return
		}

		afterID, _ := strconv.ParseInt(c.DefaultQuery("after", "0"), 10, 64)
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
		if limit < 1 || limit > 500 {
			limit = 100
		}

		events, err := b.Events(topic, afterID, limit)
		if err != nil {
			httpx.FailErr(c, httpx.ErrDatabaseError("failed to fetch events", err))
			return
		}

		latest, err := b.LatestEventID(topic)
		if err != nil {
			httpx.FailErr(c, httpx.ErrDatabaseError("failed to fetch latest event id", err))
			return
		}

		httpx.OK(c, gin.H{
			"items":  events,
			"latest": latest,
		})
	}
}
