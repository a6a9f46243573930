package main

import (
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	v1 "fleetd/api/v1"
	"fleetd/internal/auth"
	"fleetd/internal/cache"
	"fleetd/internal/config"
	"fleetd/internal/db"
	"fleetd/internal/domaincheck"
	"fleetd/internal/enroll"
	"fleetd/internal/ingest"
	"fleetd/internal/registry"
	"fleetd/internal/scheduler"
	"fleetd/internal/service"
	"fleetd/internal/storage"
	"fleetd/internal/sweeper"
	"fleetd/internal/ws"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Println("✓ Configuration loaded")

	logger := logrus.NewEntry(logrus.StandardLogger())

	// 2. Initialize MySQL
	if err := db.InitMySQL(cfg.MySQL.DSN); err != nil {
		log.Fatalf("Failed to initialize MySQL: %v", err)
	}
	defer db.Close()

	if cfg.Migrate {
		if err := db.Migrate(db.GetDB()); err != nil {
			log.Fatalf("Failed to migrate database: %v", err)
		}
	}

	// 3. Initialize Redis
	if err := cache.InitRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB); err != nil {
		log.Fatalf("Failed to initialize Redis: %v", err)
	}
	defer cache.Close()

	// 4. Initialize JWT
	auth.Init(cfg.JWT)

	// 5. Event broadcaster (Socket.IO + journal)
	broadcaster, err := ws.NewBroadcaster(db.GetDB(), logger)
	if err != nil {
		log.Fatalf("Failed to initialize broadcaster: %v", err)
	}
	defer broadcaster.Close()

	// 6. Artifact storage
	store, err := storage.NewArtifactStore(cfg.Storage)
	if err != nil {
		log.Fatalf("Failed to initialize artifact storage: %v", err)
	}

	// 7. Core services
	oracle := domaincheck.NewHTTPOracle(&domaincheck.HTTPOracleConfig{
		BaseURL: cfg.Oracle.BaseURL,
		APIKey:  cfg.Oracle.APIKey,
		Timeout: time.Duration(cfg.Oracle.TimeoutSec) * time.Second,
	})
	checker := domaincheck.NewChecker(db.GetDB(), oracle, logger)

	staleness := time.Duration(cfg.Fleet.StalenessSec) * time.Second
	reg := registry.NewService(db.GetDB(), broadcaster, logger, staleness)
	sched := scheduler.NewService(db.GetDB(), broadcaster, logger, cfg.Fleet.ClaimRetries)
	ingestor := ingest.NewService(db.GetDB(), checker, broadcaster, logger)
	taskSvc := service.NewTaskService(db.GetDB(), broadcaster, logger)
	enrollTokens := enroll.NewTokenStore(cache.Client)

	// 8. Background sweepers
	if cfg.OfflineSweeper.Enabled {
		offlineSweeper := sweeper.NewWorker(&sweeper.Config{
			Name:        "offline-sweeper",
			Sweep:       reg.SweepOffline,
			Logger:      logger,
			IntervalSec: cfg.OfflineSweeper.IntervalSec,
		})
		offlineSweeper.Start()
		defer offlineSweeper.Stop()
	}
	if cfg.CacheSweeper.Enabled {
		cacheSweeper := sweeper.NewWorker(&sweeper.Config{
			Name:        "cache-sweeper",
			Sweep:       checker.SweepExpired,
			Logger:      logger,
			IntervalSec: cfg.CacheSweeper.IntervalSec,
		})
		cacheSweeper.Start()
		defer cacheSweeper.Stop()
	}

	// 9. Initialize Gin router
	gin.SetMode(gin.ReleaseMode)
	r := gin.Default()

	v1.SetupRouter(r, &v1.Deps{
		DB:          db.GetDB(),
		Cfg:         cfg,
		Registry:    reg,
		Scheduler:   sched,
		Ingestor:    ingestor,
		Tasks:       taskSvc,
		Enroll:      enrollTokens,
		Store:       store,
		Broadcaster: broadcaster,
	})

	// Live event stream for operator UIs
	r.GET("/socket.io/*any", gin.WrapH(broadcaster.Handler()))
	r.POST("/socket.io/*any", gin.WrapH(broadcaster.Handler()))

	log.Printf("✓ Server starting on %s", cfg.HTTPAddr)

	// Start server
	if err := r.Run(cfg.HTTPAddr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
