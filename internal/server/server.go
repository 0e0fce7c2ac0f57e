package server

import (
	"context"

	"github.com/cbram/travel-companion-sub002/internal/auth"
	"github.com/cbram/travel-companion-sub002/internal/config"
	"github.com/cbram/travel-companion-sub002/internal/lifecycle"
	"github.com/cbram/travel-companion-sub002/internal/outbox"
	"github.com/cbram/travel-companion-sub002/internal/pipeline"
	"github.com/cbram/travel-companion-sub002/internal/power"
	"github.com/cbram/travel-companion-sub002/internal/source"
	"github.com/cbram/travel-companion-sub002/internal/stream"
	"github.com/cbram/travel-companion-sub002/internal/tracking"
	"github.com/cbram/travel-companion-sub002/internal/trip"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

type Server struct {
	App    *fiber.App
	Cfg    config.Config
	DB     *pgxpool.Pool
	Redis  *redis.Client
	Stream *stream.Hub
	Engine *tracking.Service
	Source *source.ChannelSource
	Coord  *lifecycle.Coordinator

	worker *pipeline.Worker
	cancel context.CancelFunc
}

func NewServer(cfg config.Config, db *pgxpool.Pool, redisClient *redis.Client) *Server {
	app := fiber.New()
	app.Use(recover.New())
	app.Use(logger.New())

	hub := stream.NewHub(redisClient)

	var tripSvc *trip.Service
	var tripProvider tracking.TripProvider
	if db != nil {
		tripSvc = trip.NewService(db)
		tripProvider = tripSvc
	}

	var ob pipeline.Outbox
	if redisClient != nil {
		ob = outbox.New(redisClient, cfg.OutboxKey)
	}

	worker := pipeline.NewWorker(pipeline.NewPGStore(db), ob, cfg.CommitAttempts, cfg.CommitBackoff)
	src := source.NewChannelSource(64)
	pwr := power.NewSysfs(cfg.BatterySysfsDir, cfg.ACSysfsDir)

	engine := tracking.NewService(src, pwr, tripProvider, worker, hub, tracking.Options{
		BatchSize:        cfg.BatchSize,
		MaxBatchAge:      cfg.MaxBatchAge,
		PauseWindow:      cfg.PauseWindow,
		PauseRadiusM:     cfg.PauseRadiusM,
		ResumeDistanceM:  cfg.ResumeDistanceM,
		PauseSampleCount: cfg.PauseSampleCount,
		LowBatteryLevel:  cfg.LowBatteryLevel,
	})
	worker.SetCommittedHook(engine.NoteCommitted)
	worker.SetFatalHook(engine.NoteFatal)

	ctx, cancel := context.WithCancel(context.Background())
	worker.Start(ctx)

	s := &Server{
		App:    app,
		Cfg:    cfg,
		DB:     db,
		Redis:  redisClient,
		Stream: hub,
		Engine: engine,
		Source: src,
		Coord:  lifecycle.NewCoordinator(engine, cfg.BackgroundBudget),
		worker: worker,
		cancel: cancel,
	}

	registerRoutes(s, tripSvc)
	return s
}

// Close stops the write pipeline's worker.
func (s *Server) Close() {
	s.cancel()
}

func registerRoutes(s *Server, tripSvc *trip.Service) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	jwtMiddleware := auth.JWTMiddleware(s.Cfg.JWTSecret)

	if tripSvc != nil {
		trip.RegisterRoutes(s.App.Group("/trips"), tripSvc, jwtMiddleware)
	}
	tracking.RegisterRoutes(s.App.Group("/tracking"), s.Engine, s.Source, s.Coord, jwtMiddleware)
	stream.RegisterRoutes(s.App.Group("/stream"), s.Stream)
}
