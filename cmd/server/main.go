package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/jmoiron/sqlx"
	"github.com/nats-io/nats.go"

	"github.com/arbor-run/trust-core/internal/capability"
	"github.com/arbor-run/trust-core/internal/config"
	"github.com/arbor-run/trust-core/internal/domain"
	"github.com/arbor-run/trust-core/internal/eventstore"
	"github.com/arbor-run/trust-core/internal/infrastructure/auth"
	"github.com/arbor-run/trust-core/internal/infrastructure/cache"
	"github.com/arbor-run/trust-core/internal/infrastructure/database"
	"github.com/arbor-run/trust-core/internal/infrastructure/identity"
	"github.com/arbor-run/trust-core/internal/infrastructure/metrics"
	"github.com/arbor-run/trust-core/internal/infrastructure/persistence"
	httpapi "github.com/arbor-run/trust-core/internal/interfaces/http"
	"github.com/arbor-run/trust-core/internal/interfaces/http/middleware"
	"github.com/arbor-run/trust-core/internal/profilestore"
	"github.com/arbor-run/trust-core/internal/scoring"
	"github.com/arbor-run/trust-core/internal/signalbus"
	"github.com/arbor-run/trust-core/internal/tier"
	"github.com/arbor-run/trust-core/internal/trustmanager"
)

func main() {
	startTime := time.Now()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	var overlay *config.Overlay
	if cfg.Capability.OverlayPath != "" {
		overlay, err = config.LoadOverlay(cfg.Capability.OverlayPath)
		if err != nil {
			log.Fatal("Failed to load config overlay:", err)
		}
	}

	resolver := newResolver(overlay)
	calculator := newCalculator(overlay, resolver)

	kv, eventLog, capRepo, confirmRepo, closeDB := initPersistence(cfg)
	defer closeDB()

	bus := initSignalBus(cfg)
	defer bus.Close()

	redisCache := initRedisCache(cfg)
	if redisCache != nil {
		defer redisCache.Close()
	}

	profiles := profilestore.New(calculator, resolver,
		profilestore.WithBackend(kv),
		profilestore.WithSignalBus(bus),
	)

	events := eventstore.New(eventstore.WithDurableLog(eventLog))

	keyLookup := identity.NewKVKeyLookup(kv)

	capStore := capability.New(capRepo)
	grad := capability.NewGraduationTracker(capability.WithConfirmationRepository(confirmRepo))
	policy := capability.NewPolicy(capStore, resolver,
		capability.WithSignalBus(bus),
		capability.WithGraduationTracker(grad),
		capability.WithKeyLookup(keyLookup),
		capability.WithMaxDelegationDepth(cfg.Capability.MaxDelegationDepth),
		capability.WithMatrix(capability.NewMatrix(overlay.ConfirmationMatrixOverrides())),
	)

	thresholds := trustmanager.Thresholds{
		ActionFailureCount:      cfg.Trust.CircuitActionFailureCount,
		ActionFailureWindow:     cfg.Trust.CircuitActionFailureWindow,
		SecurityViolationCount:  cfg.Trust.CircuitSecurityViolationCnt,
		SecurityViolationWindow: cfg.Trust.CircuitSecurityViolationWin,
		RollbackCount:           cfg.Trust.CircuitRollbackCount,
		RollbackWindow:          cfg.Trust.CircuitRollbackWindow,
		TestFailureCount:        cfg.Trust.CircuitTestFailureCount,
		TestFailureWindow:       cfg.Trust.CircuitTestFailureWindow,
		FreezeDuration:          cfg.Trust.CircuitFreezeDuration,
		HalfOpenDuration:        cfg.Trust.CircuitHalfOpenDuration,
	}

	manager := trustmanager.New(profiles, events, resolver, thresholds,
		trustmanager.WithSignalBus(bus),
		trustmanager.WithCapabilitySyncer(policy),
		trustmanager.WithPointsTable(overlay.PointsTable(trustmanager.DefaultPointsTable())),
	)

	decayScheduler := trustmanager.NewDecayScheduler(manager, trustmanager.DecayConfig{
		GracePeriodDays: cfg.Trust.DecayGracePeriodDays,
		DecayRate:       cfg.Trust.DecayRate,
		FloorScore:      cfg.Trust.DecayFloorScore,
		RunTime:         time.Duration(cfg.Trust.DecayRunHourUTC) * time.Hour,
	})
	stopDecay := decayScheduler.StartDaily()
	defer stopDecay()

	stopSweeper := manager.Breaker().StartSweeper(time.Minute)
	defer stopSweeper()

	verifier := identity.New(keyLookup, cfg.Identity.RequestTTL)

	jwtService, err := auth.NewJWTService(cfg.Admin.JWTSecret, cfg.Admin.JWTExpiry)
	if err != nil {
		log.Fatal("Failed to initialize admin JWT service:", err)
	}

	app := fiber.New(fiber.Config{
		AppName:      "trust-core",
		ServerHeader: "trust-core",
		ErrorHandler: customErrorHandler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})

	app.Get("/metrics", metrics.PrometheusHandler())

	app.Use(middleware.RecoveryMiddleware())
	app.Use(middleware.LoggerMiddleware())
	app.Use(metrics.PrometheusMiddleware())
	app.Use(middleware.CORSMiddleware([]string{"*"}))

	app.Get("/healthz", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "healthy",
			"service": "trust-core",
			"uptime":  time.Since(startTime).Seconds(),
			"time":    time.Now().UTC(),
		})
	})

	httpapi.RegisterRoutes(app, httpapi.Deps{
		Profiles:     profiles,
		Events:       events,
		Manager:      manager,
		Capabilities: capStore,
		Policy:       policy,
		Verifier:     verifier,
		KeyLookup:    keyLookup,
		JWTService:   jwtService,
		RedisCache:   redisCache,
		Admin:        cfg.Admin,
	})

	go func() {
		if err := app.Listen(":" + cfg.Server.Port); err != nil {
			log.Fatal(err)
		}
	}()
	log.Printf("trust-core listening on port %s (env=%s)", cfg.Server.Port, cfg.Server.Environment)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("shutting down")
	if err := app.Shutdown(); err != nil {
		log.Fatal("server forced to shutdown:", err)
	}
	log.Println("server exited")
}

// initPersistence wires the persistence collaborator. With POSTGRES_HOST
// unset trust-core falls back to in-memory stores, so a single binary can
// run standalone for evaluation without a database.
func initPersistence(cfg *config.Config) (domain.KVStore, domain.EventLog, domain.CapabilityRepository, domain.ConfirmationRepository, func()) {
	if os.Getenv("POSTGRES_HOST") == "" {
		log.Println("POSTGRES_HOST unset, using in-memory persistence")
		return persistence.NewMemoryStore(), persistence.NewMemoryLog(),
			persistence.NewMemoryCapabilityRepo(), persistence.NewMemoryConfirmationRepo(),
			func() {}
	}

	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}
	dbx := sqlx.NewDb(db, "postgres")

	return persistence.NewPostgresStore(dbx), persistence.NewPostgresLog(dbx),
		persistence.NewPostgresCapabilityRepo(dbx), persistence.NewPostgresConfirmationRepo(dbx),
		func() { db.Close() }
}

// newResolver builds the tier resolver, applying the overlay's
// tier_thresholds/points_thresholds on top of the compiled-in defaults if
// present (spec §6 declarative overlay).
func newResolver(overlay *config.Overlay) *tier.Resolver {
	if overlay == nil || (len(overlay.TierThresholds) == 0 && len(overlay.PointsThresholds) == 0) {
		return tier.NewDefaultResolver()
	}
	minScore := tier.DefaultScoreThresholds()
	for t, v := range overlay.TierThresholds {
		minScore[t] = v
	}
	minPoints := tier.DefaultPointsThresholds()
	for t, v := range overlay.PointsThresholds {
		minPoints[t] = v
	}
	resolver, err := tier.NewResolver(domain.Tiers, minScore, minPoints)
	if err != nil {
		log.Fatal("Failed to build tier resolver from overlay:", err)
	}
	return resolver
}

// newCalculator builds the score calculator, applying the overlay's
// score_weights on top of the compiled-in defaults if present.
func newCalculator(overlay *config.Overlay, resolver *tier.Resolver) *scoring.Calculator {
	weights := scoring.DefaultWeights()
	if overlay != nil && overlay.ScoreWeights != nil {
		w := overlay.ScoreWeights
		weights = scoring.Weights{
			SuccessRate: w.SuccessRate,
			Uptime:      w.Uptime,
			Security:    w.Security,
			TestPass:    w.TestPass,
			Rollback:    w.Rollback,
		}
	}
	return scoring.NewCalculator(weights, resolver)
}

// initRedisCache wires the optional cross-instance coordination layer.
// Redis is not required: with REDIS_HOST unset, every replica falls back to
// its own in-process rate limiter. The decay sweep takes no distributed
// lock, with or without Redis.
func initRedisCache(cfg *config.Config) *cache.RedisCache {
	if os.Getenv("REDIS_HOST") == "" {
		return nil
	}
	rc, err := cache.NewRedisCache(cache.Config{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		log.Printf("Redis connect failed (%v), continuing without cross-instance coordination", err)
		return nil
	}
	return rc
}

// initSignalBus wires the outbound signal bus, optionally bridged onto NATS
// for cross-process fan-out (spec §6).
func initSignalBus(cfg *config.Config) *signalbus.Bus {
	if !cfg.NATS.Enabled {
		return signalbus.New()
	}
	nc, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		log.Printf("NATS connect failed (%v), continuing without cross-process signal fan-out", err)
		return signalbus.New()
	}
	return signalbus.New(signalbus.WithNATSBridge(nc, nil))
}

func customErrorHandler(c fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "internal_server_error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	log.Printf("error [%d] %s %s - %v", code, c.Method(), c.Path(), err)

	return c.Status(code).JSON(fiber.Map{
		"error":     message,
		"timestamp": time.Now().UTC(),
	})
}
