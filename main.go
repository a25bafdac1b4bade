package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"skills-studio/config"
	"skills-studio/database"
	"skills-studio/handlers"
	"skills-studio/logger"
	"skills-studio/middleware"
	"skills-studio/repository"
	"skills-studio/services"
	"skills-studio/utils"
	"skills-studio/workers"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	zlog, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	if err := run(cfg, zlog); err != nil {
		zlog.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, zlog *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.Database, zlog)
	if err != nil {
		return err
	}
	defer database.Close(db)
	repo := repository.New(db)

	var (
		rdb         *redis.Client
		revocations services.RevocationStore
	)
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		revocations = services.NewRedisRevocationStore(rdb)
	} else {
		zlog.Warn("REDIS_ADDR not set; session logout is disabled")
	}
	verifier := services.NewSessionVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer, revocations)

	notifier, closeNotifier := buildNotifier(cfg.Notify, zlog)
	defer closeNotifier()
	dispatch := services.NewDispatcher(notifier, cfg.Notify.Timeout, zlog)

	if cfg.Stripe.SecretKey == "" {
		zlog.Warn("STRIPE_SECRET_KEY not set; payout onboarding will fail")
	}
	payouts := services.NewStripeConnect(cfg.Stripe.SecretKey)

	ledger := services.NewLedgerService(repo, zlog)
	ambassadors := services.NewAmbassadorService(repo, payouts, ledger, services.ProgramSettings{
		QualifyingPlans: cfg.Program.QualifyingPlans,
		MinProofLinks:   cfg.Program.MinProofLinks,
		PublicURL:       cfg.Server.PublicURL,
		ReturnURL:       cfg.ConnectReturnURL(),
		RefreshURL:      cfg.ConnectRefreshURL(),
	}, zlog)

	archive, err := utils.NewProofArchive(ctx, cfg.R2)
	if err != nil {
		return fmt.Errorf("init proof archive: %w", err)
	}
	if archive != nil {
		ambassadors.WithArchive(archive)
	}

	attribution := services.NewAttributionService(repo, dispatch, zlog)
	billing := services.NewBillingService(repo, ledger, cfg.Program.CommissionRateBps, cfg.Stripe.WebhookSecret, zlog)

	sweeper := workers.NewVerificationSweeper(repo.Ambassadors, ambassadors, cfg.Worker.VerificationSweepInterval, zlog)
	if err := sweeper.Start(); err != nil {
		return err
	}
	defer func() { _ = sweeper.Stop() }()

	app := fiber.New(fiber.Config{
		AppName:      "skills-studio-ambassadors",
		BodyLimit:    1 * 1024 * 1024,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	})

	origins := cfg.Server.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{cfg.Server.PublicURL}
	}
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.RequestLogger(zlog))
	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(origins, ","),
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Request-ID, X-Service-Token",
		ExposeHeaders:    "Content-Length, Content-Type, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400,
	}))
	app.Use(middleware.ReferralMarker(cfg.Program.MarkerTTL))

	auth := middleware.SessionAuthMiddleware(verifier, zlog)
	serviceAuth := middleware.ServiceTokenMiddleware(cfg.Service.Token, zlog)

	handlers.SetupSystemRoutes(app, verifier, auth, healthCheck(db, rdb), zlog)
	handlers.SetupAmbassadorRoutes(app, ambassadors, auth, zlog)
	handlers.SetupReferralRoutes(app, attribution, auth, zlog)
	handlers.SetupBillingRoutes(app, billing, ledger, serviceAuth, zlog)

	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		zlog.Info("server listening", zap.String("addr", addr), zap.Strings("cors_origins", origins))
		errCh <- app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	zlog.Info("shutting down")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		zlog.Warn("http shutdown", zap.Error(err))
	}
	dispatch.Wait()
	return nil
}

func buildNotifier(cfg config.NotifyConfig, zlog *zap.Logger) (services.Notifier, func()) {
	var (
		channels services.MultiNotifier
		closers  []func() error
	)
	if cfg.WebhookURL != "" {
		channels = append(channels, services.NewWebhookNotifier(cfg.WebhookURL))
	}
	if len(cfg.KafkaBrokers) > 0 {
		k := services.NewKafkaNotifier(cfg.KafkaBrokers, cfg.KafkaTopic)
		channels = append(channels, k)
		closers = append(closers, k.Close)
	}

	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				zlog.Warn("close notifier", zap.Error(err))
			}
		}
	}
	switch len(channels) {
	case 0:
		zlog.Info("no notification channel configured")
		return services.NopNotifier{}, closeAll
	case 1:
		return channels[0], closeAll
	default:
		return channels, closeAll
	}
}

func healthCheck(db *gorm.DB, rdb *redis.Client) handlers.HealthCheck {
	return func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
		if rdb != nil {
			if err := rdb.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
		}
		return nil
	}
}
