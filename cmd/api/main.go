package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"whatsapp-calling/internal/audit"
	"whatsapp-calling/internal/auth"
	"whatsapp-calling/internal/calls"
	"whatsapp-calling/internal/config"
	"whatsapp-calling/internal/httpapi"
	"whatsapp-calling/internal/ingest"
	"whatsapp-calling/internal/missed"
	"whatsapp-calling/internal/notify"
	"whatsapp-calling/internal/permission"
	"whatsapp-calling/internal/sweep"
	"whatsapp-calling/internal/whatsapp"
	"whatsapp-calling/pkg/logger"
	"whatsapp-calling/pkg/utils"
)

func main() {
	// Root context that cancels on shutdown.
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Optional .env for local runs; real deployments inject env directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	// Stores.
	callStore := calls.NewPostgresStore(db)
	permStore := permission.NewPostgresStore(db)
	auditSvc := audit.NewService(audit.NewPostgresRepo(db))

	// Notification fan-out: local registry bridged over Redis pub/sub so a
	// session on any instance sees events produced on any instance.
	registry := notify.NewRegistry()
	bridge := notify.NewBridge(rdb, registry, log)
	notifySvc := notify.NewService(bridge)
	go func() {
		if err := bridge.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("notify bridge stopped", "err", err)
		}
	}()

	// Provider and domain services.
	graph := whatsapp.NewGraphClient(
		cfg.WhatsApp.GraphBaseURL,
		cfg.WhatsApp.AccessToken,
		cfg.WhatsApp.PhoneNumberID,
		cfg.WhatsApp.RequestTimeout,
	)
	permSvc := permission.NewService(permStore, graph, notifySvc, auditSvc)
	missedSvc := missed.NewService(callStore, permSvc, graph, auditSvc, log)

	// The slot limiter is shared: the accept endpoint takes a slot, the
	// webhook ingest gives it back on the call's terminal transition.
	slots := httpapi.NewRedisSlotLimiter(rdb, cfg.WhatsApp.DisplayNumber, cfg.WhatsApp.MaxActiveCalls)
	ingestSvc := ingest.NewService(callStore, permSvc, notifySvc, slots, log,
		cfg.WhatsApp.DisplayNumber, cfg.WhatsApp.OwnerUserID)

	// Periodic permission-counter sweep.
	sweeper, err := sweep.New(cfg.Sweep.CronSpec, permStore, log)
	if err != nil {
		log.Error("sweep init failed", "err", err)
		os.Exit(1)
	}
	sweeper.Start()

	handlers := httpapi.Handlers{
		Auth:     authManager,
		Perms:    permSvc,
		Missed:   missedSvc,
		Calls:    callStore,
		Provider: graph,
		Slots:    slots,
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	registerRoutes(r, routeDeps{
		auth:        authManager,
		handlers:    handlers,
		registry:    registry,
		ingest:      ingestSvc,
		verifyToken: cfg.WhatsApp.WebhookVerifyToken,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// The notification stream stays open indefinitely; no write timeout.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	<-sweeper.Stop().Done()
}
