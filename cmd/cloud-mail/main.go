package main

import (
	"context"
	"errors"
	stdlog "log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	attachmentsHandler "github.com/Adoubf/cloud-mail/internal/attachments/handler"
	attachmentsrepo "github.com/Adoubf/cloud-mail/internal/attachments/repo"
	attachmentsservice "github.com/Adoubf/cloud-mail/internal/attachments/service"
	appConfig "github.com/Adoubf/cloud-mail/internal/config"
	configHandler "github.com/Adoubf/cloud-mail/internal/config/handler"
	"github.com/Adoubf/cloud-mail/internal/http-server/middleware/admin"
	mwLogger "github.com/Adoubf/cloud-mail/internal/http-server/middleware/logger"
	"github.com/Adoubf/cloud-mail/internal/lib/logger/handlers/slogpretty"
	"github.com/Adoubf/cloud-mail/internal/lib/logger/sl"
	"github.com/Adoubf/cloud-mail/internal/objectstore/backends"
	"github.com/Adoubf/cloud-mail/internal/objectstore/instrumented"
	"github.com/Adoubf/cloud-mail/internal/objectstore/probe"
	"github.com/Adoubf/cloud-mail/internal/storage/sqldb"
)

const (
	envLocal = "local"
	envDev   = "dev"
)

func main() {
	if err := godotenv.Load("infra/.env"); err != nil {
		stdlog.Println("No .env file found, skipping...")
	}

	cfg := appConfig.MustLoad()

	log := setupLogger(cfg.Env)
	log.Info("starting cloud-mail", slog.String("env", cfg.Env))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sqldb.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		log.Error("failed to init storage", sl.Err(err))
		os.Exit(1)
	}
	defer db.Close()

	repo := attachmentsrepo.New(db)
	if err := repo.Migrate(ctx); err != nil {
		log.Error("failed to migrate attachments schema", sl.Err(err))
		os.Exit(1)
	}

	rawStore, err := backends.New(ctx, cfg.Storage)
	if err != nil {
		log.Error("failed to init object store", sl.Err(err))
		os.Exit(1)
	}

	log.Info("object store ready",
		slog.String("kind", cfg.Storage.Kind),
		slog.String("endpoint", cfg.Storage.Endpoint),
		slog.String("bucket", cfg.Storage.Bucket),
		slog.Bool("public_domain", cfg.Storage.PublicDomain != ""),
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	store := instrumented.Wrap(rawStore, instrumented.NewMetrics(reg))

	service := attachmentsservice.New(store, repo, attachmentsservice.Config{
		KeyPrefix:      cfg.Storage.KeyPrefix,
		PurgeBatchSize: cfg.Attachments.PurgeBatchSize,
		MaxBatchBytes:  cfg.Attachments.MaxBatchBytes,
		PresignTTL:     cfg.Storage.PresignTTL,
		InlineBaseURL:  inlineBaseURL(cfg),
	}, log)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(mwLogger.New(log))
	router.Use(middleware.Recoverer)

	attachments := attachmentsHandler.New(service, cfg.Attachments.MaxBatchBytes, log)
	attachments.Mount(router)

	if cfg.HTTPServer.AdminToken == "" {
		log.Warn("admin token is not set, internal routes are closed")
	}
	router.Group(func(r chi.Router) {
		r.Use(admin.New(cfg.HTTPServer.AdminToken))

		attachments.MountAdmin(r)
		r.Post("/storage/check", probe.NewHandler(store, cfg.Storage.KeyPrefix, log).Check())
		r.Get("/config", configHandler.New(*cfg, log).GetConfig())
	})

	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	log.Info("starting server", slog.String("address", cfg.HTTPServer.Address))

	srv := &http.Server{
		Addr:         cfg.HTTPServer.Address,
		Handler:      router,
		ReadTimeout:  cfg.HTTPServer.Timeout,
		WriteTimeout: cfg.HTTPServer.Timeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("failed to start server", sl.Err(err))
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to stop server", sl.Err(err))
	}

	log.Info("server stopped")
}

// inlineBaseURL is where rewritten inline images point: the public bucket domain
// when there is one, otherwise this service's /files route.
func inlineBaseURL(cfg *appConfig.Config) string {
	if cfg.Storage.PublicDomain != "" {
		return cfg.Storage.PublicDomain
	}
	return strings.TrimRight(cfg.App.BaseURL, "/") + "/files"
}

func setupPrettySlog() *slog.Logger {
	opts := slogpretty.PrettyHandlerOptions{
		SlogOpts: &slog.HandlerOptions{
			Level: slog.LevelDebug,
		},
	}

	handler := opts.NewPrettyHandler(os.Stdout)

	return slog.New(handler)
}

func setupLogger(env string) *slog.Logger {
	switch env {
	case envLocal:
		return setupPrettySlog()
	case envDev:
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	default:
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
}
