package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"chronicle/editor/internal/app"
	"chronicle/editor/internal/auth"
	"chronicle/editor/internal/config"
	"chronicle/editor/internal/export"
	"chronicle/editor/internal/exportqueue"
	"chronicle/editor/internal/gitrepo"
	"chronicle/editor/internal/objectstore"
	"chronicle/editor/internal/presence"
	"chronicle/editor/internal/search"
	"chronicle/editor/internal/store"
	"chronicle/editor/internal/suggest"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := mintToken(cfg, os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		return
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("api stopped", "error", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir, logger)
	if err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	logger.Info("database ready", "migrations_applied", applied)
	if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
		return fmt.Errorf("create repos dir: %w", err)
	}

	policy, err := config.LoadExportPolicy(cfg.ExportPolicyFile)
	if err != nil {
		return err
	}

	dataStore := store.NewPostgresStore(db)

	var primary search.Index
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meiliClient.Close()
		primary = meiliClient
	}
	searchService := search.NewService(primary, search.NewPgFTS(db), logger)
	go searchService.ReindexAllFromPG(ctx)

	objects, err := objectstore.New(objectstore.Config{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
	})
	if err != nil {
		return err
	}
	if err := objects.EnsureBucket(ctx); err != nil {
		return err
	}

	renderer := export.NewService()
	worker := exportqueue.New(dataStore, renderer, objects, exportqueue.Config{
		Workers: cfg.ExportWorkers,
		Lease:   cfg.ExportLease,
		Logger:  logger,
	})

	deps := app.Deps{
		Store:     dataStore,
		Versions:  gitrepo.New(cfg.ReposDir),
		Artifacts: objects,
		Renderer:  renderer,
		Suggester: suggest.New(searchService),
		Search:    searchService,
		Worker:    worker,
		Policy:    policy,
		Logger:    logger,
	}
	if strings.TrimSpace(cfg.RedisURL) != "" {
		presenceStore, err := presence.NewRedisStore(cfg.RedisURL, cfg.PresenceTTL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer presenceStore.Close()
		deps.Presence = presenceStore
	} else {
		logger.Warn("REDIS_URL is empty; presence is disabled")
	}

	service := app.New(cfg, deps)
	devLogin := cfg.Environment != "production"
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, devLogin, logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	workerDone := make(chan error, 1)
	go func() {
		workerDone <- worker.Run(ctx)
	}()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("chronicle api listening", "addr", cfg.Addr, "dev_login", devLogin)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		stop()
		return fmt.Errorf("server failed: %w", err)
	case err := <-workerDone:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", "error", err)
	}
	stop()
	<-workerDone
	return nil
}

// mintToken prints a signed token for local testing:
//
//	api token --sub usr_ada --name "Ada Lovelace" --tier pro
//
// The user must exist; sign in once through /api/session/login first.
func mintToken(cfg config.Config, args []string) error {
	flags := pflag.NewFlagSet("token", pflag.ContinueOnError)
	subject := flags.String("sub", "", "user id")
	name := flags.String("name", "", "display name")
	role := flags.String("role", "editor", "viewer, editor or admin")
	tier := flags.String("tier", "free", "plan tier")
	ttl := flags.Duration("ttl", cfg.TokenTTL, "token lifetime")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *subject == "" || *name == "" {
		return errors.New("token: --sub and --name are required")
	}
	token, err := auth.IssueToken([]byte(cfg.JWTSecret), auth.NewClaims(*subject, *name, *role, *tier), *ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
