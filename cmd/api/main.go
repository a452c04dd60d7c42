package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"benchguard.io/internal/activity"
	"benchguard.io/internal/advisory"
	"benchguard.io/internal/anomaly"
	"benchguard.io/internal/audit"
	"benchguard.io/internal/auth"
	"benchguard.io/internal/config"
	"benchguard.io/internal/httpapi"
	"benchguard.io/internal/migrate"
	"benchguard.io/internal/obs"
	"benchguard.io/internal/ops"
	"benchguard.io/internal/store/pg"
	"benchguard.io/internal/stream"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("load .env: %v", err)
	}
	configPath := pflag.StringP("config", "c", os.Getenv("BENCHGUARD_CONFIG"), "path to YAML config file")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	obs.SetLogger(obs.NewJSONLogger(os.Stdout, obs.ParseLevel(cfg.LogLevel)))
	logger := obs.Logger()
	defer func() { _ = logger.Sync() }()

	if err := run(cfg); err != nil {
		logger.Fatal("benchguard api stopped", zap.Error(err))
	}
}

type storage struct {
	auth     auth.Store
	audit    audit.Store
	activity activity.Store
	probe    httpapi.ReadyProbe
	close    func() error
}

func openStorage(ctx context.Context, cfg config.PostgresConfig) (*storage, error) {
	if cfg.DSN == "" {
		obs.Logger().Warn("no postgres dsn configured, using in-memory storage")
		return &storage{
			auth:     auth.NewMemoryStore(),
			audit:    audit.NewMemoryStore(),
			activity: activity.NewMemoryStore(),
			close:    func() error { return nil },
		}, nil
	}
	db, err := pg.Open(cfg.DSN, pg.PoolConfig{MaxOpenConns: cfg.MaxOpenConns, MaxIdleConns: cfg.MaxIdleConns})
	if err != nil {
		return nil, err
	}
	if err := db.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	mgr := migrate.NewManager(db.DB(), pg.Migrations(), migrate.WithSeeds(pg.Seeds()))
	if _, err := mgr.Up(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if _, err := mgr.Seed(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("seed: %w", err)
	}
	return &storage{
		auth:     db,
		audit:    db.Audit(),
		activity: db.Activity(),
		probe:    httpapi.ReadyProbe{DB: db.DB()},
		close:    db.Close,
	}, nil
}

func run(cfg *config.Config) error {
	logger := obs.Logger()
	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := obs.InitTracing(ctx, obs.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		Environment: cfg.Env,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return err
	}

	startCtx, startCancel := context.WithTimeout(ctx, 30*time.Second)
	st, err := openStorage(startCtx, cfg.Postgres)
	startCancel()
	if err != nil {
		return err
	}
	defer func() { _ = st.close() }()

	ledger, err := audit.NewLedger(st.audit, audit.WithChain(cfg.Audit.Chain))
	if err != nil {
		return err
	}
	activityLog, err := activity.NewLog(st.activity)
	if err != nil {
		return err
	}
	matrix, err := auth.NewMatrixManager(st.auth, ledger)
	if err != nil {
		return err
	}
	tokens, err := auth.NewTokens(cfg.Auth.Secret, auth.WithIssuer(cfg.Auth.Issuer), auth.WithTokenTTL(cfg.Auth.TokenTTL))
	if err != nil {
		return err
	}
	directory, err := auth.NewDirectory(st.auth, ledger, matrix, auth.WithActivity(activityLog), auth.WithTokens(tokens))
	if err != nil {
		return err
	}
	if cfg.Auth.BootstrapEmail != "" {
		actor, created, err := directory.Bootstrap(ctx, auth.NewActor{
			Name:     cfg.Auth.BootstrapName,
			Email:    cfg.Auth.BootstrapEmail,
			Password: cfg.Auth.BootstrapPassword,
		})
		if err != nil {
			return fmt.Errorf("bootstrap: %w", err)
		}
		if created {
			logger.Info("bootstrap actor created", zap.String("actor_id", actor.ID), zap.String("role", string(actor.Role)))
		}
	}
	guard := auth.NewGuard(auth.NewResolver(st.auth), auth.WithDenialLog(activityLog))

	opsStore := ops.NewInMemory()
	scanner := anomaly.NewScanner(anomaly.NewDetector(cfg.Anomaly.Thresholds), anomaly.Sources{
		Audit:    ledger,
		Activity: activityLog,
		Ops:      opsStore,
		Actors:   directory,
		Lookback: cfg.Anomaly.Lookback,
	})
	var monitor *anomaly.Monitor
	if cfg.Anomaly.MonitorInterval > 0 {
		monitor = anomaly.NewMonitor(scanner, cfg.Anomaly.MonitorInterval, stream.NewBroker[anomaly.Result](8))
		go monitor.Run(ctx)
	}

	api, err := httpapi.New(st.probe, version, httpapi.Services{
		Directory: directory,
		Matrix:    matrix,
		Guard:     guard,
		Ledger:    ledger,
		Activity:  activityLog,
		Ops:       opsStore,
		Scanner:   scanner,
		Monitor:   monitor,
		Advisory:  advisory.NewClient(cfg.Advisory),
	},
		httpapi.WithRateLimit(cfg.HTTP.RateLimitRPS, cfg.HTTP.RateLimitBurst),
		httpapi.WithAllowedOrigins(cfg.HTTP.AllowedOrigins),
		httpapi.WithTracing(cfg.Tracing.Enabled),
	)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}

	logger.Info("starting benchguard api",
		zap.String("version", version),
		zap.String("addr", srv.Addr),
		zap.String("env", cfg.Env),
		zap.Bool("audit_chain", ledger.Chained()),
		zap.Bool("postgres", cfg.Postgres.DSN != ""),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown", zap.Error(err))
	}
	logger.Info("stopped")
	return nil
}
