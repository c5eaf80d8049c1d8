// Package main is the entry point for the forc package registry server.
// It dispatches three subcommands — serve, migrate, and version — via a
// simple switch on os.Args so the binary's full CLI surface is readable in
// one place without requiring a cobra dependency. The serve command runs
// auto-migration on startup so freshly deployed containers never need a
// separate migration step.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof" // pprof only serves on the internal profiling port, never on the Gin listener.
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/forc-lang/forc-registry/internal/api"
	"github.com/forc-lang/forc-registry/internal/archive"
	"github.com/forc-lang/forc-registry/internal/audit"
	"github.com/forc-lang/forc-registry/internal/auth/githuboauth"
	"github.com/forc-lang/forc-registry/internal/blob"
	"github.com/forc-lang/forc-registry/internal/blob/ipfs"
	"github.com/forc-lang/forc-registry/internal/blob/mirror"
	"github.com/forc-lang/forc-registry/internal/config"
	"github.com/forc-lang/forc-registry/internal/db"
	"github.com/forc-lang/forc-registry/internal/db/repositories"
	"github.com/forc-lang/forc-registry/internal/index"
	"github.com/forc-lang/forc-registry/internal/jobs"
	"github.com/forc-lang/forc-registry/internal/publish"
	"github.com/forc-lang/forc-registry/internal/safego"
	"github.com/forc-lang/forc-registry/internal/telemetry"
	"github.com/forc-lang/forc-registry/internal/toolchain"
)

const version = "0.1.0"

func main() {
	cmd := "serve"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	switch cmd {
	case "serve":
		if err := runServe(); err != nil {
			slog.Error("server exited with error", "error", err)
			os.Exit(1)
		}
	case "migrate":
		if err := runMigrate(); err != nil {
			slog.Error("migration failed", "error", err)
			os.Exit(1)
		}
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q (expected serve, migrate, or version)\n", cmd)
		os.Exit(2)
	}
}

func loadConfig() (*config.Config, error) {
	path := os.Getenv("FORC_CONFIG_PATH")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)
	return cfg, nil
}

func runMigrate() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	direction := "up"
	if len(os.Args) > 2 {
		direction = os.Args[2]
	}

	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer database.Close()

	if err := db.RunMigrations(database, direction); err != nil {
		return err
	}

	v, dirty, err := db.GetMigrationVersion(database)
	if err != nil {
		return err
	}
	slog.Info("migrations applied", "version", v, "dirty", dirty)
	return nil
}

func runServe() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	slog.Info("starting forc registry", "version", version, "local", cfg.IsLocal())

	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer database.Close()

	if err := db.RunMigrations(database, "up"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	telemetry.StartDBStatsCollector(database)

	sqlxDB := sqlx.NewDb(database, "postgres")

	users := repositories.NewUserRepository(sqlxDB)
	sessions := repositories.NewSessionRepository(sqlxDB)
	tokens := repositories.NewTokenRepository(sqlxDB)
	packages := repositories.NewPackageRepository(sqlxDB)
	uploads := repositories.NewUploadRepository(sqlxDB)
	tx := repositories.NewTransactor(sqlxDB)

	pinner, err := buildPinner(cfg)
	if err != nil {
		return err
	}

	var indexPublisher publish.IndexPublisher
	if !cfg.IsLocal() {
		pub, err := index.New(index.Config{
			RepoURL:     cfg.Index.RepoURL,
			Branch:      cfg.Index.Branch,
			CloneDir:    cfg.Index.CloneDir,
			AuthorName:  cfg.Index.AuthorName,
			AuthorEmail: cfg.Index.AuthorEmail,
			SSHKey:      cfg.Index.SSHKey,
			SSHKeyPath:  cfg.Index.SSHKeyPath,
			Namespace:   index.ParseNamespace(cfg.Index.Namespace),
			ChunkSize:   cfg.Index.ChunkSize,
		})
		if err != nil {
			return fmt.Errorf("build index publisher: %w", err)
		}
		indexPublisher = pub
	}

	workDir, err := os.MkdirTemp("", "forc-registry-uploads-*")
	if err != nil {
		return fmt.Errorf("create upload scratch dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	orchestrator := &publish.Orchestrator{
		Pinner:    pinner,
		Sandbox:   toolchain.NewSandbox(cfg.Toolchain.InstallDir, cfg.Toolchain.DownloadURL, cfg.Toolchain.BuildTimeout, cfg.Toolchain.DocTimeout),
		Processor: archive.NewProcessor(workDir),
		Index:     indexPublisher,
		Tx:        tx,
		Uploads:   uploads,
		Packages:  packages,
		Local:     cfg.IsLocal(),
	}

	var shipper audit.Shipper
	if cfg.Audit.Enabled {
		ms, err := audit.NewMultiShipper(audit.ShippersFromConfig(cfg.Audit))
		if err != nil {
			return fmt.Errorf("build audit shippers: %w", err)
		}
		defer ms.Close()
		shipper = ms
	}

	handlers := &api.Handlers{
		Users:        users,
		Sessions:     sessions,
		Tokens:       tokens,
		Packages:     packages,
		Tx:           tx,
		OAuth:        githuboauth.New(cfg.GitHub),
		Orchestrator: orchestrator,
		SessionTTL:   cfg.GitHub.SessionTTL,
		GatewayURL:   cfg.Blob.GatewayURL,
	}
	router := api.NewRouter(handlers, api.OptionsFromConfig(cfg, shipper))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sweeper := jobs.NewSessionSweeper(sessions, time.Hour)
	safego.Go(func() { sweeper.Start(ctx) })

	if cfg.Telemetry.Enabled {
		startMetricsServer(cfg.Telemetry.MetricsPort)
	}
	if cfg.Telemetry.EnableProfiler {
		startProfilingServer(cfg.Telemetry.ProfilingPort)
	}

	server := &http.Server{
		Addr:         cfg.Server.GetAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	safego.Go(func() {
		slog.Info("listening", "addr", server.Addr, "tls", cfg.Security.TLS.Enabled)
		var serveErr error
		if cfg.Security.TLS.Enabled {
			serveErr = server.ListenAndServeTLS(cfg.Security.TLS.CertFile, cfg.Security.TLS.KeyFile)
		} else {
			serveErr = server.ListenAndServe()
		}
		if serveErr != nil && serveErr != http.ErrServerClosed {
			errCh <- serveErr
		}
	})

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func buildPinner(cfg *config.Config) (blob.Pinner, error) {
	ipfsClient := ipfs.New(cfg.Blob.IPFS.APIURL, cfg.Blob.IPFS.Timeout)

	var s3Mirror *mirror.Mirror
	if !cfg.IsLocal() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		m, err := mirror.New(ctx, &cfg.Blob.Mirror)
		if err != nil {
			return nil, fmt.Errorf("build blob mirror: %w", err)
		}
		s3Mirror = m
	}

	return blob.NewDualPinner(ipfsClient, s3Mirror, cfg.IsLocal()), nil
}

// startMetricsServer exposes Prometheus metrics on a side-channel port so
// the scrape path never rides through the public ingress or the API
// middleware chain.
func startMetricsServer(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	safego.Go(func() {
		addr := fmt.Sprintf(":%d", port)
		slog.Info("metrics listening", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server failed", "error", err)
		}
	})
}

func startProfilingServer(port int) {
	safego.Go(func() {
		addr := fmt.Sprintf("127.0.0.1:%d", port)
		slog.Info("profiler listening", "addr", addr)
		if err := http.ListenAndServe(addr, nil); err != nil && err != http.ErrServerClosed {
			slog.Error("profiling server failed", "error", err)
		}
	})
}
