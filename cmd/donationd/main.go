package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"
	bolt "go.etcd.io/bbolt"

	"charityledger/config"
	"charityledger/core"
	"charityledger/core/events"
	"charityledger/indexer"
	"charityledger/observability"
	"charityledger/observability/logging"
	telemetry "charityledger/observability/otel"
	"charityledger/rpc"
	"charityledger/storage"
)

const serviceName = "donationd"

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	configPath := flag.StringP("config", "c", "./config.toml", "Path to the configuration file (.toml, .yaml or .yml)")
	envFile := flag.String("env-file", ".env", "Optional dotenv file loaded before the configuration")
	listen := flag.String("listen", "", "Override the HTTP listen address")
	flag.Parse()

	if err := loadEnvFile(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "load %s: %v\n", *envFile, err)
		os.Exit(1)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *listen != "" {
		cfg.ListenAddress = *listen
	}

	logger, closer := logging.Setup(logging.Options{
		Service:    serviceName,
		Env:        cfg.Environment,
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		AllowKeys:  cfg.Logging.AllowKeys,
		SecretKeys: cfg.Logging.SecretKeys,
	})
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("donationd exited", "error", err)
		os.Exit(1)
	}
}

func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return godotenv.Load(path)
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: version,
		Environment:    cfg.Environment,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		Headers:        telemetry.ParseKeyValues(cfg.Telemetry.Headers),
		Attributes:     telemetry.ParseKeyValues(cfg.Telemetry.ResourceAttributes),
		SampleRatio:    cfg.Telemetry.SampleRatio,
		MetricInterval: cfg.Telemetry.MetricInterval.Duration,
		Metrics:        cfg.Telemetry.Metrics,
		Traces:         cfg.Telemetry.Traces,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(flushCtx)
	}()

	db, err := openDatabase(cfg.Storage)
	if err != nil {
		return err
	}
	defer db.Close()

	hub := rpc.NewHub()
	sinks := events.Fanout{hub, observability.Events()}
	var archive *indexer.Archive
	if cfg.Indexer.Driver != "" {
		archive, err = indexer.Open(cfg.Indexer.Driver, cfg.Indexer.DSN, logger.With("component", "indexer"))
		if err != nil {
			return err
		}
		defer archive.Close()
		sinks = append(sinks, archive)
	}

	node, err := core.NewNode(db, core.WithEmitter(sinks), core.WithLogger(logger.With("component", "node")))
	if err != nil {
		return err
	}
	owner, err := cfg.OwnerAddress()
	if err != nil {
		return err
	}
	balances, err := cfg.GenesisBalances()
	if err != nil {
		return err
	}
	genesis := make([]core.GenesisAccount, 0, len(balances))
	for _, b := range balances {
		genesis = append(genesis, core.GenesisAccount{Address: b.Address, Native: b.Native, Loyalty: b.Loyalty})
	}
	if err := node.Bootstrap(ctx, owner, cfg.Service, genesis); err != nil {
		return fmt.Errorf("bootstrap ledger: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Idempotency.Path), 0o755); err != nil {
		return err
	}
	idem, err := rpc.OpenIdempotencyStore(cfg.Idempotency.Path, cfg.Idempotency.TTL.Duration)
	if err != nil {
		return err
	}
	defer idem.Close()

	var eventArchive rpc.EventArchive
	if archive != nil {
		eventArchive = archive
	}
	server, err := rpc.NewServer(node, rpc.Config{
		Auth: rpc.AuthConfig{
			HMACSecret: cfg.Auth.Secret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
		},
		RateLimit: rpc.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		},
		Idempotency:       idem,
		Archive:           eventArchive,
		Hub:               hub,
		Logger:            logger.With("component", "rpc"),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout.Duration,
		WriteTimeout:      cfg.WriteTimeout.Duration,
	})
	if err != nil {
		return err
	}

	go pruneIdempotency(ctx, idem, logger)

	httpServer := server.HTTPServer(cfg.ListenAddress)
	errCh := make(chan error, 1)
	go func() {
		logger.Info("donationd listening", "addr", cfg.ListenAddress, "storage", cfg.Storage.Backend)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout.Duration)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if archive != nil && cfg.Indexer.ExportDir != "" {
		exportArchive(shutdownCtx, archive, cfg.Indexer.ExportDir, logger)
	}
	return nil
}

func exportArchive(ctx context.Context, archive *indexer.Archive, dir string, logger *slog.Logger) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Warn("create export dir", "dir", dir, "error", err)
		return
	}
	path := filepath.Join(dir, fmt.Sprintf("events-%s.parquet", time.Now().UTC().Format("20060102T150405Z")))
	rows, err := archive.ExportParquet(ctx, path, indexer.Query{})
	if err != nil {
		logger.Warn("export event archive", "path", path, "error", err)
		return
	}
	logger.Info("exported event archive", "path", path, "rows", rows)
}

func openDatabase(cfg config.StorageConfig) (storage.Database, error) {
	switch cfg.Backend {
	case "memory":
		return storage.NewMemDB(), nil
	case "bolt":
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, err
		}
		return storage.NewBoltDB(cfg.Path, &bolt.Options{Timeout: time.Second})
	default:
		return storage.NewLevelDB(cfg.Path)
	}
}

func pruneIdempotency(ctx context.Context, idem *rpc.IdempotencyStore, logger *slog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed, err := idem.Prune(ctx); err != nil {
				logger.Warn("prune idempotency keys", "error", err)
			} else if removed > 0 {
				logger.Debug("pruned idempotency keys", "removed", removed)
			}
		}
	}
}
