// Command server runs the IP display service: static pages plus a
// single-use token gate in front of /api/ip.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"ipshow/internal/api"
	"ipshow/internal/config"
	"ipshow/internal/observability/logging"
	"ipshow/internal/observability/metrics"
	"ipshow/internal/server"
	"ipshow/internal/serverutil"
	"ipshow/internal/static"
	"ipshow/internal/token"
)

// Build information, set via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// flagKeys maps CLI flags onto configuration keys. Only flags the user sets
// override other sources.
var flagKeys = map[string]string{
	"host":             "host",
	"port":             "port",
	"webroot":          "webroot",
	"log-level":        "log.level",
	"log-format":       "log.format",
	"token-driver":     "token.driver",
	"token-ttl":        "token.ttl",
	"purge-interval":   "token.purge_interval",
	"redis-addr":       "redis.addr",
	"redis-username":   "redis.username",
	"redis-password":   "redis.password",
	"redis-db":         "redis.db",
	"redis-prefix":     "redis.prefix",
	"redis-timeout":    "redis.timeout",
	"redis-tls-ca":     "redis.tls.ca_file",
	"metrics-addr":     "metrics.addr",
	"tls-cert":         "tls.cert_file",
	"tls-key":          "tls.key_file",
	"shutdown-timeout": "shutdown.timeout",
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "ipshow",
		Usage:   "serve the caller's IP behind single-use tokens",
		Version: fmt.Sprintf("%s (commit: %s)", version, commit),
		Flags:   appFlags(),
		Action: func(c *cli.Context) error {
			cfg, err := config.Load(
				config.WithConfigFile(c.String("config")),
				config.WithOverrides(flagOverrides(c)),
			)
			if err != nil {
				return err
			}

			logger := logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg, logger)
		},
	}
}

func appFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "path to a YAML configuration file"},
		&cli.StringFlag{Name: "host", Usage: "interface to listen on"},
		&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Usage: "port to listen on (default 80)"},
		&cli.StringFlag{Name: "webroot", Usage: "directory holding index.html, public/ and assets/"},
		&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error"},
		&cli.StringFlag{Name: "log-format", Usage: "json or text"},
		&cli.StringFlag{Name: "token-driver", Usage: "memory or redis"},
		&cli.DurationFlag{Name: "token-ttl", Usage: "expire unused tokens after this long (0 keeps them)"},
		&cli.DurationFlag{Name: "purge-interval", Usage: "how often expired tokens are swept"},
		&cli.StringFlag{Name: "redis-addr", Usage: "redis address for the redis token driver"},
		&cli.StringFlag{Name: "redis-username", Usage: "redis ACL username"},
		&cli.StringFlag{Name: "redis-password", Usage: "redis password"},
		&cli.IntFlag{Name: "redis-db", Usage: "redis database index"},
		&cli.StringFlag{Name: "redis-prefix", Usage: "key prefix for stored tokens"},
		&cli.DurationFlag{Name: "redis-timeout", Usage: "per-operation redis timeout"},
		&cli.StringFlag{Name: "redis-tls-ca", Usage: "CA bundle that enables TLS to redis"},
		&cli.StringFlag{Name: "metrics-addr", Usage: "serve Prometheus metrics on this address"},
		&cli.StringFlag{Name: "tls-cert", Usage: "TLS certificate file"},
		&cli.StringFlag{Name: "tls-key", Usage: "TLS private key file"},
		&cli.DurationFlag{Name: "shutdown-timeout", Usage: "graceful shutdown bound"},
	}
}

func flagOverrides(c *cli.Context) map[string]any {
	overrides := make(map[string]any)
	for flag, key := range flagKeys {
		if c.IsSet(flag) {
			overrides[key] = c.Value(flag)
		}
	}
	return overrides
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	recorder := metrics.New()

	store, err := newTokenStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("token store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("failed to close token store", "error", err)
		}
	}()

	if counter, ok := store.(token.Counter); ok {
		if err := recorder.TrackOutstanding(counter.Len); err != nil {
			return fmt.Errorf("register outstanding token gauge: %w", err)
		}
	}
	if purger, ok := store.(tokenPurger); ok && cfg.Token.TTL > 0 {
		stopPurge := startTokenPurgeWorker(ctx, logging.WithComponent(logger, "token-purger"), purger, cfg.Token.PurgeInterval)
		defer stopPurge()
	}

	assets, err := static.New(static.Config{
		Root:     cfg.WebRoot,
		Logger:   logging.WithComponent(logger, "static"),
		Observer: recorder,
	})
	if err != nil {
		return err
	}
	handler, err := api.NewHandler(api.Config{
		Store:    store,
		Scripts:  assets,
		Logger:   logging.WithComponent(logger, "api"),
		Observer: recorder,
	})
	if err != nil {
		return err
	}
	srv, err := server.New(handler, assets, server.Config{
		Addr:    cfg.Addr(),
		Logger:  logger,
		Metrics: recorder,
	})
	if err != nil {
		return fmt.Errorf("initialise server: %w", err)
	}

	logger.Info("ipshow starting",
		"version", version,
		"addr", cfg.Addr(),
		"webroot", assets.Root(),
		"token_driver", cfg.Token.Driver,
		"token_ttl", cfg.Token.TTL)

	listeners := []serverutil.Config{{
		Name:   "http",
		Server: srv.HTTPServer(),
		TLS: serverutil.TLSConfig{
			CertFile: cfg.TLS.CertFile,
			KeyFile:  cfg.TLS.KeyFile,
		},
		ShutdownTimeout: cfg.Shutdown.Timeout,
		Logger:          logger,
	}}
	if cfg.Metrics.Addr != "" {
		listeners = append(listeners, serverutil.Config{
			Name:            "metrics",
			Server:          newMetricsServer(cfg.Metrics.Addr, recorder),
			ShutdownTimeout: cfg.Shutdown.Timeout,
			Logger:          logger,
		})
	}

	if err := serverutil.RunGroup(ctx, listeners...); err != nil {
		return err
	}
	logger.Info("ipshow stopped")
	return nil
}

func newTokenStore(ctx context.Context, cfg config.Config) (token.Store, error) {
	switch cfg.Token.Driver {
	case config.DriverRedis:
		store, err := token.NewRedisStore(ctx, token.RedisStoreConfig{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
			TTL:      cfg.Token.TTL,
			Timeout:  cfg.Redis.Timeout,
			PoolSize: cfg.Redis.PoolSize,
			TLS: token.RedisTLSConfig{
				CAFile:             cfg.Redis.TLS.CAFile,
				CertFile:           cfg.Redis.TLS.CertFile,
				KeyFile:            cfg.Redis.TLS.KeyFile,
				ServerName:         cfg.Redis.TLS.ServerName,
				InsecureSkipVerify: cfg.Redis.TLS.InsecureSkipVerify,
			},
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.DriverMemory, "":
		return token.NewMemoryStore(token.WithTTL(cfg.Token.TTL)), nil
	default:
		return nil, fmt.Errorf("unsupported token driver %q", cfg.Token.Driver)
	}
}

func newMetricsServer(addr string, recorder *metrics.Recorder) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", recorder.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
