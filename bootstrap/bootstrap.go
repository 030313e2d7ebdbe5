// Package bootstrap wires all dependencies and starts the application.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/artpar/fitgate/adapters/clock"
	"github.com/artpar/fitgate/adapters/idgen"
	"github.com/artpar/fitgate/adapters/metrics"
	"github.com/artpar/fitgate/adapters/postgres"
	"github.com/artpar/fitgate/adapters/random"
	"github.com/artpar/fitgate/adapters/sqlite"
	"github.com/artpar/fitgate/adapters/vault"
	"github.com/artpar/fitgate/app"
	"github.com/artpar/fitgate/config"
	"github.com/artpar/fitgate/ports"
	"github.com/artpar/fitgate/web"
)

// App represents the running application.
type App struct {
	Logger     zerolog.Logger
	Config     *config.Config
	Holder     *config.Holder
	HTTPServer *http.Server
	Metrics    *metrics.Collector

	Keys  *app.KeyService
	Quota *app.QuotaService
	Guard *app.Guard

	// storage engine cleanup, engine-specific
	closeStorage func()
}

// Stores bundles the three persistence ports one engine provides.
type Stores struct {
	Keys     ports.KeyStore
	Counters ports.CounterStore
	Usage    ports.UsageStore
}

// New creates and initializes the application from a config file path.
// An empty path falls back to environment-only configuration (no hot
// reload in that case).
func New(configPath string) (*App, error) {
	var (
		cfg    *config.Config
		holder *config.Holder
		err    error
	)

	if configPath != "" {
		if _, statErr := os.Stat(configPath); statErr == nil {
			holder, err = config.NewHolder(configPath, zerolog.New(os.Stdout).With().Timestamp().Logger())
			if err != nil {
				return nil, err
			}
			cfg = holder.Get()
		}
	}
	if cfg == nil {
		cfg, err = config.LoadFromEnv()
		if err != nil {
			return nil, err
		}
	}

	logger := setupLogger(cfg.Logging)
	logger.Info().Msg("initializing fitgate")

	a := &App{
		Logger: logger,
		Config: cfg,
		Holder: holder,
	}

	// The master key must be present and well formed before anything else;
	// a gateway that cannot open its own sealed secrets must not start.
	cipher, err := vault.FromEnv(cfg.Vault.MasterKeyEnv)
	if err != nil {
		return nil, fmt.Errorf("init vault: %w", err)
	}

	stores, err := a.initStorage(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	var registry *prometheus.Registry
	if cfg.Metrics.Enabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector())
		a.Metrics = metrics.New(registry)
		logger.Info().Str("path", cfg.Metrics.Path).Msg("prometheus metrics enabled")
	}

	clk := clock.Real{}
	a.Keys = app.NewKeyService(app.KeyDeps{
		Keys:      stores.Keys,
		Cipher:    cipher,
		Random:    random.Real{},
		IDGen:     idgen.UUID{},
		Clock:     clk,
		Logger:    logger.With().Str("component", "keys").Logger(),
		Anomalies: anomalyCounter(a.Metrics),
	})

	policies, err := cfg.Policies()
	if err != nil {
		return nil, fmt.Errorf("tier policies: %w", err)
	}
	a.Quota, err = app.NewQuotaService(app.QuotaDeps{
		Counters: stores.Counters,
		Clock:    clk,
		Logger:   logger.With().Str("component", "quota").Logger(),
	}, policies)
	if err != nil {
		return nil, err
	}

	a.Guard = app.NewGuard(a.Keys, a.Quota, logger.With().Str("component", "guard").Logger())

	// Hot-reload tier policies on config change; everything else needs a
	// restart.
	if holder != nil {
		holder.OnChange(func(c *config.Config) {
			newPolicies, perr := c.Policies()
			if perr != nil {
				logger.Error().Err(perr).Msg("reloaded tier policies invalid, keeping current")
				return
			}
			if uerr := a.Quota.UpdatePolicies(newPolicies); uerr != nil {
				logger.Error().Err(uerr).Msg("tier policy update failed")
			}
		})
	}

	handler := web.NewHandler(web.Deps{
		Guard:      a.Guard,
		Keys:       a.Keys,
		Usage:      stores.Usage,
		Clock:      clk,
		Metrics:    a.Metrics,
		Registry:   registry,
		AdminToken: cfg.Admin.Token,
		Logger:     logger.With().Str("component", "http").Logger(),
	})
	if cfg.Admin.Token == "" {
		logger.Warn().Msg("admin token not configured, key management API disabled")
	}

	a.HTTPServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return a, nil
}

// initStorage opens the configured engine and runs its migrations. The
// driver choice is fixed for the process lifetime.
func (a *App) initStorage(cfg config.StorageConfig) (Stores, error) {
	switch cfg.Driver {
	case "sqlite":
		db, err := sqlite.Open(cfg.DSN)
		if err != nil {
			return Stores{}, err
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return Stores{}, fmt.Errorf("migrate: %w", err)
		}
		a.closeStorage = func() { db.Close() }
		a.Logger.Info().Str("driver", "sqlite").Str("dsn", cfg.DSN).Msg("storage initialized")
		return Stores{
			Keys:     sqlite.NewKeyStore(db),
			Counters: sqlite.NewCounterStore(db),
			Usage:    sqlite.NewUsageStore(db),
		}, nil

	case "postgres":
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
		defer cancel()

		db, err := postgres.Open(ctx, cfg.DSN)
		if err != nil {
			return Stores{}, err
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return Stores{}, fmt.Errorf("migrate: %w", err)
		}
		a.closeStorage = db.Close
		a.Logger.Info().Str("driver", "postgres").Msg("storage initialized")
		return Stores{
			Keys:     postgres.NewKeyStore(db),
			Counters: postgres.NewCounterStore(db),
			Usage:    postgres.NewUsageStore(db),
		}, nil

	default:
		return Stores{}, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// Run starts the HTTP server and blocks until interrupted.
func (a *App) Run() error {
	if a.Holder != nil {
		if err := a.Holder.WatchFile(); err != nil {
			a.Logger.Warn().Err(err).Msg("config file watch unavailable")
		}
		a.Holder.WatchSignals()
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().
			Str("addr", a.HTTPServer.Addr).
			Msg("starting http server")
		if err := a.HTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	return a.Shutdown()
}

// Shutdown gracefully stops the application.
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if a.Holder != nil {
		a.Holder.Stop()
	}

	if a.HTTPServer != nil {
		if err := a.HTTPServer.Shutdown(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("http server shutdown error")
		}
	}

	if a.closeStorage != nil {
		a.closeStorage()
	}

	a.Logger.Info().Msg("shutdown complete")
	return nil
}

// anomalyCounter adapts the optional metrics collector to the key
// service's anomaly hook.
func anomalyCounter(m *metrics.Collector) app.AnomalyCounter {
	if m == nil {
		return nil
	}
	return m.IntegrityAnomalies
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}

	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
