package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"gitea.jw6.us/james/dialer/internal/auth"
	"gitea.jw6.us/james/dialer/internal/bridge"
	"gitea.jw6.us/james/dialer/internal/calllog"
	"gitea.jw6.us/james/dialer/internal/calls"
	"gitea.jw6.us/james/dialer/internal/config"
	"gitea.jw6.us/james/dialer/internal/contacts"
	httpserver "gitea.jw6.us/james/dialer/internal/http"
	"gitea.jw6.us/james/dialer/internal/logging"
	"gitea.jw6.us/james/dialer/internal/store"
)

var (
	verbose bool
	cfg     *config.Config
	logger  *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:           "dialerd",
	Short:         "Call state and call history service for a paired handset",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		logger, err = logging.New(cfg.LogLevel, verbose)
		if err != nil {
			return err
		}
		zap.ReplaceGlobals(logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the handset bridge",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		pool, err := openPool(cmd.Context())
		if err != nil {
			return err
		}
		defer pool.Close()

		applied, err := store.New(pool).Migrate(cmd.Context())
		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		logger.Info("migrations applied", zap.Strings("files", applied))
		return nil
	},
}

var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Manage device credentials",
}

var deviceAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Register a device; the secret is read from DIALER_DEVICE_SECRET",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := os.Getenv("DIALER_DEVICE_SECRET")
		if secret == "" {
			return errors.New("DIALER_DEVICE_SECRET is required")
		}
		pool, err := openPool(cmd.Context())
		if err != nil {
			return err
		}
		defer pool.Close()

		authService, err := auth.NewService(store.New(pool).Devices, cfg.JWT.Secret, auth.WithLogger(logger))
		if err != nil {
			return err
		}
		device, err := authService.RegisterDevice(cmd.Context(), args[0], secret)
		if err != nil {
			return fmt.Errorf("register device: %w", err)
		}
		logger.Info("device registered", zap.String("name", device.Name), zap.Int64("id", device.ID))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	deviceCmd.AddCommand(deviceAddCmd)
	rootCmd.AddCommand(serveCmd, migrateCmd, deviceCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "dialerd:", err)
		os.Exit(1)
	}
}

func openPool(ctx context.Context) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, cfg.DB.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to create db pool: %w", err)
	}
	return pool, nil
}

func serve(ctx context.Context) error {
	logger.Info("starting dialerd", zap.String("device", cfg.MQTT.DeviceID))

	pool, err := openPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()
	stor := store.New(pool)

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	contactOpts := []contacts.Option{contacts.WithLogger(logger.Named("contacts"))}
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unavailable, lookup cache disabled", zap.Error(err))
		} else {
			contactOpts = append(contactOpts, contacts.WithCache(contacts.NewRedisCache(rdb, cfg.LookupCacheTTL)))
		}
	}
	directory := contacts.NewService(stor.Contacts, stor.Blocked, contactOpts...)
	history := calllog.NewService(stor.CallLog, loc, logger.Named("calllog"))

	authOpts := []auth.Option{auth.WithTokenTTL(cfg.JWT.TokenTTL), auth.WithLogger(logger.Named("auth"))}
	if cfg.OIDC.IssuerURL != "" {
		verifier, err := auth.NewOIDCVerifier(ctx, cfg.OIDC.IssuerURL, cfg.OIDC.ClientID)
		if err != nil {
			return err
		}
		authOpts = append(authOpts, auth.WithOIDCVerifier(verifier))
	}
	authService, err := auth.NewService(stor.Devices, cfg.JWT.Secret, authOpts...)
	if err != nil {
		return fmt.Errorf("failed to initialize auth service: %w", err)
	}

	sb := calls.NewSwitchboard(
		calls.WithScreener(directory),
		calls.WithRejectReason(cfg.RejectWithReason),
		calls.WithSwitchboardLogger(logger.Named("switchboard")),
	)
	link := bridge.New(bridge.Config{
		BrokerURL:   cfg.MQTT.BrokerURL,
		ClientID:    cfg.MQTT.ClientID,
		Username:    cfg.MQTT.Username,
		Password:    cfg.MQTT.Password,
		TopicPrefix: cfg.MQTT.TopicPrefix,
		DeviceID:    cfg.MQTT.DeviceID,
	}, sb,
		bridge.WithRecorder(history),
		bridge.WithCallerLookup(directory),
		bridge.WithLogger(logger.Named("bridge")),
	)
	if err := link.Connect(ctx); err != nil {
		return err
	}
	defer link.Close()

	aggregator := calls.New(calls.WithTelephony(sb), calls.WithLogger(logger.Named("calls")))
	defer aggregator.Close()
	go aggregator.Run(ctx)

	router := httpserver.NewRouter(httpserver.Options{
		PrometheusEnabled: cfg.PrometheusEnabled,
		TrustedProxies:    cfg.TrustedProxies,
	}, httpserver.Deps{
		Health:    stor,
		Auth:      authService,
		Calls:     aggregator,
		CallLog:   history,
		Directory: directory,
		Logger:    logger.Named("http"),
	})
	defer router.Close()

	if len(cfg.TrustedProxies) == 0 {
		logger.Warn("no APP_TRUSTED_PROXIES configured; forwarding headers are trusted from every peer")
	}

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	// Closing the aggregator ends open event streams so Shutdown can drain.
	srv.RegisterOnShutdown(aggregator.Close)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
	}
	return nil
}
