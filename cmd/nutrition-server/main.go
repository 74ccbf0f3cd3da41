package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/nutrition/nutrition/internal/config"
	"github.com/nutrition/nutrition/internal/domain/report"
	"github.com/nutrition/nutrition/internal/messaging"
	"github.com/nutrition/nutrition/internal/platform/auth"
	"github.com/nutrition/nutrition/internal/platform/db"
	"github.com/nutrition/nutrition/internal/platform/middleware"
	"github.com/nutrition/nutrition/internal/platform/mllp"
	"github.com/nutrition/nutrition/internal/platform/mqtt"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "nutrition-server",
		Short: "Child nutrition SMS reporting server",
	}

	rootCmd.AddCommand(serveCmd(), migrateCmd(), messageCmd(), exportCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server and message listeners",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration commands",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			if cfg.StoreDriver == "sqlite" {
				sqlDB, err := db.OpenSQLite(ctx, cfg.SQLitePath)
				if err != nil {
					return err
				}
				defer sqlDB.Close()
				if err := report.EnsureSQLiteSchema(ctx, sqlDB); err != nil {
					return err
				}
				fmt.Printf("SQLite schema ready at %s\n", cfg.SQLitePath)
				return nil
			}

			pool, err := db.NewPool(ctx, poolConfig(cfg))
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, migrationsDir(dir, cfg))
			fmt.Printf("Running migrations on schema: %s\n", schema)

			count, err := migrator.Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", "public", "Target schema for migrations")
	upCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.StoreDriver != "postgres" {
				return fmt.Errorf("migrate status requires STORE_DRIVER=postgres")
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, poolConfig(cfg))
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, migrationsDir(dir, cfg))
			statuses, err := migrator.Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("Migration status for schema: %s\n", schema)
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("schema", "public", "Target schema for migrations")
	statusCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func migrationsDir(flag string, cfg *config.Config) string {
	if flag != "" {
		return flag
	}
	return cfg.MigrationsDir
}

func messageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "message [text]",
		Short: "Handle one inbound message and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			identity, _ := cmd.Flags().GetString("identity")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Env)

			ctx := context.Background()
			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			msg := messaging.Message{Identity: identity, Text: joinArgs(args)}
			reply, handled := a.router.Dispatch(ctx, messaging.TransportCLI, msg)
			if !handled {
				return fmt.Errorf("no handler for message %q", msg.Text)
			}
			fmt.Fprintln(cmd.OutOrStdout(), reply.Text)
			return nil
		},
	}
	cmd.Flags().String("identity", "", "Sender identity, e.g. a phone number")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export reports to CSV or XLSX",
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("format")
			out, _ := cmd.Flags().GetString("out")

			write, err := exportWriter(format)
			if err != nil {
				return err
			}
			opts := exportOptions{}
			opts.status, _ = cmd.Flags().GetString("status")
			opts.patientID, _ = cmd.Flags().GetString("patient")
			opts.reporterID, _ = cmd.Flags().GetString("reporter")
			opts.createdFrom, _ = cmd.Flags().GetString("from")
			opts.createdTo, _ = cmd.Flags().GetString("to")
			opts.orderBy, _ = cmd.Flags().GetString("order")
			filter, err := opts.filter()
			if err != nil {
				return err
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Env)

			ctx := context.Background()
			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			rows, err := a.svc.ExportRows(ctx, filter)
			if err != nil {
				return fmt.Errorf("export reports: %w", err)
			}

			if out == "" || out == "-" {
				return write(cmd.OutOrStdout(), rows)
			}
			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("create %s: %w", out, err)
			}
			if err := write(f, rows); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("close %s: %w", out, err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d report(s) to %s\n", len(rows)-1, out)
			return nil
		},
	}
	cmd.Flags().String("format", "csv", "Output format: csv or xlsx")
	cmd.Flags().String("out", "-", "Output file, - for stdout")
	cmd.Flags().String("status", "", "Only reports with this status")
	cmd.Flags().String("patient", "", "Only reports for this local patient id")
	cmd.Flags().String("reporter", "", "Only reports from this reporter")
	cmd.Flags().String("from", "", "Created on or after this date (YYYY-MM-DD)")
	cmd.Flags().String("to", "", "Created before this date (YYYY-MM-DD)")
	cmd.Flags().String("order", "", "Sort column, prefix with - for descending")
	return cmd
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

func runServer() error {
	// Logger
	logger := newLogger(os.Getenv("ENV"))

	// Config
	cfg, err := loadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	logger = newLogger(cfg.Env)

	// Store, registry, growth tables
	ctx := context.Background()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize")
	}
	defer a.Close()
	logger.Info().Str("store", cfg.StoreDriver).Msg("store ready")

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	if cfg.MetricsEnabled {
		e.Use(a.metrics.Middleware())
	}
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// Auth middleware
	if cfg.ResolvedAuthMode() == "development" {
		logger.Warn().Msg("authentication disabled (AUTH_MODE=development)")
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
		}))
	}

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(cfg.StoreDriver, a.pinger))
	if cfg.MetricsEnabled {
		e.GET("/metrics", a.metrics.Handler())
	}

	// API
	apiV1 := e.Group("/api/v1")
	report.NewHandler(a.svc).RegisterRoutes(apiV1)
	messaging.NewHTTPHandler(a.router).RegisterRoutes(apiV1)

	// MLLP TCP listener (optional, started when MLLP_ADDR is set)
	if cfg.MLLPAddr != "" {
		mllpServer := mllp.NewServer(cfg.MLLPAddr, messaging.MLLPHandler(a.router), logger)
		if err := mllpServer.Start(); err != nil {
			logger.Fatal().Err(err).Msg("MLLP server failed")
		}
		defer mllpServer.Stop()
	}

	// MQTT bridge (optional, started when MQTT_BROKER is set)
	if cfg.MQTTBroker != "" {
		client, err := mqtt.Connect(mqtt.Config{
			Broker:   cfg.MQTTBroker,
			ClientID: cfg.MQTTClientID,
			Username: cfg.MQTTUsername,
			Password: cfg.MQTTPassword,
		}, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to MQTT broker")
		}
		defer client.Disconnect()
		bridge := messaging.NewMQTTBridge(a.router, client, cfg.MQTTInboundTopic, cfg.MQTTReplyTopic, logger)
		if err := bridge.Start(client); err != nil {
			logger.Fatal().Err(err).Msg("failed to subscribe to MQTT topic")
		}
	}

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Bool("tls", cfg.TLSEnabled).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
