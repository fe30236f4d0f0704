package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/hl7-gateway/internal/config"
	"github.com/ehr/hl7-gateway/internal/domain/orders"
	"github.com/ehr/hl7-gateway/internal/platform/auth"
	"github.com/ehr/hl7-gateway/internal/platform/db"
	"github.com/ehr/hl7-gateway/internal/platform/hl7v2"
	"github.com/ehr/hl7-gateway/internal/platform/middleware"
	"github.com/ehr/hl7-gateway/internal/platform/mllp"
	"github.com/ehr/hl7-gateway/internal/platform/telemetry"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "hl7-gateway",
		Short: "HL7 v2 MLLP gateway",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(sendCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the MLLP listener and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func newLogger() zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "" || os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger
}

func runServer() error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	if cfg.IsDev() {
		logger.Warn().Msg("running in DEVELOPMENT mode; DevAuthMiddleware is active and all API requests get admin access")
	}

	ctx := context.Background()
	telem := telemetry.NewProvider()

	// Database (only the orders processor needs one)
	var pool *pgxpool.Pool
	if cfg.ProcessorMode == "orders" {
		pool, err = db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		logger.Info().Msg("connected to database")
	}

	// Message processor
	var proc hl7v2.Processor
	var ordersHandler *orders.Handler
	switch cfg.ProcessorMode {
	case "orders":
		patientRepo := orders.NewPatientRepoPG(pool)
		orderRepo := orders.NewOrderRepoPG(pool)
		mappingRepo := orders.NewMappingRepoPG(pool)
		logRepo := orders.NewMessageLogRepoPG(pool)
		proc = orders.NewProcessor(patientRepo, orderRepo, mappingRepo, logRepo, logger)
		ordersHandler = orders.NewHandler(orderRepo, logRepo)
	default:
		proc = hl7v2.AcceptAll(logger)
	}

	// MLLP listener
	mllpServer := mllp.NewServer(mllp.Config{
		Addr:            cfg.MLLPAddr(),
		MaxMessageBytes: cfg.MLLPMaxMessageBytes,
		IdleTimeout:     cfg.MLLPIdleTimeout,
		Logger:          logger,
		Metrics:         telem,
	}, proc)
	if err := mllpServer.Start(); err != nil {
		logger.Fatal().Err(err).Msg("failed to start MLLP listener")
	}
	logger.Info().Str("addr", mllpServer.Addr()).Msg("MLLP listener started")

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.BodyLimit("1M"))
	e.Use(middleware.RequestTimeout(30 * time.Second))
	e.Use(telem.MetricsMiddleware())

	// Health and metrics
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	if pool != nil {
		e.GET("/health/db", db.HealthHandler(pool))
	}
	e.GET("/metrics", telem.PrometheusHandler())

	// API group
	apiV1 := e.Group("/api/v1")
	if cfg.IsDev() {
		apiV1.Use(auth.DevAuthMiddleware())
	} else {
		apiV1.Use(auth.JWTMiddleware([]byte(cfg.AuthSigningSecret)))
	}

	hl7Handler := hl7v2.NewHandler(proc)
	hl7Handler.RegisterRoutes(apiV1)
	if ordersHandler != nil {
		ordersHandler.RegisterRoutes(apiV1)
	}

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.HTTPPort
		logger.Info().Str("addr", addr).Msg("starting HTTP server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP shutdown failed")
	}
	if err := mllpServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("MLLP shutdown failed")
	}
	logger.Info().Msg("gateway stopped")
	return nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

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
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func sendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send an HL7 message over MLLP and print the ACK",
		RunE: func(cmd *cobra.Command, args []string) error {
			host, _ := cmd.Flags().GetString("host")
			port, _ := cmd.Flags().GetString("port")
			file, _ := cmd.Flags().GetString("file")
			timeout, _ := cmd.Flags().GetDuration("timeout")

			message := mllp.SampleORM
			if file != "" {
				data, err := os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("read message file: %w", err)
				}
				message = string(data)
			}

			ack, err := mllp.Send(host+":"+port, message, timeout)
			if err != nil {
				return err
			}
			fmt.Println(ack)
			return nil
		},
	}
	cmd.Flags().String("host", "127.0.0.1", "Listener host")
	cmd.Flags().String("port", "2575", "Listener port")
	cmd.Flags().String("file", "", "Path to an HL7 message file (default: built-in sample ORM)")
	cmd.Flags().Duration("timeout", 10*time.Second, "Send timeout")
	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API token signed with AUTH_SIGNING_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			subject, _ := cmd.Flags().GetString("subject")
			roles, _ := cmd.Flags().GetStringSlice("roles")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			secret := os.Getenv("AUTH_SIGNING_SECRET")
			if secret == "" {
				return fmt.Errorf("AUTH_SIGNING_SECRET must be set")
			}

			token, err := auth.GenerateToken([]byte(secret), subject, roles, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().String("subject", "operator", "Token subject")
	cmd.Flags().StringSlice("roles", []string{"operator"}, "Token roles")
	cmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
	return cmd
}
