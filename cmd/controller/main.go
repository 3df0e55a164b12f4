// Package main is the entry point for the nekoproxy-controller binary. It
// wires the database, repositories, agent manager, health monitor, and HTTP
// API together and serves requests until interrupted.
//
// Startup sequence:
//  1. Parse CLI flags / environment variables
//  2. Build logger
//  3. Open database connection, apply migrations
//  4. Build repositories
//  5. Build Agent Manager, Stats Service, Alerts Service
//  6. Start Health Monitor background loop
//  7. Start HTTP API server
//  8. Block until SIGINT/SIGTERM, then graceful shutdown
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/m0nnnna/nekoproxy/internal/controller/agentmanager"
	"github.com/m0nnnna/nekoproxy/internal/controller/alerts"
	"github.com/m0nnnna/nekoproxy/internal/controller/api"
	"github.com/m0nnnna/nekoproxy/internal/controller/db"
	"github.com/m0nnnna/nekoproxy/internal/controller/health"
	"github.com/m0nnnna/nekoproxy/internal/controller/metrics"
	"github.com/m0nnnna/nekoproxy/internal/controller/pushsync"
	"github.com/m0nnnna/nekoproxy/internal/controller/repositories"
	"github.com/m0nnnna/nekoproxy/internal/controller/stats"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type config struct {
	httpAddr           string
	dbDriver           string
	dbDSN              string
	logLevel           string
	heartbeatInterval  int
	heartbeatTimeout   int
	statsRetentionDays int
	agentAPIPort       int
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &config{}

	root := &cobra.Command{
		Use:   "nekoproxy-controller",
		Short: "nekoproxy controller — centrally managed reverse-proxy fleet control plane",
		Long: `The nekoproxy controller holds the authoritative configuration for a fleet
of proxy agents: services, assignments, firewall rules, and the blocklist.
It exposes a REST API consumed by agents and by the management UI.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringVar(&cfg.httpAddr, "http-addr", envOrDefault("NEKOPROXY_HTTP_ADDR", ":8001"), "HTTP API listen address")
	root.PersistentFlags().StringVar(&cfg.dbDriver, "db-driver", envOrDefault("NEKOPROXY_DB_DRIVER", "sqlite"), "Database driver (sqlite or postgres)")
	root.PersistentFlags().StringVar(&cfg.dbDSN, "db-dsn", envOrDefault("NEKOPROXY_DB_DSN", "./nekoproxy.db"), "Database DSN or file path for SQLite")
	root.PersistentFlags().StringVar(&cfg.logLevel, "log-level", envOrDefault("NEKOPROXY_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	root.PersistentFlags().IntVar(&cfg.heartbeatInterval, "heartbeat-interval", envOrDefaultInt("NEKOPROXY_HEARTBEAT_INTERVAL", 30), "Heartbeat interval (seconds) echoed back to agents")
	root.PersistentFlags().IntVar(&cfg.heartbeatTimeout, "heartbeat-timeout", envOrDefaultInt("NEKOPROXY_HEARTBEAT_TIMEOUT", 90), "Seconds of silence before an agent is demoted to unhealthy")
	root.PersistentFlags().IntVar(&cfg.statsRetentionDays, "stats-retention-days", envOrDefaultInt("NEKOPROXY_STATS_RETENTION_DAYS", 30), "Days of connection stats to retain before pruning")
	root.PersistentFlags().IntVar(&cfg.agentAPIPort, "agent-api-port", envOrDefaultInt("NEKOPROXY_AGENT_API_PORT", 8002), "Port agents serve /trigger-sync on, used for push propagation after mutations")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("nekoproxy-controller %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func run(ctx context.Context, cfg *config) error {
	logger, err := buildLogger(cfg.logLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("starting nekoproxy controller",
		zap.String("version", version),
		zap.String("http_addr", cfg.httpAddr),
		zap.String("db_driver", cfg.dbDriver),
	)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// --- Database ---
	gormDB, err := db.New(db.Config{
		Driver:   cfg.dbDriver,
		DSN:      cfg.dbDSN,
		Logger:   logger,
		LogLevel: gormLogLevel(cfg.logLevel),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	defer sqlDB.Close()

	// --- Repositories ---
	agentRepo := repositories.NewAgentRepository(gormDB)
	serviceRepo := repositories.NewServiceRepository(gormDB)
	assignmentRepo := repositories.NewAssignmentRepository(gormDB)
	blocklistRepo := repositories.NewBlocklistRepository(gormDB)
	firewallRepo := repositories.NewFirewallRepository(gormDB)
	statsRepo := repositories.NewStatsRepository(gormDB)
	alertRepo := repositories.NewAlertRepository(gormDB)

	// --- Agent Manager ---
	agentMgr := agentmanager.New(agentRepo, serviceRepo, assignmentRepo, blocklistRepo, firewallRepo, cfg.heartbeatInterval, logger)

	// --- Metrics, Stats & Alerts services ---
	metricsReg := metrics.New(agentRepo, alertRepo, logger)
	statsSvc := stats.New(statsRepo, metricsReg, logger)
	alertsSvc := alerts.New(alertRepo, logger)

	// --- Push sync ---
	pushSync := pushsync.New(agentRepo, cfg.agentAPIPort, logger)

	// --- Health Monitor ---
	monitor, err := health.New(agentRepo, statsRepo, alertsSvc, metricsReg, time.Duration(cfg.heartbeatTimeout)*time.Second, cfg.statsRetentionDays, logger)
	if err != nil {
		return fmt.Errorf("failed to create health monitor: %w", err)
	}
	if err := monitor.Start(ctx); err != nil {
		return fmt.Errorf("failed to start health monitor: %w", err)
	}
	defer func() {
		if err := monitor.Stop(); err != nil {
			logger.Warn("health monitor shutdown error", zap.Error(err))
		}
	}()

	// --- HTTP server ---
	router := api.NewRouter(api.RouterConfig{
		AgentManager: agentMgr,
		Services:     serviceRepo,
		Assignments:  assignmentRepo,
		Blocklist:    blocklistRepo,
		Firewall:     firewallRepo,
		Stats:        statsSvc,
		Alerts:       alertsSvc,
		PushSync:     pushSync,
		Logger:       logger,
	})

	httpSrv := &http.Server{
		Addr:         cfg.httpAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.httpAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down nekoproxy controller")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server graceful shutdown error", zap.Error(err))
	}

	logger.Info("nekoproxy controller stopped")
	return nil
}

func gormLogLevel(level string) gormlogger.LogLevel {
	switch level {
	case "debug":
		return gormlogger.Info
	case "info":
		return gormlogger.Warn
	default:
		return gormlogger.Error
	}
}

func buildLogger(level string) (*zap.Logger, error) {
	var cfg zap.Config

	switch level {
	case "debug":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return cfg.Build()
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}
