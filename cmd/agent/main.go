// Package main is the entry point for the nekoproxy-agent binary. It
// registers with the Controller, then wires the TCP/UDP proxy managers,
// firewall reconciler, heartbeat sender, stats reporter, and config
// synchronizer together.
//
// Startup sequence:
//  1. Parse CLI flags / environment variables
//  2. Build logger, HTTP client
//  3. Register with the Controller
//  4. Start Stats Reporter
//  5. Start Heartbeat Sender
//  6. Start Config Synchronizer (fetches once, applies unconditionally,
//     then begins the poll loop) and its push-trigger HTTP server
//  7. Block until SIGINT/SIGTERM, then unwind in reverse order
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/m0nnnna/nekoproxy/internal/agent/client"
	agentconfig "github.com/m0nnnna/nekoproxy/internal/agent/config"
	"github.com/m0nnnna/nekoproxy/internal/agent/configsync"
	"github.com/m0nnnna/nekoproxy/internal/agent/emailsidecar"
	"github.com/m0nnnna/nekoproxy/internal/agent/firewall"
	"github.com/m0nnnna/nekoproxy/internal/agent/heartbeat"
	"github.com/m0nnnna/nekoproxy/internal/agent/stats"
	"github.com/m0nnnna/nekoproxy/internal/agent/tcpproxy"
	"github.com/m0nnnna/nekoproxy/internal/agent/udpproxy"
	"github.com/m0nnnna/nekoproxy/internal/shared/wire"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "nekoproxy-agent",
		Short: "nekoproxy agent — TCP/UDP reverse-proxy data plane",
		Long: `The nekoproxy agent registers with a central controller, pulls the
services, firewall rules, and blocklist assigned to it, and runs the
TCP/UDP listeners that forward client traffic to backends.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("nekoproxy-agent %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func run(ctx context.Context) error {
	cfg, err := agentconfig.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("starting nekoproxy agent",
		zap.String("version", version),
		zap.String("hostname", cfg.Hostname),
		zap.String("wireguard_ip", cfg.WireguardIP),
		zap.String("controller_url", cfg.ControllerURL),
	)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	c := client.New(cfg.ControllerURL)

	status, err := c.Register(ctx, wire.RegisterRequest{
		Hostname:    cfg.Hostname,
		WireguardIP: cfg.WireguardIP,
		PublicIP:    cfg.PublicIP,
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("failed to register with controller: %w", err)
	}
	agentID := status.ID
	logger.Info("registered with controller", zap.Uint64("agent_id", agentID))

	// --- Stats Reporter ---
	reporter := stats.New(agentID, c, cfg.StatsBatchSize, cfg.StatsReportInterval, logger)
	reporter.Start(ctx)

	// --- TCP/UDP proxy managers ---
	tcpMgr := tcpproxy.New(cfg.ListenIP, cfg.BufferSize, cfg.ConnectionTimeout, func(s tcpproxy.Stat) {
		reporter.Record(stats.ConnectionStatFrom(s.ServiceID, s.ClientIP, s.Status, s.Duration, s.BytesSent, s.BytesReceived))
	}, logger)

	udpMgr := udpproxy.New(cfg.ListenIP, func(s udpproxy.Stat) {
		reporter.Record(stats.ConnectionStatFrom(s.ServiceID, s.ClientIP, s.Status, s.Duration, s.BytesSent, s.BytesReceived))
	}, logger)

	// --- Firewall Reconciler ---
	fw := firewall.New(func(alertCtx context.Context, message string) {
		if err := c.PostAlert(alertCtx, "firewall_interface_unresolved", message, agentID); err != nil {
			logger.Warn("failed to report firewall alert", zap.Error(err))
		}
	}, logger)

	// --- Email sidecar (boundary stub) ---
	mailSidecar := emailsidecar.New(logger)

	// --- Heartbeat Sender ---
	reregister := func(regCtx context.Context) (uint64, error) {
		st, err := c.Register(regCtx, wire.RegisterRequest{
			Hostname:    cfg.Hostname,
			WireguardIP: cfg.WireguardIP,
			PublicIP:    cfg.PublicIP,
			Version:     version,
		})
		if err != nil {
			return 0, err
		}
		return st.ID, nil
	}
	hb := heartbeat.New(agentID, c, func() int {
		return int(tcpMgr.ActiveConnections()) + udpMgr.ActiveConnections()
	}, reregister, cfg.HeartbeatInterval, logger)
	hb.Start(ctx)

	// --- Config Synchronizer ---
	syncer := configsync.New(agentID, c, func(applyCtx context.Context, agentCfg wire.AgentConfig) {
		tcpMgr.UpdateBlocklist(agentCfg.Blocklist)
		udpMgr.UpdateBlocklist(agentCfg.Blocklist)
		tcpMgr.Sync(agentCfg.Services)
		udpMgr.Sync(agentCfg.Services)
		fw.Sync(applyCtx, agentCfg.FirewallRules)
		mailSidecar.OnConfigApplied(applyCtx, agentCfg)
	}, cfg.SyncInterval, logger)
	syncer.Start(ctx)

	triggerAddr := net.JoinHostPort(cfg.WireguardIP, strconv.Itoa(cfg.AgentAPIPort))
	trigger := configsync.NewTriggerServer(triggerAddr, syncer, logger)
	trigger.Start()

	<-ctx.Done()
	logger.Info("shutting down nekoproxy agent")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := trigger.Shutdown(shutdownCtx); err != nil {
		logger.Warn("trigger server shutdown error", zap.Error(err))
	}
	syncer.Stop()
	hb.Stop()
	tcpMgr.StopAll()
	udpMgr.StopAll()
	fw.Shutdown(shutdownCtx)
	reporter.Stop(shutdownCtx)

	logger.Info("nekoproxy agent stopped")
	return nil
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
