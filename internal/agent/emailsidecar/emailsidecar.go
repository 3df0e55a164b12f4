// Package emailsidecar demonstrates the documented boundary for an optional
// Postfix/SASL mail-proxy add-on: it subscribes to the same apply-cycle
// notifications the Config Synchronizer emits and reconciles nothing on its
// own. Full SASL/Postfix management is out of scope — see the project's
// Non-goals.
package emailsidecar

import (
	"context"

	"go.uber.org/zap"

	"github.com/m0nnnna/nekoproxy/internal/shared/wire"
)

// Sidecar receives the same AgentConfig the data plane reconciles against.
// A real implementation would diff SASL users and Postfix relay config here
// and shell out idempotent commands, exactly as the Firewall Reconciler
// does for iptables.
type Sidecar struct {
	logger *zap.Logger
}

// New constructs a Sidecar.
func New(logger *zap.Logger) *Sidecar {
	return &Sidecar{logger: logger.Named("emailsidecar")}
}

// OnConfigApplied is wired into the Config Synchronizer's apply cycle
// alongside the TCP/UDP/firewall reconcilers.
func (s *Sidecar) OnConfigApplied(ctx context.Context, cfg wire.AgentConfig) {
	s.logger.Info("email sidecar observed config apply cycle",
		zap.Int64("config_version", cfg.ConfigVersion),
		zap.Int("service_count", len(cfg.Services)),
	)
}
