// Package alerts surfaces non-fatal operational conditions — an
// unresolvable firewall interface, an agent demoted to unhealthy — that
// deserve operator attention without being data-plane errors.
package alerts

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/m0nnnna/nekoproxy/internal/controller/db"
	"github.com/m0nnnna/nekoproxy/internal/controller/repositories"
)

// Kinds of alerts raised by the Controller and by Agents reporting
// observations through POST /api/v1/alerts.
const (
	KindFirewallInterfaceUnresolved = "firewall_interface_unresolved"
	KindAgentUnhealthy              = "agent_unhealthy"
)

// Service records and lists Alerts. The zero value is not usable — create
// instances with New.
type Service struct {
	repo   repositories.AlertRepository
	logger *zap.Logger
}

// New constructs a Service.
func New(repo repositories.AlertRepository, logger *zap.Logger) *Service {
	return &Service{repo: repo, logger: logger.Named("alerts")}
}

// Raise records a new, unacknowledged alert.
func (s *Service) Raise(ctx context.Context, kind, message string, agentID *uint64) error {
	a := &db.Alert{Kind: kind, Message: message, AgentID: agentID}
	if err := s.repo.Create(ctx, a); err != nil {
		return fmt.Errorf("alerts: raise: %w", err)
	}
	s.logger.Warn("alert raised", zap.String("kind", kind), zap.String("message", message))
	return nil
}

// List returns alerts, most recent first.
func (s *Service) List(ctx context.Context, opts repositories.ListOptions) ([]db.Alert, int64, error) {
	return s.repo.List(ctx, opts)
}

// Acknowledge marks an alert as acknowledged.
func (s *Service) Acknowledge(ctx context.Context, id uint64) error {
	return s.repo.Acknowledge(ctx, id)
}
