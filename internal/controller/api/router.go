package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/m0nnnna/nekoproxy/internal/controller/agentmanager"
	"github.com/m0nnnna/nekoproxy/internal/controller/alerts"
	"github.com/m0nnnna/nekoproxy/internal/controller/pushsync"
	"github.com/m0nnnna/nekoproxy/internal/controller/repositories"
	"github.com/m0nnnna/nekoproxy/internal/controller/stats"
)

// RouterConfig holds every dependency NewRouter needs to build handlers.
// Populated in main.go once all components are constructed.
type RouterConfig struct {
	AgentManager *agentmanager.Manager
	Services     repositories.ServiceRepository
	Assignments  repositories.AssignmentRepository
	Blocklist    repositories.BlocklistRepository
	Firewall     repositories.FirewallRepository
	Stats        *stats.Service
	Alerts       *alerts.Service
	PushSync     *pushsync.Notifier
	Logger       *zap.Logger
}

// NewRouter builds the fully configured Chi router. Every resource lives
// under /api/v1 except the liveness probe and the Prometheus metrics
// endpoint.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)

	agentHandler := NewAgentHandler(cfg.AgentManager, cfg.Logger)
	serviceHandler := NewServiceHandler(cfg.Services, cfg.PushSync, cfg.Logger)
	assignmentHandler := NewAssignmentHandler(cfg.Assignments, cfg.PushSync, cfg.Logger)
	blocklistHandler := NewBlocklistHandler(cfg.Blocklist, cfg.PushSync, cfg.Logger)
	firewallHandler := NewFirewallHandler(cfg.Firewall, cfg.PushSync, cfg.Logger)
	statsHandler := NewStatsHandler(cfg.Stats, cfg.Logger)
	alertHandler := NewAlertHandler(cfg.Alerts, cfg.Logger)

	r.Get("/health", Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/agents/register", agentHandler.Register)
		r.Post("/agents/{id}/heartbeat", agentHandler.Heartbeat)
		r.Get("/agents/{id}/config", agentHandler.GetConfig)
		r.Get("/agents", agentHandler.List)
		r.Delete("/agents/{id}", agentHandler.Delete)

		r.Get("/services", serviceHandler.List)
		r.Post("/services", serviceHandler.Create)
		r.Get("/services/{id}", serviceHandler.GetByID)
		r.Put("/services/{id}", serviceHandler.Update)
		r.Delete("/services/{id}", serviceHandler.Delete)

		r.Get("/assignments", assignmentHandler.List)
		r.Post("/assignments", assignmentHandler.Create)
		r.Get("/assignments/{id}", assignmentHandler.GetByID)
		r.Put("/assignments/{id}", assignmentHandler.Update)
		r.Delete("/assignments/{id}", assignmentHandler.Delete)

		r.Get("/blocklist", blocklistHandler.List)
		r.Post("/blocklist", blocklistHandler.Create)
		r.Delete("/blocklist/{id}", blocklistHandler.Delete)

		r.Get("/firewall", firewallHandler.List)
		r.Post("/firewall", firewallHandler.Create)
		r.Get("/firewall/{id}", firewallHandler.GetByID)
		r.Put("/firewall/{id}", firewallHandler.Update)
		r.Delete("/firewall/{id}", firewallHandler.Delete)

		r.Post("/stats/connections", statsHandler.Intake)
		r.Get("/stats/summary", statsHandler.Summary)

		r.Get("/alerts", alertHandler.List)
		r.Post("/alerts", alertHandler.Create)
		r.Post("/alerts/{id}/ack", alertHandler.Acknowledge)
	})

	return r
}
