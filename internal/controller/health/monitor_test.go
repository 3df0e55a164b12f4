package health

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/m0nnnna/nekoproxy/internal/controller/db"
	"github.com/m0nnnna/nekoproxy/internal/controller/repositories"
)

// fakeAgentRepository is an in-memory stand-in for repositories.AgentRepository,
// enough to exercise demoteStale without a real database.
type fakeAgentRepository struct {
	repositories.AgentRepository
	agents  []db.Agent
	updated []db.Agent
}

func (f *fakeAgentRepository) ListHealthy(ctx context.Context) ([]db.Agent, error) {
	return f.agents, nil
}

func (f *fakeAgentRepository) Update(ctx context.Context, agent *db.Agent) error {
	f.updated = append(f.updated, *agent)
	return nil
}

func TestMonitor_DemoteStale(t *testing.T) {
	now := time.Now().UTC()
	fresh := now.Add(-10 * time.Second)
	stale := now.Add(-2 * time.Minute)

	repo := &fakeAgentRepository{
		agents: []db.Agent{
			{Hostname: "fresh", Status: "healthy", LastHeartbeat: &fresh},
			{Hostname: "stale", Status: "healthy", LastHeartbeat: &stale},
			{Hostname: "absent", Status: "healthy", LastHeartbeat: nil},
		},
	}

	m := &Monitor{
		agents:           repo,
		heartbeatTimeout: 90 * time.Second,
		logger:           zap.NewNop(),
	}

	require.NoError(t, m.demoteStale(context.Background()))

	assert.Len(t, repo.updated, 2, "only the stale and absent-heartbeat agents should be demoted")
	for _, a := range repo.updated {
		assert.Equal(t, "unhealthy", a.Status)
	}
}
