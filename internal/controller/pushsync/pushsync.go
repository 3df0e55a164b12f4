// Package pushsync fans a config-changed nudge out to the agent fleet after
// a mutation, so new state propagates in sub-second time instead of waiting
// out each agent's next poll tick. Delivery is best-effort: a failed nudge
// is only logged, because the agent's own pull loop picks the change up on
// its next interval anyway.
package pushsync

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/m0nnnna/nekoproxy/internal/agent/client"
	"github.com/m0nnnna/nekoproxy/internal/controller/repositories"
)

// notifyTimeout bounds the whole background fan-out; an agent that cannot
// be reached inside it is left to its poll loop.
const notifyTimeout = 10 * time.Second

// Notifier POSTs /trigger-sync to every healthy agent's overlay API.
type Notifier struct {
	agents       repositories.AgentRepository
	client       *client.Client
	agentAPIPort int
	logger       *zap.Logger
}

// New constructs a Notifier. agentAPIPort is the port every agent's
// trigger-sync server listens on (AGENT_API_PORT on the agent side).
func New(agents repositories.AgentRepository, agentAPIPort int, logger *zap.Logger) *Notifier {
	return &Notifier{
		agents:       agents,
		client:       client.New(""),
		agentAPIPort: agentAPIPort,
		logger:       logger.Named("pushsync"),
	}
}

// NotifyAll nudges every healthy agent. The healthy set is read on the
// caller's context; the fan-out itself runs in the background so mutation
// handlers return without waiting on agent round-trips.
func (n *Notifier) NotifyAll(ctx context.Context) {
	agents, err := n.agents.ListHealthy(ctx)
	if err != nil {
		n.logger.Warn("failed to list healthy agents for push sync", zap.Error(err))
		return
	}
	if len(agents) == 0 {
		return
	}

	go func() {
		fanCtx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()

		var wg sync.WaitGroup
		for _, agent := range agents {
			wg.Add(1)
			go func(id uint64, overlayIP string) {
				defer wg.Done()
				base := "http://" + net.JoinHostPort(overlayIP, strconv.Itoa(n.agentAPIPort))
				if err := n.client.TriggerSync(fanCtx, base); err != nil {
					n.logger.Warn("push sync failed, agent will catch up on next poll",
						zap.Uint64("agent_id", id),
						zap.String("addr", base),
						zap.Error(err),
					)
				}
			}(agent.ID, agent.WireguardIP)
		}
		wg.Wait()
	}()
}
