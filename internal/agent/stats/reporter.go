// Package stats batches connection statistics emitted by the TCP/UDP proxy
// managers and reports them to the Controller on an interval.
package stats

import (
	"container/list"
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/m0nnnna/nekoproxy/internal/agent/client"
	"github.com/m0nnnna/nekoproxy/internal/shared/wire"
)

// queueCap bounds the pending-stats queue. Once full, the oldest entry is
// dropped to make room for the newest — a connection's stats missing from
// a summary is preferable to an agent stalling under load.
const queueCap = 10000

// Reporter batches wire.ConnectionStat records from the data plane and
// flushes them to the Controller in bounded batches on a timer.
type Reporter struct {
	agentID        uint64
	client         *client.Client
	batchSize      int
	reportInterval time.Duration
	logger         *zap.Logger

	mu    sync.Mutex
	queue *list.List

	stop chan struct{}
	done chan struct{}
}

// New constructs a Reporter. Call Start to begin the background flush loop.
func New(agentID uint64, c *client.Client, batchSize int, reportInterval time.Duration, logger *zap.Logger) *Reporter {
	return &Reporter{
		agentID:        agentID,
		client:         c,
		batchSize:      batchSize,
		reportInterval: reportInterval,
		logger:         logger.Named("stats"),
		queue:          list.New(),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}
}

// Record enqueues one connection stat for the next batch flush. Safe to
// call from any proxy connection goroutine; never blocks.
func (r *Reporter) Record(s wire.ConnectionStat) {
	s.Timestamp = time.Now().UTC().Format(time.RFC3339)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.queue.Len() >= queueCap {
		r.queue.Remove(r.queue.Front())
	}
	r.queue.PushBack(s)
}

// Start begins the periodic flush loop in a background goroutine.
func (r *Reporter) Start(ctx context.Context) {
	go r.loop(ctx)
	r.logger.Info("stats reporter started", zap.Duration("interval", r.reportInterval))
}

func (r *Reporter) loop(ctx context.Context) {
	defer close(r.done)
	ticker := time.NewTicker(r.reportInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.C:
			r.flush(ctx)
		}
	}
}

// Stop halts the flush loop and performs one best-effort final flush,
// draining the queue in batches until empty or ctx expires.
func (r *Reporter) Stop(ctx context.Context) {
	close(r.stop)
	<-r.done
	for r.queueLen() > 0 {
		if ctx.Err() != nil {
			break
		}
		r.flush(ctx)
	}
	r.logger.Info("stats reporter stopped")
}

func (r *Reporter) queueLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queue.Len()
}

func (r *Reporter) flush(ctx context.Context) {
	batch := r.takeBatch()
	if len(batch) == 0 {
		return
	}

	req := wire.StatsIntakeRequest{AgentID: r.agentID, Connections: batch}
	if err := r.client.PostStats(ctx, req); err != nil {
		r.logger.Warn("failed to report stats, will retry", zap.Int("count", len(batch)), zap.Error(err))
		r.putBack(batch)
		return
	}
	r.logger.Debug("reported connection stats", zap.Int("count", len(batch)))
}

func (r *Reporter) takeBatch() []wire.ConnectionStat {
	r.mu.Lock()
	defer r.mu.Unlock()

	batch := make([]wire.ConnectionStat, 0, r.batchSize)
	for r.queue.Len() > 0 && len(batch) < r.batchSize {
		front := r.queue.Front()
		batch = append(batch, front.Value.(wire.ConnectionStat))
		r.queue.Remove(front)
	}
	return batch
}

// ConnectionStatFrom builds the wire payload shape from the data plane's
// raw byte/status fields. The timestamp is stamped at Record time, not here.
func ConnectionStatFrom(serviceID uint64, clientIP, status string, duration float64, bytesSent, bytesReceived int64) wire.ConnectionStat {
	d := duration
	return wire.ConnectionStat{
		ServiceID:     serviceID,
		ClientIP:      clientIP,
		Status:        status,
		Duration:      &d,
		BytesSent:     bytesSent,
		BytesReceived: bytesReceived,
	}
}

// putBack restores a failed batch to the front of the queue, preserving
// order, so a transient Controller outage doesn't lose data. If the queue
// filled up while the flush was in flight, the oldest queued entries are
// evicted to make room — same drop-oldest policy as Record; the retried
// batch stays at the head since it predates everything queued behind it.
func (r *Reporter) putBack(batch []wire.ConnectionStat) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for r.queue.Len()+len(batch) > queueCap && r.queue.Len() > 0 {
		r.queue.Remove(r.queue.Front())
	}
	for i := len(batch) - 1; i >= 0; i-- {
		r.queue.PushFront(batch[i])
	}
}
