// Package tcpproxy implements the Agent's TCP forwarding data plane: a
// manager that reconciles one net.Listener per desired (listen_port,
// service) pair, and a per-connection forwarder with blocklist
// enforcement, connect-timeout classification, and byte accounting.
package tcpproxy

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/m0nnnna/nekoproxy/internal/shared/wire"
)

// Stat is emitted once per completed (or terminally classified)
// connection. "sent" is client→backend, "received" is backend→client.
type Stat struct {
	ServiceID     uint64
	ClientIP      string
	Status        string
	Duration      float64
	BytesSent     int64
	BytesReceived int64
}

// StatSink receives a Stat for every connection the manager handles.
type StatSink func(Stat)

// listener pairs a live net.Listener with the Service it forwards for.
type listener struct {
	net.Listener
	svc    wire.Service
	cancel context.CancelFunc
}

// Manager owns the table of active TCP listeners, keyed by listen port,
// and reconciles it against a desired service set on every Sync.
type Manager struct {
	listenIP          string
	bufferSize        int
	connectionTimeout time.Duration
	onStat            StatSink
	logger            *zap.Logger

	mu        sync.Mutex
	listeners map[int]*listener
	blocklist atomic.Pointer[map[string]struct{}]

	// wg tracks every accept loop and in-flight connection handler so
	// StopAll can wait for them to drain.
	wg sync.WaitGroup

	activeConnections atomic.Int64
}

// New constructs a Manager. onStat is called from connection-handling
// goroutines — it must not block.
func New(listenIP string, bufferSize int, connectionTimeout time.Duration, onStat StatSink, logger *zap.Logger) *Manager {
	m := &Manager{
		listenIP:          listenIP,
		bufferSize:        bufferSize,
		connectionTimeout: connectionTimeout,
		onStat:            onStat,
		logger:            logger.Named("tcpproxy"),
		listeners:         make(map[int]*listener),
	}
	empty := map[string]struct{}{}
	m.blocklist.Store(&empty)
	return m
}

// ActiveConnections returns the current count of connections in flight
// across every listener this manager owns.
func (m *Manager) ActiveConnections() int64 {
	return m.activeConnections.Load()
}

// UpdateBlocklist atomically replaces the blocklist snapshot. Readers take
// a snapshot at accept time — an in-flight connection is never retroactively
// blocked.
func (m *Manager) UpdateBlocklist(ips []string) {
	set := make(map[string]struct{}, len(ips))
	for _, ip := range ips {
		set[ip] = struct{}{}
	}
	m.blocklist.Store(&set)
}

// Sync reconciles the listener table against the desired TCP services:
// listeners for services no longer present are closed, and listeners for
// new services are opened. Listeners for unchanged services are left
// untouched — in-flight connections are never dropped by a sync.
func (m *Manager) Sync(services []wire.Service) {
	desired := make(map[int]wire.Service)
	for _, s := range services {
		if s.Protocol == wire.ProtocolTCP {
			desired[s.ListenPort] = s
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for port, l := range m.listeners {
		if _, ok := desired[port]; !ok {
			m.logger.Info("removing tcp listener", zap.Int("port", port))
			l.cancel()
			_ = l.Close()
			delete(m.listeners, port)
		}
	}

	for port, svc := range desired {
		if _, ok := m.listeners[port]; ok {
			continue
		}
		if err := m.addListener(port, svc); err != nil {
			m.logger.Error("failed to start tcp listener",
				zap.Int("port", port),
				zap.String("service", svc.Name),
				zap.Error(err),
			)
		}
	}
}

func (m *Manager) addListener(port int, svc wire.Service) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(m.listenIP, itoa(port)))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &listener{Listener: ln, svc: svc, cancel: cancel}
	m.listeners[port] = l

	m.logger.Info("tcp listener started",
		zap.Int("port", port),
		zap.String("service", svc.Name),
		zap.String("backend", net.JoinHostPort(svc.BackendHost, itoa(svc.BackendPort))),
	)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.accept(ctx, l)
	}()
	return nil
}

func (m *Manager) accept(ctx context.Context, l *listener) {
	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.logger.Warn("accept failed", zap.Int("port", l.svc.ListenPort), zap.Error(err))
			return
		}
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.handle(ctx, conn, l.svc)
		}()
	}
}

// StopAll closes every listener, cancels all in-flight copiers, and waits
// for accept loops and connection handlers to drain before returning.
func (m *Manager) StopAll() {
	m.mu.Lock()
	for port, l := range m.listeners {
		l.cancel()
		_ = l.Close()
		delete(m.listeners, port)
	}
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Manager) handle(ctx context.Context, conn net.Conn, svc wire.Service) {
	defer conn.Close()

	clientIP, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
	start := time.Now()

	blocklist := *m.blocklist.Load()
	if _, blocked := blocklist[clientIP]; blocked {
		m.logger.Warn("blocked connection", zap.String("client_ip", clientIP), zap.String("service", svc.Name))
		m.emit(Stat{ServiceID: svc.ID, ClientIP: clientIP, Status: wire.StatusBlocked})
		return
	}

	m.activeConnections.Add(1)
	defer m.activeConnections.Add(-1)

	backendAddr := net.JoinHostPort(svc.BackendHost, itoa(svc.BackendPort))
	dialer := net.Dialer{Timeout: m.connectionTimeout}
	backend, err := dialer.DialContext(ctx, "tcp", backendAddr)
	if err != nil {
		status := classifyDialErr(err)
		m.logger.Warn("backend connect failed",
			zap.String("service", svc.Name),
			zap.String("backend", backendAddr),
			zap.String("status", status),
			zap.Error(err),
		)
		m.emit(Stat{ServiceID: svc.ID, ClientIP: clientIP, Status: status, Duration: time.Since(start).Seconds()})
		return
	}
	defer backend.Close()

	var bytesSent, bytesReceived int64
	copyCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer cancel()
		n, err := copyBuffered(backend, conn, m.bufferSize)
		m.logCopyErr("client->backend", svc.Name, err)
		atomic.AddInt64(&bytesSent, n)
	}()
	go func() {
		defer wg.Done()
		defer cancel()
		n, err := copyBuffered(conn, backend, m.bufferSize)
		m.logCopyErr("backend->client", svc.Name, err)
		atomic.AddInt64(&bytesReceived, n)
	}()

	<-copyCtx.Done()
	conn.Close()
	backend.Close()
	wg.Wait()

	m.emit(Stat{
		ServiceID:     svc.ID,
		ClientIP:      clientIP,
		Status:        wire.StatusCompleted,
		Duration:      time.Since(start).Seconds(),
		BytesSent:     bytesSent,
		BytesReceived: bytesReceived,
	})
}

// logCopyErr records a copier failure at debug. Resets and broken pipes are
// the normal way a proxied flow ends (the peer slammed its side shut) and
// are suppressed entirely.
func (m *Manager) logCopyErr(direction, service string, err error) {
	if err == nil || errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return
	}
	m.logger.Debug("copy ended with error",
		zap.String("direction", direction),
		zap.String("service", service),
		zap.Error(err),
	)
}

func (m *Manager) emit(s Stat) {
	if m.onStat != nil {
		m.onStat(s)
	}
}

// copyBuffered forwards src -> dst using a fixed-size buffer, matching the
// configured BUFFER_SIZE rather than io.Copy's default.
func copyBuffered(dst io.Writer, src io.Reader, bufferSize int) (int64, error) {
	buf := make([]byte, bufferSize)
	// The wrappers hide ReaderFrom/WriterTo so io.CopyBuffer uses buf.
	return io.CopyBuffer(struct{ io.Writer }{dst}, struct{ io.Reader }{src}, buf)
}

func classifyDialErr(err error) string {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return wire.StatusTimeout
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return wire.StatusRefused
	}
	return wire.StatusError
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
