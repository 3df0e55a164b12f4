// Package udpproxy implements the Agent's UDP forwarding data plane: one
// listening socket per desired service, a per-client session table with
// its own upstream socket, and an idle-session reaper.
package udpproxy

import (
	"context"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/m0nnnna/nekoproxy/internal/shared/wire"
)

func itoa(n int) string {
	return strconv.Itoa(n)
}

// Stat mirrors tcpproxy.Stat's shape for a completed or reaped UDP session.
type Stat struct {
	ServiceID     uint64
	ClientIP      string
	Status        string
	Duration      float64
	BytesSent     int64
	BytesReceived int64
}

// StatSink receives a Stat for every session the manager retires.
type StatSink func(Stat)

const (
	sessionIdleTimeout = 5 * time.Minute
	reapInterval       = 60 * time.Second
	readBufferSize     = 65535
)

// session tracks one client's UDP flow: its dedicated upstream socket and
// the byte counters needed for stats reporting (packets are not counted).
type session struct {
	clientAddr *net.UDPAddr
	upstream   *net.UDPConn
	start      time.Time

	mu            sync.Mutex
	lastActivity  time.Time
	bytesSent     int64
	bytesReceived int64
}

func (s *session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *session) idleSince() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastActivity)
}

// proxy is one listening UDP socket forwarding to a single backend.
type proxy struct {
	svc    wire.Service
	conn   *net.UDPConn
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*session
}

// Manager owns the table of active UDP proxies, keyed by listen port.
type Manager struct {
	listenIP string
	onStat   StatSink
	logger   *zap.Logger

	mu        sync.Mutex
	proxies   map[int]*proxy
	blocklist atomic.Pointer[map[string]struct{}]

	// wg tracks every read loop, reaper, and backend session goroutine so
	// StopAll can wait for them to drain.
	wg sync.WaitGroup
}

// New constructs a Manager. onStat is called from session goroutines — it
// must not block.
func New(listenIP string, onStat StatSink, logger *zap.Logger) *Manager {
	m := &Manager{
		listenIP: listenIP,
		onStat:   onStat,
		logger:   logger.Named("udpproxy"),
		proxies:  make(map[int]*proxy),
	}
	empty := map[string]struct{}{}
	m.blocklist.Store(&empty)
	return m
}

// ActiveConnections returns the number of live client sessions across every
// proxy this manager owns.
func (m *Manager) ActiveConnections() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, p := range m.proxies {
		p.mu.Lock()
		total += len(p.sessions)
		p.mu.Unlock()
	}
	return total
}

// UpdateBlocklist atomically replaces the blocklist snapshot that every
// inbound datagram is checked against, including datagrams from clients
// that already have a session.
func (m *Manager) UpdateBlocklist(ips []string) {
	set := make(map[string]struct{}, len(ips))
	for _, ip := range ips {
		set[ip] = struct{}{}
	}
	m.blocklist.Store(&set)
}

// Sync reconciles the proxy table against the desired UDP services.
func (m *Manager) Sync(services []wire.Service) {
	desired := make(map[int]wire.Service)
	for _, s := range services {
		if s.Protocol == wire.ProtocolUDP {
			desired[s.ListenPort] = s
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for port, p := range m.proxies {
		if _, ok := desired[port]; !ok {
			m.logger.Info("removing udp proxy", zap.Int("port", port))
			m.stopProxy(p)
			delete(m.proxies, port)
		}
	}

	for port, svc := range desired {
		if _, ok := m.proxies[port]; ok {
			continue
		}
		if err := m.addProxy(port, svc); err != nil {
			m.logger.Error("failed to start udp proxy",
				zap.Int("port", port), zap.String("service", svc.Name), zap.Error(err))
		}
	}
}

func (m *Manager) addProxy(port int, svc wire.Service) error {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP(m.listenIP), Port: port})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &proxy{svc: svc, conn: conn, cancel: cancel, sessions: make(map[string]*session)}
	m.proxies[port] = p

	m.logger.Info("udp proxy started",
		zap.Int("port", port),
		zap.String("service", svc.Name),
	)

	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		m.readLoop(ctx, p)
	}()
	go func() {
		defer m.wg.Done()
		m.reapLoop(ctx, p)
	}()
	return nil
}

func (m *Manager) stopProxy(p *proxy) {
	p.cancel()
	_ = p.conn.Close()
	p.mu.Lock()
	for addr, s := range p.sessions {
		m.retire(p, s, wire.StatusClosed)
		delete(p.sessions, addr)
	}
	p.mu.Unlock()
}

// StopAll tears down every proxy and its sessions, waiting for read loops,
// reapers, and backend session goroutines to drain before returning.
func (m *Manager) StopAll() {
	m.mu.Lock()
	for port, p := range m.proxies {
		m.stopProxy(p)
		delete(m.proxies, port)
	}
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Manager) readLoop(ctx context.Context, p *proxy) {
	buf := make([]byte, readBufferSize)
	for {
		n, clientAddr, err := p.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		m.handleDatagram(ctx, p, clientAddr, data)
	}
}

func (m *Manager) handleDatagram(ctx context.Context, p *proxy, clientAddr *net.UDPAddr, data []byte) {
	blocklist := *m.blocklist.Load()
	if _, blocked := blocklist[clientAddr.IP.String()]; blocked {
		return
	}

	key := clientAddr.String()

	p.mu.Lock()
	s, ok := p.sessions[key]
	p.mu.Unlock()

	if ok {
		s.touch()
		s.mu.Lock()
		s.bytesSent += int64(len(data))
		s.mu.Unlock()
		_, _ = s.upstream.Write(data)
		return
	}

	s, err := m.newSession(ctx, p, clientAddr)
	if err != nil {
		m.logger.Error("failed to create udp session",
			zap.String("service", p.svc.Name), zap.String("client", key), zap.Error(err))
		return
	}

	s.mu.Lock()
	s.bytesSent += int64(len(data))
	s.mu.Unlock()
	_, _ = s.upstream.Write(data)
}

func (m *Manager) newSession(ctx context.Context, p *proxy, clientAddr *net.UDPAddr) (*session, error) {
	backendAddr := &net.UDPAddr{IP: net.ParseIP(p.svc.BackendHost), Port: p.svc.BackendPort}
	if backendAddr.IP == nil {
		resolved, err := net.ResolveUDPAddr("udp", net.JoinHostPort(p.svc.BackendHost, itoa(p.svc.BackendPort)))
		if err != nil {
			return nil, err
		}
		backendAddr = resolved
	}

	upstream, err := net.DialUDP("udp", nil, backendAddr)
	if err != nil {
		return nil, err
	}

	s := &session{
		clientAddr:   clientAddr,
		upstream:     upstream,
		start:        time.Now(),
		lastActivity: time.Now(),
	}

	p.mu.Lock()
	p.sessions[clientAddr.String()] = s
	p.mu.Unlock()

	m.logger.Info("new udp client", zap.String("service", p.svc.Name), zap.String("client", clientAddr.String()))

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.backendReadLoop(ctx, p, s)
	}()
	return s, nil
}

func (m *Manager) backendReadLoop(ctx context.Context, p *proxy, s *session) {
	buf := make([]byte, readBufferSize)
	for {
		n, err := s.upstream.Read(buf)
		if err != nil {
			return
		}
		s.touch()
		s.mu.Lock()
		s.bytesReceived += int64(n)
		s.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		_, _ = p.conn.WriteToUDP(buf[:n], s.clientAddr)
	}
}

func (m *Manager) reapLoop(ctx context.Context, p *proxy) {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.reapIdle(p)
		}
	}
}

func (m *Manager) reapIdle(p *proxy) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for addr, s := range p.sessions {
		if s.idleSince() > sessionIdleTimeout {
			m.logger.Info("reaping idle udp session",
				zap.String("service", p.svc.Name), zap.String("client", addr))
			m.retire(p, s, wire.StatusTimeout)
			delete(p.sessions, addr)
		}
	}
}

// retire closes a session's upstream socket and emits its final stat.
// Callers must hold p.mu.
func (m *Manager) retire(p *proxy, s *session, status string) {
	_ = s.upstream.Close()
	s.mu.Lock()
	sent, received := s.bytesSent, s.bytesReceived
	s.mu.Unlock()
	m.emit(Stat{
		ServiceID:     p.svc.ID,
		ClientIP:      s.clientAddr.IP.String(),
		Status:        status,
		Duration:      time.Since(s.start).Seconds(),
		BytesSent:     sent,
		BytesReceived: received,
	})
}

func (m *Manager) emit(s Stat) {
	if m.onStat != nil {
		m.onStat(s)
	}
}
