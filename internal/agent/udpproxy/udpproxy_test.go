package udpproxy

import (
	"net"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/m0nnnna/nekoproxy/internal/shared/wire"
)

func freeUDPPort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("reserve udp port: %v", err)
	}
	port := conn.LocalAddr().(*net.UDPAddr).Port
	conn.Close()
	return port
}

func TestManager_ForwardsDatagram(t *testing.T) {
	backendConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("listen backend: %v", err)
	}
	defer backendConn.Close()

	go func() {
		buf := make([]byte, 1024)
		n, addr, err := backendConn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		backendConn.WriteToUDP(buf[:n], addr)
	}()

	backendPort := backendConn.LocalAddr().(*net.UDPAddr).Port
	listenPort := freeUDPPort(t)

	stats := make(chan Stat, 1)
	m := New("127.0.0.1", func(s Stat) { stats <- s }, zap.NewNop())
	defer m.StopAll()

	m.Sync([]wire.Service{{
		ID:          1,
		Name:        "echo",
		ListenPort:  listenPort,
		BackendHost: "127.0.0.1",
		BackendPort: backendPort,
		Protocol:    wire.ProtocolUDP,
	}})

	time.Sleep(50 * time.Millisecond)

	clientConn, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: listenPort})
	if err != nil {
		t.Fatalf("dial proxy: %v", err)
	}
	defer clientConn.Close()

	clientConn.Write([]byte("ping"))

	clientConn.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 1024)
	n, err := clientConn.Read(buf)
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if string(buf[:n]) != "ping" {
		t.Fatalf("got %q, want ping", buf[:n])
	}

	if got := m.ActiveConnections(); got != 1 {
		t.Fatalf("ActiveConnections = %d, want 1", got)
	}
}

func TestManager_BlocksListedIP(t *testing.T) {
	listenPort := freeUDPPort(t)
	m := New("127.0.0.1", nil, zap.NewNop())
	defer m.StopAll()

	m.UpdateBlocklist([]string{"127.0.0.1"})
	m.Sync([]wire.Service{{
		ID:          2,
		Name:        "blocked",
		ListenPort:  listenPort,
		BackendHost: "127.0.0.1",
		BackendPort: freeUDPPort(t),
		Protocol:    wire.ProtocolUDP,
	}})

	time.Sleep(50 * time.Millisecond)

	clientConn, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: listenPort})
	if err != nil {
		t.Fatalf("dial proxy: %v", err)
	}
	defer clientConn.Close()
	clientConn.Write([]byte("ping"))

	time.Sleep(50 * time.Millisecond)
	if got := m.ActiveConnections(); got != 0 {
		t.Fatalf("ActiveConnections = %d, want 0 (blocked)", got)
	}
}

func TestManager_SyncRemovesStaleProxy(t *testing.T) {
	listenPort := freeUDPPort(t)
	m := New("127.0.0.1", nil, zap.NewNop())
	defer m.StopAll()

	m.Sync([]wire.Service{{ID: 3, Name: "svc", ListenPort: listenPort, BackendHost: "127.0.0.1", BackendPort: freeUDPPort(t), Protocol: wire.ProtocolUDP}})
	time.Sleep(20 * time.Millisecond)
	m.Sync(nil)
	time.Sleep(20 * time.Millisecond)

	m.mu.Lock()
	_, ok := m.proxies[listenPort]
	m.mu.Unlock()
	if ok {
		t.Fatal("expected proxy to be removed after sync with empty service list")
	}
}
