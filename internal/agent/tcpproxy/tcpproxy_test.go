package tcpproxy

import (
	"io"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/m0nnnna/nekoproxy/internal/shared/wire"
)

func newTestManager(t *testing.T, onStat StatSink) *Manager {
	t.Helper()
	return New("127.0.0.1", 4096, 200*time.Millisecond, onStat, zap.NewNop())
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func TestManager_ForwardsConnection(t *testing.T) {
	backendLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen backend: %v", err)
	}
	defer backendLn.Close()

	go func() {
		conn, err := backendLn.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 5)
		io.ReadFull(conn, buf)
		conn.Write([]byte("pong!"))
	}()

	backendPort := backendLn.Addr().(*net.TCPAddr).Port
	listenPort := freePort(t)

	stats := make(chan Stat, 1)
	m := newTestManager(t, func(s Stat) { stats <- s })
	defer m.StopAll()

	m.Sync([]wire.Service{{
		ID:          1,
		Name:        "echo",
		ListenPort:  listenPort,
		BackendHost: "127.0.0.1",
		BackendPort: backendPort,
		Protocol:    wire.ProtocolTCP,
	}})

	time.Sleep(50 * time.Millisecond)

	conn, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", itoa(listenPort)), time.Second)
	if err != nil {
		t.Fatalf("dial proxy: %v", err)
	}
	conn.Write([]byte("hello"))
	buf := make([]byte, 5)
	io.ReadFull(conn, buf)
	if string(buf) != "pong!" {
		t.Fatalf("got %q, want pong!", buf)
	}
	conn.Close()

	select {
	case s := <-stats:
		if s.Status != wire.StatusCompleted {
			t.Fatalf("status = %q, want completed", s.Status)
		}
		if s.BytesSent == 0 || s.BytesReceived == 0 {
			t.Fatalf("expected nonzero byte counts, got sent=%d received=%d", s.BytesSent, s.BytesReceived)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for stat")
	}
}

func TestManager_BlocksListedIP(t *testing.T) {
	listenPort := freePort(t)
	stats := make(chan Stat, 1)
	m := newTestManager(t, func(s Stat) { stats <- s })
	defer m.StopAll()

	m.UpdateBlocklist([]string{"127.0.0.1"})
	m.Sync([]wire.Service{{
		ID:          2,
		Name:        "blocked",
		ListenPort:  listenPort,
		BackendHost: "127.0.0.1",
		BackendPort: freePort(t),
		Protocol:    wire.ProtocolTCP,
	}})

	time.Sleep(50 * time.Millisecond)

	conn, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", itoa(listenPort)), time.Second)
	if err != nil {
		t.Fatalf("dial proxy: %v", err)
	}
	defer conn.Close()

	select {
	case s := <-stats:
		if s.Status != wire.StatusBlocked {
			t.Fatalf("status = %q, want blocked", s.Status)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for stat")
	}
}

func TestManager_SyncRemovesStaleListener(t *testing.T) {
	listenPort := freePort(t)
	m := newTestManager(t, nil)
	defer m.StopAll()

	m.Sync([]wire.Service{{ID: 3, Name: "svc", ListenPort: listenPort, BackendHost: "127.0.0.1", BackendPort: freePort(t), Protocol: wire.ProtocolTCP}})
	time.Sleep(20 * time.Millisecond)
	m.Sync(nil)
	time.Sleep(20 * time.Millisecond)

	_, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", itoa(listenPort)), 100*time.Millisecond)
	if err == nil {
		t.Fatal("expected dial to fail after listener removed")
	}
}

func TestManager_RefusedBackend(t *testing.T) {
	listenPort := freePort(t)
	refusedPort := freePort(t)

	stats := make(chan Stat, 1)
	m := newTestManager(t, func(s Stat) { stats <- s })
	defer m.StopAll()

	m.Sync([]wire.Service{{ID: 4, Name: "refused", ListenPort: listenPort, BackendHost: "127.0.0.1", BackendPort: refusedPort, Protocol: wire.ProtocolTCP}})
	time.Sleep(50 * time.Millisecond)

	conn, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", itoa(listenPort)), time.Second)
	if err != nil {
		t.Fatalf("dial proxy: %v", err)
	}
	defer conn.Close()

	select {
	case s := <-stats:
		if s.Status != wire.StatusRefused {
			t.Fatalf("status = %q, want refused", s.Status)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for stat")
	}
}
