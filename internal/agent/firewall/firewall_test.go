package firewall

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/m0nnnna/nekoproxy/internal/shared/wire"
)

type fakeRunner struct {
	existingInterfaces map[string]bool
	defaultIface       string
	failRemove         bool
	added              []string
	removed            []string
}

func (f *fakeRunner) run(ctx context.Context, args ...string) (string, error) {
	if len(args) > 0 && args[0] == "-A" {
		f.added = append(f.added, args[len(args)-1]+":"+args[5])
	}
	if len(args) > 0 && args[0] == "-D" {
		if f.failRemove {
			return "", context.DeadlineExceeded
		}
		f.removed = append(f.removed, args[len(args)-1]+":"+args[5])
	}
	return "", nil
}

func (f *fakeRunner) check(ctx context.Context, args ...string) error { return nil }
func (f *fakeRunner) iptablesAvailable(ctx context.Context) bool      { return true }

func (f *fakeRunner) interfaceExists(ctx context.Context, iface string) bool {
	return f.existingInterfaces[iface]
}

func (f *fakeRunner) defaultRouteInterface(ctx context.Context) (string, bool) {
	if f.defaultIface == "" {
		return "", false
	}
	return f.defaultIface, true
}

func newTestReconciler(fr *fakeRunner) *Reconciler {
	r := New(nil, zap.NewNop())
	r.runner = fr
	return r
}

func TestReconciler_ResolvesWireguardInterface(t *testing.T) {
	fr := &fakeRunner{existingInterfaces: map[string]bool{"wg0": true}}
	r := newTestReconciler(fr)

	iface, err := r.resolveInterface(context.Background(), "wireguard")
	require.NoError(t, err)
	assert.Equal(t, "wg0", iface)
}

func TestReconciler_ResolvesPublicViaDefaultRoute(t *testing.T) {
	fr := &fakeRunner{defaultIface: "eth1"}
	r := newTestReconciler(fr)

	iface, err := r.resolveInterface(context.Background(), "public")
	require.NoError(t, err)
	assert.Equal(t, "eth1", iface)
}

func TestReconciler_UnresolvableInterfaceAlerts(t *testing.T) {
	fr := &fakeRunner{}
	var alerted string
	r := New(func(ctx context.Context, message string) { alerted = message }, zap.NewNop())
	r.runner = fr

	r.Sync(context.Background(), []wire.FirewallRule{
		{Port: 443, Protocol: "tcp", Interface: "wireguard", Action: "allow", Enabled: true},
	})

	assert.Contains(t, alerted, "wireguard")
	assert.Empty(t, r.current)
}

func TestReconciler_SyncAddsAndRemovesRules(t *testing.T) {
	fr := &fakeRunner{existingInterfaces: map[string]bool{"wg0": true}}
	r := newTestReconciler(fr)
	ctx := context.Background()

	r.Sync(ctx, []wire.FirewallRule{
		{Port: 443, Protocol: "tcp", Interface: "wireguard", Action: "allow", Enabled: true},
	})
	assert.Len(t, r.current, 1)
	assert.Len(t, fr.added, 1)

	r.Sync(ctx, nil)
	assert.Empty(t, r.current)
	assert.Len(t, fr.removed, 1)
}

func TestReconciler_FailedRemovalIsRetriedNextSync(t *testing.T) {
	fr := &fakeRunner{existingInterfaces: map[string]bool{"wg0": true}, failRemove: true}
	r := newTestReconciler(fr)
	ctx := context.Background()

	r.Sync(ctx, []wire.FirewallRule{
		{Port: 443, Protocol: "tcp", Interface: "wireguard", Action: "allow", Enabled: true},
	})
	require.Len(t, r.current, 1)

	// The -D fails, so the key must stay in the current set for a retry.
	r.Sync(ctx, nil)
	assert.Len(t, r.current, 1)
	assert.Empty(t, fr.removed)

	fr.failRemove = false
	r.Sync(ctx, nil)
	assert.Empty(t, r.current)
	assert.Len(t, fr.removed, 1)
}
