// Package firewall reconciles the host's iptables rules against the set of
// FirewallRule entries an Agent receives from the Controller. Rules live in
// a dedicated NEKOPROXY chain jumped to from INPUT, so reconciliation never
// touches rules the operator manages by hand.
package firewall

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/m0nnnna/nekoproxy/internal/shared/wire"
)

// ChainName is the dedicated iptables chain all rules this package writes
// live in, jumped to from INPUT.
const ChainName = "NEKOPROXY"

// candidate interface names tried, in order, when resolving an abstract
// interface type to a concrete device.
var (
	wireguardCandidates = []string{"wg0", "wg1", "wg-tunnel"}
	publicFallbacks     = []string{"eth0", "ens3", "ens192", "enp0s3", "eno1"}
)

// AlertFunc is called when a rule's interface cannot be resolved, so the
// caller can surface it as an operator-visible alert.
type AlertFunc func(ctx context.Context, message string)

// ruleKey uniquely identifies one reconciled iptables rule.
type ruleKey struct {
	port     int
	protocol string
	iface    string
	action   string
}

// shellRunner abstracts the iptables/ip subprocess calls so tests can
// substitute a fake without invoking real system tools.
type shellRunner interface {
	run(ctx context.Context, args ...string) (string, error)
	check(ctx context.Context, args ...string) error
	iptablesAvailable(ctx context.Context) bool
	interfaceExists(ctx context.Context, iface string) bool
	defaultRouteInterface(ctx context.Context) (string, bool)
}

// Reconciler drives iptables toward the desired rule set on each Sync call.
type Reconciler struct {
	runner shellRunner
	alert  AlertFunc
	logger *zap.Logger

	mu           sync.Mutex
	initialized  bool
	current      map[ruleKey]struct{}
	interfaceMap map[string]string
}

// New constructs a Reconciler. alert may be nil, in which case unresolved
// interfaces are only logged.
func New(alert AlertFunc, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		runner:       &commandRunner{},
		alert:        alert,
		logger:       logger.Named("firewall"),
		current:      make(map[ruleKey]struct{}),
		interfaceMap: make(map[string]string),
	}
}

// Initialize creates the dedicated chain and links it from INPUT, if not
// already done. Safe to call repeatedly.
func (r *Reconciler) Initialize(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.initializeLocked(ctx)
}

func (r *Reconciler) initializeLocked(ctx context.Context) error {
	if r.initialized {
		return nil
	}

	if !r.runner.iptablesAvailable(ctx) {
		return fmt.Errorf("firewall: iptables not available")
	}

	r.runner.run(ctx, "-N", ChainName) // ignore "already exists"

	if err := r.runner.check(ctx, "INPUT", "-j", ChainName); err != nil {
		if _, runErr := r.runner.run(ctx, "-I", "INPUT", "-j", ChainName); runErr != nil {
			return fmt.Errorf("firewall: link chain to INPUT: %w", runErr)
		}
		r.logger.Info("linked firewall chain to INPUT", zap.String("chain", ChainName))
	}

	r.initialized = true
	r.logger.Info("firewall reconciler initialized")
	return nil
}

// Sync reconciles iptables against the desired, enabled rule set. Rules
// whose interface cannot be resolved are skipped and alerted on.
func (r *Reconciler) Sync(ctx context.Context, rules []wire.FirewallRule) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.initialized {
		if err := r.initializeLocked(ctx); err != nil {
			r.logger.Warn("firewall not initialized, skipping rule sync", zap.Error(err))
			return
		}
	}

	desired := make(map[ruleKey]string) // key -> resolved interface
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		iface, err := r.resolveInterface(ctx, rule.Interface)
		if err != nil || iface == "" {
			msg := fmt.Sprintf("cannot resolve interface %q for firewall rule on port %d", rule.Interface, rule.Port)
			r.logger.Warn(msg)
			if r.alert != nil {
				r.alert(ctx, msg)
			}
			continue
		}
		key := ruleKey{port: rule.Port, protocol: rule.Protocol, iface: iface, action: rule.Action}
		desired[key] = iface
	}

	for key := range r.current {
		if _, ok := desired[key]; !ok {
			if r.removeRule(ctx, key) {
				delete(r.current, key)
			}
		}
	}

	for key, iface := range desired {
		if _, ok := r.current[key]; ok {
			continue
		}
		if r.addRule(ctx, key, iface) {
			r.current[key] = struct{}{}
		}
	}

	r.logger.Info("firewall rules synced", zap.Int("active_rules", len(r.current)))
}

func (r *Reconciler) resolveInterface(ctx context.Context, ifaceType string) (string, error) {
	if iface, ok := r.interfaceMap[ifaceType]; ok {
		return iface, nil
	}

	switch ifaceType {
	case "wireguard":
		for _, candidate := range wireguardCandidates {
			if r.runner.interfaceExists(ctx, candidate) {
				r.interfaceMap[ifaceType] = candidate
				return candidate, nil
			}
		}
		return "", fmt.Errorf("no wireguard interface found")

	case "public":
		if iface, ok := r.runner.defaultRouteInterface(ctx); ok {
			r.interfaceMap[ifaceType] = iface
			return iface, nil
		}
		for _, candidate := range publicFallbacks {
			if r.runner.interfaceExists(ctx, candidate) {
				r.interfaceMap[ifaceType] = candidate
				return candidate, nil
			}
		}
		return "", fmt.Errorf("no public interface found")

	default:
		if r.runner.interfaceExists(ctx, ifaceType) {
			return ifaceType, nil
		}
		return "", fmt.Errorf("interface %q does not exist", ifaceType)
	}
}

func (r *Reconciler) addRule(ctx context.Context, key ruleKey, iface string) bool {
	action := iptablesAction(key.action)
	args := []string{"-A", ChainName, "-i", iface, "-p", key.protocol, "--dport", strconv.Itoa(key.port), "-j", action}
	if _, err := r.runner.run(ctx, args...); err != nil {
		r.logger.Warn("failed to add firewall rule", zap.Any("key", key), zap.Error(err))
		return false
	}
	r.logger.Info("added firewall rule", zap.String("action", action), zap.String("protocol", key.protocol), zap.Int("port", key.port), zap.String("interface", iface))
	return true
}

// removeRule reports whether the rule was actually removed; on failure the
// caller keeps the key in the current set so the next sync retries.
func (r *Reconciler) removeRule(ctx context.Context, key ruleKey) bool {
	action := iptablesAction(key.action)
	args := []string{"-D", ChainName, "-i", key.iface, "-p", key.protocol, "--dport", strconv.Itoa(key.port), "-j", action}
	if _, err := r.runner.run(ctx, args...); err != nil {
		r.logger.Warn("failed to remove firewall rule", zap.Any("key", key), zap.Error(err))
		return false
	}
	r.logger.Info("removed firewall rule", zap.String("action", action), zap.String("protocol", key.protocol), zap.Int("port", key.port), zap.String("interface", key.iface))
	return true
}

// Shutdown flushes the chain, unlinks it from INPUT, and deletes it.
func (r *Reconciler) Shutdown(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized {
		return
	}
	r.runner.run(ctx, "-F", ChainName)
	r.current = make(map[ruleKey]struct{})
	r.runner.run(ctx, "-D", "INPUT", "-j", ChainName)
	r.runner.run(ctx, "-X", ChainName)
	r.logger.Info("firewall reconciler shut down")
}

func iptablesAction(action string) string {
	if action == wire.ActionBlock {
		return "DROP"
	}
	return "ACCEPT"
}

// commandRunner shells out to iptables/ip, matching the exec.CommandContext
// pattern for invoking external tools with a bounded context.
type commandRunner struct{}

func (c *commandRunner) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "iptables", args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	if err != nil && strings.Contains(out.String(), "already exists") {
		return out.String(), nil
	}
	return out.String(), err
}

func (c *commandRunner) check(ctx context.Context, args ...string) error {
	full := append([]string{"-C"}, args...)
	_, err := c.run(ctx, full...)
	return err
}

func (c *commandRunner) iptablesAvailable(ctx context.Context) bool {
	cmd := exec.CommandContext(ctx, "iptables", "-V")
	return cmd.Run() == nil
}

func (c *commandRunner) interfaceExists(ctx context.Context, iface string) bool {
	cmd := exec.CommandContext(ctx, "ip", "link", "show", iface)
	return cmd.Run() == nil
}

func (c *commandRunner) defaultRouteInterface(ctx context.Context) (string, bool) {
	cmd := exec.CommandContext(ctx, "ip", "route", "show", "default")
	out, err := cmd.Output()
	if err != nil {
		return "", false
	}
	fields := strings.Fields(string(out))
	for i, f := range fields {
		if f == "dev" && i+1 < len(fields) {
			return fields[i+1], true
		}
	}
	return "", false
}
