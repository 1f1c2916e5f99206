package tools

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DanielHyeon/pms-ic-sub000/internal/logging"
)

// DefaultRateLimitPerMinute applies when neither the tool nor its policy
// declares a limit.
const DefaultRateLimitPerMinute = 60

// DefaultToolTimeout applies when neither the tool nor its policy declares
// one.
const DefaultToolTimeout = 30 * time.Second

// InvocationRingSize bounds the in-memory invocation history.
const InvocationRingSize = 1000

// Roles accepted by admin-only tools.
var adminRoles = map[string]bool{
	"ADMIN":  true,
	"SYSTEM": true,
}

// CostSink receives per-invocation cost. Implemented by the observability
// cost tracker; nil disables cost forwarding.
type CostSink interface {
	RecordToolCost(toolName, tenantID string, cost float64)
}

// GatewayMetrics aggregates invocation outcomes.
type GatewayMetrics struct {
	Total        int64              `json:"total"`
	ByStatus     map[Status]int64   `json:"by_status"`
	ByTool       map[string]int64   `json:"by_tool"`
	TotalCost    float64            `json:"total_cost"`
	AvgDuration  float64            `json:"avg_duration_ms"`
	totalElapsed int64
}

// Gateway wraps the registry with policy enforcement: access control, rate
// limiting, input validation, deadlines, and invocation accounting.
type Gateway struct {
	registry *Registry
	costs    CostSink

	mu      sync.Mutex
	windows map[string][]time.Time // (tool, user) -> call timestamps
	ring    []Invocation
	next    int
	metrics GatewayMetrics

	now func() time.Time // test seam
}

// NewGateway builds a gateway over the registry. costs may be nil.
func NewGateway(registry *Registry, costs CostSink) *Gateway {
	return &Gateway{
		registry: registry,
		costs:    costs,
		windows:  make(map[string][]time.Time),
		ring:     make([]Invocation, 0, InvocationRingSize),
		metrics: GatewayMetrics{
			ByStatus: make(map[Status]int64),
			ByTool:   make(map[string]int64),
		},
		now: time.Now,
	}
}

// Invoke runs one tool call through the full policy chain. It never panics a
// caller and always records an invocation, whatever the outcome.
func (g *Gateway) Invoke(ctx context.Context, toolName string, input map[string]any, tenantID, userID, role, traceID string) *Invocation {
	started := g.now()
	inv := &Invocation{
		ID:        uuid.NewString(),
		ToolName:  toolName,
		TenantID:  tenantID,
		UserID:    userID,
		Role:      role,
		TraceID:   traceID,
		StartedAt: started,
	}

	tool := g.registry.Get(toolName)
	switch {
	case tool == nil:
		g.finish(inv, nil, StatusFailed, fmt.Sprintf("%v: %s", ErrToolNotFound, toolName), nil)
		return inv
	case !g.registry.Enabled(toolName):
		g.finish(inv, tool, StatusFailed, fmt.Sprintf("%v: %s", ErrToolDisabled, toolName), nil)
		return inv
	}

	policy, hasPolicy := g.registry.Policy(toolName)

	if reason := g.accessDenied(tool, policy, hasPolicy, tenantID, role); reason != "" {
		g.finish(inv, tool, StatusUnauthorized, reason, nil)
		return inv
	}

	if !g.allowRate(tool, policy, userID) {
		g.finish(inv, tool, StatusRateLimited,
			fmt.Sprintf("rate limit exceeded for tool %s, retry in under a minute", toolName), nil)
		return inv
	}

	if err := validateArgs(tool, input); err != nil {
		g.finish(inv, tool, StatusFailed, err.Error(), nil)
		return inv
	}

	timeout := tool.Timeout
	if policy.Timeout > 0 {
		timeout = policy.Timeout
	}
	if timeout <= 0 {
		timeout = DefaultToolTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type handlerResult struct {
		output any
		err    error
	}
	// Buffered so the handler goroutine can exit even after a timeout.
	done := make(chan handlerResult, 1)
	go func() {
		out, err := tool.Handler(callCtx, input)
		done <- handlerResult{output: out, err: err}
	}()

	select {
	case res := <-done:
		switch {
		case res.err != nil && callCtx.Err() == context.DeadlineExceeded:
			g.finish(inv, tool, StatusTimeout, fmt.Sprintf("tool %s exceeded its %s deadline", toolName, timeout), nil)
		case res.err != nil:
			g.finish(inv, tool, StatusFailed, res.err.Error(), nil)
		default:
			g.finish(inv, tool, StatusSuccess, "", res.output)
		}
	case <-callCtx.Done():
		g.finish(inv, tool, StatusTimeout, fmt.Sprintf("tool %s exceeded its %s deadline", toolName, timeout), nil)
	}
	return inv
}

// accessDenied returns a denial reason, or "" when the call may proceed.
func (g *Gateway) accessDenied(tool *Tool, policy Policy, hasPolicy bool, tenantID, role string) string {
	if tool.AdminOnly && !adminRoles[strings.ToUpper(role)] {
		return fmt.Sprintf("tool %s requires an admin role", tool.Name)
	}
	if tool.Public {
		return ""
	}

	tenants := tool.AllowedTenants
	if hasPolicy && len(policy.AllowedTenants) > 0 {
		tenants = policy.AllowedTenants
	}
	if len(tenants) > 0 && !containsFold(tenants, tenantID) {
		return fmt.Sprintf("tenant %q is not allowed to call tool %s", tenantID, tool.Name)
	}

	roles := tool.AllowedRoles
	if hasPolicy && len(policy.AllowedRoles) > 0 {
		roles = policy.AllowedRoles
	}
	if len(roles) > 0 && !containsFold(roles, role) {
		return fmt.Sprintf("role %q is not allowed to call tool %s", role, tool.Name)
	}
	return ""
}

// allowRate applies the per-(tool, user) sliding one-minute window.
func (g *Gateway) allowRate(tool *Tool, policy Policy, userID string) bool {
	limit := tool.RateLimitPerMinute
	if policy.RateLimitPerMinute > 0 {
		limit = policy.RateLimitPerMinute
	}
	if limit <= 0 {
		limit = DefaultRateLimitPerMinute
	}

	key := tool.Name + "|" + userID
	now := g.now()
	cutoff := now.Add(-time.Minute)

	g.mu.Lock()
	defer g.mu.Unlock()

	window := g.windows[key]
	kept := window[:0]
	for _, t := range window {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= limit {
		g.windows[key] = kept
		return false
	}
	g.windows[key] = append(kept, now)
	return true
}

// finish stamps the invocation, stores it in the ring, accumulates metrics
// and cost, and emits the audit entry when required.
func (g *Gateway) finish(inv *Invocation, tool *Tool, status Status, errMsg string, output any) {
	inv.Status = status
	inv.Error = errMsg
	inv.Output = output
	inv.DurationMS = g.now().Sub(inv.StartedAt).Milliseconds()

	auditRequired := false
	if tool != nil {
		if status == StatusSuccess {
			inv.Cost = tool.CostPerCall
		}
		auditRequired = tool.AuditRequired
		if p, ok := g.registry.Policy(tool.Name); ok && p.AuditRequired {
			auditRequired = true
		}
	}

	g.mu.Lock()
	if len(g.ring) < InvocationRingSize {
		g.ring = append(g.ring, *inv)
	} else {
		g.ring[g.next] = *inv
	}
	g.next = (g.next + 1) % InvocationRingSize

	g.metrics.Total++
	g.metrics.ByStatus[status]++
	g.metrics.ByTool[inv.ToolName]++
	g.metrics.TotalCost += inv.Cost
	g.metrics.totalElapsed += inv.DurationMS
	g.mu.Unlock()

	if g.costs != nil && inv.Cost > 0 {
		g.costs.RecordToolCost(inv.ToolName, inv.TenantID, inv.Cost)
	}

	log := logging.L(logging.CategoryGateway)
	if auditRequired {
		logging.AuditEvent(logging.AuditToolInvoke,
			zap.String("invocation_id", inv.ID),
			zap.String("tool", inv.ToolName),
			zap.String("tenant", inv.TenantID),
			zap.String("user", inv.UserID),
			zap.String("role", inv.Role),
			zap.String("status", string(status)),
			zap.Int64("duration_ms", inv.DurationMS))
	}
	switch status {
	case StatusSuccess:
		log.Debug("tool invoked",
			zap.String("tool", inv.ToolName), zap.Int64("duration_ms", inv.DurationMS))
	case StatusUnauthorized:
		logging.AuditEvent(logging.AuditToolDenied,
			zap.String("tool", inv.ToolName),
			zap.String("tenant", inv.TenantID),
			zap.String("user", inv.UserID),
			zap.String("role", inv.Role),
			zap.String("reason", errMsg))
	default:
		log.Warn("tool invocation failed",
			zap.String("tool", inv.ToolName),
			zap.String("status", string(status)),
			zap.String("error", errMsg))
	}
}

// Capabilities exports the registry's capability descriptors.
func (g *Gateway) Capabilities() []Capability {
	return g.registry.Capabilities()
}

// Recent returns up to n invocations, most recent first.
func (g *Gateway) Recent(n int) []Invocation {
	g.mu.Lock()
	defer g.mu.Unlock()

	size := len(g.ring)
	if n <= 0 || n > size {
		n = size
	}
	out := make([]Invocation, 0, n)
	idx := g.next - 1
	for len(out) < n {
		if idx < 0 {
			idx = size - 1
		}
		out = append(out, g.ring[idx])
		idx--
	}
	return out
}

// Metrics returns a snapshot of the gateway counters.
func (g *Gateway) Metrics() GatewayMetrics {
	g.mu.Lock()
	defer g.mu.Unlock()

	snap := GatewayMetrics{
		Total:     g.metrics.Total,
		ByStatus:  make(map[Status]int64, len(g.metrics.ByStatus)),
		ByTool:    make(map[string]int64, len(g.metrics.ByTool)),
		TotalCost: g.metrics.TotalCost,
	}
	for k, v := range g.metrics.ByStatus {
		snap.ByStatus[k] = v
	}
	for k, v := range g.metrics.ByTool {
		snap.ByTool[k] = v
	}
	if g.metrics.Total > 0 {
		snap.AvgDuration = float64(g.metrics.totalElapsed) / float64(g.metrics.Total)
	}
	return snap
}

// ResetForTests clears windows, ring, and metrics.
func (g *Gateway) ResetForTests() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.windows = make(map[string][]time.Time)
	g.ring = g.ring[:0]
	g.next = 0
	g.metrics = GatewayMetrics{
		ByStatus: make(map[Status]int64),
		ByTool:   make(map[string]int64),
	}
}

func containsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}
