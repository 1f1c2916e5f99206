package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DanielHyeon/pms-ic-sub000/internal/logging"
)

// NodeKind is the standard node taxonomy.
type NodeKind string

const (
	NodeRouter       NodeKind = "router"
	NodeBuildContext NodeKind = "build_context"
	NodeRetrieve     NodeKind = "retrieve"
	NodeReason       NodeKind = "reason"
	NodeVerify       NodeKind = "verify"
	NodeAct          NodeKind = "act"
	NodeGate         NodeKind = "gate"
	NodeRecover      NodeKind = "recover"
	NodeObserve      NodeKind = "observe"
)

// RunFunc executes one node against the current state and returns a delta.
// The state argument is a copy; mutations to it are discarded.
type RunFunc func(ctx context.Context, s State) (Delta, error)

// Node is one unit in a workflow template.
type Node struct {
	Name string
	Kind NodeKind
	Run  RunFunc
}

// Step is one stage: a single node or a parallel fan-out that joins before
// the next step. Fan-out deltas merge in declared order.
type Step struct {
	Nodes []Node
}

// Seq wraps a single node as a step.
func Seq(n Node) Step { return Step{Nodes: []Node{n}} }

// Fan wraps nodes that run in parallel within one step.
func Fan(nodes ...Node) Step { return Step{Nodes: nodes} }

// Template is a declared workflow: ordered steps plus a terminal observe
// node that always runs, on both success and failure paths.
type Template struct {
	Name    string
	Steps   []Step
	Observe *Node
}

// Observer receives run lifecycle callbacks. The observability tracer
// implements this; nil is always safe.
type Observer interface {
	NodeCompleted(template, node string, kind NodeKind, duration time.Duration, err error)
	RunCompleted(template string, final State, duration time.Duration)
}

const (
	maxToolErrorRetries   = 2
	maxLowConfRetries     = 1
	initialRetryBackoff   = 200 * time.Millisecond
	conflictConfidenceCut = 0.6
)

// Engine runs templates over immutable state merges.
type Engine struct {
	observer Observer
	backoff  time.Duration
	sleep    func(context.Context, time.Duration) // test seam
}

// NewEngine builds an engine. observer may be nil.
func NewEngine(observer Observer) *Engine {
	return &Engine{
		observer: observer,
		backoff:  initialRetryBackoff,
		sleep:    sleepCtx,
	}
}

// Run executes a template to a terminal status. It never returns an error;
// failures land in the final state's Status and Failure fields.
func (e *Engine) Run(ctx context.Context, tpl Template, initial State) State {
	started := time.Now()
	state := initial
	if state.RunID == "" {
		state.RunID = uuid.NewString()
	}
	if state.Status == "" {
		state.Status = StatusRunning
	}
	if state.Mode == "" {
		state.Mode = ModeSuggest
	}

	log := logging.L(logging.CategoryWorkflow)
	log.Debug("workflow started",
		zap.String("template", tpl.Name), zap.String("run_id", state.RunID))

	lowConfRetries := 0
	lastRetrieveStep := -1

	for i := 0; i < len(tpl.Steps); i++ {
		if statusRank(state.Status) > 0 {
			break
		}
		step := tpl.Steps[i]
		if stepHasKind(step, NodeRetrieve) {
			lastRetrieveStep = i
		}

		state = e.runStep(ctx, tpl.Name, step, state)

		if state.Failure == nil {
			continue
		}
		var rerun int
		state, rerun = e.recover(state, lastRetrieveStep, &lowConfRetries)
		if rerun >= 0 {
			i = rerun - 1
		}
	}

	if state.Status == StatusRunning {
		state = state.Merge(Delta{Status: StatusCompleted})
	}

	if tpl.Observe != nil {
		state = e.runObserve(ctx, tpl, state)
	}

	duration := time.Since(started)
	log.Info("workflow finished",
		zap.String("template", tpl.Name),
		zap.String("run_id", state.RunID),
		zap.String("status", string(state.Status)),
		zap.Duration("duration", duration))
	if e.observer != nil {
		e.observer.RunCompleted(tpl.Name, state, duration)
	}
	return state
}

// runStep executes one step, fanning out when it holds several nodes.
// Parallel nodes all see the same input state; their deltas merge in
// declared order so conflicts resolve deterministically.
func (e *Engine) runStep(ctx context.Context, template string, step Step, state State) State {
	if len(step.Nodes) == 1 {
		delta := e.runNode(ctx, template, step.Nodes[0], state)
		return state.Merge(delta)
	}

	deltas := make([]Delta, len(step.Nodes))
	g, gctx := errgroup.WithContext(ctx)
	for idx, node := range step.Nodes {
		g.Go(func() error {
			deltas[idx] = e.runNode(gctx, template, node, state)
			return nil
		})
	}
	_ = g.Wait()

	for _, d := range deltas {
		state = state.Merge(d)
	}
	return state
}

// runNode executes a node with tool-error retries and exponential backoff.
func (e *Engine) runNode(ctx context.Context, template string, node Node, state State) Delta {
	backoff := e.backoff
	var delta Delta
	var err error

	for attempt := 0; ; attempt++ {
		started := time.Now()
		delta, err = node.Run(ctx, state)
		if e.observer != nil {
			e.observer.NodeCompleted(template, node.Name, node.Kind, time.Since(started), err)
		}

		retriable := err != nil ||
			(delta.Failure != nil && delta.Failure.Type == FailureToolError)
		if !retriable || attempt >= maxToolErrorRetries || ctx.Err() != nil {
			break
		}
		logging.L(logging.CategoryWorkflow).Warn("node retry",
			zap.String("node", node.Name), zap.Int("attempt", attempt+1), zap.Error(err))
		e.sleep(ctx, backoff)
		backoff *= 2
	}

	if err != nil {
		return Delta{Failure: &Failure{
			Type:   FailureToolError,
			Detail: err.Error(),
			Node:   node.Name,
		}}
	}
	if delta.Failure != nil && delta.Failure.Node == "" {
		f := *delta.Failure
		f.Node = node.Name
		delta.Failure = &f
	}
	return delta
}

// recover applies the failure-type recovery table. It returns the new state
// and, when a step must re-run, that step's index (otherwise -1).
func (e *Engine) recover(state State, lastRetrieveStep int, lowConfRetries *int) (State, int) {
	f := state.Failure
	log := logging.L(logging.CategoryWorkflow)

	switch f.Type {
	case FailureInfoMissing:
		return state.Merge(Delta{
			Status: StatusWaitingApproval,
			Result: map[string]any{
				"clarification": f.Detail,
				"reason":        "required information is missing",
			},
		}), -1

	case FailureConflict:
		// Both sides stay attached as evidence; the run continues in
		// suggestion mode with reduced confidence.
		return state.Merge(Delta{
			Mode:         ModeSuggest,
			Confidence:   Conf(state.Confidence * conflictConfidenceCut),
			Data:         map[string]any{"conflict": f.Detail},
			ClearFailure: true,
		}), -1

	case FailurePolicyViolation:
		return state.Merge(Delta{
			Status: StatusFailed,
			Result: map[string]any{"denied_reason": f.Detail},
		}), -1

	case FailureLowConfidence:
		if *lowConfRetries < maxLowConfRetries && lastRetrieveStep >= 0 {
			*lowConfRetries++
			log.Debug("low confidence, broadening retrieval",
				zap.String("run_id", state.RunID))
			return state.Merge(Delta{
				Data:         map[string]any{"broaden": true},
				ClearFailure: true,
			}), lastRetrieveStep
		}
		return state.Merge(Delta{
			Mode: ModeSuggest,
			Data: map[string]any{
				"caveat": fmt.Sprintf("low confidence: %s", f.Detail),
			},
			ClearFailure: true,
		}), -1

	case FailureDataBoundary:
		// Never fall back to a different scope.
		return state.Merge(Delta{
			Status: StatusFailed,
			Result: map[string]any{"denied_reason": f.Detail},
		}), -1

	default: // TOOL_ERROR after exhausted retries
		return state.Merge(Delta{
			Status: StatusFailed,
			Result: map[string]any{
				"error":       f.Detail,
				"failed_node": f.Node,
			},
		}), -1
	}
}

func (e *Engine) runObserve(ctx context.Context, tpl Template, state State) State {
	delta, err := tpl.Observe.Run(ctx, state)
	if err != nil {
		logging.L(logging.CategoryWorkflow).Warn("observe node failed",
			zap.String("template", tpl.Name), zap.Error(err))
		return state
	}
	return state.Merge(delta)
}

func stepHasKind(step Step, kind NodeKind) bool {
	for _, n := range step.Nodes {
		if n.Kind == kind {
			return true
		}
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
