package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mohammad-safakhou/researchflow/internal/checkpoint"
	"github.com/mohammad-safakhou/researchflow/internal/telemetry"
)

const (
	nsGraph      = "graph"
	nsInterrupts = "interrupts"

	keyState   = "state"
	keyNode    = "node"
	keyPending = "pending"
)

// Runner drives a thread through the state machine. Checkpointing is
// best-effort: the store is expected to be wrapped so write failures are
// logged, not raised.
type Runner struct {
	Nodes       *Nodes
	Checkpoints checkpoint.Store
	Logger      *log.Logger
	Tracer      trace.Tracer

	// MaxVisits bounds node transitions per invocation so a routing bug
	// cannot spin forever.
	MaxVisits int

	// NodeTimeout bounds a single node invocation. Zero disables the
	// per-node deadline.
	NodeTimeout time.Duration
}

func (r *Runner) tracer() trace.Tracer {
	if r.Tracer != nil {
		return r.Tracer
	}
	return otel.Tracer("researchflow/workflow")
}

// NoSuspendedRunError is returned when a resume arrives for a thread that
// has nothing pending.
type NoSuspendedRunError struct {
	ThreadID string
}

func (e *NoSuspendedRunError) Error() string {
	return fmt.Sprintf("thread %s has no suspended run to resume", e.ThreadID)
}

// Run executes a fresh thread from the coordinator until it terminates
// or suspends. A non-nil Interrupt means the run is parked awaiting
// Resume.
func (r *Runner) Run(ctx context.Context, threadID string, state State) (State, *Interrupt, error) {
	return r.loop(ctx, threadID, state, NodeCoordinator, "")
}

// Resume re-enters a suspended thread at human_feedback with the given
// feedback value.
func (r *Runner) Resume(ctx context.Context, threadID, feedback string) (State, *Interrupt, error) {
	raw, ok, err := r.Checkpoints.Get(ctx, nsInterrupts, threadID, keyPending)
	if err != nil {
		return State{}, nil, fmt.Errorf("loading pending interrupt for %s: %w", threadID, err)
	}
	if !ok || len(raw) == 0 {
		return State{}, nil, &NoSuspendedRunError{ThreadID: threadID}
	}

	stateRaw, ok, err := r.Checkpoints.Get(ctx, nsGraph, threadID, keyState)
	if err != nil || !ok {
		return State{}, nil, fmt.Errorf("loading state for %s: checkpoint missing (err=%v)", threadID, err)
	}
	state, err := UnmarshalState(stateRaw)
	if err != nil {
		return State{}, nil, fmt.Errorf("decoding state for %s: %w", threadID, err)
	}

	_ = r.Checkpoints.Put(ctx, nsInterrupts, threadID, keyPending, nil)
	out, interrupt, err := r.loop(ctx, threadID, state, NodeHumanFeedback, feedback)
	if err != nil {
		// A bad feedback value fails only this resume attempt. The
		// suspension stays pending so a later, valid resume still works.
		var fe *FeedbackError
		if errors.As(err, &fe) {
			_ = r.Checkpoints.Put(ctx, nsInterrupts, threadID, keyPending, raw)
		}
	}
	return out, interrupt, err
}

func (r *Runner) loop(ctx context.Context, threadID string, state State, node Node, feedback string) (State, *Interrupt, error) {
	maxVisits := r.MaxVisits
	if maxVisits <= 0 {
		maxVisits = 25
	}

	for visits := 0; visits < maxVisits; visits++ {
		if err := ctx.Err(); err != nil {
			return state, nil, err
		}
		r.checkpointState(ctx, threadID, state, node)

		var (
			cmd       Command
			interrupt *Interrupt
			err       error
		)
		started := time.Now()
		nodeCtx := ctx
		cancel := func() {}
		if r.NodeTimeout > 0 {
			nodeCtx, cancel = context.WithTimeout(ctx, r.NodeTimeout)
		}
		nodeCtx, span := r.tracer().Start(nodeCtx, "workflow."+string(node),
			trace.WithAttributes(attribute.String("thread.id", threadID)))
		switch node {
		case NodeCoordinator:
			cmd, err = r.Nodes.Coordinator(nodeCtx, state)
		case NodeBackgroundInvestigator:
			cmd, err = r.Nodes.BackgroundInvestigator(nodeCtx, state)
		case NodePlanner:
			cmd, err = r.Nodes.Planner(nodeCtx, state)
		case NodeHumanFeedback:
			cmd, interrupt, err = r.Nodes.HumanFeedback(nodeCtx, state, feedback)
			feedback = ""
		case NodeResearchTeam:
			cmd = r.Nodes.ResearchTeam(state)
		case NodeResearcher:
			cmd, err = r.Nodes.Researcher(nodeCtx, state)
		case NodeCoder:
			cmd, err = r.Nodes.Coder(nodeCtx, state)
		case NodeReporter:
			cmd, err = r.Nodes.Reporter(nodeCtx, state)
		default:
			span.End()
			cancel()
			return state, nil, fmt.Errorf("unknown node %q", node)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		cancel()
		telemetry.ObserveNode(string(node), started)
		if err != nil {
			return state, nil, fmt.Errorf("node %s: %w", node, err)
		}

		if interrupt != nil {
			r.suspend(ctx, threadID, state, interrupt)
			r.Nodes.Sink.emit(Emission{Agent: string(NodeHumanFeedback), Node: NodeHumanFeedback, Interrupt: interrupt})
			return state, interrupt, nil
		}

		state = state.Apply(cmd.Patch)
		node = cmd.Goto

		if node == NodeEnd {
			r.checkpointState(ctx, threadID, state, node)
			return state, nil, nil
		}
	}
	return state, nil, fmt.Errorf("thread %s exceeded %d node visits", threadID, maxVisits)
}

func (r *Runner) checkpointState(ctx context.Context, threadID string, state State, node Node) {
	raw, err := state.Marshal()
	if err != nil {
		r.Logger.Printf("[FLOW] state marshal failed for %s: %v", threadID, err)
		return
	}
	_ = r.Checkpoints.Put(ctx, nsGraph, threadID, keyState, raw)
	_ = r.Checkpoints.Put(ctx, nsGraph, threadID, keyNode, []byte(node))
}

func (r *Runner) suspend(ctx context.Context, threadID string, state State, interrupt *Interrupt) {
	r.checkpointState(ctx, threadID, state, NodeHumanFeedback)
	raw, err := json.Marshal(interrupt)
	if err != nil {
		r.Logger.Printf("[FLOW] interrupt marshal failed for %s: %v", threadID, err)
		return
	}
	_ = r.Checkpoints.Put(ctx, nsInterrupts, threadID, keyPending, raw)
	r.Logger.Printf("[FLOW] thread %s suspended awaiting plan review", threadID)
}
