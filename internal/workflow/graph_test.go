package workflow

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/mohammad-safakhou/researchflow/internal/checkpoint"
	"github.com/mohammad-safakhou/researchflow/provider"
)

func testRunner(p provider.Provider, rec *emissionRecorder, store checkpoint.Store) *Runner {
	return &Runner{
		Nodes:       testNodes(p, defaultWorkflowConfig(), rec),
		Checkpoints: store,
		Logger:      log.New(io.Discard, "", 0),
		MaxVisits:   25,
	}
}

func handoffResponse() provider.Response {
	return provider.Response{ToolCalls: []provider.ToolCall{{
		ID: "c1", Name: "handoff_to_planner",
		Arguments: `{"research_topic":"quantum computing","locale":"en-US"}`,
	}}}
}

func TestRunSuspendsAtHumanFeedback(t *testing.T) {
	p := &fakeProvider{responses: []provider.Response{
		handoffResponse(),
		{Content: validPlanJSON},
	}}
	rec := &emissionRecorder{}
	store := checkpoint.NewMemoryStore()
	r := testRunner(p, rec, store)

	state := State{Messages: []provider.Message{{Role: "user", Content: "Tell me about quantum computing"}}}
	_, interrupt, err := r.Run(context.Background(), "t1", state)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if interrupt == nil {
		t.Fatal("expected the run to suspend")
	}

	// The suspension is durable: state and pending interrupt are in the
	// checkpoint store.
	if _, ok, _ := store.Get(context.Background(), "graph", "t1", "state"); !ok {
		t.Fatal("state not checkpointed")
	}
	raw, ok, _ := store.Get(context.Background(), "interrupts", "t1", "pending")
	if !ok || len(raw) == 0 {
		t.Fatal("pending interrupt not checkpointed")
	}

	// And the sink saw the interrupt emission.
	var sawInterrupt bool
	for _, e := range rec.emissions {
		if e.Interrupt != nil {
			sawInterrupt = true
		}
	}
	if !sawInterrupt {
		t.Fatal("interrupt not emitted")
	}
}

func TestResumeAcceptedRunsToCompletion(t *testing.T) {
	p := &fakeProvider{responses: []provider.Response{
		handoffResponse(),
		{Content: validPlanJSON},
	}}
	store := checkpoint.NewMemoryStore()
	r := testRunner(p, nil, store)

	state := State{Messages: []provider.Message{{Role: "user", Content: "Tell me about quantum computing"}}}
	_, interrupt, err := r.Run(context.Background(), "t1", state)
	if err != nil || interrupt == nil {
		t.Fatalf("run: err=%v interrupt=%v", err, interrupt)
	}

	// Responses consumed on resume: researcher answer, then the second
	// planner pass is skipped (budget), then the reporter.
	p.mu.Lock()
	p.responses = append(p.responses,
		provider.Response{Content: "research findings"},
		provider.Response{Content: "# Final Report"},
	)
	p.mu.Unlock()

	final, interrupt, err := r.Resume(context.Background(), "t1", "[ACCEPTED]")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if interrupt != nil {
		t.Fatal("resume suspended again")
	}
	if final.PlanIterations != 1 {
		t.Fatalf("plan_iterations = %d, want 1", final.PlanIterations)
	}
	if final.FinalReport != "# Final Report" {
		t.Fatalf("final report = %q", final.FinalReport)
	}
	if len(final.Observations) != 1 || final.Observations[0] != "research findings" {
		t.Fatalf("observations = %+v", final.Observations)
	}
	if final.Plan == nil || final.Plan.Steps[0].ExecutionRes == nil {
		t.Fatal("step not completed")
	}
}

func TestResumeEditPlanTriggersReplanning(t *testing.T) {
	p := &fakeProvider{responses: []provider.Response{
		handoffResponse(),
		{Content: validPlanJSON},
	}}
	store := checkpoint.NewMemoryStore()
	r := testRunner(p, nil, store)

	state := State{Messages: []provider.Message{{Role: "user", Content: "Tell me about quantum computing"}}}
	if _, interrupt, err := r.Run(context.Background(), "t1", state); err != nil || interrupt == nil {
		t.Fatalf("run: err=%v interrupt=%v", err, interrupt)
	}

	// The planner answers again after the edit, then suspends again for
	// review.
	p.mu.Lock()
	p.responses = append(p.responses, provider.Response{Content: validPlanJSON})
	p.mu.Unlock()

	resumed, interrupt, err := r.Resume(context.Background(), "t1", "[EDIT_PLAN] please add a step")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if interrupt == nil {
		t.Fatal("expected a second review round")
	}
	var sawFeedback bool
	for _, m := range resumed.Messages {
		if m.Content == "[EDIT_PLAN] please add a step" {
			sawFeedback = true
		}
	}
	if !sawFeedback {
		t.Fatalf("feedback not appended to messages: %+v", resumed.Messages)
	}
}

func TestResumeWithoutSuspensionFails(t *testing.T) {
	r := testRunner(&fakeProvider{}, nil, checkpoint.NewMemoryStore())

	_, _, err := r.Resume(context.Background(), "ghost", "[ACCEPTED]")
	var missing *NoSuspendedRunError
	if !errors.As(err, &missing) {
		t.Fatalf("err = %v, want NoSuspendedRunError", err)
	}
}

func TestResumeUnsupportedFeedbackSurfacesFeedbackError(t *testing.T) {
	p := &fakeProvider{responses: []provider.Response{
		handoffResponse(),
		{Content: validPlanJSON},
	}}
	store := checkpoint.NewMemoryStore()
	r := testRunner(p, nil, store)

	state := State{Messages: []provider.Message{{Role: "user", Content: "q"}}}
	if _, interrupt, err := r.Run(context.Background(), "t1", state); err != nil || interrupt == nil {
		t.Fatalf("run: err=%v interrupt=%v", err, interrupt)
	}

	_, _, err := r.Resume(context.Background(), "t1", "whatever")
	var fe *FeedbackError
	if !errors.As(err, &fe) {
		t.Fatalf("err = %v, want FeedbackError", err)
	}
}

func TestResumeAfterBadFeedbackStillWorks(t *testing.T) {
	p := &fakeProvider{responses: []provider.Response{
		handoffResponse(),
		{Content: validPlanJSON},
	}}
	store := checkpoint.NewMemoryStore()
	r := testRunner(p, nil, store)

	state := State{Messages: []provider.Message{{Role: "user", Content: "q"}}}
	if _, interrupt, err := r.Run(context.Background(), "t1", state); err != nil || interrupt == nil {
		t.Fatalf("run: err=%v interrupt=%v", err, interrupt)
	}

	// A bad resume value fails, but the suspension must survive it.
	_, _, err := r.Resume(context.Background(), "t1", "bogus")
	var fe *FeedbackError
	if !errors.As(err, &fe) {
		t.Fatalf("err = %v, want FeedbackError", err)
	}
	raw, ok, _ := store.Get(context.Background(), "interrupts", "t1", "pending")
	if !ok || len(raw) == 0 {
		t.Fatal("pending interrupt lost after bad feedback")
	}

	final, interrupt, err := r.Resume(context.Background(), "t1", "[ACCEPTED]")
	if err != nil {
		t.Fatalf("resume after bad feedback: %v", err)
	}
	if interrupt != nil {
		t.Fatal("accepted resume must not suspend again")
	}
	if final.FinalReport == "" {
		t.Fatal("accepted resume produced no report")
	}
}

// stuckProvider blocks until the context is cancelled.
type stuckProvider struct{}

func (stuckProvider) Invoke(ctx context.Context, messages []provider.Message, opts ...provider.Option) (provider.Response, error) {
	<-ctx.Done()
	return provider.Response{}, ctx.Err()
}

func (stuckProvider) Stream(ctx context.Context, messages []provider.Message, opts ...provider.Option) (<-chan provider.Chunk, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestNodeTimeoutCancelsStuckNode(t *testing.T) {
	r := testRunner(stuckProvider{}, nil, checkpoint.NewMemoryStore())
	r.NodeTimeout = 20 * time.Millisecond

	_, _, err := r.Run(context.Background(), "t1", State{
		Messages: []provider.Message{{Role: "user", Content: "q"}},
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestRunCoordinatorSmallTalkEndsImmediately(t *testing.T) {
	p := &fakeProvider{responses: []provider.Response{{Content: "Hi there!"}}}
	r := testRunner(p, nil, checkpoint.NewMemoryStore())

	final, interrupt, err := r.Run(context.Background(), "t1", State{
		Messages: []provider.Message{{Role: "user", Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if interrupt != nil {
		t.Fatal("small talk must not suspend")
	}
	if final.FinalReport != "" {
		t.Fatalf("unexpected report: %q", final.FinalReport)
	}
}
