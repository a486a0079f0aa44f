package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/researchflow/internal/agent"
	"github.com/mohammad-safakhou/researchflow/internal/stream"
	"github.com/mohammad-safakhou/researchflow/internal/telemetry"
	"github.com/mohammad-safakhou/researchflow/internal/workflow"
	"github.com/mohammad-safakhou/researchflow/provider"
	"github.com/mohammad-safakhou/researchflow/tools/retriever"
)

// ChatMessage is one entry of the incoming conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the body of POST /api/chat/stream.
type ChatRequest struct {
	ThreadID  string               `json:"thread_id"`
	Messages  []ChatMessage        `json:"messages"`
	Resources []retriever.Resource `json:"resources"`

	MaxPlanIterations             *int   `json:"max_plan_iterations"`
	MaxStepNum                    *int   `json:"max_step_num"`
	MaxSearchResults              *int   `json:"max_search_results"`
	AutoAcceptedPlan              bool   `json:"auto_accepted_plan"`
	EnableBackgroundInvestigation bool   `json:"enable_background_investigation"`
	EnableDeepThinking            bool   `json:"enable_deep_thinking"`
	ReportStyle                   string `json:"report_style"`

	// InterruptFeedback resumes a suspended thread: "accepted" or
	// "edit_plan".
	InterruptFeedback string `json:"interrupt_feedback"`
}

func (s *Server) chatStream(c echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	threadID := req.ThreadID
	if threadID == "" {
		threadID = uuid.NewString()
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)

	// Events are persisted before forwarding, so a write failure after
	// the client vanished loses nothing; the run continues. The buffered
	// channel keeps a slow client from stalling the workflow until the
	// buffer fills.
	buffer := s.Cfg.Workflow.StreamChannelBuffer
	if buffer <= 0 {
		buffer = 64
	}
	events := make(chan stream.Event, buffer)
	writerDone := make(chan struct{})
	clientGone := c.Request().Context()
	go func() {
		defer close(writerDone)
		for ev := range events {
			if clientGone.Err() != nil {
				continue
			}
			if err := stream.EncodeSSE(res, ev); err != nil {
				s.Logger.Printf("sse write failed for %s: %v", threadID, err)
				continue
			}
			res.Flush()
		}
	}()
	forward := func(ev stream.Event) {
		telemetry.EventsEmitted.WithLabelValues(ev.Kind).Inc()
		events <- ev
	}

	translator := &stream.Translator{
		ThreadID:    threadID,
		Checkpoints: s.Checkpoints,
		Logger:      s.Logger,
		Forward:     forward,
	}
	runner := s.newRunner(&req, translator.Sink())

	topic := firstUserMessage(req.Messages)
	style := req.ReportStyle
	if style == "" {
		style = s.Cfg.Workflow.DefaultReportStyle
	}
	if err := s.Summaries.UpsertReplay(c.Request().Context(), threadID, topic, style); err != nil {
		s.Logger.Printf("replay upsert failed for %s: %v", threadID, err)
	}

	// The run must survive a client disconnect: the in-flight node
	// completes and its checkpoint writes still happen.
	runCtx := context.WithoutCancel(c.Request().Context())

	telemetry.RunsStarted.Inc()
	var (
		finalState workflow.State
		interrupt  *workflow.Interrupt
		err        error
	)
	if req.InterruptFeedback != "" {
		feedback := resumeFeedback(req.InterruptFeedback, req.Messages)
		finalState, interrupt, err = runner.Resume(runCtx, threadID, feedback)
	} else {
		finalState, interrupt, err = runner.Run(runCtx, threadID, s.initialState(&req))
	}

	switch {
	case err != nil:
		s.Logger.Printf("run failed for %s: %v", threadID, err)
		telemetry.RunsCompleted.WithLabelValues("error").Inc()
		translator.Emit(stream.ErrorEvent(threadID, userFacingError(err)))
	case interrupt != nil:
		telemetry.RunsSuspended.Inc()
	default:
		telemetry.RunsCompleted.WithLabelValues("ok").Inc()
		s.finalizeReplay(runCtx, threadID, finalState)
	}

	close(events)
	<-writerDone
	return nil
}

// newRunner builds a workflow runner with the request's overrides
// applied on top of the configured defaults.
func (s *Server) newRunner(req *ChatRequest, sink workflow.Sink) *workflow.Runner {
	cfg := s.Cfg.Workflow
	if req.MaxPlanIterations != nil && *req.MaxPlanIterations > 0 {
		cfg.MaxPlanIterations = *req.MaxPlanIterations
	}
	if req.MaxStepNum != nil && *req.MaxStepNum > 0 {
		cfg.MaxStepNum = *req.MaxStepNum
	}
	if req.MaxSearchResults != nil && *req.MaxSearchResults > 0 {
		cfg.MaxSearchResults = *req.MaxSearchResults
	}
	cfg.EnableDeepThinking = req.EnableDeepThinking

	flowLogger := log.New(log.Writer(), "[FLOW] ", log.LstdFlags)
	limit := agent.RecursionLimit(cfg.AgentRecursionLimit, flowLogger)
	return &workflow.Runner{
		Nodes: &workflow.Nodes{
			Cfg:       cfg,
			Providers: s.Providers,
			Search:    s.Toolbox.SearchEngine(),
			Toolbox:   s.Toolbox,
			Sink:      sink,
			Logger:    flowLogger,
			StepLimit: limit,
		},
		Checkpoints: s.Checkpoints,
		Logger:      flowLogger,
		Tracer:      s.Tracer,
		MaxVisits:   limit,
		NodeTimeout: cfg.NodeTimeout,
	}
}

func (s *Server) initialState(req *ChatRequest) workflow.State {
	messages := make([]provider.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, provider.Message{Role: m.Role, Content: m.Content})
	}
	locale := s.Cfg.General.DefaultLocale
	if locale == "" {
		locale = "en-US"
	}
	reportStyle := req.ReportStyle
	if reportStyle == "" {
		reportStyle = s.Cfg.Workflow.DefaultReportStyle
	}
	return workflow.State{
		Messages:                      messages,
		Locale:                        locale,
		Resources:                     req.Resources,
		AutoAcceptedPlan:              req.AutoAcceptedPlan || s.Cfg.Workflow.AutoAcceptedPlan,
		EnableBackgroundInvestigation: req.EnableBackgroundInvestigation || s.Cfg.Workflow.EnableInvestigation,
		ReportStyle:                   reportStyle,
	}
}

// resumeFeedback turns the client's interrupt choice into the resume
// value the human_feedback node expects. An edit carries the user's
// latest message as the revision request.
func resumeFeedback(choice string, messages []ChatMessage) string {
	feedback := "[" + strings.ToUpper(choice) + "]"
	if strings.EqualFold(choice, "edit_plan") {
		if last := lastUserMessage(messages); last != "" {
			feedback += " " + last
		}
	}
	return feedback
}

// finalizeReplay denormalizes the finished event log into the summary
// store so replays survive checkpoint retention.
func (s *Server) finalizeReplay(ctx context.Context, threadID string, final workflow.State) {
	events, err := stream.Replay(ctx, s.Checkpoints, threadID)
	if err != nil {
		s.Logger.Printf("replay read failed for %s: %v", threadID, err)
		return
	}
	var b strings.Builder
	for _, ev := range events {
		if err := stream.EncodeSSE(&b, ev); err != nil {
			s.Logger.Printf("replay encode failed for %s: %v", threadID, err)
			return
		}
	}
	if err := s.Summaries.UpsertChatStream(ctx, threadID, []byte(b.String())); err != nil {
		s.Logger.Printf("chat stream upsert failed for %s: %v", threadID, err)
	}
	// The coordinator's extracted topic is sharper than the raw first
	// message, so refresh the summary with it.
	if final.ResearchTopic != "" {
		if err := s.Summaries.UpsertReplay(ctx, threadID, final.ResearchTopic, final.ReportStyle); err != nil {
			s.Logger.Printf("replay upsert failed for %s: %v", threadID, err)
		}
	}
	if err := s.Summaries.TouchReplay(ctx, threadID, len(events)); err != nil {
		s.Logger.Printf("replay touch failed for %s: %v", threadID, err)
	}
}

// userFacingError keeps input-contract violations readable and hides
// everything else behind a generic message.
func userFacingError(err error) string {
	var fe *workflow.FeedbackError
	if errors.As(err, &fe) {
		return fe.Error()
	}
	var missing *workflow.NoSuspendedRunError
	if errors.As(err, &missing) {
		return missing.Error()
	}
	return fmt.Sprintf("research run failed: %v", err)
}

func firstUserMessage(messages []ChatMessage) string {
	for _, m := range messages {
		if m.Role == "user" {
			return m.Content
		}
	}
	return ""
}

func lastUserMessage(messages []ChatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return ""
}
