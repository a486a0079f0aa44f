// Package workflow is the orchestration core: an explicit state machine
// that routes a research run through coordination, planning, human
// review, step execution, and reporting. Nodes are pure-ish transition
// functions returning a patch plus the next node; the runner owns the
// merge, checkpointing, and interrupt handling.
package workflow

import (
	"encoding/json"

	"github.com/mohammad-safakhou/researchflow/internal/planner"
	"github.com/mohammad-safakhou/researchflow/provider"
	"github.com/mohammad-safakhou/researchflow/tools/retriever"
)

// Node names one state of the machine.
type Node string

const (
	NodeCoordinator            Node = "coordinator"
	NodeBackgroundInvestigator Node = "background_investigator"
	NodePlanner                Node = "planner"
	NodeHumanFeedback          Node = "human_feedback"
	NodeResearchTeam           Node = "research_team"
	NodeResearcher             Node = "researcher"
	NodeCoder                  Node = "coder"
	NodeReporter               Node = "reporter"
	NodeEnd                    Node = "__end__"
)

// State is the record threaded through every node. One run (thread) owns
// its State exclusively; nodes never mutate it directly, they return a
// Patch the runner merges.
type State struct {
	Messages      []provider.Message   `json:"messages"`
	Locale        string               `json:"locale"`
	ResearchTopic string               `json:"research_topic"`
	Observations  []string             `json:"observations"`

	// CurrentPlan holds the raw model output until it survives
	// validation; Plan is the typed form once validated.
	CurrentPlan string        `json:"current_plan"`
	Plan        *planner.Plan `json:"plan,omitempty"`

	PlanIterations                int                  `json:"plan_iterations"`
	AutoAcceptedPlan              bool                 `json:"auto_accepted_plan"`
	EnableBackgroundInvestigation bool                 `json:"enable_background_investigation"`
	Investigations                string               `json:"investigations"`
	Resources                     []retriever.Resource `json:"resources,omitempty"`
	ReportStyle                   string               `json:"report_style,omitempty"`
	FinalReport                   string               `json:"final_report"`
}

// Patch is a partial update produced by a node. List fields append,
// scalar fields replace only when their pointer is set.
type Patch struct {
	Messages     []provider.Message
	Observations []string

	Locale         *string
	ResearchTopic  *string
	CurrentPlan    *string
	Plan           *planner.Plan
	PlanIterations *int
	Investigations *string
	FinalReport    *string
}

// Apply merges a patch into a copy of the state.
func (s State) Apply(p Patch) State {
	next := s
	next.Messages = append(append([]provider.Message{}, s.Messages...), p.Messages...)
	next.Observations = append(append([]string{}, s.Observations...), p.Observations...)
	if p.Locale != nil {
		next.Locale = *p.Locale
	}
	if p.ResearchTopic != nil {
		next.ResearchTopic = *p.ResearchTopic
	}
	if p.CurrentPlan != nil {
		next.CurrentPlan = *p.CurrentPlan
	}
	if p.Plan != nil {
		next.Plan = p.Plan
	}
	if p.PlanIterations != nil {
		next.PlanIterations = *p.PlanIterations
	}
	if p.Investigations != nil {
		next.Investigations = *p.Investigations
	}
	if p.FinalReport != nil {
		next.FinalReport = *p.FinalReport
	}
	return next
}

// Command is what every node returns: the state delta plus where to go.
type Command struct {
	Patch Patch
	Goto  Node
}

func strptr(s string) *string { return &s }
func intptr(n int) *int       { return &n }

// Marshal serializes the state for checkpointing.
func (s State) Marshal() ([]byte, error) { return json.Marshal(s) }

// UnmarshalState restores a checkpointed state.
func UnmarshalState(data []byte) (State, error) {
	var s State
	err := json.Unmarshal(data, &s)
	return s, err
}
