package graph

import (
	"github.com/surveyor-ai/surveyor/internal/llm"
)

// Node names. GotoEnd terminates the run; GotoAwait suspends it pending a
// human resume value.
const (
	NodeCoordinator     = "coordinator"
	NodeBackgroundInves = "background_investigator"
	NodePlanner         = "planner"
	NodeHumanFeedback   = "human_feedback"
	NodeResearchTeam    = "research_team"
	NodeResearcher      = "researcher"
	NodeCoder           = "coder"
	NodeReporter        = "reporter"

	GotoEnd   = "__end__"
	GotoAwait = "__await__"
)

// State is the graph's working memory, checkpointed after every node
// transition keyed by the conversation id.
type State struct {
	Messages          []llm.Message `json:"messages"`
	CurrentPlan       *Plan         `json:"current_plan,omitempty"`
	PlanIterations    int           `json:"plan_iterations"`
	Observations      []string      `json:"observations,omitempty"`
	AutoAcceptedPlan  bool          `json:"auto_accepted_plan"`
	ResearchTopic     string        `json:"research_topic,omitempty"`
	Locale            string        `json:"locale,omitempty"`
	FocusInfo         string        `json:"focus_info,omitempty"`
	Resources         []string      `json:"resources,omitempty"`
	Instruction       string        `json:"instruction,omitempty"`
	ShouldReplan      bool          `json:"should_replan"`
	RemainingSteps    int           `json:"remaining_steps"`
	InterruptFeedback string        `json:"interrupt_feedback,omitempty"`
	BackgroundResults string        `json:"background_results,omitempty"`
	FinalAnswer       string        `json:"final_answer,omitempty"`
}

// Command is a node's result: a state patch plus the next node name.
type Command struct {
	Update func(*State)
	Goto   string
}

// apply runs the patch, if any.
func (c Command) apply(s *State) {
	if c.Update != nil {
		c.Update(s)
	}
}
