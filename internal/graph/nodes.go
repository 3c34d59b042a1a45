package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/surveyor-ai/surveyor/internal/apperr"
	"github.com/surveyor-ai/surveyor/internal/event"
	"github.com/surveyor-ai/surveyor/internal/llm"
	"github.com/surveyor-ai/surveyor/internal/tooling"
)

// Interrupt feedback prefixes understood by the human_feedback node.
const (
	FeedbackAccepted = "[ACCEPTED]"
	FeedbackEditPlan = "[EDIT_PLAN]"
)

const researcherSummarizeThreshold = 5000

func recordLLMStart(ctx context.Context, rc *RunContext, node string) string {
	if rc.Recorder == nil {
		return ""
	}
	id, err := rc.Recorder.LLMStart(ctx, node)
	if err != nil {
		rc.logf("record llm start for %s: %v", node, err)
	}
	return id
}

func recordLLMEnd(ctx context.Context, rc *RunContext, thoughtID, content string, usage llm.Usage) {
	if rc.Recorder == nil || thoughtID == "" {
		return
	}
	if err := rc.Recorder.LLMEnd(ctx, thoughtID, content, usage); err != nil {
		rc.logf("record llm end: %v", err)
	}
}

func coordinatorNode(ctx context.Context, s *State, rc *RunContext) (Command, error) {
	msgs := append([]llm.Message{{Role: llm.RoleSystem, Content: coordinatorPrompt}}, s.Messages...)
	handoff := tooling.NewHandoffTool()
	specs := []llm.ToolSpec{{Name: handoff.Name, Description: handoff.Description, Parameters: handoff.Schema}}

	thoughtID := recordLLMStart(ctx, rc, NodeCoordinator)
	completion, err := rc.Provider.GenerateWithTools(ctx, modelFor(rc, "coordinator"), msgs, specs, llm.Options{Temperature: 0.2})
	if err != nil {
		return Command{}, err
	}
	recordLLMEnd(ctx, rc, thoughtID, completion.Content, completion.Usage)

	for _, tc := range completion.ToolCalls {
		if tc.Name != tooling.HandoffToolName {
			continue
		}
		var args tooling.HandoffArgs
		if err := json.Unmarshal(tc.Arguments, &args); err != nil {
			rc.logf("handoff arguments unreadable: %v", err)
			continue
		}
		next := NodePlanner
		if rc.BackgroundInvestigation {
			next = NodeBackgroundInves
		}
		return Command{
			Update: func(st *State) {
				st.ResearchTopic = args.ResearchTopic
				if args.Locale != "" {
					st.Locale = args.Locale
				}
			},
			Goto: next,
		}, nil
	}

	// No handoff: the coordinator's reply is the final answer.
	answer := completion.Content
	if err := rc.Queue.PublishChunk(ctx, answer, nil, event.SourceLLM); err != nil {
		return Command{}, err
	}
	return Command{
		Update: func(st *State) { st.FinalAnswer = answer },
		Goto:   GotoEnd,
	}, nil
}

func backgroundInvestigatorNode(ctx context.Context, s *State, rc *RunContext) (Command, error) {
	args, _ := json.Marshal(map[string]string{"query": s.ResearchTopic})
	var thoughtID string
	if rc.Recorder != nil {
		thoughtID, _ = rc.Recorder.ToolStart(ctx, NodeBackgroundInves, "browser", string(args))
	}
	resp := rc.Tools.Call(ctx, rc.TaskID, "browser", "", args)
	if rc.Recorder != nil && thoughtID != "" {
		if err := rc.Recorder.ToolEnd(ctx, thoughtID, resp); err != nil {
			rc.logf("record tool end: %v", err)
		}
	}
	results := resp.Content
	if resp.Status != tooling.StatusOK {
		rc.logf("background investigation failed: %s", resp.Content)
		results = ""
	}
	return Command{
		Update: func(st *State) { st.BackgroundResults = results },
		Goto:   NodePlanner,
	}, nil
}

func plannerNode(ctx context.Context, s *State, rc *RunContext) (Command, error) {
	if s.PlanIterations >= rc.MaxPlanIterations {
		return Command{Goto: NodeReporter}, nil
	}

	msgs := []llm.Message{{Role: llm.RoleSystem, Content: plannerPrompt(rc.MaxStepNum)}}
	msgs = append(msgs, s.Messages...)
	if s.BackgroundResults != "" {
		msgs = append(msgs, llm.Message{Role: llm.RoleUser,
			Content: "Background findings from an initial web search:\n" + s.BackgroundResults})
	}
	if s.CurrentPlan != nil {
		msgs = append(msgs, llm.Message{Role: llm.RoleUser,
			Content: "Current plan progress (results elided):\n" + s.CurrentPlan.Summary()})
		if nudge := decompositionNudge(s.CurrentPlan); nudge != "" {
			msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: nudge})
		}
	}
	if s.Instruction != "" {
		msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: s.Instruction})
	}

	thoughtID := recordLLMStart(ctx, rc, NodePlanner)
	out, usage, err := rc.Provider.Generate(ctx, modelFor(rc, "planning"), msgs, llm.Options{Temperature: 0.1, JSONMode: true})
	if err != nil {
		return Command{}, err
	}
	recordLLMEnd(ctx, rc, thoughtID, out, usage)

	proposed, perr := ParsePlan(out)
	merged := s.CurrentPlan
	if perr != nil {
		rc.logf("planner output unparseable, keeping prior plan: %v", perr)
	} else {
		merged = MergePlans(s.CurrentPlan, proposed)
	}

	if merged == nil {
		if s.PlanIterations > 0 {
			return Command{Goto: NodeReporter}, nil
		}
		return Command{Goto: GotoEnd}, nil
	}

	if merged.AllComplete() || merged.HasEnoughContext {
		planJSON := merged.JSON()
		return Command{
			Update: func(st *State) {
				st.CurrentPlan = merged
				st.Instruction = ""
				st.Messages = append(st.Messages, llm.Message{Role: llm.RoleAssistant, Content: string(planJSON)})
			},
			Goto: NodeReporter,
		}, nil
	}

	if err := rc.Queue.PublishPlan(ctx, merged.JSON(), event.SourceGraphNode); err != nil {
		return Command{}, err
	}
	next := NodeResearchTeam
	if !s.AutoAcceptedPlan {
		next = NodeHumanFeedback
	}
	return Command{
		Update: func(st *State) {
			st.CurrentPlan = merged
			st.PlanIterations++
			st.Instruction = ""
		},
		Goto: next,
	}, nil
}

// enumerationWords matches whole words only, so titles like "listed
// buildings" do not trigger the nudge.
var enumerationWords = regexp.MustCompile(`\b(each|every|all|list)\b`)

// decompositionNudge asks the planner to split pending steps whose findings
// will cover a collection of items.
func decompositionNudge(p *Plan) string {
	var pending []string
	for _, s := range p.Steps {
		if s.Completed() {
			continue
		}
		t := strings.ToLower(s.Title + " " + s.Description)
		if enumerationWords.MatchString(t) {
			pending = append(pending, s.Title)
		}
	}
	if len(pending) == 0 {
		return ""
	}
	return "If a completed step enumerated the items behind these pending steps, decompose them: " +
		strings.Join(pending, "; ")
}

func humanFeedbackNode(ctx context.Context, s *State, rc *RunContext) (Command, error) {
	if s.InterruptFeedback == "" {
		payload, _ := json.Marshal(map[string]interface{}{
			"question": "Review the plan. Reply with " + FeedbackAccepted + " or " + FeedbackEditPlan + " followed by your changes.",
			"plan":     s.CurrentPlan,
		})
		if err := rc.Queue.PublishInterrupt(ctx, payload, event.SourceGraphNode); err != nil {
			return Command{}, err
		}
		return Command{Goto: GotoAwait}, nil
	}

	feedback := s.InterruptFeedback
	if strings.HasPrefix(feedback, FeedbackEditPlan) {
		note := strings.TrimSpace(strings.TrimPrefix(feedback, FeedbackEditPlan))
		return Command{
			Update: func(st *State) {
				st.InterruptFeedback = ""
				st.Instruction = "The user asked for these plan changes: " + note
			},
			Goto: NodePlanner,
		}, nil
	}
	// Anything else, including the accepted prefix, approves the plan.
	return Command{
		Update: func(st *State) { st.InterruptFeedback = "" },
		Goto:   NodeResearchTeam,
	}, nil
}

func researchTeamNode(ctx context.Context, s *State, rc *RunContext) (Command, error) {
	if s.CurrentPlan == nil {
		return Command{Goto: NodePlanner}, nil
	}
	idx, ok := s.CurrentPlan.FirstPending()
	if !ok {
		return Command{Goto: NodePlanner}, nil
	}
	if s.CurrentPlan.Steps[idx].StepType == StepCode {
		return Command{Goto: NodeCoder}, nil
	}
	return Command{Goto: NodeResearcher}, nil
}

func researcherNode(ctx context.Context, s *State, rc *RunContext) (Command, error) {
	idx, ok := s.CurrentPlan.FirstPending()
	if !ok {
		return Command{Goto: NodePlanner}, nil
	}
	step := s.CurrentPlan.Steps[idx]
	out, err := runAgent(ctx, s, rc, NodeResearcher, modelFor(rc, "research"), researcherPrompt,
		researcherToolNames(rc), step)
	if err != nil {
		return Command{}, err
	}
	if len(out) > researcherSummarizeThreshold {
		out = summarizeLong(ctx, rc, out)
	}
	result := out
	return Command{
		Update: func(st *State) {
			st.CurrentPlan.Steps[idx].ExecutionRes = result
			st.Observations = append(st.Observations, result)
			st.ShouldReplan = true
		},
		Goto: NodePlanner,
	}, nil
}

func coderNode(ctx context.Context, s *State, rc *RunContext) (Command, error) {
	idx, ok := s.CurrentPlan.FirstPending()
	if !ok {
		return Command{Goto: NodePlanner}, nil
	}
	step := s.CurrentPlan.Steps[idx]
	out, err := runAgent(ctx, s, rc, NodeCoder, modelFor(rc, "coding"), coderPrompt,
		[]string{"python_repl"}, step)
	if err != nil {
		return Command{}, err
	}
	result := out
	return Command{
		Update: func(st *State) {
			st.CurrentPlan.Steps[idx].ExecutionRes = result
			st.Observations = append(st.Observations, result)
		},
		Goto: NodeResearchTeam,
	}, nil
}

// researcherToolNames exposes every registered tool except the coder's
// sandbox and the coordinator's routing signal.
func researcherToolNames(rc *RunContext) []string {
	if len(rc.AgentTools) > 0 {
		return rc.AgentTools
	}
	var names []string
	for _, spec := range rc.Tools.Specs(nil) {
		if spec.Name == "python_repl" || spec.Name == tooling.HandoffToolName {
			continue
		}
		names = append(names, spec.Name)
	}
	return names
}

// runAgent is the shared tool-using loop for researcher and coder.
func runAgent(ctx context.Context, s *State, rc *RunContext, node, model, system string, toolNames []string, step Step) (string, error) {
	var findings strings.Builder
	for _, st := range s.CurrentPlan.Steps {
		if st.Completed() && st.ExecutionRes != DecomposedSentinel {
			fmt.Fprintf(&findings, "## %s\n%s\n\n", st.Title, st.ExecutionRes)
		}
	}
	task := fmt.Sprintf("# Current step\n## %s\n%s", step.Title, step.Description)
	if findings.Len() > 0 {
		task = "# Findings so far\n" + findings.String() + task
	}
	if s.Locale != "" {
		task += "\n\nRespond in locale " + s.Locale + "."
	}

	msgs := []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: task},
	}
	specs := rc.Tools.Specs(toolNames)

	maxIters := rc.MaxAgentIterations
	if maxIters <= 0 {
		maxIters = 10
	}
	for iter := 0; iter < maxIters; iter++ {
		if rc.stopRequested(ctx) {
			return "", apperr.ErrTaskStopped
		}
		thoughtID := recordLLMStart(ctx, rc, node)
		completion, err := rc.Provider.GenerateWithTools(ctx, model, msgs, specs, llm.Options{Temperature: 0.3})
		if err != nil {
			return "", err
		}
		recordLLMEnd(ctx, rc, thoughtID, completion.Content, completion.Usage)

		if len(completion.ToolCalls) == 0 {
			return completion.Content, nil
		}
		msgs = append(msgs, llm.Message{
			Role: llm.RoleAssistant, Content: completion.Content, ToolCalls: completion.ToolCalls,
		})
		for _, tc := range completion.ToolCalls {
			var toolThought string
			if rc.Recorder != nil {
				toolThought, _ = rc.Recorder.ToolStart(ctx, node, tc.Name, string(tc.Arguments))
			}
			resp := rc.Tools.Call(ctx, rc.TaskID, tc.Name, tc.ID, tc.Arguments)
			if rc.Recorder != nil && toolThought != "" {
				if err := rc.Recorder.ToolEnd(ctx, toolThought, resp); err != nil {
					rc.logf("record tool end: %v", err)
				}
			}
			content := resp.Content
			if resp.Status == tooling.StatusError {
				content = "Error: " + content
			}
			msgs = append(msgs, llm.Message{Role: llm.RoleTool, Content: content, ToolCallID: tc.ID})
		}
	}
	return "", fmt.Errorf("agent %s exceeded %d iterations on step %q", node, maxIters, step.Title)
}

// summarizeLong map-reduces an oversized researcher result.
func summarizeLong(ctx context.Context, rc *RunContext, text string) string {
	const window = 8000
	model := modelFor(rc, "summarize")
	parts := splitWindows(text, window)
	var partials []string
	for _, part := range parts {
		out, _, err := rc.Provider.Generate(ctx, model, []llm.Message{
			{Role: llm.RoleSystem, Content: summarizePrompt},
			{Role: llm.RoleUser, Content: part},
		}, llm.Options{Temperature: 0.1})
		if err != nil {
			rc.logf("summarize window failed, keeping original: %v", err)
			return text
		}
		partials = append(partials, out)
	}
	if len(partials) == 1 {
		return partials[0]
	}
	combined := strings.Join(partials, "\n\n")
	out, _, err := rc.Provider.Generate(ctx, model, []llm.Message{
		{Role: llm.RoleSystem, Content: summarizePrompt},
		{Role: llm.RoleUser, Content: combined},
	}, llm.Options{Temperature: 0.1})
	if err != nil {
		return combined
	}
	return out
}

func splitWindows(text string, size int) []string {
	var out []string
	for len(text) > size {
		out = append(out, text[:size])
		text = text[size:]
	}
	if text != "" {
		out = append(out, text)
	}
	return out
}

func reporterNode(ctx context.Context, s *State, rc *RunContext) (Command, error) {
	msgs := []llm.Message{{Role: llm.RoleSystem, Content: reporterPrompt}}
	msgs = append(msgs, s.Messages...)
	if s.CurrentPlan != nil && s.CurrentPlan.Thought != "" {
		msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: "Research goal: " + s.CurrentPlan.Thought})
	}
	for i, obs := range s.Observations {
		msgs = append(msgs, llm.Message{Role: llm.RoleUser,
			Content: fmt.Sprintf("Observation %d:\n%s", i+1, obs)})
	}
	if s.Locale != "" {
		msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: "Respond in locale " + s.Locale + "."})
	}

	thoughtID := recordLLMStart(ctx, rc, NodeReporter)
	stream, err := rc.Provider.Stream(ctx, modelFor(rc, "reporting"), msgs, llm.Options{Temperature: 0.2})
	if err != nil {
		return Command{}, err
	}
	var answer strings.Builder
	var usage llm.Usage
	for chunk := range stream {
		if rc.stopRequested(ctx) {
			return Command{}, apperr.ErrTaskStopped
		}
		if chunk.Done {
			usage = chunk.Usage
			break
		}
		answer.WriteString(chunk.Delta)
		if err := rc.Queue.PublishChunk(ctx, chunk.Delta, nil, event.SourceLLM); err != nil {
			return Command{}, err
		}
	}
	final := answer.String()
	recordLLMEnd(ctx, rc, thoughtID, final, usage)
	return Command{
		Update: func(st *State) { st.FinalAnswer = final },
		Goto:   GotoEnd,
	}, nil
}
