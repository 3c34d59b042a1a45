package graph

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/surveyor-ai/surveyor/config"
	"github.com/surveyor-ai/surveyor/internal/apperr"
	"github.com/surveyor-ai/surveyor/internal/event"
	"github.com/surveyor-ai/surveyor/internal/llm"
	"github.com/surveyor-ai/surveyor/internal/tooling"
)

type stubProvider struct {
	generate      func(model string, msgs []llm.Message, opts llm.Options) (string, llm.Usage, error)
	generateTools func(model string, msgs []llm.Message, tools []llm.ToolSpec) (llm.Completion, error)
	stream        func(model string, msgs []llm.Message) (<-chan llm.StreamChunk, error)
}

func (p *stubProvider) Generate(_ context.Context, model string, msgs []llm.Message, opts llm.Options) (string, llm.Usage, error) {
	if p.generate == nil {
		return "", llm.Usage{}, errors.New("unexpected Generate call")
	}
	return p.generate(model, msgs, opts)
}

func (p *stubProvider) GenerateWithTools(_ context.Context, model string, msgs []llm.Message, tools []llm.ToolSpec, _ llm.Options) (llm.Completion, error) {
	if p.generateTools == nil {
		return llm.Completion{}, errors.New("unexpected GenerateWithTools call")
	}
	return p.generateTools(model, msgs, tools)
}

func (p *stubProvider) Stream(_ context.Context, model string, msgs []llm.Message, _ llm.Options) (<-chan llm.StreamChunk, error) {
	if p.stream == nil {
		return nil, errors.New("unexpected Stream call")
	}
	return p.stream(model, msgs)
}

func (p *stubProvider) Embed(context.Context, string, []string) ([][]float32, error) {
	return nil, errors.New("unexpected Embed call")
}

func (p *stubProvider) Speech(context.Context, string, string, string, string) ([]byte, error) {
	return nil, errors.New("unexpected Speech call")
}

func testRunContext(p llm.Provider) *RunContext {
	return &RunContext{
		Provider:          p,
		Routing:           config.LLMRoutingConfig{Fallback: "test-model"},
		Queue:             event.NewQueue("task-1", nil),
		TaskID:            "task-1",
		ConversationID:    "conv-1",
		MaxPlanIterations: 3,
		MaxStepNum:        5,
		RecursionLimit:    25,
	}
}

func TestPlannerClampRoutesToReporter(t *testing.T) {
	rc := testRunContext(&stubProvider{})
	s := &State{PlanIterations: rc.MaxPlanIterations}
	cmd, err := plannerNode(context.Background(), s, rc)
	if err != nil {
		t.Fatalf("plannerNode: %v", err)
	}
	if cmd.Goto != NodeReporter {
		t.Fatalf("at the iteration cap the planner must route to reporter, got %q", cmd.Goto)
	}
}

func TestPlannerEmptyPlanRoutesToReporter(t *testing.T) {
	rc := testRunContext(&stubProvider{
		generate: func(string, []llm.Message, llm.Options) (string, llm.Usage, error) {
			return `{"locale":"en-US","thought":"nothing to do","title":"empty","steps":[]}`, llm.Usage{}, nil
		},
	})
	s := &State{Locale: "en-US"}
	cmd, err := plannerNode(context.Background(), s, rc)
	if err != nil {
		t.Fatalf("plannerNode: %v", err)
	}
	if cmd.Goto != NodeReporter {
		t.Fatalf("an empty plan must route straight to reporter, got %q", cmd.Goto)
	}
	cmd.apply(s)
	if s.CurrentPlan == nil || len(s.CurrentPlan.Steps) != 0 {
		t.Fatalf("empty plan must still be stored, got %+v", s.CurrentPlan)
	}
}

func TestPlannerUnparseableOutputKeepsPriorPlan(t *testing.T) {
	rc := testRunContext(&stubProvider{
		generate: func(string, []llm.Message, llm.Options) (string, llm.Usage, error) {
			return "sorry, I cannot produce a plan", llm.Usage{}, nil
		},
	})
	prior := &Plan{Steps: []Step{{Title: "step", Description: "d"}}}
	s := &State{CurrentPlan: prior, PlanIterations: 1, AutoAcceptedPlan: true}
	cmd, err := plannerNode(context.Background(), s, rc)
	if err != nil {
		t.Fatalf("plannerNode: %v", err)
	}
	cmd.apply(s)
	if s.CurrentPlan != prior {
		t.Fatalf("garbage planner output must not discard the prior plan")
	}
	if cmd.Goto != NodeResearchTeam {
		t.Fatalf("pending prior plan continues to research_team, got %q", cmd.Goto)
	}
}

func TestPlannerPublishesPlanAndPausesForReview(t *testing.T) {
	rc := testRunContext(&stubProvider{
		generate: func(string, []llm.Message, llm.Options) (string, llm.Usage, error) {
			return "```json\n" + `{"locale":"en-US","thought":"t","title":"p","steps":[{"title":"a","description":"d","step_type":"research","need_search":true}]}` + "\n```", llm.Usage{}, nil
		},
	})
	s := &State{}
	cmd, err := plannerNode(context.Background(), s, rc)
	if err != nil {
		t.Fatalf("plannerNode: %v", err)
	}
	if cmd.Goto != NodeHumanFeedback {
		t.Fatalf("plans need review unless auto-accepted, got %q", cmd.Goto)
	}
	cmd.apply(s)
	if s.PlanIterations != 1 {
		t.Fatalf("iteration counter must advance, got %d", s.PlanIterations)
	}
}

func TestHumanFeedbackAwaitsThenRoutes(t *testing.T) {
	rc := testRunContext(&stubProvider{})
	s := &State{CurrentPlan: &Plan{Steps: []Step{{Title: "a", Description: "d"}}}}

	cmd, err := humanFeedbackNode(context.Background(), s, rc)
	if err != nil {
		t.Fatalf("humanFeedbackNode: %v", err)
	}
	if cmd.Goto != GotoAwait {
		t.Fatalf("without feedback the node must suspend, got %q", cmd.Goto)
	}

	s.InterruptFeedback = FeedbackEditPlan + " add a step about pricing"
	cmd, err = humanFeedbackNode(context.Background(), s, rc)
	if err != nil {
		t.Fatalf("humanFeedbackNode: %v", err)
	}
	cmd.apply(s)
	if cmd.Goto != NodePlanner {
		t.Fatalf("edit feedback must return to the planner, got %q", cmd.Goto)
	}
	if !strings.Contains(s.Instruction, "pricing") {
		t.Fatalf("edit note must be carried to the planner, got %q", s.Instruction)
	}
	if s.InterruptFeedback != "" {
		t.Fatalf("feedback must be consumed")
	}

	s.InterruptFeedback = FeedbackAccepted
	cmd, err = humanFeedbackNode(context.Background(), s, rc)
	if err != nil {
		t.Fatalf("humanFeedbackNode: %v", err)
	}
	if cmd.Goto != NodeResearchTeam {
		t.Fatalf("accepted plan must route to research_team, got %q", cmd.Goto)
	}
}

func TestResearchTeamRouting(t *testing.T) {
	rc := testRunContext(&stubProvider{})
	ctx := context.Background()

	cmd, _ := researchTeamNode(ctx, &State{}, rc)
	if cmd.Goto != NodePlanner {
		t.Fatalf("no plan must return to planner, got %q", cmd.Goto)
	}

	s := &State{CurrentPlan: &Plan{Steps: []Step{
		{Title: "done", Description: "d", ExecutionRes: "r"},
		{Title: "compute", Description: "d", StepType: StepCode},
	}}}
	cmd, _ = researchTeamNode(ctx, s, rc)
	if cmd.Goto != NodeCoder {
		t.Fatalf("first pending code step must route to coder, got %q", cmd.Goto)
	}

	s.CurrentPlan.Steps[1].StepType = StepResearch
	cmd, _ = researchTeamNode(ctx, s, rc)
	if cmd.Goto != NodeResearcher {
		t.Fatalf("first pending research step must route to researcher, got %q", cmd.Goto)
	}

	s.CurrentPlan.Steps[1].ExecutionRes = "r2"
	cmd, _ = researchTeamNode(ctx, s, rc)
	if cmd.Goto != NodePlanner {
		t.Fatalf("a fully complete plan must return to planner, got %q", cmd.Goto)
	}
}

func TestCoordinatorHandoff(t *testing.T) {
	args, _ := json.Marshal(map[string]string{"research_topic": "solid state batteries", "locale": "en-US"})
	rc := testRunContext(&stubProvider{
		generateTools: func(_ string, _ []llm.Message, tools []llm.ToolSpec) (llm.Completion, error) {
			if len(tools) != 1 || tools[0].Name != "handoff_to_planner" {
				return llm.Completion{}, errors.New("handoff tool must be offered")
			}
			return llm.Completion{ToolCalls: []llm.ToolCall{
				{ID: "call_1", Name: "handoff_to_planner", Arguments: args},
			}}, nil
		},
	})
	s := &State{Messages: []llm.Message{{Role: llm.RoleUser, Content: "research batteries"}}}
	cmd, err := coordinatorNode(context.Background(), s, rc)
	if err != nil {
		t.Fatalf("coordinatorNode: %v", err)
	}
	cmd.apply(s)
	if cmd.Goto != NodePlanner {
		t.Fatalf("handoff must route to planner, got %q", cmd.Goto)
	}
	if s.ResearchTopic != "solid state batteries" || s.Locale != "en-US" {
		t.Fatalf("handoff arguments must land in state, got %+v", s)
	}
}

func TestCoordinatorDirectAnswerEnds(t *testing.T) {
	rc := testRunContext(&stubProvider{
		generateTools: func(string, []llm.Message, []llm.ToolSpec) (llm.Completion, error) {
			return llm.Completion{Content: "hello there"}, nil
		},
	})
	s := &State{Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}}}
	cmd, err := coordinatorNode(context.Background(), s, rc)
	if err != nil {
		t.Fatalf("coordinatorNode: %v", err)
	}
	cmd.apply(s)
	if cmd.Goto != GotoEnd {
		t.Fatalf("a direct answer must end the run, got %q", cmd.Goto)
	}
	if s.FinalAnswer != "hello there" {
		t.Fatalf("final answer must be captured, got %q", s.FinalAnswer)
	}
}

func TestRunRecursionLimit(t *testing.T) {
	g := &Graph{nodes: map[string]NodeFunc{
		"loop": func(context.Context, *State, *RunContext) (Command, error) {
			return Command{Goto: "loop"}, nil
		},
	}}
	rc := testRunContext(&stubProvider{})
	rc.RecursionLimit = 3
	_, err := g.Run(context.Background(), "loop", &State{Locale: "en-US"}, rc)
	if err == nil {
		t.Fatalf("a non-terminating graph must hit the recursion limit")
	}
	if !strings.Contains(err.Error(), "3") {
		t.Fatalf("limit must appear in the error, got %v", err)
	}
}

func TestRunStopsAtAwait(t *testing.T) {
	visits := 0
	g := &Graph{nodes: map[string]NodeFunc{
		"pause": func(context.Context, *State, *RunContext) (Command, error) {
			visits++
			return Command{Goto: GotoAwait}, nil
		},
	}}
	rc := testRunContext(&stubProvider{})
	route, err := g.Run(context.Background(), "pause", &State{}, rc)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if route != GotoAwait {
		t.Fatalf("Run must report the await sentinel, got %q", route)
	}
	if visits != 1 {
		t.Fatalf("await must suspend after one visit, got %d", visits)
	}
}

func TestRunHonorsStopFlag(t *testing.T) {
	visits := 0
	g := &Graph{nodes: map[string]NodeFunc{
		"loop": func(context.Context, *State, *RunContext) (Command, error) {
			visits++
			return Command{Goto: "loop"}, nil
		},
	}}
	rc := testRunContext(&stubProvider{})
	rc.Stopped = func(context.Context) bool { return true }
	_, err := g.Run(context.Background(), "loop", &State{}, rc)
	if !apperr.IsTaskStopped(err) {
		t.Fatalf("a stopped task must surface the stop sentinel, got %v", err)
	}
	if visits != 0 {
		t.Fatalf("no node may run once the stop flag is set, got %d visits", visits)
	}
}

func TestReporterStopsMidStream(t *testing.T) {
	ch := make(chan llm.StreamChunk, 6)
	for _, d := range []string{"one ", "two ", "three ", "four ", "five"} {
		ch <- llm.StreamChunk{Delta: d}
	}
	ch <- llm.StreamChunk{Done: true}
	close(ch)

	rc := testRunContext(&stubProvider{
		stream: func(string, []llm.Message) (<-chan llm.StreamChunk, error) {
			return ch, nil
		},
	})
	polls := 0
	rc.Stopped = func(context.Context) bool {
		polls++
		return polls > 1
	}

	_, err := reporterNode(context.Background(), &State{}, rc)
	if !apperr.IsTaskStopped(err) {
		t.Fatalf("reporter must abandon the stream when stopped, got %v", err)
	}
	if remaining := len(ch); remaining != 4 {
		t.Fatalf("at most one delta may go out after the stop, %d chunks left unread", remaining)
	}
}

func TestAgentLoopStopsBetweenIterations(t *testing.T) {
	rc := testRunContext(&stubProvider{})
	rc.Tools = tooling.NewRegistry(tooling.NewShaper(1000, false, false, false, nil))
	rc.Stopped = func(context.Context) bool { return true }
	s := &State{CurrentPlan: &Plan{Steps: []Step{{Title: "a", Description: "d"}}}}
	_, err := runAgent(context.Background(), s, rc, NodeResearcher, "test-model", "sys", nil, s.CurrentPlan.Steps[0])
	if !apperr.IsTaskStopped(err) {
		t.Fatalf("the agent loop must not start an iteration after a stop, got %v", err)
	}
}

func TestDecompositionNudgeMatchesWholeWords(t *testing.T) {
	p := &Plan{Steps: []Step{{Title: "Survey listed buildings", Description: "historic register"}}}
	if got := decompositionNudge(p); got != "" {
		t.Fatalf("substrings inside words must not trigger the nudge, got %q", got)
	}
	p = &Plan{Steps: []Step{{Title: "Compare all vendors", Description: "pricing"}}}
	if got := decompositionNudge(p); got == "" {
		t.Fatalf("an enumerating pending step must trigger the nudge")
	}
}

func TestReporterStreamsAndCollects(t *testing.T) {
	rc := testRunContext(&stubProvider{
		stream: func(string, []llm.Message) (<-chan llm.StreamChunk, error) {
			ch := make(chan llm.StreamChunk, 3)
			ch <- llm.StreamChunk{Delta: "final "}
			ch <- llm.StreamChunk{Delta: "report"}
			ch <- llm.StreamChunk{Done: true, Usage: llm.Usage{PromptTokens: 10, OutputTokens: 2}}
			close(ch)
			return ch, nil
		},
	})
	s := &State{Observations: []string{"fact one"}}
	cmd, err := reporterNode(context.Background(), s, rc)
	if err != nil {
		t.Fatalf("reporterNode: %v", err)
	}
	cmd.apply(s)
	if cmd.Goto != GotoEnd {
		t.Fatalf("reporter must end the run, got %q", cmd.Goto)
	}
	if s.FinalAnswer != "final report" {
		t.Fatalf("streamed deltas must accumulate, got %q", s.FinalAnswer)
	}
}
