package runner

import (
	"context"
	"log"

	"github.com/surveyor-ai/surveyor/config"
	"github.com/surveyor-ai/surveyor/internal/apperr"
	"github.com/surveyor-ai/surveyor/internal/event"
	"github.com/surveyor-ai/surveyor/internal/knowledge"
	"github.com/surveyor-ai/surveyor/internal/llm"
	"github.com/surveyor-ai/surveyor/internal/store"
	"github.com/surveyor-ai/surveyor/internal/telemetry"
	"github.com/surveyor-ai/surveyor/internal/tooling"
)

// Request is one chat turn handed to a runner.
type Request struct {
	TaskID         string
	UserID         string
	WorkspaceID    string
	ConversationID string
	MessageID      string

	Query  string
	Files  []store.FileRef
	Inputs map[string]string

	CollectionID      string
	AutoAcceptedPlan  bool
	InterruptFeedback string
}

// Dispatcher selects and drives the runner for a request, owning the MCP
// pool lifecycle around the run and translating run errors into terminal
// queue events.
type Dispatcher struct {
	store     *store.Store
	provider  llm.Provider
	retriever *knowledge.Retriever
	flags     *event.FlagStore
	cfg       *config.Config
	logger    *log.Logger
}

func NewDispatcher(st *store.Store, provider llm.Provider, retriever *knowledge.Retriever, flags *event.FlagStore, cfg *config.Config) *Dispatcher {
	return &Dispatcher{
		store:     st,
		provider:  provider,
		retriever: retriever,
		flags:     flags,
		cfg:       cfg,
		logger:    log.New(log.Writer(), "[DISPATCH] ", log.LstdFlags),
	}
}

// Run executes one task to completion. It always terminates the queue: with
// message_end on success, stop on cooperative cancellation, or a structured
// error frame otherwise. Meant to run on its own goroutine while the stream
// pipeline consumes the queue.
func (d *Dispatcher) Run(ctx context.Context, bot store.Bot, mc store.ModelConfig, req Request, q *event.Queue) {
	if d.flags != nil {
		if err := d.flags.RegisterTask(ctx, req.TaskID, req.UserID); err != nil {
			d.logger.Printf("register task %s: %v", req.TaskID, err)
		}
		defer d.flags.ClearTask(context.WithoutCancel(ctx), req.TaskID)
	}

	pool := tooling.NewMCPPool(d.cfg.Tools.MCPInitTimeout)
	defer pool.Teardown()

	registry, err := d.buildRegistry(ctx, req, pool, q)
	if err != nil {
		d.fail(ctx, q, err)
		return
	}

	kind := "basic"
	switch {
	case mc.AgentEnabled && mc.AgentStrategy == store.StrategyReactDeepResearch:
		kind = "agent"
		err = d.runAgent(ctx, bot, mc, req, registry, q)
	case bot.Category == store.BotCategoryRoleplay:
		kind = "roleplay"
		err = d.runRoleplay(ctx, bot, mc, req, q)
	default:
		err = d.runBasic(ctx, bot, mc, req, q)
	}
	switch {
	case err == nil:
		telemetry.CountTask(kind, telemetry.OutcomeOK)
	case apperr.IsTaskStopped(err):
		telemetry.CountTask(kind, telemetry.OutcomeStopped)
	default:
		telemetry.CountTask(kind, telemetry.OutcomeError)
	}
	if err != nil {
		d.fail(ctx, q, err)
	}
}

// fail translates a runner error into the terminal frame. The cooperative
// stop token closes the stream as a stop, never as a user-visible error.
func (d *Dispatcher) fail(ctx context.Context, q *event.Queue, err error) {
	if apperr.IsTaskStopped(err) {
		if perr := q.PublishStop(ctx, "stopped by user", event.SourceGraphNode); perr != nil {
			d.logger.Printf("publish stop: %v", perr)
		}
		return
	}
	ae := apperr.AsError(err)
	d.logger.Printf("task failed: %v", err)
	if perr := q.PublishError(ctx, ae.Msg, int(ae.Code), ae.Status, event.SourceGraphNode); perr != nil {
		d.logger.Printf("publish error: %v", perr)
	}
}

// buildRegistry assembles the tool set for this run: built-in tools, the
// optional knowledge binding, and MCP tools from enabled server configs.
func (d *Dispatcher) buildRegistry(ctx context.Context, req Request, pool *tooling.MCPPool, q *event.Queue) (*tooling.Registry, error) {
	tcfg := d.cfg.Tools
	var summarizer tooling.Summarizer
	if tcfg.SummarizeEnabled {
		summarizer = &tooling.LLMSummarizer{
			Provider: d.provider,
			Model:    d.summarizeModel(),
		}
	}
	shaper := tooling.NewShaper(tcfg.MaxResponseTokens, tcfg.SummarizeEnabled, tcfg.ChunkEnabled, tcfg.TruncateEnabled, summarizer)
	registry := tooling.NewRegistry(shaper)

	registry.Register(tooling.NewHandoffTool())
	registry.Register(tooling.NewPythonTool(tcfg.PythonBin, tcfg.PythonTimeout))
	registry.Register(tooling.NewBrowserURLTool(tooling.NewPageFetcher(tcfg.Browser)))
	if searcher, err := tooling.NewWebSearcher(tcfg.WebSearch); err == nil {
		registry.Register(tooling.NewBrowserSearchTool(searcher, tcfg.WebSearch.MaxItems))
	} else {
		d.logger.Printf("web search disabled: %v", err)
	}
	registry.Register(tooling.NewTTSTool(d.provider, tcfg.TTS))

	if req.CollectionID != "" && d.retriever != nil {
		col, ok, err := d.store.GetCollection(ctx, req.CollectionID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, apperr.NotFound("collection not found")
		}
		publish := func(ctx context.Context, resources []event.RetrieverResource) {
			if perr := q.PublishResources(ctx, resources, event.SourceToolCallback); perr != nil {
				d.logger.Printf("publish retriever resources: %v", perr)
			}
		}
		registry.Register(tooling.NewKnowledgeSearchTool(d.retriever, col, nil, publish))
	}

	servers := append([]config.MCPServerEntry(nil), tcfg.MCPServers...)
	if req.WorkspaceID != "" {
		stored, err := d.store.ListMCPServers(ctx, req.WorkspaceID, true)
		if err != nil {
			d.logger.Printf("list mcp servers: %v", err)
		}
		for _, s := range stored {
			servers = append(servers, config.MCPServerEntry{
				Name: s.Name, Enabled: s.Enabled, Type: s.Type,
				Command: s.Command, Args: s.Args, Env: s.Env,
				URL: s.URL, Headers: s.Headers,
			})
		}
	}
	pool.Setup(ctx, servers)
	for _, t := range pool.Tools() {
		registry.Register(t)
	}
	return registry, nil
}

func (d *Dispatcher) summarizeModel() string {
	r := d.cfg.LLM.Routing
	if r.Summarize != "" {
		return r.Summarize
	}
	return r.Fallback
}

// history loads the prior turns of the conversation, excluding the message
// being generated.
func (d *Dispatcher) history(ctx context.Context, req Request) ([]store.Message, error) {
	msgs, err := d.store.ListMessages(ctx, req.ConversationID, 0, 0)
	if err != nil {
		return nil, err
	}
	out := msgs[:0]
	for _, m := range msgs {
		if m.ID != req.MessageID {
			out = append(out, m)
		}
	}
	return out, nil
}

// endResult builds the terminal payload for non-graph runners, carrying the
// prompt that produced the answer for persistence.
func endResult(answer string, usage llm.Usage, msgs []llm.Message) *event.EndResult {
	return &event.EndResult{
		Answer:         answer,
		PromptTokens:   usage.PromptTokens,
		OutputTokens:   usage.OutputTokens,
		PromptMessages: promptSnapshot(msgs),
	}
}

// maxInlineImageChars bounds base64 image payloads inside the persisted
// prompt snapshot. The full attachment stays with the message files.
const maxInlineImageChars = 256

// promptSnapshot copies the assembled prompt into the role-tagged form
// persisted with the message.
func promptSnapshot(msgs []llm.Message) []event.PromptMessage {
	out := make([]event.PromptMessage, 0, len(msgs))
	for _, m := range msgs {
		pm := event.PromptMessage{Role: m.Role, Content: m.Content}
		for _, img := range m.Images {
			if len(img) > maxInlineImageChars {
				img = img[:maxInlineImageChars] + "...[truncated]"
			}
			pm.Images = append(pm.Images, img)
		}
		out = append(out, pm)
	}
	return out
}
