// Package agent runs one conversational turn: it sends the user's input with
// history and tool declarations to the model, executes any function calls
// through the registry, and records the outcome in conversation memory.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/stellarlinkco/termpal/internal/conversation"
	"github.com/stellarlinkco/termpal/internal/model"
	"github.com/stellarlinkco/termpal/internal/tool"
)

const (
	// FallbackReply replaces a blank model answer that requested no tools.
	FallbackReply = "I'm not sure how to help with that. Could you rephrase your request?"
	// ApologyReply is returned when the model cannot be reached.
	ApologyReply = "Sorry, I encountered an error processing your message. Please try again."
)

const (
	StrategySummary  = "summary"
	StrategyFollowUp = "followup"
)

const summarySeparator = "\n\n"

// PromptExtender contributes extra system prompt text for a given input.
type PromptExtender interface {
	Prompt(input string) string
}

type Options struct {
	Client   model.Client
	Registry *tool.Registry
	Memory   *conversation.Memory

	// System is the base system prompt sent with every request.
	System string
	// Skills, when set, appends input-specific instructions to System.
	Skills PromptExtender

	Strategy      string
	Stream        bool
	HistoryWindow int

	Logger *zerolog.Logger
}

// Agent serializes nothing itself; callers run one turn at a time.
type Agent struct {
	client   model.Client
	registry *tool.Registry
	memory   *conversation.Memory
	system   string
	skills   PromptExtender
	strategy string
	stream   bool
	window   int
	logger   zerolog.Logger
}

func New(opts Options) (*Agent, error) {
	if opts.Client == nil {
		return nil, errors.New("agent: model client required")
	}
	if opts.Registry == nil {
		return nil, errors.New("agent: tool registry required")
	}
	mem := opts.Memory
	if mem == nil {
		mem = conversation.NewMemory(conversation.DefaultCap)
	}
	strategy := opts.Strategy
	if strategy != StrategyFollowUp {
		strategy = StrategySummary
	}
	window := opts.HistoryWindow
	if window <= 0 {
		window = mem.Cap()
	}
	logger := log.With().Str("component", "agent").Logger()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Agent{
		client:   opts.Client,
		registry: opts.Registry,
		memory:   mem,
		system:   strings.TrimSpace(opts.System),
		skills:   opts.Skills,
		strategy: strategy,
		stream:   opts.Stream,
		window:   window,
		logger:   logger,
	}, nil
}

func (a *Agent) Memory() *conversation.Memory { return a.memory }

func (a *Agent) Registry() *tool.Registry { return a.registry }

func (a *Agent) Strategy() string { return a.strategy }

func (a *Agent) ModelName() string { return a.client.Name() }

// Reset clears the conversation.
func (a *Agent) Reset() { a.memory.Clear() }

// CanStream reports whether turns will be streamed. It is decided before any
// network call.
func (a *Agent) CanStream() bool {
	if !a.stream {
		return false
	}
	_, ok := a.client.(model.Streamer)
	return ok
}

// Respond runs one turn and returns the final reply. The only error it
// returns is the context's, when the turn was cancelled; in that case no model
// message is recorded.
func (a *Agent) Respond(ctx context.Context, input string) (string, error) {
	req := a.prepare(input)
	reply, err := a.client.Send(ctx, req)
	if err != nil {
		return a.fail(ctx, err)
	}
	return a.complete(ctx, req, reply)
}

// RespondStream runs one turn, passing text to emit as it becomes final.
// Plain-text replies are emitted incrementally; replies that call tools are
// emitted once, after the tools have run. The returned text, like the stored
// model turn, is everything that was emitted.
func (a *Agent) RespondStream(ctx context.Context, input string, emit func(string)) (string, error) {
	if emit == nil {
		emit = func(string) {}
	}
	if !a.CanStream() {
		text, err := a.Respond(ctx, input)
		if err == nil {
			emit(text)
		}
		return text, err
	}

	streamer := a.client.(model.Streamer)
	req := a.prepare(input)
	g := &gate{emit: emit}
	reply, err := streamer.Stream(ctx, req, g.handle)

	var text string
	switch {
	case err != nil:
		text, err = a.failure(ctx, err)
	case reply.HasCalls():
		g.block()
		text, err = a.answer(ctx, req, reply)
	case g.flushed:
		a.memory.AppendModel(reply.Text)
		return reply.Text, nil
	default:
		text, err = a.answer(ctx, req, reply)
	}
	if err != nil {
		return "", err
	}
	shown := g.finish(text)
	a.memory.AppendModel(shown)
	return shown, nil
}

// prepare snapshots history before recording the new user message so the
// input is not sent twice.
func (a *Agent) prepare(input string) model.Request {
	history := conversation.ToTurns(a.memory.Recent(a.window))
	a.memory.AppendUser(input)

	system := a.system
	if a.skills != nil {
		if extra := strings.TrimSpace(a.skills.Prompt(input)); extra != "" {
			if system != "" {
				system += "\n\n"
			}
			system += extra
		}
	}
	return model.Request{
		System:  system,
		History: history,
		Input:   input,
		Tools:   a.registry.Schema(),
	}
}

func (a *Agent) fail(ctx context.Context, err error) (string, error) {
	text, err := a.failure(ctx, err)
	if err != nil {
		return "", err
	}
	a.memory.AppendModel(text)
	return text, nil
}

// failure maps a model error to the apology reply, or to the context error
// when the turn was cancelled.
func (a *Agent) failure(ctx context.Context, err error) (string, error) {
	if ctx.Err() != nil {
		a.logger.Debug().Err(err).Msg("turn cancelled")
		return "", ctx.Err()
	}
	a.logger.Error().Err(err).Str("model", a.client.Name()).Msg("model request failed")
	return ApologyReply, nil
}

func (a *Agent) complete(ctx context.Context, req model.Request, reply *model.Reply) (string, error) {
	text, err := a.answer(ctx, req, reply)
	if err != nil {
		return "", err
	}
	a.memory.AppendModel(text)
	return text, nil
}

// answer turns a reply into the turn's final text, running any tool calls.
// It does not touch memory.
func (a *Agent) answer(ctx context.Context, req model.Request, reply *model.Reply) (string, error) {
	if !reply.HasCalls() {
		text := reply.Text
		if strings.TrimSpace(text) == "" {
			a.logger.Warn().Msg("empty model reply")
			text = FallbackReply
		}
		return text, nil
	}

	results := a.runCalls(ctx, reply.Calls)
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	final := a.summarize(reply.Calls, results)

	if a.strategy == StrategyFollowUp {
		req.Exchange = &model.Exchange{Text: reply.Text, Calls: reply.Calls, Results: results}
		followUp, err := a.client.Send(ctx, req)
		switch {
		case ctx.Err() != nil:
			return "", ctx.Err()
		case err != nil:
			a.logger.Warn().Err(err).Msg("follow-up request failed, using tool summary")
		case followUp.HasCalls():
			a.logger.Warn().Int("calls", len(followUp.Calls)).Msg("follow-up requested more tools, using tool summary")
		case strings.TrimSpace(followUp.Text) == "":
			a.logger.Warn().Msg("empty follow-up reply, using tool summary")
		default:
			final = followUp.Text
		}
	}
	return final, nil
}

// runCalls executes calls one after another in emission order so that each
// call observes the effects of the previous ones.
func (a *Agent) runCalls(ctx context.Context, calls []tool.Call) []tool.Result {
	results := make([]tool.Result, 0, len(calls))
	for _, call := range calls {
		if ctx.Err() != nil {
			break
		}
		res := a.registry.Dispatch(ctx, call.Name, call.Args)
		ev := a.logger.Debug().Str("tool", call.Name).Bool("success", res.Success)
		if !res.Success {
			ev = ev.Str("error", res.Error)
		}
		ev.Msg("tool call")
		results = append(results, res)
	}
	return results
}

func (a *Agent) summarize(calls []tool.Call, results []tool.Result) string {
	blocks := make([]string, 0, len(results))
	for i, res := range results {
		blocks = append(blocks, a.render(calls[i], res))
	}
	return strings.Join(blocks, summarySeparator)
}

func (a *Agent) render(call tool.Call, res tool.Result) string {
	if !res.Success {
		return fmt.Sprintf("❌ Error executing %s: %s", call.Name, res.Error)
	}
	if t, ok := a.registry.Get(call.Name); ok {
		if r, ok := t.(tool.Renderer); ok {
			if text := r.Render(res); strings.TrimSpace(text) != "" {
				return text
			}
		}
	}
	if strings.TrimSpace(res.Message) == "" {
		return fmt.Sprintf("✅ %s completed", call.Name)
	}
	return "✅ " + res.Message
}
