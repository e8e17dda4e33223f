package model

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	sdkmodel "github.com/cexll/agentsdk-go/pkg/model"
	"github.com/openai/openai-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/stellarlinkco/termpal/internal/conversation"
	"github.com/stellarlinkco/termpal/internal/tool"
)

// errStreamInterrupted marks a stream that failed after part of it was shown.
var errStreamInterrupted = errors.New("stream interrupted after partial output")

// SDKClient adapts an agentsdk-go model (Anthropic Messages or OpenAI Chat
// Completions) to Client and Streamer.
type SDKClient struct {
	model    sdkmodel.Model
	provider string
	name     string
	logger   zerolog.Logger
}

// NewAnthropic builds a client for the Anthropic Messages API.
func NewAnthropic(opts Options) (*SDKClient, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, errors.New("anthropic: api key required")
	}
	m, err := sdkmodel.NewAnthropic(sdkmodel.AnthropicConfig{
		APIKey:      apiKey,
		BaseURL:     opts.BaseURL,
		Model:       opts.Model,
		MaxTokens:   opts.maxTokens(),
		MaxRetries:  sdkRetries(opts),
		Temperature: sdkTemperature(opts),
		HTTPClient:  guardedHTTPClient(opts.HTTPClient),
	})
	if err != nil {
		return nil, err
	}
	return newSDKClient(m, "anthropic", opts.Model), nil
}

// NewOpenAI builds a client for the OpenAI Chat Completions API.
func NewOpenAI(opts Options) (*SDKClient, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, errors.New("openai: api key required")
	}
	m, err := sdkmodel.NewOpenAI(sdkmodel.OpenAIConfig{
		APIKey:      apiKey,
		BaseURL:     opts.BaseURL,
		Model:       opts.Model,
		MaxTokens:   opts.maxTokens(),
		MaxRetries:  sdkRetries(opts),
		Temperature: sdkTemperature(opts),
		HTTPClient:  guardedHTTPClient(opts.HTTPClient),
	})
	if err != nil {
		return nil, err
	}
	return newSDKClient(m, "openai", opts.Model), nil
}

func newSDKClient(m sdkmodel.Model, provider, modelName string) *SDKClient {
	return &SDKClient{
		model:    m,
		provider: provider,
		name:     provider + ":" + modelName,
		logger:   log.With().Str("component", "model").Str("provider", provider).Logger(),
	}
}

// sdkRetries maps the retry budget onto agentsdk-go, which treats zero as its
// own default of ten.
func sdkRetries(opts Options) int {
	return max(1, opts.retries())
}

func sdkTemperature(opts Options) *float64 {
	if opts.Temperature <= 0 {
		return nil
	}
	t := opts.Temperature
	return &t
}

func (c *SDKClient) Name() string { return c.name }

func (c *SDKClient) Send(ctx context.Context, req Request) (*Reply, error) {
	resp, err := c.model.Complete(ctx, sdkRequest(req))
	if err != nil {
		c.logger.Debug().Err(err).Int("status", ProviderStatus(err)).Msg("completion failed")
		return nil, fmt.Errorf("%s: %w", c.provider, err)
	}
	return sdkReply(resp), nil
}

// Stream forwards deltas and completed calls to fn. Once anything has been
// forwarded the request is never replayed: a broken stream fails with
// errStreamInterrupted instead.
func (c *SDKClient) Stream(ctx context.Context, req Request, fn func(Event) error) (*Reply, error) {
	parent := ctx
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	guard := &streamGuard{cancel: cancel}
	ctx = context.WithValue(ctx, streamGuardKey{}, guard)

	var final *sdkmodel.Response
	err := c.model.CompleteStream(ctx, sdkRequest(req), func(res sdkmodel.StreamResult) error {
		switch {
		case res.Final:
			final = res.Response
		case res.ToolCall != nil:
			guard.emitted.Store(true)
			call := sdkCall(*res.ToolCall)
			return fn(Event{Call: &call})
		case res.Delta != "":
			guard.emitted.Store(true)
			return fn(Event{Delta: res.Delta})
		}
		return nil
	})
	if err != nil {
		if cause := context.Cause(ctx); parent.Err() == nil && errors.Is(cause, errStreamInterrupted) {
			err = cause
		}
		c.logger.Debug().Err(err).Int("status", ProviderStatus(err)).Msg("completion stream failed")
		return nil, fmt.Errorf("%s: %w", c.provider, err)
	}
	if final == nil {
		return nil, fmt.Errorf("%s: stream ended without a response", c.provider)
	}
	return sdkReply(final), nil
}

// ProviderStatus returns the HTTP status carried by an Anthropic or OpenAI
// API error, or 0.
func ProviderStatus(err error) int {
	var anthropicErr *anthropicsdk.Error
	if errors.As(err, &anthropicErr) {
		return anthropicErr.StatusCode
	}
	var openaiErr *openai.Error
	if errors.As(err, &openaiErr) {
		return openaiErr.StatusCode
	}
	return 0
}

// sdkRequest maps a request onto agentsdk-go messages. A follow-up appends
// the assistant's calls and one tool message carrying every result.
func sdkRequest(req Request) sdkmodel.Request {
	out := sdkmodel.Request{System: strings.TrimSpace(req.System)}
	for _, t := range history(req.History) {
		role := "user"
		if t.Role == conversation.RoleModel {
			role = "assistant"
		}
		out.Messages = append(out.Messages, sdkmodel.Message{Role: role, Content: t.Content})
	}
	input := req.Input
	if strings.TrimSpace(input) == "" {
		input = "."
	}
	out.Messages = append(out.Messages, sdkmodel.Message{Role: "user", Content: input})

	if ex := req.Exchange; ex != nil && len(ex.Calls) > 0 {
		assistant := sdkmodel.Message{Role: "assistant", Content: ex.Text}
		results := sdkmodel.Message{Role: "tool"}
		for i, call := range ex.Calls {
			id := call.ID
			if id == "" {
				id = fmt.Sprintf("call_%d", i)
			}
			args := map[string]any(call.Args)
			if args == nil {
				args = map[string]any{}
			}
			assistant.ToolCalls = append(assistant.ToolCalls, sdkmodel.ToolCall{ID: id, Name: call.Name, Arguments: args})
			results.ToolCalls = append(results.ToolCalls, sdkmodel.ToolCall{ID: id, Name: call.Name, Result: resultJSON(resultAt(ex, i))})
		}
		out.Messages = append(out.Messages, assistant, results)
	}

	for _, s := range req.Tools {
		out.Tools = append(out.Tools, sdkmodel.ToolDefinition{
			Name:        s.Name,
			Description: s.Description,
			Parameters:  s.ParameterMap(),
		})
	}
	return out
}

func sdkReply(resp *sdkmodel.Response) *Reply {
	if resp == nil {
		return &Reply{}
	}
	reply := &Reply{Text: resp.Message.Content}
	for _, c := range resp.Message.ToolCalls {
		if c.Name == "" {
			continue
		}
		reply.Calls = append(reply.Calls, sdkCall(c))
	}
	return reply
}

func sdkCall(c sdkmodel.ToolCall) tool.Call {
	args := tool.Args(c.Arguments)
	if args == nil {
		args = tool.Args{}
	}
	return tool.Call{ID: c.ID, Name: c.Name, Args: args}
}

type streamGuardKey struct{}

// streamGuard is attached to a streaming request's context. Once output has
// been emitted, a failing body read or a fresh attempt cancels the request
// so the SDK's retry loop gives up.
type streamGuard struct {
	emitted atomic.Bool
	cancel  context.CancelCauseFunc
}

type guardTransport struct {
	base http.RoundTripper
}

func guardedHTTPClient(c *http.Client) *http.Client {
	out := &http.Client{}
	if c != nil {
		*out = *c
	}
	base := out.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	out.Transport = &guardTransport{base: base}
	return out
}

func (t *guardTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	guard, _ := req.Context().Value(streamGuardKey{}).(*streamGuard)
	if guard == nil {
		return t.base.RoundTrip(req)
	}
	if guard.emitted.Load() {
		err := fmt.Errorf("%w: not replaying %s", errStreamInterrupted, req.URL.Path)
		guard.cancel(err)
		return nil, err
	}
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	resp.Body = &guardedBody{ReadCloser: resp.Body, guard: guard}
	return resp, nil
}

type guardedBody struct {
	io.ReadCloser
	guard *streamGuard
}

func (b *guardedBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if err != nil && !errors.Is(err, io.EOF) && b.guard.emitted.Load() {
		b.guard.cancel(fmt.Errorf("%w: %w", errStreamInterrupted, err))
	}
	return n, err
}
