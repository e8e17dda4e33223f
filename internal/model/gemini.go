package model

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/stellarlinkco/termpal/internal/conversation"
	"github.com/stellarlinkco/termpal/internal/tool"
)

// geminiTurn is everything a chat session needs for one message.
type geminiTurn struct {
	System  string
	Tools   []*genai.Tool
	History []*genai.Content
	Parts   []genai.Part
}

// geminiBackend sends a prepared turn. The SDK implementation opens a chat
// session per call; tests substitute canned responses.
type geminiBackend interface {
	send(ctx context.Context, turn geminiTurn) (*genai.GenerateContentResponse, error)
	stream(ctx context.Context, turn geminiTurn, fn func(*genai.GenerateContentResponse) error) error
}

type sdkGemini struct {
	client      *genai.Client
	model       string
	maxTokens   int32
	temperature float32
}

func (s *sdkGemini) session(turn geminiTurn) *genai.ChatSession {
	m := s.client.GenerativeModel(s.model)
	m.SetMaxOutputTokens(s.maxTokens)
	if s.temperature > 0 {
		m.SetTemperature(s.temperature)
	}
	if turn.System != "" {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(turn.System)}}
	}
	m.Tools = turn.Tools
	cs := m.StartChat()
	cs.History = turn.History
	return cs
}

func (s *sdkGemini) send(ctx context.Context, turn geminiTurn) (*genai.GenerateContentResponse, error) {
	return s.session(turn).SendMessage(ctx, turn.Parts...)
}

func (s *sdkGemini) stream(ctx context.Context, turn geminiTurn, fn func(*genai.GenerateContentResponse) error) error {
	iter := s.session(turn).SendMessageStream(ctx, turn.Parts...)
	for {
		resp, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(resp); err != nil {
			return err
		}
	}
}

// Gemini talks to Google's Gemini models with function declarations.
type Gemini struct {
	backend    geminiBackend
	closer     func() error
	model      string
	maxRetries int
	logger     zerolog.Logger
}

func NewGemini(ctx context.Context, opts Options) (*Gemini, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, errors.New("gemini: api key required")
	}
	clientOpts := []option.ClientOption{option.WithAPIKey(apiKey)}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(opts.BaseURL))
	}
	if opts.HTTPClient != nil {
		clientOpts = append(clientOpts, option.WithHTTPClient(opts.HTTPClient))
	}
	client, err := genai.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	backend := &sdkGemini{
		client:      client,
		model:       opts.Model,
		maxTokens:   int32(opts.maxTokens()),
		temperature: float32(opts.Temperature),
	}
	return &Gemini{
		backend:    backend,
		closer:     client.Close,
		model:      opts.Model,
		maxRetries: opts.retries(),
		logger:     log.With().Str("component", "model").Str("provider", "gemini").Logger(),
	}, nil
}

func (g *Gemini) Name() string { return "gemini:" + g.model }

// Close releases the underlying SDK client.
func (g *Gemini) Close() error {
	if g.closer == nil {
		return nil
	}
	return g.closer()
}

func (g *Gemini) Send(ctx context.Context, req Request) (*Reply, error) {
	turn := geminiTurnFor(req)
	var reply *Reply
	err := withRetry(ctx, g.maxRetries, geminiRetryable, func(ctx context.Context) error {
		resp, err := g.backend.send(ctx, turn)
		if err != nil {
			g.logger.Debug().Err(err).Msg("generate content failed")
			return err
		}
		reply = &Reply{}
		appendGeminiResponse(reply, resp, nil)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	return reply, nil
}

// Stream retries only while nothing has reached fn; a stream that breaks
// after output started fails instead of replaying text already shown.
func (g *Gemini) Stream(ctx context.Context, req Request, fn func(Event) error) (*Reply, error) {
	turn := geminiTurnFor(req)
	var (
		reply   *Reply
		emitted bool
	)
	forward := func(ev Event) error {
		emitted = true
		return fn(ev)
	}
	retryable := func(err error) bool { return !emitted && geminiRetryable(err) }
	err := withRetry(ctx, g.maxRetries, retryable, func(ctx context.Context) error {
		reply = &Reply{}
		return g.backend.stream(ctx, turn, func(resp *genai.GenerateContentResponse) error {
			return appendGeminiResponse(reply, resp, forward)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	return reply, nil
}

// geminiTurnFor maps a request onto chat history plus the parts to send. For
// a follow-up, the user input and the model's calls move into history and the
// function responses become the new message.
func geminiTurnFor(req Request) geminiTurn {
	turn := geminiTurn{System: strings.TrimSpace(req.System)}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, s := range req.Tools {
			decls = append(decls, geminiDeclaration(s))
		}
		turn.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	for _, t := range history(req.History) {
		role := "user"
		if t.Role == conversation.RoleModel {
			role = "model"
		}
		turn.History = append(turn.History, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(t.Content)}})
	}

	input := req.Input
	if strings.TrimSpace(input) == "" {
		input = "."
	}
	ex := req.Exchange
	if ex == nil || len(ex.Calls) == 0 {
		turn.Parts = []genai.Part{genai.Text(input)}
		return turn
	}

	turn.History = append(turn.History, &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(input)}})
	modelParts := make([]genai.Part, 0, len(ex.Calls)+1)
	if strings.TrimSpace(ex.Text) != "" {
		modelParts = append(modelParts, genai.Text(ex.Text))
	}
	for i, call := range ex.Calls {
		modelParts = append(modelParts, genai.FunctionCall{Name: call.Name, Args: map[string]any(call.Args)})
		turn.Parts = append(turn.Parts, genai.FunctionResponse{
			Name:     call.Name,
			Response: resultPayload(resultAt(ex, i)),
		})
	}
	turn.History = append(turn.History, &genai.Content{Role: "model", Parts: modelParts})
	return turn
}

func geminiDeclaration(s tool.FunctionSchema) *genai.FunctionDeclaration {
	decl := &genai.FunctionDeclaration{Name: s.Name, Description: s.Description}
	if s.Parameters == nil || len(s.Parameters.Properties) == 0 {
		return decl
	}
	schema := &genai.Schema{
		Type:       genai.TypeObject,
		Properties: make(map[string]*genai.Schema, len(s.Parameters.Properties)),
		Required:   append([]string(nil), s.Parameters.Required...),
	}
	for name, prop := range s.Parameters.Properties {
		p := &genai.Schema{Type: geminiType(prop.Type), Description: prop.Description}
		for _, v := range prop.Enum {
			p.Enum = append(p.Enum, fmt.Sprint(v))
		}
		if prop.Items != nil {
			p.Items = &genai.Schema{Type: geminiType(prop.Items.Type)}
		}
		schema.Properties[name] = p
	}
	decl.Parameters = schema
	return decl
}

func geminiType(t string) genai.Type {
	switch tool.ParamType(t) {
	case tool.TypeNumber:
		return genai.TypeNumber
	case tool.TypeBoolean:
		return genai.TypeBoolean
	case tool.TypeArray:
		return genai.TypeArray
	default:
		return genai.TypeString
	}
}

// appendGeminiResponse folds one response (or stream chunk) into reply,
// forwarding text and calls to fn when set.
func appendGeminiResponse(reply *Reply, resp *genai.GenerateContentResponse, fn func(Event) error) error {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil
	}
	cand := resp.Candidates[0]
	if cand.Content == nil {
		return nil
	}
	for _, part := range cand.Content.Parts {
		var call *tool.Call
		switch p := part.(type) {
		case genai.Text:
			if p == "" {
				continue
			}
			reply.Text += string(p)
			if fn != nil {
				if err := fn(Event{Delta: string(p)}); err != nil {
					return err
				}
			}
		case genai.FunctionCall:
			call = &tool.Call{Name: p.Name, Args: tool.Args(p.Args)}
		}
		if call == nil || call.Name == "" {
			continue
		}
		if call.Args == nil {
			call.Args = tool.Args{}
		}
		reply.Calls = append(reply.Calls, *call)
		if fn != nil {
			if err := fn(Event{Call: call}); err != nil {
				return err
			}
		}
	}
	return nil
}

func geminiRetryable(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.Code)
	}
	if strings.Contains(err.Error(), "API key not valid") {
		return false
	}
	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return false
	}
	return transient(err)
}
