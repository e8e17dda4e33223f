package model

import (
	"context"
	"errors"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/jsonschema-go/jsonschema"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/stellarlinkco/termpal/internal/conversation"
	"github.com/stellarlinkco/termpal/internal/tool"
)

type fakeGemini struct {
	turns     []geminiTurn
	responses []*genai.GenerateContentResponse
	err       error
}

func (f *fakeGemini) send(_ context.Context, turn geminiTurn) (*genai.GenerateContentResponse, error) {
	f.turns = append(f.turns, turn)
	if f.err != nil {
		return nil, f.err
	}
	return f.responses[0], nil
}

func (f *fakeGemini) stream(_ context.Context, turn geminiTurn, fn func(*genai.GenerateContentResponse) error) error {
	f.turns = append(f.turns, turn)
	if f.err != nil {
		return f.err
	}
	for _, r := range f.responses {
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

func geminiResponse(parts ...genai.Part) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Role: "model", Parts: parts}}},
	}
}

func newFakeGeminiClient(backend geminiBackend) *Gemini {
	return &Gemini{backend: backend, model: "gemini-test", logger: zerolog.Nop()}
}

func TestGeminiSendParsesFunctionCalls(t *testing.T) {
	backend := &fakeGemini{responses: []*genai.GenerateContentResponse{
		geminiResponse(
			genai.Text("On it."),
			genai.FunctionCall{Name: "get_current_time", Args: map[string]any{"timezone": "UTC"}},
		),
	}}
	client := newFakeGeminiClient(backend)

	reply, err := client.Send(context.Background(), Request{
		System: "sys",
		History: []conversation.Turn{
			{Role: conversation.RoleUser, Content: "hi"},
			{Role: conversation.RoleModel, Content: "hello"},
		},
		Input: "what time is it?",
		Tools: sampleTools(),
	})
	require.NoError(t, err)
	assert.Equal(t, "On it.", reply.Text)
	require.Len(t, reply.Calls, 1)
	assert.Equal(t, "get_current_time", reply.Calls[0].Name)
	assert.Equal(t, tool.Args{"timezone": "UTC"}, reply.Calls[0].Args)

	require.Len(t, backend.turns, 1)
	turn := backend.turns[0]
	assert.Equal(t, "sys", turn.System)
	require.Len(t, turn.History, 2)
	assert.Equal(t, "user", turn.History[0].Role)
	assert.Equal(t, "model", turn.History[1].Role)
	assert.Equal(t, []genai.Part{genai.Text("what time is it?")}, turn.Parts)
	require.Len(t, turn.Tools, 1)
	decl := turn.Tools[0].FunctionDeclarations[0]
	assert.Equal(t, "get_current_time", decl.Name)
	assert.Equal(t, genai.TypeString, decl.Parameters.Properties["timezone"].Type)
}

func TestGeminiFollowUpTurn(t *testing.T) {
	turn := geminiTurnFor(Request{
		Input: "add A",
		Exchange: &Exchange{
			Calls:   []tool.Call{{Name: "add_task", Args: tool.Args{"title": "A"}}},
			Results: []tool.Result{tool.Failf("database locked")},
		},
	})
	require.Len(t, turn.History, 2)
	assert.Equal(t, "user", turn.History[0].Role)
	assert.Equal(t, "model", turn.History[1].Role)
	assert.Equal(t, genai.FunctionCall{Name: "add_task", Args: map[string]any{"title": "A"}}, turn.History[1].Parts[0])
	require.Len(t, turn.Parts, 1)
	resp := turn.Parts[0].(genai.FunctionResponse)
	assert.Equal(t, "add_task", resp.Name)
	assert.Equal(t, map[string]any{"success": false, "error": "database locked"}, resp.Response)
}

func TestGeminiDeclarationEnumsAndArrays(t *testing.T) {
	decl := geminiDeclaration(tool.FunctionSchema{
		Name: "add_task",
		Parameters: schemaOf(t,
			tool.StringParam("priority", "level", true, "low", "high"),
			tool.ArrayParam("tags", "labels", false),
			tool.NumberParam("estimate", "hours", false),
			tool.BoolParam("urgent", "flag", false),
		),
	})
	props := decl.Parameters.Properties
	assert.Equal(t, []string{"low", "high"}, props["priority"].Enum)
	assert.Equal(t, genai.TypeArray, props["tags"].Type)
	assert.Equal(t, genai.TypeString, props["tags"].Items.Type)
	assert.Equal(t, genai.TypeNumber, props["estimate"].Type)
	assert.Equal(t, genai.TypeBoolean, props["urgent"].Type)
	assert.Equal(t, []string{"priority"}, decl.Parameters.Required)

	bare := geminiDeclaration(tool.FunctionSchema{Name: "noop"})
	assert.Nil(t, bare.Parameters)
}

func TestGeminiStreamForwardsChunks(t *testing.T) {
	backend := &fakeGemini{responses: []*genai.GenerateContentResponse{
		geminiResponse(genai.Text("It is ")),
		geminiResponse(genai.Text("noon.")),
	}}
	client := newFakeGeminiClient(backend)

	var deltas []string
	reply, err := client.Stream(context.Background(), Request{Input: "time?"}, func(ev Event) error {
		deltas = append(deltas, ev.Delta)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"It is ", "noon."}, deltas)
	assert.Equal(t, "It is noon.", reply.Text)
}

func TestGeminiAuthErrorIsNotRetried(t *testing.T) {
	backend := &fakeGemini{err: &googleapi.Error{Code: 403, Message: "forbidden"}}
	client := newFakeGeminiClient(backend)
	client.maxRetries = 3

	_, err := client.Send(context.Background(), Request{Input: "hi"})
	require.Error(t, err)
	var apiErr *googleapi.Error
	assert.True(t, errors.As(err, &apiErr))
	assert.Len(t, backend.turns, 1)
}

func schemaOf(t *testing.T, params ...tool.Param) *jsonschema.Schema {
	t.Helper()
	r := tool.NewRegistryWithLogger(zerolog.Nop())
	r.Register(&tool.Func{Desc: tool.Descriptor{Name: "x", Parameters: params}})
	return r.Schema()[0].Parameters
}

// flakyGemini fails its first stream attempt after failAfter responses.
type flakyGemini struct {
	fakeGemini
	failAfter int
	attempts  int
}

func (f *flakyGemini) stream(_ context.Context, turn geminiTurn, fn func(*genai.GenerateContentResponse) error) error {
	f.attempts++
	for i, r := range f.responses {
		if f.attempts == 1 && i == f.failAfter {
			return &googleapi.Error{Code: 503, Message: "backend reset"}
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

func TestGeminiStreamDoesNotReplayShownText(t *testing.T) {
	backend := &flakyGemini{failAfter: 1}
	backend.responses = []*genai.GenerateContentResponse{
		geminiResponse(genai.Text("Hello ")),
		geminiResponse(genai.Text("world")),
	}
	client := newFakeGeminiClient(backend)
	client.maxRetries = 3

	var shown string
	_, err := client.Stream(context.Background(), Request{Input: "hi"}, func(ev Event) error {
		shown += ev.Delta
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, "Hello ", shown)
	assert.Equal(t, 1, backend.attempts)
}

func TestGeminiStreamRetriesBeforeOutput(t *testing.T) {
	backend := &flakyGemini{failAfter: 0}
	backend.responses = []*genai.GenerateContentResponse{
		geminiResponse(genai.Text("Hello ")),
		geminiResponse(genai.Text("world")),
	}
	client := newFakeGeminiClient(backend)
	client.maxRetries = 1

	var shown string
	reply, err := client.Stream(context.Background(), Request{Input: "hi"}, func(ev Event) error {
		shown += ev.Delta
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello world", shown)
	assert.Equal(t, "Hello world", reply.Text)
	assert.Equal(t, 2, backend.attempts)
}

func TestGeminiFollowUpWithStructData(t *testing.T) {
	type task struct {
		ID    int    `json:"id"`
		Title string `json:"title"`
	}
	turn := geminiTurnFor(Request{
		Input: "add A",
		Exchange: &Exchange{
			Calls:   []tool.Call{{Name: "add_task", Args: tool.Args{"title": "A"}}},
			Results: []tool.Result{tool.OK("Added task #1", task{ID: 1, Title: "A"})},
		},
	})
	require.Len(t, turn.Parts, 1)
	resp := turn.Parts[0].(genai.FunctionResponse)
	assert.Equal(t, map[string]any{"id": 1.0, "title": "A"}, resp.Response["data"])

	_, err := structpb.NewStruct(resp.Response)
	require.NoError(t, err)
}

func TestGeminiUnknownErrorIsNotRetried(t *testing.T) {
	backend := &fakeGemini{err: errors.New("proto: invalid type: tasks.Task")}
	client := newFakeGeminiClient(backend)
	client.maxRetries = 3

	_, err := client.Send(context.Background(), Request{Input: "hi"})
	require.Error(t, err)
	assert.Len(t, backend.turns, 1)
}
