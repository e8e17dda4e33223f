package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stellarlinkco/termpal/internal/tool"
)

func TestOpenAISendParsesToolCalls(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "gpt-test",
			"choices": [{
				"index": 0,
				"finish_reason": "tool_calls",
				"message": {
					"role": "assistant",
					"content": null,
					"tool_calls": [
						{"id": "call_1", "type": "function", "function": {"name": "add_task", "arguments": "{\"title\":\"A\"}"}},
						{"id": "call_2", "type": "function", "function": {"name": "list_tasks", "arguments": ""}}
					]
				}
			}]
		}`)
	}))
	defer srv.Close()

	client, err := NewOpenAI(Options{APIKey: "sk-test", BaseURL: srv.URL, Model: "gpt-test"})
	require.NoError(t, err)

	reply, err := client.Send(context.Background(), Request{
		System: "sys",
		Input:  "add task A then list",
		Tools:  sampleTools(),
	})
	require.NoError(t, err)
	assert.Empty(t, reply.Text)
	require.Len(t, reply.Calls, 2)
	assert.Equal(t, "add_task", reply.Calls[0].Name)
	assert.Equal(t, tool.Args{"title": "A"}, reply.Calls[0].Args)
	assert.Equal(t, tool.Args{}, reply.Calls[1].Args)

	msgs := body["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	tools := body["tools"].([]any)
	fn := tools[0].(map[string]any)["function"].(map[string]any)
	assert.Equal(t, "get_current_time", fn["name"])
}

func TestOpenAIFollowUpMessages(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"chatcmpl-2","object":"chat.completion","created":1,"model":"gpt-test",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"Added A."}}]}`)
	}))
	defer srv.Close()

	client, err := NewOpenAI(Options{APIKey: "sk-test", BaseURL: srv.URL, Model: "gpt-test"})
	require.NoError(t, err)

	reply, err := client.Send(context.Background(), Request{
		Input: "add A",
		Exchange: &Exchange{
			Calls:   []tool.Call{{ID: "call_1", Name: "add_task", Args: tool.Args{"title": "A"}}},
			Results: []tool.Result{tool.OK("Added task A", nil)},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Added A.", reply.Text)

	msgs := body["messages"].([]any)
	require.Len(t, msgs, 3)
	assistant := msgs[1].(map[string]any)
	assert.Equal(t, "assistant", assistant["role"])
	calls := assistant["tool_calls"].([]any)
	require.Len(t, calls, 1)
	fn := calls[0].(map[string]any)["function"].(map[string]any)
	assert.Equal(t, "add_task", fn["name"])
	assert.JSONEq(t, `{"title":"A"}`, fn["arguments"].(string))
	result := msgs[2].(map[string]any)
	assert.Equal(t, "tool", result["role"])
	assert.Equal(t, "call_1", result["tool_call_id"])
	assert.JSONEq(t, `{"success":true,"message":"Added task A"}`, result["content"].(string))
}

func sse(w http.ResponseWriter, chunks ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	for _, c := range chunks {
		_, _ = fmt.Fprintf(w, "data: %s\n\n", c)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}
	_, _ = io.WriteString(w, "data: [DONE]\n\n")
}

func chunk(delta string) string {
	return fmt.Sprintf(`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-test","choices":[{"index":0,"delta":%s,"finish_reason":null}]}`, delta)
}

func TestOpenAIStreamText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sse(w, chunk(`{"role":"assistant","content":"Hel"}`), chunk(`{"content":"lo"}`))
	}))
	defer srv.Close()

	client, err := NewOpenAI(Options{APIKey: "sk-test", BaseURL: srv.URL, Model: "gpt-test"})
	require.NoError(t, err)

	var deltas []string
	reply, err := client.Stream(context.Background(), Request{Input: "hi"}, func(ev Event) error {
		deltas = append(deltas, ev.Delta)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo"}, deltas)
	assert.Equal(t, "Hello", reply.Text)
	assert.False(t, reply.HasCalls())
}

func TestOpenAIStreamToolCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sse(w,
			chunk(`{"role":"assistant","tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"list_tasks","arguments":""}}]}`),
			chunk(`{"tool_calls":[{"index":0,"function":{"arguments":"{\"status\":"}}]}`),
			chunk(`{"tool_calls":[{"index":0,"function":{"arguments":"\"all\"}"}}]}`),
		)
	}))
	defer srv.Close()

	client, err := NewOpenAI(Options{APIKey: "sk-test", BaseURL: srv.URL, Model: "gpt-test"})
	require.NoError(t, err)

	var announced []string
	reply, err := client.Stream(context.Background(), Request{Input: "list"}, func(ev Event) error {
		if ev.Call != nil {
			announced = append(announced, ev.Call.Name)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"list_tasks"}, announced)
	require.Len(t, reply.Calls, 1)
	assert.Equal(t, tool.Args{"status": "all"}, reply.Calls[0].Args)
}

func TestOpenAIStreamBrokenAfterOutputIsNotReplayed(t *testing.T) {
	var requests atomic.Int32
	shown := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) > 1 {
			sse(w, chunk(`{"role":"assistant","content":"Hello "}`), chunk(`{"content":"world"}`))
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = fmt.Fprintf(w, "data: %s\n\n", chunk(`{"role":"assistant","content":"Hello "}`))
		w.(http.Flusher).Flush()
		select {
		case <-shown:
		case <-time.After(5 * time.Second):
		}
		panic(http.ErrAbortHandler)
	}))
	defer srv.Close()

	client, err := NewOpenAI(Options{APIKey: "sk-test", BaseURL: srv.URL, Model: "gpt-test", MaxRetries: 3})
	require.NoError(t, err)

	var out strings.Builder
	_, err = client.Stream(context.Background(), Request{Input: "hi"}, func(ev Event) error {
		if out.Len() == 0 {
			close(shown)
		}
		out.WriteString(ev.Delta)
		return nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errStreamInterrupted)
	assert.Equal(t, "Hello ", out.String())
	assert.Equal(t, int32(1), requests.Load())
}

func TestOpenAIErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"bad key","type":"invalid_request_error","code":"invalid_api_key"}}`)
	}))
	defer srv.Close()

	client, err := NewOpenAI(Options{APIKey: "sk-bad", BaseURL: srv.URL, Model: "gpt-test"})
	require.NoError(t, err)

	_, err = client.Send(context.Background(), Request{Input: "hi"})
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, ProviderStatus(err))
	assert.Zero(t, ProviderStatus(errors.New("plain")))
}
