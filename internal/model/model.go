// Package model adapts language-model provider SDKs to the single
// request/reply contract the agent uses: text in, text or function calls out.
package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/stellarlinkco/termpal/internal/conversation"
	"github.com/stellarlinkco/termpal/internal/tool"
)

const defaultMaxRetries = 3

// Client sends one request to a language model. A reply with no Calls is
// final.
type Client interface {
	Send(ctx context.Context, req Request) (*Reply, error)
	Name() string
}

// Streamer is implemented by clients that can deliver text incrementally.
// The returned Reply is authoritative; events are advisory.
type Streamer interface {
	Stream(ctx context.Context, req Request, fn func(Event) error) (*Reply, error)
}

// Request is one model round trip.
type Request struct {
	System  string
	History []conversation.Turn
	Input   string
	Tools   []tool.FunctionSchema

	// Exchange, when set, feeds executed calls back to the model so it can
	// answer in natural language.
	Exchange *Exchange
}

// Exchange is a completed tool round: the calls the model made, optional text
// that accompanied them, and one result per call in the same order.
type Exchange struct {
	Text    string
	Calls   []tool.Call
	Results []tool.Result
}

// Reply is the model's answer.
type Reply struct {
	Text  string
	Calls []tool.Call
}

// HasCalls reports whether the reply requests tool execution.
func (r *Reply) HasCalls() bool { return r != nil && len(r.Calls) > 0 }

// Event is a streaming notification. Call is set as soon as the model starts
// a function call and may carry incomplete arguments.
type Event struct {
	Delta string
	Call  *tool.Call
}

// Options are the provider-independent client settings.
type Options struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
	MaxRetries  int
	HTTPClient  *http.Client
}

func (o Options) retries() int {
	if o.MaxRetries < 0 {
		return 0
	}
	if o.MaxRetries == 0 {
		return defaultMaxRetries
	}
	return o.MaxRetries
}

func (o Options) maxTokens() int {
	if o.MaxTokens <= 0 {
		return 4096
	}
	return o.MaxTokens
}

// history drops blank turns and any leading model turns; providers expect the
// dialogue to open with the user.
func history(turns []conversation.Turn) []conversation.Turn {
	out := make([]conversation.Turn, 0, len(turns))
	for _, t := range turns {
		if strings.TrimSpace(t.Content) == "" {
			continue
		}
		if len(out) == 0 && t.Role != conversation.RoleUser {
			continue
		}
		out = append(out, t)
	}
	return out
}

// resultPayload is the structured form of a tool result sent back to a model.
func resultPayload(res tool.Result) map[string]any {
	out := map[string]any{"success": res.Success}
	if res.Message != "" {
		out["message"] = res.Message
	}
	if res.Error != "" {
		out["error"] = res.Error
	}
	if res.Data != nil {
		out["data"] = plainData(res.Data)
	}
	return out
}

// plainData reduces tool data to the maps, slices and scalars JSON decodes
// into, which every provider SDK can encode.
func plainData(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Sprint(v)
	}
	return out
}

func resultJSON(res tool.Result) string {
	data, err := json.Marshal(resultPayload(res))
	if err != nil {
		if res.Success {
			return res.Message
		}
		return res.Error
	}
	return string(data)
}

func resultAt(ex *Exchange, i int) tool.Result {
	if i < len(ex.Results) {
		return ex.Results[i]
	}
	return tool.Result{Error: "no result"}
}

// withRetry runs fn until it succeeds, fails permanently, or exhausts
// maxRetries, backing off quadratically between attempts.
func withRetry(ctx context.Context, maxRetries int, retryable func(error) bool, fn func(context.Context) error) error {
	attempts := 0
	for {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !retryable(err) || attempts >= maxRetries {
			return err
		}
		attempts++
		backoff := time.Duration(attempts*attempts) * 100 * time.Millisecond
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
}

// transient classifies errors that carry no provider status code. Only
// network failures are worth another attempt.
func transient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, syscall.ECONNRESET)
}

func retryableStatus(code int) bool {
	switch {
	case code == http.StatusTooManyRequests:
		return true
	case code >= 500:
		return true
	default:
		return false
	}
}
