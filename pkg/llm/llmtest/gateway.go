// Package llmtest provides a scripted llm.Gateway for tests.
package llmtest

import (
	"context"
	"errors"
	"sync"

	"github.com/Kylo111/make-it-heavy/pkg/llm"
)

// Func produces the reply to one request.
type Func func(ctx context.Context, req llm.Request) (*llm.Response, error)

// Gateway is an llm.Gateway whose replies come from a Func. It records every
// request it receives.
type Gateway struct {
	mu      sync.Mutex
	respond Func
	calls   []llm.Request
}

// New returns a Gateway answering with respond.
func New(respond Func) *Gateway {
	return &Gateway{respond: respond}
}

// Provider returns "scripted".
func (g *Gateway) Provider() string {
	return "scripted"
}

// Complete records req and delegates to the script.
func (g *Gateway) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	msgs := make([]llm.Message, len(req.Messages))
	copy(msgs, req.Messages)
	req.Messages = msgs

	g.mu.Lock()
	g.calls = append(g.calls, req)
	g.mu.Unlock()

	return g.respond(ctx, req)
}

// Calls returns a copy of the recorded requests.
func (g *Gateway) Calls() []llm.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]llm.Request, len(g.calls))
	copy(out, g.calls)
	return out
}

// CallCount returns the number of requests received.
func (g *Gateway) CallCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

// ErrScriptExhausted is returned by Sequence once every step was used.
var ErrScriptExhausted = errors.New("llmtest: script exhausted")

// Step is one scripted reply.
type Step struct {
	Response *llm.Response
	Err      error
}

// Sequence replays steps in order, one per call.
func Sequence(steps ...Step) Func {
	var mu sync.Mutex
	next := 0
	return func(ctx context.Context, req llm.Request) (*llm.Response, error) {
		mu.Lock()
		defer mu.Unlock()
		if next >= len(steps) {
			return nil, ErrScriptExhausted
		}
		s := steps[next]
		next++
		return s.Response, s.Err
	}
}

// Reply wraps a response as a Step.
func Reply(resp *llm.Response) Step {
	return Step{Response: resp}
}

// Fail wraps an error as a Step.
func Fail(err error) Step {
	return Step{Err: err}
}

// Text is a plain assistant reply.
func Text(content string) *llm.Response {
	return &llm.Response{Content: content, FinishReason: "stop"}
}

// WithToolCalls is an assistant reply requesting tool calls.
func WithToolCalls(content string, calls ...llm.ToolCall) *llm.Response {
	return &llm.Response{Content: content, ToolCalls: calls, FinishReason: "tool_calls"}
}

// Call builds a tool call.
func Call(id, name string, args map[string]any) llm.ToolCall {
	if args == nil {
		args = map[string]any{}
	}
	return llm.ToolCall{ID: id, Name: name, Arguments: args}
}

// FirstUserMessage returns the content of the first user message in req.
func FirstUserMessage(req llm.Request) string {
	for _, m := range req.Messages {
		if m.Role == llm.RoleUser {
			return m.Content
		}
	}
	return ""
}

// Blocking returns a Func that waits for ctx to end and returns its error
// wrapped as a fatal gateway error.
func Blocking() Func {
	return func(ctx context.Context, req llm.Request) (*llm.Response, error) {
		<-ctx.Done()
		return nil, llm.Classify("scripted", 0, ctx.Err())
	}
}
