package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	mu   sync.Mutex
	body map[string]any
}

func (r *recordedRequest) set(body map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.body = body
}

func (r *recordedRequest) get() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.body
}

func newProviderServer(t *testing.T, suffix string, status int, reply string, rec *recordedRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, suffix) {
			http.NotFound(w, r)
			return
		}
		data, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(data, &body)
		if rec != nil {
			rec.set(body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv
}

const openAIToolReply = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1700000000,
  "model": "gpt-4o-mini",
  "choices": [{
    "index": 0,
    "finish_reason": "tool_calls",
    "message": {
      "role": "assistant",
      "content": "Searching first.",
      "tool_calls": [{
        "id": "call_1",
        "type": "function",
        "function": {"name": "search_web", "arguments": "{\"query\":\"golang generics\"}"}
      }]
    }
  }],
  "usage": {"prompt_tokens": 12, "completion_tokens": 5, "total_tokens": 17}
}`

func TestOpenAIProvider(t *testing.T) {
	searchTool := ToolDescriptor{
		Name:        "search_web",
		Description: "Search the web",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"query": map[string]any{"type": "string"}},
			"required":   []string{"query"},
		},
	}

	t.Run("should decode content, tool calls and usage", func(t *testing.T) {
		rec := &recordedRequest{}
		srv := newProviderServer(t, "/chat/completions", http.StatusOK, openAIToolReply, rec)
		p := NewOpenAIProvider(OpenAIOptions{APIKey: "test", BaseURL: srv.URL + "/v1/"})

		resp, err := p.Complete(context.Background(), Request{
			Model: "gpt-4o-mini",
			Messages: []Message{
				SystemMessage("be helpful"),
				UserMessage("what are generics?"),
			},
			Tools: []ToolDescriptor{searchTool},
		})
		require.NoError(t, err)

		assert.Equal(t, "Searching first.", resp.Content)
		require.Len(t, resp.ToolCalls, 1)
		assert.Equal(t, "call_1", resp.ToolCalls[0].ID)
		assert.Equal(t, "search_web", resp.ToolCalls[0].Name)
		assert.Equal(t, "golang generics", resp.ToolCalls[0].Arguments["query"])
		require.NotNil(t, resp.Usage)
		assert.Equal(t, 12, resp.Usage.InputTokens)
		assert.Equal(t, 5, resp.Usage.OutputTokens)

		body := rec.get()
		assert.Equal(t, "gpt-4o-mini", body["model"])
		tools, ok := body["tools"].([]any)
		require.True(t, ok)
		assert.Len(t, tools, 1)
	})

	t.Run("should send placeholder tool when tools are required", func(t *testing.T) {
		rec := &recordedRequest{}
		srv := newProviderServer(t, "/chat/completions", http.StatusOK, openAIToolReply, rec)
		p := NewOpenAIProvider(OpenAIOptions{APIKey: "test", BaseURL: srv.URL + "/v1/", RequireTools: true})

		_, err := p.Complete(context.Background(), Request{Model: "deepseek-chat", Messages: []Message{UserMessage("hi")}})
		require.NoError(t, err)

		tools, ok := rec.get()["tools"].([]any)
		require.True(t, ok)
		require.Len(t, tools, 1)
		fn := tools[0].(map[string]any)["function"].(map[string]any)
		assert.Equal(t, PlaceholderToolName, fn["name"])
	})

	t.Run("should replay tool turns", func(t *testing.T) {
		rec := &recordedRequest{}
		srv := newProviderServer(t, "/chat/completions", http.StatusOK, openAIToolReply, rec)
		p := NewOpenAIProvider(OpenAIOptions{APIKey: "test", BaseURL: srv.URL + "/v1/"})

		_, err := p.Complete(context.Background(), Request{
			Model: "gpt-4o-mini",
			Messages: []Message{
				UserMessage("q"),
				AssistantMessage("", ToolCall{ID: "call_1", Name: "search_web", Arguments: map[string]any{"query": "x"}}),
				ToolMessage("call_1", `{"results":[]}`),
			},
		})
		require.NoError(t, err)

		msgs := rec.get()["messages"].([]any)
		require.Len(t, msgs, 3)
		toolMsg := msgs[2].(map[string]any)
		assert.Equal(t, "tool", toolMsg["role"])
		assert.Equal(t, "call_1", toolMsg["tool_call_id"])
	})

	t.Run("should classify rate limit as transient", func(t *testing.T) {
		srv := newProviderServer(t, "/chat/completions", http.StatusTooManyRequests,
			`{"error":{"message":"rate limited","type":"rate_limit"}}`, nil)
		p := NewOpenAIProvider(OpenAIOptions{Name: ProviderOpenRouter, APIKey: "test", BaseURL: srv.URL + "/v1/"})

		_, err := p.Complete(context.Background(), Request{Model: "m", Messages: []Message{UserMessage("hi")}})
		require.Error(t, err)

		var ge *GatewayError
		require.ErrorAs(t, err, &ge)
		assert.Equal(t, ErrorTransient, ge.Kind)
		assert.Equal(t, http.StatusTooManyRequests, ge.StatusCode)
		assert.Equal(t, ProviderOpenRouter, ge.Provider)
	})

	t.Run("should classify auth failure as fatal", func(t *testing.T) {
		srv := newProviderServer(t, "/chat/completions", http.StatusUnauthorized,
			`{"error":{"message":"bad key","type":"invalid_request_error"}}`, nil)
		p := NewOpenAIProvider(OpenAIOptions{APIKey: "test", BaseURL: srv.URL + "/v1/"})

		_, err := p.Complete(context.Background(), Request{Model: "m", Messages: []Message{UserMessage("hi")}})
		assert.False(t, IsTransient(err))
	})
}

const anthropicToolReply = `{
  "id": "msg_1",
  "type": "message",
  "role": "assistant",
  "model": "claude-sonnet-4-5",
  "content": [
    {"type": "text", "text": "Let me check."},
    {"type": "tool_use", "id": "toolu_1", "name": "calculate", "input": {"expression": "2+2"}}
  ],
  "stop_reason": "tool_use",
  "stop_sequence": null,
  "usage": {"input_tokens": 20, "output_tokens": 8}
}`

func TestAnthropicProvider(t *testing.T) {
	t.Run("should lift system prompt and decode tool use", func(t *testing.T) {
		rec := &recordedRequest{}
		srv := newProviderServer(t, "/messages", http.StatusOK, anthropicToolReply, rec)
		p := NewAnthropicProvider(AnthropicOptions{APIKey: "test", BaseURL: srv.URL})

		resp, err := p.Complete(context.Background(), Request{
			Model:    "claude-sonnet-4-5",
			Messages: []Message{SystemMessage("be precise"), UserMessage("2+2?")},
			Tools: []ToolDescriptor{{
				Name:        "calculate",
				Description: "Evaluate math",
				Parameters: map[string]any{
					"type":       "object",
					"properties": map[string]any{"expression": map[string]any{"type": "string"}},
					"required":   []any{"expression"},
				},
			}},
		})
		require.NoError(t, err)

		assert.Equal(t, "Let me check.", resp.Content)
		assert.Equal(t, "tool_use", resp.FinishReason)
		require.Len(t, resp.ToolCalls, 1)
		assert.Equal(t, "calculate", resp.ToolCalls[0].Name)
		assert.Equal(t, "2+2", resp.ToolCalls[0].Arguments["expression"])
		require.NotNil(t, resp.Usage)
		assert.Equal(t, 20, resp.Usage.InputTokens)

		body := rec.get()
		assert.NotNil(t, body["system"])
		assert.EqualValues(t, anthropicDefaultMaxTokens, body["max_tokens"])
		msgs := body["messages"].([]any)
		assert.Len(t, msgs, 1)
	})

	t.Run("should group consecutive tool results", func(t *testing.T) {
		rec := &recordedRequest{}
		srv := newProviderServer(t, "/messages", http.StatusOK, anthropicToolReply, rec)
		p := NewAnthropicProvider(AnthropicOptions{APIKey: "test", BaseURL: srv.URL})

		_, err := p.Complete(context.Background(), Request{
			Model: "claude-sonnet-4-5",
			Messages: []Message{
				UserMessage("q"),
				AssistantMessage("",
					ToolCall{ID: "a", Name: "calculate", Arguments: map[string]any{"expression": "1"}},
					ToolCall{ID: "b", Name: "calculate", Arguments: map[string]any{"expression": "2"}},
				),
				ToolMessage("a", "1"),
				ToolMessage("b", "2"),
			},
		})
		require.NoError(t, err)

		msgs := rec.get()["messages"].([]any)
		require.Len(t, msgs, 3)
		last := msgs[2].(map[string]any)
		assert.Equal(t, "user", last["role"])
		assert.Len(t, last["content"].([]any), 2)
	})

	t.Run("should classify overload as transient", func(t *testing.T) {
		srv := newProviderServer(t, "/messages", 529,
			`{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`, nil)
		p := NewAnthropicProvider(AnthropicOptions{APIKey: "test", BaseURL: srv.URL})

		_, err := p.Complete(context.Background(), Request{Model: "m", Messages: []Message{UserMessage("hi")}})
		assert.True(t, IsTransient(err))
	})
}

func TestNewGateway(t *testing.T) {
	t.Run("should require api key", func(t *testing.T) {
		_, err := NewGateway(ProviderConfig{Type: ProviderOpenAI})
		assert.Error(t, err)
	})

	t.Run("should build each provider", func(t *testing.T) {
		for _, typ := range []string{ProviderOpenAI, ProviderOpenRouter, ProviderDeepSeek, ProviderAnthropic} {
			g, err := NewGateway(ProviderConfig{Type: typ, APIKey: "k"})
			require.NoError(t, err, typ)
			assert.Equal(t, typ, g.Provider())
		}
	})

	t.Run("should force placeholder tools for deepseek", func(t *testing.T) {
		g, err := NewGateway(ProviderConfig{Type: ProviderDeepSeek, APIKey: "k"})
		require.NoError(t, err)
		assert.True(t, g.(*OpenAIProvider).requireTools)
	})

	t.Run("should reject unknown provider", func(t *testing.T) {
		_, err := NewGateway(ProviderConfig{Type: "gemini", APIKey: "k"})
		assert.EqualError(t, err, "unsupported provider: gemini")
	})
}
