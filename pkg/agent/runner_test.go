package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kylo111/make-it-heavy/pkg/llm"
	"github.com/Kylo111/make-it-heavy/pkg/llm/llmtest"
	"github.com/Kylo111/make-it-heavy/pkg/tools"
)

type countingTool struct {
	mu    sync.Mutex
	calls []map[string]any
}

func (c *countingTool) definition() tools.Definition {
	return tools.Definition{
		Name:        "search_web",
		Description: "Search the web",
		Parameters: []tools.Parameter{
			{Name: "query", Type: "string", Description: "Search query", Required: true},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.calls = append(c.calls, args)
			return fmt.Sprintf("results for %v", args["query"]), nil
		},
	}
}

func (c *countingTool) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func setupTestRunner(t *testing.T, script llmtest.Func) (*Runner, *llmtest.Gateway, *countingTool) {
	t.Helper()

	logger := zerolog.New(os.Stdout).Level(zerolog.ErrorLevel)

	registry := tools.NewRegistry(tools.Config{Logger: logger, Timeout: time.Second})
	search := &countingTool{}
	require.NoError(t, registry.RegisterTool(search.definition()))
	require.NoError(t, tools.RegisterBuiltins(registry))

	gw := llmtest.New(script)
	runner, err := NewRunner(Config{
		Gateway:      gw,
		Tools:        registry,
		Logger:       logger,
		MaxRetries:   3,
		RetryBackoff: time.Millisecond,
	})
	require.NoError(t, err)

	return runner, gw, search
}

func complete(id, summary string) llm.ToolCall {
	return llmtest.Call(id, tools.CompletionToolName, map[string]any{tools.ArgTaskSummary: summary})
}

func TestNewRunner(t *testing.T) {
	t.Run("should require gateway and tools", func(t *testing.T) {
		_, err := NewRunner(Config{Tools: tools.NewRegistry(tools.Config{})})
		assert.Error(t, err)

		_, err = NewRunner(Config{Gateway: llmtest.New(llmtest.Sequence())})
		assert.Error(t, err)
	})
}

func TestRunner_Run(t *testing.T) {
	params := RunParams{Prompt: "Q0", Model: "agent-model", MaxIterations: 5, SystemPrompt: "You are agent 0."}

	t.Run("should complete when completion tool is called", func(t *testing.T) {
		runner, gw, _ := setupTestRunner(t, llmtest.Sequence(
			llmtest.Reply(llmtest.WithToolCalls("", complete("c1", "Agent 0 result"))),
		))

		out := runner.Run(context.Background(), params)

		assert.Equal(t, StatusCompleted, out.Status)
		assert.Equal(t, "Agent 0 result", out.Text)
		assert.Equal(t, 1, out.Iterations)
		assert.NoError(t, out.Err)
		assert.Equal(t, 1, gw.CallCount())

		req := gw.Calls()[0]
		require.Len(t, req.Messages, 2)
		assert.Equal(t, llm.RoleSystem, req.Messages[0].Role)
		assert.Equal(t, "Q0", req.Messages[1].Content)
		assert.Len(t, req.Tools, 2)
	})

	t.Run("should complete with text when no tools are requested", func(t *testing.T) {
		runner, _, _ := setupTestRunner(t, llmtest.Sequence(
			llmtest.Reply(llmtest.Text("  plain answer  ")),
		))

		out := runner.Run(context.Background(), params)

		assert.Equal(t, StatusCompleted, out.Status)
		assert.Equal(t, "plain answer", out.Text)
	})

	t.Run("should execute tools and feed results back", func(t *testing.T) {
		runner, gw, search := setupTestRunner(t, llmtest.Sequence(
			llmtest.Reply(llmtest.WithToolCalls("Searching.", llmtest.Call("s1", "search_web", map[string]any{"query": "go"}))),
			llmtest.Reply(llmtest.WithToolCalls("", complete("c1", "done"))),
		))

		out := runner.Run(context.Background(), params)

		assert.Equal(t, StatusCompleted, out.Status)
		assert.Equal(t, 1, search.count())
		assert.Equal(t, 1, out.ToolCalls)
		assert.Equal(t, 2, out.Iterations)

		second := gw.Calls()[1].Messages
		require.Len(t, second, 4)
		assert.Equal(t, llm.RoleAssistant, second[2].Role)
		assert.Equal(t, llm.RoleTool, second[3].Role)
		assert.Equal(t, "s1", second[3].ToolCallID)
		assert.Equal(t, "results for go", second[3].Content)
	})

	t.Run("should run earlier tool calls of the completing turn", func(t *testing.T) {
		runner, _, search := setupTestRunner(t, llmtest.Sequence(
			llmtest.Reply(llmtest.WithToolCalls("",
				llmtest.Call("s1", "search_web", map[string]any{"query": "a"}),
				complete("c1", "final"),
				llmtest.Call("s2", "search_web", map[string]any{"query": "b"}),
			)),
		))

		out := runner.Run(context.Background(), params)

		assert.Equal(t, StatusCompleted, out.Status)
		assert.Equal(t, "final", out.Text)
		assert.Equal(t, 1, search.count())
	})

	t.Run("should feed tool errors back and continue", func(t *testing.T) {
		runner, gw, _ := setupTestRunner(t, llmtest.Sequence(
			llmtest.Reply(llmtest.WithToolCalls("", llmtest.Call("x1", "read_file", map[string]any{"path": "/etc"}))),
			llmtest.Reply(llmtest.WithToolCalls("", llmtest.Call("s1", "search_web", map[string]any{}))),
			llmtest.Reply(llmtest.Text("recovered")),
		))

		out := runner.Run(context.Background(), params)

		assert.Equal(t, StatusCompleted, out.Status)
		assert.Equal(t, "recovered", out.Text)

		calls := gw.Calls()
		require.Len(t, calls, 3)
		notFound := calls[1].Messages[len(calls[1].Messages)-1]
		assert.Contains(t, notFound.Content, `"error"`)
		assert.Contains(t, notFound.Content, "tool not found")
		invalid := calls[2].Messages[len(calls[2].Messages)-1]
		assert.Contains(t, invalid.Content, "invalid arguments")
	})

	t.Run("should stop at the iteration limit with the last assistant text", func(t *testing.T) {
		turn := 0
		var mu sync.Mutex
		runner, gw, _ := setupTestRunner(t, func(ctx context.Context, req llm.Request) (*llm.Response, error) {
			mu.Lock()
			defer mu.Unlock()
			turn++
			return llmtest.WithToolCalls(fmt.Sprintf("turn %d", turn),
				llmtest.Call(fmt.Sprintf("s%d", turn), "search_web", map[string]any{"query": "more"})), nil
		})

		out := runner.Run(context.Background(), RunParams{Prompt: "Q", Model: "m", MaxIterations: 3})

		assert.Equal(t, StatusIterationLimitReached, out.Status)
		assert.Equal(t, "turn 3", out.Text)
		assert.Equal(t, 3, out.Iterations)
		assert.Equal(t, 3, gw.CallCount())
		assert.True(t, out.Status.Usable())
	})

	t.Run("should report a default text when the limit is hit silently", func(t *testing.T) {
		runner, _, _ := setupTestRunner(t, func(ctx context.Context, req llm.Request) (*llm.Response, error) {
			return llmtest.WithToolCalls("", llmtest.Call("s", "search_web", map[string]any{"query": "q"})), nil
		})

		out := runner.Run(context.Background(), RunParams{Prompt: "Q", Model: "m", MaxIterations: 2})

		assert.Equal(t, StatusIterationLimitReached, out.Status)
		assert.Equal(t, iterationLimitText, out.Text)
	})

	t.Run("should retry transient gateway errors", func(t *testing.T) {
		runner, gw, _ := setupTestRunner(t, llmtest.Sequence(
			llmtest.Fail(llm.Transient("scripted", errors.New("503"))),
			llmtest.Fail(llm.Transient("scripted", errors.New("429"))),
			llmtest.Reply(llmtest.WithToolCalls("", complete("c1", "after retries"))),
		))

		out := runner.Run(context.Background(), params)

		assert.Equal(t, StatusCompleted, out.Status)
		assert.Equal(t, "after retries", out.Text)
		assert.Equal(t, 3, gw.CallCount())
		assert.Equal(t, 1, out.Iterations)
	})

	t.Run("should fail once retries are exhausted", func(t *testing.T) {
		runner, gw, _ := setupTestRunner(t, func(ctx context.Context, req llm.Request) (*llm.Response, error) {
			return nil, llm.Transient("scripted", errors.New("overloaded"))
		})

		out := runner.Run(context.Background(), params)

		assert.Equal(t, StatusFailed, out.Status)
		assert.ErrorContains(t, out.Err, "max retries (3) exceeded")
		assert.True(t, llm.IsTransient(out.Err))
		assert.Equal(t, 3, gw.CallCount())
		assert.Empty(t, out.Text)
	})

	t.Run("should fail immediately on fatal errors", func(t *testing.T) {
		runner, gw, _ := setupTestRunner(t, llmtest.Sequence(
			llmtest.Fail(llm.Fatal("scripted", errors.New("invalid api key"))),
		))

		out := runner.Run(context.Background(), params)

		assert.Equal(t, StatusFailed, out.Status)
		assert.ErrorContains(t, out.Err, "invalid api key")
		assert.Equal(t, 1, gw.CallCount())
	})

	t.Run("should fail when the context ends", func(t *testing.T) {
		runner, _, _ := setupTestRunner(t, llmtest.Blocking())

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		out := runner.Run(ctx, params)

		assert.Equal(t, StatusFailed, out.Status)
		assert.ErrorIs(t, out.Err, context.DeadlineExceeded)
	})

	t.Run("should reject empty prompt without calling the model", func(t *testing.T) {
		runner, gw, _ := setupTestRunner(t, llmtest.Sequence())

		out := runner.Run(context.Background(), RunParams{Prompt: " ", Model: "m"})

		assert.Equal(t, StatusFailed, out.Status)
		assert.Zero(t, gw.CallCount())
	})

	t.Run("should fall back to last text for an empty completion summary", func(t *testing.T) {
		runner, _, _ := setupTestRunner(t, llmtest.Sequence(
			llmtest.Reply(llmtest.WithToolCalls("Here is my answer.",
				llmtest.Call("c1", tools.CompletionToolName, map[string]any{tools.ArgTaskSummary: ""}))),
		))

		out := runner.Run(context.Background(), params)

		assert.Equal(t, "Here is my answer.", out.Text)
	})

	t.Run("should estimate usage when the provider reports none", func(t *testing.T) {
		runner, _, _ := setupTestRunner(t, llmtest.Sequence(
			llmtest.Reply(llmtest.Text("0123456789abcdef")),
		))

		out := runner.Run(context.Background(), params)

		assert.Equal(t, 4, out.Usage.OutputTokens)
		assert.Positive(t, out.Usage.InputTokens)
	})
}

func TestRunner_PlaceholderTool(t *testing.T) {
	empty := tools.NewRegistry(tools.Config{Logger: zerolog.Nop()})
	gw := llmtest.New(llmtest.Sequence(
		llmtest.Reply(llmtest.WithToolCalls("", llmtest.Call("p1", llm.PlaceholderToolName, nil))),
		llmtest.Reply(llmtest.Text("answer without tools")),
	))

	runner, err := NewRunner(Config{Gateway: gw, Tools: empty, Logger: zerolog.Nop()})
	require.NoError(t, err)

	out := runner.Run(context.Background(), RunParams{Prompt: "Q", Model: "m"})

	assert.Equal(t, StatusCompleted, out.Status)
	assert.Equal(t, "answer without tools", out.Text)
	assert.Zero(t, out.ToolCalls)

	calls := gw.Calls()
	require.Len(t, calls, 2)
	require.Len(t, calls[0].Tools, 1)
	assert.Equal(t, llm.PlaceholderToolName, calls[0].Tools[0].Name)
	assert.Equal(t, placeholderResult, calls[1].Messages[len(calls[1].Messages)-1].Content)
}
