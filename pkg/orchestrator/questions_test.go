package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kylo111/make-it-heavy/pkg/llm"
	"github.com/Kylo111/make-it-heavy/pkg/llm/llmtest"
)

func TestParseQuestions(t *testing.T) {
	t.Run("should extract array surrounded by prose", func(t *testing.T) {
		text := "Sure! Here they are:\n```json\n[\"What is X?\", \" Why Y? \", \"How Z?\"]\n```\nGood luck."

		qs, err := ParseQuestions(text, 3)

		require.NoError(t, err)
		assert.Equal(t, []string{"What is X?", "Why Y?", "How Z?"}, qs)
	})

	t.Run("should reject count mismatch", func(t *testing.T) {
		_, err := ParseQuestions(`["a", "b"]`, 3)
		assert.ErrorContains(t, err, "expected 3 questions, got 2")
	})

	t.Run("should reject missing array", func(t *testing.T) {
		_, err := ParseQuestions("no questions here", 1)
		assert.Error(t, err)
	})

	t.Run("should reject duplicates and blanks", func(t *testing.T) {
		_, err := ParseQuestions(`["a", "a"]`, 2)
		assert.ErrorContains(t, err, "duplicate")

		_, err = ParseQuestions(`["a", "  "]`, 2)
		assert.ErrorContains(t, err, "empty question")
	})

	t.Run("should reject non-string entries", func(t *testing.T) {
		_, err := ParseQuestions(`[1, 2]`, 2)
		assert.Error(t, err)
	})
}

func TestQuestionGenerator(t *testing.T) {
	newGenerator := func(script llmtest.Func) (*QuestionGenerator, *llmtest.Gateway) {
		gw := llmtest.New(script)
		return NewQuestionGenerator(gw, QuestionConfig{Model: "q-model", Logger: zerolog.Nop()}), gw
	}

	t.Run("should render prompt and parse questions", func(t *testing.T) {
		g, gw := newGenerator(llmtest.Sequence(llmtest.Reply(llmtest.Text(`["A?", "B?"]`))))

		d, err := g.Generate(context.Background(), "Explain tides", 2)

		require.NoError(t, err)
		assert.False(t, d.Fallback)
		assert.NoError(t, d.Err)
		assert.Equal(t, []string{"A?", "B?"}, d.Questions)

		calls := gw.Calls()
		require.Len(t, calls, 1)
		assert.Equal(t, "q-model", calls[0].Model)
		assert.Empty(t, calls[0].Tools)
		prompt := llmtest.FirstUserMessage(calls[0])
		assert.Contains(t, prompt, "Explain tides")
		assert.Contains(t, prompt, "exactly 2 different questions")
		assert.NotContains(t, prompt, "{num_agents}")
	})

	t.Run("should estimate usage when provider reports none", func(t *testing.T) {
		g, _ := newGenerator(llmtest.Sequence(llmtest.Reply(llmtest.Text(`["A?"]`))))

		d, err := g.Generate(context.Background(), "q", 1)

		require.NoError(t, err)
		require.NotNil(t, d.Usage)
		assert.Greater(t, d.Usage.InputTokens, 0)
	})

	t.Run("should fall back to copies of the query on gateway error", func(t *testing.T) {
		cause := llm.Fatal("scripted", errors.New("unauthorized"))
		g, _ := newGenerator(llmtest.Sequence(llmtest.Fail(cause)))

		d, err := g.Generate(context.Background(), "Explain tides", 3)

		require.NoError(t, err)
		assert.True(t, d.Fallback)
		assert.ErrorIs(t, d.Err, cause)
		assert.Equal(t, []string{"Explain tides", "Explain tides", "Explain tides"}, d.Questions)
	})

	t.Run("should fall back on unparseable reply", func(t *testing.T) {
		g, _ := newGenerator(llmtest.Sequence(llmtest.Reply(llmtest.Text("I cannot do that"))))

		d, err := g.Generate(context.Background(), "q", 2)

		require.NoError(t, err)
		assert.True(t, d.Fallback)
		assert.Len(t, d.Questions, 2)
	})

	t.Run("should fall back on wrong count", func(t *testing.T) {
		g, _ := newGenerator(llmtest.Sequence(llmtest.Reply(llmtest.Text(`["a", "b", "c", "d", "e"]`))))

		d, err := g.Generate(context.Background(), "q", 4)

		require.NoError(t, err)
		assert.True(t, d.Fallback)
		assert.Equal(t, []string{"q", "q", "q", "q"}, d.Questions)
	})

	t.Run("should reject preconditions before calling the model", func(t *testing.T) {
		g, gw := newGenerator(llmtest.Sequence())

		_, err := g.Generate(context.Background(), "q", 0)
		assert.ErrorIs(t, err, ErrPrecondition)

		_, err = g.Generate(context.Background(), "   ", 2)
		assert.ErrorIs(t, err, ErrPrecondition)

		assert.Equal(t, 0, gw.CallCount())
	})

	t.Run("should use custom template", func(t *testing.T) {
		gw := llmtest.New(llmtest.Sequence(llmtest.Reply(llmtest.Text(`["x"]`))))
		g := NewQuestionGenerator(gw, QuestionConfig{Model: "m", Prompt: "Generate {num_agents} questions for: {user_input}"})

		_, err := g.Generate(context.Background(), "cats", 1)

		require.NoError(t, err)
		assert.Equal(t, "Generate 1 questions for: cats", llmtest.FirstUserMessage(gw.Calls()[0]))
	})
}
