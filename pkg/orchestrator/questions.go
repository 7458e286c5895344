package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Kylo111/make-it-heavy/internal/observability"
	"github.com/Kylo111/make-it-heavy/internal/tracing"
	"github.com/Kylo111/make-it-heavy/pkg/llm"
)

// DefaultQuestionPrompt asks for one question per agent. Placeholders:
// {user_input}, {num_agents}.
const DefaultQuestionPrompt = `You are an orchestrator that splits a request into independent research questions.

Original request: {user_input}

Write exactly {num_agents} different questions that together cover the request from distinct angles:
research, critical analysis, alternative viewpoints and verification of facts.

Return only a JSON array of {num_agents} strings and nothing else.`

// Decomposition is the outcome of question generation. When Fallback is set
// Questions holds copies of the query and Err tells why.
type Decomposition struct {
	Questions []string
	Fallback  bool
	Err       error
	Model     string
	Usage     *llm.Usage
}

// QuestionConfig configures a QuestionGenerator.
type QuestionConfig struct {
	Model       string
	Prompt      string
	Timeout     time.Duration
	Temperature float64
	MaxTokens   int
	Logger      zerolog.Logger
}

// QuestionGenerator turns one query into n sub-questions with a single
// model call.
type QuestionGenerator struct {
	gateway llm.Gateway
	cfg     QuestionConfig
}

// NewQuestionGenerator creates a generator.
func NewQuestionGenerator(gateway llm.Gateway, cfg QuestionConfig) *QuestionGenerator {
	if cfg.Prompt == "" {
		cfg.Prompt = DefaultQuestionPrompt
	}
	return &QuestionGenerator{gateway: gateway, cfg: cfg}
}

// Generate returns n sub-questions for query. The error is non-nil only for
// precondition violations; model and parse failures degrade to a fallback
// decomposition.
func (g *QuestionGenerator) Generate(ctx context.Context, query string, n int) (Decomposition, error) {
	if n < 1 {
		return Decomposition{}, fmt.Errorf("%w: question count must be at least 1, got %d", ErrPrecondition, n)
	}
	if strings.TrimSpace(query) == "" {
		return Decomposition{}, fmt.Errorf("%w: query cannot be empty", ErrPrecondition)
	}

	logger := tracing.LoggerFromContext(ctx, g.cfg.Logger)
	d := Decomposition{Model: g.cfg.Model}

	callCtx := ctx
	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}

	req := llm.Request{
		Model:       g.cfg.Model,
		Messages:    []llm.Message{llm.UserMessage(renderQuestionPrompt(g.cfg.Prompt, query, n))},
		Temperature: g.cfg.Temperature,
		MaxTokens:   g.cfg.MaxTokens,
	}

	resp, err := g.gateway.Complete(callCtx, req)
	if err == nil && resp == nil {
		err = errors.New("empty response")
	}
	if err == nil {
		d.Usage = resp.Usage
		if d.Usage == nil {
			d.Usage = llm.EstimateUsage(req, resp)
		}
		d.Questions, err = ParseQuestions(resp.Content, n)
	}
	if err != nil {
		d.Questions = fallbackQuestions(query, n)
		d.Fallback = true
		d.Err = err
		observability.RecordQuestionFallback()
		logger.Warn().Err(err).Int("agents", n).Msg("Question generation failed, using the query for every agent")
		return d, nil
	}

	logger.Info().Int("questions", len(d.Questions)).Msg("Generated sub-questions")
	return d, nil
}

// ParseQuestions extracts exactly n distinct non-empty questions from the
// JSON array embedded in text.
func ParseQuestions(text string, n int) ([]string, error) {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		return nil, errors.New("no JSON array in response")
	}

	var raw []string
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("failed to decode questions: %w", err)
	}

	seen := make(map[string]bool, len(raw))
	questions := make([]string, 0, len(raw))
	for _, q := range raw {
		q = strings.TrimSpace(q)
		if q == "" {
			return nil, errors.New("empty question in response")
		}
		if seen[q] {
			return nil, fmt.Errorf("duplicate question %q", q)
		}
		seen[q] = true
		questions = append(questions, q)
	}

	if len(questions) != n {
		return nil, fmt.Errorf("expected %d questions, got %d", n, len(questions))
	}
	return questions, nil
}

func renderQuestionPrompt(tmpl, query string, n int) string {
	return strings.NewReplacer(
		"{user_input}", query,
		"{num_agents}", strconv.Itoa(n),
	).Replace(tmpl)
}

func fallbackQuestions(query string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = query
	}
	return out
}
