package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Kylo111/make-it-heavy/internal/observability"
	"github.com/Kylo111/make-it-heavy/internal/tracing"
	"github.com/Kylo111/make-it-heavy/pkg/agent"
	"github.com/Kylo111/make-it-heavy/pkg/cost"
	"github.com/Kylo111/make-it-heavy/pkg/llm"
	"github.com/Kylo111/make-it-heavy/pkg/tools"
)

// Orchestrator answers a query by fanning it out to parallel agents and
// synthesizing their results.
type Orchestrator struct {
	cfg         Config
	runner      AgentRunner
	questions   *QuestionGenerator
	dispatcher  *Dispatcher
	synthesizer *Synthesizer
	events      *EventBus
	pricing     cost.Pricing
	logger      zerolog.Logger
}

// Option is a functional option for configuring the Orchestrator
type Option func(*Orchestrator)

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithEventBus publishes orchestration events on bus.
func WithEventBus(bus *EventBus) Option {
	return func(o *Orchestrator) {
		o.events = bus
	}
}

// WithPricing sets the price table used for cost tracking.
func WithPricing(p cost.Pricing) Option {
	return func(o *Orchestrator) {
		o.pricing = p
	}
}

// WithAgentRunner replaces the reasoning loop used for every agent.
func WithAgentRunner(r AgentRunner) Option {
	return func(o *Orchestrator) {
		o.runner = r
	}
}

// New creates an orchestrator. The tool set may be nil only when a custom
// runner is supplied.
func New(cfg Config, gateway llm.Gateway, toolset tools.Set, opts ...Option) (*Orchestrator, error) {
	if gateway == nil {
		return nil, fmt.Errorf("%w: gateway is required", ErrPrecondition)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	o := &Orchestrator{
		cfg:    cfg,
		events: NewEventBus(),
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With().Str("component", "orchestrator").Logger()

	if o.runner == nil {
		if toolset == nil {
			return nil, fmt.Errorf("%w: tool set is required", ErrPrecondition)
		}
		runner, err := agent.NewRunner(agent.Config{
			Gateway:      gateway,
			Tools:        toolset,
			Logger:       o.logger.With().Str("component", "agent").Logger(),
			MaxRetries:   cfg.MaxRetries,
			RetryBackoff: cfg.RetryBackoff,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPrecondition, err)
		}
		o.runner = runner
	}

	dispatcher, err := NewDispatcher(DispatcherConfig{
		Runner:         o.runner,
		SystemPrompt:   cfg.SystemPrompt,
		Temperature:    cfg.Temperature,
		MaxTokens:      cfg.MaxTokens,
		MaxConcurrent:  cfg.MaxConcurrent,
		GlobalDeadline: cfg.GlobalDeadline,
		Events:         o.events,
		Logger:         o.logger,
	})
	if err != nil {
		return nil, err
	}
	o.dispatcher = dispatcher

	o.questions = NewQuestionGenerator(gateway, QuestionConfig{
		Model:       cfg.Models.ForQuestions(),
		Prompt:      cfg.QuestionPrompt,
		Timeout:     cfg.QuestionTimeout,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Logger:      o.logger,
	})
	o.synthesizer = NewSynthesizer(gateway, SynthesisConfig{
		Model:       cfg.Models.ForSynthesis(),
		Prompt:      cfg.SynthesisPrompt,
		Timeout:     cfg.SynthesisTimeout,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Logger:      o.logger,
	})

	return o, nil
}

// Events returns the bus the orchestrator publishes on.
func (o *Orchestrator) Events() *EventBus {
	return o.events
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config {
	return o.cfg
}

// Orchestrate runs one request end to end. Once dispatch starts it always
// returns a non-empty answer; errors are limited to preconditions and a
// context that ends before dispatch.
func (o *Orchestrator) Orchestrate(ctx context.Context, query string) (*OrchestrationResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query cannot be empty", ErrPrecondition)
	}

	ctx, requestID := tracing.NewRequestContext(ctx)
	ctx, span := tracing.StartSpan(ctx, tracing.TracerOrchestrator, "orchestrator.orchestrate",
		attribute.String("request.id", requestID),
		attribute.Int("orchestrator.parallel_agents", o.cfg.ParallelAgents),
	)
	logger := tracing.LoggerFromContext(ctx, o.logger)

	result := &OrchestrationResult{
		RequestID: requestID,
		Query:     query,
		StartedAt: time.Now(),
	}

	tracker := cost.NewTracker(cost.Config{
		Pricing: o.pricing,
		Budget:  decimal.NewFromFloat(o.cfg.BudgetUSD),
		OnAlert: func(a cost.Alert) {
			logger.Warn().Str("level", string(a.Level)).Msg(a.Message)
			alert := a
			o.events.Publish(Event{Type: EventCostAlert, RequestID: requestID, Alert: &alert, Message: a.Message})
		},
	})

	// The global deadline spans question generation and the agents.
	var deadline time.Time
	if o.cfg.GlobalDeadline > 0 {
		deadline = result.StartedAt.Add(o.cfg.GlobalDeadline)
	}

	o.setPhase(ctx, requestID, PhasePending)
	logger.Info().Int("agents", o.cfg.ParallelAgents).Msg("Starting orchestration")

	o.setPhase(ctx, requestID, PhaseGeneratingQuestions)
	decomposition, err := o.generateQuestions(tracing.WithPhase(ctx, string(PhaseGeneratingQuestions)), query, deadline)
	if err != nil {
		tracing.EndSpan(span, err)
		return nil, err
	}
	if decomposition.Usage != nil {
		tracker.Record("questions", decomposition.Model, *decomposition.Usage)
	}
	if decomposition.Fallback {
		o.events.Publish(Event{
			Type:      EventQuestionsFallback,
			RequestID: requestID,
			Message:   decomposition.Err.Error(),
		})
	}
	result.SubQuestions = decomposition.Questions
	result.QuestionsFallback = decomposition.Fallback

	if err := ctx.Err(); err != nil {
		err = fmt.Errorf("orchestration cancelled before dispatch: %w", err)
		tracing.EndSpan(span, err)
		return nil, err
	}

	tasks := make([]AgentTask, len(decomposition.Questions))
	for i, q := range decomposition.Questions {
		tasks[i] = AgentTask{
			Index:         i,
			Question:      q,
			Timeout:       o.cfg.TaskTimeout,
			MaxIterations: o.cfg.MaxIterations,
			Model:         o.cfg.Models.ForAgent(i),
		}
	}

	o.setPhase(ctx, requestID, PhaseDispatching)
	batch := o.dispatcher.StartWith(tracing.WithPhase(ctx, string(PhaseDispatching)), tasks, BatchOptions{
		Deadline: deadline,
		OnSettled: func(e AgentExecution) {
			if e.Usage.Total() > 0 {
				tracker.Record(fmt.Sprintf("agent_%d", e.Index), e.Model, e.Usage)
			}
		},
	})

	o.setPhase(ctx, requestID, PhaseAwaitingAgents)
	result.Executions = batch.Wait()

	o.setPhase(ctx, requestID, PhaseSynthesizing)
	synthesis := o.synthesizer.Synthesize(tracing.WithPhase(ctx, string(PhaseSynthesizing)), query, result.Executions)
	if synthesis.Usage != nil {
		tracker.Record("synthesis", synthesis.Model, *synthesis.Usage)
	}
	if synthesis.Mode == ModeConcatenatedFallback {
		msg := "synthesis fell back to concatenation"
		if synthesis.Err != nil {
			msg = synthesis.Err.Error()
		}
		o.events.Publish(Event{Type: EventSynthesisFallback, RequestID: requestID, Message: msg})
	}

	result.Answer = synthesis.Text
	result.Mode = synthesis.Mode
	result.CompletedAt = time.Now()

	summary := tracker.Summary()
	result.Cost = &summary
	for model, usd := range summary.ByModel {
		f, _ := usd.Float64()
		observability.RecordCost(model, f)
	}
	observability.RecordOrchestration(string(result.Mode), result.Duration())

	counts := result.Counts()
	span.SetAttributes(
		attribute.String("orchestrator.mode", string(result.Mode)),
		attribute.Int("orchestrator.completed", counts[StatusCompleted]),
		attribute.Int("orchestrator.timed_out", counts[StatusTimedOut]),
		attribute.Int("orchestrator.failed", counts[StatusFailed]),
	)
	tracing.EndSpan(span, nil)

	o.setPhase(ctx, requestID, PhaseDone)
	logger.Info().
		Str("mode", string(result.Mode)).
		Int("completed", counts[StatusCompleted]).
		Int("iteration_limit", counts[StatusIterationLimitReached]).
		Int("failed", counts[StatusFailed]).
		Int("timed_out", counts[StatusTimedOut]).
		Str("cost_usd", summary.TotalUSD.StringFixed(6)).
		Dur("duration", result.Duration()).
		Msg("Orchestration finished")

	return result, nil
}

// generateQuestions bounds decomposition by the request deadline. A late
// answer falls back to the raw query.
func (o *Orchestrator) generateQuestions(ctx context.Context, query string, deadline time.Time) (Decomposition, error) {
	if !deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}
	return o.questions.Generate(ctx, query, o.cfg.ParallelAgents)
}

func (o *Orchestrator) setPhase(ctx context.Context, requestID string, phase Phase) {
	logger := tracing.LoggerFromContext(ctx, o.logger)
	logger.Debug().Str("phase", string(phase)).Msg("Phase changed")
	o.events.Publish(Event{Type: EventPhaseChanged, RequestID: requestID, Phase: phase})
}
