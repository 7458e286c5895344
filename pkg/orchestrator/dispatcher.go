package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"

	"github.com/Kylo111/make-it-heavy/internal/observability"
	"github.com/Kylo111/make-it-heavy/internal/tracing"
	"github.com/Kylo111/make-it-heavy/pkg/agent"
)

// AgentRunner runs one reasoning loop. *agent.Runner implements it.
type AgentRunner interface {
	Run(ctx context.Context, params agent.RunParams) agent.Outcome
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	Runner       AgentRunner
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
	// MaxConcurrent bounds running loops through an ants pool. Zero, or a
	// value not below the task count, starts every task at once.
	MaxConcurrent int
	// GlobalDeadline stops waiting for stragglers. Zero disables it.
	GlobalDeadline time.Duration
	Events         *EventBus
	Logger         zerolog.Logger
}

// Dispatcher runs agent tasks concurrently, one logical worker per task.
type Dispatcher struct {
	cfg DispatcherConfig
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Runner == nil {
		return nil, fmt.Errorf("%w: agent runner is required", ErrPrecondition)
	}
	if cfg.MaxConcurrent < 0 {
		return nil, fmt.Errorf("%w: max concurrent cannot be negative", ErrPrecondition)
	}
	return &Dispatcher{cfg: cfg}, nil
}

// Dispatch runs tasks and blocks until every execution is terminal or the
// global deadline passes. Results are ordered by index.
func (d *Dispatcher) Dispatch(ctx context.Context, tasks []AgentTask) []AgentExecution {
	return d.Start(ctx, tasks).Wait()
}

type settled struct {
	slot int
	exec AgentExecution
	// cut marks a record ended by the batch context; Wait settles it itself.
	cut bool
}

type startedAt struct {
	slot int
	at   time.Time
}

// Batch is a dispatched set of tasks.
type Batch struct {
	d       *Dispatcher
	tasks   []AgentTask
	parent  context.Context
	ctx     context.Context
	cancel  context.CancelFunc
	logger  zerolog.Logger
	reqID   string
	started chan startedAt
	done    chan settled

	onSettled func(AgentExecution)

	once    sync.Once
	results []AgentExecution
}

// BatchOptions tunes a single Start.
type BatchOptions struct {
	// Deadline overrides the configured global deadline with an absolute
	// one, typically measured from the start of the request.
	Deadline time.Time
	// OnSettled is called from Wait once per task as its terminal record
	// arrives.
	OnSettled func(AgentExecution)
}

// Start launches every task and returns without waiting. The global
// deadline is measured from now.
func (d *Dispatcher) Start(ctx context.Context, tasks []AgentTask) *Batch {
	return d.StartWith(ctx, tasks, BatchOptions{})
}

// StartWith is Start with per-batch options.
func (d *Dispatcher) StartWith(ctx context.Context, tasks []AgentTask, opts BatchOptions) *Batch {
	b := &Batch{
		d:         d,
		tasks:     tasks,
		parent:    ctx,
		logger:    tracing.LoggerFromContext(ctx, d.cfg.Logger),
		reqID:     tracing.GetRequestID(ctx),
		started:   make(chan startedAt, len(tasks)),
		done:      make(chan settled, len(tasks)),
		results:   make([]AgentExecution, len(tasks)),
		onSettled: opts.OnSettled,
	}
	deadline := opts.Deadline
	if deadline.IsZero() && d.cfg.GlobalDeadline > 0 {
		deadline = time.Now().Add(d.cfg.GlobalDeadline)
	}
	if !deadline.IsZero() {
		b.ctx, b.cancel = context.WithDeadline(ctx, deadline)
	} else {
		b.ctx, b.cancel = context.WithCancel(ctx)
	}

	for i, t := range tasks {
		b.results[i] = AgentExecution{
			Index:    t.Index,
			Question: t.Question,
			Model:    t.Model,
			Status:   StatusQueued,
		}
		b.publish(b.results[i])
	}

	b.logger.Info().
		Int("agents", len(tasks)).
		Int("max_concurrent", d.cfg.MaxConcurrent).
		Dur("global_deadline", d.cfg.GlobalDeadline).
		Msg("Dispatching agents")

	if d.cfg.MaxConcurrent > 0 && d.cfg.MaxConcurrent < len(tasks) {
		pool, err := ants.NewPool(d.cfg.MaxConcurrent)
		if err == nil {
			go b.launchPooled(pool)
			return b
		}
		b.logger.Warn().Err(err).Msg("Failed to create worker pool, starting every agent at once")
	}

	for i, t := range tasks {
		go b.work(i, t)
	}
	return b
}

func (b *Batch) launchPooled(pool *ants.Pool) {
	defer pool.Release()

	var wg sync.WaitGroup
	for i, t := range b.tasks {
		if b.ctx.Err() != nil {
			break
		}
		wg.Add(1)
		slot, task := i, t
		err := pool.Submit(func() {
			defer wg.Done()
			b.work(slot, task)
		})
		if err != nil {
			wg.Done()
			b.done <- settled{slot: slot, exec: AgentExecution{
				Index:    task.Index,
				Question: task.Question,
				Model:    task.Model,
				Status:   StatusFailed,
				Error:    fmt.Sprintf("failed to schedule agent %d: %v", task.Index, err),
			}}
		}
	}
	wg.Wait()
}

// work runs one task and hands back exactly one terminal record. A task
// reached after the batch ended is skipped; Wait has already settled it.
func (b *Batch) work(slot int, task AgentTask) {
	if b.ctx.Err() != nil {
		return
	}

	exec := AgentExecution{
		Index:     task.Index,
		Question:  task.Question,
		Model:     task.Model,
		Status:    StatusRunning,
		StartedAt: time.Now(),
	}
	b.started <- startedAt{slot: slot, at: exec.StartedAt}
	b.publish(exec)
	observability.AgentStarted()

	var (
		taskCtx context.Context
		cancel  context.CancelFunc
	)
	if task.Timeout > 0 {
		taskCtx, cancel = context.WithTimeout(b.ctx, task.Timeout)
	} else {
		taskCtx, cancel = context.WithCancel(b.ctx)
	}
	defer cancel()
	taskCtx = tracing.WithAgentIndex(taskCtx, task.Index)

	params := agent.RunParams{
		Prompt:        task.Question,
		SystemPrompt:  b.d.cfg.SystemPrompt,
		Model:         task.Model,
		MaxIterations: task.MaxIterations,
		Temperature:   b.d.cfg.Temperature,
		MaxTokens:     b.d.cfg.MaxTokens,
	}

	outcomes := make(chan agent.Outcome, 1)
	go func() {
		outcomes <- b.d.cfg.Runner.Run(taskCtx, params)
	}()

	select {
	case out := <-outcomes:
		applyOutcome(&exec, out)
	case <-taskCtx.Done():
		exec.Status = StatusFailed
		exec.Error = taskCtx.Err().Error()
	}
	exec.EndedAt = time.Now()

	if task.Timeout > 0 && b.ctx.Err() == nil && errors.Is(taskCtx.Err(), context.DeadlineExceeded) && !exec.Status.Usable() {
		exec.Status = StatusTimedOut
		exec.Result = ""
		exec.Error = fmt.Sprintf("agent %d timed out after %v", task.Index, task.Timeout)
	}

	observability.RecordAgentExecution(exec.Model, string(exec.Status), exec.Duration(), exec.Iterations)
	b.done <- settled{slot: slot, exec: exec, cut: b.ctx.Err() != nil && !exec.Status.Usable()}
}

func applyOutcome(exec *AgentExecution, out agent.Outcome) {
	exec.Iterations = out.Iterations
	exec.ToolCalls = out.ToolCalls
	exec.Usage = out.Usage

	switch out.Status {
	case agent.StatusCompleted:
		exec.Status = StatusCompleted
		exec.Result = out.Text
	case agent.StatusIterationLimitReached:
		exec.Status = StatusIterationLimitReached
		exec.Result = out.Text
	default:
		exec.Status = StatusFailed
		if out.Err != nil {
			exec.Error = out.Err.Error()
		} else {
			exec.Error = "agent failed without an error"
		}
	}
}

// Wait blocks until every task settles or the batch context ends, then
// cancels stragglers. Safe to call more than once.
func (b *Batch) Wait() []AgentExecution {
	b.once.Do(b.collect)
	out := make([]AgentExecution, len(b.results))
	copy(out, b.results)
	return out
}

func (b *Batch) collect() {
	defer b.cancel()

	pending := len(b.tasks)
	for pending > 0 {
		select {
		case s := <-b.started:
			b.markStarted(s)
		case s := <-b.done:
			if s.cut || b.results[s.slot].Status.IsTerminal() {
				continue
			}
			b.results[s.slot] = s.exec
			pending--
			b.settle(s.exec)
		case <-b.ctx.Done():
			b.abandon()
			pending = 0
		}
	}

	b.results = sortedByIndex(b.results)
}

func (b *Batch) markStarted(s startedAt) {
	r := &b.results[s.slot]
	if r.Status.IsTerminal() {
		return
	}
	r.Status = StatusRunning
	r.StartedAt = s.at
}

// abandon settles every record still open when the batch context ends.
func (b *Batch) abandon() {
	for drained := false; !drained; {
		select {
		case s := <-b.started:
			b.markStarted(s)
		case s := <-b.done:
			if !s.cut && !b.results[s.slot].Status.IsTerminal() {
				b.results[s.slot] = s.exec
				b.settle(s.exec)
			}
		default:
			drained = true
		}
	}

	status, reason := StatusTimedOut, ""
	switch {
	case b.parent.Err() == nil:
		reason = fmt.Sprintf("global deadline exceeded after %v", b.d.cfg.GlobalDeadline)
	case errors.Is(b.parent.Err(), context.DeadlineExceeded):
		reason = "request deadline exceeded before the agent finished"
	default:
		status, reason = StatusFailed, "request cancelled before the agent finished"
	}

	now := time.Now()
	abandoned := 0
	for i := range b.results {
		r := &b.results[i]
		if r.Status.IsTerminal() {
			continue
		}
		r.Status = status
		r.Error = reason
		r.EndedAt = now
		abandoned++
		b.settle(*r)
	}

	b.logger.Warn().
		Int("abandoned", abandoned).
		Str("reason", reason).
		Msg("Stopped waiting for agents")
}

func (b *Batch) settle(exec AgentExecution) {
	b.publish(exec)
	if b.onSettled != nil {
		b.onSettled(exec)
	}
}

func (b *Batch) publish(exec AgentExecution) {
	if b.d.cfg.Events == nil {
		return
	}
	snapshot := exec
	b.d.cfg.Events.Publish(Event{
		Type:      EventAgentStatus,
		RequestID: b.reqID,
		Agent:     &snapshot,
	})
}

func sortedByIndex(executions []AgentExecution) []AgentExecution {
	out := make([]AgentExecution, len(executions))
	copy(out, executions)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}
