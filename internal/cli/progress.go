package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/Kylo111/make-it-heavy/pkg/cost"
	"github.com/Kylo111/make-it-heavy/pkg/orchestrator"
)

// palette holds the colours used for progress and summary output.
type palette struct {
	phase   *color.Color
	ok      *color.Color
	warn    *color.Color
	fail    *color.Color
	muted   *color.Color
	heading *color.Color
}

func newPalette(noColor bool) palette {
	p := palette{
		phase:   color.New(color.FgCyan, color.Bold),
		ok:      color.New(color.FgGreen),
		warn:    color.New(color.FgYellow),
		fail:    color.New(color.FgRed),
		muted:   color.New(color.FgHiBlack),
		heading: color.New(color.Bold),
	}
	if noColor {
		for _, c := range []*color.Color{p.phase, p.ok, p.warn, p.fail, p.muted, p.heading} {
			c.DisableColor()
		}
	}
	return p
}

// status colours an execution status.
func (p palette) status(s orchestrator.ExecutionStatus) string {
	switch s {
	case orchestrator.StatusCompleted:
		return p.ok.Sprint(s)
	case orchestrator.StatusIterationLimitReached, orchestrator.StatusTimedOut:
		return p.warn.Sprint(s)
	case orchestrator.StatusFailed:
		return p.fail.Sprint(s)
	default:
		return p.muted.Sprint(s)
	}
}

var phaseLabels = map[orchestrator.Phase]string{
	orchestrator.PhaseGeneratingQuestions: "Generating sub-questions",
	orchestrator.PhaseDispatching:         "Dispatching agents",
	orchestrator.PhaseAwaitingAgents:      "Waiting for agents",
	orchestrator.PhaseSynthesizing:        "Synthesizing answers",
	orchestrator.PhaseDone:                "Done",
}

// Progress renders orchestration events as one line each.
type Progress struct {
	mu      sync.Mutex
	out     io.Writer
	colors  palette
	started time.Time
}

// NewProgress creates a progress printer writing to out.
func NewProgress(out io.Writer, noColor bool) *Progress {
	return &Progress{
		out:     out,
		colors:  newPalette(noColor),
		started: time.Now(),
	}
}

// Run prints events until the channel is closed.
func (p *Progress) Run(events <-chan orchestrator.Event) {
	for ev := range events {
		p.Handle(ev)
	}
}

// Handle prints one event.
func (p *Progress) Handle(ev orchestrator.Event) {
	line := p.render(ev)
	if line == "" {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	elapsed := p.colors.muted.Sprintf("[%6s]", formatDuration(time.Since(p.started)))
	fmt.Fprintf(p.out, "%s %s\n", elapsed, line)
}

func (p *Progress) render(ev orchestrator.Event) string {
	c := p.colors

	switch ev.Type {
	case orchestrator.EventPhaseChanged:
		label, ok := phaseLabels[ev.Phase]
		if !ok {
			return ""
		}
		return c.phase.Sprint("▶ " + label)

	case orchestrator.EventAgentStatus:
		if ev.Agent == nil {
			return ""
		}
		e := ev.Agent
		line := fmt.Sprintf("  agent %d %s", e.Index+1, c.status(e.Status))
		switch e.Status {
		case orchestrator.StatusQueued:
			line += c.muted.Sprint(" " + truncate(e.Question, 70))
		case orchestrator.StatusFailed, orchestrator.StatusTimedOut:
			line += " " + c.fail.Sprint(e.Error)
		case orchestrator.StatusCompleted, orchestrator.StatusIterationLimitReached:
			line += c.muted.Sprintf(" in %s, %d iterations", formatDuration(e.Duration()), e.Iterations)
		}
		return line

	case orchestrator.EventQuestionsFallback:
		return c.warn.Sprint("! Question generation failed, every agent gets the original query") + reason(c, ev.Message)

	case orchestrator.EventSynthesisFallback:
		return c.warn.Sprint("! Synthesis failed, concatenating agent answers") + reason(c, ev.Message)

	case orchestrator.EventCostAlert:
		if ev.Alert == nil {
			return ""
		}
		if ev.Alert.Level == cost.AlertWarning {
			return c.warn.Sprint("$ " + ev.Alert.Message)
		}
		return c.fail.Sprint("$ " + ev.Alert.Message)
	}
	return ""
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}

func reason(c palette, msg string) string {
	if msg == "" {
		return ""
	}
	return c.muted.Sprint(" (" + truncate(msg, 100) + ")")
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}

	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	return fmt.Sprintf("%dm%ds", m, s)
}
