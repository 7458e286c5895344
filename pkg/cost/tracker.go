package cost

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Kylo111/make-it-heavy/pkg/llm"
)

// AlertLevel grades how much of the budget has been spent.
type AlertLevel string

const (
	AlertWarning        AlertLevel = "warning"
	AlertCritical       AlertLevel = "critical"
	AlertBudgetExceeded AlertLevel = "budget_exceeded"
)

var thresholds = []struct {
	level    AlertLevel
	fraction decimal.Decimal
}{
	{AlertWarning, decimal.NewFromFloat(0.5)},
	{AlertCritical, decimal.NewFromFloat(0.8)},
	{AlertBudgetExceeded, decimal.NewFromInt(1)},
}

// Alert is raised once per level when spend crosses its threshold.
type Alert struct {
	Level     AlertLevel      `json:"level"`
	Spent     decimal.Decimal `json:"spent_usd"`
	Budget    decimal.Decimal `json:"budget_usd"`
	Message   string          `json:"message"`
	Timestamp time.Time       `json:"timestamp"`
}

// Entry is one recorded model usage.
type Entry struct {
	Label string          `json:"label"`
	Model string          `json:"model"`
	Usage llm.Usage       `json:"usage"`
	Cost  decimal.Decimal `json:"cost_usd"`
}

// Config configures a Tracker.
type Config struct {
	Pricing Pricing
	// Budget in USD. Zero disables alerts.
	Budget decimal.Decimal
	// OnAlert is called synchronously, outside the tracker lock.
	OnAlert func(Alert)
}

// Tracker accumulates spend for one orchestration. Safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	pricing Pricing
	budget  decimal.Decimal
	onAlert func(Alert)
	entries []Entry
	total   decimal.Decimal
	fired   map[AlertLevel]bool
	alerts  []Alert
}

// NewTracker creates a tracker.
func NewTracker(cfg Config) *Tracker {
	return &Tracker{
		pricing: cfg.Pricing,
		budget:  cfg.Budget,
		onAlert: cfg.OnAlert,
		total:   decimal.Zero,
		fired:   make(map[AlertLevel]bool),
	}
}

// Record prices u for model under label and returns the entry cost.
func (t *Tracker) Record(label, model string, u llm.Usage) decimal.Decimal {
	c := t.pricing.Cost(model, u)

	t.mu.Lock()
	t.entries = append(t.entries, Entry{Label: label, Model: model, Usage: u, Cost: c})
	t.total = t.total.Add(c)
	raised := t.checkAlerts()
	t.mu.Unlock()

	if t.onAlert != nil {
		for _, a := range raised {
			t.onAlert(a)
		}
	}
	return c
}

// checkAlerts must be called with mu held.
func (t *Tracker) checkAlerts() []Alert {
	if !t.budget.IsPositive() {
		return nil
	}

	var raised []Alert
	for _, th := range thresholds {
		if t.fired[th.level] {
			continue
		}
		limit := t.budget.Mul(th.fraction)
		if t.total.LessThan(limit) {
			continue
		}
		t.fired[th.level] = true
		a := Alert{
			Level:     th.level,
			Spent:     t.total,
			Budget:    t.budget,
			Message:   alertMessage(th.level, th.fraction, t.total, t.budget),
			Timestamp: time.Now(),
		}
		t.alerts = append(t.alerts, a)
		raised = append(raised, a)
	}
	return raised
}

func alertMessage(level AlertLevel, fraction, spent, budget decimal.Decimal) string {
	if level == AlertBudgetExceeded {
		return fmt.Sprintf("budget exceeded: spent $%s of $%s", spent.StringFixed(4), budget.StringFixed(4))
	}
	return fmt.Sprintf("%s of budget used: spent $%s of $%s",
		fraction.Mul(decimal.NewFromInt(100)).String()+"%", spent.StringFixed(4), budget.StringFixed(4))
}

// Total returns the spend so far.
func (t *Tracker) Total() decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// Summary is a snapshot of the tracker.
type Summary struct {
	TotalUSD decimal.Decimal            `json:"total_usd"`
	Budget   decimal.Decimal            `json:"budget_usd"`
	Tokens   llm.Usage                  `json:"tokens"`
	ByLabel  map[string]decimal.Decimal `json:"by_label"`
	ByModel  map[string]decimal.Decimal `json:"by_model"`
	Entries  []Entry                    `json:"entries"`
	Alerts   []Alert                    `json:"alerts,omitempty"`
}

// OverBudget reports whether spend reached a positive budget.
func (s Summary) OverBudget() bool {
	return s.Budget.IsPositive() && s.TotalUSD.GreaterThanOrEqual(s.Budget)
}

// Summary returns a snapshot of the recorded spend.
func (t *Tracker) Summary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Summary{
		TotalUSD: t.total,
		Budget:   t.budget,
		ByLabel:  make(map[string]decimal.Decimal),
		ByModel:  make(map[string]decimal.Decimal),
		Entries:  append([]Entry(nil), t.entries...),
		Alerts:   append([]Alert(nil), t.alerts...),
	}
	for _, e := range t.entries {
		s.Tokens.Add(&e.Usage)
		s.ByLabel[e.Label] = s.ByLabel[e.Label].Add(e.Cost)
		s.ByModel[e.Model] = s.ByModel[e.Model].Add(e.Cost)
	}
	sort.SliceStable(s.Entries, func(i, j int) bool { return s.Entries[i].Label < s.Entries[j].Label })
	return s
}
