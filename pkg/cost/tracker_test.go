package cost

import (
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kylo111/make-it-heavy/pkg/llm"
)

func TestPricing(t *testing.T) {
	pricing := Pricing{
		"gpt-4o-mini":   NewPrice(0.15, 0.60),
		DefaultModelKey: NewPrice(1, 2),
	}

	t.Run("should price by model rate", func(t *testing.T) {
		c := pricing.Cost("gpt-4o-mini", llm.Usage{InputTokens: 1_000_000, OutputTokens: 500_000})
		assert.True(t, c.Equal(decimal.RequireFromString("0.45")), c.String())
	})

	t.Run("should fall back to default price", func(t *testing.T) {
		c := pricing.Cost("unknown", llm.Usage{InputTokens: 2000, OutputTokens: 1000})
		assert.True(t, c.Equal(decimal.RequireFromString("0.004")), c.String())
	})

	t.Run("should match model names case-insensitively", func(t *testing.T) {
		price, ok := pricing.Lookup("GPT-4o-mini")
		require.True(t, ok)
		assert.True(t, price.OutputPer1M.Equal(decimal.RequireFromString("0.6")))
	})

	t.Run("should cost zero without any price", func(t *testing.T) {
		c := Pricing{}.Cost("m", llm.Usage{InputTokens: 10})
		assert.True(t, c.IsZero())
	})
}

func TestTracker(t *testing.T) {
	pricing := Pricing{"m": NewPrice(1000, 0)} // $0.001 per input token

	t.Run("should raise each alert once in order", func(t *testing.T) {
		var mu sync.Mutex
		var got []AlertLevel
		tr := NewTracker(Config{
			Pricing: pricing,
			Budget:  decimal.NewFromInt(1),
			OnAlert: func(a Alert) {
				mu.Lock()
				defer mu.Unlock()
				got = append(got, a.Level)
			},
		})

		tr.Record("agent_0", "m", llm.Usage{InputTokens: 400}) // 0.4
		assert.Empty(t, got)

		tr.Record("agent_1", "m", llm.Usage{InputTokens: 200}) // 0.6
		assert.Equal(t, []AlertLevel{AlertWarning}, got)

		tr.Record("agent_2", "m", llm.Usage{InputTokens: 500}) // 1.1
		assert.Equal(t, []AlertLevel{AlertWarning, AlertCritical, AlertBudgetExceeded}, got)

		tr.Record("synthesis", "m", llm.Usage{InputTokens: 100})
		assert.Len(t, got, 3)

		s := tr.Summary()
		assert.True(t, s.OverBudget())
		require.Len(t, s.Alerts, 3)
		assert.Contains(t, s.Alerts[2].Message, "budget exceeded")
		assert.Contains(t, s.Alerts[0].Message, "50% of budget used")
	})

	t.Run("should not alert without budget", func(t *testing.T) {
		called := false
		tr := NewTracker(Config{Pricing: pricing, OnAlert: func(Alert) { called = true }})

		tr.Record("agent_0", "m", llm.Usage{InputTokens: 1_000_000})

		assert.False(t, called)
		assert.False(t, tr.Summary().OverBudget())
	})

	t.Run("should aggregate by label and model", func(t *testing.T) {
		tr := NewTracker(Config{Pricing: Pricing{"a": NewPrice(1_000_000, 0), "b": NewPrice(0, 1_000_000)}})

		tr.Record("agent_0", "a", llm.Usage{InputTokens: 1, OutputTokens: 5})
		tr.Record("agent_0", "b", llm.Usage{InputTokens: 5, OutputTokens: 2})
		tr.Record("synthesis", "a", llm.Usage{InputTokens: 3})

		s := tr.Summary()
		assert.True(t, s.TotalUSD.Equal(decimal.NewFromInt(6)), s.TotalUSD.String())
		assert.True(t, s.ByLabel["agent_0"].Equal(decimal.NewFromInt(3)))
		assert.True(t, s.ByModel["a"].Equal(decimal.NewFromInt(4)))
		assert.Equal(t, 9, s.Tokens.InputTokens)
		assert.Equal(t, 7, s.Tokens.OutputTokens)
		assert.Len(t, s.Entries, 3)
		assert.True(t, tr.Total().Equal(s.TotalUSD))
	})

	t.Run("should be safe for concurrent records", func(t *testing.T) {
		tr := NewTracker(Config{Pricing: pricing})
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				tr.Record("agent", "m", llm.Usage{InputTokens: 1})
			}()
		}
		wg.Wait()

		assert.True(t, tr.Total().Equal(decimal.RequireFromString("0.05")), tr.Total().String())
	})
}
