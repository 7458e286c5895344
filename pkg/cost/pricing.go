// Package cost turns token usage into spend and raises budget alerts.
package cost

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Kylo111/make-it-heavy/pkg/llm"
)

var oneMillion = decimal.NewFromInt(1_000_000)

// Price is a model's rate in USD per million tokens.
type Price struct {
	InputPer1M  decimal.Decimal `json:"input_per_1m"`
	OutputPer1M decimal.Decimal `json:"output_per_1m"`
}

// NewPrice builds a Price from float rates as they appear in config files.
func NewPrice(inputPer1M, outputPer1M float64) Price {
	return Price{
		InputPer1M:  decimal.NewFromFloat(inputPer1M),
		OutputPer1M: decimal.NewFromFloat(outputPer1M),
	}
}

// Of returns the cost of u at this price.
func (p Price) Of(u llm.Usage) decimal.Decimal {
	in := decimal.NewFromInt(int64(u.InputTokens)).Mul(p.InputPer1M)
	out := decimal.NewFromInt(int64(u.OutputTokens)).Mul(p.OutputPer1M)
	return in.Add(out).Div(oneMillion)
}

// DefaultModelKey is the pricing entry used for models without their own.
const DefaultModelKey = "default"

// Pricing maps model names to prices.
type Pricing map[string]Price

// Lookup returns the price for model, falling back to the default entry.
// ok is false when neither exists.
func (p Pricing) Lookup(model string) (Price, bool) {
	if price, ok := p[model]; ok {
		return price, true
	}
	// Config loaders lowercase map keys.
	if price, ok := p[strings.ToLower(model)]; ok {
		return price, true
	}
	price, ok := p[DefaultModelKey]
	return price, ok
}

// Cost prices u for model. Unpriced models cost zero.
func (p Pricing) Cost(model string, u llm.Usage) decimal.Decimal {
	price, ok := p.Lookup(model)
	if !ok {
		return decimal.Zero
	}
	return price.Of(u)
}
