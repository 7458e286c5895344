package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Kylo111/make-it-heavy/pkg/orchestrator"
)

// printSummary writes the per-agent execution table and the cost totals.
func printSummary(out io.Writer, result *orchestrator.OrchestrationResult, noColor bool) {
	c := newPalette(noColor)

	fmt.Fprintln(out)
	fmt.Fprintln(out, c.heading.Sprintf("Execution summary (%s, %s, %s)",
		result.RequestID, formatDuration(result.Duration()), result.Mode))

	modelWidth := len("MODEL")
	for _, e := range result.Executions {
		if len(e.Model) > modelWidth {
			modelWidth = len(e.Model)
		}
	}

	fmt.Fprintf(out, "  %-6s %-24s %-*s %8s %5s %10s\n", "AGENT", "STATUS", modelWidth, "MODEL", "TIME", "ITER", "COST")
	for _, e := range result.Executions {
		// Pad before colouring so escape codes do not skew the columns.
		status := fmt.Sprintf("%-24s", e.Status)
		status = strings.Replace(status, string(e.Status), c.status(e.Status), 1)

		fmt.Fprintf(out, "  %-6d %s %-*s %8s %5d %10s\n",
			e.Index+1, status, modelWidth, e.Model,
			formatDuration(e.Duration()), e.Iterations,
			usd(agentCost(result, e.Index)))
		if e.Error != "" {
			fmt.Fprintf(out, "         %s\n", c.fail.Sprint(truncate(e.Error, 100)))
		}
	}

	if result.QuestionsFallback {
		fmt.Fprintln(out, c.warn.Sprint("  sub-questions fell back to the original query"))
	}

	if result.Cost == nil {
		return
	}
	s := result.Cost
	fmt.Fprintf(out, "  questions %s, synthesis %s\n", usd(s.ByLabel["questions"]), usd(s.ByLabel["synthesis"]))

	total := fmt.Sprintf("  Total cost: %s (%d input + %d output tokens)",
		usd(s.TotalUSD), s.Tokens.InputTokens, s.Tokens.OutputTokens)
	if s.OverBudget() {
		total += c.fail.Sprintf(" over budget of %s", usd(s.Budget))
	}
	fmt.Fprintln(out, total)
}

func agentCost(result *orchestrator.OrchestrationResult, index int) decimal.Decimal {
	if result.Cost == nil {
		return decimal.Zero
	}
	return result.Cost.ByLabel[fmt.Sprintf("agent_%d", index)]
}

func usd(d decimal.Decimal) string {
	return "$" + d.StringFixed(4)
}
