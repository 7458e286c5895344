package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Kylo111/make-it-heavy/pkg/orchestrator"
)

var (
	runQuery   string
	runJSON    bool
	runQuiet   bool
	runNoColor bool
)

var runCmd = &cobra.Command{
	Use:   "run [query]",
	Short: "Answer a query with parallel agents",
	Long: `Run one orchestration: generate sub-questions, run one agent per
sub-question in parallel, and synthesize the answers.

Progress and the execution summary go to stderr; the answer goes to stdout.
Without a query, run starts an interactive session that reads one query per
line until quit, exit, bye or end of input.

Examples:
  heavy run "Compare the energy density of lithium and sodium batteries"
  heavy run --query "..." --json > result.json
  heavy run --quiet "..."
  heavy run`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runQuery, "query", "q", "", "the query to answer")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the full result as JSON")
	runCmd.Flags().BoolVar(&runQuiet, "quiet", false, "print only the answer")
	runCmd.Flags().BoolVar(&runNoColor, "no-color", false, "disable coloured output")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	query := runQuery
	if query == "" && len(args) == 1 {
		query = args[0]
	}
	interactive := query == ""
	if !interactive && strings.TrimSpace(query) == "" {
		return errors.New("a query is required: pass it as an argument or with --query")
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Console logs only when asked for; progress lines take their place.
	a, err := newApp(ctx, cfg, cmd.Flags().Changed("log-level"))
	if err != nil {
		return err
	}
	defer a.Close()

	if interactive {
		return runInteractive(ctx, cmd, a)
	}
	return runQueryOnce(ctx, cmd, a, query)
}

// runQueryOnce orchestrates query, streaming progress to stderr, and prints
// the answer to stdout.
func runQueryOnce(ctx context.Context, cmd *cobra.Command, a *app, query string) error {
	stderr := cmd.ErrOrStderr()

	progressDone := make(chan struct{})
	unsubscribe := func() {}
	if runQuiet {
		close(progressDone)
	} else {
		var events <-chan orchestrator.Event
		events, unsubscribe = a.events.Subscribe(256)
		progress := NewProgress(stderr, runNoColor)
		go func() {
			defer close(progressDone)
			progress.Run(events)
		}()
	}

	result, err := a.orch.Orchestrate(ctx, query)
	unsubscribe()
	<-progressDone
	if err != nil {
		return fmt.Errorf("orchestration failed: %w", err)
	}

	out := cmd.OutOrStdout()
	if runJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return fmt.Errorf("failed to encode result: %w", err)
		}
	} else {
		fmt.Fprintln(out, result.Answer)
	}

	if !runQuiet {
		printSummary(stderr, result, runNoColor)
	}
	return nil
}
