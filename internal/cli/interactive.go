package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

var quitWords = map[string]bool{"quit": true, "exit": true, "bye": true}

// runInteractive answers one query per input line until a quit word, end of
// input or an interrupt. A failed query is reported and the session goes on.
func runInteractive(ctx context.Context, cmd *cobra.Command, a *app) error {
	stderr := cmd.ErrOrStderr()
	p := newPalette(runNoColor)
	reader := bufio.NewReader(cmd.InOrStdin())

	p.heading.Fprintln(stderr, "heavy interactive session")
	fmt.Fprintf(stderr, "Configured for %d parallel agents (%s, default model %s)\n",
		a.cfg.Orchestrator.ParallelAgents, a.cfg.Provider.Type, a.cfg.Models.Default)
	p.muted.Fprintln(stderr, "Type 'quit', 'exit', or 'bye' to exit")
	p.muted.Fprintln(stderr, strings.Repeat("-", 50))

	for {
		fmt.Fprint(stderr, "\nUser: ")
		line, err := reader.ReadString('\n')
		query := strings.TrimSpace(line)
		if err != nil && query == "" {
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(stderr)
				return nil
			}
			return fmt.Errorf("failed to read query: %w", err)
		}

		switch {
		case quitWords[strings.ToLower(query)]:
			fmt.Fprintln(stderr, "Goodbye!")
			return nil
		case query == "":
			fmt.Fprintln(stderr, "Please enter a question or command.")
			continue
		}

		if err := runQueryOnce(ctx, cmd, a, query); err != nil {
			if ctx.Err() != nil {
				fmt.Fprintln(stderr, "\nExiting...")
				return nil
			}
			p.fail.Fprintf(stderr, "Task failed: %v\n", err)
		}
	}
}
