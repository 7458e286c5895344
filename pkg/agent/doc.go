// Package agent runs one tool-using reasoning loop: the model is called,
// requested tools are executed and their results appended, until the model
// answers without tools, calls the completion tool, or the iteration budget
// is spent.
//
// Invariants:
//   - One Runner may serve many concurrent Run calls; each Run owns its
//     conversation.
//   - Every requested tool call is executed exactly once, in order.
//   - Run never returns an error; failures are reported in the Outcome.
//
// Usage:
//
//	runner, _ := agent.NewRunner(agent.Config{Gateway: gw, Tools: registry})
//	out := runner.Run(ctx, agent.RunParams{
//		Prompt: "Compare Go and Rust error handling",
//		Model:  "gpt-4o-mini",
//	})
//	_ = out.Text
package agent
