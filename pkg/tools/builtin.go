package tools

import (
	"context"
	"strings"
)

// CompletionToolName is the reserved tool an agent calls to finish its task.
const CompletionToolName = "mark_task_complete"

// Argument names of the completion tool.
const (
	ArgTaskSummary       = "task_summary"
	ArgCompletionMessage = "completion_message"
)

// CompletionTool returns the definition of the reserved completion tool.
// Its handler only echoes the summary; the reasoning loop intercepts calls
// to it before they reach the registry.
func CompletionTool() Definition {
	return Definition{
		Name: CompletionToolName,
		Description: "Call this when the task is fully done. Put the complete final answer in " +
			"completion_message; it is what gets reported back.",
		Parameters: []Parameter{
			{
				Name:        ArgTaskSummary,
				Type:        "string",
				Description: "Brief summary of what was accomplished",
				Required:    true,
			},
			{
				Name:        ArgCompletionMessage,
				Type:        "string",
				Description: "The final answer to the task",
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			return CompletionText(args), nil
		},
	}
}

// CompletionText extracts the answer carried by a completion call:
// completion_message when present, else task_summary.
func CompletionText(args map[string]any) string {
	if msg, _ := args[ArgCompletionMessage].(string); strings.TrimSpace(msg) != "" {
		return strings.TrimSpace(msg)
	}
	summary, _ := args[ArgTaskSummary].(string)
	return strings.TrimSpace(summary)
}

// RegisterBuiltins adds the tools every agent gets.
func RegisterBuiltins(r *Registry) error {
	return r.RegisterTool(CompletionTool())
}
