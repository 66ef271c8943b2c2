package playbook

import (
	"context"
	"fmt"

	"github.com/remedian/remedian/internal/tools"
)

// RunTool lets the reasoning loop trigger a playbook as a tool call. The
// triggered execution runs under its own execution origin and is gated
// step by step like any other run.
type RunTool struct {
	library  *Library
	executor *Executor
}

// NewRunTool creates the run_playbook bridge tool.
func NewRunTool(library *Library, executor *Executor) *RunTool {
	return &RunTool{library: library, executor: executor}
}

func (t *RunTool) Name() string { return "run_playbook" }

func (t *RunTool) Descriptor() tools.Descriptor {
	return tools.Descriptor{
		Name:        "run_playbook",
		Category:    tools.CategoryOrchestrate,
		Description: "Run a registered remediation playbook to completion and report the per-step results.",
		Mutating:    true,
		Enabled:     true,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"playbook": map[string]any{"type": "string", "description": "Playbook id"},
				"vars":     map[string]any{"type": "object", "description": "Variable overrides"},
				"dry_run":  map[string]any{"type": "boolean", "description": "Walk the steps without executing tools"},
			},
			"required": []string{"playbook"},
		},
	}
}

func (t *RunTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	id := tools.GetString(params, "playbook", "")
	if id == "" {
		return "", fmt.Errorf("playbook id is required")
	}
	pb, ok := t.library.Get(id)
	if !ok {
		return "", fmt.Errorf("playbook not found: %s", id)
	}

	vars := make(map[string]string)
	if raw, ok := params["vars"].(map[string]any); ok {
		for k, v := range raw {
			if s, ok := v.(string); ok {
				vars[k] = s
			}
		}
	}
	dryRun := tools.GetBool(params, "dry_run", false)

	exec := t.executor.Execute(ctx, pb, "", vars, dryRun)

	out := fmt.Sprintf("Execution %s finished %s (%d steps)", exec.ID, exec.Status, len(exec.Steps))
	for _, sr := range exec.Steps {
		line := fmt.Sprintf("\n  %d. %s [%s] %s", sr.Index+1, sr.Name, sr.Status, sr.Output)
		if sr.Error != "" {
			line += " error: " + sr.Error
		}
		out += line
	}
	if exec.Error != "" {
		out += "\nerror: " + exec.Error
	}
	return out, nil
}
