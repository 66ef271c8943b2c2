package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/remedian/remedian/internal/provider"
	"github.com/remedian/remedian/internal/session"
	"github.com/remedian/remedian/internal/tools"
)

const systemPromptTemplate = `You are Remedian, an autonomous operations agent.
You diagnose and remediate production incidents using the tools provided.

Guidelines:
- Diagnose before you remediate: inspect health, logs and metrics first.
- Prefer the least invasive action that resolves the incident.
- Mutating actions may require human approval; when a tool result reports
  a denial, do not retry the same action, explain and pick another path.
- When the incident is resolved or cannot be resolved with the available
  tools, give a final summary instead of calling more tools.

Current time: %s
Active profile: %s`

func buildSystemPrompt(profile string) string {
	return fmt.Sprintf(systemPromptTemplate, time.Now().Format(time.RFC3339), profile)
}

// toolDefinitions converts registry descriptors into provider tool schemas.
// It pre-filters tools that are disabled or restricted to other profiles so
// the model never sees schemas it can never use. This is advisory only; the
// policy engine remains the sole authority at execution time.
func toolDefinitions(registry *tools.Registry, profile string) []provider.ToolDefinition {
	var defs []provider.ToolDefinition
	for _, d := range registry.List() {
		if !d.Enabled {
			continue
		}
		if len(d.AllowedProfiles) > 0 && !containsString(d.AllowedProfiles, profile) {
			continue
		}
		params := d.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		defs = append(defs, provider.ToolDefinition{
			Type: "function",
			Function: provider.FunctionDef{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  params,
			},
		})
	}
	return defs
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// compactHistory summarizes the oldest exchanges when the history exceeds
// the character budget. The original instruction (first user message) and
// the most recent keepRecent messages stay verbatim; everything between is
// replaced by a single provider-generated digest.
func compactHistory(ctx context.Context, p provider.Provider, sess *session.Session, budgetChars, keepRecent int) error {
	if budgetChars <= 0 || sess.HistoryChars() <= budgetChars {
		return nil
	}
	msgs := sess.Messages()
	if len(msgs) <= keepRecent+1 {
		return nil
	}

	// Tool results must stay adjacent to the assistant message that issued
	// them; the API rejects a tool message with no preceding tool_calls.
	// Walk the boundary back so the tail never starts mid-exchange.
	boundary := len(msgs) - keepRecent
	for boundary > 1 && msgs[boundary].Role == "tool" {
		boundary--
	}

	head := msgs[:1]
	middle := msgs[1:boundary]
	tail := msgs[boundary:]
	if len(middle) == 0 {
		return nil
	}

	summary, err := p.Compact(ctx, middle)
	if err != nil {
		return fmt.Errorf("history compaction failed: %w", err)
	}

	compacted := make([]provider.Message, 0, 2+len(tail))
	compacted = append(compacted, head...)
	compacted = append(compacted, provider.Message{
		Role:    "user",
		Content: "[Earlier conversation summarized]\n" + strings.TrimSpace(summary),
	})
	compacted = append(compacted, tail...)
	sess.ReplaceHistory(compacted)
	return nil
}
