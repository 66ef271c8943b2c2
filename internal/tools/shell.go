package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

// DenyPatterns contains regex patterns for commands the exec tool refuses
// outright, regardless of policy. These are destructive beyond any
// remediation an operator would script.
var DenyPatterns = []string{
	`\brm\s+(-[rf]+\s+)*[/~]`, // rm with root or home
	`\brm\s+-rf\b`,            // rm -rf anywhere
	`\bfind\b.*\b-delete\b`,   // find -delete
	`\bdd\b.*\bof=/dev/`,      // dd to device
	`\bmkfs\b`,                // filesystem format
	`\bfdisk\b`,               // partition tool
	`>\s*/dev/`,               // redirect to device
	`\bchmod\s+-R\s+777\b`,    // chmod 777 recursive
	`\b:(){ :|:& };:\b`,       // fork bomb
	`\bshutdown\b`,            // shutdown
	`\bhalt\b`,                // halt
	`\binit\s+[0-6]\b`,        // init level change
}

// ExecTool executes shell commands on the target host. It is the highest
// risk tool in the catalog and defaults to approval-required.
type ExecTool struct {
	Timeout     time.Duration
	denyRegexes []*regexp.Regexp
}

// NewExecTool creates a new ExecTool.
func NewExecTool(timeout time.Duration) *ExecTool {
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	denyRegexes := make([]*regexp.Regexp, 0, len(DenyPatterns))
	for _, pattern := range DenyPatterns {
		if re, err := regexp.Compile(pattern); err == nil {
			denyRegexes = append(denyRegexes, re)
		}
	}
	return &ExecTool{
		Timeout:     timeout,
		denyRegexes: denyRegexes,
	}
}

func (t *ExecTool) Name() string { return "exec" }

func (t *ExecTool) Descriptor() Descriptor {
	return Descriptor{
		Name:             t.Name(),
		Category:         CategoryShell,
		Description:      "Execute a shell command on the target host and return its output.",
		Mutating:         true,
		Enabled:          true,
		ApprovalRequired: true,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{
					"type":        "string",
					"description": "The shell command to execute",
				},
				"working_dir": map[string]any{
					"type":        "string",
					"description": "Optional working directory for the command",
				},
			},
			"required": []string{"command"},
		},
		Constraints: Constraints{MaxTimeout: 5 * time.Minute, MaxResultChars: 32768},
	}
}

func (t *ExecTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	command := GetString(params, "command", "")
	workingDir := GetString(params, "working_dir", "")

	if command == "" {
		return "Error: command is required", nil
	}
	for _, re := range t.denyRegexes {
		if re.MatchString(command) {
			return fmt.Sprintf("Error: command blocked by safety guard: %s", command), nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	if workingDir != "" {
		cmd.Dir = workingDir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	var result strings.Builder
	if stdout.Len() > 0 {
		result.WriteString(stdout.String())
	}
	if stderr.Len() > 0 {
		if result.Len() > 0 {
			result.WriteString("\n")
		}
		result.WriteString("STDERR:\n")
		result.WriteString(stderr.String())
	}

	if ctx.Err() == context.DeadlineExceeded {
		return fmt.Sprintf("Error: command timed out after %v\n%s", t.Timeout, result.String()), nil
	}

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.WriteString(fmt.Sprintf("\nExit code: %d", exitErr.ExitCode()))
		} else {
			return fmt.Sprintf("Error executing command: %v", err), nil
		}
	}

	if result.Len() == 0 {
		return "(no output)", nil
	}

	return result.String(), nil
}
