// Package tools provides the tool framework and the bundled remediation tools.
package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Categories group tools for policy rules of the form "category:<name>".
const (
	CategoryDiagnostic  = "diagnostic"
	CategoryRemediation = "remediation"
	CategoryShell       = "shell"
	CategoryOrchestrate = "orchestrate"
)

// Constraints bound how a tool may be invoked.
type Constraints struct {
	// MaxTimeout caps the per-invocation timeout. Zero means no cap.
	MaxTimeout time.Duration `json:"maxTimeout,omitempty"`
	// MaxResultChars truncates tool output beyond this size. Zero means no cap.
	MaxResultChars int `json:"maxResultChars,omitempty"`
}

// Descriptor is the registry metadata for one invocable capability.
type Descriptor struct {
	Name             string         `json:"name"`
	Category         string         `json:"category"`
	Description      string         `json:"description"`
	Mutating         bool           `json:"mutating"`
	Parameters       map[string]any `json:"parameters"`
	Enabled          bool           `json:"enabled"`
	ApprovalRequired bool           `json:"approvalRequired"`
	AllowedProfiles  []string       `json:"allowedProfiles,omitempty"`
	Constraints      Constraints    `json:"constraints"`
}

// Tool is the interface that all agent tools must implement.
type Tool interface {
	// Name returns the tool identifier used in function calls.
	Name() string
	// Descriptor returns the registry metadata for this tool.
	Descriptor() Descriptor
	// Execute runs the tool with the given parameters.
	// Returns result string and error. On error, return user-friendly message.
	Execute(ctx context.Context, params map[string]any) (string, error)
}

// Registry manages tool registration, admin edits, and execution.
type Registry struct {
	mu        sync.RWMutex
	tools     map[string]Tool
	overrides map[string]Descriptor
	execCount map[string]*atomic.Int64
}

// NewRegistry creates a new tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:     make(map[string]Tool),
		overrides: make(map[string]Descriptor),
		execCount: make(map[string]*atomic.Int64),
	}
}

// Register adds a tool to the registry.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
	r.execCount[tool.Name()] = &atomic.Int64{}
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Describe returns the effective descriptor for a tool, with admin edits applied.
func (r *Registry) Describe(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.describeLocked(name)
}

func (r *Registry) describeLocked(name string) (Descriptor, bool) {
	if d, ok := r.overrides[name]; ok {
		return d, true
	}
	tool, ok := r.tools[name]
	if !ok {
		return Descriptor{}, false
	}
	return tool.Descriptor(), true
}

// SetEnabled flips the enabled flag for a tool (admin edit).
func (r *Registry) SetEnabled(name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.describeLocked(name)
	if !ok {
		return fmt.Errorf("tool not found: %s", name)
	}
	d.Enabled = enabled
	r.overrides[name] = d
	return nil
}

// SetApprovalRequired flips the approval flag for a tool (admin edit).
func (r *Registry) SetApprovalRequired(name string, required bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.describeLocked(name)
	if !ok {
		return fmt.Errorf("tool not found: %s", name)
	}
	d.ApprovalRequired = required
	r.overrides[name] = d
	return nil
}

// Snapshot returns an immutable copy of all effective descriptors,
// keyed by tool name. Policy evaluation reads from snapshots only.
func (r *Registry) Snapshot() map[string]Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Descriptor, len(r.tools))
	for name := range r.tools {
		d, _ := r.describeLocked(name)
		out[name] = d
	}
	return out
}

// List returns all effective descriptors sorted by name.
func (r *Registry) List() []Descriptor {
	snap := r.Snapshot()
	out := make([]Descriptor, 0, len(snap))
	for _, d := range snap {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Execute runs a tool by name with the given parameters and bumps its
// execution counter. Dry-run paths must not call Execute.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]any) (string, error) {
	r.mu.RLock()
	tool, ok := r.tools[name]
	counter := r.execCount[name]
	d, _ := r.describeLocked(name)
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("tool not found: %s", name)
	}
	counter.Add(1)

	result, err := tool.Execute(ctx, params)
	if max := d.Constraints.MaxResultChars; max > 0 && len(result) > max {
		result = result[:max] + "\n[truncated]"
	}
	return result, err
}

// ExecCount returns how many times a tool has been executed. Used by
// dry-run verification.
func (r *Registry) ExecCount(name string) int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.execCount[name]; ok {
		return c.Load()
	}
	return 0
}

// TotalExecCount returns the sum of all tool execution counters.
func (r *Registry) TotalExecCount() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var total int64
	for _, c := range r.execCount {
		total += c.Load()
	}
	return total
}

// GetString extracts a string parameter with a default value.
func GetString(params map[string]any, key string, defaultVal string) string {
	if v, ok := params[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return defaultVal
}

// GetInt extracts an int parameter with a default value.
func GetInt(params map[string]any, key string, defaultVal int) int {
	if v, ok := params[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case float64:
			return int(n)
		}
	}
	return defaultVal
}

// GetBool extracts a bool parameter with a default value.
func GetBool(params map[string]any, key string, defaultVal bool) bool {
	if v, ok := params[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return defaultVal
}
