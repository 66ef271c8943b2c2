// Package playbook implements deterministic runbook execution: parsed,
// versioned step lists run under the same policy gate as the reasoning loop.
package playbook

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Step failure policies.
const (
	FailureContinue = "continue"
	FailureAbort    = "abort"
	FailureRetry    = "retry"
)

// Step is one playbook action. Fields are fixed after load; substitution
// happens on copies at execution time.
type Step struct {
	Name       string         `json:"name"`
	Tool       string         `json:"tool"`
	Parameters map[string]any `json:"parameters,omitempty"`
	// Condition is evaluated after substitution; false skips the step.
	Condition string `json:"condition,omitempty"`
	// OnFailure is continue, abort, or retry. Empty means abort.
	OnFailure         string `json:"onFailure,omitempty"`
	MaxRetries        int    `json:"maxRetries,omitempty"`
	RetryDelaySeconds int    `json:"retryDelaySeconds,omitempty"`
	TimeoutSeconds    int    `json:"timeoutSeconds,omitempty"`
}

// Playbook is an immutable, validated runbook. Edits create a new version;
// running executions keep the version they started with.
type Playbook struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Version        int               `json:"version"`
	Variables      map[string]string `json:"variables,omitempty"`
	Steps          []Step            `json:"steps"`
	TimeoutSeconds int               `json:"timeoutSeconds,omitempty"`
}

// StepTimeout returns the per-step timeout with a default.
func (s Step) StepTimeout() time.Duration {
	if s.TimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// RetryDelay returns the fixed delay between retry attempts.
func (s Step) RetryDelay() time.Duration {
	if s.RetryDelaySeconds <= 0 {
		return 2 * time.Second
	}
	return time.Duration(s.RetryDelaySeconds) * time.Second
}

// ExecutionTimeout returns the whole-run timeout with a default.
func (p *Playbook) ExecutionTimeout() time.Duration {
	if p.TimeoutSeconds <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// Parse decodes and validates a playbook document.
func Parse(data []byte) (*Playbook, error) {
	var pb Playbook
	if err := json.Unmarshal(data, &pb); err != nil {
		return nil, fmt.Errorf("failed to parse playbook: %w", err)
	}
	if err := pb.Validate(); err != nil {
		return nil, err
	}
	if pb.Version == 0 {
		pb.Version = 1
	}
	return &pb, nil
}

// Validate checks structural invariants.
func (p *Playbook) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("playbook: id is required")
	}
	if len(p.Steps) == 0 {
		return fmt.Errorf("playbook %s: at least one step is required", p.ID)
	}
	seen := make(map[string]bool, len(p.Steps))
	for i, s := range p.Steps {
		if s.Name == "" {
			return fmt.Errorf("playbook %s: step %d has no name", p.ID, i)
		}
		if seen[s.Name] {
			return fmt.Errorf("playbook %s: duplicate step name %q", p.ID, s.Name)
		}
		seen[s.Name] = true
		if s.Tool == "" {
			return fmt.Errorf("playbook %s: step %q names no tool", p.ID, s.Name)
		}
		switch s.OnFailure {
		case "", FailureContinue, FailureAbort, FailureRetry:
		default:
			return fmt.Errorf("playbook %s: step %q has unknown failure policy %q", p.ID, s.Name, s.OnFailure)
		}
	}
	return nil
}

// Library holds the current version of each playbook.
type Library struct {
	mu    sync.RWMutex
	books map[string]*Playbook
}

// NewLibrary creates an empty playbook library.
func NewLibrary() *Library {
	return &Library{books: make(map[string]*Playbook)}
}

// Register installs a playbook. Registering an existing id bumps the
// version; the previous version object is unchanged and stays valid for
// executions already holding it.
func (l *Library) Register(pb *Playbook) error {
	if err := pb.Validate(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if prev, ok := l.books[pb.ID]; ok {
		pb.Version = prev.Version + 1
	} else if pb.Version == 0 {
		pb.Version = 1
	}
	l.books[pb.ID] = pb
	return nil
}

// Get returns the current version of a playbook.
func (l *Library) Get(id string) (*Playbook, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pb, ok := l.books[id]
	return pb, ok
}

// List returns the ids of all registered playbooks.
func (l *Library) List() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.books))
	for id := range l.books {
		out = append(out, id)
	}
	return out
}

// LoadDir parses every *.json playbook in dir into the library.
func (l *Library) LoadDir(dir string) error {
	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return err
	}
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read playbook %s: %w", path, err)
		}
		pb, err := Parse(data)
		if err != nil {
			return fmt.Errorf("playbook %s: %w", path, err)
		}
		if err := l.Register(pb); err != nil {
			return err
		}
	}
	return nil
}
