package policy

import (
	"fmt"
	"path"
	"strings"
	"sync/atomic"

	"github.com/remedian/remedian/internal/tools"
)

// RuleSet is one layer's opinion source. Patterns match a tool name
// exactly, by glob ("log_*"), by category ("category:remediation"), or
// everything ("*"). Deny wins over approve wins over allow within a layer.
type RuleSet struct {
	Allow   []string `json:"allow,omitempty"`
	Deny    []string `json:"deny,omitempty"`
	Approve []string `json:"approve,omitempty"`
}

type verdict int

const (
	verdictNone verdict = iota
	verdictAllow
	verdictApprove
	verdictDeny
)

func (r RuleSet) verdict(tool, category string) verdict {
	if matchAny(r.Deny, tool, category) {
		return verdictDeny
	}
	if matchAny(r.Approve, tool, category) {
		return verdictApprove
	}
	if matchAny(r.Allow, tool, category) {
		return verdictAllow
	}
	return verdictNone
}

func matchAny(patterns []string, tool, category string) bool {
	for _, p := range patterns {
		if matchPattern(p, tool, category) {
			return true
		}
	}
	return false
}

func matchPattern(pattern, tool, category string) bool {
	if pattern == "*" {
		return true
	}
	if rest, ok := strings.CutPrefix(pattern, "category:"); ok {
		return rest == category
	}
	ok, err := path.Match(pattern, tool)
	return err == nil && ok
}

// Config is the policy configuration as loaded from the external store.
// BuildSnapshot validates it fully before it can go live.
type Config struct {
	// DefaultProfile applies when a session names no profile.
	DefaultProfile string `json:"defaultProfile"`
	// Profiles maps profile name to its base rule set.
	Profiles map[string]RuleSet `json:"profiles"`
	// ProviderProfiles maps provider id -> profile name -> override rules.
	ProviderProfiles map[string]map[string]RuleSet `json:"providerProfiles,omitempty"`
	Global           RuleSet                       `json:"global"`
	ProviderGlobal   map[string]RuleSet            `json:"providerGlobal,omitempty"`
	Agents           map[string]RuleSet            `json:"agents,omitempty"`
	ProviderAgents   map[string]map[string]RuleSet `json:"providerAgents,omitempty"`
	Groups           map[string]RuleSet            `json:"groups,omitempty"`
	Sandbox          RuleSet                       `json:"sandbox"`
	Subagent         RuleSet                       `json:"subagent"`
}

// Snapshot is an immutable, fully validated policy configuration plus the
// registry view it was built against. Readers never observe a partially
// updated configuration: reload builds a new Snapshot and swaps one pointer.
type Snapshot struct {
	Config Config
	Tools  map[string]tools.Descriptor
}

type layerRules struct {
	name  string
	rules RuleSet
}

// layers materializes the nine ordered rule layers for one evaluation.
// Layers without an applicable source contribute an empty (silent) rule set.
func (s *Snapshot) layers(ctx Context) []layerRules {
	cfg := s.Config

	profile := ctx.Profile
	if profile == "" {
		profile = cfg.DefaultProfile
	}

	out := make([]layerRules, 0, 9)
	out = append(out, layerRules{LayerProfile, cfg.Profiles[profile]})
	out = append(out, layerRules{LayerProviderProfile, cfg.ProviderProfiles[ctx.Provider][profile]})
	out = append(out, layerRules{LayerGlobal, cfg.Global})
	out = append(out, layerRules{LayerProviderGlobal, cfg.ProviderGlobal[ctx.Provider]})
	out = append(out, layerRules{LayerAgent, cfg.Agents[ctx.AgentID]})
	out = append(out, layerRules{LayerProviderAgent, cfg.ProviderAgents[ctx.Provider][ctx.AgentID]})
	out = append(out, layerRules{LayerGroup, cfg.Groups[ctx.Group]})
	if ctx.Sandboxed {
		out = append(out, layerRules{LayerSandbox, cfg.Sandbox})
	} else {
		out = append(out, layerRules{LayerSandbox, RuleSet{}})
	}
	if ctx.Subagent {
		out = append(out, layerRules{LayerSubagent, cfg.Subagent})
	} else {
		out = append(out, layerRules{LayerSubagent, RuleSet{}})
	}
	return out
}

// BuildSnapshot validates cfg against the registry view and returns an
// immutable snapshot. A snapshot that fails validation must never replace
// the live one.
func BuildSnapshot(cfg Config, registry map[string]tools.Descriptor) (*Snapshot, error) {
	if len(cfg.Profiles) == 0 {
		return nil, fmt.Errorf("policy config: at least one profile is required")
	}
	if cfg.DefaultProfile != "" {
		if _, ok := cfg.Profiles[cfg.DefaultProfile]; !ok {
			return nil, fmt.Errorf("policy config: default profile %q is not defined", cfg.DefaultProfile)
		}
	}
	for provider, profiles := range cfg.ProviderProfiles {
		for name := range profiles {
			if _, ok := cfg.Profiles[name]; !ok {
				return nil, fmt.Errorf("policy config: provider %q overrides unknown profile %q", provider, name)
			}
		}
	}
	allSets := collectRuleSets(cfg)
	for _, rs := range allSets {
		for _, p := range append(append(append([]string{}, rs.Allow...), rs.Deny...), rs.Approve...) {
			if err := validatePattern(p); err != nil {
				return nil, fmt.Errorf("policy config: %w", err)
			}
		}
	}

	// Copy the registry view so the snapshot cannot observe later admin edits.
	toolsCopy := make(map[string]tools.Descriptor, len(registry))
	for k, v := range registry {
		toolsCopy[k] = v
	}
	return &Snapshot{Config: cfg, Tools: toolsCopy}, nil
}

func collectRuleSets(cfg Config) []RuleSet {
	out := []RuleSet{cfg.Global, cfg.Sandbox, cfg.Subagent}
	for _, rs := range cfg.Profiles {
		out = append(out, rs)
	}
	for _, m := range cfg.ProviderProfiles {
		for _, rs := range m {
			out = append(out, rs)
		}
	}
	for _, rs := range cfg.ProviderGlobal {
		out = append(out, rs)
	}
	for _, rs := range cfg.Agents {
		out = append(out, rs)
	}
	for _, m := range cfg.ProviderAgents {
		for _, rs := range m {
			out = append(out, rs)
		}
	}
	for _, rs := range cfg.Groups {
		out = append(out, rs)
	}
	return out
}

func validatePattern(p string) error {
	if strings.TrimSpace(p) == "" {
		return fmt.Errorf("empty rule pattern")
	}
	if strings.HasPrefix(p, "category:") {
		if strings.TrimPrefix(p, "category:") == "" {
			return fmt.Errorf("empty category in pattern %q", p)
		}
		return nil
	}
	if _, err := path.Match(p, "probe"); err != nil {
		return fmt.Errorf("invalid pattern %q: %v", p, err)
	}
	return nil
}

// snapshotHolder wraps the single atomic reference behind which snapshots
// are swapped.
type snapshotHolder struct {
	p atomic.Pointer[Snapshot]
}

func (h *snapshotHolder) store(s *Snapshot) { h.p.Store(s) }
func (h *snapshotHolder) load() *Snapshot   { return h.p.Load() }
