package policy

import (
	"testing"

	"github.com/remedian/remedian/internal/tools"
)

func testRegistry() map[string]tools.Descriptor {
	return map[string]tools.Descriptor{
		"health_check":    {Name: "health_check", Category: tools.CategoryDiagnostic, Enabled: true},
		"log_search":      {Name: "log_search", Category: tools.CategoryDiagnostic, Enabled: true},
		"service_restart": {Name: "service_restart", Category: tools.CategoryRemediation, Mutating: true, Enabled: true},
		"exec":            {Name: "exec", Category: tools.CategoryShell, Mutating: true, Enabled: true, ApprovalRequired: true},
		"old_tool":        {Name: "old_tool", Category: tools.CategoryDiagnostic, Enabled: false},
		"admin_only":      {Name: "admin_only", Category: tools.CategoryOrchestrate, Enabled: true, AllowedProfiles: []string{"full"}},
	}
}

func newTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	snap, err := BuildSnapshot(cfg, testRegistry())
	if err != nil {
		t.Fatalf("BuildSnapshot: %v", err)
	}
	return NewEngine(snap, nil)
}

func baseConfig() Config {
	return Config{
		DefaultProfile: "standard",
		Profiles: map[string]RuleSet{
			"minimal":  {Allow: []string{"category:diagnostic"}},
			"standard": {Allow: []string{"*"}},
			"full":     {Allow: []string{"*"}},
		},
	}
}

func TestSilentLayersAllow(t *testing.T) {
	eng := newTestEngine(t, baseConfig())
	d := eng.Evaluate(Context{Tool: "health_check", Profile: "standard"})
	if d.Outcome != Allow {
		t.Fatalf("expected ALLOW, got %s (%s)", d.Outcome, d.Reason)
	}
}

func TestDenyIsAbsolute(t *testing.T) {
	cfg := baseConfig()
	cfg.Global = RuleSet{Deny: []string{"service_restart"}}
	eng := newTestEngine(t, cfg)

	d := eng.Evaluate(Context{Tool: "service_restart", Profile: "standard"})
	if d.Outcome != Deny {
		t.Fatalf("expected DENY, got %s", d.Outcome)
	}
	if d.Layer != LayerGlobal {
		t.Fatalf("expected deny tagged with global layer, got %q", d.Layer)
	}
}

func TestLaterLayerCannotReverseDeny(t *testing.T) {
	cfg := baseConfig()
	cfg.Profiles["standard"] = RuleSet{Deny: []string{"exec"}}
	// Sandbox explicitly allows; the earlier profile deny must still win.
	cfg.Sandbox = RuleSet{Allow: []string{"exec"}}
	eng := newTestEngine(t, cfg)

	d := eng.Evaluate(Context{Tool: "exec", Profile: "standard", Sandboxed: true})
	if d.Outcome != Deny || d.Layer != LayerProfile {
		t.Fatalf("expected DENY(profile), got %s(%s)", d.Outcome, d.Layer)
	}
}

func TestApprovalFlagSurvivesToEnd(t *testing.T) {
	cfg := baseConfig()
	cfg.Global = RuleSet{Approve: []string{"service_restart"}}
	eng := newTestEngine(t, cfg)

	d := eng.Evaluate(Context{Tool: "service_restart", Profile: "standard"})
	if d.Outcome != RequireApproval {
		t.Fatalf("expected REQUIRE_APPROVAL, got %s", d.Outcome)
	}
	if d.Layer != LayerGlobal {
		t.Fatalf("expected approval tagged with global layer, got %q", d.Layer)
	}
}

func TestDenyAfterApprovalFlagStillDenies(t *testing.T) {
	cfg := baseConfig()
	cfg.Global = RuleSet{Approve: []string{"service_restart"}}
	cfg.Sandbox = RuleSet{Deny: []string{"category:remediation"}}
	eng := newTestEngine(t, cfg)

	d := eng.Evaluate(Context{Tool: "service_restart", Profile: "standard", Sandboxed: true})
	if d.Outcome != Deny || d.Layer != LayerSandbox {
		t.Fatalf("expected DENY(sandbox), got %s(%s)", d.Outcome, d.Layer)
	}
}

func TestUnknownToolDenied(t *testing.T) {
	eng := newTestEngine(t, baseConfig())
	d := eng.Evaluate(Context{Tool: "no_such_tool", Profile: "standard"})
	if d.Outcome != Deny || d.Reason != "unregistered" {
		t.Fatalf("expected DENY(unregistered), got %s(%s)", d.Outcome, d.Reason)
	}
}

func TestDisabledToolDenied(t *testing.T) {
	eng := newTestEngine(t, baseConfig())
	d := eng.Evaluate(Context{Tool: "old_tool", Profile: "standard"})
	if d.Outcome != Deny || d.Reason != "disabled" {
		t.Fatalf("expected DENY(disabled), got %s(%s)", d.Outcome, d.Reason)
	}
	if d.Layer != LayerRegistry {
		t.Fatalf("disabled check should precede layer evaluation, got layer %q", d.Layer)
	}
}

func TestDescriptorApprovalRequired(t *testing.T) {
	eng := newTestEngine(t, baseConfig())
	d := eng.Evaluate(Context{Tool: "exec", Profile: "standard"})
	if d.Outcome != RequireApproval {
		t.Fatalf("expected REQUIRE_APPROVAL from descriptor flag, got %s", d.Outcome)
	}
}

func TestAllowedProfilesRestriction(t *testing.T) {
	eng := newTestEngine(t, baseConfig())

	d := eng.Evaluate(Context{Tool: "admin_only", Profile: "standard"})
	if d.Outcome != Deny || d.Reason != "profile_not_permitted" {
		t.Fatalf("expected DENY(profile_not_permitted), got %s(%s)", d.Outcome, d.Reason)
	}

	d = eng.Evaluate(Context{Tool: "admin_only", Profile: "full"})
	if d.Outcome != Allow {
		t.Fatalf("full profile should be permitted, got %s(%s)", d.Outcome, d.Reason)
	}
}

func TestProviderOverrideOfProfile(t *testing.T) {
	cfg := baseConfig()
	cfg.ProviderProfiles = map[string]map[string]RuleSet{
		"openai": {"standard": {Deny: []string{"exec"}}},
	}
	eng := newTestEngine(t, cfg)

	d := eng.Evaluate(Context{Tool: "exec", Profile: "standard", Provider: "openai"})
	if d.Outcome != Deny || d.Layer != LayerProviderProfile {
		t.Fatalf("expected DENY(provider_profile), got %s(%s)", d.Outcome, d.Layer)
	}

	// A different provider is unaffected.
	d = eng.Evaluate(Context{Tool: "exec", Profile: "standard", Provider: "other"})
	if d.Outcome != RequireApproval {
		t.Fatalf("expected REQUIRE_APPROVAL for other provider, got %s", d.Outcome)
	}
}

func TestSandboxLayerOnlyAppliesWhenSandboxed(t *testing.T) {
	cfg := baseConfig()
	cfg.Sandbox = RuleSet{Deny: []string{"category:remediation"}}
	eng := newTestEngine(t, cfg)

	d := eng.Evaluate(Context{Tool: "service_restart", Profile: "standard"})
	if d.Outcome != Allow {
		t.Fatalf("non-sandboxed call should be allowed, got %s(%s)", d.Outcome, d.Reason)
	}

	d = eng.Evaluate(Context{Tool: "service_restart", Profile: "standard", Sandboxed: true})
	if d.Outcome != Deny || d.Layer != LayerSandbox {
		t.Fatalf("expected DENY(sandbox), got %s(%s)", d.Outcome, d.Layer)
	}
}

func TestSubagentRestrictions(t *testing.T) {
	cfg := baseConfig()
	cfg.Subagent = RuleSet{Deny: []string{"category:shell"}}
	eng := newTestEngine(t, cfg)

	d := eng.Evaluate(Context{Tool: "exec", Profile: "standard", Subagent: true})
	if d.Outcome != Deny || d.Layer != LayerSubagent {
		t.Fatalf("expected DENY(subagent), got %s(%s)", d.Outcome, d.Layer)
	}
}

func TestDefaultProfileApplied(t *testing.T) {
	cfg := baseConfig()
	cfg.DefaultProfile = "minimal"
	eng := newTestEngine(t, cfg)

	// minimal allows diagnostics only; restart is silent everywhere → ALLOW
	// is still the outcome because silence means no opinion, not deny.
	d := eng.Evaluate(Context{Tool: "health_check"})
	if d.Outcome != Allow {
		t.Fatalf("expected ALLOW under default profile, got %s(%s)", d.Outcome, d.Reason)
	}
}

func TestBuildSnapshotValidation(t *testing.T) {
	_, err := BuildSnapshot(Config{}, testRegistry())
	if err == nil {
		t.Fatal("expected error for config without profiles")
	}

	cfg := baseConfig()
	cfg.DefaultProfile = "missing"
	if _, err := BuildSnapshot(cfg, testRegistry()); err == nil {
		t.Fatal("expected error for unknown default profile")
	}

	cfg = baseConfig()
	cfg.Global = RuleSet{Deny: []string{"[bad"}}
	if _, err := BuildSnapshot(cfg, testRegistry()); err == nil {
		t.Fatal("expected error for invalid pattern")
	}
}

func TestSwapReplacesSnapshotAtomically(t *testing.T) {
	eng := newTestEngine(t, baseConfig())

	d := eng.Evaluate(Context{Tool: "service_restart", Profile: "standard"})
	if d.Outcome != Allow {
		t.Fatalf("precondition: expected ALLOW, got %s", d.Outcome)
	}

	cfg := baseConfig()
	cfg.Global = RuleSet{Deny: []string{"*"}}
	snap, err := BuildSnapshot(cfg, testRegistry())
	if err != nil {
		t.Fatalf("BuildSnapshot: %v", err)
	}
	eng.Swap(snap)

	d = eng.Evaluate(Context{Tool: "service_restart", Profile: "standard"})
	if d.Outcome != Deny || d.Layer != LayerGlobal {
		t.Fatalf("expected DENY after swap, got %s(%s)", d.Outcome, d.Layer)
	}
}
