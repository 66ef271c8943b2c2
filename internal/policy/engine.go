// Package policy provides cascading tool execution authorization.
//
// Every tool invocation, whether proposed by the reasoning loop or by a
// playbook step, passes through Engine.Evaluate before execution. Nine
// rule layers are consulted in fixed order; an explicit deny from any
// layer is absolute.
package policy

import (
	"log/slog"
	"time"
)

// Outcome is the absolute result of a policy evaluation.
type Outcome string

const (
	Allow           Outcome = "ALLOW"
	Deny            Outcome = "DENY"
	RequireApproval Outcome = "REQUIRE_APPROVAL"
)

// Layer names, in evaluation order. LayerRegistry covers the pre-layer
// registry checks (unknown or disabled tool).
const (
	LayerRegistry        = "registry"
	LayerProfile         = "profile"
	LayerProviderProfile = "provider_profile"
	LayerGlobal          = "global"
	LayerProviderGlobal  = "provider_global"
	LayerAgent           = "agent"
	LayerProviderAgent   = "provider_agent"
	LayerGroup           = "group"
	LayerSandbox         = "sandbox"
	LayerSubagent        = "subagent"
)

// Context holds information about a pending tool invocation.
type Context struct {
	Tool      string
	Arguments map[string]any
	Profile   string
	Provider  string
	AgentID   string
	Group     string
	Sandboxed bool
	Subagent  bool
	// Actor is the human or system identity behind the request, for audit.
	Actor string
	// Origin identifies the owning session or playbook execution.
	Origin     string
	OriginKind string // "session" or "execution"
	TraceID    string
}

// Decision is the result of a policy evaluation.
type Decision struct {
	Outcome Outcome
	// Layer names the rule layer that decided (for DENY and
	// REQUIRE_APPROVAL) or "" when every layer was silent.
	Layer  string
	Reason string
	Ts     time.Time
}

// Engine evaluates whether a tool invocation should proceed. Evaluation
// reads an immutable snapshot, so concurrent calls always see a fully
// formed configuration.
type Engine struct {
	snap  snapshotHolder
	audit AuditRecorder
}

// NewEngine creates a policy engine with the given initial snapshot.
// The audit recorder may be nil.
func NewEngine(snap *Snapshot, audit AuditRecorder) *Engine {
	e := &Engine{audit: audit}
	e.snap.store(snap)
	return e
}

// Swap atomically replaces the live snapshot. Callers must fully validate
// the snapshot first; Swap never inspects it.
func (e *Engine) Swap(snap *Snapshot) {
	e.snap.store(snap)
}

// Current returns the live snapshot.
func (e *Engine) Current() *Snapshot {
	return e.snap.load()
}

// Evaluate walks the rule layers in order and returns an absolute decision.
//
// An explicit deny from any layer stops evaluation immediately and cannot
// be reversed by a later layer. A require-approval flag from any layer is
// remembered but evaluation continues, since a later layer may still deny.
func (e *Engine) Evaluate(ctx Context) Decision {
	snap := e.snap.load()
	d := e.evaluate(snap, ctx)
	e.record(ctx, d)
	return d
}

func (e *Engine) evaluate(snap *Snapshot, ctx Context) Decision {
	now := time.Now()

	desc, known := snap.Tools[ctx.Tool]
	if !known {
		return Decision{Outcome: Deny, Layer: LayerRegistry, Reason: "unregistered", Ts: now}
	}
	if !desc.Enabled {
		return Decision{Outcome: Deny, Layer: LayerRegistry, Reason: "disabled", Ts: now}
	}

	approvalLayer := ""
	if desc.ApprovalRequired {
		approvalLayer = LayerRegistry
	}

	for _, l := range snap.layers(ctx) {
		// Registry profile restriction rides on the base profile layer:
		// a descriptor that names allowed profiles denies all others.
		if l.name == LayerProfile && len(desc.AllowedProfiles) > 0 {
			if !containsString(desc.AllowedProfiles, ctx.Profile) {
				return Decision{Outcome: Deny, Layer: LayerProfile, Reason: "profile_not_permitted", Ts: now}
			}
		}

		switch l.rules.verdict(ctx.Tool, desc.Category) {
		case verdictDeny:
			return Decision{Outcome: Deny, Layer: l.name, Reason: "denied_by_" + l.name, Ts: now}
		case verdictApprove:
			if approvalLayer == "" {
				approvalLayer = l.name
			}
		}
	}

	if approvalLayer != "" {
		return Decision{Outcome: RequireApproval, Layer: approvalLayer, Reason: "approval_required_by_" + approvalLayer, Ts: now}
	}
	return Decision{Outcome: Allow, Reason: "allowed", Ts: now}
}

// record appends the decision to the audit trail asynchronously. Audit
// failure must never change or block the decision.
func (e *Engine) record(ctx Context, d Decision) {
	if e.audit == nil {
		return
	}
	rec := AuditRecord{
		Actor:      ctx.Actor,
		Tool:       ctx.Tool,
		Profile:    ctx.Profile,
		Origin:     ctx.Origin,
		OriginKind: ctx.OriginKind,
		TraceID:    ctx.TraceID,
		Outcome:    string(d.Outcome),
		Layer:      d.Layer,
		Reason:     d.Reason,
		Ts:         d.Ts,
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Warn("Audit recorder panicked", "error", r)
			}
		}()
		e.audit.Record(rec)
	}()
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
