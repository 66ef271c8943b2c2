// Package control is the facade the transports and the CLI drive: it
// submits instructions, triggers playbooks, answers approvals, and hot
// reloads the policy snapshot.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/remedian/remedian/internal/agent"
	"github.com/remedian/remedian/internal/approval"
	"github.com/remedian/remedian/internal/bus"
	"github.com/remedian/remedian/internal/playbook"
	"github.com/remedian/remedian/internal/policy"
	"github.com/remedian/remedian/internal/scheduler"
	"github.com/remedian/remedian/internal/session"
	"github.com/remedian/remedian/internal/tools"
)

// Incident is a monitoring event submitted for automated handling.
type Incident struct {
	ID       string            `json:"id"`
	Source   string            `json:"source"`
	Kind     string            `json:"kind"`
	Severity string            `json:"severity"`
	Summary  string            `json:"summary"`
	Labels   map[string]string `json:"labels,omitempty"`
}

// IncidentRoute maps an incident kind to a response: either a playbook
// trigger or a reasoning instruction. Playbook wins when both are set.
type IncidentRoute struct {
	Playbook    string `json:"playbook,omitempty"`
	Instruction string `json:"instruction,omitempty"`
	DryRun      bool   `json:"dryRun,omitempty"`
}

// Meta carries the identity fields of a submitted instruction.
type Meta struct {
	Profile   string
	Provider  string
	AgentID   string
	Group     string
	Sandboxed bool
	Subagent  bool
	Actor     string
	TraceID   string
}

// PolicyLoader re-reads the policy configuration for hot reload.
type PolicyLoader func() (policy.Config, error)

// Control wires the operator-facing operations to the core.
type Control struct {
	loop       *agent.Loop
	sessions   *session.Manager
	executor   *playbook.Executor
	library    *playbook.Library
	gate       *approval.Gate
	engine     *policy.Engine
	registry   *tools.Registry
	pools      *scheduler.Pools
	bus        *bus.Bus
	loadPolicy PolicyLoader
	routes     map[string]IncidentRoute
}

// New creates the control facade. loadPolicy may be nil, which disables
// hot reload; routes may be nil.
func New(loop *agent.Loop, sessions *session.Manager, executor *playbook.Executor, library *playbook.Library, gate *approval.Gate, engine *policy.Engine, registry *tools.Registry, pools *scheduler.Pools, b *bus.Bus, loadPolicy PolicyLoader, routes map[string]IncidentRoute) *Control {
	return &Control{
		loop:       loop,
		sessions:   sessions,
		executor:   executor,
		library:    library,
		gate:       gate,
		engine:     engine,
		registry:   registry,
		pools:      pools,
		bus:        b,
		loadPolicy: loadPolicy,
		routes:     routes,
	}
}

// SubmitMessage queues an instruction for a session on the agent pool.
// It returns once the work is accepted; results flow through the bus.
// Admission claims the session before the pool submit, so two submissions
// for the same id can never both run.
func (c *Control) SubmitMessage(ctx context.Context, sessionID, text string, meta Meta) error {
	if text == "" {
		return fmt.Errorf("instruction text is required")
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	ins := &bus.Instruction{
		SessionID: sessionID,
		Text:      text,
		Profile:   meta.Profile,
		Provider:  meta.Provider,
		AgentID:   meta.AgentID,
		Group:     meta.Group,
		Sandboxed: meta.Sandboxed,
		Subagent:  meta.Subagent,
		Actor:     meta.Actor,
		TraceID:   meta.TraceID,
		Timestamp: time.Now(),
	}
	sess, ok := c.loop.Claim(ins)
	if !ok {
		return fmt.Errorf("session %s is busy (%s)", sessionID, sess.GetStatus())
	}
	if err := c.pools.Agent.Submit(ctx, func() {
		c.loop.RunClaimed(context.Background(), sess, ins)
	}); err != nil {
		sess.Release()
		return err
	}
	return nil
}

// AbortSession raises the cooperative cancel flag for a session.
func (c *Control) AbortSession(sessionID string) error {
	if !c.sessions.Abort(sessionID) {
		return fmt.Errorf("no live session %s", sessionID)
	}
	slog.Info("Session abort requested", "session", sessionID)
	return nil
}

// TriggerPlaybook starts a playbook run on the playbook pool and returns
// its execution id. The run proceeds asynchronously.
func (c *Control) TriggerPlaybook(ctx context.Context, playbookID, incidentID string, vars map[string]string, dryRun bool) (string, error) {
	pb, ok := c.library.Get(playbookID)
	if !ok {
		return "", fmt.Errorf("playbook not found: %s", playbookID)
	}
	executionID := uuid.NewString()

	err := c.pools.Playbook.Submit(ctx, func() {
		exec := c.executor.ExecuteWithID(context.Background(), executionID, pb, incidentID, vars, dryRun)
		if c.bus != nil {
			c.bus.PublishEvent(&bus.Event{
				Kind:    bus.EventExecutionUpdate,
				Origin:  exec.ID,
				Content: fmt.Sprintf("playbook %s finished %s", pb.ID, exec.Status),
			})
		}
	})
	if err != nil {
		return "", err
	}
	return executionID, nil
}

// RespondApproval resolves a pending approval request.
func (c *Control) RespondApproval(requestID string, approve bool, responder, reason string) error {
	if approve {
		return c.gate.Approve(requestID, responder)
	}
	return c.gate.Deny(requestID, responder, reason)
}

// PendingApprovals returns the requests awaiting resolution.
func (c *Control) PendingApprovals() []*approval.Request {
	return c.gate.Pending()
}

// SubmitIncident routes a monitoring event to its configured response on
// the monitor pool: a playbook trigger or a reasoning instruction.
// Unrouted incidents start a diagnosis session.
func (c *Control) SubmitIncident(ctx context.Context, inc Incident) error {
	if inc.ID == "" {
		inc.ID = uuid.NewString()
	}
	route, routed := c.routes[inc.Kind]

	return c.pools.Monitor.Submit(ctx, func() {
		switch {
		case routed && route.Playbook != "":
			vars := map[string]string{"incident": inc.ID, "summary": inc.Summary}
			for k, v := range inc.Labels {
				vars[k] = v
			}
			if _, err := c.TriggerPlaybook(context.Background(), route.Playbook, inc.ID, vars, route.DryRun); err != nil {
				slog.Warn("Incident playbook trigger failed", "incident", inc.ID, "error", err)
			}
		case routed && route.Instruction != "":
			text := fmt.Sprintf("%s\n\nIncident %s from %s (%s): %s", route.Instruction, inc.ID, inc.Source, inc.Severity, inc.Summary)
			c.submitIncidentSession(inc, text)
		default:
			text := fmt.Sprintf("Diagnose incident %s from %s (%s): %s", inc.ID, inc.Source, inc.Severity, inc.Summary)
			c.submitIncidentSession(inc, text)
		}
	})
}

func (c *Control) submitIncidentSession(inc Incident, text string) {
	ins := &bus.Instruction{
		SessionID: "incident-" + inc.ID,
		Text:      text,
		Actor:     "monitor:" + inc.Source,
		TraceID:   inc.ID,
		Timestamp: time.Now(),
	}
	if err := c.pools.Agent.Submit(context.Background(), func() {
		c.loop.HandleInstruction(context.Background(), ins)
	}); err != nil {
		slog.Warn("Incident session submit failed", "incident", inc.ID, "error", err)
	}
}

// ReloadPolicy rebuilds the policy snapshot from configuration and swaps
// it in atomically. An invalid configuration leaves the live snapshot
// untouched and returns the validation error.
func (c *Control) ReloadPolicy() error {
	if c.loadPolicy == nil {
		return fmt.Errorf("policy reload is not configured")
	}
	cfg, err := c.loadPolicy()
	if err != nil {
		return fmt.Errorf("failed to load policy config: %w", err)
	}
	snap, err := policy.BuildSnapshot(cfg, c.registry.Snapshot())
	if err != nil {
		return fmt.Errorf("policy config rejected: %w", err)
	}
	c.engine.Swap(snap)
	slog.Info("Policy snapshot reloaded", "profiles", len(cfg.Profiles))
	return nil
}
