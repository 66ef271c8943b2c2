// Package agent implements the reasoning loop: provider completions,
// policy-gated tool execution, and session lifecycle.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/remedian/remedian/internal/approval"
	"github.com/remedian/remedian/internal/bus"
	"github.com/remedian/remedian/internal/learning"
	"github.com/remedian/remedian/internal/policy"
	"github.com/remedian/remedian/internal/provider"
	"github.com/remedian/remedian/internal/session"
	"github.com/remedian/remedian/internal/tools"
)

// Config bounds one reasoning run.
type Config struct {
	// MaxIterations caps provider round-trips per instruction.
	MaxIterations int
	// HistoryBudgetChars triggers compaction when exceeded. Zero disables.
	HistoryBudgetChars int
	// KeepRecentMessages stay verbatim through compaction.
	KeepRecentMessages int
	// ToolTimeout bounds a single tool execution.
	ToolTimeout time.Duration
}

// DefaultConfig returns the loop defaults.
func DefaultConfig() Config {
	return Config{
		MaxIterations:      20,
		HistoryBudgetChars: 60000,
		KeepRecentMessages: 8,
		ToolTimeout:        60 * time.Second,
	}
}

// Loop drives reasoning sessions. One Loop serves all sessions; each
// session is processed by exactly one task at a time.
type Loop struct {
	provider provider.Provider
	registry *tools.Registry
	engine   *policy.Engine
	gate     *approval.Gate
	sessions *session.Manager
	bus      *bus.Bus
	recorder *learning.Recorder
	cfg      Config
}

// NewLoop wires the reasoning loop. recorder may be nil.
func NewLoop(p provider.Provider, registry *tools.Registry, engine *policy.Engine, gate *approval.Gate, sessions *session.Manager, b *bus.Bus, recorder *learning.Recorder, cfg Config) *Loop {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultConfig().MaxIterations
	}
	if cfg.KeepRecentMessages <= 0 {
		cfg.KeepRecentMessages = DefaultConfig().KeepRecentMessages
	}
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = DefaultConfig().ToolTimeout
	}
	return &Loop{
		provider: p,
		registry: registry,
		engine:   engine,
		gate:     gate,
		sessions: sessions,
		bus:      b,
		recorder: recorder,
		cfg:      cfg,
	}
}

// HandleInstruction admits one instruction and runs the reasoning loop
// until the session reaches a terminal state. It is the unit of work
// submitted to the agent pool. An instruction for a session another task
// is already processing is rejected.
func (l *Loop) HandleInstruction(ctx context.Context, ins *bus.Instruction) {
	sess, ok := l.Claim(ins)
	if !ok {
		slog.Warn("Instruction rejected, session busy", "session", ins.SessionID, "status", sess.GetStatus())
		l.publish(bus.EventSessionUpdate, ins.SessionID, ins.TraceID, "instruction rejected: session busy")
		return
	}
	l.RunClaimed(ctx, sess, ins)
}

// Claim admits an instruction: it creates or fetches the session and takes
// exclusive processing ownership in one step, so two submissions for the
// same id can never both be admitted. Callers that claim must hand the
// session to RunClaimed (which releases it) or call Release themselves.
func (l *Loop) Claim(ins *bus.Instruction) (*session.Session, bool) {
	profile := ins.Profile
	if profile == "" {
		profile = l.engine.Current().Config.DefaultProfile
	}
	return l.sessions.Claim(ins.SessionID, profile)
}

// RunClaimed runs the reasoning loop for a session claimed via Claim.
func (l *Loop) RunClaimed(ctx context.Context, sess *session.Session, ins *bus.Instruction) {
	defer sess.Release()

	sess.Provider = ins.Provider
	sess.AgentID = ins.AgentID
	sess.Group = ins.Group
	sess.Sandboxed = ins.Sandboxed
	sess.Subagent = ins.Subagent
	if sess.Instruction == "" {
		sess.Instruction = ins.Text
	}
	sess.SetStatus(session.StatusRunning)
	sess.Append(provider.Message{Role: "user", Content: ins.Text})

	slog.Info("Instruction accepted", "session", sess.ID, "profile", sess.Profile, "trace", ins.TraceID)
	l.run(ctx, sess, ins)
	l.finish(sess)
}

func (l *Loop) run(ctx context.Context, sess *session.Session, ins *bus.Instruction) {
	for iter := 0; iter < l.cfg.MaxIterations; iter++ {
		if sess.Aborted() {
			sess.SetStatus(session.StatusAborted)
			return
		}
		sess.Iterations++

		if err := compactHistory(ctx, l.provider, sess, l.cfg.HistoryBudgetChars, l.cfg.KeepRecentMessages); err != nil {
			// Compaction failure is not fatal; the next completion may
			// still fit.
			slog.Warn("Compaction failed", "session", sess.ID, "error", err)
		}

		messages := append([]provider.Message{
			{Role: "system", Content: buildSystemPrompt(sess.Profile)},
		}, sess.Messages()...)

		resp, err := l.provider.Complete(ctx, &provider.CompletionRequest{
			Messages: messages,
			Tools:    toolDefinitions(l.registry, sess.Profile),
		})
		if err != nil {
			sess.Error = fmt.Sprintf("provider failed after retries: %v", err)
			sess.SetStatus(session.StatusFailed)
			return
		}

		if len(resp.ToolCalls) == 0 {
			sess.Append(provider.Message{Role: "assistant", Content: resp.Content})
			l.publish(bus.EventResponse, sess.ID, ins.TraceID, resp.Content)
			sess.SetStatus(session.StatusCompleted)
			return
		}

		sess.Append(provider.Message{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls})

		// Calls execute one at a time, in the order the model issued them.
		// A session never has two tool executions in flight.
		for _, call := range resp.ToolCalls {
			if sess.Aborted() {
				sess.SetStatus(session.StatusAborted)
				return
			}
			result := l.runToolCall(ctx, sess, ins, call)
			sess.Append(provider.Message{Role: "tool", Content: result, ToolCallID: call.ID})
		}
	}

	sess.Error = fmt.Sprintf("iteration budget exhausted after %d iterations", sess.Iterations)
	sess.SetStatus(session.StatusFailed)
}

// runToolCall gates one call through policy (and the approval gate when
// flagged) and executes it. Every outcome is returned as a tool result
// string; nothing here is fatal to the session except abort.
func (l *Loop) runToolCall(ctx context.Context, sess *session.Session, ins *bus.Instruction, call provider.ToolCall) string {
	decision := l.engine.Evaluate(policy.Context{
		Tool:       call.Name,
		Arguments:  call.Arguments,
		Profile:    sess.Profile,
		Provider:   sess.Provider,
		AgentID:    sess.AgentID,
		Group:      sess.Group,
		Sandboxed:  sess.Sandboxed,
		Subagent:   sess.Subagent,
		Actor:      ins.Actor,
		Origin:     sess.ID,
		OriginKind: approval.OriginSession,
		TraceID:    ins.TraceID,
	})

	switch decision.Outcome {
	case policy.Deny:
		slog.Info("Tool denied", "session", sess.ID, "tool", call.Name, "layer", decision.Layer)
		l.observe(sess.ID, call, "denied", decision.Reason, 0)
		return fmt.Sprintf("Denied by policy (%s): %s. Do not retry this action.", decision.Layer, decision.Reason)

	case policy.RequireApproval:
		res, err := l.awaitApproval(ctx, sess, ins, call, decision)
		if err != nil {
			return fmt.Sprintf("Approval wait aborted: %v", err)
		}
		if !res.Approved {
			reason := res.Reason
			if res.Expired {
				reason = "approval expired"
			}
			l.observe(sess.ID, call, "denied", reason, 0)
			return fmt.Sprintf("Denied by operator: %s. Do not retry this action.", reason)
		}
		// An abort raised while the session was parked on the gate must win
		// over a late approval: no further tool call is issued.
		if sess.Aborted() {
			l.observe(sess.ID, call, "aborted", "session aborted while awaiting approval", 0)
			return "Aborted: session cancelled while awaiting approval."
		}
	}

	return l.execute(ctx, sess, call)
}

// awaitApproval suspends the session on the gate until an operator
// responds or the request expires.
func (l *Loop) awaitApproval(ctx context.Context, sess *session.Session, ins *bus.Instruction, call provider.ToolCall, decision policy.Decision) (approval.Resolution, error) {
	req := &approval.Request{
		Tool:       call.Name,
		Arguments:  call.Arguments,
		Origin:     sess.ID,
		OriginKind: approval.OriginSession,
		Reason:     decision.Reason,
	}
	id := l.gate.Create(req)

	sess.SetStatus(session.StatusWaitingApproval)
	argsJSON, _ := json.Marshal(call.Arguments)
	l.publish(bus.EventApprovalPrompt, sess.ID, ins.TraceID,
		fmt.Sprintf("Approval %s required: %s %s (%s)", id, call.Name, argsJSON, decision.Reason))

	// An abort must unblock the wait; the gate only knows contexts, so the
	// session's abort signal is bridged into one.
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-sess.AbortSignal():
			cancel()
		case <-waitCtx.Done():
		}
	}()

	res, err := l.gate.Wait(waitCtx, id)
	sess.SetStatus(session.StatusRunning)
	return res, err
}

func (l *Loop) execute(ctx context.Context, sess *session.Session, call provider.ToolCall) string {
	execCtx, cancel := context.WithTimeout(ctx, l.cfg.ToolTimeout)
	defer cancel()

	start := time.Now()
	result, err := l.registry.Execute(execCtx, call.Name, call.Arguments)
	elapsed := time.Since(start)
	if err != nil {
		slog.Warn("Tool failed", "session", sess.ID, "tool", call.Name, "error", err)
		l.observe(sess.ID, call, "error", err.Error(), elapsed)
		return fmt.Sprintf("Error: %v", err)
	}
	slog.Debug("Tool executed", "session", sess.ID, "tool", call.Name, "duration", elapsed)
	l.observe(sess.ID, call, "ok", "", elapsed)
	return result
}

func (l *Loop) observe(sessionID string, call provider.ToolCall, outcome, errText string, d time.Duration) {
	if l.recorder == nil {
		return
	}
	l.recorder.Observe(sessionID, approval.OriginSession, learning.SequenceEntry{
		Tool:      call.Name,
		Arguments: call.Arguments,
		Outcome:   outcome,
		Error:     errText,
		Duration:  d,
	})
}

// finish archives the terminal session and flushes its learning sequence.
func (l *Loop) finish(sess *session.Session) {
	status := sess.GetStatus()
	slog.Info("Session finished", "session", sess.ID, "status", status, "iterations", sess.Iterations)
	if l.recorder != nil {
		l.recorder.Finish(sess.ID, status == session.StatusCompleted)
	}
	l.publish(bus.EventSessionUpdate, sess.ID, "", status)
	l.sessions.Archive(sess)
}

func (l *Loop) publish(kind, origin, traceID, content string) {
	if l.bus == nil {
		return
	}
	l.bus.PublishEvent(&bus.Event{Kind: kind, Origin: origin, TraceID: traceID, Content: content})
}
