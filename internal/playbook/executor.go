package playbook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/remedian/remedian/internal/approval"
	"github.com/remedian/remedian/internal/learning"
	"github.com/remedian/remedian/internal/policy"
	"github.com/remedian/remedian/internal/tools"
)

// Execution statuses.
const (
	StatusPending         = "PENDING"
	StatusRunning         = "RUNNING"
	StatusWaitingApproval = "WAITING_APPROVAL"
	StatusSuccess         = "SUCCESS"
	StatusFailed          = "FAILED"
	StatusTimedOut        = "TIMED_OUT"
)

// Step result statuses.
const (
	StepExecuted = "executed"
	StepSkipped  = "skipped"
	StepDenied   = "denied"
	StepFailed   = "failed"
	StepDryRun   = "dry_run"
)

// StepResult records the outcome of one step.
type StepResult struct {
	Index    int    `json:"index"`
	Name     string `json:"name"`
	Tool     string `json:"tool"`
	Status   string `json:"status"`
	Output   string `json:"output,omitempty"`
	Error    string `json:"error,omitempty"`
	Attempts int    `json:"attempts,omitempty"`
}

// ExecutionRecord is the persisted shape of one run.
type ExecutionRecord struct {
	ExecutionID string
	PlaybookID  string
	IncidentID  string
	DryRun      bool
	Status      string
	StepIndex   int
	StepsJSON   string
	Error       string
	StartedAt   time.Time
	FinishedAt  time.Time
}

// ExecutionStore persists execution records. Writes are best-effort.
type ExecutionStore interface {
	InsertExecution(rec *ExecutionRecord) error
	UpdateExecution(rec *ExecutionRecord) error
}

// Execution is the in-memory state of one run.
type Execution struct {
	ID         string
	Playbook   *Playbook
	IncidentID string
	DryRun     bool
	Status     string
	StepIndex  int
	Steps      []StepResult
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

func (e *Execution) record() *ExecutionRecord {
	stepsJSON, _ := json.Marshal(e.Steps)
	return &ExecutionRecord{
		ExecutionID: e.ID,
		PlaybookID:  e.Playbook.ID,
		IncidentID:  e.IncidentID,
		DryRun:      e.DryRun,
		Status:      e.Status,
		StepIndex:   e.StepIndex,
		StepsJSON:   string(stepsJSON),
		Error:       e.Error,
		StartedAt:   e.StartedAt,
		FinishedAt:  e.FinishedAt,
	}
}

// Executor runs playbooks step by step under the policy gate.
type Executor struct {
	registry *tools.Registry
	engine   *policy.Engine
	gate     *approval.Gate
	store    ExecutionStore
	recorder *learning.Recorder
	// meta used for policy evaluation of playbook steps.
	profile string
	agentID string
}

// NewExecutor wires a playbook executor. store and recorder may be nil.
func NewExecutor(registry *tools.Registry, engine *policy.Engine, gate *approval.Gate, store ExecutionStore, recorder *learning.Recorder, profile, agentID string) *Executor {
	return &Executor{
		registry: registry,
		engine:   engine,
		gate:     gate,
		store:    store,
		recorder: recorder,
		profile:  profile,
		agentID:  agentID,
	}
}

// Execute runs pb to a terminal status. It blocks; callers submit it to
// the playbook pool. vars overlay the playbook's declared variables.
func (x *Executor) Execute(ctx context.Context, pb *Playbook, incidentID string, vars map[string]string, dryRun bool) *Execution {
	return x.ExecuteWithID(ctx, uuid.NewString(), pb, incidentID, vars, dryRun)
}

// ExecuteWithID runs with a caller-assigned execution id, so async
// triggers can hand the id back before the run starts.
func (x *Executor) ExecuteWithID(ctx context.Context, id string, pb *Playbook, incidentID string, vars map[string]string, dryRun bool) *Execution {
	exec := &Execution{
		ID:         id,
		Playbook:   pb,
		IncidentID: incidentID,
		DryRun:     dryRun,
		Status:     StatusRunning,
		StartedAt:  time.Now(),
	}
	if x.store != nil {
		if err := x.store.InsertExecution(exec.record()); err != nil {
			slog.Warn("Execution persist failed", "execution", exec.ID, "error", err)
		}
	}
	slog.Info("Playbook execution started", "execution", exec.ID, "playbook", pb.ID, "version", pb.Version, "dry_run", dryRun)

	merged := make(map[string]string, len(pb.Variables)+len(vars))
	for k, v := range pb.Variables {
		merged[k] = v
	}
	for k, v := range vars {
		merged[k] = v
	}

	runCtx, cancel := context.WithTimeout(ctx, pb.ExecutionTimeout())
	defer cancel()

	x.runSteps(runCtx, exec, merged)

	exec.FinishedAt = time.Now()
	x.persist(exec)
	if x.recorder != nil {
		x.recorder.Finish(exec.ID, exec.Status == StatusSuccess)
	}
	slog.Info("Playbook execution finished", "execution", exec.ID, "status", exec.Status)
	return exec
}

// runSteps walks the steps in strictly increasing index order. Every step
// is visited exactly once; on-failure policies decide whether a failure
// stops the run.
func (x *Executor) runSteps(ctx context.Context, exec *Execution, vars map[string]string) {
	outputs := make(map[string]string)

	for i, step := range exec.Playbook.Steps {
		if err := ctx.Err(); err != nil {
			x.timeOut(exec, err)
			return
		}
		exec.StepIndex = i
		x.persist(exec)

		params := substituteParams(step.Parameters, vars, outputs)

		if !evalCondition(step.Condition, vars, outputs) {
			exec.Steps = append(exec.Steps, StepResult{Index: i, Name: step.Name, Tool: step.Tool, Status: StepSkipped})
			continue
		}

		result := x.runStep(ctx, exec, i, step, params)
		exec.Steps = append(exec.Steps, result)
		outputs[step.Name] = result.Output

		if result.Status == StepDenied || result.Status == StepFailed {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				x.timeOut(exec, ctx.Err())
				return
			}
			onFailure := step.OnFailure
			if onFailure == "" {
				onFailure = FailureAbort
			}
			if onFailure != FailureContinue {
				// Retry was already consumed inside runStep; what is left
				// of retry is abort.
				exec.Status = StatusFailed
				exec.Error = fmt.Sprintf("step %q: %s", step.Name, result.Error)
				return
			}
			slog.Info("Step failed, continuing", "execution", exec.ID, "step", step.Name, "error", result.Error)
		}
	}

	// Failures absorbed by continue still terminate the run as SUCCESS;
	// they stay visible in the per-step results.
	exec.Status = StatusSuccess
}

// runStep gates and executes a single step, honoring retry.
func (x *Executor) runStep(ctx context.Context, exec *Execution, index int, step Step, params map[string]any) StepResult {
	res := StepResult{Index: index, Name: step.Name, Tool: step.Tool}

	decision := x.engine.Evaluate(policy.Context{
		Tool:       step.Tool,
		Arguments:  params,
		Profile:    x.profile,
		AgentID:    x.agentID,
		Actor:      "playbook:" + exec.Playbook.ID,
		Origin:     exec.ID,
		OriginKind: approval.OriginExecution,
	})

	switch decision.Outcome {
	case policy.Deny:
		res.Status = StepDenied
		res.Error = decision.Reason
		x.observe(exec.ID, step.Tool, params, "denied", decision.Reason, 0)
		return res

	case policy.RequireApproval:
		resolution, err := x.awaitApproval(ctx, exec, step, params, decision)
		if err != nil {
			res.Status = StepFailed
			res.Error = fmt.Sprintf("approval wait aborted: %v", err)
			return res
		}
		if !resolution.Approved {
			reason := resolution.Reason
			if resolution.Expired {
				reason = "approval expired"
			}
			res.Status = StepDenied
			res.Error = reason
			x.observe(exec.ID, step.Tool, params, "denied", reason, 0)
			return res
		}
		// The run may have been cancelled or timed out while parked on the
		// gate; a late approval must not start the step anyway.
		if err := ctx.Err(); err != nil {
			res.Status = StepFailed
			res.Error = err.Error()
			return res
		}
	}

	if exec.DryRun {
		res.Status = StepDryRun
		res.Output = fmt.Sprintf("[dry-run] %s would execute", step.Tool)
		return res
	}

	attempts := 1
	if step.OnFailure == FailureRetry && step.MaxRetries > 0 {
		attempts += step.MaxRetries
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		res.Attempts = attempt
		start := time.Now()
		output, err := x.executeOnce(ctx, step, params)
		elapsed := time.Since(start)
		if err == nil {
			res.Status = StepExecuted
			res.Output = output
			x.observe(exec.ID, step.Tool, params, "ok", "", elapsed)
			return res
		}
		lastErr = err
		x.observe(exec.ID, step.Tool, params, "error", err.Error(), elapsed)
		slog.Warn("Step attempt failed", "execution", exec.ID, "step", step.Name, "attempt", attempt, "error", err)

		if attempt < attempts {
			select {
			case <-time.After(step.RetryDelay()):
			case <-ctx.Done():
				res.Status = StepFailed
				res.Error = ctx.Err().Error()
				return res
			}
		}
	}

	res.Status = StepFailed
	res.Error = lastErr.Error()
	return res
}

func (x *Executor) executeOnce(ctx context.Context, step Step, params map[string]any) (string, error) {
	stepCtx, cancel := context.WithTimeout(ctx, step.StepTimeout())
	defer cancel()
	return x.registry.Execute(stepCtx, step.Tool, params)
}

// awaitApproval persists the suspension point and blocks on the gate.
func (x *Executor) awaitApproval(ctx context.Context, exec *Execution, step Step, params map[string]any, decision policy.Decision) (approval.Resolution, error) {
	req := &approval.Request{
		Tool:       step.Tool,
		Arguments:  params,
		Origin:     exec.ID,
		OriginKind: approval.OriginExecution,
		Reason:     decision.Reason,
	}
	id := x.gate.Create(req)

	exec.Status = StatusWaitingApproval
	x.persist(exec)

	resolution, err := x.gate.Wait(ctx, id)
	exec.Status = StatusRunning
	x.persist(exec)
	return resolution, err
}

func (x *Executor) timeOut(exec *Execution, err error) {
	exec.Status = StatusTimedOut
	exec.Error = err.Error()
}

func (x *Executor) persist(exec *Execution) {
	if x.store == nil {
		return
	}
	if err := x.store.UpdateExecution(exec.record()); err != nil {
		slog.Warn("Execution persist failed", "execution", exec.ID, "error", err)
	}
}

func (x *Executor) observe(executionID, tool string, params map[string]any, outcome, errText string, d time.Duration) {
	if x.recorder == nil {
		return
	}
	x.recorder.Observe(executionID, approval.OriginExecution, learning.SequenceEntry{
		Tool:      tool,
		Arguments: params,
		Outcome:   outcome,
		Error:     errText,
		Duration:  d,
	})
}
