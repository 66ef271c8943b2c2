package cli

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/remedian/remedian/internal/agent"
	"github.com/remedian/remedian/internal/approval"
	"github.com/remedian/remedian/internal/bus"
	"github.com/remedian/remedian/internal/config"
	"github.com/remedian/remedian/internal/control"
	"github.com/remedian/remedian/internal/learning"
	"github.com/remedian/remedian/internal/playbook"
	"github.com/remedian/remedian/internal/policy"
	"github.com/remedian/remedian/internal/provider"
	"github.com/remedian/remedian/internal/scheduler"
	"github.com/remedian/remedian/internal/session"
	"github.com/remedian/remedian/internal/store"
	"github.com/remedian/remedian/internal/tools"
)

// runtime holds the wired core for one command invocation.
type runtime struct {
	cfg      *config.Config
	store    *store.Store
	registry *tools.Registry
	engine   *policy.Engine
	trail    *policy.Trail
	gate     *approval.Gate
	recorder *learning.Recorder
	sessions *session.Manager
	bus      *bus.Bus
	pools    *scheduler.Pools
	library  *playbook.Library
	executor *playbook.Executor
	loop     *agent.Loop
	control  *control.Control
}

// newRuntime loads configuration and wires every component.
func newRuntime() (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := os.MkdirAll(cfg.Paths.Home, 0o755); err != nil {
		return nil, fmt.Errorf("state dir: %w", err)
	}

	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return nil, err
	}

	registry := buildRegistry(cfg)

	trail := policy.NewTrail(st, cfg.Kafka.Brokers, cfg.Kafka.AuditTopic)
	snap, err := policy.BuildSnapshot(cfg.Policy, registry.Snapshot())
	if err != nil {
		st.Close()
		trail.Close()
		return nil, fmt.Errorf("policy: %w", err)
	}
	engine := policy.NewEngine(snap, trail)

	gate := approval.NewGate(st, cfg.Approval.TTL(), cfg.Approval.SweepInterval())
	expireStaleApprovals(st)

	recorder := learning.NewRecorder(st, cfg.Kafka.Brokers, cfg.Kafka.LearningTopic)
	sessions := session.NewManager(st)
	b := bus.New()
	pools := scheduler.NewPools(cfg.Pools.Agent, cfg.Pools.Monitor, cfg.Pools.Playbook)

	prov := provider.NewOpenAIProvider(cfg.OpenAI.APIKey, cfg.OpenAI.APIBase, cfg.Model.Name, cfg.OpenAI.MaxAttempts)

	library := playbook.NewLibrary()
	if err := library.LoadDir(cfg.PlaybookDir()); err != nil {
		slog.Warn("Playbook load failed", "dir", cfg.PlaybookDir(), "error", err)
	}
	executor := playbook.NewExecutor(registry, engine, gate, st, recorder, cfg.Policy.DefaultProfile, "")
	registry.Register(playbook.NewRunTool(library, executor))

	// Rebuild the snapshot so run_playbook is part of the registry view.
	snap, err = policy.BuildSnapshot(cfg.Policy, registry.Snapshot())
	if err != nil {
		st.Close()
		trail.Close()
		return nil, fmt.Errorf("policy: %w", err)
	}
	engine.Swap(snap)

	loop := agent.NewLoop(prov, registry, engine, gate, sessions, b, recorder, agent.Config{
		MaxIterations:      cfg.Model.MaxIterations,
		HistoryBudgetChars: cfg.Model.HistoryBudgetChars,
		KeepRecentMessages: cfg.Model.KeepRecentMessages,
		ToolTimeout:        time.Duration(cfg.Model.ToolTimeoutSeconds) * time.Second,
	})

	routes := make(map[string]control.IncidentRoute, len(cfg.Incidents))
	for kind, r := range cfg.Incidents {
		routes[kind] = control.IncidentRoute{Playbook: r.Playbook, Instruction: r.Instruction, DryRun: r.DryRun}
	}

	loadPolicy := func() (policy.Config, error) {
		fresh, err := config.Load()
		if err != nil {
			return policy.Config{}, err
		}
		return fresh.Policy, nil
	}
	ctl := control.New(loop, sessions, executor, library, gate, engine, registry, pools, b, loadPolicy, routes)

	return &runtime{
		cfg:      cfg,
		store:    st,
		registry: registry,
		engine:   engine,
		trail:    trail,
		gate:     gate,
		recorder: recorder,
		sessions: sessions,
		bus:      b,
		pools:    pools,
		library:  library,
		executor: executor,
		loop:     loop,
		control:  ctl,
	}, nil
}

func buildRegistry(cfg *config.Config) *tools.Registry {
	registry := tools.NewRegistry()
	registry.Register(tools.NewHealthCheckTool())
	registry.Register(tools.NewServiceRestartTool(60*time.Second, nil))
	registry.Register(tools.NewLogSearchTool(30 * time.Second))
	registry.Register(tools.NewMetricQueryTool())
	registry.Register(tools.NewDiskUsageTool())
	if cfg.Exec.Enabled {
		registry.Register(tools.NewExecTool(time.Duration(cfg.Exec.TimeoutSeconds) * time.Second))
	}
	return registry
}

// expireStaleApprovals sweeps approvals left pending by a previous process.
func expireStaleApprovals(st *store.Store) {
	ids, err := st.PendingApprovalIDs()
	if err != nil {
		slog.Warn("Stale approval sweep failed", "error", err)
		return
	}
	for _, id := range ids {
		if err := st.ExpireApproval(id); err != nil {
			slog.Warn("Stale approval expire failed", "id", id, "error", err)
		}
	}
	if len(ids) > 0 {
		slog.Info("Expired stale approvals from previous run", "count", len(ids))
	}
}

func (r *runtime) close() {
	r.pools.Wait()
	r.recorder.Close()
	r.trail.Close()
	r.store.Close()
}
