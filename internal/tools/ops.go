package tools

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

// HealthCheckTool probes a service HTTP endpoint and reports status.
type HealthCheckTool struct {
	Client *http.Client
}

func NewHealthCheckTool() *HealthCheckTool {
	return &HealthCheckTool{Client: &http.Client{Timeout: 10 * time.Second}}
}

func (t *HealthCheckTool) Name() string { return "health_check" }

func (t *HealthCheckTool) Descriptor() Descriptor {
	return Descriptor{
		Name:        t.Name(),
		Category:    CategoryDiagnostic,
		Description: "Probe a service health endpoint over HTTP and report status code and latency.",
		Mutating:    false,
		Enabled:     true,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url": map[string]any{
					"type":        "string",
					"description": "Health endpoint URL, e.g. http://payments:8080/healthz",
				},
			},
			"required": []string{"url"},
		},
		Constraints: Constraints{MaxResultChars: 4096},
	}
}

func (t *HealthCheckTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	url := GetString(params, "url", "")
	if url == "" {
		return "Error: url is required", nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Sprintf("Error: invalid url: %v", err), nil
	}

	start := time.Now()
	resp, err := t.Client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return fmt.Sprintf("UNREACHABLE %s after %dms: %v", url, latency.Milliseconds(), err), nil
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	status := "HEALTHY"
	if resp.StatusCode >= 400 {
		status = "UNHEALTHY"
	}
	return fmt.Sprintf("%s %s status=%d latency=%dms body=%s",
		status, url, resp.StatusCode, latency.Milliseconds(), strings.TrimSpace(string(body))), nil
}

// ServiceRestartTool restarts a managed service via systemctl.
type ServiceRestartTool struct {
	Timeout time.Duration
	// AllowedUnits restricts restartable units. Empty means any unit.
	AllowedUnits []string
}

func NewServiceRestartTool(timeout time.Duration, allowedUnits []string) *ServiceRestartTool {
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &ServiceRestartTool{Timeout: timeout, AllowedUnits: allowedUnits}
}

func (t *ServiceRestartTool) Name() string { return "service_restart" }

func (t *ServiceRestartTool) Descriptor() Descriptor {
	return Descriptor{
		Name:        t.Name(),
		Category:    CategoryRemediation,
		Description: "Restart a systemd service unit. Use only after diagnosing the failure.",
		Mutating:    true,
		Enabled:     true,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"unit": map[string]any{
					"type":        "string",
					"description": "Service unit name, e.g. payments.service",
				},
			},
			"required": []string{"unit"},
		},
		Constraints: Constraints{MaxTimeout: 2 * time.Minute, MaxResultChars: 4096},
	}
}

var unitNameRe = regexp.MustCompile(`^[A-Za-z0-9@._-]+$`)

func (t *ServiceRestartTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	unit := GetString(params, "unit", "")
	if unit == "" {
		return "Error: unit is required", nil
	}
	if !unitNameRe.MatchString(unit) {
		return fmt.Sprintf("Error: invalid unit name: %s", unit), nil
	}
	if len(t.AllowedUnits) > 0 {
		allowed := false
		for _, u := range t.AllowedUnits {
			if u == unit {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Sprintf("Error: unit not in restart allowlist: %s", unit), nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	out, err := runCommand(ctx, "systemctl", "restart", unit)
	if err != nil {
		return fmt.Sprintf("Error restarting %s: %v\n%s", unit, err, out), nil
	}
	status, _ := runCommand(ctx, "systemctl", "is-active", unit)
	return fmt.Sprintf("restarted %s, state=%s", unit, strings.TrimSpace(status)), nil
}

// LogSearchTool greps recent service logs via journalctl.
type LogSearchTool struct {
	Timeout  time.Duration
	MaxLines int
}

func NewLogSearchTool(timeout time.Duration) *LogSearchTool {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &LogSearchTool{Timeout: timeout, MaxLines: 200}
}

func (t *LogSearchTool) Name() string { return "log_search" }

func (t *LogSearchTool) Descriptor() Descriptor {
	return Descriptor{
		Name:        t.Name(),
		Category:    CategoryDiagnostic,
		Description: "Search recent journal logs of a service unit for a pattern.",
		Mutating:    false,
		Enabled:     true,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"unit": map[string]any{
					"type":        "string",
					"description": "Service unit name",
				},
				"pattern": map[string]any{
					"type":        "string",
					"description": "Grep pattern to filter log lines",
				},
				"since": map[string]any{
					"type":        "string",
					"description": "Time window, e.g. '30 min ago' (default '1 hour ago')",
				},
			},
			"required": []string{"unit"},
		},
		Constraints: Constraints{MaxResultChars: 16384},
	}
}

func (t *LogSearchTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	unit := GetString(params, "unit", "")
	if unit == "" {
		return "Error: unit is required", nil
	}
	if !unitNameRe.MatchString(unit) {
		return fmt.Sprintf("Error: invalid unit name: %s", unit), nil
	}
	since := GetString(params, "since", "1 hour ago")
	pattern := GetString(params, "pattern", "")

	ctx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	args := []string{"-u", unit, "--since", since, "--no-pager", "-n", fmt.Sprintf("%d", t.MaxLines)}
	if pattern != "" {
		args = append(args, "-g", pattern)
	}
	out, err := runCommand(ctx, "journalctl", args...)
	if err != nil {
		return fmt.Sprintf("Error searching logs for %s: %v", unit, err), nil
	}
	if strings.TrimSpace(out) == "" {
		return "(no matching log lines)", nil
	}
	return out, nil
}

// MetricQueryTool fetches a metrics endpoint and extracts matching series.
type MetricQueryTool struct {
	Client *http.Client
}

func NewMetricQueryTool() *MetricQueryTool {
	return &MetricQueryTool{Client: &http.Client{Timeout: 15 * time.Second}}
}

func (t *MetricQueryTool) Name() string { return "metric_query" }

func (t *MetricQueryTool) Descriptor() Descriptor {
	return Descriptor{
		Name:        t.Name(),
		Category:    CategoryDiagnostic,
		Description: "Fetch a Prometheus-style metrics endpoint and return lines matching a metric name prefix.",
		Mutating:    false,
		Enabled:     true,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url": map[string]any{
					"type":        "string",
					"description": "Metrics endpoint URL, e.g. http://payments:9100/metrics",
				},
				"metric": map[string]any{
					"type":        "string",
					"description": "Metric name prefix to filter on",
				},
			},
			"required": []string{"url", "metric"},
		},
		Constraints: Constraints{MaxResultChars: 16384},
	}
}

func (t *MetricQueryTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	url := GetString(params, "url", "")
	metric := GetString(params, "metric", "")
	if url == "" || metric == "" {
		return "Error: url and metric are required", nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Sprintf("Error: invalid url: %v", err), nil
	}
	resp, err := t.Client.Do(req)
	if err != nil {
		return fmt.Sprintf("Error fetching metrics: %v", err), nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Sprintf("Error: metrics endpoint returned status %d", resp.StatusCode), nil
	}

	var sb strings.Builder
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	for _, line := range strings.Split(string(body), "\n") {
		if strings.HasPrefix(line, metric) {
			sb.WriteString(line)
			sb.WriteString("\n")
		}
	}
	if sb.Len() == 0 {
		return fmt.Sprintf("(no series matching %q)", metric), nil
	}
	return sb.String(), nil
}

// DiskUsageTool reports filesystem usage on the target host.
type DiskUsageTool struct {
	Timeout time.Duration
}

func NewDiskUsageTool() *DiskUsageTool {
	return &DiskUsageTool{Timeout: 15 * time.Second}
}

func (t *DiskUsageTool) Name() string { return "disk_usage" }

func (t *DiskUsageTool) Descriptor() Descriptor {
	return Descriptor{
		Name:        t.Name(),
		Category:    CategoryDiagnostic,
		Description: "Report filesystem usage (df -h), optionally for one mount point.",
		Mutating:    false,
		Enabled:     true,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Optional mount point or path",
				},
			},
		},
		Constraints: Constraints{MaxResultChars: 8192},
	}
}

func (t *DiskUsageTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	args := []string{"-h"}
	if path := GetString(params, "path", ""); path != "" {
		args = append(args, path)
	}
	out, err := runCommand(ctx, "df", args...)
	if err != nil {
		return fmt.Sprintf("Error: %v", err), nil
	}
	return out, nil
}

func runCommand(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	out := stdout.String()
	if stderr.Len() > 0 {
		if out != "" {
			out += "\n"
		}
		out += "STDERR:\n" + stderr.String()
	}
	if ctx.Err() == context.DeadlineExceeded {
		return out, fmt.Errorf("command timed out")
	}
	return out, err
}
