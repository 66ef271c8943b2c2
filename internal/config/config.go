// Package config holds the Remedian configuration: file-backed with
// environment overrides.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/remedian/remedian/internal/policy"
)

// PathsConfig groups filesystem locations.
type PathsConfig struct {
	// Home is the Remedian state directory. No envconfig alt name: the
	// bare HOME variable must not leak into it.
	Home string `json:"home"`
	// DatabasePath is the sqlite database file. Empty derives from Home.
	DatabasePath string `json:"databasePath" envconfig:"DATABASE_PATH"`
	// PlaybookDir holds the playbook JSON documents. Empty derives from Home.
	PlaybookDir string `json:"playbookDir" envconfig:"PLAYBOOK_DIR"`
}

// ModelConfig groups reasoning loop parameters.
type ModelConfig struct {
	Name               string  `json:"name" envconfig:"NAME"`
	MaxTokens          int     `json:"maxTokens" envconfig:"MAX_TOKENS"`
	Temperature        float64 `json:"temperature" envconfig:"TEMPERATURE"`
	MaxIterations      int     `json:"maxIterations" envconfig:"MAX_ITERATIONS"`
	HistoryBudgetChars int     `json:"historyBudgetChars" envconfig:"HISTORY_BUDGET_CHARS"`
	KeepRecentMessages int     `json:"keepRecentMessages" envconfig:"KEEP_RECENT_MESSAGES"`
	ToolTimeoutSeconds int     `json:"toolTimeoutSeconds" envconfig:"TOOL_TIMEOUT_SECONDS"`
}

// OpenAIConfig configures the OpenAI-compatible provider endpoint.
type OpenAIConfig struct {
	APIKey            string `json:"apiKey" envconfig:"API_KEY"`
	APIBase           string `json:"apiBase" envconfig:"API_BASE"`
	MaxAttempts       int    `json:"maxAttempts" envconfig:"MAX_ATTEMPTS"`
	RetryDelaySeconds int    `json:"retryDelaySeconds" envconfig:"RETRY_DELAY_SECONDS"`
}

// ApprovalConfig bounds the approval gate.
type ApprovalConfig struct {
	TTLMinutes   int `json:"ttlMinutes" envconfig:"TTL_MINUTES"`
	SweepSeconds int `json:"sweepSeconds" envconfig:"SWEEP_SECONDS"`
}

// TTL returns the request lifetime.
func (a ApprovalConfig) TTL() time.Duration {
	return time.Duration(a.TTLMinutes) * time.Minute
}

// SweepInterval returns the expiry sweep period.
func (a ApprovalConfig) SweepInterval() time.Duration {
	return time.Duration(a.SweepSeconds) * time.Second
}

// PoolsConfig sizes the three worker pools.
type PoolsConfig struct {
	Agent    int `json:"agent" envconfig:"AGENT"`
	Monitor  int `json:"monitor" envconfig:"MONITOR"`
	Playbook int `json:"playbook" envconfig:"PLAYBOOK"`
}

// KafkaConfig configures the optional event export sinks and the
// monitoring intake.
type KafkaConfig struct {
	Brokers        []string `json:"brokers" envconfig:"BROKERS"`
	AuditTopic     string   `json:"auditTopic" envconfig:"AUDIT_TOPIC"`
	LearningTopic  string   `json:"learningTopic" envconfig:"LEARNING_TOPIC"`
	IncidentTopics []string `json:"incidentTopics" envconfig:"INCIDENT_TOPICS"`
	ConsumerGroup  string   `json:"consumerGroup" envconfig:"CONSUMER_GROUP"`
}

// IncidentRoute maps an incident kind to its automated response.
type IncidentRoute struct {
	Playbook    string `json:"playbook,omitempty"`
	Instruction string `json:"instruction,omitempty"`
	DryRun      bool   `json:"dryRun,omitempty"`
}

// ExecConfig guards the shell tool.
type ExecConfig struct {
	Enabled        bool `json:"enabled" envconfig:"ENABLED"`
	TimeoutSeconds int  `json:"timeoutSeconds" envconfig:"TIMEOUT_SECONDS"`
}

// Config is the complete Remedian configuration.
type Config struct {
	Paths     PathsConfig              `json:"paths"`
	Model     ModelConfig              `json:"model"`
	OpenAI    OpenAIConfig             `json:"openai"`
	Approval  ApprovalConfig           `json:"approval"`
	Pools     PoolsConfig              `json:"pools"`
	Kafka     KafkaConfig              `json:"kafka"`
	Exec      ExecConfig               `json:"exec"`
	Policy    policy.Config            `json:"policy"`
	Incidents map[string]IncidentRoute `json:"incidents,omitempty"`
}

// DatabasePath returns the effective database path.
func (c *Config) DatabasePath() string {
	if c.Paths.DatabasePath != "" {
		return c.Paths.DatabasePath
	}
	return filepath.Join(c.Paths.Home, "remedian.db")
}

// PlaybookDir returns the effective playbook directory.
func (c *Config) PlaybookDir() string {
	if c.Paths.PlaybookDir != "" {
		return c.Paths.PlaybookDir
	}
	return filepath.Join(c.Paths.Home, "playbooks")
}

// DefaultConfig returns the configuration defaults. The default policy is
// conservative: diagnostics run freely, remediation and shell need an
// operator's sign-off.
func DefaultConfig() *Config {
	return &Config{
		Model: ModelConfig{
			Name:               "gpt-4o",
			MaxTokens:          4096,
			Temperature:        0.2,
			MaxIterations:      20,
			HistoryBudgetChars: 60000,
			KeepRecentMessages: 8,
			ToolTimeoutSeconds: 60,
		},
		OpenAI: OpenAIConfig{
			APIBase:           "https://api.openai.com/v1",
			MaxAttempts:       3,
			RetryDelaySeconds: 2,
		},
		Approval: ApprovalConfig{
			TTLMinutes:   10,
			SweepSeconds: 15,
		},
		Pools: PoolsConfig{
			Agent:    4,
			Monitor:  2,
			Playbook: 2,
		},
		Exec: ExecConfig{
			Enabled:        true,
			TimeoutSeconds: 60,
		},
		Policy: defaultPolicy(),
	}
}

// defaultPolicy lets diagnostics run freely and routes remediation and
// shell through the approval gate.
func defaultPolicy() policy.Config {
	return policy.Config{
		DefaultProfile: "ops",
		Profiles: map[string]policy.RuleSet{
			"ops": {
				Allow:   []string{"*"},
				Approve: []string{"category:remediation", "category:shell"},
			},
			"readonly": {
				Allow: []string{"category:diagnostic"},
				Deny:  []string{"category:remediation", "category:shell", "category:orchestrate"},
			},
		},
		Subagent: policy.RuleSet{
			Deny: []string{"category:shell", "category:orchestrate"},
		},
	}
}

// Validate checks the configuration for startup.
func (c *Config) Validate() error {
	if c.Model.MaxIterations <= 0 {
		return fmt.Errorf("config: model.maxIterations must be positive")
	}
	if c.Pools.Agent <= 0 || c.Pools.Monitor <= 0 || c.Pools.Playbook <= 0 {
		return fmt.Errorf("config: all pool sizes must be positive")
	}
	if c.Approval.TTLMinutes <= 0 {
		return fmt.Errorf("config: approval.ttlMinutes must be positive")
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.AuditTopic == "" && c.Kafka.LearningTopic == "" && len(c.Kafka.IncidentTopics) == 0 {
		return fmt.Errorf("config: kafka brokers set but no topic named")
	}
	if len(c.Kafka.IncidentTopics) > 0 && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("config: incident topics set but no kafka brokers")
	}
	for kind, route := range c.Incidents {
		if route.Playbook == "" && route.Instruction == "" {
			return fmt.Errorf("config: incident route %q names neither a playbook nor an instruction", kind)
		}
	}
	if len(c.Policy.Profiles) == 0 {
		return fmt.Errorf("config: policy must define at least one profile")
	}
	if c.Policy.DefaultProfile != "" {
		if _, ok := c.Policy.Profiles[c.Policy.DefaultProfile]; !ok {
			return fmt.Errorf("config: policy default profile %q is not defined", c.Policy.DefaultProfile)
		}
	}
	return nil
}
