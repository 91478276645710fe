package config

import (
	"time"
)

// Config is the fully resolved application configuration: YAML file merged
// over built-in defaults, environment expanded, validated.
type Config struct {
	SSH          SSHConfig          `yaml:"ssh"`
	Scanner      ScannerConfig      `yaml:"scanner"`
	Sentinel     SentinelConfig     `yaml:"sentinel"`
	CI           CIConfig           `yaml:"ci"`
	LLM          LLMConfig          `yaml:"llm"`
	Conversation ConversationConfig `yaml:"conversation"`
	API          APIConfig          `yaml:"api"`
	Notify       NotifyConfig       `yaml:"notify"`
	Resilience   ResilienceConfig   `yaml:"resilience"`
	Skills       SkillsConfig       `yaml:"skills"`

	// Paths is resolved at load time, never from YAML.
	Paths *Paths `yaml:"-"`
}

// SSHConfig controls the connection pool and host-key handling.
type SSHConfig struct {
	// ConnectTimeout bounds TCP dial plus SSH handshake.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	// MaxIdleTime evicts pooled connections unused for longer than this.
	MaxIdleTime time.Duration `yaml:"max_idle_time"`
	// FailureThreshold opens the per-host circuit after this many failures.
	FailureThreshold int `yaml:"failure_threshold"`
	// CircuitBreakerTimeout is how long a tripped host circuit stays open.
	CircuitBreakerTimeout time.Duration `yaml:"circuit_breaker_timeout"`
	// HostKeyPolicy is one of reject, warning, auto_add.
	HostKeyPolicy HostKeyPolicy `yaml:"host_key_policy"`
	// KnownHostsFile overrides the default ~/.ssh/known_hosts location.
	KnownHostsFile string `yaml:"known_hosts_file,omitempty"`
	// DefaultUser is used when a request names a host without a user.
	DefaultUser string `yaml:"default_user,omitempty"`
}

// ScannerConfig controls the on-demand parallel host scanner.
type ScannerConfig struct {
	// BatchSize is how many hosts scan concurrently per batch.
	BatchSize int `yaml:"batch_size"`
	// MaxRetries is per-host retry attempts after the first try.
	MaxRetries int `yaml:"max_retries"`
	// RetryBaseDelay seeds the exponential backoff between retries.
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
	// RetryMaxDelay caps the backoff between retries.
	RetryMaxDelay time.Duration `yaml:"retry_max_delay"`
	// RateLimit is the shared token refill rate in scans per second.
	RateLimit float64 `yaml:"rate_limit"`
	// RateBurst is the shared token bucket capacity.
	RateBurst int `yaml:"rate_burst"`
	// ScanTimeout bounds a single host scan attempt.
	ScanTimeout time.Duration `yaml:"scan_timeout"`
	// TTL maps scan type to cache freshness window.
	TTL map[ScanType]time.Duration `yaml:"ttl"`
}

// CheckConfig declares one Sentinel health check.
type CheckConfig struct {
	Name              string            `yaml:"name"`
	Target            string            `yaml:"target"`
	Type              CheckType         `yaml:"type"`
	Parameters        map[string]string `yaml:"parameters,omitempty"`
	IntervalSeconds   int               `yaml:"interval_seconds"`
	TimeoutSeconds    int               `yaml:"timeout_seconds"`
	ThresholdFailures int               `yaml:"threshold_failures"`
	Enabled           *bool             `yaml:"enabled,omitempty"`
}

// SentinelConfig controls the proactive monitoring agent.
type SentinelConfig struct {
	// Enabled starts the Sentinel worker with the application.
	Enabled bool `yaml:"enabled"`
	// AutoRemediate allows executing auto-executable remediation suggestions.
	AutoRemediate bool `yaml:"auto_remediate"`
	// DefaultIntervalSeconds applies to checks that omit interval_seconds.
	DefaultIntervalSeconds int `yaml:"default_interval_seconds"`
	// DefaultTimeoutSeconds applies to checks that omit timeout_seconds.
	DefaultTimeoutSeconds int `yaml:"default_timeout_seconds"`
	// DefaultThresholdFailures applies to checks that omit threshold_failures.
	DefaultThresholdFailures int `yaml:"default_threshold_failures"`
	// Checks declared in configuration; more can be added at runtime.
	Checks []CheckConfig `yaml:"checks,omitempty"`
}

// CIConfig controls the CI adapter layer.
type CIConfig struct {
	// PreferredClients orders client strategy selection per adapter.
	PreferredClients []string `yaml:"preferred_clients"`
	// DefaultPlatform skips auto-detection when set.
	DefaultPlatform string `yaml:"default_platform,omitempty"`
	// ClassifierThreshold is the minimum semantic confidence before UNKNOWN.
	ClassifierThreshold float64 `yaml:"classifier_threshold"`
	// PendingIncidentCap bounds the learning router's pending set.
	PendingIncidentCap int `yaml:"pending_incident_cap"`
	// PendingIncidentTTL evicts pending incidents older than this.
	PendingIncidentTTL time.Duration `yaml:"pending_incident_ttl"`
	// CommandTimeout bounds a single CLI client invocation.
	CommandTimeout time.Duration `yaml:"command_timeout"`
}

// LLMConfig controls model routing for generation tasks.
type LLMConfig struct {
	// Provider is the default provider name ("anthropic", "openai", ...).
	Provider string `yaml:"provider"`
	// TaskModels maps a task to a model alias or fully qualified model path.
	TaskModels map[LLMTask]string `yaml:"task_models"`
	// Timeout bounds a single generation call.
	Timeout time.Duration `yaml:"timeout"`
}

// ConversationConfig controls transcript persistence.
type ConversationConfig struct {
	// Backend is one of sqlite, json, postgres.
	Backend StoreBackend `yaml:"backend"`
	// DSN is required for the postgres backend.
	DSN string `yaml:"dsn,omitempty"`
	// RetentionDays purges archived conversations older than this; 0 keeps forever.
	RetentionDays int `yaml:"retention_days"`
}

// APIConfig controls the local status HTTP server.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	// WSWriteTimeout bounds a single WebSocket event send.
	WSWriteTimeout time.Duration `yaml:"ws_write_timeout"`
}

// NotifyConfig controls Slack alert delivery.
type NotifyConfig struct {
	Enabled bool `yaml:"enabled"`
	// SlackTokenEnv names the environment variable holding the bot token.
	SlackTokenEnv string `yaml:"slack_token_env"`
	// SlackChannel is the channel ID alerts post to.
	SlackChannel string        `yaml:"slack_channel,omitempty"`
	Timeout      time.Duration `yaml:"timeout"`
}

// CircuitBreakerConfig tunes the generic circuit breaker.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout"`
	SuccessThreshold int           `yaml:"success_threshold"`
}

// RetryConfig tunes the generic retry wrapper.
type RetryConfig struct {
	MaxAttempts   int           `yaml:"max_attempts"`
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
}

// ResilienceConfig groups defaults for the resilience primitives.
type ResilienceConfig struct {
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Retry          RetryConfig          `yaml:"retry"`
}

// SkillsConfig controls the skill registry and executor.
type SkillsConfig struct {
	// BuiltinDir holds skills shipped with the binary; empty disables.
	BuiltinDir string `yaml:"builtin_dir,omitempty"`
	// UserDir overrides the default <home>/skills directory.
	UserDir string `yaml:"user_dir,omitempty"`
	// MaxConcurrent caps simultaneous per-host executions across a skill run.
	MaxConcurrent int `yaml:"max_concurrent"`
	// WatchReload reloads skill files when the user directory changes.
	WatchReload bool `yaml:"watch_reload"`
}
