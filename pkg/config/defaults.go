package config

import "time"

// DefaultConfig returns the built-in configuration. A user config.yaml is
// merged over these values, so every field here must be safe without any
// file present.
func DefaultConfig() *Config {
	return &Config{
		SSH: SSHConfig{
			ConnectTimeout:        10 * time.Second,
			MaxIdleTime:           10 * time.Minute,
			FailureThreshold:      3,
			CircuitBreakerTimeout: 5 * time.Minute,
			HostKeyPolicy:         HostKeyPolicyWarning,
		},
		Scanner: ScannerConfig{
			BatchSize:      5,
			MaxRetries:     3,
			RetryBaseDelay: 1 * time.Second,
			RetryMaxDelay:  30 * time.Second,
			RateLimit:      5,
			RateBurst:      10,
			ScanTimeout:    60 * time.Second,
			TTL: map[ScanType]time.Duration{
				ScanTypeBasic:     5 * time.Minute,
				ScanTypeSystem:    15 * time.Minute,
				ScanTypeServices:  10 * time.Minute,
				ScanTypePackages:  time.Hour,
				ScanTypeProcesses: time.Minute,
				ScanTypeFull:      15 * time.Minute,
			},
		},
		Sentinel: SentinelConfig{
			Enabled:                  false,
			AutoRemediate:            false,
			DefaultIntervalSeconds:   60,
			DefaultTimeoutSeconds:    10,
			DefaultThresholdFailures: 3,
		},
		CI: CIConfig{
			PreferredClients:    []string{"cli", "mcp"},
			ClassifierThreshold: 0.5,
			PendingIncidentCap:  100,
			PendingIncidentTTL:  24 * time.Hour,
			CommandTimeout:      30 * time.Second,
		},
		LLM: LLMConfig{
			Provider: "anthropic",
			TaskModels: map[LLMTask]string{
				LLMTaskCorrection: "haiku",
				LLMTaskPlanning:   "sonnet",
				LLMTaskSynthesis:  "sonnet",
				LLMTaskTriage:     "haiku",
			},
			Timeout: 60 * time.Second,
		},
		Conversation: ConversationConfig{
			Backend:       StoreBackendSQLite,
			RetentionDays: 0,
		},
		API: APIConfig{
			Enabled:        false,
			Addr:           "127.0.0.1:8315",
			WSWriteTimeout: 10 * time.Second,
		},
		Notify: NotifyConfig{
			Enabled:       false,
			SlackTokenEnv: "SLACK_BOT_TOKEN",
			Timeout:       10 * time.Second,
		},
		Resilience: ResilienceConfig{
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				RecoveryTimeout:  60 * time.Second,
				SuccessThreshold: 2,
			},
			Retry: RetryConfig{
				MaxAttempts:   3,
				InitialDelay:  1 * time.Second,
				MaxDelay:      30 * time.Second,
				BackoffFactor: 2.0,
			},
		},
		Skills: SkillsConfig{
			MaxConcurrent: 10,
			WatchReload:   false,
		},
	}
}
