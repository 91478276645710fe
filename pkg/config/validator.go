package config

import (
	"fmt"
)

// Validate checks the merged configuration for invalid values. Collecting
// everything is friendlier than failing on the first problem, but the first
// error is what callers act on, so fail fast per section.
func (c *Config) Validate() error {
	if err := c.validateSSH(); err != nil {
		return err
	}
	if err := c.validateScanner(); err != nil {
		return err
	}
	if err := c.validateSentinel(); err != nil {
		return err
	}
	if err := c.validateResilience(); err != nil {
		return err
	}
	if err := c.validateConversation(); err != nil {
		return err
	}
	if err := c.validateLLM(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateSSH() error {
	if !c.SSH.HostKeyPolicy.IsValid() {
		return NewValidationError("ssh", "pool", "host_key_policy",
			fmt.Errorf("%w: %q", ErrInvalidValue, c.SSH.HostKeyPolicy))
	}
	if c.SSH.FailureThreshold < 1 {
		return NewValidationError("ssh", "pool", "failure_threshold",
			fmt.Errorf("%w: must be >= 1, got %d", ErrInvalidValue, c.SSH.FailureThreshold))
	}
	if c.SSH.ConnectTimeout <= 0 {
		return NewValidationError("ssh", "pool", "connect_timeout",
			fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}

func (c *Config) validateScanner() error {
	if c.Scanner.BatchSize < 1 {
		return NewValidationError("scanner", "scanner", "batch_size",
			fmt.Errorf("%w: must be >= 1, got %d", ErrInvalidValue, c.Scanner.BatchSize))
	}
	if c.Scanner.RateLimit <= 0 {
		return NewValidationError("scanner", "scanner", "rate_limit",
			fmt.Errorf("%w: must be positive, got %g", ErrInvalidValue, c.Scanner.RateLimit))
	}
	if c.Scanner.RateBurst < 1 {
		return NewValidationError("scanner", "scanner", "rate_burst",
			fmt.Errorf("%w: must be >= 1, got %d", ErrInvalidValue, c.Scanner.RateBurst))
	}
	for st := range c.Scanner.TTL {
		if !st.IsValid() {
			return NewValidationError("scanner", "scanner", "ttl",
				fmt.Errorf("%w: unknown scan type %q", ErrInvalidValue, st))
		}
	}
	return nil
}

func (c *Config) validateSentinel() error {
	seen := make(map[string]bool, len(c.Sentinel.Checks))
	for i := range c.Sentinel.Checks {
		chk := &c.Sentinel.Checks[i]
		if chk.Name == "" {
			return NewValidationError("check", fmt.Sprintf("index %d", i), "name",
				ErrMissingRequiredField)
		}
		if seen[chk.Name] {
			return NewValidationError("check", chk.Name, "name",
				fmt.Errorf("%w: duplicate check name", ErrInvalidValue))
		}
		seen[chk.Name] = true
		if !chk.Type.IsValid() {
			return NewValidationError("check", chk.Name, "type",
				fmt.Errorf("%w: %q", ErrInvalidValue, chk.Type))
		}
		if chk.Target == "" && chk.Type != CheckTypeCustom {
			return NewValidationError("check", chk.Name, "target",
				ErrMissingRequiredField)
		}
	}
	return nil
}

func (c *Config) validateResilience() error {
	cb := c.Resilience.CircuitBreaker
	if cb.FailureThreshold < 1 || cb.SuccessThreshold < 1 {
		return NewValidationError("resilience", "circuit_breaker", "thresholds",
			fmt.Errorf("%w: thresholds must be >= 1", ErrInvalidValue))
	}
	r := c.Resilience.Retry
	if r.MaxAttempts < 1 {
		return NewValidationError("resilience", "retry", "max_attempts",
			fmt.Errorf("%w: must be >= 1, got %d", ErrInvalidValue, r.MaxAttempts))
	}
	if r.BackoffFactor < 1 {
		return NewValidationError("resilience", "retry", "backoff_factor",
			fmt.Errorf("%w: must be >= 1, got %g", ErrInvalidValue, r.BackoffFactor))
	}
	return nil
}

func (c *Config) validateConversation() error {
	if !c.Conversation.Backend.IsValid() {
		return NewValidationError("conversation", "store", "backend",
			fmt.Errorf("%w: %q", ErrInvalidValue, c.Conversation.Backend))
	}
	if c.Conversation.Backend == StoreBackendPostgres && c.Conversation.DSN == "" {
		return NewValidationError("conversation", "store", "dsn",
			fmt.Errorf("%w: postgres backend requires dsn", ErrMissingRequiredField))
	}
	if c.Conversation.RetentionDays < 0 {
		return NewValidationError("conversation", "store", "retention_days",
			fmt.Errorf("%w: must be >= 0, got %d", ErrInvalidValue, c.Conversation.RetentionDays))
	}
	return nil
}

func (c *Config) validateLLM() error {
	for task := range c.LLM.TaskModels {
		if !task.IsValid() {
			return NewValidationError("llm", "router", "task_models",
				fmt.Errorf("%w: unknown task %q", ErrInvalidValue, task))
		}
	}
	return nil
}
