// Package llm defines the router contract the core calls for text
// generation, model alias resolution, and the JSON extraction helpers shared
// by the planner and the CI clients. Provider HTTP clients live behind the
// Router interface and are not part of the core.
package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/merlya/merlya/pkg/config"
)

// ErrEmptyResponse indicates the provider returned no usable text.
var ErrEmptyResponse = errors.New("empty LLM response")

// Request is one generation call. Prompt text must already be secret-free:
// callers resolve variables with resolveSecrets=false before building it.
type Request struct {
	Prompt       string
	SystemPrompt string
	// Task selects the model alias; empty means the synthesis model.
	Task config.LLMTask
}

// Router generates text for a task. Implementations route to a provider and
// model chosen per task.
type Router interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// GenerateFunc adapts a function to the Router interface. Used by tests and
// by thin provider bridges.
type GenerateFunc func(ctx context.Context, req Request) (string, error)

// Generate implements Router.
func (f GenerateFunc) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// ModelAliases are the well-known shorthands a task can map to. Anything
// else is treated as a fully qualified "provider/model" path.
var ModelAliases = map[string]bool{
	"haiku":    true,
	"sonnet":   true,
	"opus":     true,
	"fast":     true,
	"balanced": true,
	"best":     true,
}

// ResolveModel maps a task to (provider, model) using the configured task
// table. A "provider/model" value overrides the default provider; a bare
// alias uses it. Unknown tasks fall back to the synthesis model.
func ResolveModel(cfg config.LLMConfig, task config.LLMTask) (provider, model string) {
	name, ok := cfg.TaskModels[task]
	if !ok || name == "" {
		name = cfg.TaskModels[config.LLMTaskSynthesis]
	}
	if name == "" {
		name = "balanced"
	}
	if prov, rest, found := strings.Cut(name, "/"); found && prov != "" && rest != "" {
		return prov, rest
	}
	return cfg.Provider, name
}
