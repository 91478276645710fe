// Package planner turns a request into an ordered execution plan by asking
// the planning model for structured JSON and validating what comes back.
// A model failure never fails the caller: the deterministic three-step
// fallback plan is returned instead.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/merlya/merlya/pkg/config"
	"github.com/merlya/merlya/pkg/events"
	"github.com/merlya/merlya/pkg/llm"
)

const (
	// DefaultMaxSteps bounds a plan when the caller does not.
	DefaultMaxSteps = 12
	// DefaultEstimatedTokens is assumed for steps the model left unsized.
	DefaultEstimatedTokens = 1000
	// fallbackRequestLen is how much of the request the fallback plan's
	// execute step carries.
	fallbackRequestLen = 60
)

// Step is one unit of a plan.
type Step struct {
	ID              int    `json:"id"`
	Description     string `json:"description"`
	Dependencies    []int  `json:"dependencies"`
	Parallelizable  bool   `json:"parallelizable"`
	EstimatedTokens int    `json:"estimated_tokens"`
}

// Plan is the ordered set of steps for one request.
type Plan struct {
	Request   string    `json:"request"`
	Steps     []Step    `json:"steps"`
	Fallback  bool      `json:"fallback,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

const planningSystemPrompt = `You are an infrastructure operations planner. Break the user's request into concrete, verifiable steps.
Respond with only JSON in this exact shape:
{"steps": [{"id": 1, "description": "...", "dependencies": [], "parallelizable": false, "estimated_tokens": 500}]}
Rules: ids are sequential starting at 1; dependencies may reference earlier step ids only; no prose outside the JSON.`

// Planner builds plans through the planning model.
type Planner struct {
	router llm.Router
	hub    *events.Hub
	logger *slog.Logger
}

// New creates a planner over the given router.
func New(router llm.Router) *Planner {
	return &Planner{
		router: router,
		logger: slog.Default().With("component", "planner"),
	}
}

// WithHub publishes plan.created events to the hub.
func (p *Planner) WithHub(h *events.Hub) *Planner {
	p.hub = h
	return p
}

// Plan asks the planning model for a plan of at most maxSteps steps. The
// returned plan is always usable; when the model call or its output is
// unusable, Fallback is set and the three-step fallback plan is returned.
func (p *Planner) Plan(ctx context.Context, request string, maxSteps int) *Plan {
	if maxSteps < 1 {
		maxSteps = DefaultMaxSteps
	}

	plan := p.planViaModel(ctx, request, maxSteps)
	if plan == nil {
		plan = FallbackPlan(request)
	}

	if p.hub != nil {
		p.hub.Publish(events.ChannelPlans, events.EventTypePlanCreated, map[string]any{
			"request":  request,
			"steps":    len(plan.Steps),
			"fallback": plan.Fallback,
		})
	}
	return plan
}

func (p *Planner) planViaModel(ctx context.Context, request string, maxSteps int) *Plan {
	response, err := p.router.Generate(ctx, llm.Request{
		Prompt:       fmt.Sprintf("Request: %s\n\nProduce at most %d steps.", request, maxSteps),
		SystemPrompt: planningSystemPrompt,
		Task:         config.LLMTaskPlanning,
	})
	if err != nil {
		p.logger.Warn("Planning model call failed, using fallback plan", "error", err)
		return nil
	}

	raw, err := parseSteps(response)
	if err != nil {
		p.logger.Warn("Planning model output unusable, using fallback plan",
			"error", err, "response_len", len(response))
		return nil
	}

	steps := validateSteps(raw, maxSteps)
	if len(steps) == 0 {
		p.logger.Warn("Planning model returned an empty plan, using fallback plan")
		return nil
	}

	return &Plan{
		Request:   request,
		Steps:     steps,
		CreatedAt: time.Now().UTC(),
	}
}

// rawStep tolerates the loose typing models produce: string ids, numeric or
// string dependencies, missing booleans.
type rawStep struct {
	ID              any    `json:"id"`
	Description     string `json:"description"`
	Dependencies    []any  `json:"dependencies"`
	Parallelizable  *bool  `json:"parallelizable"`
	EstimatedTokens *int   `json:"estimated_tokens"`
}

// parseSteps accepts either {"steps": [...]} or a bare top-level array.
// A bare array still contains step objects, so whichever bracket opens
// first decides which shape to try.
func parseSteps(response string) ([]rawStep, error) {
	objIdx := strings.Index(response, "{")
	arrIdx := strings.Index(response, "[")
	if arrIdx != -1 && (objIdx == -1 || arrIdx < objIdx) {
		raw := llm.ExtractJSONArray(response)
		if raw == "" {
			return nil, fmt.Errorf("no JSON array found in planning response")
		}
		var steps []rawStep
		if err := json.Unmarshal([]byte(raw), &steps); err != nil {
			return nil, fmt.Errorf("parsing plan array: %w", err)
		}
		return steps, nil
	}

	raw := llm.ExtractJSON(response)
	if raw == "" {
		return nil, fmt.Errorf("no JSON found in planning response")
	}
	var wrapper struct {
		Steps []rawStep `json:"steps"`
	}
	if err := json.Unmarshal([]byte(raw), &wrapper); err != nil {
		return nil, fmt.Errorf("parsing plan object: %w", err)
	}
	if wrapper.Steps == nil {
		return nil, fmt.Errorf("plan object has no steps array")
	}
	return wrapper.Steps, nil
}

// validateSteps trims, renumbers, and fills defaults. Dependencies keep only
// ids of earlier steps, so the result is always a valid forward-only DAG.
func validateSteps(raw []rawStep, maxSteps int) []Step {
	if len(raw) > maxSteps {
		raw = raw[:maxSteps]
	}
	steps := make([]Step, 0, len(raw))
	for i, rs := range raw {
		id := i + 1
		description := strings.TrimSpace(rs.Description)
		if description == "" {
			description = fmt.Sprintf("Step %d", id)
		}
		parallelizable := false
		if rs.Parallelizable != nil {
			parallelizable = *rs.Parallelizable
		}
		tokens := DefaultEstimatedTokens
		if rs.EstimatedTokens != nil && *rs.EstimatedTokens > 0 {
			tokens = *rs.EstimatedTokens
		}
		steps = append(steps, Step{
			ID:              id,
			Description:     description,
			Dependencies:    coerceDependencies(rs.Dependencies, id),
			Parallelizable:  parallelizable,
			EstimatedTokens: tokens,
		})
	}
	return steps
}

// coerceDependencies keeps numeric-looking entries in [1, selfID).
func coerceDependencies(deps []any, selfID int) []int {
	out := make([]int, 0, len(deps))
	for _, dep := range deps {
		var id int
		switch v := dep.(type) {
		case float64:
			id = int(v)
		case string:
			parsed, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				continue
			}
			id = parsed
		default:
			continue
		}
		if id >= 1 && id < selfID {
			out = append(out, id)
		}
	}
	return out
}

// FallbackPlan is the deterministic plan used when the model cannot produce
// one: gather context, execute the request, synthesize the outcome.
func FallbackPlan(request string) *Plan {
	return &Plan{
		Request:   request,
		Fallback:  true,
		CreatedAt: time.Now().UTC(),
		Steps: []Step{
			{
				ID:              1,
				Description:     "Gather context and verify target availability",
				Dependencies:    []int{},
				EstimatedTokens: DefaultEstimatedTokens,
			},
			{
				ID:              2,
				Description:     "Execute: " + truncateRequest(request),
				Dependencies:    []int{1},
				EstimatedTokens: DefaultEstimatedTokens,
			},
			{
				ID:              3,
				Description:     "Synthesize results and report outcome",
				Dependencies:    []int{2},
				EstimatedTokens: DefaultEstimatedTokens,
			},
		},
	}
}

func truncateRequest(request string) string {
	runes := []rune(request)
	if len(runes) <= fallbackRequestLen {
		return request
	}
	return string(runes[:fallbackRequestLen])
}
