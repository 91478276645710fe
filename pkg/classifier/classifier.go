// Package classifier decides, without any LLM call, how a free-text request
// should be handled: its complexity, the reasoning strategy, estimated steps
// and duration, and whether the request is too vague to act on as given.
// The rules are deterministic keyword heuristics, so the same request always
// classifies the same way.
package classifier

import (
	"fmt"
	"log/slog"
	"strings"
	"unicode"
)

// Complexity is the request's difficulty tier.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

// Strategy is how the agent should reason about the request.
type Strategy string

const (
	// StrategyDirect answers without intermediate reasoning.
	StrategyDirect Strategy = "direct"
	// StrategyCoTSilent reasons step by step but shows only the answer.
	StrategyCoTSilent Strategy = "cot_silent"
	// StrategyCoTVerbose reasons step by step and shows the steps.
	StrategyCoTVerbose Strategy = "cot_verbose"
)

// Step and duration bases per complexity tier.
const (
	maxEstimatedSteps  = 12
	multiTargetStepMul = 1.5
	multiTargetDurMul  = 2
	shortRequestWords  = 5
)

var stepBase = map[Complexity]int{
	ComplexitySimple:   2,
	ComplexityModerate: 4,
	ComplexityComplex:  8,
}

var durationBase = map[Complexity]int{
	ComplexitySimple:   5,
	ComplexityModerate: 20,
	ComplexityComplex:  45,
}

// Classification is the classifier's verdict on one request.
type Classification struct {
	Complexity         Complexity `json:"complexity"`
	Strategy           Strategy   `json:"strategy"`
	ShowThinking       bool       `json:"show_thinking"`
	NeedsReformulation bool       `json:"needs_reformulation"`
	EstimatedSteps     int        `json:"estimated_steps"`
	EstimatedDuration  int        `json:"estimated_duration_s"`
	MultiTarget        bool       `json:"multi_target"`
	Reasoning          string     `json:"reasoning"`
	SuggestedPrompt    string     `json:"suggested_prompt,omitempty"`
}

// Classifier classifies requests, with a FIFO-evicting cache keyed by the
// normalized request text.
type Classifier struct {
	cache  *fifoCache
	logger *slog.Logger
}

// New creates a classifier with the default cache capacity.
func New() *Classifier {
	return &Classifier{
		cache:  newFIFOCache(DefaultCacheCapacity),
		logger: slog.Default().With("component", "classifier"),
	}
}

// Classify analyzes one request. Identical requests (after lowercasing and
// trimming) are served from the cache.
func (c *Classifier) Classify(request string) Classification {
	normalized := strings.ToLower(strings.TrimSpace(request))
	if cached, ok := c.cache.get(normalized); ok {
		return cached
	}

	result := classify(normalized)
	c.cache.put(normalized, result)
	c.logger.Debug("Classified request",
		"complexity", result.Complexity, "strategy", result.Strategy,
		"steps", result.EstimatedSteps, "multi_target", result.MultiTarget,
		"needs_reformulation", result.NeedsReformulation)
	return result
}

func classify(normalized string) Classification {
	words := tokenize(normalized)

	simple := countMatches(words, simpleKeywords)
	moderate := countMatches(words, moderateKeywords)
	complexN := countMatches(words, complexKeywords)
	complexity := pickComplexity(simple, moderate, complexN)

	multiTarget := countMatches(words, multiTargetKeywords) > 0

	steps := stepBase[complexity]
	duration := durationBase[complexity]
	if multiTarget {
		steps = int(float64(steps) * multiTargetStepMul)
		duration *= multiTargetDurMul
	}
	if steps > maxEstimatedSteps {
		steps = maxEstimatedSteps
	}

	// A vague opening verb flags the request, unless it is long enough and
	// names its target with a preposition.
	vague := len(words) > 0 && contains(vagueVerbs, words[0])
	specific := len(words) >= shortRequestWords && countMatches(words, targetPrepositions) > 0
	needsReformulation := vague && !specific

	var strategy Strategy
	var showThinking bool
	switch {
	case multiTarget:
		// Fleet-wide requests always show their reasoning.
		strategy = StrategyCoTVerbose
		showThinking = true
	case complexity == ComplexityComplex:
		strategy = StrategyCoTVerbose
		showThinking = true
	case complexity == ComplexityModerate && steps > 4:
		strategy = StrategyCoTVerbose
		showThinking = true
	case complexity == ComplexityModerate:
		strategy = StrategyCoTSilent
	default:
		strategy = StrategyDirect
	}

	result := Classification{
		Complexity:         complexity,
		Strategy:           strategy,
		ShowThinking:       showThinking,
		NeedsReformulation: needsReformulation,
		EstimatedSteps:     steps,
		EstimatedDuration:  duration,
		MultiTarget:        multiTarget,
		Reasoning: fmt.Sprintf(
			"keyword matches simple=%d moderate=%d complex=%d; multi_target=%t; %d step(s) estimated",
			simple, moderate, complexN, multiTarget, steps),
	}
	if needsReformulation {
		result.SuggestedPrompt = suggestPrompt(words)
	}
	return result
}

// pickComplexity takes the bucket with the most matches. Any tie for the
// maximum, and the zero-match case, resolve to moderate.
func pickComplexity(simple, moderate, complexN int) Complexity {
	switch {
	case simple == 0 && moderate == 0 && complexN == 0:
		return ComplexityModerate
	case simple > moderate && simple > complexN:
		return ComplexitySimple
	case complexN > moderate && complexN > simple:
		return ComplexityComplex
	default:
		return ComplexityModerate
	}
}

// suggestPrompt proposes a concrete replacement for a vague request. Every
// suggestion names both an operation and a target slot, so the suggestion
// itself never needs reformulation.
func suggestPrompt(words []string) string {
	switch {
	case containsAny(words, "analysis", "analyze", "analyse"):
		return "Perform comprehensive analysis of the target systems, including status, resource usage, recent errors, and service health"
	case containsAny(words, "check", "status"):
		return "Check the status of the named service or host, including recent errors and resource usage"
	case containsAny(words, "backup"):
		return "Create a backup of the named data or host, verify its integrity, and report where it is stored"
	case containsAny(words, "clean", "cleanup"):
		return "Clean up disk space of the target hosts: old logs, caches, and unused packages"
	default:
		return "State the operation and its target explicitly, for example: 'restart nginx on web-1'"
	}
}

func tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func countMatches(words []string, keywords []string) int {
	n := 0
	for _, kw := range keywords {
		if contains(words, kw) {
			n++
		}
	}
	return n
}

func contains(words []string, w string) bool {
	for _, candidate := range words {
		if candidate == w {
			return true
		}
	}
	return false
}

func containsAny(words []string, candidates ...string) bool {
	for _, c := range candidates {
		if contains(words, c) {
			return true
		}
	}
	return false
}
