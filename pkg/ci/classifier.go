package ci

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
)

// CIErrorType is the canonical classification of a CI failure.
type CIErrorType string

const (
	ErrorTypeTestFailure         CIErrorType = "test_failure"
	ErrorTypeBuildFailure        CIErrorType = "build_failure"
	ErrorTypeLintError           CIErrorType = "lint_error"
	ErrorTypeDependencyError     CIErrorType = "dependency_error"
	ErrorTypeTimeout             CIErrorType = "timeout"
	ErrorTypeOutOfMemory         CIErrorType = "out_of_memory"
	ErrorTypeDiskSpace           CIErrorType = "disk_space"
	ErrorTypeNetworkError        CIErrorType = "network_error"
	ErrorTypePermissionError     CIErrorType = "permission_error"
	ErrorTypeConfigurationError  CIErrorType = "configuration_error"
	ErrorTypeInfrastructureError CIErrorType = "infrastructure_error"
	ErrorTypeFlakyTest           CIErrorType = "flaky_test"
	ErrorTypeDeploymentError     CIErrorType = "deployment_error"
	ErrorTypeUnknown             CIErrorType = "unknown"
)

// Keyword-fallback confidence shape: a base for any hit plus a small bonus
// per additional hit, capped well below the semantic path's ceiling.
const (
	keywordBaseConfidence = 0.3
	keywordHitBonus       = 0.1
	keywordMaxConfidence  = 0.7
)

// errorPattern describes one canonical failure class: prose and examples
// feed the embedding centroid, keywords feed the fallback, and suggestions
// are surfaced verbatim on a match.
type errorPattern struct {
	Type        CIErrorType
	Description string
	Examples    []string
	Keywords    []string
	Suggestions []string
}

// errorPatterns is ordered; keyword ties resolve to the earlier entry.
var errorPatterns = []errorPattern{
	{
		Type:        ErrorTypeTestFailure,
		Description: "A test suite ran and one or more assertions or test cases failed",
		Examples: []string{
			"FAIL: TestUserLogin expected 200 got 500",
			"1 test failed, 24 passed",
			"AssertionError: expected true to be false",
		},
		Keywords: []string{"test failed", "tests failed", "assertion", "expected", "fail:", "failures:"},
		Suggestions: []string{
			"Review the failing assertions against recent changes",
			"Run the failing tests locally to reproduce",
			"Check for race conditions if failures are intermittent",
		},
	},
	{
		Type:        ErrorTypeBuildFailure,
		Description: "Compilation or build tooling failed before any tests could run",
		Examples: []string{
			"error: cannot find symbol in Main.java",
			"compilation failed with 3 errors",
			"undefined reference to function",
		},
		Keywords: []string{"compilation", "compile error", "syntax error", "cannot find symbol", "undefined reference", "build failed"},
		Suggestions: []string{
			"Check the first compiler error, later ones usually cascade",
			"Verify the toolchain version matches the project requirement",
			"Build locally with a clean cache",
		},
	},
	{
		Type:        ErrorTypeLintError,
		Description: "A linter or formatter rejected the code style or static analysis found issues",
		Examples: []string{
			"eslint: 4 problems (2 errors, 2 warnings)",
			"golangci-lint found issues in 3 files",
			"line too long (88 > 79 characters)",
		},
		Keywords: []string{"lint", "eslint", "flake8", "golangci", "style", "formatting"},
		Suggestions: []string{
			"Run the linter locally with autofix where supported",
			"Check whether the lint config changed recently",
		},
	},
	{
		Type:        ErrorTypeDependencyError,
		Description: "Package or dependency resolution failed during install or update",
		Examples: []string{
			"npm ERR! Could not resolve dependency",
			"no matching version found for package",
			"ModuleNotFoundError: No module named requests",
		},
		Keywords: []string{"npm err", "could not resolve", "dependency", "module not found", "no matching version", "unresolved import", "pip install"},
		Suggestions: []string{
			"Check whether a dependency released a breaking version",
			"Regenerate and commit the lockfile",
			"Pin the failing dependency to the last known good version",
		},
	},
	{
		Type:        ErrorTypeTimeout,
		Description: "A job or step exceeded its time limit and was terminated",
		Examples: []string{
			"The job running on runner has exceeded the maximum execution time",
			"Error: The operation was canceled after timeout",
			"context deadline exceeded",
		},
		Keywords: []string{"timeout", "timed out", "deadline exceeded", "maximum execution time", "canceled after"},
		Suggestions: []string{
			"Check for hanging tests or deadlocks",
			"Raise the job timeout if the workload legitimately grew",
			"Split long jobs into parallel shards",
		},
	},
	{
		Type:        ErrorTypeOutOfMemory,
		Description: "The process or container was killed for exceeding memory limits",
		Examples: []string{
			"java.lang.OutOfMemoryError: Java heap space",
			"Killed process 1234 (node) total-vm",
			"container exceeded memory limit, OOMKilled",
		},
		Keywords: []string{"out of memory", "oom", "oomkilled", "heap space", "memory limit", "cannot allocate"},
		Suggestions: []string{
			"Raise the runner or container memory limit",
			"Profile the build for memory regressions",
			"Reduce build parallelism",
		},
	},
	{
		Type:        ErrorTypeDiskSpace,
		Description: "The runner ran out of disk space during the job",
		Examples: []string{
			"no space left on device",
			"disk quota exceeded",
			"write /tmp/build: no space left",
		},
		Keywords: []string{"no space left", "disk quota", "disk full", "enospc"},
		Suggestions: []string{
			"Clean caches and artifacts earlier in the job",
			"Use a larger runner or prune docker images",
		},
	},
	{
		Type:        ErrorTypeNetworkError,
		Description: "A network operation failed: DNS, connection reset, unreachable registry or host",
		Examples: []string{
			"dial tcp: lookup registry.npmjs.org: no such host",
			"connection reset by peer",
			"Could not resolve host: github.com",
		},
		Keywords: []string{"connection refused", "connection reset", "no such host", "could not resolve host", "network is unreachable", "tls handshake"},
		Suggestions: []string{
			"Retry the run, upstream registries may have blipped",
			"Check provider status pages for outages",
			"Add retries around network-dependent steps",
		},
	},
	{
		Type:        ErrorTypePermissionError,
		Description: "Authentication or authorization was rejected",
		Examples: []string{
			"Error: Resource not accessible by integration",
			"permission denied (publickey)",
			"401 Unauthorized",
		},
		Keywords: []string{"permission denied", "unauthorized", "forbidden", "401", "403", "access denied", "authentication failed"},
		Suggestions: []string{
			"Check whether the token or deploy key expired",
			"Verify the workflow's permission grants",
		},
	},
	{
		Type:        ErrorTypeConfigurationError,
		Description: "The pipeline definition or tool configuration is invalid",
		Examples: []string{
			"workflow is not valid: unexpected key 'step'",
			"yaml: line 12: mapping values are not allowed",
			"invalid configuration for job deploy",
		},
		Keywords: []string{"invalid workflow", "invalid configuration", "yaml:", "unexpected key", "unknown field", "missing required"},
		Suggestions: []string{
			"Validate the pipeline file with the platform's linter",
			"Diff the pipeline file against the last green run",
		},
	},
	{
		Type:        ErrorTypeInfrastructureError,
		Description: "The CI infrastructure itself failed: lost runner, internal error, stuck queue",
		Examples: []string{
			"The runner has received a shutdown signal",
			"internal server error while provisioning",
			"lost communication with the server",
		},
		Keywords: []string{"runner", "internal server error", "lost communication", "shutdown signal", "service unavailable", "502", "503"},
		Suggestions: []string{
			"Retry the run, the failure is on the CI side",
			"Check the platform status page",
		},
	},
	{
		Type:        ErrorTypeFlakyTest,
		Description: "A test failed intermittently without a related code change",
		Examples: []string{
			"flaky test detected: TestEventualConsistency",
			"passed on retry",
			"intermittent failure in integration suite",
		},
		Keywords: []string{"flaky", "intermittent", "passed on retry", "non-deterministic"},
		Suggestions: []string{
			"Quarantine the flaky test and file a followup",
			"Look for timing assumptions or shared state",
		},
	},
	{
		Type:        ErrorTypeDeploymentError,
		Description: "The deploy step failed: rollout, release, or environment promotion",
		Examples: []string{
			"deployment failed: rollout status timed out",
			"helm upgrade failed: release not found",
			"error applying terraform plan",
		},
		Keywords: []string{"deployment failed", "rollout", "helm", "terraform", "release failed", "kubectl"},
		Suggestions: []string{
			"Check the target environment's health before retrying",
			"Review the release diff for breaking infrastructure changes",
		},
	},
}

// unknownSuggestions is returned when no class matches confidently.
var unknownSuggestions = []string{
	"Read the full job log around the first error marker",
	"Compare with the last successful run of the same workflow",
}

// Embedder turns text into a vector for semantic classification. Optional;
// without one the classifier falls back to keyword scoring.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Classification is the classifier verdict for one error text.
type Classification struct {
	Type           CIErrorType `json:"type"`
	Confidence     float64     `json:"confidence"`
	MatchedPattern string      `json:"matched_pattern,omitempty"`
	Suggestions    []string    `json:"suggestions,omitempty"`
	// LowConfidence marks an UNKNOWN verdict caused by the best semantic
	// score falling under the threshold.
	LowConfidence bool `json:"low_confidence,omitempty"`
}

// Classifier assigns a canonical error type to failure text. The semantic
// path compares the text embedding against one centroid per class; the
// keyword path counts table hits.
type Classifier struct {
	embedder  Embedder
	threshold float64
	logger    *slog.Logger

	mu        sync.Mutex
	centroids map[CIErrorType][]float64
}

// NewClassifier creates a keyword-only classifier. threshold bounds the
// semantic path once an embedder is attached; values outside (0,1] fall
// back to 0.5.
func NewClassifier(threshold float64) *Classifier {
	if threshold <= 0 || threshold > 1 {
		threshold = 0.5
	}
	return &Classifier{
		threshold: threshold,
		logger:    slog.Default().With("component", "ci.classifier"),
	}
}

// WithEmbedder enables the semantic path.
func (c *Classifier) WithEmbedder(e Embedder) *Classifier {
	c.embedder = e
	return c
}

// Classify assigns an error type to the text. Empty text is UNKNOWN with
// zero confidence.
func (c *Classifier) Classify(ctx context.Context, text string) Classification {
	if strings.TrimSpace(text) == "" {
		return Classification{Type: ErrorTypeUnknown, Suggestions: unknownSuggestions}
	}

	if c.embedder != nil {
		if verdict, err := c.classifySemantic(ctx, text); err == nil {
			return verdict
		} else {
			c.logger.Warn("Semantic classification unavailable, using keywords", "error", err)
		}
	}
	return c.classifyKeywords(text)
}

// classifySemantic embeds the text and picks the nearest class centroid.
// Cosine similarity is rescaled from [-1,1] to [0,1] before the threshold
// comparison.
func (c *Classifier) classifySemantic(ctx context.Context, text string) (Classification, error) {
	if err := c.ensureCentroids(ctx); err != nil {
		return Classification{}, err
	}
	vec, err := c.embedder.Embed(ctx, text)
	if err != nil {
		return Classification{}, fmt.Errorf("embedding error text: %w", err)
	}

	best := Classification{Type: ErrorTypeUnknown}
	for _, pattern := range errorPatterns {
		centroid, ok := c.centroids[pattern.Type]
		if !ok {
			continue
		}
		score := (cosine(vec, centroid) + 1) / 2
		if score > best.Confidence {
			best = Classification{
				Type:           pattern.Type,
				Confidence:     score,
				MatchedPattern: pattern.Description,
				Suggestions:    pattern.Suggestions,
			}
		}
	}

	if best.Confidence < c.threshold {
		return Classification{
			Type:           ErrorTypeUnknown,
			Confidence:     best.Confidence,
			MatchedPattern: "low confidence",
			Suggestions:    unknownSuggestions,
			LowConfidence:  true,
		}, nil
	}
	return best, nil
}

// ensureCentroids lazily embeds each pattern's description and examples and
// stores their element-wise mean.
func (c *Classifier) ensureCentroids(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.centroids != nil {
		return nil
	}

	centroids := make(map[CIErrorType][]float64, len(errorPatterns))
	for _, pattern := range errorPatterns {
		texts := append([]string{pattern.Description}, pattern.Examples...)
		var sum []float64
		for _, t := range texts {
			vec, err := c.embedder.Embed(ctx, t)
			if err != nil {
				return fmt.Errorf("embedding pattern %s: %w", pattern.Type, err)
			}
			if sum == nil {
				sum = make([]float64, len(vec))
			}
			if len(vec) != len(sum) {
				return fmt.Errorf("embedding pattern %s: inconsistent vector size %d != %d",
					pattern.Type, len(vec), len(sum))
			}
			for i, v := range vec {
				sum[i] += v
			}
		}
		for i := range sum {
			sum[i] /= float64(len(texts))
		}
		centroids[pattern.Type] = sum
	}
	c.centroids = centroids
	return nil
}

// classifyKeywords counts keyword hits per class; the best count wins with
// confidence min(0.3 + 0.1*hits, 0.7).
func (c *Classifier) classifyKeywords(text string) Classification {
	lowered := strings.ToLower(text)

	var best errorPattern
	bestHits := 0
	bestKeyword := ""
	for _, pattern := range errorPatterns {
		hits := 0
		first := ""
		for _, keyword := range pattern.Keywords {
			if strings.Contains(lowered, keyword) {
				hits++
				if first == "" {
					first = keyword
				}
			}
		}
		if hits > bestHits {
			best = pattern
			bestHits = hits
			bestKeyword = first
		}
	}

	if bestHits == 0 {
		return Classification{Type: ErrorTypeUnknown, Suggestions: unknownSuggestions}
	}
	confidence := keywordBaseConfidence + keywordHitBonus*float64(bestHits)
	if confidence > keywordMaxConfidence {
		confidence = keywordMaxConfidence
	}
	return Classification{
		Type:           best.Type,
		Confidence:     confidence,
		MatchedPattern: bestKeyword,
		Suggestions:    best.Suggestions,
	}
}

// SuggestionsFor returns the curated suggestions for one error type.
func SuggestionsFor(t CIErrorType) []string {
	for _, pattern := range errorPatterns {
		if pattern.Type == t {
			return pattern.Suggestions
		}
	}
	return unknownSuggestions
}

// cosine is the cosine similarity of two equal-length vectors; mismatched
// or zero vectors score 0.
func cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
