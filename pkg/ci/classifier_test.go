package ci

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEmbedder maps texts onto three axes by token presence: "assertion"
// texts land on axis 0, "memory" texts on axis 1, and axis 2 is reserved
// for queries that should resemble no pattern.
type fakeEmbedder struct {
	calls int
	fail  bool
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	f.calls++
	if f.fail {
		return nil, errors.New("embedding backend down")
	}
	lowered := strings.ToLower(text)
	vec := []float64{0, 0, 0}
	if strings.Contains(lowered, "assertion") {
		vec[0] = 1
	}
	if strings.Contains(lowered, "memory") {
		vec[1] = 1
	}
	if strings.Contains(lowered, "zzz") {
		vec[2] = 1
	}
	return vec, nil
}

func TestClassifyKeywords(t *testing.T) {
	classifier := NewClassifier(0.5)

	t.Run("npm dependency failure", func(t *testing.T) {
		verdict := classifier.Classify(context.Background(), "npm ERR! Could not resolve dependency")
		assert.Equal(t, ErrorTypeDependencyError, verdict.Type)
		assert.GreaterOrEqual(t, verdict.Confidence, 0.3)
		assert.LessOrEqual(t, verdict.Confidence, 0.7)
		assert.NotEmpty(t, verdict.Suggestions)
	})

	t.Run("test failure", func(t *testing.T) {
		verdict := classifier.Classify(context.Background(), "FAIL: TestUserLogin assertion failed, expected 200 got 500")
		assert.Equal(t, ErrorTypeTestFailure, verdict.Type)
		assert.NotEmpty(t, verdict.MatchedPattern)
	})

	t.Run("timeout", func(t *testing.T) {
		verdict := classifier.Classify(context.Background(), "Error: The operation was canceled after timeout")
		assert.Equal(t, ErrorTypeTimeout, verdict.Type)
	})

	t.Run("out of memory", func(t *testing.T) {
		verdict := classifier.Classify(context.Background(), "container was OOMKilled, exceeded memory limit")
		assert.Equal(t, ErrorTypeOutOfMemory, verdict.Type)
	})

	t.Run("confidence capped", func(t *testing.T) {
		text := "npm err: could not resolve dependency, module not found, no matching version, unresolved import, pip install broke"
		verdict := classifier.Classify(context.Background(), text)
		assert.Equal(t, ErrorTypeDependencyError, verdict.Type)
		assert.InDelta(t, 0.7, verdict.Confidence, 1e-9)
	})

	t.Run("no keyword match is unknown", func(t *testing.T) {
		verdict := classifier.Classify(context.Background(), "the moon phase looked suspicious this morning")
		assert.Equal(t, ErrorTypeUnknown, verdict.Type)
		assert.Zero(t, verdict.Confidence)
		assert.Equal(t, unknownSuggestions, verdict.Suggestions)
	})

	t.Run("empty text is unknown", func(t *testing.T) {
		verdict := classifier.Classify(context.Background(), "   \n ")
		assert.Equal(t, ErrorTypeUnknown, verdict.Type)
		assert.Zero(t, verdict.Confidence)
	})
}

func TestClassifySemantic(t *testing.T) {
	t.Run("nearest centroid wins", func(t *testing.T) {
		embedder := &fakeEmbedder{}
		classifier := NewClassifier(0.5).WithEmbedder(embedder)

		verdict := classifier.Classify(context.Background(), "OutOfMemoryError: memory exhausted in worker")
		assert.Equal(t, ErrorTypeOutOfMemory, verdict.Type)
		assert.Greater(t, verdict.Confidence, 0.9)
		assert.NotEmpty(t, verdict.Suggestions)
	})

	t.Run("below threshold is unknown with marker", func(t *testing.T) {
		embedder := &fakeEmbedder{}
		classifier := NewClassifier(0.6).WithEmbedder(embedder)

		verdict := classifier.Classify(context.Background(), "zzz nothing resembles this")
		assert.Equal(t, ErrorTypeUnknown, verdict.Type)
		assert.True(t, verdict.LowConfidence)
		assert.Equal(t, "low confidence", verdict.MatchedPattern)
		assert.Less(t, verdict.Confidence, 0.6)
	})

	t.Run("centroids are built once", func(t *testing.T) {
		embedder := &fakeEmbedder{}
		classifier := NewClassifier(0.5).WithEmbedder(embedder)

		classifier.Classify(context.Background(), "assertion mismatch in suite")
		afterFirst := embedder.calls
		classifier.Classify(context.Background(), "another assertion mismatch")
		assert.Equal(t, afterFirst+1, embedder.calls, "second classify should only embed the query")
	})

	t.Run("embedder failure falls back to keywords", func(t *testing.T) {
		embedder := &fakeEmbedder{fail: true}
		classifier := NewClassifier(0.5).WithEmbedder(embedder)

		verdict := classifier.Classify(context.Background(), "npm ERR! Could not resolve dependency")
		assert.Equal(t, ErrorTypeDependencyError, verdict.Type)
		assert.GreaterOrEqual(t, verdict.Confidence, 0.3)
		assert.LessOrEqual(t, verdict.Confidence, 0.7)
	})
}

func TestNewClassifierThreshold(t *testing.T) {
	assert.InDelta(t, 0.5, NewClassifier(0).threshold, 1e-9)
	assert.InDelta(t, 0.5, NewClassifier(-1).threshold, 1e-9)
	assert.InDelta(t, 0.5, NewClassifier(1.5).threshold, 1e-9)
	assert.InDelta(t, 0.35, NewClassifier(0.35).threshold, 1e-9)
}

func TestSuggestionsFor(t *testing.T) {
	suggestions := SuggestionsFor(ErrorTypeTestFailure)
	require.NotEmpty(t, suggestions)
	assert.Contains(t, strings.ToLower(strings.Join(suggestions, " ")), "assertion")

	assert.Equal(t, unknownSuggestions, SuggestionsFor(ErrorTypeUnknown))
	assert.Equal(t, unknownSuggestions, SuggestionsFor(CIErrorType("bogus")))
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, cosine([]float64{1, 2, 3}, []float64{1, 2, 3}), 1e-9)
	assert.InDelta(t, 0.0, cosine([]float64{1, 0}, []float64{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, cosine([]float64{1, 0}, []float64{-1, 0}), 1e-9)
	assert.Zero(t, cosine([]float64{1, 2}, []float64{1, 2, 3}))
	assert.Zero(t, cosine([]float64{0, 0}, []float64{1, 2}))
	assert.Zero(t, cosine(nil, nil))
}

func TestErrorPatternsCoverCanonicalTypes(t *testing.T) {
	seen := map[CIErrorType]bool{}
	for _, pattern := range errorPatterns {
		assert.False(t, seen[pattern.Type], "duplicate pattern for %s", pattern.Type)
		seen[pattern.Type] = true
		assert.NotEmpty(t, pattern.Keywords, "%s needs keywords for the fallback path", pattern.Type)
		assert.NotEmpty(t, pattern.Examples, "%s needs examples for the centroid", pattern.Type)
		assert.NotEmpty(t, pattern.Suggestions, "%s needs suggestions", pattern.Type)
	}
	// Every canonical type except UNKNOWN has a pattern.
	assert.Len(t, seen, 13)
	assert.False(t, seen[ErrorTypeUnknown])
}
