package ci

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubAdapter satisfies Adapter for registry and manager tests.
type stubAdapter struct {
	platform  PlatformType
	cfg       PlatformConfig
	available bool
	serial    int
}

func (s *stubAdapter) Platform() PlatformType { return s.platform }

func (s *stubAdapter) Available(ctx context.Context) bool { return s.available }

func (s *stubAdapter) Execute(ctx context.Context, operation string, params map[string]string) (*ClientResult, error) {
	return &ClientResult{Raw: "{}"}, nil
}

func (s *stubAdapter) AnalyzeFailure(ctx context.Context, runID string) (*FailureAnalysis, error) {
	return &FailureAnalysis{RunID: runID, ErrorType: ErrorTypeUnknown}, nil
}

// stubFactory returns a factory producing stub adapters with increasing
// serial numbers, so tests can tell instances apart.
func stubFactory(platform PlatformType, available bool) (AdapterFactory, *int) {
	serial := 0
	return func(cfg PlatformConfig) (Adapter, error) {
		serial++
		return &stubAdapter{platform: platform, cfg: cfg, available: available, serial: serial}, nil
	}, &serial
}

func TestPlatformRegistryRegister(t *testing.T) {
	t.Run("rejects unknown platform", func(t *testing.T) {
		r := NewPlatformRegistry()
		factory, _ := stubFactory(PlatformGitHub, true)
		assert.ErrorContains(t, r.Register(PlatformType("circleci"), factory), "unknown platform")
	})

	t.Run("rejects nil factory", func(t *testing.T) {
		r := NewPlatformRegistry()
		assert.ErrorContains(t, r.Register(PlatformGitHub, nil), "factory is nil")
	})

	t.Run("keeps registration order", func(t *testing.T) {
		r := NewPlatformRegistry()
		ghFactory, _ := stubFactory(PlatformGitHub, true)
		glFactory, _ := stubFactory(PlatformGitLab, true)
		require.NoError(t, r.Register(PlatformGitLab, glFactory))
		require.NoError(t, r.Register(PlatformGitHub, ghFactory))

		assert.Equal(t, []PlatformType{PlatformGitLab, PlatformGitHub}, r.Platforms())
		assert.True(t, r.Supported(PlatformGitHub))
		assert.False(t, r.Supported(PlatformJenkins))
	})

	t.Run("re-registering invalidates cached adapters", func(t *testing.T) {
		r := NewPlatformRegistry()
		first, _ := stubFactory(PlatformGitHub, true)
		require.NoError(t, r.Register(PlatformGitHub, first))

		before, err := r.GetCached(PlatformGitHub, "acme/api", PlatformConfig{Platform: PlatformGitHub})
		require.NoError(t, err)

		second, _ := stubFactory(PlatformGitHub, true)
		require.NoError(t, r.Register(PlatformGitHub, second))

		after, err := r.GetCached(PlatformGitHub, "acme/api", PlatformConfig{Platform: PlatformGitHub})
		require.NoError(t, err)
		assert.NotSame(t, before, after)
		assert.Equal(t, []PlatformType{PlatformGitHub}, r.Platforms(), "order unchanged on replace")
	})
}

func TestPlatformRegistryCreate(t *testing.T) {
	r := NewPlatformRegistry()
	factory, builds := stubFactory(PlatformGitHub, true)
	require.NoError(t, r.Register(PlatformGitHub, factory))

	first, err := r.Create(PlatformGitHub, PlatformConfig{Platform: PlatformGitHub})
	require.NoError(t, err)
	second, err := r.Create(PlatformGitHub, PlatformConfig{Platform: PlatformGitHub})
	require.NoError(t, err)
	assert.NotSame(t, first, second, "Create bypasses the cache")
	assert.Equal(t, 2, *builds)

	_, err = r.Create(PlatformGitLab, PlatformConfig{})
	assert.ErrorContains(t, err, "no adapter factory registered")
}

func TestPlatformRegistryGetCached(t *testing.T) {
	t.Run("memoizes per cache key", func(t *testing.T) {
		r := NewPlatformRegistry()
		factory, builds := stubFactory(PlatformGitHub, true)
		require.NoError(t, r.Register(PlatformGitHub, factory))

		first, err := r.GetCached(PlatformGitHub, "acme/api", PlatformConfig{})
		require.NoError(t, err)
		again, err := r.GetCached(PlatformGitHub, "acme/api", PlatformConfig{})
		require.NoError(t, err)
		assert.Same(t, first, again)
		assert.Equal(t, 1, *builds)

		other, err := r.GetCached(PlatformGitHub, "acme/web", PlatformConfig{})
		require.NoError(t, err)
		assert.NotSame(t, first, other)
		assert.Equal(t, 2, *builds)
	})

	t.Run("factory error propagates", func(t *testing.T) {
		r := NewPlatformRegistry()
		require.NoError(t, r.Register(PlatformGitHub, func(cfg PlatformConfig) (Adapter, error) {
			return nil, fmt.Errorf("credentials missing")
		}))

		_, err := r.GetCached(PlatformGitHub, "acme/api", PlatformConfig{})
		assert.ErrorContains(t, err, "building github adapter")
		assert.ErrorContains(t, err, "credentials missing")
	})

	t.Run("unregistered platform", func(t *testing.T) {
		r := NewPlatformRegistry()
		_, err := r.GetCached(PlatformJenkins, "ci.internal", PlatformConfig{})
		assert.ErrorContains(t, err, "no adapter factory registered")
	})
}

func TestDefaultPlatformRegistry(t *testing.T) {
	ResetRegistry()
	t.Cleanup(ResetRegistry)

	first := DefaultRegistry()
	assert.Same(t, first, DefaultRegistry())
	assert.True(t, first.Supported(PlatformGitHub), "GitHub factory ships built in")

	ResetRegistry()
	assert.NotSame(t, first, DefaultRegistry())
}
