package ci

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/merlya/merlya/pkg/config"
)

// newTestManager returns a manager with every ambient signal neutralized:
// empty environment, no CLI binaries, isolated registry.
func newTestManager(t *testing.T, dir string, cfg config.CIConfig) (*Manager, *PlatformRegistry) {
	t.Helper()
	registry := NewPlatformRegistry()
	m := NewManager(cfg, registry).WithDir(dir)
	m.withGetenv(func(string) string { return "" })
	m.withLookPath(func(string) (string, error) { return "", fmt.Errorf("not found") })
	return m, registry
}

func writeManagerFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func findDetection(detections []Detection, platform PlatformType) (Detection, bool) {
	for _, d := range detections {
		if d.Platform == platform {
			return d, true
		}
	}
	return Detection{}, false
}

func TestDetectConfigFiles(t *testing.T) {
	t.Run("github workflow directory", func(t *testing.T) {
		dir := t.TempDir()
		writeManagerFile(t, dir, ".github/workflows/deploy.yaml", "name: deploy\n")
		m, _ := newTestManager(t, dir, config.CIConfig{})

		detections := m.DetectPlatforms(context.Background())
		d, ok := findDetection(detections, PlatformGitHub)
		require.True(t, ok)
		assert.InDelta(t, confWorkflowDir, d.Confidence, 1e-9)
		assert.Equal(t, sourceConfigFile, d.Source)
	})

	t.Run("gitlab pipeline file", func(t *testing.T) {
		dir := t.TempDir()
		writeManagerFile(t, dir, ".gitlab-ci.yml", "stages: [build]\n")
		m, _ := newTestManager(t, dir, config.CIConfig{})

		d, ok := findDetection(m.DetectPlatforms(context.Background()), PlatformGitLab)
		require.True(t, ok)
		assert.InDelta(t, confPipelineFile, d.Confidence, 1e-9)
	})

	t.Run("jenkinsfile", func(t *testing.T) {
		dir := t.TempDir()
		writeManagerFile(t, dir, "Jenkinsfile", "pipeline {}\n")
		m, _ := newTestManager(t, dir, config.CIConfig{})

		d, ok := findDetection(m.DetectPlatforms(context.Background()), PlatformJenkins)
		require.True(t, ok)
		assert.InDelta(t, confPipelineFile, d.Confidence, 1e-9)
	})

	t.Run("empty repository detects nothing", func(t *testing.T) {
		m, _ := newTestManager(t, t.TempDir(), config.CIConfig{})
		assert.Empty(t, m.DetectPlatforms(context.Background()))
	})
}

func TestDetectGitRemote(t *testing.T) {
	t.Run("github ssh remote", func(t *testing.T) {
		dir := t.TempDir()
		writeManagerFile(t, dir, ".git/config", "[remote \"origin\"]\n\turl = git@github.com:acme/api.git\n")
		m, _ := newTestManager(t, dir, config.CIConfig{})

		d, ok := findDetection(m.DetectPlatforms(context.Background()), PlatformGitHub)
		require.True(t, ok)
		assert.InDelta(t, confGitRemote, d.Confidence, 1e-9)
		assert.Equal(t, sourceGitRemote, d.Source)
		assert.Equal(t, "acme", d.Owner)
		assert.Equal(t, "api", d.Repo)
	})

	t.Run("github https remote without suffix", func(t *testing.T) {
		dir := t.TempDir()
		writeManagerFile(t, dir, ".git/config", "[remote \"origin\"]\n\turl = https://github.com/acme/web\n")
		m, _ := newTestManager(t, dir, config.CIConfig{})

		d, ok := findDetection(m.DetectPlatforms(context.Background()), PlatformGitHub)
		require.True(t, ok)
		assert.Equal(t, "acme", d.Owner)
		assert.Equal(t, "web", d.Repo)
	})

	t.Run("self-hosted gitlab with subgroups", func(t *testing.T) {
		dir := t.TempDir()
		writeManagerFile(t, dir, ".git/config", "[remote \"origin\"]\n\turl = https://gitlab.internal.corp/platform/infra/deploy.git\n")
		m, _ := newTestManager(t, dir, config.CIConfig{})

		d, ok := findDetection(m.DetectPlatforms(context.Background()), PlatformGitLab)
		require.True(t, ok)
		assert.Equal(t, "platform/infra/deploy", d.ProjectPath)
		assert.Equal(t, "https://gitlab.internal.corp", d.APIBaseURL)
	})

	t.Run("gitlab.com has no api override", func(t *testing.T) {
		dir := t.TempDir()
		writeManagerFile(t, dir, ".git/config", "[remote \"origin\"]\n\turl = git@gitlab.com:group/project.git\n")
		m, _ := newTestManager(t, dir, config.CIConfig{})

		d, ok := findDetection(m.DetectPlatforms(context.Background()), PlatformGitLab)
		require.True(t, ok)
		assert.Equal(t, "group/project", d.ProjectPath)
		assert.Empty(t, d.APIBaseURL)
	})
}

func TestDetectEnvironment(t *testing.T) {
	env := map[string]string{
		"GITHUB_ACTIONS":    "true",
		"GITHUB_REPOSITORY": "acme/api",
		"GITLAB_CI":         "true",
		"CI_PROJECT_PATH":   "group/project",
		"JENKINS_URL":       "https://jenkins.corp/",
	}
	m, _ := newTestManager(t, t.TempDir(), config.CIConfig{})
	m.withGetenv(func(key string) string { return env[key] })

	detections := m.DetectPlatforms(context.Background())

	gh, ok := findDetection(detections, PlatformGitHub)
	require.True(t, ok)
	assert.InDelta(t, confCIEnv, gh.Confidence, 1e-9)
	assert.Equal(t, "acme", gh.Owner)
	assert.Equal(t, "api", gh.Repo)

	gl, ok := findDetection(detections, PlatformGitLab)
	require.True(t, ok)
	assert.Equal(t, "group/project", gl.ProjectPath)

	jenkins, ok := findDetection(detections, PlatformJenkins)
	require.True(t, ok)
	assert.InDelta(t, confJenkinsEnv, jenkins.Confidence, 1e-9)
	assert.Equal(t, "https://jenkins.corp/", jenkins.APIBaseURL)
}

func TestDetectCLI(t *testing.T) {
	m, _ := newTestManager(t, t.TempDir(), config.CIConfig{})
	m.withLookPath(func(binary string) (string, error) {
		if binary == "gh" {
			return "/usr/bin/gh", nil
		}
		return "", fmt.Errorf("not found")
	})

	detections := m.DetectPlatforms(context.Background())
	d, ok := findDetection(detections, PlatformGitHub)
	require.True(t, ok)
	assert.InDelta(t, confCLIBinary, d.Confidence, 1e-9)
	assert.Equal(t, sourceCLI, d.Source)

	_, ok = findDetection(detections, PlatformGitLab)
	assert.False(t, ok)
}

func TestDetectMergeKeepsStrongestSignal(t *testing.T) {
	dir := t.TempDir()
	writeManagerFile(t, dir, ".github/workflows/ci.yml", "name: ci\n")
	writeManagerFile(t, dir, ".git/config", "[remote \"origin\"]\n\turl = git@github.com:acme/api.git\n")
	m, _ := newTestManager(t, dir, config.CIConfig{})

	detections := m.DetectPlatforms(context.Background())
	require.Len(t, detections, 1)
	d := detections[0]
	assert.Equal(t, PlatformGitHub, d.Platform)
	assert.InDelta(t, confWorkflowDir, d.Confidence, 1e-9, "config file outranks git remote")
	assert.Equal(t, sourceConfigFile, d.Source)
	assert.Equal(t, "acme", d.Owner, "identity merged from the weaker signal")
	assert.Equal(t, "api", d.Repo)
}

func TestDetectSortsByConfidence(t *testing.T) {
	dir := t.TempDir()
	writeManagerFile(t, dir, ".gitlab-ci.yml", "stages: [build]\n")
	m, _ := newTestManager(t, dir, config.CIConfig{})
	m.withLookPath(func(binary string) (string, error) {
		if binary == "gh" {
			return "/usr/bin/gh", nil
		}
		return "", fmt.Errorf("not found")
	})

	detections := m.DetectPlatforms(context.Background())
	require.Len(t, detections, 2)
	assert.Equal(t, PlatformGitLab, detections[0].Platform)
	assert.Equal(t, PlatformGitHub, detections[1].Platform)
}

func TestResolveAdapter(t *testing.T) {
	t.Run("resolves best available platform", func(t *testing.T) {
		dir := t.TempDir()
		writeManagerFile(t, dir, ".git/config", "[remote \"origin\"]\n\turl = git@github.com:acme/api.git\n")
		m, registry := newTestManager(t, dir, config.CIConfig{})
		factory, _ := stubFactory(PlatformGitHub, true)
		require.NoError(t, registry.Register(PlatformGitHub, factory))

		adapter, err := m.ResolveAdapter(context.Background())
		require.NoError(t, err)
		assert.Equal(t, PlatformGitHub, adapter.Platform())

		stub := adapter.(*stubAdapter)
		assert.Equal(t, "acme", stub.cfg.Owner)
		assert.Equal(t, "api", stub.cfg.Repo)

		again, err := m.ResolveAdapter(context.Background())
		require.NoError(t, err)
		assert.Same(t, adapter, again, "adapter memoized per repository")
	})

	t.Run("skips platforms whose clients are unavailable", func(t *testing.T) {
		dir := t.TempDir()
		writeManagerFile(t, dir, ".gitlab-ci.yml", "stages: [build]\n")
		writeManagerFile(t, dir, ".git/config", "[remote \"origin\"]\n\turl = git@github.com:acme/api.git\n")
		m, registry := newTestManager(t, dir, config.CIConfig{})
		glFactory, _ := stubFactory(PlatformGitLab, false)
		ghFactory, _ := stubFactory(PlatformGitHub, true)
		require.NoError(t, registry.Register(PlatformGitLab, glFactory))
		require.NoError(t, registry.Register(PlatformGitHub, ghFactory))

		adapter, err := m.ResolveAdapter(context.Background())
		require.NoError(t, err)
		assert.Equal(t, PlatformGitHub, adapter.Platform(), "gitlab detected first but unavailable")
	})

	t.Run("skips detected platforms without factories", func(t *testing.T) {
		dir := t.TempDir()
		writeManagerFile(t, dir, "Jenkinsfile", "pipeline {}\n")
		m, _ := newTestManager(t, dir, config.CIConfig{})

		_, err := m.ResolveAdapter(context.Background())
		assert.ErrorContains(t, err, "no detected CI platform has an available client")
	})

	t.Run("nothing detected", func(t *testing.T) {
		m, _ := newTestManager(t, t.TempDir(), config.CIConfig{})
		_, err := m.ResolveAdapter(context.Background())
		assert.ErrorContains(t, err, "no CI platform detected")
	})

	t.Run("default platform skips detection", func(t *testing.T) {
		m, registry := newTestManager(t, t.TempDir(), config.CIConfig{DefaultPlatform: "GitHub"})
		factory, _ := stubFactory(PlatformGitHub, true)
		require.NoError(t, registry.Register(PlatformGitHub, factory))

		adapter, err := m.ResolveAdapter(context.Background())
		require.NoError(t, err)
		assert.Equal(t, PlatformGitHub, adapter.Platform())
	})

	t.Run("invalid default platform", func(t *testing.T) {
		m, _ := newTestManager(t, t.TempDir(), config.CIConfig{DefaultPlatform: "circleci"})
		_, err := m.ResolveAdapter(context.Background())
		assert.ErrorContains(t, err, "not supported")
	})
}
