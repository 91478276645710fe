package ci

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/merlya/merlya/pkg/config"
)

// Detection source names, also used as the Source field on detections.
const (
	sourceConfigFile  = "config_file"
	sourceGitRemote   = "git_remote"
	sourceEnvironment = "environment"
	sourceCLI         = "cli"
)

// Per-source detection confidences.
const (
	confWorkflowDir  = 0.95
	confPipelineFile = 0.9
	confGitRemote    = 0.8
	confCIEnv        = 0.95
	confJenkinsEnv   = 0.9
	confCLIBinary    = 0.6
)

var (
	githubRemoteRe = regexp.MustCompile(`(?m)url\s*=\s*(?:git@|https?://)github\.com[:/]([\w.-]+)/([\w.-]+?)(?:\.git)?\s*$`)
	gitlabRemoteRe = regexp.MustCompile(`(?m)url\s*=\s*(?:git@|https?://)([\w.-]*gitlab[\w.-]*)[:/](\S+?)(?:\.git)?\s*$`)
)

// Detection is one platform signal with its provenance and any repository
// identity it carried.
type Detection struct {
	Platform   PlatformType `json:"platform"`
	Confidence float64      `json:"confidence"`
	Source     string       `json:"source"`

	Owner       string `json:"owner,omitempty"`
	Repo        string `json:"repo,omitempty"`
	ProjectPath string `json:"project_path,omitempty"`
	APIBaseURL  string `json:"api_base_url,omitempty"`
}

// Manager detects which CI platform a repository uses and resolves the
// matching adapter through the platform registry.
type Manager struct {
	cfg      config.CIConfig
	registry *PlatformRegistry
	dir      string
	logger   *slog.Logger

	lookPath func(string) (string, error)
	getenv   func(string) string
}

// NewManager creates a manager inspecting the current directory. A nil
// registry uses the shared one.
func NewManager(cfg config.CIConfig, registry *PlatformRegistry) *Manager {
	if registry == nil {
		registry = DefaultRegistry()
	}
	return &Manager{
		cfg:      cfg,
		registry: registry,
		dir:      ".",
		logger:   slog.Default().With("component", "ci.manager"),
		lookPath: exec.LookPath,
		getenv:   os.Getenv,
	}
}

// WithDir points detection at a different repository root.
func (m *Manager) WithDir(dir string) *Manager {
	m.dir = dir
	return m
}

// withLookPath replaces binary discovery. Test seam.
func (m *Manager) withLookPath(fn func(string) (string, error)) *Manager {
	m.lookPath = fn
	return m
}

// withGetenv replaces environment lookup. Test seam.
func (m *Manager) withGetenv(fn func(string) string) *Manager {
	m.getenv = fn
	return m
}

// DetectPlatforms runs every detection source and merges the signals,
// keeping the highest confidence per platform. The result is sorted by
// confidence descending, platform name ascending on ties.
func (m *Manager) DetectPlatforms(ctx context.Context) []Detection {
	var signals []Detection
	signals = append(signals, m.detectConfigFiles()...)
	signals = append(signals, m.detectGitRemote()...)
	signals = append(signals, m.detectEnvironment()...)
	signals = append(signals, m.detectCLI()...)

	best := make(map[PlatformType]Detection)
	for _, signal := range signals {
		current, seen := best[signal.Platform]
		if !seen || signal.Confidence > current.Confidence {
			merged := signal
			if seen {
				mergeIdentity(&merged, current)
			}
			best[signal.Platform] = merged
			continue
		}
		mergeIdentity(&current, signal)
		best[signal.Platform] = current
	}

	detections := make([]Detection, 0, len(best))
	for _, d := range best {
		detections = append(detections, d)
	}
	sort.Slice(detections, func(i, j int) bool {
		if detections[i].Confidence != detections[j].Confidence {
			return detections[i].Confidence > detections[j].Confidence
		}
		return detections[i].Platform < detections[j].Platform
	})
	for _, d := range detections {
		m.logger.Debug("Detected CI platform",
			"platform", d.Platform, "confidence", d.Confidence, "source", d.Source)
	}
	return detections
}

// mergeIdentity copies repository identity a weaker signal carried that the
// stronger one lacks.
func mergeIdentity(dst *Detection, src Detection) {
	if dst.Owner == "" {
		dst.Owner = src.Owner
	}
	if dst.Repo == "" {
		dst.Repo = src.Repo
	}
	if dst.ProjectPath == "" {
		dst.ProjectPath = src.ProjectPath
	}
	if dst.APIBaseURL == "" {
		dst.APIBaseURL = src.APIBaseURL
	}
}

// ResolveAdapter returns the adapter for the best detected platform whose
// client strategy is actually available. A configured DefaultPlatform
// skips detection entirely.
func (m *Manager) ResolveAdapter(ctx context.Context) (Adapter, error) {
	if m.cfg.DefaultPlatform != "" {
		platform := PlatformType(strings.ToLower(m.cfg.DefaultPlatform))
		if !platform.IsValid() {
			return nil, fmt.Errorf("configured default platform %q is not supported", m.cfg.DefaultPlatform)
		}
		detection := Detection{Platform: platform, Confidence: 1.0, Source: "config"}
		for _, d := range m.DetectPlatforms(ctx) {
			if d.Platform == platform {
				mergeIdentity(&detection, d)
				break
			}
		}
		return m.adapterFor(detection)
	}

	detections := m.DetectPlatforms(ctx)
	if len(detections) == 0 {
		return nil, fmt.Errorf("no CI platform detected in %s", m.dir)
	}
	for _, detection := range detections {
		if !m.registry.Supported(detection.Platform) {
			m.logger.Debug("No adapter factory for detected platform",
				"platform", detection.Platform)
			continue
		}
		adapter, err := m.adapterFor(detection)
		if err != nil {
			m.logger.Warn("Building adapter failed",
				"platform", detection.Platform, "error", err)
			continue
		}
		if adapter.Available(ctx) {
			m.logger.Info("Resolved CI adapter",
				"platform", detection.Platform,
				"confidence", detection.Confidence,
				"source", detection.Source)
			return adapter, nil
		}
	}
	return nil, fmt.Errorf("no detected CI platform has an available client (detected %d)", len(detections))
}

// adapterFor builds the platform configuration from a detection and pulls
// the memoized adapter.
func (m *Manager) adapterFor(detection Detection) (Adapter, error) {
	cfg := PlatformConfig{
		Platform:         detection.Platform,
		Owner:            detection.Owner,
		Repo:             detection.Repo,
		ProjectPath:      detection.ProjectPath,
		APIBaseURL:       detection.APIBaseURL,
		PreferredClients: m.cfg.PreferredClients,
	}
	return m.registry.GetCached(detection.Platform, detectionCacheKey(detection), cfg)
}

func detectionCacheKey(d Detection) string {
	switch {
	case d.Owner != "":
		return d.Owner + "/" + d.Repo
	case d.ProjectPath != "":
		return d.ProjectPath
	default:
		return "default"
	}
}

// detectConfigFiles looks for the pipeline definitions each platform keeps
// in the repository.
func (m *Manager) detectConfigFiles() []Detection {
	var out []Detection

	matches, err := doublestar.Glob(os.DirFS(m.dir), ".github/workflows/*.{yml,yaml}")
	if err == nil && len(matches) > 0 {
		out = append(out, Detection{
			Platform:   PlatformGitHub,
			Confidence: confWorkflowDir,
			Source:     sourceConfigFile,
		})
	}
	if _, err := os.Stat(filepath.Join(m.dir, ".gitlab-ci.yml")); err == nil {
		out = append(out, Detection{
			Platform:   PlatformGitLab,
			Confidence: confPipelineFile,
			Source:     sourceConfigFile,
		})
	}
	if _, err := os.Stat(filepath.Join(m.dir, "Jenkinsfile")); err == nil {
		out = append(out, Detection{
			Platform:   PlatformJenkins,
			Confidence: confPipelineFile,
			Source:     sourceConfigFile,
		})
	}
	return out
}

// detectGitRemote parses .git/config remote URLs and extracts the
// repository identity alongside the platform signal.
func (m *Manager) detectGitRemote() []Detection {
	data, err := os.ReadFile(filepath.Join(m.dir, ".git", "config"))
	if err != nil {
		return nil
	}
	text := string(data)

	var out []Detection
	if match := githubRemoteRe.FindStringSubmatch(text); match != nil {
		out = append(out, Detection{
			Platform:   PlatformGitHub,
			Confidence: confGitRemote,
			Source:     sourceGitRemote,
			Owner:      match[1],
			Repo:       match[2],
		})
	}
	if match := gitlabRemoteRe.FindStringSubmatch(text); match != nil {
		detection := Detection{
			Platform:    PlatformGitLab,
			Confidence:  confGitRemote,
			Source:      sourceGitRemote,
			ProjectPath: match[2],
		}
		if host := match[1]; host != "gitlab.com" {
			detection.APIBaseURL = "https://" + host
		}
		out = append(out, detection)
	}
	return out
}

// detectEnvironment reads the variables each CI system injects into its
// own jobs.
func (m *Manager) detectEnvironment() []Detection {
	var out []Detection
	if m.getenv("GITHUB_ACTIONS") == "true" {
		detection := Detection{
			Platform:   PlatformGitHub,
			Confidence: confCIEnv,
			Source:     sourceEnvironment,
		}
		if repo := m.getenv("GITHUB_REPOSITORY"); repo != "" {
			if owner, name, ok := strings.Cut(repo, "/"); ok {
				detection.Owner, detection.Repo = owner, name
			}
		}
		out = append(out, detection)
	}
	if m.getenv("GITLAB_CI") == "true" {
		out = append(out, Detection{
			Platform:    PlatformGitLab,
			Confidence:  confCIEnv,
			Source:      sourceEnvironment,
			ProjectPath: m.getenv("CI_PROJECT_PATH"),
		})
	}
	if url := m.getenv("JENKINS_URL"); url != "" {
		out = append(out, Detection{
			Platform:   PlatformJenkins,
			Confidence: confJenkinsEnv,
			Source:     sourceEnvironment,
			APIBaseURL: url,
		})
	}
	return out
}

// detectCLI checks for each platform's official CLI on PATH. Jenkins ships
// no standalone binary, so it has no CLI signal.
func (m *Manager) detectCLI() []Detection {
	var out []Detection
	for platform, binary := range cliBinaries {
		if _, err := m.lookPath(binary); err == nil {
			out = append(out, Detection{
				Platform:   platform,
				Confidence: confCLIBinary,
				Source:     sourceCLI,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Platform < out[j].Platform })
	return out
}
