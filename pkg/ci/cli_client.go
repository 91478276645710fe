package ci

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/merlya/merlya/pkg/credentials"
)

// gh --json field sets requested per operation.
const (
	ghRunListFields = "databaseId,name,status,conclusion,workflowDatabaseId,headBranch,headSha,createdAt"
	ghRunViewFields = "databaseId,name,status,conclusion,workflowDatabaseId,headBranch,headSha,createdAt,jobs"
)

// cliBinaries names the platform CLI each template table drives.
var cliBinaries = map[PlatformType]string{
	PlatformGitHub: "gh",
	PlatformGitLab: "glab",
}

// cliTemplates maps operation names to argv templates. {placeholder}
// elements are substituted from the call's parameters; commands are always
// spawned as an argv list, never through a shell.
var cliTemplates = map[PlatformType]map[string][]string{
	PlatformGitHub: {
		"list_workflows":      {"gh", "workflow", "list", "--json", "id,name,state", "--limit", "{limit}"},
		"list_runs":           {"gh", "run", "list", "--json", ghRunListFields, "--limit", "{limit}"},
		"get_run":             {"gh", "run", "view", "{run_id}", "--json", ghRunViewFields},
		"get_run_logs":        {"gh", "run", "view", "{run_id}", "--log"},
		"get_run_logs_failed": {"gh", "run", "view", "{run_id}", "--log-failed"},
		"trigger_workflow":    {"gh", "workflow", "run", "{workflow}", "--ref", "{ref}"},
		"cancel_run":          {"gh", "run", "cancel", "{run_id}"},
		"retry_run":           {"gh", "run", "rerun", "{run_id}"},
		"list_secrets":        {"gh", "secret", "list", "--json", "name,updatedAt"},
		"auth_status":         {"gh", "auth", "status"},
	},
	PlatformGitLab: {
		"list_workflows":      {"glab", "ci", "list", "--output", "json", "--per-page", "{limit}"},
		"list_runs":           {"glab", "ci", "list", "--output", "json", "--per-page", "{limit}"},
		"get_run":             {"glab", "ci", "get", "--pipeline-id", "{run_id}", "--output", "json", "--with-job-details"},
		"get_run_logs":        {"glab", "ci", "trace", "{run_id}"},
		"get_run_logs_failed": {"glab", "ci", "trace", "{run_id}"},
		"trigger_workflow":    {"glab", "ci", "run", "--branch", "{ref}"},
		"cancel_run":          {"glab", "api", "projects/:id/pipelines/{run_id}/cancel", "--method", "POST"},
		"retry_run":           {"glab", "api", "projects/:id/pipelines/{run_id}/retry", "--method", "POST"},
		"list_secrets":        {"glab", "variable", "list", "--output", "json"},
		"auth_status":         {"glab", "auth", "status"},
	},
}

var placeholderRe = regexp.MustCompile(`\{([a-z_]+)\}`)

// loginRe extracts the username from gh/glab auth status output, covering
// both the "as USER" and the newer "account USER" phrasings.
var loginRe = regexp.MustCompile(`(?i)logged in to \S+ (?:as|account) ([\w.-]+)`)

// commandRunner abstracts subprocess execution. The real one spawns the
// argv; tests substitute canned output.
type commandRunner interface {
	// Run returns the process output and exit code. err is non-nil only
	// when the process could not run or the context expired; a non-zero
	// exit is reported through exitCode.
	Run(ctx context.Context, argv []string) (stdout, stderr []byte, exitCode int, err error)
}

type execCommandRunner struct{}

func (execCommandRunner) Run(ctx context.Context, argv []string) ([]byte, []byte, int, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return outBuf.Bytes(), errBuf.Bytes(), -1, ctxErr
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return outBuf.Bytes(), errBuf.Bytes(), exitErr.ExitCode(), nil
	}
	if err != nil {
		return outBuf.Bytes(), errBuf.Bytes(), -1, err
	}
	return outBuf.Bytes(), errBuf.Bytes(), 0, nil
}

// CLIClient drives a platform's official CLI through argv templates.
type CLIClient struct {
	platform  PlatformType
	binary    string
	templates map[string][]string
	timeout   time.Duration
	runner    commandRunner
	lookPath  func(string) (string, error)
	logger    *slog.Logger
}

// NewCLIClient creates a CLI client for the platform. timeout bounds each
// spawned command; zero means no bound beyond the caller's context.
func NewCLIClient(platform PlatformType, timeout time.Duration) (*CLIClient, error) {
	templates, ok := cliTemplates[platform]
	if !ok {
		return nil, fmt.Errorf("no CLI templates for platform %q", platform)
	}
	return &CLIClient{
		platform:  platform,
		binary:    cliBinaries[platform],
		templates: templates,
		timeout:   timeout,
		runner:    execCommandRunner{},
		lookPath:  exec.LookPath,
		logger:    slog.Default().With("component", "ci.cli", "platform", platform),
	}, nil
}

// withRunner replaces subprocess execution. Test seam.
func (c *CLIClient) withRunner(r commandRunner) *CLIClient {
	c.runner = r
	return c
}

// withLookPath replaces binary discovery. Test seam.
func (c *CLIClient) withLookPath(fn func(string) (string, error)) *CLIClient {
	c.lookPath = fn
	return c
}

// Name implements Client.
func (c *CLIClient) Name() string { return "cli" }

// Available reports whether the platform CLI is on PATH.
func (c *CLIClient) Available(ctx context.Context) bool {
	_, err := c.lookPath(c.binary)
	return err == nil
}

// Authenticated implements Client.
func (c *CLIClient) Authenticated(ctx context.Context) bool {
	return c.AuthStatus(ctx).Authenticated
}

// AuthStatus runs the platform's auth check and parses the exit code and
// output into the authenticated flag and username.
func (c *CLIClient) AuthStatus(ctx context.Context) AuthStatus {
	argv := c.templates["auth_status"]
	ctx, cancel := c.bound(ctx)
	defer cancel()

	// gh historically writes auth status to stderr, so parse both streams.
	stdout, stderr, exitCode, err := c.runner.Run(ctx, argv)
	if err != nil || exitCode != 0 {
		return AuthStatus{}
	}
	status := AuthStatus{Authenticated: true}
	if m := loginRe.FindSubmatch(append(stdout, stderr...)); m != nil {
		status.Username = string(m[1])
	}
	return status
}

// Execute runs one templated operation. Non-zero exits and spawn failures
// come back as a *ClientError carrying the subprocess exit code.
func (c *CLIClient) Execute(ctx context.Context, operation string, params map[string]string) (*ClientResult, error) {
	template, ok := c.templates[operation]
	if !ok {
		return nil, &ClientError{
			Operation: operation,
			ExitCode:  -1,
			Err:       fmt.Errorf("operation %q not supported on %s", operation, c.platform),
		}
	}
	argv, err := substituteTemplate(template, params)
	if err != nil {
		return nil, &ClientError{Operation: operation, ExitCode: -1, Err: err}
	}

	c.logger.Debug("Running CI command",
		"operation", operation, "params", credentials.RedactMap(paramsToAny(params)))

	ctx, cancel := c.bound(ctx)
	defer cancel()
	stdout, stderr, exitCode, err := c.runner.Run(ctx, argv)
	if err != nil {
		return nil, &ClientError{Operation: operation, ExitCode: -1, Err: err}
	}
	if exitCode != 0 {
		return nil, &ClientError{
			Operation: operation,
			ExitCode:  exitCode,
			Stderr:    strings.TrimSpace(string(stderr)),
		}
	}

	result := &ClientResult{Raw: string(stdout)}
	trimmed := strings.TrimSpace(result.Raw)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		var data any
		if jsonErr := json.Unmarshal([]byte(trimmed), &data); jsonErr == nil {
			result.Data = data
		}
	}
	return result, nil
}

// SupportedOperations implements Client.
func (c *CLIClient) SupportedOperations() []string {
	out := make([]string, 0, len(c.templates))
	for name := range c.templates {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (c *CLIClient) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout > 0 {
		return context.WithTimeout(ctx, c.timeout)
	}
	return ctx, func() {}
}

// substituteTemplate fills {placeholder} elements from params. Every
// placeholder must resolve; a missing parameter is an error rather than an
// empty argument.
func substituteTemplate(template []string, params map[string]string) ([]string, error) {
	argv := make([]string, len(template))
	for i, element := range template {
		var missing error
		argv[i] = placeholderRe.ReplaceAllStringFunc(element, func(match string) string {
			key := match[1 : len(match)-1]
			value, ok := params[key]
			if !ok {
				missing = fmt.Errorf("missing parameter %q", key)
				return match
			}
			return value
		})
		if missing != nil {
			return nil, missing
		}
	}
	return argv, nil
}

func paramsToAny(params map[string]string) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}
