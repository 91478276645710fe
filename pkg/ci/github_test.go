package ci

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/merlya/merlya/pkg/events"
	"github.com/merlya/merlya/pkg/metrics"
)

const ghRunJSON = `{
	"databaseId": 42,
	"name": "CI",
	"status": "completed",
	"conclusion": "failure",
	"workflowDatabaseId": 7,
	"headBranch": "main",
	"headSha": "abc123",
	"createdAt": "2026-08-24T10:00:00Z",
	"jobs": [
		{
			"databaseId": 100,
			"name": "build",
			"status": "completed",
			"conclusion": "success",
			"startedAt": "2026-08-24T10:00:10Z",
			"completedAt": "2026-08-24T10:02:00Z",
			"steps": [{"name": "Compile", "number": 1, "status": "completed", "conclusion": "success"}]
		},
		{
			"databaseId": 101,
			"name": "test",
			"status": "completed",
			"conclusion": "failure",
			"startedAt": "2026-08-24T10:02:10Z",
			"completedAt": "2026-08-24T10:05:00Z",
			"steps": [{"name": "Run tests", "number": 1, "status": "completed", "conclusion": "failure"}]
		}
	]
}`

func newTestGitHubAdapter(t *testing.T, client *fakeClient) *GitHubAdapter {
	t.Helper()
	adapter, err := NewGitHubAdapter(
		PlatformConfig{Owner: "acme", Repo: "api"},
		map[string]Client{"cli": client},
		nil,
	)
	require.NoError(t, err)
	adapter.registry = metrics.NewRegistry()
	return adapter
}

func TestGitHubListWorkflows(t *testing.T) {
	client := &fakeClient{name: "cli", available: true, results: map[string]*ClientResult{
		"list_workflows": {Raw: `[{"id": 161335, "name": "CI", "state": "active"}]`},
	}}
	adapter := newTestGitHubAdapter(t, client)

	workflows, err := adapter.ListWorkflows(context.Background())
	require.NoError(t, err)
	require.Len(t, workflows, 1)
	assert.Equal(t, Workflow{ID: "161335", Name: "CI", State: "active"}, workflows[0])
}

func TestGitHubListRuns(t *testing.T) {
	client := &fakeClient{name: "cli", available: true, results: map[string]*ClientResult{
		"list_runs": {Raw: `[
			{"databaseId": 42, "name": "CI", "status": "completed", "conclusion": "failure", "headBranch": "main", "headSha": "abc123", "createdAt": "2026-08-24T10:00:00Z"},
			{"databaseId": 43, "name": "CI", "status": "in_progress", "conclusion": "", "headBranch": "fix/login", "headSha": "def456", "createdAt": "2026-08-24T11:00:00Z"}
		]`},
	}}
	adapter := newTestGitHubAdapter(t, client)

	runs, err := adapter.ListRuns(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, "42", runs[0].ID)
	assert.Equal(t, RunStatusFailure, runs[0].Status)
	assert.Equal(t, "main", runs[0].Branch)
	assert.Equal(t, PlatformGitHub, runs[0].Platform)
	assert.Equal(t, time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC), runs[0].CreatedAt)

	assert.Equal(t, "43", runs[1].ID)
	assert.Equal(t, RunStatusRunning, runs[1].Status)

	assert.Equal(t, "20", client.lastParams["limit"], "zero limit uses the default page size")
}

func TestGitHubGetRun(t *testing.T) {
	client := &fakeClient{name: "cli", available: true, results: map[string]*ClientResult{
		"get_run": {Raw: ghRunJSON},
	}}
	adapter := newTestGitHubAdapter(t, client)

	run, err := adapter.GetRun(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "42", run.ID)
	assert.Equal(t, RunStatusFailure, run.Status)
	assert.Equal(t, "7", run.WorkflowID)
	require.Len(t, run.Jobs, 2)
	assert.Equal(t, "100", run.Jobs[0].ID)
	assert.Equal(t, RunStatusSuccess, run.Jobs[0].Status)
	require.Len(t, run.Jobs[1].Steps, 1)
	assert.Equal(t, "Run tests", run.Jobs[1].Steps[0].Name)
	assert.Equal(t, []string{"test"}, run.FailedJobs())
}

func TestGitHubGetRunLogs(t *testing.T) {
	client := &fakeClient{name: "cli", available: true, results: map[string]*ClientResult{
		"get_run_logs":        {Raw: "full log\n"},
		"get_run_logs_failed": {Raw: "failed only\n"},
	}}
	adapter := newTestGitHubAdapter(t, client)

	full, err := adapter.GetRunLogs(context.Background(), "42", false)
	require.NoError(t, err)
	assert.Equal(t, "full log\n", full)

	failed, err := adapter.GetRunLogs(context.Background(), "42", true)
	require.NoError(t, err)
	assert.Equal(t, "failed only\n", failed)
	assert.Equal(t, []string{"get_run_logs", "get_run_logs_failed"}, client.calls)
}

func TestGitHubRunControls(t *testing.T) {
	client := &fakeClient{name: "cli", available: true}
	adapter := newTestGitHubAdapter(t, client)
	ctx := context.Background()

	require.NoError(t, adapter.TriggerWorkflow(ctx, "deploy.yml", ""))
	assert.Equal(t, "deploy.yml", client.lastParams["workflow"])
	assert.Equal(t, "main", client.lastParams["ref"], "empty ref defaults to main")

	require.NoError(t, adapter.TriggerWorkflow(ctx, "deploy.yml", "release/1.2"))
	assert.Equal(t, "release/1.2", client.lastParams["ref"])

	require.NoError(t, adapter.CancelRun(ctx, "42"))
	require.NoError(t, adapter.RetryRun(ctx, "42"))
	assert.Equal(t, []string{"trigger_workflow", "trigger_workflow", "cancel_run", "retry_run"}, client.calls)
}

func TestGitHubListSecrets(t *testing.T) {
	client := &fakeClient{name: "cli", available: true, results: map[string]*ClientResult{
		"list_secrets": {Raw: `[{"name": "DEPLOY_KEY", "updatedAt": "2026-08-01T00:00:00Z"}, {"name": "NPM_TOKEN", "updatedAt": "2026-07-01T00:00:00Z"}]`},
	}}
	adapter := newTestGitHubAdapter(t, client)

	names, err := adapter.ListSecrets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"DEPLOY_KEY", "NPM_TOKEN"}, names)
}

func TestGitHubAnalyzeFailure(t *testing.T) {
	logs := strings.Join([]string{
		"test\tRun tests\t2026-08-24T10:04:58Z FAIL github.com/acme/api/checkout",
		"test\tRun tests\t2026-08-24T10:04:58Z assertion failed: expected status 200, got 500",
		"test\tRun tests\t2026-08-24T10:04:59Z npm notice created a lockfile",
		"build\tCompile\t2026-08-24T10:01:00Z error: this build line must be ignored by scoping",
	}, "\n")
	client := &fakeClient{name: "cli", available: true, results: map[string]*ClientResult{
		"get_run":             {Raw: ghRunJSON},
		"get_run_logs_failed": {Raw: logs},
	}}
	adapter := newTestGitHubAdapter(t, client)
	hub := events.NewHub()
	adapter.WithHub(hub)
	received, cancel := hub.Subscribe(events.ChannelCI, 4)
	defer cancel()

	analysis, err := adapter.AnalyzeFailure(context.Background(), "42")
	require.NoError(t, err)

	assert.Equal(t, "42", analysis.RunID)
	assert.Equal(t, ErrorTypeTestFailure, analysis.ErrorType)
	assert.Equal(t, []string{"test"}, analysis.FailedJobs)
	assert.Contains(t, analysis.Summary, "assertion failed")
	assert.NotContains(t, analysis.RawError, "must be ignored", "build job lines are out of scope")
	assert.GreaterOrEqual(t, analysis.Confidence, 0.3)
	assert.NotEmpty(t, analysis.Suggestions)
	assert.NotEmpty(t, analysis.MatchedPattern)

	select {
	case event := <-received:
		assert.Equal(t, events.EventTypeCIAnalysis, event.Type)
		assert.Equal(t, "42", event.Payload["run_id"])
		assert.Equal(t, string(ErrorTypeTestFailure), event.Payload["error_type"])
	case <-time.After(time.Second):
		t.Fatal("expected a ci.analysis event")
	}

	analyses := adapter.registry.Counter(MetricAnalyses).Labeled()
	assert.Equal(t, int64(1), analyses["error_type=test_failure,platform=github"])
}

func TestGitHubAnalyzeFailureWithoutLogs(t *testing.T) {
	client := &fakeClient{
		name:      "cli",
		available: true,
		results:   map[string]*ClientResult{"get_run": {Raw: ghRunJSON}},
		errs:      map[string]error{"get_run_logs_failed": &ClientError{Operation: "get_run_logs_failed", ExitCode: 1, Stderr: "log expired"}},
	}
	adapter := newTestGitHubAdapter(t, client)

	analysis, err := adapter.AnalyzeFailure(context.Background(), "42")
	require.NoError(t, err, "missing logs degrade the analysis, they do not fail it")
	assert.Equal(t, ErrorTypeUnknown, analysis.ErrorType)
	assert.Contains(t, analysis.Summary, "no recognizable error lines")
	assert.Equal(t, []string{"test"}, analysis.FailedJobs)
}

func TestGitHubAnalyzeFailureRunFetchError(t *testing.T) {
	client := &fakeClient{
		name:      "cli",
		available: true,
		errs:      map[string]error{"get_run": &ClientError{Operation: "get_run", ExitCode: 4, Stderr: "not found"}},
	}
	adapter := newTestGitHubAdapter(t, client)

	_, err := adapter.AnalyzeFailure(context.Background(), "42")
	assert.ErrorContains(t, err, "analyzing run 42")
}

func TestGitHubExecuteCountsOperations(t *testing.T) {
	client := &fakeClient{
		name:      "cli",
		available: true,
		errs:      map[string]error{"cancel_run": &ClientError{Operation: "cancel_run", ExitCode: 1}},
	}
	adapter := newTestGitHubAdapter(t, client)
	ctx := context.Background()

	_, err := adapter.Execute(ctx, "list_runs", map[string]string{"limit": "5"})
	require.NoError(t, err)
	_, err = adapter.Execute(ctx, "cancel_run", map[string]string{"run_id": "1"})
	require.Error(t, err)

	ops := adapter.registry.Counter(MetricOperations).Labeled()
	assert.Equal(t, int64(1), ops["operation=list_runs,outcome=success,platform=github"])
	assert.Equal(t, int64(1), ops["operation=cancel_run,outcome=error,platform=github"])
}

func TestExtractErrors(t *testing.T) {
	t.Run("marker variants", func(t *testing.T) {
		logs := strings.Join([]string{
			"ERROR: disk quota exceeded on runner",
			"Fatal: repository handle lost during fetch",
			"::error::Process completed with exit code 1.",
			"just an ordinary line with no marker",
			"❌ integration suite failed on shard 3",
		}, "\n")
		lines := extractErrors(logs)
		require.Len(t, lines, 4)
		assert.Equal(t, "ERROR: disk quota exceeded on runner", lines[0])
	})

	t.Run("short lines are skipped", func(t *testing.T) {
		assert.Empty(t, extractErrors("error: x\nfail"))
	})

	t.Run("caps at ten lines", func(t *testing.T) {
		var b strings.Builder
		for i := 0; i < 25; i++ {
			b.WriteString("error: something broke badly again\n")
		}
		assert.Len(t, extractErrors(b.String()), maxErrorLines)
	})

	t.Run("long lines are truncated", func(t *testing.T) {
		line := "error: " + strings.Repeat("x", 600)
		lines := extractErrors(line)
		require.Len(t, lines, 1)
		assert.Len(t, lines[0], maxErrorLineLen)
	})
}

func TestScopeToJobs(t *testing.T) {
	logs := strings.Join([]string{
		"build\tCompile\tcompiling module",
		"test\tRun tests\ttest output line",
		"test\tRun tests\tanother test line",
	}, "\n")

	t.Run("scopes to named jobs", func(t *testing.T) {
		scoped := scopeToJobs(logs, []string{"test"})
		assert.NotContains(t, scoped, "compiling module")
		assert.Contains(t, scoped, "test output line")
		assert.Contains(t, scoped, "another test line")
	})

	t.Run("no jobs means whole log", func(t *testing.T) {
		assert.Equal(t, logs, scopeToJobs(logs, nil))
	})

	t.Run("unprefixed logs fall back to whole log", func(t *testing.T) {
		plain := "error: no tab prefixes here\nsecond line"
		assert.Equal(t, plain, scopeToJobs(plain, []string{"test"}))
	})

	t.Run("unknown job names fall back to whole log", func(t *testing.T) {
		assert.Equal(t, logs, scopeToJobs(logs, []string{"deploy"}))
	})
}
