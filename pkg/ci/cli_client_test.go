package ci

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCommandCall struct {
	argv []string
}

type fakeCLIRunner struct {
	stdout   string
	stderr   string
	exitCode int
	err      error
	calls    []fakeCommandCall
}

func (f *fakeCLIRunner) Run(ctx context.Context, argv []string) ([]byte, []byte, int, error) {
	f.calls = append(f.calls, fakeCommandCall{argv: argv})
	return []byte(f.stdout), []byte(f.stderr), f.exitCode, f.err
}

func newTestCLIClient(t *testing.T, runner *fakeCLIRunner) *CLIClient {
	t.Helper()
	client, err := NewCLIClient(PlatformGitHub, 5*time.Second)
	require.NoError(t, err)
	return client.withRunner(runner).withLookPath(func(string) (string, error) {
		return "/usr/bin/gh", nil
	})
}

func TestNewCLIClient(t *testing.T) {
	client, err := NewCLIClient(PlatformGitLab, 0)
	require.NoError(t, err)
	assert.Equal(t, "cli", client.Name())

	_, err = NewCLIClient(PlatformJenkins, 0)
	assert.ErrorContains(t, err, "no CLI templates")
}

func TestCLIExecute(t *testing.T) {
	t.Run("parses JSON output", func(t *testing.T) {
		runner := &fakeCLIRunner{stdout: `[{"databaseId": 123, "name": "CI"}]`}
		client := newTestCLIClient(t, runner)

		result, err := client.Execute(context.Background(), "list_runs", map[string]string{"limit": "10"})
		require.NoError(t, err)
		assert.NotNil(t, result.Data)
		assert.Equal(t, `[{"databaseId": 123, "name": "CI"}]`, result.Raw)
	})

	t.Run("keeps non-JSON output raw", func(t *testing.T) {
		runner := &fakeCLIRunner{stdout: "build\tsetup\tchecking out code\n"}
		client := newTestCLIClient(t, runner)

		result, err := client.Execute(context.Background(), "get_run_logs", map[string]string{"run_id": "42"})
		require.NoError(t, err)
		assert.Nil(t, result.Data)
		assert.Contains(t, result.Raw, "checking out code")
	})

	t.Run("substitutes placeholders into argv", func(t *testing.T) {
		runner := &fakeCLIRunner{stdout: "{}"}
		client := newTestCLIClient(t, runner)

		_, err := client.Execute(context.Background(), "get_run", map[string]string{"run_id": "42"})
		require.NoError(t, err)
		require.Len(t, runner.calls, 1)
		assert.Equal(t, []string{"gh", "run", "view", "42", "--json", ghRunViewFields}, runner.calls[0].argv)
	})

	t.Run("missing parameter is an error", func(t *testing.T) {
		runner := &fakeCLIRunner{}
		client := newTestCLIClient(t, runner)

		_, err := client.Execute(context.Background(), "get_run", nil)
		var clientErr *ClientError
		require.ErrorAs(t, err, &clientErr)
		assert.Equal(t, -1, clientErr.ExitCode)
		assert.ErrorContains(t, err, `missing parameter "run_id"`)
		assert.Empty(t, runner.calls, "command must not be spawned")
	})

	t.Run("unsupported operation", func(t *testing.T) {
		client := newTestCLIClient(t, &fakeCLIRunner{})

		_, err := client.Execute(context.Background(), "delete_repository", nil)
		var clientErr *ClientError
		require.ErrorAs(t, err, &clientErr)
		assert.Equal(t, "delete_repository", clientErr.Operation)
		assert.ErrorContains(t, err, "not supported")
	})

	t.Run("non-zero exit carries code and stderr", func(t *testing.T) {
		runner := &fakeCLIRunner{exitCode: 4, stderr: "HTTP 404: Not Found\n"}
		client := newTestCLIClient(t, runner)

		_, err := client.Execute(context.Background(), "cancel_run", map[string]string{"run_id": "9"})
		var clientErr *ClientError
		require.ErrorAs(t, err, &clientErr)
		assert.Equal(t, 4, clientErr.ExitCode)
		assert.Equal(t, "HTTP 404: Not Found", clientErr.Stderr)
		assert.Contains(t, clientErr.Error(), "exit 4")
	})

	t.Run("spawn failure", func(t *testing.T) {
		runner := &fakeCLIRunner{err: errors.New("exec format error")}
		client := newTestCLIClient(t, runner)

		_, err := client.Execute(context.Background(), "list_workflows", map[string]string{"limit": "20"})
		var clientErr *ClientError
		require.ErrorAs(t, err, &clientErr)
		assert.Equal(t, -1, clientErr.ExitCode)
		assert.ErrorContains(t, err, "exec format error")
	})
}

func TestCLIAuthStatus(t *testing.T) {
	t.Run("gh writes status to stderr", func(t *testing.T) {
		runner := &fakeCLIRunner{stderr: "github.com\n  ✓ Logged in to github.com account octocat (keyring)\n"}
		client := newTestCLIClient(t, runner)

		status := client.AuthStatus(context.Background())
		assert.True(t, status.Authenticated)
		assert.Equal(t, "octocat", status.Username)
		assert.True(t, client.Authenticated(context.Background()))
	})

	t.Run("older as-user phrasing on stdout", func(t *testing.T) {
		runner := &fakeCLIRunner{stdout: "✓ Logged in to gitlab.example.com as jdoe (oauth2)\n"}
		client := newTestCLIClient(t, runner)

		status := client.AuthStatus(context.Background())
		assert.True(t, status.Authenticated)
		assert.Equal(t, "jdoe", status.Username)
	})

	t.Run("non-zero exit means unauthenticated", func(t *testing.T) {
		runner := &fakeCLIRunner{exitCode: 1, stderr: "You are not logged into any GitHub hosts.\n"}
		client := newTestCLIClient(t, runner)

		status := client.AuthStatus(context.Background())
		assert.False(t, status.Authenticated)
		assert.Empty(t, status.Username)
	})

	t.Run("authenticated without parseable username", func(t *testing.T) {
		runner := &fakeCLIRunner{stdout: "token valid\n"}
		client := newTestCLIClient(t, runner)

		status := client.AuthStatus(context.Background())
		assert.True(t, status.Authenticated)
		assert.Empty(t, status.Username)
	})
}

func TestCLIAvailable(t *testing.T) {
	client, err := NewCLIClient(PlatformGitHub, 0)
	require.NoError(t, err)

	client.withLookPath(func(name string) (string, error) {
		assert.Equal(t, "gh", name)
		return "/usr/bin/gh", nil
	})
	assert.True(t, client.Available(context.Background()))

	client.withLookPath(func(string) (string, error) {
		return "", fmt.Errorf("not found")
	})
	assert.False(t, client.Available(context.Background()))
}

func TestCLISupportedOperations(t *testing.T) {
	client, err := NewCLIClient(PlatformGitHub, 0)
	require.NoError(t, err)

	ops := client.SupportedOperations()
	assert.ElementsMatch(t, ciOperations, ops)
	assert.IsIncreasing(t, ops)
}

func TestSubstituteTemplate(t *testing.T) {
	t.Run("plain elements pass through", func(t *testing.T) {
		argv, err := substituteTemplate([]string{"gh", "auth", "status"}, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"gh", "auth", "status"}, argv)
	})

	t.Run("multiple placeholders", func(t *testing.T) {
		argv, err := substituteTemplate(
			[]string{"gh", "workflow", "run", "{workflow}", "--ref", "{ref}"},
			map[string]string{"workflow": "deploy.yml", "ref": "main"},
		)
		require.NoError(t, err)
		assert.Equal(t, []string{"gh", "workflow", "run", "deploy.yml", "--ref", "main"}, argv)
	})

	t.Run("glab path placeholders leave :id alone", func(t *testing.T) {
		argv, err := substituteTemplate(
			[]string{"glab", "api", "projects/:id/pipelines/{run_id}/cancel", "--method", "POST"},
			map[string]string{"run_id": "7"},
		)
		require.NoError(t, err)
		assert.Equal(t, "projects/:id/pipelines/7/cancel", argv[2])
	})

	t.Run("missing parameter", func(t *testing.T) {
		_, err := substituteTemplate([]string{"gh", "run", "view", "{run_id}"}, map[string]string{})
		assert.ErrorContains(t, err, `missing parameter "run_id"`)
	})
}
