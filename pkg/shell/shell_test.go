package shell

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/merlya/merlya/pkg/config"
	"github.com/merlya/merlya/pkg/credentials"
	"github.com/merlya/merlya/pkg/knowledge"
	"github.com/merlya/merlya/pkg/mcp"
	"github.com/merlya/merlya/pkg/metrics"
	"github.com/merlya/merlya/pkg/skills"
)

// newTestShell builds a shell over fresh collaborators, with the user
// skill directory under a temp dir.
func newTestShell(t *testing.T) (*Shell, Deps) {
	t.Helper()

	dir := t.TempDir()
	deps := Deps{
		Skills:      skills.NewRegistry(),
		Loader:      skills.NewLoader(config.SkillsConfig{UserDir: dir}),
		Credentials: credentials.NewStore(),
		Metrics:     metrics.NewRegistry(),
		Knowledge: knowledge.NewFileStore(
			filepath.Join(dir, "knowledge.json"), filepath.Join(dir, "skills.json")),
		SkillsDir: dir,
	}
	return New(deps), deps
}

func registerSkill(t *testing.T, reg *skills.Registry, name string) *skills.Skill {
	t.Helper()
	require.NoError(t, reg.Register(skills.SkillConfig{
		Name:                   name,
		Description:            "test skill",
		IntentPatterns:         []string{"test"},
		MaxHosts:               5,
		TimeoutSecs:            30,
		RequireConfirmationFor: []string{"delete"},
		Tags:                   []string{"testing"},
	}))
	sk, ok := reg.Get(name)
	require.True(t, ok)
	return sk
}

func TestHandleFreeTextFallsThrough(t *testing.T) {
	sh, _ := newTestShell(t)

	out, handled, err := sh.Handle(context.Background(), "restart nginx on web-1")
	require.NoError(t, err)
	assert.False(t, handled)
	assert.Empty(t, out)
}

func TestHandleEmptyLine(t *testing.T) {
	sh, _ := newTestShell(t)

	_, handled, err := sh.Handle(context.Background(), "   ")
	require.NoError(t, err)
	assert.False(t, handled)
}

func TestHandleUnknownCommand(t *testing.T) {
	sh, _ := newTestShell(t)

	_, handled, err := sh.Handle(context.Background(), "/bogus")
	assert.True(t, handled)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command /bogus")
}

func TestSkillList(t *testing.T) {
	sh, deps := newTestShell(t)
	ctx := context.Background()

	out, handled, err := sh.Handle(ctx, "/skill list")
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, "no skills loaded", out)

	registerSkill(t, deps.Skills, "disk-check")

	out, _, err = sh.Handle(ctx, "/skill list")
	require.NoError(t, err)
	assert.Contains(t, out, "disk-check")
	assert.Contains(t, out, "test skill")
	assert.Contains(t, out, "user")
}

func TestSkillShow(t *testing.T) {
	sh, deps := newTestShell(t)
	registerSkill(t, deps.Skills, "disk-check")

	out, _, err := sh.Handle(context.Background(), "/skill show disk-check")
	require.NoError(t, err)
	assert.Contains(t, out, "name:        disk-check")
	assert.Contains(t, out, "max_hosts:   5")
	assert.Contains(t, out, "timeout:     30s")
	assert.Contains(t, out, "confirm for: delete")

	_, _, err = sh.Handle(context.Background(), "/skill show nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSkillTemplate(t *testing.T) {
	sh, _ := newTestShell(t)

	out, _, err := sh.Handle(context.Background(), "/skill template")
	require.NoError(t, err)
	assert.Contains(t, out, "name: my-skill")
	assert.Contains(t, out, "timeout_seconds:")
	assert.Contains(t, out, "intent_patterns:")
}

func TestSkillCreate(t *testing.T) {
	sh, deps := newTestShell(t)
	ctx := context.Background()

	out, _, err := sh.Handle(ctx, "/skill create my-deploy")
	require.NoError(t, err)
	assert.Contains(t, out, "created")

	path := filepath.Join(deps.SkillsDir, "my-deploy.yaml")
	require.FileExists(t, path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "name: my-deploy")

	// The template is valid, so the reload after create registers it.
	_, ok := deps.Skills.Get("my-deploy")
	assert.True(t, ok)

	_, _, err = sh.Handle(ctx, "/skill create my-deploy")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, _, err = sh.Handle(ctx, "/skill create Bad Name")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid skill name")
}

func TestSkillReload(t *testing.T) {
	sh, deps := newTestShell(t)

	path := filepath.Join(deps.SkillsDir, "fresh.yaml")
	require.NoError(t, os.WriteFile(path, []byte(skillTemplate("fresh")), 0o600))

	out, _, err := sh.Handle(context.Background(), "/skill reload")
	require.NoError(t, err)
	assert.Contains(t, out, "loaded")

	_, ok := deps.Skills.Get("fresh")
	assert.True(t, ok)
}

func TestSkillRun(t *testing.T) {
	sh, deps := newTestShell(t)
	sk := registerSkill(t, deps.Skills, "disk-check")

	var gotHosts []string
	var gotTask string
	sh.deps.RunSkill = func(_ context.Context, skill *skills.Skill, hosts []string, task string) (*skills.SkillResult, error) {
		require.Equal(t, sk.Name, skill.Name)
		gotHosts = hosts
		gotTask = task
		return &skills.SkillResult{
			Skill:  skill.Name,
			Task:   task,
			Status: skills.StatusPartial,
			Hosts: []skills.HostResult{
				{Host: "web-1", Success: true, Output: "disk ok\nmore detail"},
				{Host: "web-2", Error: "timeout"},
			},
			Duration: 1500 * time.Millisecond,
		}, nil
	}

	out, _, err := sh.Handle(context.Background(), "/skill run disk-check web-1,web-2 check disk usage")
	require.NoError(t, err)
	assert.Equal(t, []string{"web-1", "web-2"}, gotHosts)
	assert.Equal(t, "check disk usage", gotTask)
	assert.Contains(t, out, "disk-check: partial")
	assert.Contains(t, out, "web-1: ok disk ok ...")
	assert.Contains(t, out, "web-2: failed (timeout)")
}

func TestSkillRunNotWired(t *testing.T) {
	sh, deps := newTestShell(t)
	registerSkill(t, deps.Skills, "disk-check")

	_, _, err := sh.Handle(context.Background(), "/skill run disk-check web-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not wired")
}

func TestSkillRunUnknownSkill(t *testing.T) {
	sh, _ := newTestShell(t)
	sh.deps.RunSkill = func(_ context.Context, _ *skills.Skill, _ []string, _ string) (*skills.SkillResult, error) {
		return nil, errors.New("should not be called")
	}

	_, _, err := sh.Handle(context.Background(), "/skill run nope web-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestCredentialsSet(t *testing.T) {
	sh, deps := newTestShell(t)
	ctx := context.Background()

	out, _, err := sh.Handle(ctx, "/credentials set api_host example.com")
	require.NoError(t, err)
	assert.Equal(t, "set api_host (config)", out)

	v, ok := deps.Credentials.Get("api_host")
	require.True(t, ok)
	assert.Equal(t, "example.com", v.Value)
	assert.Equal(t, credentials.VariableTypeConfig, v.Type)

	out, _, err = sh.Handle(ctx, "/credentials set db_host db-1 host")
	require.NoError(t, err)
	assert.Equal(t, "set db_host (host)", out)

	_, _, err = sh.Handle(ctx, "/credentials set x y bogus-type")
	require.Error(t, err)
}

func TestCredentialsSetSecret(t *testing.T) {
	sh, deps := newTestShell(t)
	sh.withReadSecret(func() (string, error) { return "hunter2", nil })

	out, _, err := sh.Handle(context.Background(), "/credentials set-secret db_pass")
	require.NoError(t, err)
	assert.Equal(t, "set db_pass (secret)", out)
	assert.NotContains(t, out, "hunter2")

	v, ok := deps.Credentials.Get("db_pass")
	require.True(t, ok)
	assert.Equal(t, "hunter2", v.Value)
	assert.Equal(t, credentials.VariableTypeSecret, v.Type)
}

func TestCredentialsSetSecretEmpty(t *testing.T) {
	sh, _ := newTestShell(t)
	sh.withReadSecret(func() (string, error) { return "", nil })

	_, _, err := sh.Handle(context.Background(), "/credentials set-secret db_pass")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty secret")
}

func TestCredentialsListMasksSecrets(t *testing.T) {
	sh, deps := newTestShell(t)
	require.NoError(t, deps.Credentials.Set("db_pass", "hunter2", credentials.VariableTypeSecret))
	require.NoError(t, deps.Credentials.Set("db_host", "db-1", credentials.VariableTypeHost))

	out, _, err := sh.Handle(context.Background(), "/credentials list")
	require.NoError(t, err)
	assert.Contains(t, out, "db_host")
	assert.Contains(t, out, "db-1")
	assert.Contains(t, out, credentials.Redacted)
	assert.NotContains(t, out, "hunter2")
}

func TestNetRoutes(t *testing.T) {
	sh, _ := newTestShell(t)
	ctx := context.Background()

	out, handled, err := sh.Handle(ctx, "/net routes")
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, "no routes recorded", out)

	out, _, err = sh.Handle(ctx, "/net route 10.1.0.0/16 bastion-1")
	require.NoError(t, err)
	assert.Equal(t, "route 10.1.0.0/16 via bastion-1", out)

	out, _, err = sh.Handle(ctx, "/net routes")
	require.NoError(t, err)
	assert.Contains(t, out, "10.1.0.0/16")
	assert.Contains(t, out, "bastion-1")

	_, _, err = sh.Handle(ctx, "/net route not-a-cidr gw-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid network")
}

func TestNetFacts(t *testing.T) {
	sh, _ := newTestShell(t)
	ctx := context.Background()

	out, _, err := sh.Handle(ctx, "/net facts web-1")
	require.NoError(t, err)
	assert.Equal(t, "no facts recorded for web-1", out)

	_, _, err = sh.Handle(ctx, "/net fact web-1 os Ubuntu 22.04")
	require.NoError(t, err)

	out, _, err = sh.Handle(ctx, "/net facts web-1")
	require.NoError(t, err)
	assert.Contains(t, out, "os")
	assert.Contains(t, out, "Ubuntu 22.04")
}

func TestNetNotWired(t *testing.T) {
	sh, _ := newTestShell(t)
	sh.deps.Knowledge = nil

	_, _, err := sh.Handle(context.Background(), "/net routes")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not wired")
}

func TestMetricsCommand(t *testing.T) {
	sh, deps := newTestShell(t)
	deps.Metrics.Counter("merlya_requests_total").Inc(3)

	out, _, err := sh.Handle(context.Background(), "/metrics")
	require.NoError(t, err)
	assert.Contains(t, out, "counter merlya_requests_total 3")
}

func TestHandleMCPRefWithoutManager(t *testing.T) {
	sh, _ := newTestShell(t)

	_, handled, err := sh.Handle(context.Background(), "@mcp prometheus query up")
	assert.True(t, handled)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no MCP servers")
}

func TestHandleMCPRefUnknownServer(t *testing.T) {
	sh, _ := newTestShell(t)
	sh.deps.MCP = mcp.NewManager(config.NewMCPServerRegistry(nil))

	_, handled, err := sh.Handle(context.Background(), "@mcp prometheus query up")
	assert.True(t, handled)
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrMCPServerNotFound)
}
