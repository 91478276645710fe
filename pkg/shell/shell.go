// Package shell implements the slash-command layer of the interactive
// shell: /skill, /credentials, /net, /metrics, plus inline @mcp
// references. Lines it does not recognize fall through to the request
// pipeline.
package shell

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/merlya/merlya/pkg/credentials"
	"github.com/merlya/merlya/pkg/knowledge"
	"github.com/merlya/merlya/pkg/mcp"
	"github.com/merlya/merlya/pkg/metrics"
	"github.com/merlya/merlya/pkg/skills"
)

const usageLine = "commands: /skill {list|show|create|template|reload|run}, " +
	"/credentials {set|set-secret|list}, " +
	"/net {routes|route|facts|fact}, /metrics"

// SkillRunner executes a named skill against hosts. The host process
// wires it with the real SSH-backed work function.
type SkillRunner func(ctx context.Context, skill *skills.Skill, hosts []string, task string) (*skills.SkillResult, error)

// Deps bundles the collaborators the shell projects commands onto.
// MCP, Knowledge, and RunSkill may be nil; the matching commands then
// report that they are not wired.
type Deps struct {
	Skills      *skills.Registry
	Loader      *skills.Loader
	Credentials *credentials.Store
	Metrics     *metrics.Registry
	MCP         *mcp.Manager
	Knowledge   *knowledge.FileStore

	// SkillsDir is where /skill create writes new user skills.
	SkillsDir string
	RunSkill  SkillRunner
}

// Shell dispatches slash-commands and @mcp references.
type Shell struct {
	deps       Deps
	logger     *slog.Logger
	readSecret func() (string, error)
}

// New creates a shell over the given collaborators.
func New(deps Deps) *Shell {
	return &Shell{
		deps:       deps,
		logger:     slog.Default().With("component", "shell"),
		readSecret: readSecretFromTerminal,
	}
}

// withReadSecret swaps the hidden-prompt reader. Test-only.
func (s *Shell) withReadSecret(fn func() (string, error)) *Shell {
	s.readSecret = fn
	return s
}

// Handle processes one input line. handled=false means the line is free
// text for the request pipeline; output is then empty.
func (s *Shell) Handle(ctx context.Context, line string) (output string, handled bool, err error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return "", false, nil
	}

	if strings.HasPrefix(trimmed, "/") {
		out, err := s.dispatch(ctx, trimmed)
		return out, true, err
	}

	if server, remaining, ok := mcp.ParseRef(trimmed); ok {
		if s.deps.MCP == nil {
			return "", true, fmt.Errorf("no MCP servers configured")
		}
		out, err := s.deps.MCP.Invoke(ctx, server, remaining)
		return out, true, err
	}

	return "", false, nil
}

// dispatch routes one slash-command line.
func (s *Shell) dispatch(ctx context.Context, line string) (string, error) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/skill":
		return s.skillCommand(ctx, fields[1:])
	case "/credentials":
		return s.credentialsCommand(fields[1:])
	case "/net":
		return s.netCommand(fields[1:])
	case "/metrics":
		if s.deps.Metrics == nil {
			return "", fmt.Errorf("metrics registry is not wired")
		}
		return s.deps.Metrics.Dump(), nil
	case "/help":
		return usageLine, nil
	default:
		return "", fmt.Errorf("unknown command %s (%s)", fields[0], usageLine)
	}
}
