package shell

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/merlya/merlya/pkg/skills"
)

const skillUsage = "usage: /skill {list|show NAME|create NAME|template|reload|run NAME HOST[,HOST...] [TASK]}"

// skillName bounds what /skill create accepts as a file-backed name.
var skillName = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// skillTemplate renders the starter YAML for a new skill.
func skillTemplate(name string) string {
	return fmt.Sprintf(`name: %s
version: 1.0.0
description: Describe what this skill does.
intent_patterns:
  - 'regex matching requests that should route here'
tools_allowed:
  - ssh_run
max_hosts: 10
timeout_seconds: 60
require_confirmation_for:
  - delete
system_prompt: >
  Instructions the model follows while running this skill.
tags:
  - custom
`, name)
}

func (s *Shell) skillCommand(ctx context.Context, args []string) (string, error) {
	if len(args) == 0 {
		return "", fmt.Errorf("%s", skillUsage)
	}

	switch args[0] {
	case "list":
		return s.skillList(), nil
	case "show":
		if len(args) < 2 {
			return "", fmt.Errorf("usage: /skill show NAME")
		}
		return s.skillShow(args[1])
	case "template":
		return skillTemplate("my-skill"), nil
	case "create":
		if len(args) < 2 {
			return "", fmt.Errorf("usage: /skill create NAME")
		}
		return s.skillCreate(args[1])
	case "reload":
		return fmt.Sprintf("loaded %d skills", s.reloadSkills()), nil
	case "run":
		if len(args) < 3 {
			return "", fmt.Errorf("usage: /skill run NAME HOST[,HOST...] [TASK]")
		}
		return s.skillRun(ctx, args[1], args[2], strings.Join(args[3:], " "))
	default:
		return "", fmt.Errorf("unknown /skill subcommand %q (%s)", args[0], skillUsage)
	}
}

func (s *Shell) skillList() string {
	list := s.deps.Skills.List()
	if len(list) == 0 {
		return "no skills loaded"
	}

	var sb strings.Builder
	for _, sk := range list {
		origin := "user"
		if sk.Builtin {
			origin = "builtin"
		}
		fmt.Fprintf(&sb, "%-20s v%-8s %-8s %s\n", sk.Name, sk.Version, origin, sk.Description)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (s *Shell) skillShow(name string) (string, error) {
	sk, ok := s.deps.Skills.Get(name)
	if !ok {
		return "", fmt.Errorf("skill %q not found", name)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "name:        %s\n", sk.Name)
	fmt.Fprintf(&sb, "version:     %s\n", sk.Version)
	fmt.Fprintf(&sb, "description: %s\n", sk.Description)
	fmt.Fprintf(&sb, "max_hosts:   %d\n", sk.MaxHosts)
	fmt.Fprintf(&sb, "timeout:     %ds\n", sk.TimeoutSecs)
	if len(sk.IntentPatterns) > 0 {
		fmt.Fprintf(&sb, "intents:     %s\n", strings.Join(sk.IntentPatterns, " | "))
	}
	if len(sk.ToolsAllowed) > 0 {
		fmt.Fprintf(&sb, "tools:       %s\n", strings.Join(sk.ToolsAllowed, ", "))
	}
	if len(sk.RequireConfirmationFor) > 0 {
		fmt.Fprintf(&sb, "confirm for: %s\n", strings.Join(sk.RequireConfirmationFor, ", "))
	}
	if len(sk.Tags) > 0 {
		fmt.Fprintf(&sb, "tags:        %s\n", strings.Join(sk.Tags, ", "))
	}
	if sk.Builtin {
		sb.WriteString("origin:      builtin\n")
	} else if sk.SourcePath != "" {
		fmt.Fprintf(&sb, "origin:      %s\n", sk.SourcePath)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func (s *Shell) skillCreate(name string) (string, error) {
	if !skillName.MatchString(name) {
		return "", fmt.Errorf("invalid skill name %q: use lowercase letters, digits, - and _", name)
	}
	if s.deps.SkillsDir == "" {
		return "", fmt.Errorf("no user skill directory configured")
	}

	path := filepath.Join(s.deps.SkillsDir, name+".yaml")
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("skill file already exists: %s", path)
	}

	if err := os.MkdirAll(s.deps.SkillsDir, 0o700); err != nil {
		return "", fmt.Errorf("create skills dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(skillTemplate(name)), 0o600); err != nil {
		return "", fmt.Errorf("write skill file: %w", err)
	}

	s.reloadSkills()
	return fmt.Sprintf("created %s; edit it and run /skill reload to apply changes", path), nil
}

func (s *Shell) reloadSkills() int {
	if s.deps.Loader != nil {
		s.deps.Skills.ReplaceAll(s.deps.Loader.Load())
	}
	return len(s.deps.Skills.List())
}

func (s *Shell) skillRun(ctx context.Context, name, hostList, task string) (string, error) {
	if s.deps.RunSkill == nil {
		return "", fmt.Errorf("skill execution is not wired in this shell")
	}

	sk, ok := s.deps.Skills.Get(name)
	if !ok {
		return "", fmt.Errorf("skill %q not found", name)
	}

	var hosts []string
	for _, h := range strings.Split(hostList, ",") {
		if h = strings.TrimSpace(h); h != "" {
			hosts = append(hosts, h)
		}
	}
	if len(hosts) == 0 {
		return "", fmt.Errorf("no hosts given")
	}

	if task == "" {
		task = sk.Name
	}

	result, err := s.deps.RunSkill(ctx, sk, hosts, task)
	if err != nil {
		return "", err
	}
	return renderSkillResult(result), nil
}

// renderSkillResult formats an execution summary, one line per host.
func renderSkillResult(result *skills.SkillResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %s (%d hosts", result.Skill, result.Status, len(result.Hosts))
	if result.Truncated {
		sb.WriteString(", host list truncated")
	}
	fmt.Fprintf(&sb, ", %s)\n", result.Duration.Round(time.Millisecond))

	for _, h := range result.Hosts {
		if h.Success {
			fmt.Fprintf(&sb, "  %s: ok %s\n", h.Host, firstOutputLine(h.Output))
		} else {
			fmt.Fprintf(&sb, "  %s: failed (%s)\n", h.Host, h.Error)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// firstOutputLine keeps per-host summaries to one line.
func firstOutputLine(out string) string {
	out = strings.TrimSpace(out)
	if i := strings.IndexByte(out, '\n'); i >= 0 {
		out = out[:i] + " ..."
	}
	return out
}
