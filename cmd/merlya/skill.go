package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/merlya/merlya/pkg/skills"
)

// skillTemplate is the starter file printed by `merlya skill template`.
// Matches the schema in pkg/skills/skill.go.
const skillTemplate = `# Skill definition. Save as <name>.yaml under the skills directory in
# your merlya home (default ~/.merlya/skills/).
name: my-skill
version: 1.0.0
description: One line on what this skill does.
intent_patterns:
  # Case-insensitive regexes; first match routes the request here.
  - 'restart [\w.-]+ on'
tools_allowed:
  # Empty list passes every tool through.
  - ssh_run
max_hosts: 10
timeout_seconds: 60
require_confirmation_for:
  # Operation keywords that demand an explicit confirmation.
  - restart
system_prompt: >
  Instructions the model follows while running this skill.
tags:
  - example
`

func newSkillCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "skill",
		Short: "Inspect installed skills",
	}
	cmd.AddCommand(newSkillListCmd(opts))
	cmd.AddCommand(newSkillShowCmd(opts))
	cmd.AddCommand(newSkillTemplateCmd())
	return cmd
}

func newSkillListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List installed skills",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := loadSkillRegistry(opts)
			if err != nil {
				return err
			}
			for _, s := range registry.List() {
				origin := "user"
				if s.Builtin {
					origin = "builtin"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-24s %-8s %-8s %s\n",
					s.Name, s.Version, origin, s.Description)
			}
			return nil
		},
	}
}

func newSkillShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Show one skill's full definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := loadSkillRegistry(opts)
			if err != nil {
				return err
			}
			skill, ok := registry.Get(args[0])
			if !ok {
				return fmt.Errorf("skill %q is not installed", args[0])
			}
			out, err := yaml.Marshal(skill.SkillConfig)
			if err != nil {
				return fmt.Errorf("render skill %q: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "# source: %s\n%s", skill.SourcePath, out)
			return nil
		},
	}
}

func newSkillTemplateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "template",
		Short: "Print a starter skill file",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprint(cmd.OutOrStdout(), skillTemplate)
		},
	}
}

// loadSkillRegistry loads every installed skill: the embedded builtins,
// then the user directory, which wins on a name clash.
func loadSkillRegistry(opts *rootOptions) (*skills.Registry, error) {
	cfg, err := opts.initialize()
	if err != nil {
		return nil, err
	}
	skillsCfg := cfg.Skills
	if skillsCfg.UserDir == "" {
		skillsCfg.UserDir = cfg.Paths.SkillsDir()
	}
	registry := skills.NewRegistry()
	skills.NewLoader(skillsCfg).LoadInto(registry)
	return registry, nil
}
