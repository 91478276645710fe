// Merlya operator CLI: runs the daemon (sentinel monitor, status API,
// retention sweep) and inspects installed skills.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/merlya/merlya/pkg/config"
	"github.com/merlya/merlya/pkg/version"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	home     string
	logLevel string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "merlya",
		Short: "Infrastructure operations assistant",
		Long: `Merlya turns free-text infrastructure requests into classified, planned,
and supervised operations over SSH, network scans, and CI systems.

The serve command runs the long-lived daemon: the sentinel health monitor,
the local status API, and background retention. All persistent state lives
under a single home directory (default ~/.merlya).`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.home, "home", "",
		"State directory (default $"+config.EnvHome+" or ~/.merlya)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info",
		"Log level (debug, info, warn, error)")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newSkillCmd(opts))
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// initialize configures logging, resolves the state directory, and loads
// the layered configuration. Every subcommand that touches state starts
// here. The .env file is loaded before config.yaml so template expansion
// sees the variables it defines.
func (o *rootOptions) initialize() (*config.Config, error) {
	setupLogging(o.logLevel)

	paths, err := o.paths()
	if err != nil {
		return nil, err
	}
	if err := paths.EnsureHome(); err != nil {
		return nil, err
	}

	envPath := filepath.Join(paths.Home, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Debug("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	return config.InitializeFrom(paths)
}

func (o *rootOptions) paths() (*config.Paths, error) {
	if o.home != "" {
		return &config.Paths{Home: o.home}, nil
	}
	return config.DefaultPaths()
}

func setupLogging(levelName string) {
	level := slog.LevelInfo
	switch strings.ToLower(levelName) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.Full())
		},
	}
}
