package commands

import (
	"fmt"
	"runtime"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/conduit-lang/relay/internal/manifest"
)

var (
	// Version information - set at build time
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
	GoVersion = "unknown"
)

// NewRootCommand creates the root command. handlers are the Go handlers
// definition files may bind to by name.
func NewRootCommand(handlers manifest.HandlerSet) *cobra.Command {
	app := &App{Handlers: handlers}

	rootCmd := &cobra.Command{
		Use:   "relay",
		Short: "Signed interaction webhook dispatcher",
		Long: color.CyanString(`Relay - interaction dispatch engine

Relay verifies signed platform webhooks and routes them to handlers
declared as YAML files:

  commands/      slash commands (nested directories are subcommands)
  components/    buttons/, selects/ and modals/ keyed by custom-id pattern
  events/        webhook event subscribers`),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if app.NoColor {
				color.NoColor = true
			}
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&app.Dir, "dir", "C", ".", "Project directory")
	flags.StringVar(&app.ConfigFile, "config", "", "Config file (default: relay.yml in the project directory)")
	flags.StringVar(&app.LogLevel, "log-level", "", "Override logging.level")
	flags.BoolVar(&app.NoColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(NewVersionCommand())
	rootCmd.AddCommand(NewInitCommand(app))
	rootCmd.AddCommand(NewBuildCommand(app))
	rootCmd.AddCommand(NewRoutesCommand(app))
	rootCmd.AddCommand(NewMatchCommand(app))
	rootCmd.AddCommand(NewServeCommand(app))
	rootCmd.AddCommand(NewVerifyCommand(app))
	rootCmd.AddCommand(NewTokenCommand(app))
	rootCmd.AddCommand(NewSnowflakeCommand())

	return rootCmd
}

// NewVersionCommand creates the version command
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			goVer := GoVersion
			if goVer == "unknown" {
				goVer = runtime.Version()
			}

			titleColor := color.New(color.FgCyan, color.Bold)
			out := cmd.OutOrStdout()

			titleColor.Fprint(out, "Relay version: ")
			fmt.Fprintln(out, Version)
			titleColor.Fprint(out, "Git commit: ")
			fmt.Fprintln(out, GitCommit)
			titleColor.Fprint(out, "Build date: ")
			fmt.Fprintln(out, BuildDate)
			titleColor.Fprint(out, "Go version: ")
			fmt.Fprintln(out, goVer)
		},
	}
}

// Execute runs the root command
func Execute(handlers manifest.HandlerSet) error {
	rootCmd := NewRootCommand(handlers)
	if err := rootCmd.Execute(); err != nil {
		if !isReported(err) {
			errorColor := color.New(color.FgRed, color.Bold)
			errorColor.Fprintf(rootCmd.ErrOrStderr(), "Error: %v\n", err)
		}
		return err
	}
	return nil
}
