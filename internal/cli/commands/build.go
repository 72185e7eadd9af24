package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/conduit-lang/relay/internal/cli/ui"
	"github.com/conduit-lang/relay/internal/manifest"
)

// NewBuildCommand creates the build command
func NewBuildCommand(app *App) *cobra.Command {
	var (
		jsonOutput bool
		output     string
		quiet      bool
	)

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Validate handler definitions and write the manifest artifact",
		Long: `Discover every handler definition, bind it to its Go handler and write
the resulting manifest as JSON.

Every problem is reported at once: duplicate keys (with both sources),
invalid patterns, unsupported events, unknown handlers and bad config.`,
		Example: `  # Build with default settings
  relay build

  # Report problems as JSON (useful for tooling)
  relay build --json

  # Write the artifact somewhere else
  relay build --output dist/manifest.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd, app, output, jsonOutput, quiet)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the result in JSON format")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Artifact path (default: layout.artifact)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not list handlers")

	return cmd
}

type buildReport struct {
	Success  bool                    `json:"success"`
	Artifact string                  `json:"artifact,omitempty"`
	Handlers int                     `json:"handlers"`
	Duration string                  `json:"duration"`
	Errors   []*manifest.ConfigError `json:"errors,omitempty"`
}

func runBuild(cmd *cobra.Command, app *App, output string, jsonOutput, quiet bool) error {
	start := time.Now()
	out := cmd.OutOrStdout()

	p, err := app.loadProject()
	if err != nil {
		if jsonOutput {
			return err
		}
		fmt.Fprint(cmd.ErrOrStderr(), ui.ConfigError(err.Error(), app.NoColor))
		return reported(err)
	}
	defer p.logger.Sync()

	m, err := p.discover(app.Handlers)
	if err != nil {
		var be *manifest.BuildError
		if !errors.As(err, &be) {
			return err
		}
		if jsonOutput {
			writeJSON(out, buildReport{Duration: time.Since(start).String(), Errors: be.Errors})
		} else {
			fmt.Fprint(cmd.ErrOrStderr(), ui.BuildError(problems(err), app.NoColor))
		}
		return reported(err)
	}

	if output == "" {
		output = p.config.Layout.Artifact
	}
	path := p.path(output)
	if err := m.WriteArtifact(path); err != nil {
		return err
	}

	if jsonOutput {
		writeJSON(out, buildReport{
			Success:  true,
			Artifact: path,
			Handlers: m.Len(),
			Duration: time.Since(start).String(),
		})
		return nil
	}

	if !quiet {
		renderManifest(out, m, app.NoColor)
		fmt.Fprintln(out)
	}
	ui.WriteSuccess(out, fmt.Sprintf("Built %d handler(s) in %s → %s", m.Len(), time.Since(start).Round(time.Millisecond), path), app.NoColor)
	return nil
}

func writeJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
