package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/conduit-lang/relay/internal/cli/ui"
	"github.com/conduit-lang/relay/internal/manifest"
)

// NewRoutesCommand creates the routes command
func NewRoutesCommand(app *App) *cobra.Command {
	var (
		fromArtifact bool
		jsonOutput   bool
		category     string
	)

	cmd := &cobra.Command{
		Use:   "routes",
		Short: "List registered handlers",
		Example: `  # List everything discovered in the project
  relay routes

  # Only components, from the last build
  relay routes --artifact --category component`,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := app.loadProject()
			if err != nil {
				return err
			}
			defer p.logger.Sync()

			m, err := p.loadManifest(app.Handlers, fromArtifact)
			if err != nil {
				return err
			}

			a := m.Artifact()
			if category != "" {
				c, err := manifest.ParseCategory(category)
				if err != nil {
					return err
				}
				kept := a.Handlers[:0]
				for _, e := range a.Handlers {
					if e.Category == c {
						kept = append(kept, e)
					}
				}
				a.Handlers = kept
			}

			if jsonOutput {
				writeJSON(cmd.OutOrStdout(), a)
				return nil
			}
			renderEntries(cmd.OutOrStdout(), a.Handlers, app.NoColor)
			return nil
		},
	}

	cmd.Flags().BoolVar(&fromArtifact, "artifact", false, "Read the build artifact instead of discovering")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	cmd.Flags().StringVar(&category, "category", "", "Only list command, component or event handlers")

	return cmd
}

func renderManifest(w io.Writer, m *manifest.Manifest, noColor bool) {
	renderEntries(w, m.Artifact().Handlers, noColor)
}

func renderEntries(w io.Writer, entries []manifest.ArtifactEntry, noColor bool) {
	if len(entries) == 0 {
		fmt.Fprint(w, ui.Info("No handlers registered.", noColor))
		return
	}

	table := ui.NewTable(w, noColor, "CATEGORY", "KEY", "KIND", "HANDLER", "SOURCE")
	for _, e := range entries {
		kind := ""
		if e.Category == manifest.CategoryComponent {
			kind = e.Kind.String()
		}
		key := e.Key
		if e.Category == manifest.CategoryEvent && e.Name != "" {
			key = e.Key + " (" + e.Name + ")"
		}
		table.AddRow(e.Category.String(), key, kind, e.Handler, e.Source)
	}
	table.Render()
}

// componentKeys lists every component pattern, for suggestions.
func componentKeys(m *manifest.Manifest) []string {
	components := m.Components()
	keys := make([]string, len(components))
	for i, d := range components {
		keys[i] = d.Key()
	}
	return keys
}
