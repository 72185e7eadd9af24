package commands

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/conduit-lang/relay/internal/cli/ui"
	"github.com/conduit-lang/relay/internal/interaction"
	"github.com/conduit-lang/relay/internal/router"
)

// NewMatchCommand creates the match command
func NewMatchCommand(app *App) *cobra.Command {
	var (
		kind         string
		all          bool
		fromArtifact bool
	)

	cmd := &cobra.Command{
		Use:   "match <custom-id>",
		Short: "Show which component pattern a custom-id routes to",
		Long: `Resolve a custom-id the way the dispatcher does and print the winning
pattern with its bound parameters. With --all every matching pattern is
listed in precedence order: fewest captures first, then registration order.`,
		Example: `  relay match vote_yes
  relay match poll_42_red --kind select --all`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			customID := args[0]
			k, err := interaction.ParseComponentKind(kind)
			if err != nil {
				return err
			}

			p, err := app.loadProject()
			if err != nil {
				return err
			}
			defer p.logger.Sync()

			m, err := p.loadManifest(app.Handlers, fromArtifact)
			if err != nil {
				return err
			}

			r := router.New(m)
			candidates := r.Candidates(k, customID)
			out := cmd.OutOrStdout()

			if len(candidates) == 0 {
				fmt.Fprint(cmd.ErrOrStderr(), ui.NoMatchError(customID, ui.Suggest(customID, componentKeys(m), 3), app.NoColor))
				return reported(fmt.Errorf("no component matches %q", customID))
			}

			if !all {
				candidates = candidates[:1]
			}
			for i, c := range candidates {
				if i > 0 {
					fmt.Fprintln(out)
				}
				renderMatch(out, c, i == 0, app.NoColor)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "any", "Component kind: button, select, modal or any")
	cmd.Flags().BoolVar(&all, "all", false, "List every matching pattern")
	cmd.Flags().BoolVar(&fromArtifact, "artifact", false, "Read the build artifact instead of discovering")

	return cmd
}

func renderMatch(w io.Writer, c *router.MatchResult, winner bool, noColor bool) {
	d := c.Descriptor
	kv := ui.NewKeyValueTable(w, noColor)
	kv.AddRow("pattern", d.Key())
	kv.AddRow("kind", d.Kind().String())
	kv.AddRow("handler", d.HandlerName())
	kv.AddRow("source", d.Source())
	kv.AddRow("winner", fmt.Sprint(winner))

	names := make([]string, 0, len(c.Params))
	for name := range c.Params {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		kv.AddRow(":"+name, c.Params[name])
	}
	kv.Render()
}
