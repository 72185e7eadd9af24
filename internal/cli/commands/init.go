package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	"github.com/AlecAivazis/survey/v2"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/conduit-lang/relay/internal/cli/config"
	"github.com/conduit-lang/relay/internal/web/auth"
)

// initOptions are the answers that shape a new project.
type initOptions struct {
	AppID         string
	PublicKey     string
	ReplayBackend string
}

var configTemplate = template.Must(template.New("relay.yml").Parse(`app:
  id: "{{.AppID}}"
  # Hex encoded Ed25519 key from the developer portal.
  public_key: "{{.PublicKey}}"

layout:
  commands_dir: commands
  components_dir: components
  events_dir: events
  artifact: build/manifest.json

# Merged under every definition's config block.
defaults:
  commands: {}
  components: {}
  events: {}

server:
  host: localhost
  port: 8080
  interactions_path: /interactions
  events_path: /events
  handler_timeout: 3s
  event_concurrency: 8

replay:
  backend: {{.ReplayBackend}}
  window: 5m
{{- if eq .ReplayBackend "redis"}}
  redis:
    addr: localhost:6379
{{- end}}

admin:
  enabled: false
  # secret: set RELAY_ADMIN_SECRET instead of committing it

logging:
  level: info
`))

// exampleDefinitions are written by init, keyed by project-relative path.
var exampleDefinitions = map[string]string{
	"commands/ping.yml": `handler: pong
description: Check that the bot is alive
`,
	"components/buttons/echo_[action].yml": `handler: echo
`,
	"events/application_authorized.yml": `handler: log
name: audit
`,
}

var projectDirs = []string{
	"commands",
	"components/buttons",
	"components/selects",
	"components/modals",
	"events",
}

// NewInitCommand creates the init command
func NewInitCommand(app *App) *cobra.Command {
	var (
		opts  initOptions
		yes   bool
		force bool
	)

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Create a relay project",
		Long: `Create relay.yml and the handler directories with one example of each
category. Prompts for missing values when run in a terminal.`,
		Example: `  relay init
  relay init bot --app-id 1234 --public-key $KEY --yes`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := app.Dir
			if len(args) == 1 {
				dir = args[0]
			}

			if !yes && isatty.IsTerminal(os.Stdin.Fd()) {
				if err := promptInit(&opts); err != nil {
					return err
				}
			}
			if opts.PublicKey != "" {
				if _, err := auth.ParsePublicKey(opts.PublicKey); err != nil {
					return err
				}
			}

			written, err := initProject(dir, opts, force)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, path := range written {
				fmt.Fprintf(out, "  %s %s\n", color.GreenString("create"), path)
			}
			fmt.Fprintln(out)
			fmt.Fprintf(out, "Next steps:\n  cd %s\n  relay build\n  relay serve\n", dir)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.AppID, "app-id", "", "Application id")
	cmd.Flags().StringVar(&opts.PublicKey, "public-key", "", "Hex encoded Ed25519 public key")
	cmd.Flags().StringVar(&opts.ReplayBackend, "replay", config.ReplayMemory, "Replay backend: none, memory or redis")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not prompt")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing relay.yml")

	return cmd
}

func promptInit(opts *initOptions) error {
	questions := []*survey.Question{
		{
			Name:   "AppID",
			Prompt: &survey.Input{Message: "Application id:", Default: opts.AppID},
		},
		{
			Name:   "PublicKey",
			Prompt: &survey.Input{Message: "Public key (hex):", Default: opts.PublicKey},
			Validate: func(ans interface{}) error {
				s, _ := ans.(string)
				if s == "" {
					return nil
				}
				_, err := auth.ParsePublicKey(s)
				return err
			},
		},
		{
			Name: "ReplayBackend",
			Prompt: &survey.Select{
				Message: "Replay protection:",
				Options: []string{config.ReplayMemory, config.ReplayRedis, config.ReplayNone},
				Default: opts.ReplayBackend,
			},
		},
	}
	return survey.Ask(questions, opts)
}

// initProject writes the project skeleton into dir and returns the created
// paths relative to dir. Existing example definitions are left alone.
func initProject(dir string, opts initOptions, force bool) ([]string, error) {
	switch opts.ReplayBackend {
	case config.ReplayNone, config.ReplayMemory, config.ReplayRedis:
	case "":
		opts.ReplayBackend = config.ReplayMemory
	default:
		return nil, fmt.Errorf("unknown replay backend %q", opts.ReplayBackend)
	}

	configPath := filepath.Join(dir, config.FileNames[0])
	if _, err := os.Stat(configPath); err == nil && !force {
		return nil, fmt.Errorf("%s already exists (use --force to overwrite)", configPath)
	}

	var written []string
	for _, d := range projectDirs {
		if err := os.MkdirAll(filepath.Join(dir, filepath.FromSlash(d)), 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", d, err)
		}
	}

	var b strings.Builder
	if err := configTemplate.Execute(&b, opts); err != nil {
		return nil, err
	}
	if err := os.WriteFile(configPath, []byte(b.String()), 0644); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", configPath, err)
	}
	written = append(written, config.FileNames[0])

	for _, rel := range sortedKeys(exampleDefinitions) {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		if _, err := os.Stat(path); err == nil {
			continue
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		if err := os.WriteFile(path, []byte(exampleDefinitions[rel]), 0644); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", rel, err)
		}
		written = append(written, rel)
	}
	return written, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
