package discovery

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/relay/internal/interaction"
	"github.com/conduit-lang/relay/internal/manifest"
)

func noop(ctx context.Context, ic *interaction.Context) (any, error) {
	return nil, nil
}

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	return root
}

func TestDiscoverDerivesKeysFromLayout(t *testing.T) {
	root := writeFiles(t, map[string]string{
		"commands/ping.yml":                   "description: Replies with pong\n",
		"commands/admin/ban.yaml":             "handler: ban\nconfig:\n  timeout: 5s\n",
		"components/buttons/vote_:choice.yml": "",
		"components/selects/role_[id].yml":    "handler: pickRole\n",
		"components/modals/feedback.yml":      "config:\n  defer: true\n",
		"events/application_authorized.yml":   "handler: welcome\n",
		"events/audit.yml":                    "event: APPLICATION_AUTHORIZED\nhandler: audit\n",
		"commands/README.md":                  "ignored",
		"commands/.hidden.yml":                "handler: nope\n",
	})

	handlers := manifest.HandlerSet{}
	for _, name := range []string{"ping", "ban", "vote_:choice", "pickRole", "feedback", "welcome", "audit"} {
		handlers.Register(name, noop)
	}

	m, err := Discover(root, Layout{}, handlers, manifest.Defaults{}, nil)
	require.NoError(t, err)

	ping, ok := m.Command("ping")
	require.True(t, ok)
	assert.Equal(t, "commands/ping.yml", ping.Source())
	assert.Equal(t, "Replies with pong", ping.Config().(*manifest.CommandConfig).Description)

	ban, ok := m.Command("admin.ban")
	require.True(t, ok)
	assert.Equal(t, "ban", ban.HandlerName())
	assert.Equal(t, 5*time.Second, ban.Config().InvokeTimeout())

	components := m.Components()
	require.Len(t, components, 3)
	assert.Equal(t, "vote_:choice", components[0].Key())
	assert.Equal(t, interaction.ComponentButton, components[0].Kind())
	assert.Equal(t, "role_[id]", components[1].Key())
	assert.Equal(t, interaction.ComponentSelect, components[1].Kind())
	assert.Equal(t, "feedback", components[2].Key())
	assert.Equal(t, interaction.ComponentModal, components[2].Kind())
	assert.True(t, components[2].Config().(*manifest.ComponentConfig).Defer)

	subs := m.EventHandlers(manifest.EventApplicationAuthorized)
	require.Len(t, subs, 2)
	assert.Equal(t, "welcome", subs[0].HandlerName())
	assert.Equal(t, "audit", subs[1].HandlerName())
}

func TestDiscoverOrderIsLexical(t *testing.T) {
	root := writeFiles(t, map[string]string{
		"commands/zeta.yml":  "",
		"commands/alpha.yml": "",
		"commands/mid.yml":   "",
	})
	handlers := manifest.HandlerSet{}
	handlers.Register("zeta", noop).Register("alpha", noop).Register("mid", noop)

	m, err := Discover(root, DefaultLayout(), handlers, manifest.Defaults{}, nil)
	require.NoError(t, err)

	var keys []string
	for _, d := range m.Commands() {
		keys = append(keys, d.Key())
	}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, keys)
}

func TestDiscoverCustomLayout(t *testing.T) {
	root := writeFiles(t, map[string]string{
		"slash/ping.yml":               "",
		"ui/buttons/ok.yml":            "",
		"hooks/entitlement_create.yml": "",
	})
	handlers := manifest.HandlerSet{}
	handlers.Register("ping", noop).Register("ok", noop).Register(manifest.EventEntitlementCreate, noop)

	layout := Layout{CommandsDir: "slash", ComponentsDir: "ui", EventsDir: "hooks"}
	m, err := Discover(root, layout, handlers, manifest.Defaults{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, m.Len())
	assert.Len(t, m.EventHandlers(manifest.EventEntitlementCreate), 1)
}

func TestDiscoverAppliesDefaults(t *testing.T) {
	root := writeFiles(t, map[string]string{
		"commands/ping.yml": "",
		"commands/slow.yml": "config:\n  timeout: 30s\n",
	})
	handlers := manifest.HandlerSet{}
	handlers.Register("ping", noop).Register("slow", noop)

	defaults := manifest.Defaults{Commands: map[string]any{"timeout": "2s"}}
	m, err := Discover(root, Layout{}, handlers, defaults, nil)
	require.NoError(t, err)

	ping, _ := m.Command("ping")
	slow, _ := m.Command("slow")
	assert.Equal(t, 2*time.Second, ping.Config().InvokeTimeout())
	assert.Equal(t, 30*time.Second, slow.Config().InvokeTimeout())
}

func TestDiscoverReportsAllProblemsTogether(t *testing.T) {
	root := writeFiles(t, map[string]string{
		"commands/ping.yml":                "handler: [not, a, string]\n",
		"commands/extra.yml":               "unknown_field: 1\n",
		"commands/unbound.yml":             "",
		"components/buttons/bad__x.yml":    "",
		"events/message_create.yml":        "",
		"components/buttons/nested/ok.yml": "",
	})

	_, err := Discover(root, Layout{}, manifest.HandlerSet{}, manifest.Defaults{}, nil)
	require.Error(t, err)

	var be *manifest.BuildError
	require.True(t, errors.As(err, &be))

	codes := map[string][]manifest.ErrorCode{}
	for _, e := range be.Errors {
		codes[e.Source] = append(codes[e.Source], e.Code)
	}
	assert.Equal(t, []manifest.ErrorCode{manifest.CodeInvalidFile}, codes["commands/ping.yml"])
	assert.Equal(t, []manifest.ErrorCode{manifest.CodeInvalidFile}, codes["commands/extra.yml"])
	assert.Equal(t, []manifest.ErrorCode{manifest.CodeUnboundHandler}, codes["commands/unbound.yml"])
	assert.Contains(t, codes["components/buttons/bad__x.yml"], manifest.CodeInvalidPattern)
	assert.Contains(t, codes["events/message_create.yml"], manifest.CodeUnsupportedEvent)
	assert.Equal(t, []manifest.ErrorCode{manifest.CodeInvalidFile}, codes["components/buttons/nested/ok.yml"])
}

func TestDiscoverDuplicateNamesBothFiles(t *testing.T) {
	root := writeFiles(t, map[string]string{
		"commands/ping.yml":  "",
		"commands/ping.yaml": "",
	})
	handlers := manifest.HandlerSet{}
	handlers.Register("ping", noop)

	_, err := Discover(root, Layout{}, handlers, manifest.Defaults{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "commands/ping.yml")
	assert.Contains(t, err.Error(), "commands/ping.yaml")
}

func TestDiscoverMissingDirectoriesAreEmpty(t *testing.T) {
	m, err := Discover(t.TempDir(), Layout{}, manifest.HandlerSet{}, manifest.Defaults{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, m.Len())
}

func TestDiscoverRejectsMissingRoot(t *testing.T) {
	_, err := Discover(filepath.Join(t.TempDir(), "absent"), Layout{}, manifest.HandlerSet{}, manifest.Defaults{}, nil)
	require.Error(t, err)

	var be *manifest.BuildError
	assert.False(t, errors.As(err, &be))
}
