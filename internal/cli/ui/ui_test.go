package ui

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatError(t *testing.T) {
	tests := []struct {
		name     string
		opts     ErrorOptions
		contains []string
	}{
		{
			name:     "context and problem",
			opts:     ErrorOptions{Context: "no match", Problem: "No handler accepts 'x'."},
			contains: []string{"❌ NO MATCH\n", "   No handler accepts 'x'.\n"},
		},
		{
			name:     "details",
			opts:     ErrorOptions{Problem: "broken", Details: []string{"one", "two"}},
			contains: []string{"   • one\n", "   • two\n"},
		},
		{
			name:     "suggestions",
			opts:     ErrorOptions{Problem: "missing", Suggestions: []string{"vote_yes", "vote_no"}},
			contains: []string{"Did you mean: vote_yes, vote_no?"},
		},
		{
			name:     "help commands",
			opts:     ErrorOptions{Problem: "missing", HelpCommands: []string{"List handlers: relay routes"}},
			contains: []string{"→ List handlers: relay routes"},
		},
		{
			name:     "warning",
			opts:     ErrorOptions{Level: ErrorLevelWarning, Problem: "careful"},
			contains: []string{"⚠️ careful"},
		},
		{
			name:     "info",
			opts:     ErrorOptions{Level: ErrorLevelInfo, Problem: "fyi"},
			contains: []string{"ℹ️ fyi"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.opts.NoColor = true
			out := FormatError(tt.opts)
			for _, want := range tt.contains {
				assert.Contains(t, out, want)
			}
		})
	}
}

func TestHelpers(t *testing.T) {
	out := BuildError([]string{"commands/ping.yml: duplicate key", "events/x.yml: unknown event"}, true)
	assert.Contains(t, out, "BUILD FAILED")
	assert.Contains(t, out, "2 problem(s)")
	assert.Contains(t, out, "• events/x.yml: unknown event")
	assert.Contains(t, out, "relay build --json")

	assert.Contains(t, NoMatchError("vote-yes", []string{"vote_yes"}, true), "Did you mean: vote_yes?")
	assert.Contains(t, ConfigError("server.port is invalid", true), "relay init")
	assert.Equal(t, "✓ built", FormatSuccess("built", true))

	var buf bytes.Buffer
	WriteSuccess(&buf, "done", true)
	assert.Equal(t, "✓ done\n", buf.String())
}

func TestTable(t *testing.T) {
	var buf bytes.Buffer
	table := NewTable(&buf, true, "KEY", "KIND", "SOURCE")
	table.AddRow("vote_:choice", "button", "components/buttons/vote_:choice.yml")
	table.AddRow("ping", "", "commands/ping.yml", "ignored")
	table.Render()

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	assert.Len(t, lines, 4)
	assert.Equal(t, "KEY           KIND    SOURCE", lines[0])
	assert.Equal(t, "────────────  ──────  ───────────────────────────────────", lines[1])
	assert.Equal(t, "vote_:choice  button  components/buttons/vote_:choice.yml", lines[2])
	assert.Equal(t, "ping                  commands/ping.yml", lines[3])
	assert.Equal(t, 2, table.Len())
}

func TestTableWithoutHeaders(t *testing.T) {
	var buf bytes.Buffer
	NewTable(&buf, true).Render()
	assert.Empty(t, buf.String())
}

func TestKeyValueTable(t *testing.T) {
	var buf bytes.Buffer
	kv := NewKeyValueTable(&buf, true)
	kv.AddRow("id", "175928847299117063")
	kv.AddRow("worker", "1")
	kv.Render()

	assert.Equal(t, "id:     175928847299117063\nworker: 1\n", buf.String())
}

func TestLevenshteinDistance(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"", "abc", 3},
		{"abc", "", 3},
		{"kitten", "sitting", 3},
		{"saturday", "sunday", 3},
		{"vote_yes", "vote-yes", 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LevenshteinDistance(tt.a, tt.b), "%q -> %q", tt.a, tt.b)
	}
}

func TestSuggest(t *testing.T) {
	candidates := []string{"vote_yes", "vote_no", "ping", "PONG", "admin.ban"}

	assert.Equal(t, []string{"vote_yes"}, Suggest("vote-yes", candidates, 3))
	assert.Equal(t, []string{"PONG", "ping"}, Suggest("pong", candidates, 3))
	assert.Equal(t, []string{"PONG"}, Suggest("pong", candidates, 1))
	assert.Empty(t, Suggest("completely-different", candidates, 3))
}
