// Package builtin provides handlers every relay binary can bind by name.
// Applications add their own handlers to the same set.
package builtin

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/conduit-lang/relay/internal/interaction"
	"github.com/conduit-lang/relay/internal/manifest"
)

// Handlers returns a fresh set holding the builtin handlers.
func Handlers() manifest.HandlerSet {
	return manifest.HandlerSet{}.
		Register("pong", Pong).
		Register("ack", Ack).
		Register("echo", Echo).
		Register("log", Log)
}

// Pong replies "Pong!" to the invoking user only.
func Pong(ctx context.Context, ic *interaction.Context) (any, error) {
	return interaction.Message("Pong!", true), nil
}

// Ack defers the response. Events need no response and get nil.
func Ack(ctx context.Context, ic *interaction.Context) (any, error) {
	if ic.Kind() == interaction.KindEvent {
		return nil, nil
	}
	return interaction.Deferred(ic.Kind()), nil
}

// Echo describes what was routed: the handler key, bound parameters,
// command options and selected values. It is meant for trying out
// patterns.
func Echo(ctx context.Context, ic *interaction.Context) (any, error) {
	if ic.Kind() == interaction.KindAutocomplete {
		focused, ok := ic.Focused()
		if !ok {
			return interaction.Autocomplete(), nil
		}
		typed := strings.Trim(string(focused.Value), `"`)
		return interaction.Autocomplete(interaction.Choice{Name: typed, Value: typed}), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s → %s", ic.Kind(), ic.Key)

	names := make([]string, 0, len(ic.Params))
	for name := range ic.Params {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, "\n%s = %s", name, ic.Params[name])
	}

	if ic.Kind() == interaction.KindCommand {
		for _, opt := range ic.Envelope.LeafOptions() {
			fmt.Fprintf(&b, "\n--%s %s", opt.Name, opt.Value)
		}
	}
	if values := ic.Values(); len(values) > 0 {
		fmt.Fprintf(&b, "\nvalues: %s", strings.Join(values, ", "))
	}

	return interaction.Message(b.String(), true), nil
}

// Log records the request at info level and responds with nothing.
func Log(ctx context.Context, ic *interaction.Context) (any, error) {
	fields := []zap.Field{
		zap.String("kind", ic.Kind().String()),
		zap.String("key", ic.Key),
	}
	if ev := ic.Envelope.Event; ev != nil {
		fields = append(fields, zap.ByteString("data", ev.Data))
	}
	ic.Logger.Info("received", fields...)

	if ic.Kind() == interaction.KindEvent {
		return nil, nil
	}
	return interaction.Deferred(ic.Kind()), nil
}
