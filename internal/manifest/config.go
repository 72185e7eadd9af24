package manifest

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"

	"github.com/conduit-lang/relay/internal/util/merge"
)

// Category is one of the three handler families.
type Category int

const (
	CategoryCommand Category = iota + 1
	CategoryComponent
	CategoryEvent
)

// String returns the string representation of Category
func (c Category) String() string {
	switch c {
	case CategoryCommand:
		return "command"
	case CategoryComponent:
		return "component"
	case CategoryEvent:
		return "event"
	default:
		return "unknown"
	}
}

// ParseCategory parses the names produced by Category.String.
func ParseCategory(s string) (Category, error) {
	switch strings.TrimSuffix(strings.ToLower(s), "s") {
	case "command":
		return CategoryCommand, nil
	case "component":
		return CategoryComponent, nil
	case "event":
		return CategoryEvent, nil
	}
	return 0, fmt.Errorf("unknown handler category %q", s)
}

// MarshalText implements encoding.TextMarshaler
func (c Category) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (c *Category) UnmarshalText(b []byte) error {
	parsed, err := ParseCategory(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Config is the typed, merged configuration of a handler. The concrete type
// is one of *CommandConfig, *ComponentConfig or *EventConfig.
type Config interface {
	// Category reports which variant this is.
	Category() Category
	// InvokeTimeout is the advisory deadline applied to each invocation;
	// zero means the dispatcher default.
	InvokeTimeout() time.Duration
}

// CommandConfig configures a command handler.
type CommandConfig struct {
	Description              string        `mapstructure:"description" json:"description,omitempty"`
	DefaultMemberPermissions string        `mapstructure:"default_member_permissions" json:"default_member_permissions,omitempty"`
	DMPermission             *bool         `mapstructure:"dm_permission" json:"dm_permission,omitempty"`
	NSFW                     bool          `mapstructure:"nsfw" json:"nsfw,omitempty"`
	Contexts                 []string      `mapstructure:"contexts" json:"contexts,omitempty"`
	IntegrationTypes         []string      `mapstructure:"integration_types" json:"integration_types,omitempty"`
	Timeout                  time.Duration `mapstructure:"timeout" json:"timeout,omitempty"`
}

func (c *CommandConfig) Category() Category          { return CategoryCommand }
func (c *CommandConfig) InvokeTimeout() time.Duration { return c.Timeout }

// ComponentConfig configures a component handler.
type ComponentConfig struct {
	// Defer asks the transport to acknowledge before the handler finishes.
	Defer   bool          `mapstructure:"defer" json:"defer,omitempty"`
	Timeout time.Duration `mapstructure:"timeout" json:"timeout,omitempty"`
}

func (c *ComponentConfig) Category() Category          { return CategoryComponent }
func (c *ComponentConfig) InvokeTimeout() time.Duration { return c.Timeout }

// EventConfig configures an event handler.
type EventConfig struct {
	Timeout time.Duration `mapstructure:"timeout" json:"timeout,omitempty"`
}

func (c *EventConfig) Category() Category          { return CategoryEvent }
func (c *EventConfig) InvokeTimeout() time.Duration { return c.Timeout }

// Defaults holds category-level configuration applied beneath every
// handler's inline configuration.
type Defaults struct {
	Commands   map[string]any `mapstructure:"commands" json:"commands,omitempty"`
	Components map[string]any `mapstructure:"components" json:"components,omitempty"`
	Events     map[string]any `mapstructure:"events" json:"events,omitempty"`
}

func (d Defaults) forCategory(c Category) map[string]any {
	switch c {
	case CategoryCommand:
		return d.Commands
	case CategoryComponent:
		return d.Components
	case CategoryEvent:
		return d.Events
	}
	return nil
}

// resolveConfig merges the category defaults with inline and decodes the
// result into the variant for category. Unknown keys are rejected.
func resolveConfig(category Category, defaults Defaults, inline map[string]any) (Config, map[string]any, error) {
	raw := merge.Merge(defaults.forCategory(category), inline)

	var cfg Config
	switch category {
	case CategoryCommand:
		cfg = &CommandConfig{}
	case CategoryComponent:
		cfg = &ComponentConfig{}
	case CategoryEvent:
		cfg = &EventConfig{}
	default:
		return nil, nil, fmt.Errorf("unknown category %d", category)
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		ErrorUnused:      true,
		WeaklyTypedInput: false,
		Result:           cfg,
	})
	if err != nil {
		return nil, nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, nil, err
	}
	if cfg.InvokeTimeout() < 0 {
		return nil, nil, fmt.Errorf("timeout must not be negative")
	}

	return cfg, raw, nil
}
