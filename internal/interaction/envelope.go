// Package interaction decodes inbound platform envelopes and carries the
// per-invocation context handed to handlers.
package interaction

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Interaction type codes sent by the platform.
const (
	TypePing               = 1
	TypeApplicationCommand = 2
	TypeMessageComponent   = 3
	TypeAutocomplete       = 4
	TypeModalSubmit        = 5
)

// Webhook event envelope type codes.
const (
	WebhookTypePing  = 0
	WebhookTypeEvent = 1
)

// Component type codes carried in MESSAGE_COMPONENT data.
const (
	ComponentTypeButton            = 2
	ComponentTypeStringSelect      = 3
	ComponentTypeUserSelect        = 5
	ComponentTypeRoleSelect        = 6
	ComponentTypeMentionableSelect = 7
	ComponentTypeChannelSelect     = 8
)

// Command option type codes that nest subcommands.
const (
	OptionTypeSubCommand      = 1
	OptionTypeSubCommandGroup = 2
)

// ErrMalformedEnvelope is returned when a verified body cannot be decoded.
var ErrMalformedEnvelope = errors.New("interaction: malformed envelope")

// Kind discriminates decoded envelopes.
type Kind int

const (
	KindUnknown Kind = iota
	KindPing
	KindCommand
	KindAutocomplete
	KindComponent
	KindModal
	KindEvent
)

// String returns the string representation of Kind
func (k Kind) String() string {
	switch k {
	case KindPing:
		return "ping"
	case KindCommand:
		return "command"
	case KindAutocomplete:
		return "autocomplete"
	case KindComponent:
		return "component"
	case KindModal:
		return "modal"
	case KindEvent:
		return "event"
	default:
		return "unknown"
	}
}

// ComponentKind partitions component handlers by the interaction that
// triggers them.
type ComponentKind int

const (
	// ComponentAny matches every component kind when resolving.
	ComponentAny ComponentKind = iota
	ComponentButton
	ComponentSelect
	ComponentModal
)

// String returns the string representation of ComponentKind
func (k ComponentKind) String() string {
	switch k {
	case ComponentButton:
		return "button"
	case ComponentSelect:
		return "select"
	case ComponentModal:
		return "modal"
	default:
		return "any"
	}
}

// ParseComponentKind parses the names produced by ComponentKind.String.
// Plural directory names ("buttons") are accepted.
func ParseComponentKind(s string) (ComponentKind, error) {
	switch strings.TrimSuffix(strings.ToLower(s), "s") {
	case "button":
		return ComponentButton, nil
	case "select":
		return ComponentSelect, nil
	case "modal":
		return ComponentModal, nil
	case "any", "":
		return ComponentAny, nil
	}
	return ComponentAny, fmt.Errorf("unknown component kind %q", s)
}

// MarshalText implements encoding.TextMarshaler
func (k ComponentKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (k *ComponentKind) UnmarshalText(b []byte) error {
	parsed, err := ParseComponentKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Envelope is the outer JSON document of an inbound request. Interactions
// and webhook events share it; webhook events carry Event.
type Envelope struct {
	ID            string          `json:"id,omitempty"`
	ApplicationID string          `json:"application_id,omitempty"`
	Type          int             `json:"type"`
	Token         string          `json:"token,omitempty"`
	Version       int             `json:"version,omitempty"`
	GuildID       string          `json:"guild_id,omitempty"`
	ChannelID     string          `json:"channel_id,omitempty"`
	Locale        string          `json:"locale,omitempty"`
	Member        json.RawMessage `json:"member,omitempty"`
	User          json.RawMessage `json:"user,omitempty"`
	Message       json.RawMessage `json:"message,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`
	Event         *Event          `json:"event,omitempty"`

	kind      Kind
	command   *CommandData
	component *ComponentData
	modal     *ModalData
}

// Event is the body of a webhook event envelope.
type Event struct {
	Type      string          `json:"type"`
	Timestamp string          `json:"timestamp,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// CommandData is the data of APPLICATION_COMMAND and AUTOCOMPLETE interactions.
type CommandData struct {
	ID       string          `json:"id,omitempty"`
	Name     string          `json:"name"`
	Type     int             `json:"type,omitempty"`
	GuildID  string          `json:"guild_id,omitempty"`
	TargetID string          `json:"target_id,omitempty"`
	Options  []CommandOption `json:"options,omitempty"`
	Resolved json.RawMessage `json:"resolved,omitempty"`
}

// CommandOption is one option value, or a nested subcommand.
type CommandOption struct {
	Name    string          `json:"name"`
	Type    int             `json:"type"`
	Value   json.RawMessage `json:"value,omitempty"`
	Options []CommandOption `json:"options,omitempty"`
	Focused bool            `json:"focused,omitempty"`
}

// ComponentData is the data of MESSAGE_COMPONENT interactions.
type ComponentData struct {
	CustomID      string   `json:"custom_id"`
	ComponentType int      `json:"component_type"`
	Values        []string `json:"values,omitempty"`
}

// ModalData is the data of MODAL_SUBMIT interactions.
type ModalData struct {
	CustomID   string          `json:"custom_id"`
	Components json.RawMessage `json:"components,omitempty"`
}

// Decode parses body into an Envelope and classifies it.
func Decode(body []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if err := env.classify(); err != nil {
		return nil, err
	}
	return &env, nil
}

func (e *Envelope) classify() error {
	if e.Event != nil {
		if e.Type != WebhookTypeEvent {
			return fmt.Errorf("%w: event body on webhook type %d", ErrMalformedEnvelope, e.Type)
		}
		if e.Event.Type == "" {
			return fmt.Errorf("%w: event type is empty", ErrMalformedEnvelope)
		}
		e.kind = KindEvent
		return nil
	}

	switch e.Type {
	case WebhookTypePing, TypePing:
		e.kind = KindPing
	case TypeApplicationCommand, TypeAutocomplete:
		var data CommandData
		if err := e.decodeData(&data); err != nil {
			return err
		}
		if data.Name == "" {
			return fmt.Errorf("%w: command name is empty", ErrMalformedEnvelope)
		}
		e.command = &data
		e.kind = KindCommand
		if e.Type == TypeAutocomplete {
			e.kind = KindAutocomplete
		}
	case TypeMessageComponent:
		var data ComponentData
		if err := e.decodeData(&data); err != nil {
			return err
		}
		if data.CustomID == "" {
			return fmt.Errorf("%w: custom_id is empty", ErrMalformedEnvelope)
		}
		e.component = &data
		e.kind = KindComponent
	case TypeModalSubmit:
		var data ModalData
		if err := e.decodeData(&data); err != nil {
			return err
		}
		if data.CustomID == "" {
			return fmt.Errorf("%w: custom_id is empty", ErrMalformedEnvelope)
		}
		e.modal = &data
		e.kind = KindModal
	default:
		return fmt.Errorf("%w: unsupported type %d", ErrMalformedEnvelope, e.Type)
	}
	return nil
}

func (e *Envelope) decodeData(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%w: missing data", ErrMalformedEnvelope)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%w: data: %v", ErrMalformedEnvelope, err)
	}
	return nil
}

// Kind returns the envelope classification.
func (e *Envelope) Kind() Kind { return e.kind }

// Command returns the command data for command and autocomplete envelopes.
func (e *Envelope) Command() *CommandData { return e.command }

// Component returns the data for component envelopes.
func (e *Envelope) Component() *ComponentData { return e.component }

// Modal returns the data for modal submissions.
func (e *Envelope) Modal() *ModalData { return e.modal }

// CustomID returns the custom-id for component and modal envelopes.
func (e *Envelope) CustomID() string {
	switch {
	case e.component != nil:
		return e.component.CustomID
	case e.modal != nil:
		return e.modal.CustomID
	}
	return ""
}

// ComponentKind returns which component partition the envelope routes to.
func (e *Envelope) ComponentKind() ComponentKind {
	switch {
	case e.modal != nil:
		return ComponentModal
	case e.component == nil:
		return ComponentAny
	}
	switch e.component.ComponentType {
	case ComponentTypeButton:
		return ComponentButton
	case ComponentTypeStringSelect, ComponentTypeUserSelect, ComponentTypeRoleSelect,
		ComponentTypeMentionableSelect, ComponentTypeChannelSelect:
		return ComponentSelect
	}
	return ComponentAny
}

// CommandKeys returns the candidate command keys for a command envelope,
// most specific first: "admin.user.ban", "admin.user", "admin".
func (e *Envelope) CommandKeys() []string {
	if e.command == nil {
		return nil
	}
	path := []string{e.command.Name}
	opts := e.command.Options
	for {
		var next *CommandOption
		for i := range opts {
			if opts[i].Type == OptionTypeSubCommand || opts[i].Type == OptionTypeSubCommandGroup {
				next = &opts[i]
				break
			}
		}
		if next == nil {
			break
		}
		path = append(path, next.Name)
		opts = next.Options
	}

	keys := make([]string, 0, len(path))
	for i := len(path); i > 0; i-- {
		keys = append(keys, strings.Join(path[:i], "."))
	}
	return keys
}

// LeafOptions returns the option values beneath the deepest subcommand.
func (e *Envelope) LeafOptions() []CommandOption {
	if e.command == nil {
		return nil
	}
	opts := e.command.Options
	for {
		descended := false
		for _, o := range opts {
			if o.Type == OptionTypeSubCommand || o.Type == OptionTypeSubCommandGroup {
				opts = o.Options
				descended = true
				break
			}
		}
		if !descended {
			return opts
		}
	}
}
