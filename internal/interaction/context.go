package interaction

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// Context is handed to a handler for one invocation. It is built per request
// and never shared between requests.
type Context struct {
	// Envelope is the decoded request.
	Envelope *Envelope
	// Key is the manifest key of the handler being invoked: a command name,
	// a component pattern, or an event type.
	Key string
	// Params holds values bound by pattern captures. Never nil.
	Params map[string]string
	// RequestID identifies the inbound request in logs.
	RequestID string
	// Logger is scoped to this invocation.
	Logger *zap.Logger
}

// NewContext builds a handler context.
func NewContext(env *Envelope, key string, params map[string]string, requestID string, logger *zap.Logger) *Context {
	if params == nil {
		params = map[string]string{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Context{
		Envelope:  env,
		Key:       key,
		Params:    params,
		RequestID: requestID,
		Logger:    logger,
	}
}

// Param returns a captured pattern parameter, or "" when absent.
func (c *Context) Param(name string) string {
	return c.Params[name]
}

// Kind returns the envelope kind.
func (c *Context) Kind() Kind {
	return c.Envelope.Kind()
}

// Option looks up a leaf command option by name.
func (c *Context) Option(name string) (*CommandOption, bool) {
	opts := c.Envelope.LeafOptions()
	for i := range opts {
		if opts[i].Name == name {
			return &opts[i], true
		}
	}
	return nil, false
}

// OptionValue decodes a leaf command option into v.
func (c *Context) OptionValue(name string, v any) error {
	opt, ok := c.Option(name)
	if !ok {
		return fmt.Errorf("option %q not present", name)
	}
	if len(opt.Value) == 0 {
		return fmt.Errorf("option %q has no value", name)
	}
	return json.Unmarshal(opt.Value, v)
}

// Focused returns the option being typed in an autocomplete interaction.
func (c *Context) Focused() (*CommandOption, bool) {
	opts := c.Envelope.LeafOptions()
	for i := range opts {
		if opts[i].Focused {
			return &opts[i], true
		}
	}
	return nil, false
}

// Values returns the selected values of a select menu interaction.
func (c *Context) Values() []string {
	if data := c.Envelope.Component(); data != nil {
		return data.Values
	}
	return nil
}

// EventData decodes the webhook event payload into v.
func (c *Context) EventData(v any) error {
	if c.Envelope.Event == nil {
		return fmt.Errorf("envelope is not an event")
	}
	if len(c.Envelope.Event.Data) == 0 {
		return fmt.Errorf("event %s has no data", c.Envelope.Event.Type)
	}
	return json.Unmarshal(c.Envelope.Event.Data, v)
}
