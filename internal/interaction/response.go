package interaction

// Interaction callback types.
const (
	ResponsePong                   = 1
	ResponseChannelMessage         = 4
	ResponseDeferredChannelMessage = 5
	ResponseDeferredUpdateMessage  = 6
	ResponseUpdateMessage          = 7
	ResponseAutocompleteResult     = 8
	ResponseModal                  = 9
)

// FlagEphemeral shows a message only to the invoking user.
const FlagEphemeral = 1 << 6

// Response is the body returned to the platform for an interaction.
// Handlers may return one, or any other JSON-encodable value.
type Response struct {
	Type int           `json:"type"`
	Data *ResponseData `json:"data,omitempty"`
}

// ResponseData carries the message or autocomplete payload of a Response.
type ResponseData struct {
	Content string   `json:"content,omitempty"`
	Flags   int      `json:"flags,omitempty"`
	Choices []Choice `json:"choices,omitempty"`
}

// Choice is one autocomplete suggestion.
type Choice struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// Pong answers a PING interaction.
func Pong() *Response {
	return &Response{Type: ResponsePong}
}

// Message replies with a new message.
func Message(content string, ephemeral bool) *Response {
	data := &ResponseData{Content: content}
	if ephemeral {
		data.Flags = FlagEphemeral
	}
	return &Response{Type: ResponseChannelMessage, Data: data}
}

// Deferred acknowledges an interaction whose reply will follow later. Kinds
// attached to an existing message defer an update of that message; others
// defer a new message.
func Deferred(kind Kind) *Response {
	switch kind {
	case KindComponent, KindModal:
		return &Response{Type: ResponseDeferredUpdateMessage}
	default:
		return &Response{Type: ResponseDeferredChannelMessage}
	}
}

// Autocomplete answers an autocomplete interaction with choices.
func Autocomplete(choices ...Choice) *Response {
	return &Response{Type: ResponseAutocompleteResult, Data: &ResponseData{Choices: choices}}
}
