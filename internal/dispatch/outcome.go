package dispatch

import (
	"time"

	"github.com/conduit-lang/relay/internal/interaction"
)

// OutcomeKind classifies the result of one dispatch.
type OutcomeKind int

const (
	// Unauthorized means the request failed authentication and nothing
	// was decoded or invoked.
	Unauthorized OutcomeKind = iota + 1
	// BadRequest means the request was authentic but its body could not
	// be decoded.
	BadRequest
	// Pong answers a platform liveness check.
	Pong
	// NoMatchingHandler means the request decoded but nothing is
	// registered for it.
	NoMatchingHandler
	// Dispatched means one or more handlers ran. Individual handlers may
	// still have failed; see Result.Err.
	Dispatched
)

// String returns the string representation of OutcomeKind
func (k OutcomeKind) String() string {
	switch k {
	case Unauthorized:
		return "unauthorized"
	case BadRequest:
		return "bad_request"
	case Pong:
		return "pong"
	case NoMatchingHandler:
		return "no_matching_handler"
	case Dispatched:
		return "dispatched"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler
func (k OutcomeKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Reasons attached to non-dispatched outcomes.
const (
	ReasonMissingHeaders   = "missing_signature_headers"
	ReasonInvalidSignature = "invalid_signature"
	ReasonStale            = "stale"
	ReasonReplayed         = "replayed"
	ReasonReplayStore      = "replay_store_unavailable"
	ReasonMalformed        = "malformed_envelope"
	ReasonNoHandler        = "no_handler"
)

// Outcome is the structured result of Coordinator.Dispatch.
type Outcome struct {
	Kind OutcomeKind `json:"kind"`
	// Reason explains non-dispatched outcomes.
	Reason    string `json:"reason,omitempty"`
	RequestID string `json:"request_id"`
	// Envelope is nil for Unauthorized and BadRequest outcomes.
	Envelope *interaction.Envelope `json:"-"`
	// Route names what was looked up: a command key, a custom-id or an
	// event type.
	Route    string        `json:"route,omitempty"`
	Results  []Result      `json:"results,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Failed reports whether any invoked handler returned an error or panicked.
func (o *Outcome) Failed() bool {
	for _, r := range o.Results {
		if r.Err != nil {
			return true
		}
	}
	return false
}

// Value returns the value of the first handler result. Interactions invoke a
// single handler, so this is the response payload for them.
func (o *Outcome) Value() (any, bool) {
	if len(o.Results) == 0 {
		return nil, false
	}
	return o.Results[0].Value, o.Results[0].Err == nil
}

// Result is the outcome of one handler invocation.
type Result struct {
	Key    string `json:"key"`
	Source string `json:"source"`
	// Params are the captures bound while matching a component pattern.
	Params   map[string]string `json:"params,omitempty"`
	Value    any               `json:"-"`
	Err      error             `json:"-"`
	Duration time.Duration     `json:"duration"`
}

// ErrorText returns the handler error text, or "".
func (r Result) ErrorText() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}
