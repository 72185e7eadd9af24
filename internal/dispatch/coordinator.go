// Package dispatch authenticates inbound requests, routes them through the
// manifest and invokes the matched handlers.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/conduit-lang/relay/internal/interaction"
	"github.com/conduit-lang/relay/internal/manifest"
	"github.com/conduit-lang/relay/internal/router"
	"github.com/conduit-lang/relay/internal/web/auth"
	"github.com/conduit-lang/relay/internal/web/replay"
)

// ErrHandlerPanic wraps a value recovered from a panicking handler.
var ErrHandlerPanic = errors.New("handler panicked")

// DefaultEventConcurrency bounds concurrent event handlers per dispatch.
const DefaultEventConcurrency = 8

// Coordinator is the dispatch entry point. It holds only immutable state and
// may be shared by any number of concurrent requests.
type Coordinator struct {
	router           *router.Router
	verifier         *auth.Verifier
	guard            *replay.Guard
	logger           *zap.Logger
	timeout          time.Duration
	eventConcurrency int
	observers        []func(*Outcome)
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the coordinator logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHandlerTimeout sets the deadline applied to handlers whose
// configuration does not name one. Zero disables the default deadline.
func WithHandlerTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		c.timeout = d
	}
}

// WithEventConcurrency bounds how many subscribers of one event run at once.
func WithEventConcurrency(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.eventConcurrency = n
		}
	}
}

// WithReplayGuard rejects stale and repeated signatures.
func WithReplayGuard(g *replay.Guard) Option {
	return func(c *Coordinator) {
		c.guard = g
	}
}

// WithObserver registers fn to receive every outcome after dispatch. fn runs
// on the request goroutine and must not block.
func WithObserver(fn func(*Outcome)) Option {
	return func(c *Coordinator) {
		if fn != nil {
			c.observers = append(c.observers, fn)
		}
	}
}

// New creates a Coordinator over a built manifest.
func New(m *manifest.Manifest, verifier *auth.Verifier, opts ...Option) *Coordinator {
	c := &Coordinator{
		router:           router.New(m),
		verifier:         verifier,
		logger:           zap.NewNop(),
		eventConcurrency: DefaultEventConcurrency,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Router returns the router used for resolution.
func (c *Coordinator) Router() *router.Router {
	return c.router
}

// DispatchOption adjusts a single Dispatch call.
type DispatchOption func(*dispatchOptions)

type dispatchOptions struct {
	publicKey string
	requestID string
}

// WithPublicKey verifies this request with publicKeyHex instead of the
// configured key.
func WithPublicKey(publicKeyHex string) DispatchOption {
	return func(o *dispatchOptions) {
		o.publicKey = publicKeyHex
	}
}

// WithRequestID sets the request id instead of generating one.
func WithRequestID(id string) DispatchOption {
	return func(o *dispatchOptions) {
		o.requestID = id
	}
}

// Dispatch authenticates body, decodes it, routes it and invokes the
// matching handlers. It never returns an error: every failure mode is
// described by the Outcome.
func (c *Coordinator) Dispatch(ctx context.Context, body []byte, headers http.Header, opts ...DispatchOption) *Outcome {
	o := dispatchOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.requestID == "" {
		o.requestID = uuid.New().String()
	}

	start := time.Now()
	out := c.dispatch(ctx, body, headers, o)
	out.RequestID = o.requestID
	out.Duration = time.Since(start)

	for _, fn := range c.observers {
		fn(out)
	}
	return out
}

func (c *Coordinator) dispatch(ctx context.Context, body []byte, headers http.Header, o dispatchOptions) *Outcome {
	logger := c.logger.With(zap.String("request_id", o.requestID))

	signature := headers.Get(auth.SignatureHeader)
	timestamp := headers.Get(auth.TimestampHeader)
	if signature == "" || timestamp == "" {
		logger.Debug("rejected request", zap.String("reason", ReasonMissingHeaders))
		return &Outcome{Kind: Unauthorized, Reason: ReasonMissingHeaders}
	}
	if !c.verify(body, signature, timestamp, o.publicKey) {
		logger.Debug("rejected request", zap.String("reason", ReasonInvalidSignature))
		return &Outcome{Kind: Unauthorized, Reason: ReasonInvalidSignature}
	}

	if c.guard != nil {
		if err := c.guard.Check(ctx, signature, timestamp); err != nil {
			reason := ReasonReplayStore
			switch {
			case errors.Is(err, replay.ErrStale):
				reason = ReasonStale
			case errors.Is(err, replay.ErrReplayed):
				reason = ReasonReplayed
			default:
				logger.Warn("replay store unavailable", zap.Error(err))
			}
			logger.Debug("rejected request", zap.String("reason", reason))
			return &Outcome{Kind: Unauthorized, Reason: reason}
		}
	}

	env, err := interaction.Decode(body)
	if err != nil {
		logger.Debug("malformed envelope", zap.Error(err))
		return &Outcome{Kind: BadRequest, Reason: ReasonMalformed}
	}

	out := &Outcome{Envelope: env}
	switch env.Kind() {
	case interaction.KindPing:
		out.Kind = Pong
		return out
	case interaction.KindEvent:
		out.Route = env.Event.Type
		subscribers := c.router.ResolveEvent(env.Event.Type)
		if len(subscribers) == 0 {
			return c.miss(logger, out)
		}
		out.Kind = Dispatched
		out.Results = c.fanOut(ctx, env, subscribers, o.requestID, logger)
		return out
	}

	match, route := c.resolve(env)
	out.Route = route
	if match == nil {
		return c.miss(logger, out)
	}
	out.Kind = Dispatched
	out.Results = []Result{c.invoke(ctx, env, match.Descriptor, match.Params, o.requestID, logger)}
	return out
}

// verify fails closed: without a verifier only a per-call key can pass.
func (c *Coordinator) verify(body []byte, signature, timestamp, publicKey string) bool {
	if c.verifier == nil {
		return publicKey != "" && auth.Verify(body, signature, timestamp, publicKey)
	}
	return c.verifier.VerifyWithKey(body, signature, timestamp, publicKey)
}

func (c *Coordinator) resolve(env *interaction.Envelope) (*router.MatchResult, string) {
	switch env.Kind() {
	case interaction.KindCommand, interaction.KindAutocomplete:
		keys := env.CommandKeys()
		match, _ := c.router.ResolveCommand(keys...)
		return match, keys[0]
	case interaction.KindComponent, interaction.KindModal:
		customID := env.CustomID()
		match, _ := c.router.ResolveComponent(env.ComponentKind(), customID)
		return match, customID
	}
	return nil, ""
}

func (c *Coordinator) miss(logger *zap.Logger, out *Outcome) *Outcome {
	logger.Debug("no matching handler",
		zap.Stringer("kind", out.Envelope.Kind()),
		zap.String("route", out.Route),
	)
	out.Kind = NoMatchingHandler
	out.Reason = ReasonNoHandler
	return out
}

// fanOut runs every subscriber concurrently. Workers never return errors to
// the group so a failing subscriber cannot cancel its siblings; results keep
// registration order.
func (c *Coordinator) fanOut(ctx context.Context, env *interaction.Envelope, subscribers []*manifest.Descriptor, requestID string, logger *zap.Logger) []Result {
	results := make([]Result, len(subscribers))

	var g errgroup.Group
	g.SetLimit(c.eventConcurrency)
	for i, d := range subscribers {
		i, d := i, d
		g.Go(func() error {
			results[i] = c.invoke(ctx, env, d, nil, requestID, logger)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// invoke runs one handler under its deadline and converts panics into
// errors.
func (c *Coordinator) invoke(ctx context.Context, env *interaction.Envelope, d *manifest.Descriptor, params map[string]string, requestID string, logger *zap.Logger) (res Result) {
	logger = logger.With(
		zap.String("handler", d.Key()),
		zap.String("source", d.Source()),
	)
	res = Result{Key: d.Key(), Source: d.Source(), Params: params}

	timeout := c.timeout
	if cfg := d.Config(); cfg != nil && cfg.InvokeTimeout() > 0 {
		timeout = cfg.InvokeTimeout()
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
			logger.Error("handler panicked",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
		}
		res.Duration = time.Since(start)
	}()

	ic := interaction.NewContext(env, d.Key(), params, requestID, logger)
	res.Value, res.Err = d.Invoke(ctx, ic)
	if res.Err != nil {
		logger.Error("handler failed", zap.Error(res.Err))
	} else {
		logger.Debug("handler completed", zap.Duration("elapsed", time.Since(start)))
	}
	return res
}
