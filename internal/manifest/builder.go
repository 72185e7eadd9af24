package manifest

import (
	"fmt"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/conduit-lang/relay/internal/interaction"
	"github.com/conduit-lang/relay/internal/pattern"
	"github.com/conduit-lang/relay/internal/util/merge"
)

// Supported webhook event types.
const (
	EventApplicationAuthorized   = "APPLICATION_AUTHORIZED"
	EventApplicationDeauthorized = "APPLICATION_DEAUTHORIZED"
	EventEntitlementCreate       = "ENTITLEMENT_CREATE"
	EventQuestUserEnrollment     = "QUEST_USER_ENROLLMENT"
)

var supportedEvents = map[string]bool{
	EventApplicationAuthorized:   true,
	EventApplicationDeauthorized: true,
	EventEntitlementCreate:       true,
	EventQuestUserEnrollment:     true,
}

// IsSupportedEvent reports whether eventType belongs to the closed set of
// subscribable events.
func IsSupportedEvent(eventType string) bool {
	return supportedEvents[eventType]
}

// SupportedEvents lists the subscribable event types.
func SupportedEvents() []string {
	return []string{
		EventApplicationAuthorized,
		EventApplicationDeauthorized,
		EventEntitlementCreate,
		EventQuestUserEnrollment,
	}
}

// Commands nest at most as command, group, subcommand.
const maxCommandDepth = 3

var commandSegment = regexp.MustCompile(`^[a-z0-9_-]{1,32}$`)

// Builder accumulates definitions and produces a Manifest. A Builder is not
// safe for concurrent use; Build is expected to run once at startup.
type Builder struct {
	defaults Defaults
	defs     []Definition
	logger   *zap.Logger
	now      func() time.Time
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithLogger sets the logger used for build diagnostics.
func WithLogger(logger *zap.Logger) BuilderOption {
	return func(b *Builder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewBuilder creates a Builder applying defaults beneath inline configuration.
func NewBuilder(defaults Defaults, opts ...BuilderOption) *Builder {
	b := &Builder{
		defaults: defaults,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Add queues a definition. Validation is deferred to Build so that every
// problem is reported at once.
func (b *Builder) Add(def Definition) *Builder {
	if def.Source == "" {
		def.Source = callerSource(2)
	}
	b.defs = append(b.defs, def)
	return b
}

// AddCommand registers a command handler under name.
func (b *Builder) AddCommand(name string, h Handler, config map[string]any) *Builder {
	return b.Add(Definition{
		Category: CategoryCommand,
		Key:      name,
		Source:   callerSource(2),
		Config:   config,
		Handler:  h,
	})
}

// AddComponent registers a component handler for a custom-id pattern.
func (b *Builder) AddComponent(kind interaction.ComponentKind, customIDPattern string, h Handler, config map[string]any) *Builder {
	return b.Add(Definition{
		Category: CategoryComponent,
		Key:      customIDPattern,
		Kind:     kind,
		Source:   callerSource(2),
		Config:   config,
		Handler:  h,
	})
}

// AddEvent subscribes a handler to an event type. name distinguishes
// several subscriptions to the same event.
func (b *Builder) AddEvent(eventType, name string, h Handler, config map[string]any) *Builder {
	return b.Add(Definition{
		Category: CategoryEvent,
		Key:      eventType,
		Name:     name,
		Source:   callerSource(2),
		Config:   config,
		Handler:  h,
	})
}

// Len returns the number of queued definitions.
func (b *Builder) Len() int {
	return len(b.defs)
}

// Build validates every definition and returns the manifest, or a
// *BuildError listing all problems. No manifest is returned on error.
func (b *Builder) Build() (*Manifest, error) {
	start := b.now()
	problems := &BuildError{}
	descriptors := make([]*Descriptor, 0, len(b.defs))
	seen := make(map[string]*Descriptor, len(b.defs))

	for _, def := range b.defs {
		d, errs := b.compile(def)
		if len(errs) > 0 {
			problems.Add(errs...)
			continue
		}

		id := d.identity()
		if prev, ok := seen[id]; ok {
			problems.Add(&ConfigError{
				Code:     CodeDuplicateKey,
				Category: d.category,
				Key:      d.key,
				Source:   d.source,
				Related:  prev.source,
				Message:  fmt.Sprintf("conflicts with %q", prev.key),
			})
			continue
		}
		seen[id] = d
		d.order = len(descriptors)
		descriptors = append(descriptors, d)
	}

	if problems.Len() > 0 {
		b.logger.Error("manifest build failed", zap.Int("problems", problems.Len()))
		return nil, problems
	}

	m := newManifest(descriptors, b.now())
	b.logger.Info("manifest built",
		zap.Int("commands", len(m.commands)),
		zap.Int("components", len(m.components)),
		zap.Int("events", len(m.events)),
		zap.Duration("elapsed", b.now().Sub(start)),
	)
	return m, nil
}

// compile validates a single definition. It returns every problem found
// with the definition rather than stopping at the first.
func (b *Builder) compile(def Definition) (*Descriptor, []*ConfigError) {
	var errs []*ConfigError
	fail := func(code ErrorCode, format string, args ...any) {
		errs = append(errs, &ConfigError{
			Code:     code,
			Category: def.Category,
			Key:      def.Key,
			Source:   def.Source,
			Message:  fmt.Sprintf(format, args...),
		})
	}

	d := &Descriptor{
		category:    def.Category,
		key:         def.Key,
		source:      def.Source,
		handlerName: def.HandlerName,
		handler:     def.Handler,
	}

	switch def.Category {
	case CategoryCommand:
		if err := validateCommandName(def.Key); err != nil {
			fail(CodeInvalidName, "%v", err)
		}
	case CategoryComponent:
		p, err := pattern.Compile(def.Key)
		if err != nil {
			fail(CodeInvalidPattern, "%v", err)
		}
		d.pattern = p
		d.kind = def.Kind
	case CategoryEvent:
		if !IsSupportedEvent(def.Key) {
			fail(CodeUnsupportedEvent, "unsupported event type %q (supported: %s)",
				def.Key, strings.Join(SupportedEvents(), ", "))
		}
		d.name = firstNonEmpty(def.Name, def.HandlerName, def.Source)
	default:
		fail(CodeInvalidCategory, "unknown handler category %d", int(def.Category))
		return nil, errs
	}

	switch {
	case def.Handler == nil && def.HandlerName != "":
		fail(CodeUnboundHandler, "handler %q is not registered", def.HandlerName)
	case def.Handler == nil:
		fail(CodeMissingHandler, "no handler bound")
	}

	cfg, raw, err := resolveConfig(def.Category, b.defaults, def.Config)
	if err != nil {
		fail(CodeInvalidConfig, "invalid config: %v", err)
	}
	d.config = cfg
	// Merge shares untouched subtrees with defaults and inline config.
	d.rawConfig = merge.Clone(raw)

	if len(errs) > 0 {
		return nil, errs
	}
	return d, nil
}

func validateCommandName(name string) error {
	if name == "" {
		return fmt.Errorf("command name is empty")
	}
	segments := strings.Split(name, ".")
	if len(segments) > maxCommandDepth {
		return fmt.Errorf("command %q nests deeper than %d levels", name, maxCommandDepth)
	}
	for _, s := range segments {
		if !commandSegment.MatchString(s) {
			return fmt.Errorf("command segment %q must be 1-32 lowercase letters, digits, '-' or '_'", s)
		}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// callerSource describes the registration call site for diagnostics.
func callerSource(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "go:unknown"
	}
	return fmt.Sprintf("go:%s:%d", filepath.Base(file), line)
}
