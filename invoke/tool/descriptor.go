package tool

import "time"

// Timeout bounds applied to every descriptor at construction time.
//
// A descriptor asking for less than MinTimeout is raised to MinTimeout and
// one asking for more than MaxTimeout is lowered to MaxTimeout; there is no
// error, the value is silently adjusted. Callers who need a genuinely
// shorter deadline for a single call can override it per invocation, which
// skips this clamp.
const (
	MinTimeout     = 20 * time.Second
	MaxTimeout     = 60 * time.Second
	DefaultTimeout = 30 * time.Second
)

// DefaultMaxRetries is the retry budget a descriptor gets when none is
// declared: up to three attempts per invocation.
const DefaultMaxRetries = 2

// Descriptor is the immutable registration-time description of a tool.
//
// Descriptors are plain values with unexported fields: once NewDescriptor
// returns, nothing can change the name, schema, or bounds, so a descriptor
// is safe to share read-only across every concurrent invocation.
type Descriptor struct {
	name                 string
	description          string
	schema               Schema
	timeout              time.Duration
	maxRetries           int
	requiresConfirmation bool
	fallback             string
}

// DescriptorOption configures a Descriptor during construction.
type DescriptorOption func(*Descriptor)

// WithDescription sets the human-readable summary shown to planners.
func WithDescription(text string) DescriptorOption {
	return func(d *Descriptor) { d.description = text }
}

// WithSchema sets the argument schema enforced before every invocation.
func WithSchema(s Schema) DescriptorOption {
	return func(d *Descriptor) { d.schema = s }
}

// WithTimeout sets the per-attempt timeout. The value is clamped into
// [MinTimeout, MaxTimeout] when NewDescriptor runs.
func WithTimeout(timeout time.Duration) DescriptorOption {
	return func(d *Descriptor) { d.timeout = timeout }
}

// WithMaxRetries sets how many times a failed call is retried. Zero means a
// single attempt; negative values are treated as zero.
func WithMaxRetries(n int) DescriptorOption {
	return func(d *Descriptor) { d.maxRetries = n }
}

// WithConfirmation marks the tool as requiring human confirmation before
// dispatch. The flag is carried for the caller's policy layer; the runtime
// itself never acts on it.
func WithConfirmation() DescriptorOption {
	return func(d *Descriptor) { d.requiresConfirmation = true }
}

// WithFallback names the tool to try when this one terminally fails.
func WithFallback(name string) DescriptorOption {
	return func(d *Descriptor) { d.fallback = name }
}

// NewDescriptor builds an immutable descriptor.
//
// Unset options take defaults: DefaultTimeout, DefaultMaxRetries, an empty
// schema that matches everything. The timeout invariant is enforced here
// and only here, so every Descriptor in the process already carries a
// clamped value.
func NewDescriptor(name string, opts ...DescriptorOption) Descriptor {
	d := Descriptor{
		name:       name,
		timeout:    DefaultTimeout,
		maxRetries: DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(&d)
	}
	d.timeout = ClampTimeout(d.timeout)
	if d.maxRetries < 0 {
		d.maxRetries = 0
	}
	return d
}

// ClampTimeout forces a duration into the [MinTimeout, MaxTimeout] window.
// Zero or negative (unset) becomes DefaultTimeout.
func ClampTimeout(timeout time.Duration) time.Duration {
	switch {
	case timeout <= 0:
		return DefaultTimeout
	case timeout < MinTimeout:
		return MinTimeout
	case timeout > MaxTimeout:
		return MaxTimeout
	default:
		return timeout
	}
}

// Name returns the unique key the tool is registered under.
func (d Descriptor) Name() string { return d.name }

// Description returns the human-readable summary.
func (d Descriptor) Description() string { return d.description }

// Schema returns the argument schema.
func (d Descriptor) Schema() Schema { return d.schema }

// Timeout returns the clamped per-attempt timeout.
func (d Descriptor) Timeout() time.Duration { return d.timeout }

// MaxRetries returns the retry budget.
func (d Descriptor) MaxRetries() int { return d.maxRetries }

// RequiresConfirmation reports whether the caller must confirm before
// dispatching this tool.
func (d Descriptor) RequiresConfirmation() bool { return d.requiresConfirmation }

// Fallback returns the configured fallback tool name, or "" when none is
// declared.
func (d Descriptor) Fallback() string { return d.fallback }

// ValidateArgs checks arguments against the descriptor's schema. See
// Schema.ValidateArgs for the rules.
func (d Descriptor) ValidateArgs(args map[string]interface{}) error {
	return d.schema.ValidateArgs(args)
}
