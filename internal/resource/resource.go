// Package resource declares the narrow contract the engine evaluates
// against. A resource is any value that implements Res; everything the
// engine does beyond the core contract (dynamic generation, flushing,
// removal, provider prefetch, sync timestamps, named callbacks) is probed
// for with a type assertion rather than switched on by concrete type, so
// new resource kinds never require engine changes.
package resource

import (
	"context"
	"time"
)

// RelKind names the kind of an ordering or subscription relationship
// declared between two resources.
type RelKind int

const (
	// Require orders Target before the declaring resource.
	Require RelKind = iota
	// Before orders the declaring resource before Target.
	Before
	// Notify orders the declaring resource before Target and routes any
	// event it emits to Target's callback.
	Notify
	// Subscribe orders Target before the declaring resource and routes
	// any event Target emits to the declaring resource's callback.
	Subscribe
)

func (k RelKind) String() string {
	switch k {
	case Require:
		return "require"
	case Before:
		return "before"
	case Notify:
		return "notify"
	case Subscribe:
		return "subscribe"
	default:
		return "unknown"
	}
}

// Dependency is one relationship a resource declares against another. For
// Notify and Subscribe, Event selects which emitted event kind triggers
// Callback; an empty Event matches any event kind.
type Dependency struct {
	Kind     RelKind
	Target   Res
	Event    string
	Callback string
}

// Res is the contract every resource instance must satisfy to take part
// in a transaction.
type Res interface {
	// Kind names the resource type ("file", "service", ...).
	Kind() string
	// Name identifies this instance within its Kind.
	Name() string
	// Ref is a human-readable "Kind[Name]" style identifier used in logs
	// and diagnostics.
	Ref() string
	// Parent returns the enclosing container, or nil at the top level.
	Parent() Res

	// BuildDepends returns the relationships declared directly on this
	// resource.
	BuildDepends() []Dependency
	// Autorequire returns relationships inferred from resource state
	// rather than declared explicitly (e.g. a file requiring its parent
	// directory). Autorequire edges are only added when the same (source,
	// target) pair isn't already present.
	Autorequire() []Dependency

	// Tagged reports whether this resource matches any of the given
	// tags. Called only when the transaction was configured with tags.
	Tagged(tags []string) bool
	// Scheduled reports whether this resource's schedule currently
	// permits it to run. Called only when schedules are not ignored.
	Scheduled() bool

	// Evaluate computes whatever divergence exists between current and
	// desired state, returning either a single *change.Change, a
	// []*change.Change, or nil if nothing needed to change. The
	// transaction then applies each returned change through its Forward.
	Evaluate(ctx context.Context) (any, error)

	Debug(msg string)
	Info(msg string)
	Notice(msg string)
	Warning(msg string)
	Err(msg string)
}

// Container is the capability a resource implements to be treated as a
// pure aggregation boundary: it never itself applies state, but every
// resource whose Parent returns it is considered a member of it, and
// relationship edges incident to it are redistributed onto that member
// closure before evaluation (see tgraph.Graph.Splice).
type Container interface {
	Res
	IsContainer() bool
}

// Generator is the capability for a resource that can contribute
// additional resources before the relationship graph is built. Generate
// is called repeatedly, across every resource present so far, until a
// pass adds nothing new.
type Generator interface {
	Generate(ctx context.Context) ([]Res, error)
}

// EvalGenerator is the capability for a resource that contributes
// additional resources at the moment it is evaluated, after everything
// ordered before it has already run. Generated resources are inserted
// into the evaluation order immediately after the generating resource and
// inherit its relationship edges.
type EvalGenerator interface {
	EvalGenerate(ctx context.Context) ([]Res, error)
}

// Flusher is the capability for a resource that must commit buffered
// state once its changes have been applied. Flush is called when at least
// one of the resource's changes applied, even if another of them failed.
type Flusher interface {
	Flush(ctx context.Context) error
}

// Remover is the capability for a resource that must be explicitly torn
// down once the transaction completes. Only resources contributed by a
// Generator or EvalGenerator are removed this way.
type Remover interface {
	Remove(ctx context.Context) error
}

// Syncer is the capability for a resource that caches a last-synced
// timestamp. Probed for after at least one of its changes applied.
type Syncer interface {
	SetSynced(t time.Time)
}

// Provider is the capability shared by every instance of a resource's
// provider class. Key identifies the provider class for prefetch
// deduplication: every resource backed by the same provider shares one
// Key, and the transaction prefetches that provider at most once.
type Provider interface {
	Key() string
}

// Prefetcher is the capability a Provider implements when its class
// exposes a one-time, class-level prefetch step.
type Prefetcher interface {
	Prefetch(ctx context.Context) error
}

// ProviderAccessor is the capability a resource implements to expose its
// backing Provider for prefetch deduplication.
type ProviderAccessor interface {
	Provider() Provider
}

// CallbackHandler is the capability a resource implements to receive
// named callbacks triggered by a subscription or notify edge. Go has no
// equivalent to a dynamic method send, so callback names are dispatched
// through this single method rather than reflection.
type CallbackHandler interface {
	HandleCallback(ctx context.Context, name string) error
}
