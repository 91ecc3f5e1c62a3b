// Package change models a single property-level change produced by
// evaluating a resource, and the events that change emits once applied.
package change

import (
	"context"
	"fmt"

	"github.com/mitchellh/copystructure"

	"github.com/opsforge/txengine/internal/resource"
)

// Triggered is the event kind synthesized by the trigger engine once a
// named callback has run.
const Triggered = "triggered"

// TxRef is the narrow view of a transaction a Change needs: just enough
// to stamp which run produced it, without internal/change importing
// internal/engine (which imports internal/change for the Change type
// itself).
type TxRef interface {
	ID() string
}

// Applier is implemented by whatever produced a Change: Forward commits
// From -> To and returns any events that transition emits; Backward
// reverses it during rollback.
type Applier interface {
	Forward(ctx context.Context) ([]Event, error)
	Backward(ctx context.Context) ([]Event, error)
}

// Event is a notification emitted by an applied change, routed along
// subscription edges in the relationship graph.
type Event struct {
	Kind        string
	Source      resource.Res
	Transaction TxRef
	Message     string
}

// Change is one property's transition from a prior to a desired value.
// From and To are deep-copied on construction so later mutation of the
// values a resource holds can't retroactively alter what was recorded.
type Change struct {
	Resource    resource.Res
	Property    string
	From, To    any
	Changed     bool
	Transaction TxRef

	apply Applier
}

// New builds a Change, deep-copying from and to so the recorded values
// are immune to later mutation of the originals.
func New(res resource.Res, property string, from, to any, applier Applier) (*Change, error) {
	fromCopy, err := copystructure.Copy(from)
	if err != nil {
		return nil, fmt.Errorf("change: copying from-value for %s.%s: %w", res.Ref(), property, err)
	}
	toCopy, err := copystructure.Copy(to)
	if err != nil {
		return nil, fmt.Errorf("change: copying to-value for %s.%s: %w", res.Ref(), property, err)
	}
	return &Change{
		Resource: res,
		Property: property,
		From:     fromCopy,
		To:       toCopy,
		apply:    applier,
	}, nil
}

// Forward applies the change. Changed is set true only when the
// underlying Applier reports at least one event, matching the rule that
// a Change counts as applied exactly when its Forward actually produced
// something observable; a successful no-op Forward leaves Changed false.
func (c *Change) Forward(ctx context.Context) ([]Event, error) {
	events, err := c.apply.Forward(ctx)
	if err != nil {
		return nil, err
	}
	c.Changed = len(events) > 0
	return events, nil
}

// Backward reverses a previously applied change. Callers gate this on
// Changed themselves; Backward does not check it.
func (c *Change) Backward(ctx context.Context) ([]Event, error) {
	return c.apply.Backward(ctx)
}

// IsString renders From for diagnostics, mirroring the is/should pairing
// a divergence report shows a user.
func (c *Change) IsString() string {
	return fmt.Sprintf("%v", c.From)
}

// ShouldString renders To for diagnostics.
func (c *Change) ShouldString() string {
	return fmt.Sprintf("%v", c.To)
}
