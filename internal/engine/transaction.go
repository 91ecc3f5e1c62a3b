// Package engine implements the transaction: the sequential
// prepare/evaluate/rollback lifecycle that turns a set of resources and
// their declared relationships into an ordered sequence of applied
// changes, routing events along subscription edges and tracking
// transitive failure so dependents of a broken resource are skipped
// rather than silently run against broken state.
package engine

import (
	"container/list"
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/go-uuid"

	"github.com/opsforge/txengine/internal/change"
	"github.com/opsforge/txengine/internal/metrics"
	"github.com/opsforge/txengine/internal/relationship"
	"github.com/opsforge/txengine/internal/resource"
	"github.com/opsforge/txengine/internal/tfdiags"
	"github.com/opsforge/txengine/internal/tgraph"
	"github.com/opsforge/txengine/internal/txlog"
)

// Config holds the options a caller chooses at transaction construction;
// this module never reads process-wide or global configuration state.
type Config struct {
	// Tags restricts evaluation to resources matching any of these tags.
	// Empty means every resource is eligible.
	Tags []string
	// IgnoreTags disables the Tags filter even when Tags is non-empty.
	IgnoreTags bool
	// IgnoreSchedules disables each resource's Scheduled() check.
	IgnoreSchedules bool
	// Trace logs each resource that the tag or schedule filter skips.
	Trace bool
}

// Transaction runs a single prepare/evaluate/rollback lifecycle over a
// fixed set of resources. A Transaction is used once.
type Transaction struct {
	id  string
	cfg Config

	resources []resource.Res
	report    metrics.ReportSink
	logger    hclog.Logger

	relgraph *tgraph.Graph[resource.Res]
	vertexOf map[resource.Res]tgraph.VertexID
	order    *list.List
	elemOf   map[tgraph.VertexID]*list.Element

	failures  map[resource.Res]int
	targets   map[resource.Res][]tgraph.Edge
	triggered map[resource.Res]map[string]int
	changes   []*change.Change
	generated []resource.Res

	rmetrics metrics.ResourceMetrics
	tmetrics *metrics.TimeMetrics
}

// New constructs a Transaction over resources. If report is nil, an
// in-memory metrics.Report is used.
func New(resources []resource.Res, report metrics.ReportSink, cfg Config) (*Transaction, error) {
	id, err := uuid.GenerateUUID()
	if err != nil {
		return nil, fmt.Errorf("engine: generating transaction id: %w", err)
	}
	if report == nil {
		report = metrics.NewReport()
	}
	return &Transaction{
		id:        id,
		cfg:       cfg,
		resources: append([]resource.Res{}, resources...),
		report:    report,
		logger:    txlog.Named("engine"),
		elemOf:    make(map[tgraph.VertexID]*list.Element),
		failures:  make(map[resource.Res]int),
		targets:   make(map[resource.Res][]tgraph.Edge),
		triggered: make(map[resource.Res]map[string]int),
		tmetrics:  metrics.NewTimeMetrics(),
	}, nil
}

// ID returns the transaction's generated identifier. Also satisfies
// change.TxRef.
func (tx *Transaction) ID() string { return tx.id }

// Report returns the sink this transaction reports metrics and logs to.
func (tx *Transaction) Report() metrics.ReportSink { return tx.report }

// Run prepares and evaluates the transaction in one call, the common
// case for a caller that doesn't need to inspect diagnostics between the
// two phases.
func (tx *Transaction) Run(ctx context.Context) ([]change.Event, tfdiags.Diagnostics) {
	diags := tx.Prepare(ctx)
	if diags.HasErrors() {
		return nil, diags
	}
	return tx.Evaluate(ctx), diags
}

// Prepare runs provider prefetch, the fixed-point resource generation
// pass, and builds and orders the relationship graph. A cyclic
// relationship graph is returned as a fatal Diagnostics entry and no
// further phase should be run.
func (tx *Transaction) Prepare(ctx context.Context) tfdiags.Diagnostics {
	var diags tfdiags.Diagnostics

	tx.logger.Debug("prepare: prefetch")
	tx.prefetch(ctx)

	tx.logger.Debug("prepare: generate fixed point")
	if err := tx.generateFixedPoint(ctx); err != nil {
		diags = diags.Append(tfdiags.Sourceless(
			tfdiags.Warning,
			"Resource generation reported errors",
			err.Error(),
		))
	}

	tx.logger.Debug("prepare: build relationship graph")
	result, buildDiags := relationship.Build(tx.resources)
	diags = diags.Append(buildDiags...)
	if buildDiags.HasErrors() {
		return diags
	}

	tx.relgraph = result.Graph
	tx.vertexOf = result.VertexOf
	tx.order = list.New()
	for _, vid := range result.Order {
		tx.elemOf[vid] = tx.order.PushBack(vid)
	}
	tx.rmetrics.Total = len(result.Order)

	return diags
}

func (tx *Transaction) prefetch(ctx context.Context) {
	seen := make(map[string]bool)
	for _, r := range tx.resources {
		pa, ok := r.(resource.ProviderAccessor)
		if !ok {
			continue
		}
		p := pa.Provider()
		if p == nil || seen[p.Key()] {
			continue
		}
		seen[p.Key()] = true
		pf, ok := p.(resource.Prefetcher)
		if !ok {
			continue
		}
		if err := pf.Prefetch(ctx); err != nil {
			tx.logger.Warn("provider prefetch failed", "provider", p.Key(), "error", err)
			tx.report.Log("WARN", fmt.Sprintf("prefetch of provider %s failed: %v", p.Key(), err))
		}
	}
}

// generateFixedPoint repeatedly calls Generate on every resource present
// so far until a pass contributes nothing new, so resources generated by
// one Generator can themselves be generators.
func (tx *Transaction) generateFixedPoint(ctx context.Context) error {
	var merr *multierror.Error
	present := make(map[resource.Res]bool, len(tx.resources))
	for _, r := range tx.resources {
		present[r] = true
	}
	for {
		added := 0
		for _, r := range append([]resource.Res{}, tx.resources...) {
			g, ok := r.(resource.Generator)
			if !ok {
				continue
			}
			children, err := g.Generate(ctx)
			if err != nil {
				merr = multierror.Append(merr, fmt.Errorf("%s: generate: %w", r.Ref(), err))
				continue
			}
			for _, child := range children {
				if present[child] {
					continue
				}
				present[child] = true
				tx.resources = append(tx.resources, child)
				tx.generated = append(tx.generated, child)
				added++
			}
		}
		if added == 0 {
			break
		}
	}
	return merr.ErrorOrNil()
}

// Evaluate walks the ordered resource list, filtering, applying, and
// routing events for each in turn, then removes generated resources. The
// report's log sink is opened and closed around the whole pass.
func (tx *Transaction) Evaluate(ctx context.Context) []change.Event {
	if opener, ok := tx.report.(metrics.Opener); ok {
		if err := opener.OpenLog(); err != nil {
			tx.logger.Warn("opening report log sink failed", "error", err)
		}
	}
	defer func() {
		if closer, ok := tx.report.(metrics.Closer); ok {
			if err := closer.CloseLog(); err != nil {
				tx.logger.Warn("closing report log sink failed", "error", err)
			}
		}
	}()

	var allEvents []change.Event
	for e := tx.order.Front(); e != nil; e = e.Next() {
		vid := e.Value.(tgraph.VertexID)
		res, ok := tx.relgraph.Data(vid)
		if !ok {
			continue
		}
		events := tx.evalResource(ctx, res, e)
		allEvents = append(allEvents, events...)
	}

	tx.cleanup(ctx)
	tx.emitReport()
	return allEvents
}

func (tx *Transaction) evalResource(ctx context.Context, res resource.Res, elem *list.Element) []change.Event {
	if len(tx.cfg.Tags) > 0 && !tx.cfg.IgnoreTags && !res.Tagged(tx.cfg.Tags) {
		if tx.cfg.Trace {
			tx.logger.Info("skipping resource not matching tags", "resource", res.Ref())
		}
		return nil
	}
	if !tx.cfg.IgnoreSchedules && !res.Scheduled() {
		if tx.cfg.Trace {
			tx.logger.Info("skipping unscheduled resource", "resource", res.Ref())
		}
		return nil
	}
	tx.rmetrics.Scheduled++

	start := time.Now()
	events := tx.apply(ctx, res, elem)
	tx.tmetrics.Add(res.Kind(), time.Since(start))

	events = append(events, tx.trigger(ctx, res)...)
	tx.routeEvents(events)

	return events
}

// apply checks transitive failure among this resource's dependencies,
// runs any eval_generate step, evaluates the resource, and applies every
// resulting change in turn.
func (tx *Transaction) apply(ctx context.Context, res resource.Res, elem *list.Element) []change.Event {
	vid, ok := tx.vertexOf[res]
	if !ok {
		return nil
	}

	reachable := tx.relgraph.Reverse().DFSTree(vid)
	for depVID := range reachable {
		if depVID == vid {
			continue
		}
		dep, ok := tx.relgraph.Data(depVID)
		if !ok {
			continue
		}
		if tx.failures[dep] > 0 {
			res.Warning(fmt.Sprintf("skipping: dependency %s failed", dep.Ref()))
			tx.rmetrics.Skipped++
			return nil
		}
	}

	if eg, ok := res.(resource.EvalGenerator); ok {
		children, err := eg.EvalGenerate(ctx)
		if err != nil {
			res.Err(fmt.Sprintf("eval_generate failed: %v", err))
		}
		for _, child := range children {
			tx.insertGenerated(child, res, elem)
		}
	}

	result, err := res.Evaluate(ctx)
	if err != nil {
		res.Err(fmt.Sprintf("evaluate failed: %v", err))
		tx.failures[res]++
		tx.rmetrics.Failed++
		return nil
	}

	changes := normalizeChanges(result)
	if len(changes) > 0 {
		tx.rmetrics.OutOfSync++
	}

	var events []change.Event
	applied := false
	for _, c := range changes {
		c.Transaction = tx
		tx.changes = append(tx.changes, c)

		evs, err := c.Forward(ctx)
		if err != nil {
			res.Err(fmt.Sprintf("%s: %s -> %s failed: %v", c.Property, c.IsString(), c.ShouldString(), err))
			tx.failures[res]++
			continue
		}
		if c.Changed {
			tx.rmetrics.Applied++
			applied = true
		}
		events = append(events, evs...)
	}

	if applied {
		if s, ok := res.(resource.Syncer); ok {
			s.SetSynced(time.Now())
		}
		if f, ok := res.(resource.Flusher); ok {
			if err := f.Flush(ctx); err != nil {
				res.Err(fmt.Sprintf("flush failed: %v", err))
				tx.failures[res]++
			}
		}
	}

	return events
}

// insertGenerated adds a resource generated mid-evaluation: it inherits
// parent's relationship edges and is spliced into the evaluation order
// immediately after the element that generated it, so it runs in the
// same pass.
func (tx *Transaction) insertGenerated(child resource.Res, parent resource.Res, after *list.Element) {
	vid := tx.relgraph.AddVertex(child)
	tx.vertexOf[child] = vid
	tx.generated = append(tx.generated, child)

	pvid := tx.vertexOf[parent]
	for _, e := range tx.relgraph.AdjacentEdges(pvid, tgraph.Out) {
		tx.relgraph.AddEdge(vid, e.To, e.Label)
	}
	for _, e := range tx.relgraph.AdjacentEdges(pvid, tgraph.In) {
		tx.relgraph.AddEdge(e.From, vid, e.Label)
	}

	elem := tx.order.InsertAfter(vid, after)
	tx.elemOf[vid] = elem
	tx.rmetrics.Total++
}

// trigger walks upward from res through its ancestor chain, invoking
// each ancestor's matched callbacks exactly once and consuming the
// matched edges as it goes.
func (tx *Transaction) trigger(ctx context.Context, res resource.Res) []change.Event {
	var result []change.Event
	for obj := res; obj != nil; obj = obj.Parent() {
		edges := tx.targets[obj]
		if len(edges) == 0 {
			continue
		}
		delete(tx.targets, obj)

		order, byCallback := groupByCallback(edges)
		for _, cb := range order {
			contributing := byCallback[cb]
			obj.Notice(fmt.Sprintf("triggering %s from %d event(s)", cb, len(contributing)))

			if err := tx.invokeCallback(ctx, obj, cb); err != nil {
				obj.Err(fmt.Sprintf("callback %s failed: %v", cb, err))
				tx.rmetrics.FailedRestarts++
			} else {
				tx.rmetrics.Restarted++
			}

			if tx.triggered[obj] == nil {
				tx.triggered[obj] = make(map[string]int)
			}
			tx.triggered[obj][cb]++

			result = append(result, change.Event{
				Kind:        change.Triggered,
				Source:      obj,
				Transaction: tx,
				Message:     cb,
			})
		}
	}
	return result
}

func (tx *Transaction) invokeCallback(ctx context.Context, obj resource.Res, name string) error {
	h, ok := obj.(resource.CallbackHandler)
	if !ok {
		return fmt.Errorf("%s does not implement a callback handler for %q", obj.Ref(), name)
	}
	return h.HandleCallback(ctx, name)
}

func groupByCallback(edges []tgraph.Edge) ([]string, map[string][]tgraph.Edge) {
	order := make([]string, 0, len(edges))
	grouped := make(map[string][]tgraph.Edge)
	for _, e := range edges {
		if e.Label.Callback == "" {
			continue
		}
		if _, seen := grouped[e.Label.Callback]; !seen {
			order = append(order, e.Label.Callback)
		}
		grouped[e.Label.Callback] = append(grouped[e.Label.Callback], e)
	}
	return order, grouped
}

// routeEvents matches every event against the relationship graph and
// accumulates the matched edges on their targets, for trigger to
// consume the next time it walks through that target's ancestor chain.
func (tx *Transaction) routeEvents(events []change.Event) {
	for _, ev := range events {
		srcVID, ok := tx.vertexOf[ev.Source]
		if !ok {
			continue
		}
		matches := tx.relgraph.MatchingEdges([]tgraph.MatchQuery{{Source: srcVID, Kind: ev.Kind}})
		for _, edge := range matches {
			target, ok := tx.relgraph.Data(edge.To)
			if !ok {
				continue
			}
			tx.targets[target] = append(tx.targets[target], edge)
		}
	}
}

// cleanup removes every resource contributed by Generate or
// EvalGenerate, since those never belong to the caller's original
// resource set.
func (tx *Transaction) cleanup(ctx context.Context) {
	for _, g := range tx.generated {
		r, ok := g.(resource.Remover)
		if !ok {
			continue
		}
		if err := r.Remove(ctx); err != nil {
			g.Err(fmt.Sprintf("remove failed: %v", err))
		}
	}
}

func (tx *Transaction) emitReport() {
	failed := 0
	for _, n := range tx.failures {
		if n > 0 {
			failed++
		}
	}
	tx.rmetrics.Failed = failed

	tx.report.NewMetric("resources", tx.rmetrics.Values())

	knownKinds := make(map[string]bool)
	for _, v := range tx.relgraph.Vertices() {
		if data, ok := tx.relgraph.Data(v); ok {
			knownKinds[data.Kind()] = true
		}
	}
	tx.report.NewMetric("time", tx.tmetrics.Snapshot(knownKinds))
	tx.report.NewMetric("changes", map[string]float64{"total": float64(len(tx.changes))})
	tx.report.SetTime(time.Now())
}

// Rollback reverses every applied, changed Change in strict reverse
// order, routing and triggering their Backward events the same way
// Evaluate does forward ones. It never stops on a failed reversal:
// failures are logged against their resource and folded into the
// returned error so a caller can inspect the full set, not just the
// last one logged.
func (tx *Transaction) Rollback(ctx context.Context) error {
	tx.targets = make(map[resource.Res][]tgraph.Edge)
	tx.triggered = make(map[resource.Res]map[string]int)

	var merr *multierror.Error
	for i := len(tx.changes) - 1; i >= 0; i-- {
		c := tx.changes[i]
		if !c.Changed {
			continue
		}

		events, err := c.Backward(ctx)
		if err != nil {
			c.Resource.Err(fmt.Sprintf("rollback of %s failed: %v", c.Property, err))
			merr = multierror.Append(merr, fmt.Errorf("%s.%s: %w", c.Resource.Ref(), c.Property, err))
			continue
		}

		tx.routeEvents(events)
		tx.trigger(ctx, c.Resource)
	}
	return merr.ErrorOrNil()
}

func normalizeChanges(result any) []*change.Change {
	switch v := result.(type) {
	case nil:
		return nil
	case *change.Change:
		if v == nil {
			return nil
		}
		return []*change.Change{v}
	case []*change.Change:
		return v
	default:
		return nil
	}
}

var _ change.TxRef = (*Transaction)(nil)
