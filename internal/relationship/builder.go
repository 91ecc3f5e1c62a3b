// Package relationship builds the relationship graph a transaction
// evaluates: declared dependencies plus the container hierarchy, spliced
// down to concrete resources, augmented with inferred autorequire edges,
// and topologically ordered.
package relationship

import (
	"github.com/opsforge/txengine/internal/resource"
	"github.com/opsforge/txengine/internal/tfdiags"
	"github.com/opsforge/txengine/internal/tgraph"
)

// Graph is the relationship graph's concrete vertex type.
type Graph = tgraph.Graph[resource.Res]

// Result is everything Build produces: the spliced, ordered graph, the
// evaluation order, and a lookup from resource back to vertex.
type Result struct {
	Graph    *Graph
	Order    []tgraph.VertexID
	VertexOf map[resource.Res]tgraph.VertexID
}

// Build composes the relationship graph for resources: declared
// relationships and the container hierarchy are combined via Splice,
// autorequire edges are added where not already present, and the result
// is topologically sorted. A cyclic graph is reported as a fatal
// Diagnostics entry and Result is the zero value.
func Build(resources []resource.Res) (Result, tfdiags.Diagnostics) {
	var diags tfdiags.Diagnostics

	g := tgraph.NewGraph[resource.Res]()
	vertexOf := make(map[resource.Res]tgraph.VertexID, len(resources))
	for _, r := range resources {
		vertexOf[r] = g.AddVertex(r)
	}

	for _, r := range resources {
		for _, dep := range r.BuildDepends() {
			addDependencyEdge(g, vertexOf, r, dep)
		}
	}

	isContainer := func(v tgraph.VertexID) bool {
		data, ok := g.Data(v)
		if !ok {
			return false
		}
		c, ok := data.(resource.Container)
		return ok && c.IsContainer()
	}

	childrenOf := make(map[resource.Res][]resource.Res)
	for _, r := range resources {
		if p := r.Parent(); p != nil {
			childrenOf[p] = append(childrenOf[p], r)
		}
	}
	var membersOf func(v tgraph.VertexID) []tgraph.VertexID
	membersOf = func(v tgraph.VertexID) []tgraph.VertexID {
		data, ok := g.Data(v)
		if !ok {
			return nil
		}
		var members []tgraph.VertexID
		for _, child := range childrenOf[data] {
			id, ok := vertexOf[child]
			if !ok {
				continue
			}
			if isContainer(id) {
				members = append(members, membersOf(id)...)
				continue
			}
			members = append(members, id)
		}
		return members
	}

	spliced := g.Splice(isContainer, membersOf)

	for _, r := range resources {
		src, ok := vertexOf[r]
		if !ok {
			continue
		}
		if isContainer(src) {
			continue
		}
		for _, dep := range r.Autorequire() {
			dst, ok := vertexOf[dep.Target]
			if !ok {
				continue
			}
			if isContainer(dst) {
				continue
			}
			if !spliced.HasEdge(dst, src) {
				spliced.AddEdge(dst, src, tgraph.EdgeLabel{})
			}
		}
	}

	order, err := spliced.TopologicalSort()
	if err != nil {
		diags = diags.Append(tfdiags.Sourceless(
			tfdiags.Error,
			"Cyclic relationship graph",
			err.Error(),
		))
		return Result{}, diags
	}

	survivingVertexOf := make(map[resource.Res]tgraph.VertexID, len(order))
	for _, v := range spliced.Vertices() {
		if data, ok := spliced.Data(v); ok {
			survivingVertexOf[data] = v
		}
	}

	return Result{Graph: spliced, Order: order, VertexOf: survivingVertexOf}, diags
}

func addDependencyEdge(g *Graph, vertexOf map[resource.Res]tgraph.VertexID, r resource.Res, dep resource.Dependency) {
	src, ok := vertexOf[r]
	if !ok {
		return
	}
	dst, ok := vertexOf[dep.Target]
	if !ok {
		return
	}

	event := dep.Event
	if event == "" {
		event = tgraph.AnyEvent
	}

	switch dep.Kind {
	case resource.Require:
		g.AddEdge(dst, src, tgraph.EdgeLabel{})
	case resource.Before:
		g.AddEdge(src, dst, tgraph.EdgeLabel{})
	case resource.Notify:
		g.AddEdge(src, dst, tgraph.EdgeLabel{Event: event, Callback: dep.Callback})
	case resource.Subscribe:
		g.AddEdge(dst, src, tgraph.EdgeLabel{Event: event, Callback: dep.Callback})
	}
}
