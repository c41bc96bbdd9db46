package flowgraph

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
)

// Compile checks the graph and freezes it into a CompiledGraph. Every
// problem found is reported, joined into one error:
//   - the entry point is unset or names no node
//   - an edge or route starts or ends at an unknown node
//   - a node without a router has more than one simple edge
//   - END cannot be reached from the entry point
//
// Nodes the entry point can never reach only produce a warning.
func (g *Graph[S]) Compile(opts ...CompileOption) (*CompiledGraph[S], error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	cfg := compileConfig{name: "flowgraph"}
	for _, opt := range opts {
		opt(&cfg)
	}

	errs := g.checkEntry()
	errs = append(errs, g.checkEdges()...)
	errs = append(errs, g.checkRoutes()...)
	if _, ok := g.nodes[g.entryPoint]; ok && !g.reachesEnd() {
		errs = append(errs, ErrNoPathToEnd)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	reachable := g.reachable()
	for _, id := range g.nodeOrder {
		if !reachable[id] {
			slog.Warn("node is unreachable from entry", "graph", cfg.name, "node_id", id)
		}
	}
	return g.freeze(cfg), nil
}

func (g *Graph[S]) exists(id string) bool {
	_, ok := g.nodes[id]
	return ok
}

func (g *Graph[S]) checkEntry() []error {
	switch {
	case g.entryPoint == "":
		return []error{ErrNoEntryPoint}
	case !g.exists(g.entryPoint):
		return []error{fmt.Errorf("%w: %s", ErrEntryNotFound, g.entryPoint)}
	}
	return nil
}

// checkEdges visits sources in sorted order so joined errors are stable.
func (g *Graph[S]) checkEdges() []error {
	var errs []error
	for _, from := range slices.Sorted(maps.Keys(g.edges)) {
		targets := g.edges[from]
		_, routed := g.conditionalEdges[from]
		if !g.exists(from) && !routed {
			errs = append(errs, fmt.Errorf("%w: edge source '%s' does not exist", ErrNodeNotFound, from))
		}
		if len(targets) > 1 && !routed {
			errs = append(errs, fmt.Errorf("%w: node '%s' has %d", ErrMultipleEdges, from, len(targets)))
		}
		for _, to := range targets {
			if to != END && !g.exists(to) {
				errs = append(errs, fmt.Errorf("%w: edge target '%s' does not exist", ErrNodeNotFound, to))
			}
		}
	}
	return errs
}

func (g *Graph[S]) checkRoutes() []error {
	var errs []error
	for _, from := range slices.Sorted(maps.Keys(g.conditionalEdges)) {
		if !g.exists(from) {
			errs = append(errs, fmt.Errorf("%w: conditional edge source '%s' does not exist", ErrNodeNotFound, from))
		}
		for _, to := range g.routeTargets[from] {
			if to != END && !g.exists(to) {
				errs = append(errs, fmt.Errorf("%w: route target '%s' from '%s' does not exist", ErrNodeNotFound, to, from))
			}
		}
	}
	return errs
}

// successors returns where id may go next. open is true for a router
// without declared targets, which may pick any node or END.
func (g *Graph[S]) successors(id string) (next []string, open bool) {
	if _, routed := g.conditionalEdges[id]; routed {
		targets, declared := g.routeTargets[id]
		if !declared {
			return nil, true
		}
		return targets, false
	}
	return g.edges[id], false
}

// reachesEnd walks backwards from END until a fixed point.
func (g *Graph[S]) reachesEnd() bool {
	done := map[string]bool{END: true}
	for changed := true; changed; {
		changed = false
		for _, id := range g.nodeOrder {
			if done[id] {
				continue
			}
			next, open := g.successors(id)
			if open || slices.ContainsFunc(next, func(to string) bool { return done[to] }) {
				done[id] = true
				changed = true
			}
		}
	}
	return done[g.entryPoint]
}

func (g *Graph[S]) reachable() map[string]bool {
	seen := make(map[string]bool)
	if !g.exists(g.entryPoint) {
		return seen
	}
	seen[g.entryPoint] = true
	queue := []string{g.entryPoint}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		next, open := g.successors(id)
		if open {
			next = g.nodeOrder
		}
		for _, to := range next {
			if to != END && !seen[to] {
				seen[to] = true
				queue = append(queue, to)
			}
		}
	}
	return seen
}

func (g *Graph[S]) freeze(cfg compileConfig) *CompiledGraph[S] {
	edges := make(map[string][]string, len(g.edges))
	for from, targets := range g.edges {
		edges[from] = slices.Clone(targets)
	}
	routes := make(map[string][]string, len(g.routeTargets))
	for from, targets := range g.routeTargets {
		routes[from] = slices.Clone(targets)
	}

	predecessors := make(map[string][]string)
	for _, from := range g.nodeOrder {
		for _, to := range edges[from] {
			if to != END {
				predecessors[to] = append(predecessors[to], from)
			}
		}
	}

	return &CompiledGraph[S]{
		name:             cfg.name,
		schema:           g.schema,
		nodes:            maps.Clone(g.nodes),
		nodeOrder:        slices.Clone(g.nodeOrder),
		edges:            edges,
		conditionalEdges: maps.Clone(g.conditionalEdges),
		routeTargets:     routes,
		entryPoint:       g.entryPoint,
		predecessors:     predecessors,
	}
}

type compileConfig struct {
	name string
}

// CompileOption configures Compile.
type CompileOption func(*compileConfig)

// WithName names the compiled graph in run spans, metrics and logs.
func WithName(name string) CompileOption {
	return func(c *compileConfig) {
		if name != "" {
			c.name = name
		}
	}
}
