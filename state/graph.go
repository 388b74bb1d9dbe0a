package state

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed graph.yaml
var defaultTable []byte

type edge struct {
	from Code
	to   Code
}

// Graph is the immutable lifecycle table. The zero value is empty; use Load or Default.
type Graph struct {
	states  map[Code]State
	ordered []State
	edges   map[edge]struct{}
	initial State
}

type table struct {
	States []State         `yaml:"states"`
	Edges  map[Code][]Code `yaml:"edges"`
}

var (
	defaultOnce  sync.Once
	defaultGraph *Graph
)

// Default returns the graph built from the embedded table. The table ships
// with the binary, so a load failure is a build defect and panics.
func Default() *Graph {
	defaultOnce.Do(func() {
		g, err := Load(bytes.NewReader(defaultTable))
		if err != nil {
			panic(fmt.Sprintf("state: embedded graph: %v", err))
		}
		defaultGraph = g
	})
	return defaultGraph
}

// Load parses and checks a YAML state table.
func Load(r io.Reader) (*Graph, error) {
	var t table
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&t); err != nil {
		return nil, fmt.Errorf("state: decode table: %w", err)
	}

	g := &Graph{
		states: make(map[Code]State, len(t.States)),
		edges:  make(map[edge]struct{}),
	}

	initials := 0
	for _, s := range t.States {
		if s.Code == "" {
			return nil, fmt.Errorf("%w: state without code", ErrInvalidGraph)
		}
		if _, dup := g.states[s.Code]; dup {
			return nil, fmt.Errorf("%w: duplicate state %s", ErrInvalidGraph, s.Code)
		}
		if s.Order == 1 {
			initials++
			g.initial = s
		}
		g.states[s.Code] = s
		g.ordered = append(g.ordered, s)
	}
	if initials != 1 {
		return nil, fmt.Errorf("%w: expected exactly one initial state, found %d", ErrInvalidGraph, initials)
	}
	sort.SliceStable(g.ordered, func(i, j int) bool { return g.ordered[i].Order < g.ordered[j].Order })

	for from, targets := range t.Edges {
		src, ok := g.states[from]
		if !ok {
			return nil, fmt.Errorf("%w: edge from unknown state %s", ErrInvalidGraph, from)
		}
		if src.Final && len(targets) > 0 {
			return nil, fmt.Errorf("%w: final state %s has outgoing edges", ErrInvalidGraph, from)
		}
		for _, to := range targets {
			if _, ok := g.states[to]; !ok {
				return nil, fmt.Errorf("%w: edge %s -> unknown state %s", ErrInvalidGraph, from, to)
			}
			if to == from {
				return nil, fmt.Errorf("%w: self transition on %s", ErrInvalidGraph, from)
			}
			g.edges[edge{from: from, to: to}] = struct{}{}
		}
	}

	return g, nil
}

// CanTransition reports whether (from, to) is an edge. Unknown codes yield false.
func (g *Graph) CanTransition(from, to Code) bool {
	_, ok := g.edges[edge{from: from, to: to}]
	return ok
}

// Validate returns *InvalidTransitionError when (from, to) is not an edge.
func (g *Graph) Validate(from, to Code) error {
	if !g.CanTransition(from, to) {
		return &InvalidTransitionError{From: from, To: to}
	}
	return nil
}

func (g *Graph) IsFinal(c Code) bool {
	return g.states[c].Final
}

func (g *Graph) RequiresAction(c Code) bool {
	return g.states[c].RequiresAction
}

// Lookup returns the state for a code. The bool is false for unknown codes.
func (g *Graph) Lookup(c Code) (State, bool) {
	s, ok := g.states[c]
	return s, ok
}

// Initial is the state every application starts in.
func (g *Graph) Initial() State {
	return g.initial
}

// States lists all states in display order.
func (g *Graph) States() []State {
	out := make([]State, len(g.ordered))
	copy(out, g.ordered)
	return out
}

// AllowedTargets lists the states reachable in one step from `from`, in display order.
func (g *Graph) AllowedTargets(from Code) []State {
	var out []State
	for _, s := range g.ordered {
		if g.CanTransition(from, s.Code) {
			out = append(out, s)
		}
	}
	return out
}

// ValidateWalk checks that a recorded sequence of states starts at the
// initial state and only follows edges.
func (g *Graph) ValidateWalk(walk []Code) error {
	if len(walk) == 0 {
		return fmt.Errorf("%w: empty", ErrInvalidWalk)
	}
	if walk[0] != g.initial.Code {
		return fmt.Errorf("%w: starts at %s, expected %s", ErrInvalidWalk, walk[0], g.initial.Code)
	}
	for i := 1; i < len(walk); i++ {
		if err := g.Validate(walk[i-1], walk[i]); err != nil {
			return err
		}
	}
	return nil
}

// Parse resolves a raw code, failing with ErrUnknownState.
func (g *Graph) Parse(raw string) (Code, error) {
	c := Code(raw)
	if _, ok := g.states[c]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownState, raw)
	}
	return c, nil
}
