package network

import (
	"fmt"

	"github.com/google/uuid"
)

// Graph is the directed adjacency of buses. Edges are transmission lines,
// kept in registration order per bus.
type Graph struct {
	pid      uuid.UUID
	outgoing map[string][]*TransmissionLine
	incoming map[string][]*TransmissionLine
}

func NewGraph() (Graph, error) {
	pid, err := uuid.NewUUID()
	if err != nil {
		return Graph{}, err
	}

	return Graph{
		pid:      pid,
		outgoing: make(map[string][]*TransmissionLine),
		incoming: make(map[string][]*TransmissionLine),
	}, nil
}

func (g Graph) PID() uuid.UUID {
	return g.pid
}

func (g *Graph) AddNode(bus string) error {
	if _, exists := g.outgoing[bus]; exists {
		return &DuplicateNameError{Collection: "buses", Name: bus}
	}
	g.outgoing[bus] = make([]*TransmissionLine, 0)
	g.incoming[bus] = make([]*TransmissionLine, 0)
	return nil
}

func (g *Graph) HasNode(bus string) bool {
	_, exists := g.outgoing[bus]
	return exists
}

func (g *Graph) AddDirectedEdge(l *TransmissionLine) error {
	if l.start == l.end {
		return &InvalidParameterError{Kind: "transmission line", Entity: l.name, Attribute: "endpoints", Reason: "start and end bus must differ"}
	}
	if !g.HasNode(l.start) {
		return fmt.Errorf("start bus %s: %w", l.start, ErrUnknownBus)
	}
	if !g.HasNode(l.end) {
		return fmt.Errorf("end bus %s: %w", l.end, ErrUnknownBus)
	}
	for _, e := range g.outgoing[l.start] {
		if e.end == l.end {
			return &DuplicateNameError{Collection: "transmission lines", Name: l.name}
		}
	}

	g.outgoing[l.start] = append(g.outgoing[l.start], l)
	g.incoming[l.end] = append(g.incoming[l.end], l)
	return nil
}

// Outgoing returns the lines whose start is bus.
func (g *Graph) Outgoing(bus string) []*TransmissionLine {
	return append([]*TransmissionLine(nil), g.outgoing[bus]...)
}

// Incoming returns the lines whose end is bus.
func (g *Graph) Incoming(bus string) []*TransmissionLine {
	return append([]*TransmissionLine(nil), g.incoming[bus]...)
}
