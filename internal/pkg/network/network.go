package network

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"github.com/ohowland/cgc_nodal/internal/pkg/lp"
	"github.com/ohowland/cgc_nodal/internal/pkg/msg"
	"go.uber.org/zap"
)

// Network is the arena owning buses and the transmission lines between
// them. All per-timestep series of its entities are indexed by its
// timesteps.
type Network struct {
	mux       *sync.Mutex
	pid       uuid.UUID
	name      string
	timesteps []string
	index     map[string]int

	buses     map[string]*Bus
	busOrder  []string
	lines     map[string]*TransmissionLine
	lineOrder []string
	graph     Graph

	solver    lp.Solver
	publisher *msg.PubSub
	lifecycle *fsm.FSM
	result    *SolveResult
	logger    *zap.Logger
}

type Option func(*Network)

// WithSolver replaces the default simplex backend.
func WithSolver(s lp.Solver) Option {
	return func(n *Network) {
		n.solver = s
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(n *Network) {
		if l != nil {
			n.logger = l
		}
	}
}

// New returns an empty network over the given ordered timestep labels.
func New(name string, timesteps []string, opts ...Option) (*Network, error) {
	if len(timesteps) == 0 {
		return nil, &InvalidParameterError{Kind: "network", Entity: name, Attribute: "timesteps", Reason: "at least one timestep is required"}
	}
	index := make(map[string]int, len(timesteps))
	for i, ts := range timesteps {
		if _, exists := index[ts]; exists {
			return nil, &DuplicateNameError{Collection: "timesteps", Name: ts}
		}
		index[ts] = i
	}

	graph, err := NewGraph()
	if err != nil {
		return nil, err
	}

	n := &Network{
		mux:       &sync.Mutex{},
		pid:       uuid.New(),
		name:      name,
		timesteps: append([]string(nil), timesteps...),
		index:     index,
		buses:     make(map[string]*Bus),
		lines:     make(map[string]*TransmissionLine),
		graph:     graph,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.solver == nil {
		n.solver = lp.NewSimplex(lp.WithLogger(n.logger))
	}
	n.logger = n.logger.Named("network")
	n.publisher = msg.NewPublisher(n.pid)
	n.lifecycle = newLifecycle(n)
	return n, nil
}

// PID is a getter for the network PID
func (n *Network) PID() uuid.UUID {
	return n.pid
}

func (n *Network) Name() string {
	return n.name
}

func (n *Network) Timesteps() []string {
	return append([]string(nil), n.timesteps...)
}

// TimestepIndex returns the position of a timestep label.
func (n *Network) TimestepIndex(label string) (int, bool) {
	i, ok := n.index[label]
	return i, ok
}

// AddBus registers b on the network. A bus belongs to at most one network.
func (n *Network) AddBus(b *Bus) error {
	n.mux.Lock()
	defer n.mux.Unlock()

	if n.graph.HasNode(b.name) {
		return &DuplicateNameError{Collection: "buses", Name: b.name}
	}
	if err := b.attach(n.name, n.invalidate); err != nil {
		return err
	}
	if err := n.graph.AddNode(b.name); err != nil {
		return err
	}
	n.buses[b.name] = b
	n.busOrder = append(n.busOrder, b.name)
	n.invalidateLocked()
	return nil
}

// AddLine joins two registered buses with a line named LineName(start, end).
func (n *Network) AddLine(start, end string, capacities []float64) (*TransmissionLine, error) {
	n.mux.Lock()
	defer n.mux.Unlock()

	l := newTransmissionLine(start, end, capacities)
	if err := n.graph.AddDirectedEdge(l); err != nil {
		return nil, err
	}
	n.lines[l.name] = l
	n.lineOrder = append(n.lineOrder, l.name)
	n.invalidateLocked()
	return l, nil
}

func (n *Network) Bus(name string) (*Bus, bool) {
	n.mux.Lock()
	defer n.mux.Unlock()
	b, ok := n.buses[name]
	return b, ok
}

// Buses returns the registered buses in registration order.
func (n *Network) Buses() []*Bus {
	n.mux.Lock()
	defer n.mux.Unlock()
	out := make([]*Bus, 0, len(n.busOrder))
	for _, name := range n.busOrder {
		out = append(out, n.buses[name])
	}
	return out
}

func (n *Network) Line(name string) (*TransmissionLine, bool) {
	n.mux.Lock()
	defer n.mux.Unlock()
	l, ok := n.lines[name]
	return l, ok
}

func (n *Network) Lines() []*TransmissionLine {
	n.mux.Lock()
	defer n.mux.Unlock()
	out := make([]*TransmissionLine, 0, len(n.lineOrder))
	for _, name := range n.lineOrder {
		out = append(out, n.lines[name])
	}
	return out
}

// LinesInto returns the lines ending at bus.
func (n *Network) LinesInto(bus string) ([]*TransmissionLine, error) {
	n.mux.Lock()
	defer n.mux.Unlock()
	if !n.graph.HasNode(bus) {
		return nil, fmt.Errorf("%s: %w", bus, ErrUnknownBus)
	}
	return n.graph.Incoming(bus), nil
}

// LinesOutOf returns the lines starting at bus.
func (n *Network) LinesOutOf(bus string) ([]*TransmissionLine, error) {
	n.mux.Lock()
	defer n.mux.Unlock()
	if !n.graph.HasNode(bus) {
		return nil, fmt.Errorf("%s: %w", bus, ErrUnknownBus)
	}
	return n.graph.Outgoing(bus), nil
}

// State is the current lifecycle state.
func (n *Network) State() string {
	return n.lifecycle.Current()
}

// Status is the status of the latest solve, or Undefined when there is none.
func (n *Network) Status() lp.Status {
	n.mux.Lock()
	defer n.mux.Unlock()
	if n.result == nil {
		return lp.Undefined
	}
	return n.result.Status
}

// Result returns the latest solve result, or nil if the network has not been
// solved since it was last modified.
func (n *Network) Result() *SolveResult {
	n.mux.Lock()
	defer n.mux.Unlock()
	return n.result
}

// NodalPrices returns the locational marginal prices of bus from the latest
// solve.
func (n *Network) NodalPrices(bus string) ([]float64, error) {
	n.mux.Lock()
	defer n.mux.Unlock()
	if _, ok := n.buses[bus]; !ok {
		return nil, fmt.Errorf("%s: %w", bus, ErrUnknownBus)
	}
	if n.result == nil {
		return nil, ErrNotSolved
	}
	return n.result.NodalPrices(bus)
}

// Subscribe is the msg.Publisher interface for lifecycle and result events.
func (n *Network) Subscribe(pid uuid.UUID, topic msg.Topic) (<-chan msg.Msg, error) {
	return n.publisher.Subscribe(pid, topic)
}

func (n *Network) Unsubscribe(pid uuid.UUID) {
	n.publisher.Unsubscribe(pid)
}

// Close releases every subscriber.
func (n *Network) Close() {
	n.publisher.Close()
}

func (n *Network) invalidate() {
	n.mux.Lock()
	defer n.mux.Unlock()
	n.invalidateLocked()
}

func (n *Network) invalidateLocked() {
	if n.lifecycle.Can(eventModify) {
		n.fire(eventModify)
	}
	n.result = nil
}

// Validate runs the checks Solve runs first, without building a program or
// touching the lifecycle.
func (n *Network) Validate() error {
	n.mux.Lock()
	defer n.mux.Unlock()
	return n.snapshot().validate()
}

// Solve validates the network, builds a fresh program from it and solves it.
// The returned error is non-nil only for validation failures and solver
// misuse; infeasible and unbounded programs are reported through the status.
func (n *Network) Solve(ctx context.Context) (lp.Status, error) {
	n.mux.Lock()
	defer n.mux.Unlock()

	start := time.Now()
	n.fire(eventBuild)
	n.result = nil

	snap := n.snapshot()
	if err := snap.validate(); err != nil {
		n.fire(eventAbort)
		n.logger.Warn("[Network] validation failed",
			zap.String("network", n.name),
			zap.Error(err))
		return lp.Undefined, err
	}

	model, idx := build(snap)
	n.logger.Debug("[Network] model built",
		zap.String("network", n.name),
		zap.Int("vars", model.NumVars()),
		zap.Int("rows", model.NumRows()))

	sol, err := n.solver.Solve(ctx, model)
	if err == nil && sol == nil {
		err = errors.New("solver returned no solution")
	}
	if err != nil {
		n.fire(eventAbort)
		n.logger.Error("[Network] solver failed",
			zap.String("network", n.name),
			zap.Error(err))
		return lp.Undefined, fmt.Errorf("network %s: %w", n.name, err)
	}

	result := extract(snap, idx, sol)
	result.RunID = uuid.New()
	result.NetworkPID = n.pid
	result.SolvedAt = time.Now()
	result.Duration = result.SolvedAt.Sub(start)
	n.result = result

	n.fire(solvedEvent(sol.Status))
	n.publisher.Publish(msg.Result, result)

	n.logger.Info("[Network] solve complete",
		zap.String("network", n.name),
		zap.Stringer("status", sol.Status),
		zap.Float64("objective", result.Objective),
		zap.Stringer("run", result.RunID),
		zap.Duration("duration", result.Duration))
	return sol.Status, nil
}

// snapshot must be called with n.mux held.
func (n *Network) snapshot() *snapshot {
	s := &snapshot{
		name:      n.name,
		timesteps: append([]string(nil), n.timesteps...),
	}
	for _, name := range n.busOrder {
		b := n.buses[name]
		s.buses = append(s.buses, busSnapshot{
			name:       name,
			generators: b.Generators(),
			loads:      b.Loads(),
			storage:    b.StorageUnits(),
			incoming:   n.graph.Incoming(name),
			outgoing:   n.graph.Outgoing(name),
		})
	}
	for _, name := range n.lineOrder {
		s.lines = append(s.lines, n.lines[name])
	}
	return s
}
