package network

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Bus is a node of the network hosting generators, loads and storage units.
// Prices are read from the owning network's SolveResult.
type Bus struct {
	mux  *sync.Mutex
	pid  uuid.UUID
	name string

	generators map[string]*Generator
	genOrder   []string
	loads      map[string]*Load
	loadOrder  []string
	storage    map[string]*StorageUnit
	storeOrder []string

	network string
	changed func()
}

// NewBus returns an empty Bus
func NewBus(name string) *Bus {
	return &Bus{
		mux:        &sync.Mutex{},
		pid:        uuid.New(),
		name:       name,
		generators: make(map[string]*Generator),
		loads:      make(map[string]*Load),
		storage:    make(map[string]*StorageUnit),
	}
}

// PID is a getter for the bus PID
func (b *Bus) PID() uuid.UUID {
	return b.pid
}

func (b *Bus) Name() string {
	return b.name
}

// Network is the name of the network the bus is registered on, if any.
func (b *Bus) Network() string {
	b.mux.Lock()
	defer b.mux.Unlock()
	return b.network
}

// AddGenerator registers g and declares its output variables.
func (b *Bus) AddGenerator(g *Generator) error {
	b.mux.Lock()
	if g.registered {
		b.mux.Unlock()
		return fmt.Errorf("generator %s: %w", g.name, ErrAlreadyRegistered)
	}
	if _, exists := b.generators[g.name]; exists {
		b.mux.Unlock()
		return &DuplicateNameError{Collection: "generators of bus " + b.name, Name: g.name}
	}
	g.register()
	b.generators[g.name] = g
	b.genOrder = append(b.genOrder, g.name)
	b.mux.Unlock()

	b.notify()
	return nil
}

func (b *Bus) AddLoad(l *Load) error {
	b.mux.Lock()
	if l.registered {
		b.mux.Unlock()
		return fmt.Errorf("load %s: %w", l.name, ErrAlreadyRegistered)
	}
	if _, exists := b.loads[l.name]; exists {
		b.mux.Unlock()
		return &DuplicateNameError{Collection: "loads of bus " + b.name, Name: l.name}
	}
	l.registered = true
	b.loads[l.name] = l
	b.loadOrder = append(b.loadOrder, l.name)
	b.mux.Unlock()

	b.notify()
	return nil
}

// AddStorageUnit registers s and declares its charge, discharge and state of
// charge variables. EV fleets share the storage collection.
func (b *Bus) AddStorageUnit(s *StorageUnit) error {
	b.mux.Lock()
	if s.registered {
		b.mux.Unlock()
		return fmt.Errorf("storage unit %s: %w", s.name, ErrAlreadyRegistered)
	}
	if _, exists := b.storage[s.name]; exists {
		b.mux.Unlock()
		return &DuplicateNameError{Collection: "storage units of bus " + b.name, Name: s.name}
	}
	s.register()
	b.storage[s.name] = s
	b.storeOrder = append(b.storeOrder, s.name)
	b.mux.Unlock()

	b.notify()
	return nil
}

// AddEVFleet is AddStorageUnit restricted to units built with NewEVFleet.
func (b *Bus) AddEVFleet(s *StorageUnit) error {
	if s.Kind() != KindEVFleet {
		return &InvalidParameterError{Kind: "ev fleet", Entity: s.name, Attribute: "consumption model", Reason: "unit was not built with NewEVFleet"}
	}
	return b.AddStorageUnit(s)
}

func (b *Bus) Generator(name string) (*Generator, bool) {
	b.mux.Lock()
	defer b.mux.Unlock()
	g, ok := b.generators[name]
	return g, ok
}

func (b *Bus) Load(name string) (*Load, bool) {
	b.mux.Lock()
	defer b.mux.Unlock()
	l, ok := b.loads[name]
	return l, ok
}

func (b *Bus) StorageUnit(name string) (*StorageUnit, bool) {
	b.mux.Lock()
	defer b.mux.Unlock()
	s, ok := b.storage[name]
	return s, ok
}

// Generators returns the registered generators in registration order.
func (b *Bus) Generators() []*Generator {
	b.mux.Lock()
	defer b.mux.Unlock()
	out := make([]*Generator, 0, len(b.genOrder))
	for _, name := range b.genOrder {
		out = append(out, b.generators[name])
	}
	return out
}

func (b *Bus) Loads() []*Load {
	b.mux.Lock()
	defer b.mux.Unlock()
	out := make([]*Load, 0, len(b.loadOrder))
	for _, name := range b.loadOrder {
		out = append(out, b.loads[name])
	}
	return out
}

func (b *Bus) StorageUnits() []*StorageUnit {
	b.mux.Lock()
	defer b.mux.Unlock()
	out := make([]*StorageUnit, 0, len(b.storeOrder))
	for _, name := range b.storeOrder {
		out = append(out, b.storage[name])
	}
	return out
}

func (b *Bus) attach(network string, changed func()) error {
	b.mux.Lock()
	defer b.mux.Unlock()
	if b.changed != nil {
		return fmt.Errorf("bus %s on network %s: %w", b.name, b.network, ErrAlreadyRegistered)
	}
	b.network = network
	b.changed = changed
	return nil
}

func (b *Bus) notify() {
	b.mux.Lock()
	changed := b.changed
	b.mux.Unlock()
	if changed != nil {
		changed()
	}
}
