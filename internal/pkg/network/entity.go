package network

import (
	"fmt"

	"github.com/google/uuid"
)

const (
	// DefaultEfficiency applies when a storage efficiency is left at zero.
	DefaultEfficiency = 0.95
	// DefaultMWhPerKm applies when an EV fleet leaves MWhPerKm at zero.
	DefaultMWhPerKm = 0.3 / 1000
)

// VarSeries declares one bounded decision variable per timestep. Series are
// declared when an entity is registered and materialized into a fresh
// program on every solve.
type VarSeries struct {
	Name  string
	Lower []float64
	Upper []float64
}

func (v VarSeries) Len() int {
	return len(v.Upper)
}

func (v VarSeries) copy() VarSeries {
	return VarSeries{Name: v.Name, Lower: clone(v.Lower), Upper: clone(v.Upper)}
}

func declare(name string, lower, upper []float64) VarSeries {
	n := len(upper)
	if len(lower) < n {
		n = len(lower)
	}
	return VarSeries{Name: name, Lower: clone(lower[:n]), Upper: clone(upper[:n])}
}

func constant(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func negate(xs []float64) []float64 {
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = -x
	}
	return out
}

func clone(xs []float64) []float64 {
	if xs == nil {
		return nil
	}
	out := make([]float64, len(xs))
	copy(out, xs)
	return out
}

// GeneratorType labels the technology behind a generator. It has no effect
// on dispatch.
type GeneratorType string

const (
	Wind   GeneratorType = "wind"
	Solar  GeneratorType = "solar"
	Gas    GeneratorType = "gas"
	Diesel GeneratorType = "diesel"
	Hydro  GeneratorType = "hydro"
	Grid   GeneratorType = "grid"
)

// Generator is a dispatchable source with a per-timestep capacity and
// marginal cost.
type Generator struct {
	pid        uuid.UUID
	name       string
	kind       GeneratorType
	capacities []float64
	costs      []float64
	output     VarSeries
	registered bool
}

type GeneratorOption func(*Generator)

// OfType sets the generator's technology label.
func OfType(t GeneratorType) GeneratorOption {
	return func(g *Generator) {
		g.kind = t
	}
}

// NewGenerator returns a configured Generator
func NewGenerator(name string, capacities, costs []float64, opts ...GeneratorOption) *Generator {
	g := &Generator{
		pid:        uuid.New(),
		name:       name,
		capacities: clone(capacities),
		costs:      clone(costs),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// PID is a getter for the generator PID
func (g *Generator) PID() uuid.UUID {
	return g.pid
}

func (g *Generator) Name() string {
	return g.name
}

func (g *Generator) Type() GeneratorType {
	return g.kind
}

func (g *Generator) Capacities() []float64 {
	return clone(g.capacities)
}

func (g *Generator) Costs() []float64 {
	return clone(g.costs)
}

// Output is the declared output variable series. It is empty until the
// generator is registered on a bus.
func (g *Generator) Output() VarSeries {
	return g.output.copy()
}

func (g *Generator) register() {
	g.output = declare(g.name+"_output", make([]float64, len(g.capacities)), g.capacities)
	g.registered = true
}

// Load is a fixed per-timestep demand.
type Load struct {
	pid          uuid.UUID
	name         string
	consumptions []float64
	registered   bool
}

func NewLoad(name string, consumptions []float64) *Load {
	return &Load{
		pid:          uuid.New(),
		name:         name,
		consumptions: clone(consumptions),
	}
}

func (l *Load) PID() uuid.UUID {
	return l.pid
}

func (l *Load) Name() string {
	return l.name
}

func (l *Load) Consumptions() []float64 {
	return clone(l.consumptions)
}

// StorageKind tags the consumption model of a storage unit.
type StorageKind string

const (
	KindStorage StorageKind = "storage"
	KindEVFleet StorageKind = "ev_fleet"
)

// ConsumptionModel describes where a unit's non-grid energy draw comes from.
// Fixed units carry an explicit series; distance derived units compute it
// once from kilometres driven.
type ConsumptionModel struct {
	Kind     StorageKind
	KmDriven []float64
	MWhPerKm float64
}

// StorageParams configures a plain storage unit. Nil MinSOC and Consumption
// default to zeros sized like MaxCharge. Zero efficiencies default to
// DefaultEfficiency.
type StorageParams struct {
	MaxSOC              float64
	MaxCharge           []float64
	MaxDischarge        []float64
	MinSOC              []float64
	Consumption         []float64
	ChargeEfficiency    float64
	DischargeEfficiency float64
}

// EVFleetParams configures an EV fleet. Consumption is derived from KmDriven
// and MWhPerKm, which defaults to DefaultMWhPerKm.
type EVFleetParams struct {
	MaxSOC              float64
	MaxCharge           []float64
	MaxDischarge        []float64
	MinSOC              []float64
	KmDriven            []float64
	MWhPerKm            float64
	ChargeEfficiency    float64
	DischargeEfficiency float64
}

// StorageUnit stores energy across timesteps. EV fleets are storage units
// with a distance derived consumption model.
type StorageUnit struct {
	pid          uuid.UUID
	name         string
	maxSOC       float64
	maxCharge    []float64
	maxDischarge []float64
	minSOC       []float64
	consumption  []float64
	chargeEff    float64
	dischargeEff float64
	model        ConsumptionModel

	charge     VarSeries
	discharge  VarSeries
	socStart   VarSeries
	socEnd     VarSeries
	registered bool
}

func orDefault(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

func zerosLike(xs []float64, like []float64) []float64 {
	if xs == nil {
		return make([]float64, len(like))
	}
	return clone(xs)
}

// NewStorageUnit returns a configured plain storage unit.
func NewStorageUnit(name string, p StorageParams) *StorageUnit {
	return &StorageUnit{
		pid:          uuid.New(),
		name:         name,
		maxSOC:       p.MaxSOC,
		maxCharge:    clone(p.MaxCharge),
		maxDischarge: clone(p.MaxDischarge),
		minSOC:       zerosLike(p.MinSOC, p.MaxCharge),
		consumption:  zerosLike(p.Consumption, p.MaxCharge),
		chargeEff:    orDefault(p.ChargeEfficiency, DefaultEfficiency),
		dischargeEff: orDefault(p.DischargeEfficiency, DefaultEfficiency),
		model:        ConsumptionModel{Kind: KindStorage},
	}
}

// NewEVFleet returns a storage unit whose consumption is the energy needed to
// drive KmDriven in each timestep.
func NewEVFleet(name string, p EVFleetParams) *StorageUnit {
	perKm := orDefault(p.MWhPerKm, DefaultMWhPerKm)
	consumption := make([]float64, len(p.KmDriven))
	for i, km := range p.KmDriven {
		consumption[i] = km * perKm
	}
	return &StorageUnit{
		pid:          uuid.New(),
		name:         name,
		maxSOC:       p.MaxSOC,
		maxCharge:    clone(p.MaxCharge),
		maxDischarge: clone(p.MaxDischarge),
		minSOC:       zerosLike(p.MinSOC, p.MaxCharge),
		consumption:  consumption,
		chargeEff:    orDefault(p.ChargeEfficiency, DefaultEfficiency),
		dischargeEff: orDefault(p.DischargeEfficiency, DefaultEfficiency),
		model: ConsumptionModel{
			Kind:     KindEVFleet,
			KmDriven: clone(p.KmDriven),
			MWhPerKm: perKm,
		},
	}
}

func (s *StorageUnit) PID() uuid.UUID {
	return s.pid
}

func (s *StorageUnit) Name() string {
	return s.name
}

func (s *StorageUnit) Kind() StorageKind {
	return s.model.Kind
}

func (s *StorageUnit) ConsumptionModel() ConsumptionModel {
	m := s.model
	m.KmDriven = clone(m.KmDriven)
	return m
}

func (s *StorageUnit) MaxSOC() float64 {
	return s.maxSOC
}

func (s *StorageUnit) MaxCharge() []float64 {
	return clone(s.maxCharge)
}

func (s *StorageUnit) MaxDischarge() []float64 {
	return clone(s.maxDischarge)
}

func (s *StorageUnit) MinSOC() []float64 {
	return clone(s.minSOC)
}

// Consumption is the fixed non-grid draw per timestep. For EV fleets it is
// the derived driving energy.
func (s *StorageUnit) Consumption() []float64 {
	return clone(s.consumption)
}

func (s *StorageUnit) Efficiencies() (charge, discharge float64) {
	return s.chargeEff, s.dischargeEff
}

// Variables returns the declared charge, discharge and state of charge series.
func (s *StorageUnit) Variables() (charge, discharge, socStart, socEnd VarSeries) {
	return s.charge.copy(), s.discharge.copy(), s.socStart.copy(), s.socEnd.copy()
}

func (s *StorageUnit) register() {
	ceiling := constant(s.maxSOC, len(s.minSOC))
	s.charge = declare(s.name+"_charge", make([]float64, len(s.maxCharge)), s.maxCharge)
	s.discharge = declare(s.name+"_discharge", make([]float64, len(s.maxDischarge)), s.maxDischarge)
	s.socStart = declare(s.name+"_soc_start", make([]float64, len(ceiling)), ceiling)
	s.socEnd = declare(s.name+"_soc_end", make([]float64, len(ceiling)), ceiling)
	s.registered = true
}

// TransmissionLine joins two buses. Positive flow runs from start to end.
type TransmissionLine struct {
	pid        uuid.UUID
	name       string
	start      string
	end        string
	capacities []float64
	flow       VarSeries
}

// LineName derives the registry name of a line.
func LineName(start, end string) string {
	return fmt.Sprintf("%s_to_%s", start, end)
}

func newTransmissionLine(start, end string, capacities []float64) *TransmissionLine {
	l := &TransmissionLine{
		pid:        uuid.New(),
		name:       LineName(start, end),
		start:      start,
		end:        end,
		capacities: clone(capacities),
	}
	l.flow = declare(l.name+"_flow", negate(l.capacities), l.capacities)
	return l
}

func (l *TransmissionLine) PID() uuid.UUID {
	return l.pid
}

func (l *TransmissionLine) Name() string {
	return l.name
}

func (l *TransmissionLine) Start() string {
	return l.start
}

func (l *TransmissionLine) End() string {
	return l.end
}

func (l *TransmissionLine) Capacities() []float64 {
	return clone(l.capacities)
}

func (l *TransmissionLine) Flow() VarSeries {
	return l.flow.copy()
}
