package network

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/ohowland/cgc_nodal/internal/pkg/lp"
)

// cleanTol snaps solver noise around zero to an exact zero.
const cleanTol = 1e-9

// SolveResult is the immutable outcome of one Network.Solve call. It carries
// the inputs of every entity next to the traces the solve produced, so it can
// be stored and exported without the Network that made it.
type SolveResult struct {
	RunID      uuid.UUID              `json:"run_id"`
	NetworkPID uuid.UUID              `json:"network_pid"`
	Network    string                 `json:"network"`
	Timesteps  []string               `json:"timesteps"`
	Status     lp.Status              `json:"status"`
	Objective  float64                `json:"objective"`
	Message    string                 `json:"message,omitempty"`
	SolvedAt   time.Time              `json:"solved_at"`
	Duration   time.Duration          `json:"duration"`
	Stats      lp.Stats               `json:"stats"`
	Buses      map[string]*BusResult  `json:"buses"`
	Lines      map[string]*LineResult `json:"transmission_lines"`
}

type BusResult struct {
	NodalPrices  []float64                   `json:"nodal_prices"`
	Generators   map[string]*GeneratorResult `json:"generators"`
	Loads        map[string]*LoadResult      `json:"loads"`
	StorageUnits map[string]*StorageResult   `json:"storage_units"`
}

type GeneratorResult struct {
	Type       GeneratorType `json:"generator_type,omitempty"`
	Capacities []float64     `json:"capacities"`
	Costs      []float64     `json:"costs"`
	Outputs    []float64     `json:"outputs"`
}

type LoadResult struct {
	Consumptions []float64 `json:"consumptions"`
}

// StorageResult covers plain storage units and EV fleets. KmDriven and
// MWhPerKm are only set for fleets.
type StorageResult struct {
	Kind                StorageKind `json:"storage_type"`
	MaxSOC              float64     `json:"max_soc_capacity"`
	MaxCharge           []float64   `json:"max_charge_capacities"`
	MaxDischarge        []float64   `json:"max_discharge_capacities"`
	MinSOC              []float64   `json:"min_soc_requirements"`
	ChargeEfficiency    float64     `json:"charge_efficiency"`
	DischargeEfficiency float64     `json:"discharge_efficiency"`
	KmDriven            []float64   `json:"km_driven,omitempty"`
	MWhPerKm            float64     `json:"mwh_per_km_driven,omitempty"`
	Consumptions        []float64   `json:"consumptions"`
	ChargeInflows       []float64   `json:"charge_inflows"`
	DischargeOutflows   []float64   `json:"discharge_outflows"`
	SOCStart            []float64   `json:"soc_start_of_ts"`
	SOCEnd              []float64   `json:"soc_end_of_ts"`
}

type LineResult struct {
	Start      string    `json:"start_bus"`
	End        string    `json:"end_bus"`
	Capacities []float64 `json:"capacities"`
	Flows      []float64 `json:"flows"`
}

// Optimal reports whether the traces and prices of r are populated.
func (r *SolveResult) Optimal() bool {
	return r.Status == lp.Optimal
}

func (r *SolveResult) bus(name string) (*BusResult, error) {
	b, ok := r.Buses[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrUnknownBus)
	}
	return b, nil
}

// NodalPrices returns the locational marginal price of bus at every timestep.
func (r *SolveResult) NodalPrices(bus string) ([]float64, error) {
	b, err := r.bus(bus)
	if err != nil {
		return nil, err
	}
	if !r.Optimal() {
		return nil, fmt.Errorf("%s is %v: %w", r.Network, r.Status, ErrNotOptimal)
	}
	return clone(b.NodalPrices), nil
}

func (r *SolveResult) GeneratorOutputs(bus, generator string) ([]float64, error) {
	b, err := r.bus(bus)
	if err != nil {
		return nil, err
	}
	g, ok := b.Generators[generator]
	if !ok {
		return nil, fmt.Errorf("generator %s on bus %s: %w", generator, bus, ErrUnknownEntity)
	}
	if !r.Optimal() {
		return nil, ErrNotOptimal
	}
	return clone(g.Outputs), nil
}

// Storage returns the traces of a storage unit or EV fleet.
func (r *SolveResult) Storage(bus, unit string) (StorageResult, error) {
	b, err := r.bus(bus)
	if err != nil {
		return StorageResult{}, err
	}
	su, ok := b.StorageUnits[unit]
	if !ok {
		return StorageResult{}, fmt.Errorf("storage unit %s on bus %s: %w", unit, bus, ErrUnknownEntity)
	}
	if !r.Optimal() {
		return StorageResult{}, ErrNotOptimal
	}
	out := *su
	out.ChargeInflows = clone(su.ChargeInflows)
	out.DischargeOutflows = clone(su.DischargeOutflows)
	out.SOCStart = clone(su.SOCStart)
	out.SOCEnd = clone(su.SOCEnd)
	return out, nil
}

func (r *SolveResult) LineFlows(name string) ([]float64, error) {
	l, ok := r.Lines[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrUnknownLine)
	}
	if !r.Optimal() {
		return nil, ErrNotOptimal
	}
	return clone(l.Flows), nil
}

// extract copies the snapshot's inputs into a result and, when sol is
// optimal, reads back every trace and balance row dual.
func extract(s *snapshot, idx *modelIndex, sol *lp.Solution) *SolveResult {
	r := &SolveResult{
		Network:   s.name,
		Timesteps: append([]string(nil), s.timesteps...),
		Status:    sol.Status,
		Message:   sol.Message,
		Stats:     sol.Stats,
		Buses:     make(map[string]*BusResult, len(s.buses)),
		Lines:     make(map[string]*LineResult, len(s.lines)),
	}
	optimal := sol.Status == lp.Optimal
	if optimal {
		r.Objective = clean(sol.Objective)
	}
	values := func(ids []lp.VarID) []float64 {
		if !optimal {
			return nil
		}
		out := make([]float64, len(ids))
		for i, v := range ids {
			out[i] = clean(sol.Value(v))
		}
		return out
	}

	for _, b := range s.buses {
		br := &BusResult{
			Generators:   make(map[string]*GeneratorResult, len(b.generators)),
			Loads:        make(map[string]*LoadResult, len(b.loads)),
			StorageUnits: make(map[string]*StorageResult, len(b.storage)),
		}
		if optimal {
			br.NodalPrices = make([]float64, len(s.timesteps))
			for i := range s.timesteps {
				br.NodalPrices[i] = clean(sol.Dual(idx.balance[balanceKey{Bus: b.name, Timestep: i}]))
			}
		}
		for _, g := range b.generators {
			br.Generators[g.name] = &GeneratorResult{
				Type:       g.kind,
				Capacities: clone(g.capacities),
				Costs:      clone(g.costs),
				Outputs:    values(idx.outputs[g]),
			}
		}
		for _, l := range b.loads {
			br.Loads[l.name] = &LoadResult{Consumptions: clone(l.consumptions)}
		}
		for _, su := range b.storage {
			sv := idx.storage[su]
			br.StorageUnits[su.name] = &StorageResult{
				Kind:                su.model.Kind,
				MaxSOC:              su.maxSOC,
				MaxCharge:           clone(su.maxCharge),
				MaxDischarge:        clone(su.maxDischarge),
				MinSOC:              clone(su.minSOC),
				ChargeEfficiency:    su.chargeEff,
				DischargeEfficiency: su.dischargeEff,
				KmDriven:            clone(su.model.KmDriven),
				MWhPerKm:            su.model.MWhPerKm,
				Consumptions:        clone(su.consumption),
				ChargeInflows:       values(sv.charge),
				DischargeOutflows:   values(sv.discharge),
				SOCStart:            values(sv.socStart),
				SOCEnd:              values(sv.socEnd),
			}
		}
		r.Buses[b.name] = br
	}

	for _, l := range s.lines {
		r.Lines[l.name] = &LineResult{
			Start:      l.start,
			End:        l.end,
			Capacities: clone(l.capacities),
			Flows:      values(idx.flows[l]),
		}
	}
	return r
}

func clean(x float64) float64 {
	if math.Abs(x) < cleanTol {
		return 0
	}
	return x
}
