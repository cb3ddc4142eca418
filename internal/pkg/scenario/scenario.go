// Package scenario reads network descriptions from YAML or JSON files and
// builds them into a network.Network.
package scenario

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ohowland/cgc_nodal/internal/pkg/network"
	"gopkg.in/yaml.v3"
)

// Format selects the decoder used by Parse.
type Format string

const (
	YAML Format = "yaml"
	JSON Format = "json"
)

// Scenario is the on-disk shape of a network.
type Scenario struct {
	Name      string  `yaml:"name" json:"name"`
	Timesteps []Label `yaml:"timesteps" json:"timesteps"`
	Buses     []Bus   `yaml:"buses" json:"buses"`
	Lines     []Line  `yaml:"transmission_lines" json:"transmission_lines"`
}

type Bus struct {
	Name         string        `yaml:"name" json:"name"`
	Generators   []Generator   `yaml:"generators" json:"generators"`
	Loads        []Load        `yaml:"loads" json:"loads"`
	StorageUnits []StorageUnit `yaml:"storage_units" json:"storage_units"`
	EVFleets     []EVFleet     `yaml:"ev_fleets" json:"ev_fleets"`
}

type Generator struct {
	Name       string    `yaml:"name" json:"name"`
	Type       string    `yaml:"generator_type" json:"generator_type"`
	Capacities []float64 `yaml:"capacities" json:"capacities"`
	Costs      []float64 `yaml:"costs" json:"costs"`
}

type Load struct {
	Name         string    `yaml:"name" json:"name"`
	Consumptions []float64 `yaml:"consumptions" json:"consumptions"`
}

type StorageUnit struct {
	Name                string    `yaml:"name" json:"name"`
	MaxSOC              float64   `yaml:"max_soc_capacity" json:"max_soc_capacity"`
	MaxCharge           []float64 `yaml:"max_charge_capacities" json:"max_charge_capacities"`
	MaxDischarge        []float64 `yaml:"max_discharge_capacities" json:"max_discharge_capacities"`
	MinSOC              []float64 `yaml:"min_soc_requirements" json:"min_soc_requirements"`
	Consumptions        []float64 `yaml:"consumptions" json:"consumptions"`
	ChargeEfficiency    float64   `yaml:"charge_efficiency" json:"charge_efficiency"`
	DischargeEfficiency float64   `yaml:"discharge_efficiency" json:"discharge_efficiency"`
}

type EVFleet struct {
	Name                string    `yaml:"name" json:"name"`
	MaxSOC              float64   `yaml:"max_soc_capacity" json:"max_soc_capacity"`
	MaxCharge           []float64 `yaml:"max_charge_capacities" json:"max_charge_capacities"`
	MaxDischarge        []float64 `yaml:"max_discharge_capacities" json:"max_discharge_capacities"`
	MinSOC              []float64 `yaml:"min_soc_requirements" json:"min_soc_requirements"`
	KmDriven            []float64 `yaml:"km_driven" json:"km_driven"`
	MWhPerKm            float64   `yaml:"mwh_per_km_driven" json:"mwh_per_km_driven"`
	ChargeEfficiency    float64   `yaml:"charge_efficiency" json:"charge_efficiency"`
	DischargeEfficiency float64   `yaml:"discharge_efficiency" json:"discharge_efficiency"`
}

type Line struct {
	Start      string    `yaml:"start_bus" json:"start_bus"`
	End        string    `yaml:"end_bus" json:"end_bus"`
	Capacities []float64 `yaml:"capacities" json:"capacities"`
}

// Label is a timestep label. Files may write labels as strings or numbers.
type Label string

func (l *Label) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: timestep label must be a scalar", value.Line)
	}
	*l = Label(value.Value)
	return nil
}

func (l *Label) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*l = Label(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("timestep label must be a string or number: %w", err)
	}
	*l = Label(n.String())
	return nil
}

// LoadFile reads a scenario file, choosing the decoder by extension.
func LoadFile(path string) (*Scenario, error) {
	var format Format
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = YAML
	case ".json":
		format = JSON
	default:
		return nil, fmt.Errorf("scenario %s: unknown extension", path)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s, err := Parse(raw, format)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	return s, nil
}

// Parse decodes a scenario. Unknown fields are rejected.
func Parse(data []byte, format Format) (*Scenario, error) {
	var s Scenario
	switch format {
	case YAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&s); err != nil {
			return nil, err
		}
	case JSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&s); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown scenario format %q", format)
	}
	return &s, nil
}

// Labels returns the timestep labels as plain strings.
func (s *Scenario) Labels() []string {
	out := make([]string, len(s.Timesteps))
	for i, l := range s.Timesteps {
		out[i] = string(l)
	}
	return out
}

// Build registers every bus, entity and line of s on a new network. Series
// lengths are left for Network.Solve to check.
func Build(s *Scenario, opts ...network.Option) (*network.Network, error) {
	n, err := network.New(s.Name, s.Labels(), opts...)
	if err != nil {
		return nil, err
	}

	for _, sb := range s.Buses {
		b := network.NewBus(sb.Name)
		if err := n.AddBus(b); err != nil {
			return nil, err
		}
		if err := sb.register(b); err != nil {
			return nil, fmt.Errorf("bus %s: %w", sb.Name, err)
		}
	}
	for _, sl := range s.Lines {
		if _, err := n.AddLine(sl.Start, sl.End, sl.Capacities); err != nil {
			return nil, err
		}
	}
	return n, nil
}

func (sb Bus) register(b *network.Bus) error {
	for _, g := range sb.Generators {
		gen := network.NewGenerator(g.Name, g.Capacities, g.Costs, network.OfType(network.GeneratorType(g.Type)))
		if err := b.AddGenerator(gen); err != nil {
			return err
		}
	}
	for _, l := range sb.Loads {
		if err := b.AddLoad(network.NewLoad(l.Name, l.Consumptions)); err != nil {
			return err
		}
	}
	for _, su := range sb.StorageUnits {
		unit := network.NewStorageUnit(su.Name, network.StorageParams{
			MaxSOC:              su.MaxSOC,
			MaxCharge:           su.MaxCharge,
			MaxDischarge:        su.MaxDischarge,
			MinSOC:              su.MinSOC,
			Consumption:         su.Consumptions,
			ChargeEfficiency:    su.ChargeEfficiency,
			DischargeEfficiency: su.DischargeEfficiency,
		})
		if err := b.AddStorageUnit(unit); err != nil {
			return err
		}
	}
	for _, ev := range sb.EVFleets {
		fleet := network.NewEVFleet(ev.Name, network.EVFleetParams{
			MaxSOC:              ev.MaxSOC,
			MaxCharge:           ev.MaxCharge,
			MaxDischarge:        ev.MaxDischarge,
			MinSOC:              ev.MinSOC,
			KmDriven:            ev.KmDriven,
			MWhPerKm:            ev.MWhPerKm,
			ChargeEfficiency:    ev.ChargeEfficiency,
			DischargeEfficiency: ev.DischargeEfficiency,
		})
		if err := b.AddEVFleet(fleet); err != nil {
			return err
		}
	}
	return nil
}
