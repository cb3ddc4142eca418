package network

import (
	"fmt"
	"math"
)

type busSnapshot struct {
	name       string
	generators []*Generator
	loads      []*Load
	storage    []*StorageUnit
	incoming   []*TransmissionLine
	outgoing   []*TransmissionLine
}

// snapshot is the topology a single solve works from.
type snapshot struct {
	name      string
	timesteps []string
	buses     []busSnapshot
	lines     []*TransmissionLine
}

type namedSeries struct {
	attr string
	xs   []float64
}

func entityName(bus, name string) string {
	return bus + "/" + name
}

// validate checks every series length first and only then the parameter
// values, so a shape error is always reported ahead of a value error.
func (s *snapshot) validate() error {
	if err := s.validateLengths(); err != nil {
		return err
	}
	return s.validateParameters()
}

func (s *snapshot) validateLengths() error {
	want := len(s.timesteps)
	check := func(kind, entity, attribute string, xs []float64) error {
		if len(xs) != want {
			return &TimestepLengthMismatch{Kind: kind, Entity: entity, Attribute: attribute, Got: len(xs), Want: want}
		}
		return nil
	}

	for _, b := range s.buses {
		for _, l := range b.loads {
			if err := check("load", entityName(b.name, l.name), "consumptions", l.consumptions); err != nil {
				return err
			}
		}
		for _, g := range b.generators {
			ent := entityName(b.name, g.name)
			if err := check("generator", ent, "capacities", g.capacities); err != nil {
				return err
			}
			if err := check("generator", ent, "costs", g.costs); err != nil {
				return err
			}
		}
		for _, su := range b.storage {
			kind := string(su.Kind())
			ent := entityName(b.name, su.name)
			series := []namedSeries{
				{"max_charge_capacities", su.maxCharge},
				{"max_discharge_capacities", su.maxDischarge},
				{"min_soc_requirements", su.minSOC},
			}
			if su.model.Kind == KindEVFleet {
				series = append(series, namedSeries{"km_driven", su.model.KmDriven})
			} else {
				series = append(series, namedSeries{"consumptions", su.consumption})
			}
			for _, sr := range series {
				if err := check(kind, ent, sr.attr, sr.xs); err != nil {
					return err
				}
			}
		}
	}
	for _, l := range s.lines {
		if err := check("transmission line", l.name, "capacities", l.capacities); err != nil {
			return err
		}
	}
	return nil
}

func invalid(kind, entity, attribute, format string, args ...interface{}) error {
	return &InvalidParameterError{Kind: kind, Entity: entity, Attribute: attribute, Reason: fmt.Sprintf(format, args...)}
}

func finite(kind, entity, attribute string, xs []float64) error {
	for i, x := range xs {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return invalid(kind, entity, attribute, "entry %d is %v", i, x)
		}
	}
	return nil
}

func nonNegative(kind, entity, attribute string, xs []float64) error {
	if err := finite(kind, entity, attribute, xs); err != nil {
		return err
	}
	for i, x := range xs {
		if x < 0 {
			return invalid(kind, entity, attribute, "entry %d is negative (%g)", i, x)
		}
	}
	return nil
}

func efficiency(kind, entity, attribute string, e float64) error {
	if math.IsNaN(e) || e <= 0 || e > 1 {
		return invalid(kind, entity, attribute, "%g is outside (0, 1]", e)
	}
	return nil
}

func (s *snapshot) validateParameters() error {
	for _, b := range s.buses {
		for _, l := range b.loads {
			if err := finite("load", entityName(b.name, l.name), "consumptions", l.consumptions); err != nil {
				return err
			}
		}
		for _, g := range b.generators {
			ent := entityName(b.name, g.name)
			if err := nonNegative("generator", ent, "capacities", g.capacities); err != nil {
				return err
			}
			if err := finite("generator", ent, "costs", g.costs); err != nil {
				return err
			}
		}
		for _, su := range b.storage {
			if err := su.validate(entityName(b.name, su.name)); err != nil {
				return err
			}
		}
	}
	for _, l := range s.lines {
		if err := nonNegative("transmission line", l.name, "capacities", l.capacities); err != nil {
			return err
		}
	}
	return nil
}

func (su *StorageUnit) validate(ent string) error {
	kind := string(su.Kind())
	if err := nonNegative(kind, ent, "max_soc_capacity", []float64{su.maxSOC}); err != nil {
		return err
	}
	if err := nonNegative(kind, ent, "max_charge_capacities", su.maxCharge); err != nil {
		return err
	}
	if err := nonNegative(kind, ent, "max_discharge_capacities", su.maxDischarge); err != nil {
		return err
	}
	if err := nonNegative(kind, ent, "min_soc_requirements", su.minSOC); err != nil {
		return err
	}
	for i, m := range su.minSOC {
		if m > su.maxSOC {
			return invalid(kind, ent, "min_soc_requirements", "entry %d (%g) exceeds max_soc_capacity %g", i, m, su.maxSOC)
		}
	}
	if su.model.Kind == KindEVFleet {
		if err := nonNegative(kind, ent, "km_driven", su.model.KmDriven); err != nil {
			return err
		}
		if err := nonNegative(kind, ent, "mwh_per_km_driven", []float64{su.model.MWhPerKm}); err != nil {
			return err
		}
	}
	if err := finite(kind, ent, "consumptions", su.consumption); err != nil {
		return err
	}
	if err := efficiency(kind, ent, "charge_efficiency", su.chargeEff); err != nil {
		return err
	}
	return efficiency(kind, ent, "discharge_efficiency", su.dischargeEff)
}
