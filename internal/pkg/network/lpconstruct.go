package network

import (
	"fmt"
	"math"

	"github.com/ohowland/cgc_nodal/internal/pkg/lp"
)

// balanceKey identifies the energy balance row of a bus at a timestep.
type balanceKey struct {
	Bus      string
	Timestep int
}

type storageVars struct {
	charge    []lp.VarID
	discharge []lp.VarID
	socStart  []lp.VarID
	socEnd    []lp.VarID
}

// modelIndex maps entities onto the variables and rows of one built program.
type modelIndex struct {
	outputs map[*Generator][]lp.VarID
	storage map[*StorageUnit]*storageVars
	flows   map[*TransmissionLine][]lp.VarID
	balance map[balanceKey]lp.RowID
}

// build assembles the dispatch program for a validated snapshot. Balance rows
// are emitted before storage rows so that redundancy elimination keeps them.
func build(s *snapshot) (*lp.Model, *modelIndex) {
	m := lp.NewModel(s.name)
	idx := &modelIndex{
		outputs: make(map[*Generator][]lp.VarID),
		storage: make(map[*StorageUnit]*storageVars),
		flows:   make(map[*TransmissionLine][]lp.VarID),
		balance: make(map[balanceKey]lp.RowID),
	}

	for _, b := range s.buses {
		for _, g := range b.generators {
			idx.outputs[g] = materialize(m, g.output, s.timesteps, nil)
		}
		for _, su := range b.storage {
			idx.storage[su] = &storageVars{
				charge:    materialize(m, su.charge, s.timesteps, nil),
				discharge: materialize(m, su.discharge, s.timesteps, nil),
				socStart:  materialize(m, su.socStart, s.timesteps, su.minSOC),
				socEnd:    materialize(m, su.socEnd, s.timesteps, nil),
			}
		}
	}
	for _, l := range s.lines {
		idx.flows[l] = materialize(m, l.flow, s.timesteps, nil)
	}

	for _, b := range s.buses {
		for i, label := range s.timesteps {
			terms, demand := balanceTerms(b, idx, i)
			row := m.AddConstraint(fmt.Sprintf("balance_%s_%s", b.name, label), terms, lp.Equal, demand)
			idx.balance[balanceKey{Bus: b.name, Timestep: i}] = row
		}
	}

	for _, b := range s.buses {
		for _, su := range b.storage {
			addStorageRows(m, su, idx.storage[su], s.timesteps)
		}
		for _, g := range b.generators {
			for i, v := range idx.outputs[g] {
				m.AddObjective(lp.Term{Var: v, Coef: g.costs[i]})
			}
		}
	}
	return m, idx
}

// materialize adds one variable per timestep. floor, when given, raises the
// declared lower bounds.
func materialize(m *lp.Model, vs VarSeries, labels []string, floor []float64) []lp.VarID {
	ids := make([]lp.VarID, len(labels))
	for i, label := range labels {
		lower := vs.Lower[i]
		if floor != nil {
			lower = math.Max(lower, floor[i])
		}
		ids[i] = m.AddVar(fmt.Sprintf("%s_%s", vs.Name, label), lower, vs.Upper[i])
	}
	return ids
}

// balanceTerms returns the left hand side of
//
//	gen + inflow + discharge - charge - outflow = load
//
// for bus b at timestep i, together with the load it must meet.
func balanceTerms(b busSnapshot, idx *modelIndex, i int) ([]lp.Term, float64) {
	terms := make([]lp.Term, 0)
	for _, g := range b.generators {
		terms = append(terms, lp.Term{Var: idx.outputs[g][i], Coef: 1})
	}
	for _, l := range b.incoming {
		terms = append(terms, lp.Term{Var: idx.flows[l][i], Coef: 1})
	}
	for _, l := range b.outgoing {
		terms = append(terms, lp.Term{Var: idx.flows[l][i], Coef: -1})
	}
	for _, su := range b.storage {
		sv := idx.storage[su]
		terms = append(terms,
			lp.Term{Var: sv.discharge[i], Coef: 1},
			lp.Term{Var: sv.charge[i], Coef: -1})
	}

	var demand float64
	for _, l := range b.loads {
		demand += l.consumptions[i]
	}
	return terms, demand
}

// addStorageRows couples the state of charge of su across the horizon:
//
//	soc_end[i] = soc_start[i] + ce*charge[i] - discharge[i]/de - consumption[i]
//	soc_start[i+1] = soc_end[i]
//	soc_start[0] = min[0], soc_end[last] = min[last]
func addStorageRows(m *lp.Model, su *StorageUnit, sv *storageVars, labels []string) {
	last := len(labels) - 1
	for i, label := range labels {
		m.AddConstraint(fmt.Sprintf("%s_energy_%s", su.name, label), []lp.Term{
			{Var: sv.socEnd[i], Coef: 1},
			{Var: sv.socStart[i], Coef: -1},
			{Var: sv.charge[i], Coef: -su.chargeEff},
			{Var: sv.discharge[i], Coef: 1 / su.dischargeEff},
		}, lp.Equal, -su.consumption[i])

		if i < last {
			m.AddConstraint(fmt.Sprintf("%s_continuity_%s", su.name, label), []lp.Term{
				{Var: sv.socStart[i+1], Coef: 1},
				{Var: sv.socEnd[i], Coef: -1},
			}, lp.Equal, 0)
		}
	}
	if last < 0 {
		return
	}
	m.AddConstraint(fmt.Sprintf("%s_initial_soc", su.name), []lp.Term{
		{Var: sv.socStart[0], Coef: 1},
	}, lp.Equal, su.minSOC[0])
	m.AddConstraint(fmt.Sprintf("%s_final_soc", su.name), []lp.Term{
		{Var: sv.socEnd[last], Coef: 1},
	}, lp.Equal, su.minSOC[last])
}
