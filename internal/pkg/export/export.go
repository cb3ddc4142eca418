// Package export writes solve results as JSON documents and CSV ledgers.
package export

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/ohowland/cgc_nodal/internal/pkg/lp"
	"github.com/ohowland/cgc_nodal/internal/pkg/network"
)

// Document is the JSON export of one run.
type Document struct {
	RunID     uuid.UUID     `json:"run_id"`
	Status    lp.Status     `json:"status"`
	Objective float64       `json:"objective"`
	SolvedAt  time.Time     `json:"solved_at"`
	Network   NetworkRecord `json:"network"`
}

type NetworkRecord struct {
	Name      string                         `json:"name"`
	Timesteps [][2]interface{}               `json:"timesteps"`
	Buses     map[string]*network.BusResult  `json:"buses"`
	Lines     map[string]*network.LineResult `json:"transmission_lines"`
}

// NewDocument lays r out as the network document: timesteps as
// [index, label] pairs, buses keyed by name with their entities and prices,
// then the transmission lines.
func NewDocument(r *network.SolveResult) Document {
	ts := make([][2]interface{}, len(r.Timesteps))
	for i, label := range r.Timesteps {
		ts[i] = [2]interface{}{i, label}
	}
	return Document{
		RunID:     r.RunID,
		Status:    r.Status,
		Objective: r.Objective,
		SolvedAt:  r.SolvedAt,
		Network: NetworkRecord{
			Name:      r.Network,
			Timesteps: ts,
			Buses:     r.Buses,
			Lines:     r.Lines,
		},
	}
}

func WriteJSON(w io.Writer, r *network.SolveResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	return enc.Encode(NewDocument(r))
}

var header = []string{"timestep_index", "timestep", "bus", "kind", "entity", "quantity", "value"}

// WriteCSV writes one row per timestep, entity and quantity. Traces that the
// run did not produce are skipped, so a non-optimal run only lists inputs.
func WriteCSV(w io.Writer, r *network.SolveResult) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}

	for i, label := range r.Timesteps {
		row := func(bus, kind, entity, quantity string, series []float64) error {
			if i >= len(series) {
				return nil
			}
			return cw.Write([]string{strconv.Itoa(i), label, bus, kind, entity, quantity, fmtFloat(series[i])})
		}

		for _, busName := range sortedKeys(r.Buses) {
			b := r.Buses[busName]
			if err := row(busName, "bus", busName, "nodal_price", b.NodalPrices); err != nil {
				return err
			}
			for _, name := range sortedKeys(b.Generators) {
				g := b.Generators[name]
				for _, q := range []struct {
					quantity string
					series   []float64
				}{
					{"capacity", g.Capacities},
					{"cost", g.Costs},
					{"output", g.Outputs},
				} {
					if err := row(busName, "generator", name, q.quantity, q.series); err != nil {
						return err
					}
				}
			}
			for _, name := range sortedKeys(b.Loads) {
				if err := row(busName, "load", name, "consumption", b.Loads[name].Consumptions); err != nil {
					return err
				}
			}
			for _, name := range sortedKeys(b.StorageUnits) {
				su := b.StorageUnits[name]
				for _, q := range []struct {
					quantity string
					series   []float64
				}{
					{"consumption", su.Consumptions},
					{"charge_inflow", su.ChargeInflows},
					{"discharge_outflow", su.DischargeOutflows},
					{"soc_start", su.SOCStart},
					{"soc_end", su.SOCEnd},
				} {
					if err := row(busName, string(su.Kind), name, q.quantity, q.series); err != nil {
						return err
					}
				}
			}
		}

		for _, name := range sortedKeys(r.Lines) {
			l := r.Lines[name]
			if err := row(l.Start, "transmission_line", name, "capacity", l.Capacities); err != nil {
				return err
			}
			if err := row(l.Start, "transmission_line", name, "flow", l.Flows); err != nil {
				return err
			}
		}
	}

	cw.Flush()
	return cw.Error()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func fmtFloat(x float64) string {
	return strconv.FormatFloat(x, 'f', 6, 64)
}
