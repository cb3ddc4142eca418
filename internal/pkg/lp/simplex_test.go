package lp

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"testing"

	"gonum.org/v1/gonum/mat"
	convexlp "gonum.org/v1/gonum/optimize/convex/lp"
	"gotest.tools/v3/assert"
)

func near(t *testing.T, got, want float64) {
	t.Helper()
	assert.Assert(t, math.Abs(got-want) < 1e-6, "got %v, want %v", got, want)
}

func TestSimplexSingleBalanceRow(t *testing.T) {
	m := NewModel("single")
	x := m.AddVar("x", 0, 10)
	y := m.AddVar("y", 0, 10)
	row := m.AddConstraint("balance", []Term{{x, 1}, {y, 1}}, Equal, 9)
	m.AddObjective(Term{x, 5}, Term{y, 7})

	sol, err := NewSimplex().Solve(context.Background(), m)
	assert.NilError(t, err)
	assert.Equal(t, sol.Status, Optimal)
	near(t, sol.Value(x), 9)
	near(t, sol.Value(y), 0)
	near(t, sol.Dual(row), 5)
	near(t, sol.Objective, 45)
}

func TestSimplexMarginalUnitSetsDual(t *testing.T) {
	m := NewModel("marginal")
	x := m.AddVar("x", 0, 4)
	y := m.AddVar("y", 0, 10)
	row := m.AddConstraint("balance", []Term{{x, 1}, {y, 1}}, Equal, 9)
	m.AddObjective(Term{x, 5}, Term{y, 7})

	sol, err := NewSimplex().Solve(context.Background(), m)
	assert.NilError(t, err)
	assert.Equal(t, sol.Status, Optimal)
	near(t, sol.Value(x), 4)
	near(t, sol.Value(y), 5)
	near(t, sol.Dual(row), 7)
}

func TestSimplexInfeasible(t *testing.T) {
	m := NewModel("short")
	x := m.AddVar("x", 0, 10)
	y := m.AddVar("y", 0, 10)
	row := m.AddConstraint("balance", []Term{{x, 1}, {y, 1}}, Equal, 25)
	m.AddObjective(Term{x, 1}, Term{y, 1})

	sol, err := NewSimplex().Solve(context.Background(), m)
	assert.NilError(t, err)
	assert.Equal(t, sol.Status, Infeasible)
	assert.Assert(t, math.IsNaN(sol.Dual(row)))
	assert.Assert(t, math.IsNaN(sol.Value(x)))
}

func TestSimplexUnbounded(t *testing.T) {
	m := NewModel("open")
	x := m.AddVar("x", 0, math.Inf(1))
	m.AddObjective(Term{x, -1})

	sol, err := NewSimplex().Solve(context.Background(), m)
	assert.NilError(t, err)
	assert.Equal(t, sol.Status, Unbounded)
}

func TestSimplexEmptyBounds(t *testing.T) {
	m := NewModel("empty")
	m.AddVar("x", 5, 1)

	sol, err := NewSimplex().Solve(context.Background(), m)
	assert.NilError(t, err)
	assert.Equal(t, sol.Status, Infeasible)
}

func TestPresolveDropsDependentRows(t *testing.T) {
	m := NewModel("dependent")
	x := m.AddVar("x", 0, 10)
	y := m.AddVar("y", 0, 10)
	first := m.AddConstraint("first", []Term{{x, 1}, {y, 1}}, Equal, 4)
	second := m.AddConstraint("second", []Term{{x, 2}, {y, 2}}, Equal, 8)
	m.AddObjective(Term{x, 1}, Term{y, 2})

	sol, err := NewSimplex().Solve(context.Background(), m)
	assert.NilError(t, err)
	assert.Equal(t, sol.Status, Optimal)
	assert.Equal(t, sol.Stats.DroppedRows, 1)
	near(t, sol.Value(x), 4)
	near(t, sol.Dual(first), 1)
	assert.Equal(t, sol.Dual(second), 0.0)
}

func TestPresolveInconsistentRows(t *testing.T) {
	m := NewModel("inconsistent")
	x := m.AddVar("x", 0, 10)
	y := m.AddVar("y", 0, 10)
	m.AddConstraint("first", []Term{{x, 1}, {y, 1}}, Equal, 4)
	m.AddConstraint("second", []Term{{x, 2}, {y, 2}}, Equal, 9)

	sol, err := NewSimplex().Solve(context.Background(), m)
	assert.NilError(t, err)
	assert.Equal(t, sol.Status, Infeasible)
	assert.Assert(t, strings.Contains(sol.Message, "second"), sol.Message)
}

func TestFixedVariableSubstitution(t *testing.T) {
	m := NewModel("fixed")
	x := m.AddVar("x", 3, 3)
	y := m.AddVar("y", 0, 10)
	row := m.AddConstraint("balance", []Term{{x, 1}, {y, 1}}, Equal, 5)
	m.AddObjective(Term{y, 1})

	sol, err := NewSimplex().Solve(context.Background(), m)
	assert.NilError(t, err)
	assert.Equal(t, sol.Status, Optimal)
	assert.Equal(t, sol.Stats.FixedVars, 1)
	near(t, sol.Value(x), 3)
	near(t, sol.Value(y), 2)
	near(t, sol.Dual(row), 1)
}

func TestGreaterEqualRowDual(t *testing.T) {
	m := NewModel("floor")
	x := m.AddVar("x", 0, 10)
	row := m.AddConstraint("floor", []Term{{x, 1}}, GreaterEqual, 2)
	m.AddObjective(Term{x, 3})

	sol, err := NewSimplex().Solve(context.Background(), m)
	assert.NilError(t, err)
	assert.Equal(t, sol.Status, Optimal)
	near(t, sol.Value(x), 2)
	near(t, sol.Dual(row), 3)
}

func TestFreeVariable(t *testing.T) {
	m := NewModel("free")
	x := m.AddVar("x", math.Inf(-1), math.Inf(1))
	y := m.AddVar("y", 0, 5)
	row := m.AddConstraint("link", []Term{{x, 1}, {y, -1}}, Equal, -1)
	m.AddObjective(Term{x, 1})

	sol, err := NewSimplex().Solve(context.Background(), m)
	assert.NilError(t, err)
	assert.Equal(t, sol.Status, Optimal)
	near(t, sol.Value(x), -1)
	near(t, sol.Value(y), 0)
	near(t, sol.Objective, -1)
	near(t, sol.Dual(row), 1)
}

func TestCancelledContext(t *testing.T) {
	m := NewModel("cancelled")
	x := m.AddVar("x", 0, 1)
	m.AddObjective(Term{x, 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sol, err := NewSimplex().Solve(ctx, m)
	assert.NilError(t, err)
	assert.Equal(t, sol.Status, Undefined)
}

func TestSolveRejectsBadModels(t *testing.T) {
	_, err := NewSimplex().Solve(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNilModel)

	m := NewModel("bad")
	m.AddConstraint("ghost", []Term{{VarID(3), 1}}, Equal, 1)
	_, err = NewSimplex().Solve(context.Background(), m)
	assert.ErrorIs(t, err, ErrUnknownVar)
}

func TestStatusText(t *testing.T) {
	for _, s := range []Status{Optimal, Infeasible, Unbounded, Undefined} {
		b, err := s.MarshalText()
		assert.NilError(t, err)
		var back Status
		assert.NilError(t, back.UnmarshalText(b))
		assert.Equal(t, back, s)
	}
	assert.Equal(t, ParseStatus("bogus"), Undefined)
}

// The balance row sits exactly at the cheap unit's cap, so the basis is
// degenerate and any price between the two costs is a valid dual.
func TestDegenerateBasisDual(t *testing.T) {
	m := NewModel("degenerate")
	x := m.AddVar("x", 0, 10)
	y := m.AddVar("y", 0, 10)
	row := m.AddConstraint("balance", []Term{{x, 1}, {y, 1}}, Equal, 10)
	m.AddObjective(Term{x, 1}, Term{y, 2})

	sol, err := NewSimplex().Solve(context.Background(), m)
	assert.NilError(t, err)
	assert.Equal(t, sol.Status, Optimal)
	near(t, sol.Value(x), 10)
	near(t, sol.Value(y), 0)
	d := sol.Dual(row)
	assert.Assert(t, d >= 1-1e-9 && d <= 2+1e-9, "dual %v", d)
}

type transport struct {
	supply, demand []float64
	capacity, cost [][]float64
}

func newTransport(seed int64, sources, sinks int) transport {
	rnd := rand.New(rand.NewSource(seed))
	tr := transport{
		supply:   make([]float64, sources),
		demand:   make([]float64, sinks),
		capacity: make([][]float64, sources),
		cost:     make([][]float64, sources),
	}
	var total float64
	for j := range tr.demand {
		tr.demand[j] = 5 + 20*rnd.Float64()
		total += tr.demand[j]
	}
	for i := range tr.supply {
		tr.supply[i] = 0.5 * total
		tr.capacity[i] = make([]float64, sinks)
		tr.cost[i] = make([]float64, sinks)
		for j := range tr.demand {
			tr.capacity[i][j] = 0.6 * tr.demand[j]
			tr.cost[i][j] = 1 + 9*rnd.Float64()
		}
	}
	return tr
}

// model builds the transport problem. With boundRows the arc capacities are
// rows instead of variable bounds.
func (tr transport) model(boundRows bool) (*Model, []RowID, []float64) {
	m := NewModel("transport")
	var rows []RowID
	var rhs []float64
	arcs := make([][]VarID, len(tr.supply))
	for i := range tr.supply {
		arcs[i] = make([]VarID, len(tr.demand))
		for j := range tr.demand {
			upper := tr.capacity[i][j]
			if boundRows {
				upper = math.Inf(1)
			}
			arcs[i][j] = m.AddVar(fmt.Sprintf("x_%d_%d", i, j), 0, upper)
			m.AddObjective(Term{arcs[i][j], tr.cost[i][j]})
			if boundRows {
				rows = append(rows, m.AddConstraint(fmt.Sprintf("cap_%d_%d", i, j), []Term{{arcs[i][j], 1}}, LessEqual, tr.capacity[i][j]))
				rhs = append(rhs, tr.capacity[i][j])
			}
		}
	}
	for i, s := range tr.supply {
		terms := make([]Term, 0, len(tr.demand))
		for j := range tr.demand {
			terms = append(terms, Term{arcs[i][j], 1})
		}
		rows = append(rows, m.AddConstraint(fmt.Sprintf("supply_%d", i), terms, LessEqual, s))
		rhs = append(rhs, s)
	}
	for j, d := range tr.demand {
		terms := make([]Term, 0, len(tr.supply))
		for i := range tr.supply {
			terms = append(terms, Term{arcs[i][j], 1})
		}
		rows = append(rows, m.AddConstraint(fmt.Sprintf("demand_%d", j), terms, Equal, d))
		rhs = append(rhs, d)
	}
	return m, rows, rhs
}

// reference solves the same problem with gonum's simplex in equality
// standard form: arcs, then supply slacks, then capacity slacks.
func (tr transport) reference(t *testing.T) float64 {
	t.Helper()
	ns, nd := len(tr.supply), len(tr.demand)
	arcs := ns * nd
	rows, cols := ns+nd+arcs, 2*arcs+ns
	a := mat.NewDense(rows, cols, nil)
	b := make([]float64, rows)
	c := make([]float64, cols)
	for i := 0; i < ns; i++ {
		for j := 0; j < nd; j++ {
			k := i*nd + j
			c[k] = tr.cost[i][j]
			a.Set(i, k, 1)
			a.Set(ns+j, k, 1)
			a.Set(ns+nd+k, k, 1)
			a.Set(ns+nd+k, arcs+ns+k, 1)
			b[ns+nd+k] = tr.capacity[i][j]
		}
		a.Set(i, arcs+i, 1)
		b[i] = tr.supply[i]
	}
	for j := 0; j < nd; j++ {
		b[ns+j] = tr.demand[j]
	}
	opt, _, err := convexlp.Simplex(c, a, b, 1e-10, nil)
	assert.NilError(t, err)
	return opt
}

func TestSimplexAgreesWithGonum(t *testing.T) {
	for seed := int64(1); seed <= 6; seed++ {
		tr := newTransport(seed, 3, 5)
		m, _, _ := tr.model(false)
		sol, err := NewSimplex().Solve(context.Background(), m)
		assert.NilError(t, err)
		assert.Equal(t, sol.Status, Optimal)

		want := tr.reference(t)
		assert.Assert(t, math.Abs(sol.Objective-want) < 1e-6*(1+math.Abs(want)),
			"seed %d: got %v, want %v", seed, sol.Objective, want)
	}
}

// With every bound written as a row the objective equals b'y.
func TestSimplexStrongDuality(t *testing.T) {
	for seed := int64(1); seed <= 6; seed++ {
		tr := newTransport(seed, 4, 6)
		m, rows, rhs := tr.model(true)
		sol, err := NewSimplex().Solve(context.Background(), m)
		assert.NilError(t, err)
		assert.Equal(t, sol.Status, Optimal)
		assert.Assert(t, sol.Stats.Iterations > 0)

		var dual float64
		for k, r := range rows {
			y := sol.Dual(r)
			switch m.Row(r).Sense {
			case LessEqual:
				assert.Assert(t, y <= 1e-9, "%s: dual %v", m.Row(r).Name, y)
			case GreaterEqual:
				assert.Assert(t, y >= -1e-9, "%s: dual %v", m.Row(r).Name, y)
			}
			dual += rhs[k] * y
		}
		assert.Assert(t, math.Abs(dual-sol.Objective) < 1e-6*(1+math.Abs(sol.Objective)),
			"seed %d: primal %v, dual %v", seed, sol.Objective, dual)

		bounded, _, _ := tr.model(false)
		again, err := NewSimplex().Solve(context.Background(), bounded)
		assert.NilError(t, err)
		near(t, again.Objective, sol.Objective)
	}
}
