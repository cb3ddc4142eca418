package lp

import (
	"fmt"
	"math"
	"sort"
)

const (
	feasTol  = 1e-9
	pivotTol = 1e-10
)

// column is a nonnegative standard form column. The owning model variable
// takes the value base[v] + sign*x.
type column struct {
	v     VarID
	sign  float64
	upper float64
}

type sparseRow struct {
	model RowID
	sense Sense
	idx   []int
	val   []float64
	rhs   float64
}

// presolved is a model rewritten over nonnegative columns, with fixed
// variables substituted out and redundant rows removed.
type presolved struct {
	base   []float64
	cols   []column
	cost   []float64
	offset float64
	rows   []sparseRow
	active []bool
	stats  Stats
}

// presolve reduces m. A status other than Optimal means the reduction itself
// proved the outcome and no backend call is needed.
func presolve(m *Model) (*presolved, Status, string) {
	n := len(m.vars)
	p := &presolved{base: make([]float64, n)}
	first := make([]int, n)
	span := make([]int, n)

	for i, v := range m.vars {
		l, u := v.Lower, v.Upper
		switch {
		case math.IsInf(l, 1) || math.IsInf(u, -1) || l > u+feasTol:
			return nil, Infeasible, fmt.Sprintf("variable %s has empty bounds [%g, %g]", v.Name, l, u)
		case !math.IsInf(l, -1) && !math.IsInf(u, 1) && u-l <= feasTol:
			p.base[i] = l
			p.stats.FixedVars++
		case !math.IsInf(l, -1):
			p.base[i] = l
			first[i], span[i] = len(p.cols), 1
			p.cols = append(p.cols, column{v: VarID(i), sign: 1, upper: u - l})
		case !math.IsInf(u, 1):
			p.base[i] = u
			first[i], span[i] = len(p.cols), 1
			p.cols = append(p.cols, column{v: VarID(i), sign: -1, upper: math.Inf(1)})
		default:
			first[i], span[i] = len(p.cols), 2
			p.cols = append(p.cols,
				column{v: VarID(i), sign: 1, upper: math.Inf(1)},
				column{v: VarID(i), sign: -1, upper: math.Inf(1)})
		}
	}

	p.cost = make([]float64, len(p.cols))
	for _, t := range m.objective {
		p.offset += t.Coef * p.base[t.Var]
		for k := 0; k < span[t.Var]; k++ {
			c := first[t.Var] + k
			p.cost[c] += t.Coef * p.cols[c].sign
		}
	}

	rows := make([]sparseRow, 0, len(m.rows))
	for r, row := range m.rows {
		acc := make(map[int]float64)
		rhs := row.RHS
		scale := 1 + math.Abs(row.RHS)
		for _, t := range row.Terms {
			shift := t.Coef * p.base[t.Var]
			rhs -= shift
			scale += math.Abs(shift)
			for k := 0; k < span[t.Var]; k++ {
				c := first[t.Var] + k
				acc[c] += t.Coef * p.cols[c].sign
			}
		}
		if math.Abs(rhs) <= feasTol*scale {
			rhs = 0
		}

		sr := sparseRow{model: RowID(r), sense: row.Sense, rhs: rhs}
		for c, a := range acc {
			if a != 0 {
				sr.idx = append(sr.idx, c)
			}
		}
		sort.Ints(sr.idx)
		sr.val = make([]float64, len(sr.idx))
		for k, c := range sr.idx {
			sr.val[k] = acc[c]
		}

		if len(sr.idx) == 0 {
			if !holdsEmpty(sr.sense, rhs) {
				return nil, Infeasible, fmt.Sprintf("row %s has no free variables and requires 0 %s %g", row.Name, row.Sense, rhs)
			}
			p.stats.DroppedRows++
			continue
		}
		rows = append(rows, sr)
	}

	kept, dropped, bad := dropDependent(rows, len(p.cols))
	if bad >= 0 {
		return nil, Infeasible, fmt.Sprintf("row %s contradicts the equality rows before it", m.rows[bad].Name)
	}
	p.rows = kept
	p.stats.DroppedRows += dropped

	used := make([]bool, len(p.cols))
	for _, r := range p.rows {
		for _, c := range r.idx {
			used[c] = true
		}
	}
	p.active = make([]bool, len(p.cols))
	for c, col := range p.cols {
		bounded := !math.IsInf(col.upper, 1)
		if !used[c] && !bounded && p.cost[c] < 0 {
			return nil, Unbounded, fmt.Sprintf("variable %s improves the objective without limit", m.vars[col.v].Name)
		}
		p.active[c] = used[c] || bounded
	}
	return p, Optimal, ""
}

func holdsEmpty(s Sense, rhs float64) bool {
	switch s {
	case LessEqual:
		return rhs >= 0
	case GreaterEqual:
		return rhs <= 0
	default:
		return rhs == 0
	}
}

// dropDependent removes equality rows that are linear combinations of the
// equality rows before them. Earlier rows always win. bad is the model index
// of the first dependent row with an inconsistent right hand side, or -1.
func dropDependent(rows []sparseRow, ncols int) (kept []sparseRow, dropped int, bad RowID) {
	type pivotRow struct {
		col int
		vec []float64
	}
	basis := make([]pivotRow, 0)
	kept = make([]sparseRow, 0, len(rows))

	for _, r := range rows {
		if r.sense != Equal {
			kept = append(kept, r)
			continue
		}

		v := make([]float64, ncols+1)
		scale := 0.0
		for k, c := range r.idx {
			v[c] = r.val[k]
			scale = math.Max(scale, math.Abs(r.val[k]))
		}
		v[ncols] = r.rhs

		for _, b := range basis {
			f := v[b.col]
			if f == 0 {
				continue
			}
			for j, bv := range b.vec {
				if bv != 0 {
					v[j] -= f * bv
				}
			}
			v[b.col] = 0
		}

		piv, best := -1, 0.0
		for j := 0; j < ncols; j++ {
			if a := math.Abs(v[j]); a > best {
				piv, best = j, a
			}
		}
		if best <= pivotTol*scale {
			if math.Abs(v[ncols]) > 1e-7*(1+math.Abs(r.rhs)) {
				return nil, dropped, r.model
			}
			dropped++
			continue
		}

		inv := 1 / v[piv]
		for j := range v {
			v[j] *= inv
		}
		v[piv] = 1
		basis = append(basis, pivotRow{col: piv, vec: v})
		kept = append(kept, r)
	}
	return kept, dropped, -1
}
