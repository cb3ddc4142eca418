package lp

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	pivotEps   = 1e-9
	ratioEps   = 1e-10
	infeasEps  = 1e-7
	stallEps   = 1e-12
	blandAfter = 50
	ctxEvery   = 64
)

var errIterationLimit = errors.New("lp: iteration limit reached")

// tableau is a dense bounded-variable simplex tableau over a standard form
// program. Every row starts with a unit column, either its own slack or an
// artificial, so those columns of t hold the inverse of the current basis.
type tableau struct {
	st   standard
	m, n int

	t    *mat.Dense
	rhs  []float64
	flip []float64
	unit []int

	basis   []int
	pos     []int
	x       []float64
	upper   []float64
	atUpper []bool
	cost    []float64
	d       []float64

	tol   float64
	iters int
	limit int
}

func newTableau(st standard, tol float64) *tableau {
	m, nc := st.rows(), len(st.c)
	flip := make([]float64, m)
	nArt := 0
	for i := range flip {
		flip[i] = 1
		if st.b[i] < 0 {
			flip[i] = -1
		}
		if s := st.slack[i]; s < 0 || flip[i]*st.a.At(i, s) != 1 {
			nArt++
		}
	}

	n := nc + nArt
	tb := &tableau{
		st:      st,
		m:       m,
		n:       n,
		t:       mat.NewDense(m, n, nil),
		rhs:     make([]float64, m),
		flip:    flip,
		unit:    make([]int, m),
		basis:   make([]int, m),
		pos:     make([]int, n),
		x:       make([]float64, n),
		upper:   make([]float64, n),
		atUpper: make([]bool, n),
		cost:    make([]float64, n),
		d:       make([]float64, n),
		tol:     tol * math.Max(1, maxAbs(st.c)),
		limit:   50*(m+n) + 1000,
	}
	copy(tb.upper, st.upper)
	for j := range tb.pos {
		tb.pos[j] = -1
	}

	art := nc
	for i := 0; i < m; i++ {
		row := tb.t.RawRowView(i)
		floats.ScaleTo(row[:nc], flip[i], st.a.RawRowView(i))
		tb.rhs[i] = flip[i] * st.b[i]

		u := st.slack[i]
		if u < 0 || row[u] != 1 {
			u = art
			art++
			row[u] = 1
			tb.upper[u] = math.Inf(1)
			tb.cost[u] = 1
		}
		tb.unit[i], tb.basis[i], tb.pos[u] = u, u, i
		tb.x[u] = tb.rhs[i]
	}
	return tb
}

// solve runs phase one when artificials are present and then phase two on
// the real costs.
func (tb *tableau) solve(ctx context.Context) (Status, error) {
	nc := len(tb.st.c)
	if tb.n > nc {
		tb.reducedCosts()
		status, err := tb.optimize(ctx)
		if err != nil {
			return Undefined, err
		}
		if status != Optimal {
			return Undefined, fmt.Errorf("phase one stopped %v", status)
		}
		tb.refresh()
		if tb.infeasibility() > infeasEps*(1+maxAbs(tb.rhs)) {
			return Infeasible, nil
		}
		for j := nc; j < tb.n; j++ {
			tb.upper[j] = 0
			tb.cost[j] = 0
		}
	}

	copy(tb.cost, tb.st.c)
	tb.reducedCosts()
	status, err := tb.optimize(ctx)
	if err != nil || status != Optimal {
		return status, err
	}
	tb.refresh()
	return Optimal, nil
}

func (tb *tableau) reducedCosts() {
	copy(tb.d, tb.cost)
	for i, j := range tb.basis {
		if c := tb.cost[j]; c != 0 {
			floats.AddScaled(tb.d, -c, tb.t.RawRowView(i))
		}
	}
}

// optimize pivots until no column prices out. Dantzig pricing is used until
// a long run of degenerate steps, then Bland's rule until the objective
// moves again.
func (tb *tableau) optimize(ctx context.Context) (Status, error) {
	degenerate := 0
	for {
		if tb.iters%ctxEvery == 0 {
			if err := ctx.Err(); err != nil {
				return Undefined, err
			}
		}
		if tb.iters >= tb.limit {
			return Undefined, errIterationLimit
		}

		bland := degenerate > blandAfter
		q, dir := tb.entering(bland)
		if q < 0 {
			return Optimal, nil
		}
		r, theta, toUpper := tb.leaving(q, dir, bland)
		if math.IsInf(theta, 1) {
			return Unbounded, nil
		}

		tb.iters++
		if theta > stallEps {
			degenerate = 0
		} else {
			degenerate++
		}
		tb.move(q, dir*theta)
		if r < 0 {
			tb.atUpper[q] = dir > 0
			tb.x[q] = tb.bound(q)
			continue
		}
		tb.pivot(r, q, toUpper)
	}
}

func (tb *tableau) entering(bland bool) (int, float64) {
	q, dir, best := -1, 0.0, 0.0
	for j := 0; j < tb.n; j++ {
		if tb.pos[j] >= 0 || tb.upper[j] <= 0 {
			continue
		}
		var gain, s float64
		switch dj := tb.d[j]; {
		case !tb.atUpper[j] && dj < -tb.tol:
			gain, s = -dj, 1
		case tb.atUpper[j] && dj > tb.tol:
			gain, s = dj, -1
		default:
			continue
		}
		if bland {
			return j, s
		}
		if gain > best {
			q, dir, best = j, s, gain
		}
	}
	return q, dir
}

// leaving returns the blocking row, the step length and whether the leaving
// column stops at its upper bound. A row of -1 means q reaches its own
// opposite bound first.
func (tb *tableau) leaving(q int, dir float64, bland bool) (int, float64, bool) {
	r, theta, toUpper, piv := -1, tb.upper[q], false, 0.0
	for i := 0; i < tb.m; i++ {
		a := dir * tb.t.At(i, q)
		if math.Abs(a) <= pivotEps {
			continue
		}
		j := tb.basis[i]
		up := a < 0
		var lim float64
		if up {
			if math.IsInf(tb.upper[j], 1) {
				continue
			}
			lim = (tb.upper[j] - tb.x[j]) / -a
		} else {
			lim = tb.x[j] / a
		}
		lim = math.Max(lim, 0)

		switch {
		case lim < theta-ratioEps:
		case lim <= theta+ratioEps && r >= 0 && (bland && j < tb.basis[r] || !bland && math.Abs(a) > piv):
		default:
			continue
		}
		r, toUpper, piv = i, up, math.Abs(a)
		theta = math.Min(theta, lim)
	}
	return r, theta, toUpper
}

func (tb *tableau) move(q int, step float64) {
	if step == 0 {
		return
	}
	for i, j := range tb.basis {
		if a := tb.t.At(i, q); a != 0 {
			tb.x[j] -= step * a
		}
	}
	tb.x[q] += step
}

func (tb *tableau) pivot(r, q int, toUpper bool) {
	out := tb.basis[r]
	tb.atUpper[out] = toUpper
	tb.x[out] = tb.bound(out)
	if out >= len(tb.st.c) {
		tb.upper[out] = 0
	}
	tb.pos[out] = -1
	tb.basis[r], tb.pos[q] = q, r
	tb.atUpper[q] = false

	prow := tb.t.RawRowView(r)
	floats.Scale(1/prow[q], prow)
	prow[q] = 1
	for i := 0; i < tb.m; i++ {
		if i == r {
			continue
		}
		row := tb.t.RawRowView(i)
		if f := row[q]; f != 0 {
			floats.AddScaled(row, -f, prow)
			row[q] = 0
		}
	}
	if f := tb.d[q]; f != 0 {
		floats.AddScaled(tb.d, -f, prow)
	}
	tb.d[q] = 0
}

func (tb *tableau) bound(j int) float64 {
	if tb.atUpper[j] {
		return tb.upper[j]
	}
	return 0
}

// refresh recomputes the basic values as B⁻¹(b - N·x_N), discarding the
// drift of the incremental updates.
func (tb *tableau) refresh() {
	resid := make([]float64, tb.m)
	copy(resid, tb.rhs)
	for j := range tb.st.c {
		v := tb.x[j]
		if tb.pos[j] >= 0 || v == 0 {
			continue
		}
		for k := 0; k < tb.m; k++ {
			if a := tb.st.a.At(k, j); a != 0 {
				resid[k] -= tb.flip[k] * a * v
			}
		}
	}
	for i, j := range tb.basis {
		row := tb.t.RawRowView(i)
		var v float64
		for k, u := range tb.unit {
			v += row[u] * resid[k]
		}
		tb.x[j] = v
	}
}

func (tb *tableau) infeasibility() float64 {
	var sum float64
	for j := len(tb.st.c); j < tb.n; j++ {
		sum += math.Abs(tb.x[j])
	}
	return sum
}

// duals returns c_B·B⁻¹ in the orientation of the original rows.
func (tb *tableau) duals() []float64 {
	y := make([]float64, tb.m)
	for i, j := range tb.basis {
		c := tb.cost[j]
		if c == 0 {
			continue
		}
		row := tb.t.RawRowView(i)
		for k, u := range tb.unit {
			y[k] += c * row[u]
		}
	}
	floats.Mul(y, tb.flip)
	return y
}

func maxAbs(s []float64) float64 {
	var out float64
	for _, v := range s {
		out = math.Max(out, math.Abs(v))
	}
	return out
}
