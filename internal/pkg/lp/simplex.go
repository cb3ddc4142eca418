package lp

import (
	"context"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

// DefaultTolerance is the relative reduced cost tolerance of the simplex.
const DefaultTolerance = 1e-9

// Simplex solves models with a bounded-variable primal simplex over a dense
// gonum tableau. Variable bounds are handled in the ratio test rather than
// as rows, and row duals are read from the inverse of the optimal basis.
type Simplex struct {
	Tolerance float64
	Timeout   time.Duration
	logger    *zap.Logger
}

type Option func(*Simplex)

func WithTolerance(tol float64) Option {
	return func(s *Simplex) {
		if tol > 0 {
			s.Tolerance = tol
		}
	}
}

// WithTimeout bounds the wall clock time of a single Solve.
func WithTimeout(d time.Duration) Option {
	return func(s *Simplex) {
		s.Timeout = d
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Simplex) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSimplex returns a configured Simplex solver.
func NewSimplex(opts ...Option) *Simplex {
	s := &Simplex{
		Tolerance: DefaultTolerance,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("lp")
	return s
}

// Solve runs the model to completion. When ctx carries a deadline or the
// solver has a Timeout, the pivot loop stops at its next cancellation check
// and Solve returns Undefined.
func (s *Simplex) Solve(ctx context.Context, m *Model) (*Solution, error) {
	if m == nil {
		return nil, ErrNilModel
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	if err := ctx.Err(); err != nil {
		return newSolution(Undefined, "solve not started: %v", err), nil
	}
	return s.solve(ctx, m), nil
}

func (s *Simplex) solve(ctx context.Context, m *Model) (sol *Solution) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("[LP] backend panic", zap.String("model", m.name), zap.Any("panic", r))
			sol = newSolution(Undefined, "backend panic: %v", r)
		}
	}()

	p, status, reason := presolve(m)
	if status != Optimal {
		s.logger.Debug("[LP] presolve decided outcome", zap.String("model", m.name), zap.Stringer("status", status), zap.String("reason", reason))
		return newSolution(status, "%s", reason)
	}

	std := p.standardForm()
	xs := make([]float64, len(std.c))
	y := make([]float64, std.rows())
	iters := 0
	if std.rows() > 0 {
		tb := newTableau(std, s.Tolerance)
		status, err := tb.solve(ctx)
		iters = tb.iters
		if err != nil {
			s.logger.Warn("[LP] simplex stopped", zap.String("model", m.name), zap.Int("iterations", iters), zap.Error(err))
			return newSolution(Undefined, "simplex: %v", err)
		}
		if status != Optimal {
			s.logger.Debug("[LP] simplex finished", zap.String("model", m.name), zap.Stringer("status", status), zap.Int("iterations", iters))
			return newSolution(status, "simplex: problem is %s", strings.ToLower(status.String()))
		}
		copy(xs, tb.x)
		y = tb.duals()
	} else {
		for j, c := range std.c {
			if c < 0 {
				xs[j] = std.upper[j]
			}
		}
	}

	sol = &Solution{
		Status: Optimal,
		Stats:  p.stats,
		values: p.recover(m, std, xs),
		duals:  make([]float64, len(m.rows)),
	}
	sol.Stats.Rows, sol.Stats.Cols, sol.Stats.Iterations = std.rows(), len(std.c), iters
	for i, r := range p.rows {
		sol.duals[r.model] = y[i]
	}
	for _, t := range m.objective {
		sol.Objective += t.Coef * sol.values[t.Var]
	}
	s.logger.Debug("[LP] solved", zap.String("model", m.name), zap.Int("rows", std.rows()), zap.Int("iterations", iters))
	return sol
}

// standard is min c'x subject to Ax = b, 0 <= x <= upper. Structural columns
// come first and one slack per inequality row last.
type standard struct {
	c     []float64
	a     *mat.Dense
	b     []float64
	upper []float64
	col   []int
	slack []int
}

func (st standard) rows() int {
	return len(st.b)
}

func (p *presolved) standardForm() standard {
	st := standard{col: make([]int, len(p.cols))}
	nStruct := 0
	for c := range p.cols {
		st.col[c] = -1
		if p.active[c] {
			st.col[c] = nStruct
			nStruct++
		}
	}
	nSlack := 0
	for _, r := range p.rows {
		if r.sense != Equal {
			nSlack++
		}
	}

	m, n := len(p.rows), nStruct+nSlack
	st.c = make([]float64, n)
	st.upper = make([]float64, n)
	st.b = make([]float64, m)
	st.slack = make([]int, m)
	for c, j := range st.col {
		if j >= 0 {
			st.c[j] = p.cost[c]
			st.upper[j] = p.cols[c].upper
		}
	}
	if m == 0 {
		return st
	}

	st.a = mat.NewDense(m, n, nil)
	slack := nStruct
	for i, r := range p.rows {
		for k, c := range r.idx {
			st.a.Set(i, st.col[c], r.val[k])
		}
		st.b[i] = r.rhs
		st.slack[i] = -1
		if r.sense == Equal {
			continue
		}
		coef := 1.0
		if r.sense == GreaterEqual {
			coef = -1
		}
		st.a.Set(i, slack, coef)
		st.upper[slack] = math.Inf(1)
		st.slack[i] = slack
		slack++
	}
	return st
}

// recover maps standard form values back onto model variables, clipping
// round-off that lands just outside a bound.
func (p *presolved) recover(m *Model, st standard, x []float64) []float64 {
	values := make([]float64, len(p.base))
	copy(values, p.base)
	for c, col := range p.cols {
		if j := st.col[c]; j >= 0 && j < len(x) {
			values[col.v] += col.sign * x[j]
		}
	}
	for i, v := range m.vars {
		values[i] = clip(values[i], v.Lower, v.Upper)
	}
	return values
}

func clip(x, lo, hi float64) float64 {
	const slack = 1e-7
	if x < lo && x > lo-slack*(1+math.Abs(lo)) {
		return lo
	}
	if x > hi && x < hi+slack*(1+math.Abs(hi)) {
		return hi
	}
	return x
}
