package lp

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	ErrNilModel   = errors.New("lp: nil model")
	ErrUnknownVar = errors.New("lp: unknown variable")
)

// Status is the outcome of a solve.
type Status int

const (
	Undefined Status = iota
	Optimal
	Infeasible
	Unbounded
)

func (s Status) String() string {
	switch s {
	case Optimal:
		return "Optimal"
	case Infeasible:
		return "Infeasible"
	case Unbounded:
		return "Unbounded"
	default:
		return "Undefined"
	}
}

// ParseStatus is the inverse of String. Unknown names map to Undefined.
func ParseStatus(s string) Status {
	switch strings.ToLower(s) {
	case "optimal":
		return Optimal
	case "infeasible":
		return Infeasible
	case "unbounded":
		return Unbounded
	default:
		return Undefined
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	*s = ParseStatus(string(b))
	return nil
}

// Solver solves a Model. Solver outcomes are reported through
// Solution.Status; the error return is reserved for misuse.
type Solver interface {
	Solve(ctx context.Context, m *Model) (*Solution, error)
}

// Stats describes the size of the program actually handed to the backend.
type Stats struct {
	Rows        int `json:"rows"`
	Cols        int `json:"cols"`
	DroppedRows int `json:"dropped_rows"`
	Iterations  int `json:"iterations"`
	FixedVars   int `json:"fixed_vars"`
}

// Solution holds primal values and row duals. Both are only meaningful when
// Status is Optimal.
type Solution struct {
	Status    Status
	Objective float64
	Message   string
	Stats     Stats

	values []float64
	duals  []float64
}

func newSolution(status Status, format string, args ...interface{}) *Solution {
	return &Solution{
		Status:    status,
		Objective: math.NaN(),
		Message:   fmt.Sprintf(format, args...),
	}
}

// Value returns the optimal value of v, or NaN when unavailable.
func (s *Solution) Value(v VarID) float64 {
	if s.values == nil || v < 0 || int(v) >= len(s.values) {
		return math.NaN()
	}
	return s.values[v]
}

// Dual returns the sensitivity of the objective to the right hand side of
// row r, or NaN when unavailable. Rows removed as redundant report zero.
func (s *Solution) Dual(r RowID) float64 {
	if s.duals == nil || r < 0 || int(r) >= len(s.duals) {
		return math.NaN()
	}
	return s.duals[r]
}

// Values returns a copy of all variable values, indexed by VarID.
func (s *Solution) Values() []float64 {
	if s.values == nil {
		return nil
	}
	out := make([]float64, len(s.values))
	copy(out, s.values)
	return out
}
