package lp

import (
	"fmt"
	"math"
)

// VarID indexes a decision variable within a Model.
type VarID int

// RowID indexes a constraint row within a Model.
type RowID int

// Sense relates a constraint row to its right hand side.
type Sense int

const (
	LessEqual Sense = iota
	GreaterEqual
	Equal
)

func (s Sense) String() string {
	switch s {
	case LessEqual:
		return "<="
	case GreaterEqual:
		return ">="
	case Equal:
		return "=="
	default:
		return fmt.Sprintf("Sense(%d)", int(s))
	}
}

// Term is a coefficient applied to a single variable.
type Term struct {
	Var  VarID
	Coef float64
}

// Var is a bounded continuous decision variable. Either bound may be infinite.
type Var struct {
	Name  string
	Lower float64
	Upper float64
}

// Constraint is a named linear row: sum(terms) <sense> RHS.
type Constraint struct {
	Name  string
	Terms []Term
	Sense Sense
	RHS   float64
}

// Model is a continuous linear program in minimization form. A Model is
// assembled once and handed to a Solver; it carries no solution state.
type Model struct {
	name      string
	vars      []Var
	rows      []Constraint
	objective []Term
}

// NewModel returns an empty minimization model.
func NewModel(name string) *Model {
	return &Model{
		name:      name,
		vars:      make([]Var, 0),
		rows:      make([]Constraint, 0),
		objective: make([]Term, 0),
	}
}

func (m *Model) Name() string {
	return m.name
}

// AddVar declares a variable with bounds [lower, upper].
func (m *Model) AddVar(name string, lower, upper float64) VarID {
	m.vars = append(m.vars, Var{Name: name, Lower: lower, Upper: upper})
	return VarID(len(m.vars) - 1)
}

// AddConstraint appends a row and returns its handle. The terms slice is
// copied.
func (m *Model) AddConstraint(name string, terms []Term, sense Sense, rhs float64) RowID {
	t := make([]Term, len(terms))
	copy(t, terms)
	m.rows = append(m.rows, Constraint{Name: name, Terms: t, Sense: sense, RHS: rhs})
	return RowID(len(m.rows) - 1)
}

// AddObjective adds terms to the minimized objective.
func (m *Model) AddObjective(terms ...Term) {
	m.objective = append(m.objective, terms...)
}

// SetObjective replaces the minimized objective.
func (m *Model) SetObjective(terms []Term) {
	m.objective = make([]Term, len(terms))
	copy(m.objective, terms)
}

func (m *Model) NumVars() int {
	return len(m.vars)
}

func (m *Model) NumRows() int {
	return len(m.rows)
}

func (m *Model) Var(id VarID) Var {
	return m.vars[id]
}

func (m *Model) Row(id RowID) Constraint {
	return m.rows[id]
}

func (m *Model) Objective() []Term {
	return m.objective
}

// Validate reports structural problems that make the model unusable: terms
// referring to unknown variables and non-finite coefficients.
func (m *Model) Validate() error {
	check := func(where string, terms []Term) error {
		for _, t := range terms {
			if t.Var < 0 || int(t.Var) >= len(m.vars) {
				return fmt.Errorf("%s: %w: %d", where, ErrUnknownVar, t.Var)
			}
			if math.IsNaN(t.Coef) || math.IsInf(t.Coef, 0) {
				return fmt.Errorf("%s: non-finite coefficient on %s", where, m.vars[t.Var].Name)
			}
		}
		return nil
	}
	if err := check("objective", m.objective); err != nil {
		return err
	}
	for _, r := range m.rows {
		if err := check(r.Name, r.Terms); err != nil {
			return err
		}
		if math.IsNaN(r.RHS) || math.IsInf(r.RHS, 0) {
			return fmt.Errorf("%s: non-finite right hand side", r.Name)
		}
	}
	for _, v := range m.vars {
		if math.IsNaN(v.Lower) || math.IsNaN(v.Upper) {
			return fmt.Errorf("%s: NaN bound", v.Name)
		}
	}
	return nil
}
