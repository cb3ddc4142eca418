package webservice

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ohowland/cgc_nodal/internal/pkg/lp"
	"github.com/ohowland/cgc_nodal/internal/pkg/network"
)

// DefaultCapacity is the number of runs a Store keeps before evicting the
// oldest.
const DefaultCapacity = 100

// RunSummary is the listing form of a stored run.
type RunSummary struct {
	RunID     uuid.UUID `json:"run_id"`
	Network   string    `json:"network"`
	Status    lp.Status `json:"status"`
	Objective float64   `json:"objective"`
	SolvedAt  time.Time `json:"solved_at"`
}

// Store holds solve results in memory, newest first.
type Store struct {
	mux      sync.RWMutex
	capacity int
	order    []uuid.UUID
	runs     map[uuid.UUID]*network.SolveResult
}

func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		capacity: capacity,
		runs:     make(map[uuid.UUID]*network.SolveResult),
	}
}

func (s *Store) Put(r *network.SolveResult) {
	s.mux.Lock()
	defer s.mux.Unlock()
	if _, ok := s.runs[r.RunID]; ok {
		s.runs[r.RunID] = r
		return
	}
	s.order = append([]uuid.UUID{r.RunID}, s.order...)
	s.runs[r.RunID] = r
	for len(s.order) > s.capacity {
		oldest := s.order[len(s.order)-1]
		s.order = s.order[:len(s.order)-1]
		delete(s.runs, oldest)
	}
}

func (s *Store) Get(rid uuid.UUID) (*network.SolveResult, bool) {
	s.mux.RLock()
	defer s.mux.RUnlock()
	r, ok := s.runs[rid]
	return r, ok
}

func (s *Store) List() []RunSummary {
	s.mux.RLock()
	defer s.mux.RUnlock()
	out := make([]RunSummary, 0, len(s.order))
	for _, rid := range s.order {
		r := s.runs[rid]
		out = append(out, RunSummary{
			RunID:     r.RunID,
			Network:   r.Network,
			Status:    r.Status,
			Objective: r.Objective,
			SolvedAt:  r.SolvedAt,
		})
	}
	return out
}

func (s *Store) Len() int {
	s.mux.RLock()
	defer s.mux.RUnlock()
	return len(s.order)
}
