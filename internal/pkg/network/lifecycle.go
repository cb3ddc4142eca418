package network

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"github.com/ohowland/cgc_nodal/internal/pkg/lp"
	"github.com/ohowland/cgc_nodal/internal/pkg/msg"
	"go.uber.org/zap"
)

// Lifecycle states of a Network.
const (
	StateUnbuilt    = "unbuilt"
	StateBuilding   = "building"
	StateOptimal    = "optimal"
	StateInfeasible = "infeasible"
	StateUnbounded  = "unbounded"
	StateUndefined  = "undefined"
)

const (
	eventBuild  = "build"
	eventAbort  = "abort"
	eventModify = "modify"
)

// StatusEvent is published on msg.Status for every lifecycle transition.
type StatusEvent struct {
	Network string    `json:"network"`
	PID     uuid.UUID `json:"pid"`
	Event   string    `json:"event"`
	From    string    `json:"from"`
	To      string    `json:"to"`
	At      time.Time `json:"at"`
}

func solvedState(s lp.Status) string {
	switch s {
	case lp.Optimal:
		return StateOptimal
	case lp.Infeasible:
		return StateInfeasible
	case lp.Unbounded:
		return StateUnbounded
	default:
		return StateUndefined
	}
}

func solvedEvent(s lp.Status) string {
	return "solve_" + solvedState(s)
}

func newLifecycle(n *Network) *fsm.FSM {
	solved := []string{StateOptimal, StateInfeasible, StateUnbounded, StateUndefined}
	events := fsm.Events{
		{Name: eventBuild, Src: append([]string{StateUnbuilt}, solved...), Dst: StateBuilding},
		{Name: eventAbort, Src: []string{StateBuilding}, Dst: StateUnbuilt},
		{Name: eventModify, Src: solved, Dst: StateUnbuilt},
	}
	for _, s := range solved {
		events = append(events, fsm.EventDesc{Name: "solve_" + s, Src: []string{StateBuilding}, Dst: s})
	}

	return fsm.NewFSM(
		StateUnbuilt,
		events,
		fsm.Callbacks{
			"after_event": func(_ context.Context, e *fsm.Event) {
				n.publisher.Publish(msg.Status, StatusEvent{
					Network: n.name,
					PID:     n.pid,
					Event:   e.Event,
					From:    e.Src,
					To:      e.Dst,
					At:      time.Now(),
				})
			},
		},
	)
}

func (n *Network) fire(event string) {
	if err := n.lifecycle.Event(context.Background(), event); err != nil {
		n.logger.Debug("[Network] lifecycle event refused",
			zap.String("network", n.name),
			zap.String("event", event),
			zap.String("state", n.lifecycle.Current()),
			zap.Error(err))
	}
}
