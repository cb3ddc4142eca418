// Package datastreams holds what the result sinks share: the compact price
// summary they publish and the subscription each of them reads from.
package datastreams

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/ohowland/cgc_nodal/internal/pkg/lp"
	"github.com/ohowland/cgc_nodal/internal/pkg/msg"
	"github.com/ohowland/cgc_nodal/internal/pkg/network"
)

// Sink consumes solve results until its context ends or it is stopped.
type Sink interface {
	PID() uuid.UUID
	Process(ctx context.Context) error
	Stop()
}

// PriceSummary is the compact form of a SolveResult: status and the nodal
// prices of every bus.
type PriceSummary struct {
	RunID       uuid.UUID            `json:"run_id"`
	Network     string               `json:"network"`
	Status      lp.Status            `json:"status"`
	Objective   float64              `json:"objective"`
	SolvedAt    time.Time            `json:"solved_at"`
	Timesteps   []string             `json:"timesteps"`
	NodalPrices map[string][]float64 `json:"nodal_prices"`
}

// Summarize extracts the price summary of r. Buses carry nil prices when r
// is not optimal.
func Summarize(r *network.SolveResult) PriceSummary {
	prices := make(map[string][]float64, len(r.Buses))
	for name, b := range r.Buses {
		prices[name] = append([]float64(nil), b.NodalPrices...)
	}
	return PriceSummary{
		RunID:       r.RunID,
		Network:     r.Network,
		Status:      r.Status,
		Objective:   r.Objective,
		SolvedAt:    r.SolvedAt,
		Timesteps:   append([]string(nil), r.Timesteps...),
		NodalPrices: prices,
	}
}

// Inbox is a sink's subscription to the result and status topics.
type Inbox struct {
	Results <-chan msg.Msg
	Status  <-chan msg.Msg
}

// Subscribe opens an Inbox for pid on system.
func Subscribe(system msg.Publisher, pid uuid.UUID) (Inbox, error) {
	results, err := system.Subscribe(pid, msg.Result)
	if err != nil {
		return Inbox{}, err
	}
	status, err := system.Subscribe(pid, msg.Status)
	if err != nil {
		system.Unsubscribe(pid)
		return Inbox{}, err
	}
	return Inbox{Results: results, Status: status}, nil
}

// Drain hands every message already queued in the inbox to fn, without
// waiting for new ones.
func (in Inbox) Drain(fn func(msg.Msg)) {
	for {
		select {
		case m, ok := <-in.Results:
			if !ok {
				return
			}
			fn(m)
		case m, ok := <-in.Status:
			if !ok {
				return
			}
			fn(m)
		default:
			return
		}
	}
}

// Result unwraps the SolveResult carried by m.
func Result(m msg.Msg) (*network.SolveResult, bool) {
	r, ok := m.Payload().(*network.SolveResult)
	return r, ok && r != nil
}

// Loop hands inbox messages to handle until ctx ends or stop is closed, then
// drains whatever is already queued.
func (in Inbox) Loop(ctx context.Context, stop <-chan struct{}, handle func(msg.Msg)) {
	for {
		select {
		case m, ok := <-in.Results:
			if !ok {
				return
			}
			handle(m)
		case m, ok := <-in.Status:
			if !ok {
				return
			}
			handle(m)
		case <-stop:
			in.Drain(handle)
			return
		case <-ctx.Done():
			in.Drain(handle)
			return
		}
	}
}
