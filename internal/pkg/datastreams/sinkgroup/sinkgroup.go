// Package sinkgroup starts the datastream sinks enabled in a Config and
// stops them together.
package sinkgroup

import (
	"context"
	"sync"

	"github.com/ohowland/cgc_nodal/internal/pkg/config"
	"github.com/ohowland/cgc_nodal/internal/pkg/datastreams"
	"github.com/ohowland/cgc_nodal/internal/pkg/datastreams/mongodb"
	"github.com/ohowland/cgc_nodal/internal/pkg/datastreams/mqtt"
	"github.com/ohowland/cgc_nodal/internal/pkg/datastreams/natshandler"
	"github.com/ohowland/cgc_nodal/internal/pkg/datastreams/sqldb"
	"github.com/ohowland/cgc_nodal/internal/pkg/datastreams/webhook"
	"github.com/ohowland/cgc_nodal/internal/pkg/msg"
	"go.uber.org/zap"
)

type Group struct {
	system msg.Publisher
	sinks  []datastreams.Sink
	logger *zap.Logger
	wg     sync.WaitGroup
}

func build(cfg config.Config, system msg.Publisher, logger *zap.Logger) ([]datastreams.Sink, error) {
	var sinks []datastreams.Sink
	if cfg.NATS.Enabled {
		h, err := natshandler.New(cfg.NATS, system, logger)
		if err != nil {
			return sinks, err
		}
		sinks = append(sinks, h)
	}
	if cfg.SQL.Enabled {
		h, err := sqldb.New(cfg.SQL, system, logger)
		if err != nil {
			return sinks, err
		}
		sinks = append(sinks, h)
	}
	if cfg.Mongo.Enabled {
		h, err := mongodb.New(cfg.Mongo, system, logger)
		if err != nil {
			return sinks, err
		}
		sinks = append(sinks, h)
	}
	if cfg.MQTT.Enabled {
		h, err := mqtt.New(cfg.MQTT, system, logger)
		if err != nil {
			return sinks, err
		}
		sinks = append(sinks, h)
	}
	if cfg.Webhook.Enabled {
		h, err := webhook.New(cfg.Webhook, system, logger)
		if err != nil {
			return sinks, err
		}
		sinks = append(sinks, h)
	}
	return sinks, nil
}

// Start subscribes every enabled sink to system and runs it in its own
// goroutine. A sink whose Process fails is logged and unsubscribed; the
// others keep running.
func Start(ctx context.Context, cfg config.Config, system msg.Publisher, logger *zap.Logger) (*Group, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	sinks, err := build(cfg, system, logger)
	if err != nil {
		for _, s := range sinks {
			system.Unsubscribe(s.PID())
		}
		return nil, err
	}

	g := &Group{system: system, sinks: sinks, logger: logger.Named("sinks")}
	for _, s := range sinks {
		g.wg.Add(1)
		go func(s datastreams.Sink) {
			defer g.wg.Done()
			defer system.Unsubscribe(s.PID())
			if err := s.Process(ctx); err != nil {
				g.logger.Error("[Sinks] sink stopped", zap.Stringer("pid", s.PID()), zap.Error(err))
			}
		}(s)
	}
	g.logger.Info("[Sinks] started", zap.Int("count", len(sinks)))
	return g, nil
}

func (g *Group) Len() int {
	return len(g.sinks)
}

// Stop asks every sink to flush what it has queued and waits for all of
// them to return.
func (g *Group) Stop() {
	for _, s := range g.sinks {
		s.Stop()
	}
	g.wg.Wait()
	g.logger.Info("[Sinks] stopped")
}
