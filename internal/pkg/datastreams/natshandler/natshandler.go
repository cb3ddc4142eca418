package natshandler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/ohowland/cgc_nodal/internal/pkg/config"
	"github.com/ohowland/cgc_nodal/internal/pkg/datastreams"
	"github.com/ohowland/cgc_nodal/internal/pkg/msg"
	"github.com/ohowland/cgc_nodal/internal/pkg/network"
	"go.uber.org/zap"

	nats "github.com/nats-io/nats.go"
)

// Handler publishes every solve result, its price summary and every
// lifecycle transition to a NATS server.
type Handler struct {
	pid    uuid.UUID
	inbox  datastreams.Inbox
	config config.NATS
	logger *zap.Logger
	stop   chan struct{}
	once   *sync.Once
}

func New(cfg config.NATS, system msg.Publisher, logger *zap.Logger) (*Handler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	pid, err := uuid.NewUUID()
	if err != nil {
		return nil, err
	}
	inbox, err := datastreams.Subscribe(system, pid)
	if err != nil {
		return nil, err
	}
	return &Handler{
		pid:    pid,
		inbox:  inbox,
		config: cfg,
		logger: logger.Named("natshandler"),
		stop:   make(chan struct{}),
		once:   &sync.Once{},
	}, nil
}

func (h *Handler) PID() uuid.UUID {
	return h.pid
}

func (h *Handler) Stop() {
	h.once.Do(func() { close(h.stop) })
}

// envelope is one NATS publication.
type envelope struct {
	subject string
	data    []byte
}

// encode maps m onto the publications it produces:
//
//	{prefix}.{network}.result   full result
//	{prefix}.{network}.prices   price summary
//	{prefix}.{network}.status   lifecycle transition
func encode(prefix string, m msg.Msg) ([]envelope, error) {
	switch m.Topic() {
	case msg.Result:
		r, ok := datastreams.Result(m)
		if !ok {
			return nil, fmt.Errorf("unexpected result payload %T", m.Payload())
		}
		full, err := json.Marshal(r)
		if err != nil {
			return nil, err
		}
		prices, err := json.Marshal(datastreams.Summarize(r))
		if err != nil {
			return nil, err
		}
		return []envelope{
			{subject(prefix, r.Network, "result"), full},
			{subject(prefix, r.Network, "prices"), prices},
		}, nil

	case msg.Status:
		ev, ok := m.Payload().(network.StatusEvent)
		if !ok {
			return nil, fmt.Errorf("unexpected status payload %T", m.Payload())
		}
		data, err := json.Marshal(ev)
		if err != nil {
			return nil, err
		}
		return []envelope{{subject(prefix, ev.Network, "status"), data}}, nil
	}
	return nil, nil
}

func subject(prefix, networkName, kind string) string {
	if prefix == "" {
		return fmt.Sprintf("%s.%s", networkName, kind)
	}
	return fmt.Sprintf("%s.%s.%s", prefix, networkName, kind)
}

// Process connects to the server and publishes until ctx ends or Stop is
// called.
func (h *Handler) Process(ctx context.Context) error {
	h.logger.Info("[NATS client] Process Started", zap.String("url", h.config.URL))
	nc, err := nats.Connect(h.config.URL, nats.Name("cgc_nodal"))
	if err != nil {
		return fmt.Errorf("nats connect %s: %w", h.config.URL, err)
	}
	defer nc.Close()

	h.inbox.Loop(ctx, h.stop, func(m msg.Msg) {
		envs, err := encode(h.config.SubjectPrefix, m)
		if err != nil {
			h.logger.Warn("[NATS client] unable to encode message", zap.Error(err))
			return
		}
		for _, e := range envs {
			if err := nc.Publish(e.subject, e.data); err != nil {
				h.logger.Warn("[NATS client] unable to publish to nats server",
					zap.String("subject", e.subject),
					zap.Error(err))
			}
		}
	})

	if err := nc.Flush(); err != nil {
		h.logger.Warn("[NATS client] flush failed", zap.Error(err))
	}
	h.logger.Info("[NATS client] Process Shutdown")
	return nil
}
