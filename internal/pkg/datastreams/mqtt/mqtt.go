package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ohowland/cgc_nodal/internal/pkg/config"
	"github.com/ohowland/cgc_nodal/internal/pkg/datastreams"
	"github.com/ohowland/cgc_nodal/internal/pkg/msg"
	"go.uber.org/zap"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	connectTimeout = 5 * time.Second
	publishTimeout = 5 * time.Second
	quiesceMillis  = 250
)

// Handler publishes the price summary of every solve to an MQTT broker.
type Handler struct {
	pid    uuid.UUID
	inbox  datastreams.Inbox
	config config.MQTT
	logger *zap.Logger
	stop   chan struct{}
	once   *sync.Once
}

func New(cfg config.MQTT, system msg.Publisher, logger *zap.Logger) (*Handler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.QoS > 2 {
		return nil, fmt.Errorf("mqtt qos must be 0, 1 or 2, got %d", cfg.QoS)
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
		logger: logger.Named("mqtt"),
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

// topicFor returns "{prefix}/{network}/prices".
func topicFor(prefix, networkName string) string {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		return networkName + "/prices"
	}
	return prefix + "/" + networkName + "/prices"
}

func (h *Handler) clientOptions() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(h.config.Broker)
	opts.SetClientID(h.config.ClientID)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		h.logger.Warn("[MQTT] connection lost", zap.Error(err))
	})
	return opts
}

// Process connects to the broker and publishes until ctx ends or Stop is
// called. Status messages are ignored.
func (h *Handler) Process(ctx context.Context) error {
	client := mqtt.NewClient(h.clientOptions())
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("mqtt connect %s: timed out", h.config.Broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect %s: %w", h.config.Broker, err)
	}
	defer client.Disconnect(quiesceMillis)
	h.logger.Info("[MQTT] Process Started", zap.String("broker", h.config.Broker))

	h.inbox.Loop(ctx, h.stop, func(m msg.Msg) {
		r, ok := datastreams.Result(m)
		if !ok {
			return
		}
		payload, err := json.Marshal(datastreams.Summarize(r))
		if err != nil {
			h.logger.Warn("[MQTT] unable to encode summary", zap.Error(err))
			return
		}
		topic := topicFor(h.config.Topic, r.Network)
		t := client.Publish(topic, h.config.QoS, false, payload)
		if !t.WaitTimeout(publishTimeout) {
			h.logger.Warn("[MQTT] publish timed out", zap.String("topic", topic))
			return
		}
		if err := t.Error(); err != nil {
			h.logger.Warn("[MQTT] publish failed", zap.String("topic", topic), zap.Error(err))
		}
	})
	h.logger.Info("[MQTT] Process Shutdown")
	return nil
}
