package mqtt

import (
	"testing"

	"github.com/google/uuid"
	"github.com/ohowland/cgc_nodal/internal/pkg/config"
	"github.com/ohowland/cgc_nodal/internal/pkg/msg"
	"gotest.tools/v3/assert"
)

func TestTopicFor(t *testing.T) {
	assert.Equal(t, topicFor("cgc", "grid"), "cgc/grid/prices")
	assert.Equal(t, topicFor("cgc/", "grid"), "cgc/grid/prices")
	assert.Equal(t, topicFor("", "grid"), "grid/prices")
}

func TestNewRejectsQoS(t *testing.T) {
	pub := msg.NewPublisher(uuid.New())
	_, err := New(config.MQTT{Broker: "tcp://localhost:1883", QoS: 3}, pub, nil)
	assert.ErrorContains(t, err, "qos")
}

func TestClientOptions(t *testing.T) {
	pub := msg.NewPublisher(uuid.New())
	h, err := New(config.MQTT{Broker: "tcp://broker:1883", ClientID: "cgc", QoS: 1}, pub, nil)
	assert.NilError(t, err)

	opts := h.clientOptions()
	assert.Equal(t, opts.ClientID, "cgc")
	assert.Equal(t, len(opts.Servers), 1)
	assert.Equal(t, opts.Servers[0].Host, "broker:1883")
}
