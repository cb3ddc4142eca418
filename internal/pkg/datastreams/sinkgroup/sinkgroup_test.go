package sinkgroup

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ohowland/cgc_nodal/internal/pkg/config"
	"github.com/ohowland/cgc_nodal/internal/pkg/msg"
	"gotest.tools/v3/assert"
)

func TestStartNothingEnabled(t *testing.T) {
	pub := msg.NewPublisher(uuid.New())
	g, err := Start(context.Background(), config.Default(), pub, nil)
	assert.NilError(t, err)
	assert.Equal(t, g.Len(), 0)
	g.Stop()
}

func TestStartRejectsBadSink(t *testing.T) {
	cfg := config.Default()
	cfg.NATS.Enabled = true
	cfg.SQL.Enabled = true
	cfg.SQL.Driver = "oracle"

	pub := msg.NewPublisher(uuid.New())
	_, err := Start(context.Background(), cfg, pub, nil)
	assert.ErrorContains(t, err, "oracle")
}

func TestStopAfterFailedSink(t *testing.T) {
	cfg := config.Default()
	cfg.NATS.Enabled = true
	cfg.NATS.URL = "nats://127.0.0.1:1"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pub := msg.NewPublisher(uuid.New())
	g, err := Start(ctx, cfg, pub, nil)
	assert.NilError(t, err)
	assert.Equal(t, g.Len(), 1)

	done := make(chan struct{})
	go func() {
		g.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("sink group did not stop")
	}
}
