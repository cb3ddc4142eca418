package msg

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/google/uuid"
	"gotest.tools/v3/assert"
)

func TestSubscribe(t *testing.T) {
	pidPub, err := uuid.NewUUID()
	assert.NilError(t, err)

	pidSub1, err := uuid.NewUUID()
	assert.NilError(t, err)

	pidSub2, err := uuid.NewUUID()
	assert.NilError(t, err)

	pubsub := NewPublisher(pidPub)
	ch1, err := pubsub.Subscribe(pidSub1, Status)
	assert.NilError(t, err)
	ch2, err := pubsub.Subscribe(pidSub2, Status)
	assert.NilError(t, err)

	randValue := rand.Float64()
	pubsub.Publish(Status, randValue)

	incoming := <-ch1
	assert.Equal(t, incoming.Payload(), randValue, "First subscriber did not recieve the correct published value")
	assert.Equal(t, incoming.PID(), pidPub)
	assert.Equal(t, incoming.Topic(), Status)

	incoming = <-ch2
	assert.Equal(t, incoming.Payload(), randValue, "Second subscriber did not recieve the correct published value")
}

func TestSubscribeTwice(t *testing.T) {
	pubsub := NewPublisher(uuid.New())
	pid := uuid.New()

	_, err := pubsub.Subscribe(pid, Result)
	assert.NilError(t, err)
	_, err = pubsub.Subscribe(pid, Result)
	assert.Assert(t, errors.Is(err, ErrAlreadySubscribed))

	_, err = pubsub.Subscribe(pid, Status)
	assert.NilError(t, err)
}

func TestTopicsAreSeparate(t *testing.T) {
	pubsub := NewPublisher(uuid.New())
	status, err := pubsub.Subscribe(uuid.New(), Status)
	assert.NilError(t, err)

	pubsub.Publish(Result, "done")
	select {
	case m := <-status:
		t.Fatalf("status subscriber received %v", m)
	default:
	}
}

func TestUnsubscribe(t *testing.T) {
	pubsub := NewPublisher(uuid.New())
	pid := uuid.New()
	ch, err := pubsub.Subscribe(pid, Status)
	assert.NilError(t, err)

	pubsub.Unsubscribe(pid)
	_, ok := <-ch
	assert.Assert(t, !ok, "channel should be closed after unsubscribe")

	pubsub.Publish(Status, 1)
}

func TestForwardKeepsSender(t *testing.T) {
	pubsub := NewPublisher(uuid.New())
	ch, err := pubsub.Subscribe(uuid.New(), Result)
	assert.NilError(t, err)

	origin := uuid.New()
	pubsub.Forward(New(origin, Result, "payload"))

	m := <-ch
	assert.Equal(t, m.PID(), origin)
	assert.Equal(t, m.Payload(), "payload")
}

func TestPublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	pubsub := NewPublisher(uuid.New())
	ch, err := pubsub.Subscribe(uuid.New(), Status)
	assert.NilError(t, err)

	for i := 0; i < bufferSize*2; i++ {
		pubsub.Publish(Status, i)
	}
	assert.Equal(t, len(ch), bufferSize)
}

func TestClose(t *testing.T) {
	pubsub := NewPublisher(uuid.New())
	ch, err := pubsub.Subscribe(uuid.New(), Status)
	assert.NilError(t, err)

	pubsub.Close()
	_, ok := <-ch
	assert.Assert(t, !ok)

	_, err = pubsub.Subscribe(uuid.New(), Status)
	assert.Assert(t, errors.Is(err, ErrClosed))
}
