package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	exchange string
	key      string
	msgs     []amqp.Publishing
	err      error
	closed   bool
}

func (f *fakeChannel) Publish(exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.exchange, f.key = exchange, key
	f.msgs = append(f.msgs, msg)
	return f.err
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestAMQPPublisher_Publish(t *testing.T) {
	ch := &fakeChannel{}
	p := newPublisher(ch, "campaign-engine")
	fixed := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	err := p.Publish(context.Background(), BatchScheduled, map[string]any{"campaignId": "c1", "batches": 3})
	require.NoError(t, err)

	assert.Equal(t, "campaign-engine", ch.exchange)
	assert.Equal(t, BatchScheduled, ch.key)
	require.Len(t, ch.msgs, 1)
	assert.Equal(t, "application/json", ch.msgs[0].ContentType)
	assert.Equal(t, amqp.Persistent, ch.msgs[0].DeliveryMode)

	var ev Event
	require.NoError(t, json.Unmarshal(ch.msgs[0].Body, &ev))
	assert.Equal(t, BatchScheduled, ev.Type)
	assert.Equal(t, fixed, ev.OccurredAt)
	assert.Equal(t, "c1", ev.Data["campaignId"])

	require.NoError(t, p.Close())
	assert.True(t, ch.closed)
}

func TestAMQPPublisher_Errors(t *testing.T) {
	p := newPublisher(&fakeChannel{err: errors.New("channel closed")}, "x")
	assert.ErrorContains(t, p.Publish(context.Background(), JobFinished, nil), "channel closed")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Publish(ctx, JobFinished, nil), context.Canceled)
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	assert.NoError(t, p.Publish(context.Background(), JobFinished, nil))
}
