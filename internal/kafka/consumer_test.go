package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"device-notifier/internal/logging"
	"device-notifier/internal/models"
	"device-notifier/internal/services"
)

type fakeTrigger struct {
	calls int
	err   error
}

func (f *fakeTrigger) Start(context.Context) (uuid.UUID, <-chan models.RunResult, error) {
	f.calls++
	if f.err != nil {
		return uuid.Nil, nil, f.err
	}
	ch := make(chan models.RunResult)
	close(ch)
	return uuid.New(), ch, nil
}

func newTestConsumer(trigger Trigger) *Consumer {
	return &Consumer{trigger: trigger, logger: logging.Nop()}
}

func TestHandleMessage_StartsRun(t *testing.T) {
	trig := &fakeTrigger{}
	c := newTestConsumer(trig)

	assert.NoError(t, c.handleMessage(context.Background(), []byte(`{"requested_by":"ops"}`)))
	assert.NoError(t, c.handleMessage(context.Background(), []byte(`{}`)))
	assert.Equal(t, 2, trig.calls)
}

func TestHandleMessage_Malformed(t *testing.T) {
	trig := &fakeTrigger{}
	c := newTestConsumer(trig)

	assert.Error(t, c.handleMessage(context.Background(), []byte(`not json`)))
	assert.Equal(t, 0, trig.calls)
}

func TestHandleMessage_RunInProgressIsNotAnError(t *testing.T) {
	c := newTestConsumer(&fakeTrigger{err: services.ErrRunInProgress})
	assert.NoError(t, c.handleMessage(context.Background(), []byte(`{"requested_by":"cron"}`)))

	c = newTestConsumer(&fakeTrigger{err: errors.New("boom")})
	assert.Error(t, c.handleMessage(context.Background(), []byte(`{}`)))
}

type failingReader struct {
	mu    sync.Mutex
	calls int
}

func (r *failingReader) ReadMessage(ctx context.Context) (kafkago.Message, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return kafkago.Message{}, err
	}
	return kafkago.Message{}, errors.New("broker unavailable")
}

func (r *failingReader) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func TestConsume_PausesAfterReadError(t *testing.T) {
	c := newTestConsumer(&fakeTrigger{})
	c.retryDelay = 100 * time.Millisecond
	reader := &failingReader{}

	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()

	stopped := make(chan struct{})
	go func() {
		c.consume(ctx, reader)
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("consume did not stop after cancellation")
	}
	require.GreaterOrEqual(t, reader.count(), 1)
	assert.LessOrEqual(t, reader.count(), 4)
}

func TestConsume_HandlesMessages(t *testing.T) {
	trig := &fakeTrigger{}
	c := newTestConsumer(trig)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &scriptedReader{values: [][]byte{[]byte(`{"requested_by":"ops"}`), []byte(`bad`)}, cancel: cancel}
	c.consume(ctx, reader)
	assert.Equal(t, 1, trig.calls)
}

type scriptedReader struct {
	values [][]byte
	cancel context.CancelFunc
}

func (r *scriptedReader) ReadMessage(ctx context.Context) (kafkago.Message, error) {
	if len(r.values) == 0 {
		r.cancel()
		return kafkago.Message{}, ctx.Err()
	}
	v := r.values[0]
	r.values = r.values[1:]
	return kafkago.Message{Value: v}, nil
}
