package events

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yorozuya-cybersecurity/yoroguard/internal/logging"
	"github.com/yorozuya-cybersecurity/yoroguard/internal/metrics"
	"github.com/yorozuya-cybersecurity/yoroguard/internal/schema"
)

var base = time.Date(2025, 6, 16, 12, 0, 0, 0, time.UTC)

func ev(i int) schema.Event {
	return schema.MustEvent(schema.Event{
		Timestamp:   base.Add(time.Duration(i) * time.Second),
		Type:        schema.TypeBehavioral,
		Severity:    schema.SevMedium,
		Description: fmt.Sprintf("event %d", i),
		Service:     "falco",
	})
}

func descriptions(events []schema.Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Description
	}
	return out
}

func TestBufferMostRecentFirstAndCapped(t *testing.T) {
	b := NewBuffer(3)
	for i := 1; i <= 5; i++ {
		assert.True(t, b.Add(ev(i)))
	}
	assert.Equal(t, 3, b.Len())
	assert.Equal(t, []string{"event 5", "event 4", "event 3"}, descriptions(b.Recent(0)))
	assert.Equal(t, []string{"event 5", "event 4"}, descriptions(b.Recent(2)))
	assert.Equal(t, []string{"event 5", "event 4", "event 3"}, descriptions(b.Recent(10)))
}

func TestBufferDropsDuplicates(t *testing.T) {
	b := NewBuffer(10)
	assert.True(t, b.Add(ev(1)))
	assert.False(t, b.Add(ev(1)))
	assert.True(t, b.Add(ev(2)))
	assert.Equal(t, 2, b.Len())

	b.Clear()
	assert.Equal(t, 0, b.Len())
	assert.Empty(t, b.Recent(5))
	assert.True(t, b.Add(ev(1)))
}

func TestBufferDefaultSize(t *testing.T) {
	assert.Equal(t, DefaultBufferSize, NewBuffer(0).Cap())
}

type fakeForwarder struct {
	got    []schema.Event
	err    error
	closed bool
}

func (f *fakeForwarder) Publish(_ context.Context, e schema.Event) error {
	f.got = append(f.got, e)
	return f.err
}

func (f *fakeForwarder) Close() error {
	f.closed = true
	return nil
}

func TestBusFanOut(t *testing.T) {
	m := metrics.New()
	bus := NewBus(10, logging.Nop(), m)
	fwd := &fakeForwarder{}
	bus.SetForwarder(fwd)

	var first, second []string
	bus.Subscribe(func(e schema.Event) { first = append(first, e.Description) })
	unsub := bus.Subscribe(func(e schema.Event) { second = append(second, e.Description) })
	bus.Subscribe(func(schema.Event) { panic("bad subscriber") })

	assert.True(t, bus.Publish(context.Background(), ev(1)))
	unsub()
	assert.True(t, bus.Publish(context.Background(), ev(2)))
	assert.False(t, bus.Publish(context.Background(), ev(2)))

	assert.Equal(t, []string{"event 1", "event 2"}, first)
	assert.Equal(t, []string{"event 1"}, second)
	assert.Len(t, fwd.got, 2)
	assert.Equal(t, []string{"event 2", "event 1"}, descriptions(bus.Recent(0)))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.EventsTotal.WithLabelValues("falco", "medium")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsDroppedTotal))

	require.NoError(t, bus.Close())
	assert.True(t, fwd.closed)
}

func TestBusForwarderErrorIsCounted(t *testing.T) {
	m := metrics.New()
	bus := NewBus(10, logging.Nop(), m)
	bus.SetForwarder(&fakeForwarder{err: errors.New("down")})

	assert.True(t, bus.Publish(context.Background(), ev(1)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NatsPublishErrors))
}

func TestNATSForwarderUnreachable(t *testing.T) {
	_, err := NewNATSForwarder("nats://127.0.0.1:1", "", logging.Nop())
	assert.Error(t, err)
}
