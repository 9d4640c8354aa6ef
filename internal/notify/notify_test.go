package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aniladanir/wa-inbox/internal/domain"
	redisPubSub "github.com/aniladanir/wa-inbox/internal/pubsub/redis"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	events []domain.Event
	got    chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{got: make(chan struct{}, 16)}
}

func (s *recordingSink) Publish(ev domain.Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	s.got <- struct{}{}
}

func TestRedisNotifier_RelayDeliversToSink(t *testing.T) {
	mr := miniredis.RunT(t)
	ps := redisPubSub.NewFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = ps.Close() })
	logger := slog.New(slog.DiscardHandler)

	sink := newRecordingSink()
	relay := NewRelay(ps, "wa:events", sink, logger)

	ctx, cancel := context.WithCancel(context.Background())
	relayDone := make(chan error, 1)
	go func() { relayDone <- relay.Run(ctx) }()

	// wait until the relay is subscribed
	require.Eventually(t, func() bool {
		return len(mr.PubSubChannels("wa:events")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	attempts := 3
	notifier, err := NewRedisNotifier(ps, "wa:events", logger, &attempts)
	require.NoError(t, err)

	notifier.Notify(context.Background(), domain.Message{MessageID: "wamid.1", WaID: "91999", Text: "hi"})
	notifier.Wait()

	select {
	case <-sink.got:
	case <-time.After(2 * time.Second):
		t.Fatal("event was not relayed")
	}

	sink.mu.Lock()
	require.Len(t, sink.events, 1)
	assert.Equal(t, domain.EventMessageUpdated, sink.events[0].Name)
	assert.Equal(t, "wamid.1", sink.events[0].Data.MessageID)
	sink.mu.Unlock()

	cancel()
	select {
	case err := <-relayDone:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop")
	}
}

func TestRelay_SkipsMalformedEvents(t *testing.T) {
	mr := miniredis.RunT(t)
	ps := redisPubSub.NewFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = ps.Close() })

	sink := newRecordingSink()
	relay := NewRelay(ps, "wa:events", sink, slog.New(slog.DiscardHandler))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = relay.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(mr.PubSubChannels("wa:events")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mr.Publish("wa:events", "not json")
	mr.Publish("wa:events", `{"event":"message_updated","data":{"msg_id":"m2"}}`)

	select {
	case <-sink.got:
	case <-time.After(2 * time.Second):
		t.Fatal("event was not relayed")
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.events, 1)
	assert.Equal(t, "m2", sink.events[0].Data.MessageID)
}
