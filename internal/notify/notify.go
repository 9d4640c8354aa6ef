package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aniladanir/retry"
	"github.com/aniladanir/wa-inbox/internal/domain"
	"github.com/aniladanir/wa-inbox/internal/pubsub"
)

// Notifier pushes an updated message to subscribers. Implementations must not block the
// caller or report failures back to it.
type Notifier interface {
	Notify(ctx context.Context, msg domain.Message)
}

// Nop drops every notification
type Nop struct{}

func (Nop) Notify(context.Context, domain.Message) {}

// Sink receives events relayed from the shared channel
type Sink interface {
	Publish(ev domain.Event)
}

type RedisNotifier struct {
	ps      pubsub.PubSub
	channel string
	retrier *retry.Retrier
	logger  *slog.Logger
	wg      sync.WaitGroup
}

func NewRedisNotifier(ps pubsub.PubSub, channel string, logger *slog.Logger, maxAttempts *int) (*RedisNotifier, error) {
	retrierOpts := make([]retry.Option, 0)
	if maxAttempts != nil {
		retrierOpts = append(retrierOpts, retry.WithMaxAttemps(*maxAttempts))
	}
	retrier, err := retry.New(retrierOpts...)
	if err != nil {
		return nil, fmt.Errorf("encountered error when initializing retrier: %w", err)
	}

	return &RedisNotifier{
		ps:      ps,
		channel: channel,
		retrier: retrier,
		logger:  logger,
	}, nil
}

// Notify publishes in the background, retrying transient redis errors
func (n *RedisNotifier) Notify(ctx context.Context, msg domain.Message) {
	payload, err := json.Marshal(domain.NewMessageUpdated(msg))
	if err != nil {
		n.logger.Error("failed to encode event", "msgId", msg.MessageID, "error", err.Error())
		return
	}

	// the request context ends as soon as the response is written
	publishCtx := context.WithoutCancel(ctx)
	msgLogger := n.logger.With(slog.String("msgId", msg.MessageID))

	n.wg.Go(func() {
		retryFunc := func(attempt int) (terminate bool) {
			if err := n.ps.Publish(publishCtx, n.channel, payload); err != nil {
				msgLogger.Warn("failed to publish event", "attempt", attempt, "error", err.Error())
				return false
			}
			return true
		}

		if ok := <-n.retrier.Retry(publishCtx, retryFunc, true); !ok {
			msgLogger.Error("giving up publishing event")
		}
	})
}

// Wait blocks until in-flight publishes are done
func (n *RedisNotifier) Wait() {
	n.wg.Wait()
}

// Relay forwards events from the shared channel to the local sink, usually the websocket hub.
type Relay struct {
	ps      pubsub.PubSub
	channel string
	sink    Sink
	logger  *slog.Logger
}

func NewRelay(ps pubsub.PubSub, channel string, sink Sink, logger *slog.Logger) *Relay {
	return &Relay{ps: ps, channel: channel, sink: sink, logger: logger}
}

// Run blocks until ctx is done or the subscription breaks
func (r *Relay) Run(ctx context.Context) error {
	payloads, err := r.ps.Subscribe(ctx, r.channel)
	if err != nil {
		return err
	}
	r.logger.Info("relaying events", "channel", r.channel)

	for payload := range payloads {
		var ev domain.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			r.logger.Warn("dropping malformed event", "error", err.Error())
			continue
		}
		r.sink.Publish(ev)
	}
	return ctx.Err()
}
