package pubsub

import (
	"context"
)

// PubSub is a fire-and-forget broadcast channel shared by every running instance.
type PubSub interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe delivers payloads published on channel until ctx is done.
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
