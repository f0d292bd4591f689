package payment

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const wakeChannel = "ledger:webhook_retries:wake"

// Waker nudges retry workers over Redis pub/sub when a webhook is queued.
// Without Redis, workers fall back to polling.
type Waker struct {
	client *redis.Client
}

func NewWaker(client *redis.Client) *Waker {
	return &Waker{client: client}
}

func (w *Waker) Wake(ctx context.Context) {
	if w == nil || w.client == nil {
		return
	}
	if err := w.client.Publish(ctx, wakeChannel, "1").Err(); err != nil {
		log.Warn().Err(err).Msg("Failed to publish retry wake-up")
	}
}

// Subscribe returns a channel that receives a value after each wake-up,
// coalescing bursts. It returns nil without Redis; a nil channel never
// fires in a select.
func (w *Waker) Subscribe(ctx context.Context) <-chan struct{} {
	if w == nil || w.client == nil {
		return nil
	}
	out := make(chan struct{}, 1)
	sub := w.client.Subscribe(ctx, wakeChannel)
	go func() {
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()
	return out
}
