package memory

import (
	"context"
	"sync"

	"github.com/alanyoungcy/startraders/internal/domain"
)

// Bus is an in-process domain.SignalBus. Slow subscribers drop messages rather
// than block publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[string][]chan []byte
}

var _ domain.SignalBus = (*Bus)(nil)

// NewBus returns an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string][]chan []byte)}
}

// Publish fans payload out to every subscriber of channel.
func (b *Bus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[channel] {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel that closes when ctx is cancelled.
func (b *Bus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, 256)

	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[channel]
		for i, c := range list {
			if c == ch {
				b.subs[channel] = append(list[:i], list[i+1:]...)
				break
			}
		}
		close(ch)
	}()

	return ch, nil
}
