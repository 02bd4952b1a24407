// Package eventbus fans session notices out to any number of subscribers.
package eventbus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/flitsinc/agentlab/internal/idgen"
	"github.com/flitsinc/agentlab/internal/schema"
)

type Bus struct {
	mu   sync.RWMutex
	subs map[string]*subscriber
	last map[string]Notice
}

type subscriber struct {
	streams map[string]struct{}
	ch      chan Notice
}

func NewBus() *Bus {
	return &Bus{subs: map[string]*subscriber{}, last: map[string]Notice{}}
}

func (b *Bus) Publish(input NoticeInput) (Notice, error) {
	if strings.TrimSpace(input.Stream) == "" {
		return Notice{}, fmt.Errorf("stream is required")
	}
	n := Notice{
		ID:        idgen.ULID(),
		Stream:    input.Stream,
		Seq:       input.Seq,
		Subject:   input.Subject,
		Payload:   input.Payload,
		CreatedAt: time.Now().UTC(),
	}

	b.mu.Lock()
	b.last[n.Stream] = n
	b.mu.Unlock()

	b.broadcast(n)
	return n, nil
}

// Last returns the most recent notice on a stream.
func (b *Bus) Last(stream string) (Notice, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n, ok := b.last[stream]
	return n, ok
}

// Subscribe delivers notices for the given streams (all streams when empty)
// until ctx is done. The latest notice of each requested stream is queued
// first so a new subscriber starts from current state.
func (b *Bus) Subscribe(ctx context.Context, streams []string) <-chan Notice {
	ch := make(chan Notice, 64)
	streamSet := map[string]struct{}{}
	for _, s := range streams {
		if s == "" {
			continue
		}
		streamSet[s] = struct{}{}
	}
	id := idgen.ULID()

	sub := &subscriber{streams: streamSet, ch: ch}
	b.mu.Lock()
	replay := streams
	if len(streamSet) == 0 {
		replay = schema.Streams
	}
	queued := map[string]bool{}
	for _, s := range replay {
		if n, ok := b.last[s]; ok && !queued[s] {
			queued[s] = true
			select {
			case ch <- n:
			default:
			}
		}
	}
	b.subs[id] = sub
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		close(ch)
	}()

	return ch
}

func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Bus) broadcast(n Notice) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if len(sub.streams) > 0 {
			if _, ok := sub.streams[n.Stream]; !ok {
				continue
			}
		}
		select {
		case sub.ch <- n:
		default:
			// Drop if subscriber is slow.
		}
	}
}
