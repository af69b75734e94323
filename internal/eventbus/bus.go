// Package eventbus carries delivery outcomes out of the notify pipeline to
// whoever wants to observe them (the app's shutdown counters, tests) without
// the pipeline knowing who is listening.
package eventbus

import (
	"sync"
	"sync/atomic"
)

// Bus fans published values out to all current subscribers. Publish never
// blocks; a subscriber that falls behind loses values rather than stalling
// the publisher.
type Bus[T any] interface {
	Publish(v T)
	Subscribe(buffer int) (ch <-chan T, unsubscribe func())
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New[T any]() Bus[T] {
	return &memBus[T]{subs: map[uint64]chan T{}}
}

type memBus[T any] struct {
	mu   sync.RWMutex
	subs map[uint64]chan T
	seq  atomic.Uint64
}

func (b *memBus[T]) Publish(v T) {
	// Snapshot subscribers so Publish doesn't hold the lock while sending.
	b.mu.RLock()
	chs := make([]chan T, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// Non-blocking delivery; a concurrently closed channel is recovered.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- v:
			default:
			}
		}()
	}
}

func (b *memBus[T]) Subscribe(buffer int) (<-chan T, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan T, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}
