package bus

import (
	"context"
	"sync"
)

// Memory is an in-process transport.
// Publish delivers synchronously to every matching subscriber, in
// subscription order, on the publisher's goroutine.
type Memory struct {
	mu     sync.RWMutex
	subs   []*memorySub
	closed bool
}

type memorySub struct {
	m      *Memory
	filter string
	h      Handler
}

// NewMemory creates an empty in-process transport.
func NewMemory() *Memory {
	return &Memory{}
}

// Publish delivers payload to all subscribers whose filter matches topic.
func (m *Memory) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	var targets []Handler
	for _, s := range m.subs {
		if Match(s.filter, topic) {
			targets = append(targets, s.h)
		}
	}
	m.mu.RUnlock()

	if len(targets) == 0 {
		return nil
	}

	data := make([]byte, len(payload))
	copy(data, payload)
	for _, h := range targets {
		h(topic, data)
	}
	return nil
}

// Subscribe registers h for topics matching filter.
func (m *Memory) Subscribe(filter string, h Handler) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	s := &memorySub{m: m, filter: filter, h: h}
	m.subs = append(m.subs, s)
	return s, nil
}

// Subscribers returns the number of active subscriptions.
func (m *Memory) Subscribers() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs)
}

// Close drops all subscriptions. Later calls fail with ErrClosed.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.subs = nil
	return nil
}

func (s *memorySub) Topic() string {
	return s.filter
}

func (s *memorySub) Unsubscribe() error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	for i, other := range s.m.subs {
		if other == s {
			s.m.subs = append(s.m.subs[:i], s.m.subs[i+1:]...)
			break
		}
	}
	return nil
}
