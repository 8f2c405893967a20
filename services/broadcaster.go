package services

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

// Broadcaster fans a zero-argument "something changed" signal out to its
// subscribers. Subscribers re-read the store themselves.
type Broadcaster struct {
	mu     sync.Mutex
	nextID int
	subs   []subscriber
}

type subscriber struct {
	id int
	fn func()
}

// Subscribe registers fn and returns its unsubscribe function.
func (b *Broadcaster) Subscribe(fn func()) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscriber{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.subs {
				if s.id == id {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Publish calls every subscriber synchronously in registration order.
// The subscriber list is snapshotted first, so callbacks may subscribe or
// unsubscribe. A panicking subscriber is logged and skipped.
func (b *Broadcaster) Publish() {
	b.mu.Lock()
	subs := make([]subscriber, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, s := range subs {
		callSubscriber(s.fn)
	}
}

func (b *Broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func callSubscriber(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Broadcaster subscriber panic: %v", r)
		}
	}()
	fn()
}

// Hub keeps one Broadcaster per user.
type Hub struct {
	mu    sync.Mutex
	users map[int64]*Broadcaster
}

func NewHub() *Hub {
	return &Hub{users: make(map[int64]*Broadcaster)}
}

func (h *Hub) For(userID int64) *Broadcaster {
	h.mu.Lock()
	defer h.mu.Unlock()
	b, ok := h.users[userID]
	if !ok {
		b = &Broadcaster{}
		h.users[userID] = b
	}
	return b
}

func (h *Hub) Subscribe(userID int64, fn func()) func() {
	return h.For(userID).Subscribe(fn)
}

// Publish notifies the user's subscribers. A nil Hub publishes nothing.
func (h *Hub) Publish(userID int64) {
	if h == nil {
		return
	}
	h.For(userID).Publish()
}
