package notify

import (
	"sync"
	"sync/atomic"
	"time"
)

type Kind string

const (
	KindDegradedMode     Kind = "degraded-mode"
	KindSyncConfirmation Kind = "sync-confirmation"
	KindQueuedForRetry   Kind = "queued-for-retry"
)

// Notification is a user-visible banner or toast.
type Notification struct {
	Kind     Kind      `json:"kind"`
	Active   bool      `json:"active,omitempty"`
	Message  string    `json:"message"`
	Count    int       `json:"count,omitempty"`
	RecordID string    `json:"record_id,omitempty"`
	At       time.Time `json:"at"`
}

func DegradedMode(on bool) Notification {
	msg := "Connection restored"
	if on {
		msg = "Offline disaster mode: no internet detected, showing cached data"
	}
	return Notification{Kind: KindDegradedMode, Active: on, Message: msg, At: time.Now().UTC()}
}

func SyncConfirmation(delivered int) Notification {
	return Notification{
		Kind:    KindSyncConfirmation,
		Message: "Offline emergency alerts synced with authorities",
		Count:   delivered,
		At:      time.Now().UTC(),
	}
}

func QueuedForRetry(recordID, district string) Notification {
	return Notification{
		Kind:     KindQueuedForRetry,
		Message:  "Emergency alert for " + district + " queued, will send when online",
		RecordID: recordID,
		At:       time.Now().UTC(),
	}
}

type Broadcaster struct {
	subscribers map[uint64]chan Notification
	nextID      atomic.Uint64
	degraded    atomic.Bool
	mu          sync.RWMutex
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[uint64]chan Notification),
	}
}

func (b *Broadcaster) Subscribe() (uint64, chan Notification) {
	id := b.nextID.Add(1)
	ch := make(chan Notification, 32)

	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()

	return id, ch
}

func (b *Broadcaster) Unsubscribe(id uint64) {
	b.mu.Lock()
	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
}

func (b *Broadcaster) Publish(n Notification) {
	if n.Kind == KindDegradedMode {
		b.degraded.Store(n.Active)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers {
		select {
		case ch <- n:
		default:
			// Skip slow subscribers
		}
	}
}

// Degraded reports whether the offline banner is currently shown.
func (b *Broadcaster) Degraded() bool {
	return b.degraded.Load()
}

func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close closes all subscriber channels, ending their event streams
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
}
