package server

import (
	"context"
	"sync"

	"github.com/atlas-mc/atlas/backend/internal/packs"
)

const (
	// RealtimeEventPackUpdate names the SSE event carrying channel moves.
	RealtimeEventPackUpdate = "pack-update"
	realtimeEventHeartbeat  = "heartbeat"
)

// PackUpdateDispatcher fans pack-update notifications out to same-process
// subscribers keyed by pack id. Delivery is best-effort: publishing never
// blocks, and a subscriber with a full buffer misses the message.
type PackUpdateDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*packSubscriber
	nextID      int64
	bufferSize  int
}

type packSubscriber struct {
	id     int64
	stream chan packs.PackUpdate
}

// NewPackUpdateDispatcher constructs an empty dispatcher.
func NewPackUpdateDispatcher() *PackUpdateDispatcher {
	return &PackUpdateDispatcher{
		subscribers: make(map[string]map[int64]*packSubscriber),
		bufferSize:  16,
	}
}

// Subscribe registers a listener for one pack's updates. The stream closes
// implicitly when the context is done; the returned cleanup is idempotent.
func (d *PackUpdateDispatcher) Subscribe(ctx context.Context, packID string) (<-chan packs.PackUpdate, func()) {
	if packID == "" {
		ch := make(chan packs.PackUpdate)
		close(ch)
		return ch, func() {}
	}
	subscriber := &packSubscriber{
		id:     d.nextSequence(),
		stream: make(chan packs.PackUpdate, d.bufferSize),
	}
	d.registerSubscriber(packID, subscriber)
	cleanup := func() {
		d.unregisterSubscriber(packID, subscriber.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish implements packs.UpdatePublisher.
func (d *PackUpdateDispatcher) Publish(update packs.PackUpdate) {
	if update.PackID == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[update.PackID]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*packSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- update:
		default:
		}
	}
}

func (d *PackUpdateDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *PackUpdateDispatcher) registerSubscriber(packID string, subscriber *packSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[packID]; !ok {
		d.subscribers[packID] = make(map[int64]*packSubscriber)
	}
	d.subscribers[packID][subscriber.id] = subscriber
}

func (d *PackUpdateDispatcher) unregisterSubscriber(packID string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[packID]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, packID)
		}
	}
	d.mu.Unlock()
}
