package server

import (
	"context"
	"testing"
	"time"

	"github.com/atlas-mc/atlas/backend/internal/packs"
)

func testPackUpdate(packID, buildID string) packs.PackUpdate {
	return packs.PackUpdate{
		PackID:     packID,
		Channel:    packs.ChannelDev,
		BuildID:    buildID,
		Source:     packs.UpdateSourceCI,
		OccurredAt: time.Now().UTC(),
	}
}

func receiveUpdate(t *testing.T, stream <-chan packs.PackUpdate) packs.PackUpdate {
	t.Helper()
	select {
	case update := <-stream:
		return update
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for pack update")
		return packs.PackUpdate{}
	}
}

func assertNoUpdate(t *testing.T, stream <-chan packs.PackUpdate) {
	t.Helper()
	select {
	case update := <-stream:
		t.Fatalf("unexpected update for pack %s build %s", update.PackID, update.BuildID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDispatcherDeliversToPackSubscribers(t *testing.T) {
	dispatcher := NewPackUpdateDispatcher()
	first, cleanupFirst := dispatcher.Subscribe(context.Background(), "pack-a")
	defer cleanupFirst()
	second, cleanupSecond := dispatcher.Subscribe(context.Background(), "pack-a")
	defer cleanupSecond()

	dispatcher.Publish(testPackUpdate("pack-a", "build-1"))

	for _, stream := range []<-chan packs.PackUpdate{first, second} {
		update := receiveUpdate(t, stream)
		if update.BuildID != "build-1" {
			t.Fatalf("unexpected build id %s", update.BuildID)
		}
	}
}

func TestDispatcherIsolatesPacks(t *testing.T) {
	dispatcher := NewPackUpdateDispatcher()
	streamA, cleanupA := dispatcher.Subscribe(context.Background(), "pack-a")
	defer cleanupA()
	streamB, cleanupB := dispatcher.Subscribe(context.Background(), "pack-b")
	defer cleanupB()

	dispatcher.Publish(testPackUpdate("pack-b", "build-2"))

	assertNoUpdate(t, streamA)
	if update := receiveUpdate(t, streamB); update.PackID != "pack-b" {
		t.Fatalf("unexpected pack id %s", update.PackID)
	}
}

func TestDispatcherCleanupStopsDelivery(t *testing.T) {
	dispatcher := NewPackUpdateDispatcher()
	stream, cleanup := dispatcher.Subscribe(context.Background(), "pack-a")
	cleanup()
	cleanup()

	dispatcher.Publish(testPackUpdate("pack-a", "build-3"))
	assertNoUpdate(t, stream)
}

func TestDispatcherContextCancellationUnsubscribes(t *testing.T) {
	dispatcher := NewPackUpdateDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	stream, cleanup := dispatcher.Subscribe(ctx, "pack-a")
	defer cleanup()

	cancel()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		dispatcher.mu.RLock()
		remaining := len(dispatcher.subscribers["pack-a"])
		dispatcher.mu.RUnlock()
		if remaining == 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	dispatcher.Publish(testPackUpdate("pack-a", "build-4"))
	assertNoUpdate(t, stream)
}

func TestDispatcherPublishNeverBlocksOnFullBuffer(t *testing.T) {
	dispatcher := NewPackUpdateDispatcher()
	stream, cleanup := dispatcher.Subscribe(context.Background(), "pack-a")
	defer cleanup()

	for i := 0; i < dispatcher.bufferSize+8; i++ {
		dispatcher.Publish(testPackUpdate("pack-a", "build-overflow"))
	}

	received := 0
	for {
		select {
		case <-stream:
			received++
		default:
			if received != dispatcher.bufferSize {
				t.Fatalf("expected %d buffered updates, got %d", dispatcher.bufferSize, received)
			}
			return
		}
	}
}

func TestDispatcherEmptyPackSubscriptionIsClosed(t *testing.T) {
	dispatcher := NewPackUpdateDispatcher()
	stream, cleanup := dispatcher.Subscribe(context.Background(), "")
	defer cleanup()

	if _, ok := <-stream; ok {
		t.Fatal("expected closed stream for empty pack id")
	}
}
