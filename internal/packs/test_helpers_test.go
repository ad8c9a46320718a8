package packs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func mustPackID(t *testing.T, value string) PackID {
	t.Helper()
	id, err := NewPackID(value)
	if err != nil {
		t.Fatalf("unexpected pack id error: %v", err)
	}
	return id
}

func mustBuildID(t *testing.T, value string) BuildID {
	t.Helper()
	id, err := NewBuildID(value)
	if err != nil {
		t.Fatalf("unexpected build id error: %v", err)
	}
	return id
}

func mustUserID(t *testing.T, value string) UserID {
	t.Helper()
	id, err := NewUserID(value)
	if err != nil {
		t.Fatalf("unexpected user id error: %v", err)
	}
	return id
}

type staticIDGenerator struct {
	ids   []string
	index int
}

func (g *staticIDGenerator) NewID() (string, error) {
	if g.index >= len(g.ids) {
		return "", errors.New("exhausted ids")
	}
	id := g.ids[g.index]
	g.index++
	return id, nil
}

type enabledProviders map[string]bool

func (p enabledProviders) Enabled(id string) bool {
	return p[id]
}

type recordingPublisher struct {
	mu      sync.Mutex
	updates []PackUpdate
}

func (p *recordingPublisher) Publish(update PackUpdate) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, update)
}

func (p *recordingPublisher) all() []PackUpdate {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PackUpdate(nil), p.updates...)
}

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:atlas_packs_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	err = db.AutoMigrate(&Pack{}, &PackMember{}, &Build{}, &Channel{}, &WhitelistCache{}, &LinkSession{})
	if err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func newTestService(t *testing.T, ids []string) (*Service, *gorm.DB, *recordingPublisher) {
	t.Helper()
	db := openTestDatabase(t)
	publisher := &recordingPublisher{}
	service, err := NewService(ServiceConfig{
		Database:   db,
		IDProvider: &staticIDGenerator{ids: ids},
		Providers:  enabledProviders{"r2": true},
		Publisher:  publisher,
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service, db, publisher
}

func createTestPack(t *testing.T, service *Service, name string) PackID {
	t.Helper()
	pack, channels, err := service.CreatePack(context.Background(), name)
	if err != nil {
		t.Fatalf("failed to create pack: %v", err)
	}
	if len(channels) != 3 {
		t.Fatalf("expected 3 seeded channels, got %d", len(channels))
	}
	return mustPackID(t, pack.ID)
}
