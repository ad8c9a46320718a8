package packs

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCompleteLinkSessionLinksMember(t *testing.T) {
	service, _, _ := newTestService(t, []string{"pack-1", "code-1"})
	packID := createTestPack(t, service, "skyfall")
	ctx := context.Background()

	if _, err := service.AddMember(ctx, packID, mustUserID(t, "user-1"), "Steve"); err != nil {
		t.Fatalf("failed to add member: %v", err)
	}

	session, err := service.CreateLinkSession(ctx, packID, mustUserID(t, "user-1"), time.Minute)
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	if session.State != LinkSessionPending {
		t.Fatalf("expected pending session, got %s", session.State)
	}

	completed, err := service.CompleteLinkSession(ctx, session.Code, "069A79F4-44E9-4726-A5BE-FCA90E38AAF5", "Steve")
	if err != nil {
		t.Fatalf("failed to complete session: %v", err)
	}
	if completed.MojangUUID != "069a79f444e94726a5befca90e38aaf5" {
		t.Fatalf("expected normalized uuid, got %s", completed.MojangUUID)
	}

	whitelist, err := service.GetWhitelist(ctx, packID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(whitelist.Entries) != 1 || whitelist.Entries[0].Name != "Steve" {
		t.Fatalf("expected linked member in whitelist, got %#v", whitelist.Entries)
	}
}

func TestCompleteLinkSessionTwiceConflicts(t *testing.T) {
	service, _, _ := newTestService(t, []string{"pack-1", "code-1"})
	packID := createTestPack(t, service, "skyfall")
	ctx := context.Background()

	if _, err := service.AddMember(ctx, packID, mustUserID(t, "user-1"), "Steve"); err != nil {
		t.Fatalf("failed to add member: %v", err)
	}
	session, err := service.CreateLinkSession(ctx, packID, mustUserID(t, "user-1"), time.Minute)
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}

	if _, err := service.CompleteLinkSession(ctx, session.Code, "069a79f444e94726a5befca90e38aaf5", "Steve"); err != nil {
		t.Fatalf("first completion failed: %v", err)
	}
	_, err = service.CompleteLinkSession(ctx, session.Code, "069a79f444e94726a5befca90e38aaf5", "Steve")
	if !errors.Is(err, ErrLinkSessionCompleted) {
		t.Fatalf("expected completed conflict, got %v", err)
	}
}

func TestCompleteLinkSessionUnknownCode(t *testing.T) {
	service, _, _ := newTestService(t, []string{"pack-1"})
	createTestPack(t, service, "skyfall")

	_, err := service.CompleteLinkSession(context.Background(), "ghost", "069a79f444e94726a5befca90e38aaf5", "Steve")
	if !errors.Is(err, ErrLinkSessionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCompleteLinkSessionExpired(t *testing.T) {
	db := openTestDatabase(t)
	now := time.Unix(1700000000, 0).UTC()
	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      func() time.Time { return now },
		IDProvider: &staticIDGenerator{ids: []string{"pack-1", "code-1"}},
		Providers:  enabledProviders{"r2": true},
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}

	ctx := context.Background()
	packID := createTestPack(t, service, "skyfall")
	if _, err := service.AddMember(ctx, packID, mustUserID(t, "user-1"), "Steve"); err != nil {
		t.Fatalf("failed to add member: %v", err)
	}
	session, err := service.CreateLinkSession(ctx, packID, mustUserID(t, "user-1"), time.Minute)
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}

	now = now.Add(2 * time.Minute)
	_, err = service.CompleteLinkSession(ctx, session.Code, "069a79f444e94726a5befca90e38aaf5", "Steve")
	if !errors.Is(err, ErrLinkSessionNotFound) {
		t.Fatalf("expected expired session to read as not found, got %v", err)
	}
}

func TestCreateLinkSessionRequiresMembership(t *testing.T) {
	service, _, _ := newTestService(t, []string{"pack-1", "code-1"})
	packID := createTestPack(t, service, "skyfall")

	_, err := service.CreateLinkSession(context.Background(), packID, mustUserID(t, "stranger"), time.Minute)
	if !errors.Is(err, ErrMemberNotFound) {
		t.Fatalf("expected member not found, got %v", err)
	}
}
