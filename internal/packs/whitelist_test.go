package packs

import (
	"context"
	"errors"
	"testing"
)

func TestWhitelistVersionStartsAtZero(t *testing.T) {
	service, _, _ := newTestService(t, []string{"pack-1"})
	packID := createTestPack(t, service, "skyfall")

	version, err := service.WhitelistVersion(context.Background(), packID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if version != 0 {
		t.Fatalf("expected initial whitelist version 0, got %d", version)
	}

	whitelist, err := service.GetWhitelist(context.Background(), packID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if whitelist.Version != 0 {
		t.Fatalf("expected cached version 0, got %d", whitelist.Version)
	}
	if len(whitelist.Entries) != 0 {
		t.Fatalf("expected empty whitelist, got %d entries", len(whitelist.Entries))
	}
}

func TestWhitelistVersionIsStableWithoutMembershipChanges(t *testing.T) {
	service, _, _ := newTestService(t, []string{"pack-1"})
	packID := createTestPack(t, service, "skyfall")

	first, err := service.WhitelistVersion(context.Background(), packID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := service.WhitelistVersion(context.Background(), packID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second {
		t.Fatalf("expected stable version without changes, got %d then %d", first, second)
	}
}

func TestWhitelistExcludesUnlinkedMembers(t *testing.T) {
	service, _, _ := newTestService(t, []string{"pack-1"})
	packID := createTestPack(t, service, "skyfall")
	ctx := context.Background()

	if _, err := service.AddMember(ctx, packID, mustUserID(t, "user-1"), "Steve"); err != nil {
		t.Fatalf("failed to add member: %v", err)
	}
	if _, err := service.LinkMember(ctx, packID, mustUserID(t, "user-1"), "069a79f444e94726a5befca90e38aaf5", "Steve"); err != nil {
		t.Fatalf("failed to link member: %v", err)
	}
	if _, err := service.AddMember(ctx, packID, mustUserID(t, "user-2"), "Unlinked"); err != nil {
		t.Fatalf("failed to add member: %v", err)
	}

	whitelist, err := service.GetWhitelist(ctx, packID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(whitelist.Entries) != 1 {
		t.Fatalf("expected 1 linked entry, got %d", len(whitelist.Entries))
	}
	if whitelist.Entries[0].UUID != "069a79f444e94726a5befca90e38aaf5" || whitelist.Entries[0].Name != "Steve" {
		t.Fatalf("unexpected entry: %#v", whitelist.Entries[0])
	}
}

func TestMembershipChangesStrictlyIncreaseCounter(t *testing.T) {
	service, _, _ := newTestService(t, []string{"pack-1"})
	packID := createTestPack(t, service, "skyfall")
	ctx := context.Background()

	before, err := service.GetPack(ctx, packID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := service.AddMember(ctx, packID, mustUserID(t, "user-1"), "Steve"); err != nil {
		t.Fatalf("failed to add member: %v", err)
	}
	afterAdd, err := service.GetPack(ctx, packID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if afterAdd.WhitelistVersion <= before.WhitelistVersion {
		t.Fatalf("expected counter to increase on add: %d -> %d", before.WhitelistVersion, afterAdd.WhitelistVersion)
	}

	if err := service.RemoveMember(ctx, packID, mustUserID(t, "user-1")); err != nil {
		t.Fatalf("failed to remove member: %v", err)
	}
	afterRemove, err := service.GetPack(ctx, packID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if afterRemove.WhitelistVersion <= afterAdd.WhitelistVersion {
		t.Fatalf("expected counter to increase on remove: %d -> %d", afterAdd.WhitelistVersion, afterRemove.WhitelistVersion)
	}
}

func TestWhitelistVersionAdvancesAfterMembershipChange(t *testing.T) {
	service, _, _ := newTestService(t, []string{"pack-1"})
	packID := createTestPack(t, service, "skyfall")
	ctx := context.Background()

	oldVersion, err := service.WhitelistVersion(ctx, packID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := service.AddMember(ctx, packID, mustUserID(t, "user-1"), "Steve"); err != nil {
		t.Fatalf("failed to add member: %v", err)
	}

	newVersion, err := service.WhitelistVersion(ctx, packID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if newVersion <= oldVersion {
		t.Fatalf("expected reported version to advance: %d -> %d", oldVersion, newVersion)
	}

	if _, err := service.WhitelistByVersion(ctx, packID, oldVersion, false); !errors.Is(err, ErrWhitelistMiss) {
		t.Fatalf("expected stale version lookup to miss, got %v", err)
	}
}

func TestWhitelistByVersionRetriesOnce(t *testing.T) {
	service, _, _ := newTestService(t, []string{"pack-1"})
	packID := createTestPack(t, service, "skyfall")
	ctx := context.Background()

	pack, err := service.GetPack(ctx, packID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// No cache row yet: requesting the live counter value forces one recompute
	// and the retried lookup finds the freshly stamped row.
	whitelist, err := service.WhitelistByVersion(ctx, packID, pack.WhitelistVersion, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if whitelist.Version != pack.WhitelistVersion {
		t.Fatalf("expected version %d, got %d", pack.WhitelistVersion, whitelist.Version)
	}

	// A version no recompute can ever produce again stays a miss even with the
	// retry enabled.
	if _, err := service.WhitelistByVersion(ctx, packID, whitelist.Version+100, true); !errors.Is(err, ErrWhitelistMiss) {
		t.Fatalf("expected bounded retry to surface a miss, got %v", err)
	}
}

func TestRecomputeStampsPreIncrementVersion(t *testing.T) {
	service, db, _ := newTestService(t, []string{"pack-1"})
	packID := createTestPack(t, service, "skyfall")
	ctx := context.Background()

	row, err := service.recomputeWhitelist(ctx, packID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var pack Pack
	if err := db.Where("pack_id = ?", packID.String()).Take(&pack).Error; err != nil {
		t.Fatalf("failed to load pack: %v", err)
	}
	if pack.WhitelistVersion != row.Version+1 {
		t.Fatalf("expected counter one ahead of stored stamp, stored %d counter %d", row.Version, pack.WhitelistVersion)
	}
}

func TestConcurrentRecomputesAdvanceCounterWithoutCorruption(t *testing.T) {
	service, db, _ := newTestService(t, []string{"pack-1"})
	packID := createTestPack(t, service, "skyfall")
	ctx := context.Background()

	first, err := service.recomputeWhitelist(ctx, packID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := service.recomputeWhitelist(ctx, packID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Version != first.Version+1 {
		t.Fatalf("expected each recompute to stamp the next counter value: %d then %d", first.Version, second.Version)
	}

	var rows []WhitelistCache
	if err := db.Where("pack_id = ?", packID.String()).Find(&rows).Error; err != nil {
		t.Fatalf("failed to load cache rows: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected a single cache row per pack, got %d", len(rows))
	}
}

func TestWhitelistPreservesJoinOrder(t *testing.T) {
	service, _, _ := newTestService(t, []string{"pack-1"})
	packID := createTestPack(t, service, "skyfall")
	ctx := context.Background()

	for index, user := range []string{"user-1", "user-2", "user-3"} {
		if _, err := service.AddMember(ctx, packID, mustUserID(t, user), user); err != nil {
			t.Fatalf("failed to add member %d: %v", index, err)
		}
		uuid := "069a79f444e94726a5befca90e38aaf" + string(rune('0'+index))
		if _, err := service.LinkMember(ctx, packID, mustUserID(t, user), uuid, user); err != nil {
			t.Fatalf("failed to link member %d: %v", index, err)
		}
	}

	whitelist, err := service.GetWhitelist(ctx, packID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(whitelist.Entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(whitelist.Entries))
	}
	for index, entry := range whitelist.Entries {
		expected := "user-" + string(rune('1'+index))
		if entry.Name != expected {
			t.Fatalf("expected entry %d to be %s, got %s", index, expected, entry.Name)
		}
	}
}
