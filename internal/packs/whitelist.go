package packs

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrWhitelistMiss indicates no cache row matched the requested version after
// the bounded recompute retry. Callers fall back to the unconditioned read.
var ErrWhitelistMiss = errors.New("packs: whitelist version not found")

// Whitelist is the cached allowlist snapshot returned to runners.
type Whitelist struct {
	Version int64
	Entries []WhitelistEntry
}

// WhitelistVersion returns the stored whitelist version for the pack,
// recomputing first when no row exists or the stored row is stale. After a
// recompute the live counter sits one ahead of the stored stamp, so staleness
// is exactly stored+1 != counter.
func (s *Service) WhitelistVersion(ctx context.Context, packID PackID) (int64, error) {
	pack, err := s.GetPack(ctx, packID)
	if err != nil {
		return 0, err
	}

	row, err := s.whitelistRow(ctx, packID)
	if err != nil {
		return 0, newServiceError(opWhitelistVersion, "whitelist_select_failed", err)
	}
	if row != nil && row.Version+1 == pack.WhitelistVersion {
		return row.Version, nil
	}

	recomputed, err := s.recomputeWhitelist(ctx, packID)
	if err != nil {
		return 0, err
	}
	return recomputed.Version, nil
}

// WhitelistByVersion returns the cached payload iff a row exists whose stored
// version equals the requested one. On a miss with recomputeIfMissing set it
// recomputes exactly once and retries the lookup once; a second miss returns
// ErrWhitelistMiss. The single retry bounds the recursion a concurrent counter
// bump could otherwise cause.
func (s *Service) WhitelistByVersion(ctx context.Context, packID PackID, version int64, recomputeIfMissing bool) (Whitelist, error) {
	row, err := s.whitelistRowAtVersion(ctx, packID, version)
	if err != nil {
		return Whitelist{}, newServiceError(opWhitelistByVersion, "whitelist_select_failed", err)
	}
	if row != nil {
		return decodeWhitelist(*row)
	}
	if !recomputeIfMissing {
		return Whitelist{}, ErrWhitelistMiss
	}

	if _, err := s.recomputeWhitelist(ctx, packID); err != nil {
		return Whitelist{}, err
	}

	row, err = s.whitelistRowAtVersion(ctx, packID, version)
	if err != nil {
		return Whitelist{}, newServiceError(opWhitelistByVersion, "whitelist_select_failed", err)
	}
	if row == nil {
		return Whitelist{}, ErrWhitelistMiss
	}
	return decodeWhitelist(*row)
}

// GetWhitelist is the unconditional accessor: the existing row, or exactly one
// recompute when none exists yet. Last-resort fallback for version-pinned reads.
func (s *Service) GetWhitelist(ctx context.Context, packID PackID) (Whitelist, error) {
	if _, err := s.GetPack(ctx, packID); err != nil {
		return Whitelist{}, err
	}

	row, err := s.whitelistRow(ctx, packID)
	if err != nil {
		return Whitelist{}, newServiceError(opWhitelist, "whitelist_select_failed", err)
	}
	if row != nil {
		return decodeWhitelist(*row)
	}

	recomputed, err := s.recomputeWhitelist(ctx, packID)
	if err != nil {
		return Whitelist{}, err
	}
	return decodeWhitelist(recomputed)
}

// recomputeWhitelist rebuilds the snapshot from live membership. Ordering is
// load-bearing: the row is stamped with the counter value read before the
// increment, so the row just written is immediately one behind the counter.
// The next version read therefore reports a number strictly above anything a
// reader quoted before the recompute, while the caller that triggered it gets
// a payload consistent with the version it is about to report.
//
// Concurrent recomputes for one pack are not mutually excluded. The upsert is
// idempotent per call, so a race costs extra counter increments and a
// duplicate write, never corruption. Accepted tradeoff.
func (s *Service) recomputeWhitelist(ctx context.Context, packID PackID) (WhitelistCache, error) {
	members, err := s.ListMembers(ctx, packID)
	if err != nil {
		return WhitelistCache{}, newServiceError(opRecomputeWhitelist, "member_list_failed", err)
	}

	entries := make([]WhitelistEntry, 0, len(members))
	for _, member := range members {
		if member.MojangUUID == "" {
			continue
		}
		entries = append(entries, WhitelistEntry{UUID: member.MojangUUID, Name: member.MojangName})
	}

	payload, err := json.Marshal(entries)
	if err != nil {
		return WhitelistCache{}, newServiceError(opRecomputeWhitelist, "payload_encode_failed", err)
	}

	pack, err := s.GetPack(ctx, packID)
	if err != nil {
		return WhitelistCache{}, err
	}

	row := WhitelistCache{
		PackID:           packID.String(),
		Version:          pack.WhitelistVersion,
		PayloadJSON:      string(payload),
		UpdatedAtSeconds: s.clock().UTC().Unix(),
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "pack_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"version", "payload_json", "updated_at_s"}),
	}).Create(&row).Error
	if err != nil {
		s.logError(opRecomputeWhitelist, err, zap.String("pack_id", packID.String()))
		return WhitelistCache{}, newServiceError(opRecomputeWhitelist, "whitelist_upsert_failed", err)
	}

	if err := s.bumpWhitelistVersion(ctx, packID); err != nil {
		s.logError(opRecomputeWhitelist, err, zap.String("pack_id", packID.String()))
		return WhitelistCache{}, newServiceError(opRecomputeWhitelist, "counter_bump_failed", err)
	}

	s.metrics.RecordWhitelistRecompute()
	s.logger.Debug("whitelist recomputed",
		zap.String("pack_id", packID.String()),
		zap.Int64("version", row.Version),
		zap.Int("entries", len(entries)))
	return row, nil
}

func (s *Service) whitelistRow(ctx context.Context, packID PackID) (*WhitelistCache, error) {
	var row WhitelistCache
	err := s.db.WithContext(ctx).Where("pack_id = ?", packID.String()).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (s *Service) whitelistRowAtVersion(ctx context.Context, packID PackID, version int64) (*WhitelistCache, error) {
	var row WhitelistCache
	err := s.db.WithContext(ctx).
		Where("pack_id = ? AND version = ?", packID.String(), version).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func decodeWhitelist(row WhitelistCache) (Whitelist, error) {
	entries := make([]WhitelistEntry, 0)
	if row.PayloadJSON != "" {
		if err := json.Unmarshal([]byte(row.PayloadJSON), &entries); err != nil {
			return Whitelist{}, newServiceError(opWhitelist, "payload_decode_failed", err)
		}
	}
	return Whitelist{Version: row.Version, Entries: entries}, nil
}
