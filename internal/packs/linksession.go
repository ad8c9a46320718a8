package packs

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultLinkSessionTTL = 15 * time.Minute

var (
	// ErrLinkSessionNotFound indicates no session exists for the code, or it expired.
	ErrLinkSessionNotFound = errors.New("packs: link session not found")
	// ErrLinkSessionCompleted indicates the session already carries an identity.
	ErrLinkSessionCompleted = errors.New("packs: link session already completed")
)

// CreateLinkSession issues a one-shot code a member hands to their launcher to
// attach a Mojang identity. The user must already be a pack member.
func (s *Service) CreateLinkSession(ctx context.Context, packID PackID, userID UserID, ttl time.Duration) (LinkSession, error) {
	var member PackMember
	err := s.db.WithContext(ctx).
		Where("pack_id = ? AND user_id = ?", packID.String(), userID.String()).
		Take(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return LinkSession{}, ErrMemberNotFound
	}
	if err != nil {
		return LinkSession{}, newServiceError(opCreateLinkSession, "member_select_failed", err)
	}

	code, err := s.idProvider.NewID()
	if err != nil {
		return LinkSession{}, newServiceError(opCreateLinkSession, "code_generation_failed", err)
	}

	if ttl <= 0 {
		ttl = defaultLinkSessionTTL
	}
	now := s.clock().UTC()
	session := LinkSession{
		Code:             code,
		PackID:           packID.String(),
		UserID:           userID.String(),
		State:            LinkSessionPending,
		CreatedAtSeconds: now.Unix(),
		ExpiresAtSeconds: now.Add(ttl).Unix(),
	}
	if err := s.db.WithContext(ctx).Create(&session).Error; err != nil {
		s.logError(opCreateLinkSession, err, zap.String("pack_id", packID.String()))
		return LinkSession{}, newServiceError(opCreateLinkSession, "session_insert_failed", err)
	}
	return session, nil
}

// CompleteLinkSession finishes a pending session with the launcher's Mojang
// identity, links the member, and invalidates the whitelist. A completed
// session is terminal: completing it again is a conflict.
func (s *Service) CompleteLinkSession(ctx context.Context, code, mojangUUID, mojangName string) (LinkSession, error) {
	normalized, err := NormalizeMojangUUID(mojangUUID)
	if err != nil {
		return LinkSession{}, err
	}

	var session LinkSession
	err = s.db.WithContext(ctx).Where("code = ?", code).Take(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return LinkSession{}, ErrLinkSessionNotFound
	}
	if err != nil {
		return LinkSession{}, newServiceError(opCompleteLinkSession, "session_select_failed", err)
	}

	if session.State == LinkSessionCompleted {
		return LinkSession{}, ErrLinkSessionCompleted
	}
	if s.clock().UTC().Unix() >= session.ExpiresAtSeconds {
		return LinkSession{}, ErrLinkSessionNotFound
	}

	session.State = LinkSessionCompleted
	session.MojangUUID = normalized
	session.MojangName = mojangName
	err = s.db.WithContext(ctx).Model(&LinkSession{}).
		Where("code = ?", code).
		Updates(map[string]any{
			"state":       LinkSessionCompleted,
			"mojang_uuid": normalized,
			"mojang_name": mojangName,
		}).Error
	if err != nil {
		s.logError(opCompleteLinkSession, err, zap.String("code", code))
		return LinkSession{}, newServiceError(opCompleteLinkSession, "session_update_failed", err)
	}

	packID, err := NewPackID(session.PackID)
	if err != nil {
		return LinkSession{}, newServiceError(opCompleteLinkSession, "invalid_session_pack", err)
	}
	userID, err := NewUserID(session.UserID)
	if err != nil {
		return LinkSession{}, newServiceError(opCompleteLinkSession, "invalid_session_user", err)
	}
	if _, err := s.LinkMember(ctx, packID, userID, normalized, mojangName); err != nil {
		return LinkSession{}, err
	}

	s.logger.Info("link session completed",
		zap.String("pack_id", session.PackID),
		zap.String("user_id", session.UserID))
	return session, nil
}
