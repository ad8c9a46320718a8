package packs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/atlas-mc/atlas/backend/internal/metrics"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingPackName   = errors.New("pack name is required")

	// ErrPackNotFound indicates the pack does not exist.
	ErrPackNotFound = errors.New("packs: pack not found")
	// ErrMemberNotFound indicates the user is not a member of the pack.
	ErrMemberNotFound = errors.New("packs: member not found")

	noOpLogger = zap.NewNop()
)

// ServiceError wraps storage and validation failures with a dotted operation code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the dotted operation code for the failure.
func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew          = "packs.service.new"
	opCreatePack          = "packs.create_pack"
	opGetPack             = "packs.get_pack"
	opAddMember           = "packs.add_member"
	opListMembers         = "packs.list_members"
	opRemoveMember        = "packs.remove_member"
	opLinkMember          = "packs.link_member"
	opIngestBuild         = "packs.ingest_build"
	opPromoteChannel      = "packs.promote_channel"
	opResolveChannel      = "packs.resolve_channel"
	opWhitelistVersion    = "packs.whitelist_version"
	opWhitelistByVersion  = "packs.whitelist_by_version"
	opWhitelist           = "packs.whitelist"
	opRecomputeWhitelist  = "packs.recompute_whitelist"
	opCreateLinkSession   = "packs.create_link_session"
	opCompleteLinkSession = "packs.complete_link_session"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// IDProvider issues identifiers for packs and link session codes.
type IDProvider interface {
	NewID() (string, error)
}

// ProviderChecker reports whether a storage provider is enabled for this
// deployment. Satisfied by storage.Registry.
type ProviderChecker interface {
	Enabled(provider string) bool
}

// ServiceConfig wires the pack service's collaborators.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Providers  ProviderChecker
	Publisher  UpdatePublisher
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
}

// Service owns the pack aggregate: builds, channel pointers, membership, the
// whitelist cache, and link sessions.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	providers  ProviderChecker
	publisher  UpdatePublisher
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewService validates the configuration and constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		providers:  cfg.Providers,
		publisher:  cfg.Publisher,
		metrics:    cfg.Metrics,
		logger:     logger,
	}, nil
}

// CreatePack creates the pack row and seeds one channel row per release track
// with an empty build pointer. Downstream reads rely on the three rows existing.
func (s *Service) CreatePack(ctx context.Context, name string) (Pack, []Channel, error) {
	if name == "" {
		return Pack{}, nil, newServiceError(opCreatePack, "missing_name", errMissingPackName)
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		return Pack{}, nil, newServiceError(opCreatePack, "id_generation_failed", err)
	}

	pack := Pack{ID: id, Name: name}
	channels := make([]Channel, 0, len(AllChannels))
	now := s.clock().UTC().Unix()
	for _, channel := range AllChannels {
		channels = append(channels, Channel{PackID: id, Name: string(channel), UpdatedAtSeconds: now})
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&pack).Error; err != nil {
			return newServiceError(opCreatePack, "pack_insert_failed", err)
		}
		if err := tx.Create(&channels).Error; err != nil {
			return newServiceError(opCreatePack, "channel_seed_failed", err)
		}
		return nil
	})
	if txErr != nil {
		s.logError(opCreatePack, txErr, zap.String("pack_name", name))
		return Pack{}, nil, txErr
	}

	s.logger.Info("pack created", zap.String("pack_id", id), zap.String("pack_name", name))
	return pack, channels, nil
}

// GetPack loads a pack by id.
func (s *Service) GetPack(ctx context.Context, packID PackID) (Pack, error) {
	var pack Pack
	err := s.db.WithContext(ctx).Where("pack_id = ?", packID.String()).Take(&pack).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Pack{}, ErrPackNotFound
	}
	if err != nil {
		return Pack{}, newServiceError(opGetPack, "pack_select_failed", err)
	}
	return pack, nil
}

// AddMember adds a membership row and invalidates the whitelist by bumping the
// pack's counter. The cached row is left untouched until the next recompute.
func (s *Service) AddMember(ctx context.Context, packID PackID, userID UserID, displayName string) (PackMember, error) {
	if _, err := s.GetPack(ctx, packID); err != nil {
		return PackMember{}, err
	}

	member := PackMember{
		PackID:          packID.String(),
		UserID:          userID.String(),
		DisplayName:     displayName,
		JoinedAtSeconds: s.clock().UTC().Unix(),
	}
	if err := s.db.WithContext(ctx).Create(&member).Error; err != nil {
		s.logError(opAddMember, err, zap.String("pack_id", packID.String()), zap.String("user_id", userID.String()))
		return PackMember{}, newServiceError(opAddMember, "member_insert_failed", err)
	}

	if err := s.bumpWhitelistVersion(ctx, packID); err != nil {
		return PackMember{}, newServiceError(opAddMember, "whitelist_bump_failed", err)
	}
	return member, nil
}

// RemoveMember deletes a membership row and invalidates the whitelist.
func (s *Service) RemoveMember(ctx context.Context, packID PackID, userID UserID) error {
	result := s.db.WithContext(ctx).
		Where("pack_id = ? AND user_id = ?", packID.String(), userID.String()).
		Delete(&PackMember{})
	if result.Error != nil {
		s.logError(opRemoveMember, result.Error, zap.String("pack_id", packID.String()), zap.String("user_id", userID.String()))
		return newServiceError(opRemoveMember, "member_delete_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrMemberNotFound
	}

	if err := s.bumpWhitelistVersion(ctx, packID); err != nil {
		return newServiceError(opRemoveMember, "whitelist_bump_failed", err)
	}
	return nil
}

// LinkMember attaches a Mojang identity to an existing membership and
// invalidates the whitelist.
func (s *Service) LinkMember(ctx context.Context, packID PackID, userID UserID, mojangUUID, mojangName string) (PackMember, error) {
	normalized, err := NormalizeMojangUUID(mojangUUID)
	if err != nil {
		return PackMember{}, err
	}

	result := s.db.WithContext(ctx).Model(&PackMember{}).
		Where("pack_id = ? AND user_id = ?", packID.String(), userID.String()).
		Updates(map[string]any{"mojang_uuid": normalized, "mojang_name": mojangName})
	if result.Error != nil {
		s.logError(opLinkMember, result.Error, zap.String("pack_id", packID.String()), zap.String("user_id", userID.String()))
		return PackMember{}, newServiceError(opLinkMember, "member_update_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return PackMember{}, ErrMemberNotFound
	}

	if err := s.bumpWhitelistVersion(ctx, packID); err != nil {
		return PackMember{}, newServiceError(opLinkMember, "whitelist_bump_failed", err)
	}

	var member PackMember
	if err := s.db.WithContext(ctx).
		Where("pack_id = ? AND user_id = ?", packID.String(), userID.String()).
		Take(&member).Error; err != nil {
		return PackMember{}, newServiceError(opLinkMember, "member_select_failed", err)
	}
	return member, nil
}

// ListMembers returns pack members in join order.
func (s *Service) ListMembers(ctx context.Context, packID PackID) ([]PackMember, error) {
	var members []PackMember
	err := s.db.WithContext(ctx).
		Where("pack_id = ?", packID.String()).
		Order("joined_at_s ASC, user_id ASC").
		Find(&members).Error
	if err != nil {
		return nil, newServiceError(opListMembers, "member_list_failed", err)
	}
	return members, nil
}

// bumpWhitelistVersion is the invalidation primitive: the counter increments,
// the cached row keeps its old stamp, and the next version read observes the
// mismatch and recomputes.
func (s *Service) bumpWhitelistVersion(ctx context.Context, packID PackID) error {
	return s.db.WithContext(ctx).Model(&Pack{}).
		Where("pack_id = ?", packID.String()).
		UpdateColumn("whitelist_version", gorm.Expr("whitelist_version + 1")).Error
}

func (s *Service) logError(operation string, err error, fields ...zap.Field) {
	fields = append(fields, zap.Error(err))
	s.logger.Error(operation, fields...)
}
