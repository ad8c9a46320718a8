package packs

import (
	"context"
	"errors"
	"fmt"

	"github.com/atlas-mc/atlas/backend/internal/storage"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrMissingField indicates a required ingestion field was absent.
	ErrMissingField = errors.New("packs: missing required field")
	// ErrProviderDisabled indicates the artifact names a storage provider the
	// deployment has not enabled.
	ErrProviderDisabled = errors.New("packs: storage provider disabled")
	// ErrChannelNotFound indicates no pointer row exists for the pair.
	ErrChannelNotFound = errors.New("packs: channel not found")
	// ErrBuildNotFound indicates the channel pointer or lookup names no
	// resolvable build.
	ErrBuildNotFound = errors.New("packs: build not found")
)

// Ingestion sources recorded on emitted pack updates.
const (
	UpdateSourceCI        = "ci"
	UpdateSourcePromotion = "promotion"
)

// IngestRequest carries one CI build ingestion. BuildID, Version, and
// ArtifactRef are required; Channel defaults to dev.
type IngestRequest struct {
	PackID           PackID
	BuildID          string
	Version          string
	ArtifactRef      string
	CommitHash       string
	CommitMessage    string
	MinecraftVersion string
	Loader           string
	LoaderVersion    string
	ForceReinstall   bool
	ArtifactSize     int64
	Channel          string
	Source           string
}

// IngestResult returns the records the ingestion created or updated.
type IngestResult struct {
	Build   Build
	Channel Channel
}

// IngestBuild upserts the build keyed by its caller-supplied id, moves the
// channel pointer, and emits a pack-update notification. The three steps run
// sequentially and untransacted: a crash between them leaves a build without
// its pointer, which CI recovers by re-posting the same build id.
func (s *Service) IngestBuild(ctx context.Context, req IngestRequest) (IngestResult, error) {
	buildID, err := NewBuildID(req.BuildID)
	if err != nil {
		return IngestResult{}, fmt.Errorf("%w: build id", ErrMissingField)
	}
	if req.Version == "" {
		return IngestResult{}, fmt.Errorf("%w: version", ErrMissingField)
	}
	if req.ArtifactRef == "" {
		return IngestResult{}, fmt.Errorf("%w: artifact ref", ErrMissingField)
	}

	artifact, err := storage.ParseArtifactRef(req.ArtifactRef)
	if err != nil {
		return IngestResult{}, err
	}
	if s.providers == nil || !s.providers.Enabled(artifact.Provider) {
		return IngestResult{}, fmt.Errorf("%w: %s", ErrProviderDisabled, artifact.Provider)
	}

	if _, err := s.GetPack(ctx, req.PackID); err != nil {
		return IngestResult{}, err
	}

	channel := ChannelName(req.Channel)
	if req.Channel == "" {
		channel = ChannelDev
	} else if channel, err = ParseChannelName(req.Channel); err != nil {
		return IngestResult{}, err
	}

	build := Build{
		ID:               buildID.String(),
		PackID:           req.PackID.String(),
		Version:          req.Version,
		CommitHash:       req.CommitHash,
		CommitMessage:    req.CommitMessage,
		MinecraftVersion: req.MinecraftVersion,
		Loader:           req.Loader,
		LoaderVersion:    req.LoaderVersion,
		ForceReinstall:   req.ForceReinstall,
		ArtifactProvider: artifact.Provider,
		ArtifactKey:      artifact.Key,
		ArtifactSize:     req.ArtifactSize,
	}

	// Insert-or-replace-all-fields keyed on build_id: a retried ingestion with
	// the same id fully overwrites prior field values.
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "build_id"}},
		UpdateAll: true,
	}).Create(&build).Error
	if err != nil {
		s.logError(opIngestBuild, err, zap.String("pack_id", req.PackID.String()), zap.String("build_id", build.ID))
		return IngestResult{}, newServiceError(opIngestBuild, "build_upsert_failed", err)
	}

	pointer, err := s.setChannelBuild(ctx, req.PackID, channel, buildID)
	if err != nil {
		s.logError(opIngestBuild, err, zap.String("pack_id", req.PackID.String()), zap.String("channel", string(channel)))
		return IngestResult{}, newServiceError(opIngestBuild, "channel_upsert_failed", err)
	}

	source := req.Source
	if source == "" {
		source = UpdateSourceCI
	}
	s.publishUpdate(req.PackID, channel, buildID, source)

	s.logger.Info("build ingested",
		zap.String("pack_id", req.PackID.String()),
		zap.String("build_id", build.ID),
		zap.String("channel", string(channel)),
		zap.String("version", build.Version))

	return IngestResult{Build: build, Channel: pointer}, nil
}

// PromoteChannel points a channel at an existing build of the same pack.
func (s *Service) PromoteChannel(ctx context.Context, packID PackID, channel ChannelName, buildID BuildID) (Channel, error) {
	var build Build
	err := s.db.WithContext(ctx).
		Where("build_id = ? AND pack_id = ?", buildID.String(), packID.String()).
		Take(&build).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Channel{}, ErrBuildNotFound
	}
	if err != nil {
		return Channel{}, newServiceError(opPromoteChannel, "build_select_failed", err)
	}

	pointer, err := s.setChannelBuild(ctx, packID, channel, buildID)
	if err != nil {
		s.logError(opPromoteChannel, err, zap.String("pack_id", packID.String()), zap.String("channel", string(channel)))
		return Channel{}, newServiceError(opPromoteChannel, "channel_upsert_failed", err)
	}

	s.publishUpdate(packID, channel, buildID, UpdateSourcePromotion)
	return pointer, nil
}

// setChannelBuild upserts the pointer row on its composite key. Last writer
// wins: upsert-on-conflict is the only concurrency control on this path.
func (s *Service) setChannelBuild(ctx context.Context, packID PackID, channel ChannelName, buildID BuildID) (Channel, error) {
	pointer := Channel{
		PackID:           packID.String(),
		Name:             string(channel),
		BuildID:          buildID.String(),
		UpdatedAtSeconds: s.clock().UTC().Unix(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "pack_id"}, {Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"build_id", "updated_at_s"}),
	}).Create(&pointer).Error
	if err != nil {
		return Channel{}, err
	}
	return pointer, nil
}

func (s *Service) publishUpdate(packID PackID, channel ChannelName, buildID BuildID, source string) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(PackUpdate{
		PackID:     packID.String(),
		Channel:    channel,
		BuildID:    buildID.String(),
		Source:     source,
		OccurredAt: s.clock().UTC(),
	})
}

// ChannelStatus is the update-check read model: the pointer joined with its build.
type ChannelStatus struct {
	PackID           string
	Channel          ChannelName
	BuildID          string
	Version          string
	MinecraftVersion string
	Loader           string
	LoaderVersion    string
	ForceReinstall   bool
	UpdatedAtSeconds int64
}

// ResolveChannel reads the pointer for (pack, channel) and resolves its build
// metadata. Missing pointer rows and dangling or empty pointers both surface
// as not-found: a channel with no shipped build has nothing to report.
func (s *Service) ResolveChannel(ctx context.Context, packID PackID, channel ChannelName) (ChannelStatus, error) {
	var pointer Channel
	err := s.db.WithContext(ctx).
		Where("pack_id = ? AND name = ?", packID.String(), string(channel)).
		Take(&pointer).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ChannelStatus{}, ErrChannelNotFound
	}
	if err != nil {
		return ChannelStatus{}, newServiceError(opResolveChannel, "channel_select_failed", err)
	}

	if pointer.BuildID == "" {
		return ChannelStatus{}, ErrBuildNotFound
	}

	var build Build
	err = s.db.WithContext(ctx).Where("build_id = ?", pointer.BuildID).Take(&build).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ChannelStatus{}, ErrBuildNotFound
	}
	if err != nil {
		return ChannelStatus{}, newServiceError(opResolveChannel, "build_select_failed", err)
	}

	return ChannelStatus{
		PackID:           pointer.PackID,
		Channel:          channel,
		BuildID:          build.ID,
		Version:          build.Version,
		MinecraftVersion: build.MinecraftVersion,
		Loader:           build.Loader,
		LoaderVersion:    build.LoaderVersion,
		ForceReinstall:   build.ForceReinstall,
		UpdatedAtSeconds: pointer.UpdatedAtSeconds,
	}, nil
}
