package packs

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ChannelName enumerates the release tracks a pack ships through.
type ChannelName string

const (
	// ChannelDev receives every CI build by default.
	ChannelDev ChannelName = "dev"
	// ChannelBeta is the opt-in preview track.
	ChannelBeta ChannelName = "beta"
	// ChannelProduction is the default track runners poll.
	ChannelProduction ChannelName = "production"
)

// AllChannels lists the channel rows seeded for every pack.
var AllChannels = []ChannelName{ChannelDev, ChannelBeta, ChannelProduction}

const maxIdentifierLength = 190

var (
	// ErrInvalidPackID indicates that a pack identifier is empty or exceeds storage bounds.
	ErrInvalidPackID = errors.New("packs: invalid pack id")
	// ErrInvalidBuildID indicates that a build identifier is empty or exceeds storage bounds.
	ErrInvalidBuildID = errors.New("packs: invalid build id")
	// ErrInvalidUserID indicates that a member identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("packs: invalid user id")
	// ErrInvalidChannel indicates that a channel name is not dev, beta, or production.
	ErrInvalidChannel = errors.New("packs: invalid channel name")
	// ErrInvalidMojangUUID indicates that a platform UUID is not 32 hex characters.
	ErrInvalidMojangUUID = errors.New("packs: invalid mojang uuid")
)

// PackID represents a validated pack identifier.
type PackID string

// NewPackID validates raw input and returns a PackID.
func NewPackID(rawInput string) (PackID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPackID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidPackID, maxIdentifierLength)
	}
	return PackID(trimmed), nil
}

// String returns the underlying string identifier.
func (id PackID) String() string {
	return string(id)
}

// BuildID represents a validated, caller-supplied build identifier. CI picks the
// value, so the same id re-posted is the idempotency key for retried ingestions.
type BuildID string

// NewBuildID validates raw input and returns a BuildID.
func NewBuildID(rawInput string) (BuildID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidBuildID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidBuildID, maxIdentifierLength)
	}
	return BuildID(trimmed), nil
}

// String returns the underlying string identifier.
func (id BuildID) String() string {
	return string(id)
}

// UserID represents a validated member identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

// ParseChannelName validates a channel name strictly.
func ParseChannelName(rawInput string) (ChannelName, error) {
	switch ChannelName(strings.ToLower(strings.TrimSpace(rawInput))) {
	case ChannelDev:
		return ChannelDev, nil
	case ChannelBeta:
		return ChannelBeta, nil
	case ChannelProduction:
		return ChannelProduction, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidChannel, rawInput)
	}
}

// ChannelNameOrDefault resolves a channel name for the read path, falling back
// to production when the input is absent or not a known track.
func ChannelNameOrDefault(rawInput string) ChannelName {
	channel, err := ParseChannelName(rawInput)
	if err != nil {
		return ChannelProduction
	}
	return channel
}

// NormalizeMojangUUID lowercases a platform UUID, strips dashes, and validates
// the 32 hex character form Mojang profile ids use.
func NormalizeMojangUUID(rawInput string) (string, error) {
	compact := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(rawInput), "-", ""))
	if len(compact) != 32 {
		return "", fmt.Errorf("%w: %q", ErrInvalidMojangUUID, rawInput)
	}
	for _, r := range compact {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return "", fmt.Errorf("%w: %q", ErrInvalidMojangUUID, rawInput)
		}
	}
	return compact, nil
}

// Pack is the aggregate root owning builds, channels, members, and the
// whitelist cache. WhitelistVersion is the canonical invalidation counter:
// membership mutations increment it, recomputes stamp rows against it.
type Pack struct {
	ID               string    `gorm:"column:pack_id;primaryKey;size:190;not null"`
	Name             string    `gorm:"column:name;size:190;not null"`
	WhitelistVersion int64     `gorm:"column:whitelist_version;not null;default:0"`
	CreatedAt        time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Pack) TableName() string {
	return "packs"
}

// PackMember records pack membership and, once linked, the platform identity
// the whitelist is derived from. Members without a MojangUUID are excluded
// from the whitelist payload.
type PackMember struct {
	PackID          string `gorm:"column:pack_id;primaryKey;size:190;not null;index:idx_pack_members_join,priority:1"`
	UserID          string `gorm:"column:user_id;primaryKey;size:190;not null"`
	DisplayName     string `gorm:"column:display_name;size:320"`
	MojangUUID      string `gorm:"column:mojang_uuid;size:32;not null;default:''"`
	MojangName      string `gorm:"column:mojang_name;size:64;not null;default:''"`
	JoinedAtSeconds int64  `gorm:"column:joined_at_s;not null;index:idx_pack_members_join,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (PackMember) TableName() string {
	return "pack_members"
}

// Build is one versioned artifact produced for a pack. Rows are immutable
// except through the upsert-by-id ingestion path, which replaces every field
// so CI can safely re-post a build it is still producing.
type Build struct {
	ID               string    `gorm:"column:build_id;primaryKey;size:190;not null"`
	PackID           string    `gorm:"column:pack_id;size:190;not null;index"`
	Version          string    `gorm:"column:version;size:64;not null"`
	CommitHash       string    `gorm:"column:commit_hash;size:64;not null;default:''"`
	CommitMessage    string    `gorm:"column:commit_message;type:text;not null;default:''"`
	MinecraftVersion string    `gorm:"column:minecraft_version;size:32;not null;default:''"`
	Loader           string    `gorm:"column:loader;size:32;not null;default:''"`
	LoaderVersion    string    `gorm:"column:loader_version;size:64;not null;default:''"`
	ForceReinstall   bool      `gorm:"column:force_reinstall;not null;default:false"`
	ArtifactProvider string    `gorm:"column:artifact_provider;size:32;not null"`
	ArtifactKey      string    `gorm:"column:artifact_key;size:512;not null"`
	ArtifactSize     int64     `gorm:"column:artifact_size;not null;default:0"`
	CreatedAt        time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Build) TableName() string {
	return "pack_builds"
}

// Channel is the pointer row mapping (pack, track) to the current build. The
// composite primary key is the upsert target, so at most one row exists per
// pair. BuildID stays empty until the first build ships.
type Channel struct {
	PackID           string `gorm:"column:pack_id;primaryKey;size:190;not null"`
	Name             string `gorm:"column:name;primaryKey;size:16;not null"`
	BuildID          string `gorm:"column:build_id;size:190;not null;default:''"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (Channel) TableName() string {
	return "pack_channels"
}

// WhitelistCache is the denormalized allowlist snapshot, one row per pack,
// stamped with the counter value it was computed against.
type WhitelistCache struct {
	PackID           string `gorm:"column:pack_id;primaryKey;size:190;not null"`
	Version          int64  `gorm:"column:version;not null"`
	PayloadJSON      string `gorm:"column:payload_json;type:text;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (WhitelistCache) TableName() string {
	return "pack_whitelists"
}

// WhitelistEntry is one allowlisted platform identity.
type WhitelistEntry struct {
	UUID string `json:"uuid"`
	Name string `json:"name"`
}

// Link session states.
const (
	LinkSessionPending   = "pending"
	LinkSessionCompleted = "completed"
)

// LinkSession is a one-shot code handed to a member so the launcher can attach
// a Mojang identity to their membership. Completing an already-completed
// session is a conflict, not an overwrite.
type LinkSession struct {
	Code             string `gorm:"column:code;primaryKey;size:190;not null"`
	PackID           string `gorm:"column:pack_id;size:190;not null;index"`
	UserID           string `gorm:"column:user_id;size:190;not null"`
	State            string `gorm:"column:state;size:16;not null;default:'pending'"`
	MojangUUID       string `gorm:"column:mojang_uuid;size:32;not null;default:''"`
	MojangName       string `gorm:"column:mojang_name;size:64;not null;default:''"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
	ExpiresAtSeconds int64  `gorm:"column:expires_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (LinkSession) TableName() string {
	return "link_sessions"
}

// PackUpdate is the process-local notification emitted after an ingestion or
// promotion moves a channel pointer. Delivery is best-effort fan-out to
// same-process subscribers only.
type PackUpdate struct {
	PackID     string
	Channel    ChannelName
	BuildID    string
	Source     string
	OccurredAt time.Time
}

// UpdatePublisher receives pack-update notifications. Implementations must not
// block: the service publishes synchronously on the ingestion path.
type UpdatePublisher interface {
	Publish(update PackUpdate)
}
