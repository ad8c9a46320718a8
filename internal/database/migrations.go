package database

import (
	"errors"
	"time"

	"github.com/atlas-mc/atlas/backend/internal/packs"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationSeedMissingChannelRows = "2026-07-21_seed_missing_channel_rows"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationSeedMissingChannelRows, apply: seedMissingChannelRows},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// seedMissingChannelRows backfills the three channel rows for packs created
// before channel seeding moved into pack creation. Update-check reads assume
// the rows exist.
func seedMissingChannelRows(db *gorm.DB) error {
	var packRows []packs.Pack
	if err := db.Find(&packRows).Error; err != nil {
		return err
	}

	now := time.Now().UTC().Unix()
	for _, pack := range packRows {
		for _, channel := range packs.AllChannels {
			row := packs.Channel{PackID: pack.ID, Name: string(channel), UpdatedAtSeconds: now}
			err := db.Where("pack_id = ? AND name = ?", pack.ID, string(channel)).
				FirstOrCreate(&row).Error
			if err != nil {
				return err
			}
		}
	}
	return nil
}
