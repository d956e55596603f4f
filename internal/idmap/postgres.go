package idmap

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/blacktop/xrelay/internal/xpost"
)

// Mapping is the gorm model for one identifier map entry.
type Mapping struct {
	SourceNetwork      string `gorm:"primaryKey;type:text"`
	SourceID           string `gorm:"primaryKey;type:text"`
	DestinationNetwork string `gorm:"primaryKey;type:text"`
	DestinationID      string `gorm:"type:text;not null"`
	Position           int    `gorm:"not null"`
}

// TableName implements the gorm tabler interface.
func (Mapping) TableName() string { return "crosspost_mappings" }

// PostgresStorage keeps the snapshot in a Postgres table through gorm.
type PostgresStorage struct {
	db *gorm.DB
}

// NewPostgresStorage connects to dsn and migrates the mapping table.
func NewPostgresStorage(dsn string) (*PostgresStorage, error) {
	gormLogger := logger.New(
		log.New(os.Stderr, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             300 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.AutoMigrate(&Mapping{}); err != nil {
		return nil, fmt.Errorf("migrate postgres: %w", err)
	}
	return &PostgresStorage{db: db}, nil
}

// ReadAll implements Storage.
func (s *PostgresStorage) ReadAll(ctx context.Context) ([]Entry, error) {
	var rows []Mapping
	if err := s.db.WithContext(ctx).Order("position").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query mappings: %w", err)
	}
	entries := make([]Entry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, Entry{
			Key: Key{
				Source:      xpost.PostRef{Network: xpost.Network(r.SourceNetwork), ID: r.SourceID},
				Destination: xpost.Network(r.DestinationNetwork),
			},
			DestinationID: r.DestinationID,
		})
	}
	return entries, nil
}

// WriteAll implements Storage.
func (s *PostgresStorage) WriteAll(ctx context.Context, entries []Entry) error {
	rows := make([]Mapping, 0, len(entries))
	for i, e := range entries {
		rows = append(rows, Mapping{
			SourceNetwork:      string(e.Key.Source.Network),
			SourceID:           e.Key.Source.ID,
			DestinationNetwork: string(e.Key.Destination),
			DestinationID:      e.DestinationID,
			Position:           i,
		})
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&Mapping{}).Error; err != nil {
			return fmt.Errorf("clear mappings: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(rows, 500).Error; err != nil {
			return fmt.Errorf("insert mappings: %w", err)
		}
		return nil
	})
}

// Close implements Storage.
func (s *PostgresStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
