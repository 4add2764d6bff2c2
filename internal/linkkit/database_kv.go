package linkkit

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	sqliteDialector "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var (
	// ErrUnsupportedDialect indicates that no GORM dialector is available for the scheme.
	ErrUnsupportedDialect = errors.New("linkstore.unsupported_dialect")

	errEmptyDatabaseURL    = errors.New("linkstore.empty_database_url")
	errSQLiteEmptyPath     = errors.New("linkstore.sqlite.empty_path")
	errSQLiteInvalidURL    = errors.New("linkstore.sqlite.invalid_url")
	errUnsupportedNoScheme = errors.New("linkstore.unsupported_no_scheme")
)

// DatabaseKVStore persists registry blobs using GORM.
type DatabaseKVStore struct {
	db          *gorm.DB
	driverLabel string
}

// Driver exposes the selected database driver label.
func (store *DatabaseKVStore) Driver() string {
	return store.driverLabel
}

type registryEntryRecord struct {
	EntryKey      string `gorm:"column:entry_key;primaryKey"`
	EntryValue    []byte `gorm:"column:entry_value"`
	UpdatedAtUnix int64  `gorm:"column:updated_at_unix;not null"`
}

func (registryEntryRecord) TableName() string {
	return "registry_entries"
}

// OpenDatabase opens a GORM handle for a postgres:// or sqlite:// URL and
// returns it with the selected driver label. Other persistence layers share
// this handle.
func OpenDatabase(databaseURL string) (*gorm.DB, string, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, "", fmt.Errorf("linkstore.open: %w", errEmptyDatabaseURL)
	}
	dialector, driverLabel, err := resolveDialector(databaseURL)
	if err != nil {
		return nil, "", err
	}
	gormDB, openErr := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if openErr != nil {
		return nil, "", fmt.Errorf("linkstore.open.%s: %w", driverLabel, openErr)
	}
	return gormDB, driverLabel, nil
}

// NewDatabaseKVStore constructs a GORM-backed store from a postgres:// or
// sqlite:// URL.
func NewDatabaseKVStore(ctx context.Context, databaseURL string) (*DatabaseKVStore, error) {
	gormDB, driverLabel, openErr := OpenDatabase(databaseURL)
	if openErr != nil {
		return nil, openErr
	}
	return NewDatabaseKVStoreFromDB(ctx, gormDB, driverLabel)
}

// NewDatabaseKVStoreFromDB constructs the store over an existing handle.
func NewDatabaseKVStoreFromDB(ctx context.Context, gormDB *gorm.DB, driverLabel string) (*DatabaseKVStore, error) {
	if migrateErr := gormDB.WithContext(ctx).AutoMigrate(&registryEntryRecord{}); migrateErr != nil {
		return nil, fmt.Errorf("linkstore.migrate.%s: %w", driverLabel, migrateErr)
	}
	return &DatabaseKVStore{
		db:          gormDB,
		driverLabel: driverLabel,
	}, nil
}

// Get returns the stored value for key or ErrKeyNotFound.
func (store *DatabaseKVStore) Get(ctx context.Context, key string) ([]byte, error) {
	var record registryEntryRecord
	err := store.db.WithContext(ctx).Where("entry_key = ?", key).Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("linkstore.get.%s: %w", store.driverLabel, ErrKeyNotFound)
		}
		return nil, fmt.Errorf("linkstore.get.%s: %w", store.driverLabel, err)
	}
	return record.EntryValue, nil
}

// Set upserts the value for key.
func (store *DatabaseKVStore) Set(ctx context.Context, key string, value []byte) error {
	record := registryEntryRecord{
		EntryKey:      key,
		EntryValue:    value,
		UpdatedAtUnix: time.Now().UTC().Unix(),
	}
	err := store.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entry_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"entry_value", "updated_at_unix"}),
	}).Create(&record).Error
	if err != nil {
		return fmt.Errorf("linkstore.set.%s: %w", store.driverLabel, err)
	}
	return nil
}

// Delete removes the entry for key. Absent keys are not an error.
func (store *DatabaseKVStore) Delete(ctx context.Context, key string) error {
	err := store.db.WithContext(ctx).Where("entry_key = ?", key).Delete(&registryEntryRecord{}).Error
	if err != nil {
		return fmt.Errorf("linkstore.delete.%s: %w", store.driverLabel, err)
	}
	return nil
}

func resolveDialector(databaseURL string) (gorm.Dialector, string, error) {
	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("linkstore.parse_url: %w", err)
	}
	if parsed.Scheme == "" {
		return nil, "", fmt.Errorf("linkstore.dialect: %w", errUnsupportedNoScheme)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "postgres", "postgresql":
		return postgres.Open(databaseURL), "postgres", nil
	case "sqlite", "sqlite3":
		dsn, dsnErr := buildSQLiteDSN(parsed)
		if dsnErr != nil {
			return nil, "", fmt.Errorf("linkstore.sqlite: %w", dsnErr)
		}
		return sqliteDialector.Open(dsn), "sqlite", nil
	default:
		return nil, "", fmt.Errorf("linkstore.dialect.%s: %w", strings.ToLower(parsed.Scheme), ErrUnsupportedDialect)
	}
}

func buildSQLiteDSN(parsed *url.URL) (string, error) {
	if parsed == nil {
		return "", errSQLiteInvalidURL
	}
	var builder strings.Builder
	switch {
	case parsed.Opaque != "":
		builder.WriteString(parsed.Opaque)
	case parsed.Host != "":
		builder.WriteString(parsed.Host)
		if parsed.Path != "" {
			if !strings.HasPrefix(parsed.Path, "/") {
				builder.WriteString("/")
			}
			builder.WriteString(parsed.Path)
		}
	default:
		builder.WriteString(parsed.Path)
	}
	if builder.Len() == 0 {
		return "", errSQLiteEmptyPath
	}
	if parsed.RawQuery != "" {
		builder.WriteString("?")
		builder.WriteString(parsed.RawQuery)
	}
	return builder.String(), nil
}
