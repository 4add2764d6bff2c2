package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// DatabaseRefreshTokenStore persists rotating refresh tokens using GORM. It
// shares the gorm.DB handle opened for the credential store.
type DatabaseRefreshTokenStore struct {
	db *gorm.DB
}

type refreshTokenRecord struct {
	TokenID         string `gorm:"column:token_id;primaryKey"`
	UserID          string `gorm:"column:user_id;index;not null"`
	TokenHash       string `gorm:"column:token_hash;uniqueIndex;not null"`
	ExpiresUnix     int64  `gorm:"column:expires_unix;not null"`
	RevokedAtUnix   int64  `gorm:"column:revoked_at_unix;not null;default:0"`
	PreviousTokenID string `gorm:"column:previous_token_id;not null;default:''"`
	IssuedAtUnix    int64  `gorm:"column:issued_at_unix;not null"`
}

func (refreshTokenRecord) TableName() string {
	return "refresh_tokens"
}

// NewDatabaseRefreshTokenStore migrates the refresh token table on the given
// database handle and returns the store.
func NewDatabaseRefreshTokenStore(ctx context.Context, db *gorm.DB) (*DatabaseRefreshTokenStore, error) {
	if db == nil {
		return nil, errors.New("refresh_store.open: nil database handle")
	}
	if migrateErr := db.WithContext(ctx).AutoMigrate(&refreshTokenRecord{}); migrateErr != nil {
		return nil, fmt.Errorf("refresh_store.migrate: %w", migrateErr)
	}
	return &DatabaseRefreshTokenStore{db: db}, nil
}

// Issue inserts a new refresh token record and returns its identifiers.
func (store *DatabaseRefreshTokenStore) Issue(ctx context.Context, userID string, expiresUnix int64, previousTokenID string) (string, string, error) {
	now := time.Now().UTC()
	tokenID := newRefreshTokenID(now)
	opaqueToken, hashValue, randomErr := generateRefreshOpaque()
	if randomErr != nil {
		return "", "", fmt.Errorf("refresh_store.issue: %w", randomErr)
	}
	record := refreshTokenRecord{
		TokenID:         tokenID,
		UserID:          userID,
		TokenHash:       hashValue,
		ExpiresUnix:     expiresUnix,
		RevokedAtUnix:   0,
		PreviousTokenID: previousTokenID,
		IssuedAtUnix:    now.Unix(),
	}
	if err := store.db.WithContext(ctx).Create(&record).Error; err != nil {
		return "", "", fmt.Errorf("refresh_store.issue: %w", err)
	}
	return tokenID, opaqueToken, nil
}

// Validate locates a refresh token by its opaque value.
func (store *DatabaseRefreshTokenStore) Validate(ctx context.Context, tokenOpaque string) (string, string, int64, error) {
	if strings.TrimSpace(tokenOpaque) == "" {
		return "", "", 0, fmt.Errorf("refresh_store.validate: %w", ErrRefreshTokenEmptyOpaque)
	}
	hashValue := hashOpaque(tokenOpaque)
	var record refreshTokenRecord
	err := store.db.WithContext(ctx).Where("token_hash = ?", hashValue).Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", "", 0, fmt.Errorf("refresh_store.validate: %w", ErrRefreshTokenNotFound)
		}
		return "", "", 0, fmt.Errorf("refresh_store.validate: %w", err)
	}
	if record.RevokedAtUnix != 0 {
		return "", "", 0, fmt.Errorf("refresh_store.validate: %w", ErrRefreshTokenRevoked)
	}
	if time.Unix(record.ExpiresUnix, 0).Before(time.Now().UTC()) {
		return "", "", 0, fmt.Errorf("refresh_store.validate: %w", ErrRefreshTokenExpired)
	}
	return record.UserID, record.TokenID, record.ExpiresUnix, nil
}

// Revoke marks a refresh token as revoked.
func (store *DatabaseRefreshTokenStore) Revoke(ctx context.Context, tokenID string) error {
	now := time.Now().UTC()
	result := store.db.WithContext(ctx).Model(&refreshTokenRecord{}).
		Where("token_id = ? AND revoked_at_unix = 0", tokenID).
		Update("revoked_at_unix", now.Unix())
	if result.Error != nil {
		return fmt.Errorf("refresh_store.revoke: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		var record refreshTokenRecord
		findErr := store.db.WithContext(ctx).Where("token_id = ?", tokenID).Take(&record).Error
		if errors.Is(findErr, gorm.ErrRecordNotFound) {
			return fmt.Errorf("refresh_store.revoke: %w", ErrRefreshTokenNotFound)
		}
		if findErr != nil {
			return fmt.Errorf("refresh_store.revoke: %w", findErr)
		}
		if record.RevokedAtUnix != 0 {
			return fmt.Errorf("refresh_store.revoke: %w", ErrRefreshTokenAlreadyRevoked)
		}
		return nil
	}
	return nil
}
