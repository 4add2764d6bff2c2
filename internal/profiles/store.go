// Package profiles holds the portal profile records this service reads roles
// from. Role assignment itself belongs to the portal backend; the linking
// manager only ever looks roles up.
package profiles

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/talentexcel/accountd/internal/linkkit"
)

// Profile is one portal profile row.
type Profile struct {
	IdentityID       string
	Email            string
	FullName         string
	Role             linkkit.Role
	ProfileCompleted bool
}

// Store persists profiles and serves role lookups for the linking manager.
type Store interface {
	linkkit.ProfileStore
	Create(ctx context.Context, profile Profile) error
}

// MemoryStore is an in-memory profile store for tests and dev.
type MemoryStore struct {
	mutex    sync.Mutex
	profiles map[string]Profile
}

// NewMemoryStore creates an empty in-memory profile store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: make(map[string]Profile)}
}

// Create inserts a profile row.
func (store *MemoryStore) Create(ctx context.Context, profile Profile) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.profiles[profile.IdentityID] = profile
	return nil
}

// Delete removes a profile row, for tests exercising vanished accounts.
func (store *MemoryStore) Delete(identityID string) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	delete(store.profiles, identityID)
}

// GetRole returns the role recorded for the identity.
func (store *MemoryStore) GetRole(ctx context.Context, identityID string) (linkkit.Role, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	profile, ok := store.profiles[identityID]
	if !ok {
		return linkkit.RoleNone, fmt.Errorf("profiles.get_role: %w", linkkit.ErrProfileNotFound)
	}
	return profile.Role, nil
}

type profileRecord struct {
	IdentityID       string `gorm:"column:identity_id;primaryKey"`
	Email            string `gorm:"column:email;index;not null"`
	FullName         string `gorm:"column:full_name;not null;default:''"`
	Role             string `gorm:"column:role;not null"`
	ProfileCompleted bool   `gorm:"column:profile_completed;not null;default:false"`
	CreatedAtUnix    int64  `gorm:"column:created_at_unix;not null"`
}

func (profileRecord) TableName() string {
	return "profiles"
}

// DatabaseStore persists profiles using GORM.
type DatabaseStore struct {
	db *gorm.DB
}

// NewDatabaseStore migrates the profiles table and returns the store.
func NewDatabaseStore(ctx context.Context, db *gorm.DB) (*DatabaseStore, error) {
	if db == nil {
		return nil, errors.New("profiles.open: nil database handle")
	}
	if migrateErr := db.WithContext(ctx).AutoMigrate(&profileRecord{}); migrateErr != nil {
		return nil, fmt.Errorf("profiles.migrate: %w", migrateErr)
	}
	return &DatabaseStore{db: db}, nil
}

// Create inserts a profile row.
func (store *DatabaseStore) Create(ctx context.Context, profile Profile) error {
	record := profileRecord{
		IdentityID:       profile.IdentityID,
		Email:            profile.Email,
		FullName:         profile.FullName,
		Role:             string(profile.Role),
		ProfileCompleted: profile.ProfileCompleted,
		CreatedAtUnix:    time.Now().UTC().Unix(),
	}
	if err := store.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("profiles.create: %w", err)
	}
	return nil
}

// GetRole returns the role recorded for the identity.
func (store *DatabaseStore) GetRole(ctx context.Context, identityID string) (linkkit.Role, error) {
	var record profileRecord
	err := store.db.WithContext(ctx).Where("identity_id = ?", identityID).Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return linkkit.RoleNone, fmt.Errorf("profiles.get_role: %w", linkkit.ErrProfileNotFound)
		}
		return linkkit.RoleNone, fmt.Errorf("profiles.get_role: %w", err)
	}
	return linkkit.Role(record.Role), nil
}
