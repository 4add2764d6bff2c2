package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UserRecord is one registered identity. OAuth-only users carry an empty
// password hash.
type UserRecord struct {
	ID           string
	Email        string
	PasswordHash string
	FullName     string
	AvatarURL    string
	OAuthSubject string
}

var (
	// ErrUserNotFound indicates no user matched the email or id.
	ErrUserNotFound = errors.New("credentials.not_found")
	// ErrEmailTaken indicates a registration attempt for an existing email.
	ErrEmailTaken = errors.New("credentials.email_taken")
)

// CredentialStore persists registered identities.
type CredentialStore interface {
	Create(ctx context.Context, record UserRecord) error
	FindByEmail(ctx context.Context, email string) (UserRecord, error)
	FindByID(ctx context.Context, userID string) (UserRecord, error)
	// UpsertOAuthUser creates or refreshes the identity bound to an OAuth
	// subject, keyed by provider-qualified subject.
	UpsertOAuthUser(ctx context.Context, subject string, email string, fullName string, avatarURL string) (UserRecord, error)
}

// NewUserID mints an identity id for password registrations.
func NewUserID() string {
	return uuid.NewString()
}

// MemoryCredentialStore is an in-memory store intended for tests and dev.
type MemoryCredentialStore struct {
	mutex   sync.Mutex
	byID    map[string]UserRecord
	byEmail map[string]string
}

// NewMemoryCredentialStore creates an empty in-memory credential store.
func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{
		byID:    make(map[string]UserRecord),
		byEmail: make(map[string]string),
	}
}

// Create inserts a new user record.
func (store *MemoryCredentialStore) Create(ctx context.Context, record UserRecord) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	normalized := strings.ToLower(record.Email)
	if _, exists := store.byEmail[normalized]; exists {
		return fmt.Errorf("credentials.create: %w", ErrEmailTaken)
	}
	store.byID[record.ID] = record
	store.byEmail[normalized] = record.ID
	return nil
}

// FindByEmail returns the user registered under email.
func (store *MemoryCredentialStore) FindByEmail(ctx context.Context, email string) (UserRecord, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	userID, ok := store.byEmail[strings.ToLower(email)]
	if !ok {
		return UserRecord{}, fmt.Errorf("credentials.find_email: %w", ErrUserNotFound)
	}
	return store.byID[userID], nil
}

// FindByID returns the user with the given id.
func (store *MemoryCredentialStore) FindByID(ctx context.Context, userID string) (UserRecord, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	record, ok := store.byID[userID]
	if !ok {
		return UserRecord{}, fmt.Errorf("credentials.find_id: %w", ErrUserNotFound)
	}
	return record, nil
}

// UpsertOAuthUser creates or updates the identity for an OAuth subject.
func (store *MemoryCredentialStore) UpsertOAuthUser(ctx context.Context, subject string, email string, fullName string, avatarURL string) (UserRecord, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	for _, record := range store.byID {
		if record.OAuthSubject == subject {
			record.Email = email
			record.FullName = fullName
			record.AvatarURL = avatarURL
			store.byID[record.ID] = record
			store.byEmail[strings.ToLower(email)] = record.ID
			return record, nil
		}
	}
	record := UserRecord{
		ID:           uuid.NewString(),
		Email:        email,
		FullName:     fullName,
		AvatarURL:    avatarURL,
		OAuthSubject: subject,
	}
	store.byID[record.ID] = record
	store.byEmail[strings.ToLower(email)] = record.ID
	return record, nil
}

type userCredentialRecord struct {
	UserID        string `gorm:"column:user_id;primaryKey"`
	Email         string `gorm:"column:email;uniqueIndex;not null"`
	PasswordHash  string `gorm:"column:password_hash;not null;default:''"`
	FullName      string `gorm:"column:full_name;not null;default:''"`
	AvatarURL     string `gorm:"column:avatar_url;not null;default:''"`
	OAuthSubject  string `gorm:"column:oauth_subject;index;not null;default:''"`
	CreatedAtUnix int64  `gorm:"column:created_at_unix;not null"`
}

func (userCredentialRecord) TableName() string {
	return "user_credentials"
}

// DatabaseCredentialStore persists identities using GORM.
type DatabaseCredentialStore struct {
	db *gorm.DB
}

// NewDatabaseCredentialStore migrates the credentials table and returns the store.
func NewDatabaseCredentialStore(ctx context.Context, db *gorm.DB) (*DatabaseCredentialStore, error) {
	if db == nil {
		return nil, errors.New("credentials.open: nil database handle")
	}
	if migrateErr := db.WithContext(ctx).AutoMigrate(&userCredentialRecord{}); migrateErr != nil {
		return nil, fmt.Errorf("credentials.migrate: %w", migrateErr)
	}
	return &DatabaseCredentialStore{db: db}, nil
}

// Create inserts a new user record.
func (store *DatabaseCredentialStore) Create(ctx context.Context, record UserRecord) error {
	var existing userCredentialRecord
	findErr := store.db.WithContext(ctx).Where("email = ?", strings.ToLower(record.Email)).Take(&existing).Error
	if findErr == nil {
		return fmt.Errorf("credentials.create: %w", ErrEmailTaken)
	}
	if !errors.Is(findErr, gorm.ErrRecordNotFound) {
		return fmt.Errorf("credentials.create: %w", findErr)
	}
	row := userCredentialRecord{
		UserID:        record.ID,
		Email:         strings.ToLower(record.Email),
		PasswordHash:  record.PasswordHash,
		FullName:      record.FullName,
		AvatarURL:     record.AvatarURL,
		OAuthSubject:  record.OAuthSubject,
		CreatedAtUnix: time.Now().UTC().Unix(),
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("credentials.create: %w", err)
	}
	return nil
}

// FindByEmail returns the user registered under email.
func (store *DatabaseCredentialStore) FindByEmail(ctx context.Context, email string) (UserRecord, error) {
	var row userCredentialRecord
	err := store.db.WithContext(ctx).Where("email = ?", strings.ToLower(email)).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return UserRecord{}, fmt.Errorf("credentials.find_email: %w", ErrUserNotFound)
		}
		return UserRecord{}, fmt.Errorf("credentials.find_email: %w", err)
	}
	return rowToUserRecord(row), nil
}

// FindByID returns the user with the given id.
func (store *DatabaseCredentialStore) FindByID(ctx context.Context, userID string) (UserRecord, error) {
	var row userCredentialRecord
	err := store.db.WithContext(ctx).Where("user_id = ?", userID).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return UserRecord{}, fmt.Errorf("credentials.find_id: %w", ErrUserNotFound)
		}
		return UserRecord{}, fmt.Errorf("credentials.find_id: %w", err)
	}
	return rowToUserRecord(row), nil
}

// UpsertOAuthUser creates or updates the identity for an OAuth subject.
func (store *DatabaseCredentialStore) UpsertOAuthUser(ctx context.Context, subject string, email string, fullName string, avatarURL string) (UserRecord, error) {
	var row userCredentialRecord
	err := store.db.WithContext(ctx).Where("oauth_subject = ?", subject).Take(&row).Error
	if err == nil {
		row.Email = strings.ToLower(email)
		row.FullName = fullName
		row.AvatarURL = avatarURL
		if saveErr := store.db.WithContext(ctx).Save(&row).Error; saveErr != nil {
			return UserRecord{}, fmt.Errorf("credentials.upsert_oauth: %w", saveErr)
		}
		return rowToUserRecord(row), nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return UserRecord{}, fmt.Errorf("credentials.upsert_oauth: %w", err)
	}
	row = userCredentialRecord{
		UserID:        uuid.NewString(),
		Email:         strings.ToLower(email),
		FullName:      fullName,
		AvatarURL:     avatarURL,
		OAuthSubject:  subject,
		CreatedAtUnix: time.Now().UTC().Unix(),
	}
	if createErr := store.db.WithContext(ctx).Create(&row).Error; createErr != nil {
		return UserRecord{}, fmt.Errorf("credentials.upsert_oauth: %w", createErr)
	}
	return rowToUserRecord(row), nil
}

func rowToUserRecord(row userCredentialRecord) UserRecord {
	return UserRecord{
		ID:           row.UserID,
		Email:        row.Email,
		PasswordHash: row.PasswordHash,
		FullName:     row.FullName,
		AvatarURL:    row.AvatarURL,
		OAuthSubject: row.OAuthSubject,
	}
}
