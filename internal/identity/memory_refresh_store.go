package identity

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"
)

// MemoryRefreshTokenStore is an in-memory store intended for tests and dev.
type MemoryRefreshTokenStore struct {
	mutex      sync.Mutex
	byID       map[string]*memoryRefreshRecord
	byHash     map[string]string
	sequenceID uint64
}

type memoryRefreshRecord struct {
	TokenID         string
	UserID          string
	Hash            string
	ExpiresUnix     int64
	RevokedAtUnix   int64
	PreviousTokenID string
	IssuedAtUnix    int64
}

// NewMemoryRefreshTokenStore creates a new in-memory token store.
func NewMemoryRefreshTokenStore() *MemoryRefreshTokenStore {
	return &MemoryRefreshTokenStore{
		byID:   make(map[string]*memoryRefreshRecord),
		byHash: make(map[string]string),
	}
}

// Issue creates a new token, optionally linked to a previous token.
func (store *MemoryRefreshTokenStore) Issue(ctx context.Context, userID string, expiresUnix int64, previousTokenID string) (string, string, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	tokenID := store.nextID()
	opaque, hashValue, err := generateRefreshOpaque()
	if err != nil {
		return "", "", err
	}
	nowUnix := time.Now().UTC().Unix()

	record := &memoryRefreshRecord{
		TokenID:         tokenID,
		UserID:          userID,
		Hash:            hashValue,
		ExpiresUnix:     expiresUnix,
		RevokedAtUnix:   0,
		PreviousTokenID: previousTokenID,
		IssuedAtUnix:    nowUnix,
	}
	store.byID[tokenID] = record
	store.byHash[hashValue] = tokenID
	return tokenID, opaque, nil
}

// Validate checks the opaque token and returns user, token id, and expiry.
func (store *MemoryRefreshTokenStore) Validate(ctx context.Context, tokenOpaque string) (string, string, int64, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	if tokenOpaque == "" {
		return "", "", 0, fmt.Errorf("refresh_store.validate.memory: %w", ErrRefreshTokenEmptyOpaque)
	}
	hashValue := hashOpaque(tokenOpaque)
	tokenID, ok := store.byHash[hashValue]
	if !ok {
		return "", "", 0, fmt.Errorf("refresh_store.validate.memory: %w", ErrRefreshTokenNotFound)
	}
	record := store.byID[tokenID]
	if record == nil {
		return "", "", 0, fmt.Errorf("refresh_store.validate.memory: %w", ErrRefreshTokenNotFound)
	}
	if record.RevokedAtUnix != 0 {
		return "", "", 0, fmt.Errorf("refresh_store.validate.memory: %w", ErrRefreshTokenRevoked)
	}
	if time.Unix(record.ExpiresUnix, 0).Before(time.Now().UTC()) {
		return "", "", 0, fmt.Errorf("refresh_store.validate.memory: %w", ErrRefreshTokenExpired)
	}
	return record.UserID, record.TokenID, record.ExpiresUnix, nil
}

// Revoke marks a token as revoked.
func (store *MemoryRefreshTokenStore) Revoke(ctx context.Context, tokenID string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	record := store.byID[tokenID]
	if record == nil {
		return fmt.Errorf("refresh_store.revoke.memory: %w", ErrRefreshTokenNotFound)
	}
	if record.RevokedAtUnix != 0 {
		return nil
	}
	record.RevokedAtUnix = time.Now().UTC().Unix()
	return nil
}

func (store *MemoryRefreshTokenStore) nextID() string {
	store.sequenceID++
	timestampID := newRefreshTokenID(time.Now().UTC())
	sequenceFragment := base64.RawURLEncoding.EncodeToString([]byte{byte(store.sequenceID % 255)})
	return timestampID + "-" + sequenceFragment
}
