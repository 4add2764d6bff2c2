package linkkit

import (
	"encoding/json"
	"fmt"
)

// Role classifies a portal identity. An empty Role means no role is known.
type Role string

const (
	RoleStudent    Role = "student"
	RoleEmployer   Role = "employer"
	RoleTPO        Role = "tpo"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
	RoleNone       Role = ""
)

// LinkedAccount is one authenticated identity cached on the device, together
// with the token pair needed to reactivate it.
type LinkedAccount struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	FullName     string `json:"full_name,omitempty"`
	AvatarURL    string `json:"avatar_url,omitempty"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// RegistryKey returns the storage key holding the ordered linked-account list
// owned by the given identity. The key shape is kept compatible with existing
// client storage.
func RegistryKey(ownerID string) string {
	return "linkedAccounts_" + ownerID
}

// DecodeRegistry parses a persisted registry value. Callers decide the policy
// for decode failures; the manager treats them as an empty registry.
func DecodeRegistry(raw []byte) ([]LinkedAccount, error) {
	var accounts []LinkedAccount
	if err := json.Unmarshal(raw, &accounts); err != nil {
		return nil, fmt.Errorf("linkkit.registry.decode: %w", err)
	}
	return accounts, nil
}

// EncodeRegistry serializes a registry list for storage.
func EncodeRegistry(accounts []LinkedAccount) ([]byte, error) {
	encoded, err := json.Marshal(accounts)
	if err != nil {
		return nil, fmt.Errorf("linkkit.registry.encode: %w", err)
	}
	return encoded, nil
}

func registryContainsID(accounts []LinkedAccount, accountID string) bool {
	for _, account := range accounts {
		if account.ID == accountID {
			return true
		}
	}
	return false
}

// registryUpsert replaces the entry with a matching id, or appends when the
// id is absent. Membership order for existing entries is preserved.
func registryUpsert(accounts []LinkedAccount, account LinkedAccount) []LinkedAccount {
	replaced := false
	updated := make([]LinkedAccount, 0, len(accounts)+1)
	for _, existing := range accounts {
		if existing.ID == account.ID {
			updated = append(updated, account)
			replaced = true
			continue
		}
		updated = append(updated, existing)
	}
	if !replaced {
		updated = append(updated, account)
	}
	return updated
}

func registryWithoutID(accounts []LinkedAccount, accountID string) []LinkedAccount {
	remaining := make([]LinkedAccount, 0, len(accounts))
	for _, account := range accounts {
		if account.ID != accountID {
			remaining = append(remaining, account)
		}
	}
	return remaining
}

func registryWithoutEmail(accounts []LinkedAccount, email string) []LinkedAccount {
	remaining := make([]LinkedAccount, 0, len(accounts))
	for _, account := range accounts {
		if account.Email != email {
			remaining = append(remaining, account)
		}
	}
	return remaining
}

func registryFindByEmail(accounts []LinkedAccount, email string) (LinkedAccount, bool) {
	for _, account := range accounts {
		if account.Email == email {
			return account, true
		}
	}
	return LinkedAccount{}, false
}
