package linkkit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Storage keys for the ephemeral pending link request. Names are kept
// compatible with existing client storage.
const (
	keyIsLinkingAccount       = "isLinkingAccount"
	keyPreviousAccountData    = "previousAccountData"
	keyPreviousLinkedAccounts = "previousLinkedAccounts"
)

// PendingLinkRequest captures the account that initiated "add account" and
// its registry at request time. At most one exists per device at a time.
type PendingLinkRequest struct {
	Previous         LinkedAccount
	PreviousRegistry []LinkedAccount
}

func (manager *Manager) savePendingLink(ctx context.Context, pending PendingLinkRequest) error {
	previousEncoded, encodeErr := json.Marshal(pending.Previous)
	if encodeErr != nil {
		return fmt.Errorf("link.pending.encode_account: %w", encodeErr)
	}
	registryEncoded, registryErr := EncodeRegistry(pending.PreviousRegistry)
	if registryErr != nil {
		return fmt.Errorf("link.pending.encode_registry: %w", registryErr)
	}
	if err := manager.store.Set(ctx, keyIsLinkingAccount, []byte("true")); err != nil {
		return fmt.Errorf("link.pending.save_flag: %w", err)
	}
	if err := manager.store.Set(ctx, keyPreviousAccountData, previousEncoded); err != nil {
		return fmt.Errorf("link.pending.save_account: %w", err)
	}
	if err := manager.store.Set(ctx, keyPreviousLinkedAccounts, registryEncoded); err != nil {
		return fmt.Errorf("link.pending.save_registry: %w", err)
	}
	return nil
}

// loadPendingLink returns the in-flight link request, or nil when none is
// stored. Undecodable snapshots are treated as absent and cleared so a bad
// blob cannot wedge every future sign-in.
func (manager *Manager) loadPendingLink(ctx context.Context) (*PendingLinkRequest, error) {
	flag, flagErr := manager.store.Get(ctx, keyIsLinkingAccount)
	if flagErr != nil {
		if errors.Is(flagErr, ErrKeyNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("link.pending.load_flag: %w", flagErr)
	}
	if string(flag) != "true" {
		return nil, nil
	}

	previousRaw, previousErr := manager.store.Get(ctx, keyPreviousAccountData)
	if previousErr != nil && !errors.Is(previousErr, ErrKeyNotFound) {
		return nil, fmt.Errorf("link.pending.load_account: %w", previousErr)
	}
	registryRaw, registryErr := manager.store.Get(ctx, keyPreviousLinkedAccounts)
	if registryErr != nil && !errors.Is(registryErr, ErrKeyNotFound) {
		return nil, fmt.Errorf("link.pending.load_registry: %w", registryErr)
	}

	var pending PendingLinkRequest
	if len(previousRaw) > 0 {
		if decodeErr := json.Unmarshal(previousRaw, &pending.Previous); decodeErr != nil {
			manager.logger.Warn("discarding undecodable pending link snapshot",
				zap.String("code", "link.pending.decode_account"),
				zap.Error(decodeErr))
			manager.clearPendingLink(ctx)
			return nil, nil
		}
	}
	if len(registryRaw) > 0 {
		registry, decodeErr := DecodeRegistry(registryRaw)
		if decodeErr != nil {
			manager.logger.Warn("discarding undecodable pending link registry",
				zap.String("code", "link.pending.decode_registry"),
				zap.Error(decodeErr))
			manager.clearPendingLink(ctx)
			return nil, nil
		}
		pending.PreviousRegistry = registry
	}
	return &pending, nil
}

// clearPendingLink removes all pending-link keys. Best effort: deletion
// failures are logged, not propagated, so terminal paths always complete.
func (manager *Manager) clearPendingLink(ctx context.Context) {
	for _, key := range []string{keyIsLinkingAccount, keyPreviousAccountData, keyPreviousLinkedAccounts} {
		if err := manager.store.Delete(ctx, key); err != nil {
			manager.logger.Warn("failed to clear pending link key",
				zap.String("code", "link.pending.clear"),
				zap.String("key", key),
				zap.Error(err))
		}
	}
}
