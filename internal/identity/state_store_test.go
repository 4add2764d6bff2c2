package identity

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestStateStoreIssueAndConsume(t *testing.T) {
	store := NewMemoryStateStore(time.Minute)
	ctx := context.Background()

	token, err := store.Issue(ctx)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if token == "" {
		t.Fatal("expected a non-empty state token")
	}
	if consumeErr := store.Consume(ctx, token); consumeErr != nil {
		t.Fatalf("Consume: %v", consumeErr)
	}
	if consumeErr := store.Consume(ctx, token); !errors.Is(consumeErr, ErrStateNotFound) {
		t.Fatalf("second Consume error = %v, expected ErrStateNotFound", consumeErr)
	}
}

func TestStateStoreRejectsUnknownToken(t *testing.T) {
	store := NewMemoryStateStore(time.Minute)

	if err := store.Consume(context.Background(), "never-issued"); !errors.Is(err, ErrStateNotFound) {
		t.Fatalf("error = %v, expected ErrStateNotFound", err)
	}
}

func TestStateStoreExpiry(t *testing.T) {
	store := NewMemoryStateStore(time.Minute).(*memoryStateStore)
	ctx := context.Background()

	token, err := store.Issue(ctx)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	store.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	if consumeErr := store.Consume(ctx, token); !errors.Is(consumeErr, ErrStateExpired) {
		t.Fatalf("error = %v, expected ErrStateExpired", consumeErr)
	}
	// The expired entry is purged, so a retry reports not-found.
	if consumeErr := store.Consume(ctx, token); !errors.Is(consumeErr, ErrStateNotFound) {
		t.Fatalf("retry error = %v, expected ErrStateNotFound", consumeErr)
	}
}
