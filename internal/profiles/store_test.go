package profiles

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/talentexcel/accountd/internal/linkkit"
)

func TestMemoryStoreRoles(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Create(ctx, Profile{IdentityID: "user-1", Email: "a@portal.test", Role: linkkit.RoleStudent}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	role, err := store.GetRole(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetRole: %v", err)
	}
	if role != linkkit.RoleStudent {
		t.Fatalf("role = %q, expected student", role)
	}
	if _, err := store.GetRole(ctx, "user-2"); !errors.Is(err, linkkit.ErrProfileNotFound) {
		t.Fatalf("GetRole(missing) error = %v, expected ErrProfileNotFound", err)
	}

	store.Delete("user-1")
	if _, err := store.GetRole(ctx, "user-1"); !errors.Is(err, linkkit.ErrProfileNotFound) {
		t.Fatalf("GetRole after delete error = %v, expected ErrProfileNotFound", err)
	}
}

func TestDatabaseStoreRoles(t *testing.T) {
	databaseURL := "sqlite://" + filepath.Join(t.TempDir(), "profiles.db")
	gormDB, _, openErr := linkkit.OpenDatabase(databaseURL)
	if openErr != nil {
		t.Fatalf("OpenDatabase: %v", openErr)
	}
	ctx := context.Background()
	store, storeErr := NewDatabaseStore(ctx, gormDB)
	if storeErr != nil {
		t.Fatalf("NewDatabaseStore: %v", storeErr)
	}

	if err := store.Create(ctx, Profile{
		IdentityID:       "user-1",
		Email:            "tpo@portal.test",
		FullName:         "Placement Officer",
		Role:             linkkit.RoleTPO,
		ProfileCompleted: true,
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	role, err := store.GetRole(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetRole: %v", err)
	}
	if role != linkkit.RoleTPO {
		t.Fatalf("role = %q, expected tpo", role)
	}
	if _, err := store.GetRole(ctx, "user-absent"); !errors.Is(err, linkkit.ErrProfileNotFound) {
		t.Fatalf("GetRole(missing) error = %v, expected ErrProfileNotFound", err)
	}
}
