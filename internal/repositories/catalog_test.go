package repositories

import (
	"context"
	"errors"
	"testing"

	"github.com/desertthunder/vidport/internal/models"
	"github.com/desertthunder/vidport/internal/shared"
)

func TestCatalogRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("Create and Exists", func(t *testing.T) {
		repo := NewCatalogRepository(setupTestDB(t))

		exists, err := repo.Exists(ctx, "remote", "42")
		if err != nil {
			t.Fatalf("failed to check catalog: %v", err)
		}
		if exists {
			t.Error("expected empty catalog")
		}

		rec := &models.CatalogRecord{Source: "remote", StableKey: "42", Title: "Launch"}
		if err := repo.Create(ctx, rec); err != nil {
			t.Fatalf("failed to create record: %v", err)
		}
		if rec.PublishedAt.IsZero() {
			t.Error("expected published time to be set")
		}

		exists, _ = repo.Exists(ctx, "remote", "42")
		if !exists {
			t.Error("expected record to exist")
		}

		exists, _ = repo.Exists(ctx, "archive", "42")
		if exists {
			t.Error("stable keys are scoped by source")
		}
	})

	t.Run("Create duplicate", func(t *testing.T) {
		repo := NewCatalogRepository(setupTestDB(t))
		rec := &models.CatalogRecord{Source: "remote", StableKey: "42"}
		if err := repo.Create(ctx, rec); err != nil {
			t.Fatalf("failed to create record: %v", err)
		}
		if err := repo.Create(ctx, rec); !errors.Is(err, shared.ErrDuplicateKey) {
			t.Errorf("expected ErrDuplicateKey, got %v", err)
		}
	})

	t.Run("Create invalid", func(t *testing.T) {
		repo := NewCatalogRepository(setupTestDB(t))
		if err := repo.Create(ctx, &models.CatalogRecord{Source: "remote"}); !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("List and Delete", func(t *testing.T) {
		repo := NewCatalogRepository(setupTestDB(t))
		for _, key := range []string{"1", "2"} {
			if err := repo.Create(ctx, &models.CatalogRecord{Source: "remote", StableKey: key}); err != nil {
				t.Fatalf("failed to create record: %v", err)
			}
		}
		if err := repo.Create(ctx, &models.CatalogRecord{Source: "archive", StableKey: "x", AssetPath: "/m/x"}); err != nil {
			t.Fatalf("failed to create record: %v", err)
		}

		remote, err := repo.List(ctx, "remote")
		if err != nil {
			t.Fatalf("failed to list: %v", err)
		}
		if len(remote) != 2 {
			t.Errorf("expected 2 remote records, got %d", len(remote))
		}

		all, _ := repo.List(ctx, "")
		if len(all) != 3 {
			t.Errorf("expected 3 records, got %d", len(all))
		}

		if err := repo.Delete(ctx, "remote", "1"); err != nil {
			t.Fatalf("failed to delete: %v", err)
		}
		if err := repo.Delete(ctx, "remote", "1"); !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}
