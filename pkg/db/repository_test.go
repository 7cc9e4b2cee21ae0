package db

import (
	"path/filepath"
	"testing"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewRepository(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestRepository_RecordAndGet(t *testing.T) {
	repo := newTestRepo(t)

	a := &Artifact{
		Path:   "/out/efuse_cfg.bin",
		Kind:   KindEfuse,
		SHA256: "abc123",
		Size:   96,
		Status: StatusBuilt,
	}
	if err := repo.Record(a); err != nil {
		t.Fatalf("failed to record artifact: %v", err)
	}
	if a.ID == 0 {
		t.Fatal("Record did not set ID")
	}

	got, err := repo.GetByPath("/out/efuse_cfg.bin")
	if err != nil {
		t.Fatalf("failed to get artifact: %v", err)
	}
	if got.SHA256 != a.SHA256 || got.Size != 96 || got.Kind != KindEfuse {
		t.Errorf("retrieved artifact mismatch: got %+v, want %+v", got, a)
	}

	missing, err := repo.GetByPath("/out/absent.bin")
	if err != nil || missing != nil {
		t.Errorf("GetByPath(absent) = %v, %v; want nil, nil", missing, err)
	}
}

func TestRepository_RecordRefreshesExisting(t *testing.T) {
	repo := newTestRepo(t)

	first := &Artifact{Path: "/out/app_all.fwpkg", Kind: KindPackage, SHA256: "old", Status: StatusBuilt}
	if err := repo.Record(first); err != nil {
		t.Fatal(err)
	}
	if err := repo.MarkPublished(first.ID, "fw/app_all.fwpkg"); err != nil {
		t.Fatal(err)
	}

	second := &Artifact{Path: "/out/app_all.fwpkg", Kind: KindPackage, SHA256: "new", Status: StatusBuilt}
	if err := repo.Record(second); err != nil {
		t.Fatal(err)
	}
	if second.ID != first.ID {
		t.Errorf("rebuilt artifact got id %d, want %d", second.ID, first.ID)
	}

	got, _ := repo.GetByPath("/out/app_all.fwpkg")
	if got.SHA256 != "new" || got.Status != StatusBuilt || got.RemoteKey != "" {
		t.Errorf("artifact after rebuild = %+v", got)
	}
}

func TestRepository_UpdateStatus(t *testing.T) {
	repo := newTestRepo(t)

	a := &Artifact{Path: "/out/ota", Kind: KindOTA, Status: StatusPending}
	repo.Record(a)

	if err := repo.UpdateStatus(a.ID, StatusFailed, "generator exited 1"); err != nil {
		t.Fatalf("failed to update status: %v", err)
	}

	updated, _ := repo.GetByPath("/out/ota")
	if updated.Status != StatusFailed || updated.ErrorMessage != "generator exited 1" {
		t.Errorf("status not updated: got %+v", updated)
	}
}

func TestRepository_UpdateMissing(t *testing.T) {
	repo := newTestRepo(t)

	err := repo.Update(&Artifact{ID: 42, Kind: KindEfuse, Status: StatusBuilt})
	if err == nil {
		t.Error("expected error updating a missing artifact")
	}
}

func TestRepository_ListAndDelete(t *testing.T) {
	repo := newTestRepo(t)

	repo.Record(&Artifact{Path: "/out/a_all.fwpkg", Kind: KindPackage, Status: StatusBuilt})
	repo.Record(&Artifact{Path: "/out/a_only.fwpkg", Kind: KindPackage, Status: StatusFailed})
	repo.Record(&Artifact{Path: "/out/efuse_cfg.bin", Kind: KindEfuse, Status: StatusBuilt})

	all, err := repo.List()
	if err != nil {
		t.Fatalf("failed to list artifacts: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 artifacts, got %d", len(all))
	}

	built, err := repo.ListByStatus(StatusBuilt)
	if err != nil {
		t.Fatal(err)
	}
	if len(built) != 2 || built[0].Path != "/out/a_all.fwpkg" {
		t.Errorf("built artifacts = %+v", built)
	}

	if err := repo.Delete(built[0].ID); err != nil {
		t.Fatalf("failed to delete: %v", err)
	}
	all, _ = repo.List()
	if len(all) != 2 {
		t.Errorf("expected 2 artifacts after delete, got %d", len(all))
	}
}
