package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"
)

// These tests exercise the real versioning SQL against a live database. They
// skip unless TEST_DATABASE_URL points at a migrated Postgres instance.

func openTestStore(t *testing.T) *PostgresStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	databaseURL := os.Getenv("TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	db, err := Open(context.Background(), databaseURL)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := ApplyMigrations(context.Background(), db, "../../db/migrations"); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return NewPostgresStore(db)
}

func seedUserAndFile(t *testing.T, s *PostgresStore, suffix string) (User, File) {
	t.Helper()
	ctx := context.Background()

	user := User{
		ID:           "usr-it-" + suffix,
		DisplayName:  "Integration " + suffix,
		Email:        fmt.Sprintf("it-%s-%d@example.com", suffix, time.Now().UnixNano()),
		PasswordHash: "x",
	}
	if err := s.CreateUser(ctx, user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(context.Background(), `DELETE FROM users WHERE id=$1`, user.ID)
	})

	file := File{
		ID:          fmt.Sprintf("file-it-%s-%d", suffix, time.Now().UnixNano()),
		OwnerID:     user.ID,
		Name:        "Integration.xcstrings",
		Content:     `{"sourceLanguage":"en","strings":{}}`,
		ContentHash: "hash-a",
		SizeBytes:   36,
	}
	if err := s.CreateFile(ctx, file, "Initial version"); err != nil {
		t.Fatalf("create file: %v", err)
	}
	return user, file
}

func TestUpdateDedupsAgainstHeadOnly(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	user, file := seedUserAndFile(t, s, "dedup")

	// Same content as head: no new version
	number, created, err := s.UpdateFileContent(ctx, file.ID, file.Content, "hash-a", file.SizeBytes, user.ID, "noop")
	if err != nil {
		t.Fatalf("noop update: %v", err)
	}
	if created || number != 1 {
		t.Fatalf("expected head 1 without a new version, got number=%d created=%v", number, created)
	}

	// A -> B -> A: dedup only applies against the current head, so the
	// round trip produces three distinct versions.
	contentB := `{"sourceLanguage":"en","strings":{"k":{}}}`
	number, created, err = s.UpdateFileContent(ctx, file.ID, contentB, "hash-b", 40, user.ID, "to B")
	if err != nil || !created || number != 2 {
		t.Fatalf("update to B: number=%d created=%v err=%v", number, created, err)
	}
	number, created, err = s.UpdateFileContent(ctx, file.ID, file.Content, "hash-a", file.SizeBytes, user.ID, "back to A")
	if err != nil || !created || number != 3 {
		t.Fatalf("update back to A: number=%d created=%v err=%v", number, created, err)
	}

	versions, err := s.ListVersions(ctx, file.ID)
	if err != nil {
		t.Fatalf("list versions: %v", err)
	}
	if len(versions) != 3 {
		t.Fatalf("expected 3 versions, got %d", len(versions))
	}
	if versions[0].VersionNumber != 3 {
		t.Fatalf("expected newest first, got %d", versions[0].VersionNumber)
	}

	got, err := s.GetFile(ctx, file.ID)
	if err != nil {
		t.Fatalf("get file: %v", err)
	}
	if got.ContentHash != "hash-a" {
		t.Fatalf("head hash mismatch: %q", got.ContentHash)
	}
}

func TestDeleteVersionProtections(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	user, file := seedUserAndFile(t, s, "delete")

	// The sole version is also the head; the head check wins.
	if err := s.DeleteVersion(ctx, file.ID, 1); !errors.Is(err, ErrHeadVersion) {
		t.Fatalf("expected ErrHeadVersion, got %v", err)
	}

	if _, _, err := s.UpdateFileContent(ctx, file.ID, `{"strings":{"a":{}}}`, "hash-b", 20, user.ID, "second"); err != nil {
		t.Fatalf("update: %v", err)
	}

	if err := s.DeleteVersion(ctx, file.ID, 2); !errors.Is(err, ErrHeadVersion) {
		t.Fatalf("expected ErrHeadVersion, got %v", err)
	}
	if err := s.DeleteVersion(ctx, file.ID, 99); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.DeleteVersion(ctx, file.ID, 1); err != nil {
		t.Fatalf("delete non-head: %v", err)
	}

	versions, err := s.ListVersions(ctx, file.ID)
	if err != nil {
		t.Fatalf("list versions: %v", err)
	}
	if len(versions) != 1 || versions[0].VersionNumber != 2 {
		t.Fatalf("expected only version 2 to survive, got %+v", versions)
	}

	// Version numbers never shrink after a gap
	number, created, err := s.UpdateFileContent(ctx, file.ID, `{"strings":{"b":{}}}`, "hash-c", 20, user.ID, "third")
	if err != nil || !created || number != 3 {
		t.Fatalf("post-delete update: number=%d created=%v err=%v", number, created, err)
	}
}

func TestShareUpsertAndIdempotentDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	_, file := seedUserAndFile(t, s, "share-owner")
	grantee, _ := seedUserAndFile(t, s, "share-grantee")

	share := FileShare{ID: "shr-it-1", FileID: file.ID, GranteeID: grantee.ID, CanEdit: false}
	if err := s.UpsertShare(ctx, share); err != nil {
		t.Fatalf("upsert share: %v", err)
	}

	// Second grant upgrades permissions in place
	share.ID = "shr-it-2"
	share.CanEdit = true
	if err := s.UpsertShare(ctx, share); err != nil {
		t.Fatalf("upsert share again: %v", err)
	}

	got, err := s.GetShare(ctx, file.ID, grantee.ID)
	if err != nil {
		t.Fatalf("get share: %v", err)
	}
	if got == nil || !got.CanEdit {
		t.Fatalf("expected upgraded share, got %+v", got)
	}

	shares, err := s.ListFileShares(ctx, file.ID)
	if err != nil {
		t.Fatalf("list shares: %v", err)
	}
	if len(shares) != 1 {
		t.Fatalf("expected one share row, got %d", len(shares))
	}

	if err := s.DeleteShare(ctx, file.ID, grantee.ID); err != nil {
		t.Fatalf("delete share: %v", err)
	}
	if err := s.DeleteShare(ctx, file.ID, grantee.ID); err != nil {
		t.Fatalf("repeat delete must stay silent: %v", err)
	}
	if got, err := s.GetShare(ctx, file.ID, grantee.ID); err != nil || got != nil {
		t.Fatalf("expected share gone, got %+v err=%v", got, err)
	}
}
