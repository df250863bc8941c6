package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(Config{Path: filepath.Join(t.TempDir(), "audit.db")})
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("Failed to initialize store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNewStore_RequiresPath(t *testing.T) {
	if _, err := NewStore(Config{}); err == nil {
		t.Fatal("Expected an error for empty database path")
	}
}

func TestAppendAndListRecent(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	records := []*Record{
		{
			CreatedAt:   base,
			Source:      SourcePlan,
			SubjectKind: "aws_instance",
			SubjectName: "trainer",
			Allowed:     true,
			Warnings:    1,
			DurationMs:  4,
		},
		{
			CreatedAt:        base.Add(time.Minute),
			Source:           SourceAdmission,
			SubjectKind:      "Deployment",
			SubjectNamespace: "production",
			SubjectName:      "inference-api",
			Allowed:          false,
			Violations:       1,
			DenyReason:       "production deployments require 'approved-by' annotation",
			DurationMs:       2,
		},
	}

	for _, rec := range records {
		if err := store.Append(ctx, rec); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		if rec.ID == "" {
			t.Error("Append must assign an ID")
		}
	}

	listed, err := store.ListRecent(ctx, 10)
	if err != nil {
		t.Fatalf("ListRecent failed: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(listed))
	}

	// Newest first.
	if listed[0].SubjectName != "inference-api" {
		t.Errorf("Expected newest record first, got %+v", listed[0])
	}
	if listed[0].DenyReason != "production deployments require 'approved-by' annotation" {
		t.Errorf("Deny reason not preserved verbatim: %q", listed[0].DenyReason)
	}
	if !listed[0].CreatedAt.Equal(base.Add(time.Minute)) {
		t.Errorf("Timestamp not preserved: %v", listed[0].CreatedAt)
	}
}

func TestListRecent_Limit(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		rec := &Record{
			CreatedAt:   base.Add(time.Duration(i) * time.Second),
			Source:      SourcePlan,
			SubjectKind: "aws_instance",
			Allowed:     true,
		}
		if err := store.Append(ctx, rec); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	listed, err := store.ListRecent(ctx, 3)
	if err != nil {
		t.Fatalf("ListRecent failed: %v", err)
	}
	if len(listed) != 3 {
		t.Errorf("Expected limit of 3, got %d", len(listed))
	}
}

func TestCountDenied(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	for i, allowed := range []bool{true, false, false, true} {
		rec := &Record{
			CreatedAt:   base.Add(time.Duration(i) * time.Hour),
			Source:      SourceAdmission,
			SubjectKind: "Pod",
			Allowed:     allowed,
		}
		if err := store.Append(ctx, rec); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	count, err := store.CountDenied(ctx, base)
	if err != nil {
		t.Fatalf("CountDenied failed: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 denied decisions, got %d", count)
	}

	count, err = store.CountDenied(ctx, base.Add(90*time.Minute))
	if err != nil {
		t.Fatalf("CountDenied failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 denied decision in window, got %d", count)
	}
}
