package store

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	_ "modernc.org/sqlite"
)

var dbSeq atomic.Int64

// setupSQLStore creates a SQLStore over its own in-memory database.
func setupSQLStore(tb testing.TB) *SQLStore {
	tb.Helper()

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", tb.Name(), dbSeq.Add(1)))
	if err != nil {
		tb.Fatalf("failed to open in-memory db: %v", err)
	}
	tb.Cleanup(func() { _ = db.Close() })

	if err = SetupSchema(db); err != nil {
		tb.Fatalf("failed to setup schema: %v", err)
	}
	s, err := NewSQLStore(db)
	if err != nil {
		tb.Fatalf("NewSQLStore failed: %v", err)
	}
	tb.Cleanup(s.Close)
	return s
}

func TestSQLStore_RoundTrip(t *testing.T) {
	s := setupSQLStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, "page.tpl", "Hello ${name}"); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	text, err := s.Load(ctx, "page.tpl")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if text != "Hello ${name}" {
		t.Errorf("Load returned %q", text)
	}

	// Saving again replaces the text.
	if err = s.Save(ctx, "page.tpl", "v2"); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if text, _ = s.Load(ctx, "page.tpl"); text != "v2" {
		t.Errorf("Load after overwrite returned %q", text)
	}
}

func TestSQLStore_NotFound(t *testing.T) {
	s := setupSQLStore(t)
	ctx := context.Background()

	if _, err := s.Load(ctx, "missing.tpl"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load(missing) = %v, want ErrNotFound", err)
	}
	if err := s.Delete(ctx, "missing.tpl"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete(missing) = %v, want ErrNotFound", err)
	}
}

func TestSQLStore_DeleteAndList(t *testing.T) {
	s := setupSQLStore(t)
	ctx := context.Background()

	for _, name := range []string{"b.tpl", "a.tpl", "c.tpl"} {
		if err := s.Save(ctx, name, "x"); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}
	names, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(names) != 3 || names[0] != "a.tpl" || names[1] != "b.tpl" || names[2] != "c.tpl" {
		t.Errorf("List returned %v", names)
	}

	if err = s.Delete(ctx, "b.tpl"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if names, _ = s.List(ctx); len(names) != 2 {
		t.Errorf("List after delete returned %v", names)
	}
}

func TestSQLStore_ExportImport(t *testing.T) {
	src := setupSQLStore(t)
	ctx := context.Background()

	templates := map[string]string{
		"one.tpl": "first ${a}",
		"two.tpl": "second <!-- $beginBlock b -->x<!-- $endBlock b -->",
	}
	for name, text := range templates {
		if err := src.Save(ctx, name, text); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	var buf bytes.Buffer
	if err := src.Export(ctx, &buf); err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	dst := setupSQLStore(t)
	if err := dst.Import(ctx, &buf); err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	for name, want := range templates {
		got, err := dst.Load(ctx, name)
		if err != nil {
			t.Fatalf("Load(%q) after import failed: %v", name, err)
		}
		if got != want {
			t.Errorf("Load(%q) = %q, want %q", name, got, want)
		}
	}
}
