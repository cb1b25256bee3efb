package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSeedCatalog(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	raw := `[
		{"name": "Nike Air", "size": 40, "price": 299.90, "image_url": "https://cdn.example.com/nike.jpg"},
		{"name": "", "size": "38"},
		{"name": "Sandália Rasteira", "size": "36", "price": "59.90", "description": "couro"}
	]`
	n, err := SeedCatalog(ctx, s, strings.NewReader(raw))
	if err != nil {
		t.Fatalf("SeedCatalog: %v", err)
	}
	if n != 2 {
		t.Errorf("added = %d, want 2", n)
	}
	p, _ := s.FindProductByName(ctx, "nike")
	if p == nil || p.Size.String() != "40" || p.Price.String() != "299.90" {
		t.Errorf("unexpected product %+v", p)
	}
}

func TestSeedCatalog_InvalidJSON(t *testing.T) {
	if _, err := SeedCatalog(context.Background(), NewInMemoryStore(), strings.NewReader(`{"name": "x"}`)); err == nil {
		t.Error("expected error for a non-array catalogue")
	}
}

func TestSeedCatalogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	if err := os.WriteFile(path, []byte(`[{"name": "Bota Texana", "price": "349.00"}]`), 0o600); err != nil {
		t.Fatal(err)
	}
	s := newTestSQLiteStore(t)
	n, err := SeedCatalogFile(context.Background(), s, path)
	if err != nil || n != 1 {
		t.Fatalf("SeedCatalogFile = %d, %v", n, err)
	}
	found, _ := s.SearchProducts(context.Background(), "texana")
	if len(found) != 1 {
		t.Errorf("expected seeded product, got %v", found)
	}
	if _, err := SeedCatalogFile(context.Background(), s, filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for a missing file")
	}
}
