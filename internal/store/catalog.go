package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/BTreeMap/SalesPipe/internal/models"
)

// SeedCatalog reads a JSON array of products from r and adds every entry with
// a name to w. Size and price may be strings or numbers.
func SeedCatalog(ctx context.Context, w CatalogWriter, r io.Reader) (int, error) {
	var products []models.Product
	if err := json.NewDecoder(r).Decode(&products); err != nil {
		return 0, fmt.Errorf("decode catalogue: %w", err)
	}
	added := 0
	for i, p := range products {
		if strings.TrimSpace(p.Name) == "" {
			slog.Warn("Store.SeedCatalog: skipping product without name", "index", i)
			continue
		}
		if err := w.AddProduct(ctx, p); err != nil {
			return added, fmt.Errorf("add product %q: %w", p.Name, err)
		}
		added++
	}
	return added, nil
}

// SeedCatalogFile seeds w from the JSON file at path.
func SeedCatalogFile(ctx context.Context, w CatalogWriter, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open catalogue: %w", err)
	}
	defer f.Close()
	n, err := SeedCatalog(ctx, w, f)
	if err != nil {
		return n, err
	}
	slog.Info("Store.SeedCatalogFile: catalogue loaded", "path", path, "products", n)
	return n, nil
}
