// Package reply normalizes agent output into a canonical models.Reply and
// delivers it to the customer.
package reply

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/SalesPipe/internal/models"
)

// NotFoundText answers an agent that returned an empty product list.
const NotFoundText = "Não encontrei esse produto, posso verificar com a equipe. Pode mandar mais detalhes, como cor ou tamanho?"

// Parse coerces raw agent output into a Reply. It never fails: anything that
// is not a JSON object of a known shape becomes a TextReply of the raw text.
func Parse(raw string) models.Reply {
	trimmed := strings.TrimSpace(raw)
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &obj); err != nil || obj == nil {
		if trimmed != "" {
			slog.Debug("reply.Parse: output is not a JSON object, treating as text", "raw", raw)
		}
		return models.TextReply{Text: raw}
	}

	productsRaw, hasProducts := obj["products"]
	if hasProducts {
		if products := parseProducts(productsRaw); len(products) > 0 {
			return models.ProductListReply{Products: products}
		}
	}

	if textRaw, ok := obj["text"]; ok {
		var text string
		if err := json.Unmarshal(textRaw, &text); err == nil {
			return models.TextReply{Text: text}
		}
	}
	if hasProducts {
		return models.TextReply{Text: NotFoundText}
	}
	return models.TextReply{Text: raw}
}

// parseProducts reads each entry of a products list on its own. Entries that
// are not objects are skipped; fields of the wrong type are left empty.
func parseProducts(raw json.RawMessage) []models.Product {
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		slog.Warn("reply.Parse: products is not a list", "error", err)
		return nil
	}
	products := make([]models.Product, 0, len(entries))
	for i, entry := range entries {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(entry, &fields); err != nil || fields == nil {
			slog.Warn("reply.Parse: skipping unreadable product", "index", i)
			continue
		}
		products = append(products, models.Product{
			Name:        scalarText(fields["name"]),
			Size:        models.FlexString(scalarText(fields["size"])),
			Price:       models.FlexString(scalarText(fields["price"])),
			ImageURL:    scalarText(fields["image_url"]),
			Description: scalarText(fields["description"]),
		})
	}
	return products
}

// scalarText returns a JSON string's value or a number's literal text.
// Anything else, booleans included, yields "".
func scalarText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// Caption renders the image caption of a product.
func Caption(p models.Product) string {
	return fmt.Sprintf("%s, tamanho %s, R$%s", orDefault(p.Name, "Produto"), orDefault(p.Size.String(), "N/A"), orDefault(p.Price.String(), "N/A"))
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
