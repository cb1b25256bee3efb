package store

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/BTreeMap/SalesPipe/internal/models"
)

// placeholderFunc renders the n-th (1-based) bind parameter for a SQL dialect.
type placeholderFunc func(n int) string

func dollarPlaceholder(n int) string { return "$" + strconv.Itoa(n) }

func questionPlaceholder(int) string { return "?" }

// buildLeadUpsert renders an INSERT that merges only the columns present in lead.
func buildLeadUpsert(lead models.Lead, ph placeholderFunc) (string, []interface{}) {
	fields := lead.Fields()
	cols := make([]string, 0, len(fields))
	vals := make([]string, 0, len(fields))
	sets := make([]string, 0, len(fields))
	args := make([]interface{}, 0, len(fields))
	for i, f := range fields {
		cols = append(cols, string(f))
		vals = append(vals, ph(i+1))
		args = append(args, lead[f])
		if f != models.LeadRemoteJID {
			sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", f, f))
		}
	}
	query := fmt.Sprintf("INSERT INTO leads (%s) VALUES (%s) ON CONFLICT (remotejid) DO UPDATE SET %s",
		strings.Join(cols, ", "), strings.Join(vals, ", "), strings.Join(sets, ", "))
	return query, args
}

// leadSelectQuery selects every recognized lead column by remote jid.
func leadSelectQuery(ph placeholderFunc) string {
	cols := make([]string, len(models.LeadFields))
	for i, f := range models.LeadFields {
		cols[i] = string(f)
	}
	return fmt.Sprintf("SELECT %s FROM leads WHERE remotejid = %s", strings.Join(cols, ", "), ph(1))
}

// scanLead scans a row produced by leadSelectQuery. NULL columns are omitted.
func scanLead(row *sql.Row) (models.Lead, error) {
	values := make([]sql.NullString, len(models.LeadFields))
	dest := make([]interface{}, len(values))
	for i := range values {
		dest[i] = &values[i]
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	lead := make(models.Lead)
	for i, f := range models.LeadFields {
		if values[i].Valid && values[i].String != "" {
			lead[f] = values[i].String
		}
	}
	return lead, nil
}

const productColumns = "name, size, price, image_url, description"

// scanProducts scans product rows selected with productColumns.
func scanProducts(rows *sql.Rows) ([]models.Product, error) {
	var products []models.Product
	for rows.Next() {
		var name, size, price, imageURL, description sql.NullString
		if err := rows.Scan(&name, &size, &price, &imageURL, &description); err != nil {
			return nil, fmt.Errorf("failed to scan product row: %w", err)
		}
		products = append(products, models.Product{
			Name:        name.String,
			Size:        models.FlexString(size.String),
			Price:       models.FlexString(price.String),
			ImageURL:    imageURL.String,
			Description: description.String,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate product rows: %w", err)
	}
	return products, nil
}

// likePattern wraps q for a substring LIKE match, escaping wildcards with '\'.
func likePattern(q string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(q) + "%"
}

func defaultLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	return limit
}

// DefaultHistoryLimit bounds ListMessages when callers pass a non-positive limit.
const DefaultHistoryLimit = 10
