package leadinfo

import (
	"fmt"
	"strings"

	"github.com/BTreeMap/SalesPipe/internal/models"
)

// Precedence decides how marker fields combine with a stored lead.
type Precedence string

const (
	// PrecedenceOverride always writes the marker fields.
	PrecedenceOverride Precedence = "override"
	// PrecedenceFill writes only the fields the stored lead lacks.
	PrecedenceFill Precedence = "fill"
)

// ParsePrecedence accepts "override", "fill" or "" (override).
func ParsePrecedence(s string) (Precedence, error) {
	switch p := Precedence(strings.ToLower(strings.TrimSpace(s))); p {
	case "", PrecedenceOverride:
		return PrecedenceOverride, nil
	case PrecedenceFill:
		return PrecedenceFill, nil
	default:
		return "", fmt.Errorf("invalid lead marker precedence %q (want override or fill)", s)
	}
}

var markerFields = []struct {
	marker string
	field  models.LeadField
}{
	{"cidade:", models.LeadCity},
	{"estado:", models.LeadState},
	{"email:", models.LeadEmail},
}

// ExtractMarkers reads the explicit "cidade:", "estado:" and "email:" markers:
// the first token after each marker, lowercased.
func ExtractMarkers(message string) models.Lead {
	lower := strings.ToLower(message)
	lead := models.Lead{}
	for _, m := range markerFields {
		if v := markerValue(lower, m.marker); v != "" {
			lead[m.field] = v
		}
	}
	return lead
}

// ApplyPrecedence returns the marker fields to write over stored.
func ApplyPrecedence(stored, markers models.Lead, p Precedence) models.Lead {
	if p != PrecedenceFill {
		return markers
	}
	out := models.Lead{}
	for k, v := range markers {
		if !stored.Has(k) {
			out[k] = v
		}
	}
	return out
}

// markerValue returns the first whitespace-separated token after marker in lower.
func markerValue(lower, marker string) string {
	idx := strings.Index(lower, marker)
	if idx < 0 {
		return ""
	}
	fields := strings.Fields(lower[idx+len(marker):])
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
