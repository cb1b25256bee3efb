package models

import (
	"bytes"
	"encoding/json"
	"strings"
)

// FlexString is a string that also decodes from JSON numbers and booleans,
// keeping the literal text ("299.90" stays "299.90").
type FlexString string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	// numbers and booleans keep their literal form
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = FlexString(string(data))
	return nil
}

// String returns the underlying text.
func (f FlexString) String() string { return string(f) }

// Product is a read-only catalogue snapshot.
type Product struct {
	Name        string     `json:"name"`
	Size        FlexString `json:"size,omitempty"`
	Price       FlexString `json:"price,omitempty"`
	ImageURL    string     `json:"image_url,omitempty"`
	Description string     `json:"description,omitempty"`
}

// HasHTTPImage reports whether the product carries an http(s) image URL.
func (p Product) HasHTTPImage() bool {
	u := strings.ToLower(strings.TrimSpace(p.ImageURL))
	return strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")
}
