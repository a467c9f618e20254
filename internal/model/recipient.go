// internal/model/recipient.go
package model

import "strings"

// DefaultName is used when a row carries no display name.
const DefaultName = "N/A"

// Field is one named column of a recipient row.
type Field struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

// Fields keeps row columns in their original order.
type Fields []Field

// Get returns the value of the named field. Exact matches win over
// case-insensitive ones.
func (f Fields) Get(name string) (string, bool) {
	for _, field := range f {
		if field.Name == name {
			return field.Value, true
		}
	}
	for _, field := range f {
		if strings.EqualFold(field.Name, name) {
			return field.Value, true
		}
	}
	return "", false
}

// Recipient is one addressee of a campaign.
type Recipient struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Fields  Fields `json:"fields,omitempty"`
	Ordinal int    `json:"ordinal"`
}

// Key is the identity used for deduplication and state lookups.
func (r Recipient) Key() string {
	return NormalizeEmail(r.Email)
}

// NormalizeEmail lower-cases and trims an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
