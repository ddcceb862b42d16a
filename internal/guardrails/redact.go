package guardrails

import (
	"fmt"

	"github.com/HexmosTech/deidentify"
)

// Redactor replaces emails, phone numbers, SSNs and card numbers with stable
// pseudonyms derived from a secret key. Names and street addresses are left
// alone; policy text is full of capitalised word pairs.
type Redactor struct {
	key string
}

// NewRedactor creates a redactor. An empty key generates a random one, so
// pseudonyms are stable only for the life of the process.
func NewRedactor(key string) (*Redactor, error) {
	if key == "" {
		generated, err := deidentify.GenerateSecretKey()
		if err != nil {
			return nil, fmt.Errorf("generate redaction key: %w", err)
		}
		key = generated
	}
	return &Redactor{key: key}, nil
}

var redactOptions = deidentify.TextOptions{SkipNames: true, SkipAddresses: true}

// Redact returns text with personal data replaced. It fails closed.
func (r *Redactor) Redact(text string) string {
	// A fresh Deidentifier per call keeps its mapping cache from growing
	// without bound; the key alone makes results deterministic.
	out, err := deidentify.NewDeidentifier(r.key).Text(text, redactOptions)
	if err != nil {
		return "[redacted]"
	}
	return out
}
