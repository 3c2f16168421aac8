// Package canonical produces RFC 8785 (JSON Canonicalization Scheme) output
// used as signing and verification input for broker exchanges.
//
// The canonical form is a protocol detail shared with the broker and providers:
// a change in number formatting, escaping, or key ordering breaks signature
// verification on the other side and must be treated as a protocol version
// change, not an implementation detail.
package canonical

import (
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// Marshal encodes v as JSON and transforms the result into canonical form.
// Two logically equal payloads produce byte-identical output regardless of how
// their map keys were inserted; array element order is preserved. Cyclic
// values are rejected by the JSON encoder with an error.
func Marshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: marshal: %w", err)
	}
	return Transform(raw)
}

// Transform canonicalizes pre-serialized JSON text.
func Transform(raw []byte) ([]byte, error) {
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonical: transform: %w", err)
	}
	return out, nil
}
