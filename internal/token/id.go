// Package token generates the unguessable identifiers encoded into QR codes.
package token

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// idBytes is the raw entropy per identifier. 16 bytes gives 128 bits, which
// keeps the collision probability across any realistic batch volume far
// below 2^-60 and leaves ids short enough for dense QR codes.
const idBytes = 16

// NewID returns a fresh lowercase-hex identifier drawn from crypto/rand.
// It fails if the system entropy source cannot be read; there is no
// fallback to a weaker source.
func NewID() (string, error) {
	b := make([]byte, idBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read entropy source: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// NewIDs returns n fresh identifiers. Any entropy failure aborts the whole
// batch rather than returning a short slice.
func NewIDs(n int) ([]string, error) {
	ids := make([]string, n)
	for i := range ids {
		id, err := NewID()
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}
