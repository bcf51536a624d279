// Package wgkey parses and derives WireGuard Curve25519 keys.
//
// Keys travel over the wire as standard base64 of the 32 raw bytes,
// matching wg(8) and the JSON state format in spec §6.
package wgkey

import (
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

// Key is a 32-byte Curve25519 key (public or private).
type Key [32]byte

// Parse decodes a standard-base64-encoded 32-byte key.
func Parse(s string) (Key, error) {
	var k Key
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return k, fmt.Errorf("invalid base64 key: %w", err)
	}
	if len(raw) != 32 {
		return k, fmt.Errorf("key must decode to 32 bytes, got %d", len(raw))
	}
	copy(k[:], raw)
	return k, nil
}

// String returns the standard base64 encoding of the key.
func (k Key) String() string {
	return base64.StdEncoding.EncodeToString(k[:])
}

// IsZero reports whether the key is all zero bytes (unset).
func (k Key) IsZero() bool {
	for _, b := range k {
		if b != 0 {
			return false
		}
	}
	return true
}

// Public derives the Curve25519 public key for a private key, per the
// clamping rules WireGuard itself uses (RFC 7748).
func (k Key) Public() Key {
	var pub Key
	curve25519.ScalarBaseMult((*[32]byte)(&pub), (*[32]byte)(&k))
	return pub
}

// MarshalJSON encodes the key as a base64 JSON string.
func (k Key) MarshalJSON() ([]byte, error) {
	return []byte(`"` + k.String() + `"`), nil
}

// UnmarshalJSON decodes a base64 JSON string into the key.
func (k *Key) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("key must be a JSON string")
	}
	parsed, err := Parse(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
