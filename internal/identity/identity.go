// Package identity defines the opaque identifiers used throughout the
// authorization hierarchy.
//
// An Identity is a fixed 32-byte public identifier. The engine never
// interprets its contents; equality is the only operation the core needs.
// Signature verification against an identity is the host's job.
package identity

import (
	"encoding/hex"
	"errors"
	"fmt"
)

// Size is the byte length of every identity.
const Size = 32

var ErrInvalidIdentity = errors.New("identity: must be 64 hex characters")

// Identity is an opaque fixed-size public identifier (admin, manager,
// debitor, holder account, destination account, or token mint).
type Identity [Size]byte

// Zero is the all-zero identity, used as "unset".
var Zero Identity

// Parse decodes a 64-character hex string into an Identity.
// A leading "0x" prefix is accepted.
func Parse(s string) (Identity, error) {
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s = s[2:]
	}
	if len(s) != Size*2 {
		return Zero, ErrInvalidIdentity
	}
	var id Identity
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return Zero, fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	return id, nil
}

// MustParse is Parse for test fixtures and constants; it panics on error.
func MustParse(s string) Identity {
	id, err := Parse(s)
	if err != nil {
		panic("identity: " + err.Error())
	}
	return id
}

// FromBytes copies b into an Identity. b must be exactly Size bytes.
func FromBytes(b []byte) (Identity, error) {
	if len(b) != Size {
		return Zero, ErrInvalidIdentity
	}
	var id Identity
	copy(id[:], b)
	return id, nil
}

// String returns the lowercase hex form.
func (id Identity) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether the identity is unset.
func (id Identity) IsZero() bool {
	return id == Zero
}

// Short returns the first 8 hex characters, for log lines.
func (id Identity) Short() string {
	return id.String()[:8]
}

// MarshalText implements encoding.TextMarshaler so identities render as
// hex strings in JSON.
func (id Identity) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *Identity) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
