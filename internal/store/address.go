package store

import (
	"encoding/hex"

	"github.com/zeebo/blake3"

	"github.com/mbd888/pullpay/internal/record"
)

// Address is the 32-byte storage location of one record.
type Address [32]byte

// String returns the lowercase hex form.
func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

// ParseAddress decodes a 64-character hex address.
func ParseAddress(s string) (Address, error) {
	var a Address
	if len(s) != len(a)*2 {
		return a, ErrBadAddress
	}
	if _, err := hex.Decode(a[:], []byte(s)); err != nil {
		return a, ErrBadAddress
	}
	return a, nil
}

// Deriver maps a record key to its storage address. It must be a pure
// function: same key, same address, no I/O. Injected so storage layouts
// can change without touching the authorization core.
type Deriver interface {
	Derive(key record.Key) Address
}

// addrDomainKey is the BLAKE3 keyed-mode domain for record addresses.
// Fixed constant; changing it relocates every record. ASCII, zero-padded,
// so the key is readable in hex dumps.
var addrDomainKey = [32]byte{
	'p', 'u', 'l', 'l', 'p', 'a', 'y', '.', 'r', 'e', 'c', 'o', 'r', 'd', '.',
	'a', 'd', 'd', 'r', '.', 'v', '1',
}

// Blake3Deriver derives addresses with a domain-keyed BLAKE3 hash over the
// key's canonical encoding. This is the default deriver.
type Blake3Deriver struct{}

func (Blake3Deriver) Derive(key record.Key) Address {
	hasher, err := blake3.NewKeyed(addrDomainKey[:])
	if err != nil {
		panic("store: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(key.Encode())
	var a Address
	copy(a[:], hasher.Sum(nil))
	return a
}

var _ Deriver = Blake3Deriver{}
