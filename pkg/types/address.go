package types

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
)

// AddressSize is the length of an account id in bytes.
const AddressSize = 32

// Well-known SS58 network prefixes.
const (
	PolkadotPrefix  uint16 = 0
	KusamaPrefix    uint16 = 2
	SubstratePrefix uint16 = 42
)

// activePrefix is the SS58 prefix used by String() and MarshalJSON().
// Set once at startup via SetSS58Prefix(). Default is the generic substrate prefix.
var activePrefix atomic.Uint32

func init() {
	activePrefix.Store(uint32(SubstratePrefix))
}

// SetSS58Prefix sets the active SS58 network prefix (call once at startup).
func SetSS58Prefix(prefix uint16) {
	activePrefix.Store(uint32(prefix))
}

// GetSS58Prefix returns the currently active SS58 network prefix.
func GetSS58Prefix() uint16 {
	return uint16(activePrefix.Load())
}

// Address is a 256-bit account id (raw public key or derived key).
//
// Two addresses are equal iff their raw bytes are equal; the network
// prefix only affects the human-readable form.
type Address [AddressSize]byte

// IsZero returns true if the address is all zeros.
func (a Address) IsZero() bool {
	return a == Address{}
}

// String returns the SS58 encoding under the active network prefix.
func (a Address) String() string {
	return a.SS58(GetSS58Prefix())
}

// SS58 returns the SS58 encoding under the given network prefix.
func (a Address) SS58(prefix uint16) string {
	s, err := SS58Encode(prefix, a[:])
	if err != nil {
		// Only reachable with an out-of-range prefix.
		return "0x" + hex.EncodeToString(a[:])
	}
	return s
}

// Hex returns the 0x-prefixed hex encoding of the raw account id.
func (a Address) Hex() string {
	return "0x" + hex.EncodeToString(a[:])
}

// Bytes returns a copy of the address as a byte slice.
func (a Address) Bytes() []byte {
	b := make([]byte, AddressSize)
	copy(b, a[:])
	return b
}

// MarshalJSON encodes the address as an SS58 string.
func (a Address) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON decodes an SS58 or hex string into an address.
func (a *Address) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*a = Address{}
		return nil
	}
	parsed, err := ParseAddress(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseAddress parses an SS58 string (any prefix) or a 0x-prefixed hex account id.
func ParseAddress(s string) (Address, error) {
	if s == "" {
		return Address{}, fmt.Errorf("empty address")
	}

	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		b, err := DecodeHex(s)
		if err != nil {
			return Address{}, fmt.Errorf("invalid address: %w", err)
		}
		return AddressFromBytes(b)
	}

	_, key, err := SS58Decode(s)
	if err != nil {
		return Address{}, fmt.Errorf("invalid ss58 address: %w", err)
	}
	return AddressFromBytes(key)
}

// AddressFromBytes copies a 32-byte slice into an Address.
func AddressFromBytes(b []byte) (Address, error) {
	if len(b) != AddressSize {
		return Address{}, fmt.Errorf("address must be %d bytes, got %d", AddressSize, len(b))
	}
	var a Address
	copy(a[:], b)
	return a, nil
}

// MustParseAddress is like ParseAddress but panics on error.
// Intended for constants and tests.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}
