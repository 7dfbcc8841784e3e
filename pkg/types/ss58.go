package types

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/base58"
	"golang.org/x/crypto/blake2b"
)

// ss58Context is prepended to the payload before computing the checksum.
var ss58Context = []byte("SS58PRE")

// ss58ChecksumSize is the number of checksum bytes appended to 32-byte keys.
const ss58ChecksumSize = 2

// MaxSS58Prefix is the largest network prefix representable in two bytes.
const MaxSS58Prefix = 16383

// SS58Encode encodes a 32-byte public key with the given network prefix.
//
// Prefixes below 64 take one byte; prefixes 64..16383 take two.
func SS58Encode(prefix uint16, pubKey []byte) (string, error) {
	if prefix > MaxSS58Prefix {
		return "", fmt.Errorf("ss58: prefix %d out of range", prefix)
	}
	if len(pubKey) != AddressSize {
		return "", fmt.Errorf("ss58: public key must be %d bytes, got %d", AddressSize, len(pubKey))
	}

	var payload []byte
	if prefix < 64 {
		payload = append(payload, byte(prefix))
	} else {
		first := byte((prefix&0x00fc)>>2) | 0x40
		second := byte(prefix>>8) | byte((prefix&0x03)<<6)
		payload = append(payload, first, second)
	}
	payload = append(payload, pubKey...)

	chk := ss58Checksum(payload)
	payload = append(payload, chk[:ss58ChecksumSize]...)
	return base58.Encode(payload), nil
}

// SS58Decode decodes an SS58 string into its network prefix and public key.
func SS58Decode(s string) (uint16, []byte, error) {
	raw := base58.Decode(s)
	if len(raw) == 0 {
		return 0, nil, fmt.Errorf("ss58: invalid base58 string")
	}

	var (
		prefix    uint16
		prefixLen int
	)
	switch {
	case raw[0] < 64:
		prefix = uint16(raw[0])
		prefixLen = 1
	case raw[0] < 128:
		if len(raw) < 2 {
			return 0, nil, fmt.Errorf("ss58: truncated prefix")
		}
		lower := (raw[0] << 2) | (raw[1] >> 6)
		upper := raw[1] & 0x3f
		prefix = uint16(lower) | uint16(upper)<<8
		prefixLen = 2
	default:
		return 0, nil, fmt.Errorf("ss58: reserved prefix byte 0x%02x", raw[0])
	}

	if len(raw) != prefixLen+AddressSize+ss58ChecksumSize {
		return 0, nil, fmt.Errorf("ss58: unexpected length %d", len(raw))
	}

	body := raw[:prefixLen+AddressSize]
	chk := ss58Checksum(body)
	if !bytes.Equal(chk[:ss58ChecksumSize], raw[prefixLen+AddressSize:]) {
		return 0, nil, fmt.Errorf("ss58: invalid checksum")
	}

	key := make([]byte, AddressSize)
	copy(key, raw[prefixLen:prefixLen+AddressSize])
	return prefix, key, nil
}

func ss58Checksum(payload []byte) [blake2b.Size]byte {
	buf := make([]byte, 0, len(ss58Context)+len(payload))
	buf = append(buf, ss58Context...)
	buf = append(buf, payload...)
	return blake2b.Sum512(buf)
}
