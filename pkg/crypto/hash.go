// Package crypto provides the hashing and signing primitives used on the target chain.
package crypto

import (
	"github.com/Klingon-tech/proxyguard/pkg/types"
	"golang.org/x/crypto/blake2b"
)

// Hash computes a BLAKE2b-256 hash of the input data.
func Hash(data []byte) types.Hash {
	return blake2b.Sum256(data)
}

// Hash512 computes a BLAKE2b-512 hash of the input data.
func Hash512(data []byte) [64]byte {
	return blake2b.Sum512(data)
}

// HashConcat hashes the concatenation of the given byte slices.
func HashConcat(parts ...[]byte) types.Hash {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	buf := make([]byte, 0, n)
	for _, p := range parts {
		buf = append(buf, p...)
	}
	return Hash(buf)
}

// AccountIDFromPubKey derives the account id of a compressed secp256k1 key.
// AccountID = BLAKE2b-256(compressed_pubkey).
func AccountIDFromPubKey(pubKey []byte) types.Address {
	return types.Address(Hash(pubKey))
}
