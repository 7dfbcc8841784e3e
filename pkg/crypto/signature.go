package crypto

import (
	"fmt"

	"github.com/Klingon-tech/proxyguard/pkg/types"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// SignatureSize is the length of a recoverable ECDSA signature (r || s || v).
const SignatureSize = 65

// compactHeader is the recovery byte offset used by ecdsa.SignCompact for
// compressed keys (27 + 4).
const compactHeader = 31

// Signer signs extrinsic payloads with a private key using ECDSA/secp256k1.
type Signer interface {
	// Sign produces a 65-byte recoverable signature over BLAKE2b-256(message).
	Sign(message []byte) ([]byte, error)
	// PublicKey returns the compressed 33-byte public key.
	PublicKey() []byte
	// AccountID returns the on-chain account id of the key.
	AccountID() types.Address
}

// PrivateKey wraps a secp256k1 private key.
type PrivateKey struct {
	key *secp256k1.PrivateKey
}

// GenerateKey creates a new random secp256k1 private key.
func GenerateKey() (*PrivateKey, error) {
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &PrivateKey{key: key}, nil
}

// PrivateKeyFromBytes creates a PrivateKey from a 32-byte secret.
func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	if len(b) != 32 {
		return nil, fmt.Errorf("private key must be 32 bytes, got %d", len(b))
	}
	key := secp256k1.PrivKeyFromBytes(b)
	return &PrivateKey{key: key}, nil
}

// Sign hashes message with BLAKE2b-256 and produces a recoverable signature
// laid out as r(32) | s(32) | recovery id(1).
func (pk *PrivateKey) Sign(message []byte) ([]byte, error) {
	digest := Hash(message)
	compact := ecdsa.SignCompact(pk.key, digest[:], true)
	if len(compact) != SignatureSize {
		return nil, fmt.Errorf("ecdsa sign: unexpected signature length %d", len(compact))
	}

	sig := make([]byte, SignatureSize)
	copy(sig, compact[1:])
	sig[64] = compact[0] - compactHeader
	return sig, nil
}

// PublicKey returns the compressed 33-byte public key.
func (pk *PrivateKey) PublicKey() []byte {
	return pk.key.PubKey().SerializeCompressed()
}

// AccountID returns BLAKE2b-256 of the compressed public key.
func (pk *PrivateKey) AccountID() types.Address {
	return AccountIDFromPubKey(pk.PublicKey())
}

// Serialize returns the 32-byte private key scalar.
func (pk *PrivateKey) Serialize() []byte {
	return pk.key.Serialize()
}

// Zero securely zeroes the private key memory.
func (pk *PrivateKey) Zero() {
	pk.key.Zero()
}

// RecoverPubKey returns the compressed public key that produced signature
// over BLAKE2b-256(message).
func RecoverPubKey(message, signature []byte) ([]byte, error) {
	if len(signature) != SignatureSize {
		return nil, fmt.Errorf("signature must be %d bytes, got %d", SignatureSize, len(signature))
	}
	if signature[64] > 3 {
		return nil, fmt.Errorf("invalid recovery id %d", signature[64])
	}

	compact := make([]byte, SignatureSize)
	compact[0] = signature[64] + compactHeader
	copy(compact[1:], signature[:64])

	digest := Hash(message)
	pub, _, err := ecdsa.RecoverCompact(compact, digest[:])
	if err != nil {
		return nil, fmt.Errorf("recover: %w", err)
	}
	return pub.SerializeCompressed(), nil
}

// VerifySignature checks that signature over message was produced by the
// key behind account. Returns false on any error.
func VerifySignature(message, signature []byte, account types.Address) bool {
	pub, err := RecoverPubKey(message, signature)
	if err != nil {
		return false
	}
	return AccountIDFromPubKey(pub) == account
}
