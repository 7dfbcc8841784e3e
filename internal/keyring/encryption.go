package keyring

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// SaltSize is the Argon2id salt length.
const SaltSize = 16

// Sealed layout: salt | memory(u32 LE) | time(u32 LE) | threads(u8) | nonce | ciphertext.
const headerSize = SaltSize + 4 + 4 + 1

// KDFParams are the Argon2id cost parameters.
type KDFParams struct {
	Memory  uint32 // KiB
	Time    uint32
	Threads uint8
}

// DefaultKDFParams returns the parameters used for new keystore files.
func DefaultKDFParams() KDFParams {
	return KDFParams{Memory: 64 * 1024, Time: 3, Threads: 4}
}

// LightKDFParams are cheap parameters for tests.
func LightKDFParams() KDFParams {
	return KDFParams{Memory: 1024, Time: 1, Threads: 1}
}

func deriveKey(password, salt []byte, p KDFParams) []byte {
	return argon2.IDKey(password, salt, p.Time, p.Memory, p.Threads, chacha20poly1305.KeySize)
}

// Seal encrypts plaintext under password with Argon2id and XChaCha20-Poly1305.
// The KDF parameters travel in the header, so Open needs only the password.
func Seal(plaintext, password []byte, p KDFParams) ([]byte, error) {
	if p.Memory == 0 || p.Time == 0 || p.Threads == 0 {
		return nil, fmt.Errorf("invalid kdf parameters %+v", p)
	}
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	key := deriveKey(password, salt, p)
	defer zero(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	header := make([]byte, 0, headerSize+len(nonce))
	header = append(header, salt...)
	header = binary.LittleEndian.AppendUint32(header, p.Memory)
	header = binary.LittleEndian.AppendUint32(header, p.Time)
	header = append(header, p.Threads)
	header = append(header, nonce...)

	// The header is authenticated so the parameters cannot be swapped.
	return aead.Seal(header, nonce, plaintext, header[:headerSize]), nil
}

// Open decrypts data produced by Seal.
func Open(sealed, password []byte) ([]byte, error) {
	nonceSize := chacha20poly1305.NonceSizeX
	if len(sealed) < headerSize+nonceSize+chacha20poly1305.Overhead {
		return nil, fmt.Errorf("sealed data too short: %d bytes", len(sealed))
	}
	p := KDFParams{
		Memory:  binary.LittleEndian.Uint32(sealed[SaltSize:]),
		Time:    binary.LittleEndian.Uint32(sealed[SaltSize+4:]),
		Threads: sealed[SaltSize+8],
	}
	if p.Memory == 0 || p.Time == 0 || p.Threads == 0 {
		return nil, fmt.Errorf("invalid kdf parameters in header")
	}
	key := deriveKey(password, sealed[:SaltSize], p)
	defer zero(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	nonce := sealed[headerSize : headerSize+nonceSize]
	plaintext, err := aead.Open(nil, nonce, sealed[headerSize+nonceSize:], sealed[:headerSize])
	if err != nil {
		return nil, fmt.Errorf("decrypt: wrong password or corrupted data")
	}
	return plaintext, nil
}
