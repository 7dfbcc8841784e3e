package keyring

import (
	"fmt"

	"github.com/Klingon-tech/proxyguard/pkg/crypto"
	"github.com/tyler-smith/go-bip32"
)

// Derivation path constants. Role keys live at
// m/44'/354'/account'/0'/index', every level hardened.
const (
	PurposeBIP44   = bip32.FirstHardenedChild + 44
	CoinTypeDot    = bip32.FirstHardenedChild + 354
	DefaultAccount = 0
)

// DeriveKey derives the signing key at index under account from a BIP-39 seed.
func DeriveKey(seed []byte, account, index uint32) (*crypto.PrivateKey, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", SeedSize, len(seed))
	}
	key, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("create master key: %w", err)
	}
	path := []uint32{
		PurposeBIP44,
		CoinTypeDot,
		bip32.FirstHardenedChild + account,
		bip32.FirstHardenedChild,
		bip32.FirstHardenedChild + index,
	}
	for _, idx := range path {
		if key, err = key.NewChildKey(idx); err != nil {
			return nil, fmt.Errorf("derive child %d: %w", idx, err)
		}
	}
	// bip32 private keys carry a leading zero byte.
	raw := key.Key
	if len(raw) == 33 && raw[0] == 0 {
		raw = raw[1:]
	}
	return crypto.PrivateKeyFromBytes(raw)
}
