package keyring

import (
	"fmt"
	"sort"

	"github.com/Klingon-tech/proxyguard/internal/log"
	"github.com/Klingon-tech/proxyguard/pkg/crypto"
	"github.com/Klingon-tech/proxyguard/pkg/types"
)

// Role names. Each role gets a fixed derivation index.
const (
	Alice      = "alice"
	AliceStash = "alice-stash"
	Bob        = "bob"
	Charlie    = "charlie"
	Dave       = "dave"
	Eve        = "eve"
	Ferdie     = "ferdie"
	Attacker   = "attacker"
)

// roleIndex maps a role to its derivation index. Indices never change once
// assigned; new roles get new indices.
var roleIndex = map[string]uint32{
	Alice:      0,
	AliceStash: 1,
	Bob:        2,
	Charlie:    3,
	Dave:       4,
	Eve:        5,
	Ferdie:     6,
	Attacker:   7,
}

// Roles returns all role names in derivation order.
func Roles() []string {
	out := make([]string, 0, len(roleIndex))
	for r := range roleIndex {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return roleIndex[out[i]] < roleIndex[out[j]] })
	return out
}

// Keyring holds the signing key of every role.
type Keyring struct {
	keys map[string]*crypto.PrivateKey
}

// New derives every role's key from mnemonic.
func New(mnemonic string) (*Keyring, error) {
	seed, err := SeedFromMnemonic(mnemonic, "")
	if err != nil {
		return nil, err
	}
	defer zero(seed)

	kr := &Keyring{keys: make(map[string]*crypto.PrivateKey, len(roleIndex))}
	for role, idx := range roleIndex {
		key, err := DeriveKey(seed, DefaultAccount, idx)
		if err != nil {
			return nil, fmt.Errorf("derive %s: %w", role, err)
		}
		kr.keys[role] = key
	}
	log.Keyring.Debug().Int("roles", len(kr.keys)).Msg("Derived role keys")
	return kr, nil
}

// Dev returns the keyring of the development mnemonic.
func Dev() *Keyring {
	kr, err := New(DevMnemonic)
	if err != nil {
		panic(fmt.Sprintf("keyring: dev mnemonic: %v", err))
	}
	return kr
}

// Signer returns the key of role.
func (k *Keyring) Signer(role string) (*crypto.PrivateKey, error) {
	key, ok := k.keys[role]
	if !ok {
		return nil, fmt.Errorf("unknown role %q", role)
	}
	return key, nil
}

// MustSigner is like Signer but panics on an unknown role.
func (k *Keyring) MustSigner(role string) *crypto.PrivateKey {
	key, err := k.Signer(role)
	if err != nil {
		panic(err)
	}
	return key
}

// Address returns the account id of role.
func (k *Keyring) Address(role string) (types.Address, error) {
	key, err := k.Signer(role)
	if err != nil {
		return types.Address{}, err
	}
	return key.AccountID(), nil
}

// Lookup returns the role owning addr.
func (k *Keyring) Lookup(addr types.Address) (string, bool) {
	for role, key := range k.keys {
		if key.AccountID() == addr {
			return role, true
		}
	}
	return "", false
}

// Members returns the accounts of the custodial multisig: alice, bob, dave.
func (k *Keyring) Members() []types.Address {
	return []types.Address{
		k.keys[Alice].AccountID(),
		k.keys[Bob].AccountID(),
		k.keys[Dave].AccountID(),
	}
}

// Zero wipes every private key.
func (k *Keyring) Zero() {
	for _, key := range k.keys {
		key.Zero()
	}
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
