// Package multisig derives the deterministic account ids used by the multisig
// and utility pallets: multisig accounts from a member set and threshold, and
// derivative sub-accounts from a parent account and index.
//
// Both derivations hash
//
//	"modlpy/utilisuba" ++ SCALE(payload)
//
// with BLAKE2b-256. The digest is the raw account id; the SS58 prefix used to
// display it never enters the hash.
package multisig

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/Klingon-tech/proxyguard/pkg/crypto"
	"github.com/Klingon-tech/proxyguard/pkg/scale"
	"github.com/Klingon-tech/proxyguard/pkg/types"
)

// SubAccountTag is the derivation tag shared by multisig and derivative accounts.
const SubAccountTag = "modlpy/utilisuba"

var (
	// ErrInvalidThreshold is returned when threshold is outside 1..len(members).
	ErrInvalidThreshold = errors.New("invalid threshold")
	// ErrAmbiguousMembership is returned when the member list contains duplicates.
	ErrAmbiguousMembership = errors.New("ambiguous membership: duplicate member")
	// ErrInvalidIndex is returned when a derivative index does not fit in a u16.
	ErrInvalidIndex = errors.New("invalid derivative index")
	// ErrNotMember is returned when a signer is not part of the member set.
	ErrNotMember = errors.New("signer is not a multisig member")
)

// DeriveMultisig returns the multisig account id for members and threshold.
//
// The result is independent of the order of members: they are sorted by raw
// bytes before hashing. Duplicate members are rejected rather than removed,
// since dropping one would silently produce a different account.
func DeriveMultisig(members []types.Address, threshold int) (types.Address, error) {
	if threshold < 1 || threshold > len(members) || threshold > math.MaxUint16 {
		return types.Address{}, fmt.Errorf("%w: %d of %d", ErrInvalidThreshold, threshold, len(members))
	}

	sorted := SortAddresses(members)
	for i := 1; i < len(sorted); i++ {
		if sorted[i] == sorted[i-1] {
			return types.Address{}, fmt.Errorf("%w: %s", ErrAmbiguousMembership, sorted[i])
		}
	}

	buf := make([]byte, 0, len(SubAccountTag)+5+len(sorted)*types.AddressSize+2)
	buf = append(buf, SubAccountTag...)
	buf = scale.AppendCompact(buf, uint64(len(sorted)))
	for _, m := range sorted {
		buf = append(buf, m[:]...)
	}
	buf = scale.AppendU16(buf, uint16(threshold))

	return types.Address(crypto.Hash(buf)), nil
}

// DeriveChild returns the derivative account of parent at index, as used by
// utility.as_derivative.
func DeriveChild(parent types.Address, index int) (types.Address, error) {
	if index < 0 || index > math.MaxUint16 {
		return types.Address{}, fmt.Errorf("%w: %d", ErrInvalidIndex, index)
	}

	buf := make([]byte, 0, len(SubAccountTag)+types.AddressSize+2)
	buf = append(buf, SubAccountTag...)
	buf = append(buf, parent[:]...)
	buf = scale.AppendU16(buf, uint16(index))

	return types.Address(crypto.Hash(buf)), nil
}

// SortAddresses returns a copy of addrs sorted in ascending raw-byte order.
func SortAddresses(addrs []types.Address) []types.Address {
	out := make([]types.Address, len(addrs))
	copy(out, addrs)
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i][:], out[j][:]) < 0
	})
	return out
}

// OtherSignatories returns the members other than signer, sorted, as the
// multisig pallet expects them in approve_as_multi and as_multi.
func OtherSignatories(members []types.Address, signer types.Address) ([]types.Address, error) {
	others := make([]types.Address, 0, len(members))
	found := false
	for _, m := range members {
		if m == signer {
			found = true
			continue
		}
		others = append(others, m)
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrNotMember, signer)
	}
	return SortAddresses(others), nil
}
