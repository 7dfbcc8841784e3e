package multisig

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/Klingon-tech/proxyguard/pkg/crypto"
	"github.com/Klingon-tech/proxyguard/pkg/types"
)

func testAddr(seed byte) types.Address {
	return types.Address(crypto.Hash([]byte{seed}))
}

func testMembers(n int) []types.Address {
	out := make([]types.Address, n)
	for i := range out {
		out[i] = testAddr(byte(i + 1))
	}
	return out
}

// referenceDerive builds the preimage with fixed offsets, the way a byte
// buffer would be laid out by hand: tag | n<<2 | sorted keys | threshold u16.
func referenceDerive(members []types.Address, threshold int) types.Address {
	sorted := SortAddresses(members)
	buf := make([]byte, len(SubAccountTag)+1+32*len(sorted)+2)
	copy(buf, SubAccountTag)
	buf[len(SubAccountTag)] = byte(len(sorted) << 2)
	for i, m := range sorted {
		copy(buf[len(SubAccountTag)+1+i*32:], m[:])
	}
	buf[len(SubAccountTag)+1+32*len(sorted)] = byte(threshold)
	return types.Address(crypto.Hash(buf))
}

func TestDeriveMultisig_MatchesReferenceLayout(t *testing.T) {
	for n := 1; n <= 10; n++ {
		members := testMembers(n)
		for threshold := 1; threshold <= n; threshold++ {
			got, err := DeriveMultisig(members, threshold)
			if err != nil {
				t.Fatalf("DeriveMultisig(%d of %d): %v", threshold, n, err)
			}
			if want := referenceDerive(members, threshold); got != want {
				t.Errorf("%d of %d: got %s, want %s", threshold, n, got.Hex(), want.Hex())
			}
		}
	}
}

func TestDeriveMultisig_PermutationInvariant(t *testing.T) {
	members := testMembers(6)
	want, err := DeriveMultisig(members, 3)
	if err != nil {
		t.Fatalf("DeriveMultisig: %v", err)
	}

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 50; i++ {
		perm := make([]types.Address, len(members))
		copy(perm, members)
		rng.Shuffle(len(perm), func(a, b int) { perm[a], perm[b] = perm[b], perm[a] })

		got, err := DeriveMultisig(perm, 3)
		if err != nil {
			t.Fatalf("DeriveMultisig: %v", err)
		}
		if got != want {
			t.Fatalf("permutation %d changed the address", i)
		}
	}
}

func TestDeriveMultisig_DoesNotMutateInput(t *testing.T) {
	members := []types.Address{testAddr(9), testAddr(1), testAddr(5)}
	before := make([]types.Address, len(members))
	copy(before, members)

	if _, err := DeriveMultisig(members, 2); err != nil {
		t.Fatalf("DeriveMultisig: %v", err)
	}
	for i := range members {
		if members[i] != before[i] {
			t.Fatal("DeriveMultisig reordered the caller's slice")
		}
	}
}

func TestDeriveMultisig_SensitiveToInputs(t *testing.T) {
	members := testMembers(3)
	base, _ := DeriveMultisig(members, 2)

	seen := map[types.Address]string{base: "base"}

	otherThreshold, _ := DeriveMultisig(members, 3)
	if _, dup := seen[otherThreshold]; dup {
		t.Error("changing the threshold should change the address")
	}
	seen[otherThreshold] = "threshold"

	for i := range members {
		swapped := make([]types.Address, len(members))
		copy(swapped, members)
		swapped[i] = testAddr(byte(100 + i))
		got, err := DeriveMultisig(swapped, 2)
		if err != nil {
			t.Fatalf("DeriveMultisig: %v", err)
		}
		if prev, dup := seen[got]; dup {
			t.Errorf("replacing member %d collides with %s", i, prev)
		}
		seen[got] = "swap"
	}
}

func TestDeriveMultisig_NoCollisionsInCorpus(t *testing.T) {
	seen := make(map[types.Address]struct{})
	for n := 1; n <= 8; n++ {
		for offset := 0; offset < 8; offset++ {
			members := make([]types.Address, n)
			for i := range members {
				members[i] = testAddr(byte(offset*16 + i))
			}
			for threshold := 1; threshold <= n; threshold++ {
				a, err := DeriveMultisig(members, threshold)
				if err != nil {
					t.Fatalf("DeriveMultisig: %v", err)
				}
				if _, dup := seen[a]; dup {
					t.Fatalf("collision at n=%d offset=%d threshold=%d", n, offset, threshold)
				}
				seen[a] = struct{}{}
			}
		}
	}
}

func TestDeriveMultisig_InvalidThreshold(t *testing.T) {
	members := testMembers(3)
	for _, threshold := range []int{-1, 0, 4, 100} {
		_, err := DeriveMultisig(members, threshold)
		if !errors.Is(err, ErrInvalidThreshold) {
			t.Errorf("threshold %d: err = %v, want ErrInvalidThreshold", threshold, err)
		}
	}

	if _, err := DeriveMultisig(nil, 1); !errors.Is(err, ErrInvalidThreshold) {
		t.Errorf("empty members: err = %v, want ErrInvalidThreshold", err)
	}
}

func TestDeriveMultisig_DuplicateMembers(t *testing.T) {
	a, b := testAddr(1), testAddr(2)
	_, err := DeriveMultisig([]types.Address{a, b, a}, 2)
	if !errors.Is(err, ErrAmbiguousMembership) {
		t.Errorf("err = %v, want ErrAmbiguousMembership", err)
	}
}

func TestDeriveChild(t *testing.T) {
	parent, _ := DeriveMultisig(testMembers(3), 2)

	seen := make(map[types.Address]int)
	for i := 0; i < 64; i++ {
		child, err := DeriveChild(parent, i)
		if err != nil {
			t.Fatalf("DeriveChild(%d): %v", i, err)
		}
		if prev, dup := seen[child]; dup {
			t.Fatalf("DeriveChild(%d) == DeriveChild(%d)", i, prev)
		}
		seen[child] = i

		again, _ := DeriveChild(parent, i)
		if again != child {
			t.Fatalf("DeriveChild(%d) is not stable", i)
		}
		if child == parent {
			t.Fatalf("DeriveChild(%d) equals its parent", i)
		}
	}
}

func TestDeriveChild_Layout(t *testing.T) {
	parent := testAddr(7)
	child, err := DeriveChild(parent, 0x0102)
	if err != nil {
		t.Fatalf("DeriveChild: %v", err)
	}
	want := crypto.HashConcat([]byte(SubAccountTag), parent[:], []byte{0x02, 0x01})
	if child != types.Address(want) {
		t.Errorf("got %s, want %s", child.Hex(), types.Address(want).Hex())
	}
}

func TestDeriveChild_InvalidIndex(t *testing.T) {
	for _, idx := range []int{-1, 65536} {
		if _, err := DeriveChild(testAddr(1), idx); !errors.Is(err, ErrInvalidIndex) {
			t.Errorf("index %d: err = %v, want ErrInvalidIndex", idx, err)
		}
	}
}

func TestOtherSignatories(t *testing.T) {
	members := []types.Address{testAddr(3), testAddr(1), testAddr(2)}
	others, err := OtherSignatories(members, members[0])
	if err != nil {
		t.Fatalf("OtherSignatories: %v", err)
	}
	if len(others) != 2 {
		t.Fatalf("len = %d, want 2", len(others))
	}
	for _, o := range others {
		if o == members[0] {
			t.Error("signer should be excluded")
		}
	}
	sorted := SortAddresses(others)
	for i := range others {
		if others[i] != sorted[i] {
			t.Error("other signatories should be sorted")
		}
	}

	if _, err := OtherSignatories(members, testAddr(99)); !errors.Is(err, ErrNotMember) {
		t.Errorf("err = %v, want ErrNotMember", err)
	}
}

func TestDescriptor(t *testing.T) {
	d := Descriptor{Members: testMembers(3), Threshold: 2}

	// Three independent computations give the same address.
	first, err := d.Address()
	if err != nil {
		t.Fatalf("Address: %v", err)
	}
	for i := 0; i < 2; i++ {
		again, _ := Descriptor{Members: SortAddresses(d.Members), Threshold: 2}.Address()
		if again != first {
			t.Fatal("descriptor address is not deterministic")
		}
	}

	if !d.IsMember(d.Members[1]) {
		t.Error("IsMember should report members")
	}
	if d.IsMember(testAddr(42)) {
		t.Error("IsMember should reject non-members")
	}
}
