package extrinsic

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/Klingon-tech/proxyguard/pkg/crypto"
	"github.com/Klingon-tech/proxyguard/pkg/types"
)

func testContext() Context {
	return Context{
		Era:         MortalEra(1000, DefaultEraPeriod),
		Nonce:       7,
		Tip:         big.NewInt(0),
		SpecVersion: 25,
		TxVersion:   5,
		GenesisHash: crypto.Hash([]byte("genesis")),
		BlockHash:   crypto.Hash([]byte("block 1000")),
	}
}

func TestSigningPayload_Layout(t *testing.T) {
	ctx := testContext()
	call := []byte{29, 3}

	got := SigningPayload(call, ctx)

	want := []byte{29, 3}
	want = append(want, ctx.Era.Bytes()...)
	want = append(want, 7<<2, 0)
	want = append(want, 25, 0, 0, 0, 5, 0, 0, 0)
	want = append(want, ctx.GenesisHash[:]...)
	want = append(want, ctx.BlockHash[:]...)
	if !bytes.Equal(got, want) {
		t.Errorf("got %x\nwant %x", got, want)
	}
}

func TestSigningPayload_HashesLongPayloads(t *testing.T) {
	ctx := testContext()
	call := bytes.Repeat([]byte{1}, 300)

	got := SigningPayload(call, ctx)
	if len(got) != 32 {
		t.Fatalf("len = %d, want 32", len(got))
	}

	ctx.Tip = nil
	if !bytes.Equal(SigningPayload(call, ctx), got) {
		t.Error("nil tip should encode as zero")
	}
}

func TestSign_RoundTrip(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	ctx := testContext()
	ctx.Tip = big.NewInt(1000)
	call := []byte{5, 0, 1, 2, 3}

	signed, err := Sign(call, ctx, key)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if signed.Signer != key.AccountID() {
		t.Error("signer should be the key's account id")
	}
	if !signed.Verify(ctx) {
		t.Fatal("signature does not verify")
	}

	encoded := signed.Encode()
	decoded, err := DecodeSigned(encoded)
	if err != nil {
		t.Fatalf("DecodeSigned: %v", err)
	}
	if decoded.Signer != signed.Signer || decoded.Nonce != 7 || decoded.Era != ctx.Era {
		t.Errorf("decoded %+v", decoded)
	}
	if decoded.Tip.Cmp(big.NewInt(1000)) != 0 {
		t.Errorf("tip = %s, want 1000", decoded.Tip)
	}
	if !bytes.Equal(decoded.Call, call) || !bytes.Equal(decoded.Signature, signed.Signature) {
		t.Error("call or signature changed across encoding")
	}
	if !decoded.Verify(ctx) {
		t.Error("decoded extrinsic does not verify")
	}
	if decoded.Hash() != signed.Hash() {
		t.Error("hash changed across encoding")
	}

	// Signing under a different spec version must not verify.
	other := ctx
	other.SpecVersion++
	if signed.Verify(other) {
		t.Error("signature verified under the wrong spec version")
	}
}

func TestSigned_EncodeLayout(t *testing.T) {
	s := &Signed{
		Signer:    types.Address{1},
		Signature: bytes.Repeat([]byte{0xaa}, crypto.SignatureSize),
		Era:       ImmortalEra(),
		Nonce:     1,
		Call:      []byte{29, 3},
	}
	got := s.Encode()

	body := []byte{0x84}
	body = append(body, s.Signer[:]...)
	body = append(body, 2)
	body = append(body, s.Signature...)
	body = append(body, 0, 1<<2, 0, 29, 3)
	if len(body) != 104 {
		t.Fatalf("unexpected body length %d", len(body))
	}
	want := append([]byte{0xa1, 0x01}, body...) // compact(104)
	if !bytes.Equal(got, want) {
		t.Errorf("got %x\nwant %x", got, want)
	}
	if s.Hex()[:6] != "0xa101" {
		t.Errorf("Hex() = %s", s.Hex()[:6])
	}
}

func TestDecodeSigned_Errors(t *testing.T) {
	good := (&Signed{
		Signer:    types.Address{1},
		Signature: make([]byte, crypto.SignatureSize),
		Call:      []byte{29, 3},
	}).Encode()

	unsigned := append([]byte{}, good...)
	unsigned[2] = 0x04

	tests := map[string][]byte{
		"empty":          nil,
		"length":         good[:len(good)-1],
		"unsigned":       unsigned,
		"signature kind": func() []byte { b := append([]byte{}, good...); b[2+1+32] = 0; return b }(),
	}
	for name, b := range tests {
		if _, err := DecodeSigned(b); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}
