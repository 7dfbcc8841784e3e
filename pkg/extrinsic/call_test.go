package extrinsic

import (
	"bytes"
	"errors"
	"math/big"
	"reflect"
	"testing"

	"github.com/Klingon-tech/proxyguard/pkg/crypto"
	"github.com/Klingon-tech/proxyguard/pkg/metadata"
	"github.com/Klingon-tech/proxyguard/pkg/scale"
	"github.com/Klingon-tech/proxyguard/pkg/types"
)

func testRegistry(t *testing.T) *metadata.Registry {
	t.Helper()
	reg, err := metadata.Decode(metadata.DevMetadata())
	if err != nil {
		t.Fatalf("decode dev metadata: %v", err)
	}
	return reg
}

func addr(seed byte) types.Address {
	return types.Address(crypto.Hash([]byte{seed}))
}

func TestEncode_TransferLayout(t *testing.T) {
	reg := testRegistry(t)
	dest := addr(1)

	got, err := Encode(reg, &Transfer{Dest: dest, Value: big.NewInt(1_000_000_000_000)})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	want := []byte{5, 0}
	want = append(want, dest[:]...)
	want = scale.AppendCompactBig(want, big.NewInt(1_000_000_000_000))
	if !bytes.Equal(got, want) {
		t.Errorf("got %x\nwant %x", got, want)
	}
}

func TestEncode_ApproveAsMultiLayout(t *testing.T) {
	reg := testRegistry(t)
	others := []types.Address{addr(1), addr(2)}
	callHash := crypto.Hash([]byte("remove proxies"))

	got, err := Encode(reg, &ApproveAsMulti{
		Threshold:        2,
		OtherSignatories: others,
		MaybeTimepoint:   &types.Timepoint{Height: 100, Index: 3},
		CallHash:         callHash,
		MaxWeight:        1_000_000_000,
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	want := []byte{30, 2, 2, 0, 2 << 2}
	want = append(want, others[0][:]...)
	want = append(want, others[1][:]...)
	want = append(want, 1, 100, 0, 0, 0, 3, 0, 0, 0)
	want = append(want, callHash[:]...)
	want = scale.AppendU64(want, 1_000_000_000)
	if !bytes.Equal(got, want) {
		t.Errorf("got %x\nwant %x", got, want)
	}
}

func TestEncodeDecode_Calls(t *testing.T) {
	reg := testRegistry(t)
	staking := ProxyStaking
	transfer := &Transfer{Dest: addr(9), Value: big.NewInt(12345678901234)}

	calls := []Call{
		transfer,
		&TransferKeepAlive{Dest: addr(8), Value: big.NewInt(1)},
		&AsDerivative{Index: 7, Call: transfer},
		&ProxyCall{Real: addr(3), Call: transfer},
		&ProxyCall{Real: addr(3), ForceProxyType: &staking, Call: transfer},
		&AddProxy{Delegate: addr(4), ProxyType: ProxyAny, Delay: 10},
		&RemoveProxies{},
		&Announce{Real: addr(5), CallHash: crypto.Hash([]byte("x"))},
		&RemoveAnnouncement{Real: addr(5), CallHash: crypto.Hash([]byte("y"))},
		&RejectAnnouncement{Delegate: addr(6), CallHash: crypto.Hash([]byte("z"))},
		&ProxyAnnounced{Delegate: addr(6), Real: addr(5), Call: &AsDerivative{Index: 1, Call: transfer}},
		&AsMultiThreshold1{OtherSignatories: []types.Address{addr(1)}, Call: transfer},
		&AsMulti{
			Threshold:        2,
			OtherSignatories: []types.Address{addr(1), addr(2)},
			MaybeTimepoint:   &types.Timepoint{Height: 10, Index: 1},
			Call:             &RemoveProxies{},
			MaxWeight:        1_000_000_000,
		},
		&ApproveAsMulti{Threshold: 2, OtherSignatories: []types.Address{addr(2)}, CallHash: crypto.Hash(nil)},
	}

	for _, c := range calls {
		t.Run(c.Method().String(), func(t *testing.T) {
			encoded, err := Encode(reg, c)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			decoded, err := Decode(reg, encoded)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if !reflect.DeepEqual(decoded, c) {
				t.Errorf("decoded %#v, want %#v", decoded, c)
			}
		})
	}
}

func TestDecode_Errors(t *testing.T) {
	reg := testRegistry(t)

	if _, err := Decode(reg, []byte{99, 0}); !errors.Is(err, ErrUnknownCall) {
		t.Errorf("unknown index: err = %v, want ErrUnknownCall", err)
	}
	// system.remark is in metadata but has no layout here.
	if _, err := Decode(reg, []byte{0, 1, 0}); !errors.Is(err, ErrUnknownCall) {
		t.Errorf("no layout: err = %v, want ErrUnknownCall", err)
	}
	if _, err := Decode(reg, []byte{5}); err == nil {
		t.Error("expected error for truncated index")
	}

	encoded, _ := Encode(reg, &RemoveProxies{})
	if _, err := Decode(reg, append(encoded, 0)); err == nil {
		t.Error("expected error for trailing bytes")
	}

	bad, _ := Encode(reg, &AddProxy{Delegate: addr(1)})
	bad[2+32] = 4 // unused proxy type
	if _, err := Decode(reg, bad); err == nil {
		t.Error("expected error for invalid proxy type")
	}
}

func TestEncode_UnknownCall(t *testing.T) {
	reg, err := metadata.Decode(metadata.Encode(metadata.V12, []metadata.Pallet{
		{Name: "Balances", Index: 5, Calls: []metadata.Call{{Name: "transfer"}}},
	}, nil))
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	_, err = Encode(reg, &RemoveProxies{})
	if !errors.Is(err, ErrUnknownCall) {
		t.Errorf("err = %v, want ErrUnknownCall", err)
	}
	_, err = Encode(testRegistry(t), &AsDerivative{Index: 1})
	if !errors.Is(err, ErrUnknownCall) {
		t.Errorf("nil inner call: err = %v, want ErrUnknownCall", err)
	}
}

func TestEncode_NegativeValue(t *testing.T) {
	reg := testRegistry(t)
	if _, err := Encode(reg, &Transfer{Dest: addr(1), Value: big.NewInt(-1)}); err == nil {
		t.Error("expected error for negative value")
	}
}

func TestDestination(t *testing.T) {
	cold := addr(42)
	transfer := &Transfer{Dest: cold, Value: big.NewInt(1)}

	tests := []struct {
		name string
		call Call
		want types.Address
		ok   bool
	}{
		{"transfer", transfer, cold, true},
		{"keep alive", &TransferKeepAlive{Dest: cold, Value: big.NewInt(1)}, cold, true},
		{"derivative", &AsDerivative{Index: 1, Call: transfer}, cold, true},
		{"proxy", &ProxyCall{Real: addr(1), Call: &AsDerivative{Call: transfer}}, cold, true},
		{"announced", &ProxyAnnounced{Call: transfer}, cold, true},
		{"as multi", &AsMulti{Call: transfer}, cold, true},
		{"threshold 1", &AsMultiThreshold1{Call: transfer}, cold, true},
		{"remove proxies", &RemoveProxies{}, types.Address{}, false},
		{"add proxy", &AddProxy{Delegate: addr(1)}, types.Address{}, false},
		{"derivative of non-transfer", &AsDerivative{Call: &RemoveProxies{}}, types.Address{}, false},
	}
	for _, tt := range tests {
		got, ok := Destination(tt.call)
		if ok != tt.ok || got != tt.want {
			t.Errorf("%s: Destination = %s, %v; want %s, %v", tt.name, got.Hex(), ok, tt.want.Hex(), tt.ok)
		}
	}
}

func TestParseProxyType(t *testing.T) {
	pt, err := ParseProxyType("any")
	if err != nil || pt != ProxyAny {
		t.Errorf("ParseProxyType(any) = %v, %v", pt, err)
	}
	pt, err = ParseProxyType("CancelProxy")
	if err != nil || pt != ProxyCancelProxy {
		t.Errorf("ParseProxyType(CancelProxy) = %v, %v", pt, err)
	}
	if _, err := ParseProxyType("root"); err == nil {
		t.Error("expected error for unknown proxy type")
	}
	if ProxyType(4).String() != "ProxyType(4)" {
		t.Errorf("String() = %s", ProxyType(4))
	}
}
