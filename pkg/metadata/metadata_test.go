package metadata

import (
	"errors"
	"testing"

	"github.com/Klingon-tech/proxyguard/pkg/scale"
)

func TestDecode_DevMetadata(t *testing.T) {
	reg, err := Decode(DevMetadata())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if reg.Version != V12 {
		t.Errorf("Version = %d, want 12", reg.Version)
	}
	if reg.ExtrinsicVersion != 4 {
		t.Errorf("ExtrinsicVersion = %d, want 4", reg.ExtrinsicVersion)
	}
	if len(reg.SignedExtensions) != len(DefaultSignedExtensions) {
		t.Errorf("SignedExtensions = %v", reg.SignedExtensions)
	}
	if len(reg.Pallets()) != len(DevPallets()) {
		t.Errorf("pallet count = %d, want %d", len(reg.Pallets()), len(DevPallets()))
	}

	tests := []struct {
		pallet, call string
		want         [2]byte
	}{
		{"balances", "transfer", [2]byte{5, 0}},
		{"Balances", "transfer_keep_alive", [2]byte{5, 3}},
		{"utility", "asDerivative", [2]byte{26, 1}},
		{"proxy", "proxy", [2]byte{29, 0}},
		{"proxy", "addProxy", [2]byte{29, 1}},
		{"proxy", "remove_proxies", [2]byte{29, 3}},
		{"proxy", "announce", [2]byte{29, 6}},
		{"proxy", "removeAnnouncement", [2]byte{29, 7}},
		{"proxy", "rejectAnnouncement", [2]byte{29, 8}},
		{"proxy", "proxyAnnounced", [2]byte{29, 9}},
		{"multisig", "asMultiThreshold1", [2]byte{30, 0}},
		{"multisig", "as_multi", [2]byte{30, 1}},
		{"multisig", "approveAsMulti", [2]byte{30, 2}},
	}
	for _, tt := range tests {
		ref, ok := reg.Call(tt.pallet, tt.call)
		if !ok {
			t.Errorf("%s.%s not found", tt.pallet, tt.call)
			continue
		}
		if ref.Index != tt.want {
			t.Errorf("%s.%s index = %v, want %v", tt.pallet, tt.call, ref.Index, tt.want)
		}
		back, ok := reg.CallByIndex(ref.Index)
		if !ok || back.Name != ref.Name || back.Pallet != ref.Pallet {
			t.Errorf("CallByIndex(%v) = %+v, want %s.%s", ref.Index, back, ref.Pallet, ref.Name)
		}
	}

	if _, ok := reg.Call("proxy", "nope"); ok {
		t.Error("unknown call should not resolve")
	}
	if _, ok := reg.Call("nope", "transfer"); ok {
		t.Error("unknown pallet should not resolve")
	}
	if _, ok := reg.CallByIndex([2]byte{5, 200}); ok {
		t.Error("out of range call index should not resolve")
	}
	if !reg.HasEvent("multisig", "MultisigExecuted") {
		t.Error("expected multisig.MultisigExecuted")
	}
	if reg.HasEvent("multisig", "ProxyExecuted") {
		t.Error("multisig should not declare ProxyExecuted")
	}
}

func TestDecode_V11ImpliedIndices(t *testing.T) {
	pallets := []Pallet{
		{Name: "System", Calls: calls(Call{Name: "remark"})},
		{Name: "Timestamp"}, // no calls
		{Name: "Balances", Calls: calls(Call{Name: "transfer"})},
	}
	reg, err := Decode(Encode(V11, pallets, nil))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	ref, ok := reg.Call("balances", "transfer")
	if !ok {
		t.Fatal("balances.transfer not found")
	}
	if ref.Index != [2]byte{1, 0} {
		t.Errorf("index = %v, want [1 0]", ref.Index)
	}
}

func TestDecode_SkipsStorageConstantsErrors(t *testing.T) {
	str := func(buf []byte, s string) []byte { return scale.AppendBytes(buf, []byte(s)) }

	buf := scale.AppendU32(nil, Magic)
	buf = append(buf, V12)
	buf = scale.AppendCompact(buf, 1)
	buf = str(buf, "Proxy")

	// Storage with one entry of each kind.
	buf = append(buf, 1)
	buf = str(buf, "Proxy")
	buf = scale.AppendCompact(buf, 3)

	buf = str(buf, "Plain")
	buf = append(buf, 0, 0)
	buf = str(buf, "u32")
	buf = scale.AppendBytes(buf, []byte{0, 0, 0, 0})
	buf = scale.AppendCompact(buf, 1)
	buf = str(buf, "doc line")

	buf = str(buf, "Proxies")
	buf = append(buf, 1, 1, 2) // default modifier, map, twox64concat
	buf = str(buf, "T::AccountId")
	buf = str(buf, "Vec<ProxyDefinition>")
	buf = append(buf, 0) // unused
	buf = scale.AppendBytes(buf, []byte{0})
	buf = scale.AppendCompact(buf, 0)

	buf = str(buf, "Announcements")
	buf = append(buf, 1, 2, 2)
	buf = str(buf, "T::AccountId")
	buf = str(buf, "CallHash")
	buf = str(buf, "Announcement")
	buf = append(buf, 0)
	buf = scale.AppendBytes(buf, nil)
	buf = scale.AppendCompact(buf, 0)

	// Calls.
	buf = append(buf, 1)
	buf = scale.AppendCompact(buf, 1)
	buf = str(buf, "remove_proxies")
	buf = scale.AppendCompact(buf, 0)
	buf = scale.AppendCompact(buf, 0)

	// Events: none.
	buf = append(buf, 0)

	// Constants.
	buf = scale.AppendCompact(buf, 1)
	buf = str(buf, "MaxProxies")
	buf = str(buf, "u16")
	buf = scale.AppendBytes(buf, []byte{32, 0})
	buf = scale.AppendCompact(buf, 0)

	// Errors.
	buf = scale.AppendCompact(buf, 1)
	buf = str(buf, "TooMany")
	buf = scale.AppendCompact(buf, 0)

	buf = append(buf, 29)
	buf = append(buf, 4, 0)

	reg, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	ref, ok := reg.Call("proxy", "removeProxies")
	if !ok || ref.Index != [2]byte{29, 0} {
		t.Errorf("proxy.removeProxies = %+v, %v", ref, ok)
	}
}

func TestDecode_Errors(t *testing.T) {
	good := DevMetadata()

	badMagic := append([]byte{}, good...)
	badMagic[0] = 'x'

	badVersion := append([]byte{}, good...)
	badVersion[4] = 9

	tests := []struct {
		name string
		blob []byte
	}{
		{"empty", nil},
		{"bad magic", badMagic},
		{"unsupported version", badVersion},
		{"truncated", good[:len(good)/2]},
		{"trailing bytes", append(append([]byte{}, good...), 0xff)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.blob)
			if !errors.Is(err, ErrMetadataDecode) {
				t.Errorf("err = %v, want ErrMetadataDecode", err)
			}
		})
	}

	if _, err := DecodeHex("0xzz"); !errors.Is(err, ErrMetadataDecode) {
		t.Errorf("DecodeHex bad hex: err = %v", err)
	}
}

func TestDecodeHex_RoundTrip(t *testing.T) {
	reg, err := DecodeHex(EncodeHex(V12, DevPallets(), DefaultSignedExtensions))
	if err != nil {
		t.Fatalf("DecodeHex: %v", err)
	}
	if _, ok := reg.Call("multisig", "approve_as_multi"); !ok {
		t.Error("multisig.approve_as_multi not found")
	}
}

func TestSameName(t *testing.T) {
	if !SameName("approve_as_multi", "approveAsMulti") {
		t.Error("snake and camel case should match")
	}
	if SameName("transfer", "transferKeepAlive") {
		t.Error("different names should not match")
	}
}
