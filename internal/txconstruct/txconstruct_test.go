package txconstruct

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/Klingon-tech/proxyguard/internal/sidecar"
	"github.com/Klingon-tech/proxyguard/internal/sidecar/sidecartest"
	"github.com/Klingon-tech/proxyguard/pkg/crypto"
	"github.com/Klingon-tech/proxyguard/pkg/extrinsic"
	"github.com/Klingon-tech/proxyguard/pkg/metadata"
	"github.com/Klingon-tech/proxyguard/pkg/multisig"
	"github.com/Klingon-tech/proxyguard/pkg/types"
)

type testEnv struct {
	chain   *sidecartest.Chain
	client  *sidecar.Client
	builder *Builder
	alice   *crypto.PrivateKey
	bob     *crypto.PrivateKey
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	chain := sidecartest.NewChain()
	t.Cleanup(chain.Close)
	chain.AddEmptyBlocks(10)

	client := sidecar.New(chain.URL(), sidecar.WithRetry(1, 0))

	alice, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	bob, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return &testEnv{
		chain:   chain,
		client:  client,
		builder: New(client),
		alice:   alice,
		bob:     bob,
	}
}

func (e *testEnv) submit(t *testing.T, u *UnsignedCall, signer crypto.Signer) {
	t.Helper()
	signed, err := Sign(u, signer)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, err := e.client.Submit(context.Background(), signed.Hex()); err != nil {
		t.Fatalf("Submit: %v", err)
	}
}

func TestBuildUnsigned_Transfer(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	env.chain.SetNonce(env.alice.AccountID(), 3)
	dest := env.bob.AccountID()

	u, err := env.builder.Transfer(ctx, env.alice.AccountID(), dest, big.NewInt(5_000_000_000))
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if u.Context.Nonce != 3 {
		t.Errorf("nonce = %d, want 3", u.Context.Nonce)
	}
	if u.Height != env.chain.Head() {
		t.Errorf("height = %d, want %d", u.Height, env.chain.Head())
	}
	if u.Context.GenesisHash != env.chain.GenesisHash() || u.Context.BlockHash != env.chain.BlockHash(u.Height) {
		t.Error("genesis or anchor hash not taken from the material")
	}
	if u.Context.SpecVersion != 25 || u.Context.TxVersion != 5 {
		t.Errorf("versions = %d/%d", u.Context.SpecVersion, u.Context.TxVersion)
	}
	if u.Context.Era.Period != extrinsic.DefaultEraPeriod {
		t.Errorf("era period = %d", u.Context.Era.Period)
	}
	if u.Method[0] != 5 || u.Method[1] != 0 {
		t.Errorf("call index = %x, want 0500", u.Method[:2])
	}

	got, err := InspectDestination(u)
	if err != nil {
		t.Fatalf("InspectDestination: %v", err)
	}
	if got == nil || *got != dest {
		t.Errorf("destination = %v, want %s", got, dest)
	}

	env.submit(t, u, env.alice)
	if env.chain.Pending() != 1 {
		t.Errorf("pending = %d, want 1", env.chain.Pending())
	}
}

func TestBuildUnsigned_AtHeight(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	u, err := env.builder.RemoveProxies(ctx, env.alice.AccountID(), AtHeight(4))
	if err != nil {
		t.Fatalf("RemoveProxies: %v", err)
	}
	if u.Height != 4 || u.Context.BlockHash != env.chain.BlockHash(4) {
		t.Errorf("height = %d, anchor = %s", u.Height, u.Context.BlockHash)
	}
	if u.Context.Era.Phase != 4 {
		t.Errorf("era phase = %d, want 4", u.Context.Era.Phase)
	}
	// The anchor is within the era window, so the chain accepts it.
	env.submit(t, u, env.alice)
}

func TestBuildUnsigned_ReusesMetadata(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	first, err := env.builder.RemoveProxies(ctx, env.alice.AccountID())
	if err != nil {
		t.Fatalf("RemoveProxies: %v", err)
	}
	second, err := env.builder.Announce(ctx, env.alice.AccountID(), env.bob.AccountID(), first.CallHash(),
		WithMetadata(first.Metadata), WithTip(big.NewInt(10)))
	if err != nil {
		t.Fatalf("Announce: %v", err)
	}
	if second.Metadata != first.Metadata {
		t.Error("metadata was not reused")
	}
	if second.Registry != first.Registry {
		t.Error("registry should come from the cache")
	}
	if second.Context.Tip.Cmp(big.NewInt(10)) != 0 {
		t.Errorf("tip = %s, want 10", second.Context.Tip)
	}
	dest, err := InspectDestination(second)
	if err != nil || dest != nil {
		t.Errorf("announce destination = %v, %v; want nil, nil", dest, err)
	}
}

func TestBuildUnsigned_AllOperations(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	a, b := env.alice.AccountID(), env.bob.AccountID()
	transfer := &extrinsic.Transfer{Dest: b, Value: big.NewInt(1)}
	ms, err := multisig.DeriveMultisig([]types.Address{a, b}, 2)
	if err != nil {
		t.Fatalf("DeriveMultisig: %v", err)
	}
	tp := &types.Timepoint{Height: 3, Index: 1}

	build := []struct {
		name string
		fn   func() (*UnsignedCall, error)
		dest *types.Address
	}{
		{"approve", func() (*UnsignedCall, error) {
			return env.builder.ApproveAsMulti(ctx, a, 2, []types.Address{b}, nil, extrinsic.Hash([]byte{29, 3}))
		}, nil},
		{"as multi", func() (*UnsignedCall, error) {
			return env.builder.AsMulti(ctx, a, 2, []types.Address{b}, tp, &extrinsic.RemoveProxies{})
		}, nil},
		{"threshold 1", func() (*UnsignedCall, error) {
			return env.builder.AsMultiThreshold1(ctx, a, []types.Address{b}, transfer)
		}, &b},
		{"add proxy", func() (*UnsignedCall, error) {
			return env.builder.AddProxy(ctx, ms, b, extrinsic.ProxyAny, 10)
		}, nil},
		{"proxy announced", func() (*UnsignedCall, error) {
			return env.builder.ProxyAnnounced(ctx, a, a, ms, &extrinsic.AsDerivative{Index: 0, Call: transfer})
		}, &b},
		{"proxy", func() (*UnsignedCall, error) {
			return env.builder.Proxy(ctx, a, ms, transfer)
		}, &b},
		{"reject", func() (*UnsignedCall, error) {
			return env.builder.RejectAnnouncement(ctx, ms, a, extrinsic.Hash(nil))
		}, nil},
		{"remove announcement", func() (*UnsignedCall, error) {
			return env.builder.RemoveAnnouncement(ctx, a, ms, extrinsic.Hash(nil))
		}, nil},
		{"as derivative", func() (*UnsignedCall, error) {
			return env.builder.AsDerivative(ctx, ms, 1, transfer)
		}, &b},
	}
	for _, tt := range build {
		t.Run(tt.name, func(t *testing.T) {
			u, err := tt.fn()
			if err != nil {
				t.Fatalf("build: %v", err)
			}
			decoded, err := extrinsic.Decode(u.Registry, u.Method)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if decoded.Method() != u.Call.Method() {
				t.Errorf("decoded %s, built %s", decoded.Method(), u.Call.Method())
			}
			dest, err := InspectDestination(u)
			if err != nil {
				t.Fatalf("InspectDestination: %v", err)
			}
			switch {
			case tt.dest == nil && dest != nil:
				t.Errorf("destination = %s, want none", dest)
			case tt.dest != nil && (dest == nil || *dest != *tt.dest):
				t.Errorf("destination = %v, want %s", dest, tt.dest)
			}
		})
	}
}

func TestSign_Deterministic(t *testing.T) {
	env := setupTestEnv(t)
	u, err := env.builder.RemoveProxies(context.Background(), env.alice.AccountID())
	if err != nil {
		t.Fatalf("RemoveProxies: %v", err)
	}
	s1, err := Sign(u, env.alice)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	s2, err := Sign(u, env.alice)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if s1.Hex() != s2.Hex() {
		t.Error("signing the same call twice produced different extrinsics")
	}
}

func TestSign_Errors(t *testing.T) {
	env := setupTestEnv(t)
	u, err := env.builder.RemoveProxies(context.Background(), env.alice.AccountID())
	if err != nil {
		t.Fatalf("RemoveProxies: %v", err)
	}

	if _, err := Sign(u, env.bob); err == nil {
		t.Error("expected error signing with a key that is not the origin")
	}

	// Metadata from a runtime that moved the proxy pallet.
	pallets := metadata.DevPallets()
	for i := range pallets {
		if pallets[i].Name == "Proxy" {
			pallets[i].Index = 40
		}
	}
	stale := *u
	stale.Registry = nil
	stale.Metadata = metadata.EncodeHex(metadata.V12, pallets, metadata.DefaultSignedExtensions)
	if _, err := Sign(&stale, env.alice); err == nil {
		t.Error("expected error signing against mismatched metadata")
	}
}

type failingClient struct {
	material *sidecar.TransactionMaterial
}

func (f *failingClient) GetBalanceInfo(context.Context, string, uint64) (*sidecar.BalanceInfo, error) {
	return nil, errors.New("account lookup failed")
}

func (f *failingClient) GetTransactionMaterial(context.Context, uint64, bool) (*sidecar.TransactionMaterial, error) {
	if f.material == nil {
		return nil, errors.New("material unavailable")
	}
	return f.material, nil
}

func TestBuildUnsigned_Errors(t *testing.T) {
	ctx := context.Background()
	origin := types.Address{1}

	b := New(&failingClient{material: &sidecar.TransactionMaterial{Metadata: metadata.EncodeHex(metadata.V12, metadata.DevPallets(), nil)}})
	_, err := b.RemoveProxies(ctx, origin)
	if !errors.Is(err, ErrAccountUnresolvable) {
		t.Errorf("err = %v, want ErrAccountUnresolvable", err)
	}

	b = New(&failingClient{material: &sidecar.TransactionMaterial{Metadata: "0x00"}})
	_, err = b.RemoveProxies(ctx, origin)
	if !errors.Is(err, metadata.ErrMetadataDecode) {
		t.Errorf("err = %v, want ErrMetadataDecode", err)
	}

	b = New(&failingClient{material: &sidecar.TransactionMaterial{}})
	_, err = b.RemoveProxies(ctx, origin)
	if !errors.Is(err, metadata.ErrMetadataDecode) {
		t.Errorf("empty metadata: err = %v, want ErrMetadataDecode", err)
	}

	b = New(&failingClient{})
	if _, err = b.RemoveProxies(ctx, origin); err == nil {
		t.Error("expected error when material is unavailable")
	}
}

func TestSourceOf(t *testing.T) {
	origin := types.Address{1}
	proxied := types.Address{2}
	other := types.Address{3}
	cold := types.Address{9}
	transfer := &extrinsic.TransferKeepAlive{Dest: cold, Value: big.NewInt(5)}

	child, err := multisig.DeriveChild(origin, 0)
	if err != nil {
		t.Fatal(err)
	}
	realChild, err := multisig.DeriveChild(proxied, 3)
	if err != nil {
		t.Fatal(err)
	}
	ms1, err := multisig.DeriveMultisig([]types.Address{origin, other}, 1)
	if err != nil {
		t.Fatal(err)
	}
	ms2, err := multisig.DeriveMultisig([]types.Address{origin, other}, 2)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		call extrinsic.Call
		want types.Address
	}{
		{"plain transfer", transfer, origin},
		{"as_derivative", &extrinsic.AsDerivative{Index: 0, Call: transfer}, child},
		{"proxy", &extrinsic.ProxyCall{Real: proxied, Call: transfer}, proxied},
		{"proxy_announced of as_derivative",
			&extrinsic.ProxyAnnounced{Delegate: other, Real: proxied, Call: &extrinsic.AsDerivative{Index: 3, Call: transfer}},
			realChild},
		{"as_derivative of proxy_announced",
			&extrinsic.AsDerivative{Index: 0, Call: &extrinsic.ProxyAnnounced{Delegate: other, Real: proxied, Call: transfer}},
			proxied},
		{"as_multi_threshold_1", &extrinsic.AsMultiThreshold1{OtherSignatories: []types.Address{other}, Call: transfer}, ms1},
		{"as_multi", &extrinsic.AsMulti{Threshold: 2, OtherSignatories: []types.Address{other}, Call: transfer}, ms2},
		{"no funds moved", &extrinsic.RemoveProxies{}, origin},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SourceOf(tt.call, origin)
			if err != nil {
				t.Fatalf("SourceOf: %v", err)
			}
			if got != tt.want {
				t.Errorf("SourceOf = %s, want %s", got, tt.want)
			}
		})
	}
}
