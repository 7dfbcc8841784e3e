// Package txconstruct builds unsigned calls from sidecar transaction
// material, signs them, and decodes built calls back for inspection.
package txconstruct

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/Klingon-tech/proxyguard/internal/log"
	"github.com/Klingon-tech/proxyguard/internal/sidecar"
	"github.com/Klingon-tech/proxyguard/pkg/crypto"
	"github.com/Klingon-tech/proxyguard/pkg/extrinsic"
	"github.com/Klingon-tech/proxyguard/pkg/metadata"
	"github.com/Klingon-tech/proxyguard/pkg/multisig"
	"github.com/Klingon-tech/proxyguard/pkg/types"
)

// ErrAccountUnresolvable is returned when the origin's nonce cannot be read.
var ErrAccountUnresolvable = errors.New("account unresolvable")

// Client is the part of the sidecar API the builder needs.
type Client interface {
	GetBalanceInfo(ctx context.Context, account string, at uint64) (*sidecar.BalanceInfo, error)
	GetTransactionMaterial(ctx context.Context, at uint64, noMeta bool) (*sidecar.TransactionMaterial, error)
}

// UnsignedCall is a call with everything needed to sign it. It embeds a
// one-time nonce and era anchor, so build a fresh one per submission.
type UnsignedCall struct {
	Origin types.Address
	Call   extrinsic.Call
	// Method is the encoded call.
	Method  []byte
	Context extrinsic.Context
	// Height is the anchor block the material and nonce were read at.
	Height    uint64
	SpecName  string
	ChainName string
	// Metadata is the hex blob the call was encoded against.
	Metadata string
	Registry *metadata.Registry
}

// CallHash returns the BLAKE2b-256 hash of the encoded call.
func (u *UnsignedCall) CallHash() types.Hash {
	return extrinsic.Hash(u.Method)
}

// Builder builds unsigned calls.
type Builder struct {
	client    Client
	eraPeriod uint64
	tip       *big.Int

	mu       sync.Mutex
	registry map[types.Hash]*metadata.Registry
}

// Option configures a Builder.
type Option func(*Builder)

// WithEraPeriod sets the mortality period in blocks.
func WithEraPeriod(period uint64) Option {
	return func(b *Builder) {
		if period > 0 {
			b.eraPeriod = period
		}
	}
}

// WithDefaultTip sets the tip used when a build does not give one.
func WithDefaultTip(tip *big.Int) Option {
	return func(b *Builder) {
		if tip != nil {
			b.tip = new(big.Int).Set(tip)
		}
	}
}

// New creates a Builder.
func New(client Client, opts ...Option) *Builder {
	b := &Builder{
		client:    client,
		eraPeriod: extrinsic.DefaultEraPeriod,
		tip:       new(big.Int),
		registry:  make(map[types.Hash]*metadata.Registry),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

type buildOptions struct {
	height   uint64
	tip      *big.Int
	metadata string
}

// BuildOption adjusts a single build.
type BuildOption func(*buildOptions)

// AtHeight pins the transaction material and nonce to height instead of the
// latest block. Use it when a prerequisite transaction must be included
// before the nonce is read.
func AtHeight(height uint64) BuildOption {
	return func(o *buildOptions) { o.height = height }
}

// WithTip sets the tip for this build.
func WithTip(tip *big.Int) BuildOption {
	return func(o *buildOptions) { o.tip = tip }
}

// WithMetadata reuses a metadata blob from an earlier build; the material is
// then fetched without metadata.
func WithMetadata(hexBlob string) BuildOption {
	return func(o *buildOptions) { o.metadata = hexBlob }
}

// Registry returns the call registry of the runtime at height (0 = latest).
func (b *Builder) Registry(ctx context.Context, opts ...BuildOption) (*metadata.Registry, string, error) {
	o := b.options(opts)
	m, err := b.client.GetTransactionMaterial(ctx, o.height, o.metadata != "")
	if err != nil {
		return nil, "", fmt.Errorf("fetch transaction material: %w", err)
	}
	blob := o.metadata
	if blob == "" {
		blob = m.Metadata
	}
	reg, err := b.decode(blob)
	if err != nil {
		return nil, "", err
	}
	return reg, blob, nil
}

// BuildUnsigned builds call for origin.
func (b *Builder) BuildUnsigned(ctx context.Context, origin types.Address, call extrinsic.Call, opts ...BuildOption) (*UnsignedCall, error) {
	o := b.options(opts)

	material, err := b.client.GetTransactionMaterial(ctx, o.height, o.metadata != "")
	if err != nil {
		return nil, fmt.Errorf("fetch transaction material: %w", err)
	}
	blob := o.metadata
	if blob == "" {
		blob = material.Metadata
	}
	reg, err := b.decode(blob)
	if err != nil {
		return nil, err
	}

	// Read the nonce at the material's block so both describe the same state.
	info, err := b.client.GetBalanceInfo(ctx, origin.String(), material.At.Height)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrAccountUnresolvable, origin, err)
	}

	method, err := extrinsic.Encode(reg, call)
	if err != nil {
		return nil, err
	}

	u := &UnsignedCall{
		Origin: origin,
		Call:   call,
		Method: method,
		Context: extrinsic.Context{
			Era:         extrinsic.MortalEra(material.At.Height, b.eraPeriod),
			Nonce:       info.Nonce,
			Tip:         new(big.Int).Set(o.tip),
			SpecVersion: material.SpecVersion,
			TxVersion:   material.TxVersion,
			GenesisHash: material.GenesisHash,
			BlockHash:   material.At.Hash,
		},
		Height:    material.At.Height,
		SpecName:  material.SpecName,
		ChainName: material.ChainName,
		Metadata:  blob,
		Registry:  reg,
	}

	log.Tx.Debug().
		Str("call", call.Method().String()).
		Str("origin", origin.String()).
		Uint64("nonce", info.Nonce).
		Uint64("height", material.At.Height).
		Str("call_hash", u.CallHash().String()).
		Msg("Built unsigned call")
	return u, nil
}

// Sign signs u with signer. The call is re-encoded against u's own metadata
// before the payload is computed, so a call built under one runtime cannot be
// signed under another.
func Sign(u *UnsignedCall, signer crypto.Signer) (*extrinsic.Signed, error) {
	if signer.AccountID() != u.Origin {
		return nil, fmt.Errorf("signer %s is not the call origin %s", signer.AccountID(), u.Origin)
	}
	reg := u.Registry
	if reg == nil {
		var err error
		if reg, err = metadata.DecodeHex(u.Metadata); err != nil {
			return nil, err
		}
	}
	method, err := extrinsic.Encode(reg, u.Call)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(method, u.Method) {
		return nil, fmt.Errorf("call %s does not match its metadata", u.Call.Method())
	}
	return extrinsic.Sign(method, u.Context, signer)
}

// InspectDestination decodes u's encoded call and returns its funds
// destination. It returns nil when the call has no single destination.
func InspectDestination(u *UnsignedCall) (*types.Address, error) {
	reg := u.Registry
	if reg == nil {
		var err error
		if reg, err = metadata.DecodeHex(u.Metadata); err != nil {
			return nil, err
		}
	}
	return DestinationOf(reg, u.Method)
}

// DestinationOf decodes an encoded call and returns its funds destination,
// or nil when it has none.
func DestinationOf(reg *metadata.Registry, call []byte) (*types.Address, error) {
	decoded, err := extrinsic.Decode(reg, call)
	if err != nil {
		return nil, err
	}
	dest, ok := extrinsic.Destination(decoded)
	if !ok {
		return nil, nil
	}
	return &dest, nil
}

// SourceOf returns the account whose funds call moves when origin
// dispatches it. It follows the wrappers extrinsic.Destination unwraps:
// as_derivative moves to the derivative account, proxy calls to the real
// account and multisig calls to the multisig account.
func SourceOf(call extrinsic.Call, origin types.Address) (types.Address, error) {
	switch c := call.(type) {
	case *extrinsic.AsDerivative:
		child, err := multisig.DeriveChild(origin, int(c.Index))
		if err != nil {
			return types.Address{}, err
		}
		return SourceOf(c.Call, child)
	case *extrinsic.ProxyCall:
		return SourceOf(c.Call, c.Real)
	case *extrinsic.ProxyAnnounced:
		return SourceOf(c.Call, c.Real)
	case *extrinsic.AsMultiThreshold1:
		ms, err := multisig.DeriveMultisig(append([]types.Address{origin}, c.OtherSignatories...), 1)
		if err != nil {
			return types.Address{}, err
		}
		return SourceOf(c.Call, ms)
	case *extrinsic.AsMulti:
		ms, err := multisig.DeriveMultisig(append([]types.Address{origin}, c.OtherSignatories...), int(c.Threshold))
		if err != nil {
			return types.Address{}, err
		}
		return SourceOf(c.Call, ms)
	}
	return origin, nil
}

func (b *Builder) options(opts []BuildOption) buildOptions {
	o := buildOptions{tip: b.tip}
	for _, opt := range opts {
		opt(&o)
	}
	if o.tip == nil || o.tip.Sign() < 0 {
		o.tip = new(big.Int)
	}
	return o
}

func (b *Builder) decode(blob string) (*metadata.Registry, error) {
	if blob == "" {
		return nil, fmt.Errorf("%w: no metadata in transaction material", metadata.ErrMetadataDecode)
	}
	key := crypto.Hash([]byte(blob))

	b.mu.Lock()
	reg, ok := b.registry[key]
	b.mu.Unlock()
	if ok {
		return reg, nil
	}

	reg, err := metadata.DecodeHex(blob)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.registry[key] = reg
	b.mu.Unlock()
	return reg, nil
}
