package txconstruct

import (
	"context"
	"math/big"

	"github.com/Klingon-tech/proxyguard/pkg/extrinsic"
	"github.com/Klingon-tech/proxyguard/pkg/types"
)

// DefaultMaxWeight is the max_weight passed to multisig calls.
const DefaultMaxWeight = 1_000_000_000

// Transfer builds balances.transfer from origin to dest.
func (b *Builder) Transfer(ctx context.Context, origin, dest types.Address, value *big.Int, opts ...BuildOption) (*UnsignedCall, error) {
	return b.BuildUnsigned(ctx, origin, &extrinsic.Transfer{Dest: dest, Value: value}, opts...)
}

// ApproveAsMulti builds multisig.approve_as_multi. Pass a nil timepoint for
// the first approval.
func (b *Builder) ApproveAsMulti(ctx context.Context, origin types.Address, threshold uint16, others []types.Address,
	timepoint *types.Timepoint, callHash types.Hash, opts ...BuildOption) (*UnsignedCall, error) {
	return b.BuildUnsigned(ctx, origin, &extrinsic.ApproveAsMulti{
		Threshold:        threshold,
		OtherSignatories: others,
		MaybeTimepoint:   timepoint,
		CallHash:         callHash,
		MaxWeight:        DefaultMaxWeight,
	}, opts...)
}

// AsMulti builds multisig.as_multi carrying the full call. With the
// timepoint of the first approval and the threshold reached, it executes.
func (b *Builder) AsMulti(ctx context.Context, origin types.Address, threshold uint16, others []types.Address,
	timepoint *types.Timepoint, call extrinsic.Call, opts ...BuildOption) (*UnsignedCall, error) {
	return b.BuildUnsigned(ctx, origin, &extrinsic.AsMulti{
		Threshold:        threshold,
		OtherSignatories: others,
		MaybeTimepoint:   timepoint,
		Call:             call,
		StoreCall:        false,
		MaxWeight:        DefaultMaxWeight,
	}, opts...)
}

// AsMultiThreshold1 builds multisig.as_multi_threshold_1.
func (b *Builder) AsMultiThreshold1(ctx context.Context, origin types.Address, others []types.Address,
	call extrinsic.Call, opts ...BuildOption) (*UnsignedCall, error) {
	return b.BuildUnsigned(ctx, origin, &extrinsic.AsMultiThreshold1{OtherSignatories: others, Call: call}, opts...)
}

// AddProxy builds proxy.add_proxy, registering delegate for origin.
func (b *Builder) AddProxy(ctx context.Context, origin, delegate types.Address, proxyType extrinsic.ProxyType,
	delay uint32, opts ...BuildOption) (*UnsignedCall, error) {
	return b.BuildUnsigned(ctx, origin, &extrinsic.AddProxy{Delegate: delegate, ProxyType: proxyType, Delay: delay}, opts...)
}

// Announce builds proxy.announce from the delegate on behalf of real.
func (b *Builder) Announce(ctx context.Context, delegate, real types.Address, callHash types.Hash, opts ...BuildOption) (*UnsignedCall, error) {
	return b.BuildUnsigned(ctx, delegate, &extrinsic.Announce{Real: real, CallHash: callHash}, opts...)
}

// ProxyAnnounced builds proxy.proxy_announced, executing an announced call.
// origin may be any account; the call runs as real through delegate.
func (b *Builder) ProxyAnnounced(ctx context.Context, origin, delegate, real types.Address, call extrinsic.Call,
	opts ...BuildOption) (*UnsignedCall, error) {
	return b.BuildUnsigned(ctx, origin, &extrinsic.ProxyAnnounced{Delegate: delegate, Real: real, Call: call}, opts...)
}

// Proxy builds proxy.proxy, dispatching call as real immediately.
func (b *Builder) Proxy(ctx context.Context, delegate, real types.Address, call extrinsic.Call, opts ...BuildOption) (*UnsignedCall, error) {
	return b.BuildUnsigned(ctx, delegate, &extrinsic.ProxyCall{Real: real, Call: call}, opts...)
}

// RemoveProxies builds proxy.remove_proxies for origin.
func (b *Builder) RemoveProxies(ctx context.Context, origin types.Address, opts ...BuildOption) (*UnsignedCall, error) {
	return b.BuildUnsigned(ctx, origin, &extrinsic.RemoveProxies{}, opts...)
}

// RejectAnnouncement builds proxy.reject_announcement, sent by the real
// account against one of its delegate's announcements.
func (b *Builder) RejectAnnouncement(ctx context.Context, real, delegate types.Address, callHash types.Hash,
	opts ...BuildOption) (*UnsignedCall, error) {
	return b.BuildUnsigned(ctx, real, &extrinsic.RejectAnnouncement{Delegate: delegate, CallHash: callHash}, opts...)
}

// RemoveAnnouncement builds proxy.remove_announcement, sent by the delegate
// to withdraw its own announcement.
func (b *Builder) RemoveAnnouncement(ctx context.Context, delegate, real types.Address, callHash types.Hash,
	opts ...BuildOption) (*UnsignedCall, error) {
	return b.BuildUnsigned(ctx, delegate, &extrinsic.RemoveAnnouncement{Real: real, CallHash: callHash}, opts...)
}

// AsDerivative builds utility.as_derivative, dispatching call from origin's
// derivative account at index.
func (b *Builder) AsDerivative(ctx context.Context, origin types.Address, index uint16, call extrinsic.Call,
	opts ...BuildOption) (*UnsignedCall, error) {
	return b.BuildUnsigned(ctx, origin, &extrinsic.AsDerivative{Index: index, Call: call}, opts...)
}
