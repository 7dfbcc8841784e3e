package sidecartest

import (
	"fmt"
	"math/big"
	"strconv"
	"sync"

	"github.com/Klingon-tech/proxyguard/internal/sidecar"
	"github.com/Klingon-tech/proxyguard/pkg/extrinsic"
	"github.com/Klingon-tech/proxyguard/pkg/metadata"
	"github.com/Klingon-tech/proxyguard/pkg/multisig"
	"github.com/Klingon-tech/proxyguard/pkg/types"
)

// Pallet indices of the dispatch errors the runtime reports.
const (
	proxyPalletIndex    = 29
	multisigPalletIndex = 30
)

type dispatchError struct {
	pallet int
	index  int
	name   string
}

func (e *dispatchError) Error() string { return e.name }

var (
	errNotProxy          = &dispatchError{proxyPalletIndex, 1, "NotProxy"}
	errUnannounced       = &dispatchError{proxyPalletIndex, 4, "Unannounced"}
	errNotFound          = &dispatchError{proxyPalletIndex, 2, "NotFound"}
	errUnexpectedTP      = &dispatchError{multisigPalletIndex, 9, "UnexpectedTimepoint"}
	errNoTimepoint       = &dispatchError{multisigPalletIndex, 8, "NoTimepoint"}
	errAlreadyApproved   = &dispatchError{multisigPalletIndex, 2, "AlreadyApproved"}
	errWrongTimepoint    = &dispatchError{multisigPalletIndex, 10, "WrongTimepoint"}
	errMinimumThreshold  = &dispatchError{multisigPalletIndex, 0, "MinimumThreshold"}
	errSenderInSignatory = &dispatchError{multisigPalletIndex, 6, "SenderInSignatories"}
)

// ProxyDef is one registered proxy of an account.
type ProxyDef struct {
	Delegate  types.Address
	ProxyType extrinsic.ProxyType
	Delay     uint32
}

type announcement struct {
	real     types.Address
	callHash types.Hash
	height   uint64
}

type pendingMultisig struct {
	when      types.Timepoint
	approvals []types.Address
}

type multisigKey struct {
	account  types.Address
	callHash types.Hash
}

// PalletRuntime is a Runtime that executes balances transfers and the
// proxy, multisig and utility pallets the way a 2020 Polkadot runtime does,
// emitting the events the sidecar would show. Balances are not tracked.
type PalletRuntime struct {
	mu            sync.Mutex
	proxies       map[types.Address][]ProxyDef
	announcements map[types.Address][]announcement
	multisigs     map[multisigKey]*pendingMultisig
	reg           *metadata.Registry
}

// NewPalletRuntime creates an empty runtime.
func NewPalletRuntime() *PalletRuntime {
	return &PalletRuntime{
		proxies:       make(map[types.Address][]ProxyDef),
		announcements: make(map[types.Address][]announcement),
		multisigs:     make(map[multisigKey]*pendingMultisig),
	}
}

// AddProxy registers delegate as a proxy of real, as if added at genesis.
func (r *PalletRuntime) AddProxy(real types.Address, def ProxyDef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.proxies[real] = append(r.proxies[real], def)
}

// Proxies returns the proxies of real.
func (r *PalletRuntime) Proxies(real types.Address) []ProxyDef {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ProxyDef(nil), r.proxies[real]...)
}

// Runtime returns the Runtime to install with Chain.SetRuntime.
func (r *PalletRuntime) Runtime() Runtime {
	return r.apply
}

func (r *PalletRuntime) apply(height uint64, index int, tx *extrinsic.Signed, reg *metadata.Registry) sidecar.Extrinsic {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reg = reg

	method := MethodOf(tx, reg)
	call, err := extrinsic.Decode(reg, tx.Call)
	if err != nil {
		return Ext(method, tx.Signer, failed(&dispatchError{0, 0, "BadCall"}))
	}
	at := types.Timepoint{Height: uint32(height), Index: uint32(index)}
	events, err := r.dispatch(at, height, tx.Signer, call)
	if err != nil {
		return Ext(method, tx.Signer, failed(err))
	}
	events = append(events, Ev("system", "ExtrinsicSuccess", map[string]string{"weight": "0"}))
	return Ext(method, tx.Signer, events...)
}

func (r *PalletRuntime) dispatch(at types.Timepoint, height uint64, origin types.Address, call extrinsic.Call) ([]sidecar.Event, error) {
	switch c := call.(type) {
	case *extrinsic.Transfer:
		return []sidecar.Event{transferEvent(origin, c.Dest, c.Value)}, nil
	case *extrinsic.TransferKeepAlive:
		return []sidecar.Event{transferEvent(origin, c.Dest, c.Value)}, nil

	case *extrinsic.AsDerivative:
		child, err := multisig.DeriveChild(origin, int(c.Index))
		if err != nil {
			return nil, err
		}
		return r.dispatch(at, height, child, c.Call)

	case *extrinsic.AddProxy:
		r.proxies[origin] = append(r.proxies[origin], ProxyDef{Delegate: c.Delegate, ProxyType: c.ProxyType, Delay: c.Delay})
		return nil, nil
	case *extrinsic.RemoveProxies:
		delete(r.proxies, origin)
		return nil, nil

	case *extrinsic.Announce:
		if _, ok := r.findProxy(c.Real, origin); !ok {
			return nil, errNotProxy
		}
		r.announcements[origin] = append(r.announcements[origin], announcement{real: c.Real, callHash: c.CallHash, height: height})
		return []sidecar.Event{Ev("proxy", "Announced", c.Real.String(), origin.String(), c.CallHash.String())}, nil
	case *extrinsic.RemoveAnnouncement:
		if !r.dropAnnouncement(origin, c.Real, c.CallHash) {
			return nil, errNotFound
		}
		return nil, nil
	case *extrinsic.RejectAnnouncement:
		if !r.dropAnnouncement(c.Delegate, origin, c.CallHash) {
			return nil, errNotFound
		}
		return nil, nil

	case *extrinsic.ProxyCall:
		def, ok := r.findProxy(c.Real, origin)
		if !ok || def.Delay != 0 {
			return nil, errNotProxy
		}
		return r.proxied(at, height, c.Real, c.Call), nil
	case *extrinsic.ProxyAnnounced:
		def, ok := r.findProxy(c.Real, c.Delegate)
		if !ok {
			return nil, errNotProxy
		}
		encoded, err := extrinsic.Encode(r.reg, c.Call)
		if err != nil {
			return nil, err
		}
		h := extrinsic.Hash(encoded)
		ready := false
		for _, a := range r.announcements[c.Delegate] {
			if a.real == c.Real && a.callHash == h && a.height+uint64(def.Delay) <= height {
				ready = true
			}
		}
		if !ready {
			return nil, errUnannounced
		}
		r.dropAnnouncement(c.Delegate, c.Real, h)
		return r.proxied(at, height, c.Real, c.Call), nil

	case *extrinsic.AsMultiThreshold1:
		ms, err := multisig.DeriveMultisig(append([]types.Address{origin}, c.OtherSignatories...), 1)
		if err != nil {
			return nil, errSenderInSignatory
		}
		return r.dispatch(at, height, ms, c.Call)
	case *extrinsic.ApproveAsMulti:
		return r.approve(at, origin, c.Threshold, c.OtherSignatories, c.MaybeTimepoint, c.CallHash, nil, height)
	case *extrinsic.AsMulti:
		return r.approve(at, origin, c.Threshold, c.OtherSignatories, c.MaybeTimepoint, types.Hash{}, c.Call, height)
	}
	return nil, &dispatchError{0, 0, "CallFiltered"}
}

// proxied dispatches call as real. The outcome travels in ProxyExecuted;
// the proxy extrinsic itself succeeds either way.
func (r *PalletRuntime) proxied(at types.Timepoint, height uint64, real types.Address, call extrinsic.Call) []sidecar.Event {
	events, err := r.dispatch(at, height, real, call)
	return append(events, Ev("proxy", "ProxyExecuted", dispatchResult(err)))
}

func (r *PalletRuntime) approve(at types.Timepoint, origin types.Address, threshold uint16, others []types.Address,
	tp *types.Timepoint, callHash types.Hash, call extrinsic.Call, height uint64) ([]sidecar.Event, error) {
	if threshold < 2 {
		return nil, errMinimumThreshold
	}
	ms, err := multisig.DeriveMultisig(append([]types.Address{origin}, others...), int(threshold))
	if err != nil {
		return nil, errSenderInSignatory
	}
	if call != nil {
		encoded, err := extrinsic.Encode(r.reg, call)
		if err != nil {
			return nil, err
		}
		callHash = extrinsic.Hash(encoded)
	}
	key := multisigKey{ms, callHash}

	p, ok := r.multisigs[key]
	if !ok {
		if tp != nil {
			return nil, errUnexpectedTP
		}
		r.multisigs[key] = &pendingMultisig{when: at, approvals: []types.Address{origin}}
		return []sidecar.Event{Ev("multisig", "NewMultisig", origin.String(), ms.String(), callHash.String())}, nil
	}
	if tp == nil {
		return nil, errNoTimepoint
	}
	if *tp != p.when {
		return nil, errWrongTimepoint
	}
	approved := false
	for _, a := range p.approvals {
		if a == origin {
			approved = true
		}
	}
	count := len(p.approvals)
	if !approved {
		count++
	}
	if call != nil && count >= int(threshold) {
		delete(r.multisigs, key)
		events, err := r.dispatch(at, height, ms, call)
		return append(events, Ev("multisig", "MultisigExecuted",
			origin.String(), timepointJSON(p.when), ms.String(), callHash.String(), dispatchResult(err))), nil
	}
	if approved {
		return nil, errAlreadyApproved
	}
	p.approvals = append(p.approvals, origin)
	return []sidecar.Event{Ev("multisig", "MultisigApproval",
		origin.String(), timepointJSON(p.when), ms.String(), callHash.String())}, nil
}

func (r *PalletRuntime) findProxy(real, delegate types.Address) (ProxyDef, bool) {
	for _, d := range r.proxies[real] {
		if d.Delegate == delegate {
			return d, true
		}
	}
	return ProxyDef{}, false
}

func (r *PalletRuntime) dropAnnouncement(delegate, real types.Address, callHash types.Hash) bool {
	list := r.announcements[delegate]
	for i, a := range list {
		if a.real == real && a.callHash == callHash {
			r.announcements[delegate] = append(list[:i:i], list[i+1:]...)
			return true
		}
	}
	return false
}

func transferEvent(from, to types.Address, value *big.Int) sidecar.Event {
	return Ev("balances", "Transfer", from.String(), to.String(), value.String())
}

func timepointJSON(tp types.Timepoint) map[string]string {
	return map[string]string{
		"height": strconv.FormatUint(uint64(tp.Height), 10),
		"index":  strconv.FormatUint(uint64(tp.Index), 10),
	}
}

func moduleError(err error) map[string]interface{} {
	de, ok := err.(*dispatchError)
	if !ok {
		de = &dispatchError{0, 0, fmt.Sprint(err)}
	}
	return map[string]interface{}{
		"module": map[string]interface{}{"index": de.pallet, "error": de.index, "name": de.name},
	}
}

func dispatchResult(err error) map[string]interface{} {
	if err == nil {
		return map[string]interface{}{"ok": []interface{}{}}
	}
	return map[string]interface{}{"err": moduleError(err)}
}

func failed(err error) sidecar.Event {
	return Ev("system", "ExtrinsicFailed", moduleError(err), map[string]string{"weight": "0"})
}
