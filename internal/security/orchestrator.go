package security

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Klingon-tech/proxyguard/internal/callstore"
	"github.com/Klingon-tech/proxyguard/internal/chainsync"
	"github.com/Klingon-tech/proxyguard/internal/log"
	"github.com/Klingon-tech/proxyguard/internal/metrics"
	"github.com/Klingon-tech/proxyguard/internal/sidecar"
	"github.com/Klingon-tech/proxyguard/internal/txconstruct"
	"github.com/Klingon-tech/proxyguard/pkg/crypto"
	"github.com/Klingon-tech/proxyguard/pkg/extrinsic"
	"github.com/Klingon-tech/proxyguard/pkg/metadata"
	"github.com/Klingon-tech/proxyguard/pkg/multisig"
	"github.com/Klingon-tech/proxyguard/pkg/types"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Config describes the protected account.
type Config struct {
	// Multisig controls the protected account. Its address is the real
	// account of the proxy.
	Multisig multisig.Descriptor
	// ColdStorage is the only destination an announced call may pay.
	ColdStorage types.Address
	// DelayPeriod is the proxy's announcement delay in blocks.
	DelayPeriod uint64
}

// Orchestrator runs the protocol for announcements made on behalf of one
// multisig account.
type Orchestrator struct {
	cfg   Config
	real  types.Address
	actor *Actor
	store *callstore.Store

	approvers []crypto.Signer
	executor  crypto.Signer
	hook      func(Announcement, State)

	// One remove_proxies at a time: concurrent approvals by the same
	// member would race on nonces.
	revocations singleflight.Group
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithApprovers sets the members that sign the revocation, in signing order.
// The first threshold of them are used.
func WithApprovers(signers ...crypto.Signer) Option {
	return func(o *Orchestrator) { o.approvers = signers }
}

// WithExecutor sets the account that submits proxy_announced for safe
// calls. Without one, safe announcements stop at AwaitingExpiry.
func WithExecutor(s crypto.Signer) Option {
	return func(o *Orchestrator) { o.executor = s }
}

// WithStateHook registers fn to be called on every state transition.
func WithStateHook(fn func(Announcement, State)) Option {
	return func(o *Orchestrator) { o.hook = fn }
}

// New creates an Orchestrator.
func New(cfg Config, actor *Actor, store *callstore.Store, opts ...Option) (*Orchestrator, error) {
	real, err := cfg.Multisig.Address()
	if err != nil {
		return nil, err
	}
	if cfg.DelayPeriod == 0 {
		return nil, fmt.Errorf("delay period must be positive")
	}
	o := &Orchestrator{cfg: cfg, real: real, actor: actor, store: store}
	for _, opt := range opts {
		opt(o)
	}

	if len(o.approvers) < cfg.Multisig.Threshold {
		return nil, fmt.Errorf("%d approvers for threshold %d", len(o.approvers), cfg.Multisig.Threshold)
	}
	seen := make(map[types.Address]bool)
	for _, s := range o.approvers {
		a := s.AccountID()
		if !cfg.Multisig.IsMember(a) {
			return nil, fmt.Errorf("approver %s: %w", a, multisig.ErrNotMember)
		}
		if seen[a] {
			return nil, fmt.Errorf("approver %s listed twice", a)
		}
		seen[a] = true
	}
	return o, nil
}

// Real returns the protected account.
func (o *Orchestrator) Real() types.Address { return o.real }

// Announce stores call and announces it from delegate on behalf of the
// protected account. It returns once the announcement is included.
func (o *Orchestrator) Announce(ctx context.Context, delegate crypto.Signer, call extrinsic.Call) (*Announcement, error) {
	b := o.actor.Builder()
	reg, blob, err := b.Registry(ctx)
	if err != nil {
		return nil, err
	}
	encoded, err := extrinsic.Encode(reg, call)
	if err != nil {
		return nil, err
	}
	h, err := o.store.PutNote(encoded, "announce "+call.Method().String())
	if err != nil {
		return nil, err
	}

	loc, err := o.actor.SubmitAndWait(ctx, delegate, func(ctx context.Context) (*txconstruct.UnsignedCall, error) {
		return b.Announce(ctx, delegate.AccountID(), o.real, h, txconstruct.WithMetadata(blob))
	}, "proxy", "Announced", chainsync.Where(func(ev sidecar.Event) bool {
		got, ok := ev.DataHash(2)
		return ok && got == h
	}))
	if err != nil {
		return nil, err
	}
	return &Announcement{
		Delegate: delegate.AccountID(),
		Real:     o.real,
		CallHash: h,
		Call:     encoded,
		Height:   loc.Height,
	}, nil
}

// Revoke removes every proxy of the protected account through the
// multisig. It returns the location of the event that confirmed the removal.
// Callers that arrive while a revocation is in flight share its result.
// Errors match ErrRevocationFailed.
func (o *Orchestrator) Revoke(ctx context.Context) (*chainsync.EventLocation, error) {
	key := o.real.String()
	v, err, shared := o.revocations.Do(key, func() (interface{}, error) {
		return o.ExecuteAsMultisig(ctx, &extrinsic.RemoveProxies{}, "revoke proxies of "+key)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRevocationFailed, err)
	}
	loc := v.(*chainsync.EventLocation)
	log.Security.Info().Str("real", key).Uint64("height", loc.Height).Bool("shared", shared).Msg("Proxies revoked")
	return loc, nil
}

// ExecuteAsMultisig dispatches call as the protected account. The first
// threshold-1 approvers approve it by hash and the next one executes it with
// the full call. With threshold 1 a single as_multi_threshold_1 is used.
// It returns the location of MultisigExecuted, or of ExtrinsicSuccess for
// threshold 1.
func (o *Orchestrator) ExecuteAsMultisig(ctx context.Context, call extrinsic.Call, note string) (*chainsync.EventLocation, error) {
	b := o.actor.Builder()
	reg, blob, err := b.Registry(ctx)
	if err != nil {
		return nil, err
	}
	encoded, err := extrinsic.Encode(reg, call)
	if err != nil {
		return nil, err
	}
	h, err := o.store.PutNote(encoded, note)
	if err != nil {
		return nil, err
	}
	meta := txconstruct.WithMetadata(blob)
	t := o.cfg.Multisig.Threshold
	signers := o.approvers[:t]

	// ours matches multisig events of this account and call hash.
	ours := func(accountIdx, hashIdx int) chainsync.WaitOption {
		return chainsync.Where(func(ev sidecar.Event) bool {
			a, ok := ev.DataAddress(accountIdx)
			got, ok2 := ev.DataHash(hashIdx)
			return ok && ok2 && a == o.real && got == h
		})
	}

	if t == 1 {
		s := signers[0]
		others, err := o.cfg.Multisig.Others(s.AccountID())
		if err != nil {
			return nil, err
		}
		return o.actor.SubmitAndWait(ctx, s, func(ctx context.Context) (*txconstruct.UnsignedCall, error) {
			return b.AsMultiThreshold1(ctx, s.AccountID(), others, call, meta)
		}, "system", "ExtrinsicSuccess")
	}

	var tp *types.Timepoint
	for i, s := range signers[:t-1] {
		others, err := o.cfg.Multisig.Others(s.AccountID())
		if err != nil {
			return nil, err
		}
		event, match := "NewMultisig", ours(1, 2)
		if tp != nil {
			event, match = "MultisigApproval", ours(2, 3)
		}
		at := tp
		loc, err := o.actor.SubmitAndWait(ctx, s, func(ctx context.Context) (*txconstruct.UnsignedCall, error) {
			return b.ApproveAsMulti(ctx, s.AccountID(), uint16(t), others, at, h, meta)
		}, "multisig", event, match)
		if err != nil {
			return nil, fmt.Errorf("approval %d: %w", i+1, err)
		}
		if tp == nil {
			p := loc.Timepoint()
			tp = &p
		}
		log.Security.Info().Str("approver", s.AccountID().String()).Str("timepoint", tp.String()).
			Str("call", call.Method().String()).Msg("Multisig call approved")
	}

	last := signers[t-1]
	others, err := o.cfg.Multisig.Others(last.AccountID())
	if err != nil {
		return nil, err
	}
	loc, err := o.actor.SubmitAndWait(ctx, last, func(ctx context.Context) (*txconstruct.UnsignedCall, error) {
		return b.AsMulti(ctx, last.AccountID(), uint16(t), others, tp, call, meta)
	}, "multisig", "MultisigExecuted", ours(2, 3))
	if err != nil {
		return nil, fmt.Errorf("execution: %w", err)
	}
	if !dispatchOK(loc.Event, 4) {
		return nil, fmt.Errorf("%s dispatched with error at %s: %s", call.Method(), loc.Timepoint(), loc.Event.Data[4])
	}
	return loc, nil
}

// Run drives one announcement to a terminal state.
//
// The delay-expiry task waits for the announcement to become executable and
// then watches for its execution. The mitigation task runs the safety check
// and either executes the call after expiry (safe) or revokes the proxy
// (unsafe). When unsafe, the outcome is Revoked if the revocation landed
// before any execution of the call, and RaceLost with a *RaceLostError
// otherwise. A failed revocation leaves the proxy in place, so the delay
// task keeps watching until the call executes or ctx is done; the error
// then matches ErrRevocationFailed.
func (o *Orchestrator) Run(ctx context.Context, ann Announcement) (*Outcome, error) {
	r := &run{
		o:       o,
		ann:     ann,
		expiry:  ann.Height + o.cfg.DelayPeriod,
		checked: make(chan struct{}),
		expired: make(chan struct{}),
	}
	r.out = Outcome{AnnounceHeight: ann.Height, ExpiryHeight: r.expiry}
	r.transition(StateAnnounced, ann.Height)

	g, gctx := errgroup.WithContext(ctx)
	delayCtx, stopDelay := context.WithCancel(gctx)
	defer stopDelay()

	g.Go(func() error {
		err := r.awaitExpiry(delayCtx)
		if err != nil && delayCtx.Err() != nil && gctx.Err() == nil {
			// Stopped because the outcome is settled.
			return nil
		}
		return err
	})
	g.Go(func() error {
		return r.mitigate(gctx, stopDelay)
	})
	err := g.Wait()
	return r.resolve(err)
}

type run struct {
	o      *Orchestrator
	ann    Announcement
	expiry uint64

	checked chan struct{}
	expired chan struct{}
	// Set before checked is closed.
	safe   bool
	dest   *types.Address
	source *types.Address
	call   extrinsic.Call

	scanned atomic.Uint64
	stopAt  atomic.Uint64 // settled height + 1, zero while unsettled

	// Written by the delay task, read after both tasks end.
	executed *chainsync.EventLocation
	// Written by the mitigation task, read after both tasks end.
	revoked *chainsync.EventLocation
	revErr  error
	ownErr  error

	mu  sync.Mutex
	out Outcome
}

func (r *run) transition(s State, height uint64) {
	r.mu.Lock()
	r.out.State = s
	r.mu.Unlock()

	ev := log.Security.Info()
	if s == StateRaceLost {
		ev = log.Security.Error()
	}
	ev.Str("state", s.String()).
		Uint64("height", height).
		Str("call_hash", r.ann.CallHash.String()).
		Str("real", r.ann.Real.String()).
		Str("delegate", r.ann.Delegate.String()).
		Msg("Announcement state")
	if s.Terminal() {
		metrics.Outcome(s.String())
	}
	if r.o.hook != nil {
		r.o.hook(r.ann, s)
	}
}

// check decodes the announced call and compares its destination with cold
// storage. A call that cannot be verified is unsafe.
func (r *run) check(ctx context.Context) {
	defer close(r.checked)

	reason := r.verify(ctx)
	r.safe = reason == ""

	r.mu.Lock()
	r.out.Safe = r.safe
	r.out.Destination = r.dest
	r.mu.Unlock()
	metrics.Announcement(r.safe)

	ev := log.Security.Info()
	if !r.safe {
		ev = log.Security.Warn().Str("reason", reason)
	}
	if r.dest != nil {
		ev = ev.Str("destination", r.dest.String())
	}
	ev.Bool("safe", r.safe).Str("call_hash", r.ann.CallHash.String()).Msg("Safety check")
}

// verify fills in the decoded call, its destination and the account it
// moves funds from. It returns why the call is unsafe, or "" if it pays
// cold storage.
func (r *run) verify(ctx context.Context) string {
	switch {
	case r.ann.Call == nil:
		return "announced call unknown"
	case extrinsic.Hash(r.ann.Call) != r.ann.CallHash:
		return "stored call does not match announced hash"
	}
	reg, _, err := r.o.actor.Builder().Registry(ctx)
	if err != nil {
		return "metadata unavailable: " + err.Error()
	}
	call, err := extrinsic.Decode(reg, r.ann.Call)
	if err != nil {
		return "announced call undecodable: " + err.Error()
	}
	r.call = call
	dest, err := txconstruct.DestinationOf(reg, r.ann.Call)
	if err != nil {
		return "destination undecodable: " + err.Error()
	}
	r.dest = dest
	if dest == nil {
		return "announced call has no single destination"
	}
	source, err := txconstruct.SourceOf(call, r.ann.Real)
	if err != nil {
		return "source account underivable: " + err.Error()
	}
	r.source = &source
	if *dest != r.o.cfg.ColdStorage {
		return "destination is not cold storage"
	}
	return ""
}

func (r *run) mitigate(ctx context.Context, stopDelay func()) error {
	r.check(ctx)
	r.transition(StateSafetyChecked, r.ann.Height)

	if !r.safe {
		r.transition(StateRevocationInFlight, r.ann.Height)
		loc, err := r.o.Revoke(ctx)
		if err != nil {
			// The proxy is still live: leave the delay task watching.
			r.revErr = err
			log.Security.Error().Err(err).Str("call_hash", r.ann.CallHash.String()).
				Msg("Revocation failed; watching for execution")
			return nil
		}
		r.revoked = loc
		r.settle(loc.Height, stopDelay)
		return nil
	}

	r.transition(StateAwaitingExpiry, r.expiry)
	if r.o.executor == nil {
		stopDelay()
		return nil
	}
	select {
	case <-r.expired:
	case <-ctx.Done():
		return ctx.Err()
	}

	loc, err := r.execute(ctx)
	if err != nil {
		// Someone else may have executed it first; the delay task decides.
		var failure *chainsync.ExtrinsicFailure
		if errors.As(err, &failure) {
			r.ownErr = err
			r.settle(failure.Height, stopDelay)
			return nil
		}
		return err
	}
	r.settle(loc.Height, stopDelay)
	return nil
}

// execute submits proxy_announced for the decoded call.
func (r *run) execute(ctx context.Context) (*chainsync.EventLocation, error) {
	s := r.o.executor
	pallet, method := "proxy", "ProxyExecuted"
	var opts []chainsync.WaitOption
	if r.dest != nil && r.source != nil {
		pallet, method = "balances", "Transfer"
		opts = append(opts, chainsync.Where(r.transfers))
	}
	return r.o.actor.SubmitAndWait(ctx, s, func(ctx context.Context) (*txconstruct.UnsignedCall, error) {
		return r.o.actor.Builder().ProxyAnnounced(ctx, s.AccountID(), r.ann.Delegate, r.ann.Real, r.call)
	}, pallet, method, opts...)
}

// settle tells the delay task to stop once it has scanned height. Whichever
// side stores last sees the other's write, so one of them stops the task.
func (r *run) settle(height uint64, stopDelay func()) {
	r.stopAt.Store(height + 1)
	if height < r.expiry || r.scanned.Load() >= height {
		stopDelay()
	}
}

// awaitExpiry waits for the delay window to pass, then watches blocks from
// the expiry height for an execution of the announced call.
func (r *run) awaitExpiry(ctx context.Context) error {
	syncer := r.o.actor.Syncer()
	if _, err := syncer.WaitUntilHeight(ctx, r.expiry); err != nil {
		return err
	}
	log.Security.Info().Uint64("height", r.expiry).Str("call_hash", r.ann.CallHash.String()).
		Msg("Delay window elapsed")
	close(r.expired)

	select {
	case <-r.checked:
	case <-ctx.Done():
		return ctx.Err()
	}

	return syncer.Follow(ctx, r.expiry, func(b *sidecar.Block) (bool, error) {
		for i, x := range b.Extrinsics {
			if r.executes(x) {
				r.executed = &chainsync.EventLocation{Height: b.Number, ExtrinsicIndex: i, Extrinsic: x}
				if !r.safe {
					log.Security.Error().Uint64("height", b.Number).Int("index", i).
						Str("call_hash", r.ann.CallHash.String()).Msg("Unsafe announced call executed")
				}
				return true, nil
			}
		}
		r.scanned.Store(b.Number)
		if s := r.stopAt.Load(); s != 0 && b.Number >= s-1 {
			return true, nil
		}
		return false, nil
	})
}

// executes reports whether x is a successful extrinsic whose events show
// the announced call ran, whatever wraps it: a balances.Transfer from the
// call's source account to its destination, or, when the call has no single
// destination, a successful proxy.ProxyExecuted.
func (r *run) executes(x sidecar.Extrinsic) bool {
	if !x.Success {
		return false
	}
	for _, ev := range x.Events {
		if r.dest != nil && r.source != nil {
			if metadata.SameName(ev.Method.Pallet, "balances") && metadata.SameName(ev.Method.Method, "Transfer") && r.transfers(ev) {
				return true
			}
			continue
		}
		if metadata.SameName(ev.Method.Pallet, "proxy") && metadata.SameName(ev.Method.Method, "ProxyExecuted") && dispatchOK(ev, 0) {
			return true
		}
	}
	return false
}

// transfers reports whether a Transfer event moves funds from the call's
// source account to its destination.
func (r *run) transfers(ev sidecar.Event) bool {
	from, ok := ev.DataAddress(0)
	to, ok2 := ev.DataAddress(1)
	return ok && ok2 && from == *r.source && to == *r.dest
}

func (r *run) resolve(err error) (*Outcome, error) {
	exec := r.executed

	if r.safe {
		switch {
		case exec != nil:
			r.out.ResolvedHeight = exec.Height
			r.transition(StateExecuted, exec.Height)
			return r.snapshot(), nil
		case err != nil:
			return r.snapshot(), err
		case r.ownErr != nil:
			return r.snapshot(), r.ownErr
		}
		// No executor: left for the delegate.
		return r.snapshot(), nil
	}

	rev := r.revoked
	if exec != nil && (rev == nil || before(exec, rev)) {
		lost := &RaceLostError{Announcement: r.ann, ExecutedAt: exec.Timepoint(), Cause: r.revErr}
		if rev != nil {
			tp := rev.Timepoint()
			lost.RevokedAt = &tp
		}
		if err != nil {
			log.Security.Error().Err(err).Msg("Run ended with error after execution")
		}
		r.out.ResolvedHeight = exec.Height
		r.transition(StateRaceLost, exec.Height)
		return r.snapshot(), lost
	}
	if rev != nil {
		r.out.ResolvedHeight = rev.Height
		r.transition(StateRevoked, rev.Height)
		return r.snapshot(), nil
	}
	if r.revErr != nil {
		if err != nil {
			return r.snapshot(), fmt.Errorf("%w; watch ended: %w", r.revErr, err)
		}
		return r.snapshot(), r.revErr
	}
	if err == nil {
		err = fmt.Errorf("revocation did not complete")
	}
	return r.snapshot(), err
}

func (r *run) snapshot() *Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.out
	return &out
}

func before(a, b *chainsync.EventLocation) bool {
	if a.Height != b.Height {
		return a.Height < b.Height
	}
	return a.ExtrinsicIndex < b.ExtrinsicIndex
}

// dispatchOK reports whether data item i of ev is a successful
// DispatchResult.
func dispatchOK(ev sidecar.Event, i int) bool {
	if i >= len(ev.Data) {
		return false
	}
	var res map[string]json.RawMessage
	if err := json.Unmarshal(ev.Data[i], &res); err != nil {
		return false
	}
	for k := range res {
		if metadata.SameName(k, "err") {
			return false
		}
	}
	return true
}
