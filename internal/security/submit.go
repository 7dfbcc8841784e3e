package security

import (
	"context"
	"fmt"

	"github.com/Klingon-tech/proxyguard/internal/chainsync"
	"github.com/Klingon-tech/proxyguard/internal/log"
	"github.com/Klingon-tech/proxyguard/internal/metrics"
	"github.com/Klingon-tech/proxyguard/internal/sidecar"
	"github.com/Klingon-tech/proxyguard/internal/txconstruct"
	"github.com/Klingon-tech/proxyguard/pkg/crypto"
)

// Submitter submits signed extrinsics. *sidecar.Client implements it.
type Submitter interface {
	Submit(ctx context.Context, tx string) (*sidecar.SubmitResult, error)
}

// BuildFunc builds the unsigned call to submit.
type BuildFunc func(ctx context.Context) (*txconstruct.UnsignedCall, error)

// Actor signs, submits, and follows one account's transactions.
type Actor struct {
	builder *txconstruct.Builder
	client  Submitter
	sync    *chainsync.Syncer
}

// NewActor creates an Actor.
func NewActor(builder *txconstruct.Builder, client Submitter, syncer *chainsync.Syncer) *Actor {
	return &Actor{builder: builder, client: client, sync: syncer}
}

// Builder returns the call builder.
func (a *Actor) Builder() *txconstruct.Builder { return a.builder }

// Syncer returns the chain follower.
func (a *Actor) Syncer() *chainsync.Syncer { return a.sync }

// SubmitAndWait builds, signs and submits a call, then waits for the event
// pallet.method emitted by the signer's extrinsic.
//
// Once the submission is accepted the wait ignores ctx cancellation: it
// ends with the event, an *chainsync.ExtrinsicFailure, or
// chainsync.ErrNotObserved once the transaction's era has died.
func (a *Actor) SubmitAndWait(ctx context.Context, signer crypto.Signer, build BuildFunc, pallet, method string,
	opts ...chainsync.WaitOption) (*chainsync.EventLocation, error) {
	head, err := a.sync.Head(ctx)
	if err != nil {
		return nil, err
	}
	u, err := build(ctx)
	if err != nil {
		return nil, err
	}
	signed, err := txconstruct.Sign(u, signer)
	if err != nil {
		return nil, err
	}

	call := u.Call.Method().String()
	res, err := a.client.Submit(ctx, signed.Hex())
	if err != nil {
		return nil, fmt.Errorf("submit %s: %w", call, err)
	}
	metrics.Submitted(call)
	log.Tx.Info().
		Str("call", call).
		Str("signer", signer.AccountID().String()).
		Uint64("nonce", u.Context.Nonce).
		Str("hash", res.Hash.String()).
		Msg("Submitted extrinsic")

	death := u.Context.Era.Death(u.Height)
	opts = append([]chainsync.WaitOption{
		chainsync.From(head + 1),
		chainsync.SignedBy(signer.AccountID()),
		chainsync.Until(death),
	}, opts...)
	loc, err := a.sync.WaitForEvent(context.WithoutCancel(ctx), pallet, method, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", call, err)
	}
	return loc, nil
}
