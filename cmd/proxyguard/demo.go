package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/big"

	"github.com/Klingon-tech/proxyguard/internal/chainsync"
	"github.com/Klingon-tech/proxyguard/internal/keyring"
	"github.com/Klingon-tech/proxyguard/internal/log"
	"github.com/Klingon-tech/proxyguard/internal/security"
	"github.com/Klingon-tech/proxyguard/internal/sidecar"
	"github.com/Klingon-tech/proxyguard/internal/txconstruct"
	"github.com/Klingon-tech/proxyguard/pkg/extrinsic"
	"github.com/Klingon-tech/proxyguard/pkg/multisig"
	"github.com/Klingon-tech/proxyguard/pkg/types"
)

// Demo amounts, in planck.
var (
	fundAmount     = big.NewInt(123_456_789_012_345)
	withdrawAmount = big.NewInt(10_000_000_000)
)

func cmdDemo(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("demo", flag.ContinueOnError)
	yes := fs.Bool("yes", false, "Do not pause between phases")
	attack := fs.Bool("attack", false, "Also announce a transfer to the attacker from the proxy")
	if err := fs.Parse(args); err != nil {
		return err
	}
	pause := newPauser(*yes)

	keys, err := a.loadKeyring()
	if err != nil {
		return err
	}
	defer keys.Zero()
	store, closeStore, err := a.openStore()
	if err != nil {
		return err
	}
	defer closeStore()

	o, err := a.orchestrator(keys, store,
		security.WithExecutor(keys.MustSigner(keyring.Charlie)),
		security.WithStateHook(func(ann security.Announcement, s security.State) {
			fmt.Printf("  [%s] call %s\n", s, ann.CallHash)
		}))
	if err != nil {
		return err
	}
	ms := o.Real()
	actor := a.actor()
	alice := keys.MustSigner(keyring.Alice)
	proxy := keys.MustSigner(keyring.Eve)
	cold, err := a.coldStorage(keys)
	if err != nil {
		return err
	}

	// Phase 1: the staking multisig.
	separator()
	fmt.Println("Staking multisig address generation info")
	for _, role := range []string{keyring.Alice, keyring.Bob, keyring.Dave} {
		addr, _ := keys.Address(role)
		fmt.Printf("  %-6s %s\n", role, addr)
	}
	fmt.Printf("Threshold: %d\n", a.cfg.Protocol.Threshold)
	fmt.Printf("Staking multisig address (SS58 %d): %s\n", types.GetSS58Prefix(), ms)
	separator()
	pause.wait()

	// Phase 2: fund it.
	fmt.Printf("balances.transfer(origin: alice, dest: multisig, value: %s)\n", fundAmount)
	fmt.Println("...submitting")
	loc, err := actor.SubmitAndWait(ctx, alice, func(ctx context.Context) (*txconstruct.UnsignedCall, error) {
		return a.builder.Transfer(ctx, alice.AccountID(), ms, fundAmount)
	}, "balances", "Transfer", transferTo(ms))
	if err != nil {
		return fmt.Errorf("fund multisig: %w", err)
	}
	fmt.Printf("Transfer to the multisig included at %s\n", loc.Timepoint())
	a.printBalance(ctx, "multisig", ms)
	child, err := multisig.DeriveChild(ms, 0)
	if err != nil {
		return err
	}
	fmt.Printf("Derivative account 0 of the multisig: %s\n", child)
	fmt.Printf("balances.transfer(origin: alice, dest: derivative 0, value: %s)\n", fundAmount)
	loc, err = actor.SubmitAndWait(ctx, alice, func(ctx context.Context) (*txconstruct.UnsignedCall, error) {
		return a.builder.Transfer(ctx, alice.AccountID(), child, fundAmount)
	}, "balances", "Transfer", transferTo(child))
	if err != nil {
		return fmt.Errorf("fund derivative account: %w", err)
	}
	fmt.Printf("Transfer to the derivative account included at %s\n", loc.Timepoint())
	a.printBalance(ctx, "derivative 0", child)
	separator()
	pause.wait()

	// Phase 3: register the proxy.
	proxyType, err := a.proxyType()
	if err != nil {
		return err
	}
	delay := a.cfg.Protocol.DelayPeriod
	fmt.Printf("proxy.add_proxy(delegate: eve, type: %s, delay: %d) through the multisig\n", proxyType, delay)
	addProxy := &extrinsic.AddProxy{Delegate: proxy.AccountID(), ProxyType: proxyType, Delay: uint32(delay)}
	loc, err = o.ExecuteAsMultisig(ctx, addProxy, "demo add proxy")
	if err != nil {
		return fmt.Errorf("add proxy: %w", err)
	}
	fmt.Printf("Eve is a proxy of the multisig since %s\n", loc.Timepoint())
	separator()
	pause.wait()

	// Phase 4: a safe withdrawal to cold storage, out of the derivative account.
	fmt.Printf("Eve announces utility.as_derivative(index: 0, balances.transfer_keep_alive(dest: cold storage %s, value: %s))\n",
		cold, withdrawAmount)
	withdraw := &extrinsic.AsDerivative{
		Index: 0,
		Call:  &extrinsic.TransferKeepAlive{Dest: cold, Value: withdrawAmount},
	}
	ann, err := o.Announce(ctx, proxy, withdraw)
	if err != nil {
		return fmt.Errorf("announce: %w", err)
	}
	fmt.Printf("Announced at %d; executable from %d\n", ann.Height, ann.Height+delay)
	out, err := o.Run(ctx, *ann)
	if err != nil {
		return err
	}
	printOutcome(out)
	a.printBalance(ctx, "cold storage", cold)
	separator()

	if !*attack {
		return nil
	}
	pause.wait()

	// Phase 5: the proxy key is compromised.
	thief := keys.MustSigner(keyring.Attacker).AccountID()
	fmt.Printf("Compromised eve announces balances.transfer(dest: attacker %s, value: %s)\n", thief, withdrawAmount)
	ann, err = o.Announce(ctx, proxy, &extrinsic.Transfer{Dest: thief, Value: withdrawAmount})
	if err != nil {
		return fmt.Errorf("announce: %w", err)
	}
	out, err = o.Run(ctx, *ann)
	var lost *security.RaceLostError
	if errors.As(err, &lost) {
		log.Demo.Error().Str("executed_at", lost.ExecutedAt.String()).Msg("Attacker executed before the revocation")
	}
	if err != nil {
		return err
	}
	printOutcome(out)
	separator()
	return nil
}

func transferTo(dest types.Address) chainsync.WaitOption {
	return chainsync.Where(func(ev sidecar.Event) bool {
		to, ok := ev.DataAddress(1)
		return ok && to == dest
	})
}

func (a *app) printBalance(ctx context.Context, label string, addr types.Address) {
	info, err := a.client.GetBalanceInfo(ctx, addr.String(), 0)
	if err != nil {
		log.Demo.Warn().Err(err).Str("account", addr.String()).Msg("Balance unavailable")
		return
	}
	fmt.Printf("Balance of %s: %s\n", label, formatBalance(info.Free))
}

func printOutcome(out *security.Outcome) {
	dest := "none"
	if out.Destination != nil {
		dest = out.Destination.String()
	}
	fmt.Printf("Outcome: %s (safe: %v, destination: %s, announced: %d, expiry: %d, resolved: %d)\n",
		out.State, out.Safe, dest, out.AnnounceHeight, out.ExpiryHeight, out.ResolvedHeight)
}
