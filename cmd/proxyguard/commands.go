package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Klingon-tech/proxyguard/internal/chainsync"
	"github.com/Klingon-tech/proxyguard/internal/keyring"
	"github.com/Klingon-tech/proxyguard/pkg/multisig"
	"github.com/Klingon-tech/proxyguard/pkg/types"
)

// ── derive ──────────────────────────────────────────────────────────────

func cmdDerive(a *app, args []string) error {
	fs := flag.NewFlagSet("derive", flag.ContinueOnError)
	threshold := fs.Int("threshold", a.cfg.Protocol.Threshold, "Signatures required")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var members []types.Address
	if fs.NArg() == 0 {
		members = keyring.Dev().Members()
	}
	for _, s := range fs.Args() {
		addr, err := types.ParseAddress(s)
		if err != nil {
			return fmt.Errorf("member %q: %w", s, err)
		}
		members = append(members, addr)
	}

	ms, err := multisig.DeriveMultisig(members, *threshold)
	if err != nil {
		return err
	}
	names := make([]string, len(members))
	for i, m := range members {
		names[i] = m.String()
	}
	fmt.Printf("Members:   %s\n", strings.Join(names, ", "))
	fmt.Printf("Threshold: %d\n", *threshold)
	fmt.Printf("Multisig:  %s (SS58 %d)\n", ms, types.GetSS58Prefix())
	fmt.Printf("Hex:       %s\n", ms.Hex())
	return nil
}

func cmdDeriveChild(args []string) error {
	fs := flag.NewFlagSet("derive-child", flag.ContinueOnError)
	index := fs.Int("index", 0, "Derivative index (0-65535)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: proxyguard derive-child --index <i> <addr>")
	}
	parent, err := types.ParseAddress(fs.Arg(0))
	if err != nil {
		return err
	}
	child, err := multisig.DeriveChild(parent, *index)
	if err != nil {
		return err
	}
	fmt.Printf("Parent: %s\n", parent)
	fmt.Printf("Index:  %d\n", *index)
	fmt.Printf("Child:  %s\n", child)
	fmt.Printf("Hex:    %s\n", child.Hex())
	return nil
}

// ── chain queries ───────────────────────────────────────────────────────

func cmdHeight(ctx context.Context, a *app) error {
	h, err := a.syncer.Head(ctx)
	if err != nil {
		return err
	}
	fmt.Println(h)
	return nil
}

func cmdBalance(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: proxyguard balance <addr|role>")
	}
	addr, err := resolveAccount(args[0])
	if err != nil {
		return err
	}
	info, err := a.client.GetBalanceInfo(ctx, addr.String(), 0)
	if err != nil {
		return err
	}
	fmt.Printf("Account:  %s\n", addr)
	fmt.Printf("Height:   %d\n", info.At.Height)
	fmt.Printf("Nonce:    %d\n", info.Nonce)
	fmt.Printf("Free:     %s\n", formatBalance(info.Free))
	fmt.Printf("Reserved: %s\n", formatBalance(info.Reserved))
	return nil
}

// resolveAccount accepts an address or a development role name.
func resolveAccount(s string) (types.Address, error) {
	if addr, err := types.ParseAddress(s); err == nil {
		return addr, nil
	}
	return keyring.Dev().Address(s)
}

type watchResult struct {
	Height    uint64            `json:"height"`
	Extrinsic int               `json:"extrinsic"`
	Event     int               `json:"event"`
	Method    string            `json:"method"`
	Signer    string            `json:"signer,omitempty"`
	Data      []json.RawMessage `json:"data"`
}

func cmdWatch(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	pallet := fs.String("pallet", "", "Event pallet, e.g. balances")
	method := fs.String("method", "", "Event name, e.g. Transfer")
	from := fs.Uint64("from", 0, "First height to scan (default: head)")
	signer := fs.String("signer", "", "Only extrinsics signed by this account")
	timeout := fs.Duration("timeout", 0, "Give up after this long")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *pallet == "" || *method == "" {
		return fmt.Errorf("usage: proxyguard watch --pallet <p> --method <m>")
	}

	var opts []chainsync.WaitOption
	if *from != 0 {
		opts = append(opts, chainsync.From(*from))
	}
	if *signer != "" {
		addr, err := resolveAccount(*signer)
		if err != nil {
			return err
		}
		opts = append(opts, chainsync.SignedBy(addr))
	}
	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	fmt.Fprintf(os.Stderr, "Waiting for %s.%s ...\n", *pallet, *method)
	start := time.Now()
	loc, err := a.syncer.WaitForEvent(ctx, *pallet, *method, opts...)
	if err != nil {
		return err
	}
	res := watchResult{
		Height:    loc.Height,
		Extrinsic: loc.ExtrinsicIndex,
		Event:     loc.EventIndex,
		Method:    loc.Event.Method.String(),
		Data:      loc.Event.Data,
	}
	if loc.Extrinsic.Signature != nil {
		res.Signer = string(loc.Extrinsic.Signature.Signer)
	}
	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	fmt.Fprintf(os.Stderr, "Found after %s\n", time.Since(start).Round(time.Millisecond))
	return nil
}

// ── call store ──────────────────────────────────────────────────────────

func cmdCalls(a *app, args []string) error {
	sub := "list"
	if len(args) > 0 {
		sub, args = args[0], args[1:]
	}
	store, closeStore, err := a.openStore()
	if err != nil {
		return err
	}
	defer closeStore()

	switch sub {
	case "list":
		hashes, err := store.Hashes()
		if err != nil {
			return err
		}
		for _, h := range hashes {
			fmt.Printf("%s  %s\n", h, store.Note(h))
		}
		fmt.Printf("%d calls\n", len(hashes))
		return nil
	case "show":
		if len(args) != 1 {
			return fmt.Errorf("usage: proxyguard calls show <hash>")
		}
		h, err := types.HexToHash(args[0])
		if err != nil {
			return err
		}
		call, err := store.Get(h)
		if err != nil {
			return err
		}
		fmt.Printf("Note: %s\n", store.Note(h))
		fmt.Printf("Call: %s\n", types.EncodeHex(call))
		return nil
	case "forget":
		if len(args) != 1 {
			return fmt.Errorf("usage: proxyguard calls forget <hash>")
		}
		h, err := types.HexToHash(args[0])
		if err != nil {
			return err
		}
		if err := store.Delete(h); err != nil {
			return err
		}
		if _, err := store.Compact(); err != nil {
			return err
		}
		n, err := store.Len()
		if err != nil {
			return err
		}
		fmt.Printf("Forgot %s; %d calls left\n", h, n)
		return nil
	default:
		return fmt.Errorf("unknown calls command %q (list, show, forget)", sub)
	}
}

// ── keys ────────────────────────────────────────────────────────────────

func cmdKeys(a *app, args []string) error {
	sub := "list"
	if len(args) > 0 {
		sub, args = args[0], args[1:]
	}
	switch sub {
	case "list":
		return cmdKeysList(a)
	case "create":
		return cmdKeysCreate(a, args)
	case "stores":
		return cmdKeysStores(a)
	case "delete":
		return cmdKeysDelete(a, args)
	default:
		return fmt.Errorf("unknown keys command %q (list, create, stores, delete)", sub)
	}
}

func cmdKeysList(a *app) error {
	keys, err := a.loadKeyring()
	if err != nil {
		return err
	}
	defer keys.Zero()

	for _, role := range keyring.Roles() {
		addr, err := keys.Address(role)
		if err != nil {
			return err
		}
		fmt.Printf("%-12s %s\n", role, addr)
	}
	ms, err := a.descriptor(keys).Address()
	if err != nil {
		return err
	}
	fmt.Printf("%-12s %s (alice, bob, dave; threshold %d)\n", "multisig", ms, a.cfg.Protocol.Threshold)
	return nil
}

func cmdKeysCreate(a *app, args []string) error {
	fs := flag.NewFlagSet("keys create", flag.ContinueOnError)
	name := fs.String("name", "", "Keystore name")
	imp := fs.Bool("import", false, "Import an existing mnemonic instead of generating one")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" {
		return fmt.Errorf("usage: proxyguard keys create --name <name> [--import]")
	}

	var mnemonic string
	if *imp {
		raw, err := readPassword("Mnemonic: ")
		if err != nil {
			return fmt.Errorf("read mnemonic: %w", err)
		}
		mnemonic = string(raw)
		if !keyring.ValidateMnemonic(mnemonic) {
			return fmt.Errorf("invalid mnemonic")
		}
	} else {
		m, err := keyring.GenerateMnemonic()
		if err != nil {
			return err
		}
		mnemonic = m
	}

	password, err := readPassword("Enter password: ")
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}
	confirm, err := readPassword("Confirm password: ")
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}
	if string(password) != string(confirm) {
		return fmt.Errorf("passwords do not match")
	}

	ks, err := keyring.NewKeystore(a.cfg.KeystoreDir())
	if err != nil {
		return err
	}
	if err := ks.Create(*name, mnemonic, password, keyring.DefaultKDFParams()); err != nil {
		return err
	}
	if !*imp {
		fmt.Println("Mnemonic (write it down, it is shown once):")
		fmt.Println("  " + mnemonic)
	}
	fmt.Printf("Keystore %q created in %s\n", *name, a.cfg.KeystoreDir())
	return nil
}

func cmdKeysStores(a *app) error {
	ks, err := keyring.NewKeystore(a.cfg.KeystoreDir())
	if err != nil {
		return err
	}
	names, err := ks.List()
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Println("No keystores")
		return nil
	}
	for _, n := range names {
		roles, err := ks.Roles(n)
		if err != nil {
			return err
		}
		fmt.Printf("%-16s alice=%s\n", n, roles[keyring.Alice])
	}
	return nil
}

func cmdKeysDelete(a *app, args []string) error {
	fs := flag.NewFlagSet("keys delete", flag.ContinueOnError)
	name := fs.String("name", "", "Keystore name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" {
		return fmt.Errorf("usage: proxyguard keys delete --name <name>")
	}
	ks, err := keyring.NewKeystore(a.cfg.KeystoreDir())
	if err != nil {
		return err
	}
	if err := ks.Delete(*name); err != nil {
		return err
	}
	fmt.Printf("Keystore %q deleted\n", *name)
	return nil
}
