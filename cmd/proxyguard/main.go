// proxyguard drives a multisig-controlled account whose proxy must announce
// calls before executing them, and revokes the proxy when an announced call
// would move funds anywhere but cold storage.
package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/Klingon-tech/proxyguard/config"
	"github.com/Klingon-tech/proxyguard/internal/callstore"
	"github.com/Klingon-tech/proxyguard/internal/chainsync"
	"github.com/Klingon-tech/proxyguard/internal/keyring"
	"github.com/Klingon-tech/proxyguard/internal/log"
	"github.com/Klingon-tech/proxyguard/internal/metrics"
	"github.com/Klingon-tech/proxyguard/internal/security"
	"github.com/Klingon-tech/proxyguard/internal/sidecar"
	"github.com/Klingon-tech/proxyguard/internal/storage"
	"github.com/Klingon-tech/proxyguard/internal/txconstruct"
	"github.com/Klingon-tech/proxyguard/pkg/crypto"
	"github.com/Klingon-tech/proxyguard/pkg/extrinsic"
	"github.com/Klingon-tech/proxyguard/pkg/multisig"
	"github.com/Klingon-tech/proxyguard/pkg/types"
)

const version = "0.1.0"

// Exit codes.
const (
	exitOK       = 0
	exitError    = 1
	exitRaceLost = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, flags, err := config.Load(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
		usage()
		return exitError
	}
	if flags.Help {
		usage()
		return exitOK
	}
	if flags.Version {
		fmt.Printf("proxyguard version %s\n", version)
		return exitOK
	}
	if len(flags.Args) == 0 {
		usage()
		return exitError
	}

	if err := log.Init(cfg.Log.Level, cfg.Log.JSON, cfg.Log.File); err != nil {
		fmt.Fprintf(os.Stderr, "Error: init logging: %v\n", err)
		return exitError
	}
	types.SetSS58Prefix(cfg.Protocol.SS58Prefix)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Addr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Addr); err != nil {
				log.Error().Err(err).Str("addr", cfg.Metrics.Addr).Msg("Metrics listener failed")
			}
		}()
	}

	a, err := newApp(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitError
	}

	cmd, cmdArgs := flags.Args[0], flags.Args[1:]
	switch cmd {
	case "derive":
		err = cmdDerive(a, cmdArgs)
	case "derive-child":
		err = cmdDeriveChild(cmdArgs)
	case "height":
		err = cmdHeight(ctx, a)
	case "balance":
		err = cmdBalance(ctx, a, cmdArgs)
	case "watch":
		err = cmdWatch(ctx, a, cmdArgs)
	case "keys":
		err = cmdKeys(a, cmdArgs)
	case "calls":
		err = cmdCalls(a, cmdArgs)
	case "demo":
		err = cmdDemo(ctx, a, cmdArgs)
	case "guard":
		err = cmdGuard(ctx, a, cmdArgs)
	case "help":
		usage()
		return exitOK
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		return exitError
	}

	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, security.ErrRaceLost):
		fmt.Fprintf(os.Stderr, "RACE LOST: %v\n", err)
		return exitRaceLost
	case errors.Is(err, security.ErrRevocationFailed):
		fmt.Fprintf(os.Stderr, "REVOCATION FAILED: %v\n", err)
		return exitError
	case errors.Is(err, context.Canceled):
		fmt.Fprintln(os.Stderr, "Interrupted")
		return exitError
	default:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitError
	}
}

// app holds the clients every chain command shares.
type app struct {
	cfg     *config.Config
	client  *sidecar.Client
	builder *txconstruct.Builder
	syncer  *chainsync.Syncer
}

func newApp(cfg *config.Config) (*app, error) {
	tip, ok := new(big.Int).SetString(cfg.Tx.Tip, 10)
	if !ok {
		return nil, fmt.Errorf("invalid tip %q", cfg.Tx.Tip)
	}
	client := sidecar.New(cfg.Sidecar.URL,
		sidecar.WithTimeout(cfg.Sidecar.Timeout),
		sidecar.WithRetry(cfg.Sidecar.RetryAttempts, cfg.Sidecar.RetryBase))
	return &app{
		cfg:     cfg,
		client:  client,
		builder: txconstruct.New(client, txconstruct.WithEraPeriod(cfg.Tx.EraPeriod), txconstruct.WithDefaultTip(tip)),
		syncer:  chainsync.New(client, chainsync.WithPollInterval(cfg.Sync.PollInterval)),
	}, nil
}

func (a *app) actor() *security.Actor {
	return security.NewActor(a.builder, a.client, a.syncer)
}

// openStore opens the call store. The returned func closes it.
func (a *app) openStore() (*callstore.Store, func(), error) {
	db, err := storage.Open(a.cfg.Store.Backend, a.cfg.StorePath())
	if err != nil {
		return nil, nil, fmt.Errorf("open call store: %w", err)
	}
	return callstore.New(db), func() { db.Close() }, nil
}

// loadKeyring returns the keys named by the config: a keystore, a mnemonic,
// or the development mnemonic.
func (a *app) loadKeyring() (*keyring.Keyring, error) {
	switch {
	case a.cfg.Keys.Keystore != "":
		ks, err := keyring.NewKeystore(a.cfg.KeystoreDir())
		if err != nil {
			return nil, err
		}
		password, err := readPassword(fmt.Sprintf("Password for keystore %q: ", a.cfg.Keys.Keystore))
		if err != nil {
			return nil, fmt.Errorf("read password: %w", err)
		}
		return ks.Load(a.cfg.Keys.Keystore, password)
	case a.cfg.Keys.Mnemonic != "":
		return keyring.New(a.cfg.Keys.Mnemonic)
	default:
		log.Keyring.Warn().Msg("Using the development mnemonic; never hold real funds with these keys")
		return keyring.Dev(), nil
	}
}

// descriptor returns the protected multisig: alice, bob and dave of keys
// at the configured threshold.
func (a *app) descriptor(keys *keyring.Keyring) multisig.Descriptor {
	return multisig.Descriptor{Members: keys.Members(), Threshold: a.cfg.Protocol.Threshold}
}

// coldStorage returns the configured cold storage, alice-stash by default.
func (a *app) coldStorage(keys *keyring.Keyring) (types.Address, error) {
	if a.cfg.Protocol.ColdStorage != "" {
		return types.ParseAddress(a.cfg.Protocol.ColdStorage)
	}
	return keys.Address(keyring.AliceStash)
}

func (a *app) approvers(keys *keyring.Keyring) []crypto.Signer {
	return []crypto.Signer{
		keys.MustSigner(keyring.Alice),
		keys.MustSigner(keyring.Bob),
		keys.MustSigner(keyring.Dave),
	}
}

func (a *app) orchestrator(keys *keyring.Keyring, store *callstore.Store, opts ...security.Option) (*security.Orchestrator, error) {
	cold, err := a.coldStorage(keys)
	if err != nil {
		return nil, fmt.Errorf("cold storage: %w", err)
	}
	cfg := security.Config{
		Multisig:    a.descriptor(keys),
		ColdStorage: cold,
		DelayPeriod: a.cfg.Protocol.DelayPeriod,
	}
	opts = append([]security.Option{security.WithApprovers(a.approvers(keys)...)}, opts...)
	return security.New(cfg, a.actor(), store, opts...)
}

func (a *app) proxyType() (extrinsic.ProxyType, error) {
	return extrinsic.ParseProxyType(a.cfg.Protocol.ProxyType)
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: proxyguard [global flags] <command> [flags]

Global flags:
  --sidecar <url>        Sidecar endpoint (default: http://127.0.0.1:8080)
  --datadir <path>       Data directory (default: ~/.proxyguard)
  --config, -c <path>    Config file (default: <datadir>/proxyguard.conf)
  --poll <duration>      Block poll interval (default: 1s)
  --ss58 <n>             Address prefix (default: 0)
  --threshold <n>        Multisig threshold (default: 2)
  --delay <blocks>       Proxy announcement delay (default: 50)
  --cold-storage <addr>  Cold storage (default: alice-stash)
  --store <backend>      Call store: memory or badger (default: badger)
  --keystore <name>      Keystore holding the signing keys
  --metrics <addr>       Serve Prometheus metrics on addr
  --log-level <level>    debug, info, warn, error (default: info)
  --log-file <path>      Also write JSON logs to path
  --log-json             JSON console logs

Commands:
  derive [--threshold N] [addr...]    Multisig address of addr... (default: alice, bob, dave)
  derive-child --index I <addr>       Derivative account of addr
  height                              Current chain height
  balance <addr|role>                 Free balance of an account
  watch --pallet P --method M         Wait for an event and print where it landed
  keys [list|create|stores|delete]    Manage signing keys
  calls [list|show|forget]            Inspect the call store
  demo [--yes] [--attack]             Run the protocol end to end on a dev chain
  guard [--from H] [--execute]        Watch for announcements and respond to them

Environment variables PROXYGUARD_* override the config file; flags override both.
Exit status is 0 on success, 1 on error and 2 when an unsafe call executed
before the proxy was revoked.
`)
}
