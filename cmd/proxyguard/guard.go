package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/Klingon-tech/proxyguard/internal/keyring"
	"github.com/Klingon-tech/proxyguard/internal/log"
	"github.com/Klingon-tech/proxyguard/internal/security"
)

func cmdGuard(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("guard", flag.ContinueOnError)
	from := fs.Uint64("from", 0, "First height to scan (default: head)")
	execute := fs.Bool("execute", false, "Also execute safe announcements once their delay passes")
	if err := fs.Parse(args); err != nil {
		return err
	}

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

	var opts []security.Option
	if *execute {
		opts = append(opts, security.WithExecutor(keys.MustSigner(keyring.Charlie)))
	}
	o, err := a.orchestrator(keys, store, opts...)
	if err != nil {
		return err
	}

	var mopts []security.MonitorOption
	if *from != 0 {
		mopts = append(mopts, security.StartAt(*from))
	}
	mopts = append(mopts, security.OnOutcome(func(ann security.Announcement, out *security.Outcome, err error) {
		if out != nil {
			printOutcome(out)
		}
	}))

	if n, err := store.Len(); err == nil {
		log.Security.Info().Int("calls", n).Msg("Call store opened")
	}
	fmt.Printf("Guarding %s (delay %d blocks); Ctrl-C to stop\n", o.Real(), a.cfg.Protocol.DelayPeriod)
	if err := security.NewMonitor(o, mopts...).Run(ctx); err != nil {
		return err
	}
	log.Security.Info().Msg("Guard stopped")
	return nil
}
