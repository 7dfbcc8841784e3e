package security

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Klingon-tech/proxyguard/internal/callstore"
	"github.com/Klingon-tech/proxyguard/internal/log"
	"github.com/Klingon-tech/proxyguard/internal/sidecar"
	"github.com/Klingon-tech/proxyguard/pkg/metadata"
	"golang.org/x/sync/errgroup"
)

// Monitor watches the chain for announcements made on behalf of the
// protected account and runs the orchestrator on each.
type Monitor struct {
	o     *Orchestrator
	from  uint64
	onOut func(Announcement, *Outcome, error)

	mu     sync.Mutex
	failed []error
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// StartAt makes the monitor scan from height instead of the current head.
func StartAt(height uint64) MonitorOption {
	return func(m *Monitor) { m.from = height }
}

// OnOutcome registers fn to receive every finished run.
func OnOutcome(fn func(Announcement, *Outcome, error)) MonitorOption {
	return func(m *Monitor) { m.onOut = fn }
}

// NewMonitor creates a Monitor driving o.
func NewMonitor(o *Orchestrator, opts ...MonitorOption) *Monitor {
	m := &Monitor{o: o}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run follows the chain until ctx is done. It returns a *RaceLostError as
// soon as any announcement is lost. Otherwise it returns the failed
// revocations once ctx is done, or nil if there were none.
func (m *Monitor) Run(ctx context.Context) error {
	syncer := m.o.actor.Syncer()
	from := m.from
	if from == 0 {
		head, err := syncer.Head(ctx)
		if err != nil {
			return err
		}
		from = head
	}
	log.Security.Info().Str("real", m.o.real.String()).Uint64("from", from).Msg("Monitoring announcements")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return syncer.Follow(gctx, from, func(b *sidecar.Block) (bool, error) {
			for _, ann := range m.announcements(b) {
				ann := ann
				g.Go(func() error { return m.handle(gctx, ann) })
			}
			return false, nil
		})
	})

	err := g.Wait()
	if errors.Is(err, ErrRaceLost) {
		return err
	}
	m.mu.Lock()
	failed := errors.Join(m.failed...)
	m.mu.Unlock()
	if failed != nil {
		return failed
	}
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (m *Monitor) handle(ctx context.Context, ann Announcement) error {
	out, err := m.o.Run(ctx, ann)
	if m.onOut != nil {
		m.onOut(ann, out, err)
	}
	switch {
	case errors.Is(err, ErrRaceLost):
		return err
	case errors.Is(err, ErrRevocationFailed):
		m.mu.Lock()
		m.failed = append(m.failed, fmt.Errorf("call %s: %w", ann.CallHash, err))
		m.mu.Unlock()
	case err != nil && ctx.Err() == nil:
		log.Security.Error().Err(err).Str("call_hash", ann.CallHash.String()).Msg("Announcement handling failed")
	}
	return nil
}

// announcements extracts the proxy.Announced events of b that target the
// protected account.
func (m *Monitor) announcements(b *sidecar.Block) []Announcement {
	var out []Announcement
	for _, x := range b.Extrinsics {
		if !x.Success {
			continue
		}
		for _, ev := range x.Events {
			if !metadata.SameName(ev.Method.Pallet, "proxy") || !metadata.SameName(ev.Method.Method, "Announced") {
				continue
			}
			real, ok := ev.DataAddress(0)
			if !ok || real != m.o.real {
				continue
			}
			delegate, ok1 := ev.DataAddress(1)
			h, ok2 := ev.DataHash(2)
			if !ok1 || !ok2 {
				log.Security.Warn().Uint64("height", b.Number).Msg("Malformed Announced event")
				continue
			}
			ann := Announcement{Delegate: delegate, Real: real, CallHash: h, Height: b.Number}
			call, err := m.o.store.Get(h)
			switch {
			case err == nil:
				ann.Call = call
			case errors.Is(err, callstore.ErrUnknownCall):
				log.Security.Warn().Str("call_hash", h.String()).Msg("Announced call not in store")
			default:
				log.Security.Error().Err(err).Str("call_hash", h.String()).Msg("Call store lookup failed")
			}
			log.Security.Info().Str("delegate", delegate.String()).Str("call_hash", h.String()).
				Uint64("height", b.Number).Msg("Announcement observed")
			out = append(out, ann)
		}
	}
	return out
}
