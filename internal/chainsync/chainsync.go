// Package chainsync follows the chain through a sidecar and waits for events
// and heights.
//
// Every wait starts from the head at call time (inclusive, unless From is
// given) and visits each later block exactly once in increasing height
// order, fetching intermediate blocks when the head moves by more than one
// between polls. An event at height H is therefore never reported after an
// event at a lower height, and no block is skipped.
package chainsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Klingon-tech/proxyguard/internal/log"
	"github.com/Klingon-tech/proxyguard/internal/metrics"
	"github.com/Klingon-tech/proxyguard/internal/sidecar"
	"github.com/Klingon-tech/proxyguard/pkg/metadata"
	"github.com/Klingon-tech/proxyguard/pkg/types"
)

// DefaultPollInterval is the delay between head polls.
const DefaultPollInterval = time.Second

var (
	// ErrChainUnavailable is returned when the sidecar cannot be reached
	// after the client's retries.
	ErrChainUnavailable = errors.New("chain unavailable")
	// ErrExtrinsicFailed matches any *ExtrinsicFailure.
	ErrExtrinsicFailed = errors.New("extrinsic failed")
	// ErrNotObserved is returned when a wait bounded by Until passes its
	// last height without a match.
	ErrNotObserved = errors.New("event not observed")
)

// ExtrinsicFailure is a dispatch failure observed while waiting for an event.
type ExtrinsicFailure struct {
	Height uint64
	Index  int
	Method sidecar.FrameMethod
	Signer string
	// Detail is the raw DispatchError data of the ExtrinsicFailed event.
	Detail string
}

func (e *ExtrinsicFailure) Error() string {
	msg := fmt.Sprintf("extrinsic %d-%d (%s) failed", e.Height, e.Index, e.Method)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Is makes errors.Is(err, ErrExtrinsicFailed) hold.
func (e *ExtrinsicFailure) Is(target error) bool {
	return target == ErrExtrinsicFailed
}

// Timepoint returns the failed extrinsic's location.
func (e *ExtrinsicFailure) Timepoint() types.Timepoint {
	return types.Timepoint{Height: uint32(e.Height), Index: uint32(e.Index)}
}

// BlockSource fetches blocks. *sidecar.Client implements it.
type BlockSource interface {
	GetLatestBlock(ctx context.Context) (*sidecar.Block, error)
	GetBlock(ctx context.Context, height uint64) (*sidecar.Block, error)
}

// Syncer polls a BlockSource.
type Syncer struct {
	src  BlockSource
	poll time.Duration
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithPollInterval sets the delay between head polls.
func WithPollInterval(d time.Duration) Option {
	return func(s *Syncer) {
		if d > 0 {
			s.poll = d
		}
	}
}

// New creates a Syncer.
func New(src BlockSource, opts ...Option) *Syncer {
	s := &Syncer{src: src, poll: DefaultPollInterval}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PollInterval returns the configured poll interval.
func (s *Syncer) PollInterval() time.Duration {
	return s.poll
}

// Head returns the current head height.
func (s *Syncer) Head(ctx context.Context) (uint64, error) {
	b, err := s.latest(ctx)
	if err != nil {
		return 0, err
	}
	return b.Number, nil
}

// Follow calls fn for every block from height from onward, in increasing
// height order, until fn returns stop or an error, or ctx is done.
func (s *Syncer) Follow(ctx context.Context, from uint64, fn func(*sidecar.Block) (stop bool, err error)) error {
	next := from
	for {
		head, err := s.latest(ctx)
		if err != nil {
			return err
		}
		metrics.Head(head.Number)

		for h := next; h <= head.Number; h++ {
			b := head
			if h != head.Number {
				if b, err = s.block(ctx, h); err != nil {
					return err
				}
			}
			metrics.BlockScanned()
			log.Sync.Debug().Uint64("height", b.Number).Int("extrinsics", len(b.Extrinsics)).Msg("Scanning block")

			stop, err := fn(b)
			if err != nil || stop {
				return err
			}
			next = h + 1
		}

		if err := s.sleep(ctx); err != nil {
			return err
		}
	}
}

// WaitUntilHeight blocks until the head reaches target and returns the head
// height observed.
func (s *Syncer) WaitUntilHeight(ctx context.Context, target uint64) (uint64, error) {
	for {
		h, err := s.Head(ctx)
		if err != nil {
			return 0, err
		}
		metrics.Head(h)
		if h >= target {
			return h, nil
		}
		log.Sync.Debug().Uint64("head", h).Uint64("target", target).Msg("Waiting for height")
		if err := s.sleep(ctx); err != nil {
			return 0, err
		}
	}
}

// EventLocation is where an awaited event was found.
type EventLocation struct {
	Height         uint64
	ExtrinsicIndex int
	EventIndex     int
	Event          sidecar.Event
	Extrinsic      sidecar.Extrinsic
}

// Timepoint returns the location of the extrinsic that emitted the event.
func (l *EventLocation) Timepoint() types.Timepoint {
	return types.Timepoint{Height: uint32(l.Height), Index: uint32(l.ExtrinsicIndex)}
}

type waitConfig struct {
	from    *uint64
	until   *uint64
	signer  *types.Address
	matches func(sidecar.Event) bool
}

// WaitOption narrows WaitForEvent.
type WaitOption func(*waitConfig)

// From starts the scan at height instead of the head at call time. Use the
// head observed before a submission plus one so the including block cannot
// be missed.
func From(height uint64) WaitOption {
	return func(c *waitConfig) { c.from = &height }
}

// Until gives up with ErrNotObserved once block height has been scanned
// without a match. A mortal transaction cannot be included after its era
// dies, so its death height bounds the wait for its events.
func Until(height uint64) WaitOption {
	return func(c *waitConfig) { c.until = &height }
}

// SignedBy restricts both matching and failure detection to extrinsics
// signed by account.
func SignedBy(account types.Address) WaitOption {
	return func(c *waitConfig) { c.signer = &account }
}

// Where adds a predicate on the event's data.
func Where(fn func(sidecar.Event) bool) WaitOption {
	return func(c *waitConfig) { c.matches = fn }
}

// WaitForEvent blocks until an event pallet.method appears and returns its
// location. Extrinsics are scanned in index order and events in emission
// order. If an extrinsic in scope emits system.ExtrinsicFailed before any
// match, WaitForEvent returns an *ExtrinsicFailure without polling further.
//
// Pallet and method match the sidecar's camelCase and the runtime's
// snake_case alike.
func (s *Syncer) WaitForEvent(ctx context.Context, pallet, method string, opts ...WaitOption) (*EventLocation, error) {
	var cfg waitConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	var from uint64
	if cfg.from != nil {
		from = *cfg.from
	} else {
		h, err := s.Head(ctx)
		if err != nil {
			return nil, err
		}
		from = h
	}

	log.Sync.Debug().Str("event", pallet+"."+method).Uint64("from", from).Msg("Waiting for event")

	var (
		found   *EventLocation
		failed  *ExtrinsicFailure
		expired bool
	)
	err := s.Follow(ctx, from, func(b *sidecar.Block) (bool, error) {
		for i, x := range b.Extrinsics {
			if cfg.signer != nil && !x.SignedBy(*cfg.signer) {
				continue
			}
			for j, ev := range x.Events {
				if metadata.SameName(ev.Method.Pallet, pallet) && metadata.SameName(ev.Method.Method, method) &&
					(cfg.matches == nil || cfg.matches(ev)) {
					found = &EventLocation{Height: b.Number, ExtrinsicIndex: i, EventIndex: j, Event: ev, Extrinsic: x}
					return true, nil
				}
				if ev.Method.Method == "ExtrinsicFailed" {
					failed = &ExtrinsicFailure{Height: b.Number, Index: i, Method: x.Method}
					if x.Signature != nil {
						failed.Signer = string(x.Signature.Signer)
					}
					if len(ev.Data) > 0 {
						failed.Detail = string(ev.Data[0])
					}
					return true, nil
				}
			}
		}
		if cfg.until != nil && b.Number >= *cfg.until {
			expired = true
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	if expired {
		return nil, fmt.Errorf("%w: %s.%s by height %d", ErrNotObserved, pallet, method, *cfg.until)
	}
	if failed != nil {
		log.Sync.Warn().Uint64("height", failed.Height).Int("index", failed.Index).
			Str("call", failed.Method.String()).Msg("Extrinsic failed while waiting for event")
		return nil, failed
	}

	log.Sync.Info().Str("event", pallet+"."+method).Uint64("height", found.Height).
		Int("index", found.ExtrinsicIndex).Msg("Event observed")
	return found, nil
}

func (s *Syncer) latest(ctx context.Context) (*sidecar.Block, error) {
	b, err := s.src.GetLatestBlock(ctx)
	if err != nil {
		return nil, s.unavailable(ctx, err)
	}
	return b, nil
}

func (s *Syncer) block(ctx context.Context, h uint64) (*sidecar.Block, error) {
	b, err := s.src.GetBlock(ctx, h)
	if err != nil {
		return nil, s.unavailable(ctx, err)
	}
	if b.Number != h {
		return nil, fmt.Errorf("%w: asked for block %d, got %d", ErrChainUnavailable, h, b.Number)
	}
	return b, nil
}

func (s *Syncer) unavailable(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("%w: %w", ErrChainUnavailable, err)
}

func (s *Syncer) sleep(ctx context.Context) error {
	t := time.NewTimer(s.poll)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
