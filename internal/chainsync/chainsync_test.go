package chainsync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Klingon-tech/proxyguard/internal/sidecar"
	"github.com/Klingon-tech/proxyguard/internal/sidecar/sidecartest"
	"github.com/Klingon-tech/proxyguard/pkg/crypto"
	"github.com/Klingon-tech/proxyguard/pkg/types"
)

const testPoll = 5 * time.Millisecond

func setup(t *testing.T) (*sidecartest.Chain, *Syncer) {
	t.Helper()
	chain := sidecartest.NewChain()
	t.Cleanup(chain.Close)
	client := sidecar.New(chain.URL(), sidecar.WithRetry(2, 0))
	return chain, New(client, WithPollInterval(testPoll))
}

func account(seed byte) types.Address {
	return types.Address(crypto.Hash([]byte{seed}))
}

func transferExt(from types.Address) sidecar.Extrinsic {
	return sidecartest.Ext(sidecartest.Method("balances", "transfer"), from,
		sidecartest.Ev("balances", "Transfer", from.String(), account(99).String(), "1000"),
		sidecartest.Ev("system", "ExtrinsicSuccess"))
}

func failedExt(from types.Address) sidecar.Extrinsic {
	return sidecartest.Ext(sidecartest.Method("proxy", "proxyAnnounced"), from,
		sidecartest.Ev("system", "ExtrinsicFailed", map[string]interface{}{"module": map[string]int{"index": 29, "error": 3}}))
}

func withTimeout(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestWaitForEvent_InHeadBlock(t *testing.T) {
	chain, s := setup(t)
	h := chain.AddBlock(sidecartest.Inherent("timestamp", "set"), transferExt(account(1)))

	loc, err := s.WaitForEvent(withTimeout(t), "balances", "Transfer")
	if err != nil {
		t.Fatalf("WaitForEvent: %v", err)
	}
	if loc.Height != h || loc.ExtrinsicIndex != 1 || loc.EventIndex != 0 {
		t.Errorf("location = %d/%d/%d, want %d/1/0", loc.Height, loc.ExtrinsicIndex, loc.EventIndex, h)
	}
	if loc.Timepoint() != (types.Timepoint{Height: uint32(h), Index: 1}) {
		t.Errorf("Timepoint = %s", loc.Timepoint())
	}
}

func TestWaitForEvent_LaterBlock(t *testing.T) {
	chain, s := setup(t)
	start := chain.AddEmptyBlocks(3)

	go func() {
		time.Sleep(5 * testPoll)
		chain.AddBlock()
		chain.AddBlock(transferExt(account(1)))
	}()

	loc, err := s.WaitForEvent(withTimeout(t), "balances", "transfer")
	if err != nil {
		t.Fatalf("WaitForEvent: %v", err)
	}
	if loc.Height != start+2 {
		t.Errorf("height = %d, want %d", loc.Height, start+2)
	}
}

func TestWaitForEvent_FirstMatchWins(t *testing.T) {
	chain, s := setup(t)
	from := chain.Head() + 1

	// Two blocks land between polls; the earlier match must be reported.
	first := chain.AddBlock(transferExt(account(1)), transferExt(account(2)))
	chain.AddBlock(transferExt(account(3)))

	loc, err := s.WaitForEvent(withTimeout(t), "balances", "Transfer", From(from))
	if err != nil {
		t.Fatalf("WaitForEvent: %v", err)
	}
	if loc.Height != first || loc.ExtrinsicIndex != 0 {
		t.Errorf("location = %d/%d, want %d/0", loc.Height, loc.ExtrinsicIndex, first)
	}
	if !loc.Extrinsic.SignedBy(account(1)) {
		t.Error("matched the wrong extrinsic")
	}
}

func TestWaitForEvent_NoSkippedBlocks(t *testing.T) {
	chain, s := setup(t)
	from := chain.Head() + 1

	// The head jumps by several blocks; the match sits in an intermediate one.
	chain.AddBlock()
	want := chain.AddBlock(transferExt(account(1)))
	chain.AddEmptyBlocks(4)

	loc, err := s.WaitForEvent(withTimeout(t), "balances", "Transfer", From(from))
	if err != nil {
		t.Fatalf("WaitForEvent: %v", err)
	}
	if loc.Height != want {
		t.Errorf("height = %d, want %d", loc.Height, want)
	}
	if chain.Requests("block") == 0 {
		t.Error("intermediate blocks were not fetched")
	}
}

func TestWaitForEvent_ExtrinsicFailure(t *testing.T) {
	chain, s := setup(t)
	from := chain.Head() + 1
	h := chain.AddBlock(failedExt(account(5)), transferExt(account(1)))

	_, err := s.WaitForEvent(withTimeout(t), "balances", "Transfer", From(from))
	if !errors.Is(err, ErrExtrinsicFailed) {
		t.Fatalf("err = %v, want ErrExtrinsicFailed", err)
	}
	var failure *ExtrinsicFailure
	if !errors.As(err, &failure) {
		t.Fatalf("err = %T, want *ExtrinsicFailure", err)
	}
	if failure.Height != h || failure.Index != 0 || failure.Method.Method != "proxyAnnounced" {
		t.Errorf("failure = %+v", failure)
	}
	if failure.Detail == "" {
		t.Error("Detail should carry the dispatch error")
	}
}

func TestWaitForEvent_SignerFilter(t *testing.T) {
	chain, s := setup(t)
	from := chain.Head() + 1
	me := account(1)

	// Another account's failure and transfer are out of scope.
	h := chain.AddBlock(failedExt(account(5)), transferExt(account(2)), transferExt(me))

	loc, err := s.WaitForEvent(withTimeout(t), "balances", "Transfer", From(from), SignedBy(me))
	if err != nil {
		t.Fatalf("WaitForEvent: %v", err)
	}
	if loc.Height != h || loc.ExtrinsicIndex != 2 {
		t.Errorf("location = %d/%d, want %d/2", loc.Height, loc.ExtrinsicIndex, h)
	}

	from = chain.Head() + 1
	chain.AddBlock(failedExt(me))
	if _, err := s.WaitForEvent(withTimeout(t), "balances", "Transfer", From(from), SignedBy(me)); !errors.Is(err, ErrExtrinsicFailed) {
		t.Errorf("own failure: err = %v, want ErrExtrinsicFailed", err)
	}
}

func TestWaitForEvent_Where(t *testing.T) {
	chain, s := setup(t)
	from := chain.Head() + 1
	want := account(3)

	chain.AddBlock(transferExt(account(1)))
	h := chain.AddBlock(transferExt(want))

	loc, err := s.WaitForEvent(withTimeout(t), "balances", "Transfer", From(from), Where(func(ev sidecar.Event) bool {
		a, ok := ev.DataAddress(0)
		return ok && a == want
	}))
	if err != nil {
		t.Fatalf("WaitForEvent: %v", err)
	}
	if loc.Height != h {
		t.Errorf("height = %d, want %d", loc.Height, h)
	}
}

func TestWaitForEvent_Cancel(t *testing.T) {
	_, s := setup(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*testPoll)
	defer cancel()

	_, err := s.WaitForEvent(ctx, "balances", "Transfer")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want context.DeadlineExceeded", err)
	}
}

func TestWaitForEvent_ChainUnavailable(t *testing.T) {
	chain, s := setup(t)
	chain.FailNext(100)

	_, err := s.WaitForEvent(withTimeout(t), "balances", "Transfer")
	if !errors.Is(err, ErrChainUnavailable) {
		t.Fatalf("err = %v, want ErrChainUnavailable", err)
	}
	var herr *sidecar.HTTPError
	if !errors.As(err, &herr) || herr.Status != 503 {
		t.Errorf("err should wrap the sidecar HTTPError, got %v", err)
	}
}

func TestWaitForEvent_TransientFailureRecovers(t *testing.T) {
	chain, s := setup(t)
	chain.AddBlock(transferExt(account(1)))
	chain.FailNext(1)

	if _, err := s.WaitForEvent(withTimeout(t), "balances", "Transfer"); err != nil {
		t.Fatalf("WaitForEvent: %v", err)
	}
}

func TestWaitUntilHeight(t *testing.T) {
	chain, s := setup(t)
	target := chain.Head() + 3

	go func() {
		for i := 0; i < 3; i++ {
			time.Sleep(2 * testPoll)
			chain.AddBlock()
		}
	}()

	h, err := s.WaitUntilHeight(withTimeout(t), target)
	if err != nil {
		t.Fatalf("WaitUntilHeight: %v", err)
	}
	if h < target {
		t.Errorf("height = %d, want >= %d", h, target)
	}
}

func TestWaitUntilHeight_AlreadyReached(t *testing.T) {
	chain, s := setup(t)
	chain.AddEmptyBlocks(5)

	h, err := s.WaitUntilHeight(withTimeout(t), 2)
	if err != nil {
		t.Fatalf("WaitUntilHeight: %v", err)
	}
	if h != 5 {
		t.Errorf("height = %d, want 5", h)
	}
}

func TestWaitUntilHeight_Stalled(t *testing.T) {
	chain, s := setup(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*testPoll)
	defer cancel()

	if _, err := s.WaitUntilHeight(ctx, chain.Head()+1); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want context.DeadlineExceeded", err)
	}
}

func TestFollow_Order(t *testing.T) {
	chain, s := setup(t)
	chain.AddEmptyBlocks(6)

	var seen []uint64
	err := s.Follow(withTimeout(t), 2, func(b *sidecar.Block) (bool, error) {
		seen = append(seen, b.Number)
		return b.Number == 6, nil
	})
	if err != nil {
		t.Fatalf("Follow: %v", err)
	}
	want := []uint64{2, 3, 4, 5, 6}
	if len(seen) != len(want) {
		t.Fatalf("seen = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("seen = %v, want %v", seen, want)
		}
	}
}

func TestFollow_CallbackError(t *testing.T) {
	chain, s := setup(t)
	chain.AddBlock()
	boom := errors.New("boom")

	err := s.Follow(withTimeout(t), 0, func(*sidecar.Block) (bool, error) { return false, boom })
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
}

func TestWaitForEvent_Until(t *testing.T) {
	chain, s := setup(t)
	chain.AddEmptyBlocks(2)
	chain.AddBlock(transferExt(account(1)))

	_, err := s.WaitForEvent(withTimeout(t), "balances", "Transfer", From(1), Until(2))
	if !errors.Is(err, ErrNotObserved) {
		t.Fatalf("err = %v, want ErrNotObserved", err)
	}

	loc, err := s.WaitForEvent(withTimeout(t), "balances", "Transfer", From(1), Until(3))
	if err != nil {
		t.Fatalf("WaitForEvent: %v", err)
	}
	if loc.Height != 3 {
		t.Errorf("height = %d, want 3", loc.Height)
	}
}
