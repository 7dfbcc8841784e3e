package security

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/Klingon-tech/proxyguard/internal/keyring"
	"github.com/Klingon-tech/proxyguard/internal/sidecar/sidecartest"
	"github.com/Klingon-tech/proxyguard/pkg/extrinsic"
)

type monitorResult struct {
	ann Announcement
	out *Outcome
	err error
}

func TestMonitor_RevokesUnsafeAnnouncement(t *testing.T) {
	e := setupTestEnv(t, 2, 100)
	o := e.orchestrator(t)
	results := make(chan monitorResult, 4)
	m := NewMonitor(o, StartAt(e.chain.Head()), OnOutcome(func(ann Announcement, out *Outcome, err error) {
		results <- monitorResult{ann, out, err}
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stopped := make(chan error, 1)
	go func() { stopped <- m.Run(ctx) }()

	ann := e.announce(t, o, e.attacker())

	select {
	case res := <-results:
		if res.err != nil {
			t.Fatalf("run: %v", res.err)
		}
		if res.ann.CallHash != ann.CallHash || res.ann.Height != ann.Height {
			t.Errorf("monitor saw %s at %d, want %s at %d", res.ann.CallHash, res.ann.Height, ann.CallHash, ann.Height)
		}
		if res.ann.Call == nil {
			t.Error("monitor did not load the call from the store")
		}
		if res.out.State != StateRevoked {
			t.Errorf("State = %s, want revoked", res.out.State)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("no outcome")
	}

	cancel()
	select {
	case err := <-stopped:
		if err != nil {
			t.Errorf("Run after cancel = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("monitor did not stop")
	}
}

func TestMonitor_ConcurrentAnnouncementsShareRevocation(t *testing.T) {
	e := setupTestEnv(t, 2, 100)
	inFlight := make(chan struct{}, 2)
	gate := make(chan struct{})
	o, sub := e.gatedOrchestrator(t, gate, WithStateHook(func(_ Announcement, s State) {
		if s == StateRevocationInFlight {
			inFlight <- struct{}{}
		}
	}))
	results := make(chan monitorResult, 4)
	m := NewMonitor(o, StartAt(e.chain.Head()), OnOutcome(func(ann Announcement, out *Outcome, err error) {
		results <- monitorResult{ann, out, err}
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stopped := make(chan error, 1)
	go func() { stopped <- m.Run(ctx) }()

	announcer := e.orchestrator(t)
	first := e.announceCall(t, announcer, &extrinsic.Transfer{Dest: e.attacker(), Value: big.NewInt(1_000)})
	second := e.announceCall(t, announcer, &extrinsic.Transfer{Dest: e.attacker(), Value: big.NewInt(2_000)})
	if first.Height >= second.Height {
		t.Fatalf("announcements at %d and %d", first.Height, second.Height)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-inFlight:
		case <-time.After(10 * time.Second):
			t.Fatal("revocation not started for both announcements")
		}
	}
	time.Sleep(50 * time.Millisecond)
	close(gate)

	var resolved []uint64
	for i := 0; i < 2; i++ {
		select {
		case res := <-results:
			if res.err != nil {
				t.Fatalf("run %s: %v", res.ann.CallHash, res.err)
			}
			if res.out.State != StateRevoked {
				t.Errorf("State = %s, want revoked", res.out.State)
			}
			resolved = append(resolved, res.out.ResolvedHeight)
		case <-time.After(10 * time.Second):
			t.Fatal("no outcome")
		}
	}
	if resolved[0] != resolved[1] {
		t.Errorf("revoked at %d and %d, want one shared revocation", resolved[0], resolved[1])
	}
	if got := sub.submitted.Load(); got != 2 {
		t.Errorf("submitted %d extrinsics, want one approval and one execution", got)
	}
	if got := e.rt.Proxies(e.real); len(got) != 0 {
		t.Errorf("proxies after revocation = %v", got)
	}

	cancel()
	select {
	case err := <-stopped:
		if err != nil {
			t.Errorf("Run after cancel = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("monitor did not stop")
	}
}

func TestMonitor_FailedRevocation(t *testing.T) {
	tests := []struct {
		name    string
		execute bool
	}{
		{"call executed afterwards", true},
		{"call never executed", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := setupTestEnv(t, 2, 2)
			failed := make(chan struct{}, 1)
			o := e.failingOrchestrator(t, WithStateHook(func(_ Announcement, s State) {
				if s == StateRevocationInFlight {
					failed <- struct{}{}
				}
			}))
			m := NewMonitor(o, StartAt(e.chain.Head()))

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			stopped := make(chan error, 1)
			go func() { stopped <- m.Run(ctx) }()

			ann := e.announce(t, e.orchestrator(t), e.attacker())
			select {
			case <-failed:
			case <-time.After(10 * time.Second):
				t.Fatal("revocation never attempted")
			}

			if tt.execute {
				e.executeAnnounced(t, ann, false)
			} else {
				if _, err := e.syncer.WaitUntilHeight(withTimeout(t), ann.Height+4); err != nil {
					t.Fatalf("WaitUntilHeight: %v", err)
				}
				cancel()
			}

			var err error
			select {
			case err = <-stopped:
			case <-time.After(10 * time.Second):
				t.Fatal("monitor did not stop")
			}
			if !errors.Is(err, ErrRevocationFailed) {
				t.Errorf("Run = %v, want ErrRevocationFailed", err)
			}
			if errors.Is(err, ErrRaceLost) != tt.execute {
				t.Errorf("Run = %v, race lost = %v, want %v", err, errors.Is(err, ErrRaceLost), tt.execute)
			}
		})
	}
}

func TestMonitor_Announcements(t *testing.T) {
	e := setupTestEnv(t, 2, 100)
	o := e.orchestrator(t)
	m := NewMonitor(o)

	delegate := e.keys.MustSigner(keyring.Eve).AccountID()
	stored, err := e.store.Put([]byte{0x05, 0x00, 0x01})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	unknown := e.attacker() // any 32 bytes that are not a stored hash

	h := e.chain.AddBlock(
		sidecartest.Ext(sidecartest.Method("proxy", "announce"), delegate,
			sidecartest.Ev("proxy", "Announced", e.real.String(), delegate.String(), stored.String()),
			sidecartest.Ev("system", "ExtrinsicSuccess")),
		// Another account's announcement.
		sidecartest.Ext(sidecartest.Method("proxy", "announce"), delegate,
			sidecartest.Ev("proxy", "Announced", delegate.String(), delegate.String(), stored.String()),
			sidecartest.Ev("system", "ExtrinsicSuccess")),
		sidecartest.Ext(sidecartest.Method("proxy", "announce"), delegate,
			sidecartest.Ev("proxy", "Announced", e.real.String(), delegate.String(), unknown.Hex()),
			sidecartest.Ev("system", "ExtrinsicSuccess")),
	)
	b, err := e.client.GetBlock(context.Background(), h)
	if err != nil {
		t.Fatalf("GetBlock: %v", err)
	}

	anns := m.announcements(b)
	if len(anns) != 2 {
		t.Fatalf("got %d announcements, want 2", len(anns))
	}
	if anns[0].CallHash != stored || anns[0].Call == nil || anns[0].Delegate != delegate || anns[0].Height != h {
		t.Errorf("first announcement = %+v", anns[0])
	}
	if anns[1].Call != nil {
		t.Error("unknown call should be nil")
	}
}
