// Package security runs the delayed-proxy response protocol.
//
// A delegate announces a call on behalf of a protected account. The call can
// be executed once the proxy's delay period has passed. Meanwhile the
// orchestrator decodes the announced call and compares its destination with
// cold storage. A call bound for cold storage is left to run; any other call
// makes the multisig members remove every proxy of the account before the
// delay expires.
package security

import (
	"errors"
	"fmt"

	"github.com/Klingon-tech/proxyguard/pkg/types"
)

// State is a step of the protocol for one announcement.
type State int

// Protocol states. Executed, Revoked and RaceLost are terminal.
const (
	StateAnnounced State = iota + 1
	StateSafetyChecked
	StateAwaitingExpiry
	StateExecuted
	StateRevocationInFlight
	StateRevoked
	StateRaceLost
)

var stateNames = map[State]string{
	StateAnnounced:          "announced",
	StateSafetyChecked:      "safety-checked",
	StateAwaitingExpiry:     "awaiting-expiry",
	StateExecuted:           "executed",
	StateRevocationInFlight: "revocation-in-flight",
	StateRevoked:            "revoked",
	StateRaceLost:           "race-lost",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateExecuted || s == StateRevoked || s == StateRaceLost
}

// Announcement is a proxy announcement observed on chain.
type Announcement struct {
	Delegate types.Address
	Real     types.Address
	CallHash types.Hash
	// Call is the original encoded call, nil when it is not known locally.
	Call []byte
	// Height is the block that included the announcement.
	Height uint64
}

// Outcome is the result of running the protocol for one announcement.
type Outcome struct {
	State State
	// Safe is the verdict of the safety check.
	Safe bool
	// Destination is the decoded funds destination, nil if the call has none.
	Destination    *types.Address
	AnnounceHeight uint64
	ExpiryHeight   uint64
	// ResolvedHeight is the block of the event that settled the outcome.
	ResolvedHeight uint64
}

// ErrRaceLost matches any *RaceLostError.
var ErrRaceLost = errors.New("race lost")

// ErrRevocationFailed wraps every error of a revocation that did not land.
var ErrRevocationFailed = errors.New("revocation failed")

// RaceLostError reports that an unsafe announced call executed before the
// proxy was removed.
type RaceLostError struct {
	Announcement Announcement
	ExecutedAt   types.Timepoint
	// RevokedAt is where the revocation landed, nil if it never did.
	RevokedAt *types.Timepoint
	// Cause is the revocation error, if the revocation failed.
	Cause error
}

func (e *RaceLostError) Error() string {
	msg := fmt.Sprintf("race lost: call %s announced at %d for %s executed at %s",
		e.Announcement.CallHash, e.Announcement.Height, e.Announcement.Real, e.ExecutedAt)
	if e.RevokedAt != nil {
		msg += fmt.Sprintf(", revocation landed at %s", e.RevokedAt)
	}
	if e.Cause != nil {
		msg += "; " + e.Cause.Error()
	}
	return msg
}

func (e *RaceLostError) Unwrap() error { return e.Cause }

// Is makes errors.Is(err, ErrRaceLost) hold.
func (e *RaceLostError) Is(target error) bool {
	return target == ErrRaceLost
}
