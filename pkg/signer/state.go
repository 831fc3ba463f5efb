package signer

import (
	"fmt"

	"github.com/cardano-stm/mithril-core/pkg/entities"
)

// State names the signer's position in the four-state automaton. There
// is no terminal state; the process is expected to run indefinitely.
type State int

const (
	// StateInit is the starting state: no epoch or beacon known yet.
	StateInit State = iota
	// StateUnregistered means Epoch is known but this signer has not yet
	// registered for it with the aggregator.
	StateUnregistered
	// StateRegistered means this signer registered for Beacon.Epoch and
	// is waiting to sign against Beacon.
	StateRegistered
	// StateSigned means a single signature has been sent for Beacon.
	StateSigned
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateUnregistered:
		return "unregistered"
	case StateRegistered:
		return "registered"
	case StateSigned:
		return "signed"
	default:
		return fmt.Sprintf("signer.State(%d)", int(s))
	}
}

// SignerState is the state machine's full position: a state tag plus
// whichever of Epoch/Beacon that state carries. Epoch is meaningful only
// in StateUnregistered; Beacon only in StateRegistered/StateSigned.
type SignerState struct {
	State  State
	Epoch  entities.Epoch
	Beacon entities.Beacon
}

// initState is the machine's starting position, carrying no epoch or
// beacon. Init is never re-entered once left.
func initState() SignerState {
	return SignerState{State: StateInit}
}

func unregisteredState(epoch entities.Epoch) SignerState {
	return SignerState{State: StateUnregistered, Epoch: epoch}
}

func registeredState(beacon entities.Beacon) SignerState {
	return SignerState{State: StateRegistered, Beacon: beacon}
}

func signedState(beacon entities.Beacon) SignerState {
	return SignerState{State: StateSigned, Beacon: beacon}
}

// epoch returns the epoch this state is "at", regardless of which field
// actually carries it, for the epoch-advance guard shared by every
// non-Init state.
func (s SignerState) epoch() entities.Epoch {
	switch s.State {
	case StateUnregistered:
		return s.Epoch
	case StateRegistered, StateSigned:
		return s.Beacon.Epoch
	default:
		return 0
	}
}

func (s SignerState) String() string {
	switch s.State {
	case StateUnregistered:
		return fmt.Sprintf("Unregistered{epoch=%d}", s.Epoch)
	case StateRegistered:
		return fmt.Sprintf("Registered{beacon=%s}", s.Beacon)
	case StateSigned:
		return fmt.Sprintf("Signed{beacon=%s}", s.Beacon)
	default:
		return "Init"
	}
}
