package notesync

import (
	"fmt"
	"sync"
)

// StateKind is the phase reported by SyncState.
type StateKind int

const (
	StateOk StateKind = iota
	StatePull
	StatePush
	StateError
)

var stateNames = map[StateKind]string{
	StateOk:    "ok",
	StatePull:  "pull",
	StatePush:  "push",
	StateError: "error",
}

func (k StateKind) String() string {
	if s, ok := stateNames[k]; ok {
		return s
	}
	return fmt.Sprintf("state(%d)", int(k))
}

// MarshalText encodes the kind by name.
func (k StateKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind written by MarshalText.
func (k *StateKind) UnmarshalText(text []byte) error {
	for kind, name := range stateNames {
		if name == string(text) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("notesync: unknown sync state %q", text)
}

// SyncState is the UI-facing sync indicator. Consumed only applies to
// StateOk and records that the UI has already shown the success.
type SyncState struct {
	Kind     StateKind `json:"state"`
	Consumed bool      `json:"consumed"`
}

// Ok returns the success state.
func Ok(consumed bool) SyncState { return SyncState{Kind: StateOk, Consumed: consumed} }

func (s SyncState) String() string {
	if s.Kind == StateOk {
		return fmt.Sprintf("ok(consumed=%t)", s.Consumed)
	}
	return s.Kind.String()
}

const subscriberBuffer = 16

// stateHub holds the current SyncState and fans transitions out to
// subscribers. A slow subscriber loses its oldest pending states.
type stateHub struct {
	mu     sync.Mutex
	state  SyncState
	nextID int
	subs   map[int]chan SyncState
}

func newStateHub() *stateHub {
	return &stateHub{state: Ok(true), subs: make(map[int]chan SyncState)}
}

func (h *stateHub) get() SyncState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *stateHub) set(s SyncState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.setLocked(s)
}

func (h *stateHub) setLocked(s SyncState) {
	h.state = s
	for _, ch := range h.subs {
		select {
		case ch <- s:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- s
		}
	}
}

// consume marks an unconsumed Ok state as consumed.
func (h *stateHub) consume() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state.Kind != StateOk || h.state.Consumed {
		return false
	}
	h.setLocked(Ok(true))
	return true
}

func (h *stateHub) subscribe() (<-chan SyncState, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	ch := make(chan SyncState, subscriberBuffer)
	h.subs[id] = ch
	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(ch)
		}
	}
}
