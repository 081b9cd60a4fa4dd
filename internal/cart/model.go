package cart

import (
	"errors"
	"fmt"
	"time"

	"github.com/noah-isme/toko-cart/internal/pricing"
)

var (
	// ErrInvalidInput is returned when a mutation is rejected before touching the cart.
	ErrInvalidInput = errors.New("cart: invalid input")
	// ErrEmptyCart is returned when an order is requested for a cart with no lines.
	ErrEmptyCart = errors.New("cart: cart is empty")
	// ErrOwnedCart is returned when a guest load is attempted on an owned cart.
	ErrOwnedCart = errors.New("cart: owned cart cannot return to guest")
	// ErrClosed is returned by operations on an engine that was closed.
	ErrClosed = errors.New("cart: engine closed")
)

// State is the lifecycle position of a cart engine.
type State string

const (
	StateNew     State = "new"
	StateGuest   State = "guest"
	StateMerging State = "merging"
	StateOwned   State = "owned"
)

// Cart is a point-in-time copy of the engine's cart.
type Cart struct {
	OwnerKey string         `json:"ownerKey"`
	State    State          `json:"state"`
	Lines    []pricing.Line `json:"lines"`
	Seq      uint64         `json:"seq"`
}

// PersistenceError reports a failed cart write or read. The cart stays usable
// in memory.
type PersistenceError struct {
	Op     string
	Target string
	Err    error
	At     time.Time
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("cart %s %s: %v", e.Op, e.Target, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// SyncStatus exposes the asynchronous persistence state of a cart.
type SyncStatus struct {
	// Seq is the latest mutation sequence.
	Seq uint64 `json:"seq"`
	// PersistedSeq is the latest sequence whose write was attempted.
	PersistedSeq      uint64            `json:"persistedSeq"`
	PendingRemoteSync bool              `json:"pendingRemoteSync"`
	Err               *PersistenceError `json:"-"`
}

// Dirty reports whether mutations are waiting for the writer.
func (s SyncStatus) Dirty() bool {
	return s.Seq > s.PersistedSeq
}

// Merge folds guest lines into remote lines. Shared products sum their
// quantities and keep the remote unit price; guest-only lines are appended in
// their original order. Neither input is modified.
func Merge(remote, guest []pricing.Line) []pricing.Line {
	out := cloneLines(remote)
	for _, g := range guest {
		if i := indexOf(out, g.ProductID); i >= 0 {
			out[i].Quantity += g.Quantity
			continue
		}
		out = append(out, g)
	}
	return out
}

func indexOf(lines []pricing.Line, productID string) int {
	for i := range lines {
		if lines[i].ProductID == productID {
			return i
		}
	}
	return -1
}

func cloneLines(lines []pricing.Line) []pricing.Line {
	out := make([]pricing.Line, len(lines))
	copy(out, lines)
	return out
}
