package cart

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-cart/internal/cache"
	"github.com/noah-isme/toko-cart/internal/common"
	"github.com/noah-isme/toko-cart/internal/order"
	"github.com/noah-isme/toko-cart/internal/pricing"
)

// Config configures an Engine.
type Config struct {
	Remote     RemoteStore
	Local      cache.Local
	GuestToken string
	// Debounce delays each write so bursts of mutations collapse into one.
	Debounce time.Duration
	Logger   zerolog.Logger
	Now      func() time.Time
}

type target struct {
	guestToken  string
	principalID string
}

type snapshot struct {
	seq    uint64
	lines  []pricing.Line
	target target
}

// Engine owns the cart of one session. Mutations apply to memory immediately
// and are persisted by a single background writer in sequence order.
type Engine struct {
	remote   RemoteStore
	local    cache.Local
	logger   zerolog.Logger
	debounce time.Duration
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	// io serialises store access between the writer and Load.
	io sync.Mutex

	mu          sync.Mutex
	state       State
	guestToken  string
	principalID string
	lines       []pricing.Line
	seq         uint64
	persisted   uint64
	pending     *snapshot
	pendingSync bool
	lastErr     *PersistenceError
	progress    chan struct{}
	closed      bool
	writerDone  bool

	wake    chan struct{}
	hurry   chan struct{}
	stop    chan struct{}
	stopped chan struct{}
}

// NewEngine constructs an engine and starts its writer. A missing guest token
// is generated.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Local == nil {
		return nil, errors.New("cart: local cache is required")
	}
	if cfg.Remote == nil {
		return nil, errors.New("cart: remote store is required")
	}
	token := strings.TrimSpace(cfg.GuestToken)
	if token == "" {
		token = uuid.NewString()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		remote:     cfg.Remote,
		local:      cfg.Local,
		logger:     cfg.Logger,
		debounce:   cfg.Debounce,
		now:        now,
		ctx:        ctx,
		cancel:     cancel,
		state:      StateNew,
		guestToken: token,
		progress:   make(chan struct{}),
		wake:       make(chan struct{}, 1),
		hurry:      make(chan struct{}, 1),
		stop:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
	go e.run()
	return e, nil
}

// GuestToken returns the token keying this session's guest cart.
func (e *Engine) GuestToken() string {
	return e.guestToken
}

// State returns the lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// PrincipalID returns the owning principal, empty for guests.
func (e *Engine) PrincipalID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.principalID
}

// Load reconciles the in-memory cart with persistent storage for principal.
// A nil principal loads the guest cart. The first load with a principal after
// guest activity merges the guest lines into the remote cart. Callers must not
// run Load concurrently for the same session.
//
// A returned *PersistenceError is a warning: the returned cart is usable.
func (e *Engine) Load(ctx context.Context, principal *common.Principal) (Cart, error) {
	e.io.Lock()
	defer e.io.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return Cart{}, ErrClosed
	}
	e.drainLocked(ctx)

	if principal == nil || strings.TrimSpace(principal.ID) == "" {
		return e.loadGuestLocked(ctx)
	}
	pid := principal.ID
	switch e.state {
	case StateGuest:
		return e.mergeLocked(ctx, pid, e.lines)
	case StateNew:
		guest, ok, err := readLocal(ctx, e.local, cache.GuestCartKey(e.guestToken))
		if err != nil {
			e.logger.Warn().Err(err).Str("guest_token", e.guestToken).Msg("cart_guest_read_failed")
		}
		if ok && len(guest) > 0 {
			return e.mergeLocked(ctx, pid, guest)
		}
	}
	return e.loadOwnedLocked(ctx, pid)
}

func (e *Engine) loadGuestLocked(ctx context.Context) (Cart, error) {
	switch e.state {
	case StateOwned:
		return e.cartLocked(), ErrOwnedCart
	case StateGuest:
		return e.cartLocked(), nil
	}
	e.state = StateGuest
	lines, _, err := readLocal(ctx, e.local, cache.GuestCartKey(e.guestToken))
	if err != nil {
		perr := e.failLocked("load", "local", err)
		return e.cartLocked(), perr
	}
	e.lines = lines
	e.markLoadedLocked()
	return e.cartLocked(), nil
}

func (e *Engine) loadOwnedLocked(ctx context.Context, pid string) (Cart, error) {
	lines, fromPending, err := e.fetchOwned(ctx, pid)
	if err != nil {
		perr := e.failLocked("load", "remote", err)
		if e.state == StateNew {
			// lines added until the next load land in the guest copy and are merged then
			e.state = StateGuest
		}
		return e.cartLocked(), perr
	}
	e.state = StateOwned
	e.principalID = pid
	e.lines = lines
	e.markLoadedLocked()
	if fromPending {
		e.pushLocked(ctx, pid)
	}
	return e.cartLocked(), e.errIfPendingLocked()
}

func (e *Engine) mergeLocked(ctx context.Context, pid string, guest []pricing.Line) (Cart, error) {
	prev := e.state
	e.state = StateMerging
	base, _, err := e.fetchOwned(ctx, pid)
	if err != nil {
		e.state = prev
		if prev == StateNew {
			e.state = StateGuest
			e.lines = cloneLines(guest)
		}
		countMerge("error")
		return e.cartLocked(), e.failLocked("merge", "remote", err)
	}
	merged := Merge(base, guest)
	e.principalID = pid
	e.lines = merged
	e.state = StateOwned
	e.markLoadedLocked()

	if e.pushLocked(ctx, pid) {
		e.retireGuestCopy(ctx)
	}
	countMerge("ok")
	e.logger.Info().
		Str("principal_id", pid).
		Int("guest_lines", len(guest)).
		Int("merged_lines", len(merged)).
		Msg("cart_merged")
	return e.cartLocked(), e.errIfPendingLocked()
}

// retireGuestCopy removes the merged guest copy so no later engine on the
// same token merges it again. When the delete fails the copy is overwritten
// with an empty list, which Load never merges.
func (e *Engine) retireGuestCopy(ctx context.Context) {
	key := cache.GuestCartKey(e.guestToken)
	err := e.local.Delete(ctx, key)
	if err == nil {
		return
	}
	e.logger.Warn().Err(err).Str("guest_token", e.guestToken).Msg("cart_guest_clear_failed")
	if err := writeLocal(ctx, e.local, key, nil); err != nil {
		e.logger.Error().Err(err).Str("guest_token", e.guestToken).Msg("cart_guest_retire_failed")
	}
}

// fetchOwned returns the principal's cart. A pending fallback copy is newer
// than the remote document and wins over it.
func (e *Engine) fetchOwned(ctx context.Context, pid string) ([]pricing.Line, bool, error) {
	lines, ok, err := readLocal(ctx, e.local, cache.PendingCartKey(pid))
	if err != nil {
		e.logger.Warn().Err(err).Str("principal_id", pid).Msg("cart_pending_read_failed")
	} else if ok {
		return lines, true, nil
	}
	lines, found, err := e.remote.Load(ctx, pid)
	if err != nil {
		return nil, false, err
	}
	if !found {
		if err := e.remote.Save(ctx, pid, nil); err != nil {
			e.logger.Warn().Err(err).Str("principal_id", pid).Msg("cart_create_failed")
		}
	}
	return lines, false, nil
}

// pushLocked writes the current lines of an owned cart synchronously and
// reports whether they are durable (remote or fallback copy).
func (e *Engine) pushLocked(ctx context.Context, pid string) bool {
	snap := snapshot{seq: e.seq, lines: cloneLines(e.lines), target: target{principalID: pid}}
	out := e.write(ctx, snap)
	e.applyLocked(snap, out)
	return out.synced || out.fallback
}

// AddLine adds quantity units of productID at unitPrice, incrementing an
// existing line for the same product.
func (e *Engine) AddLine(productID string, unitPrice decimal.Decimal, quantity int) (Cart, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Cart{}, fmt.Errorf("%w: product id is required", ErrInvalidInput)
	}
	if quantity < 1 {
		return Cart{}, fmt.Errorf("%w: quantity must be at least 1", ErrInvalidInput)
	}
	if unitPrice.IsNegative() {
		return Cart{}, fmt.Errorf("%w: unit price must not be negative", ErrInvalidInput)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return e.cartLocked(), ErrClosed
	}
	if i := indexOf(e.lines, productID); i >= 0 {
		e.lines[i].Quantity += quantity
	} else {
		e.lines = append(e.lines, pricing.Line{ProductID: productID, UnitPrice: unitPrice, Quantity: quantity})
	}
	e.scheduleLocked()
	return e.cartLocked(), nil
}

// RemoveLine drops the line for productID. Removing an absent product is a no-op.
func (e *Engine) RemoveLine(productID string) (Cart, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return e.cartLocked(), ErrClosed
	}
	if i := indexOf(e.lines, productID); i >= 0 {
		e.lines = append(e.lines[:i], e.lines[i+1:]...)
	}
	e.scheduleLocked()
	return e.cartLocked(), nil
}

// SetQuantity sets the quantity of an existing line. A quantity of zero or
// less removes the line; an absent product is ignored.
func (e *Engine) SetQuantity(productID string, quantity int) (Cart, error) {
	if quantity <= 0 {
		return e.RemoveLine(productID)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return e.cartLocked(), ErrClosed
	}
	if i := indexOf(e.lines, productID); i >= 0 {
		e.lines[i].Quantity = quantity
	}
	e.scheduleLocked()
	return e.cartLocked(), nil
}

// Clear empties the cart and persists the empty state.
func (e *Engine) Clear() (Cart, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return e.cartLocked(), ErrClosed
	}
	e.lines = nil
	e.scheduleLocked()
	return e.cartLocked(), nil
}

// Cart returns a copy of the current cart.
func (e *Engine) Cart() Cart {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cartLocked()
}

// ComputePricing prices the current lines. It has no side effects.
func (e *Engine) ComputePricing(policy pricing.Policy) pricing.Snapshot {
	e.mu.Lock()
	lines := cloneLines(e.lines)
	e.mu.Unlock()
	return pricing.Compute(lines, policy)
}

// ToOrderRecord snapshots the cart into a pending order. The live cart is not
// modified; callers clear it once the order store confirmed the append.
func (e *Engine) ToOrderRecord(shipping order.ShippingInfo, method order.PaymentMethod, policy pricing.Policy) (order.Record, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.lines) == 0 {
		return order.Record{}, ErrEmptyCart
	}
	lines := cloneLines(e.lines)
	snap := pricing.Compute(lines, policy)
	rec := order.Record{
		OwnerKey:      e.ownerKeyLocked(),
		Lines:         lines,
		Subtotal:      snap.Subtotal,
		ShippingFee:   snap.ShippingFee,
		Tax:           snap.Tax,
		Total:         snap.Total,
		Shipping:      shipping,
		PaymentMethod: method,
		Status:        order.StatusPending,
		PaymentStatus: order.PaymentPending,
	}
	if e.state == StateOwned {
		rec.UserID = e.principalID
	}
	return rec, nil
}

// SyncStatus reports the persistence state.
func (e *Engine) SyncStatus() SyncStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return SyncStatus{
		Seq:               e.seq,
		PersistedSeq:      e.persisted,
		PendingRemoteSync: e.pendingSync,
		Err:               e.lastErr,
	}
}

// Flush waits until every mutation made before the call has been written or
// superseded.
func (e *Engine) Flush(ctx context.Context) error {
	e.mu.Lock()
	want := e.seq
	e.mu.Unlock()
	select {
	case e.hurry <- struct{}{}:
	default:
	}
	for {
		e.mu.Lock()
		if e.persisted >= want || e.writerDone {
			e.mu.Unlock()
			return nil
		}
		ch := e.progress
		e.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close writes any pending snapshot and stops the writer.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()
	close(e.stop)
	defer e.cancel()
	select {
	case <-e.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) ownerKeyLocked() string {
	if e.state == StateOwned && e.principalID != "" {
		return e.principalID
	}
	return e.guestToken
}

func (e *Engine) cartLocked() Cart {
	return Cart{
		OwnerKey: e.ownerKeyLocked(),
		State:    e.state,
		Lines:    cloneLines(e.lines),
		Seq:      e.seq,
	}
}

// markLoadedLocked records a state read from (or written to) storage as the
// newest persisted state, superseding queued snapshots.
func (e *Engine) markLoadedLocked() {
	e.seq++
	e.persisted = e.seq
	e.pending = nil
	e.broadcastLocked()
}

// scheduleLocked queues the current lines for the writer. Callers reject
// mutations on a closed engine first.
func (e *Engine) scheduleLocked() {
	e.seq++
	t := target{guestToken: e.guestToken}
	if e.state == StateOwned {
		t.principalID = e.principalID
	}
	e.pending = &snapshot{seq: e.seq, lines: cloneLines(e.lines), target: t}
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) failLocked(op, targetName string, err error) *PersistenceError {
	perr := &PersistenceError{Op: op, Target: targetName, Err: err, At: e.now()}
	e.lastErr = perr
	e.logger.Warn().Err(err).Str("op", op).Str("target", targetName).Msg("cart_persist_failed")
	return perr
}

func (e *Engine) errIfPendingLocked() error {
	if e.pendingSync && e.lastErr != nil {
		return e.lastErr
	}
	return nil
}

func (e *Engine) broadcastLocked() {
	close(e.progress)
	e.progress = make(chan struct{})
}
