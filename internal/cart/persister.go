package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/noah-isme/toko-cart/internal/cache"
	"github.com/noah-isme/toko-cart/internal/obs"
)

type outcome struct {
	owned    bool
	synced   bool
	fallback bool
	err      *PersistenceError
}

func (e *Engine) run() {
	defer func() {
		e.mu.Lock()
		e.writerDone = true
		e.broadcastLocked()
		e.mu.Unlock()
		close(e.stopped)
	}()
	for {
		select {
		case <-e.wake:
		case <-e.stop:
			e.writePending()
			return
		}
		if e.debounce > 0 {
			timer := time.NewTimer(e.debounce)
			select {
			case <-timer.C:
			case <-e.hurry:
				timer.Stop()
			case <-e.stop:
				timer.Stop()
				e.writePending()
				return
			}
		}
		e.writePending()
	}
}

// writePending takes the newest queued snapshot and writes it. Older
// snapshots were replaced in the queue, and anything at or below the persisted
// sequence is skipped, so a write never regresses the stored cart.
func (e *Engine) writePending() {
	e.io.Lock()
	defer e.io.Unlock()

	e.mu.Lock()
	snap := e.pending
	e.pending = nil
	if snap == nil || snap.seq <= e.persisted {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	out := e.write(e.ctx, *snap)

	e.mu.Lock()
	e.applyLocked(*snap, out)
	e.mu.Unlock()
}

// drainLocked writes a queued snapshot synchronously. Callers hold io and mu.
func (e *Engine) drainLocked(ctx context.Context) {
	snap := e.pending
	e.pending = nil
	if snap == nil || snap.seq <= e.persisted {
		return
	}
	e.applyLocked(*snap, e.write(ctx, *snap))
}

// write performs the store I/O for snap without touching engine state. Owned
// carts fall back to a pending local copy when the remote write fails.
func (e *Engine) write(ctx context.Context, snap snapshot) outcome {
	if snap.target.principalID == "" {
		err := writeLocal(ctx, e.local, cache.GuestCartKey(snap.target.guestToken), snap.lines)
		countPersist("local", err)
		if err != nil {
			return outcome{err: e.persistErr("save", "local", err)}
		}
		return outcome{}
	}

	pid := snap.target.principalID
	err := e.remote.Save(ctx, pid, snap.lines)
	countPersist("remote", err)
	if err == nil {
		if delErr := e.local.Delete(ctx, cache.PendingCartKey(pid)); delErr != nil {
			e.logger.Warn().Err(delErr).Str("principal_id", pid).Msg("cart_pending_clear_failed")
		}
		return outcome{owned: true, synced: true}
	}

	out := outcome{owned: true}
	localErr := writeLocal(ctx, e.local, cache.PendingCartKey(pid), snap.lines)
	countPersist("pending", localErr)
	if localErr != nil {
		out.err = e.persistErr("save", "remote", errors.Join(err, fmt.Errorf("fallback: %w", localErr)))
		e.logger.Error().Err(out.err).Str("principal_id", pid).Uint64("seq", snap.seq).Msg("cart_persist_lost")
		return out
	}
	out.fallback = true
	out.err = e.persistErr("save", "remote", err)
	e.logger.Warn().Err(err).Str("principal_id", pid).Uint64("seq", snap.seq).Msg("cart_persist_failed")
	return out
}

func (e *Engine) applyLocked(snap snapshot, out outcome) {
	if snap.seq > e.persisted {
		e.persisted = snap.seq
	}
	current := snap.target.principalID == "" || snap.target.principalID == e.principalID
	if current {
		if out.owned {
			e.pendingSync = !out.synced
		}
		if out.err != nil {
			e.lastErr = out.err
		} else {
			e.lastErr = nil
		}
	}
	e.broadcastLocked()
}

func (e *Engine) persistErr(op, targetName string, err error) *PersistenceError {
	return &PersistenceError{Op: op, Target: targetName, Err: err, At: e.now()}
}

func countPersist(targetName string, err error) {
	if obs.CartPersistTotal == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	obs.CartPersistTotal.WithLabelValues(targetName, result).Inc()
}

func countMerge(result string) {
	if obs.CartMergeTotal != nil {
		obs.CartMergeTotal.WithLabelValues(result).Inc()
	}
}
