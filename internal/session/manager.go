package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-cart/internal/cache"
	"github.com/noah-isme/toko-cart/internal/cart"
	"github.com/noah-isme/toko-cart/internal/common"
	"github.com/noah-isme/toko-cart/internal/lock"
)

// ErrClosed is returned by Resolve after Close.
var ErrClosed = errors.New("session: manager closed")

// Config configures a Manager.
type Config struct {
	Remote cart.RemoteStore
	Local  cache.Local
	// Guard serialises loads of one session across replicas. Optional.
	Guard    lock.Guard
	Debounce time.Duration
	Logger   zerolog.Logger
	Now      func() time.Time
}

type entry struct {
	mu       sync.Mutex
	engine   *cart.Engine
	closed   bool
	lastSeen time.Time
}

// Manager keeps one cart engine per session token and reconciles it with the
// caller's identity on every request.
type Manager struct {
	cfg Config
	now func() time.Time

	mu       sync.Mutex
	sessions map[string]*entry
	closed   bool
}

// NewManager constructs a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Remote == nil || cfg.Local == nil {
		return nil, errors.New("session: remote and local stores are required")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{cfg: cfg, now: now, sessions: map[string]*entry{}}, nil
}

// Resolve returns the engine for token, creating one for an empty or unknown
// token. The engine is reconciled with principal: the first request loads the
// cart, a principal appearing on a guest session merges once, and a principal
// disappearing from an owned session discards the engine for a fresh guest one
// under a new token. Callers read the token back from Engine.GuestToken.
//
// A *cart.PersistenceError is a warning and comes with a usable engine.
func (m *Manager) Resolve(ctx context.Context, token string, principal *common.Principal) (*cart.Engine, error) {
	pid := ""
	if principal != nil {
		pid = strings.TrimSpace(principal.ID)
	}
	if pid == "" {
		principal = nil
	}

	ent, err := m.lockEntry(normalizeToken(token))
	if err != nil {
		return nil, err
	}
	eng := ent.engine
	if eng.State() == cart.StateOwned && eng.PrincipalID() != pid {
		next, err := m.rotate(ent)
		ent.mu.Unlock()
		if err != nil {
			return nil, err
		}
		ent = next
		eng = ent.engine
	}
	defer ent.mu.Unlock()

	if reconciled(eng, pid) {
		return eng, nil
	}
	return eng, m.load(ctx, eng, principal)
}

// Logout flushes and discards the engine bound to token. The next request
// without that token starts a new guest session.
func (m *Manager) Logout(ctx context.Context, token string) error {
	m.mu.Lock()
	ent, ok := m.sessions[token]
	if ok {
		delete(m.sessions, token)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}
	ent.mu.Lock()
	ent.closed = true
	ent.mu.Unlock()
	return ent.engine.Close(ctx)
}

// Sweep closes engines idle for longer than idle and returns how many were
// dropped. Busy sessions are skipped.
func (m *Manager) Sweep(ctx context.Context, idle time.Duration) int {
	cutoff := m.now().Add(-idle)
	var victims []*entry
	m.mu.Lock()
	for token, ent := range m.sessions {
		if ent.lastSeen.After(cutoff) {
			continue
		}
		if !ent.mu.TryLock() {
			continue
		}
		ent.closed = true
		ent.mu.Unlock()
		delete(m.sessions, token)
		victims = append(victims, ent)
	}
	m.mu.Unlock()

	for _, ent := range victims {
		if err := ent.engine.Close(ctx); err != nil {
			m.cfg.Logger.Warn().Err(err).Str("session", ent.engine.GuestToken()).Msg("session_close_failed")
		}
	}
	if len(victims) > 0 {
		m.cfg.Logger.Debug().Int("sessions", len(victims)).Msg("sessions_swept")
	}
	return len(victims)
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close flushes and stops every engine.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	all := make([]*entry, 0, len(m.sessions))
	for token, ent := range m.sessions {
		all = append(all, ent)
		delete(m.sessions, token)
	}
	m.mu.Unlock()

	var errs []error
	for _, ent := range all {
		ent.mu.Lock()
		ent.closed = true
		ent.mu.Unlock()
		if err := ent.engine.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// lockEntry returns the locked entry for token, creating it when needed.
// Entries closed by a concurrent sweep are replaced.
func (m *Manager) lockEntry(token string) (*entry, error) {
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return nil, ErrClosed
		}
		ent, ok := m.sessions[token]
		if !ok {
			eng, err := m.newEngine(token)
			if err != nil {
				m.mu.Unlock()
				return nil, err
			}
			ent = &entry{engine: eng}
			m.sessions[eng.GuestToken()] = ent
		}
		ent.lastSeen = m.now()
		m.mu.Unlock()

		ent.mu.Lock()
		if !ent.closed {
			return ent, nil
		}
		ent.mu.Unlock()
	}
}

// rotate replaces a locked entry with a fresh guest session under a new
// token. The returned entry is locked.
func (m *Manager) rotate(old *entry) (*entry, error) {
	eng, err := m.newEngine("")
	if err != nil {
		return nil, err
	}
	next := &entry{engine: eng, lastSeen: m.now()}
	next.mu.Lock()

	m.mu.Lock()
	delete(m.sessions, old.engine.GuestToken())
	m.sessions[eng.GuestToken()] = next
	m.mu.Unlock()

	old.closed = true
	prev := old.engine
	m.cfg.Logger.Info().
		Str("principal_id", prev.PrincipalID()).
		Str("session", prev.GuestToken()).
		Msg("session_identity_changed")
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := prev.Close(ctx); err != nil {
			m.cfg.Logger.Warn().Err(err).Msg("session_close_failed")
		}
	}()
	return next, nil
}

func (m *Manager) newEngine(token string) (*cart.Engine, error) {
	return cart.NewEngine(cart.Config{
		Remote:     m.cfg.Remote,
		Local:      m.cfg.Local,
		GuestToken: token,
		Debounce:   m.cfg.Debounce,
		Logger:     m.cfg.Logger,
		Now:        m.now,
	})
}

// load runs eng.Load under the distributed session lock. The caller holds the
// entry mutex, so when the lock is unavailable the load still runs, serialised
// within this replica, and the session carries on with the outcome as a
// persistence warning.
func (m *Manager) load(ctx context.Context, eng *cart.Engine, principal *common.Principal) error {
	if m.cfg.Guard == nil {
		_, err := eng.Load(ctx, principal)
		return err
	}
	loaded := false
	lockErr := m.cfg.Guard.WithLock(ctx, "cart:session:"+eng.GuestToken(), func(ctx context.Context) error {
		loaded = true
		_, err := eng.Load(ctx, principal)
		return err
	})
	if lockErr == nil || loaded {
		return lockErr
	}
	m.cfg.Logger.Warn().Err(lockErr).Str("session", eng.GuestToken()).Msg("cart_session_lock_failed")
	if _, err := eng.Load(ctx, principal); err != nil {
		return err
	}
	return &cart.PersistenceError{Op: "load", Target: "lock", Err: lockErr, At: m.now()}
}

// reconciled reports whether eng already reflects pid, so no load is needed.
func reconciled(eng *cart.Engine, pid string) bool {
	switch eng.State() {
	case cart.StateGuest:
		return pid == ""
	case cart.StateOwned:
		return pid != "" && eng.PrincipalID() == pid
	}
	return false
}

// normalizeToken drops tokens this service could not have issued.
func normalizeToken(token string) string {
	token = strings.TrimSpace(token)
	if _, err := uuid.Parse(token); err != nil {
		return ""
	}
	return token
}
