package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-cart/internal/cache"
	"github.com/noah-isme/toko-cart/internal/cart"
	"github.com/noah-isme/toko-cart/internal/common"
	"github.com/noah-isme/toko-cart/internal/docstore"
	"github.com/noah-isme/toko-cart/internal/lock"
	"github.com/noah-isme/toko-cart/internal/session"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	manager *session.Manager
	docs    *docstore.Memory
	remote  *cart.DocumentRemote
	clock   *clock
}

func newFixture(t *testing.T, guard lock.Guard) fixture {
	t.Helper()
	docs := docstore.NewMemory()
	remote := cart.NewDocumentRemote(docs)
	clk := &clock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
	m, err := session.NewManager(session.Config{
		Remote: remote,
		Local:  cache.NewMemory(),
		Guard:  guard,
		Logger: zerolog.Nop(),
		Now:    clk.Now,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	return fixture{manager: m, docs: docs, remote: remote, clock: clk}
}

func TestNewManagerRequiresStores(t *testing.T) {
	_, err := session.NewManager(session.Config{})
	require.Error(t, err)
}

func TestResolveCreatesGuestSession(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	eng, err := f.manager.Resolve(ctx, "", nil)
	require.NoError(t, err)
	require.Equal(t, cart.StateGuest, eng.State())
	_, err = uuid.Parse(eng.GuestToken())
	require.NoError(t, err)

	same, err := f.manager.Resolve(ctx, eng.GuestToken(), nil)
	require.NoError(t, err)
	require.Same(t, eng, same)

	forged, err := f.manager.Resolve(ctx, "not-a-token", nil)
	require.NoError(t, err)
	require.NotEqual(t, "not-a-token", forged.GuestToken())
	require.Equal(t, 2, f.manager.Len())
}

func TestResolveMergesOnLoginAndRotatesOnLogout(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	guest, err := f.manager.Resolve(ctx, "", nil)
	require.NoError(t, err)
	token := guest.GuestToken()
	_, err = guest.AddLine("milk", decimal.NewFromInt(40), 2)
	require.NoError(t, err)

	principal := &common.Principal{ID: "user-1"}
	owned, err := f.manager.Resolve(ctx, token, principal)
	require.NoError(t, err)
	require.Same(t, guest, owned)
	require.Equal(t, cart.StateOwned, owned.State())
	require.Equal(t, "user-1", owned.PrincipalID())

	lines, found, err := f.remote.Load(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, lines, 1)
	require.Equal(t, 2, lines[0].Quantity)

	// repeated requests do not merge again
	again, err := f.manager.Resolve(ctx, token, principal)
	require.NoError(t, err)
	require.Equal(t, 2, again.Cart().Lines[0].Quantity)

	fresh, err := f.manager.Resolve(ctx, token, nil)
	require.NoError(t, err)
	require.NotSame(t, owned, fresh)
	require.NotEqual(t, token, fresh.GuestToken())
	require.Equal(t, cart.StateGuest, fresh.State())
	require.Empty(t, fresh.Cart().Lines)
	require.Equal(t, 1, f.manager.Len())
}

func TestResolveReloadsOwnedCartAfterSweep(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	principal := &common.Principal{ID: "user-2"}

	eng, err := f.manager.Resolve(ctx, "", principal)
	require.NoError(t, err)
	token := eng.GuestToken()
	_, err = eng.AddLine("rice", decimal.NewFromInt(90), 1)
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	require.Equal(t, 1, f.manager.Sweep(ctx, 30*time.Minute))
	require.Zero(t, f.manager.Len())

	back, err := f.manager.Resolve(ctx, token, principal)
	require.NoError(t, err)
	require.NotSame(t, eng, back)
	require.Equal(t, cart.StateOwned, back.State())
	require.Len(t, back.Cart().Lines, 1)
}

func TestSweepKeepsActiveSessions(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	idle, err := f.manager.Resolve(ctx, "", nil)
	require.NoError(t, err)
	f.clock.Advance(20 * time.Minute)
	active, err := f.manager.Resolve(ctx, "", nil)
	require.NoError(t, err)
	f.clock.Advance(15 * time.Minute)

	require.Equal(t, 1, f.manager.Sweep(ctx, 30*time.Minute))
	require.Equal(t, 1, f.manager.Len())

	got, err := f.manager.Resolve(ctx, active.GuestToken(), nil)
	require.NoError(t, err)
	require.Same(t, active, got)

	recreated, err := f.manager.Resolve(ctx, idle.GuestToken(), nil)
	require.NoError(t, err)
	require.NotSame(t, idle, recreated)
	require.Equal(t, idle.GuestToken(), recreated.GuestToken())
}

func TestLogoutDiscardsEngine(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	eng, err := f.manager.Resolve(ctx, "", &common.Principal{ID: "user-3"})
	require.NoError(t, err)
	require.NoError(t, f.manager.Logout(ctx, eng.GuestToken()))
	require.Zero(t, f.manager.Len())
	require.NoError(t, f.manager.Logout(ctx, eng.GuestToken()))

	_, err = eng.Load(ctx, nil)
	require.ErrorIs(t, err, cart.ErrClosed)
}

func TestResolveUsesDistributedGuard(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := lock.Locker{R: client, Prefix: "lock:", Wait: 50 * time.Millisecond, RetryBackoff: 5 * time.Millisecond}
	f := newFixture(t, locker)
	ctx := context.Background()

	eng, err := f.manager.Resolve(ctx, "", nil)
	require.NoError(t, err)
	require.Equal(t, cart.StateGuest, eng.State())
	require.False(t, mr.Exists("lock:cart:session:"+eng.GuestToken()))

	// another replica is loading the same session
	token := uuid.NewString()
	require.NoError(t, mr.Set("lock:cart:session:"+token, "replica-b"))
	busy, err := f.manager.Resolve(ctx, token, &common.Principal{ID: "user-4"})
	require.ErrorIs(t, err, lock.ErrNotAcquired)
	var warning *cart.PersistenceError
	require.ErrorAs(t, err, &warning)
	require.NotNil(t, busy)
	require.Equal(t, cart.StateOwned, busy.State())
}

type brokenGuard struct{ err error }

func (g brokenGuard) WithLock(context.Context, string, func(context.Context) error) error {
	return g.err
}

func TestResolveSurvivesLockOutage(t *testing.T) {
	dialErr := errors.New("dial tcp: connection refused")
	f := newFixture(t, brokenGuard{err: dialErr})
	ctx := context.Background()

	eng, err := f.manager.Resolve(ctx, "", nil)
	var warning *cart.PersistenceError
	require.ErrorAs(t, err, &warning)
	require.ErrorIs(t, err, dialErr)
	require.NotNil(t, eng)
	require.Equal(t, cart.StateGuest, eng.State())

	_, err = eng.AddLine("milk", decimal.NewFromInt(40), 1)
	require.NoError(t, err)

	// the loaded session needs no lock on later requests
	same, err := f.manager.Resolve(ctx, eng.GuestToken(), nil)
	require.NoError(t, err)
	require.Same(t, eng, same)

	owned, err := f.manager.Resolve(ctx, eng.GuestToken(), &common.Principal{ID: "user-5"})
	require.ErrorAs(t, err, &warning)
	require.Same(t, eng, owned)
	require.Equal(t, cart.StateOwned, owned.State())
	lines := owned.Cart().Lines
	require.Len(t, lines, 1)
	require.Equal(t, "milk", lines[0].ProductID)
}

func TestResolveAfterClose(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.manager.Resolve(ctx, "", nil)
	require.NoError(t, err)

	require.NoError(t, f.manager.Close(ctx))
	_, err = f.manager.Resolve(ctx, "", nil)
	require.ErrorIs(t, err, session.ErrClosed)
}
