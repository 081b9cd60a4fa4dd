package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"
)

// BreakerSettings configures the circuit breaker guarding a Store.
type BreakerSettings struct {
	Name          string
	MinRequests   uint32
	FailureRatio  float64
	OpenFor       time.Duration
	OnStateChange func(name, from, to string)
}

// Guarded wraps a Store with a circuit breaker so a failing database is not
// hammered by every cart mutation.
type Guarded struct {
	inner   Store
	breaker *gobreaker.CircuitBreaker[any]
}

// NewGuarded wraps inner with a breaker built from settings.
func NewGuarded(inner Store, settings BreakerSettings) *Guarded {
	if settings.Name == "" {
		settings.Name = "docstore"
	}
	if settings.MinRequests == 0 {
		settings.MinRequests = 5
	}
	if settings.FailureRatio <= 0 {
		settings.FailureRatio = 0.6
	}
	if settings.OpenFor <= 0 {
		settings.OpenFor = 30 * time.Second
	}
	st := gobreaker.Settings{
		Name:    settings.Name,
		Timeout: settings.OpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < settings.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= settings.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict)
		},
	}
	if settings.OnStateChange != nil {
		notify := settings.OnStateChange
		st.OnStateChange = func(name string, from, to gobreaker.State) {
			notify(name, from.String(), to.String())
		}
	}
	return &Guarded{inner: inner, breaker: gobreaker.NewCircuitBreaker[any](st)}
}

// State reports the breaker state name.
func (g *Guarded) State() string {
	return g.breaker.State().String()
}

func (g *Guarded) do(fn func() (any, error)) (any, error) {
	out, err := g.breaker.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return out, err
}

func (g *Guarded) Get(ctx context.Context, collection, key string, dst any) error {
	_, err := g.do(func() (any, error) {
		return nil, g.inner.Get(ctx, collection, key, dst)
	})
	return err
}

func (g *Guarded) Set(ctx context.Context, collection, key string, doc any, opts SetOptions) error {
	_, err := g.do(func() (any, error) {
		return nil, g.inner.Set(ctx, collection, key, doc, opts)
	})
	return err
}

func (g *Guarded) Add(ctx context.Context, collection string, doc any) (string, error) {
	out, err := g.do(func() (any, error) {
		return g.inner.Add(ctx, collection, doc)
	})
	if err != nil {
		return "", err
	}
	id, _ := out.(string)
	return id, nil
}

func (g *Guarded) Update(ctx context.Context, collection, key string, expect, fields map[string]any) error {
	_, err := g.do(func() (any, error) {
		return nil, g.inner.Update(ctx, collection, key, expect, fields)
	})
	return err
}

func (g *Guarded) List(ctx context.Context, collection string, q Query) ([]Document, error) {
	out, err := g.do(func() (any, error) {
		return g.inner.List(ctx, collection, q)
	})
	if err != nil {
		return nil, err
	}
	docs, _ := out.([]Document)
	return docs, nil
}

// Ping bypasses the breaker so health checks observe the real store.
func (g *Guarded) Ping(ctx context.Context) error {
	return g.inner.Ping(ctx)
}
