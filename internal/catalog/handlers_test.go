package catalog_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-cart/internal/cache"
	"github.com/noah-isme/toko-cart/internal/catalog"
	"github.com/noah-isme/toko-cart/internal/docstore"
)

type productResponse struct {
	Data catalog.Product `json:"data"`
}

type productsResponse struct {
	Data []catalog.Product `json:"data"`
}

func newCatalog(t *testing.T) (*catalog.Service, *docstore.Memory, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	docs := docstore.NewMemory()
	svc, err := catalog.NewService(catalog.ServiceConfig{
		Docs:   docs,
		Cache:  cache.NewJSON(client, time.Minute),
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	return svc, docs, mr
}

func TestNewServiceRequiresStore(t *testing.T) {
	_, err := catalog.NewService(catalog.ServiceConfig{})
	require.Error(t, err)
}

func TestProductReadThroughCache(t *testing.T) {
	ctx := context.Background()
	svc, docs, mr := newCatalog(t)

	require.NoError(t, docs.Set(ctx, docstore.CollectionProducts, "milk", map[string]any{
		"name":     "Milk 1L",
		"category": "dairy",
		"price":    "40.00",
		"stock":    12,
	}, docstore.SetOptions{}))

	p, err := svc.Product(ctx, "milk")
	require.NoError(t, err)
	require.Equal(t, "milk", p.ID)
	require.Equal(t, "Milk 1L", p.Name)
	require.True(t, p.Price.Equal(decimal.NewFromInt(40)))
	require.True(t, mr.Exists("catalog:product:milk"))

	// a cached entry is served even after the document changes
	require.NoError(t, docs.Set(ctx, docstore.CollectionProducts, "milk", map[string]any{"price": "45"}, docstore.SetOptions{Merge: true}))
	again, err := svc.Product(ctx, "milk")
	require.NoError(t, err)
	require.True(t, again.Price.Equal(decimal.NewFromInt(40)))

	mr.FlushAll()
	fresh, err := svc.Product(ctx, "milk")
	require.NoError(t, err)
	require.True(t, fresh.Price.Equal(decimal.NewFromInt(45)))

	_, err = svc.Product(ctx, "missing")
	require.ErrorIs(t, err, catalog.ErrNotFound)
	_, err = svc.Product(ctx, " ")
	require.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestProductWithoutCache(t *testing.T) {
	ctx := context.Background()
	docs := docstore.NewMemory()
	svc, err := catalog.NewService(catalog.ServiceConfig{Docs: docs, Logger: zerolog.Nop()})
	require.NoError(t, err)

	created, err := svc.Upsert(ctx, catalog.Product{Name: "Bread", Price: decimal.RequireFromString("35.50")})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	p, err := svc.Product(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, "35.5", p.Price.String())

	_, err = svc.Upsert(ctx, catalog.Product{Name: "Bad", Price: decimal.NewFromInt(-1)})
	require.Error(t, err)
	_, err = svc.Upsert(ctx, catalog.Product{Price: decimal.NewFromInt(1)})
	require.Error(t, err)
}

func TestCatalogHandlers(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newCatalog(t)
	for _, p := range []catalog.Product{
		{ID: "milk", Name: "Milk", Category: "dairy", Price: decimal.NewFromInt(40), Stock: 5},
		{ID: "bread", Name: "Bread", Category: "bakery", Price: decimal.NewFromInt(35), Stock: 3},
		{ID: "curd", Name: "Curd", Category: "dairy", Price: decimal.NewFromInt(30), Stock: 8},
	} {
		_, err := svc.Upsert(ctx, p)
		require.NoError(t, err)
	}

	handler := catalog.NewHandler(catalog.HandlerConfig{Service: svc})
	r := chi.NewRouter()
	r.Get("/v1/products", handler.Products)
	r.Get("/v1/products/{id}", handler.Product)

	t.Run("list by category", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/products?category=dairy", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		var body productsResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Len(t, body.Data, 2)
		require.Equal(t, "Curd", body.Data[0].Name)
		require.Equal(t, "Milk", body.Data[1].Name)
	})

	t.Run("detail", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/products/bread", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		var body productResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Equal(t, "Bread", body.Data.Name)
		require.True(t, body.Data.Price.Equal(decimal.NewFromInt(35)))
	})

	t.Run("not found", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/products/unknown", nil))
		require.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("unconfigured", func(t *testing.T) {
		rec := httptest.NewRecorder()
		catalog.NewHandler(catalog.HandlerConfig{}).Products(rec, httptest.NewRequest(http.MethodGet, "/v1/products", nil))
		require.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}
