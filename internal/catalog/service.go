package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/noah-isme/toko-cart/internal/cache"
	"github.com/noah-isme/toko-cart/internal/common"
	"github.com/noah-isme/toko-cart/internal/docstore"
	"github.com/noah-isme/toko-cart/internal/obs"
	"github.com/noah-isme/toko-cart/internal/pricing"
)

// ErrNotFound indicates the product does not exist.
var ErrNotFound = errors.New("catalog: product not found")

// Product is a sellable catalog entry. Price is the current unit price that
// carts snapshot when a line is added.
type Product struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Category    string          `json:"category,omitempty"`
	ImageURL    string          `json:"imageUrl,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
}

type productDocument struct {
	ID          string    `bson:"_id,omitempty"`
	Name        string    `bson:"name"`
	Description string    `bson:"description,omitempty"`
	Category    string    `bson:"category,omitempty"`
	ImageURL    string    `bson:"imageUrl,omitempty"`
	Price       string    `bson:"price"`
	Stock       int       `bson:"stock"`
	UpdatedAt   time.Time `bson:"updatedAt"`
}

func (d productDocument) product() (Product, error) {
	price, err := pricing.ParseAmount(d.Price)
	if err != nil {
		return Product{}, fmt.Errorf("product %s price: %w", d.ID, err)
	}
	return Product{
		ID:          d.ID,
		Name:        d.Name,
		Description: d.Description,
		Category:    d.Category,
		ImageURL:    d.ImageURL,
		Price:       price,
		Stock:       d.Stock,
	}, nil
}

// ServiceConfig groups Service dependencies.
type ServiceConfig struct {
	Docs   docstore.Store
	Cache  *cache.JSON
	Logger zerolog.Logger
}

// Service reads products from the document store through a Redis cache.
type Service struct {
	docs   docstore.Store
	cache  *cache.JSON
	logger zerolog.Logger
	sfg    singleflight.Group
}

// NewService constructs a Service instance.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Docs == nil {
		return nil, errors.New("catalog: document store is required")
	}
	return &Service{docs: cfg.Docs, cache: cfg.Cache, logger: cfg.Logger}, nil
}

func productCacheKey(id string) string {
	return "catalog:product:" + id
}

// Product returns a single product. Concurrent misses for the same id share
// one document store read.
func (s *Service) Product(ctx context.Context, id string) (Product, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Product{}, ErrNotFound
	}
	var cached Product
	if ok, err := s.cache.Get(ctx, productCacheKey(id), &cached); err == nil && ok {
		countCache("hit")
		return cached, nil
	} else if err != nil {
		s.logger.Warn().Err(err).Str("product_id", id).Msg("catalog_cache_get_failed")
	}
	countCache("miss")

	v, err, _ := s.sfg.Do(id, func() (any, error) {
		var doc productDocument
		if err := s.docs.Get(ctx, docstore.CollectionProducts, id, &doc); err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				return Product{}, ErrNotFound
			}
			return Product{}, fmt.Errorf("load product: %w", err)
		}
		doc.ID = id
		p, err := doc.product()
		if err != nil {
			return Product{}, err
		}
		if err := s.cache.Set(ctx, productCacheKey(id), p); err != nil {
			s.logger.Warn().Err(err).Str("product_id", id).Msg("catalog_cache_set_failed")
		}
		return p, nil
	})
	if err != nil {
		return Product{}, err
	}
	return v.(Product), nil
}

// ListParams filters product listings.
type ListParams struct {
	Category string
	Page     common.Pagination
}

// List returns products ordered by name.
func (s *Service) List(ctx context.Context, params ListParams) ([]Product, error) {
	filter := map[string]any{}
	if c := strings.TrimSpace(params.Category); c != "" {
		filter["category"] = c
	}
	docs, err := s.docs.List(ctx, docstore.CollectionProducts, docstore.Query{
		Filter: filter,
		SortBy: "name",
		Limit:  params.Page.PerPage,
		Skip:   params.Page.Offset(),
	})
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	out := make([]Product, 0, len(docs))
	for _, raw := range docs {
		var doc productDocument
		if err := raw.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode product: %w", err)
		}
		p, err := doc.product()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Upsert stores p, generating an id when it has none, and refreshes the cache entry.
func (s *Service) Upsert(ctx context.Context, p Product) (Product, error) {
	if strings.TrimSpace(p.Name) == "" {
		return Product{}, errors.New("catalog: product name is required")
	}
	if p.Price.IsNegative() {
		return Product{}, errors.New("catalog: product price must not be negative")
	}
	doc := productDocument{
		Name:        p.Name,
		Description: p.Description,
		Category:    p.Category,
		ImageURL:    p.ImageURL,
		Price:       p.Price.String(),
		Stock:       p.Stock,
		UpdatedAt:   time.Now().UTC(),
	}
	if p.ID == "" {
		id, err := s.docs.Add(ctx, docstore.CollectionProducts, doc)
		if err != nil {
			return Product{}, fmt.Errorf("add product: %w", err)
		}
		p.ID = id
	} else if err := s.docs.Set(ctx, docstore.CollectionProducts, p.ID, doc, docstore.SetOptions{}); err != nil {
		return Product{}, fmt.Errorf("set product: %w", err)
	}
	if err := s.cache.Set(ctx, productCacheKey(p.ID), p); err != nil {
		s.logger.Warn().Err(err).Str("product_id", p.ID).Msg("catalog_cache_set_failed")
	}
	return p, nil
}

func countCache(result string) {
	if obs.CatalogCacheTotal != nil {
		obs.CatalogCacheTotal.WithLabelValues(result).Inc()
	}
}
