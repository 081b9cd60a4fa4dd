package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/noah-isme/toko-cart/internal/cache"
	"github.com/noah-isme/toko-cart/internal/docstore"
	"github.com/noah-isme/toko-cart/internal/pricing"
)

// RemoteStore persists owned carts keyed by principal id.
type RemoteStore interface {
	// Load returns the stored lines and whether a document existed.
	Load(ctx context.Context, principalID string) ([]pricing.Line, bool, error)
	Save(ctx context.Context, principalID string, lines []pricing.Line) error
}

type cartDocument struct {
	Items     []pricing.LineDocument `bson:"items"`
	UpdatedAt time.Time              `bson:"updatedAt"`
}

// DocumentRemote stores carts as carts/{principalID} documents.
type DocumentRemote struct {
	Docs docstore.Store
	Now  func() time.Time
}

// NewDocumentRemote constructs a RemoteStore over docs.
func NewDocumentRemote(docs docstore.Store) *DocumentRemote {
	return &DocumentRemote{Docs: docs, Now: time.Now}
}

func (d *DocumentRemote) Load(ctx context.Context, principalID string) ([]pricing.Line, bool, error) {
	var doc cartDocument
	if err := d.Docs.Get(ctx, docstore.CollectionCarts, principalID, &doc); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	lines, err := pricing.FromDocuments(doc.Items)
	if err != nil {
		return nil, true, err
	}
	return normalize(lines), true, nil
}

// Save merges the items field into the cart document so unrelated fields
// written by other clients survive.
func (d *DocumentRemote) Save(ctx context.Context, principalID string, lines []pricing.Line) error {
	now := time.Now
	if d.Now != nil {
		now = d.Now
	}
	return d.Docs.Set(ctx, docstore.CollectionCarts, principalID, cartDocument{
		Items:     pricing.ToDocuments(lines),
		UpdatedAt: now().UTC(),
	}, docstore.SetOptions{Merge: true})
}

func readLocal(ctx context.Context, local cache.Local, key string) ([]pricing.Line, bool, error) {
	raw, ok, err := local.Get(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	var docs []pricing.LineDocument
	if err := json.Unmarshal([]byte(raw), &docs); err != nil {
		return nil, true, fmt.Errorf("decode %s: %w", key, err)
	}
	lines, err := pricing.FromDocuments(docs)
	if err != nil {
		return nil, true, err
	}
	return normalize(lines), true, nil
}

func writeLocal(ctx context.Context, local cache.Local, key string, lines []pricing.Line) error {
	data, err := json.Marshal(pricing.ToDocuments(lines))
	if err != nil {
		return err
	}
	return local.Set(ctx, key, string(data))
}

// normalize repairs stored lines so the one-line-per-product rule holds even
// if a document was edited by hand.
func normalize(lines []pricing.Line) []pricing.Line {
	out := make([]pricing.Line, 0, len(lines))
	for _, l := range lines {
		if l.ProductID == "" || l.Quantity < 1 || l.UnitPrice.IsNegative() {
			continue
		}
		if i := indexOf(out, l.ProductID); i >= 0 {
			out[i].Quantity += l.Quantity
			continue
		}
		out = append(out, l)
	}
	return out
}
