package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// LineDocument is the storage shape of a Line. Amounts are decimal strings so
// that document stores without a decimal codec keep exact values.
type LineDocument struct {
	ProductID string `bson:"productId" json:"productId"`
	UnitPrice string `bson:"unitPrice" json:"unitPrice"`
	Quantity  int    `bson:"quantity" json:"quantity"`
}

// ToDocuments converts lines into their storage shape.
func ToDocuments(lines []Line) []LineDocument {
	out := make([]LineDocument, 0, len(lines))
	for _, l := range lines {
		out = append(out, LineDocument{
			ProductID: l.ProductID,
			UnitPrice: l.UnitPrice.String(),
			Quantity:  l.Quantity,
		})
	}
	return out
}

// FromDocuments parses stored lines back into Lines.
func FromDocuments(docs []LineDocument) ([]Line, error) {
	out := make([]Line, 0, len(docs))
	for _, d := range docs {
		price, err := ParseAmount(d.UnitPrice)
		if err != nil {
			return nil, fmt.Errorf("line %s: %w", d.ProductID, err)
		}
		out = append(out, Line{ProductID: d.ProductID, UnitPrice: price, Quantity: d.Quantity})
	}
	return out, nil
}

// ParseAmount parses a stored decimal string, treating empty as zero.
func ParseAmount(value string) (decimal.Decimal, error) {
	if value == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(value)
}
