package order

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-cart/internal/pricing"
)

var (
	// ErrNotFound indicates the order does not exist or is not visible to the caller.
	ErrNotFound = errors.New("order: not found")
	// ErrInvalidTransition indicates a status or payment status change the lifecycle forbids.
	ErrInvalidTransition = errors.New("order: invalid transition")
)

// Status is the fulfilment state of an order.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

// PaymentStatus tracks settlement of online payments.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

// PaymentMethod is how the customer pays.
type PaymentMethod string

const (
	PaymentCOD    PaymentMethod = "cod"
	PaymentOnline PaymentMethod = "online"
)

// Valid reports whether m is a supported payment method.
func (m PaymentMethod) Valid() bool {
	return m == PaymentCOD || m == PaymentOnline
}

var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusShipped},
	StatusShipped:    {StatusDelivered},
}

// CanTransition reports whether an order may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ParseStatus validates a status name.
func ParseStatus(s string) (Status, bool) {
	switch st := Status(s); st {
	case StatusPending, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled:
		return st, true
	}
	return "", false
}

// Address is a delivery address.
type Address struct {
	Street  string `json:"street" bson:"street" validate:"required,max=200"`
	City    string `json:"city" bson:"city" validate:"required,max=100"`
	State   string `json:"state" bson:"state" validate:"required,max=100"`
	Pincode string `json:"pincode" bson:"pincode" validate:"required,numeric,len=6"`
	Country string `json:"country" bson:"country" validate:"required,max=60"`
}

// ShippingInfo identifies the recipient of an order.
type ShippingInfo struct {
	Name    string  `json:"name" bson:"name" validate:"required,max=120"`
	Email   string  `json:"email" bson:"email" validate:"required,email"`
	Phone   string  `json:"phone" bson:"phone" validate:"required,min=7,max=20"`
	Address Address `json:"address" bson:"address" validate:"required"`
}

// Record is an immutable snapshot of a cart at checkout plus its lifecycle fields.
type Record struct {
	ID            string          `json:"id"`
	OwnerKey      string          `json:"-"`
	UserID        string          `json:"userId,omitempty"`
	Lines         []pricing.Line  `json:"items"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	ShippingFee   decimal.Decimal `json:"shipping"`
	Tax           decimal.Decimal `json:"tax"`
	Total         decimal.Decimal `json:"total"`
	Currency      string          `json:"currency"`
	Shipping      ShippingInfo    `json:"shippingInfo"`
	PaymentMethod PaymentMethod   `json:"paymentMethod"`
	Status        Status          `json:"status"`
	PaymentStatus PaymentStatus   `json:"paymentStatus"`
	TransactionID string          `json:"transactionId,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// Pricing returns the pricing amounts captured on the record.
func (r Record) Pricing() pricing.Snapshot {
	return pricing.Snapshot{
		Subtotal:    r.Subtotal,
		ShippingFee: r.ShippingFee,
		Tax:         r.Tax,
		Total:       r.Total,
	}
}
