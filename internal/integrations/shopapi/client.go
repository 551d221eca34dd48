package shopapi

import (
	"context"
	"time"
)

// TrackingMetaKey is the order meta field holding the assigned
// tracking number on the host shop.
const TrackingMetaKey = "_indiapost_tracking_number"

// LineItem is one order line as the host shop reports it.
// WeightGrams is nil when the product has no weight on file;
// GSTRatePercent is nil when the product has no GST rate configured.
type LineItem struct {
	ProductID      string
	Quantity       int
	Total          float64
	WeightGrams    *float64
	HSNCode        string
	GSTRatePercent *float64
}

type ShippingAddress struct {
	State    string
	Postcode string
}

type Order struct {
	ID        string
	Status    string
	CreatedAt time.Time
	Total     float64
	Shipping  ShippingAddress
	Items     []LineItem
}

// Client is the read/write surface of the host commerce platform.
// GetOrder returns (nil, nil) for an unknown order: with at-least-once
// event delivery, "not found" can mean the event beat the write.
type Client interface {
	GetOrder(ctx context.Context, orderID string) (*Order, error)
	GetOrderMeta(ctx context.Context, orderID, key string) (string, error)
	SetOrderMeta(ctx context.Context, orderID, key, value string) error
}
