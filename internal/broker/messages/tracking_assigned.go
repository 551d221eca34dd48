package messages

import "time"

// TrackingAssigned is published after a pool entry is bound to an
// order. WeightGrams is nil when no line item had a usable weight.
type TrackingAssigned struct {
	OrderID     string    `json:"order_id"`
	TrackingID  string    `json:"tracking_id"`
	Class       string    `json:"class"`
	WeightGrams *float64  `json:"weight_grams,omitempty"`
	AssignedAt  time.Time `json:"assigned_at"`
}
