package messages

import "time"

// OrderCreated is emitted by the host shop when an order is placed.
// Delivery is at-least-once; consumers must tolerate replays.
type OrderCreated struct {
	OrderID string    `json:"order_id"`
	Status  string    `json:"status"`
	At      time.Time `json:"at"`
}

// OrderStatusChanged is emitted on every order lifecycle transition.
type OrderStatusChanged struct {
	OrderID    string    `json:"order_id"`
	FromStatus string    `json:"from_status,omitempty"`
	ToStatus   string    `json:"to_status"`
	At         time.Time `json:"at"`
}
