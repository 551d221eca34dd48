package models

import (
	"strings"
	"time"
)

// PoolClass routes a tracking number to one of the two inventory pools.
type PoolClass string

const (
	PoolClassEG PoolClass = "EG"
	PoolClassCG PoolClass = "CG"
)

// AllPoolClasses is the fixed claim/lookup order: EG first, then CG.
var AllPoolClasses = []PoolClass{PoolClassEG, PoolClassCG}

func (c PoolClass) Valid() bool {
	return c == PoolClassEG || c == PoolClassCG
}

// ClassFromTrackingID infers the pool class from the two-letter prefix.
// Returns ("", false) for anything that is not an EG/CG number.
func ClassFromTrackingID(trackingID string) (PoolClass, bool) {
	switch {
	case strings.HasPrefix(trackingID, string(PoolClassEG)):
		return PoolClassEG, true
	case strings.HasPrefix(trackingID, string(PoolClassCG)):
		return PoolClassCG, true
	default:
		return "", false
	}
}

// Accessibility values stored in is_accessable. The flag is a second
// signal next to order_id: operators can withdraw an entry from the
// pool without binding it to an order.
const (
	AccessibleYes = "Yes"
	AccessibleNo  = "No"
)

// PoolEntry is one row of a per-class tracking inventory table.
type PoolEntry struct {
	ID            int64      `json:"id"`
	TrackingID    string     `json:"tracking_id"`
	CurrentStatus *string    `json:"current_status"`
	AssignedAt    *time.Time `json:"assigned_at"`
	UploadedBy    string     `json:"uploaded_by"`
	OrderID       *string    `json:"order_id"`
	ModifiedAt    *time.Time `json:"modified_at"`
	IsAccessible  string     `json:"is_accessible"`
}

// Available reports whether the entry can still be claimed.
func (e *PoolEntry) Available() bool {
	return e.OrderID == nil && e.IsAccessible == AccessibleYes
}

// WeightClassFor decides the pool class for an order's total weight.
// grams is nil when the weight could not be determined; undetermined
// and everything above 1000g goes to CG, the boundary itself is EG.
func WeightClassFor(grams *float64) PoolClass {
	if grams != nil && *grams <= 1000 {
		return PoolClassEG
	}
	return PoolClassCG
}
