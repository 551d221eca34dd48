package assign

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/rjcommerce/trackpool/internal/audit"
	"github.com/rjcommerce/trackpool/internal/broker/messages"
	"github.com/rjcommerce/trackpool/internal/integrations/shopapi"
	"github.com/rjcommerce/trackpool/internal/models"
	"github.com/rjcommerce/trackpool/internal/storage/pgpool"
)

// WeightPolicy controls how line items without a product weight affect
// the order total.
type WeightPolicy string

const (
	// PolicyKnownSubset sums the items that do have a weight and calls
	// the total determined as long as at least one item had one.
	PolicyKnownSubset WeightPolicy = "known_subset"
	// PolicyStrict calls the total undetermined unless every item
	// carries a weight.
	PolicyStrict WeightPolicy = "strict"
)

func (p WeightPolicy) Valid() bool {
	return p == PolicyKnownSubset || p == PolicyStrict
}

// NoAvailableTrackingNumberError reports an exhausted pool. Callers
// treat it as an operational condition rather than a processing fault.
type NoAvailableTrackingNumberError struct {
	Class models.PoolClass
}

func (e *NoAvailableTrackingNumberError) Error() string {
	return fmt.Sprintf("no available %s tracking number found", e.Class)
}

// Repository is the slice of the pool store the assigner needs.
type Repository interface {
	Claim(ctx context.Context, class models.PoolClass, orderID, orderStatus string) (*models.PoolEntry, error)
	UpdateCurrentStatus(ctx context.Context, class models.PoolClass, trackingID, status string) (bool, error)
}

// Producer publishes broker events.
type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type Config struct {
	ReadyToShipStatus string
	WeightPolicy      WeightPolicy
	AssignedTopic     string
}

type Service struct {
	repo     Repository
	orders   shopapi.Client
	producer Producer
	audit    *audit.Logger
	log      *slog.Logger
	cfg      Config
}

func New(repo Repository, orders shopapi.Client, producer Producer, auditLog *audit.Logger, log *slog.Logger, cfg Config) *Service {
	if cfg.ReadyToShipStatus == "" {
		cfg.ReadyToShipStatus = "process-to-ship"
	}
	if cfg.WeightPolicy == "" {
		cfg.WeightPolicy = PolicyKnownSubset
	}
	if cfg.AssignedTopic == "" {
		cfg.AssignedTopic = "tracking.assigned"
	}
	return &Service{
		repo:     repo,
		orders:   orders,
		producer: producer,
		audit:    auditLog,
		log:      log,
		cfg:      cfg,
	}
}

// Assignment is the outcome of a successful claim.
type Assignment struct {
	OrderID     string           `json:"order_id"`
	TrackingID  string           `json:"tracking_id"`
	Class       models.PoolClass `json:"class"`
	WeightGrams *float64         `json:"weight_grams"`
}

// orderWeight sums item weights in grams. A nil result means the total
// could not be determined under the configured policy.
func (s *Service) orderWeight(o *shopapi.Order) *float64 {
	total := 0.0
	found := false
	allKnown := true
	for _, it := range o.Items {
		if it.WeightGrams == nil {
			allKnown = false
			continue
		}
		total += *it.WeightGrams * float64(it.Quantity)
		found = true
	}
	if !found {
		return nil
	}
	if s.cfg.WeightPolicy == PolicyStrict && !allKnown {
		return nil
	}
	return &total
}

// AssignTracking binds the next free tracking number of the order's
// weight class to the order. It is idempotent: an order that already
// carries a tracking number is left untouched, and a (nil, nil) return
// means nothing needed doing.
func (s *Service) AssignTracking(ctx context.Context, orderID string) (*Assignment, error) {
	if orderID == "" {
		return nil, nil
	}

	existing, err := s.orders.GetOrderMeta(ctx, orderID, shopapi.TrackingMetaKey)
	if err != nil {
		return nil, errors.Wrap(err, "read tracking meta")
	}
	if existing != "" {
		s.log.Debug("order already has tracking number", "order_id", orderID, "tracking_id", existing)
		return nil, nil
	}

	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	if order == nil {
		s.log.Warn("order not found on shop, skipping assignment", "order_id", orderID)
		return nil, nil
	}

	weight := s.orderWeight(order)
	class := models.WeightClassFor(weight)

	entry, err := s.repo.Claim(ctx, class, orderID, order.Status)
	if err != nil {
		switch {
		case errors.Is(err, pgpool.ErrPoolExhausted):
			exhausted := &NoAvailableTrackingNumberError{Class: class}
			if aerr := s.audit.AssignmentError(orderID, exhausted.Error()); aerr != nil {
				s.log.Warn("audit write failed", "error", aerr)
			}
			s.log.Error("tracking pool exhausted", "order_id", orderID, "class", class)
			return nil, exhausted
		case errors.Is(err, pgpool.ErrOrderAlreadyBound):
			s.log.Warn("order already bound in pool, skipping", "order_id", orderID, "class", class)
			return nil, nil
		}
		return nil, errors.Wrap(err, "claim tracking number")
	}

	if err := s.orders.SetOrderMeta(ctx, orderID, shopapi.TrackingMetaKey, entry.TrackingID); err != nil {
		return nil, errors.Wrap(err, "write tracking meta")
	}

	assignment := &Assignment{
		OrderID:     orderID,
		TrackingID:  entry.TrackingID,
		Class:       class,
		WeightGrams: weight,
	}
	s.publishAssigned(ctx, assignment)

	if aerr := s.audit.Assignment(orderID, entry.TrackingID, class, weight); aerr != nil {
		s.log.Warn("audit write failed", "error", aerr)
	}
	s.log.Info("tracking number assigned",
		"order_id", orderID,
		"tracking_id", entry.TrackingID,
		"class", class,
	)
	return assignment, nil
}

// publishAssigned emits the advisory broker event. The binding is
// already durable, so a broker hiccup is logged and not retried here.
func (s *Service) publishAssigned(ctx context.Context, a *Assignment) {
	if s.producer == nil {
		return
	}
	msg := messages.TrackingAssigned{
		OrderID:     a.OrderID,
		TrackingID:  a.TrackingID,
		Class:       string(a.Class),
		WeightGrams: a.WeightGrams,
		AssignedAt:  time.Now().UTC(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		s.log.Warn("marshal assigned event failed", "error", err)
		return
	}
	if err := s.producer.Publish(ctx, s.cfg.AssignedTopic, []byte(a.OrderID), payload); err != nil {
		s.log.Warn("publish assigned event failed", "order_id", a.OrderID, "error", err)
	}
}

// SyncStatus mirrors the order's status onto its pool entry. Orders
// without a tracking number, and tracking numbers whose prefix the
// pools do not recognize, are left alone.
func (s *Service) SyncStatus(ctx context.Context, orderID, toStatus string) error {
	if orderID == "" || toStatus == "" {
		return nil
	}

	trackingID, err := s.orders.GetOrderMeta(ctx, orderID, shopapi.TrackingMetaKey)
	if err != nil {
		return errors.Wrap(err, "read tracking meta")
	}
	if trackingID == "" {
		return nil
	}

	class, ok := models.ClassFromTrackingID(trackingID)
	if !ok {
		return nil
	}

	found, err := s.repo.UpdateCurrentStatus(ctx, class, trackingID, toStatus)
	if err != nil {
		return errors.Wrap(err, "update current status")
	}
	if !found {
		return nil
	}

	if aerr := s.audit.StatusUpdate(trackingID, class, toStatus); aerr != nil {
		s.log.Warn("audit write failed", "error", aerr)
	}
	s.log.Info("tracking status updated",
		"tracking_id", trackingID,
		"class", class,
		"status", toStatus,
	)
	return nil
}

// HandleOrderCreated reacts to a freshly created order: orders born in
// the ready-to-ship status get a tracking number straight away.
func (s *Service) HandleOrderCreated(ctx context.Context, msg messages.OrderCreated) error {
	if msg.OrderID == "" || msg.Status != s.cfg.ReadyToShipStatus {
		return nil
	}
	_, err := s.AssignTracking(ctx, msg.OrderID)
	var exhausted *NoAvailableTrackingNumberError
	if errors.As(err, &exhausted) {
		return nil
	}
	return err
}

// HandleOrderStatusChanged assigns on transition into the
// ready-to-ship status, then mirrors the new status onto the entry.
func (s *Service) HandleOrderStatusChanged(ctx context.Context, msg messages.OrderStatusChanged) error {
	if msg.OrderID == "" || msg.ToStatus == "" {
		return nil
	}
	if msg.ToStatus == s.cfg.ReadyToShipStatus {
		_, err := s.AssignTracking(ctx, msg.OrderID)
		var exhausted *NoAvailableTrackingNumberError
		if err != nil && !errors.As(err, &exhausted) {
			return err
		}
	}
	return s.SyncStatus(ctx, msg.OrderID, msg.ToStatus)
}
