package fake

import (
	"context"
	"sync"

	"github.com/rjcommerce/trackpool/internal/integrations/shopapi"
)

// FakeClient is an in-memory shop used in tests and in demo mode when
// no real host platform is configured.
type FakeClient struct {
	mu     sync.Mutex
	orders map[string]*shopapi.Order
	meta   map[string]map[string]string
}

func New() *FakeClient {
	return &FakeClient{
		orders: map[string]*shopapi.Order{},
		meta:   map[string]map[string]string{},
	}
}

// PutOrder seeds or replaces an order.
func (f *FakeClient) PutOrder(o *shopapi.Order) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders[o.ID] = o
}

func (f *FakeClient) GetOrder(ctx context.Context, orderID string) (*shopapi.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return nil, nil
	}
	cp := *o
	cp.Items = append([]shopapi.LineItem(nil), o.Items...)
	return &cp, nil
}

func (f *FakeClient) GetOrderMeta(ctx context.Context, orderID, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.meta[orderID][key], nil
}

func (f *FakeClient) SetOrderMeta(ctx context.Context, orderID, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.meta[orderID]
	if !ok {
		m = map[string]string{}
		f.meta[orderID] = m
	}
	m[key] = value
	return nil
}
