package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rjcommerce/trackpool/internal/integrations/shopapi"
	"github.com/rjcommerce/trackpool/internal/integrations/shopapi/fake"
	"github.com/rjcommerce/trackpool/internal/models"
)

type fakeRepo struct {
	byTracking map[string]string
}

func (f *fakeRepo) FindOrderByTrackingID(_ context.Context, trackingID string) (string, models.PoolClass, bool, error) {
	orderID, ok := f.byTracking[trackingID]
	class, _ := models.ClassFromTrackingID(trackingID)
	return orderID, class, ok, nil
}

func grams(v float64) *float64 { return &v }

func newTestService(t *testing.T, repo *fakeRepo, shop *fake.FakeClient) *Service {
	t.Helper()
	svc := New(repo, shop, slog.New(slog.NewTextHandler(io.Discard, nil)))
	svc.now = func() time.Time { return time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC) }
	return svc
}

func TestService_Generate(t *testing.T) {
	shop := fake.New()
	rate := 5.0
	shop.PutOrder(&shopapi.Order{
		ID:        "1001",
		Status:    "completed",
		CreatedAt: time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC),
		Total:     420,
		Shipping:  shopapi.ShippingAddress{State: "MH", Postcode: "400001"},
		Items: []shopapi.LineItem{
			{ProductID: "p1", Quantity: 2, Total: 400, WeightGrams: grams(100), HSNCode: "6109", GSTRatePercent: &rate},
		},
	})
	rateA, rateB := 5.0, 12.0
	shop.PutOrder(&shopapi.Order{
		ID:       "1002",
		Status:   "process-to-ship",
		Total:    900,
		Shipping: shopapi.ShippingAddress{State: "ZZ", Postcode: "110011"},
		Items: []shopapi.LineItem{
			{ProductID: "p2", Quantity: 1, Total: 500, HSNCode: "6109", GSTRatePercent: &rateA},
			{ProductID: "p3", Quantity: 1, Total: 400, HSNCode: "7117", GSTRatePercent: &rateB},
		},
	})

	repo := &fakeRepo{byTracking: map[string]string{
		"EG1IN": "1001",
		"CG2IN": "1002",
		"EG9IN": "gone-order",
	}}
	svc := newTestService(t, repo, shop)

	input := strings.Join([]string{
		"Booked On,Article Number,Weight",
		"2026-08-21,EG1IN,100",
		"2026-08-21,  CG2IN ,900",
		"2026-08-21,EG404IN,50",
		"2026-08-21,EG9IN,70",
		"2026-08-21,,10",
	}, "\n")

	var out bytes.Buffer
	require.NoError(t, svc.Generate(context.Background(), strings.NewReader(input), &out))

	rows, err := csv.NewReader(&out).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, gstHeaders, rows[0])

	// Single-rate order gets the CGST/SGST split.
	require.Equal(t, []string{
		"2026-08-31", "2026-08-20", "1001", "EG1IN", "completed",
		"Maharashtra", "400001", "", "6109",
		"2.50", "2.50", "10.00", "10.00", "420.00",
	}, rows[1])

	// Mixed rates leave the split columns blank; unknown state codes
	// pass through.
	require.Equal(t, []string{
		"2026-08-31", "", "1002", "CG2IN", "",
		"ZZ", "110011", "", "6109,7117",
		"", "", "", "", "900.00",
	}, rows[2])
}

func TestService_Generate_MissingArticleColumn(t *testing.T) {
	svc := newTestService(t, &fakeRepo{byTracking: map[string]string{}}, fake.New())

	var out bytes.Buffer
	err := svc.Generate(context.Background(), strings.NewReader("Booked On,Weight\n2026-08-21,100"), &out)
	require.Error(t, err)
	require.Contains(t, err.Error(), "Article Number")
}

func TestService_Generate_EmptyInput(t *testing.T) {
	svc := newTestService(t, &fakeRepo{byTracking: map[string]string{}}, fake.New())

	var out bytes.Buffer
	err := svc.Generate(context.Background(), strings.NewReader(""), &out)
	require.Error(t, err)
}
