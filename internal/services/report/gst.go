package report

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/rjcommerce/trackpool/internal/integrations/shopapi"
	"github.com/rjcommerce/trackpool/internal/models"
)

// articleColumn is the input header the tracking numbers are read from.
const articleColumn = "Article Number"

var gstHeaders = []string{
	"Month",
	"Order date",
	"Order Number",
	"Tracking Number",
	"Order Status",
	"State",
	"Pin",
	"GST number",
	"HSNcode",
	"CGST rate",
	"SGST rate",
	"CGST amount",
	"SGST amount",
	"Total amount",
}

// Repository resolves tracking numbers back to the orders they were
// assigned to.
type Repository interface {
	FindOrderByTrackingID(ctx context.Context, trackingID string) (orderID string, class models.PoolClass, ok bool, err error)
}

type Service struct {
	repo   Repository
	orders shopapi.Client
	log    *slog.Logger
	now    func() time.Time
}

func New(repo Repository, orders shopapi.Client, log *slog.Logger) *Service {
	return &Service{repo: repo, orders: orders, log: log, now: time.Now}
}

// Generate reads a postal manifest CSV (tracking numbers in the
// "Article Number" column) and writes a GST filing report. Tracking
// numbers that never got assigned, and orders the shop no longer
// knows, are skipped.
func (s *Service) Generate(ctx context.Context, input io.Reader, out io.Writer) error {
	r := csv.NewReader(input)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if err == io.EOF {
		return errors.New("empty input file")
	}
	if err != nil {
		return errors.Wrap(err, "read input header")
	}

	articleCol := -1
	for i, h := range header {
		if strings.TrimSpace(h) == articleColumn {
			articleCol = i
			break
		}
	}
	if articleCol < 0 {
		return errors.New("Article Number column not found in input file")
	}

	w := csv.NewWriter(out)
	if err := w.Write(gstHeaders); err != nil {
		return errors.Wrap(err, "write report header")
	}

	today := s.now().Format("2006-01-02")
	rows := 0
	for {
		record, rerr := r.Read()
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return errors.Wrap(rerr, "read input row")
		}
		if articleCol >= len(record) {
			continue
		}
		trackingID := strings.TrimSpace(record[articleCol])
		if trackingID == "" {
			continue
		}

		orderID, _, ok, ferr := s.repo.FindOrderByTrackingID(ctx, trackingID)
		if ferr != nil {
			return errors.Wrap(ferr, "resolve tracking number")
		}
		if !ok {
			s.log.Debug("tracking number not assigned, skipping", "tracking_id", trackingID)
			continue
		}

		order, oerr := s.orders.GetOrder(ctx, orderID)
		if oerr != nil {
			return errors.Wrap(oerr, "get order")
		}
		if order == nil {
			s.log.Debug("order missing on shop, skipping", "order_id", orderID)
			continue
		}

		if err := w.Write(s.reportRow(today, trackingID, order)); err != nil {
			return errors.Wrap(err, "write report row")
		}
		rows++
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return errors.Wrap(err, "flush report")
	}
	s.log.Info("gst report generated", "rows", rows)
	return nil
}

func (s *Service) reportRow(today, trackingID string, order *shopapi.Order) []string {
	var hsnCodes []string
	seenHSN := map[string]bool{}
	var gstRates []float64
	totalTax := 0.0

	for _, it := range order.Items {
		if it.HSNCode != "" && !seenHSN[it.HSNCode] {
			seenHSN[it.HSNCode] = true
			hsnCodes = append(hsnCodes, it.HSNCode)
		}
		if it.GSTRatePercent != nil {
			gstRates = append(gstRates, *it.GSTRatePercent)
			totalTax += it.Total * (*it.GSTRatePercent / 100)
		}
	}

	status := ""
	if order.Status == "completed" {
		status = "completed"
	}

	orderDate := ""
	if !order.CreatedAt.IsZero() {
		orderDate = order.CreatedAt.Format("2006-01-02")
	}

	row := []string{
		today,
		orderDate,
		order.ID,
		trackingID,
		status,
		stateName(order.Shipping.State),
		order.Shipping.Postcode,
		"",
		strings.Join(hsnCodes, ","),
		"",
		"",
		"",
		"",
		fmt.Sprintf("%.2f", order.Total),
	}

	// The CGST/SGST split only makes sense when the whole order sits on
	// a single rate; mixed-rate orders leave the columns blank.
	if rate, single := singleRate(gstRates); single {
		half := rate / 2
		halfTax := totalTax / 2
		row[9] = fmt.Sprintf("%.2f", half)
		row[10] = fmt.Sprintf("%.2f", half)
		row[11] = fmt.Sprintf("%.2f", halfTax)
		row[12] = fmt.Sprintf("%.2f", halfTax)
	}
	return row
}

func singleRate(rates []float64) (float64, bool) {
	if len(rates) == 0 {
		return 0, false
	}
	for _, r := range rates[1:] {
		if r != rates[0] {
			return 0, false
		}
	}
	return rates[0], true
}
