package woohttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/rjcommerce/trackpool/internal/integrations/shopapi"
)

// Client talks to the host shop's REST bridge (the thin plugin that
// exposes orders, products and order meta over JSON).
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

func New(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:9000"
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type orderResp struct {
	ID        string  `json:"id"`
	Status    string  `json:"status"`
	CreatedAt string  `json:"created_at"`
	Total     string  `json:"total"`
	Shipping  struct {
		State    string `json:"state"`
		Postcode string `json:"postcode"`
	} `json:"shipping"`
	LineItems []struct {
		ProductID string  `json:"product_id"`
		Quantity  int     `json:"quantity"`
		Total     string  `json:"total"`
		Weight    *string `json:"weight_grams"`
		HSNCode   string  `json:"hsn_code"`
		GSTRate   *string `json:"gst_rate"`
	} `json:"line_items"`
}

func (c *Client) GetOrder(ctx context.Context, orderID string) (*shopapi.Order, error) {
	var r orderResp
	found, err := c.getJSON(ctx, &r, "orders", orderID)
	if err != nil || !found {
		return nil, err
	}

	o := &shopapi.Order{
		ID:     r.ID,
		Status: r.Status,
		Shipping: shopapi.ShippingAddress{
			State:    r.Shipping.State,
			Postcode: r.Shipping.Postcode,
		},
	}
	if t, perr := time.Parse(time.RFC3339, r.CreatedAt); perr == nil {
		o.CreatedAt = t
	}
	o.Total = parseAmount(r.Total)

	for _, it := range r.LineItems {
		item := shopapi.LineItem{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			Total:     parseAmount(it.Total),
			HSNCode:   it.HSNCode,
		}
		// The shop reports weight as a string and leaves it empty when
		// the product has none; empty and non-numeric both mean unknown.
		if it.Weight != nil {
			if w, perr := strconv.ParseFloat(*it.Weight, 64); perr == nil {
				item.WeightGrams = &w
			}
		}
		if it.GSTRate != nil {
			if g, perr := strconv.ParseFloat(*it.GSTRate, 64); perr == nil {
				item.GSTRatePercent = &g
			}
		}
		o.Items = append(o.Items, item)
	}
	return o, nil
}

type metaResp struct {
	Value string `json:"value"`
}

func (c *Client) GetOrderMeta(ctx context.Context, orderID, key string) (string, error) {
	var r metaResp
	found, err := c.getJSON(ctx, &r, "orders", orderID, "meta", key)
	if err != nil || !found {
		return "", err
	}
	return r.Value, nil
}

func (c *Client) SetOrderMeta(ctx context.Context, orderID, key, value string) error {
	body, _ := json.Marshal(map[string]string{"value": value})
	u, err := c.endpoint("orders", orderID, "meta", key)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("shop api http %d", resp.StatusCode)
	}
	return nil
}

// endpoint joins raw path segments onto the base URL, keeping any
// path prefix the base carries and escaping each segment once.
func (c *Client) endpoint(segments ...string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", errors.Wrap(err, "parse base url")
	}
	return u.JoinPath(segments...).String(), nil
}

// getJSON returns found=false on 404 without error; unknown orders are
// a normal condition for the callers.
func (c *Client) getJSON(ctx context.Context, out any, segments ...string) (bool, error) {
	u, err := c.endpoint(segments...)
	if err != nil {
		return false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, errors.Wrap(err, "new request")
	}
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return false, errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode/100 != 2 {
		return false, fmt.Errorf("shop api http %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, errors.Wrap(err, "decode")
	}
	return true, nil
}

func parseAmount(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
