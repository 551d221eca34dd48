package woohttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rjcommerce/trackpool/internal/integrations/shopapi"
)

func TestClient_GetOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/orders/1042", r.URL.Path)
		require.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		_, _ = w.Write([]byte(`{
			"id": "1042",
			"status": "process-to-ship",
			"created_at": "2026-08-30T10:00:00Z",
			"total": "499.00",
			"shipping": {"state": "MH", "postcode": "400001"},
			"line_items": [
				{"product_id": "p1", "quantity": 2, "total": "399.00", "weight_grams": "250", "hsn_code": "6109", "gst_rate": "5"},
				{"product_id": "p2", "quantity": 1, "total": "100.00", "weight_grams": null, "hsn_code": "", "gst_rate": null}
			]
		}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "secret")
	o, err := c.GetOrder(context.Background(), "1042")
	require.NoError(t, err)
	require.NotNil(t, o)
	require.Equal(t, "1042", o.ID)
	require.Equal(t, "process-to-ship", o.Status)
	require.Equal(t, 499.00, o.Total)
	require.Equal(t, "MH", o.Shipping.State)
	require.Len(t, o.Items, 2)

	require.NotNil(t, o.Items[0].WeightGrams)
	require.Equal(t, 250.0, *o.Items[0].WeightGrams)
	require.NotNil(t, o.Items[0].GSTRatePercent)
	require.Equal(t, 5.0, *o.Items[0].GSTRatePercent)
	require.Nil(t, o.Items[1].WeightGrams)
	require.Nil(t, o.Items[1].GSTRatePercent)
}

func TestClient_BaseURLPrefixAndEscaping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/bridge/v2/orders/ord 42", r.URL.Path)
		require.Equal(t, "/bridge/v2/orders/ord%2042", r.URL.EscapedPath())
		_, _ = w.Write([]byte(`{"id": "ord 42", "status": "pending", "total": "0"}`))
	}))
	defer srv.Close()

	c := New(srv.URL+"/bridge/v2", "secret")
	o, err := c.GetOrder(context.Background(), "ord 42")
	require.NoError(t, err)
	require.NotNil(t, o)
	require.Equal(t, "ord 42", o.ID)
}

func TestClient_GetOrder_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, "secret")
	o, err := c.GetOrder(context.Background(), "missing")
	require.NoError(t, err)
	require.Nil(t, o)
}

func TestClient_GetOrder_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, "secret")
	_, err := c.GetOrder(context.Background(), "1")
	require.Error(t, err)
}

func TestClient_OrderMeta(t *testing.T) {
	meta := map[string]string{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/orders/7/meta/"+shopapi.TrackingMetaKey, r.URL.Path)
		switch r.Method {
		case http.MethodPut:
			var body struct {
				Value string `json:"value"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			meta[shopapi.TrackingMetaKey] = body.Value
			w.WriteHeader(http.StatusOK)
		case http.MethodGet:
			v, ok := meta[shopapi.TrackingMetaKey]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]string{"value": v})
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	c := New(srv.URL, "secret")

	v, err := c.GetOrderMeta(ctx, "7", shopapi.TrackingMetaKey)
	require.NoError(t, err)
	require.Empty(t, v)

	require.NoError(t, c.SetOrderMeta(ctx, "7", shopapi.TrackingMetaKey, "EG123IN"))

	v, err = c.GetOrderMeta(ctx, "7", shopapi.TrackingMetaKey)
	require.NoError(t, err)
	require.Equal(t, "EG123IN", v)
}
