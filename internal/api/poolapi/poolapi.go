package poolapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"

	"github.com/rjcommerce/trackpool/internal/audit"
	"github.com/rjcommerce/trackpool/internal/cache"
	"github.com/rjcommerce/trackpool/internal/integrations/shopapi"
	"github.com/rjcommerce/trackpool/internal/models"
	"github.com/rjcommerce/trackpool/internal/services/assign"
	"github.com/rjcommerce/trackpool/internal/services/ingest"
	"github.com/rjcommerce/trackpool/internal/storage/pgpool"
)

const countsCacheKey = "trackpool:counts"

// Ingester runs CSV upload batches.
type Ingester interface {
	ProcessUpload(ctx context.Context, req ingest.UploadRequest) (*ingest.Summary, error)
}

// Assigner binds tracking numbers to orders.
type Assigner interface {
	AssignTracking(ctx context.Context, orderID string) (*assign.Assignment, error)
}

// GSTReporter renders the tax report for a postal manifest.
type GSTReporter interface {
	Generate(ctx context.Context, input io.Reader, out io.Writer) error
}

// PoolStore is the read/delete slice of the pool tables the admin
// surface needs.
type PoolStore interface {
	CountAvailable(ctx context.Context) (map[models.PoolClass]int64, error)
	List(ctx context.Context, class models.PoolClass, q pgpool.ListQuery) ([]*models.PoolEntry, int64, error)
	DeleteByIDs(ctx context.Context, class models.PoolClass, ids []int64) (int64, error)
}

// AuditReader exposes the audit files to the log viewer.
type AuditReader interface {
	List() ([]audit.FileInfo, error)
	Read(name string) ([]byte, error)
}

// RateLimiter throttles expensive endpoints.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type Config struct {
	CountsTTL        time.Duration
	UploadRateLimit  int64
	UploadRateWindow time.Duration
}

type API struct {
	ingester Ingester
	assigner Assigner
	reporter GSTReporter
	pool     PoolStore
	shop     shopapi.Client
	logs     AuditReader
	cache    cache.BytesCache
	limiter  RateLimiter
	log      *slog.Logger
	cfg      Config
}

func New(
	ingester Ingester,
	assigner Assigner,
	reporter GSTReporter,
	pool PoolStore,
	shop shopapi.Client,
	logs AuditReader,
	bytesCache cache.BytesCache,
	limiter RateLimiter,
	log *slog.Logger,
	cfg Config,
) *API {
	if cfg.CountsTTL <= 0 {
		cfg.CountsTTL = 30 * time.Second
	}
	if cfg.UploadRateLimit <= 0 {
		cfg.UploadRateLimit = 10
	}
	if cfg.UploadRateWindow <= 0 {
		cfg.UploadRateWindow = time.Minute
	}
	return &API{
		ingester: ingester,
		assigner: assigner,
		reporter: reporter,
		pool:     pool,
		shop:     shop,
		logs:     logs,
		cache:    bytesCache,
		limiter:  limiter,
		log:      log,
		cfg:      cfg,
	}
}

// Routes mounts the admin surface on a fresh chi router.
func (a *API) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/trackings/import", a.handleImport)
		r.Get("/trackings/counts", a.handleCounts)
		r.Get("/trackings/{class}", a.handleList)
		r.Post("/trackings/{class}/delete", a.handleDelete)

		r.Post("/orders/{id}/assign", a.handleAssign)
		r.Get("/orders/{id}/tracking", a.handleOrderTracking)

		r.Post("/reports/gst", a.handleGSTReport)

		r.Get("/logs", a.handleLogList)
		r.Get("/logs/{name}", a.handleLogRead)
	})

	return r
}

func (a *API) handleImport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if a.limiter != nil {
		allowed, _, err := a.limiter.Allow(ctx, "csv-upload", a.cfg.UploadRateLimit, a.cfg.UploadRateWindow)
		if err != nil {
			a.log.Warn("rate limiter unavailable, letting request through", "error", err)
		} else if !allowed {
			writeError(w, http.StatusTooManyRequests, "upload rate limit exceeded")
			return
		}
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	if !strings.HasSuffix(strings.ToLower(header.Filename), ".csv") {
		writeError(w, http.StatusBadRequest, "invalid file type, expected a CSV file")
		return
	}

	uploadedBy := r.FormValue("uploaded_by")
	if uploadedBy == "" {
		uploadedBy = "api"
	}

	summary, err := a.ingester.ProcessUpload(ctx, ingest.UploadRequest{
		FileName:   header.Filename,
		UploadedBy: uploadedBy,
		Reader:     file,
	})
	if err != nil {
		a.log.Error("csv import failed", "file", header.Filename, "error", err)
		writeError(w, http.StatusInternalServerError, "import failed")
		return
	}

	// The pool just changed size; the cached counts are stale now.
	a.invalidateCounts(ctx)

	writeJSON(w, http.StatusOK, summary)
}

func (a *API) handleCounts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if a.cache != nil {
		if cached, ok, err := a.cache.Get(ctx, countsCacheKey); err == nil && ok {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write(cached)
			return
		}
	}

	counts, err := a.pool.CountAvailable(ctx)
	if err != nil {
		a.log.Error("count available failed", "error", err)
		writeError(w, http.StatusInternalServerError, "count failed")
		return
	}

	body, err := json.Marshal(counts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "encode failed")
		return
	}
	if a.cache != nil {
		if err := a.cache.Set(ctx, countsCacheKey, body, a.cfg.CountsTTL); err != nil {
			a.log.Warn("counts cache write failed", "error", err)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

func (a *API) invalidateCounts(ctx context.Context) {
	if a.cache == nil {
		return
	}
	// BytesCache has no delete; a short-lived tombstone is not worth
	// the interface change, so overwrite with an immediate expiry.
	if err := a.cache.Set(ctx, countsCacheKey, []byte("null"), time.Millisecond); err != nil {
		a.log.Warn("counts cache invalidate failed", "error", err)
	}
}

type listResponse struct {
	Entries []*models.PoolEntry `json:"entries"`
	Total   int64               `json:"total"`
}

func (a *API) handleList(w http.ResponseWriter, r *http.Request) {
	class, ok := parseClass(chi.URLParam(r, "class"))
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown pool class")
		return
	}

	q := pgpool.ListQuery{
		Search: r.URL.Query().Get("search"),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			q.Limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			q.Offset = n
		}
	}

	entries, total, err := a.pool.List(r.Context(), class, q)
	if err != nil {
		a.log.Error("list pool failed", "class", class, "error", err)
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	if entries == nil {
		entries = []*models.PoolEntry{}
	}
	writeJSON(w, http.StatusOK, listResponse{Entries: entries, Total: total})
}

type deleteRequest struct {
	IDs []int64 `json:"ids"`
}

func (a *API) handleDelete(w http.ResponseWriter, r *http.Request) {
	class, ok := parseClass(chi.URLParam(r, "class"))
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown pool class")
		return
	}

	var req deleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "ids is required")
		return
	}

	n, err := a.pool.DeleteByIDs(r.Context(), class, req.IDs)
	if err != nil {
		a.log.Error("bulk delete failed", "class", class, "error", err)
		writeError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	a.invalidateCounts(r.Context())
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

type assignResponse struct {
	Assigned   bool               `json:"assigned"`
	Assignment *assign.Assignment `json:"assignment,omitempty"`
}

func (a *API) handleAssign(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	result, err := a.assigner.AssignTracking(r.Context(), orderID)
	if err != nil {
		var exhausted *assign.NoAvailableTrackingNumberError
		if errors.As(err, &exhausted) {
			writeError(w, http.StatusConflict, exhausted.Error())
			return
		}
		a.log.Error("assign failed", "order_id", orderID, "error", err)
		writeError(w, http.StatusInternalServerError, "assign failed")
		return
	}
	if result != nil {
		a.invalidateCounts(r.Context())
	}
	writeJSON(w, http.StatusOK, assignResponse{Assigned: result != nil, Assignment: result})
}

func (a *API) handleOrderTracking(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	trackingID, err := a.shop.GetOrderMeta(r.Context(), orderID, shopapi.TrackingMetaKey)
	if err != nil {
		a.log.Error("read tracking meta failed", "order_id", orderID, "error", err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if trackingID == "" {
		writeError(w, http.StatusNotFound, "order has no tracking number")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"order_id": orderID, "tracking_id": trackingID})
}

func (a *API) handleGSTReport(w http.ResponseWriter, r *http.Request) {
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	var buf bytes.Buffer
	if err := a.reporter.Generate(r.Context(), file, &buf); err != nil {
		a.log.Error("gst report failed", "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="gst_report_%s.csv"`, time.Now().Format("2006-01-02")))
	_, _ = w.Write(buf.Bytes())
}

func (a *API) handleLogList(w http.ResponseWriter, r *http.Request) {
	files, err := a.logs.List()
	if err != nil {
		a.log.Error("list logs failed", "error", err)
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	if files == nil {
		files = []audit.FileInfo{}
	}
	writeJSON(w, http.StatusOK, files)
}

func (a *API) handleLogRead(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	data, err := a.logs.Read(name)
	if err != nil {
		if errors.Is(err, audit.ErrUnknownLog) {
			writeError(w, http.StatusNotFound, "log not found")
			return
		}
		a.log.Error("read log failed", "name", name, "error", err)
		writeError(w, http.StatusInternalServerError, "read failed")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write(data)
}

func parseClass(raw string) (models.PoolClass, bool) {
	class := models.PoolClass(strings.ToUpper(raw))
	return class, class.Valid()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
