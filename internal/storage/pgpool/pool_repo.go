package pgpool

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"

	"github.com/rjcommerce/trackpool/internal/models"
)

// ErrPoolExhausted is returned by Claim when a class has no entry left
// with order_id IS NULL and is_accessable = 'Yes'.
var ErrPoolExhausted = errors.New("no available tracking number in pool")

// ErrOrderAlreadyBound is returned by Claim when the order already
// holds an entry in the class's table. The claim makes no change.
var ErrOrderAlreadyBound = errors.New("order already has a tracking number in this pool")

const entryColumns = `id, tracking_id, current_status, datetime, upload_userid, order_id, modified_at, is_accessable`

func scanEntry(row pgx.Row) (*models.PoolEntry, error) {
	var e models.PoolEntry
	if err := row.Scan(
		&e.ID, &e.TrackingID, &e.CurrentStatus, &e.AssignedAt,
		&e.UploadedBy, &e.OrderID, &e.ModifiedAt, &e.IsAccessible,
	); err != nil {
		return nil, err
	}
	return &e, nil
}

// Claim binds the lowest-id available entry of class to orderID and
// returns it. The locked select and the conditional update run in one
// transaction, so two concurrent claims can never hand out the same
// row: the second either locks the next row (SKIP LOCKED) or sees the
// pool empty.
func (s *Storage) Claim(ctx context.Context, class models.PoolClass, orderID, orderStatus string) (*models.PoolEntry, error) {
	table, err := tableFor(class)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var bound int64
	err = tx.QueryRow(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE order_id = $1`, table),
		orderID,
	).Scan(&bound)
	if err != nil {
		return nil, errors.Wrap(err, "check existing binding")
	}
	if bound > 0 {
		return nil, ErrOrderAlreadyBound
	}

	var id int64
	err = tx.QueryRow(ctx, fmt.Sprintf(`
SELECT id FROM %s
WHERE order_id IS NULL AND is_accessable = $1
ORDER BY id ASC
LIMIT 1
FOR UPDATE SKIP LOCKED
`, table), models.AccessibleYes).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPoolExhausted
	}
	if err != nil {
		return nil, errors.Wrap(err, "select available entry")
	}

	entry, err := scanEntry(tx.QueryRow(ctx, fmt.Sprintf(`
UPDATE %s
SET
  order_id = $2,
  current_status = $3,
  datetime = now(),
  modified_at = now(),
  is_accessable = $4
WHERE id = $1 AND order_id IS NULL
RETURNING %s
`, table, entryColumns), id, orderID, orderStatus, models.AccessibleNo))
	if errors.Is(err, pgx.ErrNoRows) {
		// The row was locked by us, so this only fires if something
		// bound it inside our own transaction. Treat as exhaustion.
		return nil, ErrPoolExhausted
	}
	if isUniqueViolation(err) {
		// A concurrent claim bound this order between our COUNT and
		// the update; the per-order unique index catches it.
		return nil, ErrOrderAlreadyBound
	}
	if err != nil {
		return nil, errors.Wrap(err, "claim entry")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return entry, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// ExistsAnywhere reports whether trackingID is present in either pool
// table. Uniqueness is a cross-pool invariant: a tracking number
// belongs to exactly one class.
func (s *Storage) ExistsAnywhere(ctx context.Context, trackingID string) (bool, error) {
	return existsAnywhere(ctx, s.db, trackingID)
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func existsAnywhere(ctx context.Context, q querier, trackingID string) (bool, error) {
	var n int64
	err := q.QueryRow(ctx, `
SELECT
  (SELECT COUNT(*) FROM tracking_pool_eg WHERE tracking_id = $1)
+ (SELECT COUNT(*) FROM tracking_pool_cg WHERE tracking_id = $1)
`, trackingID).Scan(&n)
	if err != nil {
		return false, errors.Wrap(err, "check tracking exists")
	}
	return n > 0, nil
}

// CountAvailable returns per-class counts of claimable entries, for
// the inventory dashboard.
func (s *Storage) CountAvailable(ctx context.Context) (map[models.PoolClass]int64, error) {
	out := make(map[models.PoolClass]int64, len(models.AllPoolClasses))
	for _, class := range models.AllPoolClasses {
		table, err := tableFor(class)
		if err != nil {
			return nil, err
		}
		var n int64
		err = s.db.QueryRow(ctx, fmt.Sprintf(
			`SELECT COUNT(*) FROM %s WHERE order_id IS NULL AND is_accessable = $1`, table,
		), models.AccessibleYes).Scan(&n)
		if err != nil {
			return nil, errors.Wrap(err, "count available")
		}
		out[class] = n
	}
	return out, nil
}

// GetByTrackingID fetches one entry from the class's table.
func (s *Storage) GetByTrackingID(ctx context.Context, class models.PoolClass, trackingID string) (*models.PoolEntry, error) {
	table, err := tableFor(class)
	if err != nil {
		return nil, err
	}
	entry, err := scanEntry(s.db.QueryRow(ctx, fmt.Sprintf(
		`SELECT %s FROM %s WHERE tracking_id = $1`, entryColumns, table,
	), trackingID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select entry")
	}
	return entry, nil
}

// FindOrderByTrackingID resolves a tracking number to its bound order
// across both pools. ok is false when the number is unknown or unbound.
func (s *Storage) FindOrderByTrackingID(ctx context.Context, trackingID string) (orderID string, class models.PoolClass, ok bool, err error) {
	for _, c := range models.AllPoolClasses {
		entry, gerr := s.GetByTrackingID(ctx, c, trackingID)
		if gerr != nil {
			return "", "", false, gerr
		}
		if entry != nil && entry.OrderID != nil && *entry.OrderID != "" {
			return *entry.OrderID, c, true, nil
		}
	}
	return "", "", false, nil
}

// UpdateCurrentStatus mirrors an order lifecycle transition into the
// bound entry. Only current_status changes; modified_at and
// is_accessable are touched exclusively by the initial claim.
// Returns false when the tracking number is not in the class's table.
func (s *Storage) UpdateCurrentStatus(ctx context.Context, class models.PoolClass, trackingID, status string) (bool, error) {
	table, err := tableFor(class)
	if err != nil {
		return false, err
	}
	tag, err := s.db.Exec(ctx, fmt.Sprintf(
		`UPDATE %s SET current_status = $2 WHERE tracking_id = $1`, table,
	), trackingID, status)
	if err != nil {
		return false, errors.Wrap(err, "update current status")
	}
	return tag.RowsAffected() > 0, nil
}

// ListQuery narrows and pages a pool listing.
type ListQuery struct {
	Search string // matches tracking_id or order_id, substring
	Limit  int
	Offset int
}

// List returns one page of a class's table plus the total row count
// for that filter, newest imports first.
func (s *Storage) List(ctx context.Context, class models.PoolClass, q ListQuery) ([]*models.PoolEntry, int64, error) {
	table, err := tableFor(class)
	if err != nil {
		return nil, 0, err
	}
	if q.Limit <= 0 || q.Limit > 500 {
		q.Limit = 50
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	where := ""
	args := []any{}
	if strings.TrimSpace(q.Search) != "" {
		where = `WHERE tracking_id ILIKE $1 OR order_id ILIKE $1`
		args = append(args, "%"+strings.TrimSpace(q.Search)+"%")
	}

	var total int64
	err = s.db.QueryRow(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s %s`, table, where), args...,
	).Scan(&total)
	if err != nil {
		return nil, 0, errors.Wrap(err, "count entries")
	}

	limitArgs := append(append([]any{}, args...), q.Limit, q.Offset)
	rows, err := s.db.Query(ctx, fmt.Sprintf(
		`SELECT %s FROM %s %s ORDER BY id DESC LIMIT $%d OFFSET $%d`,
		entryColumns, table, where, len(args)+1, len(args)+2,
	), limitArgs...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "select entries")
	}
	defer rows.Close()

	var out []*models.PoolEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, errors.Wrap(err, "scan entry")
		}
		out = append(out, e)
	}
	if rows.Err() != nil {
		return nil, 0, errors.Wrap(rows.Err(), "rows")
	}
	return out, total, nil
}

// DeleteByIDs removes entries by surrogate id. Operator-facing bulk
// delete; assignment never deletes.
func (s *Storage) DeleteByIDs(ctx context.Context, class models.PoolClass, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	table, err := tableFor(class)
	if err != nil {
		return 0, err
	}
	tag, err := s.db.Exec(ctx, fmt.Sprintf(
		`DELETE FROM %s WHERE id = ANY($1)`, table,
	), ids)
	if err != nil {
		return 0, errors.Wrap(err, "delete entries")
	}
	return tag.RowsAffected(), nil
}
