package pgpool

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/rjcommerce/trackpool/internal/models"
)

// ImportTx wraps one CSV upload batch. Every accepted row is inserted
// inside the same transaction: a database failure mid-stream rolls the
// whole upload back, while per-row rejections simply never reach
// Insert and do not disturb the batch.
type ImportTx struct {
	tx pgx.Tx
}

func (s *Storage) BeginImport(ctx context.Context) (*ImportTx, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin import tx")
	}
	return &ImportTx{tx: tx}, nil
}

// ExistsAnywhere checks both pool tables within the batch transaction,
// so rows inserted earlier in the same upload are seen as duplicates.
func (t *ImportTx) ExistsAnywhere(ctx context.Context, trackingID string) (bool, error) {
	return existsAnywhere(ctx, t.tx, trackingID)
}

// Insert adds a fresh inventory row: available, unbound, no status.
func (t *ImportTx) Insert(ctx context.Context, class models.PoolClass, trackingID, uploadedBy string) error {
	table, err := tableFor(class)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `
INSERT INTO `+table+` (
  tracking_id, current_status, datetime, upload_userid, order_id, modified_at, is_accessable
)
VALUES ($1, NULL, NULL, $2, NULL, NULL, $3)
`, trackingID, uploadedBy, models.AccessibleYes)
	if err != nil {
		return errors.Wrap(err, "insert entry")
	}
	return nil
}

func (t *ImportTx) Commit(ctx context.Context) error {
	return errors.Wrap(t.tx.Commit(ctx), "commit import tx")
}

func (t *ImportTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return errors.Wrap(err, "rollback import tx")
	}
	return nil
}
