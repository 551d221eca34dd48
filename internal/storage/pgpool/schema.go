package pgpool

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS tracking_pool_eg (
  id BIGSERIAL PRIMARY KEY,
  tracking_id TEXT NOT NULL,
  current_status TEXT NULL,
  datetime TIMESTAMPTZ NULL,
  upload_userid TEXT NOT NULL,
  order_id TEXT NULL,
  modified_at TIMESTAMPTZ NULL,
  is_accessable TEXT NOT NULL DEFAULT 'Yes',
  UNIQUE (tracking_id)
)`,
		`
CREATE TABLE IF NOT EXISTS tracking_pool_cg (
  id BIGSERIAL PRIMARY KEY,
  tracking_id TEXT NOT NULL,
  current_status TEXT NULL,
  datetime TIMESTAMPTZ NULL,
  upload_userid TEXT NOT NULL,
  order_id TEXT NULL,
  modified_at TIMESTAMPTZ NULL,
  is_accessable TEXT NOT NULL DEFAULT 'Yes',
  UNIQUE (tracking_id)
)`,
		// One entry per order per class, enforced by the database so
		// concurrent claims for the same order cannot both bind.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_tracking_pool_eg_order_id ON tracking_pool_eg(order_id) WHERE order_id IS NOT NULL`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_tracking_pool_cg_order_id ON tracking_pool_cg(order_id) WHERE order_id IS NOT NULL`,
		// Claim scans: lowest available id first.
		`CREATE INDEX IF NOT EXISTS idx_tracking_pool_eg_available ON tracking_pool_eg(id) WHERE order_id IS NULL AND is_accessable = 'Yes'`,
		`CREATE INDEX IF NOT EXISTS idx_tracking_pool_cg_available ON tracking_pool_cg(id) WHERE order_id IS NULL AND is_accessable = 'Yes'`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
