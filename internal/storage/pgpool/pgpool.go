package pgpool

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/rjcommerce/trackpool/internal/models"
)

// Storage owns the two per-class tracking inventory tables.
type Storage struct {
	db *pgxpool.Pool
}

func New(connString string) (*Storage, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, errors.Wrap(err, "parse pg config")
	}

	db, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		return nil, errors.Wrap(err, "connect pg")
	}

	s := &Storage{db: db}
	if err := s.initSchema(context.Background()); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Storage) Close() {
	if s.db != nil {
		s.db.Close()
	}
}

// tableFor maps a pool class to its inventory table. The class enum is
// closed, so this never sees arbitrary strings.
func tableFor(class models.PoolClass) (string, error) {
	switch class {
	case models.PoolClassEG:
		return "tracking_pool_eg", nil
	case models.PoolClassCG:
		return "tracking_pool_cg", nil
	default:
		return "", errors.Errorf("unknown pool class %q", class)
	}
}
