// Package storage opens the billing.Repository of the configured database engine.
package storage

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/bursar/core"
	"github.com/trezcool/bursar/core/billing"
	"github.com/trezcool/bursar/storage/database"
	inmemdb "github.com/trezcool/bursar/storage/database/inmem"
	mongodb "github.com/trezcool/bursar/storage/database/mongo"
	sqlxrepos "github.com/trezcool/bursar/storage/database/sqlx"
)

const (
	EngineMemory   = "memory"
	EnginePostgres = "postgres"
	EngineMongo    = "mongo"
)

var ErrUnknownEngine = errors.New("unknown database engine")

type Store struct {
	Engine string
	Repo   billing.Repository
	SQL    *sqlx.DB // postgres only
	close  func(ctx context.Context) error
}

func (s *Store) Close(ctx context.Context) error {
	if s.close == nil {
		return nil
	}
	return s.close(ctx)
}

func Open(ctx context.Context, conf core.DatabaseConfig) (*Store, error) {
	if conf.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, conf.Timeout)
		defer cancel()
	}

	switch conf.Engine {
	case EngineMemory, "":
		return &Store{Engine: EngineMemory, Repo: inmemdb.NewBillingRepository(inmemdb.Open())}, nil

	case EnginePostgres:
		db, err := database.Open(ctx, conf)
		if err != nil {
			return nil, err
		}
		return &Store{
			Engine: EnginePostgres,
			Repo:   sqlxrepos.NewBillingRepository(db),
			SQL:    db,
			close:  func(context.Context) error { return db.Close() },
		}, nil

	case EngineMongo:
		db, err := mongodb.Open(ctx, conf)
		if err != nil {
			return nil, err
		}
		if err = db.EnsureIndexes(ctx); err != nil {
			_ = db.Close(ctx)
			return nil, err
		}
		return &Store{Engine: EngineMongo, Repo: mongodb.NewBillingRepository(db), close: db.Close}, nil
	}
	return nil, errors.Wrapf(ErrUnknownEngine, "%q", conf.Engine)
}
