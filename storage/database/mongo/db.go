package mongodb

import (
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/trezcool/bursar/core"
)

const (
	studentsCollection = "students"
	coursesCollection  = "courses"
	plansCollection    = "paymentplans"
	paymentsCollection = "payments"
	invoicesCollection = "invoices"

	idempotencyIndex = "payments_idempotency_key_idx"
)

type DB struct {
	client *mongo.Client
	db     *mongo.Database
}

// Open connects to conf.URI and selects the conf.Name database.
func Open(ctx context.Context, conf core.DatabaseConfig) (*DB, error) {
	return OpenURI(ctx, conf.URI, conf.Name, conf)
}

func OpenURI(ctx context.Context, uri, dbName string, conf core.DatabaseConfig) (*DB, error) {
	opts := options.Client().ApplyURI(uri)
	if conf.Timeout > 0 {
		opts.SetConnectTimeout(conf.Timeout).SetServerSelectionTimeout(conf.Timeout)
	}
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, errors.Wrap(err, "connecting to mongo")
	}
	if err = client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, errors.Wrap(err, "pinging mongo")
	}
	return &DB{client: client, db: client.Database(dbName)}, nil
}

func (db *DB) Close(ctx context.Context) error {
	return db.client.Disconnect(ctx)
}

// Drop removes every collection of the database.
func (db *DB) Drop(ctx context.Context) error {
	return db.db.Drop(ctx)
}

// EnsureIndexes creates the indexes the repository relies on. It is idempotent.
func (db *DB) EnsureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		plansCollection: {
			{Keys: bson.D{{Key: "user", Value: 1}}},
		},
		paymentsCollection: {
			{Keys: bson.D{{Key: "paymentPlanId", Value: 1}}},
			{Keys: bson.D{{Key: "user", Value: 1}}},
			{Keys: bson.D{{Key: "paymentDate", Value: -1}, {Key: "createdAt", Value: -1}, {Key: "_id", Value: 1}}},
			{
				Keys: bson.D{{Key: "paymentPlanId", Value: 1}, {Key: "idempotencyKey", Value: 1}},
				Options: options.Index().
					SetName(idempotencyIndex).
					SetUnique(true).
					SetPartialFilterExpression(bson.M{"idempotencyKey": bson.M{"$type": "string"}}),
			},
		},
		invoicesCollection: {
			{Keys: bson.D{{Key: "paymentPlanId", Value: 1}}},
		},
	}
	for coll, models := range indexes {
		if _, err := db.db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return errors.Wrapf(err, "creating %s indexes", coll)
		}
	}
	return nil
}
