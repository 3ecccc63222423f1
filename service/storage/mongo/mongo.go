package mongo

import (
	"context"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/michaeljohneduave/hugin-gateway/tools/errs"
)

var (
	mongoOnce sync.Once
	mongoMgr  *Manager
)

type Manager struct {
	client *mongo.Client
	db     *mongo.Database
}

// Config for the shared Mongo client.
type Config struct {
	URI         string
	Database    string
	MaxPoolSize int
	MaxRetry    int
}

// Init connects the shared Mongo client (singleton), retrying a few times
// so the gateway survives a database that comes up slightly later.
func Init(ctx context.Context, c Config) error {
	var initErr error
	mongoOnce.Do(func() {
		if c.URI == "" {
			initErr = errs.New("mongo uri is required")
			return
		}
		if c.MaxRetry <= 0 {
			c.MaxRetry = 3
		}
		opts := options.Client().ApplyURI(c.URI)
		if c.MaxPoolSize > 0 {
			opts.SetMaxPoolSize(uint64(c.MaxPoolSize))
		}

		var cli *mongo.Client
		var err error
		for i := 0; i < c.MaxRetry; i++ {
			cli, err = connect(ctx, opts)
			if err == nil {
				break
			}
			time.Sleep(time.Second / 2)
		}
		if err != nil {
			initErr = errs.WrapMsg(err, "failed to connect to mongo")
			return
		}
		mongoMgr = &Manager{client: cli, db: cli.Database(c.Database)}
	})
	return initErr
}

func connect(ctx context.Context, opts *options.ClientOptions) (*mongo.Client, error) {
	cli, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := cli.Ping(ctx, nil); err != nil {
		return nil, err
	}
	return cli, nil
}

// GetDB returns the shared database handle.
func GetDB() *mongo.Database {
	if mongoMgr == nil {
		panic("mongo not initialized, call Init first")
	}
	return mongoMgr.db
}

// Ping reports backend health; used by the health endpoint.
func Ping(ctx context.Context) error {
	if mongoMgr == nil {
		return errs.New("mongo not initialized")
	}
	return mongoMgr.client.Ping(ctx, nil)
}

// Close disconnects the shared client.
func Close(ctx context.Context) error {
	if mongoMgr != nil && mongoMgr.client != nil {
		return mongoMgr.client.Disconnect(ctx)
	}
	return nil
}
