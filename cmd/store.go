package main

import (
	"context"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-sync/internal/crm"
	"github.com/sells-group/lead-sync/internal/events"
	"github.com/sells-group/lead-sync/internal/lock"
	"github.com/sells-group/lead-sync/internal/store"
	"github.com/sells-group/lead-sync/pkg/salesforce"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "lead-sync.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore opens and migrates the configured store.
func openStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

func initSink(st store.Store) (crm.Sink, error) {
	switch cfg.CRM.Driver {
	case "local", "":
		return crm.NewLocalSink(st), nil
	case "salesforce":
		client, err := initSalesforce()
		if err != nil {
			return nil, err
		}
		return crm.NewSalesforceSink(client, cfg.CRM.DefaultCompanyLabel, logger), nil
	default:
		return nil, eris.Errorf("unsupported crm driver: %s", cfg.CRM.Driver)
	}
}

func initSalesforce() (salesforce.Client, error) {
	if cfg.Salesforce.ClientID == "" {
		return nil, eris.New("salesforce client ID is required (LEADSYNC_SALESFORCE_CLIENT_ID)")
	}

	pemData, err := os.ReadFile(cfg.Salesforce.KeyPath)
	if err != nil {
		return nil, eris.Wrap(err, "read salesforce JWT private key")
	}

	return salesforce.Connect(salesforce.Creds{
		LoginURL: cfg.Salesforce.LoginURL,
		Username: cfg.Salesforce.Username,
		ClientID: cfg.Salesforce.ClientID,
		KeyPEM:   string(pemData),
	})
}

// initLocks builds the run lock factory for the configured driver. The
// returned func closes connections owned by the factory.
func initLocks(st store.Store) (lock.Factory, func(), error) {
	cleanup := func() {}
	var b lock.Backends

	switch cfg.Lock.Driver {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		b.Redis = client
		cleanup = func() { _ = client.Close() }
	case "postgres":
		pg, ok := st.(*store.PostgresStore)
		if !ok {
			return nil, cleanup, eris.New("lock.driver postgres requires store.driver postgres")
		}
		b.Pool = pg.Pool()
	case "table", "":
		lite, ok := st.(*store.SQLiteStore)
		if !ok {
			return nil, cleanup, eris.New("lock.driver table requires store.driver sqlite; use postgres or redis")
		}
		b.DB = lite.DB()
	}

	f, err := lock.NewFactory(cfg.Lock.Driver, cfg.Lock.TTL(), b)
	if err != nil {
		cleanup()
		return nil, func() {}, err
	}
	return f, cleanup, nil
}

func initPublisher() (events.Publisher, func(), error) {
	if cfg.RabbitMQ.URL == "" {
		return events.NopPublisher{}, func() {}, nil
	}
	p, err := events.DialRabbit(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange)
	if err != nil {
		return nil, func() {}, err
	}
	return p, func() { _ = p.Close() }, nil
}
