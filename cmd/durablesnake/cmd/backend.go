package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	durablesnake "github.com/danthegoodman1/DurableSnake"
	"github.com/danthegoodman1/DurableSnake/store"
	"github.com/danthegoodman1/DurableSnake/store/memory"
	"github.com/danthegoodman1/DurableSnake/store/postgres"
	redisstore "github.com/danthegoodman1/DurableSnake/store/redis"
	"github.com/danthegoodman1/DurableSnake/store/sqlite"
)

// backend is an opened store plus whatever else has to be closed with it.
type backend struct {
	store.Store
	closers []func() error
}

func (b *backend) Close() error {
	errs := []error{b.Store.Close()}
	for _, c := range b.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// openBackend opens the store named by backend.driver, pings it and runs
// its migrations.
func openBackend(ctx context.Context, logger *slog.Logger) (*backend, error) {
	driver := viper.GetString("backend.driver")
	dsn := viper.GetString("backend.dsn")

	b, err := dial(ctx, driver, dsn, logger)
	if err != nil {
		return nil, err
	}
	if err := b.Ping(ctx); err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("ping %s backend: %w", driver, err)
	}
	if err := b.Migrate(ctx); err != nil {
		_ = b.Close()
		return nil, err
	}
	logger.Debug("backend ready", slog.String("driver", driver))
	return b, nil
}

func dial(ctx context.Context, driver, dsn string, logger *slog.Logger) (*backend, error) {
	switch driver {
	case "", "memory":
		return &backend{Store: memory.New()}, nil

	case "sqlite":
		if dsn == "" {
			dsn = "durablesnake.db"
		}
		s, err := sqlite.Open(dsn, sqlite.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return &backend{Store: s}, nil

	case "postgres":
		if dsn == "" {
			return nil, fmt.Errorf("%w: postgres backend needs a dsn", durablesnake.ErrInvalidConfig)
		}
		s, err := postgres.New(ctx, dsn, postgres.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return &backend{Store: s}, nil

	case "redis":
		if dsn == "" {
			dsn = "redis://localhost:6379/0"
		}
		opts, err := redis.ParseURL(dsn)
		if err != nil {
			return nil, fmt.Errorf("%w: redis dsn: %v", durablesnake.ErrInvalidConfig, err)
		}
		client := redis.NewClient(opts)
		return &backend{
			Store:   redisstore.New(client, redisstore.WithLogger(logger)),
			closers: []func() error{client.Close},
		}, nil

	default:
		return nil, fmt.Errorf("%w: unknown backend driver %q", durablesnake.ErrInvalidConfig, driver)
	}
}
