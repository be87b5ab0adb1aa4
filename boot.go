package main

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"statusbridge/global/config"
	"statusbridge/module/status/service"
	"statusbridge/module/status/store"
	"statusbridge/service/events"
	"statusbridge/service/kafka"
	"statusbridge/service/mgo"
	"statusbridge/service/natsx"
	"statusbridge/service/rctogether"
	"statusbridge/service/storage/postgres"
	"statusbridge/service/storage/redis"
	"statusbridge/service/zulip"
	"statusbridge/tools/clock"
)

// openStore connects the configured backend, retrying with exponential
// backoff until cfg.ConnectTimeout runs out.
func openStore(ctx context.Context, cfg config.StoreConfig, log *zap.Logger) (store.Store, error) {
	if cfg.Driver == config.DriverMemory {
		log.Warn("using the in-memory store; statuses are lost on restart")
		return store.NewMemStore(), nil
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = cfg.ConnectTimeout
	notify := func(err error, wait time.Duration) {
		log.Warn("store not reachable, retrying", zap.String("driver", cfg.Driver), zap.Duration("wait", wait), zap.Error(err))
	}

	var st store.Store
	op := func() error {
		switch cfg.Driver {
		case config.DriverPostgres:
			pool, err := postgres.Connect(ctx, cfg.Postgres)
			if err != nil {
				return err
			}
			if err := postgres.Migrate(ctx, pool); err != nil {
				pool.Close()
				return err
			}
			st = store.NewPostgres(pool)
		case config.DriverRedis:
			rdb, err := redis.NewClient(ctx, cfg.Redis)
			if err != nil {
				return err
			}
			st = store.NewRedis(rdb, cfg.Redis.Prefix)
		default:
			return backoff.Permanent(fmt.Errorf("unknown store driver %q", cfg.Driver))
		}
		return nil
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Driver, err)
	}
	log.Info("store ready", zap.String("driver", cfg.Driver))
	return st, nil
}

// publishers builds a publisher for every platform with a configured site.
// The Zulip client is returned separately since it also delivers feedback.
func publishers(cfg *config.AppConfig, clk clock.Clock, log *zap.Logger) ([]service.Publisher, *zulip.Client) {
	var (
		pubs []service.Publisher
		chat *zulip.Client
	)
	if cfg.Zulip.Site != "" {
		chat = zulip.New(cfg.Zulip)
		pubs = append(pubs, chat)
	} else {
		log.Warn("zulip.site not set; chat statuses will not be published")
	}
	if cfg.RC.Site != "" {
		pubs = append(pubs, rctogether.New(cfg.RC, clk, log))
	} else {
		log.Warn("rc.site not set; desk statuses will not be published")
	}
	return pubs, chat
}

// sinks connects the optional event sinks. A sink that fails to connect is
// logged and left out; history is best-effort.
func sinks(ctx context.Context, cfg *config.AppConfig, log *zap.Logger) *events.Fanout {
	var out []events.Sink

	if cfg.History.Enabled() {
		mcfg := cfg.History.Mongo
		if h, err := mgo.NewHistory(ctx, &mcfg); err != nil {
			log.Error("mongo history disabled", zap.Error(err))
		} else {
			out = append(out, h)
		}
	}
	if len(cfg.Events.Nats.Servers) > 0 {
		if c, err := natsx.NewNatsxClient(cfg.Events.Nats); err != nil {
			log.Error("nats events disabled", zap.Error(err))
		} else {
			out = append(out, natsx.NewEventProducer(c))
		}
	}
	if len(cfg.Events.Kafka.Brokers) > 0 {
		if p, err := kafka.NewEventProducer(cfg.Events.Kafka); err != nil {
			log.Error("kafka events disabled", zap.Error(err))
		} else {
			out = append(out, p)
		}
	}

	names := make([]string, 0, len(out))
	for _, s := range out {
		names = append(names, s.Name())
	}
	log.Info("event sinks", zap.Strings("sinks", names))
	return events.NewFanout(log, cfg.Events.Timeout, out...)
}
