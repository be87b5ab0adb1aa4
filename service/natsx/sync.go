package natsx

import (
	"context"
	"time"
)

// NatsxSyncPublisher 同步发布器（带重试）
type NatsxSyncPublisher struct {
	Retries int
	Backoff time.Duration
}

func (sp *NatsxSyncPublisher) Do(ctx context.Context, send func(context.Context) error) error {
	var err error
	for i := 0; i <= sp.Retries; i++ {
		err = send(ctx)
		if err == nil {
			return nil
		}
		if i == sp.Retries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sp.Backoff):
		}
	}
	return err
}
