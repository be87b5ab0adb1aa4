package service

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"statusbridge/tools/errs"
)

// Target names a user on both platforms.
type Target struct {
	ChatUserID string
	PresenceID string
}

// Payload is the status a publisher puts on its platform.
type Payload struct {
	Text      string
	Emoji     string
	ExpiresAt *time.Time
}

// Publisher applies or clears a status on one platform. Both calls must be
// idempotent.
type Publisher interface {
	Platform() string
	Apply(ctx context.Context, target Target, p Payload) error
	Clear(ctx context.Context, target Target) error
}

// PublishFailure is one platform that did not take the update.
type PublishFailure struct {
	Platform string
	Err      error
}

// publishAll runs call against every publisher concurrently and collects
// the failures in publisher order. One platform failing never cancels
// the other.
func publishAll(ctx context.Context, pubs []Publisher, timeout time.Duration, call func(ctx context.Context, p Publisher) error) []PublishFailure {
	results := make([]error, len(pubs))
	var g errgroup.Group
	for i, p := range pubs {
		i, p := i, p
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = errs.ErrPanicMsg(r, errs.PublisherFailureCode, p.Platform())
					results[i] = err
				}
			}()
			cctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			results[i] = call(cctx, p)
			return nil
		})
	}
	_ = g.Wait()

	var failures []PublishFailure
	for i, err := range results {
		if err == nil {
			continue
		}
		if !errors.Is(err, errs.ErrPublisherFailure) {
			err = errs.ErrPublisherFailure.WrapMsg(pubs[i].Platform(), "cause", err.Error())
		}
		failures = append(failures, PublishFailure{Platform: pubs[i].Platform(), Err: err})
	}
	return failures
}
