// Package events carries status changes to whatever wants to hear about
// them: the history collection, NATS, Kafka.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"statusbridge/module/status/model"
)

type Kind string

const (
	KindSet    Kind = "set"
	KindClear  Kind = "clear"
	KindExpire Kind = "expire"
)

type StatusEvent struct {
	ID         string     `json:"id" bson:"_id"`
	Kind       Kind       `json:"kind" bson:"kind"`
	ChatUserID string     `json:"chat_user_id" bson:"chat_user_id"`
	PresenceID string     `json:"presence_id,omitempty" bson:"presence_id,omitempty"`
	Generation int64      `json:"generation" bson:"generation"`
	Text       string     `json:"status_text,omitempty" bson:"status_text,omitempty"`
	Emoji      string     `json:"emoji,omitempty" bson:"emoji,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty" bson:"expires_at,omitempty"`
	At         time.Time  `json:"at" bson:"at"`
}

// New describes rec as it stands after a mutation of the given kind.
func New(kind Kind, rec model.StatusRecord, presenceID string, at time.Time) StatusEvent {
	return StatusEvent{
		ID:         uuid.NewString(),
		Kind:       kind,
		ChatUserID: rec.ChatUserID,
		PresenceID: presenceID,
		Generation: rec.Generation,
		Text:       rec.Text,
		Emoji:      rec.Emoji,
		ExpiresAt:  rec.ExpiresAt,
		At:         at.UTC(),
	}
}

// Sink is one destination for events.
type Sink interface {
	Name() string
	Publish(ctx context.Context, ev StatusEvent) error
	Close() error
}

// Emitter is what the lifecycle manager sees.
type Emitter interface {
	Emit(ctx context.Context, ev StatusEvent)
}

// Fanout hands every event to each sink in turn. A failing sink is logged
// and skipped.
type Fanout struct {
	sinks   []Sink
	timeout time.Duration
	log     *zap.Logger
}

func NewFanout(log *zap.Logger, timeout time.Duration, sinks ...Sink) *Fanout {
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Fanout{sinks: sinks, timeout: timeout, log: log.Named("events")}
}

func (f *Fanout) Len() int { return len(f.sinks) }

func (f *Fanout) Emit(ctx context.Context, ev StatusEvent) {
	for _, s := range f.sinks {
		cctx, cancel := context.WithTimeout(ctx, f.timeout)
		err := s.Publish(cctx, ev)
		cancel()
		if err != nil {
			f.log.Warn("event publish failed",
				zap.String("sink", s.Name()), zap.String("kind", string(ev.Kind)),
				zap.String("user", ev.ChatUserID), zap.Int64("generation", ev.Generation), zap.Error(err))
		}
	}
}

func (f *Fanout) Close() error {
	var err error
	for _, s := range f.sinks {
		err = multierr.Append(err, s.Close())
	}
	return err
}

// Recorder keeps events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []StatusEvent
}

func (r *Recorder) Name() string { return "recorder" }

func (r *Recorder) Publish(_ context.Context, ev StatusEvent) error {
	r.Emit(context.Background(), ev)
	return nil
}

func (r *Recorder) Emit(_ context.Context, ev StatusEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *Recorder) Close() error { return nil }

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []StatusEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]StatusEvent(nil), r.events...)
}
