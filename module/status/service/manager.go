// Package service is the status lifecycle manager. It owns the flow from a
// parsed command to the stores, the expiry scheduler and the publishers.
package service

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"statusbridge/module/status/expiry"
	"statusbridge/module/status/model"
	"statusbridge/module/status/parse"
	"statusbridge/module/status/store"
	"statusbridge/service/events"
	"statusbridge/tools/clock"
	"statusbridge/tools/errs"
	"statusbridge/tools/safe"
)

// clearAttempts bounds the read/compare-and-clear loop of an explicit clear.
const clearAttempts = 3

type Options struct {
	// MaxExpiry rejects expiries further out than this. Zero disables it.
	MaxExpiry time.Duration
	// DefaultExpiry applies to status commands without an expiry. Zero
	// means such statuses never expire.
	DefaultExpiry time.Duration
	// Location resolves "until <clock>" expiries.
	Location       *time.Location
	MaxTextLen     int
	PublishTimeout time.Duration
}

type Deps struct {
	Identities store.IdentityStore
	Records    store.RecordStore
	Scheduler  *expiry.Scheduler
	Publishers []Publisher
	Events     events.Emitter
	Clock      clock.Clock
	Logger     *zap.Logger
}

type Manager struct {
	identities store.IdentityStore
	records    store.RecordStore
	sched      *expiry.Scheduler
	pubs       []Publisher
	events     events.Emitter
	clock      clock.Clock
	opts       Options
	log        *zap.Logger
}

type nopEmitter struct{}

func (nopEmitter) Emit(context.Context, events.StatusEvent) {}

func NewManager(d Deps, opts Options) *Manager {
	safe.MustNotNil(d.Identities, "identity store")
	safe.MustNotNil(d.Records, "record store")
	safe.MustNotNil(d.Scheduler, "scheduler")
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Events == nil {
		d.Events = nopEmitter{}
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 10 * time.Second
	}
	return &Manager{
		identities: d.Identities,
		records:    d.Records,
		sched:      d.Scheduler,
		pubs:       d.Publishers,
		events:     d.Events,
		clock:      d.Clock,
		opts:       opts,
		log:        d.Logger.Named("lifecycle"),
	}
}

// Location is the zone "until" expiries and replies are rendered in.
func (m *Manager) Location() *time.Location { return m.opts.Location }

func (m *Manager) MaxExpiry() time.Duration { return m.opts.MaxExpiry }

// SetResult is a status that was stored. Failures lists the platforms
// that did not take it; the record stands regardless.
type SetResult struct {
	Record   model.StatusRecord
	Identity model.Identity
	Failures []PublishFailure
}

// ClearResult reports an explicit clear. WasEmpty means there was no
// active status to clear.
type ClearResult struct {
	Record   model.StatusRecord
	WasEmpty bool
	Failures []PublishFailure
}

func (m *Manager) HandleRegister(ctx context.Context, chatUserID, presenceID string) (model.Identity, error) {
	if chatUserID == "" {
		return model.Identity{}, errs.ErrInvalidIdentity.WrapMsg("missing chat user id")
	}
	id, err := m.identities.Register(ctx, chatUserID, presenceID, m.clock.Now())
	if err != nil {
		return model.Identity{}, err
	}
	m.log.Info("registered", zap.String("user", chatUserID), zap.String("presence_id", id.PresenceID))
	return id, nil
}

func (m *Manager) HandleSetStatus(ctx context.Context, chatUserID string, req parse.StatusRequest) (SetResult, error) {
	id, err := m.mustLookup(ctx, chatUserID)
	if err != nil {
		return SetResult{}, err
	}
	now := m.clock.Now()
	cand, err := m.validate(req, now)
	if err != nil {
		return SetResult{}, err
	}

	rec, err := m.records.Put(ctx, chatUserID, cand, now)
	if err != nil {
		return SetResult{}, err
	}
	if rec.ExpiresAt != nil {
		m.sched.Arm(chatUserID, rec.Generation, *rec.ExpiresAt)
	} else {
		m.sched.CancelThrough(chatUserID, rec.Generation)
	}
	m.log.Info("status set", zap.String("user", chatUserID), zap.Int64("generation", rec.Generation), zap.Timep("expires_at", rec.ExpiresAt))

	payload := Payload{Text: rec.Text, Emoji: rec.Emoji, ExpiresAt: rec.ExpiresAt}
	failures := m.publish(ctx, "apply", id, func(ctx context.Context, p Publisher) error {
		return p.Apply(ctx, targetOf(id), payload)
	})
	m.events.Emit(ctx, events.New(events.KindSet, rec, id.PresenceID, now))
	return SetResult{Record: rec, Identity: id, Failures: failures}, nil
}

// HandleClearStatus clears the user's current status. The generation it
// clears is read right before, so only a concurrent put can make it stale;
// in that case the read and clear are retried.
func (m *Manager) HandleClearStatus(ctx context.Context, chatUserID string) (ClearResult, error) {
	id, err := m.mustLookup(ctx, chatUserID)
	if err != nil {
		return ClearResult{}, err
	}

	for attempt := 0; attempt < clearAttempts; attempt++ {
		rec, ok, err := m.records.Get(ctx, chatUserID)
		if err != nil {
			return ClearResult{}, err
		}
		if !ok || !rec.Active {
			if ok {
				m.sched.CancelThrough(chatUserID, rec.Generation)
			}
			return ClearResult{Record: rec, WasEmpty: true}, nil
		}

		out, err := m.records.Clear(ctx, chatUserID, rec.Generation)
		if err != nil {
			return ClearResult{}, err
		}
		switch out {
		case model.Stale:
			m.log.Debug("clear raced with an update, retrying", zap.String("user", chatUserID), zap.Int64("generation", rec.Generation))
			continue
		case model.AlreadyClear:
			return ClearResult{Record: rec, WasEmpty: true}, nil
		}

		m.sched.CancelThrough(chatUserID, rec.Generation)
		cleared := blank(rec)
		m.log.Info("status cleared", zap.String("user", chatUserID), zap.Int64("generation", rec.Generation))
		failures := m.publish(ctx, "clear", id, func(ctx context.Context, p Publisher) error {
			return p.Clear(ctx, targetOf(id))
		})
		m.events.Emit(ctx, events.New(events.KindClear, cleared, id.PresenceID, m.clock.Now()))
		return ClearResult{Record: cleared, Failures: failures}, nil
	}
	return ClearResult{}, errs.ErrStoreUnavailable.WrapMsg("status kept changing during clear", "user", chatUserID)
}

// HandleExpire clears the status only if it is still at generation. A
// stale or already-cleared record is left alone.
func (m *Manager) HandleExpire(ctx context.Context, chatUserID string, generation int64) (model.ClearOutcome, error) {
	out, err := m.records.Clear(ctx, chatUserID, generation)
	if err != nil {
		m.log.Error("expire failed", zap.String("user", chatUserID), zap.Int64("generation", generation), zap.Error(err))
		return out, err
	}
	if out != model.Cleared {
		m.log.Debug("expiration dropped", zap.String("user", chatUserID), zap.Int64("generation", generation), zap.Stringer("outcome", out))
		return out, nil
	}
	m.log.Info("status expired", zap.String("user", chatUserID), zap.Int64("generation", generation))

	id, ok, err := m.identities.Lookup(ctx, chatUserID)
	if err != nil || !ok {
		// the record is cleared; the publishers can still be reached by chat id
		id = model.Identity{ChatUserID: chatUserID}
	}
	m.publish(ctx, "clear", id, func(ctx context.Context, p Publisher) error {
		return p.Clear(ctx, targetOf(id))
	})
	rec := model.StatusRecord{ChatUserID: chatUserID, Generation: generation}
	m.events.Emit(ctx, events.New(events.KindExpire, rec, id.PresenceID, m.clock.Now()))
	return out, nil
}

// HandleShow returns the user's current status; ok is false when nothing
// is active.
func (m *Manager) HandleShow(ctx context.Context, chatUserID string) (model.StatusRecord, bool, error) {
	rec, ok, err := m.records.Get(ctx, chatUserID)
	if err != nil || !ok || !rec.Active {
		return rec, false, err
	}
	return rec, true, nil
}

// Recover rebuilds the scheduler from the store after a restart. Records
// already past their expiry are cleared before it returns.
func (m *Manager) Recover(ctx context.Context) error {
	recs, err := m.records.AllActiveWithExpiry(ctx)
	if err != nil {
		return err
	}
	now := m.clock.Now()
	var armed, expired int
	for _, rec := range recs {
		if rec.ExpiresAt == nil {
			continue
		}
		if rec.ExpiresAt.After(now) {
			m.sched.Arm(rec.ChatUserID, rec.Generation, *rec.ExpiresAt)
			armed++
			continue
		}
		if _, err := m.HandleExpire(ctx, rec.ChatUserID, rec.Generation); err != nil {
			return err
		}
		expired++
	}
	m.log.Info("expirations recovered", zap.Int("armed", armed), zap.Int("expired", expired))
	return nil
}

// Run consumes fired expirations with the given number of workers until
// ctx is done or the scheduler stops.
func (m *Manager) Run(ctx context.Context, workers int) error {
	if workers <= 0 {
		workers = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for {
				exp, err := m.sched.Next(ctx)
				if err != nil {
					if errors.Is(err, expiry.ErrStopped) || ctx.Err() != nil {
						return nil
					}
					return err
				}
				safe.Run("expiry-worker", func() {
					_, _ = m.HandleExpire(ctx, exp.ChatUserID, exp.Generation)
				})
			}
		})
	}
	return g.Wait()
}

func (m *Manager) mustLookup(ctx context.Context, chatUserID string) (model.Identity, error) {
	id, ok, err := m.identities.Lookup(ctx, chatUserID)
	if err != nil {
		return model.Identity{}, err
	}
	if !ok {
		return model.Identity{}, errs.ErrUnregisteredUser.WrapMsg("", "user", chatUserID)
	}
	return id, nil
}

func (m *Manager) validate(req parse.StatusRequest, now time.Time) (model.Candidate, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" && req.Emoji == "" {
		return model.Candidate{}, errs.ErrInvalidStatus.WrapMsg("status needs a text or an emoji")
	}
	if strings.ContainsAny(text, "<>") {
		return model.Candidate{}, errs.ErrInvalidStatus.WrapMsg("status text may not contain < or >")
	}
	if m.opts.MaxTextLen > 0 && utf8.RuneCountInString(text) > m.opts.MaxTextLen {
		return model.Candidate{}, errs.ErrInvalidStatus.WrapMsg("status text is too long", "max", m.opts.MaxTextLen)
	}

	c := model.Candidate{Text: text, Emoji: req.Emoji}
	switch {
	case req.Expiry != nil:
		at := req.Expiry.Resolve(now, m.opts.Location)
		if !at.After(now) {
			return model.Candidate{}, errs.ErrInvalidTimeSpec.WrapMsg("expiry is not in the future", "expiry", req.Expiry.String())
		}
		if m.opts.MaxExpiry > 0 && at.Sub(now) > m.opts.MaxExpiry {
			return model.Candidate{}, errs.ErrInvalidTimeSpec.WrapMsg("expiry is too far out", "max", m.opts.MaxExpiry.String())
		}
		at = at.UTC()
		c.ExpiresAt = &at
	case m.opts.DefaultExpiry > 0:
		at := now.Add(m.opts.DefaultExpiry).UTC()
		c.ExpiresAt = &at
	}
	return c, nil
}

func (m *Manager) publish(ctx context.Context, op string, id model.Identity, call func(ctx context.Context, p Publisher) error) []PublishFailure {
	failures := publishAll(ctx, m.pubs, m.opts.PublishTimeout, call)
	for _, f := range failures {
		m.log.Warn("publish failed", zap.String("op", op), zap.String("platform", f.Platform),
			zap.String("user", id.ChatUserID), zap.String("presence_id", id.PresenceID), zap.Error(f.Err))
	}
	return failures
}

func targetOf(id model.Identity) Target {
	return Target{ChatUserID: id.ChatUserID, PresenceID: id.PresenceID}
}

func blank(rec model.StatusRecord) model.StatusRecord {
	return model.StatusRecord{ChatUserID: rec.ChatUserID, SetAt: rec.SetAt, Generation: rec.Generation}
}
