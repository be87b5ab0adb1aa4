package status

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"statusbridge/module/status/expiry"
	"statusbridge/module/status/service"
	"statusbridge/module/status/store"
	"statusbridge/tools/clock"
	"statusbridge/tools/errs"
)

var t0 = time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

type stubPublisher struct {
	name string
	err  error
}

func (p stubPublisher) Platform() string { return p.name }

func (p stubPublisher) Apply(context.Context, service.Target, service.Payload) error { return p.err }

func (p stubPublisher) Clear(context.Context, service.Target) error { return p.err }

type stubFeedback struct {
	from, text string
	err        error
}

func (f *stubFeedback) SendFeedback(_ context.Context, from, text string) error {
	f.from, f.text = from, text
	return f.err
}

func newBot(t *testing.T, pubs ...service.Publisher) (*Bot, *stubFeedback) {
	t.Helper()
	clk := clock.Fake(t0)
	sched := expiry.New(clk)
	t.Cleanup(sched.Stop)
	st := store.NewMemStore()
	m := service.NewManager(service.Deps{
		Identities: st,
		Records:    st,
		Scheduler:  sched,
		Publishers: pubs,
		Clock:      clk,
	}, service.Options{MaxExpiry: 24 * time.Hour})
	fb := &stubFeedback{}
	return NewBot(m, fb, nil), fb
}

func TestBotConversation(t *testing.T) {
	b, _ := newBot(t)
	ctx := context.Background()

	assert.Contains(t, b.Respond(ctx, "7", "status lunch"), "register first")
	assert.Contains(t, b.Respond(ctx, "7", "register desk-42"), "**42**")
	assert.Equal(t, emptyStatus, b.Respond(ctx, "7", "show"))

	reply := b.Respond(ctx, "7", `status "lunch" 🍔 in 30m`)
	assert.Equal(t, "Status set: 🍔 lunch (until Sat 12:30 UTC)", reply)
	assert.Equal(t, "Your status: 🍔 lunch (until Sat 12:30 UTC)", b.Respond(ctx, "7", "show"))

	assert.Equal(t, "Status cleared.", b.Respond(ctx, "7", "clear"))
	assert.Equal(t, emptyStatus, b.Respond(ctx, "7", "clear"))
}

func TestBotHelp(t *testing.T) {
	b, _ := newBot(t)
	for _, text := range []string{"", "hello there", "help", "feedback"} {
		assert.Equal(t, HelpText, b.Respond(context.Background(), "7", text), text)
	}
}

func TestBotErrors(t *testing.T) {
	b, _ := newBot(t)
	ctx := context.Background()
	require.Contains(t, b.Respond(ctx, "7", "register 42"), "registered")

	cases := []struct {
		text string
		want string
	}{
		{"register room-9", "presence id must be a positive desk number"},
		{"register", "presence id is empty"},
		{"status lunch in 3 days", "expiry is too far out"},
		{"status lunch in 3 days", "at most 24h ahead"},
		{`status "lunch`, "unterminated quote"},
		{"status :sadparrot: lunch", "emoji names are not supported"},
		{"status <b>bold</b>", "may not contain < or >"},
	}
	for _, tc := range cases {
		assert.Contains(t, b.Respond(ctx, "7", tc.text), tc.want, tc.text)
	}
}

func TestBotDegradedReply(t *testing.T) {
	b, _ := newBot(t,
		stubPublisher{name: "zulip"},
		stubPublisher{name: "rctogether", err: errs.ErrForbidden.WrapMsg("desk owned by someone else")},
	)
	ctx := context.Background()
	require.Contains(t, b.Respond(ctx, "7", "register 42"), "registered")

	reply := b.Respond(ctx, "7", "status 🦀 rewriting")
	assert.Contains(t, reply, "Status set: 🦀 rewriting")
	assert.Contains(t, reply, "the RC Together update failed")
	assert.Contains(t, reply, "isn't allowed")
	assert.NotContains(t, reply, "Zulip")
}

func TestBotFeedback(t *testing.T) {
	b, fb := newBot(t)
	ctx := context.Background()

	assert.Contains(t, b.Respond(ctx, "7", "feedback love the bot"), "Thanks")
	assert.Equal(t, "7", fb.from)
	assert.Equal(t, "love the bot", fb.text)

	fb.err = errors.New("boom")
	assert.Contains(t, b.Respond(ctx, "7", "feedback again"), "could not be delivered")
}
