package rctogether

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"statusbridge/module/status/service"
	"statusbridge/tools/clock"
	"statusbridge/tools/errs"
)

var t0 = time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

type fakeRC struct {
	t *testing.T

	mu       sync.Mutex
	deskGets int
	blocked  map[Position]bool
	bot      Position
	moves    []Position
	patches  []map[string]any
	deskCode int
	desks    []Desk
}

func (f *fakeRC) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/api/desks":
		f.deskGets++
		_ = json.NewEncoder(w).Encode(f.desks)
	case r.Method == http.MethodPatch && r.URL.Path == "/api/bots/7":
		var req struct {
			Bot Position `json:"bot"`
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &req)
		f.moves = append(f.moves, req.Bot)
		if f.blocked[req.Bot] {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"errors":["Must not be in a block"]}`))
			return
		}
		f.bot = req.Bot
		_, _ = w.Write([]byte(`{"id":7}`))
	case r.Method == http.MethodPatch && r.URL.Path == "/api/desks/42":
		var req map[string]any
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &req)
		f.patches = append(f.patches, req)
		if f.deskCode != 0 {
			w.WriteHeader(f.deskCode)
			return
		}
		_, _ = w.Write([]byte(`{"id":42,"type":"Desk","pos":{"x":10,"y":20}}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newFake(t *testing.T) (*fakeRC, *Client, *clock.FakeClock) {
	t.Helper()
	f := &fakeRC{t: t, blocked: map[Position]bool{}, desks: []Desk{{ID: 42, Type: "Desk", Pos: Position{X: 10, Y: 20}}}}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	clk := clock.Fake(t0)
	c := New(Config{Site: srv.URL, AppID: "app", AppSecret: "secret", BotID: "7", DeskCacheTTL: time.Minute}, clk, nil)
	return f, c, clk
}

func TestSurroundingPositions(t *testing.T) {
	got := surroundingPositions(Position{X: 10, Y: 20})
	assert.Equal(t, []Position{
		{9, 20}, {11, 20},
		{10, 19}, {9, 19}, {11, 19},
		{10, 21}, {9, 21}, {11, 21},
	}, got)

	corner := surroundingPositions(Position{X: GridXMin, Y: GridYMax})
	for _, p := range corner {
		assert.NotEqual(t, Position{X: GridXMin, Y: GridYMax}, p)
		assert.True(t, p.X >= GridXMin && p.X <= GridXMax && p.Y >= GridYMin && p.Y <= GridYMax)
	}
}

func TestApplyWalksToFreeCell(t *testing.T) {
	f, c, _ := newFake(t)
	f.blocked[Position{9, 20}] = true
	f.blocked[Position{11, 20}] = true

	exp := t0.Add(30 * time.Minute)
	err := c.Apply(context.Background(), service.Target{ChatUserID: "u", PresenceID: "42"}, service.Payload{Text: "lunch", Emoji: "🍔", ExpiresAt: &exp})
	require.NoError(t, err)

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, []Position{{9, 20}, {11, 20}, {10, 19}}, f.moves)
	assert.Equal(t, Position{10, 19}, f.bot)
	require.Len(t, f.patches, 1)
	assert.Equal(t, "7", f.patches[0]["bot_id"])
	desk := f.patches[0]["desk"].(map[string]any)
	assert.Equal(t, "lunch", desk["status"])
	assert.Equal(t, "🍔", desk["emoji"])
	assert.Equal(t, "2026-10-17T12:30:00Z", desk["expires_at"])
}

func TestApplyWithoutExpiryUsesMaximum(t *testing.T) {
	f, c, _ := newFake(t)
	require.NoError(t, c.Apply(context.Background(), service.Target{PresenceID: "42"}, service.Payload{Text: "around"}))

	f.mu.Lock()
	defer f.mu.Unlock()
	desk := f.patches[0]["desk"].(map[string]any)
	assert.Equal(t, "2026-10-18T12:00:00Z", desk["expires_at"])
	assert.Nil(t, desk["emoji"])
}

func TestClearSendsNulls(t *testing.T) {
	f, c, _ := newFake(t)
	require.NoError(t, c.Clear(context.Background(), service.Target{PresenceID: "42"}))

	f.mu.Lock()
	defer f.mu.Unlock()
	desk := f.patches[0]["desk"].(map[string]any)
	assert.Contains(t, desk, "status")
	assert.Nil(t, desk["status"])
	assert.Nil(t, desk["emoji"])
	assert.Nil(t, desk["expires_at"])
}

func TestDeskCache(t *testing.T) {
	f, c, clk := newFake(t)
	ctx := context.Background()

	_, err := c.Desk(ctx, 42)
	require.NoError(t, err)
	_, err = c.Desk(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, 1, f.deskGets)

	clk.Advance(time.Minute)
	_, err = c.Desk(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, 2, f.deskGets)

	_, err = c.Desk(ctx, 99)
	assert.True(t, errors.Is(err, errs.ErrNotFound))
	assert.Equal(t, 3, f.deskGets, "a missing desk forces one refresh")
}

func TestErrors(t *testing.T) {
	ctx := context.Background()

	f, c, _ := newFake(t)
	f.deskCode = http.StatusForbidden
	err := c.Apply(ctx, service.Target{PresenceID: "42"}, service.Payload{Text: "x"})
	assert.True(t, errors.Is(err, errs.ErrForbidden), err)

	err = c.Apply(ctx, service.Target{PresenceID: "not-a-desk"}, service.Payload{Text: "x"})
	assert.True(t, errors.Is(err, errs.ErrNotFound), err)

	f2, c2, _ := newFake(t)
	for _, p := range surroundingPositions(Position{10, 20}) {
		f2.blocked[p] = true
	}
	err = c2.Clear(ctx, service.Target{PresenceID: "42"})
	assert.True(t, errors.Is(err, errs.ErrPublisherFailure), err)
	assert.False(t, errors.Is(err, errs.ErrNotFound))
}
