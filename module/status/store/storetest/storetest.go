// Package storetest runs the same behavioural checks against every store
// backend.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"statusbridge/module/status/model"
	"statusbridge/module/status/store"
	"statusbridge/tools/errs"
)

// Factory returns an empty store. Each subtest gets its own.
type Factory func(t *testing.T) store.Store

var base = time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)

// Run executes the suite.
func Run(t *testing.T, newStore Factory) {
	t.Run("RegisterIsIdempotentUpsert", func(t *testing.T) { testRegister(t, newStore(t)) })
	t.Run("RegisterRejectsMalformed", func(t *testing.T) { testRegisterInvalid(t, newStore(t)) })
	t.Run("GenerationIsGapless", func(t *testing.T) { testGenerations(t, newStore(t)) })
	t.Run("ConcurrentPutsLoseNothing", func(t *testing.T) { testConcurrentPuts(t, newStore(t)) })
	t.Run("ClearChecksGeneration", func(t *testing.T) { testClear(t, newStore(t)) })
	t.Run("ActiveWithExpirySnapshot", func(t *testing.T) { testActiveWithExpiry(t, newStore(t)) })
}

func testRegister(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, ok, err := s.Lookup(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	first, err := s.Register(ctx, "u1", " 42 ", base)
	require.NoError(t, err)
	assert.Equal(t, "42", first.PresenceID)

	second, err := s.Register(ctx, "u1", "42", base.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, first.PresenceID, second.PresenceID)
	assert.True(t, first.CreatedAt.Equal(second.CreatedAt), "created_at survives re-registration")
	assert.True(t, second.UpdatedAt.Equal(base.Add(time.Minute)))

	rebound, err := s.Register(ctx, "u1", "77", base.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "77", rebound.PresenceID)

	aliased, err := s.Register(ctx, "u2", "desk-042", base)
	require.NoError(t, err)
	assert.Equal(t, "42", aliased.PresenceID)

	got, ok, err := s.Lookup(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "77", got.PresenceID)
}

func testRegisterInvalid(t *testing.T, s store.Store) {
	ctx := context.Background()
	for _, bad := range []string{"", "   ", "desk-", "desk 42", "0", "-3", "4.2", "room-42"} {
		_, err := s.Register(ctx, "u1", bad, base)
		assert.True(t, errors.Is(err, errs.ErrInvalidIdentity), "presence id %q", bad)
	}
	_, ok, err := s.Lookup(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok, "failed registration leaves no binding")
}

func testGenerations(t *testing.T, s store.Store) {
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		rec, err := s.Put(ctx, "u1", model.Candidate{Text: fmt.Sprintf("s%d", i)}, base.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		assert.Equal(t, int64(i), rec.Generation)
		assert.True(t, rec.Active)
	}

	// A clear doesn't consume a generation; the next put continues the count.
	out, err := s.Clear(ctx, "u1", 5)
	require.NoError(t, err)
	assert.Equal(t, model.Cleared, out)

	rec, err := s.Put(ctx, "u1", model.Candidate{Text: "again"}, base.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(6), rec.Generation)

	got, ok, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(6), got.Generation)
	assert.Equal(t, "again", got.Text)
}

func testConcurrentPuts(t *testing.T, s store.Store) {
	ctx := context.Background()
	const n = 20

	var wg sync.WaitGroup
	gens := make(chan int64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec, err := s.Put(ctx, "u1", model.Candidate{Text: fmt.Sprintf("s%d", i)}, base)
			if assert.NoError(t, err) {
				gens <- rec.Generation
			}
		}(i)
	}
	wg.Wait()
	close(gens)

	seen := make(map[int64]bool)
	for g := range gens {
		assert.False(t, seen[g], "generation %d handed out twice", g)
		seen[g] = true
	}
	assert.Len(t, seen, n)

	got, _, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(n), got.Generation)
}

func testClear(t *testing.T, s store.Store) {
	ctx := context.Background()

	out, err := s.Clear(ctx, "nobody", 1)
	require.NoError(t, err)
	assert.Equal(t, model.Stale, out, "clearing a missing record is stale")

	exp := base.Add(30 * time.Minute)
	_, err = s.Put(ctx, "u1", model.Candidate{Text: "lunch", Emoji: "🍔", ExpiresAt: &exp}, base)
	require.NoError(t, err)
	_, err = s.Put(ctx, "u1", model.Candidate{Text: "pairing", Emoji: "🍐", ExpiresAt: &exp}, base)
	require.NoError(t, err)

	out, err = s.Clear(ctx, "u1", 1)
	require.NoError(t, err)
	assert.Equal(t, model.Stale, out, "older generation never clears")

	got, _, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, got.Active)
	assert.Equal(t, "pairing", got.Text)

	out, err = s.Clear(ctx, "u1", 2)
	require.NoError(t, err)
	assert.Equal(t, model.Cleared, out)

	got, _, err = s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, got.Active)
	assert.Empty(t, got.Text)
	assert.Empty(t, got.Emoji)
	assert.Nil(t, got.ExpiresAt)
	assert.Equal(t, int64(2), got.Generation)

	out, err = s.Clear(ctx, "u1", 2)
	require.NoError(t, err)
	assert.Equal(t, model.AlreadyClear, out)

	out, err = s.Clear(ctx, "u1", 3)
	require.NoError(t, err)
	assert.Equal(t, model.Stale, out, "future generation is stale too")
}

func testActiveWithExpiry(t *testing.T, s store.Store) {
	ctx := context.Background()
	past := base.Add(-5 * time.Second)
	future := base.Add(time.Hour)

	_, err := s.Put(ctx, "a", model.Candidate{Text: "old", ExpiresAt: &past}, base.Add(-time.Minute))
	require.NoError(t, err)
	_, err = s.Put(ctx, "b", model.Candidate{Text: "later", ExpiresAt: &future}, base)
	require.NoError(t, err)
	_, err = s.Put(ctx, "c", model.Candidate{Text: "gone", ExpiresAt: &future}, base)
	require.NoError(t, err)
	_, err = s.Clear(ctx, "c", 1)
	require.NoError(t, err)
	_, err = s.Put(ctx, "d", model.Candidate{Text: "forever"}, base)
	require.NoError(t, err)
	// e had an expiry, then was replaced by a status without one.
	_, err = s.Put(ctx, "e", model.Candidate{Text: "brief", ExpiresAt: &future}, base)
	require.NoError(t, err)
	_, err = s.Put(ctx, "e", model.Candidate{Text: "open ended"}, base)
	require.NoError(t, err)

	recs, err := s.AllActiveWithExpiry(ctx)
	require.NoError(t, err)

	users := make([]string, 0, len(recs))
	for _, r := range recs {
		users = append(users, r.ChatUserID)
		require.NotNil(t, r.ExpiresAt)
	}
	assert.ElementsMatch(t, []string{"a", "b"}, users)
}
