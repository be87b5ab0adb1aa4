package events

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"statusbridge/module/status/model"
)

type failingSink struct{ closed bool }

func (s *failingSink) Name() string { return "failing" }
func (s *failingSink) Publish(context.Context, StatusEvent) error {
	return errors.New("broker down")
}
func (s *failingSink) Close() error {
	s.closed = true
	return errors.New("close failed")
}

func TestFanoutSkipsFailingSink(t *testing.T) {
	bad := &failingSink{}
	rec := &Recorder{}
	f := NewFanout(nil, time.Second, bad, rec)

	exp := time.Date(2026, 10, 17, 13, 0, 0, 0, time.UTC)
	ev := New(KindSet, model.StatusRecord{ChatUserID: "u", Text: "lunch", Emoji: "🍔", Generation: 3, ExpiresAt: &exp, Active: true}, "42", exp.Add(-time.Hour))
	f.Emit(context.Background(), ev)

	got := rec.Events()
	require.Len(t, got, 1)
	assert.Equal(t, KindSet, got[0].Kind)
	assert.Equal(t, int64(3), got[0].Generation)
	assert.Equal(t, "42", got[0].PresenceID)
	assert.NotEmpty(t, got[0].ID)

	err := f.Close()
	assert.Error(t, err)
	assert.True(t, bad.closed)
}

func TestEventIDsAreUnique(t *testing.T) {
	a := New(KindClear, model.StatusRecord{ChatUserID: "u"}, "", time.Now())
	b := New(KindClear, model.StatusRecord{ChatUserID: "u"}, "", time.Now())
	assert.NotEqual(t, a.ID, b.ID)
}
