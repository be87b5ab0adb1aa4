package mgo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"statusbridge/service/events"
)

func TestEventDocumentShape(t *testing.T) {
	exp := time.Date(2026, 10, 17, 13, 0, 0, 0, time.UTC)
	ev := events.StatusEvent{
		ID: "e1", Kind: events.KindSet, ChatUserID: "u", PresenceID: "42",
		Generation: 2, Text: "lunch", Emoji: "🍔", ExpiresAt: &exp, At: exp.Add(-time.Hour),
	}
	raw, err := bson.Marshal(ev)
	require.NoError(t, err)

	var doc bson.M
	require.NoError(t, bson.Unmarshal(raw, &doc))
	assert.Equal(t, "e1", doc["_id"])
	assert.Equal(t, "set", doc["kind"])
	assert.Equal(t, "u", doc["chat_user_id"])
	assert.Equal(t, int64(2), doc["generation"])
	assert.Contains(t, doc, "expires_at")

	cleared := events.StatusEvent{ID: "e2", Kind: events.KindClear, ChatUserID: "u", Generation: 2}
	raw, err = bson.Marshal(cleared)
	require.NoError(t, err)
	doc = bson.M{}
	require.NoError(t, bson.Unmarshal(raw, &doc))
	assert.NotContains(t, doc, "status_text")
	assert.NotContains(t, doc, "expires_at")
}
