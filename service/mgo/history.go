// Package mgo stores every status event in a MongoDB collection so that
// past statuses survive the in-place updates of the record store.
package mgo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"statusbridge/data/database"
	"statusbridge/data/database/mgo/mongoutil"
	"statusbridge/service/events"
	"statusbridge/tools/errs"
)

var _ database.Table = (*History)(nil)

type History struct {
	client *mongoutil.Client
	coll   *mongo.Collection
}

// NewHistory connects and makes sure the lookup index exists.
func NewHistory(ctx context.Context, cfg *mongoutil.Config) (*History, error) {
	cli, err := mongoutil.NewMongoDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	h := &History{client: cli, coll: cli.GetDB().Collection(cfg.Collection)}
	if err := h.ensureIndexes(ctx); err != nil {
		_ = cli.Disconnect(ctx)
		return nil, err
	}
	return h, nil
}

func (h *History) GetTableName() string { return h.coll.Name() }

func (h *History) Collection() *mongo.Collection { return h.coll }

func (h *History) ensureIndexes(ctx context.Context) error {
	_, err := h.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "chat_user_id", Value: 1}, {Key: "at", Value: -1}},
		Options: options.Index().SetName("user_at"),
	})
	return errs.WrapMsg(err, "create history index", "collection", h.coll.Name())
}

func (h *History) Name() string { return "mongo" }

// Publish inserts the event. The event id is the document id, so a
// replayed event is ignored.
func (h *History) Publish(ctx context.Context, ev events.StatusEvent) error {
	_, err := h.coll.InsertOne(ctx, ev)
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return errs.WrapMsg(err, "insert status event", "user", ev.ChatUserID, "generation", ev.Generation)
}

// Recent returns the user's latest events, newest first.
func (h *History) Recent(ctx context.Context, chatUserID string, limit int64) ([]events.StatusEvent, error) {
	opts := options.Find().SetSort(bson.D{{Key: "at", Value: -1}}).SetLimit(limit)
	cur, err := h.coll.Find(ctx, bson.M{"chat_user_id": chatUserID}, opts)
	if err != nil {
		return nil, errs.WrapMsg(err, "find status events", "user", chatUserID)
	}
	var out []events.StatusEvent
	if err := cur.All(ctx, &out); err != nil {
		return nil, errs.WrapMsg(err, "decode status events", "user", chatUserID)
	}
	return out, nil
}

func (h *History) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return h.client.Disconnect(ctx)
}
