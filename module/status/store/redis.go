package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"statusbridge/module/status/model"
)

// 原子写入：KEYS[1]=status hash; KEYS[2]=pending set
// ARGV[1]=text ARGV[2]=emoji ARGV[3]=set_at ms ARGV[4]=expires_at ms or "" ARGV[5]=user
// 返回新的 generation
var luaPut = redis.NewScript(`
  local k = KEYS[1]
  local pending = KEYS[2]
  local gen = redis.call('HINCRBY', k, 'generation', 1)
  redis.call('HSET', k, 'text', ARGV[1], 'emoji', ARGV[2], 'set_at', ARGV[3], 'expires_at', ARGV[4], 'active', '1')
  if ARGV[4] ~= '' then
    redis.call('SADD', pending, ARGV[5])
  else
    redis.call('SREM', pending, ARGV[5])
  end
  return gen
`)

// 条件清除：KEYS[1]=status hash; KEYS[2]=pending set
// ARGV[1]=expected generation ARGV[2]=user
// 返回 0 cleared / 1 already clear / 2 stale
var luaClear = redis.NewScript(`
  local k = KEYS[1]
  local pending = KEYS[2]
  local gen = redis.call('HGET', k, 'generation')
  if not gen or tonumber(gen) ~= tonumber(ARGV[1]) then
    return 2
  end
  if redis.call('HGET', k, 'active') ~= '1' then
    return 1
  end
  redis.call('HSET', k, 'active', '0', 'text', '', 'emoji', '', 'expires_at', '')
  redis.call('SREM', pending, ARGV[2])
  return 0
`)

// Redis keeps one hash per identity and per status record plus a set of
// users whose active status carries an expiry. Put and Clear are Lua
// scripts, so each runs atomically on the server.
type Redis struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedis(rdb redis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = "statusbridge:"
	}
	return &Redis{rdb: rdb, prefix: prefix}
}

func (r *Redis) identityKey(user string) string { return r.prefix + "identity:" + user }
func (r *Redis) statusKey(user string) string   { return r.prefix + "status:" + user }
func (r *Redis) pendingKey() string             { return r.prefix + "status:pending" }

func (r *Redis) Register(ctx context.Context, chatUserID, presenceID string, now time.Time) (model.Identity, error) {
	pid, err := NormalizePresenceID(presenceID)
	if err != nil {
		return model.Identity{}, err
	}

	key := r.identityKey(chatUserID)
	ms := strconv.FormatInt(now.UnixMilli(), 10)
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, key, "created_at", ms)
		pipe.HSet(ctx, key, "presence_id", pid, "updated_at", ms)
		return nil
	})
	if err != nil {
		return model.Identity{}, unavailable(err, "register identity")
	}

	id, _, err := r.Lookup(ctx, chatUserID)
	return id, err
}

func (r *Redis) Lookup(ctx context.Context, chatUserID string) (model.Identity, bool, error) {
	m, err := r.rdb.HGetAll(ctx, r.identityKey(chatUserID)).Result()
	if err != nil {
		return model.Identity{}, false, unavailable(err, "lookup identity")
	}
	if len(m) == 0 {
		return model.Identity{}, false, nil
	}
	return model.Identity{
		ChatUserID: chatUserID,
		PresenceID: m["presence_id"],
		CreatedAt:  parseMillis(m["created_at"]),
		UpdatedAt:  parseMillis(m["updated_at"]),
	}, true, nil
}

func (r *Redis) Get(ctx context.Context, chatUserID string) (model.StatusRecord, bool, error) {
	m, err := r.rdb.HGetAll(ctx, r.statusKey(chatUserID)).Result()
	if err != nil {
		return model.StatusRecord{}, false, unavailable(err, "get status")
	}
	if len(m) == 0 {
		return model.StatusRecord{}, false, nil
	}
	rec, err := decodeRecord(chatUserID, m)
	if err != nil {
		return model.StatusRecord{}, false, unavailable(err, "get status")
	}
	return rec, true, nil
}

func (r *Redis) Put(ctx context.Context, chatUserID string, c model.Candidate, now time.Time) (model.StatusRecord, error) {
	expires := ""
	if c.ExpiresAt != nil {
		expires = strconv.FormatInt(c.ExpiresAt.UnixMilli(), 10)
	}
	gen, err := luaPut.Run(ctx, r.rdb,
		[]string{r.statusKey(chatUserID), r.pendingKey()},
		c.Text, c.Emoji, now.UnixMilli(), expires, chatUserID,
	).Int64()
	if err != nil {
		return model.StatusRecord{}, unavailable(err, "put status")
	}

	rec := model.StatusRecord{
		ChatUserID: chatUserID,
		Text:       c.Text,
		Emoji:      c.Emoji,
		SetAt:      time.UnixMilli(now.UnixMilli()).UTC(),
		Generation: gen,
		Active:     true,
	}
	if c.ExpiresAt != nil {
		t := time.UnixMilli(c.ExpiresAt.UnixMilli()).UTC()
		rec.ExpiresAt = &t
	}
	return rec, nil
}

func (r *Redis) Clear(ctx context.Context, chatUserID string, expectedGeneration int64) (model.ClearOutcome, error) {
	res, err := luaClear.Run(ctx, r.rdb,
		[]string{r.statusKey(chatUserID), r.pendingKey()},
		expectedGeneration, chatUserID,
	).Int64()
	if err != nil {
		return model.Stale, unavailable(err, "clear status")
	}
	switch res {
	case 0:
		return model.Cleared, nil
	case 1:
		return model.AlreadyClear, nil
	case 2:
		return model.Stale, nil
	default:
		return model.Stale, unavailable(fmt.Errorf("unknown clear result %d", res), "clear status")
	}
}

func (r *Redis) AllActiveWithExpiry(ctx context.Context) ([]model.StatusRecord, error) {
	users, err := r.rdb.SMembers(ctx, r.pendingKey()).Result()
	if err != nil {
		return nil, unavailable(err, "scan pending statuses")
	}
	if len(users) == 0 {
		return nil, nil
	}
	sort.Strings(users)

	cmds := make([]*redis.MapStringStringCmd, len(users))
	_, err = r.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, u := range users {
			cmds[i] = pipe.HGetAll(ctx, r.statusKey(u))
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, unavailable(err, "scan pending statuses")
	}

	var out []model.StatusRecord
	for i, cmd := range cmds {
		m, err := cmd.Result()
		if err != nil || len(m) == 0 {
			continue
		}
		rec, err := decodeRecord(users[i], m)
		if err != nil {
			return nil, unavailable(err, "scan pending statuses")
		}
		if rec.HasExpiry() {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *Redis) Close() error { return r.rdb.Close() }

func decodeRecord(user string, m map[string]string) (model.StatusRecord, error) {
	gen, err := strconv.ParseInt(m["generation"], 10, 64)
	if err != nil {
		return model.StatusRecord{}, fmt.Errorf("status %s: bad generation %q", user, m["generation"])
	}
	rec := model.StatusRecord{
		ChatUserID: user,
		Text:       m["text"],
		Emoji:      m["emoji"],
		SetAt:      parseMillis(m["set_at"]),
		Generation: gen,
		Active:     m["active"] == "1",
	}
	if v := m["expires_at"]; v != "" {
		t := parseMillis(v)
		rec.ExpiresAt = &t
	}
	return rec, nil
}

func parseMillis(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
