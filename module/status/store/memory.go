package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"statusbridge/module/status/model"
)

// MemStore keeps everything in process memory. It satisfies the same
// per-user atomicity as the durable backends but forgets everything on
// restart; use it for development and tests.
type MemStore struct {
	mu         sync.RWMutex
	identities map[string]model.Identity
	records    map[string]model.StatusRecord
}

func NewMemStore() *MemStore {
	return &MemStore{
		identities: make(map[string]model.Identity),
		records:    make(map[string]model.StatusRecord),
	}
}

func (m *MemStore) Register(_ context.Context, chatUserID, presenceID string, now time.Time) (model.Identity, error) {
	p, err := NormalizePresenceID(presenceID)
	if err != nil {
		return model.Identity{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.identities[chatUserID]
	if !ok {
		id = model.Identity{ChatUserID: chatUserID, CreatedAt: now}
	}
	id.PresenceID = p
	id.UpdatedAt = now
	m.identities[chatUserID] = id
	return id, nil
}

func (m *MemStore) Lookup(_ context.Context, chatUserID string) (model.Identity, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.identities[chatUserID]
	return id, ok, nil
}

func (m *MemStore) Get(_ context.Context, chatUserID string) (model.StatusRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[chatUserID]
	return copyRecord(rec), ok, nil
}

func (m *MemStore) Put(_ context.Context, chatUserID string, c model.Candidate, now time.Time) (model.StatusRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prior := m.records[chatUserID]
	rec := model.StatusRecord{
		ChatUserID: chatUserID,
		Text:       c.Text,
		Emoji:      c.Emoji,
		SetAt:      now,
		ExpiresAt:  copyTime(c.ExpiresAt),
		Generation: prior.Generation + 1,
		Active:     true,
	}
	m.records[chatUserID] = rec
	return copyRecord(rec), nil
}

func (m *MemStore) Clear(_ context.Context, chatUserID string, expectedGeneration int64) (model.ClearOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[chatUserID]
	switch {
	case !ok || rec.Generation != expectedGeneration:
		return model.Stale, nil
	case !rec.Active:
		return model.AlreadyClear, nil
	}
	rec.Active = false
	rec.Text = ""
	rec.Emoji = ""
	rec.ExpiresAt = nil
	m.records[chatUserID] = rec
	return model.Cleared, nil
}

func (m *MemStore) AllActiveWithExpiry(_ context.Context) ([]model.StatusRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.StatusRecord
	for _, rec := range m.records {
		if rec.HasExpiry() {
			out = append(out, copyRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChatUserID < out[j].ChatUserID })
	return out, nil
}

func (m *MemStore) Close() error { return nil }

// copyRecord detaches the ExpiresAt pointer from the map entry.
func copyRecord(rec model.StatusRecord) model.StatusRecord {
	rec.ExpiresAt = copyTime(rec.ExpiresAt)
	return rec
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
