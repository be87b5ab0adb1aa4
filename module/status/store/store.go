// Package store holds the durable identity mapping and status records.
//
// Every backend guarantees per-user atomicity only: Put computes the next
// generation and writes it in one step, and Clear compares the expected
// generation and writes in one step. Nothing is atomic across users.
package store

import (
	"context"
	"strconv"
	"strings"
	"time"

	"statusbridge/module/status/model"
	"statusbridge/tools/errs"
)

// IdentityStore maps chat user ids to presence ids.
type IdentityStore interface {
	// Register upserts the binding. Re-registering the same presence id
	// only touches UpdatedAt.
	Register(ctx context.Context, chatUserID, presenceID string, now time.Time) (model.Identity, error)
	// Lookup reports ok=false for an unregistered user. A non-nil error
	// means the backend could not be reached.
	Lookup(ctx context.Context, chatUserID string) (id model.Identity, ok bool, err error)
}

// RecordStore holds one StatusRecord per chat user.
type RecordStore interface {
	Get(ctx context.Context, chatUserID string) (rec model.StatusRecord, ok bool, err error)
	// Put writes c as the active status with generation prior+1 (or 1)
	// and SetAt=now.
	Put(ctx context.Context, chatUserID string, c model.Candidate, now time.Time) (model.StatusRecord, error)
	// Clear deactivates the record only if its generation equals
	// expectedGeneration. The generation itself is left unchanged.
	Clear(ctx context.Context, chatUserID string, expectedGeneration int64) (model.ClearOutcome, error)
	// AllActiveWithExpiry snapshots every active record that has an expiry.
	AllActiveWithExpiry(ctx context.Context) ([]model.StatusRecord, error)
}

// Store bundles both stores behind one backend.
type Store interface {
	IdentityStore
	RecordStore
	Close() error
}

// NormalizePresenceID validates an RC Together desk id: a positive decimal
// integer, optionally written as "desk-42" or "#42". The canonical form is
// the bare number.
func NormalizePresenceID(presenceID string) (string, error) {
	p := strings.TrimSpace(presenceID)
	if p == "" {
		return "", errs.ErrInvalidIdentity.WrapMsg("presence id is empty")
	}
	digits := strings.TrimPrefix(strings.TrimPrefix(strings.ToLower(p), "desk-"), "#")
	n, err := strconv.ParseUint(digits, 10, 64)
	if err != nil || n == 0 {
		return "", errs.ErrInvalidIdentity.WrapMsg("presence id must be a positive desk number", "presence_id", p)
	}
	return strconv.FormatUint(n, 10), nil
}

func unavailable(err error, op string) error {
	if err == nil {
		return nil
	}
	return errs.ErrStoreUnavailable.WrapMsg(op, "cause", err.Error())
}
