package model

import "time"

// StatusRecord is the authoritative current status of one chat user.
// Rows are never deleted; a cleared status keeps its generation with
// Active=false and the text, emoji and expiry blanked.
type StatusRecord struct {
	ChatUserID string     `bson:"chat_user_id" json:"chat_user_id"`
	Text       string     `bson:"status_text" json:"status_text"`
	Emoji      string     `bson:"emoji" json:"emoji"`
	SetAt      time.Time  `bson:"set_at" json:"set_at"`
	ExpiresAt  *time.Time `bson:"expires_at,omitempty" json:"expires_at,omitempty"`
	Generation int64      `bson:"generation" json:"generation"`
	Active     bool       `bson:"active" json:"active"`
}

// HasExpiry reports whether the record is active and carries an expiry.
func (r StatusRecord) HasExpiry() bool {
	return r.Active && r.ExpiresAt != nil
}

// Candidate is a validated status about to be written.
type Candidate struct {
	Text      string
	Emoji     string
	ExpiresAt *time.Time
}

// ClearOutcome is the result of a generation-checked clear.
type ClearOutcome int

const (
	// Cleared: the generation matched and the record went inactive.
	Cleared ClearOutcome = iota
	// AlreadyClear: the generation matched but the record was already
	// inactive. Clearing twice is harmless.
	AlreadyClear
	// Stale: no record, or the stored generation differs.
	Stale
)

func (o ClearOutcome) String() string {
	switch o {
	case Cleared:
		return "cleared"
	case AlreadyClear:
		return "already_clear"
	case Stale:
		return "stale"
	default:
		return "unknown"
	}
}
