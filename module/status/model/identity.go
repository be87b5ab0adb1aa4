package model

import "time"

// Identity binds a chat account to a location-presence account (an RC
// Together desk).
type Identity struct {
	ChatUserID string    `bson:"chat_user_id" json:"chat_user_id"`
	PresenceID string    `bson:"presence_id" json:"presence_id"`
	CreatedAt  time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt  time.Time `bson:"updated_at" json:"updated_at"`
}
