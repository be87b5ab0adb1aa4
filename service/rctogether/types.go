package rctogether

import "time"

// Grid bounds of the RC Together world.
const (
	GridXMin = 0
	GridXMax = 169
	GridYMin = 0
	GridYMax = 109
)

type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type Avatar struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	ImageURL string `json:"image_url"`
}

// Desk is a block owned by an avatar that carries a status.
type Desk struct {
	ID         int64      `json:"id"`
	Type       string     `json:"type"`
	Pos        Position   `json:"pos"`
	Color      string     `json:"color"`
	Emoji      *string    `json:"emoji"`
	Status     *string    `json:"status"`
	ExpiresAt  *time.Time `json:"expires_at"`
	ProfileURL *string    `json:"profile_url"`
	Owner      *Avatar    `json:"owner"`
}

// deskFields is the "desk" object of PATCH /api/desks/:id. Nil fields are
// sent as null, which clears them.
type deskFields struct {
	Status    *string    `json:"status"`
	Emoji     *string    `json:"emoji"`
	ExpiresAt *time.Time `json:"expires_at"`
}

type updateDeskRequest struct {
	BotID string     `json:"bot_id"`
	Desk  deskFields `json:"desk"`
}

type botFields struct {
	X *int `json:"x,omitempty"`
	Y *int `json:"y,omitempty"`
}

type updateBotRequest struct {
	Bot botFields `json:"bot"`
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// surroundingPositions lists the cells around pos the bot may stand on to
// edit the desk, left and right first since desks usually sit in rows.
// Cells clamped onto the desk itself are dropped.
func surroundingPositions(pos Position) []Position {
	offsets := []Position{
		{-1, 0}, {1, 0}, // left, right
		{0, -1}, {-1, -1}, {1, -1}, // top, top-left, top-right
		{0, 1}, {-1, 1}, {1, 1}, // bottom, bottom-left, bottom-right
	}
	out := make([]Position, 0, len(offsets))
	for _, o := range offsets {
		p := Position{
			X: clamp(pos.X+o.X, GridXMin, GridXMax),
			Y: clamp(pos.Y+o.Y, GridYMin, GridYMax),
		}
		if p != pos {
			out = append(out, p)
		}
	}
	return out
}
