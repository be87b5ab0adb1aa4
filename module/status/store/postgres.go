package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"statusbridge/module/status/model"
)

// Postgres stores identities and status records in two tables (see
// service/storage/postgres for the schema). The upsert and the
// generation-guarded update each run as a single statement, so Postgres'
// row lock linearizes concurrent commands for the same user.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

const recordColumns = `chat_user_id, status_text, emoji, set_at, expires_at, generation, active`

func (p *Postgres) Register(ctx context.Context, chatUserID, presenceID string, now time.Time) (model.Identity, error) {
	pid, err := NormalizePresenceID(presenceID)
	if err != nil {
		return model.Identity{}, err
	}

	var id model.Identity
	err = p.pool.QueryRow(ctx, `
		INSERT INTO identities (chat_user_id, presence_id, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (chat_user_id) DO UPDATE
			SET presence_id = EXCLUDED.presence_id, updated_at = EXCLUDED.updated_at
		RETURNING chat_user_id, presence_id, created_at, updated_at`,
		chatUserID, pid, now.UTC(),
	).Scan(&id.ChatUserID, &id.PresenceID, &id.CreatedAt, &id.UpdatedAt)
	if err != nil {
		return model.Identity{}, unavailable(err, "register identity")
	}
	return id, nil
}

func (p *Postgres) Lookup(ctx context.Context, chatUserID string) (model.Identity, bool, error) {
	var id model.Identity
	err := p.pool.QueryRow(ctx, `
		SELECT chat_user_id, presence_id, created_at, updated_at
		FROM identities WHERE chat_user_id = $1`, chatUserID,
	).Scan(&id.ChatUserID, &id.PresenceID, &id.CreatedAt, &id.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Identity{}, false, nil
	}
	if err != nil {
		return model.Identity{}, false, unavailable(err, "lookup identity")
	}
	return id, true, nil
}

func (p *Postgres) Get(ctx context.Context, chatUserID string) (model.StatusRecord, bool, error) {
	rec, err := scanRecord(p.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM status_records WHERE chat_user_id = $1`, chatUserID))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.StatusRecord{}, false, nil
	}
	if err != nil {
		return model.StatusRecord{}, false, unavailable(err, "get status")
	}
	return rec, true, nil
}

func (p *Postgres) Put(ctx context.Context, chatUserID string, c model.Candidate, now time.Time) (model.StatusRecord, error) {
	rec, err := scanRecord(p.pool.QueryRow(ctx, `
		INSERT INTO status_records AS r (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, 1, TRUE)
		ON CONFLICT (chat_user_id) DO UPDATE SET
			status_text = EXCLUDED.status_text,
			emoji       = EXCLUDED.emoji,
			set_at      = EXCLUDED.set_at,
			expires_at  = EXCLUDED.expires_at,
			generation  = r.generation + 1,
			active      = TRUE
		RETURNING `+recordColumns,
		chatUserID, c.Text, c.Emoji, now.UTC(), utcPtr(c.ExpiresAt)))
	if err != nil {
		return model.StatusRecord{}, unavailable(err, "put status")
	}
	return rec, nil
}

func (p *Postgres) Clear(ctx context.Context, chatUserID string, expectedGeneration int64) (model.ClearOutcome, error) {
	tag, err := p.pool.Exec(ctx, `
		UPDATE status_records
		SET active = FALSE, status_text = '', emoji = '', expires_at = NULL
		WHERE chat_user_id = $1 AND generation = $2 AND active`,
		chatUserID, expectedGeneration)
	if err != nil {
		return model.Stale, unavailable(err, "clear status")
	}
	if tag.RowsAffected() == 1 {
		return model.Cleared, nil
	}

	// Nothing changed: tell a no-op on an inactive row apart from a
	// superseded generation.
	var (
		gen    int64
		active bool
	)
	err = p.pool.QueryRow(ctx,
		`SELECT generation, active FROM status_records WHERE chat_user_id = $1`, chatUserID,
	).Scan(&gen, &active)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Stale, nil
	}
	if err != nil {
		return model.Stale, unavailable(err, "clear status")
	}
	if gen == expectedGeneration && !active {
		return model.AlreadyClear, nil
	}
	return model.Stale, nil
}

func (p *Postgres) AllActiveWithExpiry(ctx context.Context) ([]model.StatusRecord, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+recordColumns+` FROM status_records
		WHERE active AND expires_at IS NOT NULL
		ORDER BY chat_user_id`)
	if err != nil {
		return nil, unavailable(err, "scan pending statuses")
	}
	defer rows.Close()

	var out []model.StatusRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, unavailable(err, "scan pending statuses")
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err, "scan pending statuses")
	}
	return out, nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func scanRecord(row pgx.Row) (model.StatusRecord, error) {
	var (
		rec     model.StatusRecord
		expires *time.Time
	)
	err := row.Scan(&rec.ChatUserID, &rec.Text, &rec.Emoji, &rec.SetAt, &expires, &rec.Generation, &rec.Active)
	if err != nil {
		return model.StatusRecord{}, err
	}
	rec.ExpiresAt = expires
	return rec, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
