// Package directory owns the server-side presence directory and chat feed:
// Postgres for durable records, Redis for liveness and cross-instance event
// fan-out. Presence writes are partial-field upserts and last_seen is always
// assigned by the database in the same statement, never taken from a client
// clock.
package directory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/monitor111/pwa-chat/internal/identity"
	"github.com/monitor111/pwa-chat/internal/model"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// PresenceUpdate is a partial update: nil fields leave the stored value
// untouched. There is no full-document replacement path, so concurrent
// unrelated-field writes never regress each other.
type PresenceUpdate struct {
	Name   *string
	Online *bool
}

// UpsertPresence merges the given fields into the record for id, creating it
// if absent. last_seen is stamped with the database clock on every write so a
// fresh online flag can never carry a stale timestamp.
func (s *Store) UpsertPresence(ctx context.Context, id string, update PresenceUpdate) (model.PresenceRecord, error) {
	var record model.PresenceRecord
	row := s.pool.QueryRow(ctx, `
		INSERT INTO users (id, name, online, last_seen)
		VALUES ($1, COALESCE($2, $4), COALESCE($3, false), now())
		ON CONFLICT (id) DO UPDATE SET
			name      = COALESCE($2, users.name),
			online    = COALESCE($3, users.online),
			last_seen = now()
		RETURNING id, name, online, last_seen, created_at
	`, id, update.Name, update.Online, identity.PlaceholderName(id))
	err := row.Scan(&record.ID, &record.DisplayName, &record.Online, &record.LastSeen, &record.CreatedAt)
	return record, err
}

func (s *Store) GetPresence(ctx context.Context, id string) (model.PresenceRecord, error) {
	var record model.PresenceRecord
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, online, last_seen, created_at
		FROM users
		WHERE id = $1
	`, id)
	err := row.Scan(&record.ID, &record.DisplayName, &record.Online, &record.LastSeen, &record.CreatedAt)
	return record, err
}

func (s *Store) ListPresence(ctx context.Context) ([]model.PresenceRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, online, last_seen, created_at
		FROM users
		ORDER BY online DESC, last_seen DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []model.PresenceRecord{}
	for rows.Next() {
		var record model.PresenceRecord
		if err := rows.Scan(&record.ID, &record.DisplayName, &record.Online, &record.LastSeen, &record.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// DeletePresence destroys the record entirely. Only the full sign-out flow
// reaches this; a plain session end leaves the record in place for returning
// anonymous users.
func (s *Store) DeletePresence(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	return err
}

// MarkStaleOffline flips online=false for the given ids without touching
// last_seen, so the roster keeps showing when the client was genuinely last
// heard from. Returns the number of rows changed.
func (s *Store) MarkStaleOffline(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET online = false
		WHERE id = ANY($1) AND online = true
	`, ids)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListOnlineIDs returns the ids currently marked online in the durable
// directory; the stale sweep reconciles this set against Redis liveness.
func (s *Store) ListOnlineIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM users WHERE online = true`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) InsertMessage(ctx context.Context, chatID, from, to, text, imageURL string) (model.Message, error) {
	msg := model.Message{
		ID:       uuid.NewString(),
		ChatID:   chatID,
		From:     from,
		To:       to,
		Text:     text,
		ImageURL: imageURL,
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO messages (id, chat_id, from_id, to_id, text, image_url)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''))
		RETURNING created_at
	`, msg.ID, msg.ChatID, msg.From, msg.To, msg.Text, msg.ImageURL)
	if err := row.Scan(&msg.CreatedAt); err != nil {
		return model.Message{}, err
	}
	return msg, nil
}

func (s *Store) ListMessages(ctx context.Context, chatID string, after time.Time, limit int) ([]model.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, chat_id, from_id, to_id, COALESCE(text, ''), COALESCE(image_url, ''), created_at
		FROM messages
		WHERE chat_id = $1 AND created_at > $2
		ORDER BY created_at ASC
		LIMIT $3
	`, chatID, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []model.Message{}
	for rows.Next() {
		var msg model.Message
		if err := rows.Scan(&msg.ID, &msg.ChatID, &msg.From, &msg.To, &msg.Text, &msg.ImageURL, &msg.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}
