package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	ConversationActive   = "active"
	ConversationArchived = "archived"
)

type Conversation struct {
	ID string `json:"id"`

	// Participants is the participant set in canonical (sorted) order.
	Participants []string `json:"participants"`

	CreatedAtUnixMs    int64 `json:"created_at_unix_ms"`
	LastActivityUnixMs int64 `json:"last_activity_unix_ms"`

	// Metadata is an open key->value map, fully replaced (never merged) on update.
	Metadata map[string]any `json:"metadata"`

	Status string `json:"status"`
}

// CreateConversation always inserts a new row with a fresh id. It never
// checks for an existing conversation with the same participant set; callers
// wanting find-or-create semantics use FindOrCreateConversation.
func (s *Store) CreateConversation(ctx context.Context, participants []string, metadata map[string]any) (*Conversation, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	key := ParticipantsKey(participants)
	if len(splitParticipantsKey(key)) < 2 {
		return nil, errors.New("conversation requires at least 2 participants")
	}

	if metadata == nil {
		metadata = map[string]any{}
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}

	now := time.Now().UnixMilli()
	c := &Conversation{
		ID:                 uuid.NewString(),
		Participants:       splitParticipantsKey(key),
		CreatedAtUnixMs:    now,
		LastActivityUnixMs: now,
		Metadata:           metadata,
		Status:             ConversationActive,
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO conversations(id, participants_key, created_at_unix_ms, last_activity_unix_ms, metadata_json, status)
VALUES(?, ?, ?, ?, ?, ?)
`, c.ID, key, c.CreatedAtUnixMs, c.LastActivityUnixMs, string(metaJSON), c.Status)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// FindByParticipants returns the active conversation for the given participant
// set, or nil when none exists. If duplicate rows exist for the same set, the
// most recently active one wins.
func (s *Store) FindByParticipants(ctx context.Context, participants []string) (*Conversation, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	key := ParticipantsKey(participants)
	if key == "" {
		return nil, errors.New("missing participants")
	}

	row := s.db.QueryRowContext(ctx, `
SELECT id, participants_key, created_at_unix_ms, last_activity_unix_ms, metadata_json, status
FROM conversations
WHERE participants_key = ? AND status = ?
ORDER BY last_activity_unix_ms DESC
LIMIT 1
`, key, ConversationActive)
	return scanConversation(row)
}

// GetConversation returns the conversation regardless of status (active or
// archived), or nil when the id is unknown.
func (s *Store) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("missing conversation id")
	}

	row := s.db.QueryRowContext(ctx, `
SELECT id, participants_key, created_at_unix_ms, last_activity_unix_ms, metadata_json, status
FROM conversations
WHERE id = ?
`, id)
	return scanConversation(row)
}

// TouchConversation sets last_activity to now. A missing id surfaces as
// sql.ErrNoRows rather than a silent no-op, so orphaned-id bugs show up.
func (s *Store) TouchConversation(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("missing conversation id")
	}

	res, err := s.db.ExecContext(ctx, `
UPDATE conversations
SET last_activity_unix_ms = ?
WHERE id = ?
`, time.Now().UnixMilli(), id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// UpdateConversationMetadata replaces the metadata map wholesale.
func (s *Store) UpdateConversationMetadata(ctx context.Context, id string, metadata map[string]any) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("missing conversation id")
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
UPDATE conversations
SET metadata_json = ?
WHERE id = ?
`, string(metaJSON), id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ArchiveConversation removes the conversation from participant-based lookup.
// It stays retrievable by id. There is no un-archive; a later message for the
// same participants starts a fresh conversation.
func (s *Store) ArchiveConversation(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("missing conversation id")
	}

	res, err := s.db.ExecContext(ctx, `
UPDATE conversations
SET status = ?
WHERE id = ?
`, ConversationArchived, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListActiveConversations returns active conversations ordered by
// last_activity descending.
func (s *Store) ListActiveConversations(ctx context.Context, limit int) ([]Conversation, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, participants_key, created_at_unix_ms, last_activity_unix_ms, metadata_json, status
FROM conversations
WHERE status = ?
ORDER BY last_activity_unix_ms DESC
LIMIT ?
`, ConversationActive, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Conversation, 0, limit)
	for rows.Next() {
		c, err := scanConversationRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// FindOrCreateConversation resolves the conversation for a participant set
// inside a single transaction, so two racing callers for a never-before-seen
// pair cannot both insert. The bool reports whether a new row was created.
func (s *Store) FindOrCreateConversation(ctx context.Context, participants []string, metadata map[string]any) (*Conversation, bool, error) {
	if s == nil || s.db == nil {
		return nil, false, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	key := ParticipantsKey(participants)
	if len(splitParticipantsKey(key)) < 2 {
		return nil, false, errors.New("conversation requires at least 2 participants")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
SELECT id, participants_key, created_at_unix_ms, last_activity_unix_ms, metadata_json, status
FROM conversations
WHERE participants_key = ? AND status = ?
ORDER BY last_activity_unix_ms DESC
LIMIT 1
`, key, ConversationActive)
	existing, err := scanConversation(row)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, tx.Commit()
	}

	if metadata == nil {
		metadata = map[string]any{}
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, false, fmt.Errorf("encode metadata: %w", err)
	}

	now := time.Now().UnixMilli()
	c := &Conversation{
		ID:                 uuid.NewString(),
		Participants:       splitParticipantsKey(key),
		CreatedAtUnixMs:    now,
		LastActivityUnixMs: now,
		Metadata:           metadata,
		Status:             ConversationActive,
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO conversations(id, participants_key, created_at_unix_ms, last_activity_unix_ms, metadata_json, status)
VALUES(?, ?, ?, ?, ?, ?)
`, c.ID, key, c.CreatedAtUnixMs, c.LastActivityUnixMs, string(metaJSON), c.Status); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return c, true, nil
}

type rowScanner func(dest ...any) error

func scanConversation(row *sql.Row) (*Conversation, error) {
	c, err := scanConversationRow(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return c, nil
}

func scanConversationRow(scan rowScanner) (*Conversation, error) {
	var c Conversation
	var key string
	var metaJSON string
	if err := scan(&c.ID, &key, &c.CreatedAtUnixMs, &c.LastActivityUnixMs, &metaJSON, &c.Status); err != nil {
		return nil, err
	}
	c.Participants = splitParticipantsKey(key)
	c.Metadata = map[string]any{}
	if strings.TrimSpace(metaJSON) != "" {
		if err := json.Unmarshal([]byte(metaJSON), &c.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata for conversation %s: %w", c.ID, err)
		}
	}
	return &c, nil
}
