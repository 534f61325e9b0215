package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

type Message struct {
	// Sid is the transport provider's message identifier (primary key).
	Sid string `json:"message_sid"`

	ConversationID string `json:"conversation_id"`
	Direction      string `json:"direction"`
	From           string `json:"from"`
	To             string `json:"to"`

	// Body may be empty for media-only MMS.
	Body string `json:"body"`

	// MediaURLs is nil when the message carries no attachments. Order matches
	// the attachment order as received from the transport.
	MediaURLs []string `json:"media_urls,omitempty"`

	TimestampUnixMs int64 `json:"timestamp_unix_ms"`

	// Status is the transport's free-form delivery status.
	Status string `json:"status"`

	// ErrorCode and ErrorMessage are set only on failure-class statuses.
	// Empty means absent.
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// MessageQuery filters for QueryMessages. Zero values mean "no filter".
type MessageQuery struct {
	From           string
	To             string
	ConversationID string
	Direction      string
	SinceUnixMs    int64
	Limit          int
}

// CreateMessage inserts exactly one row. Timestamp defaults to now when the
// caller does not supply one. There is no upsert; a duplicate sid is an error.
func (s *Store) CreateMessage(ctx context.Context, m Message) (*Message, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	m.Sid = strings.TrimSpace(m.Sid)
	m.ConversationID = strings.TrimSpace(m.ConversationID)
	m.Direction = strings.TrimSpace(m.Direction)
	m.From = strings.TrimSpace(m.From)
	m.To = strings.TrimSpace(m.To)
	m.Status = strings.TrimSpace(m.Status)
	m.ErrorCode = strings.TrimSpace(m.ErrorCode)
	m.ErrorMessage = strings.TrimSpace(m.ErrorMessage)

	if m.Sid == "" || m.ConversationID == "" {
		return nil, errors.New("invalid message")
	}
	switch m.Direction {
	case DirectionInbound, DirectionOutbound:
	default:
		return nil, fmt.Errorf("invalid direction %q", m.Direction)
	}
	if m.From == "" || m.To == "" {
		return nil, errors.New("missing from/to")
	}

	if m.TimestampUnixMs <= 0 {
		m.TimestampUnixMs = time.Now().UnixMilli()
	}

	mediaJSON := ""
	if len(m.MediaURLs) > 0 {
		b, err := json.Marshal(m.MediaURLs)
		if err != nil {
			return nil, fmt.Errorf("encode media urls: %w", err)
		}
		mediaJSON = string(b)
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO messages(
  message_sid, conversation_id, direction, from_number, to_number,
  body, media_urls_json, timestamp_unix_ms, status, error_code, error_message
) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		m.Sid,
		m.ConversationID,
		m.Direction,
		m.From,
		m.To,
		m.Body,
		mediaJSON,
		m.TimestampUnixMs,
		m.Status,
		m.ErrorCode,
		m.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// GetMessage returns the message for a sid, or nil when unknown.
func (s *Store) GetMessage(ctx context.Context, sid string) (*Message, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	sid = strings.TrimSpace(sid)
	if sid == "" {
		return nil, errors.New("missing message sid")
	}

	row := s.db.QueryRowContext(ctx, `
SELECT message_sid, conversation_id, direction, from_number, to_number,
       body, media_urls_json, timestamp_unix_ms, status, error_code, error_message
FROM messages
WHERE message_sid = ?
`, sid)

	m, err := scanMessage(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return m, nil
}

// ListConversationMessages returns a conversation's messages oldest-first
// (conversational reading order).
func (s *Store) ListConversationMessages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return nil, errors.New("missing conversation id")
	}
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT message_sid, conversation_id, direction, from_number, to_number,
       body, media_urls_json, timestamp_unix_ms, status, error_code, error_message
FROM messages
WHERE conversation_id = ?
ORDER BY timestamp_unix_ms ASC
LIMIT ?
`, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMessages(rows, limit)
}

// QueryMessages applies the supplied filters (AND-ed) and returns messages
// newest-first (recent-activity reading order, intentionally the reverse of
// ListConversationMessages).
func (s *Store) QueryMessages(ctx context.Context, q MessageQuery) ([]Message, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}

	where := make([]string, 0, 5)
	args := make([]any, 0, 6)
	if from := strings.TrimSpace(q.From); from != "" {
		where = append(where, "from_number = ?")
		args = append(args, from)
	}
	if to := strings.TrimSpace(q.To); to != "" {
		where = append(where, "to_number = ?")
		args = append(args, to)
	}
	if cid := strings.TrimSpace(q.ConversationID); cid != "" {
		where = append(where, "conversation_id = ?")
		args = append(args, cid)
	}
	if dir := strings.TrimSpace(q.Direction); dir != "" {
		switch dir {
		case DirectionInbound, DirectionOutbound:
		default:
			return nil, fmt.Errorf("invalid direction %q", dir)
		}
		where = append(where, "direction = ?")
		args = append(args, dir)
	}
	if q.SinceUnixMs > 0 {
		where = append(where, "timestamp_unix_ms >= ?")
		args = append(args, q.SinceUnixMs)
	}

	clause := ""
	if len(where) > 0 {
		clause = "WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
SELECT message_sid, conversation_id, direction, from_number, to_number,
       body, media_urls_json, timestamp_unix_ms, status, error_code, error_message
FROM messages
%s
ORDER BY timestamp_unix_ms DESC
LIMIT ?
`, clause), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMessages(rows, limit)
}

// UpdateMessageStatus overwrites status and unconditionally overwrites the
// error fields with the supplied values. Passing empty error fields on a
// success status therefore clears any stale error data. A missing sid
// surfaces as sql.ErrNoRows.
func (s *Store) UpdateMessageStatus(ctx context.Context, sid string, status string, errorCode string, errorMessage string) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	sid = strings.TrimSpace(sid)
	if sid == "" {
		return errors.New("missing message sid")
	}
	status = strings.TrimSpace(status)
	if status == "" {
		return errors.New("missing status")
	}

	res, err := s.db.ExecContext(ctx, `
UPDATE messages
SET status = ?, error_code = ?, error_message = ?
WHERE message_sid = ?
`, status, strings.TrimSpace(errorCode), strings.TrimSpace(errorMessage), sid)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ConversationMessageCount counts all messages linked to a conversation,
// independent of direction or status.
func (s *Store) ConversationMessageCount(ctx context.Context, conversationID string) (int, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return 0, errors.New("missing conversation id")
	}

	var n int
	if err := s.db.QueryRowContext(ctx, `
SELECT COUNT(1)
FROM messages
WHERE conversation_id = ?
`, conversationID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func collectMessages(rows *sql.Rows, capHint int) ([]Message, error) {
	out := make([]Message, 0, capHint)
	for rows.Next() {
		m, err := scanMessage(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanMessage(scan rowScanner) (*Message, error) {
	var m Message
	var mediaJSON string
	if err := scan(
		&m.Sid,
		&m.ConversationID,
		&m.Direction,
		&m.From,
		&m.To,
		&m.Body,
		&mediaJSON,
		&m.TimestampUnixMs,
		&m.Status,
		&m.ErrorCode,
		&m.ErrorMessage,
	); err != nil {
		return nil, err
	}
	if strings.TrimSpace(mediaJSON) != "" {
		if err := json.Unmarshal([]byte(mediaJSON), &m.MediaURLs); err != nil {
			return nil, fmt.Errorf("decode media urls for message %s: %w", m.Sid, err)
		}
	}
	return &m, nil
}
