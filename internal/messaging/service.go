// Package messaging is the conversation-threading orchestrator. Both entry
// points (the outbound tool-call path and the inbound webhook path) resolve a
// participant pair to a conversation, persist the message against it, and
// touch the conversation's activity through this service.
package messaging

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/relaystack/sms-mcp/internal/store"
	"github.com/relaystack/sms-mcp/internal/twilio"
)

// Transport is the outbound provider boundary. Implemented by twilio.Client.
type Transport interface {
	Send(ctx context.Context, to string, body string, from string) (*twilio.Message, error)
	SendWithMedia(ctx context.Context, to string, body string, mediaURLs []string, from string) (*twilio.Message, error)
	Fetch(ctx context.Context, sid twilio.MessageSID) (*twilio.Message, error)
}

type Options struct {
	// FromNumber is the default outbound sender when a request does not name one.
	FromNumber string

	// AutoCreateConversations controls step 3 of the threading sequence: when
	// false, an outbound send for an unknown participant pair is a hard error
	// and an inbound message is silently accepted without storage.
	AutoCreateConversations bool

	// MMSEnabled gates media sends before any network call.
	MMSEnabled bool
}

type Service struct {
	store     *store.Store
	transport Transport
	opts      Options
	logger    *slog.Logger
}

func NewService(st *store.Store, transport Transport, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, transport: transport, opts: opts, logger: logger}
}

type SendRequest struct {
	To   string
	Body string

	// From is optional; the configured default sender applies when empty.
	From string

	// ConversationID pins the message to an explicit conversation instead of
	// resolving by participants.
	ConversationID string

	// MediaURLs turns the send into an MMS; requires the MMS policy flag.
	MediaURLs []string
}

type SendResult struct {
	MessageSid     string
	Status         string
	To             string
	From           string
	ConversationID string
	Timestamp      time.Time
}

// Send runs the outbound threading sequence: resolve the conversation, call
// the transport, persist the message, touch conversation activity.
func (s *Service) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	from := req.From
	if from == "" {
		from = s.opts.FromNumber
	}

	if len(req.MediaURLs) > 0 && !s.opts.MMSEnabled {
		return nil, ErrMMSDisabled
	}

	conv, err := s.resolveOutbound(ctx, req.ConversationID, from, req.To)
	if err != nil {
		return nil, err
	}

	var sent *twilio.Message
	if len(req.MediaURLs) > 0 {
		sent, err = s.transport.SendWithMedia(ctx, req.To, req.Body, req.MediaURLs, from)
	} else {
		sent, err = s.transport.Send(ctx, req.To, req.Body, from)
	}
	if err != nil {
		// Transport errors propagate unchanged; nothing is persisted.
		return nil, err
	}

	msg, err := s.store.CreateMessage(ctx, store.Message{
		Sid:            sent.Sid,
		ConversationID: conv.ID,
		Direction:      store.DirectionOutbound,
		From:           from,
		To:             req.To,
		Body:           req.Body,
		MediaURLs:      req.MediaURLs,
		Status:         sent.Status,
	})
	if err != nil {
		return nil, err
	}
	if err := s.store.TouchConversation(ctx, conv.ID); err != nil {
		return nil, err
	}

	s.logger.Info("outbound message sent",
		"sid", msg.Sid, "conversation_id", conv.ID, "status", msg.Status)

	return &SendResult{
		MessageSid:     msg.Sid,
		Status:         msg.Status,
		To:             msg.To,
		From:           msg.From,
		ConversationID: conv.ID,
		Timestamp:      time.UnixMilli(msg.TimestampUnixMs),
	}, nil
}

func (s *Service) resolveOutbound(ctx context.Context, conversationID string, from string, to string) (*store.Conversation, error) {
	if conversationID != "" {
		conv, err := s.store.GetConversation(ctx, conversationID)
		if err != nil {
			return nil, err
		}
		if conv == nil {
			return nil, conversationNotFound(conversationID)
		}
		return conv, nil
	}

	participants := []string{from, to}
	if s.opts.AutoCreateConversations {
		conv, created, err := s.store.FindOrCreateConversation(ctx, participants, nil)
		if err != nil {
			return nil, err
		}
		if created {
			s.logger.Info("conversation auto-created", "conversation_id", conv.ID)
		}
		return conv, nil
	}

	conv, err := s.store.FindByParticipants(ctx, participants)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, ErrAutoCreateDisabled
	}
	return conv, nil
}

type InboundMessage struct {
	Sid       string
	From      string
	To        string
	Body      string
	MediaURLs []string
}

// RecordInbound runs the webhook-side threading sequence. When auto-create is
// disabled and no conversation exists for the pair, the message is accepted
// without storage (stored=false) so the webhook can still acknowledge the
// provider; failing back would trigger provider-side retries.
func (s *Service) RecordInbound(ctx context.Context, in InboundMessage) (msg *store.Message, stored bool, err error) {
	participants := []string{in.From, in.To}

	var conv *store.Conversation
	if s.opts.AutoCreateConversations {
		var created bool
		conv, created, err = s.store.FindOrCreateConversation(ctx, participants, map[string]any{
			"source":       "inbound_sms",
			"firstMessage": in.Body,
		})
		if err != nil {
			return nil, false, err
		}
		if created {
			s.logger.Info("conversation auto-created from inbound message", "conversation_id", conv.ID)
		}
	} else {
		conv, err = s.store.FindByParticipants(ctx, participants)
		if err != nil {
			return nil, false, err
		}
		if conv == nil {
			s.logger.Warn("inbound message dropped: no conversation and auto-create disabled",
				"sid", in.Sid, "from", in.From)
			return nil, false, nil
		}
	}

	msg, err = s.store.CreateMessage(ctx, store.Message{
		Sid:            in.Sid,
		ConversationID: conv.ID,
		Direction:      store.DirectionInbound,
		From:           in.From,
		To:             in.To,
		Body:           in.Body,
		MediaURLs:      in.MediaURLs,
		Status:         "received",
	})
	if err != nil {
		return nil, false, err
	}
	if err := s.store.TouchConversation(ctx, conv.ID); err != nil {
		return nil, false, err
	}

	s.logger.Info("inbound message recorded", "sid", msg.Sid, "conversation_id", conv.ID)
	return msg, true, nil
}

// UpdateDeliveryStatus applies a provider status callback to the stored
// message. Error fields are always overwritten, so a success status clears
// stale error data.
func (s *Service) UpdateDeliveryStatus(ctx context.Context, sid string, status string, errorCode string, errorMessage string) error {
	err := s.store.UpdateMessageStatus(ctx, sid, status, errorCode, errorMessage)
	if errors.Is(err, sql.ErrNoRows) {
		return messageNotFound(sid)
	}
	return err
}

// CreateConversation always creates a fresh conversation (no dedup).
func (s *Service) CreateConversation(ctx context.Context, participants []string, metadata map[string]any) (*store.Conversation, error) {
	return s.store.CreateConversation(ctx, participants, metadata)
}

// ThreadContext is the optional context block of a conversation thread.
// Summarization stays a reserved flag; this is activity metadata only.
type ThreadContext struct {
	MessageCount int
	LastActivity time.Time
	Status       string
}

type Thread struct {
	Conversation *store.Conversation
	Messages     []store.Message
	Context      *ThreadContext
}

// ConversationThread returns a conversation with its messages in
// conversational (oldest-first) order.
func (s *Service) ConversationThread(ctx context.Context, conversationID string, includeContext bool) (*Thread, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, conversationNotFound(conversationID)
	}

	msgs, err := s.store.ListConversationMessages(ctx, conv.ID, 0)
	if err != nil {
		return nil, err
	}

	th := &Thread{Conversation: conv, Messages: msgs}
	if includeContext {
		n, err := s.store.ConversationMessageCount(ctx, conv.ID)
		if err != nil {
			return nil, err
		}
		th.Context = &ThreadContext{
			MessageCount: n,
			LastActivity: time.UnixMilli(conv.LastActivityUnixMs),
			Status:       conv.Status,
		}
	}
	return th, nil
}

type InboundQuery struct {
	From           string
	To             string
	ConversationID string
	Since          time.Time
	Limit          int
}

// InboundMessages returns stored inbound messages newest-first. The direction
// predicate runs inside the store query so the limit counts inbound rows only;
// outbound traffic in the same conversation never crowds them out.
func (s *Service) InboundMessages(ctx context.Context, q InboundQuery) ([]store.Message, error) {
	var sinceMs int64
	if !q.Since.IsZero() {
		sinceMs = q.Since.UnixMilli()
	}
	return s.store.QueryMessages(ctx, store.MessageQuery{
		From:           q.From,
		To:             q.To,
		ConversationID: q.ConversationID,
		Direction:      store.DirectionInbound,
		SinceUnixMs:    sinceMs,
		Limit:          q.Limit,
	})
}

type MessageStatus struct {
	MessageSid   string
	Status       string
	ErrorCode    string
	ErrorMessage string
	Timestamp    time.Time
	To           string
	From         string
}

// Status reports a message's delivery state. The local store is checked
// first; unknown sids fall through to a live transport fetch.
func (s *Service) Status(ctx context.Context, sid twilio.MessageSID) (*MessageStatus, error) {
	local, err := s.store.GetMessage(ctx, sid.Value)
	if err != nil {
		return nil, err
	}
	if local != nil {
		return &MessageStatus{
			MessageSid:   local.Sid,
			Status:       local.Status,
			ErrorCode:    local.ErrorCode,
			ErrorMessage: local.ErrorMessage,
			Timestamp:    time.UnixMilli(local.TimestampUnixMs),
			To:           local.To,
			From:         local.From,
		}, nil
	}

	remote, err := s.transport.Fetch(ctx, sid)
	if err != nil {
		var apiErr *twilio.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatus == 404 {
			return nil, messageNotFound(sid.Value)
		}
		return nil, err
	}

	out := &MessageStatus{
		MessageSid: remote.Sid,
		Status:     remote.Status,
		To:         remote.To,
		From:       remote.From,
	}
	if remote.ErrorCode != nil {
		out.ErrorCode = strconv.Itoa(*remote.ErrorCode)
	}
	if remote.ErrorMessage != nil {
		out.ErrorMessage = *remote.ErrorMessage
	}
	// The provider's date header can be absent or malformed; the lookup time
	// is the best remaining estimate, and callers rely on a timestamp being set.
	out.Timestamp = time.Now().UTC()
	if ts, err := time.Parse(time.RFC1123Z, remote.DateUpdated); err == nil {
		out.Timestamp = ts
	}
	return out, nil
}
