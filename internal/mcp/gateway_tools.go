package mcp

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/relaystack/sms-mcp/internal/messaging"
	"github.com/relaystack/sms-mcp/internal/store"
	"github.com/relaystack/sms-mcp/internal/twilio"
)

const maxMessageLen = 1600

// RegisterGatewayTools binds the SMS gateway tool surface to the server.
func RegisterGatewayTools(s *Server, svc *messaging.Service) error {
	tools := []Tool{
		{
			Name:        "send_sms",
			Description: "Send an SMS message to a phone number. Optionally pin it to an existing conversation.",
			InputSchema: map[string]any{"type": "object", "properties": map[string]any{
				"to":             map[string]any{"type": "string", "description": "Recipient phone number (E.164)"},
				"message":        map[string]any{"type": "string", "minLength": 1, "maxLength": maxMessageLen},
				"from":           map[string]any{"type": "string", "description": "Sender phone number (E.164); defaults to the configured number"},
				"conversationId": map[string]any{"type": "string", "format": "uuid"},
			}, "required": []string{"to", "message"}, "additionalProperties": false},
			Handler: sendSMSHandler(svc),
		},
		{
			Name:        "send_mms",
			Description: "Send an MMS with media attachments. Requires MMS to be enabled for the gateway.",
			InputSchema: map[string]any{"type": "object", "properties": map[string]any{
				"to":             map[string]any{"type": "string", "description": "Recipient phone number (E.164)"},
				"message":        map[string]any{"type": "string", "maxLength": maxMessageLen},
				"mediaUrls":      map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "minItems": 1, "maxItems": 10},
				"from":           map[string]any{"type": "string"},
				"conversationId": map[string]any{"type": "string", "format": "uuid"},
			}, "required": []string{"to", "mediaUrls"}, "additionalProperties": false},
			Handler: sendMMSHandler(svc),
		},
		{
			Name:        "get_inbound_messages",
			Description: "List received messages, newest first, with optional filters.",
			InputSchema: map[string]any{"type": "object", "properties": map[string]any{
				"from":           map[string]any{"type": "string"},
				"to":             map[string]any{"type": "string"},
				"conversationId": map[string]any{"type": "string", "format": "uuid"},
				"since":          map[string]any{"type": "string", "format": "date-time"},
				"limit":          map[string]any{"type": "integer", "minimum": 1, "maximum": 1000},
			}, "additionalProperties": false},
			Handler: inboundMessagesHandler(svc),
		},
		{
			Name:        "create_conversation",
			Description: "Create a new conversation for a set of phone-number participants.",
			InputSchema: map[string]any{"type": "object", "properties": map[string]any{
				"participants": map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "minItems": 2},
				"metadata":     map[string]any{"type": "object"},
			}, "required": []string{"participants"}, "additionalProperties": false},
			Handler: createConversationHandler(svc),
		},
		{
			Name:        "get_conversation_thread",
			Description: "Fetch a conversation's messages in chronological order, optionally with activity context.",
			InputSchema: map[string]any{"type": "object", "properties": map[string]any{
				"conversationId": map[string]any{"type": "string", "format": "uuid"},
				"includeContext": map[string]any{"type": "boolean", "default": false},
			}, "required": []string{"conversationId"}, "additionalProperties": false},
			Handler: conversationThreadHandler(svc),
		},
		{
			Name:        "get_message_status",
			Description: "Look up the delivery status of a message by its SM/MM sid.",
			InputSchema: map[string]any{"type": "object", "properties": map[string]any{
				"messageSid": map[string]any{"type": "string", "description": "Provider message sid, prefix SM or MM"},
			}, "required": []string{"messageSid"}, "additionalProperties": false},
			Handler: messageStatusHandler(svc),
		},
	}

	for _, t := range tools {
		if err := s.Register(t); err != nil {
			return err
		}
	}
	return nil
}

func sendSMSHandler(svc *messaging.Service) ToolHandler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		to, err := requirePhone(args, "to")
		if err != nil {
			return nil, err
		}
		body, ok := stringArg(args, "message")
		if !ok || body == "" {
			return nil, invalid("message", "required, 1-1600 characters")
		}
		if n := utf8.RuneCountInString(body); n > maxMessageLen {
			return nil, invalid("message", fmt.Sprintf("too long (%d > %d characters)", n, maxMessageLen))
		}
		from, err := optionalPhone(args, "from")
		if err != nil {
			return nil, err
		}
		conversationID, err := optionalUUID(args, "conversationId")
		if err != nil {
			return nil, err
		}

		res, err := svc.Send(ctx, messaging.SendRequest{
			To:             to,
			Body:           body,
			From:           from,
			ConversationID: conversationID,
		})
		if err != nil {
			return nil, err
		}
		return sendResultPayload(res), nil
	}
}

func sendMMSHandler(svc *messaging.Service) ToolHandler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		to, err := requirePhone(args, "to")
		if err != nil {
			return nil, err
		}
		mediaURLs, ok := stringSliceArg(args, "mediaUrls")
		if !ok || len(mediaURLs) == 0 {
			return nil, invalid("mediaUrls", "required, 1-10 urls")
		}
		if len(mediaURLs) > 10 {
			return nil, invalid("mediaUrls", "at most 10 urls")
		}
		body, _ := stringArg(args, "message")
		if n := utf8.RuneCountInString(body); n > maxMessageLen {
			return nil, invalid("message", fmt.Sprintf("too long (%d > %d characters)", n, maxMessageLen))
		}
		from, err := optionalPhone(args, "from")
		if err != nil {
			return nil, err
		}
		conversationID, err := optionalUUID(args, "conversationId")
		if err != nil {
			return nil, err
		}

		res, err := svc.Send(ctx, messaging.SendRequest{
			To:             to,
			Body:           body,
			From:           from,
			ConversationID: conversationID,
			MediaURLs:      mediaURLs,
		})
		if err != nil {
			return nil, err
		}
		return sendResultPayload(res), nil
	}
}

func inboundMessagesHandler(svc *messaging.Service) ToolHandler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		from, err := optionalPhone(args, "from")
		if err != nil {
			return nil, err
		}
		to, err := optionalPhone(args, "to")
		if err != nil {
			return nil, err
		}
		conversationID, err := optionalUUID(args, "conversationId")
		if err != nil {
			return nil, err
		}
		since, err := optionalTime(args, "since")
		if err != nil {
			return nil, err
		}
		limit, err := limitArg(args, "limit", 50, 1000)
		if err != nil {
			return nil, err
		}

		msgs, err := svc.InboundMessages(ctx, messaging.InboundQuery{
			From:           from,
			To:             to,
			ConversationID: conversationID,
			Since:          since,
			Limit:          limit,
		})
		if err != nil {
			return nil, err
		}

		payload := make([]map[string]any, 0, len(msgs))
		for _, m := range msgs {
			payload = append(payload, messagePayload(m))
		}
		return map[string]any{"messages": payload, "totalCount": len(payload)}, nil
	}
}

func createConversationHandler(svc *messaging.Service) ToolHandler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		participants, ok := stringSliceArg(args, "participants")
		if !ok || len(participants) < 2 {
			return nil, invalid("participants", "required, at least 2 phone numbers")
		}
		for _, p := range participants {
			if !twilio.ValidPhoneNumber(p) {
				return nil, invalid("participants", fmt.Sprintf("%q is not E.164", p))
			}
		}
		metadata, _ := objectArg(args, "metadata")

		conv, err := svc.CreateConversation(ctx, participants, metadata)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"conversationId": conv.ID,
			"participants":   conv.Participants,
			"createdAt":      isoTime(conv.CreatedAtUnixMs),
			"metadata":       conv.Metadata,
		}, nil
	}
}

func conversationThreadHandler(svc *messaging.Service) ToolHandler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		conversationID, err := requireUUID(args, "conversationId")
		if err != nil {
			return nil, err
		}
		includeContext, _ := boolArg(args, "includeContext")

		th, err := svc.ConversationThread(ctx, conversationID, includeContext)
		if err != nil {
			return nil, err
		}

		msgs := make([]map[string]any, 0, len(th.Messages))
		for _, m := range th.Messages {
			msgs = append(msgs, messagePayload(m))
		}
		out := map[string]any{
			"conversationId": th.Conversation.ID,
			"participants":   th.Conversation.Participants,
			"messages":       msgs,
		}
		if th.Context != nil {
			out["context"] = map[string]any{
				"messageCount": th.Context.MessageCount,
				"lastActivity": th.Context.LastActivity.UTC().Format(time.RFC3339),
				"status":       th.Context.Status,
			}
		}
		return out, nil
	}
}

func messageStatusHandler(svc *messaging.Service) ToolHandler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		raw, ok := stringArg(args, "messageSid")
		if !ok || raw == "" {
			return nil, invalid("messageSid", "required")
		}
		sid, err := twilio.ParseMessageSID(raw)
		if err != nil {
			return nil, invalid("messageSid", err.Error())
		}

		st, err := svc.Status(ctx, sid)
		if err != nil {
			return nil, err
		}
		out := map[string]any{
			"messageSid": st.MessageSid,
			"status":     st.Status,
			"to":         st.To,
			"timestamp":  st.Timestamp.UTC().Format(time.RFC3339),
		}
		if st.From != "" {
			out["from"] = st.From
		}
		if st.ErrorCode != "" {
			out["errorCode"] = st.ErrorCode
		}
		if st.ErrorMessage != "" {
			out["errorMessage"] = st.ErrorMessage
		}
		return out, nil
	}
}

func sendResultPayload(res *messaging.SendResult) map[string]any {
	return map[string]any{
		"messageSid":     res.MessageSid,
		"status":         res.Status,
		"to":             res.To,
		"from":           res.From,
		"conversationId": res.ConversationID,
		"timestamp":      res.Timestamp.UTC().Format(time.RFC3339),
	}
}

func messagePayload(m store.Message) map[string]any {
	out := map[string]any{
		"messageSid":     m.Sid,
		"conversationId": m.ConversationID,
		"direction":      m.Direction,
		"from":           m.From,
		"to":             m.To,
		"body":           m.Body,
		"timestamp":      isoTime(m.TimestampUnixMs),
		"status":         m.Status,
	}
	if len(m.MediaURLs) > 0 {
		out["mediaUrls"] = m.MediaURLs
	}
	if m.ErrorCode != "" {
		out["errorCode"] = m.ErrorCode
	}
	if m.ErrorMessage != "" {
		out["errorMessage"] = m.ErrorMessage
	}
	return out
}

func isoTime(unixMs int64) string {
	return time.UnixMilli(unixMs).UTC().Format(time.RFC3339)
}
