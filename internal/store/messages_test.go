package store

import (
	"context"
	"database/sql"
	"errors"
	"reflect"
	"testing"
)

func seedConversation(t *testing.T, s *Store) *Conversation {
	t.Helper()
	c, err := s.CreateConversation(context.Background(), []string{"+15551234567", "+15559876543"}, nil)
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	return c
}

func TestCreateMessage_DefaultsTimestamp(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	c := seedConversation(t, s)

	m, err := s.CreateMessage(ctx, Message{
		Sid:            "SMaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		ConversationID: c.ID,
		Direction:      DirectionOutbound,
		From:           "+15551234567",
		To:             "+15559876543",
		Body:           "hello",
		Status:         "queued",
	})
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	if m.TimestampUnixMs <= 0 {
		t.Fatalf("TimestampUnixMs=%d, want defaulted", m.TimestampUnixMs)
	}

	got, err := s.GetMessage(ctx, m.Sid)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if got == nil || got.Body != "hello" || got.Direction != DirectionOutbound {
		t.Fatalf("GetMessage=%v", got)
	}
}

func TestCreateMessage_RejectsBadDirection(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	c := seedConversation(t, s)
	_, err := s.CreateMessage(context.Background(), Message{
		Sid:            "SMbaddirection",
		ConversationID: c.ID,
		Direction:      "sideways",
		From:           "+15551234567",
		To:             "+15559876543",
	})
	if err == nil {
		t.Fatalf("expected error for invalid direction")
	}
}

func TestCreateMessage_DuplicateSidFails(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	c := seedConversation(t, s)

	m := Message{
		Sid:            "SMdup",
		ConversationID: c.ID,
		Direction:      DirectionInbound,
		From:           "+15559876543",
		To:             "+15551234567",
		Body:           "first",
	}
	if _, err := s.CreateMessage(ctx, m); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	if _, err := s.CreateMessage(ctx, m); err == nil {
		t.Fatalf("expected duplicate sid to fail")
	}
}

func TestMediaURLs_RoundTrip(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	c := seedConversation(t, s)

	urls := []string{
		"https://media.example.invalid/a.jpg",
		"https://media.example.invalid/b.jpg",
		"https://media.example.invalid/c.jpg",
	}
	if _, err := s.CreateMessage(ctx, Message{
		Sid:            "MMwithmedia",
		ConversationID: c.ID,
		Direction:      DirectionInbound,
		From:           "+15559876543",
		To:             "+15551234567",
		MediaURLs:      urls,
	}); err != nil {
		t.Fatalf("CreateMessage with media: %v", err)
	}

	got, err := s.GetMessage(ctx, "MMwithmedia")
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if !reflect.DeepEqual(got.MediaURLs, urls) {
		t.Fatalf("MediaURLs=%v, want %v in order", got.MediaURLs, urls)
	}

	if _, err := s.CreateMessage(ctx, Message{
		Sid:            "SMnomedia",
		ConversationID: c.ID,
		Direction:      DirectionInbound,
		From:           "+15559876543",
		To:             "+15551234567",
		Body:           "text only",
	}); err != nil {
		t.Fatalf("CreateMessage without media: %v", err)
	}
	got, err = s.GetMessage(ctx, "SMnomedia")
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if got.MediaURLs != nil {
		t.Fatalf("MediaURLs=%v, want absent (nil)", got.MediaURLs)
	}
}

func TestOrderingContracts(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	c := seedConversation(t, s)

	// Insert out of chronological order on purpose.
	stamps := map[string]int64{"SMt2": 2000, "SMt1": 1000, "SMt3": 3000}
	for sid, ts := range stamps {
		if _, err := s.CreateMessage(ctx, Message{
			Sid:             sid,
			ConversationID:  c.ID,
			Direction:       DirectionInbound,
			From:            "+15559876543",
			To:              "+15551234567",
			Body:            sid,
			TimestampUnixMs: ts,
		}); err != nil {
			t.Fatalf("CreateMessage %s: %v", sid, err)
		}
	}

	asc, err := s.ListConversationMessages(ctx, c.ID, 0)
	if err != nil {
		t.Fatalf("ListConversationMessages: %v", err)
	}
	if got := sids(asc); !reflect.DeepEqual(got, []string{"SMt1", "SMt2", "SMt3"}) {
		t.Fatalf("ascending order=%v", got)
	}

	desc, err := s.QueryMessages(ctx, MessageQuery{ConversationID: c.ID})
	if err != nil {
		t.Fatalf("QueryMessages: %v", err)
	}
	if got := sids(desc); !reflect.DeepEqual(got, []string{"SMt3", "SMt2", "SMt1"}) {
		t.Fatalf("descending order=%v", got)
	}
}

func TestQueryMessages_FiltersAreANDed(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	c := seedConversation(t, s)

	rows := []Message{
		{Sid: "SMa", ConversationID: c.ID, Direction: DirectionInbound, From: "+15559876543", To: "+15551234567", TimestampUnixMs: 1000},
		{Sid: "SMb", ConversationID: c.ID, Direction: DirectionOutbound, From: "+15551234567", To: "+15559876543", TimestampUnixMs: 2000},
		{Sid: "SMc", ConversationID: c.ID, Direction: DirectionInbound, From: "+15559876543", To: "+15551234567", TimestampUnixMs: 3000},
	}
	for _, m := range rows {
		if _, err := s.CreateMessage(ctx, m); err != nil {
			t.Fatalf("CreateMessage %s: %v", m.Sid, err)
		}
	}

	got, err := s.QueryMessages(ctx, MessageQuery{
		From:           "+15559876543",
		ConversationID: c.ID,
		SinceUnixMs:    2000,
	})
	if err != nil {
		t.Fatalf("QueryMessages: %v", err)
	}
	if g := sids(got); !reflect.DeepEqual(g, []string{"SMc"}) {
		t.Fatalf("filtered=%v, want [SMc]", g)
	}
}

func TestQueryMessages_DirectionFilterAppliesBeforeLimit(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	c := seedConversation(t, s)

	// One old inbound row buried under newer outbound rows. With the limit
	// applied after the direction predicate, it must still come back.
	rows := []Message{
		{Sid: "SMin", ConversationID: c.ID, Direction: DirectionInbound, From: "+15559876543", To: "+15551234567", TimestampUnixMs: 1000},
		{Sid: "SMout1", ConversationID: c.ID, Direction: DirectionOutbound, From: "+15551234567", To: "+15559876543", TimestampUnixMs: 2000},
		{Sid: "SMout2", ConversationID: c.ID, Direction: DirectionOutbound, From: "+15551234567", To: "+15559876543", TimestampUnixMs: 3000},
	}
	for _, m := range rows {
		if _, err := s.CreateMessage(ctx, m); err != nil {
			t.Fatalf("CreateMessage %s: %v", m.Sid, err)
		}
	}

	got, err := s.QueryMessages(ctx, MessageQuery{
		ConversationID: c.ID,
		Direction:      DirectionInbound,
		Limit:          2,
	})
	if err != nil {
		t.Fatalf("QueryMessages: %v", err)
	}
	if g := sids(got); !reflect.DeepEqual(g, []string{"SMin"}) {
		t.Fatalf("filtered=%v, want [SMin]", g)
	}

	if _, err := s.QueryMessages(ctx, MessageQuery{Direction: "sideways"}); err == nil {
		t.Fatalf("expected error for invalid direction filter")
	}
}

func TestUpdateMessageStatus_ClearsStaleErrors(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	c := seedConversation(t, s)

	if _, err := s.CreateMessage(ctx, Message{
		Sid:            "SMflaky",
		ConversationID: c.ID,
		Direction:      DirectionOutbound,
		From:           "+15551234567",
		To:             "+15559876543",
		Status:         "queued",
	}); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}

	if err := s.UpdateMessageStatus(ctx, "SMflaky", "failed", "30003", "Unreachable destination handset"); err != nil {
		t.Fatalf("UpdateMessageStatus failed: %v", err)
	}
	got, err := s.GetMessage(ctx, "SMflaky")
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if got.Status != "failed" || got.ErrorCode != "30003" || got.ErrorMessage != "Unreachable destination handset" {
		t.Fatalf("after failure: %+v", got)
	}

	if err := s.UpdateMessageStatus(ctx, "SMflaky", "delivered", "", ""); err != nil {
		t.Fatalf("UpdateMessageStatus delivered: %v", err)
	}
	got, err = s.GetMessage(ctx, "SMflaky")
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if got.Status != "delivered" {
		t.Fatalf("Status=%q, want delivered", got.Status)
	}
	if got.ErrorCode != "" || got.ErrorMessage != "" {
		t.Fatalf("stale error fields survived: code=%q msg=%q", got.ErrorCode, got.ErrorMessage)
	}
}

func TestUpdateMessageStatus_MissingSid(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	err := s.UpdateMessageStatus(context.Background(), "SMmissing", "delivered", "", "")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("err=%v, want sql.ErrNoRows", err)
	}
}

func TestConversationMessageCount(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	c := seedConversation(t, s)

	for i, sid := range []string{"SM1", "SM2", "MM3"} {
		dir := DirectionInbound
		if i%2 == 0 {
			dir = DirectionOutbound
		}
		if _, err := s.CreateMessage(ctx, Message{
			Sid:            sid,
			ConversationID: c.ID,
			Direction:      dir,
			From:           "+15551234567",
			To:             "+15559876543",
		}); err != nil {
			t.Fatalf("CreateMessage %s: %v", sid, err)
		}
	}

	n, err := s.ConversationMessageCount(ctx, c.ID)
	if err != nil {
		t.Fatalf("ConversationMessageCount: %v", err)
	}
	if n != 3 {
		t.Fatalf("count=%d, want 3", n)
	}
}

func sids(msgs []Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Sid)
	}
	return out
}
