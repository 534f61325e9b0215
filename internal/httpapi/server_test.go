package httpapi

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relaystack/sms-mcp/internal/messaging"
	"github.com/relaystack/sms-mcp/internal/store"
	"github.com/relaystack/sms-mcp/internal/twilio"
)

const testAuthToken = "test-auth-token"

type noopTransport struct{}

func (noopTransport) Send(context.Context, string, string, string) (*twilio.Message, error) {
	return &twilio.Message{Sid: "SMnoop", Status: "queued"}, nil
}

func (noopTransport) SendWithMedia(context.Context, string, string, []string, string) (*twilio.Message, error) {
	return &twilio.Message{Sid: "MMnoop", Status: "queued"}, nil
}

func (noopTransport) Fetch(context.Context, twilio.MessageSID) (*twilio.Message, error) {
	return nil, &twilio.APIError{Code: 20404, Message: "not found", HTTPStatus: http.StatusNotFound}
}

func newTestServer(t *testing.T) (*httptest.Server, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "gateway.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	svc := messaging.NewService(st, noopTransport{}, messaging.Options{
		FromNumber:              "+15550001111",
		AutoCreateConversations: true,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	srv := NewServer(svc, testAuthToken, "", slog.New(slog.NewTextHandler(io.Discard, nil)))
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, st
}

// postSigned sends a form POST carrying a signature computed the way the
// provider would compute it.
func postSigned(t *testing.T, ts *httptest.Server, path string, params map[string]string) *http.Response {
	t.Helper()
	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}
	req, err := http.NewRequest(http.MethodPost, ts.URL+path, strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Twilio-Signature", twilio.ComputeSignature(testAuthToken, ts.URL+path, params))

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func TestHealth(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t)

	resp, err := ts.Client().Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `"status":"ok"`)
	require.Contains(t, string(body), `"service":"sms-mcp"`)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t)

	resp, err := ts.Client().Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestInboundSMS_StoresMessageAndThreads(t *testing.T) {
	t.Parallel()
	ts, st := newTestServer(t)

	params := map[string]string{
		"MessageSid": "SMinbound001",
		"From":       "+15551234567",
		"To":         "+15550001111",
		"Body":       "hello there",
		"NumMedia":   "0",
	}
	resp := postSigned(t, ts, "/webhooks/twilio/sms", params)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/xml", resp.Header.Get("Content-Type"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, emptyTwiML, string(body))

	msg, err := st.GetMessage(context.Background(), "SMinbound001")
	require.NoError(t, err)
	require.NotNil(t, msg)
	require.Equal(t, store.DirectionInbound, msg.Direction)
	require.Equal(t, "hello there", msg.Body)
	require.NotEmpty(t, msg.ConversationID)

	conv, err := st.GetConversation(context.Background(), msg.ConversationID)
	require.NoError(t, err)
	require.NotNil(t, conv)
	require.ElementsMatch(t, []string{"+15551234567", "+15550001111"}, conv.Participants)
}

func TestInboundSMS_CollectsMedia(t *testing.T) {
	t.Parallel()
	ts, st := newTestServer(t)

	params := map[string]string{
		"MessageSid": "MMinbound001",
		"From":       "+15551234567",
		"To":         "+15550001111",
		"Body":       "see attached",
		"NumMedia":   "2",
		"MediaUrl0":  "https://media.example.com/a.jpg",
		"MediaUrl1":  "https://media.example.com/b.jpg",
	}
	resp := postSigned(t, ts, "/webhooks/twilio/sms", params)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	msg, err := st.GetMessage(context.Background(), "MMinbound001")
	require.NoError(t, err)
	require.NotNil(t, msg)
	require.Equal(t, []string{
		"https://media.example.com/a.jpg",
		"https://media.example.com/b.jpg",
	}, msg.MediaURLs)
}

func TestInboundSMS_RejectsBadSignature(t *testing.T) {
	t.Parallel()
	ts, st := newTestServer(t)

	form := url.Values{}
	form.Set("MessageSid", "SMforged001")
	form.Set("From", "+15551234567")
	form.Set("To", "+15550001111")
	form.Set("Body", "forged")

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/webhooks/twilio/sms", strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Twilio-Signature", "bm90IGEgcmVhbCBzaWduYXR1cmU=")

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Nothing was stored.
	msg, err := st.GetMessage(context.Background(), "SMforged001")
	require.NoError(t, err)
	require.Nil(t, msg)
}

func TestInboundSMS_RejectsMissingSignature(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t)

	resp, err := ts.Client().PostForm(ts.URL+"/webhooks/twilio/sms", url.Values{
		"MessageSid": {"SMnosig001"},
		"From":       {"+15551234567"},
		"To":         {"+15550001111"},
	})
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestInboundSMS_MissingFields(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t)

	resp := postSigned(t, ts, "/webhooks/twilio/sms", map[string]string{
		"From": "+15551234567",
		"To":   "+15550001111",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatusCallback_UpdatesStoredMessage(t *testing.T) {
	t.Parallel()
	ts, st := newTestServer(t)

	conv, err := st.CreateConversation(context.Background(), []string{"+15551234567", "+15550001111"}, nil)
	require.NoError(t, err)
	_, err = st.CreateMessage(context.Background(), store.Message{
		Sid:            "SMoutbound001",
		ConversationID: conv.ID,
		Direction:      store.DirectionOutbound,
		From:           "+15550001111",
		To:             "+15551234567",
		Body:           "on its way",
		Status:         "queued",
	})
	require.NoError(t, err)

	resp := postSigned(t, ts, "/webhooks/twilio/status", map[string]string{
		"MessageSid":    "SMoutbound001",
		"MessageStatus": "delivered",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	msg, err := st.GetMessage(context.Background(), "SMoutbound001")
	require.NoError(t, err)
	require.Equal(t, "delivered", msg.Status)
}

func TestStatusCallback_RecordsFailureDetails(t *testing.T) {
	t.Parallel()
	ts, st := newTestServer(t)

	conv, err := st.CreateConversation(context.Background(), []string{"+15551234567", "+15550001111"}, nil)
	require.NoError(t, err)
	_, err = st.CreateMessage(context.Background(), store.Message{
		Sid:            "SMoutbound002",
		ConversationID: conv.ID,
		Direction:      store.DirectionOutbound,
		From:           "+15550001111",
		To:             "+15551234567",
		Body:           "doomed",
		Status:         "queued",
	})
	require.NoError(t, err)

	resp := postSigned(t, ts, "/webhooks/twilio/status", map[string]string{
		"MessageSid":    "SMoutbound002",
		"MessageStatus": "failed",
		"ErrorCode":     "30003",
		"ErrorMessage":  "Unreachable destination handset",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	msg, err := st.GetMessage(context.Background(), "SMoutbound002")
	require.NoError(t, err)
	require.Equal(t, "failed", msg.Status)
	require.Equal(t, "30003", msg.ErrorCode)
	require.Equal(t, "Unreachable destination handset", msg.ErrorMessage)
}

func TestStatusCallback_UnknownSidAcknowledged(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t)

	resp := postSigned(t, ts, "/webhooks/twilio/status", map[string]string{
		"MessageSid":    "SMnevereheard",
		"MessageStatus": "delivered",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatusCallback_MissingFields(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t)

	resp := postSigned(t, ts, "/webhooks/twilio/status", map[string]string{
		"MessageSid": "SMoutbound001",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
