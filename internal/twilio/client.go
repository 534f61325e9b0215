// Package twilio is a minimal REST client for the provider Messages API,
// plus webhook signature validation and sid parsing.
package twilio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.twilio.com"

// Message is the provider's message resource, as returned by the Messages API.
type Message struct {
	Sid          string  `json:"sid"`
	AccountSid   string  `json:"account_sid"`
	To           string  `json:"to"`
	From         string  `json:"from"`
	Body         string  `json:"body"`
	Status       string  `json:"status"`
	Direction    string  `json:"direction"`
	NumMedia     string  `json:"num_media"`
	ErrorCode    *int    `json:"error_code"`
	ErrorMessage *string `json:"error_message"`
	DateCreated  string  `json:"date_created"`
	DateUpdated  string  `json:"date_updated"`
	DateSent     string  `json:"date_sent"`
}

// ListFilters narrows a message list request. Zero values mean "no filter".
type ListFilters struct {
	To        string
	From      string
	SentAfter time.Time
	PageSize  int
}

// APIError is a provider error response (code/message/status).
type APIError struct {
	Code       int    `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"status"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("twilio: %s (code %d, http %d)", e.Message, e.Code, e.HTTPStatus)
}

type Client struct {
	accountSID string
	authToken  string
	baseURL    string
	httpClient *http.Client
}

func NewClient(accountSID string, authToken string) (*Client, error) {
	accountSID = strings.TrimSpace(accountSID)
	authToken = strings.TrimSpace(authToken)
	if accountSID == "" || authToken == "" {
		return nil, errors.New("missing account sid or auth token")
	}
	return &Client{
		accountSID: accountSID,
		authToken:  authToken,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// SetBaseURL overrides the API endpoint. Used by tests.
func (c *Client) SetBaseURL(base string) {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base != "" {
		c.baseURL = base
	}
}

// Send creates an outbound SMS.
func (c *Client) Send(ctx context.Context, to string, body string, from string) (*Message, error) {
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", from)
	form.Set("Body", body)
	return c.createMessage(ctx, form)
}

// SendWithMedia creates an outbound MMS. The MMS policy flag is enforced by
// the caller before any network call happens here.
func (c *Client) SendWithMedia(ctx context.Context, to string, body string, mediaURLs []string, from string) (*Message, error) {
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", from)
	if body != "" {
		form.Set("Body", body)
	}
	for _, u := range mediaURLs {
		form.Add("MediaUrl", u)
	}
	return c.createMessage(ctx, form)
}

func (c *Client) createMessage(ctx context.Context, form url.Values) (*Message, error) {
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", c.baseURL, c.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.accountSID, c.authToken)

	return c.do(req)
}

// Fetch retrieves a single message resource by sid.
func (c *Client) Fetch(ctx context.Context, sid MessageSID) (*Message, error) {
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages/%s.json", c.baseURL, c.accountSID, sid.Value)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.accountSID, c.authToken)

	return c.do(req)
}

// List retrieves message resources matching the filters.
func (c *Client) List(ctx context.Context, filters ListFilters) ([]Message, error) {
	q := url.Values{}
	if filters.To != "" {
		q.Set("To", filters.To)
	}
	if filters.From != "" {
		q.Set("From", filters.From)
	}
	if !filters.SentAfter.IsZero() {
		q.Set("DateSent>", filters.SentAfter.UTC().Format("2006-01-02"))
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	q.Set("PageSize", strconv.Itoa(pageSize))

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json?%s", c.baseURL, c.accountSID, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, decodeAPIError(resp.StatusCode, raw)
	}

	var page struct {
		Messages []Message `json:"messages"`
	}
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, fmt.Errorf("decode message list: %w", err)
	}
	return page.Messages, nil
}

func (c *Client) do(req *http.Request) (*Message, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, decodeAPIError(resp.StatusCode, raw)
	}

	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode message resource: %w", err)
	}
	return &m, nil
}

func decodeAPIError(httpStatus int, raw []byte) error {
	apiErr := &APIError{HTTPStatus: httpStatus}
	if err := json.Unmarshal(raw, apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(raw))
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(httpStatus)
		}
	}
	apiErr.HTTPStatus = httpStatus
	return apiErr
}
