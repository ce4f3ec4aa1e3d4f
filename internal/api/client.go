package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Client talks to the communications backend over REST. It is safe for
// concurrent use.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
	log     *zap.Logger
}

// StatusError is a non-2xx response from the backend.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.Code, e.Body)
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client (used in tests).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpc = h }
}

// New creates a backend client. baseURL includes the API prefix
// (e.g. "https://crm.example.com/api").
func New(baseURL, token string, log *zap.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpc:   &http.Client{Timeout: 30 * time.Second},
		log:     log.Named("api"),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ListConversations fetches one page of the conversation list for an entity
// type ("leads", "clients", "suppliers").
func (c *Client) ListConversations(ctx context.Context, entity string, p ListParams) (*ConversationPage, error) {
	q := url.Values{}
	if p.Page > 0 {
		q.Set("page", strconv.Itoa(p.Page))
	}
	if p.Search != "" {
		q.Set("search", p.Search)
	}
	if p.AssignedUserID > 0 {
		q.Set("user_id", strconv.Itoa(p.AssignedUserID))
	}

	var page ConversationPage
	path := fmt.Sprintf("/communications/%s/contacts", entity)
	if err := c.do(ctx, http.MethodGet, path, q, nil, &page); err != nil {
		return nil, fmt.Errorf("list %s: %w", entity, err)
	}
	return &page, nil
}

// GetContactInfo fetches the conversation header for one contragent contact.
// Used both to open a conversation and to resolve a push notification for a
// conversation not present in any loaded list.
func (c *Client) GetContactInfo(ctx context.Context, entity string, id, contactID int) (*Conversation, error) {
	var conv Conversation
	path := fmt.Sprintf("/communications/%s/%d/contacts/%d/info", entity, id, contactID)
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &conv); err != nil {
		return nil, fmt.Errorf("contact info %s/%d/%d: %w", entity, id, contactID, err)
	}
	return &conv, nil
}

// ListMessages fetches one page of a conversation's message history,
// newest-first.
func (c *Client) ListMessages(ctx context.Context, entity string, id, contactID, page int) (*MessagePage, error) {
	q := url.Values{}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}

	var mp MessagePage
	path := fmt.Sprintf("/communications/%s/%d/contacts/%d", entity, id, contactID)
	if err := c.do(ctx, http.MethodGet, path, q, nil, &mp); err != nil {
		return nil, fmt.Errorf("list messages %s/%d/%d: %w", entity, id, contactID, err)
	}
	return &mp, nil
}

// GetMessage fetches a single message by server id. The realtime channel
// delivers ids only; this resolves them to full messages.
func (c *Client) GetMessage(ctx context.Context, id int) (*Message, error) {
	var msg Message
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/communications/messages/%d", id), nil, nil, &msg); err != nil {
		return nil, fmt.Errorf("get message %d: %w", id, err)
	}
	return &msg, nil
}

// SendMessage dispatches one outbound message. A nil error with
// result.Failed() true means the backend accepted the request but the
// messenger refused delivery.
func (c *Client) SendMessage(ctx context.Context, req SendRequest) (*SendResult, error) {
	var res SendResult
	if err := c.do(ctx, http.MethodPost, "/e-chat/dialogs/messages", nil, req, &res); err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	return &res, nil
}

// UploadFile uploads an attachment and returns its server URL.
func (c *Client) UploadFile(ctx context.Context, filename string, r io.Reader) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file_for_message", filename)
	if err != nil {
		return "", fmt.Errorf("build upload form: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", fmt.Errorf("read attachment: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finish upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/e-chat/dialogs/files", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	c.authorize(req)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload file: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var res uploadResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	if res.FileURL == "" {
		return "", fmt.Errorf("upload response missing file_url")
	}
	return res.FileURL, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)

	start := time.Now()
	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	c.log.Debug("request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
