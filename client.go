// Package wordimpact provides the Go client for the Word Impact Network
// messaging and notification API, including the real-time delivery layer.
//
// The REST API is the source of truth; the realtime connection only carries
// invalidation hints that trigger re-fetches.
//
// Example:
//
//	client := wordimpact.NewClient("https://api.example.com/api/v1",
//		wordimpact.WithToken(token))
//
//	page, _ := client.Notifications.List(ctx, &wordimpact.NotificationListOptions{Page: 1})
//
//	rt := client.Realtime(nil)
//	inbox := wordimpact.NewInbox(nil)
//	gate := wordimpact.NewSessionGate(rt, wordimpact.TokenAuth(token), &wordimpact.GateOptions{
//		Reconciler: wordimpact.NewReconciler(wordimpact.RESTSource(client, ""), inbox, nil),
//	})
//	gate.Mount(ctx)
//	defer gate.Unmount()
package wordimpact

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultTimeout = 30 * time.Second
)

// CredentialMode selects how the session is presented to the backend.
type CredentialMode string

const (
	// CredentialCookie forwards the cookie-based session (admin dashboard).
	CredentialCookie CredentialMode = "cookie"
	// CredentialToken sends a bearer token (student frontend).
	CredentialToken CredentialMode = "token"
)

// ============================================================================
// Client
// ============================================================================

// Client talks to the REST messaging API.
type Client struct {
	baseURL    string
	token      string
	mode       CredentialMode
	httpClient *http.Client
	logger     *slog.Logger

	Auth          *AuthClient
	Notifications *NotificationsClient
	Messages      *MessagesClient
}

type ClientOption func(*Client)

// WithToken switches the client to token credentials.
func WithToken(token string) ClientOption {
	return func(c *Client) {
		c.token = token
		c.mode = CredentialToken
	}
}

// WithCookieJar switches the client to cookie credentials backed by jar.
func WithCookieJar(jar http.CookieJar) ClientOption {
	return func(c *Client) {
		c.httpClient.Jar = jar
		c.mode = CredentialCookie
	}
}

func WithCredentialMode(mode CredentialMode) ClientOption {
	return func(c *Client) { c.mode = mode }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a client for the API rooted at baseURL (for example
// https://api.example.com/api/v1). Without credential options the client
// runs in cookie mode with a fresh in-memory jar.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		mode:    CredentialCookie,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.mode == CredentialCookie && c.httpClient.Jar == nil {
		jar, _ := cookiejar.New(nil)
		c.httpClient.Jar = jar
	}

	c.Auth = &AuthClient{client: c}
	c.Notifications = &NotificationsClient{client: c}
	c.Messages = &MessagesClient{client: c}
	return c
}

// SetToken sets or updates the bearer token.
func (c *Client) SetToken(token string) {
	c.token = token
}

// SetSessionCookie stores a session cookie for the API host in the jar.
// Without a Path the cookie covers the whole host, realtime endpoint included.
func (c *Client) SetSessionCookie(cookie *http.Cookie) error {
	if c.httpClient.Jar == nil {
		return fmt.Errorf("client has no cookie jar")
	}
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return fmt.Errorf("invalid base url: %w", err)
	}
	ck := *cookie
	if ck.Path == "" {
		ck.Path = "/"
	}
	c.httpClient.Jar.SetCookies(u, []*http.Cookie{&ck})
	return nil
}

// BaseURL returns the REST base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// CredentialMode returns the credential mode in use.
func (c *Client) CredentialMode() CredentialMode { return c.mode }

// Realtime builds a realtime client that shares this client's base URL,
// credentials and logger.
func (c *Client) Realtime(config *RealtimeConfig) *RealtimeClient {
	cfg := RealtimeConfig{}
	if config != nil {
		cfg = *config
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = c.baseURL
	}
	if cfg.CredentialMode == "" {
		cfg.CredentialMode = c.mode
	}
	if cfg.Token == "" {
		cfg.Token = c.token
	}
	if cfg.CookieJar == nil {
		cfg.CookieJar = c.httpClient.Jar
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = c.httpClient
	}
	if cfg.Logger == nil {
		cfg.Logger = c.logger
	}
	return NewRealtimeClient(&cfg)
}

// ============================================================================
// Internal request helper
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query url.Values) (*Result, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.mode == CredentialToken && c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	c.logger.Debug("api request", "method", method, "path", path, "status", resp.StatusCode, "request_id", requestID)

	var result Result
	if len(data) > 0 {
		if err := json.Unmarshal(data, &result); err != nil {
			if resp.StatusCode >= 300 {
				return nil, &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
			}
			return nil, fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}
	if resp.StatusCode >= 300 || (len(data) > 0 && !result.Success) {
		msg := result.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &APIError{Status: resp.StatusCode, Message: msg}
	}
	return &result, nil
}

func decodeData[T any](res *Result) (*T, error) {
	var out T
	if err := res.Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &out, nil
}

func pageQuery(opts *PageOptions) url.Values {
	if opts == nil {
		return nil
	}
	q := url.Values{}
	if opts.Page > 0 {
		q.Set("page", strconv.Itoa(opts.Page))
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if len(q) == 0 {
		return nil
	}
	return q
}

// ============================================================================
// Sub-Clients
// ============================================================================

// AuthClient resolves the current session.
type AuthClient struct{ client *Client }

// Me returns the authenticated user. An *APIError with status 401 means the
// session is missing or expired.
func (a *AuthClient) Me(ctx context.Context) (*User, error) {
	res, err := a.client.doRequest(ctx, http.MethodGet, "/auth/me", nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeData[User](res)
}

// NotificationsClient handles notification listing and read state.
type NotificationsClient struct{ client *Client }

func (n *NotificationsClient) List(ctx context.Context, opts *NotificationListOptions) (*NotificationPage, error) {
	var q url.Values
	if opts != nil {
		q = pageQuery(&PageOptions{Page: opts.Page, Limit: opts.Limit})
		if opts.UnreadOnly {
			if q == nil {
				q = url.Values{}
			}
			q.Set("unreadOnly", "true")
		}
	}
	res, err := n.client.doRequest(ctx, http.MethodGet, "/notifications", nil, q)
	if err != nil {
		return nil, err
	}
	return decodeData[NotificationPage](res)
}

func (n *NotificationsClient) UnreadCount(ctx context.Context) (int, error) {
	res, err := n.client.doRequest(ctx, http.MethodGet, "/notifications/unread-count", nil, nil)
	if err != nil {
		return 0, err
	}
	uc, err := decodeData[UnreadCount](res)
	if err != nil {
		return 0, err
	}
	return uc.Count, nil
}

func (n *NotificationsClient) MarkAsRead(ctx context.Context, notificationID string) error {
	_, err := n.client.doRequest(ctx, http.MethodPatch, "/notifications/"+url.PathEscape(notificationID)+"/read", nil, nil)
	return err
}

func (n *NotificationsClient) MarkAllAsRead(ctx context.Context) error {
	_, err := n.client.doRequest(ctx, http.MethodPatch, "/notifications/read-all", nil, nil)
	return err
}

// MessagesClient handles the student/admin conversation.
type MessagesClient struct{ client *Client }

// Conversation returns the caller's conversation with the admins.
func (m *MessagesClient) Conversation(ctx context.Context, opts *PageOptions) (*MessagePage, error) {
	res, err := m.client.doRequest(ctx, http.MethodGet, "/messages/conversation", nil, pageQuery(opts))
	if err != nil {
		return nil, err
	}
	return decodeData[MessagePage](res)
}

// AdminConversation returns an admin's conversation with one student.
func (m *MessagesClient) AdminConversation(ctx context.Context, studentID string, opts *PageOptions) (*MessagePage, error) {
	res, err := m.client.doRequest(ctx, http.MethodGet, "/messages/admin/conversations/"+url.PathEscape(studentID), nil, pageQuery(opts))
	if err != nil {
		return nil, err
	}
	return decodeData[MessagePage](res)
}

func (m *MessagesClient) Send(ctx context.Context, opts *SendMessageOptions) (*Message, error) {
	if opts == nil || opts.Content == "" {
		return nil, fmt.Errorf("content is required")
	}
	res, err := m.client.doRequest(ctx, http.MethodPost, "/messages", opts, nil)
	if err != nil {
		return nil, err
	}
	return decodeData[Message](res)
}

func (m *MessagesClient) MarkAsRead(ctx context.Context, messageID string) error {
	_, err := m.client.doRequest(ctx, http.MethodPatch, "/messages/"+url.PathEscape(messageID)+"/read", nil, nil)
	return err
}

func (m *MessagesClient) UnreadCount(ctx context.Context) (int, error) {
	res, err := m.client.doRequest(ctx, http.MethodGet, "/messages/unread-count", nil, nil)
	if err != nil {
		return 0, err
	}
	uc, err := decodeData[UnreadCount](res)
	if err != nil {
		return 0, err
	}
	return uc.Count, nil
}
