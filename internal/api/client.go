package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/adi-253/dmsync/internal/models"
)

var (
	// ErrForbidden is returned for 403 responses, e.g. a wrong or missing pass key.
	ErrForbidden = errors.New("forbidden")

	// ErrUnauthorized is returned for 401 responses (missing or expired token).
	ErrUnauthorized = errors.New("unauthorized")
)

// StatusError is returned for any other response with status >= 400.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api error (status %d): %s", e.Code, e.Body)
}

// TokenSource supplies the bearer credential for each request.
// An empty token sends the request unauthenticated.
type TokenSource interface {
	Token() string
}

// StaticToken is a TokenSource that always returns the same value.
type StaticToken string

func (t StaticToken) Token() string { return string(t) }

// TokenFunc adapts a function to TokenSource.
type TokenFunc func() string

func (f TokenFunc) Token() string { return f() }

// Client is a wrapper around the chat REST API.
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
}

// NewClient creates a new API client. tokens may be nil for unauthenticated use.
func NewClient(baseURL string, tokens TokenSource, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		tokens:  tokens,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// doRequest executes an HTTP request against the API.
// It adds the bearer token, encodes body as JSON and decodes the response into out.
func (c *Client) doRequest(ctx context.Context, method, endpoint string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "marshal request body")
		}
		reqBody = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reqBody)
	if err != nil {
		return errors.Wrap(err, "create request")
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		if token := c.tokens.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, endpoint)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "read response body")
	}

	switch {
	case resp.StatusCode == http.StatusForbidden:
		return errors.Wrapf(ErrForbidden, "%s %s", method, endpoint)
	case resp.StatusCode == http.StatusUnauthorized:
		return errors.Wrapf(ErrUnauthorized, "%s %s", method, endpoint)
	case resp.StatusCode >= 400:
		log.Debug().Int("status", resp.StatusCode).Str("endpoint", endpoint).Msg("[API] Request failed")
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return errors.Wrapf(err, "parse response of %s %s", method, endpoint)
	}
	return nil
}

// Login exchanges credentials for a token and the user profile.
func (c *Client) Login(ctx context.Context, email, password string) (*models.AuthResponse, error) {
	var out models.AuthResponse
	req := models.LoginRequest{Email: email, Password: password}
	if err := c.doRequest(ctx, http.MethodPost, "/auth/login", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Register creates an account and returns its token and profile.
func (c *Client) Register(ctx context.Context, req models.RegisterRequest) (*models.AuthResponse, error) {
	var out models.AuthResponse
	if err := c.doRequest(ctx, http.MethodPost, "/auth/register", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListChats returns the session user's conversations with their last message.
func (c *Client) ListChats(ctx context.Context) ([]models.Chat, error) {
	var chats []models.Chat
	if err := c.doRequest(ctx, http.MethodGet, "/chats", nil, &chats); err != nil {
		return nil, err
	}
	return chats, nil
}

// GetMessages returns the full history of a chat. An empty passKey omits the
// query parameter; a guarded chat then answers with ErrForbidden.
func (c *Client) GetMessages(ctx context.Context, chatID, passKey string) ([]models.Message, error) {
	endpoint := fmt.Sprintf("/chats/%s/messages", url.PathEscape(chatID))
	if passKey != "" {
		endpoint += "?passKey=" + url.QueryEscape(passKey)
	}
	var msgs []models.Message
	if err := c.doRequest(ctx, http.MethodGet, endpoint, nil, &msgs); err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	return msgs, nil
}

// SetPassKey sets the session user's guard on a chat. A nil passKey removes it.
func (c *Client) SetPassKey(ctx context.Context, chatID string, passKey *string) error {
	endpoint := fmt.Sprintf("/chats/%s/passkey", url.PathEscape(chatID))
	return c.doRequest(ctx, http.MethodPost, endpoint, models.PassKeyRequest{PassKey: passKey}, nil)
}

// Notify asks the server to email the other participant about this chat.
func (c *Client) Notify(ctx context.Context, chatID, frontURL string) error {
	endpoint := fmt.Sprintf("/chats/%s/notify", url.PathEscape(chatID))
	return c.doRequest(ctx, http.MethodPost, endpoint, models.NotifyRequest{FrontURL: frontURL}, nil)
}

// ListUsers returns every other registered user.
func (c *Client) ListUsers(ctx context.Context) ([]models.User, error) {
	var users []models.User
	if err := c.doRequest(ctx, http.MethodGet, "/users", nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// StartChat finds or creates the chat with otherUserID and returns its id.
func (c *Client) StartChat(ctx context.Context, otherUserID string) (string, error) {
	var out models.StartChatResponse
	req := models.StartChatRequest{OtherUserID: otherUserID}
	if err := c.doRequest(ctx, http.MethodPost, "/chats/start", req, &out); err != nil {
		return "", err
	}
	return out.ChatID, nil
}
