// Package session owns the authenticated identity: it persists the token,
// profile and theme, and ties the realtime connection to the session's life.
package session

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/adi-253/dmsync/internal/models"
)

// Theme is the persisted UI theme preference.
type Theme string

const (
	ThemeDark Theme = "dark"
	ThemePink Theme = "pink"
)

// ErrNoSession is returned when an operation needs a logged in user.
var ErrNoSession = errors.New("not logged in")

// Authenticator is the auth part of the REST client.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (*models.AuthResponse, error)
	Register(ctx context.Context, req models.RegisterRequest) (*models.AuthResponse, error)
}

// Connector is the lifecycle part of the realtime synchronizer.
type Connector interface {
	Connect(ctx context.Context)
	Disconnect()
}

// Manager holds the current session. It satisfies the credential source
// interfaces of the API client and the synchronizer through Token.
type Manager struct {
	store *Store
	auth  Authenticator

	mu    sync.RWMutex
	conn  Connector
	token string
	user  *models.User
}

func NewManager(store *Store, auth Authenticator) *Manager {
	return &Manager{store: store, auth: auth}
}

// Attach sets the connection opened and closed with the session. The
// synchronizer needs the Manager as its credential source, so it is created
// after the Manager and attached here.
func (m *Manager) Attach(conn Connector) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conn = conn
}

// Restore loads a persisted session and connects if one exists. A missing or
// unreadable profile counts as no session.
func (m *Manager) Restore(ctx context.Context) (bool, error) {
	token, ok, err := m.store.Get(ctx, KeyToken)
	if err != nil {
		return false, err
	}
	if !ok || token == "" {
		return false, nil
	}
	raw, ok, err := m.store.Get(ctx, KeyUser)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	var user models.User
	if err := json.Unmarshal([]byte(raw), &user); err != nil || user.ID == "" {
		log.Warn().Err(err).Msg("[Session] Stored user is corrupted, ignoring session")
		return false, nil
	}

	if prev := m.set(token, &user); prev != "" && prev != token {
		m.disconnect()
	}
	log.Info().Str("user_id", user.ID).Msg("[Session] Restored session")
	m.connect(ctx)
	return true, nil
}

// Login authenticates, persists the session and connects.
func (m *Manager) Login(ctx context.Context, email, password string) (*models.User, error) {
	resp, err := m.auth.Login(ctx, email, password)
	if err != nil {
		log.Error().Err(err).Str("email", email).Msg("[Session] Login failed")
		return nil, errors.Wrap(err, "login")
	}
	return m.establish(ctx, resp)
}

// Register creates an account, persists the session and connects.
func (m *Manager) Register(ctx context.Context, req models.RegisterRequest) (*models.User, error) {
	resp, err := m.auth.Register(ctx, req)
	if err != nil {
		log.Error().Err(err).Str("email", req.Email).Msg("[Session] Register failed")
		return nil, errors.Wrap(err, "register")
	}
	return m.establish(ctx, resp)
}

func (m *Manager) establish(ctx context.Context, resp *models.AuthResponse) (*models.User, error) {
	if resp.Token == "" {
		return nil, errors.New("server returned no token")
	}
	raw, err := json.Marshal(resp.User)
	if err != nil {
		return nil, errors.Wrap(err, "encode user")
	}
	if err := m.store.Set(ctx, KeyToken, resp.Token); err != nil {
		return nil, err
	}
	if err := m.store.Set(ctx, KeyUser, string(raw)); err != nil {
		return nil, err
	}

	user := resp.User
	if prev := m.set(resp.Token, &user); prev != "" {
		// the live connection is authenticated as the previous session
		m.disconnect()
	}
	log.Info().Str("user_id", user.ID).Msg("[Session] Logged in")
	m.connect(ctx)
	return &user, nil
}

// Logout forgets the session and closes the connection. The theme is kept.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	m.token = ""
	m.user = nil
	m.mu.Unlock()

	m.disconnect()
	if err := m.store.Delete(ctx, KeyToken, KeyUser); err != nil {
		return err
	}
	log.Info().Msg("[Session] Logged out")
	return nil
}

// set installs the session and returns the token it replaced.
func (m *Manager) set(token string, user *models.User) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.token
	m.token = token
	m.user = user
	return prev
}

func (m *Manager) disconnect() {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()
	if conn != nil {
		conn.Disconnect()
	}
}

func (m *Manager) connect(ctx context.Context) {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()
	if conn != nil {
		conn.Connect(ctx)
	}
}

// Current returns the session user, or nil.
func (m *Manager) Current() *models.User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.user == nil {
		return nil
	}
	u := *m.user
	return &u
}

// UserID returns the session user id, or "".
func (m *Manager) UserID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.user == nil {
		return ""
	}
	return m.user.ID
}

// Token returns the bearer token, or "" without a session.
func (m *Manager) Token() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token
}

// Theme returns the persisted theme, dark when unset or unknown.
func (m *Manager) Theme(ctx context.Context) (Theme, error) {
	raw, _, err := m.store.Get(ctx, KeyTheme)
	if err != nil {
		return ThemeDark, err
	}
	if Theme(raw) == ThemePink {
		return ThemePink, nil
	}
	return ThemeDark, nil
}

// ToggleTheme switches between dark and pink and persists the result.
func (m *Manager) ToggleTheme(ctx context.Context) (Theme, error) {
	cur, err := m.Theme(ctx)
	if err != nil {
		return cur, err
	}
	next := ThemePink
	if cur == ThemePink {
		next = ThemeDark
	}
	if err := m.store.Set(ctx, KeyTheme, string(next)); err != nil {
		return cur, err
	}
	return next, nil
}
