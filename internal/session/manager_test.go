package session

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/adi-253/dmsync/internal/api"
	"github.com/adi-253/dmsync/internal/models"
)

type fakeAuth struct {
	resp *models.AuthResponse
	err  error
}

func (f *fakeAuth) Login(ctx context.Context, email, password string) (*models.AuthResponse, error) {
	return f.resp, f.err
}

func (f *fakeAuth) Register(ctx context.Context, req models.RegisterRequest) (*models.AuthResponse, error) {
	return f.resp, f.err
}

type fakeConn struct {
	mu          sync.Mutex
	connects    int
	disconnects int
	tokens      []string
	source      interface{ Token() string }
}

func (c *fakeConn) Connect(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	c.tokens = append(c.tokens, c.source.Token())
}

func (c *fakeConn) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnects++
}

func newManager(t *testing.T, path string, auth *fakeAuth) (*Manager, *fakeConn) {
	t.Helper()
	store, err := OpenStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	m := NewManager(store, auth)
	conn := &fakeConn{source: m}
	m.Attach(conn)
	return m, conn
}

func TestLoginPersistsAndConnects(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	auth := &fakeAuth{resp: &models.AuthResponse{Token: "tok", User: models.User{ID: "u1", Name: "Ann"}}}

	m, conn := newManager(t, path, auth)
	user, err := m.Login(context.Background(), "ann@example.com", "pw")
	require.NoError(t, err)
	require.Equal(t, "u1", user.ID)
	require.Equal(t, "tok", m.Token())
	require.Equal(t, "u1", m.UserID())
	require.Equal(t, []string{"tok"}, conn.tokens)

	// a second process restores it from disk
	restored, conn2 := newManager(t, path, auth)
	ok, err := restored.Restore(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Ann", restored.Current().Name)
	require.Equal(t, 1, conn2.connects)
}

func TestLoginFailureKeepsNoSession(t *testing.T) {
	auth := &fakeAuth{err: api.ErrUnauthorized}
	m, conn := newManager(t, ":memory:", auth)

	_, err := m.Login(context.Background(), "x", "y")
	require.ErrorIs(t, err, api.ErrUnauthorized)
	require.Nil(t, m.Current())
	require.Empty(t, m.Token())
	require.Equal(t, 0, conn.connects)
}

func TestRestoreWithoutSessionDoesNotConnect(t *testing.T) {
	m, conn := newManager(t, ":memory:", &fakeAuth{})
	ok, err := m.Restore(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 0, conn.connects)
}

func TestCorruptedUserIsNoSession(t *testing.T) {
	m, conn := newManager(t, ":memory:", &fakeAuth{})
	ctx := context.Background()
	require.NoError(t, m.store.Set(ctx, KeyToken, "tok"))
	require.NoError(t, m.store.Set(ctx, KeyUser, "{not json"))

	ok, err := m.Restore(ctx)
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, m.Current())
	require.Equal(t, 0, conn.connects)
}

func TestLogoutClearsAndDisconnects(t *testing.T) {
	auth := &fakeAuth{resp: &models.AuthResponse{Token: "tok", User: models.User{ID: "u1"}}}
	m, conn := newManager(t, ":memory:", auth)
	ctx := context.Background()

	_, err := m.Register(ctx, models.RegisterRequest{Name: "Ann", Email: "a@b", Password: "pw"})
	require.NoError(t, err)
	_, err = m.ToggleTheme(ctx)
	require.NoError(t, err)

	require.NoError(t, m.Logout(ctx))
	require.Nil(t, m.Current())
	require.Empty(t, m.Token())
	require.Equal(t, 1, conn.disconnects)

	_, ok, err := m.store.Get(ctx, KeyToken)
	require.NoError(t, err)
	require.False(t, ok)

	// theme survives logout
	theme, err := m.Theme(ctx)
	require.NoError(t, err)
	require.Equal(t, ThemePink, theme)

	require.NoError(t, m.Logout(ctx))
}

func TestThemeToggle(t *testing.T) {
	m, _ := newManager(t, ":memory:", &fakeAuth{})
	ctx := context.Background()

	theme, err := m.Theme(ctx)
	require.NoError(t, err)
	require.Equal(t, ThemeDark, theme)

	theme, err = m.ToggleTheme(ctx)
	require.NoError(t, err)
	require.Equal(t, ThemePink, theme)

	theme, err = m.ToggleTheme(ctx)
	require.NoError(t, err)
	require.Equal(t, ThemeDark, theme)

	require.NoError(t, m.store.Set(ctx, KeyTheme, "neon"))
	theme, err = m.Theme(ctx)
	require.NoError(t, err)
	require.Equal(t, ThemeDark, theme)
}

func TestSecondLoginReconnectsAsNewUser(t *testing.T) {
	auth := &fakeAuth{resp: &models.AuthResponse{Token: "tok-ann", User: models.User{ID: "ann"}}}
	m, conn := newManager(t, ":memory:", auth)
	ctx := context.Background()

	_, err := m.Login(ctx, "ann@example.com", "pw")
	require.NoError(t, err)
	require.Equal(t, 0, conn.disconnects)

	auth.resp = &models.AuthResponse{Token: "tok-bob", User: models.User{ID: "bob"}}
	_, err = m.Login(ctx, "bob@example.com", "pw")
	require.NoError(t, err)

	require.Equal(t, "bob", m.UserID())
	require.Equal(t, 1, conn.disconnects)
	require.Equal(t, []string{"tok-ann", "tok-bob"}, conn.tokens)
}
