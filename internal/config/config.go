package config

import (
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// GuardPolicy controls how long an accepted pass key is remembered.
type GuardPolicy string

const (
	// GuardPolicySession remembers an accepted pass key per chat for the
	// lifetime of the session.
	GuardPolicySession GuardPolicy = "session"

	// GuardPolicyNever forgets the pass key as soon as the chat is closed.
	GuardPolicyNever GuardPolicy = "never"
)

// ReconnectPolicy describes what the realtime synchronizer does when the
// connection drops. MaxRetries == 0 disables automatic reconnection.
type ReconnectPolicy struct {
	MaxRetries int           `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
}

// Enabled reports whether the synchronizer should redial on its own.
func (p ReconnectPolicy) Enabled() bool {
	return p.MaxRetries > 0
}

// Delay returns the backoff before the given attempt (starting at 1).
func (p ReconnectPolicy) Delay(attempt int) time.Duration {
	d := p.BaseDelay
	if d <= 0 {
		d = time.Second
	}
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Config holds all configuration values for the client.
// Values come from an optional YAML file, then a .env file / the environment.
type Config struct {
	// APIURL is the base URL of the chat REST API
	APIURL string `yaml:"api_url"`

	// SocketURL is the websocket endpoint of the realtime channel.
	// Derived from APIURL when empty.
	SocketURL string `yaml:"socket_url"`

	// StatePath is the SQLite file holding the persisted session
	StatePath string `yaml:"state_path"`

	// HTTPTimeout bounds every REST request
	HTTPTimeout time.Duration `yaml:"http_timeout"`

	// TypingDebounce is the keystroke inactivity window before stopTyping is sent
	TypingDebounce time.Duration `yaml:"typing_debounce"`

	// TypingTimeout expires a remote typing indicator that never got a stop event
	TypingTimeout time.Duration `yaml:"typing_timeout"`

	Reconnect ReconnectPolicy `yaml:"reconnect"`

	GuardPolicy GuardPolicy `yaml:"guard_policy"`

	// OptimisticLikes applies like toggles locally before the server confirms them
	OptimisticLikes bool `yaml:"optimistic_likes"`

	// LikeConfirmTimeout rolls back an optimistic like that was never confirmed
	LikeConfirmTimeout time.Duration `yaml:"like_confirm_timeout"`

	// FrontURL is sent along with notify requests so the email can link back
	FrontURL string `yaml:"front_url"`

	LogLevel string `yaml:"log_level"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		APIURL:             "http://localhost:7000",
		StatePath:          defaultStatePath(),
		HTTPTimeout:        15 * time.Second,
		TypingDebounce:     2 * time.Second,
		TypingTimeout:      5 * time.Second,
		Reconnect:          ReconnectPolicy{MaxRetries: 0, BaseDelay: time.Second, MaxDelay: 30 * time.Second},
		GuardPolicy:        GuardPolicySession,
		LikeConfirmTimeout: 5 * time.Second,
		FrontURL:           "http://localhost:5173",
		LogLevel:           "info",
	}
}

// Load reads configuration in order: defaults, optional YAML file, .env file,
// environment variables. A missing .env file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("DMSYNC_CONFIG")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("[Config] No .env file found, using environment variables")
	}

	cfg.APIURL = getEnv("DMSYNC_API_URL", cfg.APIURL)
	cfg.SocketURL = getEnv("DMSYNC_SOCKET_URL", cfg.SocketURL)
	cfg.StatePath = getEnv("DMSYNC_STATE_PATH", cfg.StatePath)
	cfg.HTTPTimeout = getDuration("DMSYNC_HTTP_TIMEOUT", cfg.HTTPTimeout)
	cfg.TypingDebounce = getDuration("DMSYNC_TYPING_DEBOUNCE", cfg.TypingDebounce)
	cfg.TypingTimeout = getDuration("DMSYNC_TYPING_TIMEOUT", cfg.TypingTimeout)
	cfg.Reconnect.MaxRetries = getInt("DMSYNC_RECONNECT_MAX_RETRIES", cfg.Reconnect.MaxRetries)
	cfg.Reconnect.BaseDelay = getDuration("DMSYNC_RECONNECT_BASE_DELAY", cfg.Reconnect.BaseDelay)
	cfg.Reconnect.MaxDelay = getDuration("DMSYNC_RECONNECT_MAX_DELAY", cfg.Reconnect.MaxDelay)
	cfg.GuardPolicy = GuardPolicy(getEnv("DMSYNC_GUARD_POLICY", string(cfg.GuardPolicy)))
	cfg.OptimisticLikes = getBool("DMSYNC_OPTIMISTIC_LIKES", cfg.OptimisticLikes)
	cfg.LikeConfirmTimeout = getDuration("DMSYNC_LIKE_CONFIRM_TIMEOUT", cfg.LikeConfirmTimeout)
	cfg.FrontURL = getEnv("DMSYNC_FRONT_URL", cfg.FrontURL)
	cfg.LogLevel = getEnv("DMSYNC_LOG_LEVEL", cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "read config file %s", path)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.Wrapf(err, "parse config file %s", path)
	}
	return nil
}

// Validate checks the values that cannot be defaulted away.
func (c *Config) Validate() error {
	if c.APIURL == "" {
		return errors.New("api url is required")
	}
	if _, err := url.Parse(c.APIURL); err != nil {
		return errors.Wrap(err, "invalid api url")
	}
	switch c.GuardPolicy {
	case GuardPolicySession, GuardPolicyNever:
	default:
		return errors.Errorf("unknown guard policy %q", c.GuardPolicy)
	}
	if c.Reconnect.MaxRetries < 0 {
		return errors.New("reconnect max retries must not be negative")
	}
	return nil
}

// WebsocketURL returns SocketURL, or the API URL rewritten to ws(s)://host/ws.
func (c *Config) WebsocketURL() string {
	if c.SocketURL != "" {
		return c.SocketURL
	}
	return DeriveSocketURL(c.APIURL)
}

// DeriveSocketURL maps an http(s) base URL to the websocket endpoint on the same host.
func DeriveSocketURL(apiURL string) string {
	u, err := url.Parse(apiURL)
	if err != nil {
		return apiURL
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	u.RawQuery = ""
	return u.String()
}

func defaultStatePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "dmsync.db"
	}
	return filepath.Join(home, ".dmsync", "state.db")
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		log.Warn().Str("key", key).Str("value", value).Msg("[Config] Invalid duration, keeping default")
		return defaultValue
	}
	return d
}

func getInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Warn().Str("key", key).Str("value", value).Msg("[Config] Invalid integer, keeping default")
		return defaultValue
	}
	return n
}

func getBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		log.Warn().Str("key", key).Str("value", value).Msg("[Config] Invalid boolean, keeping default")
		return defaultValue
	}
	return b
}
