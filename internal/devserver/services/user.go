package services

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/adi-253/dmsync/internal/models"
)

var (
	ErrInvalidInput       = errors.New("name, email and password are required")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUserNotFound       = errors.New("user not found")
)

type account struct {
	user         models.User
	passwordHash []byte
}

type tokenEntry struct {
	userID   string
	lastSeen time.Time
}

// UserService keeps accounts and bearer tokens in memory.
type UserService struct {
	mu       sync.RWMutex
	accounts map[string]*account
	byEmail  map[string]string
	tokens   map[string]*tokenEntry
}

func NewUserService() *UserService {
	return &UserService{
		accounts: make(map[string]*account),
		byEmail:  make(map[string]string),
		tokens:   make(map[string]*tokenEntry),
	}
}

// Register creates an account and signs it in.
func (s *UserService) Register(req models.RegisterRequest) (*models.AuthResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if strings.TrimSpace(req.Name) == "" || email == "" || req.Password == "" {
		return nil, ErrInvalidInput
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, errors.Wrap(err, "hash password")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byEmail[email]; taken {
		return nil, ErrEmailTaken
	}

	user := models.User{
		ID:     uuid.New().String(),
		Name:   strings.TrimSpace(req.Name),
		Email:  email,
		Avatar: req.Avatar,
	}
	s.accounts[user.ID] = &account{user: user, passwordHash: hash}
	s.byEmail[email] = user.ID
	log.Info().Str("user_id", user.ID).Str("email", email).Msg("[User] Registered")

	return &models.AuthResponse{Token: s.issueLocked(user.ID), User: user}, nil
}

// Login checks the password and issues a new token.
func (s *UserService) Login(email, password string) (*models.AuthResponse, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	s.mu.RLock()
	id, ok := s.byEmail[email]
	var acc *account
	if ok {
		acc = s.accounts[id]
	}
	s.mu.RUnlock()
	if acc == nil {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(acc.passwordHash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return &models.AuthResponse{Token: s.issueLocked(id), User: acc.user}, nil
}

func (s *UserService) issueLocked(userID string) string {
	token := uuid.New().String()
	s.tokens[token] = &tokenEntry{userID: userID, lastSeen: time.Now().UTC()}
	return token
}

// Authenticate resolves a bearer token and refreshes its activity time.
func (s *UserService) Authenticate(token string) (models.User, bool) {
	if token == "" {
		return models.User{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.tokens[token]
	if !ok {
		return models.User{}, false
	}
	acc, ok := s.accounts[entry.userID]
	if !ok {
		return models.User{}, false
	}
	entry.lastSeen = time.Now().UTC()
	return acc.user, true
}

// Get returns the user with id.
func (s *UserService) Get(id string) (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[id]
	if !ok {
		return models.User{}, false
	}
	return acc.user, true
}

// ListExcept returns every user but exceptID, sorted by name.
func (s *UserService) ListExcept(exceptID string) []models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]models.User, 0, len(s.accounts))
	for id, acc := range s.accounts {
		if id != exceptID {
			users = append(users, acc.user)
		}
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].Name == users[j].Name {
			return users[i].ID < users[j].ID
		}
		return users[i].Name < users[j].Name
	})
	return users
}

// RevokeIdle removes tokens not used since threshold and returns how many.
func (s *UserService) RevokeIdle(threshold time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for token, entry := range s.tokens {
		if entry.lastSeen.Before(threshold) {
			delete(s.tokens, token)
			n++
		}
	}
	return n
}
