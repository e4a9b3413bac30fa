package auth

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Roles a user can hold.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUserNotFound       = errors.New("user not found")
)

// User is an account. PasswordHash never leaves the package in JSON.
type User struct {
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	PasswordHash []byte    `json:"-"`
}

// IsAdmin reports whether u holds the admin role.
func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// Admin is the account seeded into a new store.
type Admin struct {
	Email    string
	Password string
	Name     string
}

// UserStore keeps accounts in memory. Accounts do not survive a restart.
type UserStore struct {
	mu    sync.RWMutex
	users map[string]User
	cost  int
}

// NewUserStore builds a store seeded with admin. A cost of zero uses
// bcrypt.DefaultCost.
func NewUserStore(admin Admin, cost int) (*UserStore, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	s := &UserStore{users: make(map[string]User), cost: cost}
	if admin.Email != "" {
		if _, err := s.create(admin.Email, admin.Password, admin.Name, RoleAdmin); err != nil {
			return nil, fmt.Errorf("seed admin: %w", err)
		}
	}
	return s, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates a regular user.
func (s *UserStore) Register(email, password, name string) (User, error) {
	return s.create(email, password, name, RoleUser)
}

func (s *UserStore) create(email, password, name, role string) (User, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return User{}, errors.New("email and password are required")
	}
	if name == "" {
		name = email
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[email]; exists {
		return User{}, ErrEmailTaken
	}
	u := User{
		Email:        email,
		Name:         name,
		Role:         role,
		CreatedAt:    time.Now(),
		PasswordHash: hash,
	}
	s.users[email] = u
	return u, nil
}

// Authenticate checks a password and returns the matching user.
func (s *UserStore) Authenticate(email, password string) (User, error) {
	s.mu.RLock()
	u, ok := s.users[normalizeEmail(email)]
	s.mu.RUnlock()

	if !ok {
		return User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)); err != nil {
		return User{}, ErrInvalidCredentials
	}
	return u, nil
}

// Get returns the user registered under email.
func (s *UserStore) Get(email string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[normalizeEmail(email)]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

// List returns every user ordered by email.
func (s *UserStore) List() []User {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out
}
