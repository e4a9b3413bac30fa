package history

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Entry is one logged prediction.
type Entry struct {
	ID         string    `json:"id"`
	UserEmail  string    `json:"user_email"`
	UserName   string    `json:"user_name"`
	Timestamp  time.Time `json:"timestamp"`
	BodyPart   string    `json:"body_part"`
	Diagnosis  string    `json:"diagnosis"`
	Confidence float64   `json:"confidence"`
	Status     string    `json:"status"`
}

// Store is an append-only prediction log. Listings return at most limit
// entries, oldest first, so the most recent entry is last. A limit of zero
// or less returns everything.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	ListByUser(ctx context.Context, email string, limit int) ([]Entry, error)
	Recent(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}

// Config selects and tunes a store driver.
type Config struct {
	Driver string
	// MaxEntries caps the memory log and the redis lists. Zero keeps
	// everything.
	MaxEntries int
	SQLite     *SQLiteConfig
	Redis      *RedisConfig
}

// SQLiteConfig points at the database file.
type SQLiteConfig struct {
	Path string
}

// RedisConfig captures connection options.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
	Prefix   string
}

func prepare(entry Entry) Entry {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	return entry
}

// tail returns the last limit entries of s.
func tail(s []Entry, limit int) []Entry {
	if limit > 0 && len(s) > limit {
		s = s[len(s)-limit:]
	}
	out := make([]Entry, len(s))
	copy(out, s)
	return out
}
