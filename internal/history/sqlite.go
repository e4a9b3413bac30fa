package history

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// entryRecord is the gorm row for an Entry. Seq keeps insertion order
// stable when timestamps collide.
type entryRecord struct {
	Seq        uint      `gorm:"primaryKey;autoIncrement"`
	ID         string    `gorm:"size:36;uniqueIndex"`
	UserEmail  string    `gorm:"size:255;index"`
	UserName   string    `gorm:"size:255"`
	Timestamp  time.Time `gorm:"index"`
	BodyPart   string    `gorm:"size:64"`
	Diagnosis  string    `gorm:"size:255"`
	Confidence float64
	Status     string `gorm:"size:16"`
}

func (entryRecord) TableName() string { return "prediction_entries" }

func (r entryRecord) entry() Entry {
	return Entry{
		ID:         r.ID,
		UserEmail:  r.UserEmail,
		UserName:   r.UserName,
		Timestamp:  r.Timestamp,
		BodyPart:   r.BodyPart,
		Diagnosis:  r.Diagnosis,
		Confidence: r.Confidence,
		Status:     r.Status,
	}
}

type sqliteStore struct {
	db *gorm.DB
}

// OpenSQLite opens (or creates) the database file and migrates the schema.
func OpenSQLite(path string) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path required")
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return db, nil
}

// NewSQLite builds a SQLite-backed prediction log on db.
func NewSQLite(db *gorm.DB) (Store, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlite store requires database handle")
	}
	if err := db.AutoMigrate(&entryRecord{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) Append(ctx context.Context, entry Entry) error {
	entry = prepare(entry)
	record := &entryRecord{
		ID:         entry.ID,
		UserEmail:  entry.UserEmail,
		UserName:   entry.UserName,
		Timestamp:  entry.Timestamp,
		BodyPart:   entry.BodyPart,
		Diagnosis:  entry.Diagnosis,
		Confidence: entry.Confidence,
		Status:     entry.Status,
	}
	return s.db.WithContext(ctx).Create(record).Error
}

func (s *sqliteStore) ListByUser(ctx context.Context, email string, limit int) ([]Entry, error) {
	return s.list(s.db.WithContext(ctx).Where("user_email = ?", email), limit)
}

func (s *sqliteStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	return s.list(s.db.WithContext(ctx), limit)
}

func (s *sqliteStore) list(q *gorm.DB, limit int) ([]Entry, error) {
	q = q.Order("seq desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var records []entryRecord
	if err := q.Find(&records).Error; err != nil {
		return nil, err
	}

	entries := make([]Entry, len(records))
	for i, r := range records {
		entries[len(records)-1-i] = r.entry()
	}
	return entries, nil
}

func (s *sqliteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
