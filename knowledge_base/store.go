package knowledge_base

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"assistant-voice-loop/logger"

	"github.com/go-playground/validator/v10"
	_ "modernc.org/sqlite"
)

const module = "knowledge_base"

const schema = `
	CREATE TABLE IF NOT EXISTS qa_store (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		question TEXT NOT NULL,
		answer TEXT NOT NULL,
		tags TEXT NOT NULL DEFAULT '[]',
		createdAt REAL NOT NULL
	);
`

// Store provides access to the learned answers.
type Store struct {
	db       *sql.DB
	logger   logger.ILogger
	validate *validator.Validate
	now      func() time.Time

	mu     sync.RWMutex
	closed bool
}

// Open opens (creating if needed) the SQLite database at path. ":memory:"
// gives a private in-memory database.
func Open(path string, log logger.ILogger) (*Store, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is nil")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// one connection: sqlite has a single writer, and an in-memory database
	// only exists on the connection that created it
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{
		db:       db,
		logger:   log,
		validate: validator.New(),
		now:      time.Now,
	}, nil
}

// Unavailable returns a Store with no database behind it: Save fails with
// ErrUnavailable and GetAll is always empty. It stands in when Open fails so
// the rest of the program keeps running without learned answers.
func Unavailable(log logger.ILogger) *Store {
	return &Store{
		logger:   log,
		validate: validator.New(),
		now:      time.Now,
		closed:   true,
	}
}

// Close closes the database connection. Later calls fail with ErrUnavailable.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true

	return s.db.Close()
}

// Save stores one question/answer pair and returns its id. Nothing is stored
// when the request is rejected.
func (s *Store) Save(ctx context.Context, req SaveRequest) (int64, error) {
	req.Question = strings.TrimSpace(req.Question)
	req.Answer = strings.TrimSpace(req.Answer)

	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return 0, ErrRequired
		}
		return 0, fmt.Errorf("validate: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrUnavailable
	}

	tags, err := json.Marshal(cleanTags(req.Tags))
	if err != nil {
		return 0, fmt.Errorf("%w: encode tags: %v", ErrSaveFailed, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSaveFailed, err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO qa_store (question, answer, tags, createdAt)
		VALUES (?, ?, ?, ?)
	`, req.Question, req.Answer, string(tags), unixFromTime(s.now()))
	if err != nil {
		tx.Rollback()
		s.logger.Error(module, "save failed", map[string]interface{}{"error": err})
		return 0, fmt.Errorf("%w: %v", ErrSaveFailed, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("%w: %v", ErrSaveFailed, err)
	}

	if err := tx.Commit(); err != nil {
		s.logger.Error(module, "save commit failed", map[string]interface{}{"error": err})
		return 0, fmt.Errorf("%w: %v", ErrSaveFailed, err)
	}

	return id, nil
}

// GetAll returns every record, oldest first. Failures are logged and yield
// an empty slice.
func (s *Store) GetAll(ctx context.Context) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := []Record{}

	if s.closed {
		return records
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, question, answer, tags, createdAt
		FROM qa_store
		ORDER BY id ASC
	`)
	if err != nil {
		s.logger.Warn(module, "query records failed", map[string]interface{}{"error": err})
		return records
	}
	defer rows.Close()

	for rows.Next() {
		var r Record
		var tags string
		var createdAt float64
		if err := rows.Scan(&r.ID, &r.Question, &r.Answer, &tags, &createdAt); err != nil {
			s.logger.Warn(module, "scan record failed", map[string]interface{}{"error": err})
			return []Record{}
		}

		if err := json.Unmarshal([]byte(tags), &r.Tags); err != nil {
			r.Tags = nil
		}
		if r.Tags == nil {
			r.Tags = []string{}
		}

		r.CreatedAt = timeFromUnix(createdAt)
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		s.logger.Warn(module, "read records failed", map[string]interface{}{"error": err})
		return []Record{}
	}

	return records
}

func cleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func unixFromTime(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func timeFromUnix(ts float64) time.Time {
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}
