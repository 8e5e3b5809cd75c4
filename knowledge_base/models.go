// Package knowledge_base persists question/answer records in SQLite.
package knowledge_base

import (
	"errors"
	"time"
)

var (
	ErrRequired    = errors.New("question and answer required")
	ErrUnavailable = errors.New("knowledge base not available")
	ErrSaveFailed  = errors.New("save transaction failed")
)

// Record is one learned question and its answer.
type Record struct {
	ID        int64
	Question  string
	Answer    string
	Tags      []string
	CreatedAt time.Time
}

type SaveRequest struct {
	Question string   `validate:"required"`
	Answer   string   `validate:"required"`
	Tags     []string
}
