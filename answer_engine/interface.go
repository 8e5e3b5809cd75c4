package answer_engine

import (
	"context"

	"assistant-voice-loop/knowledge_base"
)

// Store is the part of the knowledge base the engine reads and teaches into.
type Store interface {
	GetAll(ctx context.Context) []knowledge_base.Record
	Save(ctx context.Context, req knowledge_base.SaveRequest) (int64, error)
}
