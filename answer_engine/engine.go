// Package answer_engine looks up answers to spoken questions in the
// knowledge base.
package answer_engine

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"assistant-voice-loop/knowledge_base"
	"assistant-voice-loop/logger"

	"github.com/patrickmn/go-cache"
	"golang.org/x/text/unicode/norm"
)

const (
	module = "answer_engine"

	recordsKey = "records"

	DefaultCacheTTL       = 30 * time.Second
	DefaultMatchThreshold = 0.5

	// tagWeight is added to a record's score for each of its tags found in
	// the question.
	tagWeight = 0.25
)

type Config struct {
	Store          Store
	Logger         logger.ILogger
	CacheTTL       time.Duration
	MatchThreshold float64
	Fallback       string
}

type Engine struct {
	store     Store
	logger    logger.ILogger
	cache     *cache.Cache
	threshold float64
	fallback  string
}

func New(cfg *Config) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if cfg.Store == nil {
		return nil, fmt.Errorf("store is nil")
	}

	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is nil")
	}

	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}

	threshold := cfg.MatchThreshold
	if threshold <= 0 {
		threshold = DefaultMatchThreshold
	}

	return &Engine{
		store:     cfg.Store,
		logger:    cfg.Logger,
		cache:     cache.New(ttl, 2*ttl),
		threshold: threshold,
		fallback:  cfg.Fallback,
	}, nil
}

// Answer returns the stored answer that best matches question, or the
// fallback phrase when nothing matches well enough. An unmatched question is
// not an error.
func (e *Engine) Answer(ctx context.Context, question string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	asked := Normalize(question)
	if asked == "" {
		return e.fallback, nil
	}

	records := e.records(ctx)
	askedTokens := tokenSet(asked)

	var (
		best      *knowledge_base.Record
		bestScore float64
	)

	for i := range records {
		r := &records[i]
		known := Normalize(r.Question)

		if known == asked {
			return r.Answer, nil
		}

		score := matchScore(askedTokens, tokenSet(known), r.Tags)
		if score > bestScore {
			best, bestScore = r, score
		}
	}

	if best == nil || bestScore < e.threshold {
		e.logger.Debug(module, "no match", map[string]interface{}{
			"question": asked,
			"score":    bestScore,
		})
		return e.fallback, nil
	}

	e.logger.Debug(module, "matched", map[string]interface{}{
		"question": asked,
		"record":   best.ID,
		"score":    bestScore,
	})

	return best.Answer, nil
}

// Teach stores a new question/answer pair and makes it visible to the next
// lookup.
func (e *Engine) Teach(ctx context.Context, question, answer string, tags []string) (int64, error) {
	id, err := e.store.Save(ctx, knowledge_base.SaveRequest{
		Question: question,
		Answer:   answer,
		Tags:     tags,
	})
	if err != nil {
		return 0, err
	}

	e.cache.Flush()

	e.logger.Info(module, "learned answer", map[string]interface{}{"record": id})

	return id, nil
}

func (e *Engine) records(ctx context.Context) []knowledge_base.Record {
	if cached, ok := e.cache.Get(recordsKey); ok {
		return cached.([]knowledge_base.Record)
	}

	records := e.store.GetAll(ctx)

	// an empty list may be a failed read, so it is fetched again next time
	if len(records) > 0 {
		e.cache.SetDefault(recordsKey, records)
	}

	return records
}

// Normalize puts text in NFC form, lower-cases it and replaces punctuation
// (the danda included) with spaces before collapsing whitespace.
func Normalize(text string) string {
	text = strings.ToLower(norm.NFC.String(text))

	text = strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			return ' '
		}
		return r
	}, text)

	return strings.Join(strings.Fields(text), " ")
}

func tokenSet(normalized string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(normalized) {
		set[tok] = struct{}{}
	}
	return set
}

// matchScore is the share of tokens two questions have in common, measured
// against the longer of the two, plus tagWeight per tag present in the asked
// question. The result is capped at 1.
func matchScore(asked, known map[string]struct{}, tags []string) float64 {
	if len(asked) == 0 || len(known) == 0 {
		return 0
	}

	shared := 0
	for tok := range known {
		if _, ok := asked[tok]; ok {
			shared++
		}
	}

	longest := len(asked)
	if len(known) > longest {
		longest = len(known)
	}

	score := float64(shared) / float64(longest)

	for _, tag := range tags {
		tag = Normalize(tag)
		if tag == "" {
			continue
		}
		if containsAll(asked, tag) {
			score += tagWeight
		}
	}

	if score > 1 {
		score = 1
	}

	return score
}

func containsAll(set map[string]struct{}, phrase string) bool {
	for _, tok := range strings.Fields(phrase) {
		if _, ok := set[tok]; !ok {
			return false
		}
	}
	return true
}
