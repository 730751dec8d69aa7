// Package memory stores conversation summaries as embeddings so past
// sessions remain searchable after the transcript is closed.
package memory

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"burrow/internal/logging"
)

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbedderFunc adapts a function to the Embedder interface.
type EmbedderFunc func(ctx context.Context, text string) ([]float32, error)

func (f EmbedderFunc) Embed(ctx context.Context, text string) ([]float32, error) {
	return f(ctx, text)
}

// NewOpenAIEmbedder embeds through an OpenAI-compatible embeddings endpoint.
func NewOpenAIEmbedder(baseURL, apiKey, model string) Embedder {
	return EmbedderFunc(chromem.NewEmbeddingFuncOpenAICompat(baseURL, apiKey, model, nil))
}

// Summary is one stored conversation summary.
type Summary struct {
	ConversationID string
	AgentID        string
	Text           string
	CreatedAt      time.Time
}

// Hit is one search result.
type Hit struct {
	Summary    Summary
	Similarity float32
}

// Store persists and searches summaries.
type Store interface {
	Save(ctx context.Context, summary Summary) error
	Search(ctx context.Context, agentID, query string, topK int) ([]Hit, error)
}

// chromemStore implements Store on chromem-go with gob persistence.
type chromemStore struct {
	db         *chromem.DB
	collection *chromem.Collection
	logger     logging.Logger
}

// NewStore opens (or creates) the summary collection. An empty persistPath
// keeps everything in memory.
func NewStore(persistPath string, embedder Embedder) (Store, error) {
	var db *chromem.DB
	var err error
	if persistPath != "" {
		db, err = chromem.NewPersistentDB(filepath.Join(persistPath, "memory.gob"), false)
		if err != nil {
			return nil, fmt.Errorf("open memory db: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	embed := func(ctx context.Context, text string) ([]float32, error) {
		return embedder.Embed(ctx, text)
	}
	collection, err := db.GetOrCreateCollection("summaries", nil, embed)
	if err != nil {
		return nil, fmt.Errorf("open summary collection: %w", err)
	}

	return &chromemStore{
		db:         db,
		collection: collection,
		logger:     logging.NewComponentLogger("Memory"),
	}, nil
}

func (s *chromemStore) Save(ctx context.Context, summary Summary) error {
	if summary.Text == "" {
		return nil
	}
	created := summary.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	err := s.collection.AddDocument(ctx, chromem.Document{
		ID:      summary.ConversationID,
		Content: summary.Text,
		Metadata: map[string]string{
			"agent_id":   summary.AgentID,
			"created_at": created.Format(time.RFC3339),
		},
	})
	if err != nil {
		return fmt.Errorf("save summary %s: %w", summary.ConversationID, err)
	}
	s.logger.Debug("stored summary for conversation %s", summary.ConversationID)
	return nil
}

func (s *chromemStore) Search(ctx context.Context, agentID, query string, topK int) ([]Hit, error) {
	if topK <= 0 {
		topK = 5
	}
	count := s.collection.Count()
	if count == 0 {
		return nil, nil
	}
	if topK > count {
		topK = count
	}

	var where map[string]string
	if agentID != "" {
		where = map[string]string{"agent_id": agentID}
	}
	results, err := s.collection.Query(ctx, query, topK, where, nil)
	if err != nil {
		return nil, fmt.Errorf("query summaries: %w", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		created, _ := time.Parse(time.RFC3339, r.Metadata["created_at"])
		hits = append(hits, Hit{
			Summary: Summary{
				ConversationID: r.ID,
				AgentID:        r.Metadata["agent_id"],
				Text:           r.Content,
				CreatedAt:      created,
			},
			Similarity: r.Similarity,
		})
	}
	return hits, nil
}
