package memory

import (
	"context"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

// ChromemStore keeps long-term memory in chromem-go, a pure Go embedded
// vector database. Each user gets their own collection for namespace
// isolation.
type ChromemStore struct {
	db          *chromem.DB
	collections map[string]*chromem.Collection
	mu          sync.RWMutex
}

func NewChromemStore() *ChromemStore {
	return &ChromemStore{
		db:          chromem.NewDB(),
		collections: make(map[string]*chromem.Collection),
	}
}

func (s *ChromemStore) collectionFor(userID string) (*chromem.Collection, error) {
	s.mu.RLock()
	col, exists := s.collections[userID]
	s.mu.RUnlock()
	if exists {
		return col, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if col, exists := s.collections[userID]; exists {
		return col, nil
	}

	// Embeddings are supplied by the caller, so no embedding func here.
	col, err := s.db.CreateCollection(fmt.Sprintf("user_%s", userID), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	s.collections[userID] = col
	return col, nil
}

func (s *ChromemStore) Upsert(ctx context.Context, entry Entry, vector []float32) error {
	if entry.ID == "" {
		return fmt.Errorf("memory entry requires an id")
	}
	col, err := s.collectionFor(entry.UserID)
	if err != nil {
		return err
	}

	err = col.AddDocument(ctx, chromem.Document{
		ID:        entry.ID,
		Content:   entry.Text,
		Embedding: vector,
		Metadata: map[string]string{
			"user_id":         entry.UserID,
			"conversation_id": entry.ConversationID,
		},
	})
	if err != nil {
		return fmt.Errorf("upsert memory entry: %w", err)
	}
	return nil
}

func (s *ChromemStore) Query(ctx context.Context, userID string, vector []float32, topK int) ([]Match, error) {
	col, err := s.collectionFor(userID)
	if err != nil {
		return nil, err
	}

	// chromem rejects nResults greater than the collection size.
	if n := col.Count(); topK > n {
		topK = n
	}
	if topK <= 0 {
		return nil, nil
	}

	results, err := col.QueryEmbedding(ctx, vector, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query memory: %w", err)
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		matches = append(matches, Match{
			Entry: Entry{
				ID:             r.ID,
				UserID:         r.Metadata["user_id"],
				ConversationID: r.Metadata["conversation_id"],
				Text:           r.Content,
			},
			Score: r.Similarity,
		})
	}
	return matches, nil
}

func (s *ChromemStore) DeleteConversation(ctx context.Context, userID, conversationID string) error {
	s.mu.RLock()
	col, exists := s.collections[userID]
	s.mu.RUnlock()
	if !exists {
		return nil
	}
	if err := col.Delete(ctx, map[string]string{"conversation_id": conversationID}, nil); err != nil {
		return fmt.Errorf("delete conversation memories: %w", err)
	}
	return nil
}

func (s *ChromemStore) Close() error {
	// chromem keeps everything in memory, nothing to release.
	return nil
}
