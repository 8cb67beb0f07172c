package memory

import "context"

// Entry is the persisted semantic record derived from one message. Its
// ID is the originating message's ID; its metadata must always match the
// source message's owner and conversation.
type Entry struct {
	ID             string `json:"id"`
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id"`
	Text           string `json:"text"`
}

// Match is a similarity search hit, highest score first.
type Match struct {
	Entry Entry   `json:"entry"`
	Score float32 `json:"score"`
}

// Store is the long-term vector memory boundary. Upserts are idempotent
// by entry ID; Query is always scoped to a single owner so one user's
// memories never leak into another's context.
type Store interface {
	Upsert(ctx context.Context, entry Entry, vector []float32) error
	Query(ctx context.Context, userID string, vector []float32, topK int) ([]Match, error)
	DeleteConversation(ctx context.Context, userID, conversationID string) error
	Close() error
}
