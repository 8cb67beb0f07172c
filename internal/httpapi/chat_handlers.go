package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/GobindChoudhary/AI-Chatbot/internal/store"
)

type createConversationRequest struct {
	Title string `json:"title"`
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())

	var req createConversationRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", "malformed body")
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = "New chat"
	}

	conv, err := s.users.CreateConversation(r.Context(), user.ID, title)
	if err != nil {
		s.logger.Error("conversation create failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal_error", "could not create conversation")
		return
	}
	respondJSON(w, http.StatusCreated, conv)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())

	convs, err := s.users.ListConversations(r.Context(), user.ID)
	if err != nil {
		s.logger.Error("conversation list failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal_error", "could not list conversations")
		return
	}
	respondJSON(w, http.StatusOK, convs)
}

// handleDeleteConversation removes the conversation, its messages, and
// its long-term memory entries. The memory cascade is best-effort: a
// vector-store failure does not resurrect the already-deleted messages.
func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	id := chi.URLParam(r, "id")

	conv, err := s.ownedConversation(w, r, user, id)
	if err != nil {
		return
	}

	if err := s.users.DeleteConversation(r.Context(), conv.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "conversation_not_found", "conversation does not exist")
			return
		}
		s.logger.Error("conversation delete failed", zap.String("conversation_id", conv.ID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal_error", "could not delete conversation")
		return
	}

	if err := s.memories.DeleteConversation(r.Context(), user.ID, conv.ID); err != nil {
		s.logger.Warn("memory cascade delete failed",
			zap.String("conversation_id", conv.ID),
			zap.Error(err))
	}

	respondJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	id := chi.URLParam(r, "id")

	conv, err := s.ownedConversation(w, r, user, id)
	if err != nil {
		return
	}

	msgs, err := s.users.ListRecentMessages(r.Context(), conv.ID, s.cfg.ShortTermLimit)
	if err != nil {
		s.logger.Error("message list failed", zap.String("conversation_id", conv.ID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal_error", "could not list messages")
		return
	}
	if msgs == nil {
		msgs = []store.Message{}
	}
	respondJSON(w, http.StatusOK, msgs)
}

// ownedConversation loads the conversation and enforces ownership,
// writing the error response itself on failure.
func (s *Server) ownedConversation(w http.ResponseWriter, r *http.Request, user store.User, id string) (store.Conversation, error) {
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "missing conversation id")
		return store.Conversation{}, errors.New("missing id")
	}

	conv, err := s.users.GetConversation(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "conversation_not_found", "conversation does not exist")
			return store.Conversation{}, err
		}
		s.logger.Error("conversation lookup failed", zap.String("conversation_id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal_error", "could not load conversation")
		return store.Conversation{}, err
	}
	if conv.UserID != user.ID {
		// Indistinguishable from missing on purpose.
		respondError(w, http.StatusNotFound, "conversation_not_found", "conversation does not exist")
		return store.Conversation{}, errors.New("not owner")
	}
	return conv, nil
}
