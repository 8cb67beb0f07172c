package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/GobindChoudhary/AI-Chatbot/internal/auth"
	"github.com/GobindChoudhary/AI-Chatbot/internal/store"
)

const sessionCookie = "token"

type ctxKey int

const userCtxKey ctxKey = iota

func userFrom(ctx context.Context) store.User {
	user, _ := ctx.Value(userCtxKey).(store.User)
	return user
}

// requireUser resolves the session cookie to a user or rejects with 401.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(sessionCookie)
		if err != nil {
			respondError(w, http.StatusUnauthorized, "not_authenticated", "missing session cookie")
			return
		}

		user, err := s.authn.Authenticate(r.Context(), cookie.Value)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrNoCredential),
				errors.Is(err, auth.ErrInvalidCredential),
				errors.Is(err, auth.ErrIdentityNotFound):
				respondError(w, http.StatusUnauthorized, "not_authenticated", "invalid or expired session")
			default:
				s.logger.Warn("authentication lookup failed", zap.Error(err))
				respondError(w, http.StatusInternalServerError, "internal_error", "authentication failed")
			}
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userCtxKey, user)))
	})
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "malformed body")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Username == "" || req.Email == "" || len(req.Password) < 6 {
		respondError(w, http.StatusBadRequest, "invalid_request", "username, email and a password of at least 6 characters are required")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.logger.Error("password hash failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal_error", "registration failed")
		return
	}

	user, err := s.users.CreateUser(r.Context(), req.Username, req.Email, hash)
	if err != nil {
		if errors.Is(err, store.ErrUserExists) {
			respondError(w, http.StatusConflict, "user_exists", "username or email already registered")
			return
		}
		s.logger.Error("user create failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal_error", "registration failed")
		return
	}

	if !s.setSessionCookie(w, user.ID) {
		respondError(w, http.StatusInternalServerError, "internal_error", "registration failed")
		return
	}
	respondJSON(w, http.StatusCreated, user)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "malformed body")
		return
	}

	user, err := s.users.GetUserByEmail(r.Context(), strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusUnauthorized, "invalid_credentials", "email or password is incorrect")
			return
		}
		s.logger.Error("user lookup failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal_error", "login failed")
		return
	}

	if !auth.CheckPassword(user.PasswordHash, req.Password) {
		respondError(w, http.StatusUnauthorized, "invalid_credentials", "email or password is incorrect")
		return
	}

	if !s.setSessionCookie(w, user.ID) {
		respondError(w, http.StatusInternalServerError, "internal_error", "login failed")
		return
	}
	respondJSON(w, http.StatusOK, user)
}

func (s *Server) handleLogout(w http.ResponseWriter, _ *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	respondJSON(w, http.StatusOK, map[string]any{"status": "logged_out"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, userFrom(r.Context()))
}

func (s *Server) setSessionCookie(w http.ResponseWriter, userID string) bool {
	token, err := s.authn.Issuer().Issue(userID)
	if err != nil {
		s.logger.Error("token issue failed", zap.Error(err))
		return false
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.authn.Issuer().TTL().Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return true
}
