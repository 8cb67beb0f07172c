package auth

import (
	"context"
	"errors"

	"github.com/GobindChoudhary/AI-Chatbot/internal/store"
)

// UserLookup resolves a verified token subject to an account.
type UserLookup interface {
	GetUserByID(ctx context.Context, id string) (store.User, error)
}

// Authenticator turns a raw cookie token into a known user.
type Authenticator struct {
	issuer *TokenIssuer
	users  UserLookup
}

func NewAuthenticator(issuer *TokenIssuer, users UserLookup) *Authenticator {
	return &Authenticator{issuer: issuer, users: users}
}

// Issuer exposes the underlying token issuer for login handlers.
func (a *Authenticator) Issuer() *TokenIssuer { return a.issuer }

// Authenticate verifies the token and loads the user it names.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (store.User, error) {
	userID, err := a.issuer.Verify(token)
	if err != nil {
		return store.User{}, err
	}

	user, err := a.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.User{}, ErrIdentityNotFound
		}
		return store.User{}, err
	}
	return user, nil
}
