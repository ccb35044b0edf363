package cache

import (
	"context"

	"github.com/dmitrijs2005/declaro/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/declaro/internal/logging"
)

const (
	AuthNamespace = "auth"
	tokenKey      = "token"
)

// TokenStore keeps the bearer token in the auth namespace.
type TokenStore struct {
	ns Namespace
}

func NewTokenStore(repo metadata.Repository, log logging.Logger) *TokenStore {
	return &TokenStore{ns: NewNamespace(repo, AuthNamespace, log)}
}

// Token returns "" when no token is stored.
func (s *TokenStore) Token(ctx context.Context) (string, error) {
	var tok string
	if _, err := s.ns.Load(ctx, tokenKey, &tok); err != nil {
		return "", err
	}
	return tok, nil
}

func (s *TokenStore) SetToken(ctx context.Context, token string) error {
	return s.ns.Save(ctx, tokenKey, token)
}

func (s *TokenStore) ClearToken(ctx context.Context) error {
	return s.ns.Remove(ctx, tokenKey)
}
