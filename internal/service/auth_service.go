package service

import (
	"context"
	"strings"
	"time"

	"github.com/spec-kit/sla-engine/internal/auth"
	"github.com/spec-kit/sla-engine/internal/config"
	apperrors "github.com/spec-kit/sla-engine/pkg/util/errorutil"
)

// AuthService exchanges API client credentials for access tokens.
type AuthService struct {
	clients  map[string]config.AuthClient
	tokenMgr *auth.TokenManager
	// decoy is compared for unknown clients so lookups cost the same as real ones.
	decoy string
}

// NewAuthService builds the service.
func NewAuthService(cfg config.Config) *AuthService {
	clients := make(map[string]config.AuthClient, len(cfg.Auth.Clients))
	for _, c := range cfg.Auth.Clients {
		clients[c.ID] = c
	}
	decoy, _ := auth.HashSecret(cfg.App.Name, cfg.Auth.BcryptCost)
	return &AuthService{
		clients:  clients,
		tokenMgr: auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes),
		decoy:    decoy,
	}
}

// IssueToken authenticates a client and returns a role-bearing token.
func (s *AuthService) IssueToken(_ context.Context, clientID, secret string) (string, time.Time, auth.Role, error) {
	clientID = strings.TrimSpace(clientID)
	client, ok := s.clients[clientID]
	hash := client.SecretHash
	if !ok {
		hash = s.decoy
	}
	if err := auth.CompareSecret(hash, secret); err != nil || !ok {
		return "", time.Time{}, "", apperrors.NewUnauthorized("invalid client credentials")
	}
	role := auth.ParseRole(client.Role)
	token, exp, err := s.tokenMgr.GenerateToken(client.ID, role)
	if err != nil {
		return "", time.Time{}, "", err
	}
	return token, exp, role, nil
}

// TokenManager exposes the underlying token manager for middleware usage.
func (s *AuthService) TokenManager() *auth.TokenManager {
	return s.tokenMgr
}
