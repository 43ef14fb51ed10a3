package auth

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ibeckermayer/modsync/internal/prefs"
)

// Authenticator exchanges credentials for a bearer token
type Authenticator interface {
	Login(ctx context.Context, username, password string) (string, error)
}

// Manager handles moderator authentication. The token lives in prefs under
// prefs.KeyToken, where the API client reads it on every call.
type Manager struct {
	authn  Authenticator
	tokens prefs.Adapter
	logger *zap.Logger
}

// NewManager creates a new auth manager
func NewManager(authn Authenticator, tokens prefs.Adapter, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{authn: authn, tokens: tokens, logger: logger}
}

// IsAuthenticated checks if a token is stored
func (m *Manager) IsAuthenticated() bool {
	tok, err := m.Token()
	return err == nil && tok != ""
}

// Token returns the stored token, empty when logged out
func (m *Manager) Token() (string, error) {
	tok, _, err := m.tokens.Get(prefs.KeyToken)
	if err != nil {
		return "", fmt.Errorf("failed to read token: %w", err)
	}
	return tok, nil
}

// Login authenticates against the server and stores the token
func (m *Manager) Login(ctx context.Context, username, password string) error {
	tok, err := m.authn.Login(ctx, username, password)
	if err != nil {
		m.logger.Warn("login failed", zap.String("username", username), zap.Error(err))
		return err
	}
	if err := m.tokens.Set(prefs.KeyToken, tok); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	m.logger.Info("logged in", zap.String("username", username))
	return nil
}

// Logout clears stored credentials
func (m *Manager) Logout() error {
	if err := m.tokens.Remove(prefs.KeyToken); err != nil {
		return fmt.Errorf("failed to clear token: %w", err)
	}
	m.logger.Info("logged out")
	return nil
}
