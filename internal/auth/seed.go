package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

const (
	seedUsername      = "owner"
	seedPasswordBytes = 16
)

// Logger is the logging surface used by this package.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// SeedOwner creates an "owner" account with a random password when the
// users table is empty and returns that password. It returns "" when
// accounts already exist.
func SeedOwner(ctx context.Context, repo UserRepository, logger Logger) (string, error) {
	n, err := repo.Count(ctx)
	if err != nil {
		return "", fmt.Errorf("checking user count: %w", err)
	}
	if n > 0 {
		logger.Info("users exist, skipping owner seed")
		return "", nil
	}

	raw := make([]byte, seedPasswordBytes)
	if _, err := rand.Read(raw); err != nil { //nolint:govet // shadow
		return "", fmt.Errorf("generating seed password: %w", err)
	}
	password := hex.EncodeToString(raw)

	hash, err := HashPassword(password)
	if err != nil {
		return "", fmt.Errorf("hashing seed password: %w", err)
	}

	owner := &User{
		Username:     seedUsername,
		DisplayName:  "System Owner",
		PasswordHash: hash,
		Role:         RoleOwner,
		IsActive:     true,
	}
	if err := repo.Create(ctx, owner); err != nil {
		return "", fmt.Errorf("creating seed owner: %w", err)
	}

	logger.Warn("seed owner account created",
		"username", seedUsername,
		"password", password,
		"action_required", "change this password immediately",
	)
	return password, nil
}
