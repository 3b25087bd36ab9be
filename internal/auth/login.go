package auth

import (
	"context"
	"errors"
	"sync"
)

var (
	dummyHashOnce sync.Once
	dummyHash     string
)

// Authenticate checks username and password against repo.
//
// Unknown usernames and wrong passwords both return ErrInvalidCredentials;
// an unknown username still pays for one hash comparison so the two cases
// take similar time. Disabled accounts return ErrUserInactive after the
// password has been verified.
func Authenticate(ctx context.Context, repo UserRepository, username, password string) (*User, error) {
	user, err := repo.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			dummyHashOnce.Do(func() {
				dummyHash, _ = HashPassword("graylogic-dummy-password") //nolint:errcheck // constant input
			})
			VerifyPassword(password, dummyHash) //nolint:errcheck // timing only
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	ok, err := VerifyPassword(password, user.PasswordHash)
	if err != nil || !ok {
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, ErrUserInactive
	}
	return user, nil
}
