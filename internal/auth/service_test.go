package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrlokans/bookshop/internal/apperrors"
	"github.com/mrlokans/bookshop/internal/entities"
)

func TestCreateUser(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	user, err := svc.CreateUser(ctx, NewUser{
		Username: "reader",
		Email:    " Reader@Example.com ",
		Password: testPassword,
	})
	require.NoError(t, err)
	assert.Equal(t, entities.UserRoleCustomer, user.Role, "role defaults to customer")
	assert.Equal(t, "reader@example.com", user.Email)
	assert.NotEqual(t, testPassword, user.PasswordHash)

	_, err = svc.CreateUser(ctx, NewUser{Username: "reader", Email: "other@example.com", Password: testPassword})
	assert.ErrorIs(t, err, ErrUserExists)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestCreateUserValidation(t *testing.T) {
	svc := setupService(t)

	_, err := svc.CreateUser(context.Background(), NewUser{Username: "x", Email: "nope", Role: "owner"})
	require.ErrorIs(t, err, apperrors.ErrValidation)

	var verr *apperrors.ValidationError
	require.ErrorAs(t, err, &verr)
	for _, field := range []string{"username", "email", "password", "role"} {
		assert.True(t, verr.HasField(field), field)
	}

	_, err = svc.CreateUser(context.Background(), NewUser{Username: "shorty", Email: "s@example.com", Password: "short"})
	assert.ErrorIs(t, err, ErrPasswordTooShort)
}

func TestAuthenticate(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()
	created := createUser(t, svc, "uploader", entities.UserRoleAdmin)

	user, err := svc.Authenticate(ctx, "uploader", testPassword)
	require.NoError(t, err)
	assert.Equal(t, created.ID, user.ID)

	user, err = svc.Authenticate(ctx, "UPLOADER@example.com", testPassword)
	require.NoError(t, err, "email login is case-insensitive")
	assert.Equal(t, created.ID, user.ID)

	_, err = svc.Authenticate(ctx, "uploader", "wrong password!")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Authenticate(ctx, "ghost", testPassword)
	assert.ErrorIs(t, err, ErrInvalidCredentials, "unknown users look like bad passwords")
}

func TestAuthenticateLocksAccount(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()
	createUser(t, svc, "target", entities.UserRoleCustomer)

	for i := 0; i < 3; i++ {
		_, err := svc.Authenticate(ctx, "target", "wrong password!")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}

	_, err := svc.Authenticate(ctx, "target", testPassword)
	assert.ErrorIs(t, err, ErrAccountLocked)
	assert.ErrorIs(t, err, apperrors.ErrRateLimited)

	svc.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = svc.Authenticate(ctx, "target", testPassword)
	assert.NoError(t, err, "lock expires")
}

func TestTokens(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()
	user := createUser(t, svc, "apiuser", entities.UserRoleCustomer)

	token, err := svc.GenerateToken(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, token, 64)

	resolved, err := svc.ValidateToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, resolved.ID)

	_, err = svc.ValidateToken(ctx, "not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	svc.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
	_, err = svc.ValidateToken(ctx, token)
	assert.ErrorIs(t, err, ErrTokenExpired)
	svc.now = time.Now

	require.NoError(t, svc.RevokeToken(ctx, user.ID))
	_, err = svc.ValidateToken(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.GenerateToken(ctx, 9999)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestCountByRole(t *testing.T) {
	svc := setupService(t)
	createUser(t, svc, "boss", entities.UserRoleSuperAdmin)
	createUser(t, svc, "buyer", entities.UserRoleCustomer)

	n, err := svc.CountByRole(context.Background(), entities.UserRoleSuperAdmin)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestPasswordHelpers(t *testing.T) {
	hash, err := HashPassword(testPassword, 4)
	require.NoError(t, err)
	assert.NoError(t, CheckPassword(testPassword, hash))
	assert.Error(t, CheckPassword("something else!", hash))

	_, err = HashPassword(string(make([]byte, 73)), 4)
	assert.ErrorIs(t, err, ErrPasswordTooLong)

	plain, hashed, err := GenerateAPIToken()
	require.NoError(t, err)
	assert.Equal(t, HashToken(plain), hashed)
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(testConfig())
	defer rl.Stop()
	now := time.Now()
	rl.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		require.NoError(t, rl.Check("1.2.3.4", "alice"))
		rl.Failure("1.2.3.4", "alice")
	}

	err := rl.Check("1.2.3.4", "Alice")
	require.ErrorIs(t, err, apperrors.ErrRateLimited)
	var limited *LimitedError
	require.ErrorAs(t, err, &limited)
	assert.Equal(t, time.Minute, limited.RetryAfter)

	assert.NoError(t, rl.Check("5.6.7.8", "alice"), "other clients are unaffected")

	now = now.Add(2 * time.Minute)
	assert.NoError(t, rl.Check("1.2.3.4", "alice"))

	rl.Failure("1.2.3.4", "bob")
	rl.Success("1.2.3.4", "bob")
	rl.cleanup()
	assert.Empty(t, rl.attempts["1.2.3.4|bob"])
}
