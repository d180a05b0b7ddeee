package auth

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm/logger"

	"github.com/mrlokans/bookshop/internal/config"
	"github.com/mrlokans/bookshop/internal/database"
	"github.com/mrlokans/bookshop/internal/entities"
)

const testPassword = "correct horse battery"

func testConfig() config.Auth {
	return config.Auth{
		SessionLifetime:  time.Hour,
		TokenExpiry:      24 * time.Hour,
		BcryptCost:       bcrypt.MinCost,
		MaxLoginAttempts: 3,
		RateLimitWindow:  time.Minute,
		LockoutDuration:  time.Minute,
	}
}

func setupDB(t *testing.T) *database.Database {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "auth.db"), database.Options{LogLevel: logger.Silent})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func setupService(t *testing.T) *Service {
	t.Helper()
	return NewService(setupDB(t).DB, testConfig(), nil)
}

func createUser(t *testing.T, svc *Service, username string, role entities.UserRole) *entities.User {
	t.Helper()
	user, err := svc.CreateUser(context.Background(), NewUser{
		Username: username,
		Email:    username + "@example.com",
		Password: testPassword,
		Role:     role,
	})
	require.NoError(t, err)
	return user
}
