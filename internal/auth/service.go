package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/mrlokans/bookshop/internal/apperrors"
	"github.com/mrlokans/bookshop/internal/config"
	"github.com/mrlokans/bookshop/internal/entities"
)

var (
	usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,64}$`)
	emailPattern    = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
)

var (
	ErrUserExists         = fmt.Errorf("user already exists: %w", apperrors.ErrConflict)
	ErrInvalidCredentials = fmt.Errorf("invalid username or password: %w", apperrors.ErrUnauthenticated)
	ErrInvalidToken       = fmt.Errorf("invalid token: %w", apperrors.ErrUnauthenticated)
	ErrTokenExpired       = fmt.Errorf("token expired: %w", apperrors.ErrUnauthenticated)
	ErrAccountLocked      = fmt.Errorf("account locked after repeated failed logins: %w", apperrors.ErrRateLimited)
	ErrUserNotFound       = fmt.Errorf("user %w", apperrors.ErrNotFound)
)

// NewUser is a registration request.
type NewUser struct {
	Username string            `json:"username"`
	Email    string            `json:"email"`
	Password string            `json:"password"`
	Role     entities.UserRole `json:"-"`
}

// Validate reports every invalid field at once. Password length is checked
// when hashing.
func (n NewUser) Validate() error {
	verr := &apperrors.ValidationError{}
	if !usernamePattern.MatchString(n.Username) {
		verr.Add("username", "must be 3-64 characters of letters, digits, underscore or hyphen")
	}
	if len(n.Email) > 254 || !emailPattern.MatchString(n.Email) {
		verr.Add("email", "is not a valid address")
	}
	if n.Password == "" {
		verr.Add("password", "is required")
	}
	if !n.Role.Valid() {
		verr.Add("role", "must be customer, admin or superadmin")
	}
	return verr.OrNil()
}

// Service handles users, credentials and API tokens.
type Service struct {
	db     *gorm.DB
	config config.Auth
	logger *zap.Logger
	now    func() time.Time
}

func NewService(db *gorm.DB, cfg config.Auth, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: db, config: cfg, logger: logger, now: time.Now}
}

// CreateUser stores a user with a bcrypt password hash.
func (s *Service) CreateUser(ctx context.Context, n NewUser) (*entities.User, error) {
	n.Username = strings.TrimSpace(n.Username)
	n.Email = strings.ToLower(strings.TrimSpace(n.Email))
	if n.Role == "" {
		n.Role = entities.UserRoleCustomer
	}
	if err := n.Validate(); err != nil {
		return nil, err
	}

	var existing int64
	err := s.db.WithContext(ctx).Model(&entities.User{}).
		Where("username = ? OR email = ?", n.Username, n.Email).
		Count(&existing).Error
	if err != nil {
		return nil, fmt.Errorf("check existing user: %w", err)
	}
	if existing > 0 {
		return nil, ErrUserExists
	}

	hash, err := HashPassword(n.Password, s.config.BcryptCost)
	if err != nil {
		return nil, err
	}

	user := &entities.User{
		Username:     n.Username,
		Email:        n.Email,
		PasswordHash: hash,
		Role:         n.Role,
	}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.logger.Info("user created",
		zap.Uint("user_id", user.ID),
		zap.String("username", user.Username),
		zap.String("role", string(user.Role)))
	return user, nil
}

// Authenticate validates credentials by username or email. Accounts lock for
// LockoutDuration after MaxLoginAttempts consecutive failures.
func (s *Service) Authenticate(ctx context.Context, login, password string) (*entities.User, error) {
	var user entities.User
	err := s.db.WithContext(ctx).
		Where("username = ? OR email = ?", login, strings.ToLower(login)).
		First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}

	now := s.now()
	if user.LockedUntil != nil && now.Before(*user.LockedUntil) {
		return nil, ErrAccountLocked
	}

	if err := CheckPassword(password, user.PasswordHash); err != nil {
		s.recordFailedLogin(ctx, &user, now)
		if errors.Is(err, errPasswordMismatch) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	err = s.db.WithContext(ctx).Model(&user).Updates(map[string]any{
		"last_login_at":      now,
		"failed_login_count": 0,
		"locked_until":       nil,
	}).Error
	if err != nil {
		s.logger.Warn("failed to record login", zap.Uint("user_id", user.ID), zap.Error(err))
	}
	return &user, nil
}

func (s *Service) recordFailedLogin(ctx context.Context, user *entities.User, now time.Time) {
	user.FailedLoginCount++
	updates := map[string]any{"failed_login_count": user.FailedLoginCount}

	maxAttempts := s.config.MaxLoginAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if user.FailedLoginCount >= maxAttempts {
		lockout := s.config.LockoutDuration
		if lockout <= 0 {
			lockout = 30 * time.Minute
		}
		updates["locked_until"] = now.Add(lockout)
		s.logger.Warn("account locked",
			zap.Uint("user_id", user.ID),
			zap.Int("failed_attempts", user.FailedLoginCount))
	}

	if err := s.db.WithContext(ctx).Model(user).Updates(updates).Error; err != nil {
		s.logger.Warn("failed to record failed login", zap.Uint("user_id", user.ID), zap.Error(err))
	}
}

func (s *Service) GetUserByID(ctx context.Context, id uint) (*entities.User, error) {
	var user entities.User
	err := s.db.WithContext(ctx).First(&user, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// ValidateToken resolves a plaintext bearer token to its user.
func (s *Service) ValidateToken(ctx context.Context, token string) (*entities.User, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}

	var user entities.User
	err := s.db.WithContext(ctx).Where("token_hash = ?", HashToken(token)).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}

	if s.config.TokenExpiry > 0 && user.TokenCreatedAt != nil &&
		s.now().Sub(*user.TokenCreatedAt) > s.config.TokenExpiry {
		return nil, ErrTokenExpired
	}
	return &user, nil
}

// GenerateToken replaces the user's API token and returns the plaintext once.
func (s *Service) GenerateToken(ctx context.Context, userID uint) (string, error) {
	plaintext, hash, err := GenerateAPIToken()
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}

	result := s.db.WithContext(ctx).Model(&entities.User{}).Where("id = ?", userID).Updates(map[string]any{
		"token_hash":       hash,
		"token_created_at": s.now(),
	})
	if result.Error != nil {
		return "", fmt.Errorf("save token: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return "", ErrUserNotFound
	}
	return plaintext, nil
}

// RevokeToken removes the user's API token.
func (s *Service) RevokeToken(ctx context.Context, userID uint) error {
	err := s.db.WithContext(ctx).Model(&entities.User{}).Where("id = ?", userID).Updates(map[string]any{
		"token_hash":       "",
		"token_created_at": nil,
	}).Error
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// CountByRole returns how many users hold role.
func (s *Service) CountByRole(ctx context.Context, role entities.UserRole) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&entities.User{}).Where("role = ?", role).Count(&count).Error
	return count, err
}
