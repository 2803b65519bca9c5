package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"blindbox-service/internal/auth"
	"blindbox-service/internal/models"
	"blindbox-service/internal/store"
	"blindbox-service/internal/util"

	"go.uber.org/zap"
)

// UserConfig holds account and wallet settings.
type UserConfig struct {
	JWTSecret      string
	TokenTTL       time.Duration
	BcryptCost     int
	InitialBalance int64
	MaxRecharge    int64
}

// LoginResult is returned to a user that signed in.
type LoginResult struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *models.User `json:"user"`
}

// UserService handles accounts, sessions and wallet top-ups.
type UserService struct {
	store     Storage
	tokens    TokenRevoker
	publisher EventPublisher
	cfg       UserConfig
	logger    *zap.Logger
}

func NewUserService(store Storage, tokens TokenRevoker, publisher EventPublisher, cfg UserConfig) *UserService {
	return &UserService{
		store:     store,
		tokens:    tokens,
		publisher: publisher,
		cfg:       cfg,
		logger:    util.GetLogger(),
	}
}

func validateCredentials(username, password string) error {
	if n := utf8.RuneCountInString(username); n < 3 || n > 32 {
		return fmt.Errorf("%w: username must be 3 to 32 characters", ErrInvalidInput)
	}
	if strings.ContainsAny(username, " \t\r\n") {
		return fmt.Errorf("%w: username must not contain whitespace", ErrInvalidInput)
	}
	// bcrypt ignores everything past 72 bytes
	if len(password) < 8 || len(password) > 72 {
		return fmt.Errorf("%w: password must be 8 to 72 bytes", ErrInvalidInput)
	}
	return nil
}

// Register creates a user with the configured starting balance.
func (s *UserService) Register(ctx context.Context, username, password string) (*models.User, error) {
	ctx, span := util.StartSpan(ctx, "UserService.Register")
	defer span.End()

	username = strings.TrimSpace(username)
	if err := validateCredentials(username, password); err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(password, s.cfg.BcryptCost)
	if err != nil {
		return nil, util.SpanError(span, err)
	}

	user := &models.User{
		Username:     username,
		PasswordHash: hash,
		Role:         models.RoleUser,
		Balance:      s.cfg.InitialBalance,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrUsernameTaken
		}
		s.logger.Error("Failed to create user", zap.String("username", username), zap.Error(err))
		return nil, util.SpanError(span, storageFailure("create user", err))
	}

	util.UsersRegisteredTotal.Inc()
	s.logger.Info("User registered", zap.Int64("user_id", user.ID), zap.String("username", username))
	return user, nil
}

// Login checks credentials and issues a signed token.
func (s *UserService) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	ctx, span := util.StartSpan(ctx, "UserService.Login")
	defer span.End()

	user, err := s.store.GetUserByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, util.SpanError(span, storageFailure("load user", err))
	}

	if !auth.CheckPassword(user.PasswordHash, password) {
		s.logger.Warn("Login failed", zap.String("username", user.Username))
		return nil, ErrInvalidCredentials
	}

	ttl := s.cfg.TokenTTL
	if ttl <= 0 {
		ttl = auth.DefaultTokenTTL
	}
	token, err := auth.GenerateToken(s.cfg.JWTSecret, ttl, user.ID, user.Username, user.Role)
	if err != nil {
		return nil, util.SpanError(span, err)
	}

	s.logger.Info("User logged in", zap.Int64("user_id", user.ID), zap.String("role", user.Role))
	return &LoginResult{Token: token, ExpiresAt: time.Now().Add(ttl), User: user}, nil
}

// Logout denylists the presented token for the rest of its lifetime.
func (s *UserService) Logout(ctx context.Context, claims *auth.Claims) error {
	if claims == nil || claims.ID == "" {
		return fmt.Errorf("%w: token has no id", ErrInvalidInput)
	}
	if err := s.tokens.RevokeToken(ctx, claims.ID, claims.Remaining()); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	s.logger.Info("User logged out", zap.Int64("user_id", claims.UserID))
	return nil
}

func (s *UserService) Profile(ctx context.Context, userID int64) (*models.User, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, storageFailure("load user", err)
	}
	return user, nil
}

// Recharge credits the wallet and returns the new balance.
func (s *UserService) Recharge(ctx context.Context, userID, amount int64) (int64, error) {
	ctx, span := util.StartSpan(ctx, "UserService.Recharge")
	defer span.End()

	if amount <= 0 {
		return 0, fmt.Errorf("%w: amount must be positive", ErrInvalidAmount)
	}
	if s.cfg.MaxRecharge > 0 && amount > s.cfg.MaxRecharge {
		return 0, fmt.Errorf("%w: amount exceeds the limit of %d", ErrInvalidAmount, s.cfg.MaxRecharge)
	}

	balance, err := s.store.CreditUser(ctx, userID, amount)
	if errors.Is(err, store.ErrNotFound) {
		return 0, ErrUserNotFound
	}
	if err != nil {
		s.logger.Error("Failed to recharge", zap.Int64("user_id", userID), zap.Error(err))
		return 0, util.SpanError(span, storageFailure("credit user", err))
	}

	util.RechargesTotal.Inc()
	s.logger.Info("Balance recharged", zap.Int64("user_id", userID), zap.Int64("amount", amount))

	event := &models.BalanceRechargedEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypeBalanceRecharged),
		UserID:    userID,
		Amount:    amount,
		Balance:   balance,
	}
	if err := s.publisher.PublishBalanceRecharged(ctx, event); err != nil {
		util.EventsPublishFailed.WithLabelValues(models.EventTypeBalanceRecharged).Inc()
		s.logger.Error("Failed to publish BalanceRecharged event", zap.Error(err))
	}
	return balance, nil
}
