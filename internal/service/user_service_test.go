package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"blindbox-service/internal/auth"
	"blindbox-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "test-secret"

type userFixture struct {
	store     *memStorage
	revoker   *memRevoker
	publisher *recordingPublisher
	svc       *UserService
}

func newUserFixture() *userFixture {
	f := &userFixture{store: newMemStorage(), revoker: &memRevoker{}, publisher: &recordingPublisher{}}
	f.svc = NewUserService(f.store, f.revoker, f.publisher, UserConfig{
		JWTSecret:      testSecret,
		TokenTTL:       time.Hour,
		BcryptCost:     bcrypt.MinCost,
		InitialBalance: 100,
		MaxRecharge:    1000,
	})
	return f
}

func TestRegister(t *testing.T) {
	f := newUserFixture()

	user, err := f.svc.Register(context.Background(), "  alice ", "password123")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	assert.Equal(t, models.RoleUser, user.Role)
	assert.Equal(t, int64(100), user.Balance)
	assert.NotEqual(t, "password123", user.PasswordHash)
	assert.True(t, auth.CheckPassword(user.PasswordHash, "password123"))
}

func TestRegisterDuplicateUsername(t *testing.T) {
	f := newUserFixture()

	_, err := f.svc.Register(context.Background(), "alice", "password123")
	require.NoError(t, err)

	_, err = f.svc.Register(context.Background(), "alice", "different-pass")
	assert.ErrorIs(t, err, ErrUsernameTaken)
}

func TestRegisterValidation(t *testing.T) {
	tests := []struct {
		name     string
		username string
		password string
	}{
		{"short username", "ab", "password123"},
		{"long username", strings.Repeat("a", 33), "password123"},
		{"whitespace", "al ice", "password123"},
		{"short password", "alice", "short"},
		{"long password", "alice", strings.Repeat("p", 73)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newUserFixture()
			_, err := f.svc.Register(context.Background(), tt.username, tt.password)
			assert.ErrorIs(t, err, ErrInvalidInput)
			assert.Empty(t, f.store.st.users)
		})
	}
}

func TestRegisterStorageFailure(t *testing.T) {
	f := newUserFixture()
	f.store.failOn = map[string]error{"CreateUser": errors.New("connection reset")}

	_, err := f.svc.Register(context.Background(), "alice", "password123")
	assert.ErrorIs(t, err, ErrStorage)
}

func TestLogin(t *testing.T) {
	f := newUserFixture()
	user, err := f.svc.Register(context.Background(), "alice", "password123")
	require.NoError(t, err)

	res, err := f.svc.Login(context.Background(), "alice", "password123")
	require.NoError(t, err)
	assert.Equal(t, user.ID, res.User.ID)
	assert.WithinDuration(t, time.Now().Add(time.Hour), res.ExpiresAt, time.Minute)

	claims, err := auth.ValidateToken(testSecret, res.Token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, models.RoleUser, claims.Role)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	f := newUserFixture()
	_, err := f.svc.Register(context.Background(), "alice", "password123")
	require.NoError(t, err)

	_, err = f.svc.Login(context.Background(), "alice", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = f.svc.Login(context.Background(), "nobody", "password123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLogoutRevokesToken(t *testing.T) {
	f := newUserFixture()
	_, err := f.svc.Register(context.Background(), "alice", "password123")
	require.NoError(t, err)
	res, err := f.svc.Login(context.Background(), "alice", "password123")
	require.NoError(t, err)
	claims, err := auth.ValidateToken(testSecret, res.Token)
	require.NoError(t, err)

	require.NoError(t, f.svc.Logout(context.Background(), claims))

	ttl, ok := f.revoker.revoked[claims.ID]
	require.True(t, ok)
	assert.Greater(t, ttl, 59*time.Minute)
}

func TestLogoutWithoutTokenID(t *testing.T) {
	f := newUserFixture()

	err := f.svc.Logout(context.Background(), &auth.Claims{UserID: 1})
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Empty(t, f.revoker.revoked)
}

func TestProfile(t *testing.T) {
	f := newUserFixture()
	u := f.store.addUser("alice", 5)

	got, err := f.svc.Profile(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.Balance)

	_, err = f.svc.Profile(context.Background(), 404)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestRecharge(t *testing.T) {
	f := newUserFixture()
	u := f.store.addUser("alice", 10)

	balance, err := f.svc.Recharge(context.Background(), u.ID, 40)
	require.NoError(t, err)
	assert.Equal(t, int64(50), balance)
	assert.Equal(t, int64(50), f.store.balance(u.ID))
	assert.Equal(t, []string{models.EventTypeBalanceRecharged}, f.publisher.types())
}

func TestRechargeRejectsBadAmounts(t *testing.T) {
	f := newUserFixture()
	u := f.store.addUser("alice", 10)

	for _, amount := range []int64{0, -5, 1001} {
		_, err := f.svc.Recharge(context.Background(), u.ID, amount)
		assert.ErrorIs(t, err, ErrInvalidAmount, "amount %d", amount)
	}
	assert.Equal(t, int64(10), f.store.balance(u.ID))
	assert.Empty(t, f.publisher.types())
}

func TestRechargeUnknownUser(t *testing.T) {
	f := newUserFixture()

	_, err := f.svc.Recharge(context.Background(), 404, 10)
	assert.ErrorIs(t, err, ErrUserNotFound)
}
