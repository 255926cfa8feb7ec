package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService() *Service {
	return NewService(NewMemoryStore(), "test-secret-at-least-32-characters!!", 1, "HS256")
}

func TestRegisterAndLogin(t *testing.T) {
	svc := newTestService()

	u, err := svc.Register("alice", "hunter22", "Alice")
	require.NoError(t, err)
	assert.NotEmpty(t, u.ID)
	assert.Equal(t, defaultCoins, u.Coins)
	assert.Equal(t, defaultRating, u.Rating)

	logged, token, err := svc.Login("alice", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, u.ID, logged.ID)
	assert.NotEmpty(t, token)
}

func TestLogin_WrongPassword(t *testing.T) {
	svc := newTestService()
	_, err := svc.Register("alice", "hunter22", "")
	require.NoError(t, err)

	_, _, err = svc.Login("alice", "wrong")
	assert.ErrorIs(t, err, ErrBadCredentials)

	_, _, err = svc.Login("nobody", "hunter22")
	assert.ErrorIs(t, err, ErrBadCredentials)
}

func TestRegister_NameTaken(t *testing.T) {
	svc := newTestService()
	_, err := svc.Register("alice", "hunter22", "")
	require.NoError(t, err)

	_, err = svc.Register("alice", "other", "")
	assert.ErrorIs(t, err, ErrNameTaken)
}

func TestRegister_DisplayNameDefaultsToName(t *testing.T) {
	svc := newTestService()
	u, err := svc.Register("bob", "pw123456", "")
	require.NoError(t, err)
	assert.Equal(t, "bob", u.DisplayName)
}

func TestTokenLogin_Roundtrip(t *testing.T) {
	svc := newTestService()
	u, err := svc.Register("alice", "hunter22", "")
	require.NoError(t, err)

	_, token, err := svc.Login("alice", "hunter22")
	require.NoError(t, err)

	resolved, err := svc.TokenLogin(token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, resolved.ID)
}

func TestTokenLogin_Garbage(t *testing.T) {
	svc := newTestService()
	_, err := svc.TokenLogin("not.a.token")
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestTokenLogin_WrongKey(t *testing.T) {
	svc := newTestService()
	_, err := svc.Register("alice", "hunter22", "")
	require.NoError(t, err)
	_, token, err := svc.Login("alice", "hunter22")
	require.NoError(t, err)

	other := NewService(NewMemoryStore(), "a-different-32-character-secret-here", 1, "HS256")
	_, err = other.TokenLogin(token)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestLogin_UpdatesLastLogin(t *testing.T) {
	svc := newTestService()
	u, err := svc.Register("alice", "hunter22", "")
	require.NoError(t, err)

	before := time.Now()
	_, _, err = svc.Login("alice", "hunter22")
	require.NoError(t, err)

	stored, ok := svc.Store().GetByID(u.ID)
	require.True(t, ok)
	assert.False(t, stored.LastLogin.Before(before.Add(-time.Second)))
}

func TestUnknownAlgorithmFallsBackToHS256(t *testing.T) {
	svc := NewService(NewMemoryStore(), "test-secret-at-least-32-characters!!", 1, "RS256")
	_, err := svc.Register("alice", "hunter22", "")
	require.NoError(t, err)

	_, token, err := svc.Login("alice", "hunter22")
	require.NoError(t, err)
	_, err = svc.TokenLogin(token)
	assert.NoError(t, err)
}
