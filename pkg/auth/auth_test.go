package auth

import (
	"mealbuddy/internal/app"
	"mealbuddy/internal/config"
	"mealbuddy/internal/logging"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var alice = User{ID: "u-1", Email: "alice@example.com", Role: "user"}

func newManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager("test-secret", time.Minute, time.Hour)
	require.NoError(t, err)
	return m
}

func TestNewManager_RequiresSecret(t *testing.T) {
	_, err := NewManager("", 0, 0)
	assert.ErrorIs(t, err, ErrMissingSecret)

	m, err := NewManager("s", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, m.AccessTTL())
	assert.Equal(t, 7*24*time.Hour, m.RefreshTTL())
}

func TestIssueAndVerify(t *testing.T) {
	m := newManager(t)

	pair, err := m.Issue(alice)
	require.NoError(t, err)
	assert.Equal(t, "Bearer", pair.TokenType)
	assert.Equal(t, int64(60), pair.ExpiresIn)

	claims, err := m.VerifyAccess(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, &alice, claims.User())
	assert.NotEmpty(t, claims.ID)

	refresh, err := m.VerifyRefresh(pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, claims.ID, refresh.ID)
}

func TestVerify_RejectsWrongType(t *testing.T) {
	m := newManager(t)
	pair, err := m.Issue(alice)
	require.NoError(t, err)

	_, err = m.VerifyAccess(pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = m.VerifyRefresh(pair.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_RejectsForeignAndExpiredTokens(t *testing.T) {
	m := newManager(t)
	other, err := NewManager("other-secret", time.Minute, time.Hour)
	require.NoError(t, err)

	pair, err := other.Issue(alice)
	require.NoError(t, err)
	_, err = m.VerifyAccess(pair.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	pair, err = m.Issue(alice)
	require.NoError(t, err)
	m.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = m.VerifyAccess(pair.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = m.VerifyAccess("not.a.jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_RejectsNoneAlgorithm(t *testing.T) {
	m := newManager(t)
	claims := Claims{UserID: "u-1", Type: AccessToken, RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    issuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = m.VerifyAccess(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRevoke(t *testing.T) {
	m := newManager(t)
	pair, err := m.Issue(alice)
	require.NoError(t, err)

	claims, err := m.VerifyAccess(pair.AccessToken)
	require.NoError(t, err)

	m.Revoke(claims)
	assert.True(t, m.IsRevoked(claims.ID))
	_, err = m.VerifyAccess(pair.AccessToken)
	assert.ErrorIs(t, err, ErrRevokedToken)

	// Other tokens are unaffected
	_, err = m.VerifyRefresh(pair.RefreshToken)
	assert.NoError(t, err)

	m.Revoke(nil)
	m.Revoke(&Claims{})
}

func TestExtractToken(t *testing.T) {
	tok, err := ExtractToken("Bearer abc.def")
	require.NoError(t, err)
	assert.Equal(t, "abc.def", tok)

	tok, err = ExtractToken("bearer   xyz ")
	require.NoError(t, err)
	assert.Equal(t, "xyz", tok)

	for _, bad := range []string{"", "Bearer", "Basic abc", "Bearer  "} {
		_, err := ExtractToken(bad)
		assert.Error(t, err, bad)
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("s3cret-pass")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "argon2id$v=19$m=65536,t=3,p=4$"))

	ok, err := VerifyPassword(hash, "s3cret-pass")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyPassword(hash, "wrong-pass1")
	require.NoError(t, err)
	assert.False(t, ok)

	again, err := HashPassword("s3cret-pass")
	require.NoError(t, err)
	assert.NotEqual(t, hash, again, "salt must differ")

	_, err = VerifyPassword("plaintext", "x")
	assert.Error(t, err)
	_, err = VerifyPassword("argon2id$v=19$m=1,t=1,p=1$!!!$abc", "x")
	assert.Error(t, err)
}

func TestValidatePassword(t *testing.T) {
	assert.NoError(t, ValidatePassword("mealtime42"))
	assert.Error(t, ValidatePassword("short1"))
	assert.Error(t, ValidatePassword("onlyletters"))
	assert.Error(t, ValidatePassword("1234567890"))
	assert.Error(t, ValidatePassword(strings.Repeat("a1", 70)))
}

func TestExtension(t *testing.T) {
	t.Run("production requires secret", func(t *testing.T) {
		cfg := config.Default()
		cfg.Environment = config.EnvProduction
		a := app.New(cfg, logging.Discard())

		err := a.InitExtension(NewExtension())
		assert.ErrorIs(t, err, ErrMissingSecret)
	})

	t.Run("development falls back to ephemeral secret", func(t *testing.T) {
		a := app.New(config.Default(), logging.Discard())
		ext := NewExtension()
		require.NoError(t, a.InitExtension(ext))
		require.NotNil(t, ext.Manager())

		pair, err := ext.Manager().Issue(alice)
		require.NoError(t, err)
		_, err = ext.Manager().VerifyAccess(pair.AccessToken)
		assert.NoError(t, err)
	})

	t.Run("configured secret and lifetimes", func(t *testing.T) {
		cfg := config.Default()
		cfg.JWTSecret = "configured"
		cfg.AccessTokenExpiry = 5 * time.Minute
		a := app.New(cfg, logging.Discard())
		ext := NewExtension()
		require.NoError(t, a.InitExtension(ext))

		assert.Equal(t, 5*time.Minute, ext.Manager().AccessTTL())
		direct, err := NewManager("configured", time.Minute, time.Hour)
		require.NoError(t, err)
		pair, err := direct.Issue(alice)
		require.NoError(t, err)
		_, err = ext.Manager().VerifyAccess(pair.AccessToken)
		assert.NoError(t, err)
	})
}
