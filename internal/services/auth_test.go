package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/ruralpay/wallet-ledger/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTokenService(t *testing.T) (*TokenService, redismock.ClientMock) {
	t.Helper()
	db, mock := redismock.NewClientMock()
	svc := NewTokenService("test-secret", 24*time.Hour, db)
	svc.now = func() time.Time { return fixedNow }
	return svc, mock
}

func TestTokenService_IssueAndParse(t *testing.T) {
	svc, _ := newTokenService(t)
	account := &models.Account{ID: "acc-1", Role: models.RoleAdmin}

	token, expiresAt, err := svc.Issue(account)
	require.NoError(t, err)
	assert.Equal(t, fixedNow.Add(24*time.Hour), expiresAt)

	identity, err := svc.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, models.Identity{AccountID: "acc-1", Role: models.RoleAdmin}, identity)

	t.Run("expired", func(t *testing.T) {
		later := *svc
		later.now = func() time.Time { return fixedNow.Add(25 * time.Hour) }
		_, err := later.Parse(token)
		assert.ErrorIs(t, err, models.ErrInvalidToken)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := NewTokenService("another-secret", time.Hour, nil)
		other.now = svc.now
		_, err := other.Parse(token)
		assert.ErrorIs(t, err, models.ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := svc.Parse("not.a.token")
		assert.ErrorIs(t, err, models.ErrInvalidToken)
	})

	t.Run("missing role", func(t *testing.T) {
		raw := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"account_id": "acc-1",
			"exp":        fixedNow.Add(time.Hour).Unix(),
		})
		signed, err := raw.SignedString([]byte("test-secret"))
		require.NoError(t, err)

		_, err = svc.Parse(signed)
		assert.ErrorIs(t, err, models.ErrInvalidToken)
	})

	t.Run("none algorithm rejected", func(t *testing.T) {
		raw := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{AccountID: "acc-1", Role: models.RoleAdmin})
		signed, err := raw.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = svc.Parse(signed)
		assert.ErrorIs(t, err, models.ErrInvalidToken)
	})
}

func TestTokenService_Revoke(t *testing.T) {
	ctx := context.Background()
	account := &models.Account{ID: "acc-1", Role: models.RolePlayer}

	t.Run("blacklists until expiry", func(t *testing.T) {
		svc, mock := newTokenService(t)
		token, _, err := svc.Issue(account)
		require.NoError(t, err)

		mock.ExpectSet("blacklist:"+token, "1", 24*time.Hour).SetVal("OK")
		assert.NoError(t, svc.Revoke(ctx, token))

		mock.ExpectExists("blacklist:" + token).SetVal(1)
		revoked, err := svc.IsRevoked(ctx, token)
		require.NoError(t, err)
		assert.True(t, revoked)

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not revoked", func(t *testing.T) {
		svc, mock := newTokenService(t)
		mock.ExpectExists("blacklist:abc").SetVal(0)

		revoked, err := svc.IsRevoked(ctx, "abc")
		require.NoError(t, err)
		assert.False(t, revoked)
	})

	t.Run("redis failure", func(t *testing.T) {
		svc, mock := newTokenService(t)
		token, _, err := svc.Issue(account)
		require.NoError(t, err)

		mock.ExpectSet("blacklist:"+token, "1", 24*time.Hour).SetErr(errors.New("connection refused"))
		assert.Error(t, svc.Revoke(ctx, token))

		mock.ExpectExists("blacklist:" + token).SetErr(errors.New("connection refused"))
		_, err = svc.IsRevoked(ctx, token)
		assert.Error(t, err)
	})

	t.Run("invalid token is not stored", func(t *testing.T) {
		svc, mock := newTokenService(t)
		assert.ErrorIs(t, svc.Revoke(ctx, "garbage"), models.ErrInvalidToken)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("without redis", func(t *testing.T) {
		svc := NewTokenService("test-secret", time.Hour, nil)
		token, _, err := svc.Issue(account)
		require.NoError(t, err)

		assert.NoError(t, svc.Revoke(ctx, token))
		revoked, err := svc.IsRevoked(ctx, token)
		require.NoError(t, err)
		assert.False(t, revoked)
	})
}
