package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/ruralpay/wallet-ledger/internal/logger"
	"github.com/ruralpay/wallet-ledger/internal/models"
)

// Claims are the JWT claims issued to authenticated callers.
type Claims struct {
	AccountID string      `json:"account_id"`
	Role      models.Role `json:"role"`
	jwt.RegisteredClaims
}

// TokenService issues and verifies HS256 tokens. Revoked tokens are kept in
// Redis under blacklist:<token> until they would have expired anyway.
type TokenService struct {
	secret []byte
	expiry time.Duration
	redis  *redis.Client
	now    func() time.Time
}

func NewTokenService(secret string, expiry time.Duration, redisClient *redis.Client) *TokenService {
	return &TokenService{
		secret: []byte(secret),
		expiry: expiry,
		redis:  redisClient,
		now:    time.Now,
	}
}

// Issue signs a token for the account.
func (s *TokenService) Issue(account *models.Account) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.expiry)

	claims := Claims{
		AccountID: account.ID,
		Role:      account.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   account.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Parse verifies the signature and expiry and returns the caller identity.
func (s *TokenService) Parse(tokenString string) (models.Identity, error) {
	claims, err := s.parseClaims(tokenString)
	if err != nil {
		return models.Identity{}, err
	}
	return models.Identity{AccountID: claims.AccountID, Role: claims.Role}, nil
}

func (s *TokenService) parseClaims(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil || !token.Valid {
		return nil, models.ErrInvalidToken
	}
	if claims.AccountID == "" || !claims.Role.Valid() {
		return nil, models.ErrInvalidToken
	}
	return claims, nil
}

// Revoke blacklists the token until its expiry. Without Redis it is a no-op.
func (s *TokenService) Revoke(ctx context.Context, tokenString string) error {
	if s.redis == nil {
		return nil
	}

	claims, err := s.parseClaims(tokenString)
	if err != nil {
		return err
	}

	ttl := s.expiry
	if claims.ExpiresAt != nil {
		ttl = claims.ExpiresAt.Sub(s.now())
	}
	if ttl <= 0 {
		return nil
	}

	if err := s.redis.Set(ctx, blacklistKey(tokenString), "1", ttl).Err(); err != nil {
		logger.Errorf("[AUTH] Failed to blacklist token: %v", err)
		return fmt.Errorf("blacklist token: %w", err)
	}
	return nil
}

// IsRevoked reports whether the token was blacklisted.
func (s *TokenService) IsRevoked(ctx context.Context, tokenString string) (bool, error) {
	if s.redis == nil {
		return false, nil
	}
	n, err := s.redis.Exists(ctx, blacklistKey(tokenString)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("check blacklist: %w", err)
	}
	return n > 0, nil
}

func blacklistKey(token string) string {
	return fmt.Sprintf("blacklist:%s", token)
}
