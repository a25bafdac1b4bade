package services

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"

	"skills-studio/apperr"
)

// SessionClaims are the claims the identity provider puts in bearer tokens.
type SessionClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// RevocationStore remembers logged-out token ids until they expire.
type RevocationStore interface {
	Revoke(ctx context.Context, tokenID string, ttl time.Duration) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// RedisRevocationStore keeps revoked token ids as expiring keys.
type RedisRevocationStore struct {
	client *redis.Client
}

func NewRedisRevocationStore(client *redis.Client) *RedisRevocationStore {
	return &RedisRevocationStore{client: client}
}

func revocationKey(tokenID string) string {
	return "session:revoked:" + tokenID
}

func (r *RedisRevocationStore) Revoke(ctx context.Context, tokenID string, ttl time.Duration) error {
	return r.client.Set(ctx, revocationKey(tokenID), 1, ttl).Err()
}

func (r *RedisRevocationStore) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := r.client.Exists(ctx, revocationKey(tokenID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SessionVerifier validates HS256 session tokens.
type SessionVerifier struct {
	secret  []byte
	issuer  string
	revoked RevocationStore
	now     func() time.Time
}

// NewSessionVerifier builds a verifier. revoked may be nil, in which case
// logout is not supported.
func NewSessionVerifier(secret, issuer string, revoked RevocationStore) *SessionVerifier {
	return &SessionVerifier{secret: []byte(secret), issuer: issuer, revoked: revoked, now: time.Now}
}

func (v *SessionVerifier) parse(token string) (*SessionClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &SessionClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperr.Unauthorized(apperr.ReasonInvalidCredential, "session expired")
		}
		return nil, apperr.Unauthorized(apperr.ReasonInvalidCredential, "invalid session token")
	}
	if claims.Subject == "" {
		return nil, apperr.Unauthorized(apperr.ReasonInvalidCredential, "session token has no subject")
	}
	return claims, nil
}

// Verify returns the principal for a valid, unrevoked token.
func (v *SessionVerifier) Verify(ctx context.Context, token string) (*Principal, *SessionClaims, error) {
	if token == "" {
		return nil, nil, apperr.Unauthorized(apperr.ReasonMissingCredential, "missing session token")
	}
	claims, err := v.parse(token)
	if err != nil {
		return nil, nil, err
	}
	if v.revoked != nil && claims.ID != "" {
		revoked, err := v.revoked.IsRevoked(ctx, claims.ID)
		if err != nil {
			return nil, nil, err
		}
		if revoked {
			return nil, nil, apperr.Unauthorized(apperr.ReasonInvalidCredential, "session revoked")
		}
	}
	return &Principal{UserID: claims.Subject, Email: claims.Email}, claims, nil
}

// Revoke invalidates a verified token for the rest of its lifetime. It
// reports false when nothing was stored: no revocation store is configured,
// or the token has no id or has already expired.
func (v *SessionVerifier) Revoke(ctx context.Context, claims *SessionClaims) (bool, error) {
	if v.revoked == nil || claims == nil || claims.ID == "" || claims.ExpiresAt == nil {
		return false, nil
	}
	ttl := claims.ExpiresAt.Sub(v.now())
	if ttl <= 0 {
		return false, nil
	}
	if err := v.revoked.Revoke(ctx, claims.ID, ttl); err != nil {
		return false, err
	}
	return true, nil
}
