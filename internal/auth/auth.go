// Package auth guards the control surface: operators sign in with their
// wallet (SIWE) and receive a JWT that the mutating routes require.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	siwe "github.com/spruceid/siwe-go"
)

// Errors returned by the auth service.
var (
	ErrInvalidSignature = errors.New("auth: invalid SIWE signature")
	ErrNonceNotFound    = errors.New("auth: nonce not found or expired")
	ErrInvalidToken     = errors.New("auth: invalid or expired JWT token")
	ErrNotOperator      = errors.New("auth: address is not an operator")
)

// NonceStore keeps one-time sign-in nonces. *redis.Client satisfies it.
type NonceStore interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	GetDel(ctx context.Context, key string) *redis.StringCmd
}

// OperatorClaims identifies the signed-in operator.
type OperatorClaims struct {
	Address   string    `json:"address"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Service issues and checks operator tokens.
type Service struct {
	nonces    NonceStore
	jwtSecret []byte
	jwtTTL    time.Duration
	nonceTTL  time.Duration
	// operators holds lowercased addresses; empty admits any signer.
	operators map[string]struct{}
}

// NewService creates a new auth service.
func NewService(nonces NonceStore, jwtSecret string, operators []string) *Service {
	ops := make(map[string]struct{}, len(operators))
	for _, op := range operators {
		if op = strings.TrimSpace(op); op != "" {
			ops[strings.ToLower(op)] = struct{}{}
		}
	}
	return &Service{
		nonces:    nonces,
		jwtSecret: []byte(jwtSecret),
		jwtTTL:    24 * time.Hour,
		nonceTTL:  5 * time.Minute,
		operators: ops,
	}
}

// GenerateNonce creates a random nonce valid for five minutes.
func (s *Service) GenerateNonce(ctx context.Context) (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("auth: generate nonce: %w", err)
	}
	nonce := hex.EncodeToString(b)

	if err := s.nonces.Set(ctx, nonceKey(nonce), "1", s.nonceTTL).Err(); err != nil {
		return "", fmt.Errorf("auth: store nonce: %w", err)
	}
	return nonce, nil
}

// VerifySIWE checks a signed SIWE message, consumes its nonce and issues a
// JWT for the signing operator.
func (s *Service) VerifySIWE(ctx context.Context, message string, signature string) (string, error) {
	msg, err := siwe.ParseMessage(message)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if _, err := msg.Verify(signature, nil, nil, nil); err != nil {
		return "", ErrInvalidSignature
	}

	res, err := s.nonces.GetDel(ctx, nonceKey(msg.GetNonce())).Result()
	if err != nil || res == "" {
		return "", ErrNonceNotFound
	}

	address := msg.GetAddress().String()
	if !s.isOperator(address) {
		return "", ErrNotOperator
	}
	token, err := s.issueJWT(address)
	if err != nil {
		return "", fmt.Errorf("auth: issue JWT: %w", err)
	}
	return token, nil
}

func (s *Service) isOperator(address string) bool {
	if len(s.operators) == 0 {
		return true
	}
	_, ok := s.operators[strings.ToLower(address)]
	return ok
}

// ValidateJWT verifies a token and returns its claims.
func (s *Service) ValidateJWT(tokenStr string) (*OperatorClaims, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method: %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}
	address, _ := claims["sub"].(string)
	if address == "" || !s.isOperator(address) {
		return nil, ErrInvalidToken
	}
	iat, _ := claims.GetIssuedAt()
	exp, _ := claims.GetExpirationTime()
	if iat == nil || exp == nil {
		return nil, ErrInvalidToken
	}

	return &OperatorClaims{
		Address:   address,
		IssuedAt:  iat.Time,
		ExpiresAt: exp.Time,
	}, nil
}

func (s *Service) issueJWT(address string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": address,
		"iat": jwt.NewNumericDate(now),
		"exp": jwt.NewNumericDate(now.Add(s.jwtTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
}

func nonceKey(nonce string) string {
	return "socialagent:auth:nonce:" + nonce
}

type contextKey string

const claimsKey contextKey = "operatorClaims"

// Middleware rejects requests without a valid bearer token with 401 and
// stores the operator claims in the request context.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		tokenStr, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || tokenStr == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid authorization header")
			return
		}
		claims, err := s.ValidateJWT(tokenStr)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
	})
}

// ClaimsFromContext returns the operator claims, or nil.
func ClaimsFromContext(ctx context.Context) *OperatorClaims {
	claims, _ := ctx.Value(claimsKey).(*OperatorClaims)
	return claims
}
