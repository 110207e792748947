package transport

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prudhvinik1/offlinesync/internal/clock"
)

type TokenSource interface {
	Token() (string, error)
}

// JWTTokenSource mints a short-lived HS256 bearer token for every request.
type JWTTokenSource struct {
	secret  []byte
	subject string
	expiry  time.Duration
	clock   clock.Clock
}

func NewJWTTokenSource(secret, subject string, expiry time.Duration, clk clock.Clock) (*JWTTokenSource, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &JWTTokenSource{
		secret:  []byte(secret),
		subject: subject,
		expiry:  expiry,
		clock:   clk,
	}, nil
}

func (s *JWTTokenSource) Token() (string, error) {
	now := s.clock.Now()
	claims := jwt.MapClaims{
		"sub": s.subject,
		"jti": uuid.NewString(),
		"iat": now.Unix(),
		"exp": now.Add(s.expiry).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}
