package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-api/internal/model"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
)

// Claims carries the caller's identity. Subject holds the user id.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// JWTService verifies bearer tokens issued by the clinic's identity
// provider. Issue exists for tooling and tests.
type JWTService interface {
	Issue(actor model.Actor, ttl time.Duration) (string, error)
	Verify(token string) (model.Actor, error)
}

type hmacService struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewJWTService(secret, issuer string) JWTService {
	return &hmacService{secret: []byte(secret), issuer: issuer, now: time.Now}
}

func (s *hmacService) Issue(actor model.Actor, ttl time.Duration) (string, error) {
	now := s.now()
	claims := Claims{
		Role: string(actor.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.UserID.String(),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func (s *hmacService) Verify(token string) (model.Actor, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return s.secret, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return model.Actor{}, apperrors.Unauthorized(errors.New("token expired"))
		}
		return model.Actor{}, apperrors.Unauthorized(err)
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return model.Actor{}, apperrors.Unauthorized(fmt.Errorf("invalid subject: %w", err))
	}
	role, err := model.ParseRole(claims.Role)
	if err != nil {
		return model.Actor{}, apperrors.Unauthorized(err)
	}
	return model.Actor{UserID: userID, Role: role}, nil
}
