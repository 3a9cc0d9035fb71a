package services

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// AuthService issues and checks the bearer tokens hosts present to the
// bridge and the REST API.
type AuthService interface {
	GenerateToken(hostID string) (string, error)
	ValidateToken(tokenString string) (*Claims, error)
}

type Claims struct {
	HostID string `json:"host_id"`
	jwt.RegisteredClaims
}

type authService struct {
	jwtSecret []byte
	issuer    string
	tokenTTL  time.Duration
	now       func() time.Time
}

func NewAuthService(jwtSecret, issuer string, tokenTTL time.Duration) AuthService {
	return &authService{
		jwtSecret: []byte(jwtSecret),
		issuer:    issuer,
		tokenTTL:  tokenTTL,
		now:       time.Now,
	}
}

func (s *authService) GenerateToken(hostID string) (string, error) {
	now := s.now()
	claims := &Claims{
		HostID: hostID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   hostID,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *authService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.jwtSecret, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithTimeFunc(s.now))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid && claims.HostID != "" {
		return claims, nil
	}

	return nil, ErrInvalidToken
}
