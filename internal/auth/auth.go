package auth

import (
	"fmt"
	"time"

	"github.com/eka-ai/billing/internal/config"
	ierr "github.com/eka-ai/billing/internal/errors"
	"github.com/golang-jwt/jwt/v4"
)

// Claims is the authenticated identity extracted from a bearer token
type Claims struct {
	UserID string
}

// TokenService validates and mints the HS256 bearer tokens issued by the
// identity service. Both sides share cfg.Auth.Secret.
type TokenService struct {
	secret string
}

func NewTokenService(cfg *config.Configuration) *TokenService {
	return &TokenService{secret: cfg.Auth.Secret}
}

func (s *TokenService) ValidateToken(token string) (*Claims, error) {
	parsedToken, err := jwt.Parse(token, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ierr.NewError("unexpected signing method").
				WithHint(fmt.Sprintf("unexpected signing method: %v", token.Header["alg"])).
				Mark(ierr.ErrPermissionDenied)
		}
		return []byte(s.secret), nil
	})
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Token parse error").
			Mark(ierr.ErrPermissionDenied)
	}

	claims, ok := parsedToken.Claims.(jwt.MapClaims)
	if !ok || !parsedToken.Valid {
		return nil, ierr.NewError("invalid token claims").
			WithHint("Invalid token claims").
			Mark(ierr.ErrPermissionDenied)
	}

	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return nil, ierr.NewError("token missing user ID").
			WithHint("Token missing user ID").
			Mark(ierr.ErrPermissionDenied)
	}

	return &Claims{UserID: userID}, nil
}

// GenerateToken mints a token for the given user with 30 days expiration
func (s *TokenService) GenerateToken(userID string) (string, error) {
	expiration := time.Now().Add(30 * 24 * time.Hour)

	claims := jwt.MapClaims{
		"user_id": userID,
		"exp":     expiration.Unix(),
		"iat":     time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.secret))
}
