package http

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	stdhttp "net/http"
	"strings"
	"time"

	"github.com/dkeye/Relay/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

const (
	adminHeader     = "x-admin-token"
	adminSessionKey = "admin_token"
	adminSubject    = "admin"
)

var (
	ErrBadPassword   = errors.New("invalid password")
	ErrLoginDisabled = errors.New("admin login disabled")
	ErrInvalidToken  = errors.New("invalid admin token")
)

// AdminClaims ties a token to the password it was issued under, so changing
// the password revokes every outstanding token.
type AdminClaims struct {
	Generation string `json:"gen"`
	jwt.RegisteredClaims
}

type AdminAuth struct {
	Secret []byte
	TTL    time.Duration
	now    func() time.Time
}

func NewAdminAuth(secret string, ttl time.Duration) *AdminAuth {
	return &AdminAuth{Secret: []byte(secret), TTL: ttl, now: time.Now}
}

func passwordGeneration(stored string) string {
	sum := sha256.Sum256([]byte(stored))
	return hex.EncodeToString(sum[:8])
}

// CheckPassword accepts a bcrypt hash or a legacy plaintext password.
func CheckPassword(stored, given string) error {
	if stored == "" {
		return ErrLoginDisabled
	}
	if strings.HasPrefix(stored, "$2") {
		if err := bcrypt.CompareHashAndPassword([]byte(stored), []byte(given)); err != nil {
			return ErrBadPassword
		}
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(given)) != 1 {
		return ErrBadPassword
	}
	return nil
}

func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func (a *AdminAuth) Issue(settings *domain.Settings) (string, error) {
	now := a.now()
	claims := AdminClaims{
		Generation: passwordGeneration(settings.AdminPassword),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   adminSubject,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.TTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.Secret)
}

func (a *AdminAuth) Verify(settings *domain.Settings, token string) error {
	if token == "" {
		return ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &AdminClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return a.Secret, nil
	}, jwt.WithTimeFunc(a.now))
	if err != nil || !parsed.Valid {
		return ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*AdminClaims)
	if !ok || claims.Subject != adminSubject {
		return ErrInvalidToken
	}
	if claims.Generation != passwordGeneration(settings.AdminPassword) {
		return ErrInvalidToken
	}
	return nil
}

// Middleware accepts the token from the header or from the cookie session.
func (a *AdminAuth) Middleware(current func() *domain.Settings) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader(adminHeader)
		if token == "" {
			if v, ok := sessions.Default(c).Get(adminSessionKey).(string); ok {
				token = v
			}
		}
		if err := a.Verify(current(), token); err != nil {
			log.Debug().Str("module", "adapters.http").Str("ip", c.ClientIP()).Msg("admin auth rejected")
			c.AbortWithStatusJSON(stdhttp.StatusUnauthorized, gin.H{"error": "Auth"})
			return
		}
		c.Next()
	}
}
