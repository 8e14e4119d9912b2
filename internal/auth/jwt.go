package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const userIDKey contextKey = "userID"

// CookieName is the session cookie set on login.
const CookieName = "token"

// TokenTTL is the lifetime of an issued session token.
const TokenTTL = 7 * 24 * time.Hour

var (
	ErrNoToken      = errors.New("not authenticated")
	ErrInvalidToken = errors.New("invalid token")
)

// ErrorWriter renders an authentication failure.
type ErrorWriter func(w http.ResponseWriter, status int, code, message string)

// JWTConfig holds JWT configuration
type JWTConfig struct {
	SecretKey    string
	CookieSecure bool
	now          func() time.Time
}

// NewJWTConfig creates a new JWT config
func NewJWTConfig(secretKey string, cookieSecure bool) *JWTConfig {
	return &JWTConfig{SecretKey: secretKey, CookieSecure: cookieSecure, now: time.Now}
}

// Issue signs a session token for userID.
func (c *JWTConfig) Issue(userID string) (string, time.Time, error) {
	now := c.now()
	expires := now.Add(TokenTTL)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"userId": userID,
		"iat":    now.Unix(),
		"exp":    expires.Unix(),
	})
	signed, err := token.SignedString([]byte(c.SecretKey))
	return signed, expires, err
}

// Verify returns the user id carried by a valid token.
func (c *JWTConfig) Verify(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(c.SecretKey), nil
	}, jwt.WithTimeFunc(c.now))
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}
	userID, _ := claims["userId"].(string)
	if userID == "" {
		return "", ErrInvalidToken
	}
	return userID, nil
}

// TokenFromRequest reads the session cookie, then a bearer Authorization header.
func TokenFromRequest(r *http.Request) string {
	if cookie, err := r.Cookie(CookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return ""
}

// Authenticate resolves the user of a request.
func (c *JWTConfig) Authenticate(r *http.Request) (string, error) {
	tokenString := TokenFromRequest(r)
	if tokenString == "" {
		return "", ErrNoToken
	}
	return c.Verify(tokenString)
}

// Required rejects requests without a valid session and stores the user id
// in the request context.
func (c *JWTConfig) Required(onError ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := c.Authenticate(r)
			switch {
			case errors.Is(err, ErrNoToken):
				onError(w, http.StatusUnauthorized, "unauthorized", "Not authenticated")
				return
			case err != nil:
				onError(w, http.StatusUnauthorized, "unauthorized", "Invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

// SetCookie stores the session token in an http-only cookie.
func (c *JWTConfig) SetCookie(w http.ResponseWriter, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		MaxAge:   int(TokenTTL.Seconds()),
		HttpOnly: true,
		Secure:   c.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookie expires the session cookie.
func (c *JWTConfig) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// WithUserID returns a context carrying userID.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// GetUserID extracts user ID from context
func GetUserID(ctx context.Context) string {
	if userID, ok := ctx.Value(userIDKey).(string); ok {
		return userID
	}
	return ""
}
