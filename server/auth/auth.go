// Package auth issues and validates session tokens for the API.
package auth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/chatloom/chatloom/store"
)

const (
	// SessionCookieName is the browser session cookie.
	SessionCookieName = "chatloom_session"

	sessionContextKey = "chatloom/session"

	issuer     = "chatloom"
	sessionTTL = 30 * 24 * time.Hour
)

// Session identifies the caller for the rest of the request.
type Session struct {
	UserID   string
	UserType store.UserType
}

type claims struct {
	UserType string `json:"userType"`
	jwt.RegisteredClaims
}

// GenerateToken mints a signed session token.
func GenerateToken(secret, userID string, userType store.UserType) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims{
		UserType: string(userType),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(sessionTTL)),
		},
	})
	return token.SignedString([]byte(secret))
}

func parseToken(secret, tokenString string) (*Session, error) {
	var c claims
	token, err := jwt.ParseWithClaims(tokenString, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid || c.Subject == "" {
		return nil, fmt.Errorf("invalid token")
	}

	userType := store.UserType(c.UserType)
	if userType != store.UserTypeRegistered {
		userType = store.UserTypeGuest
	}
	return &Session{UserID: c.Subject, UserType: userType}, nil
}

// Middleware authenticates requests via bearer token or session cookie and
// stores the session in the echo context. Requests without a valid session
// are rejected.
func Middleware(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tokenString := tokenFromRequest(c)
			if tokenString == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing session token")
			}
			session, err := parseToken(secret, tokenString)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid session token")
			}
			c.Set(sessionContextKey, session)
			return next(c)
		}
	}
}

func tokenFromRequest(c echo.Context) string {
	if h := c.Request().Header.Get(echo.HeaderAuthorization); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if cookie, err := c.Cookie(SessionCookieName); err == nil {
		return cookie.Value
	}
	return ""
}

// SessionFrom returns the authenticated session, or nil when the request
// skipped the middleware.
func SessionFrom(c echo.Context) *Session {
	if s, ok := c.Get(sessionContextKey).(*Session); ok {
		return s
	}
	return nil
}
