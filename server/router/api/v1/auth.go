package v1

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/hrygo/chorus/server/internal/observability"
)

const (
	// Issuer is the issuer of access tokens.
	Issuer = "chorus"
	// AccessTokenAudience is the audience of access tokens.
	AccessTokenAudience = "user.access-token"
	// KeyID is the key id of the signing secret.
	KeyID = "v1"

	userIDContextKey = "user_id"
)

// GenerateAccessToken signs an HS256 token whose subject is the user id.
// A zero expirationTime never expires.
func GenerateAccessToken(userID int32, expirationTime time.Time, secret []byte) (string, error) {
	claims := &jwt.RegisteredClaims{
		Issuer:   Issuer,
		Audience: jwt.ClaimStrings{AccessTokenAudience},
		IssuedAt: jwt.NewNumericDate(time.Now()),
		Subject:  strconv.Itoa(int(userID)),
	}
	if !expirationTime.IsZero() {
		claims.ExpiresAt = jwt.NewNumericDate(expirationTime)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = KeyID
	return token.SignedString(secret)
}

// ParseAccessToken verifies a token and returns the user id of its subject.
func ParseAccessToken(tokenString string, secret []byte) (int32, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Name {
			return nil, errors.Errorf("unexpected access token signing method=%v, expect %v", t.Header["alg"], jwt.SigningMethodHS256)
		}
		if kid, ok := t.Header["kid"].(string); !ok || kid != KeyID {
			return nil, errors.Errorf("unexpected access token kid=%v", t.Header["kid"])
		}
		return secret, nil
	}, jwt.WithIssuer(Issuer), jwt.WithAudience(AccessTokenAudience))
	if err != nil {
		return 0, errors.Wrap(err, "invalid access token")
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 32)
	if err != nil {
		return 0, errors.Wrap(err, "malformed subject")
	}
	return int32(id), nil
}

// extractToken reads the bearer token, falling back to the access_token query
// parameter for EventSource clients that cannot set headers.
func extractToken(c echo.Context) string {
	if header := c.Request().Header.Get(echo.HeaderAuthorization); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return c.QueryParam("access_token")
}

// authenticate resolves the acting user and attaches a request context.
func (s *APIV1Service) authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := extractToken(c)
		if token == "" {
			return c.JSON(http.StatusUnauthorized, errorBody("UNAUTHORIZED", "authentication required"))
		}
		userID, err := ParseAccessToken(token, []byte(s.Secret))
		if err != nil {
			return c.JSON(http.StatusUnauthorized, errorBody("UNAUTHORIZED", "invalid access token"))
		}
		ctx := c.Request().Context()
		user, err := s.Store.GetUser(ctx, userID)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, errorBody("INTERNAL", "failed to get user"))
		}
		if user == nil {
			return c.JSON(http.StatusUnauthorized, errorBody("UNAUTHORIZED", "user not found"))
		}

		reqCtx := observability.NewRequestContext(s.logger, c.Request().Header.Get(echo.HeaderXRequestID), userID)
		c.SetRequest(c.Request().WithContext(observability.WithRequestContext(ctx, reqCtx)))
		c.Response().Header().Set(echo.HeaderXRequestID, reqCtx.RequestID)
		c.Set(userIDContextKey, userID)
		return next(c)
	}
}

func currentUserID(c echo.Context) int32 {
	id, _ := c.Get(userIDContextKey).(int32)
	return id
}

func requestContext(c echo.Context) *observability.RequestContext {
	if reqCtx, ok := observability.FromContext(c.Request().Context()); ok {
		return reqCtx
	}
	return observability.NewRequestContext(slog.Default(), "", currentUserID(c))
}
