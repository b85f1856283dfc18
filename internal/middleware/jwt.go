package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/pairchat/internal/hub"
	"github.com/iliyamo/pairchat/internal/utils"
)

// TokenCookie is the name of the cookie carrying the session token.
const TokenCookie = "token"

// CookieAuth validates the session token stored in the "token" cookie and
// injects the user's id and username into the request context under
// "user_id" and "username".  Requests without a valid token get 401.
func CookieAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ck, err := c.Cookie(TokenCookie)
			if err != nil || ck.Value == "" {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "Unauthorized - No token provided"})
			}
			claims, err := utils.ParseAccessToken(secret, ck.Value)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "Unauthorized - Invalid token"})
			}
			c.Set(ctxUserID, claims.UserID)
			c.Set(ctxUsername, claims.Username)
			return next(c)
		}
	}
}

// TokenVerifier resolves websocket handshake tokens with the same secret
// used for HTTP sessions.
type TokenVerifier struct {
	Secret string
}

var errEmptyToken = errors.New("empty token")

func (v TokenVerifier) Verify(_ context.Context, token string) (hub.Identity, error) {
	if token == "" {
		return hub.Identity{}, errEmptyToken
	}
	claims, err := utils.ParseAccessToken(v.Secret, token)
	if err != nil {
		return hub.Identity{}, err
	}
	return hub.Identity{UserID: claims.UserID, Username: claims.Username}, nil
}
