package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/pairchat/internal/config"
	"github.com/iliyamo/pairchat/internal/middleware"
	"github.com/iliyamo/pairchat/internal/model"
	"github.com/iliyamo/pairchat/internal/repository"
	"github.com/iliyamo/pairchat/internal/utils"
)

// UserStore is the part of the user repository the HTTP handlers need.
type UserStore interface {
	Create(ctx context.Context, username, password string, cost int) (string, error)
	GetByUsername(ctx context.Context, username string) (model.User, error)
	List(ctx context.Context) ([]model.Contact, error)
}

// AuthHandler bundles dependencies for account and session endpoints.
type AuthHandler struct {
	Cfg   config.Config
	Users UserStore
}

func NewAuthHandler(cfg config.Config, u UserStore) *AuthHandler {
	return &AuthHandler{Cfg: cfg, Users: u}
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (r *credentials) normalize() bool {
	r.Username = repository.NormalizeUsername(r.Username)
	return r.Username != "" && r.Password != ""
}

// Register creates an account and signs the caller in.
func (h *AuthHandler) Register(c echo.Context) error {
	var req credentials
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if !req.normalize() {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "username/password required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	id, err := h.Users.Create(ctx, req.Username, req.Password, h.Cfg.BcryptCost)
	switch {
	case errors.Is(err, repository.ErrUsernameExists):
		return c.JSON(http.StatusConflict, echo.Map{"error": "username already exists"})
	case errors.Is(err, utils.ErrPasswordTooLong):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "password too long"})
	case err != nil:
		zap.S().Errorw("create user failed", "username", req.Username, "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "error registering user"})
	}

	if err := h.setSession(c, id, req.Username); err != nil {
		return err
	}
	zap.S().Infow("user registered", "user_id", id, "username", req.Username)
	return c.JSON(http.StatusCreated, echo.Map{"id": id})
}

// Login verifies credentials and sets the session cookie.
func (h *AuthHandler) Login(c echo.Context) error {
	var req credentials
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if !req.normalize() {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "username/password required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	u, err := h.Users.GetByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
		}
		zap.S().Errorw("lookup user failed", "username", req.Username, "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "error logging in"})
	}
	if !utils.VerifyPassword(u.PasswordHash, req.Password) {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	}

	if err := h.setSession(c, u.ID, u.Username); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"id": u.ID})
}

// Logout clears the session cookie.  Tokens are stateless so nothing is
// revoked server side.
func (h *AuthHandler) Logout(c echo.Context) error {
	c.SetCookie(sessionCookie("", time.Unix(0, 0)))
	return c.JSON(http.StatusOK, "ok")
}

// Profile returns the identity carried by the session cookie.  It runs
// behind middleware.CookieAuth.
func (h *AuthHandler) Profile(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{
		"userId":   middleware.UserID(c),
		"username": middleware.Username(c),
	})
}

func (h *AuthHandler) setSession(c echo.Context, userID, username string) error {
	tok, err := utils.NewAccessToken(h.Cfg.JWTSecret, userID, username, h.Cfg.TokenTTL)
	if err != nil {
		zap.S().Errorw("issue token failed", "user_id", userID, "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to generate token"})
	}
	c.SetCookie(sessionCookie(tok.Token, tok.Exp))
	return nil
}

// sessionCookie builds the cross-site session cookie.  A zero expiry makes
// it a browser-session cookie.
func sessionCookie(value string, exp time.Time) *http.Cookie {
	ck := &http.Cookie{
		Name:     middleware.TokenCookie,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
	}
	if !exp.IsZero() {
		ck.Expires = exp
	}
	if value == "" {
		ck.MaxAge = -1
	}
	return ck
}
