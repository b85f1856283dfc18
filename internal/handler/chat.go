package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/pairchat/internal/hub"
	"github.com/iliyamo/pairchat/internal/middleware"
	"github.com/iliyamo/pairchat/internal/model"
)

// HistoryStore reads stored conversations.
type HistoryStore interface {
	Between(ctx context.Context, a, b string) ([]model.Message, error)
}

// ChatHandler serves the read side of the chat: contacts, history and the
// presence roster.
type ChatHandler struct {
	Users   UserStore
	History HistoryStore
	Hub     *hub.Hub
}

func NewChatHandler(u UserStore, m HistoryStore, h *hub.Hub) *ChatHandler {
	return &ChatHandler{Users: u, History: m, Hub: h}
}

// People lists every registered user.
func (h *ChatHandler) People(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	people, err := h.Users.List(ctx)
	if err != nil {
		zap.S().Errorw("failed to fetch users", "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to fetch users"})
	}
	return c.JSON(http.StatusOK, people)
}

// Messages returns the conversation between the caller and :userId,
// oldest first.
func (h *ChatHandler) Messages(c echo.Context) error {
	other := strings.TrimSpace(c.Param("userId"))
	if other == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "userId required"})
	}
	me := middleware.UserID(c)

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	msgs, err := h.History.Between(ctx, me, other)
	if err != nil {
		zap.S().Errorw("failed to fetch messages", "user_id", me, "other", other, "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to fetch messages"})
	}
	return c.JSON(http.StatusOK, msgs)
}

// Online returns the presence snapshot in the same shape as the websocket
// presence frame.
func (h *ChatHandler) Online(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"online": h.Hub.Presence()})
}
