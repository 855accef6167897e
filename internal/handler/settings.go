package handler

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/garyagent/dashboard/internal/domain"
	"github.com/garyagent/dashboard/internal/service"
)

// SettingsHandler handles the Telegram notification settings.
type SettingsHandler struct {
	settings service.SettingStore
	notifier *service.Notifier
}

// NewSettingsHandler creates a new SettingsHandler.
func NewSettingsHandler(settings service.SettingStore, notifier *service.Notifier) *SettingsHandler {
	return &SettingsHandler{settings: settings, notifier: notifier}
}

// Register mounts the settings routes.
func (h *SettingsHandler) Register(g *echo.Group, jwtAuth echo.MiddlewareFunc) {
	g.GET("/settings/telegram", h.Get, jwtAuth)
	g.PATCH("/settings/telegram", h.Update, jwtAuth)
	g.POST("/settings/telegram/test", h.Test, jwtAuth)
}

type telegramSettings struct {
	Template string `json:"template"`
	ChatID   string `json:"chat_id"`
}

// Get returns the current notification template and chat id.
func (h *SettingsHandler) Get(c echo.Context) error {
	ctx := c.Request().Context()

	template, err := h.settings.Get(ctx, domain.SettingTelegramTemplate, service.DefaultTemplate)
	if err != nil {
		return err
	}
	chatID, err := h.settings.Get(ctx, domain.SettingTelegramChatID, "")
	if err != nil {
		return err
	}

	return JSON(c, http.StatusOK, telegramSettings{Template: template, ChatID: chatID})
}

// Update stores the provided settings. Omitted fields are left unchanged.
func (h *SettingsHandler) Update(c echo.Context) error {
	var body struct {
		Template *string `json:"template"`
		ChatID   *string `json:"chat_id"`
	}
	if err := c.Bind(&body); err != nil {
		return fmt.Errorf("%w: invalid request body", domain.ErrInvalidInput)
	}

	ctx := c.Request().Context()
	if body.Template != nil {
		if err := h.settings.Set(ctx, domain.SettingTelegramTemplate, *body.Template); err != nil {
			return err
		}
	}
	if body.ChatID != nil {
		if err := h.settings.Set(ctx, domain.SettingTelegramChatID, *body.ChatID); err != nil {
			return err
		}
	}

	return h.Get(c)
}

// Test sends a test message through the configured channel.
func (h *SettingsHandler) Test(c echo.Context) error {
	if err := h.notifier.SendTest(c.Request().Context(),
		"Test notification from the dashboard."); err != nil {
		return err
	}
	return JSON(c, http.StatusOK, map[string]string{"status": "sent"})
}
