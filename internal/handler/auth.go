package handler

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/garyagent/dashboard/internal/domain"
	"github.com/garyagent/dashboard/internal/service"
)

// AuthHandler handles authentication endpoints.
type AuthHandler struct {
	auth     *service.AuthService
	analyzer *service.Analyzer
}

// NewAuthHandler creates a new AuthHandler. analyzer may be nil to disable
// the login-time re-analysis sweep.
func NewAuthHandler(auth *service.AuthService, analyzer *service.Analyzer) *AuthHandler {
	return &AuthHandler{auth: auth, analyzer: analyzer}
}

// Register mounts the auth routes.
func (h *AuthHandler) Register(g *echo.Group, jwtAuth echo.MiddlewareFunc) {
	g.GET("/auth/github", h.Redirect)
	g.GET("/auth/github/callback", h.Callback)
	g.POST("/auth/refresh", h.Refresh)
	g.GET("/auth/me", h.Me, jwtAuth)
}

// Redirect sends the user to GitHub's OAuth consent page.
func (h *AuthHandler) Redirect(c echo.Context) error {
	state := generateState()
	c.SetCookie(&http.Cookie{
		Name:     "oauth_state",
		Value:    state,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   600,
	})
	return c.Redirect(http.StatusTemporaryRedirect, h.auth.AuthURL(state))
}

// Callback handles the OAuth callback from GitHub. A successful login kicks
// off a background re-analysis of every connected repo.
func (h *AuthHandler) Callback(c echo.Context) error {
	if err := validateOAuthState(c); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}

	code := c.QueryParam("code")
	if code == "" {
		return fmt.Errorf("%w: missing code parameter", domain.ErrInvalidInput)
	}

	user, tokens, err := h.auth.Callback(c.Request().Context(), code)
	if err != nil {
		return err
	}

	if h.analyzer != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			h.analyzer.ReanalyzeAll(ctx)
		}()
	}

	return JSON(c, http.StatusOK, map[string]any{
		"user":   user,
		"tokens": tokens,
	})
}

// Me returns the currently authenticated user.
func (h *AuthHandler) Me(c echo.Context) error {
	userID, ok := GetUserID(c)
	if !ok {
		return domain.ErrUnauthorized
	}

	user, err := h.auth.GetUser(c.Request().Context(), userID)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, user)
}

// Refresh generates a new token pair from a refresh token.
func (h *AuthHandler) Refresh(c echo.Context) error {
	var body struct {
		RefreshToken string `json:"refresh_token" validate:"required"`
	}
	if err := c.Bind(&body); err != nil {
		return fmt.Errorf("%w: invalid request body", domain.ErrInvalidInput)
	}
	if err := c.Validate(&body); err != nil {
		return err
	}

	tokens, err := h.auth.RefreshAccessToken(body.RefreshToken)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, tokens)
}

func generateState() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "fallback-state"
	}
	return base64.URLEncoding.EncodeToString(b)
}

func validateOAuthState(c echo.Context) error {
	cookie, err := c.Cookie("oauth_state")
	if err != nil {
		return fmt.Errorf("missing oauth_state cookie")
	}

	queryState := c.QueryParam("state")
	if queryState == "" || queryState != cookie.Value {
		return fmt.Errorf("state mismatch")
	}
	return nil
}
