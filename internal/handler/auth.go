package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/flicky/go-storefront/internal/config"
	"github.com/flicky/go-storefront/internal/dto"
	"github.com/flicky/go-storefront/internal/middleware"
	"github.com/flicky/go-storefront/internal/model"
	"github.com/flicky/go-storefront/internal/service"
)

type Accounts interface {
	Register(ctx context.Context, req dto.RegisterRequest) (*model.User, error)
	Login(ctx context.Context, req dto.LoginRequest) (string, *model.User, error)
	TokenTTL() time.Duration
}

type AuthHandler struct {
	accounts Accounts
	session  config.AuthConfig
	render   *Renderer
}

func NewAuthHandler(accounts Accounts, session config.AuthConfig, render *Renderer) *AuthHandler {
	return &AuthHandler{accounts: accounts, session: session, render: render}
}

func (h *AuthHandler) RegisterPage(c *gin.Context) {
	if middleware.CurrentUser(c) != nil {
		redirect(c, "/")
		return
	}
	h.render.Page(c, http.StatusOK, "register.html", "Register", gin.H{"Form": dto.RegisterRequest{}})
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req dto.RegisterRequest
	if err := c.ShouldBind(&req); err != nil {
		h.registerError(c, req, "Please fill in a username (3+ characters), a valid email and a password (6+ characters).")
		return
	}

	user, err := h.accounts.Register(c.Request.Context(), req)
	switch {
	case errors.Is(err, service.ErrUsernameTaken):
		h.registerError(c, req, "A user with this username already exists.")
		return
	case errors.Is(err, service.ErrEmailTaken):
		h.registerError(c, req, "A user with this email already exists.")
		return
	case err != nil:
		h.render.ServerError(c, "register user", err)
		return
	}

	middleware.SetFlash(c, middleware.FlashSuccess, "Registration successful! You can now log in as "+user.Username+".")
	redirect(c, "/login")
}

func (h *AuthHandler) registerError(c *gin.Context, req dto.RegisterRequest, message string) {
	req.Password = ""
	h.render.Page(c, http.StatusBadRequest, "register.html", "Register", gin.H{
		"Form":    req,
		"Flashes": inline(middleware.FlashDanger, message),
	})
}

func (h *AuthHandler) LoginPage(c *gin.Context) {
	next := middleware.SafeNext(c.Query("next"), "")
	if middleware.CurrentUser(c) != nil {
		redirect(c, middleware.SafeNext(next, "/"))
		return
	}
	h.render.Page(c, http.StatusOK, "login.html", "Log in", gin.H{"Next": next})
}

func (h *AuthHandler) Login(c *gin.Context) {
	next := middleware.SafeNext(c.PostForm("next"), "/")

	var req dto.LoginRequest
	if err := c.ShouldBind(&req); err != nil {
		h.loginError(c, req.Username, next)
		return
	}

	token, user, err := h.accounts.Login(c.Request.Context(), req)
	if errors.Is(err, service.ErrInvalidCredentials) {
		h.loginError(c, req.Username, next)
		return
	}
	if err != nil {
		h.render.ServerError(c, "login", err)
		return
	}

	middleware.SetSessionCookie(c, h.session.CookieName, token, int(h.accounts.TokenTTL().Seconds()), h.session.SecureCookie)
	middleware.SetFlash(c, middleware.FlashSuccess, "Welcome, "+user.Username+"!")
	redirect(c, next)
}

func (h *AuthHandler) loginError(c *gin.Context, username, next string) {
	h.render.Page(c, http.StatusUnauthorized, "login.html", "Log in", gin.H{
		"Next":     next,
		"Username": username,
		"Flashes":  inline(middleware.FlashDanger, "Invalid username or password."),
	})
}

func (h *AuthHandler) Logout(c *gin.Context) {
	middleware.ClearSessionCookie(c, h.session.CookieName, h.session.SecureCookie)
	middleware.SetFlash(c, middleware.FlashInfo, "You have been logged out.")
	redirect(c, "/")
}
