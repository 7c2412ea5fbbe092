package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/flicky/go-storefront/internal/model"
	"github.com/flicky/go-storefront/internal/service"
)

const userKey = "currentUser"

// Identifier resolves a session token to a user.
type Identifier interface {
	Identify(ctx context.Context, token string) (*model.User, error)
}

// Authenticate resolves the session once per request. Requests without a
// valid session continue anonymously; gating is left to RequireLogin and
// RequireAdmin.
func Authenticate(ident Identifier, cookieName string, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := sessionToken(c, cookieName)
		if token == "" {
			c.Next()
			return
		}

		user, err := ident.Identify(c.Request.Context(), token)
		switch {
		case err == nil:
			c.Set(userKey, user)
		case errors.Is(err, service.ErrInvalidToken):
			ClearSessionCookie(c, cookieName, false)
		default:
			log.Error("identify session", "error", err)
		}
		c.Next()
	}
}

func sessionToken(c *gin.Context, cookieName string) string {
	if header := c.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(header[len("Bearer "):])
	}
	token, err := c.Cookie(cookieName)
	if err != nil {
		return ""
	}
	return token
}

// RequireLogin sends anonymous visitors to the login page, remembering where
// they were going. API and AJAX callers get a 401 instead.
func RequireLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if CurrentUser(c) == nil {
			rejectAnonymous(c)
			return
		}
		c.Next()
	}
}

// RequireAdmin admits administrators only.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := CurrentUser(c)
		if user == nil {
			rejectAnonymous(c)
			return
		}
		if !user.IsAdmin {
			if WantsJSON(c) {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin only"})
				return
			}
			SetFlash(c, FlashDanger, "Access denied. Administrator rights are required.")
			c.Redirect(http.StatusFound, "/")
			c.Abort()
			return
		}
		c.Next()
	}
}

func rejectAnonymous(c *gin.Context) {
	if WantsJSON(c) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "login required"})
		return
	}
	SetFlash(c, FlashInfo, "Please log in to continue.")
	c.Redirect(http.StatusFound, "/login?next="+url.QueryEscape(c.Request.URL.RequestURI()))
	c.Abort()
}

// WantsJSON reports whether the caller is the JSON API or an AJAX request.
func WantsJSON(c *gin.Context) bool {
	return strings.HasPrefix(c.Request.URL.Path, "/api/") ||
		c.GetHeader("X-Requested-With") == "XMLHttpRequest"
}

func CurrentUser(c *gin.Context) *model.User {
	v, ok := c.Get(userKey)
	if !ok {
		return nil
	}
	user, _ := v.(*model.User)
	return user
}

// SafeNext returns next when it is a local path, otherwise fallback.
func SafeNext(next, fallback string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.Contains(next, "\\") {
		return fallback
	}
	u, err := url.Parse(next)
	if err != nil || u.IsAbs() || u.Host != "" {
		return fallback
	}
	return next
}

func SetSessionCookie(c *gin.Context, name, token string, maxAge int, secure bool) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(name, token, maxAge, "/", "", secure, true)
}

func ClearSessionCookie(c *gin.Context, name string, secure bool) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(name, "", -1, "/", "", secure, true)
}
