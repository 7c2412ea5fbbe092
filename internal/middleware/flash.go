package middleware

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	flashCookie = "flash"
	flashOutKey = "flashOut"
	flashInKey  = "flashIn"
)

// Flash categories map to the alert styles used by the templates.
const (
	FlashSuccess = "success"
	FlashInfo    = "info"
	FlashWarning = "warning"
	FlashDanger  = "danger"
)

type Flash struct {
	Category string `json:"c"`
	Message  string `json:"m"`
}

// SetFlash queues a message for the next rendered page.
func SetFlash(c *gin.Context, category, message string) {
	var pending []Flash
	if v, ok := c.Get(flashOutKey); ok {
		pending, _ = v.([]Flash)
	}
	pending = append(pending, Flash{Category: category, Message: message})
	c.Set(flashOutKey, pending)

	data, err := json.Marshal(pending)
	if err != nil {
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(flashCookie, base64.RawURLEncoding.EncodeToString(data), 0, "/", "", false, true)
}

// PopFlashes returns the messages queued by the previous response and
// clears them. Repeated calls within one request return the same messages.
func PopFlashes(c *gin.Context) []Flash {
	if v, ok := c.Get(flashInKey); ok {
		flashes, _ := v.([]Flash)
		return flashes
	}

	var flashes []Flash
	if raw, err := c.Cookie(flashCookie); err == nil && raw != "" {
		if data, err := base64.RawURLEncoding.DecodeString(raw); err == nil {
			_ = json.Unmarshal(data, &flashes)
		}
		c.SetCookie(flashCookie, "", -1, "/", "", false, true)
	}
	c.Set(flashInKey, flashes)
	return flashes
}
