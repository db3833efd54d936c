package transform

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/relaymesh/gateway/internal/config"
)

// applyCORS emits the configured CORS response headers.
func applyCORS(h http.Header, cfg *config.CORSConfig) {
	if cfg.AllowOrigin != "" {
		h.Set("Access-Control-Allow-Origin", cfg.AllowOrigin)
	}
	if len(cfg.AllowMethods) > 0 {
		h.Set("Access-Control-Allow-Methods", strings.Join(cfg.AllowMethods, ", "))
	}
	if len(cfg.AllowHeaders) > 0 {
		h.Set("Access-Control-Allow-Headers", strings.Join(cfg.AllowHeaders, ", "))
	}
	if len(cfg.ExposeHeaders) > 0 {
		h.Set("Access-Control-Expose-Headers", strings.Join(cfg.ExposeHeaders, ", "))
	}
	if cfg.AllowCredentials {
		h.Set("Access-Control-Allow-Credentials", "true")
	}
	if cfg.MaxAge > 0 {
		h.Set("Access-Control-Max-Age", strconv.Itoa(cfg.MaxAge))
	}
}
