package main

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/blueberrycongee/abgate/internal/config"
)

func corsMiddleware(cfg config.CORSConfig, next http.Handler) http.Handler {
	if !cfg.Enabled {
		return next
	}

	allowMethods := strings.Join(cfg.AllowMethods, ", ")
	allowHeaders := strings.Join(cfg.AllowHeaders, ", ")
	exposeHeaders := strings.Join(cfg.ExposeHeaders, ", ")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			next.ServeHTTP(w, r)
			return
		}

		if !isOriginAllowed(origin, cfg.AllowedOrigins, cfg.AllowAllOrigins) {
			w.WriteHeader(http.StatusForbidden)
			return
		}

		// Browsers reject "*" together with credentials, so the origin is mirrored.
		allowOrigin := origin
		if cfg.AllowAllOrigins && !cfg.AllowCredentials {
			allowOrigin = "*"
		} else {
			w.Header().Add("Vary", "Origin")
		}

		w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
		if cfg.AllowCredentials {
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		if exposeHeaders != "" {
			w.Header().Set("Access-Control-Expose-Headers", exposeHeaders)
		}

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			if allowMethods != "" {
				w.Header().Set("Access-Control-Allow-Methods", allowMethods)
			}
			headers := allowHeaders
			if headers == "" {
				headers = r.Header.Get("Access-Control-Request-Headers")
			}
			if headers != "" {
				w.Header().Set("Access-Control-Allow-Headers", headers)
			}
			if cfg.MaxAge > 0 {
				w.Header().Set("Access-Control-Max-Age", strconv.FormatInt(int64(cfg.MaxAge.Seconds()), 10))
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func isOriginAllowed(origin string, allowlist []string, allowAll bool) bool {
	if allowAll {
		return true
	}
	for _, allowed := range allowlist {
		if origin == allowed {
			return true
		}
	}
	return false
}
