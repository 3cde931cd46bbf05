// Package server normalizes and validates HTTP origins for WebSocket
// upgrade requests against the configured allow-list.
package server

import (
	"log"
	"net/http"
	"net/url"
	"strings"
)

// normalizeOrigins canonicalizes a configured origin list. A literal "*"
// entry switches the server to allow-all mode; invalid entries are logged
// and dropped.
func normalizeOrigins(origins []string) ([]string, bool) {
	var normalized []string
	allowAll := false

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		switch {
		case trimmed == "":
			continue
		case trimmed == "*":
			allowAll = true
		default:
			canonical, ok := normalizeOrigin(trimmed)
			if !ok {
				log.Printf("Ignoring invalid origin in configuration: %q", origin)
				continue
			}
			normalized = append(normalized, canonical)
		}
	}

	return normalized, allowAll
}

// normalizeOrigin lowercases the scheme and host of an origin so that
// configured and presented values compare consistently.
func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}

// checkOrigin is the gorilla upgrader hook. A request with a missing or
// unlisted Origin header is refused before the upgrade completes.
func checkOrigin(r *http.Request) bool {
	header := r.Header.Get("Origin")
	canonical, ok := normalizeOrigin(header)
	if !ok {
		log.Printf("Blocked WebSocket connection with unparseable origin: %q", header)
		return false
	}

	configMu.RLock()
	defer configMu.RUnlock()

	if allowAllOrigins {
		return true
	}
	if _, allowed := allowedOrigins[canonical]; allowed {
		return true
	}

	log.Printf("Blocked WebSocket connection from disallowed origin: %q", header)
	return false
}
