// Package origin validates browser Origin headers for the WebSocket
// endpoint.
//
// With no allowlist configured the relay accepts any origin, matching the
// wide-open CORS posture of the original service; deployments that front
// real users set ALLOWED_ORIGINS.
package origin

import (
	"net/url"
	"strconv"
	"strings"
)

// Normalize validates an Origin header and reduces it to the canonical
// scheme://host[:port] form, with default ports stripped. The special value
// "null" (sandboxed iframes, file://) is passed through.
func Normalize(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", false
	}
	if trimmed == "null" {
		return "null", true
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" || u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", false
	}

	hostname := strings.ToLower(u.Hostname())
	if hostname == "" {
		return "", false
	}

	port := u.Port()
	if port != "" {
		n, err := strconv.ParseUint(port, 10, 16)
		if err != nil || n == 0 {
			return "", false
		}
		if (scheme == "http" && n == 80) || (scheme == "https" && n == 443) {
			port = ""
		}
	}

	host := hostname
	if strings.Contains(hostname, ":") {
		host = "[" + hostname + "]"
	}
	if port != "" {
		host += ":" + port
	}
	return scheme + "://" + host, true
}

// Allowed reports whether a request with the given Origin header may connect.
// An empty header (non-browser client) and an empty allowlist are both
// permitted; otherwise the normalized origin must match an allowlist entry or
// a "*" wildcard. Allowlist entries are normalized the same way as the
// header, so "https://App.Example.com:443" matches what a browser sends.
func Allowed(originHeader string, allowlist []string) bool {
	if strings.TrimSpace(originHeader) == "" {
		return true
	}
	if len(allowlist) == 0 {
		return true
	}

	normalized, ok := Normalize(originHeader)
	if !ok {
		return false
	}
	for _, entry := range allowlist {
		if entry == "*" {
			return true
		}
		if n, ok := Normalize(entry); ok && n == normalized {
			return true
		}
	}
	return false
}
