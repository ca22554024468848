// Package cors implements the browser origin policy for the signaling API.
//
// The broker is meant to be called from web apps on arbitrary origins, so
// the default policy is the wildcard. Deployments that front a single app
// can pin an explicit allowlist instead; allowed origins are echoed back
// per-request.
package cors

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	allowMethods = "GET, POST, OPTIONS"
	allowHeaders = "content-type, x-peer-id"
	maxAge       = "86400"
)

// Allowlist decides which Origin values may use the API.
type Allowlist struct {
	wildcard bool
	origins  map[string]struct{}
}

// ParseAllowlist parses a comma-separated origin list. A "*" entry (or an
// empty list) allows every origin. Other entries must normalize to
// scheme://host[:port], or be the literal "null" for opaque origins.
func ParseAllowlist(raw string) (*Allowlist, error) {
	a := &Allowlist{origins: make(map[string]struct{})}

	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if entry == "*" {
			a.wildcard = true
			continue
		}
		normalized, _, ok := NormalizeHeader(entry)
		if !ok {
			return nil, fmt.Errorf("invalid origin %q", entry)
		}
		a.origins[normalized] = struct{}{}
	}

	if len(a.origins) == 0 {
		a.wildcard = true
	}
	return a, nil
}

// Wildcard reports whether every origin is allowed. A nil Allowlist is
// the wildcard policy.
func (a *Allowlist) Wildcard() bool { return a == nil || a.wildcard }

// AllowOrigin returns the Access-Control-Allow-Origin value for the given
// request Origin header, or "" when the response must not carry one.
func (a *Allowlist) AllowOrigin(originHeader string) string {
	if a.Wildcard() {
		return "*"
	}
	normalized, _, ok := NormalizeHeader(originHeader)
	if !ok {
		return ""
	}
	if _, ok := a.origins[normalized]; !ok {
		return ""
	}
	return normalized
}

// Middleware stamps the origin policy onto every response and intercepts
// CORS preflight requests with a 204 and the allow headers.
func Middleware(a *Allowlist) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			if allow := a.AllowOrigin(r.Header.Get("Origin")); allow != "" {
				h.Set("Access-Control-Allow-Origin", allow)
				if allow != "*" {
					h.Add("Vary", "Origin")
				}
			}

			if r.Method == http.MethodOptions {
				h.Set("Access-Control-Allow-Methods", allowMethods)
				h.Set("Access-Control-Allow-Headers", allowHeaders)
				h.Set("Access-Control-Max-Age", maxAge)
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// NormalizeHeader validates and normalizes a browser Origin header.
//
// It returns the normalized origin (scheme://host[:port]) and the host[:port]
// portion for same-host comparisons.
//
// The special Origin value "null" is allowed and returned as-is.
func NormalizeHeader(originHeader string) (normalizedOrigin string, host string, ok bool) {
	trimmed := strings.TrimSpace(originHeader)
	if trimmed == "" {
		return "", "", false
	}
	if trimmed == "null" {
		return "null", "", true
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", "", false
	}
	if u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return "", "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", "", false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", false
	}

	rawHostname, rawPort, ok := splitHostPort(u.Host)
	if !ok {
		return "", "", false
	}

	hostname := strings.ToLower(rawHostname)
	if hostname == "" {
		return "", "", false
	}

	var port uint64
	if rawPort != "" {
		n, err := strconv.ParseUint(rawPort, 10, 16)
		if err != nil || n == 0 || n > 65535 {
			return "", "", false
		}
		port = n
	}

	if (scheme == "http" && port == 80) || (scheme == "https" && port == 443) {
		port = 0
	}

	host = hostname
	if strings.Contains(hostname, ":") {
		host = "[" + hostname + "]"
	}
	if port != 0 {
		host = host + ":" + strconv.FormatUint(port, 10)
	}
	return scheme + "://" + host, host, true
}

// splitHostPort splits an authority host[:port] string.
//
// The hostname is returned without brackets for IPv6 literals. The port is
// returned as-is (not validated) and will be empty when absent.
func splitHostPort(rawHost string) (hostname, port string, ok bool) {
	if rawHost == "" {
		return "", "", false
	}

	if strings.HasPrefix(rawHost, "[") {
		end := strings.IndexByte(rawHost, ']')
		if end < 0 {
			return "", "", false
		}
		hostname = rawHost[1:end]
		rest := rawHost[end+1:]
		if rest == "" {
			return hostname, "", true
		}
		if !strings.HasPrefix(rest, ":") {
			return "", "", false
		}
		port = rest[1:]
		if port == "" {
			return "", "", false
		}
		return hostname, port, true
	}

	switch strings.Count(rawHost, ":") {
	case 0:
		return rawHost, "", true
	case 1:
		parts := strings.SplitN(rawHost, ":", 2)
		if parts[0] == "" || parts[1] == "" {
			return "", "", false
		}
		return parts[0], parts[1], true
	default:
		// Unbracketed IPv6 literals are not valid in the authority component.
		return "", "", false
	}
}
