package realtime

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// originPolicy is shared by the websocket and long-poll entrypoints.
type originPolicy struct {
	required bool
	allowed  []string

	// Host patterns handed to websocket.Accept, which runs its own cross-origin check.
	patterns []string
}

func newOriginPolicy(required bool, allowed []string) originPolicy {
	clean := make([]string, 0, len(allowed))
	for _, a := range allowed {
		if a = strings.TrimSpace(a); a != "" {
			clean = append(clean, a)
		}
	}
	return originPolicy{
		required: required,
		allowed:  clean,
		patterns: originPatterns(clean),
	}
}

func (p originPolicy) check(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if p.required {
			return errors.New("missing origin")
		}
		return nil
	}
	if len(p.allowed) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	host := originHost(origin)
	for _, a := range p.allowed {
		switch {
		case a == "*":
			return nil
		case origin == a:
			return nil
		case host != "" && host == originHost(a):
			return nil
		}
	}
	return fmt.Errorf("origin not allowed: %s", origin)
}

// originHost extracts the lowercase host of a URL or host[:port] string.
func originHost(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		s = u.Host
	}
	if h, _, err := net.SplitHostPort(s); err == nil {
		s = h
	}
	return strings.ToLower(strings.TrimSpace(s))
}

func originPatterns(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		if h := originHost(a); h != "" && h != "*" {
			seen[h] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}
