package ws

import (
	"net/url"
	"strings"
)

var devHosts = []string{"localhost", "127.0.0.1", "::1"}

// OriginPolicy decides which Origin headers may open a websocket.
type OriginPolicy struct {
	origins map[string]struct{}
	hosts   []string
	dev     bool
}

// NewOriginPolicy builds the allow-list. An explicit origin list wins; otherwise
// origins are derived from the deployment host names. Outside production the
// local development hosts are accepted on any port.
func NewOriginPolicy(allowedOrigins, allowedHosts []string, production bool) *OriginPolicy {
	p := &OriginPolicy{origins: make(map[string]struct{}), dev: !production}
	for _, o := range allowedOrigins {
		if o = normalizeOrigin(o); o != "" {
			p.origins[o] = struct{}{}
		}
	}
	if len(p.origins) == 0 {
		for _, h := range allowedHosts {
			if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
				p.hosts = append(p.hosts, h)
			}
		}
	}
	return p
}

// Allowed reports whether origin may connect. A missing origin is allowed;
// non-browser clients do not send one.
func (p *OriginPolicy) Allowed(origin string) bool {
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	if p.dev {
		for _, h := range devHosts {
			if u.Hostname() == h {
				return true
			}
		}
	}
	if _, ok := p.origins[normalizeOrigin(origin)]; ok {
		return true
	}
	host := strings.ToLower(u.Host)
	hostname := strings.ToLower(u.Hostname())
	for _, h := range p.hosts {
		switch {
		case h == "*":
			return true
		case strings.HasPrefix(h, "."):
			if hostname == h[1:] || strings.HasSuffix(hostname, h) {
				return true
			}
		case h == host || h == hostname:
			return true
		}
	}
	return false
}

func normalizeOrigin(o string) string {
	return strings.TrimRight(strings.ToLower(strings.TrimSpace(o)), "/")
}
