package credential

import (
	"fmt"
	"strings"
)

// publicDomain is the multi-tenant domain used when no enterprise domain is
// configured.
const publicDomain = "github.com"

// endpoints holds the three auth URLs derived from the active domain.
type endpoints struct {
	deviceCode    string
	accessToken   string
	tokenExchange string
}

// normalizeDomain strips any scheme and trailing slash from a configured
// domain or URL.
func normalizeDomain(urlOrDomain string) string {
	s := strings.TrimSpace(urlOrDomain)
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	return strings.TrimSuffix(s, "/")
}

// endpointsFor derives the auth endpoints for a domain. Derived per operation
// rather than cached so configuration changes take effect immediately.
func endpointsFor(domain string) endpoints {
	return endpoints{
		deviceCode:    fmt.Sprintf("https://%s/login/device/code", domain),
		accessToken:   fmt.Sprintf("https://%s/login/oauth/access_token", domain),
		tokenExchange: fmt.Sprintf("https://api.%s/copilot_internal/v2/token", domain),
	}
}

// completionBaseURL returns the proxy completion endpoint for the domain.
// Enterprise tenants get a per-tenant host; everyone else shares the public
// API host.
func completionBaseURL(domain string, enterprise bool) string {
	if enterprise {
		return fmt.Sprintf("https://copilot-api.%s", domain)
	}
	return "https://api.githubcopilot.com"
}
