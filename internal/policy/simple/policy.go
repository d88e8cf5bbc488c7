// Package simple implements the admission policy for board URLs.
package simple

import (
	"strings"

	"github.com/JakeFAU/remotehive-autoscraper/internal/policy/ratelimit"
)

// Policy rejects blocked hosts (and their subdomains) and gates headless
// rendering on a single switch.
type Policy struct {
	blocked  map[string]struct{}
	headless bool
}

// New creates a Policy.
func New(blockedHosts []string, headlessEnabled bool) *Policy {
	blocked := make(map[string]struct{}, len(blockedHosts))
	for _, h := range blockedHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			blocked[h] = struct{}{}
		}
	}
	return &Policy{blocked: blocked, headless: headlessEnabled}
}

// AllowFetch implements scraper.Policy.
func (p *Policy) AllowFetch(_ string, rawURL string) bool {
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return false
	}
	host := ratelimit.Host(rawURL)
	for host != "" {
		if _, ok := p.blocked[host]; ok {
			return false
		}
		dot := strings.IndexByte(host, '.')
		if dot < 0 {
			break
		}
		host = host[dot+1:]
	}
	return true
}

// AllowHeadless implements scraper.Policy.
func (p *Policy) AllowHeadless(jobID string, rawURL string) bool {
	return p.headless && p.AllowFetch(jobID, rawURL)
}
