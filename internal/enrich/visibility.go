package enrich

import (
	"net/url"
	"strings"

	"github.com/ellipsesearch/visibility/pkg/models"
)

// CheckVisibility is the fast local pre-check run at ingestion time, before
// the LLM pass: brand name/domain/alias substring match over the response
// text, plus citation-domain matching over the cited sources. It gives the
// webhook an immediate answer without blocking on an external call.
func CheckVisibility(text string, sources []string, brand *models.Brand) bool {
	lower := strings.ToLower(text)

	if brand.Name != "" && strings.Contains(lower, strings.ToLower(brand.Name)) {
		return true
	}
	if domain := normalizeDomain(brand.Domain); domain != "" && strings.Contains(lower, domain) {
		return true
	}
	for _, alias := range brand.Aliases {
		if alias != "" && strings.Contains(lower, strings.ToLower(alias)) {
			return true
		}
	}

	brandDomain := normalizeDomain(brand.Domain)
	if brandDomain == "" {
		return false
	}
	for _, src := range sources {
		if normalizeDomain(hostOf(src)) == brandDomain {
			return true
		}
	}
	return false
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	return u.Host
}

func normalizeDomain(domain string) string {
	domain = strings.ToLower(strings.TrimSpace(domain))
	domain = strings.TrimPrefix(domain, "https://")
	domain = strings.TrimPrefix(domain, "http://")
	domain = strings.TrimPrefix(domain, "www.")
	if i := strings.IndexByte(domain, '/'); i >= 0 {
		domain = domain[:i]
	}
	return domain
}
