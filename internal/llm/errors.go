package llm

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/ellipsesearch/visibility/pkg/models"
)

var (
	ErrProviderUnavailable = errors.New("llm provider unavailable")
	ErrInvalidResponse     = errors.New("llm provider returned invalid response")
	// ErrCircuitOpen is returned without any network attempt while the
	// breaker for a (provider, model) key is in its cooldown.
	ErrCircuitOpen = errors.New("llm circuit breaker open")
)

// IsTransient classifies errors worth retrying: rate limits, server-side
// failures, timeouts and dropped connections. Validation and auth errors are
// never transient; retrying them only burns quota.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var httpErr *models.ProviderHTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == 429 || httpErr.StatusCode >= 500
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "overloaded") ||
		strings.Contains(msg, "connection reset")
}
