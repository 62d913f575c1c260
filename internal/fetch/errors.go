package fetch

import "strings"

// Rate limiting comes back from providers as inconsistent JSON-RPC errors, so
// classification is by message. Shrinking the range does not help against a
// rate limiter, only waiting does.
var rateLimitMarkers = []string{
	"429",
	"rate limit",
	"rate-limit",
	"too many requests",
	"limit exceeded",
	"request limit",
}

// IsRateLimited reports whether the provider error indicates rate limiting.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range rateLimitMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
