package relayer

import (
	"errors"
	"fmt"
	"net/http"
)

var RateLimitErr = errors.New("rate limit error")

// HttpCodeCheck describes the status codes upstream APIs use to shed load.
func HttpCodeCheck(httpCode int) string {
	switch httpCode {
	case http.StatusTooManyRequests:
		return "Too Many Requests, code:429"
	case http.StatusServiceUnavailable:
		return "Service Unavailable, code:503"
	case http.StatusGatewayTimeout:
		return "Gateway Timeout, code:504"
	}
	return ""
}

// statusError turns a non-200 upstream response into an error.
func statusError(httpCode int) error {
	if httpCode == http.StatusTooManyRequests {
		return RateLimitErr
	}
	if desc := HttpCodeCheck(httpCode); desc != "" {
		return fmt.Errorf("upstream unavailable: %s", desc)
	}
	return fmt.Errorf("got error code %d", httpCode)
}
