package alerting

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"unicode/utf8"
)

// maxDetailLen bounds response text copied into results.
const maxDetailLen = 100

// statusError carries a non-2xx HTTP response through the retry loop.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.code, e.body)
}

// retryableHTTP reports whether a send failure is worth retrying: timeouts,
// connection problems, 429 and 5xx.
func retryableHTTP(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	switch cat, _ := classifyNetError(err); cat {
	case CategoryTimeout, CategoryConnectivity:
		return true
	}
	return false
}

// httpFailure converts a send error into a Result.
func httpFailure(channel string, err error, attempts int) Result {
	var se *statusError
	if errors.As(err, &se) {
		r := failure(channel, CategoryAPI, "API error: %s", se.body)
		r.StatusCode = se.code
		r.Attempts = attempts
		return r
	}
	cat, detail := classifyNetError(err)
	r := failure(channel, cat, "%s", detail)
	r.Attempts = attempts
	return r
}

func classifyNetError(err error) (Category, string) {
	if err == nil {
		return "", ""
	}
	err = stripURL(err)
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTimeout, "request timed out"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CategoryTimeout, "request timed out"
	}
	if errors.Is(err, context.Canceled) {
		return CategoryTransport, "request cancelled"
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return CategoryConnectivity, fmt.Sprintf("connection failed: %v", err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return CategoryConnectivity, fmt.Sprintf("connection failed: %v", err)
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return CategoryConnectivity, fmt.Sprintf("connection failed: %v", err)
	}
	return CategoryTransport, fmt.Sprintf("request failed: %v", err)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
