package alerting

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"price-alerts/internal/retry"
	"price-alerts/internal/version"
)

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 64 << 10

type httpResponse struct {
	status int
	body   []byte
}

// jsonPoster POSTs JSON documents with a per-request timeout, an optional rate
// limit and the configured retry policy.
type jsonPoster struct {
	client  *http.Client
	limiter *rate.Limiter
	policy  retry.Policy
}

func newJSONPoster(timeout time.Duration, perSecond float64, policy retry.Policy) *jsonPoster {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	policy.Retryable = retryableHTTP
	return &jsonPoster{
		client:  &http.Client{Timeout: timeout},
		limiter: newLimiter(perSecond),
		policy:  policy,
	}
}

func newLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

// post returns the response of the first attempt that got a 2xx status, or the
// last error. attempts counts every request sent.
func (p *jsonPoster) post(ctx context.Context, endpoint string, body []byte, headers map[string]string) (resp httpResponse, attempts int, err error) {
	resp, err = retry.Do(ctx, p.policy, func(ctx context.Context) (httpResponse, error) {
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return httpResponse{}, err
			}
		}
		attempts++
		return p.once(ctx, endpoint, body, headers)
	})
	return resp, attempts, err
}

func (p *jsonPoster) once(ctx context.Context, endpoint string, body []byte, headers map[string]string) (httpResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return httpResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	res, err := p.client.Do(req)
	if err != nil {
		return httpResponse{}, stripURL(err)
	}
	defer res.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return httpResponse{}, err
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return httpResponse{}, &statusError{
			code: res.StatusCode,
			body: truncate(strings.TrimSpace(string(payload)), maxDetailLen),
		}
	}
	return httpResponse{status: res.StatusCode, body: payload}, nil
}

// stripURL drops the request URL from client errors; telegram URLs carry the bot token.
func stripURL(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return uerr.Err
	}
	return err
}
