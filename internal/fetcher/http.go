package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const analysisPath = "/analysis"

// maxAnalysisBytes caps how much of a response body is read.
const maxAnalysisBytes = 8 << 20

// HTTPOptions parameterise the analysis producer client.
type HTTPOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// HTTPSource pulls analysis snapshots from the producer's HTTP API.
type HTTPSource struct {
	opts    HTTPOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewHTTPSource constructs an analysis fetcher.
func NewHTTPSource(opts HTTPOptions, logger zerolog.Logger) *HTTPSource {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &HTTPSource{
		opts:    opts,
		logger:  logger.With().Str("component", "analysis_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
	}
}

// FetchAnalysis requests the latest snapshot for model/region.
func (s *HTTPSource) FetchAnalysis(ctx context.Context, model, region string) (Analysis, error) {
	if s.baseURL == "" {
		return Analysis{}, errors.New("analysis base url not configured")
	}

	query := url.Values{}
	query.Set("model", model)
	query.Set("region", region)
	endpoint := s.baseURL + analysisPath + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Analysis{}, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(s.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return Analysis{}, fmt.Errorf("fetch analysis: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxAnalysisBytes))
	if err != nil {
		return Analysis{}, fmt.Errorf("read analysis body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return Analysis{}, parseHTTPError(resp.StatusCode, payload)
	}

	var analysis Analysis
	if err := json.Unmarshal(payload, &analysis); err != nil {
		return Analysis{}, fmt.Errorf("decode analysis: %w", err)
	}
	if analysis.Model == "" {
		analysis.Model = model
	}
	if analysis.Region == "" {
		analysis.Region = region
	}

	s.logger.Debug().
		Str("model", analysis.Model).
		Str("region", analysis.Region).
		Int("observations", len(analysis.Observations)).
		Msg("analysis fetched")
	return analysis, nil
}

type errorResponse struct {
	Error   string `json:"error"`
	Detail  string `json:"detail"`
	Message string `json:"message"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		for _, msg := range []string{apiErr.Detail, apiErr.Message, apiErr.Error} {
			if msg != "" {
				return fmt.Errorf("analysis api error (%d): %s", status, msg)
			}
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("analysis api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("analysis api error (%d)", status)
}

var _ Source = (*HTTPSource)(nil)
