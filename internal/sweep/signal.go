package sweep

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// HTTPActivitySignal consults a telemetry endpoint for app activity. The
// endpoint receives the scope as query parameters and answers
// {"inactive": bool}; any transport or protocol failure surfaces as
// ErrSignalUnavailable so the evaluation can fail open for that app.
type HTTPActivitySignal struct {
	baseURL string
	client  *http.Client
}

// NewHTTPActivitySignal creates an activity signal backed by the given
// telemetry base URL.
func NewHTTPActivitySignal(baseURL string) *HTTPActivitySignal {
	return &HTTPActivitySignal{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// IsInactive implements ActivitySignal.
func (s *HTTPActivitySignal) IsInactive(ctx context.Context, org, app, environment string, windowDays int) (bool, error) {
	query := url.Values{}
	query.Set("org", org)
	query.Set("app", app)
	if environment != "" {
		query.Set("environment", environment)
	}
	query.Set("windowDays", strconv.Itoa(windowDays))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/activity?"+query.Encode(), nil)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrSignalUnavailable, err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrSignalUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("%w: unexpected status %d", ErrSignalUnavailable, resp.StatusCode)
	}

	var body struct {
		Inactive bool `json:"inactive"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, fmt.Errorf("%w: %v", ErrSignalUnavailable, err)
	}

	return body.Inactive, nil
}
