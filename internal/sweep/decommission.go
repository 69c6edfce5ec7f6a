package sweep

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/studio-ops/coordinator/internal/model"
)

// HTTPDecommissioner submits decommission candidates to the external
// executor over HTTP. Submission is one POST per batch with no retry; the
// executor owns idempotence, so a candidate submitted twice across runs is
// harmless.
type HTTPDecommissioner struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// NewHTTPDecommissioner creates a decommissioner posting to the given
// endpoint.
func NewHTTPDecommissioner(endpoint string, logger *zap.Logger) *HTTPDecommissioner {
	return &HTTPDecommissioner{
		endpoint: endpoint,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// Decommission implements Decommissioner.
func (d *HTTPDecommissioner) Decommission(ctx context.Context, candidates []model.Candidate) error {
	if len(candidates) == 0 {
		return nil
	}

	payload, err := json.Marshal(struct {
		Candidates []model.Candidate `json:"candidates"`
	}{Candidates: candidates})
	if err != nil {
		return fmt.Errorf("failed to encode decommission candidates: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build decommission request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to submit decommission candidates: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("decommission executor returned status %d", resp.StatusCode)
	}

	d.logger.Info("Decommission candidates submitted",
		zap.Int("count", len(candidates)),
	)

	return nil
}
