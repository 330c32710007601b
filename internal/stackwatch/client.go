// Package stackwatch drives and observes asynchronous stack
// deployments. A Watcher polls the deployment-status endpoint on a
// timer, rebuilds an immutable StackSnapshot on every tick, and stops
// on terminal status, timeout, or cancellation.
package stackwatch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/stackhand/console/internal/resilience"
	"github.com/stackhand/console/pkg/models"
)

// StatusClient queries the current state of one named stack.
type StatusClient interface {
	StackStatus(ctx context.Context, stackName string) (*models.StackStatusPayload, error)
}

// HTTPStatusClient queries the deployment-status endpoint over HTTP.
type HTTPStatusClient struct {
	http    *http.Client
	baseURL string
}

// NewHTTPStatusClient creates a client for the status endpoint at
// baseURL (e.g. the provisioning service's /stacks API root).
func NewHTTPStatusClient(baseURL string) *HTTPStatusClient {
	return &HTTPStatusClient{
		http:    &http.Client{Timeout: 30 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// StackStatus fetches the status payload for stackName. A 404 comes
// back as a permanent *resilience.HTTPError so the poller stops
// instead of retrying a stack that does not exist.
func (c *HTTPStatusClient) StackStatus(ctx context.Context, stackName string) (*models.StackStatusPayload, error) {
	endpoint := c.baseURL + "/stacks/" + url.PathEscape(stackName)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, resilience.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stack status %s: %w", stackName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, &resilience.HTTPError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Detail:     strings.TrimSpace(string(detail)),
		}
	}

	var payload models.StackStatusPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, resilience.Permanent(fmt.Errorf("decode stack status: %w", err))
	}
	if payload.StackName == "" {
		payload.StackName = stackName
	}
	return &payload, nil
}
