package pipeline

import (
	"context"
	"net/http"

	"github.com/AbhishekMashetty/axon/internal/domain"
)

// EndpointHealth reports whether a pillar webhook answered.
type EndpointHealth struct {
	Pillar     domain.Pillar `json:"pillar"`
	Endpoint   string        `json:"endpoint,omitempty"`
	Reachable  bool          `json:"reachable"`
	StatusCode int           `json:"status_code,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// CheckConnectivity calls every known pillar webhook with a GET. Any response below 500
// counts as reachable since webhooks usually reject GET.
func (c *Client) CheckConnectivity(ctx context.Context) []EndpointHealth {
	results := make([]EndpointHealth, 0, len(domain.Pillars))
	for _, pillar := range domain.Pillars {
		health := EndpointHealth{Pillar: pillar, Endpoint: c.endpoints[pillar]}
		if health.Endpoint == "" {
			health.Error = "endpoint not configured"
			results = append(results, health)
			continue
		}
		health.StatusCode, health.Reachable, health.Error = c.ping(ctx, health.Endpoint)
		if !health.Reachable {
			c.logger.Warn("pipeline webhook unreachable", "pillar", pillar, "status", health.StatusCode, "error", health.Error)
		}
		results = append(results, health)
	}
	return results
}

func (c *Client) ping(ctx context.Context, endpoint string) (int, bool, string) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, false, err.Error()
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, false, err.Error()
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return resp.StatusCode, false, resp.Status
	}
	return resp.StatusCode, true, ""
}
