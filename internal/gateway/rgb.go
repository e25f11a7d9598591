package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// RGBService adapts an RGB node behind the uniform gateway capability
// contract. Simulation only checks the request carries a consignment
// payload; real consignment validation stays in the node.
type RGBService struct {
	baseURL string
	client  *http.Client
}

func NewRGBService(baseURL string) *RGBService {
	return &RGBService{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *RGBService) Name() string { return "rgb" }

func (s *RGBService) CheckHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("rgb: create request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("rgb: node unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("rgb: node returned status %d", resp.StatusCode)
	}
	return nil
}

func (s *RGBService) Simulate(_ context.Context, req SimulationRequest) (SimulationResult, error) {
	res := SimulationResult{Service: s.Name()}
	switch {
	case req.Address == "":
		res.Detail = "destination address required"
	case req.Amount <= 0:
		res.Detail = "amount must be positive"
	case req.Payload == "":
		res.Detail = "consignment payload required"
	default:
		res.Accepted = true
	}
	return res, nil
}
