package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Default Bisq DAO trade limit in satoshis. Exits above it would be
// refused by the network, so simulation rejects them up front.
const bisqTradeLimitSats = 200_000_000

// BisqService adapts a Bisq daemon behind the uniform gateway
// capability contract. The adapter is deliberately low fidelity: it
// checks the daemon is reachable and applies the protocol's coarse
// offer constraints, nothing more.
type BisqService struct {
	baseURL string
	client  *http.Client
}

func NewBisqService(baseURL string) *BisqService {
	return &BisqService{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *BisqService) Name() string { return "bisq" }

func (s *BisqService) CheckHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/api/v1/version", nil)
	if err != nil {
		return fmt.Errorf("bisq: create request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("bisq: daemon unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bisq: daemon returned status %d", resp.StatusCode)
	}
	return nil
}

func (s *BisqService) Simulate(_ context.Context, req SimulationRequest) (SimulationResult, error) {
	res := SimulationResult{Service: s.Name()}
	switch {
	case req.Address == "":
		res.Detail = "destination address required"
	case req.Amount <= 0:
		res.Detail = "amount must be positive"
	case req.Amount > bisqTradeLimitSats:
		res.Detail = fmt.Sprintf("amount exceeds trade limit of %d sats", int64(bisqTradeLimitSats))
	default:
		res.Accepted = true
	}
	return res, nil
}
