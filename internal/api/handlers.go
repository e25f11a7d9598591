package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Conxian/conxian-nexus/internal/domain/model"
	"github.com/Conxian/conxian-nexus/internal/gateway"
	"github.com/Conxian/conxian-nexus/internal/merkle"
	"github.com/Conxian/conxian-nexus/internal/metrics"
	"github.com/Conxian/conxian-nexus/internal/sequencer"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := "ok"
	if s.monitor.Degraded() {
		status = "degraded"
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

type statusResponse struct {
	SoftHeight   int64  `json:"soft_height"`
	HardHeight   int64  `json:"hard_height"`
	SafetyStatus string `json:"safety_status"`
	CurrentRoot  string `json:"current_root"`
	PendingTxs   int    `json:"pending_transactions"`
	Drift        int64  `json:"drift"`
	DriftKnown   bool   `json:"drift_known"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	snap := s.tracker.HeightSnapshot()
	drift, known := s.monitor.Drift()

	s.writeJSON(w, http.StatusOK, statusResponse{
		SoftHeight:   snap.Soft,
		HardHeight:   snap.Hard,
		SafetyStatus: s.monitor.Status().String(),
		CurrentRoot:  s.acc.Root(),
		PendingTxs:   s.tracker.PendingCount(),
		Drift:        drift,
		DriftKnown:   known,
	})
}

type proofResponse struct {
	TxID  string        `json:"tx_id"`
	Proof *merkle.Proof `json:"proof"`
}

func (s *Server) handleProof(w http.ResponseWriter, r *http.Request) {
	txID := r.URL.Query().Get("tx_id")
	if txID == "" {
		s.writeError(w, http.StatusBadRequest, "tx_id query parameter is required")
		return
	}

	proof, err := s.acc.Prove(txID)
	if errors.Is(err, merkle.ErrNotFound) {
		metrics.ProofQueriesTotal.WithLabelValues("not_found").Inc()
		s.writeError(w, http.StatusNotFound, "transaction not in accumulator")
		return
	}
	if err != nil {
		metrics.ProofQueriesTotal.WithLabelValues("error").Inc()
		s.writeError(w, http.StatusInternalServerError, "proof generation failed")
		return
	}

	metrics.ProofQueriesTotal.WithLabelValues("ok").Inc()
	s.writeJSON(w, http.StatusOK, proofResponse{TxID: txID, Proof: proof})
}

type verifyRequest struct {
	TxID        string       `json:"tx_id"`
	Proof       merkle.Proof `json:"proof"`
	ClaimedRoot string       `json:"claimed_root"`
}

func (s *Server) handleVerifyState(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TxID == "" || req.ClaimedRoot == "" {
		s.writeError(w, http.StatusBadRequest, "tx_id and claimed_root are required")
		return
	}

	valid := merkle.Verify(req.TxID, &req.Proof, req.ClaimedRoot)
	s.writeJSON(w, http.StatusOK, map[string]bool{"valid": valid})
}

type rootResponse struct {
	Height    int64     `json:"height"`
	RootHash  string    `json:"root_hash"`
	CreatedAt time.Time `json:"created_at"`
}

// handleRoots serves the append-only root history: the latest recorded
// root, or the one at ?height=. Proofs generated before the
// accumulator advanced verify against these historical roots.
func (s *Server) handleRoots(w http.ResponseWriter, r *http.Request) {
	var (
		root *model.StateRoot
		err  error
	)
	if q := r.URL.Query().Get("height"); q != "" {
		height, perr := strconv.ParseInt(q, 10, 64)
		if perr != nil || height < 0 {
			s.writeError(w, http.StatusBadRequest, "height must be a non-negative integer")
			return
		}
		root, err = s.roots.GetByHeight(r.Context(), height)
	} else {
		root, err = s.roots.Latest(r.Context())
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "root history unavailable")
		return
	}
	if root == nil {
		s.writeError(w, http.StatusNotFound, "no root recorded")
		return
	}

	s.writeJSON(w, http.StatusOK, rootResponse{
		Height:    root.Height,
		RootHash:  root.RootHash,
		CreatedAt: root.CreatedAt,
	})
}

type executeResponse struct {
	RequestID string `json:"request_id"`
	Accepted  bool   `json:"accepted"`
	Reason    string `json:"reason,omitempty"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req sequencer.ExecutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TxID == "" || req.Resource == "" {
		s.writeError(w, http.StatusBadRequest, "tx_id and resource are required")
		return
	}
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	if req.SubmittedAt.IsZero() {
		req.SubmittedAt = time.Now().UTC()
	}

	outcome := s.seq.Validate(req)
	resp := executeResponse{
		RequestID: req.ID.String(),
		Accepted:  outcome.Accepted,
	}
	if !outcome.Accepted {
		resp.Reason = outcome.Reason.String()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleServices(w http.ResponseWriter, r *http.Request) {
	statuses := s.registry.Health(r.Context())
	s.writeJSON(w, http.StatusOK, map[string][]gateway.ServiceStatus{"services": statuses})
}

type simulateRequest struct {
	Service string `json:"service"`
	Address string `json:"address"`
	Amount  int64  `json:"amount"`
	Payload string `json:"payload,omitempty"`
}

func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	var req simulateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Service == "" {
		s.writeError(w, http.StatusBadRequest, "service is required")
		return
	}

	result, err := s.registry.Simulate(r.Context(), req.Service, gateway.SimulationRequest{
		Address: req.Address,
		Amount:  req.Amount,
		Payload: req.Payload,
	})
	if errors.Is(err, gateway.ErrUnknownService) {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.writeError(w, http.StatusBadGateway, "simulation failed")
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

type directExitResponse struct {
	Address      string `json:"address"`
	Enabled      bool   `json:"enabled"`
	SafetyStatus string `json:"safety_status"`
}

// handleDirectExit reports whether the fallback direct withdrawal
// capability is available for an address. It is enabled only while the
// node is in safety mode.
func (s *Server) handleDirectExit(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	if address == "" {
		s.writeError(w, http.StatusBadRequest, "address query parameter is required")
		return
	}

	s.writeJSON(w, http.StatusOK, directExitResponse{
		Address:      address,
		Enabled:      s.monitor.DirectWithdrawalEnabled(),
		SafetyStatus: s.monitor.Status().String(),
	})
}

type metricsSnapshot struct {
	Drift      int64              `json:"drift"`
	DriftKnown bool               `json:"drift_known"`
	SafetyMode bool               `json:"safety_mode"`
	SoftHeight int64              `json:"soft_height"`
	HardHeight int64              `json:"hard_height"`
	Counters   map[string]float64 `json:"counters"`
}

// handleMetricsSnapshot returns a JSON snapshot of the node's counters
// and gauges for callers that do not scrape Prometheus. The full
// exposition stays on /metrics.
func (s *Server) handleMetricsSnapshot(w http.ResponseWriter, _ *http.Request) {
	snap := s.tracker.HeightSnapshot()
	drift, known := s.monitor.Drift()

	out := metricsSnapshot{
		Drift:      drift,
		DriftKnown: known,
		SafetyMode: s.monitor.Status() == model.SafetyStatusSafety,
		SoftHeight: snap.Soft,
		HardHeight: snap.Hard,
		Counters:   make(map[string]float64),
	}

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		s.logger.Warn("metrics gather failed", "error", err)
	}
	for _, mf := range families {
		name := mf.GetName()
		if !strings.HasPrefix(name, "nexus_") {
			continue
		}
		for _, m := range mf.GetMetric() {
			key := name
			if labels := m.GetLabel(); len(labels) > 0 {
				parts := make([]string, 0, len(labels))
				for _, l := range labels {
					parts = append(parts, l.GetName()+"="+l.GetValue())
				}
				key += "{" + strings.Join(parts, ",") + "}"
			}
			switch {
			case m.GetCounter() != nil:
				out.Counters[key] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				out.Counters[key] = m.GetGauge().GetValue()
			}
		}
	}

	s.writeJSON(w, http.StatusOK, out)
}
