package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/rankeval/rankeval/internal/dataset"
	"github.com/rankeval/rankeval/internal/pkg/errors"
)

// RPCConfig configures a remote scoring model.
type RPCConfig struct {
	Name      string
	Endpoint  string // e.g. "http://localhost:8080/score"
	NTrees    int
	Timeout   time.Duration
	BatchSize int     // instances per request, 0 sends the whole dataset
	RateLimit float64 // requests per second, 0 disables throttling
	Burst     int
}

// RPCModel scores datasets through an HTTP scoring service.
//
// Request (JSON):
//
//	{"model": "lambdamart", "dataset": "test", "detailed": true, "features_list": [[0.1, 3], ...]}
//
// Response (JSON), one of:
//
//	{"scores": [0.85, 0.72, ...]}
//	{"partial": [[0.1, 0.02, ...], ...]}
type RPCModel struct {
	cfg     RPCConfig
	client  *http.Client
	limiter *rate.Limiter
}

// NewRPCModel creates a remote model.
func NewRPCModel(cfg RPCConfig) (*RPCModel, error) {
	if cfg.Endpoint == "" {
		return nil, errors.ValidationError(fmt.Sprintf("rpc model %s: endpoint is required", cfg.Name))
	}
	if cfg.NTrees < 1 {
		return nil, errors.ValidationError(fmt.Sprintf("rpc model %s: n_trees must be positive", cfg.Name))
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	m := &RPCModel{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		m.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return m, nil
}

// Name implements Model.
func (m *RPCModel) Name() string { return m.cfg.Name }

// String implements fmt.Stringer.
func (m *RPCModel) String() string { return m.cfg.Name }

// NTrees implements Model.
func (m *RPCModel) NTrees() int { return m.cfg.NTrees }

type rpcRequest struct {
	Model        string      `json:"model"`
	Dataset      string      `json:"dataset"`
	Detailed     bool        `json:"detailed"`
	FeaturesList [][]float64 `json:"features_list"`
}

type rpcResponse struct {
	Scores  []float64   `json:"scores"`
	Partial [][]float64 `json:"partial"`
}

// Score implements Model.
func (m *RPCModel) Score(ctx context.Context, ds *dataset.Dataset, detailed bool) (*Scores, error) {
	n := ds.NInstances()
	if n > 0 && !ds.HasFeatures() {
		return nil, errors.ScoringError(
			fmt.Sprintf("rpc model %s cannot score %s", m.cfg.Name, ds.Name()),
			fmt.Errorf("dataset has no feature matrix"))
	}

	batch := m.cfg.BatchSize
	if batch <= 0 || batch > n {
		batch = n
	}

	predicted := make([]float64, 0, n)
	var partial [][]float64
	if detailed {
		partial = make([][]float64, 0, n)
	}

	for start := 0; start < n; start += batch {
		end := min(start+batch, n)
		rows := make([][]float64, 0, end-start)
		for i := start; i < end; i++ {
			rows = append(rows, ds.Features(i))
		}

		resp, err := m.call(ctx, rpcRequest{
			Model:        m.cfg.Name,
			Dataset:      ds.Name(),
			Detailed:     detailed,
			FeaturesList: rows,
		})
		if err != nil {
			return nil, err
		}

		if detailed {
			if len(resp.Partial) != len(rows) {
				return nil, errors.ContractError("rpc model %s: %d contribution rows for %d instances",
					m.cfg.Name, len(resp.Partial), len(rows))
			}
			partial = append(partial, resp.Partial...)
			continue
		}
		if len(resp.Scores) != len(rows) {
			return nil, errors.ContractError("rpc model %s: %d scores for %d instances",
				m.cfg.Name, len(resp.Scores), len(rows))
		}
		predicted = append(predicted, resp.Scores...)
	}

	if detailed {
		return NewDetailed(partial), nil
	}
	return &Scores{Predicted: predicted}, nil
}

func (m *RPCModel) call(ctx context.Context, body rpcRequest) (*rpcResponse, error) {
	if m.limiter != nil {
		if err := m.limiter.Wait(ctx); err != nil {
			return nil, errors.Wrap(errors.CodeTimeout, "waiting for scoring rate limit", err)
		}
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, errors.InternalError("marshal scoring request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.Endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, errors.InternalError("create scoring request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, errors.ScoringError(fmt.Sprintf("rpc model %s", m.cfg.Name), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, errors.ScoringError(fmt.Sprintf("rpc model %s", m.cfg.Name),
			fmt.Errorf("status=%d, body=%s", resp.StatusCode, bytes.TrimSpace(msg)))
	}

	var out rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.ScoringError(fmt.Sprintf("rpc model %s: decode response", m.cfg.Name), err)
	}
	return &out, nil
}
