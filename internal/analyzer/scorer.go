package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// RemoteScorer posts a transaction summary to an external analysis service
// and turns its answer into extra factors. Calls go through a circuit breaker
// so a failing service does not slow down every analysis.
type RemoteScorer struct {
	url        string
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker
	logger     zerolog.Logger
}

// NewRemoteScorer creates a scorer for the service at url.
func NewRemoteScorer(url string, timeout time.Duration, logger zerolog.Logger) *RemoteScorer {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	l := logger.With().Str("component", "remote_scorer").Logger()
	return &RemoteScorer{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		logger:     l,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "RemoteScorer",
			MaxRequests: 3,
			Interval:    10 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				l.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
			},
		}),
	}
}

type scoreRequest struct {
	TxHash   string `json:"txHash"`
	From     string `json:"from"`
	To       string `json:"to,omitempty"`
	Value    string `json:"value"`
	Input    string `json:"input,omitempty"`
	GasUsed  uint64 `json:"gasUsed,omitempty"`
	Logs     int    `json:"logs"`
	Contract string `json:"contract"`
}

type scoreResponse struct {
	Factors []Factor `json:"factors"`
}

// Score implements Scorer.
func (s *RemoteScorer) Score(ctx context.Context, tx Transaction, receipt *Receipt, cc ContractContext) ([]Factor, error) {
	req := scoreRequest{
		TxHash:   tx.Hash.Hex(),
		From:     tx.From.Hex(),
		Value:    WeiToEther(tx.Value),
		Contract: cc.Address.Hex(),
	}
	if tx.To != nil {
		req.To = tx.To.Hex()
	}
	if len(tx.Data) > 0 {
		req.Input = fmt.Sprintf("0x%x", tx.Data)
	}
	if receipt != nil {
		req.GasUsed = receipt.GasUsed
		req.Logs = len(receipt.Logs)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling score request: %w", err)
	}

	result, err := s.cb.Execute(func() (interface{}, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := s.httpClient.Do(httpReq)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, fmt.Errorf("reading response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("scorer returned HTTP %d", resp.StatusCode)
		}
		var out scoreResponse
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("decoding score response: %w", err)
		}
		return out.Factors, nil
	})
	if err != nil {
		return nil, err
	}
	factors, _ := result.([]Factor)

	// Remote weights are bounded so the service can tip a score, not own it.
	for i := range factors {
		if factors[i].Weight < 0 {
			factors[i].Weight = 0
		}
		if factors[i].Weight > 50 {
			factors[i].Weight = 50
		}
	}
	return factors, nil
}

// State returns the breaker state.
func (s *RemoteScorer) State() gobreaker.State {
	return s.cb.State()
}
