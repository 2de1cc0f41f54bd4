package lifecycle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ReducedScanConfidence is recorded when the source scan could not run.
const ReducedScanConfidence = 0.5

// ScanReport is the scan service's verdict on a contract's source.
type ScanReport struct {
	RiskScore  int      `json:"riskScore"`
	Findings   []string `json:"findings,omitempty"`
	Confidence float64  `json:"confidence"`
	Verified   bool     `json:"verified"`
}

// Scanner inspects a contract before it is taken under protection.
type Scanner interface {
	Scan(ctx context.Context, contract common.Address) (ScanReport, error)
}

// HTTPScanner calls a scan service that answers POST {"address": ...}.
type HTTPScanner struct {
	url    string
	client *http.Client
}

// NewHTTPScanner creates a scanner for the service at url.
func NewHTTPScanner(url string, timeout time.Duration) *HTTPScanner {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &HTTPScanner{url: url, client: &http.Client{Timeout: timeout}}
}

// Scan implements Scanner.
func (s *HTTPScanner) Scan(ctx context.Context, contract common.Address) (ScanReport, error) {
	body, err := json.Marshal(map[string]string{"address": contract.Hex()})
	if err != nil {
		return ScanReport{}, fmt.Errorf("encoding scan request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return ScanReport{}, fmt.Errorf("creating scan request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return ScanReport{}, fmt.Errorf("calling scan service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return ScanReport{}, fmt.Errorf("scan service returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var report ScanReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return ScanReport{}, fmt.Errorf("decoding scan report: %w", err)
	}
	if report.Confidence <= 0 || report.Confidence > 1 {
		report.Confidence = 1
	}
	return report, nil
}
