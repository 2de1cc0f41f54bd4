package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pauseguard/pauseguard/internal/core"
	"github.com/pauseguard/pauseguard/internal/guard"
)

const (
	vaultAddr = "0x1000000000000000000000000000000000000001"
	secret    = "s3cret-pause"
)

// ─── Helpers ─────────────────────────────────────────────────────────────────

// testEngine starts an engine with no chain, bus or monitor connection.
func testEngine(t *testing.T, mutate ...func(*core.Config)) *guard.Engine {
	t.Helper()
	cfg := core.DefaultConfig()
	cfg.Chain.RPCURL = ""
	cfg.Journal.Store = "none"
	cfg.Logging.Level = "error"
	cfg.Notify.EnableConsole = false
	for _, fn := range mutate {
		fn(cfg)
	}
	e, err := guard.NewEngine(cfg)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	if err := e.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { e.Shutdown() })
	return e
}

func newTestServer(t *testing.T, mutate ...func(*core.Config)) *Server {
	t.Helper()
	s := NewServer(testEngine(t, mutate...))
	t.Cleanup(s.limiter.stop)
	return s
}

func do(s *Server, method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	return body
}

func seedEvent(e *guard.Engine, id string, level core.ThreatLevel) {
	e.Journal.Add(e.Context(), core.ThreatEvent{
		ID:              id,
		Timestamp:       time.Now().UnixMilli(),
		Level:           level,
		ContractAddress: vaultAddr,
		TransactionHash: "0xabc",
		ActionTaken:     core.ActionAlert,
	})
}

// ─── writeJSON ────────────────────────────────────────────────────────────────

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	writeJSON(w, http.StatusOK, map[string]string{"hello": "world"})

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
}

// ─── Health and status ───────────────────────────────────────────────────────

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t)
	w := do(s, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK || decode(t, w)["status"] != "healthy" {
		t.Errorf("health = %d", w.Code)
	}
	if w := do(s, http.MethodPost, "/health", nil); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /health = %d", w.Code)
	}
}

func TestHandleStatus(t *testing.T) {
	s := newTestServer(t)
	w := do(s, http.MethodGet, "/api/v1/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := decode(t, w)
	if body["version"] != Version {
		t.Errorf("version = %v", body["version"])
	}
	engine := body["engine"].(map[string]interface{})
	if engine["policy"].(map[string]interface{})["name"] != "standard" {
		t.Errorf("engine = %v", engine)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	w := do(s, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "pauseguard_transactions_analyzed_total") {
		t.Errorf("metrics = %d", w.Code)
	}
}

// ─── Events ──────────────────────────────────────────────────────────────────

func TestHandleEvents_FiltersAndLimits(t *testing.T) {
	s := newTestServer(t)
	seedEvent(s.engine, "a", core.LevelLow)
	seedEvent(s.engine, "b", core.LevelCritical)
	seedEvent(s.engine, "c", core.LevelHigh)

	tests := []struct {
		query string
		want  int
	}{
		{"", 3},
		{"?limit=2", 2},
		{"?min_level=HIGH", 2},
		{"?min_level=CRITICAL", 1},
		{"?contract=0x2000000000000000000000000000000000000002", 0},
	}
	for _, tt := range tests {
		w := do(s, http.MethodGet, "/api/v1/events"+tt.query, nil)
		if got := int(decode(t, w)["total"].(float64)); got != tt.want {
			t.Errorf("GET /api/v1/events%s total = %d, want %d", tt.query, got, tt.want)
		}
	}
}

func TestHandleEventByID(t *testing.T) {
	s := newTestServer(t)
	seedEvent(s.engine, "ev-1", core.LevelHigh)

	if w := do(s, http.MethodGet, "/api/v1/events/ev-1", nil); w.Code != http.StatusOK || decode(t, w)["id"] != "ev-1" {
		t.Errorf("GET ev-1 = %d", w.Code)
	}
	if w := do(s, http.MethodGet, "/api/v1/events/missing", nil); w.Code != http.StatusNotFound {
		t.Errorf("GET missing = %d", w.Code)
	}
}

func TestHandleEventsClear(t *testing.T) {
	s := newTestServer(t)
	seedEvent(s.engine, "ev-1", core.LevelHigh)

	w := do(s, http.MethodPost, "/api/v1/events/clear", nil)
	if w.Code != http.StatusOK || decode(t, w)["cleared"].(float64) != 1 {
		t.Errorf("clear = %d", w.Code)
	}
	if s.engine.Journal.Len() != 0 {
		t.Error("journal not cleared")
	}
}

// ─── Contracts ───────────────────────────────────────────────────────────────

func TestContracts_RegisterGetDeregister(t *testing.T) {
	s := newTestServer(t)

	w := do(s, http.MethodPost, "/api/v1/contracts", map[string]string{"address": vaultAddr, "owner": "0x2000000000000000000000000000000000000002"})
	if w.Code != http.StatusCreated {
		t.Fatalf("register = %d: %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["state"] != "REGISTERED" || body["scanConfidence"].(float64) != 0.5 {
		t.Errorf("registered = %v", body)
	}

	if w := do(s, http.MethodPost, "/api/v1/contracts", map[string]string{"address": vaultAddr}); w.Code != http.StatusConflict {
		t.Errorf("duplicate register = %d", w.Code)
	}
	if w := do(s, http.MethodGet, "/api/v1/contracts/"+vaultAddr, nil); w.Code != http.StatusOK {
		t.Errorf("get = %d", w.Code)
	}
	if w := do(s, http.MethodGet, "/api/v1/contracts", nil); decode(t, w)["total"].(float64) != 1 {
		t.Error("list should hold one contract")
	}
	if w := do(s, http.MethodDelete, "/api/v1/contracts/"+vaultAddr, nil); w.Code != http.StatusOK {
		t.Errorf("deregister = %d", w.Code)
	}
	if w := do(s, http.MethodGet, "/api/v1/contracts/"+vaultAddr, nil); w.Code != http.StatusNotFound {
		t.Errorf("get after deregister = %d", w.Code)
	}
}

func TestContracts_BadInput(t *testing.T) {
	s := newTestServer(t)
	tests := []struct {
		method, path string
		body         interface{}
		want         int
	}{
		{http.MethodPost, "/api/v1/contracts", map[string]string{"address": "nope"}, http.StatusBadRequest},
		{http.MethodGet, "/api/v1/contracts/nope", nil, http.StatusBadRequest},
		{http.MethodPost, "/api/v1/contracts/" + vaultAddr + "/confirm", nil, http.StatusNotFound},
		{http.MethodPost, "/api/v1/contracts/" + vaultAddr + "/explode", nil, http.StatusNotFound},
		{http.MethodDelete, "/api/v1/contracts/" + vaultAddr, nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		if w := do(s, tt.method, tt.path, tt.body); w.Code != tt.want {
			t.Errorf("%s %s = %d, want %d", tt.method, tt.path, w.Code, tt.want)
		}
	}
}

// ─── Emergency pause ─────────────────────────────────────────────────────────

func withSecret(c *core.Config) { c.Server.PauseSecret = secret }

func TestEmergencyPause_Auth(t *testing.T) {
	body := map[string]string{"target": vaultAddr, "vulnHash": "0x" + strings.Repeat("ab", 32), "source": "ops"}

	disabled := newTestServer(t)
	if w := do(disabled, http.MethodPost, "/api/v1/emergency-pause", body, PauseSecretHeader, secret); w.Code != http.StatusServiceUnavailable {
		t.Errorf("without configured secret = %d", w.Code)
	}

	s := newTestServer(t, withSecret)
	if w := do(s, http.MethodPost, "/api/v1/emergency-pause", body); w.Code != http.StatusUnauthorized {
		t.Errorf("missing secret = %d", w.Code)
	}
	if w := do(s, http.MethodPost, "/api/v1/emergency-pause", body, PauseSecretHeader, "wrong"); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong secret = %d", w.Code)
	}
	if w := do(s, http.MethodGet, "/api/v1/emergency-pause", nil, PauseSecretHeader, secret); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET = %d", w.Code)
	}
}

func TestEmergencyPause_Validation(t *testing.T) {
	s := newTestServer(t, withSecret)
	w := do(s, http.MethodPost, "/api/v1/emergency-pause",
		map[string]string{"target": vaultAddr, "vulnHash": "0x12"}, PauseSecretHeader, secret)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("short vulnHash = %d", w.Code)
	}
	if body := decode(t, w); body["success"] != false || body["error"] == nil {
		t.Errorf("body = %v", body)
	}
}

func TestEmergencyPause_ReportsExecutionFailure(t *testing.T) {
	s := newTestServer(t, withSecret)
	w := do(s, http.MethodPost, "/api/v1/emergency-pause",
		map[string]string{"target": vaultAddr, "vulnHash": "0x" + strings.Repeat("ab", 32), "source": "ops"},
		PauseSecretHeader, secret)

	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["success"] != false || body["errorClass"] != "NOT_CONFIGURED" || body["recordId"] == "" {
		t.Errorf("body = %v", body)
	}

	w = do(s, http.MethodGet, "/api/v1/responses?contract="+vaultAddr, nil)
	if decode(t, w)["total"].(float64) != 1 {
		t.Error("emergency attempt missing from response log")
	}
}

func TestEmergencyPause_BypassesAPIKey(t *testing.T) {
	s := newTestServer(t, withSecret, func(c *core.Config) { c.Server.APIKeys = []string{"key-1"} })
	w := do(s, http.MethodPost, "/api/v1/emergency-pause",
		map[string]string{"target": vaultAddr, "vulnHash": "0x" + strings.Repeat("ab", 32)},
		PauseSecretHeader, secret)
	if w.Code == http.StatusUnauthorized || w.Code == http.StatusForbidden {
		t.Errorf("pause secret should be enough, got %d", w.Code)
	}
}

// ─── Middleware ──────────────────────────────────────────────────────────────

func TestAuthMiddleware(t *testing.T) {
	s := newTestServer(t, func(c *core.Config) { c.Server.APIKeys = []string{"key-1"} })

	tests := []struct {
		name    string
		path    string
		headers []string
		want    int
	}{
		{"health is open", "/health", nil, http.StatusOK},
		{"missing key", "/api/v1/status", nil, http.StatusUnauthorized},
		{"bad key", "/api/v1/status", []string{"X-API-Key", "nope"}, http.StatusForbidden},
		{"x-api-key", "/api/v1/status", []string{"X-API-Key", "key-1"}, http.StatusOK},
		{"bearer", "/api/v1/status", []string{"Authorization", "Bearer key-1"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := do(s, http.MethodGet, tt.path, nil, tt.headers...); w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	s := newTestServer(t, func(c *core.Config) { c.Server.RateLimitPerIP = 1 })

	limited := false
	for i := 0; i < 5; i++ {
		if w := do(s, http.MethodGet, "/api/v1/status", nil); w.Code == http.StatusTooManyRequests {
			limited = true
			if w.Header().Get("Retry-After") != "1" {
				t.Error("missing Retry-After")
			}
			break
		}
	}
	if !limited {
		t.Error("burst of 5 requests at 1/s was never limited")
	}
	if w := do(s, http.MethodGet, "/health", nil); w.Code != http.StatusOK {
		t.Errorf("health must bypass the limiter, got %d", w.Code)
	}
}

func TestCORSMiddleware(t *testing.T) {
	s := newTestServer(t, func(c *core.Config) { c.Server.CORSOrigins = []string{"https://ops.example"} })

	w := do(s, http.MethodOptions, "/api/v1/status", nil, "Origin", "https://ops.example")
	if w.Code != http.StatusNoContent || w.Header().Get("Access-Control-Allow-Origin") != "https://ops.example" {
		t.Errorf("preflight = %d %v", w.Code, w.Header())
	}
	if !strings.Contains(w.Header().Get("Access-Control-Allow-Headers"), PauseSecretHeader) {
		t.Error("pause secret header not allowed by CORS")
	}

	w = do(s, http.MethodGet, "/api/v1/status", nil, "Origin", "https://evil.example")
	if w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("unknown origin got CORS headers")
	}
}

func TestHandleLogsAndAttackers(t *testing.T) {
	s := newTestServer(t)
	if w := do(s, http.MethodGet, "/api/v1/logs?limit=5&component=engine", nil); w.Code != http.StatusOK {
		t.Errorf("logs = %d", w.Code)
	}
	if w := do(s, http.MethodGet, "/api/v1/attackers", nil); w.Code != http.StatusOK || decode(t, w)["total"].(float64) != 0 {
		t.Errorf("attackers = %d", w.Code)
	}
}
