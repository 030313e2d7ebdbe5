package web_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/artpar/fitgate/adapters/clock"
	"github.com/artpar/fitgate/adapters/idgen"
	"github.com/artpar/fitgate/adapters/memory"
	"github.com/artpar/fitgate/adapters/metrics"
	"github.com/artpar/fitgate/adapters/random"
	"github.com/artpar/fitgate/adapters/vault"
	"github.com/artpar/fitgate/app"
	"github.com/artpar/fitgate/domain/tier"
	"github.com/artpar/fitgate/web"
)

const adminToken = "test-admin-token"

type testServer struct {
	srv     *httptest.Server
	keys    *app.KeyService
	clock   *clock.Fake
	metrics *metrics.Collector
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	v, err := vault.New(bytes.Repeat([]byte{0x42}, vault.KeySize))
	if err != nil {
		t.Fatalf("vault.New() = %v", err)
	}

	clk := clock.NewFake(time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC))
	keySvc := app.NewKeyService(app.KeyDeps{
		Keys:   memory.NewKeyStore(),
		Cipher: v,
		Random: random.NewFake(),
		IDGen:  idgen.NewSequential("key-"),
		Clock:  clk,
		Logger: zerolog.Nop(),
	})
	quotaSvc, err := app.NewQuotaService(app.QuotaDeps{
		Counters: memory.NewCounterStore(),
		Clock:    clk,
		Logger:   zerolog.Nop(),
	}, tier.Defaults())
	if err != nil {
		t.Fatalf("NewQuotaService() = %v", err)
	}

	reg := prometheus.NewRegistry()
	col := metrics.New(reg)

	h := web.NewHandler(web.Deps{
		Guard:      app.NewGuard(keySvc, quotaSvc, zerolog.Nop()),
		Keys:       keySvc,
		Usage:      memory.NewUsageStore(),
		Clock:      clk,
		Metrics:    col,
		Registry:   reg,
		AdminToken: adminToken,
		Logger:     zerolog.Nop(),
	})

	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, keys: keySvc, clock: clk, metrics: col}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}, admin bool) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if admin {
		req.Header.Set("Authorization", "Bearer "+adminToken)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, into interface{}) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func (ts *testServer) issue(t *testing.T, body map[string]interface{}) web.CreatedKeyResponse {
	t.Helper()
	resp := ts.do(t, http.MethodPost, "/v1/keys", body, true)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create key status = %d", resp.StatusCode)
	}
	var created web.CreatedKeyResponse
	decode(t, resp, &created)
	return created
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, http.MethodGet, "/healthz", nil, false)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestCreateKeyReturnsRawKeyOnce(t *testing.T) {
	ts := newTestServer(t)
	created := ts.issue(t, map[string]interface{}{
		"owner_id": "tenant-1",
		"tier":     "starter",
		"label":    "ci",
	})

	if !strings.HasPrefix(created.Key, "fg_") {
		t.Errorf("raw key = %q", created.Key)
	}
	if created.Record.OwnerID != "tenant-1" || created.Record.Tier != "starter" {
		t.Errorf("record = %+v", created.Record)
	}

	// The record representation never carries the raw key or secret.
	resp := ts.do(t, http.MethodGet, "/v1/keys/"+created.Record.ID, nil, true)
	raw := make(map[string]interface{})
	decode(t, resp, &raw)
	for _, field := range []string{"key", "secret", "secret_ciphertext"} {
		if _, ok := raw[field]; ok {
			t.Errorf("key response leaks %q", field)
		}
	}
}

func TestCreateKeyValidation(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{"missing owner", map[string]interface{}{"tier": "trial"}},
		{"unknown tier", map[string]interface{}{"owner_id": "t", "tier": "gold"}},
		{"bad ttl", map[string]interface{}{"owner_id": "t", "tier": "trial", "ttl": "soon"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.do(t, http.MethodPost, "/v1/keys", tt.body, true)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestAuthorizeFlow(t *testing.T) {
	ts := newTestServer(t)
	created := ts.issue(t, map[string]interface{}{
		"owner_id":       "tenant-1",
		"tier":           "trial",
		"limit_override": 2,
	})

	// Two allowed calls, then a quota denial.
	for i := 0; i < 2; i++ {
		resp := ts.do(t, http.MethodPost, "/v1/authorize", map[string]string{"api_key": created.Key}, false)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("authorize status = %d", resp.StatusCode)
		}
		var d web.AuthorizeResponse
		decode(t, resp, &d)
		if !d.Allowed {
			t.Fatalf("call %d denied: %q", i+1, d.Reason)
		}
	}

	resp := ts.do(t, http.MethodPost, "/v1/authorize", map[string]string{"api_key": created.Key}, false)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("denial must still be 200, got %d", resp.StatusCode)
	}
	var d web.AuthorizeResponse
	decode(t, resp, &d)
	if d.Allowed || d.Reason != "quota_exceeded" {
		t.Errorf("decision = %+v, want quota_exceeded denial", d)
	}
	if d.KeyID != created.Record.ID {
		t.Errorf("quota denial key_id = %q", d.KeyID)
	}
}

func TestAuthorizeInvalidKey(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/v1/authorize", map[string]string{"api_key": "fg_bogus"}, false)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var d web.AuthorizeResponse
	decode(t, resp, &d)
	if d.Allowed || d.Reason != "invalid_key" {
		t.Errorf("decision = %+v", d)
	}

	if got := testutil.ToFloat64(ts.metrics.AuthorizeTotal.WithLabelValues("deny_invalid_key", "")); got != 1 {
		t.Errorf("deny_invalid_key counter = %v, want 1", got)
	}
}

func TestAuthorizeMissingBody(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, http.MethodPost, "/v1/authorize", map[string]string{}, false)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestFinalizeRollbackRestoresQuota(t *testing.T) {
	ts := newTestServer(t)
	created := ts.issue(t, map[string]interface{}{
		"owner_id":       "t",
		"tier":           "trial",
		"limit_override": 1,
	})

	var d web.AuthorizeResponse
	decode(t, ts.do(t, http.MethodPost, "/v1/authorize", map[string]string{"api_key": created.Key}, false), &d)
	if !d.Allowed {
		t.Fatal("first authorize denied")
	}
	if d.WindowStart == 0 {
		t.Fatal("authorize response missing window_start")
	}

	resp := ts.do(t, http.MethodPost, "/v1/finalize", map[string]interface{}{
		"key_id":       created.Record.ID,
		"outcome":      "rollback",
		"window_start": d.WindowStart,
	}, false)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("finalize status = %d", resp.StatusCode)
	}

	decode(t, ts.do(t, http.MethodPost, "/v1/authorize", map[string]string{"api_key": created.Key}, false), &d)
	if !d.Allowed {
		t.Error("authorize after rollback denied")
	}
}

func TestFinalizeRecordsUsage(t *testing.T) {
	ts := newTestServer(t)
	created := ts.issue(t, map[string]interface{}{"owner_id": "t", "tier": "starter"})

	for i, status := range []int{200, 200, 500} {
		resp := ts.do(t, http.MethodPost, "/v1/finalize", map[string]interface{}{
			"key_id":     created.Record.ID,
			"outcome":    "commit",
			"tool":       "get_activities",
			"status":     status,
			"latency_ms": 10 * (i + 1),
		}, false)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("finalize #%d status = %d", i+1, resp.StatusCode)
		}
	}

	resp := ts.do(t, http.MethodGet, "/v1/keys/"+created.Record.ID+"/usage", nil, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("usage status = %d", resp.StatusCode)
	}
	var body struct {
		Events  []map[string]interface{} `json:"events"`
		Summary struct {
			RequestCount int64 `json:"RequestCount"`
			ErrorCount   int64 `json:"ErrorCount"`
		} `json:"summary"`
	}
	decode(t, resp, &body)
	if len(body.Events) != 3 {
		t.Errorf("events = %d, want 3", len(body.Events))
	}
	if body.Summary.RequestCount != 3 || body.Summary.ErrorCount != 1 {
		t.Errorf("summary = %+v", body.Summary)
	}
}

func TestFinalizeValidation(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/v1/finalize", map[string]interface{}{"outcome": "commit"}, false)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing key_id: status = %d", resp.StatusCode)
	}

	resp = ts.do(t, http.MethodPost, "/v1/finalize", map[string]interface{}{"key_id": "k", "outcome": "retry"}, false)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad outcome: status = %d", resp.StatusCode)
	}

	resp = ts.do(t, http.MethodPost, "/v1/finalize", map[string]interface{}{"key_id": "missing", "outcome": "commit"}, false)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown key: status = %d", resp.StatusCode)
	}
}

func TestRevokeKey(t *testing.T) {
	ts := newTestServer(t)
	created := ts.issue(t, map[string]interface{}{"owner_id": "t", "tier": "starter"})

	resp := ts.do(t, http.MethodDelete, "/v1/keys/"+created.Record.ID, nil, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("revoke status = %d", resp.StatusCode)
	}

	var d web.AuthorizeResponse
	decode(t, ts.do(t, http.MethodPost, "/v1/authorize", map[string]string{"api_key": created.Key}, false), &d)
	if d.Allowed || d.Reason != "key_revoked" {
		t.Errorf("decision = %+v", d)
	}

	resp = ts.do(t, http.MethodDelete, "/v1/keys/no-such-key", nil, true)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("revoke missing: status = %d", resp.StatusCode)
	}
}

func TestRotateKey(t *testing.T) {
	ts := newTestServer(t)
	created := ts.issue(t, map[string]interface{}{"owner_id": "t", "tier": "professional"})

	resp := ts.do(t, http.MethodPost, "/v1/keys/"+created.Record.ID+"/rotate", nil, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("rotate status = %d", resp.StatusCode)
	}
	var rotated web.CreatedKeyResponse
	decode(t, resp, &rotated)

	var d web.AuthorizeResponse
	decode(t, ts.do(t, http.MethodPost, "/v1/authorize", map[string]string{"api_key": rotated.Key}, false), &d)
	if !d.Allowed {
		t.Errorf("rotated key denied: %q", d.Reason)
	}

	decode(t, ts.do(t, http.MethodPost, "/v1/authorize", map[string]string{"api_key": created.Key}, false), &d)
	if d.Allowed || d.Reason != "key_revoked" {
		t.Errorf("old key decision = %+v", d)
	}
}

func TestListKeysFiltersByOwner(t *testing.T) {
	ts := newTestServer(t)
	ts.issue(t, map[string]interface{}{"owner_id": "a", "tier": "trial"})
	ts.issue(t, map[string]interface{}{"owner_id": "b", "tier": "trial"})
	ts.issue(t, map[string]interface{}{"owner_id": "a", "tier": "starter"})

	var body struct {
		Keys  []web.KeyResponse `json:"keys"`
		Total int               `json:"total"`
	}
	decode(t, ts.do(t, http.MethodGet, "/v1/keys?owner=a", nil, true), &body)
	if body.Total != 2 {
		t.Errorf("owner=a total = %d, want 2", body.Total)
	}

	decode(t, ts.do(t, http.MethodGet, "/v1/keys", nil, true), &body)
	if body.Total != 3 {
		t.Errorf("total = %d, want 3", body.Total)
	}
}

func TestAdminAuthRequired(t *testing.T) {
	ts := newTestServer(t)

	paths := []struct {
		method, path string
	}{
		{http.MethodGet, "/v1/keys"},
		{http.MethodPost, "/v1/keys"},
		{http.MethodDelete, "/v1/keys/some-id"},
	}
	for _, p := range paths {
		resp := ts.do(t, p.method, p.path, nil, false)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s %s without token: status = %d, want 401", p.method, p.path, resp.StatusCode)
		}
	}

	// Wrong token is also refused.
	req, _ := http.NewRequest(http.MethodGet, ts.srv.URL+"/v1/keys", nil)
	req.Header.Set("Authorization", "Bearer wrong-token")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d, want 401", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	created := ts.issue(t, map[string]interface{}{"owner_id": "t", "tier": "starter"})

	ts.do(t, http.MethodPost, "/v1/authorize", map[string]string{"api_key": created.Key}, false)

	resp := ts.do(t, http.MethodGet, "/metrics", nil, false)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d", resp.StatusCode)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	for _, want := range []string{"fitgate_authorize_total", "fitgate_keys_issued_total"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("metrics output missing %s", want)
		}
	}
}
