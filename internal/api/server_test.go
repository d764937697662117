package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"

	"github.com/carbongrid/enforcer/internal/audit"
	"github.com/carbongrid/enforcer/internal/policy"
	"github.com/carbongrid/enforcer/internal/policy/compiler"
)

func newTestServer(t *testing.T, store *audit.Store) (*Server, *policy.Service) {
	t.Helper()
	service := policy.NewService(policy.ServiceConfig{
		Compiler: compiler.New(compiler.Options{}),
	})
	return NewServer(ServerConfig{}, service, store, nil), service
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
}

const apiTestArtifact = `package authz

allow {
    input.action == "read"
}
`

func TestCompileEnforceRoundTrip(t *testing.T) {
	server, _ := newTestServer(t, nil)
	handler := server.Handler()

	rec := postJSON(t, handler, "/v1/policies", policy.Artifact{
		ID:      "authz",
		Type:    policy.ArtifactTypeRego,
		Content: apiTestArtifact,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("compile status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var compiled struct {
		PolicyID string `json:"policy_id"`
		Rules    []struct {
			ID     string `json:"id"`
			Action string `json:"action"`
		} `json:"rules"`
	}
	decodeBody(t, rec, &compiled)
	if compiled.PolicyID != "authz" || len(compiled.Rules) != 1 {
		t.Fatalf("compile response = %+v", compiled)
	}

	rec = postJSON(t, handler, "/v1/enforce", map[string]any{
		"context":   map[string]any{"action": "read", "user": "alice"},
		"policy_id": "authz",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("enforce status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var result policy.EnforcementResult
	decodeBody(t, rec, &result)
	if result.Decision != policy.DecisionAllow {
		t.Errorf("decision = %s, want allow (%s)", result.Decision, result.Explanation)
	}
	if result.RequestID == "" {
		t.Error("missing request id")
	}
}

func TestEnforceValidation(t *testing.T) {
	server, _ := newTestServer(t, nil)
	handler := server.Handler()

	rec := postJSON(t, handler, "/v1/enforce", map[string]any{"policy_id": "authz"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing context: status = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/enforce", bytes.NewReader([]byte("{not json")))
	out := httptest.NewRecorder()
	handler.ServeHTTP(out, req)
	if out.Code != http.StatusBadRequest {
		t.Errorf("malformed body: status = %d", out.Code)
	}
}

func TestCompileValidation(t *testing.T) {
	server, _ := newTestServer(t, nil)

	rec := postJSON(t, server.Handler(), "/v1/policies", policy.Artifact{Content: "x"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing artifact id: status = %d", rec.Code)
	}
}

func TestEnforceBatch(t *testing.T) {
	server, service := newTestServer(t, nil)
	service.CompilePolicy(policy.Artifact{ID: "authz", Type: policy.ArtifactTypeRego, Content: apiTestArtifact})

	rec := postJSON(t, server.Handler(), "/v1/enforce/batch", map[string]any{
		"requests": []map[string]any{
			{"context": map[string]any{"action": "read", "user": "alice"}, "policy_id": "authz"},
			{"context": map[string]any{"action": "write", "user": "alice"}, "policy_id": "authz"},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("batch status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Results []*policy.EnforcementResult `json:"results"`
	}
	decodeBody(t, rec, &resp)
	if len(resp.Results) != 2 {
		t.Fatalf("got %d results", len(resp.Results))
	}
	if resp.Results[0].Decision != policy.DecisionAllow {
		t.Errorf("results[0] = %s", resp.Results[0].Decision)
	}
	if resp.Results[1].Decision != policy.DecisionDeny {
		t.Errorf("results[1] = %s", resp.Results[1].Decision)
	}
}

func TestEnforceBatchValidation(t *testing.T) {
	server, _ := newTestServer(t, nil)

	rec := postJSON(t, server.Handler(), "/v1/enforce/batch", map[string]any{
		"requests": []map[string]any{{"policy_id": "authz"}},
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for missing context", rec.Code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	server, service := newTestServer(t, nil)
	service.CompilePolicy(policy.Artifact{ID: "authz", Type: policy.ArtifactTypeRego, Content: apiTestArtifact})
	service.Enforce(context.Background(), &policy.RequestContext{Action: "read", User: "alice"}, "authz")

	req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var stats policy.Stats
	decodeBody(t, rec, &stats)
	if stats.PolicyCount != 1 {
		t.Errorf("policy count = %d", stats.PolicyCount)
	}
}

func TestAuditEndpoint(t *testing.T) {
	store, err := audit.NewStore(audit.StoreConfig{DBPath: ":memory:"})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	server, service := newTestServer(t, store)
	service.CompilePolicy(policy.Artifact{ID: "authz", Type: policy.ArtifactTypeRego, Content: apiTestArtifact})

	req := &policy.RequestContext{Action: "read", User: "alice"}
	res := service.Enforce(context.Background(), req, "authz")
	if err := store.Insert(context.Background(), audit.FromDecision(req, res)); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	httpReq := httptest.NewRequest(http.MethodGet, "/v1/audit?user=alice&limit=10", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httpReq)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Records []*audit.Record `json:"records"`
	}
	decodeBody(t, rec, &resp)
	if len(resp.Records) != 1 || resp.Records[0].User != "alice" {
		t.Errorf("records = %+v", resp.Records)
	}

	bad := httptest.NewRequest(http.MethodGet, "/v1/audit?limit=zero", nil)
	out := httptest.NewRecorder()
	server.Handler().ServeHTTP(out, bad)
	if out.Code != http.StatusBadRequest {
		t.Errorf("bad limit: status = %d", out.Code)
	}
}

func TestAuditEndpointAbsentWithoutStore(t *testing.T) {
	server, _ := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/audit", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 when audit is disabled", rec.Code)
	}
}
