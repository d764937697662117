package policy_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/carbongrid/enforcer/internal/policy"
)

func writeArtifact(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
}

func TestLoadAll(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "authz.rego", readPolicy)
	writeArtifact(t, dir, "terms.json", `{"id": "terms", "type": "natural", "content": "all users may read"}`)
	writeArtifact(t, dir, "notes.txt", "not an artifact")
	writeArtifact(t, dir, "broken.json", "{nope")

	svc := newTestService(t, policy.ServiceConfig{})
	loader := policy.NewLoader(dir, svc)

	loaded, err := loader.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if loaded != 2 {
		t.Errorf("loaded = %d, want 2", loaded)
	}

	if _, ok := svc.Policy("authz"); !ok {
		t.Error("authz not registered")
	}
	if _, ok := svc.Policy("terms"); !ok {
		t.Error("terms not registered")
	}
	if _, ok := svc.Policy("notes"); ok {
		t.Error("unsupported file should not register")
	}
}

func TestLoadAllRegoSemantics(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "authz.rego", readPolicy)

	svc := newTestService(t, policy.ServiceConfig{})
	if _, err := policy.NewLoader(dir, svc).LoadAll(); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}

	res := svc.Enforce(context.Background(), &policy.RequestContext{Action: "read", User: "alice"}, "authz")
	if res.Decision != policy.DecisionAllow {
		t.Errorf("decision = %s, want allow (%s)", res.Decision, res.Explanation)
	}
}

func TestLoadAllJSONDefaults(t *testing.T) {
	dir := t.TempDir()
	// Envelope without id or type takes both from the filename and the
	// natural-language default.
	writeArtifact(t, dir, "policy-doc.json", `{"content": "be nice"}`)

	svc := newTestService(t, policy.ServiceConfig{})
	if _, err := policy.NewLoader(dir, svc).LoadAll(); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}

	compiled, ok := svc.Policy("policy-doc")
	if !ok {
		t.Fatal("policy-doc not registered")
	}
	if len(compiled.Rules) != 1 {
		t.Fatalf("rules = %d", len(compiled.Rules))
	}
}

func TestLoadAllMissingDir(t *testing.T) {
	svc := newTestService(t, policy.ServiceConfig{})
	if _, err := policy.NewLoader(filepath.Join(t.TempDir(), "nope"), svc).LoadAll(); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestWatchRecompilesOnWrite(t *testing.T) {
	dir := t.TempDir()
	svc := newTestService(t, policy.ServiceConfig{})
	loader := policy.NewLoader(dir, svc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := loader.Watch(ctx); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	writeArtifact(t, dir, "authz.rego", readPolicy)

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := svc.Policy("authz"); ok {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("policy was not registered after file creation")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
