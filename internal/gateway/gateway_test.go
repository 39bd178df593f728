package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	ctxengine "github.com/flemzord/chatmem/internal/context"
	"github.com/flemzord/chatmem/internal/conversation"
	"github.com/flemzord/chatmem/internal/core"
	"github.com/flemzord/chatmem/internal/memory"
	"github.com/flemzord/chatmem/internal/security"
	"github.com/flemzord/chatmem/internal/telemetry"
	"gopkg.in/yaml.v3"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGateway_ModuleInfo(t *testing.T) {
	t.Parallel()

	g := &Gateway{}
	info := g.ModuleInfo()

	if info.ID != ModuleID {
		t.Errorf("ID = %q, want %q", info.ID, ModuleID)
	}
	if info.New == nil {
		t.Fatal("New func is nil")
	}
	if _, ok := info.New().(*Gateway); !ok {
		t.Error("New() should return *Gateway")
	}
}

func TestGateway_ConfigureDefaults(t *testing.T) {
	t.Parallel()

	g := &Gateway{}
	if err := g.Configure(mustYAMLNode(t, "{}")); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	if g.config.Bind != "127.0.0.1:8080" {
		t.Errorf("Bind = %q, want default", g.config.Bind)
	}
	if g.config.ReadTimeout != 10*time.Second {
		t.Errorf("ReadTimeout = %v, want 10s", g.config.ReadTimeout)
	}
	if g.config.WriteTimeout != 60*time.Second {
		t.Errorf("WriteTimeout = %v, want 60s", g.config.WriteTimeout)
	}
	if g.config.ShutdownTimeout != 5*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 5s", g.config.ShutdownTimeout)
	}
	if g.config.MaxBodyBytes != 1<<20 {
		t.Errorf("MaxBodyBytes = %d, want 1MiB", g.config.MaxBodyBytes)
	}
}

func TestGateway_ConfigureCustom(t *testing.T) {
	t.Parallel()

	g := &Gateway{}
	node := mustYAMLNode(t, `
bind: "0.0.0.0:9090"
read_timeout: 5s
write_timeout: 15s
shutdown_timeout: 10s
auth:
  bearer_token: "my-token"
rate_limit:
  writes_per_min: 30
  reads_per_min: -1
`)

	if err := g.Configure(node); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if g.config.Bind != "0.0.0.0:9090" {
		t.Errorf("Bind = %q, want custom", g.config.Bind)
	}
	if g.config.Auth.BearerToken != "my-token" {
		t.Errorf("BearerToken = %q", g.config.Auth.BearerToken)
	}
	if g.config.RateLimit.WritesPerMin != 30 || g.config.RateLimit.ReadsPerMin != -1 {
		t.Errorf("RateLimit = %+v", g.config.RateLimit)
	}
}

func TestGateway_ProvisionRegistersSecrets(t *testing.T) {
	t.Parallel()

	appCtx := core.NewAppContext(quietLogger(), t.TempDir())
	redactor := security.NewRedactor()
	appCtx.RegisterService(security.RedactorServiceName, redactor)

	g := &Gateway{}
	g.config = Config{Auth: AuthConfig{BearerToken: "gateway-token-value"}}
	g.config.defaults()

	if err := g.Provision(appCtx); err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if g.limiter == nil {
		t.Error("limiter should be initialized")
	}
	if got := redactor.Redact("token=gateway-token-value"); strings.Contains(got, "gateway-token-value") {
		t.Errorf("bearer token not registered with redactor: %q", got)
	}
}

func TestGateway_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"good address", Config{Bind: "127.0.0.1:8080"}, false},
		{"bad address", Config{Bind: "not a valid address::"}, true},
		{"basic user only", Config{Bind: "127.0.0.1:8080", Auth: AuthConfig{BasicUser: "u"}}, true},
		{"basic complete", Config{Bind: "127.0.0.1:8080", Auth: AuthConfig{BasicUser: "u", BasicPass: "p"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			g := &Gateway{config: tt.cfg}
			if err := g.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// freeAddr returns a free TCP address on localhost.
func freeAddr(t *testing.T) string {
	t.Helper()
	var lc net.ListenConfig
	ln, err := lc.Listen(t.Context(), "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	if err := ln.Close(); err != nil {
		t.Fatal(err)
	}
	return addr
}

// doGet makes a GET request with an optional bearer token.
func doGet(t *testing.T, url, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

// newTestStore builds a store over the in-memory backend. A nil summarizer
// disables compression.
func newTestStore(t *testing.T, s ctxengine.Summarizer, metrics *telemetry.Metrics) *conversation.Store {
	t.Helper()
	st := conversation.New(memory.NewInMemoryBackend(), s, conversation.Config{
		Logger:  quietLogger(),
		Metrics: metrics,
	})
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newTestGateway(t *testing.T, addr string, auth AuthConfig) (*Gateway, *core.AppContext) {
	t.Helper()
	appCtx := core.NewAppContext(quietLogger(), t.TempDir())

	g := &Gateway{}
	g.config = Config{
		Bind:            addr,
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    5 * time.Second,
		ShutdownTimeout: 2 * time.Second,
		Auth:            auth,
	}
	g.config.defaults()
	if err := g.Provision(appCtx); err != nil {
		t.Fatalf("Provision: %v", err)
	}
	return g, appCtx
}

func TestGateway_StartResolvesServices(t *testing.T) {
	t.Parallel()

	addr := freeAddr(t)
	g, appCtx := newTestGateway(t, addr, AuthConfig{})

	metrics := telemetry.NewMetrics()
	appCtx.RegisterService(conversation.ServiceName, newTestStore(t, nil, metrics))
	appCtx.RegisterService(telemetry.ServiceName, metrics)

	if err := g.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = g.Stop(context.Background()) }()

	resp := doGet(t, "http://"+addr+"/health", "")
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.Status != "ok" || health.Store != "ok" {
		t.Errorf("health = %+v", health)
	}

	mresp := doGet(t, "http://"+addr+"/metrics", "")
	body, _ := io.ReadAll(mresp.Body)
	_ = mresp.Body.Close()
	if mresp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d", mresp.StatusCode)
	}
	if !strings.Contains(string(body), "chatmem_searches_total") {
		t.Error("metrics output missing chatmem collectors")
	}
}

func TestGateway_StartWithoutStore(t *testing.T) {
	t.Parallel()

	addr := freeAddr(t)
	g, _ := newTestGateway(t, addr, AuthConfig{})
	if err := g.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = g.Stop(context.Background()) }()

	resp := doGet(t, "http://"+addr+"/api/context", "")
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("api status = %d, want 503", resp.StatusCode)
	}

	// Metrics are not mounted when no registry is bound.
	resp2 := doGet(t, "http://"+addr+"/metrics", "")
	_ = resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound {
		t.Errorf("metrics status = %d, want 404", resp2.StatusCode)
	}
}

func TestGateway_AuthProtectsAPI(t *testing.T) {
	t.Parallel()

	addr := freeAddr(t)
	g, appCtx := newTestGateway(t, addr, AuthConfig{BearerToken: "test-token"})
	appCtx.RegisterService(conversation.ServiceName, newTestStore(t, nil, nil))

	if err := g.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = g.Stop(context.Background()) }()

	resp := doGet(t, "http://"+addr+"/status", "")
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no-auth status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}

	resp2 := doGet(t, "http://"+addr+"/api/sessions", "test-token")
	_ = resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Errorf("auth status = %d, want %d", resp2.StatusCode, http.StatusOK)
	}

	// Health stays public.
	resp3 := doGet(t, "http://"+addr+"/health", "")
	_ = resp3.Body.Close()
	if resp3.StatusCode != http.StatusOK {
		t.Errorf("health status = %d, want %d", resp3.StatusCode, http.StatusOK)
	}
}

func TestGateway_StopNilServer(t *testing.T) {
	t.Parallel()

	g := &Gateway{}
	if err := g.Stop(context.Background()); err != nil {
		t.Errorf("Stop on nil server should not error: %v", err)
	}
}

// mustYAMLNode parses YAML text into a *yaml.Node for Configure calls.
func mustYAMLNode(t *testing.T, text string) *yaml.Node {
	t.Helper()
	var node yaml.Node
	if err := yaml.Unmarshal([]byte(text), &node); err != nil {
		t.Fatalf("YAML parse: %v", err)
	}
	if len(node.Content) > 0 {
		return node.Content[0]
	}
	return &node
}
