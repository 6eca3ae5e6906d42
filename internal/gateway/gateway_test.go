package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kelmah/apigateway/internal/config"
	"github.com/kelmah/apigateway/internal/identity"
	"github.com/kelmah/apigateway/internal/router"
	"github.com/kelmah/apigateway/internal/secrets"
	"github.com/kelmah/apigateway/internal/trust"
)

const (
	testSecret      = "test-jwt-secret"
	testInternalKey = "test-internal-key"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// upstream records every request it receives.
type upstream struct {
	*httptest.Server
	hits atomic.Int32

	mu   sync.Mutex
	last *http.Request
	body string
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()
	u := &upstream{}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.hits.Add(1)
		b, _ := io.ReadAll(r.Body)
		u.mu.Lock()
		u.last = r.Clone(context.Background())
		u.body = string(b)
		u.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"path":    r.URL.RequestURI(),
		})
	}))
	t.Cleanup(u.Close)
	return u
}

func (u *upstream) lastRequest() (*http.Request, string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.last, u.body
}

var testUsers = map[string]identity.Identity{
	"worker-1": {ID: "worker-1", Email: "w@example.com", Role: "worker", IsActive: true, IsEmailVerified: true},
	"hirer-1":  {ID: "hirer-1", Email: "h@example.com", Role: "hirer", IsActive: true, IsEmailVerified: true},
}

func userStore() identity.Store {
	return identity.StoreFunc(func(_ context.Context, id string) (identity.Identity, error) {
		if u, ok := testUsers[id]; ok {
			return u, nil
		}
		return identity.Identity{}, identity.ErrUserNotFound
	})
}

func testConfig(baseURL string) *config.GatewayConfig {
	cfg := config.DefaultConfig()
	cfg.Auth.JWTSecret = testSecret
	cfg.Auth.InternalKey = testInternalKey
	cfg.Discovery.Mode = "local"
	cfg.Discovery.Probe.Enabled = false
	for i := range cfg.Discovery.Services {
		cfg.Discovery.Services[i].LocalURL = baseURL
	}
	return cfg
}

func noEnvSecrets() secrets.Provider {
	return secrets.NewEnvProvider(secrets.WithEnvLookup(func(string) (string, bool) { return "", false }))
}

func newTestGateway(t *testing.T, cfg *config.GatewayConfig, opts ...Option) *Gateway {
	t.Helper()
	opts = append([]Option{
		WithIdentityStore(userStore()),
		WithSecretsProvider(noEnvSecrets()),
		WithVersion("1.0.0"),
	}, opts...)
	g, err := New(context.Background(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { g.Close(context.Background()) })
	return g
}

func mintToken(t *testing.T, sub, role string) string {
	t.Helper()
	now := time.Now()
	tok := gojwt.NewWithClaims(gojwt.SigningMethodHS256, gojwt.MapClaims{
		"sub":  sub,
		"role": role,
		"iss":  config.DefaultIssuer,
		"aud":  config.DefaultAudience,
		"iat":  now.Unix(),
		"exp":  now.Add(15 * time.Minute).Unix(),
	})
	signed, err := tok.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func do(h http.Handler, method, target, token, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func TestNew_Errors(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNilConfig)

	cfg := config.DefaultConfig()
	cfg.Cache.Capacity = 0
	_, err = New(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestGateway_WorkerOnHirerRouteNeverReachesUpstream(t *testing.T) {
	t.Parallel()

	up := newUpstream(t)
	g := newTestGateway(t, testConfig(up.URL))

	rec := do(g.Handler(), http.MethodGet, "/api/hirers/42", mintToken(t, "worker-1", "worker"), "")

	assert.Equal(t, http.StatusForbidden, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "INSUFFICIENT_PERMISSIONS", body["code"])
	assert.Equal(t, int32(0), up.hits.Load())
}

func TestGateway_RejectedTokensNeverReachUpstream(t *testing.T) {
	t.Parallel()

	up := newUpstream(t)
	g := newTestGateway(t, testConfig(up.URL))

	tests := []struct {
		name  string
		token string
		code  string
	}{
		{name: "missing token", token: "", code: "NO_TOKEN"},
		{name: "garbage token", token: "not-a-jwt", code: "INVALID_TOKEN"},
		{name: "unknown user", token: mintToken(t, "ghost", "worker"), code: "USER_NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(g.Handler(), http.MethodGet, "/api/users/me", tt.token, "")
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, tt.code, decode(t, rec)["code"])
		})
	}
	assert.Equal(t, int32(0), up.hits.Load())
}

func TestGateway_ProxiesWithSignedIdentity(t *testing.T) {
	t.Parallel()

	up := newUpstream(t)
	g := newTestGateway(t, testConfig(up.URL))
	token := mintToken(t, "hirer-1", "hirer")

	rec := do(g.Handler(), http.MethodGet, "/api/jobs?limit=1", token, "")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "/api/jobs/?limit=1", decode(t, rec)["path"])

	req, _ := up.lastRequest()
	require.NotNil(t, req)
	assert.Equal(t, "Bearer "+token, req.Header.Get("Authorization"))
	assert.Equal(t, trust.InternalValue, req.Header.Get(trust.HeaderInternal))
	assert.NotEmpty(t, req.Header.Get("X-Request-ID"))

	payload, err := trust.Verify(req.Header, []byte(testInternalKey))
	require.NoError(t, err)
	assert.Equal(t, "hirer-1", payload.ID)
	assert.Equal(t, "hirer", payload.Role)

	assert.Equal(t, 1, g.IdentityCache().Len())
}

func TestGateway_StripsCallerIdentityHeaders(t *testing.T) {
	t.Parallel()

	up := newUpstream(t)
	g := newTestGateway(t, testConfig(up.URL))

	req := httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
	req.Header.Set(trust.HeaderUser, `{"id":"admin","role":"admin"}`)
	req.Header.Set(trust.HeaderSignature, "forged")
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	got, _ := up.lastRequest()
	assert.Empty(t, got.Header.Get(trust.HeaderUser))
	assert.Empty(t, got.Header.Get(trust.HeaderSignature))
}

func TestGateway_DirectLogin(t *testing.T) {
	t.Parallel()

	up := newUpstream(t)
	g := newTestGateway(t, testConfig(up.URL))

	rec := do(g.Handler(), http.MethodPost, "/api/auth/login", "", `{"email":"h@example.com","password":"x"}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "/api/auth/login", decode(t, rec)["path"])

	req, body := up.lastRequest()
	assert.JSONEq(t, `{"email":"h@example.com","password":"x"}`, body)
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
	assert.Equal(t, trust.InternalValue, req.Header.Get(trust.HeaderInternal))
}

func TestGateway_DirectLoginRejectsMalformedBody(t *testing.T) {
	t.Parallel()

	up := newUpstream(t)
	g := newTestGateway(t, testConfig(up.URL))

	rec := do(g.Handler(), http.MethodPost, "/api/auth/register", "", `{"email":`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "BAD_REQUEST", decode(t, rec)["code"])
	assert.Equal(t, int32(0), up.hits.Load())
}

func TestGateway_DirectLoginAuthServiceDown(t *testing.T) {
	t.Parallel()

	down := httptest.NewServer(http.NotFoundHandler())
	downURL := down.URL
	down.Close()

	g := newTestGateway(t, testConfig(downURL))

	rec := do(g.Handler(), http.MethodPost, "/api/auth/login", "", `{"email":"a"}`)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "SERVICE_UNAVAILABLE", body["code"])
}

func TestGateway_DirectLoginOversizedResponse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		size       int
		wantStatus int
	}{
		{name: "at limit", size: maxDirectResponse, wantStatus: http.StatusOK},
		{name: "over limit", size: maxDirectResponse + 1, wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = io.WriteString(w, strings.Repeat("a", tt.size))
			}))
			t.Cleanup(srv.Close)

			g := newTestGateway(t, testConfig(srv.URL))
			rec := do(g.Handler(), http.MethodPost, "/api/auth/login", "", `{"email":"a"}`)

			require.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, tt.size, rec.Body.Len())
				return
			}
			body := decode(t, rec)
			assert.Equal(t, false, body["success"])
			assert.Equal(t, "INTERNAL_ERROR", body["code"])
		})
	}
}

func TestGateway_UpstreamDownYields503(t *testing.T) {
	t.Parallel()

	down := httptest.NewServer(http.NotFoundHandler())
	downURL := down.URL
	down.Close()

	g := newTestGateway(t, testConfig(downURL))

	rec := do(g.Handler(), http.MethodGet, "/api/jobs", "", "")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "Service unavailable", decode(t, rec)["message"])
}

func TestGateway_OwnEndpoints(t *testing.T) {
	t.Parallel()

	up := newUpstream(t)
	g := newTestGateway(t, testConfig(up.URL))

	rec := do(g.Handler(), http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode(t, rec)
	assert.Equal(t, "UP", health["status"])
	assert.Equal(t, "API Gateway is running", health["message"])

	rec = do(g.Handler(), http.MethodGet, "/", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var banner Banner
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &banner))
	assert.Equal(t, "Kelmah Platform API Gateway", banner.Message)
	assert.Equal(t, "1.0.0", banner.Version)
	assert.Equal(t, "local", banner.Mode)
	assert.Contains(t, banner.Services, router.ServiceJob)

	rec = do(g.Handler(), http.MethodGet, "/health/ready", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(g.Handler(), http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "gateway_requests_total")

	assert.Equal(t, int32(0), up.hits.Load())
}

func TestGateway_UnknownRoute(t *testing.T) {
	t.Parallel()

	up := newUpstream(t)
	g := newTestGateway(t, testConfig(up.URL))

	rec := do(g.Handler(), http.MethodGet, "/nope", "", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "NOT_FOUND", body["code"])
}

func TestGateway_CORSPreflight(t *testing.T) {
	t.Parallel()

	up := newUpstream(t)
	g := newTestGateway(t, testConfig(up.URL))

	req := httptest.NewRequest(http.MethodOptions, "/api/jobs", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	assert.Equal(t, int32(0), up.hits.Load())
}

func TestGateway_Reload(t *testing.T) {
	t.Parallel()

	first := newUpstream(t)
	second := newUpstream(t)
	g := newTestGateway(t, testConfig(first.URL))

	next := testConfig(second.URL)
	next.Routes = []config.RouteConfig{
		{Name: "jobs-only", Prefix: "/api/jobs", Service: router.ServiceJob, Auth: "none"},
	}
	require.NoError(t, g.Reload(next))

	rec := do(g.Handler(), http.MethodGet, "/api/jobs", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int32(0), first.hits.Load())
	assert.Equal(t, int32(1), second.hits.Load())

	rec = do(g.Handler(), http.MethodGet, "/api/reviews", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	bad := testConfig(second.URL)
	bad.Discovery.Mode = "orbit"
	assert.ErrorIs(t, g.Reload(bad), ErrInvalidConfig)
	assert.Same(t, next, g.Config())
}

func TestGateway_Lifecycle(t *testing.T) {
	t.Parallel()

	up := newUpstream(t)
	cfg := testConfig(up.URL)
	cfg.Server.Address = "127.0.0.1:0"
	g := newTestGateway(t, cfg)

	require.NoError(t, g.Start(context.Background()))
	assert.Equal(t, StateRunning, g.State())
	assert.ErrorIs(t, g.Start(context.Background()), ErrGatewayNotStopped)

	resp, err := http.Get("http://" + g.Address() + "/health/live")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, g.Stop(ctx))
	assert.Equal(t, StateStopped, g.State())
	assert.Equal(t, 0, g.IdentityCache().Len())

	assert.ErrorIs(t, g.Stop(ctx), ErrGatewayNotRunning)
	assert.ErrorIs(t, g.Start(ctx), ErrGatewayClosed)
}

func TestState_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "starting", StateStarting.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "stopping", StateStopping.String())
	assert.Equal(t, "unknown", State(42).String())
}

func TestRouteTable(t *testing.T) {
	t.Parallel()

	assert.Equal(t, router.DefaultRoutes(), routeTable(nil))

	routes := routeTable([]config.RouteConfig{{
		Name:        "payments",
		Prefix:      "/api/payments",
		Service:     router.ServicePayment,
		Auth:        "required",
		Roles:       []string{"hirer"},
		Rewrite:     []config.RewriteConfig{{Pattern: "^/api/payments/methods", Replacement: "/api/payment-methods"}},
		Timeout:     config.Duration(5 * time.Second),
		MethodRoles: map[string][]string{"POST": {"admin"}},
	}})
	require.Len(t, routes, 1)
	r := routes[0]
	assert.Equal(t, "/api/payments", r.Match.Prefix)
	assert.Equal(t, router.AuthRequired, r.Auth)
	assert.Equal(t, 5*time.Second, r.Timeout)
	assert.Equal(t, []router.RewriteRule{{Pattern: "^/api/payments/methods", Replacement: "/api/payment-methods"}}, r.Rewrite)
	assert.Equal(t, []string{"admin"}, r.MethodRoles["POST"])
}

func TestGateway_StopDrainsReadiness(t *testing.T) {
	t.Parallel()

	up := newUpstream(t)
	cfg := testConfig(up.URL)
	cfg.Server.Address = "127.0.0.1:0"
	g := newTestGateway(t, cfg, WithDrainDelay(300*time.Millisecond))
	require.NoError(t, g.Start(context.Background()))

	ready := func() int {
		return do(g.Handler(), http.MethodGet, "/health/ready", "", "").Code
	}
	assert.Equal(t, http.StatusOK, ready())

	done := make(chan error, 1)
	go func() { done <- g.Stop(context.Background()) }()

	assert.Eventually(t, func() bool {
		return ready() == http.StatusServiceUnavailable
	}, time.Second, 10*time.Millisecond)
	require.NoError(t, <-done)
}
