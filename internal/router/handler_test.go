package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kelmah/apigateway/internal/apierr"
	"github.com/kelmah/apigateway/internal/auth"
	"github.com/kelmah/apigateway/internal/authz"
	"github.com/kelmah/apigateway/internal/discovery"
	"github.com/kelmah/apigateway/internal/identity"
	"github.com/kelmah/apigateway/internal/observability"
	"github.com/kelmah/apigateway/internal/proxy"
)

type fakeAuthenticator struct {
	tokens map[string]identity.Identity
}

func (f *fakeAuthenticator) Authenticate(_ context.Context, header string) (*auth.RequestContext, error) {
	if header == "" {
		return nil, apierr.NoToken()
	}
	u, ok := f.tokens[header]
	if !ok {
		return nil, apierr.InvalidToken(nil)
	}
	return &auth.RequestContext{User: &u, Token: header[len("Bearer "):]}, nil
}

type fakeForwarder struct {
	calls   int
	target  proxy.Target
	rc      *auth.RequestContext
	hasUser bool
}

func (f *fakeForwarder) Forward(w http.ResponseWriter, r *http.Request, t proxy.Target) {
	f.calls++
	f.target = t
	f.rc, f.hasUser = auth.FromContext(r.Context())
	w.WriteHeader(http.StatusOK)
}

func newTestHandler(t *testing.T) (*Handler, *fakeForwarder) {
	t.Helper()

	r := New()
	require.NoError(t, r.Load(DefaultRoutes()))

	reg, err := discovery.NewStaticRegistry(discovery.ModeLocal, []discovery.Service{
		{Name: ServiceAuth, LocalURL: "http://localhost:5001"},
		{Name: ServiceUser, LocalURL: "http://localhost:5002"},
		{Name: ServiceJob, LocalURL: "http://localhost:5003"},
		{Name: ServicePayment, LocalURL: "http://localhost:5005"},
	})
	require.NoError(t, err)

	authn := &fakeAuthenticator{tokens: map[string]identity.Identity{
		"Bearer worker-token": {ID: "w1", Role: "worker", IsActive: true},
		"Bearer hirer-token":  {ID: "h1", Role: "hirer", IsActive: true},
	}}
	fwd := &fakeForwarder{}
	return NewHandler(r, reg, authn, authz.New(), fwd), fwd
}

func serve(h http.Handler, method, path, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) apierr.Body {
	t.Helper()
	var b apierr.Body
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &b))
	return b
}

func TestHandler_WorkerOnHirerRouteIsForbidden(t *testing.T) {
	t.Parallel()

	h, fwd := newTestHandler(t)
	rec := serve(h, http.MethodGet, "/api/dashboard/overview", "Bearer worker-token")

	assert.Equal(t, http.StatusForbidden, rec.Code)
	body := errorBody(t, rec)
	assert.Equal(t, apierr.CodeInsufficientPermissions, body.Code)
	assert.Equal(t, "worker", body.UserRole)
	assert.Zero(t, fwd.calls)
}

func TestHandler_RequiredRouteWithoutToken(t *testing.T) {
	t.Parallel()

	h, fwd := newTestHandler(t)
	rec := serve(h, http.MethodGet, "/api/users/me", "")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, apierr.CodeNoToken, errorBody(t, rec).Code)
	assert.Zero(t, fwd.calls)
}

func TestHandler_AuthenticatedForward(t *testing.T) {
	t.Parallel()

	h, fwd := newTestHandler(t)
	rec := serve(h, http.MethodGet, "/api/dashboard/overview", "Bearer hirer-token")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, fwd.calls)
	assert.Equal(t, ServiceUser, fwd.target.Service)
	assert.Equal(t, "localhost:5002", fwd.target.BaseURL.Host)
	assert.Equal(t, "/api/dashboard", fwd.target.Prefix)
	require.True(t, fwd.hasUser)
	assert.Equal(t, "h1", fwd.rc.User.ID)
	assert.Equal(t, "hirer-token", fwd.rc.Token)
}

func TestHandler_OptionalAuth(t *testing.T) {
	t.Parallel()

	t.Run("anonymous read", func(t *testing.T) {
		t.Parallel()

		h, fwd := newTestHandler(t)
		rec := serve(h, http.MethodGet, "/api/jobs?limit=1", "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 1, fwd.calls)
		assert.False(t, fwd.hasUser)
	})

	t.Run("authenticated read", func(t *testing.T) {
		t.Parallel()

		h, fwd := newTestHandler(t)
		rec := serve(h, http.MethodGet, "/api/jobs", "Bearer worker-token")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, fwd.hasUser)
	})

	t.Run("bad token rejected", func(t *testing.T) {
		t.Parallel()

		h, fwd := newTestHandler(t)
		rec := serve(h, http.MethodGet, "/api/jobs", "Bearer forged")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, apierr.CodeInvalidToken, errorBody(t, rec).Code)
		assert.Zero(t, fwd.calls)
	})

	t.Run("anonymous write needs auth", func(t *testing.T) {
		t.Parallel()

		h, fwd := newTestHandler(t)
		rec := serve(h, http.MethodPost, "/api/jobs", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Zero(t, fwd.calls)
	})

	t.Run("worker cannot post jobs", func(t *testing.T) {
		t.Parallel()

		h, fwd := newTestHandler(t)
		rec := serve(h, http.MethodPost, "/api/jobs", "Bearer worker-token")
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Zero(t, fwd.calls)
	})

	t.Run("worker applies", func(t *testing.T) {
		t.Parallel()

		h, fwd := newTestHandler(t)
		rec := serve(h, http.MethodPost, "/api/jobs/9/apply", "Bearer worker-token")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 1, fwd.calls)
	})
}

func TestHandler_PublicRouteSkipsAuthentication(t *testing.T) {
	t.Parallel()

	h, fwd := newTestHandler(t)
	rec := serve(h, http.MethodPost, "/api/auth/refresh-token", "Bearer forged")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, fwd.calls)
	assert.False(t, fwd.hasUser)
}

func TestHandler_RouteNotFound(t *testing.T) {
	t.Parallel()

	h, fwd := newTestHandler(t)
	rec := serve(h, http.MethodGet, "/nope", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, apierr.CodeRouteNotFound, errorBody(t, rec).Code)
	assert.Zero(t, fwd.calls)
}

func TestHandler_UnknownServiceIsUnavailable(t *testing.T) {
	t.Parallel()

	h, fwd := newTestHandler(t)
	rec := serve(h, http.MethodGet, "/api/messages", "Bearer worker-token")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "Service unavailable", errorBody(t, rec).Message)
	assert.Zero(t, fwd.calls)
}

func TestHandler_SetsRouteTag(t *testing.T) {
	t.Parallel()

	h, _ := newTestHandler(t)
	ctx, tag := observability.ContextWithRouteTag(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/jobs", nil).WithContext(ctx)
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "jobs", tag.Name)
}

func TestHandler_PaymentRewriterAttached(t *testing.T) {
	t.Parallel()

	h, fwd := newTestHandler(t)
	rec := serve(h, http.MethodGet, "/api/payments/methods", "Bearer hirer-token")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/api/payment-methods", fwd.target.Rewriter.Rewrite(fwd.target.Prefix, "/api/payments/methods"))
}

func TestHandler_CollapsesSlashesBeforeMatching(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		method        string
		path          string
		authorization string
		wantStatus    int
		wantCode      apierr.Code
		wantRoute     string
	}{
		{name: "hirer cannot reach worker-only apply", method: http.MethodPost, path: "/api/jobs//42/apply", authorization: "Bearer hirer-token", wantStatus: http.StatusForbidden, wantCode: apierr.CodeInsufficientPermissions},
		{name: "anonymous my-jobs needs a token", method: http.MethodGet, path: "/api/jobs//my-jobs", wantStatus: http.StatusUnauthorized, wantCode: apierr.CodeNoToken},
		{name: "worker apply still forwards", method: http.MethodPost, path: "//api///jobs/42//apply", authorization: "Bearer worker-token", wantStatus: http.StatusOK, wantRoute: "jobs-apply"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h, fwd := newTestHandler(t)
			ctx, tag := observability.ContextWithRouteTag(context.Background())
			req := httptest.NewRequest(tt.method, tt.path, nil).WithContext(ctx)
			if tt.authorization != "" {
				req.Header.Set("Authorization", tt.authorization)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			require.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, errorBody(t, rec).Code)
				assert.Zero(t, fwd.calls)
				return
			}
			require.Equal(t, 1, fwd.calls)
			assert.Equal(t, tt.wantRoute, tag.Name)
			assert.Equal(t, ServiceJob, fwd.target.Service)
		})
	}
}
