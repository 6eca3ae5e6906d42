package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kelmah/apigateway/internal/apierr"
	"github.com/kelmah/apigateway/internal/auth"
	"github.com/kelmah/apigateway/internal/identity"
	"github.com/kelmah/apigateway/internal/observability"
	"github.com/kelmah/apigateway/internal/trust"
)

const testKey = "internal-test-key"

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

type captured struct {
	mu      sync.Mutex
	path    string
	query   string
	header  http.Header
	body    []byte
	length  int64
	hits    atomic.Int32
	method  string
	rawPath string
}

func newUpstream(t *testing.T, status int, body string) (*httptest.Server, *captured) {
	t.Helper()

	c := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.hits.Add(1)
		b, _ := io.ReadAll(r.Body)

		c.mu.Lock()
		c.path = r.URL.Path
		c.rawPath = r.URL.EscapedPath()
		c.query = r.URL.RawQuery
		c.header = r.Header.Clone()
		c.body = b
		c.length = r.ContentLength
		c.method = r.Method
		c.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Upstream", "job")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, c
}

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func testIdentity() identity.Identity {
	return identity.Identity{
		ID:              "2b0c6f0e-8c1e-4b8f-9c55-0f5c1f4a1a11",
		Email:           "ama@example.com",
		Role:            "hirer",
		FirstName:       "Ama",
		LastName:        "Mensah",
		IsEmailVerified: true,
		IsActive:        true,
		TokenVersion:    3,
	}
}

func withIdentity(r *http.Request, token string) *http.Request {
	u := testIdentity()
	ctx := auth.WithRequestContext(r.Context(), &auth.RequestContext{User: &u, Token: token})
	return r.WithContext(ctx)
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) apierr.Body {
	t.Helper()
	var body apierr.Body
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestForward_AuthenticatedRequest(t *testing.T) {
	t.Parallel()

	srv, c := newUpstream(t, http.StatusCreated, `{"success":true}`)
	p := New(trust.NewSigner(testKey, "jwt-secret"))

	req := httptest.NewRequest(http.MethodGet, "/api/jobs?limit=1", nil)
	req.Header.Set("Authorization", "Bearer caller-supplied")
	req.Header.Set(trust.HeaderUser, `{"id":"spoofed","role":"admin"}`)
	req.Header.Set(trust.HeaderSignature, "deadbeef")
	req = withIdentity(req, "verified-token")
	rec := httptest.NewRecorder()

	p.Forward(rec, req, Target{Service: "job", BaseURL: mustURL(t, srv.URL), Prefix: "/api/jobs"})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())
	assert.Equal(t, "job", rec.Header().Get("X-Upstream"))

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Equal(t, "/api/jobs/", c.path)
	assert.Equal(t, "limit=1", c.query)
	assert.Equal(t, "Bearer verified-token", c.header.Get("Authorization"))
	assert.Equal(t, trust.InternalValue, c.header.Get(trust.HeaderInternal))
	assert.Equal(t, trust.SourceGateway, c.header.Get(trust.HeaderSource))
	assert.NotEmpty(t, c.header.Get("X-Forwarded-For"))

	payload, err := trust.Verify(c.header, []byte(testKey))
	require.NoError(t, err)
	assert.Equal(t, testIdentity().ID, payload.ID)
	assert.Equal(t, "hirer", payload.Role)
	assert.Equal(t, 3, payload.TokenVersion)
}

func TestForward_AnonymousStripsIdentityHeaders(t *testing.T) {
	t.Parallel()

	srv, c := newUpstream(t, http.StatusOK, `[]`)
	p := New(trust.NewSigner(testKey, ""))

	req := httptest.NewRequest(http.MethodGet, "/api/reviews/worker/7", nil)
	req.Header.Set("Authorization", "Bearer opaque")
	req.Header.Set(trust.HeaderUser, `{"id":"spoofed"}`)
	req.Header.Set(trust.HeaderSource, trust.SourceGateway)
	req.Header.Set(trust.HeaderSignature, "00")
	rec := httptest.NewRecorder()

	p.Forward(rec, req, Target{Service: "review", BaseURL: mustURL(t, srv.URL)})

	require.Equal(t, http.StatusOK, rec.Code)
	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Empty(t, c.header.Get(trust.HeaderUser))
	assert.Empty(t, c.header.Get(trust.HeaderSource))
	assert.Empty(t, c.header.Get(trust.HeaderSignature))
	assert.Equal(t, "Bearer opaque", c.header.Get("Authorization"))
	assert.Equal(t, "/api/reviews/worker/7", c.path)
}

func TestForward_UpstreamStatusPassesThrough(t *testing.T) {
	t.Parallel()

	srv, _ := newUpstream(t, http.StatusNotFound, `{"success":false,"message":"Job not found"}`)
	p := New(trust.NewSigner(testKey, ""))

	rec := httptest.NewRecorder()
	p.Forward(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/999", nil),
		Target{Service: "job", BaseURL: mustURL(t, srv.URL)})

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, `{"success":false,"message":"Job not found"}`, rec.Body.String())
}

func TestForward_RewriteAndBasePath(t *testing.T) {
	t.Parallel()

	srv, c := newUpstream(t, http.StatusOK, `{}`)
	p := New(trust.NewSigner(testKey, ""))

	rw := NewRewriter(WithRules(ReplacePrefix("/api/payments/methods", "/api/payment-methods")))
	rec := httptest.NewRecorder()
	p.Forward(rec, httptest.NewRequest(http.MethodGet, "/api//payments/methods/a%2Fb", nil),
		Target{Service: "payment", BaseURL: mustURL(t, srv.URL+"/v1"), Prefix: "/api/payments", Rewriter: rw})

	require.Equal(t, http.StatusOK, rec.Code)
	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Equal(t, "/v1/api/payment-methods/a%2Fb", c.rawPath)
}

func TestForward_BodyRehydration(t *testing.T) {
	t.Parallel()

	srv, c := newUpstream(t, http.StatusCreated, `{}`)
	p := New(trust.NewSigner(testKey, ""))

	payload := `{"title":"Plumber needed","budget":250}`
	req := httptest.NewRequest(http.MethodPost, "/api/jobs", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.ContentLength = -1
	req.Header.Del("Content-Length")
	req = withIdentity(req, "tok")

	core, logs := observer.New(zapcore.InfoLevel)
	p.logger = observability.NewZapLogger(zap.New(core))

	rec := httptest.NewRecorder()
	p.Forward(rec, req, Target{Service: "job", BaseURL: mustURL(t, srv.URL)})

	require.Equal(t, http.StatusCreated, rec.Code)
	c.mu.Lock()
	assert.Equal(t, int64(len(payload)), c.length)
	assert.Equal(t, payload, string(c.body))
	assert.Equal(t, http.MethodPost, c.method)
	c.mu.Unlock()

	entries := logs.FilterMessage("proxied request").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "RESPONDED", entries[0].ContextMap()["state"])
}

func TestForward_EmptyJSONBodyNotRehydrated(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodDelete, "/api/jobs/1", strings.NewReader("  "))
	req.Header.Set("Content-Type", "application/json")

	ok, err := rehydrateBody(req)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(0), req.ContentLength)
}

func TestRehydrateBody_SkipsGetAndNonJSON(t *testing.T) {
	t.Parallel()

	get := httptest.NewRequest(http.MethodGet, "/", strings.NewReader(`{"a":1}`))
	get.Header.Set("Content-Type", "application/json")
	ok, err := rehydrateBody(get)
	require.NoError(t, err)
	assert.False(t, ok)

	form := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("a=1"))
	form.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	ok, err = rehydrateBody(form)
	require.NoError(t, err)
	assert.False(t, ok)

	problem := httptest.NewRequest(http.MethodPatch, "/", strings.NewReader(`{"a":1}`))
	problem.Header.Set("Content-Type", "application/merge-patch+json")
	ok, err = rehydrateBody(problem)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestForward_BodyTooLarge(t *testing.T) {
	t.Parallel()

	srv, c := newUpstream(t, http.StatusOK, `{}`)
	p := New(trust.NewSigner(testKey, ""))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/jobs", strings.NewReader(`{"description":"long"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Body = http.MaxBytesReader(rec, req.Body, 4)

	p.Forward(rec, req, Target{Service: "job", BaseURL: mustURL(t, srv.URL)})

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, apierr.CodePayloadTooLarge, decodeError(t, rec).Code)
	assert.Zero(t, c.hits.Load())
}

func TestForward_ConnectionRefused(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	reg := prometheus.NewRegistry()
	m := NewMetrics("gateway", reg)
	p := New(trust.NewSigner(testKey, ""), WithMetrics(m))

	rec := httptest.NewRecorder()
	p.Forward(rec, httptest.NewRequest(http.MethodGet, "/api/messages", nil),
		Target{Service: "messaging", BaseURL: mustURL(t, base)})

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decodeError(t, rec)
	assert.False(t, body.Success)
	assert.Equal(t, "Service unavailable", body.Message)
	assert.Equal(t, apierr.CodeServiceUnavailable, body.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("messaging", "CONN_REFUSED")))
}

func TestForward_Timeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	p := New(trust.NewSigner(testKey, ""))
	rec := httptest.NewRecorder()
	p.Forward(rec, httptest.NewRequest(http.MethodGet, "/api/jobs", nil),
		Target{Service: "job", BaseURL: mustURL(t, srv.URL), Timeout: 50 * time.Millisecond})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, apierr.CodeUpstreamTimeout, decodeError(t, rec).Code)
}

func TestForward_OtherTransportError(t *testing.T) {
	t.Parallel()

	rt := roundTripFunc(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("tls: handshake failure")
	})
	p := New(trust.NewSigner(testKey, ""), WithTransport(rt))

	rec := httptest.NewRecorder()
	p.Forward(rec, httptest.NewRequest(http.MethodGet, "/api/users/me", nil),
		Target{Service: "user", BaseURL: mustURL(t, "http://user.internal")})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "Internal server error", body.Message)
	assert.Equal(t, apierr.CodeInternalError, body.Code)
}

func TestForward_NoTarget(t *testing.T) {
	t.Parallel()

	p := New(trust.NewSigner(testKey, ""))
	rec := httptest.NewRecorder()
	p.Forward(rec, httptest.NewRequest(http.MethodGet, "/api/jobs", nil), Target{Service: "job"})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func recordingHooks(events *[]string, mu *sync.Mutex, preErr error) Hooks {
	add := func(e string) {
		mu.Lock()
		defer mu.Unlock()
		*events = append(*events, e)
	}
	return Hooks{
		PreRequest: func(r *http.Request) error {
			add("pre")
			return preErr
		},
		PostResponse: func(r *http.Request, resp *http.Response) {
			add("post")
		},
		OnError: func(r *http.Request, err error) {
			add("error")
		},
	}
}

func TestForward_HookOrder(t *testing.T) {
	t.Parallel()

	t.Run("success", func(t *testing.T) {
		t.Parallel()

		srv, _ := newUpstream(t, http.StatusOK, `{}`)
		var mu sync.Mutex
		var events []string
		p := New(trust.NewSigner(testKey, ""), WithHooks(recordingHooks(&events, &mu, nil)))

		p.Forward(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/jobs", nil),
			Target{Service: "job", BaseURL: mustURL(t, srv.URL)})

		assert.Equal(t, []string{"pre", "post"}, events)
	})

	t.Run("transport error", func(t *testing.T) {
		t.Parallel()

		rt := roundTripFunc(func(*http.Request) (*http.Response, error) {
			return nil, errors.New("boom")
		})
		var mu sync.Mutex
		var events []string
		p := New(trust.NewSigner(testKey, ""), WithTransport(rt), WithHooks(recordingHooks(&events, &mu, nil)))

		p.Forward(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/jobs", nil),
			Target{Service: "job", BaseURL: mustURL(t, "http://job.internal")})

		assert.Equal(t, []string{"pre", "error"}, events)
	})

	t.Run("pre-request abort", func(t *testing.T) {
		t.Parallel()

		srv, c := newUpstream(t, http.StatusOK, `{}`)
		var mu sync.Mutex
		var events []string
		second := Hooks{PreRequest: func(*http.Request) error {
			mu.Lock()
			defer mu.Unlock()
			events = append(events, "second-pre")
			return nil
		}}
		p := New(trust.NewSigner(testKey, ""),
			WithHooks(recordingHooks(&events, &mu, apierr.RateLimited())),
			WithHooks(second),
		)

		rec := httptest.NewRecorder()
		p.Forward(rec, httptest.NewRequest(http.MethodGet, "/api/jobs", nil),
			Target{Service: "job", BaseURL: mustURL(t, srv.URL)})

		assert.Equal(t, []string{"pre", "error"}, events)
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Zero(t, c.hits.Load())
	})
}

func TestForward_HooksSeeOutboundRequest(t *testing.T) {
	t.Parallel()

	srv, _ := newUpstream(t, http.StatusOK, `{}`)
	var sawSignature atomic.Bool
	p := New(trust.NewSigner(testKey, ""), WithHooks(Hooks{
		PreRequest: func(r *http.Request) error {
			sawSignature.Store(r.Header.Get(trust.HeaderSignature) != "")
			return nil
		},
	}))

	req := withIdentity(httptest.NewRequest(http.MethodGet, "/api/jobs", nil), "tok")
	p.Forward(httptest.NewRecorder(), req, Target{Service: "job", BaseURL: mustURL(t, srv.URL)})

	assert.True(t, sawSignature.Load())
}

func TestForward_LogLine(t *testing.T) {
	t.Parallel()

	rt := roundTripFunc(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("boom")
	})
	core, logs := observer.New(zapcore.InfoLevel)
	p := New(trust.NewSigner(testKey, ""),
		WithTransport(rt),
		WithLogger(observability.NewZapLogger(zap.New(core))),
	)

	ctx := observability.ContextWithRequestID(context.Background(), "req-42")
	req := httptest.NewRequest(http.MethodGet, "/api/jobs?limit=1", nil).WithContext(ctx)
	p.Forward(httptest.NewRecorder(), req, Target{Service: "job", BaseURL: mustURL(t, "http://job.internal")})

	entries := logs.FilterMessage("proxied request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, "GET", fields["method"])
	assert.Equal(t, "/api/jobs", fields["path"])
	assert.Equal(t, "/api/jobs/?limit=1", fields["upstream_path"])
	assert.Equal(t, "http://job.internal", fields["target"])
	assert.Equal(t, int64(http.StatusInternalServerError), fields["status"])
	assert.Equal(t, "req-42", fields["request_id"])
	assert.Equal(t, "FAILED", fields["state"])
	assert.Contains(t, fields, "error")
}

func TestForward_Streaming(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for i := 0; i < 3; i++ {
			_, _ = io.WriteString(w, "data: tick\n\n")
			w.(http.Flusher).Flush()
		}
	}))
	t.Cleanup(srv.Close)

	p := New(trust.NewSigner(testKey, ""))
	rec := httptest.NewRecorder()
	p.Forward(rec, httptest.NewRequest(http.MethodGet, "/api/notifications/stream", nil),
		Target{Service: "messaging", BaseURL: mustURL(t, srv.URL)})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, bytes.Count(rec.Body.Bytes(), []byte("data: tick")))
}
