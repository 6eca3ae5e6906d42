package proxy

import (
	"context"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kelmah/apigateway/internal/apierr"
	"github.com/kelmah/apigateway/internal/auth"
	"github.com/kelmah/apigateway/internal/observability"
	"github.com/kelmah/apigateway/internal/trust"
)

// DefaultTimeout bounds a proxied call from dispatch to response headers.
const DefaultTimeout = 30 * time.Second

const tracerName = "apigateway/proxy"

// Target is a resolved upstream for one request.
type Target struct {
	// Service names the backend, used for breakers, metrics and logs.
	Service string
	// BaseURL is the service base URL from discovery.
	BaseURL *url.URL
	// Prefix is the matched route prefix.
	Prefix string
	// Rewriter maps the inbound URI to the upstream one. Nil normalizes only.
	Rewriter *Rewriter
	// Timeout overrides the proxy default when positive.
	Timeout time.Duration
}

// Proxy forwards requests to a Target.
type Proxy struct {
	signer        *trust.Signer
	transport     http.RoundTripper
	logger        observability.Logger
	metrics       *Metrics
	hooks         hookChain
	timeout       time.Duration
	flushInterval time.Duration
}

// Option configures a Proxy.
type Option func(*Proxy)

// WithTransport sets the outbound transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(p *Proxy) {
		p.transport = rt
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(p *Proxy) {
		p.logger = logger
	}
}

// WithMetrics sets the metrics.
func WithMetrics(m *Metrics) Option {
	return func(p *Proxy) {
		p.metrics = m
	}
}

// WithHooks appends a hook set. Hook sets run in registration order.
func WithHooks(h Hooks) Option {
	return func(p *Proxy) {
		p.hooks = append(p.hooks, h)
	}
}

// WithDefaultTimeout sets the timeout used by targets without one.
func WithDefaultTimeout(d time.Duration) Option {
	return func(p *Proxy) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithFlushInterval sets the response flush interval. Negative flushes
// after every write.
func WithFlushInterval(d time.Duration) Option {
	return func(p *Proxy) {
		p.flushInterval = d
	}
}

// New creates a Proxy that signs identities with signer.
func New(signer *trust.Signer, opts ...Option) *Proxy {
	p := &Proxy{
		signer:        signer,
		transport:     NewTransport(),
		logger:        observability.NopLogger(),
		timeout:       DefaultTimeout,
		flushInterval: -1,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewTransport returns the default outbound transport.
func NewTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          200,
		MaxIdleConnsPerHost:   50,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}

// exchange tracks one request through its states.
type exchange struct {
	state        State
	status       int
	err          error
	upstreamPath string
}

func (ex *exchange) to(s State) {
	ex.state = s
}

func (ex *exchange) fail(s State, status int, err error) {
	ex.state = s
	ex.status = status
	ex.err = err
}

// Forward proxies r to t and writes the upstream response, or a gateway
// error, to w. The caller's identity is read from the auth.RequestContext
// on r's context.
func (p *Proxy) Forward(w http.ResponseWriter, r *http.Request, t Target) {
	start := time.Now()
	ex := &exchange{state: StateReceived}

	ctx, span := otel.Tracer(tracerName).Start(r.Context(), "proxy.forward",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("gateway.service", t.Service)),
	)
	defer span.End()

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = p.timeout
	}
	ctx, cancel := context.WithTimeout(ContextWithService(ctx, t.Service), timeout)
	defer cancel()

	defer func() {
		p.finish(ctx, r, t, ex, time.Since(start))
		span.SetAttributes(
			attribute.String("gateway.proxy.state", ex.state.String()),
			attribute.Int("http.response.status_code", ex.status),
		)
		if ex.err != nil {
			span.SetStatus(codes.Error, ex.err.Error())
		}
	}()

	if t.BaseURL == nil {
		err := &Error{Service: t.Service, State: StateReceived, Cause: ErrNoTarget}
		ex.fail(StateFailed, http.StatusInternalServerError, err)
		apierr.Write(w, apierr.UpstreamFailure(err))
		return
	}

	ex.upstreamPath = t.Rewriter.Rewrite(t.Prefix, requestURI(r.URL))
	upPath, upQuery, _ := strings.Cut(ex.upstreamPath, "?")
	ex.to(StatePathRewritten)

	out := r.Clone(ctx)
	if err := p.prepareHeaders(ctx, out.Header); err != nil {
		ex.fail(StateFailed, http.StatusInternalServerError, err)
		apierr.Write(w, apierr.UpstreamFailure(err))
		return
	}
	ex.to(StateHeadersPrepared)

	rehydrated, err := rehydrateBody(out)
	if err != nil {
		e := apierr.From(err)
		ex.fail(StateRejected, e.Status, err)
		apierr.Write(w, e)
		return
	}
	if rehydrated {
		ex.to(StateBodyRehydrated)
	}

	if err := p.hooks.preRequest(out); err != nil {
		e := apierr.From(err)
		ex.fail(StateRejected, e.Status, err)
		p.hooks.onError(out, err)
		apierr.Write(w, e)
		return
	}

	target := t.BaseURL
	rp := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			joined := joinURLPath(target.Path, upPath)
			pr.Out.URL.Scheme = target.Scheme
			pr.Out.URL.Host = target.Host
			pr.Out.URL.Path = joined
			pr.Out.URL.RawPath = ""
			if unescaped, err := url.PathUnescape(joined); err == nil && unescaped != joined {
				pr.Out.URL.Path = unescaped
				pr.Out.URL.RawPath = joined
			}
			pr.Out.URL.RawQuery = upQuery
			pr.Out.Host = ""
			pr.SetXForwarded()
		},
		Transport:     p.transport,
		FlushInterval: p.flushInterval,
		ModifyResponse: func(resp *http.Response) error {
			ex.status = resp.StatusCode
			ex.to(StateResponded)
			p.hooks.postResponse(out, resp)
			return nil
		},
		ErrorHandler: func(rw http.ResponseWriter, req *http.Request, err error) {
			state, e := Classify(err)
			wrapped := &Error{Service: t.Service, Target: target.Host, State: state, Cause: err}
			p.hooks.onError(req, wrapped)
			if e == nil {
				ex.fail(state, 499, wrapped)
				return
			}
			ex.fail(state, e.Status, wrapped)
			apierr.Write(rw, e.WithCause(wrapped))
		},
	}

	ex.to(StateDispatched)
	rp.ServeHTTP(w, out)
}

// prepareHeaders sets the outbound Authorization, identity and internal
// marker headers. Identity headers supplied by the caller are
// always dropped.
func (p *Proxy) prepareHeaders(ctx context.Context, h http.Header) error {
	trust.Strip(h)
	h.Set(trust.HeaderInternal, trust.InternalValue)

	if id := observability.RequestIDFromContext(ctx); id != "" {
		h.Set("X-Request-ID", id)
	}

	rc, ok := auth.FromContext(ctx)
	if ok && rc.Token != "" {
		h.Set("Authorization", "Bearer "+rc.Token)
	}
	if ok && rc.User != nil {
		if err := p.signer.Attach(h, *rc.User); err != nil {
			return err
		}
	}

	observability.InjectTraceContext(ctx, h)
	return nil
}

func (p *Proxy) finish(ctx context.Context, r *http.Request, t Target, ex *exchange, d time.Duration) {
	p.metrics.record(t.Service, ex.state, d)

	target := t.Service
	if t.BaseURL != nil {
		target = t.BaseURL.String()
	}
	fields := []observability.Field{
		observability.String("method", r.Method),
		observability.String("path", r.URL.Path),
		observability.String("service", t.Service),
		observability.String("target", target),
		observability.String("upstream_path", ex.upstreamPath),
		observability.Int("status", ex.status),
		observability.Duration("duration", d),
		observability.String("request_id", observability.RequestIDFromContext(ctx)),
		observability.String("state", ex.state.String()),
	}
	if ex.err != nil {
		fields = append(fields, observability.Error(ex.err))
	}

	switch ex.state {
	case StateResponded, StateCanceled, StateRejected:
		p.logger.Info("proxied request", fields...)
	default:
		p.logger.Warn("proxied request", fields...)
	}
}

func requestURI(u *url.URL) string {
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		return path + "?" + u.RawQuery
	}
	return path
}
