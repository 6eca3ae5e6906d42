package router

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kelmah/apigateway/internal/apierr"
)

func TestRouter_SpecificRoutesBeforeCatchAll(t *testing.T) {
	t.Parallel()

	r := New()
	require.NoError(t, r.Load(DefaultRoutes()))

	tests := []struct {
		method string
		path   string
		want   string
	}{
		{http.MethodGet, "/api/jobs/my-jobs", "jobs-mine"},
		{http.MethodPost, "/api/jobs/42/apply", "jobs-apply"},
		{http.MethodGet, "/api/jobs/42/apply", "jobs"},
		{http.MethodGet, "/api/jobs/applications/3", "jobs-applications"},
		{http.MethodGet, "/api/jobs", "jobs"},
		{http.MethodGet, "/api/jobs/42", "jobs"},
		{http.MethodPost, "/api/auth/login", "auth"},
		{http.MethodGet, "/api/payments/methods", "payments"},
		{http.MethodGet, "/api/dashboard/metrics", "dashboard"},
	}
	for _, tt := range tests {
		res, err := r.Match(tt.method, tt.path)
		require.NoError(t, err, tt.path)
		assert.Equal(t, tt.want, res.Route.Name, "%s %s", tt.method, tt.path)
	}
}

func TestRouter_NotFound(t *testing.T) {
	t.Parallel()

	r := New()
	require.NoError(t, r.Load(DefaultRoutes()))

	_, err := r.Match(http.MethodGet, "/api/unknown")
	assert.ErrorIs(t, err, apierr.ErrRouteNotFound)
}

func TestRouter_RegistrationOrderBreaksTies(t *testing.T) {
	t.Parallel()

	r := New()
	require.NoError(t, r.Add(Route{Name: "first", Match: Match{Regex: "^/api/"}, Service: "a"}))
	require.NoError(t, r.Add(Route{Name: "second", Match: Match{Regex: "^/api/x"}, Service: "b"}))

	res, err := r.Match(http.MethodGet, "/api/x")
	require.NoError(t, err)
	assert.Equal(t, "first", res.Route.Name)
}

func TestRouter_LongerPrefixWins(t *testing.T) {
	t.Parallel()

	r := New()
	require.NoError(t, r.Add(Route{Name: "short", Match: Match{Prefix: "/api"}, Service: "a"}))
	require.NoError(t, r.Add(Route{Name: "long", Match: Match{Prefix: "/api/users"}, Service: "b"}))

	res, err := r.Match(http.MethodGet, "/api/users/1")
	require.NoError(t, err)
	assert.Equal(t, "long", res.Route.Name)

	res, err = r.Match(http.MethodGet, "/api/other")
	require.NoError(t, err)
	assert.Equal(t, "short", res.Route.Name)
}

func TestRouter_AddDuplicate(t *testing.T) {
	t.Parallel()

	r := New()
	require.NoError(t, r.Add(Route{Name: "a", Match: Match{Prefix: "/a"}, Service: "s"}))
	assert.Error(t, r.Add(Route{Name: "a", Match: Match{Prefix: "/b"}, Service: "s"}))
}

func TestRouter_LoadKeepsTableOnError(t *testing.T) {
	t.Parallel()

	r := New()
	require.NoError(t, r.Load(DefaultRoutes()))
	before := len(r.Routes())

	err := r.Load([]Route{
		{Name: "ok", Match: Match{Prefix: "/ok"}, Service: "s"},
		{Name: "bad", Match: Match{Regex: "("}, Service: "s"},
	})
	require.Error(t, err)
	assert.Len(t, r.Routes(), before)

	err = r.Load([]Route{
		{Name: "dup", Match: Match{Prefix: "/a"}, Service: "s"},
		{Name: "dup", Match: Match{Prefix: "/b"}, Service: "s"},
	})
	require.Error(t, err)

	_, ok := r.Get("jobs")
	assert.True(t, ok)
}

func TestRoute_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		route   Route
		wantErr bool
	}{
		{name: "valid", route: Route{Name: "a", Match: Match{Prefix: "/a"}, Service: "s"}},
		{name: "missing name", route: Route{Match: Match{Prefix: "/a"}, Service: "s"}, wantErr: true},
		{name: "missing service", route: Route{Name: "a", Match: Match{Prefix: "/a"}}, wantErr: true},
		{name: "no matcher", route: Route{Name: "a", Service: "s"}, wantErr: true},
		{name: "two matchers", route: Route{Name: "a", Match: Match{Prefix: "/a", Exact: "/a"}, Service: "s"}, wantErr: true},
		{name: "bad auth", route: Route{Name: "a", Match: Match{Prefix: "/a"}, Service: "s", Auth: "sometimes"}, wantErr: true},
		{name: "negative timeout", route: Route{Name: "a", Match: Match{Prefix: "/a"}, Service: "s", Timeout: -time.Second}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.route.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCompiledRoute_RequirementAndAuth(t *testing.T) {
	t.Parallel()

	r := New()
	require.NoError(t, r.Load(DefaultRoutes()))

	jobs, ok := r.Get("jobs")
	require.True(t, ok)
	assert.Empty(t, jobs.Requirement(http.MethodGet).Roles)
	assert.Equal(t, AuthOptional, jobs.AuthFor(http.MethodGet))
	assert.Equal(t, []string{"hirer", "admin"}, jobs.Requirement("post").Roles)
	assert.Equal(t, AuthRequired, jobs.AuthFor(http.MethodPost))
	assert.Equal(t, "/api/jobs", jobs.Prefix())

	hirers, ok := r.Get("hirers")
	require.True(t, ok)
	assert.Equal(t, []string{"hirer", "admin"}, hirers.Requirement(http.MethodGet).Roles)

	r2 := New()
	require.NoError(t, r2.Add(Route{Name: "gated", Match: Match{Prefix: "/g"}, Service: "s", Auth: AuthOptional, RequireEmailVerified: true}))
	gated, _ := r2.Get("gated")
	assert.Equal(t, AuthRequired, gated.AuthFor(http.MethodGet))
	assert.True(t, gated.Requirement(http.MethodGet).RequireEmailVerified)

	require.NoError(t, r2.Add(Route{Name: "default", Match: Match{Prefix: "/d"}, Service: "s"}))
	def, _ := r2.Get("default")
	assert.Equal(t, AuthRequired, def.AuthFor(http.MethodGet))
}

func TestCompiledRoute_SlashBeforeQuery(t *testing.T) {
	t.Parallel()

	r := New()
	require.NoError(t, r.Load([]Route{
		{Name: "jobs", Match: Match{Prefix: "/api/jobs"}, Service: "job"},
		{Name: "reviews", Match: Match{Prefix: "/api/reviews"}, Service: "review", NoSlashBeforeQuery: true},
	}))

	jobs, ok := r.Get("jobs")
	require.True(t, ok)
	assert.Equal(t, "/api/jobs/?limit=1", jobs.rewriter.Rewrite(jobs.Prefix(), "/api/jobs?limit=1"))

	reviews, ok := r.Get("reviews")
	require.True(t, ok)
	assert.Equal(t, "/api/reviews?limit=1", reviews.rewriter.Rewrite(reviews.Prefix(), "/api/reviews?limit=1"))
}
