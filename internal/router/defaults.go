package router

// Service names used by the default route table.
const (
	ServiceAuth      = "auth"
	ServiceUser      = "user"
	ServiceJob       = "job"
	ServiceMessaging = "messaging"
	ServicePayment   = "payment"
	ServiceReview    = "review"
)

var (
	hirerRoles   = []string{"hirer", "admin"}
	partyRoles   = []string{"hirer", "worker", "admin"}
	writeMethods = []string{"POST", "PUT", "PATCH", "DELETE"}
)

func rolesFor(methods []string, roles []string) map[string][]string {
	out := make(map[string][]string, len(methods))
	for _, m := range methods {
		out[m] = roles
	}
	return out
}

// DefaultRoutes returns the platform route table used when the
// configuration does not define one.
func DefaultRoutes() []Route {
	return []Route{
		{Name: "auth", Match: Match{Prefix: "/api/auth"}, Service: ServiceAuth, Auth: AuthNone},

		{Name: "users", Match: Match{Prefix: "/api/users"}, Service: ServiceUser, Auth: AuthRequired},
		{Name: "workers", Match: Match{Prefix: "/api/workers"}, Service: ServiceUser, Auth: AuthRequired},
		{Name: "hirers", Match: Match{Prefix: "/api/hirers"}, Service: ServiceUser, Auth: AuthRequired, Roles: hirerRoles},
		{Name: "profile", Match: Match{Prefix: "/api/profile"}, Service: ServiceUser, Auth: AuthRequired},
		{Name: "settings", Match: Match{Prefix: "/api/settings"}, Service: ServiceUser, Auth: AuthRequired},
		{Name: "dashboard", Match: Match{Prefix: "/api/dashboard"}, Service: ServiceUser, Auth: AuthRequired, Roles: hirerRoles},

		{Name: "jobs-mine", Match: Match{Exact: "/api/jobs/my-jobs"}, Service: ServiceJob, Auth: AuthRequired},
		{Name: "jobs-apply", Match: Match{Exact: "/api/jobs/{id}/apply", Methods: []string{"POST"}}, Service: ServiceJob, Auth: AuthRequired, Roles: []string{"worker"}},
		{Name: "jobs-applications", Match: Match{Prefix: "/api/jobs/applications"}, Service: ServiceJob, Auth: AuthRequired},
		{Name: "jobs", Match: Match{Prefix: "/api/jobs"}, Service: ServiceJob, Auth: AuthOptional, MethodRoles: rolesFor(writeMethods, hirerRoles)},

		{Name: "messages", Match: Match{Prefix: "/api/messages"}, Service: ServiceMessaging, Auth: AuthRequired},
		{Name: "conversations", Match: Match{Prefix: "/api/conversations"}, Service: ServiceMessaging, Auth: AuthRequired},
		{Name: "notifications", Match: Match{Prefix: "/api/notifications"}, Service: ServiceMessaging, Auth: AuthRequired},

		{
			Name:    "payments",
			Match:   Match{Prefix: "/api/payments"},
			Service: ServicePayment,
			Auth:    AuthRequired,
			Rewrite: []RewriteRule{{Pattern: `^/api/payments/methods`, Replacement: "/api/payment-methods"}},
		},

		{Name: "reviews", Match: Match{Prefix: "/api/reviews"}, Service: ServiceReview, Auth: AuthOptional, MethodRoles: rolesFor(writeMethods, partyRoles)},
	}
}
