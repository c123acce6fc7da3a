package endpoint

// AuthorizationRequirement is an opaque descriptor of an authorization
// constraint attached to a logical endpoint. The composition layer only
// declares requirements; enforcement is the authorizer's concern.
type AuthorizationRequirement interface {
	RequirementName() string
}

// RequireAuthenticated demands a valid bearer token, with no further claims.
type RequireAuthenticated struct{}

func (RequireAuthenticated) RequirementName() string { return "authenticated" }

// RequirePolicy demands that the token's policies claim contain Policy.
type RequirePolicy struct {
	Policy string
}

func (r RequirePolicy) RequirementName() string { return "policy:" + r.Policy }

// RequireClaim demands an exact claim value on the token.
type RequireClaim struct {
	Claim string
	Value string
}

func (r RequireClaim) RequirementName() string { return "claim:" + r.Claim }

// CORSPolicy is a non-authorization route attribute naming a cross-origin
// policy. It rides along in route metadata so outer layers can pick it up.
type CORSPolicy struct {
	Name string
}

// Attributed is implemented by connection handlers that declare route
// attributes on their type. Embedding a handler type promotes its
// Attributes method, so declarations on a base handler are inherited unless
// overridden.
type Attributed interface {
	Attributes() []any
}

// CollectAuthorization extracts the authorization requirements from a
// declared attribute list, preserving declaration order. Non-authorization
// attributes are skipped; nothing is deduplicated.
func CollectAuthorization(attrs []any) []AuthorizationRequirement {
	var reqs []AuthorizationRequirement
	for _, attr := range attrs {
		if req, ok := attr.(AuthorizationRequirement); ok {
			reqs = append(reqs, req)
		}
	}
	return reqs
}

// RequirementsOf returns the authorization requirements in a route's current
// metadata, in metadata order.
func RequirementsOf(r *Route) []AuthorizationRequirement {
	var reqs []AuthorizationRequirement
	for _, item := range r.Metadata() {
		if req, ok := item.(AuthorizationRequirement); ok {
			reqs = append(reqs, req)
		}
	}
	return reqs
}

// propagateAuthorization attaches every authorization requirement in opts to
// each physical route's metadata. It runs once, post-composition, before the
// endpoint is handed back, so caller conventions layer on top.
func propagateAuthorization(ep *Endpoint, opts *Options) {
	ep.AddConvention(func(r *Route) {
		for _, req := range opts.Authorization {
			r.AppendMetadata(req)
		}
	})
}

// propagateAttributes attaches a handler type's full declared attribute set,
// unfiltered, to each physical route. Only the handler-type composition path
// uses this; imperative composition propagates authorization alone.
func propagateAttributes(ep *Endpoint, attrs []any) {
	if len(attrs) == 0 {
		return
	}
	ep.AddConvention(func(r *Route) {
		r.AppendMetadata(attrs...)
	})
}
