package router

import (
	"net/http"
	"strings"
)

// StatisticsNames are the report names the statistics route accepts.
var StatisticsNames = []string{
	"visitors",
	"visits",
	"domains",
	"metrics",
	"pages",
	"events",
	"events-name-type",
	"attribute",
	"attribute-date",
	"browsers",
	"browserversions",
	"languages",
	"devices",
	"countries",
	"cities",
	"isps",
	"channels",
	"referrers",
	"regions",
	"outlinks",
	"attribute-value",
	"user-flow",
	"flow-date",
}

// PathArg forwards one path variable as a CLI flag.
type PathArg struct {
	Var  string
	Flag string
}

// Route maps one HTTP endpoint onto a CLI subcommand.
type Route struct {
	Name    string
	Method  string
	Pattern string
	// Command is the CLI subcommand. A "{var}" element is replaced by that
	// path variable.
	Command      []string
	PathArgs     []PathArg
	Query        bool
	Body         bool
	ClientInfo   bool
	RequiresAuth bool
}

// DefaultRoutes is the endpoint table of the analytics CLI.
func DefaultRoutes() []Route {
	statistics := "{name:" + strings.Join(StatisticsNames, "|") + "}"
	return []Route{
		{
			Name: "visitor.init", Method: http.MethodPost, Pattern: "/visitor/v1/init",
			Command: []string{"visitor", "init", "v1"}, Body: true, ClientInfo: true,
		},
		{
			Name: "visitor.start", Method: http.MethodPost, Pattern: "/visitor/v1/start",
			Command: []string{"visitor", "start", "v1"}, Body: true, ClientInfo: true,
		},
		{
			Name: "visitor.end", Method: http.MethodPost, Pattern: "/visitor/v1/end",
			Command: []string{"visitor", "end", "v1"}, Body: true,
		},
		{
			Name: "consent.level1", Method: http.MethodPost, Pattern: "/consent/v1/level1/{uuid}/{consent}",
			Command:  []string{"consent", "level1", "v1"},
			PathArgs: []PathArg{{Var: "uuid", Flag: "--uuid"}, {Var: "consent", Flag: "--consent"}},
		},
		{
			Name: "consent.level2", Method: http.MethodPost, Pattern: "/consent/v1/level2/{uuid}",
			Command:  []string{"consent", "level2", "v1"},
			PathArgs: []PathArg{{Var: "uuid", Flag: "--uuid"}}, Body: true,
		},
		{
			Name: "consent.level3", Method: http.MethodPost, Pattern: "/consent/v1/level3/{uuid}",
			Command:  []string{"consent", "level3", "v1"},
			PathArgs: []PathArg{{Var: "uuid", Flag: "--uuid"}}, Body: true,
		},
		{
			Name: "consent.level4", Method: http.MethodPost, Pattern: "/consent/v1/level4/{uuid}",
			Command:  []string{"consent", "level4", "v1"},
			PathArgs: []PathArg{{Var: "uuid", Flag: "--uuid"}}, Body: true,
		},
		{
			Name: "consent.revoke", Method: http.MethodPut, Pattern: "/consent/v1/revoke/{consent_uuid}",
			Command:  []string{"revoke", "consent", "v1"},
			PathArgs: []PathArg{{Var: "consent_uuid", Flag: "--consent-uuid"}}, Body: true,
		},
		{
			Name: "visitor.flow", Method: http.MethodGet, Pattern: "/visitor/v1/{uuid}/flow",
			Command:  []string{"get", "flow", "v1"},
			PathArgs: []PathArg{{Var: "uuid", Flag: "--visitor-uuid"}}, Query: true, RequiresAuth: true,
		},
		{
			Name: "flow.get", Method: http.MethodGet, Pattern: "/flow/v1/{flow_uuid}",
			Command:  []string{"get", "flow", "v1"},
			PathArgs: []PathArg{{Var: "flow_uuid", Flag: "--flow-uuid"}}, Query: true, RequiresAuth: true,
		},
		{
			Name: "flow.list", Method: http.MethodGet, Pattern: "/flow/v1",
			Command: []string{"list", "flows", "v1"}, Query: true, RequiresAuth: true,
		},
		{
			Name: "events.list", Method: http.MethodGet, Pattern: "/events/v1",
			Command: []string{"list", "events", "v1"}, Query: true, RequiresAuth: true,
		},
		{
			Name: "statistics", Method: http.MethodGet, Pattern: "/statistics/v1/" + statistics,
			Command: []string{"statistics", "{name}", "v1"}, Query: true, RequiresAuth: true,
		},
	}
}

// Template returns the pattern with variable constraints removed.
func (r Route) Template() string {
	var b strings.Builder
	depth := 0
	skipping := false
	for _, c := range r.Pattern {
		switch {
		case c == '{':
			depth++
			skipping = false
			b.WriteRune(c)
		case c == '}' && depth > 0:
			depth--
			skipping = false
			b.WriteRune(c)
		case c == ':' && depth > 0:
			skipping = true
		case skipping:
		default:
			b.WriteRune(c)
		}
	}
	return b.String()
}
