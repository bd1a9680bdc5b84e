package router

import (
	"bytes"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"

	"analyticsbridge/internal/auth"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
	"github.com/cockroachdb/errors"
	"github.com/gorilla/mux"
)

// AdminPermission guards the reporting routes.
const AdminPermission = "administer aesirx_analytics"

// MaxBodyBytes bounds a forwarded request body.
const MaxBodyBytes = 1 << 20

var (
	// ErrNoRouteMatch means the request is not for the bridge.
	ErrNoRouteMatch = errors.New("no route match")
	// ErrForbidden is returned for a matched route the caller may not use.
	ErrForbidden = errors.New("Permission denied!")
)

// RequestError is a malformed request for a matched route.
type RequestError struct {
	Message string
}

func (e *RequestError) Error() string {
	return e.Message
}

// Match is a resolved bridge request.
type Match struct {
	Name         string
	Args         []string
	RequiresAuth bool
}

// Authorizer decides whether acct may use routes that require auth.
type Authorizer func(acct auth.Account) bool

// RequirePermission authorizes accounts holding perm.
func RequirePermission(perm string) Authorizer {
	return func(acct auth.Account) bool {
		return acct.HasPermission(perm)
	}
}

// Router resolves requests against a fixed route table.
type Router struct {
	mux       *mux.Router
	routes    []Route
	byName    map[string]Route
	authorize Authorizer
}

// New builds a Router over routes. A nil authorize requires AdminPermission.
func New(routes []Route, authorize Authorizer) *Router {
	if authorize == nil {
		authorize = RequirePermission(AdminPermission)
	}
	rt := &Router{
		mux:       mux.NewRouter(),
		routes:    routes,
		byName:    make(map[string]Route, len(routes)),
		authorize: authorize,
	}
	for _, r := range routes {
		rt.mux.NewRoute().Name(r.Name).Methods(r.Method).Path(r.Pattern)
		rt.byName[r.Name] = r
	}
	return rt
}

// Routes returns the route table.
func (rt *Router) Routes() []Route {
	return append([]Route(nil), rt.routes...)
}

// Resolve maps r onto a CLI command. r.URL.Path must already be stripped of
// any base path. Authorization is checked before the body is read.
func (rt *Router) Resolve(r *http.Request, acct auth.Account) (Match, error) {
	var rm mux.RouteMatch
	if !rt.mux.Match(r, &rm) || rm.Route == nil {
		return Match{}, ErrNoRouteMatch
	}
	route, ok := rt.byName[rm.Route.GetName()]
	if !ok {
		return Match{}, ErrNoRouteMatch
	}

	if route.RequiresAuth && !rt.authorize(acct) {
		return Match{}, ErrForbidden
	}

	args, err := buildArgs(route, rm.Vars, r)
	if err != nil {
		return Match{}, err
	}
	return Match{Name: route.Name, Args: args, RequiresAuth: route.RequiresAuth}, nil
}

func buildArgs(route Route, vars map[string]string, r *http.Request) ([]string, error) {
	args := make([]string, 0, len(route.Command)+8)
	for _, part := range route.Command {
		if strings.HasPrefix(part, "{") && strings.HasSuffix(part, "}") {
			part = vars[strings.Trim(part, "{}")]
		}
		args = append(args, part)
	}
	for _, pa := range route.PathArgs {
		args = append(args, pa.Flag, vars[pa.Var])
	}

	reserved := route.ownedFlags()
	if route.Query {
		args = append(args, queryArgs(r, reserved)...)
	}
	if route.Body {
		extra, err := bodyArgs(r, reserved)
		if err != nil {
			return nil, err
		}
		args = append(args, extra...)
	}
	if route.ClientInfo {
		args = append(args, flagIP, ClientIP(r), flagUserAgent, r.UserAgent())
	}
	return args, nil
}

const (
	flagIP        = "--ip"
	flagUserAgent = "--user-agent"
)

// ownedFlags are the flags the route fills itself. Query and body keys that
// name one are dropped so a client cannot supply or shadow them.
func (r Route) ownedFlags() map[string]struct{} {
	owned := make(map[string]struct{}, len(r.PathArgs)+2)
	for _, pa := range r.PathArgs {
		owned[pa.Flag] = struct{}{}
	}
	if r.ClientInfo {
		owned[flagIP] = struct{}{}
		owned[flagUserAgent] = struct{}{}
	}
	return owned
}

func queryArgs(r *http.Request, reserved map[string]struct{}) []string {
	q := r.URL.Query()
	keys := make([]string, 0, len(q))
	for k := range q {
		if _, owned := reserved["--"+k]; k == "" || owned {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []string
	for _, k := range keys {
		for _, v := range q[k] {
			out = append(out, "--"+k, v)
		}
	}
	return out
}

func bodyArgs(r *http.Request, reserved map[string]struct{}) ([]string, error) {
	if r.Body == nil {
		return nil, nil
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes+1))
	if err != nil {
		return nil, errors.Wrap(err, "read request body")
	}
	if len(raw) > MaxBodyBytes {
		return nil, &RequestError{Message: "Request body too large"}
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var body map[string]interface{}
	if err := dec.Decode(&body); err != nil || body == nil {
		return nil, &RequestError{Message: "Request body must be a JSON object"}
	}

	keys := make([]string, 0, len(body))
	for k := range body {
		if _, owned := reserved["--"+k]; k == "" || owned {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []string
	for _, k := range keys {
		flag := "--" + k
		switch v := body[k].(type) {
		case nil:
		case []interface{}:
			if !allScalars(v) {
				out = append(out, flag, compactJSON(v))
				continue
			}
			for _, item := range v {
				if item == nil {
					continue
				}
				out = append(out, flag, scalarString(item))
			}
		case map[string]interface{}:
			out = append(out, flag, compactJSON(v))
		default:
			out = append(out, flag, scalarString(v))
		}
	}
	return out, nil
}

func allScalars(items []interface{}) bool {
	for _, item := range items {
		switch item.(type) {
		case []interface{}, map[string]interface{}:
			return false
		}
	}
	return true
}

func scalarString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		return compactJSON(t)
	}
}

func compactJSON(v interface{}) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return ""
	}
	return strings.TrimRight(buf.String(), "\n")
}

// ClientIP returns the first X-Forwarded-For hop, falling back to the peer address.
func ClientIP(r *http.Request) string {
	if fwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); fwd != "" {
		first := strings.TrimSpace(strings.Split(fwd, ",")[0])
		if net.ParseIP(first) != nil {
			return first
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-Ip")); net.ParseIP(realIP) != nil {
		return realIP
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// StripBasePath removes base from path. ok is false when path lies outside base.
func StripBasePath(path, base string) (string, bool) {
	base = "/" + strings.Trim(base, "/")
	if base == "/" {
		return path, true
	}
	if path == base {
		return "/", true
	}
	if strings.HasPrefix(path, base+"/") {
		return path[len(base):], true
	}
	return path, false
}

// Suggestion is the closest known route to an unmatched path.
type Suggestion struct {
	Route Route
	Score float64
}

// Suggest ranks the route table by Levenshtein similarity to path.
func (rt *Router) Suggest(path string) (Suggestion, bool) {
	metric := metrics.NewLevenshtein()
	var best Suggestion
	found := false
	for _, r := range rt.routes {
		score := strutil.Similarity(strings.ToLower(path), strings.ToLower(r.Template()), metric)
		if !found || score > best.Score {
			best = Suggestion{Route: r, Score: score}
			found = true
		}
	}
	return best, found
}
