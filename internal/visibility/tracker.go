package visibility

import (
	"regexp"
	"strings"
	"sync"

	"analyticsbridge/internal/auth"
)

// Request path modes.
const (
	PathModeExcludeListed = 0
	PathModeIncludeListed = 1
	PathModeLocked        = 2
)

// User role modes.
const (
	RoleModeIncludeSelected = 0
	RoleModeExcludeSelected = 1
)

// FrontToken stands for the site front page in a page list.
const FrontToken = "<front>"

// Config is the visibility part of the site settings.
type Config struct {
	RequestPathMode  int      `json:"request_path_mode" mapstructure:"request_path_mode" validate:"min=0,max=2"`
	RequestPathPages string   `json:"request_path_pages" mapstructure:"request_path_pages"`
	UserRoleMode     int      `json:"user_role_mode" mapstructure:"user_role_mode" validate:"min=0,max=1"`
	UserRoleRoles    []string `json:"user_role_roles" mapstructure:"user_role_roles"`
}

// AliasResolver maps an internal path to its public alias.
type AliasResolver interface {
	AliasByPath(path string) string
}

// Aliases is a map-backed AliasResolver. Unknown paths are their own alias.
type Aliases map[string]string

func (a Aliases) AliasByPath(path string) string {
	if alias, ok := a[path]; ok {
		return alias
	}
	return path
}

// Tracker answers the visibility predicates for one request.
type Tracker struct {
	cfg       Config
	aliases   AliasResolver
	path      string
	frontPage string

	once      sync.Once
	pageMatch bool
}

// NewTracker returns a Tracker for the internal path of the current request.
// frontPage is the path <front> refers to; empty means "/".
func NewTracker(cfg Config, aliases AliasResolver, path, frontPage string) *Tracker {
	if aliases == nil {
		aliases = Aliases(nil)
	}
	if frontPage == "" {
		frontPage = "/"
	}
	return &Tracker{cfg: cfg, aliases: aliases, path: path, frontPage: frontPage}
}

// Pages reports whether the tracking script belongs on the current page. The
// result is computed once per Tracker.
func (t *Tracker) Pages() bool {
	t.once.Do(func() {
		t.pageMatch = t.matchPages()
	})
	return t.pageMatch
}

func (t *Tracker) matchPages() bool {
	if t.cfg.RequestPathPages == "" {
		return true
	}
	if t.cfg.RequestPathMode >= PathModeLocked {
		return false
	}

	pages := strings.ToLower(t.cfg.RequestPathPages)
	alias := strings.ToLower(t.aliases.AliasByPath(t.path))
	match := MatchPath(alias, pages, t.frontPage) ||
		(t.path != alias && MatchPath(t.path, pages, t.frontPage))

	// Exclude mode tracks everything not listed; include mode only what is.
	include := t.cfg.RequestPathMode == PathModeIncludeListed
	return include == match
}

// Roles reports whether the tracking script applies to acct.
func (t *Tracker) Roles(acct auth.Account) bool {
	if len(t.cfg.UserRoleRoles) == 0 {
		return true
	}
	include := t.cfg.UserRoleMode == RoleModeIncludeSelected
	for _, role := range acct.Roles {
		if contains(t.cfg.UserRoleRoles, role) {
			return include
		}
	}
	return !include
}

// Visible combines the page and role predicates.
func (t *Tracker) Visible(acct auth.Account) bool {
	return t.Pages() && t.Roles(acct)
}

// MatchPath reports whether path matches any line of patterns. "*" matches
// any run of characters and <front> matches frontPage. Matching is exact
// otherwise, so callers lowercase both sides for case-insensitive checks.
func MatchPath(path, patterns, frontPage string) bool {
	re := compile(patterns, frontPage)
	if re == nil {
		return false
	}
	return re.MatchString(path)
}

var (
	patternCache   = map[string]*regexp.Regexp{}
	patternCacheMu sync.Mutex
)

func compile(patterns, frontPage string) *regexp.Regexp {
	key := frontPage + "\x00" + patterns
	patternCacheMu.Lock()
	defer patternCacheMu.Unlock()
	if re, ok := patternCache[key]; ok {
		return re
	}

	var alts []string
	for _, line := range strings.FieldsFunc(patterns, func(r rune) bool { return r == '\n' || r == '\r' }) {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == FrontToken {
			alts = append(alts, regexp.QuoteMeta(frontPage))
			continue
		}
		alts = append(alts, strings.ReplaceAll(regexp.QuoteMeta(line), `\*`, `.*`))
	}
	if len(alts) == 0 {
		patternCache[key] = nil
		return nil
	}
	re := regexp.MustCompile("^(?:" + strings.Join(alts, "|") + ")$")
	if len(patternCache) > 256 {
		patternCache = map[string]*regexp.Regexp{}
	}
	patternCache[key] = re
	return re
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
