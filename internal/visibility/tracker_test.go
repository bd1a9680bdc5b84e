package visibility

import (
	"testing"

	"analyticsbridge/internal/auth"

	"github.com/stretchr/testify/assert"
)

type countingAliases struct {
	aliases Aliases
	calls   int
}

func (c *countingAliases) AliasByPath(path string) string {
	c.calls++
	return c.aliases.AliasByPath(path)
}

func TestPages(t *testing.T) {
	aliases := Aliases{"/node/7": "/About-Us"}

	tests := []struct {
		name  string
		cfg   Config
		path  string
		front string
		want  bool
	}{
		{name: "no pages tracks everything", cfg: Config{RequestPathMode: PathModeIncludeListed}, path: "/admin", want: true},
		{name: "exclude listed hides match", cfg: Config{RequestPathPages: "/admin/*"}, path: "/admin/config", want: false},
		{name: "exclude listed shows other", cfg: Config{RequestPathPages: "/admin/*"}, path: "/blog", want: true},
		{name: "include listed shows match", cfg: Config{RequestPathMode: PathModeIncludeListed, RequestPathPages: "/blog\n/news/*"}, path: "/news/today", want: true},
		{name: "include listed hides other", cfg: Config{RequestPathMode: PathModeIncludeListed, RequestPathPages: "/blog"}, path: "/shop", want: false},
		{name: "pattern is case insensitive", cfg: Config{RequestPathMode: PathModeIncludeListed, RequestPathPages: "/BLOG"}, path: "/blog", want: true},
		{name: "alias matches lowercased", cfg: Config{RequestPathMode: PathModeIncludeListed, RequestPathPages: "/about-us"}, path: "/node/7", want: true},
		{name: "internal path matches when aliased", cfg: Config{RequestPathMode: PathModeIncludeListed, RequestPathPages: "/node/*"}, path: "/node/7", want: true},
		{name: "front token", cfg: Config{RequestPathMode: PathModeIncludeListed, RequestPathPages: "<front>"}, path: "/home", front: "/home", want: true},
		{name: "front token defaults to root", cfg: Config{RequestPathMode: PathModeIncludeListed, RequestPathPages: "<front>\r\n/x"}, path: "/", want: true},
		{name: "wildcard does not leak regex", cfg: Config{RequestPathMode: PathModeIncludeListed, RequestPathPages: "/a.b"}, path: "/axb", want: false},
		{name: "locked mode never tracks", cfg: Config{RequestPathMode: PathModeLocked, RequestPathPages: "/blog"}, path: "/blog", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker(tt.cfg, aliases, tt.path, tt.front)
			assert.Equal(t, tt.want, tr.Pages())
		})
	}
}

func TestPagesCachedPerTracker(t *testing.T) {
	aliases := &countingAliases{aliases: Aliases{}}
	tr := NewTracker(Config{RequestPathPages: "/x"}, aliases, "/y", "")

	assert.True(t, tr.Pages())
	assert.True(t, tr.Pages())
	assert.Equal(t, 1, aliases.calls)
}

func TestRoles(t *testing.T) {
	editor := auth.Account{Roles: []string{auth.RoleAuthenticated, "editor"}}
	visitor := auth.Anonymous()

	tests := []struct {
		name string
		cfg  Config
		acct auth.Account
		want bool
	}{
		{name: "no roles selected tracks all", cfg: Config{UserRoleMode: RoleModeIncludeSelected}, acct: visitor, want: true},
		{name: "include selected member", cfg: Config{UserRoleMode: RoleModeIncludeSelected, UserRoleRoles: []string{"editor"}}, acct: editor, want: true},
		{name: "include selected non member", cfg: Config{UserRoleMode: RoleModeIncludeSelected, UserRoleRoles: []string{"editor"}}, acct: visitor, want: false},
		{name: "exclude selected member", cfg: Config{UserRoleMode: RoleModeExcludeSelected, UserRoleRoles: []string{"editor"}}, acct: editor, want: false},
		{name: "exclude selected non member", cfg: Config{UserRoleMode: RoleModeExcludeSelected, UserRoleRoles: []string{"editor"}}, acct: visitor, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker(tt.cfg, nil, "/", "")
			assert.Equal(t, tt.want, tr.Roles(tt.acct))
		})
	}
}

func TestVisible(t *testing.T) {
	cfg := Config{
		RequestPathPages: "/admin*",
		UserRoleMode:     RoleModeExcludeSelected,
		UserRoleRoles:    []string{"administrator"},
	}
	admin := auth.Account{Roles: []string{"administrator"}}

	assert.True(t, NewTracker(cfg, nil, "/blog", "").Visible(auth.Anonymous()))
	assert.False(t, NewTracker(cfg, nil, "/blog", "").Visible(admin))
	assert.False(t, NewTracker(cfg, nil, "/admin/people", "").Visible(auth.Anonymous()))
}
