package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

// Built-in roles every account carries.
const (
	RoleAnonymous     = "anonymous"
	RoleAuthenticated = "authenticated"
)

// Account is the caller a request is evaluated for.
type Account struct {
	Name          string   `json:"name"`
	Roles         []string `json:"roles"`
	Permissions   []string `json:"-"`
	Authenticated bool     `json:"authenticated"`
}

// Anonymous returns the account used when no credentials are presented.
func Anonymous() Account {
	return Account{Name: RoleAnonymous, Roles: []string{RoleAnonymous}}
}

// HasPermission reports whether the account holds perm. "*" grants everything.
func (a Account) HasPermission(perm string) bool {
	for _, p := range a.Permissions {
		if p == "*" || p == perm {
			return true
		}
	}
	return false
}

// HasRole reports whether the account carries role.
func (a Account) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Token is one configured API credential.
type Token struct {
	Token       string   `mapstructure:"token" json:"-"`
	Name        string   `mapstructure:"name" json:"name"`
	Roles       []string `mapstructure:"roles" json:"roles"`
	Permissions []string `mapstructure:"permissions" json:"permissions"`
}

// TokenAuthenticator resolves accounts from "Authorization: Bearer" headers.
type TokenAuthenticator struct {
	tokens []Token
}

func NewTokenAuthenticator(tokens []Token) *TokenAuthenticator {
	kept := make([]Token, 0, len(tokens))
	for _, t := range tokens {
		t.Token = strings.TrimSpace(t.Token)
		if t.Token == "" {
			continue
		}
		kept = append(kept, t)
	}
	return &TokenAuthenticator{tokens: kept}
}

// Authenticate returns the account for r. ok is false when a bearer token was
// presented but matched nothing, an empty one included; a request without
// bearer credentials is anonymous. The scheme is case-insensitive.
func (a *TokenAuthenticator) Authenticate(r *http.Request) (acct Account, presented bool, ok bool) {
	scheme, credentials, _ := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !strings.EqualFold(scheme, "Bearer") {
		return Anonymous(), false, true
	}
	presentedToken := strings.TrimSpace(credentials)
	if presentedToken == "" {
		return Anonymous(), true, false
	}

	var match *Token
	for i := range a.tokens {
		// Compare against every token so timing does not reveal the position.
		if subtle.ConstantTimeCompare([]byte(presentedToken), []byte(a.tokens[i].Token)) == 1 && match == nil {
			match = &a.tokens[i]
		}
	}
	if match == nil {
		return Anonymous(), true, false
	}

	roles := append([]string{RoleAuthenticated}, match.Roles...)
	perms := append([]string(nil), match.Permissions...)
	return Account{
		Name:          match.Name,
		Roles:         roles,
		Permissions:   perms,
		Authenticated: true,
	}, true, true
}

type contextKey struct{}

// WithAccount stores acct on ctx.
func WithAccount(ctx context.Context, acct Account) context.Context {
	return context.WithValue(ctx, contextKey{}, acct)
}

// FromContext returns the account stored by WithAccount, or Anonymous.
func FromContext(ctx context.Context) Account {
	if acct, ok := ctx.Value(contextKey{}).(Account); ok {
		return acct
	}
	return Anonymous()
}
