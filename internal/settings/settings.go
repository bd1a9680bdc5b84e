package settings

import (
	"reflect"
	"regexp"
	"sort"
	"strings"

	"analyticsbridge/internal/visibility"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
)

// ConfigName is the store key the settings document lives under.
const ConfigName = "aesirx_analytics.settings"

// First party server modes.
const (
	ServerInternal = "internal"
	ServerExternal = "external"
)

// Settings is the site configuration edited on the admin settings screen.
type Settings struct {
	FirstPartyServer string            `json:"1st_party_server" mapstructure:"1st_party_server" validate:"required,oneof=internal external"`
	Domain           string            `json:"domain" mapstructure:"domain" validate:"required_if=FirstPartyServer external,omitempty,url"`
	ClientID         string            `json:"client_id" mapstructure:"client_id" validate:"required"`
	ClientSecret     string            `json:"client_secret" mapstructure:"client_secret" validate:"required"`
	License          string            `json:"license" mapstructure:"license" validate:"required_if=FirstPartyServer internal"`
	Consent          bool              `json:"consent" mapstructure:"consent"`
	Visibility       visibility.Config `json:"visibility" mapstructure:"visibility"`
}

// Default returns the settings of a fresh installation.
func Default() Settings {
	return Settings{FirstPartyServer: ServerInternal}
}

// Internal reports whether the bridge serves analytics requests itself.
func (s Settings) Internal() bool {
	return s.FirstPartyServer == "" || s.FirstPartyServer == ServerInternal
}

// titles are the field labels used in error messages.
var titles = map[string]string{
	"1st_party_server":   "1st party server",
	"domain":             "Domain (Use next format: http://example.com:1000/)",
	"client_id":          "Client ID",
	"client_secret":      "Client Secret",
	"license":            "License",
	"request_path_mode":  "Add tracking to specific pages",
	"request_path_pages": "Pages",
	"user_role_mode":     "Add tracking for specific roles",
	"user_role_roles":    "Roles",
}

// FieldErrors maps a field name to its first error message.
type FieldErrors map[string]string

// ValidationError is returned when submitted settings are rejected.
type ValidationError struct {
	Fields FieldErrors
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	msgs := make([]string, 0, len(names))
	for _, name := range names {
		msgs = append(msgs, e.Fields[name])
	}
	return strings.Join(msgs, " ")
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

var lineBreak = regexp.MustCompile(`\r\n?|\n`)

// Normalize prepares submitted settings for validation. current is the stored
// document: a locked page mode cannot be changed from the form.
func Normalize(in, current Settings) Settings {
	in.FirstPartyServer = strings.TrimSpace(in.FirstPartyServer)
	if in.FirstPartyServer == "" {
		in.FirstPartyServer = ServerInternal
	}
	in.Domain = strings.TrimSpace(in.Domain)
	in.ClientID = strings.TrimSpace(in.ClientID)
	in.ClientSecret = strings.TrimSpace(in.ClientSecret)
	in.License = strings.TrimSpace(in.License)

	if current.Visibility.RequestPathMode == visibility.PathModeLocked {
		in.Visibility.RequestPathMode = visibility.PathModeLocked
		in.Visibility.RequestPathPages = current.Visibility.RequestPathPages
	}
	in.Visibility.RequestPathPages = strings.TrimSpace(in.Visibility.RequestPathPages)

	roles := in.Visibility.UserRoleRoles[:0:0]
	seen := make(map[string]struct{}, len(in.Visibility.UserRoleRoles))
	for _, r := range in.Visibility.UserRoleRoles {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		roles = append(roles, r)
	}
	in.Visibility.UserRoleRoles = roles
	return in
}

// Validate checks s and returns a *ValidationError listing every rejected field.
func Validate(s Settings) error {
	fields := FieldErrors{}

	if err := validate.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return errors.Wrap(err, "validate settings")
		}
		for _, fe := range verrs {
			name := fe.Field()
			if _, exists := fields[name]; exists {
				continue
			}
			fields[name] = message(name, fe.Tag())
		}
	}

	if msg := validatePages(s.Visibility); msg != "" {
		fields["request_path_pages"] = msg
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func message(field, tag string) string {
	title := titles[field]
	if title == "" {
		title = field
	}
	switch tag {
	case "required", "required_if":
		return `The "` + title + `" can not be empty.`
	case "url":
		return `The "` + title + `" has invalid domain format.`
	default:
		return `The "` + title + `" has an invalid value.`
	}
}

// validatePages reports the first page line that is neither a path nor <front>.
func validatePages(v visibility.Config) string {
	if v.RequestPathMode == visibility.PathModeLocked || v.RequestPathPages == "" {
		return ""
	}
	for _, page := range lineBreak.Split(v.RequestPathPages, -1) {
		if !strings.HasPrefix(page, "/") && page != visibility.FrontToken {
			return `Path "` + page + `" not prefixed with slash.`
		}
	}
	return ""
}
