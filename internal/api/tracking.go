package api

import (
	"bytes"
	"context"
	"encoding/json"
	"html"
	"io"
	"mime"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"

	"analyticsbridge/internal/auth"
	"analyticsbridge/internal/router"
	"analyticsbridge/internal/settings"
	"analyticsbridge/internal/visibility"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// maxInjectBytes bounds the pages buffered for script injection. Larger pages
// pass through untouched.
const maxInjectBytes = 8 << 20

type pageContextKey struct{}

// page is what the fallback remembers about the inbound request, since the
// proxy rewrites the outbound one.
type page struct {
	path    string
	host    string
	account auth.Account
}

func (s *Server) newFallback() (http.Handler, error) {
	if s.cfg.Site.Upstream == "" {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSONErrorForRequest(w, r, http.StatusNotFound, "Not Found")
		}), nil
	}
	target, err := url.Parse(s.cfg.Site.Upstream)
	if err != nil {
		return nil, errors.Wrapf(err, "parse site upstream %q", s.cfg.Site.Upstream)
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	director := proxy.Director
	proxy.Director = func(r *http.Request) {
		director(r)
		// Let the transport negotiate compression so pages arrive decoded.
		r.Header.Del("Accept-Encoding")
	}
	proxy.ModifyResponse = s.injectTracking
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		s.logger.Warn("site upstream failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeJSONErrorForRequest(w, r, http.StatusBadGateway, "Site upstream unavailable")
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setRouteLabel(r, "site")
		ctx := context.WithValue(r.Context(), pageContextKey{}, page{
			path:    r.URL.Path,
			host:    requestHost(r),
			account: auth.FromContext(r.Context()),
		})
		proxy.ServeHTTP(w, r.WithContext(ctx))
	}), nil
}

// injectTracking adds the analytics script to HTML pages the visibility
// rules select.
func (s *Server) injectTracking(resp *http.Response) error {
	req := resp.Request
	if req == nil || req.Method != http.MethodGet || resp.StatusCode != http.StatusOK {
		return nil
	}
	if resp.Header.Get("Content-Encoding") != "" || !isHTML(resp.Header.Get("Content-Type")) {
		return nil
	}
	if resp.ContentLength > maxInjectBytes {
		return nil
	}
	p, ok := req.Context().Value(pageContextKey{}).(page)
	if !ok {
		return nil
	}

	st, err := s.settings.Load(req.Context())
	if err != nil {
		s.logger.Warn("load settings failed, skipping tracking script", zap.Error(err))
		return nil
	}
	path, ok := router.StripBasePath(p.path, s.cfg.Server.BasePath)
	if !ok {
		return nil
	}
	tracker := visibility.NewTracker(st.Visibility, s.aliases, path, s.cfg.Site.FrontPage)
	if !tracker.Visible(p.account) {
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxInjectBytes+1))
	if err != nil {
		_ = resp.Body.Close()
		return errors.Wrap(err, "read upstream page")
	}
	if len(body) > maxInjectBytes {
		// Too large to rewrite: replay what was read, then stream the rest.
		resp.Body = replayBody{
			Reader: io.MultiReader(bytes.NewReader(body), resp.Body),
			Closer: resp.Body,
		}
		return nil
	}
	_ = resp.Body.Close()

	out := InjectScript(body, TrackingSnippet(s.trackingConfig(p.host, st)))
	resp.Body = io.NopCloser(bytes.NewReader(out))
	resp.ContentLength = int64(len(out))
	resp.Header.Set("Content-Length", strconv.Itoa(len(out)))
	return nil
}

type replayBody struct {
	io.Reader
	io.Closer
}

func isHTML(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == "text/html"
}

// TrackingConfig is what the page script needs to reach the collector.
type TrackingConfig struct {
	Endpoint       string
	ClientID       string
	ClientSecret   string
	DisableConsent bool
	ScriptURL      string
}

func (s *Server) trackingConfig(host string, st settings.Settings) TrackingConfig {
	dash := BuildDashboard(host+s.cfg.Server.BasePath, s.cfg.Site.Name, s.cfg.Site.ModulePath, st)
	script := s.cfg.Site.ScriptURL
	if script == "" {
		script = dash.PublicURL + "/assets/vendor/analytics.js"
	}
	return TrackingConfig{
		Endpoint:       dash.EndpointURL,
		ClientID:       st.ClientID,
		ClientSecret:   st.ClientSecret,
		DisableConsent: !st.Consent,
		ScriptURL:      script,
	}
}

// TrackingSnippet renders the inline settings and the script tag.
func TrackingSnippet(c TrackingConfig) string {
	// json.Marshal escapes <, > and & so values cannot close the script.
	str := func(v string) string {
		b, _ := json.Marshal(v)
		return string(b)
	}
	var b strings.Builder
	b.WriteString("<script>")
	b.WriteString("window.aesirx1stparty=" + str(c.Endpoint) + ";")
	b.WriteString("window.aesirxClientID=" + str(c.ClientID) + ";")
	b.WriteString("window.aesirxClientSecret=" + str(c.ClientSecret) + ";")
	b.WriteString("window.disableAnalyticsConsent=" + str(strconv.FormatBool(c.DisableConsent)) + ";")
	b.WriteString("</script>")
	b.WriteString(`<script async defer src="` + html.EscapeString(c.ScriptURL) + `"></script>`)
	return b.String()
}

// InjectScript places snippet before the last closing body tag, or appends
// it when the page has none.
func InjectScript(body []byte, snippet string) []byte {
	idx := lastIndexFoldASCII(body, "</body>")
	if idx < 0 {
		return append(body, snippet...)
	}
	out := make([]byte, 0, len(body)+len(snippet))
	out = append(out, body[:idx]...)
	out = append(out, snippet...)
	return append(out, body[idx:]...)
}

// lastIndexFoldASCII is bytes.LastIndex with ASCII case folding. Other bytes
// compare as is, so offsets always refer to body.
func lastIndexFoldASCII(body []byte, tag string) int {
	for i := len(body) - len(tag); i >= 0; i-- {
		match := true
		for j := 0; j < len(tag); j++ {
			c := body[i+j]
			if 'A' <= c && c <= 'Z' {
				c += 'a' - 'A'
			}
			if c != tag[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}
