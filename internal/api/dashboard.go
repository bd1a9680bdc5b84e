package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"analyticsbridge/internal/settings"
)

// Dashboard bootstraps the reporting bundle.
type Dashboard struct {
	EndpointURL string `json:"endpoint_url"`
	// DataStream is a JSON document in a string, as the bundle expects.
	DataStream string `json:"data_stream"`
	PublicURL  string `json:"public_url"`
}

type dataStream struct {
	Name   string `json:"name"`
	Domain string `json:"domain"`
}

// BuildDashboard derives the bundle settings for a site reached at host
// (scheme and authority, no trailing slash).
func BuildDashboard(host, siteName, modulePath string, st settings.Settings) Dashboard {
	domain := host
	for _, prefix := range []string{"http://", "https://", "http://www.", "https://www.", "www."} {
		domain = strings.ReplaceAll(domain, prefix, "")
	}
	if siteName == "" {
		siteName = domain
	}
	stream, _ := json.Marshal([]dataStream{{Name: siteName, Domain: domain}})

	endpoint := host
	if !st.Internal() {
		endpoint = strings.TrimRight(st.Domain, "/")
	}
	return Dashboard{
		EndpointURL: endpoint,
		DataStream:  string(stream),
		PublicURL:   host + "/" + strings.Trim(modulePath, "/"),
	}
}

// requestHost is the scheme and authority the client used.
func requestHost(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")); proto == "http" || proto == "https" {
		scheme = proto
	}
	return scheme + "://" + r.Host
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	st, err := s.settings.Load(r.Context())
	if err != nil {
		writeJSONErrorForRequest(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, BuildDashboard(requestHost(r), s.cfg.Site.Name, s.cfg.Site.ModulePath, st))
}
