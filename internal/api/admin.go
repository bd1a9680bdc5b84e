package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"analyticsbridge/internal/database"
	"analyticsbridge/internal/router"
	"analyticsbridge/internal/settings"
	"analyticsbridge/internal/state"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

const (
	defaultInvocationLimit = 50
	maxInvocationLimit     = 500
)

func (s *Server) checkLibrary(r *http.Request) state.LibraryStatus {
	status := s.cli.Check(r.Context())
	s.metrics.SetLibraryUsable(status.Usable())
	return status
}

func (s *Server) handleLibraryStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.checkLibrary(r))
}

func (s *Server) handleLibraryDownload(w http.ResponseWriter, r *http.Request) {
	if err := s.cli.Download(r.Context()); err != nil {
		s.logger.Error("library download failed", zap.Error(err))
		writeJSONErrorForRequest(w, r, http.StatusBadGateway, "Downloading failed: "+err.Error())
		return
	}
	s.logger.Info("library downloaded")
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Library successfully downloaded.",
		"library": s.checkLibrary(r),
	})
}

func (s *Server) handleSettingsGet(w http.ResponseWriter, r *http.Request) {
	st, err := s.settings.Load(r.Context())
	if err != nil {
		writeJSONErrorForRequest(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"settings": st,
		"library":  state.GetLibraryStatus(),
	})
}

func (s *Server) handleSettingsSubmit(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, router.MaxBodyBytes))
	if err != nil {
		writeJSONErrorForRequest(w, r, http.StatusBadRequest, "Request body could not be read")
		return
	}
	var in settings.Settings
	if err := json.Unmarshal(body, &in); err != nil {
		writeJSONErrorForRequest(w, r, http.StatusBadRequest, "Request body must be a JSON object")
		return
	}

	saved, err := settings.Submit(r.Context(), s.settings, in)
	var verr *settings.ValidationError
	switch {
	case errors.As(err, &verr):
		writeProblem(w, http.StatusBadRequest, problemPayload(r, http.StatusBadRequest, "The settings were not saved.", map[string]interface{}{
			"fields": verr.Fields,
		}))
		return
	case err != nil:
		writeJSONErrorForRequest(w, r, http.StatusInternalServerError, err.Error())
		return
	}

	// Switching to the internal server needs a usable library.
	var library *state.LibraryStatus
	if saved.Internal() {
		status := s.checkLibrary(r)
		library = &status
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":  "The configuration options have been saved.",
		"settings": saved,
		"library":  library,
	})
}

func (s *Server) handleInvocations(w http.ResponseWriter, r *http.Request) {
	limit := defaultInvocationLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxInvocationLimit {
			writeJSONErrorForRequest(w, r, http.StatusBadRequest, "limit must be an integer between 1 and "+strconv.Itoa(maxInvocationLimit))
			return
		}
		limit = n
	}
	items, err := database.RecentInvocations(r.Context(), limit)
	if err != nil {
		writeJSONErrorForRequest(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	if items == nil {
		items = []database.Invocation{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": items,
		"count": len(items),
	})
}
