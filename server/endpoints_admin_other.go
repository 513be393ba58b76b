package server

import (
	"net/http"
	"strconv"

	"github.com/flagpole-io/flagpole/internal/model"
	"github.com/flagpole-io/flagpole/internal/services"
	"github.com/flagpole-io/flagpole/internal/store"
	"github.com/flagpole-io/flagpole/internal/validation"
)

const defaultMetricsHours = 1

// listEvents returns the event log, newest first. The query parameters type, project, feature, limit
// and offset narrow it down.
func (s *Server) listEvents(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	query := store.EventQuery{
		Type:        model.EventType(q.Get("type")),
		Project:     q.Get("project"),
		FeatureName: q.Get("feature"),
	}
	var err error
	if query.Limit, err = queryInt(req, "limit", 0); err != nil {
		writeError(w, req, err)
		return
	}
	if query.Offset, err = queryInt(req, "offset", 0); err != nil {
		writeError(w, req, err)
		return
	}
	events, err := s.services.Events.List(req.Context(), query)
	if err != nil {
		writeError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"version": 1, "events": listOf(events)})
}

func (s *Server) evaluatePlayground(w http.ResponseWriter, req *http.Request) {
	var r services.PlaygroundRequest
	if err := readJSON(req, &r); err != nil {
		writeError(w, req, err)
		return
	}
	for _, p := range r.Projects {
		if !checkProjectAccess(w, req, p) {
			return
		}
	}
	resp, err := s.services.Playground.Evaluate(req.Context(), r)
	if err != nil {
		writeError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getFeatureMetrics(w http.ResponseWriter, req *http.Request) {
	hours, err := queryInt(req, "hours", defaultMetricsHours)
	if err != nil {
		writeError(w, req, err)
		return
	}
	usage, err := s.services.ClientMetrics.FeatureMetrics(req.Context(), pathParam(req, "featureName"), hours)
	if err != nil {
		writeError(w, req, err)
		return
	}
	usage.Data = listOf(usage.Data)
	writeJSON(w, http.StatusOK, usage)
}

func (s *Server) listApplications(w http.ResponseWriter, req *http.Request) {
	apps, err := s.services.ClientMetrics.Applications(req.Context())
	if err != nil {
		writeError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"applications": listOf(apps)})
}

func (s *Server) exportState(w http.ResponseWriter, req *http.Request) {
	doc, err := s.services.State.Export(req.Context())
	if err != nil {
		writeError(w, req, err)
		return
	}
	if download, _ := strconv.ParseBool(req.URL.Query().Get("download")); download {
		w.Header().Set("Content-Disposition", `attachment; filename="export.json"`)
	}
	writeJSON(w, http.StatusOK, doc)
}

// importState applies a state document. The query parameters drop and keep set
// ImportOptions.DropBeforeImport and ImportOptions.KeepExisting.
func (s *Server) importState(w http.ResponseWriter, req *http.Request) {
	var opts services.ImportOptions
	var err error
	if opts.DropBeforeImport, err = queryBool(req, "drop"); err != nil {
		writeError(w, req, err)
		return
	}
	if opts.KeepExisting, err = queryBool(req, "keep"); err != nil {
		writeError(w, req, err)
		return
	}
	var doc services.StateDocument
	if err := readJSON(req, &doc); err != nil {
		writeError(w, req, err)
		return
	}
	result, err := s.services.State.Import(req.Context(), doc, opts, by(req))
	if err != nil {
		writeError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func queryBool(req *http.Request, name string) (bool, error) {
	value := req.URL.Query().Get(name)
	if value == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, validation.NewErrorf(name, "%q is not a boolean", value)
	}
	return b, nil
}
