package server

import (
	"net"
	"net/http"
	"strings"

	"github.com/flagpole-io/flagpole/internal/api"
	"github.com/flagpole-io/flagpole/internal/delta"
	"github.com/flagpole-io/flagpole/internal/evaluation"
	"github.com/flagpole-io/flagpole/internal/model"
)

const (
	etagHeader        = "ETag"
	ifNoneMatchHeader = "If-None-Match"
	propertiesPrefix  = "properties["
)

// getClientFeatures returns every feature visible to the caller. A client that sends the current
// revision in If-None-Match gets 304 before anything else is read.
func (s *Server) getClientFeatures(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	if cursor := delta.ParseRevision(req.Header.Get(ifNoneMatchHeader)); cursor != nil {
		current, err := s.deltas.CurrentRevision(ctx)
		if err != nil {
			writeError(w, req, err)
			return
		}
		if current == *cursor {
			w.Header().Set(etagHeader, delta.ETag(current))
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}
	snapshot, err := s.deltas.Snapshot(ctx, s.scopeForRequest(req))
	if err != nil {
		writeError(w, req, err)
		return
	}
	etag := delta.ETag(snapshot.Revision)
	w.Header().Set(etagHeader, etag)
	writeJSON(w, http.StatusOK, api.ClientFeaturesRep{
		Version:  api.ClientFeaturesVersion,
		Features: listOf(snapshot.Features),
		Segments: listOf(snapshot.Segments),
		Meta:     api.ClientFeaturesMetaRep{RevisionID: snapshot.Revision, ETag: etag},
	})
}

func (s *Server) getClientFeature(w http.ResponseWriter, req *http.Request) {
	name := pathParam(req, "featureName")
	snapshot, err := s.deltas.Snapshot(req.Context(), s.scopeForRequest(req))
	if err != nil {
		writeError(w, req, err)
		return
	}
	for _, f := range snapshot.Features {
		if f.Name == name {
			writeJSON(w, http.StatusOK, f)
			return
		}
	}
	writeErrorRep(w, http.StatusNotFound, api.ErrorRep{Message: "Could not find feature with id \"" + name + "\""})
}

func (s *Server) getDelta(w http.ResponseWriter, req *http.Request) {
	cursor := delta.ParseRevision(req.Header.Get(ifNoneMatchHeader))
	result, err := s.deltas.GetDelta(req.Context(), s.scopeForRequest(req), cursor)
	if err != nil {
		writeError(w, req, err)
		return
	}
	w.Header().Set(etagHeader, delta.ETag(result.Revision))
	if result.NotModified {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	writeJSON(w, http.StatusOK, result.Payload())
}

func (s *Server) registerClient(w http.ResponseWriter, req *http.Request) {
	var app model.ClientApplication
	if err := readJSON(req, &app); err != nil {
		writeError(w, req, err)
		return
	}
	if err := s.services.ClientMetrics.RegisterApplication(req.Context(), app, s.scopeForRequest(req).Environment); err != nil {
		writeError(w, req, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) recordClientMetrics(w http.ResponseWriter, req *http.Request) {
	var report model.ClientMetricsReport
	if err := readJSON(req, &report); err != nil {
		writeError(w, req, err)
		return
	}
	if err := s.services.ClientMetrics.RecordMetrics(req.Context(), report, s.scopeForRequest(req).Environment); err != nil {
		writeError(w, req, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// getFrontendToggles evaluates the caller's features for a context. GET requests describe the context
// with query parameters, such as userId=a&properties[region]=eu; POST requests send it as the body.
func (s *Server) getFrontendToggles(w http.ResponseWriter, req *http.Request) {
	var evalCtx evaluation.Context
	if req.Method == http.MethodPost {
		if err := readJSON(req, &evalCtx); err != nil {
			writeError(w, req, err)
			return
		}
	} else {
		evalCtx = contextFromQuery(req)
	}
	if evalCtx.RemoteAddress == "" {
		evalCtx.RemoteAddress = remoteAddress(req)
	}
	toggles, err := s.services.Playground.FrontendToggles(req.Context(), s.scopeForRequest(req), evalCtx)
	if err != nil {
		writeError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, api.FrontendRep{Toggles: listOf(toggles)})
}

func contextFromQuery(req *http.Request) evaluation.Context {
	q := req.URL.Query()
	c := evaluation.Context{
		UserID:        q.Get(evaluation.FieldUserID),
		SessionID:     q.Get(evaluation.FieldSessionID),
		RemoteAddress: q.Get(evaluation.FieldRemoteAddress),
		Environment:   q.Get(evaluation.FieldEnvironment),
		AppName:       q.Get(evaluation.FieldAppName),
	}
	for key, values := range q {
		if strings.HasPrefix(key, propertiesPrefix) && strings.HasSuffix(key, "]") && len(values) != 0 {
			if c.Properties == nil {
				c.Properties = make(map[string]string)
			}
			c.Properties[key[len(propertiesPrefix):len(key)-1]] = values[0]
		}
	}
	return c
}

func remoteAddress(req *http.Request) string {
	if forwarded := req.Header.Get("X-Forwarded-For"); forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}
