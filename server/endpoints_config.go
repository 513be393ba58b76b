package server

import (
	"net/http"

	"github.com/flagpole-io/flagpole/internal/model"
)

func (s *Server) listEnvironments(w http.ResponseWriter, req *http.Request) {
	envs, err := s.services.Environments.List(req.Context())
	if err != nil {
		writeError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"version": 1, "environments": listOf(envs)})
}

func (s *Server) getEnvironment(w http.ResponseWriter, req *http.Request) {
	env, err := s.services.Environments.Get(req.Context(), pathParam(req, "name"))
	if err != nil {
		writeError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, env)
}

func (s *Server) createEnvironment(w http.ResponseWriter, req *http.Request) {
	var env model.Environment
	if err := readJSON(req, &env); err != nil {
		writeError(w, req, err)
		return
	}
	created, err := s.services.Environments.Create(req.Context(), env, by(req))
	if err != nil {
		writeError(w, req, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) updateEnvironment(w http.ResponseWriter, req *http.Request) {
	var env model.Environment
	if err := readJSON(req, &env); err != nil {
		writeError(w, req, err)
		return
	}
	env.Name = pathParam(req, "name")
	updated, err := s.services.Environments.Update(req.Context(), env, by(req))
	if err != nil {
		writeError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) deleteEnvironment(w http.ResponseWriter, req *http.Request) {
	if err := s.services.Environments.Delete(req.Context(), pathParam(req, "name"), by(req)); err != nil {
		writeError(w, req, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) setEnvironmentEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := s.services.Environments.SetEnabled(req.Context(), pathParam(req, "name"), enabled, by(req)); err != nil {
			writeError(w, req, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) listStrategies(w http.ResponseWriter, req *http.Request) {
	defs, err := s.services.Strategies.List(req.Context())
	if err != nil {
		writeError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"version": 1, "strategies": listOf(defs)})
}

func (s *Server) getStrategy(w http.ResponseWriter, req *http.Request) {
	def, err := s.services.Strategies.Get(req.Context(), pathParam(req, "name"))
	if err != nil {
		writeError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

func (s *Server) createStrategy(w http.ResponseWriter, req *http.Request) {
	var def model.StrategyDefinition
	if err := readJSON(req, &def); err != nil {
		writeError(w, req, err)
		return
	}
	created, err := s.services.Strategies.Create(req.Context(), def, by(req))
	if err != nil {
		writeError(w, req, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) updateStrategy(w http.ResponseWriter, req *http.Request) {
	var def model.StrategyDefinition
	if err := readJSON(req, &def); err != nil {
		writeError(w, req, err)
		return
	}
	def.Name = pathParam(req, "name")
	updated, err := s.services.Strategies.Update(req.Context(), def, by(req))
	if err != nil {
		writeError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) deleteStrategy(w http.ResponseWriter, req *http.Request) {
	if err := s.services.Strategies.Delete(req.Context(), pathParam(req, "name"), by(req)); err != nil {
		writeError(w, req, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) deprecateStrategy(w http.ResponseWriter, req *http.Request) {
	if err := s.services.Strategies.Deprecate(req.Context(), pathParam(req, "name"), by(req)); err != nil {
		writeError(w, req, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) reactivateStrategy(w http.ResponseWriter, req *http.Request) {
	if err := s.services.Strategies.Reactivate(req.Context(), pathParam(req, "name"), by(req)); err != nil {
		writeError(w, req, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) listSegments(w http.ResponseWriter, req *http.Request) {
	segments, err := s.services.Segments.List(req.Context())
	if err != nil {
		writeError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"segments": listOf(segments)})
}

func (s *Server) getSegment(w http.ResponseWriter, req *http.Request) {
	id, err := pathID(req, "id")
	if err != nil {
		writeError(w, req, err)
		return
	}
	seg, err := s.services.Segments.Get(req.Context(), id)
	if err != nil {
		writeError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, seg)
}

func (s *Server) createSegment(w http.ResponseWriter, req *http.Request) {
	var seg model.Segment
	if err := readJSON(req, &seg); err != nil {
		writeError(w, req, err)
		return
	}
	created, err := s.services.Segments.Create(req.Context(), seg, by(req))
	if err != nil {
		writeError(w, req, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) updateSegment(w http.ResponseWriter, req *http.Request) {
	id, err := pathID(req, "id")
	if err != nil {
		writeError(w, req, err)
		return
	}
	var seg model.Segment
	if err := readJSON(req, &seg); err != nil {
		writeError(w, req, err)
		return
	}
	seg.ID = id
	updated, err := s.services.Segments.Update(req.Context(), seg, by(req))
	if err != nil {
		writeError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) deleteSegment(w http.ResponseWriter, req *http.Request) {
	id, err := pathID(req, "id")
	if err != nil {
		writeError(w, req, err)
		return
	}
	if err := s.services.Segments.Delete(req.Context(), id, by(req)); err != nil {
		writeError(w, req, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) listTagTypes(w http.ResponseWriter, req *http.Request) {
	types, err := s.services.Tags.ListTypes(req.Context())
	if err != nil {
		writeError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"version": 1, "tagTypes": listOf(types)})
}

func (s *Server) getTagType(w http.ResponseWriter, req *http.Request) {
	tt, err := s.services.Tags.GetType(req.Context(), pathParam(req, "name"))
	if err != nil {
		writeError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"version": 1, "tagType": tt})
}

func (s *Server) createTagType(w http.ResponseWriter, req *http.Request) {
	var tt model.TagType
	if err := readJSON(req, &tt); err != nil {
		writeError(w, req, err)
		return
	}
	created, err := s.services.Tags.CreateType(req.Context(), tt, by(req))
	if err != nil {
		writeError(w, req, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) updateTagType(w http.ResponseWriter, req *http.Request) {
	var tt model.TagType
	if err := readJSON(req, &tt); err != nil {
		writeError(w, req, err)
		return
	}
	tt.Name = pathParam(req, "name")
	updated, err := s.services.Tags.UpdateType(req.Context(), tt, by(req))
	if err != nil {
		writeError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) deleteTagType(w http.ResponseWriter, req *http.Request) {
	if err := s.services.Tags.DeleteType(req.Context(), pathParam(req, "name"), by(req)); err != nil {
		writeError(w, req, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
