package server

import (
	"net/http"

	"github.com/flagpole-io/flagpole/internal/model"
	"github.com/flagpole-io/flagpole/internal/services"
)

func (s *Server) listProjects(w http.ResponseWriter, req *http.Request) {
	projects, err := s.services.Projects.List(req.Context())
	if err != nil {
		writeError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"projects": listOf(projects)})
}

func (s *Server) createProject(w http.ResponseWriter, req *http.Request) {
	var p model.Project
	if err := readJSON(req, &p); err != nil {
		writeError(w, req, err)
		return
	}
	created, err := s.services.Projects.Create(req.Context(), p, by(req))
	if err != nil {
		writeError(w, req, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) getProject(w http.ResponseWriter, req *http.Request) {
	id := pathParam(req, "projectId")
	if !checkProjectAccess(w, req, id) {
		return
	}
	p, err := s.services.Projects.Get(req.Context(), id)
	if err != nil {
		writeError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) updateProject(w http.ResponseWriter, req *http.Request) {
	id := pathParam(req, "projectId")
	if !checkProjectAccess(w, req, id) {
		return
	}
	var p model.Project
	if err := readJSON(req, &p); err != nil {
		writeError(w, req, err)
		return
	}
	p.ID = id
	updated, err := s.services.Projects.Update(req.Context(), p, by(req))
	if err != nil {
		writeError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) deleteProject(w http.ResponseWriter, req *http.Request) {
	id := pathParam(req, "projectId")
	if !checkProjectAccess(w, req, id) {
		return
	}
	if err := s.services.Projects.Delete(req.Context(), id, by(req)); err != nil {
		writeError(w, req, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) listFeatures(w http.ResponseWriter, req *http.Request) {
	project := pathParam(req, "projectId")
	if !checkProjectAccess(w, req, project) {
		return
	}
	features, err := s.services.Features.ListFeatures(req.Context(), project)
	if err != nil {
		writeError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"version": 1, "features": listOf(features)})
}

func (s *Server) createFeature(w http.ResponseWriter, req *http.Request) {
	project := pathParam(req, "projectId")
	if !checkProjectAccess(w, req, project) {
		return
	}
	var f model.Feature
	if err := readJSON(req, &f); err != nil {
		writeError(w, req, err)
		return
	}
	created, err := s.services.Features.CreateFeature(req.Context(), project, f, by(req))
	if err != nil {
		writeError(w, req, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) getFeature(w http.ResponseWriter, req *http.Request) {
	project := pathParam(req, "projectId")
	if !checkProjectAccess(w, req, project) {
		return
	}
	f, err := s.services.Features.GetFeature(req.Context(), project, pathParam(req, "featureName"))
	if err != nil {
		writeError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) updateFeature(w http.ResponseWriter, req *http.Request) {
	project := pathParam(req, "projectId")
	if !checkProjectAccess(w, req, project) {
		return
	}
	var u services.FeatureUpdate
	if err := readJSON(req, &u); err != nil {
		writeError(w, req, err)
		return
	}
	updated, err := s.services.Features.UpdateFeature(req.Context(), project, pathParam(req, "featureName"), u, by(req))
	if err != nil {
		writeError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) archiveFeature(w http.ResponseWriter, req *http.Request) {
	project := pathParam(req, "projectId")
	if !checkProjectAccess(w, req, project) {
		return
	}
	if err := s.services.Features.ArchiveFeature(req.Context(), project, pathParam(req, "featureName"), by(req)); err != nil {
		writeError(w, req, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) setFeatureEnvironmentEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		project := pathParam(req, "projectId")
		if !checkProjectAccess(w, req, project) {
			return
		}
		err := s.services.Features.SetEnvironmentEnabled(req.Context(), project,
			pathParam(req, "featureName"), pathParam(req, "environment"), enabled, by(req))
		if err != nil {
			writeError(w, req, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func (s *Server) listFeatureStrategies(w http.ResponseWriter, req *http.Request) {
	project := pathParam(req, "projectId")
	if !checkProjectAccess(w, req, project) {
		return
	}
	strategies, err := s.services.Features.ListStrategies(req.Context(), project,
		pathParam(req, "featureName"), pathParam(req, "environment"))
	if err != nil {
		writeError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, listOf(strategies))
}

func (s *Server) getFeatureStrategy(w http.ResponseWriter, req *http.Request) {
	project := pathParam(req, "projectId")
	if !checkProjectAccess(w, req, project) {
		return
	}
	st, err := s.services.Features.GetStrategy(req.Context(), project,
		pathParam(req, "featureName"), pathParam(req, "environment"), pathParam(req, "strategyId"))
	if err != nil {
		writeError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) addFeatureStrategy(w http.ResponseWriter, req *http.Request) {
	project := pathParam(req, "projectId")
	if !checkProjectAccess(w, req, project) {
		return
	}
	var in services.StrategyInput
	if err := readJSON(req, &in); err != nil {
		writeError(w, req, err)
		return
	}
	st, err := s.services.Features.AddStrategy(req.Context(), project,
		pathParam(req, "featureName"), pathParam(req, "environment"), in, by(req))
	if err != nil {
		writeError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) updateFeatureStrategy(w http.ResponseWriter, req *http.Request) {
	project := pathParam(req, "projectId")
	if !checkProjectAccess(w, req, project) {
		return
	}
	var in services.StrategyInput
	if err := readJSON(req, &in); err != nil {
		writeError(w, req, err)
		return
	}
	st, err := s.services.Features.UpdateStrategy(req.Context(), project,
		pathParam(req, "featureName"), pathParam(req, "environment"), pathParam(req, "strategyId"), in, by(req))
	if err != nil {
		writeError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) deleteFeatureStrategy(w http.ResponseWriter, req *http.Request) {
	project := pathParam(req, "projectId")
	if !checkProjectAccess(w, req, project) {
		return
	}
	err := s.services.Features.DeleteStrategy(req.Context(), project,
		pathParam(req, "featureName"), pathParam(req, "environment"), pathParam(req, "strategyId"), by(req))
	if err != nil {
		writeError(w, req, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// listArchivedFeatures lists archived features of every project, or of the project in the path.
func (s *Server) listArchivedFeatures(w http.ResponseWriter, req *http.Request) {
	project := pathParam(req, "projectId")
	if project != "" && !checkProjectAccess(w, req, project) {
		return
	}
	features, err := s.services.Features.ListArchived(req.Context(), project)
	if err != nil {
		writeError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"version": 1, "features": listOf(features)})
}

func (s *Server) reviveFeature(w http.ResponseWriter, req *http.Request) {
	if err := s.services.Features.ReviveFeature(req.Context(), pathParam(req, "featureName"), by(req)); err != nil {
		writeError(w, req, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) deleteFeature(w http.ResponseWriter, req *http.Request) {
	if err := s.services.Features.DeleteFeature(req.Context(), pathParam(req, "featureName"), by(req)); err != nil {
		writeError(w, req, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) listFeatureTags(w http.ResponseWriter, req *http.Request) {
	tags, err := s.services.Features.ListTags(req.Context(), pathParam(req, "featureName"))
	if err != nil {
		writeError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"version": 1, "tags": listOf(tags)})
}

func (s *Server) addFeatureTag(w http.ResponseWriter, req *http.Request) {
	var tag model.Tag
	if err := readJSON(req, &tag); err != nil {
		writeError(w, req, err)
		return
	}
	added, err := s.services.Features.AddTag(req.Context(), pathParam(req, "featureName"), tag, by(req))
	if err != nil {
		writeError(w, req, err)
		return
	}
	writeJSON(w, http.StatusCreated, added)
}

func (s *Server) removeFeatureTag(w http.ResponseWriter, req *http.Request) {
	tag := model.Tag{Type: pathParam(req, "type"), Value: pathParam(req, "value")}
	if err := s.services.Features.RemoveTag(req.Context(), pathParam(req, "featureName"), tag, by(req)); err != nil {
		writeError(w, req, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
