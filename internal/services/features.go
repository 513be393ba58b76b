package services

import (
	"context"
	"errors"
	"sort"
	"strconv"

	"github.com/google/uuid"

	"github.com/flagpole-io/flagpole/internal/model"
	"github.com/flagpole-io/flagpole/internal/store"
	"github.com/flagpole-io/flagpole/internal/validation"
)

// FeatureToggleService manages features, their per-environment state, their strategies and their tags.
type FeatureToggleService struct {
	base
}

// FeatureDetails is a feature with its state and strategies in every environment, and its tags.
type FeatureDetails struct {
	model.Feature
	Environments []FeatureEnvironmentDetails `json:"environments"`
	Tags         []model.Tag                 `json:"tags"`
}

// FeatureEnvironmentDetails is the state of a feature in one environment.
type FeatureEnvironmentDetails struct {
	Name       string                  `json:"name"`
	Type       string                  `json:"type"`
	Enabled    bool                    `json:"enabled"`
	SortOrder  int                     `json:"sortOrder"`
	Strategies []model.FeatureStrategy `json:"strategies"`
}

// FeatureUpdate contains the mutable fields of a feature.
type FeatureUpdate struct {
	Description    string            `json:"description" validate:"max=1000"`
	Type           model.FeatureType `json:"type" validate:"omitempty,oneof=release experiment operational kill-switch permission"`
	Stale          bool              `json:"stale"`
	ImpressionData bool              `json:"impressionData"`
}

// StrategyInput is the body of a request that adds or replaces a feature strategy.
type StrategyInput struct {
	Name        string             `json:"name" validate:"required,max=255"`
	Title       string             `json:"title" validate:"max=255"`
	Parameters  map[string]string  `json:"parameters"`
	Constraints []model.Constraint `json:"constraints" validate:"dive"`
	Segments    []int64            `json:"segments"`
	Disabled    bool               `json:"disabled"`
	SortOrder   *int               `json:"sortOrder"`
}

// ListFeatures returns the non-archived features of a project.
func (s *FeatureToggleService) ListFeatures(ctx context.Context, project string) ([]model.Feature, error) {
	var ret []model.Feature
	err := s.read(ctx, func(tx store.Tx) error {
		if _, err := tx.GetProject(ctx, project); err != nil {
			return orNotFound(err, "project", project)
		}
		archived := false
		var err error
		ret, err = tx.ListFeatures(ctx, store.FeatureQuery{Projects: []string{project}, Archived: &archived})
		return err
	})
	return ret, err
}

// ListArchived returns archived features, optionally restricted to one project.
func (s *FeatureToggleService) ListArchived(ctx context.Context, project string) ([]model.Feature, error) {
	var ret []model.Feature
	err := s.read(ctx, func(tx store.Tx) (err error) {
		archived := true
		q := store.FeatureQuery{Archived: &archived}
		if project != "" {
			q.Projects = []string{project}
		}
		ret, err = tx.ListFeatures(ctx, q)
		return
	})
	return ret, err
}

// GetFeature returns a feature of a project with all its environments, strategies and tags.
func (s *FeatureToggleService) GetFeature(ctx context.Context, project, name string) (FeatureDetails, error) {
	var ret FeatureDetails
	err := s.read(ctx, func(tx store.Tx) error {
		f, err := getProjectFeature(ctx, tx, project, name)
		if err != nil {
			return err
		}
		ret, err = featureDetails(ctx, tx, f)
		return err
	})
	return ret, err
}

func getProjectFeature(ctx context.Context, tx store.Tx, project, name string) (model.Feature, error) {
	f, err := tx.GetFeature(ctx, name)
	if err != nil {
		return model.Feature{}, orNotFound(err, "feature", name)
	}
	if project != "" && f.Project != project {
		return model.Feature{}, notFound("feature", name)
	}
	return f, nil
}

func featureDetails(ctx context.Context, tx store.Tx, f model.Feature) (FeatureDetails, error) {
	envs, err := tx.ListEnvironments(ctx)
	if err != nil {
		return FeatureDetails{}, err
	}
	states, err := tx.GetFeatureEnvironments(ctx, f.Name)
	if err != nil {
		return FeatureDetails{}, err
	}
	enabled := make(map[string]bool, len(states))
	for _, st := range states {
		enabled[st.Environment] = st.Enabled
	}
	strategies, err := tx.ListFeatureStrategies(ctx, store.StrategyQuery{FeatureNames: []string{f.Name}})
	if err != nil {
		return FeatureDetails{}, err
	}
	byEnv := make(map[string][]model.FeatureStrategy)
	for _, st := range strategies {
		byEnv[st.Environment] = append(byEnv[st.Environment], st)
	}
	tags, err := tx.ListFeatureTags(ctx, f.Name)
	if err != nil {
		return FeatureDetails{}, err
	}
	ret := FeatureDetails{Feature: f, Environments: make([]FeatureEnvironmentDetails, 0, len(envs)), Tags: tags}
	for _, e := range envs {
		st := byEnv[e.Name]
		if st == nil {
			st = []model.FeatureStrategy{}
		}
		ret.Environments = append(ret.Environments, FeatureEnvironmentDetails{
			Name:       e.Name,
			Type:       e.Type,
			Enabled:    enabled[e.Name],
			SortOrder:  e.SortOrder,
			Strategies: st,
		})
	}
	return ret, nil
}

// CreateFeature adds a feature to a project. It starts out disabled in every environment.
func (s *FeatureToggleService) CreateFeature(
	ctx context.Context,
	project string,
	f model.Feature,
	by string,
) (FeatureDetails, error) {
	f.Project = project
	if f.Type == "" {
		f.Type = model.DefaultFeatureType
	}
	if err := validation.Struct(f); err != nil {
		return FeatureDetails{}, err
	}
	var ret FeatureDetails
	err := s.write(ctx, by, func(w *writer) error {
		if _, err := w.GetProject(ctx, project); err != nil {
			return orNotFound(err, "project", project)
		}
		f.Archived = false
		f.ArchivedAt = nil
		f.CreatedAt = w.now
		f.CreatedBy = by
		if err := w.InsertFeature(ctx, f); err != nil {
			return orExists(err, "feature", f.Name)
		}
		envs, err := w.ListEnvironments(ctx)
		if err != nil {
			return err
		}
		for _, e := range envs {
			if err := w.SetFeatureEnvironment(ctx, model.FeatureEnvironment{FeatureName: f.Name, Environment: e.Name}); err != nil {
				return err
			}
		}
		if err := w.emit(model.Event{Type: model.EventFeatureCreated, FeatureName: f.Name, Project: project,
			Data: model.RawJSON(f)}); err != nil {
			return err
		}
		ret, err = featureDetails(ctx, w, f)
		return err
	})
	return ret, err
}

// UpdateFeature changes the mutable fields of a feature.
func (s *FeatureToggleService) UpdateFeature(
	ctx context.Context,
	project, name string,
	u FeatureUpdate,
	by string,
) (FeatureDetails, error) {
	if err := validation.Struct(u); err != nil {
		return FeatureDetails{}, err
	}
	var ret FeatureDetails
	err := s.write(ctx, by, func(w *writer) error {
		old, err := getProjectFeature(ctx, w, project, name)
		if err != nil {
			return err
		}
		if old.Archived {
			return notFound("feature", name)
		}
		f := old
		f.Description = u.Description
		if u.Type != "" {
			f.Type = u.Type
		}
		f.Stale = u.Stale
		f.ImpressionData = u.ImpressionData
		if err := w.UpdateFeature(ctx, f); err != nil {
			return err
		}
		if err := w.emit(model.Event{Type: model.EventFeatureUpdated, FeatureName: name, Project: f.Project,
			Data: model.RawJSON(f), PreData: model.RawJSON(old)}); err != nil {
			return err
		}
		ret, err = featureDetails(ctx, w, f)
		return err
	})
	return ret, err
}

// ArchiveFeature archives a feature. Archived features are not served to SDKs.
func (s *FeatureToggleService) ArchiveFeature(ctx context.Context, project, name, by string) error {
	return s.write(ctx, by, func(w *writer) error {
		f, err := getProjectFeature(ctx, w, project, name)
		if err != nil {
			return err
		}
		if f.Archived {
			return nil
		}
		now := w.now
		f.Archived = true
		f.ArchivedAt = &now
		if err := w.UpdateFeature(ctx, f); err != nil {
			return err
		}
		return w.emit(model.Event{Type: model.EventFeatureArchived, FeatureName: name, Project: f.Project})
	})
}

// ReviveFeature restores an archived feature.
func (s *FeatureToggleService) ReviveFeature(ctx context.Context, name, by string) error {
	return s.write(ctx, by, func(w *writer) error {
		f, err := w.GetFeature(ctx, name)
		if err != nil {
			return orNotFound(err, "feature", name)
		}
		if !f.Archived {
			return notFound("archived feature", name)
		}
		f.Archived = false
		f.ArchivedAt = nil
		if err := w.UpdateFeature(ctx, f); err != nil {
			return err
		}
		return w.emit(model.Event{Type: model.EventFeatureRevived, FeatureName: name, Project: f.Project})
	})
}

// DeleteFeature permanently removes a feature. Only archived features can be deleted.
func (s *FeatureToggleService) DeleteFeature(ctx context.Context, name, by string) error {
	return s.write(ctx, by, func(w *writer) error {
		f, err := w.GetFeature(ctx, name)
		if err != nil {
			return orNotFound(err, "feature", name)
		}
		if !f.Archived {
			return denied("Feature %q must be archived before it can be deleted", name)
		}
		if err := w.DeleteFeature(ctx, name); err != nil {
			return err
		}
		return w.emit(model.Event{Type: model.EventFeatureDeleted, FeatureName: name, Project: f.Project,
			PreData: model.RawJSON(f)})
	})
}

// SetEnvironmentEnabled turns a feature on or off in one environment. Nothing is written if the state
// does not change.
func (s *FeatureToggleService) SetEnvironmentEnabled(
	ctx context.Context,
	project, name, environment string,
	enabled bool,
	by string,
) error {
	return s.write(ctx, by, func(w *writer) error {
		f, err := getProjectFeature(ctx, w, project, name)
		if err != nil {
			return err
		}
		if _, err := w.GetEnvironment(ctx, environment); err != nil {
			return orNotFound(err, "environment", environment)
		}
		states, err := w.GetFeatureEnvironments(ctx, name)
		if err != nil {
			return err
		}
		for _, st := range states {
			if st.Environment == environment && st.Enabled == enabled {
				return nil
			}
		}
		if !enabled && !containsEnvironment(states, environment) {
			return nil
		}
		if err := w.SetFeatureEnvironment(ctx, model.FeatureEnvironment{
			FeatureName: name, Environment: environment, Enabled: enabled,
		}); err != nil {
			return err
		}
		t := model.EventFeatureEnvironmentDisabled
		if enabled {
			t = model.EventFeatureEnvironmentEnabled
		}
		return w.emit(model.Event{Type: t, FeatureName: name, Project: f.Project, Environment: environment})
	})
}

func containsEnvironment(states []model.FeatureEnvironment, environment string) bool {
	for _, st := range states {
		if st.Environment == environment {
			return true
		}
	}
	return false
}

// ListStrategies returns the strategies of a feature in one environment.
func (s *FeatureToggleService) ListStrategies(
	ctx context.Context,
	project, name, environment string,
) ([]model.FeatureStrategy, error) {
	var ret []model.FeatureStrategy
	err := s.read(ctx, func(tx store.Tx) error {
		if _, err := getProjectFeature(ctx, tx, project, name); err != nil {
			return err
		}
		if _, err := tx.GetEnvironment(ctx, environment); err != nil {
			return orNotFound(err, "environment", environment)
		}
		var err error
		ret, err = tx.ListFeatureStrategies(ctx, store.StrategyQuery{FeatureNames: []string{name}, Environment: environment})
		return err
	})
	return ret, err
}

// GetStrategy returns one strategy of a feature.
func (s *FeatureToggleService) GetStrategy(ctx context.Context, project, name, environment, id string) (model.FeatureStrategy, error) {
	var ret model.FeatureStrategy
	err := s.read(ctx, func(tx store.Tx) (err error) {
		ret, err = getFeatureStrategy(ctx, tx, project, name, environment, id)
		return
	})
	return ret, err
}

func getFeatureStrategy(ctx context.Context, tx store.Tx, project, name, environment, id string) (model.FeatureStrategy, error) {
	f, err := getProjectFeature(ctx, tx, project, name)
	if err != nil {
		return model.FeatureStrategy{}, err
	}
	st, err := tx.GetFeatureStrategy(ctx, id)
	if err != nil {
		return model.FeatureStrategy{}, orNotFound(err, "strategy", id)
	}
	if st.FeatureName != f.Name || st.Environment != environment {
		return model.FeatureStrategy{}, notFound("strategy", id)
	}
	return st, nil
}

func checkStrategyInput(ctx context.Context, tx store.Tx, in StrategyInput) error {
	if err := validation.Struct(in); err != nil {
		return err
	}
	def, err := tx.GetStrategyDefinition(ctx, in.Name)
	if errors.Is(err, store.ErrNotFound) {
		return validation.NewErrorf("name", "strategy %q does not exist", in.Name)
	}
	if err != nil {
		return err
	}
	for _, p := range def.Parameters {
		if p.Required && in.Parameters[p.Name] == "" {
			return validation.NewErrorf("parameters."+p.Name, "parameters.%s is required", p.Name)
		}
	}
	for i, id := range in.Segments {
		if _, err := tx.GetSegment(ctx, id); errors.Is(err, store.ErrNotFound) {
			return validation.NewErrorf("segments["+strconv.Itoa(i)+"]", "segment %d does not exist", id)
		} else if err != nil {
			return err
		}
	}
	return nil
}

// AddStrategy adds a strategy to a feature in one environment.
func (s *FeatureToggleService) AddStrategy(
	ctx context.Context,
	project, name, environment string,
	in StrategyInput,
	by string,
) (model.FeatureStrategy, error) {
	var ret model.FeatureStrategy
	err := s.write(ctx, by, func(w *writer) error {
		f, err := getProjectFeature(ctx, w, project, name)
		if err != nil {
			return err
		}
		if _, err := w.GetEnvironment(ctx, environment); err != nil {
			return orNotFound(err, "environment", environment)
		}
		if err := checkStrategyInput(ctx, w, in); err != nil {
			return err
		}
		existing, err := w.ListFeatureStrategies(ctx, store.StrategyQuery{FeatureNames: []string{name}, Environment: environment})
		if err != nil {
			return err
		}
		ret = model.FeatureStrategy{
			ID:          uuid.NewString(),
			FeatureName: name,
			ProjectID:   f.Project,
			Environment: environment,
			CreatedAt:   w.now,
		}
		applyStrategyInput(&ret, in, len(existing))
		if err := w.InsertFeatureStrategy(ctx, ret); err != nil {
			return err
		}
		return w.emit(model.Event{Type: model.EventFeatureStrategyAdded, FeatureName: name, Project: f.Project,
			Environment: environment, Data: model.RawJSON(ret)})
	})
	return ret, err
}

func applyStrategyInput(st *model.FeatureStrategy, in StrategyInput, defaultSortOrder int) {
	st.Name = in.Name
	st.Title = in.Title
	st.Parameters = in.Parameters
	if st.Parameters == nil {
		st.Parameters = map[string]string{}
	}
	st.Constraints = in.Constraints
	if st.Constraints == nil {
		st.Constraints = []model.Constraint{}
	}
	st.Segments = in.Segments
	st.Disabled = in.Disabled
	st.SortOrder = defaultSortOrder
	if in.SortOrder != nil {
		st.SortOrder = *in.SortOrder
	}
}

// UpdateStrategy replaces a strategy of a feature.
func (s *FeatureToggleService) UpdateStrategy(
	ctx context.Context,
	project, name, environment, id string,
	in StrategyInput,
	by string,
) (model.FeatureStrategy, error) {
	var ret model.FeatureStrategy
	err := s.write(ctx, by, func(w *writer) error {
		old, err := getFeatureStrategy(ctx, w, project, name, environment, id)
		if err != nil {
			return err
		}
		if err := checkStrategyInput(ctx, w, in); err != nil {
			return err
		}
		ret = old
		applyStrategyInput(&ret, in, old.SortOrder)
		if err := w.UpdateFeatureStrategy(ctx, ret); err != nil {
			return err
		}
		return w.emit(model.Event{Type: model.EventFeatureStrategyUpdated, FeatureName: name, Project: old.ProjectID,
			Environment: environment, Data: model.RawJSON(ret), PreData: model.RawJSON(old)})
	})
	return ret, err
}

// DeleteStrategy removes a strategy from a feature.
func (s *FeatureToggleService) DeleteStrategy(ctx context.Context, project, name, environment, id, by string) error {
	return s.write(ctx, by, func(w *writer) error {
		old, err := getFeatureStrategy(ctx, w, project, name, environment, id)
		if err != nil {
			return err
		}
		if err := w.DeleteFeatureStrategy(ctx, id); err != nil {
			return err
		}
		return w.emit(model.Event{Type: model.EventFeatureStrategyRemoved, FeatureName: name, Project: old.ProjectID,
			Environment: environment, PreData: model.RawJSON(old)})
	})
}

// ListTags returns the tags of a feature.
func (s *FeatureToggleService) ListTags(ctx context.Context, name string) ([]model.Tag, error) {
	var ret []model.Tag
	err := s.read(ctx, func(tx store.Tx) error {
		if _, err := tx.GetFeature(ctx, name); err != nil {
			return orNotFound(err, "feature", name)
		}
		var err error
		ret, err = tx.ListFeatureTags(ctx, name)
		return err
	})
	sort.Slice(ret, func(i, j int) bool {
		if ret[i].Type != ret[j].Type {
			return ret[i].Type < ret[j].Type
		}
		return ret[i].Value < ret[j].Value
	})
	return ret, err
}

// AddTag tags a feature. The tag type must exist.
func (s *FeatureToggleService) AddTag(ctx context.Context, name string, tag model.Tag, by string) (model.Tag, error) {
	if err := validation.Struct(tag); err != nil {
		return model.Tag{}, err
	}
	err := s.write(ctx, by, func(w *writer) error {
		f, err := w.GetFeature(ctx, name)
		if err != nil {
			return orNotFound(err, "feature", name)
		}
		if _, err := w.GetTagType(ctx, tag.Type); errors.Is(err, store.ErrNotFound) {
			return validation.NewErrorf("type", "tag type %q does not exist", tag.Type)
		} else if err != nil {
			return err
		}
		if err := w.AddFeatureTag(ctx, name, tag); err != nil {
			return orExists(err, "tag", tag.Type+":"+tag.Value)
		}
		return w.emit(model.Event{Type: model.EventFeatureTagged, FeatureName: name, Project: f.Project,
			Tags: []model.Tag{tag}, Data: model.RawJSON(tag)})
	})
	return tag, err
}

// RemoveTag removes a tag from a feature.
func (s *FeatureToggleService) RemoveTag(ctx context.Context, name string, tag model.Tag, by string) error {
	return s.write(ctx, by, func(w *writer) error {
		f, err := w.GetFeature(ctx, name)
		if err != nil {
			return orNotFound(err, "feature", name)
		}
		if err := w.RemoveFeatureTag(ctx, name, tag); err != nil {
			return orNotFound(err, "tag", tag.Type+":"+tag.Value)
		}
		return w.emit(model.Event{Type: model.EventFeatureUntagged, FeatureName: name, Project: f.Project,
			Tags: []model.Tag{tag}, PreData: model.RawJSON(tag)})
	})
}
