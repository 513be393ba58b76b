// Package flags builds the client representation of features for one environment and set of projects.
package flags

import (
	"context"
	"sort"

	"github.com/flagpole-io/flagpole/internal/model"
	"github.com/flagpole-io/flagpole/internal/permission"
	"github.com/flagpole-io/flagpole/internal/store"
)

// DefaultEnvironment is used for callers whose credentials are not tied to one environment.
const DefaultEnvironment = "development"

// Scope selects the features a caller can see.
type Scope struct {
	// Projects is the list of visible projects. It is empty, or contains model.AllProjects, if every
	// project is visible.
	Projects []string
	// Environment selects the enabled states and strategies.
	Environment string
}

// ScopeFor returns the scope of an identity. Users and tokens without a specific environment see the
// default environment.
func ScopeFor(id permission.Identity) Scope {
	s := Scope{Environment: id.Environment}
	if id.Kind != permission.KindUser {
		s.Projects = id.Projects
	}
	if s.Environment == "" || s.Environment == model.AllEnvironments {
		s.Environment = DefaultEnvironment
	}
	return s
}

// AllProjects reports whether the scope covers every project.
func (s Scope) AllProjects() bool {
	for _, p := range s.Projects {
		if p == model.AllProjects {
			return true
		}
	}
	return len(s.Projects) == 0
}

// IncludesProject reports whether the project is visible in this scope.
func (s Scope) IncludesProject(project string) bool {
	if s.AllProjects() {
		return true
	}
	for _, p := range s.Projects {
		if p == project {
			return true
		}
	}
	return false
}

// Snapshot is the complete client view of a scope at one revision.
type Snapshot struct {
	Revision int64
	Features []model.ClientFeature
	Segments []model.Segment
}

// Load reads the complete client view of a scope.
func Load(ctx context.Context, tx store.Tx, scope Scope) (Snapshot, error) {
	rev, err := tx.CurrentRevision(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	features, err := Resolve(ctx, tx, scope, nil)
	if err != nil {
		return Snapshot{}, err
	}
	segments, err := ReferencedSegments(ctx, tx, features)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Revision: rev, Features: features, Segments: segments}, nil
}

// Resolve returns the non-archived features in scope, ordered by name. If names is not nil, only
// features with those names are considered.
func Resolve(ctx context.Context, tx store.Tx, scope Scope, names []string) ([]model.ClientFeature, error) {
	archived := false
	q := store.FeatureQuery{Names: names, Archived: &archived}
	if !scope.AllProjects() {
		q.Projects = scope.Projects
	}
	features, err := tx.ListFeatures(ctx, q)
	if err != nil {
		return nil, err
	}
	ret := make([]model.ClientFeature, 0, len(features))
	if len(features) == 0 {
		return ret, nil
	}
	featureNames := make([]string, 0, len(features))
	for _, f := range features {
		featureNames = append(featureNames, f.Name)
	}

	states, err := tx.ListFeatureEnvironments(ctx, scope.Environment, featureNames)
	if err != nil {
		return nil, err
	}
	enabled := make(map[string]bool, len(states))
	for _, fe := range states {
		enabled[fe.FeatureName] = fe.Enabled
	}

	strategies, err := tx.ListFeatureStrategies(ctx, store.StrategyQuery{
		FeatureNames: featureNames,
		Environment:  scope.Environment,
	})
	if err != nil {
		return nil, err
	}
	byFeature := make(map[string][]model.ClientStrategy)
	for _, s := range strategies {
		if s.Disabled {
			continue
		}
		byFeature[s.FeatureName] = append(byFeature[s.FeatureName], ToClientStrategy(s))
	}

	for _, f := range features {
		cs := byFeature[f.Name]
		if cs == nil {
			cs = []model.ClientStrategy{}
		}
		ret = append(ret, model.ClientFeature{
			Name:           f.Name,
			Project:        f.Project,
			Type:           f.Type,
			Description:    f.Description,
			Enabled:        enabled[f.Name],
			Stale:          f.Stale,
			ImpressionData: f.ImpressionData,
			Strategies:     cs,
		})
	}
	return ret, nil
}

// ToClientStrategy converts a stored strategy to its client representation.
func ToClientStrategy(s model.FeatureStrategy) model.ClientStrategy {
	params := s.Parameters
	if params == nil {
		params = map[string]string{}
	}
	constraints := s.Constraints
	if constraints == nil {
		constraints = []model.Constraint{}
	}
	return model.ClientStrategy{
		ID:          s.ID,
		Name:        s.Name,
		Parameters:  params,
		Constraints: constraints,
		Segments:    s.Segments,
	}
}

// ReferencedSegments returns the segments referenced by any of the features' strategies, ordered by ID.
func ReferencedSegments(ctx context.Context, tx store.Tx, features []model.ClientFeature) ([]model.Segment, error) {
	ids := make(map[int64]struct{})
	for _, f := range features {
		for _, s := range f.Strategies {
			for _, id := range s.Segments {
				ids[id] = struct{}{}
			}
		}
	}
	ret := make([]model.Segment, 0, len(ids))
	if len(ids) == 0 {
		return ret, nil
	}
	all, err := tx.ListSegments(ctx)
	if err != nil {
		return nil, err
	}
	for _, seg := range all {
		if _, ok := ids[seg.ID]; ok {
			ret = append(ret, seg)
		}
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].ID < ret[j].ID })
	return ret, nil
}

// SegmentMap indexes segments by ID.
func SegmentMap(segments []model.Segment) map[int64]model.Segment {
	ret := make(map[int64]model.Segment, len(segments))
	for _, s := range segments {
		ret[s.ID] = s
	}
	return ret
}

// InlineSegments returns copies of the features in which every strategy carries the constraints of the
// segments it references in place of their IDs. Clients that only receive features, such as delta
// consumers, can evaluate these without a separate segment list. References to unknown segments are
// dropped.
func InlineSegments(features []model.ClientFeature, segments []model.Segment) []model.ClientFeature {
	byID := SegmentMap(segments)
	ret := make([]model.ClientFeature, 0, len(features))
	for _, f := range features {
		strategies := make([]model.ClientStrategy, 0, len(f.Strategies))
		for _, s := range f.Strategies {
			if len(s.Segments) != 0 {
				constraints := append([]model.Constraint{}, s.Constraints...)
				for _, id := range s.Segments {
					if seg, ok := byID[id]; ok {
						constraints = append(constraints, seg.Constraints...)
					}
				}
				s.Constraints = constraints
				s.Segments = nil
			}
			strategies = append(strategies, s)
		}
		f.Strategies = strategies
		ret = append(ret, f)
	}
	return ret
}
