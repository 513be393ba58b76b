package services

import (
	"context"
	"errors"
	"sort"

	"github.com/google/uuid"

	"github.com/flagpole-io/flagpole/internal/model"
	"github.com/flagpole-io/flagpole/internal/store"
	"github.com/flagpole-io/flagpole/internal/validation"
)

// StateDocumentVersion is the version written by Export.
const StateDocumentVersion = 1

// StateService exports and imports the whole configuration as one document.
type StateService struct {
	base
}

// FeatureTag attaches a tag to a feature in a StateDocument.
type FeatureTag struct {
	FeatureName string `json:"featureName"`
	TagType     string `json:"tagType"`
	TagValue    string `json:"tagValue"`
}

// StateDocument is the exported configuration. Segments are matched by name on import; the segment
// IDs in FeatureStrategies refer to the IDs in Segments.
type StateDocument struct {
	Version             int                        `json:"version"`
	Projects            []model.Project            `json:"projects"`
	Environments        []model.Environment        `json:"environments"`
	Features            []model.Feature            `json:"features"`
	FeatureEnvironments []model.FeatureEnvironment `json:"featureEnvironments"`
	FeatureStrategies   []model.FeatureStrategy    `json:"featureStrategies"`
	Segments            []model.Segment            `json:"segments"`
	Strategies          []model.StrategyDefinition `json:"strategies"`
	TagTypes            []model.TagType            `json:"tagTypes"`
	FeatureTags         []FeatureTag               `json:"featureTags"`
}

// ImportOptions controls Import.
type ImportOptions struct {
	// DropBeforeImport deletes all features, segments and custom strategy definitions first.
	DropBeforeImport bool
	// KeepExisting leaves objects that already exist unchanged instead of overwriting them.
	KeepExisting bool
}

// ImportResult counts what Import changed.
type ImportResult struct {
	FeaturesCreated int `json:"featuresCreated"`
	FeaturesUpdated int `json:"featuresUpdated"`
	FeaturesDeleted int `json:"featuresDeleted"`
}

// Export reads the whole configuration.
func (s *StateService) Export(ctx context.Context) (StateDocument, error) {
	doc := StateDocument{Version: StateDocumentVersion}
	err := s.read(ctx, func(tx store.Tx) (err error) {
		if doc.Projects, err = tx.ListProjects(ctx); err != nil {
			return err
		}
		if doc.Environments, err = tx.ListEnvironments(ctx); err != nil {
			return err
		}
		if doc.Features, err = tx.ListFeatures(ctx, store.FeatureQuery{}); err != nil {
			return err
		}
		if doc.FeatureStrategies, err = tx.ListFeatureStrategies(ctx, store.StrategyQuery{}); err != nil {
			return err
		}
		if doc.Segments, err = tx.ListSegments(ctx); err != nil {
			return err
		}
		if doc.TagTypes, err = tx.ListTagTypes(ctx); err != nil {
			return err
		}
		defs, err := tx.ListStrategyDefinitions(ctx)
		if err != nil {
			return err
		}
		doc.Strategies = []model.StrategyDefinition{}
		for _, d := range defs {
			if !d.BuiltIn {
				doc.Strategies = append(doc.Strategies, d)
			}
		}
		doc.FeatureEnvironments = []model.FeatureEnvironment{}
		doc.FeatureTags = []FeatureTag{}
		for _, f := range doc.Features {
			envs, err := tx.GetFeatureEnvironments(ctx, f.Name)
			if err != nil {
				return err
			}
			doc.FeatureEnvironments = append(doc.FeatureEnvironments, envs...)
			tags, err := tx.ListFeatureTags(ctx, f.Name)
			if err != nil {
				return err
			}
			for _, t := range tags {
				doc.FeatureTags = append(doc.FeatureTags, FeatureTag{FeatureName: f.Name, TagType: t.Type, TagValue: t.Value})
			}
		}
		return nil
	})
	return doc, err
}

// Import applies a StateDocument in one transaction.
func (s *StateService) Import(ctx context.Context, doc StateDocument, opts ImportOptions, by string) (ImportResult, error) {
	var result ImportResult
	err := s.write(ctx, by, func(w *writer) error {
		imp := &stateImporter{w: w, ctx: ctx, opts: opts, segmentIDs: map[int64]int64{}, imported: map[string]bool{}}
		var err error
		result, err = imp.run(doc)
		return err
	})
	if err == nil {
		s.loggers.Infof("Imported state: %d features created, %d updated, %d deleted",
			result.FeaturesCreated, result.FeaturesUpdated, result.FeaturesDeleted)
	}
	return result, err
}

type stateImporter struct {
	w          *writer
	ctx        context.Context
	opts       ImportOptions
	result     ImportResult
	segmentIDs map[int64]int64
	imported   map[string]bool
}

func (imp *stateImporter) run(doc StateDocument) (ImportResult, error) {
	steps := []func(StateDocument) error{
		imp.drop,
		imp.importProjects,
		imp.importEnvironments,
		imp.importTagTypes,
		imp.importStrategyDefinitions,
		imp.importSegments,
		imp.importFeatures,
		imp.importFeatureEnvironments,
		imp.importFeatureStrategies,
		imp.importFeatureTags,
	}
	for _, step := range steps {
		if err := step(doc); err != nil {
			return ImportResult{}, err
		}
	}
	err := imp.w.emit(model.Event{Type: model.EventFeaturesImported, Data: model.RawJSON(imp.result)})
	return imp.result, err
}

func (imp *stateImporter) drop(StateDocument) error {
	if !imp.opts.DropBeforeImport {
		return nil
	}
	ctx, w := imp.ctx, imp.w
	features, err := w.ListFeatures(ctx, store.FeatureQuery{})
	if err != nil {
		return err
	}
	for _, f := range features {
		if err := w.DeleteFeature(ctx, f.Name); err != nil {
			return err
		}
		imp.result.FeaturesDeleted++
		if err := w.emit(model.Event{Type: model.EventFeatureDeleted, FeatureName: f.Name, Project: f.Project,
			PreData: model.RawJSON(f)}); err != nil {
			return err
		}
	}
	segments, err := w.ListSegments(ctx)
	if err != nil {
		return err
	}
	for _, seg := range segments {
		if err := w.DeleteSegment(ctx, seg.ID); err != nil {
			return err
		}
	}
	defs, err := w.ListStrategyDefinitions(ctx)
	if err != nil {
		return err
	}
	for _, d := range defs {
		if !d.BuiltIn {
			if err := w.DeleteStrategyDefinition(ctx, d.Name); err != nil {
				return err
			}
		}
	}
	return nil
}

func (imp *stateImporter) importProjects(doc StateDocument) error {
	for _, p := range doc.Projects {
		if err := validation.Struct(p); err != nil {
			return err
		}
		old, err := imp.w.GetProject(imp.ctx, p.ID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			p.CreatedAt = imp.w.now
			err = imp.w.InsertProject(imp.ctx, p)
		case err == nil && !imp.opts.KeepExisting:
			p.CreatedAt = old.CreatedAt
			err = imp.w.UpdateProject(imp.ctx, p)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (imp *stateImporter) importEnvironments(doc StateDocument) error {
	for _, e := range doc.Environments {
		if err := validation.Struct(e); err != nil {
			return err
		}
		_, err := imp.w.GetEnvironment(imp.ctx, e.Name)
		if errors.Is(err, store.ErrNotFound) {
			e.CreatedAt = imp.w.now
			e.Protected = false
			err = imp.w.InsertEnvironment(imp.ctx, e)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (imp *stateImporter) importTagTypes(doc StateDocument) error {
	for _, tt := range doc.TagTypes {
		if err := validation.Struct(tt); err != nil {
			return err
		}
		_, err := imp.w.GetTagType(imp.ctx, tt.Name)
		switch {
		case errors.Is(err, store.ErrNotFound):
			err = imp.w.InsertTagType(imp.ctx, tt)
		case err == nil && !imp.opts.KeepExisting:
			err = imp.w.UpdateTagType(imp.ctx, tt)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (imp *stateImporter) importStrategyDefinitions(doc StateDocument) error {
	for _, d := range doc.Strategies {
		if d.Parameters == nil {
			d.Parameters = []model.StrategyParameter{}
		}
		if err := validation.Struct(d); err != nil {
			return err
		}
		old, err := imp.w.GetStrategyDefinition(imp.ctx, d.Name)
		switch {
		case errors.Is(err, store.ErrNotFound):
			d.BuiltIn = false
			err = imp.w.InsertStrategyDefinition(imp.ctx, d)
		case err == nil && !old.BuiltIn && !imp.opts.KeepExisting:
			d.BuiltIn = false
			err = imp.w.UpdateStrategyDefinition(imp.ctx, d)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (imp *stateImporter) importSegments(doc StateDocument) error {
	existing, err := imp.w.ListSegments(imp.ctx)
	if err != nil {
		return err
	}
	byName := make(map[string]model.Segment, len(existing))
	for _, seg := range existing {
		byName[seg.Name] = seg
	}
	for _, seg := range doc.Segments {
		if seg.Constraints == nil {
			seg.Constraints = []model.Constraint{}
		}
		if err := validation.Struct(seg); err != nil {
			return err
		}
		docID := seg.ID
		if old, ok := byName[seg.Name]; ok {
			imp.segmentIDs[docID] = old.ID
			if imp.opts.KeepExisting {
				continue
			}
			seg.ID = old.ID
			seg.CreatedAt = old.CreatedAt
			seg.CreatedBy = old.CreatedBy
			if err := imp.w.UpdateSegment(imp.ctx, seg); err != nil {
				return err
			}
			id := seg.ID
			if err := imp.w.emit(model.Event{Type: model.EventSegmentUpdated, SegmentID: &id, Project: seg.Project,
				Data: model.RawJSON(seg), PreData: model.RawJSON(old)}); err != nil {
				return err
			}
			continue
		}
		seg.CreatedAt = imp.w.now
		seg.CreatedBy = imp.w.by
		id, err := imp.w.InsertSegment(imp.ctx, seg)
		if err != nil {
			return err
		}
		imp.segmentIDs[docID] = id
	}
	return nil
}

func (imp *stateImporter) importFeatures(doc StateDocument) error {
	ctx, w := imp.ctx, imp.w
	for _, f := range doc.Features {
		if f.Project == "" {
			f.Project = model.DefaultProjectID
		}
		if f.Type == "" {
			f.Type = model.DefaultFeatureType
		}
		if err := validation.Struct(f); err != nil {
			return err
		}
		if _, err := w.GetProject(ctx, f.Project); errors.Is(err, store.ErrNotFound) {
			return validation.NewErrorf("features", "project %q of feature %q does not exist", f.Project, f.Name)
		} else if err != nil {
			return err
		}
		if f.Archived && f.ArchivedAt == nil {
			now := w.now
			f.ArchivedAt = &now
		}
		old, err := w.GetFeature(ctx, f.Name)
		switch {
		case errors.Is(err, store.ErrNotFound):
			if f.CreatedAt.IsZero() {
				f.CreatedAt = w.now
			}
			if f.CreatedBy == "" {
				f.CreatedBy = w.by
			}
			if err := w.InsertFeature(ctx, f); err != nil {
				return err
			}
			imp.result.FeaturesCreated++
			if err := w.emit(model.Event{Type: model.EventFeatureCreated, FeatureName: f.Name, Project: f.Project,
				Data: model.RawJSON(f)}); err != nil {
				return err
			}
		case err != nil:
			return err
		case imp.opts.KeepExisting:
			continue
		default:
			f.CreatedAt = old.CreatedAt
			f.CreatedBy = old.CreatedBy
			if err := w.UpdateFeature(ctx, f); err != nil {
				return err
			}
			current, err := w.ListFeatureStrategies(ctx, store.StrategyQuery{FeatureNames: []string{f.Name}})
			if err != nil {
				return err
			}
			for _, st := range current {
				if err := w.DeleteFeatureStrategy(ctx, st.ID); err != nil {
					return err
				}
			}
			imp.result.FeaturesUpdated++
			if err := w.emit(model.Event{Type: model.EventFeatureUpdated, FeatureName: f.Name, Project: f.Project,
				Data: model.RawJSON(f), PreData: model.RawJSON(old)}); err != nil {
				return err
			}
		}
		imp.imported[f.Name] = true
	}
	return nil
}

func (imp *stateImporter) importFeatureEnvironments(doc StateDocument) error {
	for _, fe := range doc.FeatureEnvironments {
		if !imp.imported[fe.FeatureName] {
			continue
		}
		if _, err := imp.w.GetEnvironment(imp.ctx, fe.Environment); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return validation.NewErrorf("featureEnvironments", "environment %q does not exist", fe.Environment)
			}
			return err
		}
		if err := imp.w.SetFeatureEnvironment(imp.ctx, fe); err != nil {
			return err
		}
	}
	return nil
}

func (imp *stateImporter) importFeatureStrategies(doc StateDocument) error {
	ctx, w := imp.ctx, imp.w
	strategies := append([]model.FeatureStrategy(nil), doc.FeatureStrategies...)
	sort.SliceStable(strategies, func(i, j int) bool { return strategies[i].SortOrder < strategies[j].SortOrder })
	for _, st := range strategies {
		if !imp.imported[st.FeatureName] {
			continue
		}
		f, err := w.GetFeature(ctx, st.FeatureName)
		if err != nil {
			return err
		}
		st.ProjectID = f.Project
		if st.Parameters == nil {
			st.Parameters = map[string]string{}
		}
		if st.Constraints == nil {
			st.Constraints = []model.Constraint{}
		}
		if err := validation.Struct(st); err != nil {
			return err
		}
		segments := make([]int64, 0, len(st.Segments))
		for _, id := range st.Segments {
			mapped, ok := imp.segmentIDs[id]
			if !ok {
				return validation.NewErrorf("featureStrategies", "segment %d of strategy %q is not in the document", id, st.ID)
			}
			segments = append(segments, mapped)
		}
		st.Segments = segments
		if st.ID == "" {
			st.ID = uuid.NewString()
		} else if _, err := w.GetFeatureStrategy(ctx, st.ID); err == nil {
			st.ID = uuid.NewString()
		}
		if st.CreatedAt.IsZero() {
			st.CreatedAt = w.now
		}
		if err := w.InsertFeatureStrategy(ctx, st); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return validation.NewErrorf("featureStrategies", "environment %q does not exist", st.Environment)
			}
			return err
		}
	}
	return nil
}

func (imp *stateImporter) importFeatureTags(doc StateDocument) error {
	for _, ft := range doc.FeatureTags {
		if !imp.imported[ft.FeatureName] {
			continue
		}
		err := imp.w.AddFeatureTag(imp.ctx, ft.FeatureName, model.Tag{Type: ft.TagType, Value: ft.TagValue})
		if errors.Is(err, store.ErrNotFound) {
			return validation.NewErrorf("featureTags", "tag type %q does not exist", ft.TagType)
		}
		if err != nil && !errors.Is(err, store.ErrConflict) {
			return err
		}
	}
	return nil
}
