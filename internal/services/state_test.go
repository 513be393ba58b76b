package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flagpole-io/flagpole/internal/model"
	"github.com/flagpole-io/flagpole/internal/store/memory"
)

func populateForExport(t *testing.T, p *servicesTestParams) model.Segment {
	_, err := p.services.Projects.Create(p.ctx, model.Project{ID: "web", Name: "Web"}, testUser)
	require.NoError(t, err)
	seg, err := p.services.Segments.Create(p.ctx, model.Segment{
		Name:        "beta",
		Constraints: []model.Constraint{{ContextName: "userId", Operator: model.OpIn, Values: []string{"1"}}},
	}, testUser)
	require.NoError(t, err)
	_, err = p.services.Strategies.Create(p.ctx, model.StrategyDefinition{Name: "region"}, testUser)
	require.NoError(t, err)
	_, err = p.services.Features.CreateFeature(p.ctx, "web", model.Feature{Name: "checkout"}, testUser)
	require.NoError(t, err)
	require.NoError(t, p.services.Features.SetEnvironmentEnabled(p.ctx, "web", "checkout", "production", true, testUser))
	_, err = p.services.Features.AddStrategy(p.ctx, "web", "checkout", "production",
		StrategyInput{Name: model.StrategyDefault, Segments: []int64{seg.ID}}, testUser)
	require.NoError(t, err)
	_, err = p.services.Features.AddTag(p.ctx, "checkout", model.Tag{Type: "simple", Value: "beta"}, testUser)
	require.NoError(t, err)
	return seg
}

func TestExport(t *testing.T) {
	p := servicesTest(t)
	populateForExport(t, p)

	doc, err := p.services.State.Export(p.ctx)
	require.NoError(t, err)
	assert.Equal(t, StateDocumentVersion, doc.Version)
	assert.Len(t, doc.Projects, 2)
	require.Len(t, doc.Features, 1)
	assert.Equal(t, "web", doc.Features[0].Project)
	assert.Len(t, doc.FeatureEnvironments, 2)
	require.Len(t, doc.FeatureStrategies, 1)
	assert.Len(t, doc.Segments, 1)
	require.Len(t, doc.Strategies, 1)
	assert.Equal(t, "region", doc.Strategies[0].Name)
	assert.Equal(t, []FeatureTag{{FeatureName: "checkout", TagType: "simple", TagValue: "beta"}}, doc.FeatureTags)
}

func TestImportIntoEmptyInstallation(t *testing.T) {
	source := servicesTest(t)
	populateForExport(t, source)
	doc, err := source.services.State.Export(source.ctx)
	require.NoError(t, err)

	p := servicesTest(t, memory.WithRevision(14))
	result, err := p.services.State.Import(p.ctx, doc, ImportOptions{}, testUser)
	require.NoError(t, err)
	assert.Equal(t, ImportResult{FeaturesCreated: 1}, result)
	assert.Equal(t, int64(15), p.revision())
	assert.Contains(t, p.publishedTypes(), model.EventFeaturesImported)

	f, err := p.services.Features.GetFeature(p.ctx, "web", "checkout")
	require.NoError(t, err)
	assert.Equal(t, []model.Tag{{Type: "simple", Value: "beta"}}, f.Tags)
	for _, e := range f.Environments {
		assert.Equal(t, e.Name == "production", e.Enabled, e.Name)
		if e.Name == "production" {
			require.Len(t, e.Strategies, 1)
			segs, err := p.services.Segments.List(p.ctx)
			require.NoError(t, err)
			require.Len(t, segs, 1)
			assert.Equal(t, []int64{segs[0].ID}, e.Strategies[0].Segments)
		}
	}
}

func TestImportOverwritesOrKeepsExisting(t *testing.T) {
	p := servicesTest(t)
	populateForExport(t, p)
	doc, err := p.services.State.Export(p.ctx)
	require.NoError(t, err)
	doc.Features[0].Description = "from import"

	result, err := p.services.State.Import(p.ctx, doc, ImportOptions{KeepExisting: true}, testUser)
	require.NoError(t, err)
	assert.Equal(t, ImportResult{}, result)
	f, err := p.services.Features.GetFeature(p.ctx, "web", "checkout")
	require.NoError(t, err)
	assert.Empty(t, f.Description)

	result, err = p.services.State.Import(p.ctx, doc, ImportOptions{}, testUser)
	require.NoError(t, err)
	assert.Equal(t, ImportResult{FeaturesUpdated: 1}, result)
	f, err = p.services.Features.GetFeature(p.ctx, "web", "checkout")
	require.NoError(t, err)
	assert.Equal(t, "from import", f.Description)
	strategies, err := p.services.Features.ListStrategies(p.ctx, "web", "checkout", "production")
	require.NoError(t, err)
	assert.Len(t, strategies, 1)
}

func TestImportWithDrop(t *testing.T) {
	p := servicesTest(t)
	populateForExport(t, p)
	p.createFeature("not-in-document")
	doc := StateDocument{
		Features: []model.Feature{{Name: "fresh"}},
	}

	result, err := p.services.State.Import(p.ctx, doc, ImportOptions{DropBeforeImport: true}, testUser)
	require.NoError(t, err)
	assert.Equal(t, ImportResult{FeaturesCreated: 1, FeaturesDeleted: 2}, result)

	features, err := p.services.Features.ListFeatures(p.ctx, model.DefaultProjectID)
	require.NoError(t, err)
	require.Len(t, features, 1)
	assert.Equal(t, "fresh", features[0].Name)
	segs, err := p.services.Segments.List(p.ctx)
	require.NoError(t, err)
	assert.Empty(t, segs)
	_, err = p.services.Strategies.Get(p.ctx, "region")
	requireNotFound(t, err)
}

func TestImportIsAtomic(t *testing.T) {
	p := servicesTest(t, memory.WithRevision(14))
	doc := StateDocument{
		Features: []model.Feature{{Name: "good"}, {Name: "bad", Project: "missing"}},
	}
	_, err := p.services.State.Import(p.ctx, doc, ImportOptions{}, testUser)
	requireInvalid(t, err)

	_, err = p.services.Features.GetFeature(p.ctx, "", "good")
	requireNotFound(t, err)
	assert.Equal(t, int64(14), p.revision())
}
