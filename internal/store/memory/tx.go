package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/flagpole-io/flagpole/internal/model"
	"github.com/flagpole-io/flagpole/internal/store"
)

type tx struct {
	state    *state
	readOnly bool
	now      func() time.Time
}

func (t *tx) checkWrite() error {
	if t.readOnly {
		return store.ErrReadOnly
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

// Projects

func (t *tx) GetProject(_ context.Context, id string) (model.Project, error) {
	p, ok := t.state.projects[id]
	if !ok {
		return model.Project{}, store.ErrNotFound
	}
	return p, nil
}

func (t *tx) ListProjects(context.Context) ([]model.Project, error) {
	ret := make([]model.Project, 0, len(t.state.projects))
	for _, p := range t.state.projects {
		ret = append(ret, p)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].ID < ret[j].ID })
	return ret, nil
}

func (t *tx) InsertProject(_ context.Context, p model.Project) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	if _, ok := t.state.projects[p.ID]; ok {
		return store.ErrConflict
	}
	t.state.projects[p.ID] = p
	return nil
}

func (t *tx) UpdateProject(_ context.Context, p model.Project) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	old, ok := t.state.projects[p.ID]
	if !ok {
		return store.ErrNotFound
	}
	p.CreatedAt = old.CreatedAt
	t.state.projects[p.ID] = p
	return nil
}

func (t *tx) DeleteProject(_ context.Context, id string) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	if _, ok := t.state.projects[id]; !ok {
		return store.ErrNotFound
	}
	delete(t.state.projects, id)
	return nil
}

// Environments

func (t *tx) GetEnvironment(_ context.Context, name string) (model.Environment, error) {
	e, ok := t.state.environments[name]
	if !ok {
		return model.Environment{}, store.ErrNotFound
	}
	return e, nil
}

func (t *tx) ListEnvironments(context.Context) ([]model.Environment, error) {
	ret := make([]model.Environment, 0, len(t.state.environments))
	for _, e := range t.state.environments {
		ret = append(ret, e)
	}
	sort.Slice(ret, func(i, j int) bool {
		if ret[i].SortOrder != ret[j].SortOrder {
			return ret[i].SortOrder < ret[j].SortOrder
		}
		return ret[i].Name < ret[j].Name
	})
	return ret, nil
}

func (t *tx) InsertEnvironment(_ context.Context, e model.Environment) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	if _, ok := t.state.environments[e.Name]; ok {
		return store.ErrConflict
	}
	t.state.environments[e.Name] = e
	return nil
}

func (t *tx) UpdateEnvironment(_ context.Context, e model.Environment) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	old, ok := t.state.environments[e.Name]
	if !ok {
		return store.ErrNotFound
	}
	e.CreatedAt = old.CreatedAt
	t.state.environments[e.Name] = e
	return nil
}

func (t *tx) DeleteEnvironment(_ context.Context, name string) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	if _, ok := t.state.environments[name]; !ok {
		return store.ErrNotFound
	}
	delete(t.state.environments, name)
	for k := range t.state.featureEnvs {
		if k.environment == name {
			delete(t.state.featureEnvs, k)
		}
	}
	for id, s := range t.state.strategies {
		if s.Environment == name {
			delete(t.state.strategies, id)
		}
	}
	return nil
}

// Features

func (t *tx) GetFeature(_ context.Context, name string) (model.Feature, error) {
	f, ok := t.state.features[name]
	if !ok {
		return model.Feature{}, store.ErrNotFound
	}
	return copyFeature(f), nil
}

func (t *tx) ListFeatures(_ context.Context, q store.FeatureQuery) ([]model.Feature, error) {
	ret := make([]model.Feature, 0)
	for _, f := range t.state.features {
		if len(q.Projects) != 0 && !contains(q.Projects, f.Project) {
			continue
		}
		if q.Names != nil && !contains(q.Names, f.Name) {
			continue
		}
		if q.Archived != nil && *q.Archived != f.Archived {
			continue
		}
		ret = append(ret, copyFeature(f))
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].Name < ret[j].Name })
	return ret, nil
}

func (t *tx) InsertFeature(_ context.Context, f model.Feature) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	if _, ok := t.state.features[f.Name]; ok {
		return store.ErrConflict
	}
	t.state.features[f.Name] = copyFeature(f)
	return nil
}

func (t *tx) UpdateFeature(_ context.Context, f model.Feature) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	old, ok := t.state.features[f.Name]
	if !ok {
		return store.ErrNotFound
	}
	f.CreatedAt = old.CreatedAt
	t.state.features[f.Name] = copyFeature(f)
	return nil
}

func (t *tx) DeleteFeature(_ context.Context, name string) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	if _, ok := t.state.features[name]; !ok {
		return store.ErrNotFound
	}
	delete(t.state.features, name)
	for k := range t.state.featureEnvs {
		if k.feature == name {
			delete(t.state.featureEnvs, k)
		}
	}
	for id, s := range t.state.strategies {
		if s.FeatureName == name {
			delete(t.state.strategies, id)
		}
	}
	for k := range t.state.featureTags {
		if k.feature == name {
			delete(t.state.featureTags, k)
		}
	}
	return nil
}

func (t *tx) GetFeatureEnvironments(_ context.Context, featureName string) ([]model.FeatureEnvironment, error) {
	ret := make([]model.FeatureEnvironment, 0)
	for k, fe := range t.state.featureEnvs {
		if k.feature == featureName {
			ret = append(ret, fe)
		}
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].Environment < ret[j].Environment })
	return ret, nil
}

func (t *tx) ListFeatureEnvironments(
	_ context.Context,
	environment string,
	featureNames []string,
) ([]model.FeatureEnvironment, error) {
	ret := make([]model.FeatureEnvironment, 0)
	for k, fe := range t.state.featureEnvs {
		if k.environment != environment {
			continue
		}
		if featureNames != nil && !contains(featureNames, k.feature) {
			continue
		}
		ret = append(ret, fe)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].FeatureName < ret[j].FeatureName })
	return ret, nil
}

func (t *tx) SetFeatureEnvironment(_ context.Context, fe model.FeatureEnvironment) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	if _, ok := t.state.features[fe.FeatureName]; !ok {
		return store.ErrNotFound
	}
	if _, ok := t.state.environments[fe.Environment]; !ok {
		return store.ErrNotFound
	}
	t.state.featureEnvs[featureEnvKey{fe.FeatureName, fe.Environment}] = fe
	return nil
}

// Strategies

func (t *tx) GetFeatureStrategy(_ context.Context, id string) (model.FeatureStrategy, error) {
	s, ok := t.state.strategies[id]
	if !ok {
		return model.FeatureStrategy{}, store.ErrNotFound
	}
	return copyStrategy(s), nil
}

func (t *tx) ListFeatureStrategies(_ context.Context, q store.StrategyQuery) ([]model.FeatureStrategy, error) {
	ret := make([]model.FeatureStrategy, 0)
	for _, s := range t.state.strategies {
		if q.FeatureNames != nil && !contains(q.FeatureNames, s.FeatureName) {
			continue
		}
		if q.Environment != "" && s.Environment != q.Environment {
			continue
		}
		if q.SegmentID != nil && !containsInt64(s.Segments, *q.SegmentID) {
			continue
		}
		ret = append(ret, copyStrategy(s))
	}
	sortStrategies(ret)
	return ret, nil
}

func sortStrategies(list []model.FeatureStrategy) {
	sort.Slice(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.FeatureName != b.FeatureName {
			return a.FeatureName < b.FeatureName
		}
		if a.Environment != b.Environment {
			return a.Environment < b.Environment
		}
		if a.SortOrder != b.SortOrder {
			return a.SortOrder < b.SortOrder
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

func containsInt64(list []int64, n int64) bool {
	for _, x := range list {
		if x == n {
			return true
		}
	}
	return false
}

func (t *tx) InsertFeatureStrategy(_ context.Context, s model.FeatureStrategy) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	if _, ok := t.state.strategies[s.ID]; ok {
		return store.ErrConflict
	}
	if _, ok := t.state.features[s.FeatureName]; !ok {
		return store.ErrNotFound
	}
	if _, ok := t.state.environments[s.Environment]; !ok {
		return store.ErrNotFound
	}
	t.state.strategies[s.ID] = copyStrategy(s)
	return nil
}

func (t *tx) UpdateFeatureStrategy(_ context.Context, s model.FeatureStrategy) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	old, ok := t.state.strategies[s.ID]
	if !ok {
		return store.ErrNotFound
	}
	s.CreatedAt = old.CreatedAt
	t.state.strategies[s.ID] = copyStrategy(s)
	return nil
}

func (t *tx) DeleteFeatureStrategy(_ context.Context, id string) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	if _, ok := t.state.strategies[id]; !ok {
		return store.ErrNotFound
	}
	delete(t.state.strategies, id)
	return nil
}

func (t *tx) GetStrategyDefinition(_ context.Context, name string) (model.StrategyDefinition, error) {
	d, ok := t.state.definitions[name]
	if !ok {
		return model.StrategyDefinition{}, store.ErrNotFound
	}
	return copyDefinition(d), nil
}

func (t *tx) ListStrategyDefinitions(context.Context) ([]model.StrategyDefinition, error) {
	ret := make([]model.StrategyDefinition, 0, len(t.state.definitions))
	for _, d := range t.state.definitions {
		ret = append(ret, copyDefinition(d))
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].Name < ret[j].Name })
	return ret, nil
}

func (t *tx) InsertStrategyDefinition(_ context.Context, d model.StrategyDefinition) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	if _, ok := t.state.definitions[d.Name]; ok {
		return store.ErrConflict
	}
	t.state.definitions[d.Name] = copyDefinition(d)
	return nil
}

func (t *tx) UpdateStrategyDefinition(_ context.Context, d model.StrategyDefinition) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	if _, ok := t.state.definitions[d.Name]; !ok {
		return store.ErrNotFound
	}
	t.state.definitions[d.Name] = copyDefinition(d)
	return nil
}

func (t *tx) DeleteStrategyDefinition(_ context.Context, name string) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	if _, ok := t.state.definitions[name]; !ok {
		return store.ErrNotFound
	}
	delete(t.state.definitions, name)
	return nil
}

// Segments

func (t *tx) GetSegment(_ context.Context, id int64) (model.Segment, error) {
	s, ok := t.state.segments[id]
	if !ok {
		return model.Segment{}, store.ErrNotFound
	}
	return copySegment(s), nil
}

func (t *tx) ListSegments(context.Context) ([]model.Segment, error) {
	ret := make([]model.Segment, 0, len(t.state.segments))
	for _, s := range t.state.segments {
		ret = append(ret, copySegment(s))
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].ID < ret[j].ID })
	return ret, nil
}

func (t *tx) InsertSegment(_ context.Context, s model.Segment) (int64, error) {
	if err := t.checkWrite(); err != nil {
		return 0, err
	}
	for _, existing := range t.state.segments {
		if existing.Name == s.Name {
			return 0, store.ErrConflict
		}
	}
	t.state.lastSegmentID++
	s.ID = t.state.lastSegmentID
	t.state.segments[s.ID] = copySegment(s)
	return s.ID, nil
}

func (t *tx) UpdateSegment(_ context.Context, s model.Segment) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	old, ok := t.state.segments[s.ID]
	if !ok {
		return store.ErrNotFound
	}
	for _, existing := range t.state.segments {
		if existing.ID != s.ID && existing.Name == s.Name {
			return store.ErrConflict
		}
	}
	s.CreatedAt = old.CreatedAt
	t.state.segments[s.ID] = copySegment(s)
	return nil
}

func (t *tx) DeleteSegment(_ context.Context, id int64) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	if _, ok := t.state.segments[id]; !ok {
		return store.ErrNotFound
	}
	delete(t.state.segments, id)
	return nil
}

// Tags

func (t *tx) GetTagType(_ context.Context, name string) (model.TagType, error) {
	tt, ok := t.state.tagTypes[name]
	if !ok {
		return model.TagType{}, store.ErrNotFound
	}
	return tt, nil
}

func (t *tx) ListTagTypes(context.Context) ([]model.TagType, error) {
	ret := make([]model.TagType, 0, len(t.state.tagTypes))
	for _, tt := range t.state.tagTypes {
		ret = append(ret, tt)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].Name < ret[j].Name })
	return ret, nil
}

func (t *tx) InsertTagType(_ context.Context, tt model.TagType) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	if _, ok := t.state.tagTypes[tt.Name]; ok {
		return store.ErrConflict
	}
	t.state.tagTypes[tt.Name] = tt
	return nil
}

func (t *tx) UpdateTagType(_ context.Context, tt model.TagType) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	if _, ok := t.state.tagTypes[tt.Name]; !ok {
		return store.ErrNotFound
	}
	t.state.tagTypes[tt.Name] = tt
	return nil
}

func (t *tx) DeleteTagType(_ context.Context, name string) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	if _, ok := t.state.tagTypes[name]; !ok {
		return store.ErrNotFound
	}
	delete(t.state.tagTypes, name)
	for k := range t.state.featureTags {
		if k.tag.Type == name {
			delete(t.state.featureTags, k)
		}
	}
	return nil
}

func (t *tx) ListFeatureTags(_ context.Context, featureName string) ([]model.Tag, error) {
	ret := make([]model.Tag, 0)
	for k := range t.state.featureTags {
		if k.feature == featureName {
			ret = append(ret, k.tag)
		}
	}
	sort.Slice(ret, func(i, j int) bool {
		if ret[i].Type != ret[j].Type {
			return ret[i].Type < ret[j].Type
		}
		return ret[i].Value < ret[j].Value
	})
	return ret, nil
}

func (t *tx) AddFeatureTag(_ context.Context, featureName string, tag model.Tag) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	if _, ok := t.state.features[featureName]; !ok {
		return store.ErrNotFound
	}
	if _, ok := t.state.tagTypes[tag.Type]; !ok {
		return store.ErrNotFound
	}
	key := featureTagKey{featureName, tag}
	if _, ok := t.state.featureTags[key]; ok {
		return store.ErrConflict
	}
	t.state.featureTags[key] = struct{}{}
	return nil
}

func (t *tx) RemoveFeatureTag(_ context.Context, featureName string, tag model.Tag) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	key := featureTagKey{featureName, tag}
	if _, ok := t.state.featureTags[key]; !ok {
		return store.ErrNotFound
	}
	delete(t.state.featureTags, key)
	return nil
}

// Tokens

func (t *tx) GetToken(_ context.Context, secret string) (model.APIToken, error) {
	tok, ok := t.state.tokens[secret]
	if !ok {
		return model.APIToken{}, store.ErrNotFound
	}
	return copyToken(tok), nil
}

func (t *tx) ListTokens(context.Context) ([]model.APIToken, error) {
	ret := make([]model.APIToken, 0, len(t.state.tokens))
	for _, tok := range t.state.tokens {
		ret = append(ret, copyToken(tok))
	}
	sort.Slice(ret, func(i, j int) bool {
		if !ret[i].CreatedAt.Equal(ret[j].CreatedAt) {
			return ret[i].CreatedAt.Before(ret[j].CreatedAt)
		}
		return ret[i].Secret < ret[j].Secret
	})
	return ret, nil
}

func (t *tx) InsertToken(_ context.Context, tok model.APIToken) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	if _, ok := t.state.tokens[tok.Secret]; ok {
		return store.ErrConflict
	}
	t.state.tokens[tok.Secret] = copyToken(tok)
	return nil
}

func (t *tx) UpdateToken(_ context.Context, tok model.APIToken) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	if _, ok := t.state.tokens[tok.Secret]; !ok {
		return store.ErrNotFound
	}
	t.state.tokens[tok.Secret] = copyToken(tok)
	return nil
}

func (t *tx) DeleteToken(_ context.Context, secret string) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	if _, ok := t.state.tokens[secret]; !ok {
		return store.ErrNotFound
	}
	delete(t.state.tokens, secret)
	return nil
}

// Users

func (t *tx) GetUser(_ context.Context, id int64) (model.User, error) {
	u, ok := t.state.users[id]
	if !ok {
		return model.User{}, store.ErrNotFound
	}
	return u, nil
}

func (t *tx) GetUserByLogin(_ context.Context, login string) (model.User, error) {
	for _, u := range t.state.users {
		if (u.Email != "" && strings.EqualFold(u.Email, login)) ||
			(u.Username != "" && strings.EqualFold(u.Username, login)) {
			return u, nil
		}
	}
	return model.User{}, store.ErrNotFound
}

func (t *tx) ListUsers(context.Context) ([]model.User, error) {
	ret := make([]model.User, 0, len(t.state.users))
	for _, u := range t.state.users {
		ret = append(ret, u)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].ID < ret[j].ID })
	return ret, nil
}

func (t *tx) loginTaken(u model.User) bool {
	for _, existing := range t.state.users {
		if existing.ID == u.ID {
			continue
		}
		if u.Email != "" && strings.EqualFold(existing.Email, u.Email) {
			return true
		}
		if u.Username != "" && strings.EqualFold(existing.Username, u.Username) {
			return true
		}
	}
	return false
}

func (t *tx) InsertUser(_ context.Context, u model.User) (int64, error) {
	if err := t.checkWrite(); err != nil {
		return 0, err
	}
	u.ID = 0
	if t.loginTaken(u) {
		return 0, store.ErrConflict
	}
	t.state.lastUserID++
	u.ID = t.state.lastUserID
	t.state.users[u.ID] = u
	return u.ID, nil
}

func (t *tx) UpdateUser(_ context.Context, u model.User) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	old, ok := t.state.users[u.ID]
	if !ok {
		return store.ErrNotFound
	}
	if t.loginTaken(u) {
		return store.ErrConflict
	}
	u.CreatedAt = old.CreatedAt
	t.state.users[u.ID] = u
	return nil
}

func (t *tx) DeleteUser(_ context.Context, id int64) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	if _, ok := t.state.users[id]; !ok {
		return store.ErrNotFound
	}
	delete(t.state.users, id)
	return nil
}

// Addons

func (t *tx) GetAddon(_ context.Context, id int64) (model.Addon, error) {
	a, ok := t.state.addons[id]
	if !ok {
		return model.Addon{}, store.ErrNotFound
	}
	return copyAddon(a), nil
}

func (t *tx) ListAddons(context.Context) ([]model.Addon, error) {
	ret := make([]model.Addon, 0, len(t.state.addons))
	for _, a := range t.state.addons {
		ret = append(ret, copyAddon(a))
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].ID < ret[j].ID })
	return ret, nil
}

func (t *tx) InsertAddon(_ context.Context, a model.Addon) (int64, error) {
	if err := t.checkWrite(); err != nil {
		return 0, err
	}
	t.state.lastAddonID++
	a.ID = t.state.lastAddonID
	t.state.addons[a.ID] = copyAddon(a)
	return a.ID, nil
}

func (t *tx) UpdateAddon(_ context.Context, a model.Addon) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	old, ok := t.state.addons[a.ID]
	if !ok {
		return store.ErrNotFound
	}
	a.CreatedAt = old.CreatedAt
	t.state.addons[a.ID] = copyAddon(a)
	return nil
}

func (t *tx) DeleteAddon(_ context.Context, id int64) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	if _, ok := t.state.addons[id]; !ok {
		return store.ErrNotFound
	}
	delete(t.state.addons, id)
	return nil
}

// Events

func (t *tx) AppendEvent(_ context.Context, e model.Event) (model.Event, error) {
	if err := t.checkWrite(); err != nil {
		return model.Event{}, err
	}
	if e.Type.AdvancesRevision() {
		t.state.revision++
	}
	e.Revision = t.state.revision
	t.state.lastEventID++
	e.ID = t.state.lastEventID
	if e.CreatedAt.IsZero() {
		e.CreatedAt = t.now()
	}
	e = copyEvent(e)
	t.state.events = append(t.state.events, e)
	return copyEvent(e), nil
}

func (t *tx) CurrentRevision(context.Context) (int64, error) {
	return t.state.revision, nil
}

func (t *tx) HistoryFloor(context.Context) (int64, error) {
	return t.state.floor, nil
}

func (t *tx) ListEvents(_ context.Context, q store.EventQuery) ([]model.Event, error) {
	ret := make([]model.Event, 0)
	skipped := 0
	for i := len(t.state.events) - 1; i >= 0; i-- {
		e := t.state.events[i]
		if q.Type != "" && e.Type != q.Type {
			continue
		}
		if q.FeatureName != "" && e.FeatureName != q.FeatureName {
			continue
		}
		if q.Project != "" && e.Project != q.Project {
			continue
		}
		if skipped < q.Offset {
			skipped++
			continue
		}
		ret = append(ret, copyEvent(e))
		if q.Limit > 0 && len(ret) >= q.Limit {
			break
		}
	}
	return ret, nil
}

func (t *tx) EventsSinceRevision(_ context.Context, after int64) ([]model.Event, error) {
	ret := make([]model.Event, 0)
	for _, e := range t.state.events {
		if e.Revision > after && e.Type.AdvancesRevision() {
			ret = append(ret, copyEvent(e))
		}
	}
	return ret, nil
}

func (t *tx) PruneEvents(_ context.Context, before time.Time) (int64, error) {
	if err := t.checkWrite(); err != nil {
		return 0, err
	}
	kept := make([]model.Event, 0, len(t.state.events))
	var pruned int64
	for _, e := range t.state.events {
		if e.CreatedAt.Before(before) {
			pruned++
			if e.Type.AdvancesRevision() && e.Revision > t.state.floor {
				t.state.floor = e.Revision
			}
			continue
		}
		kept = append(kept, e)
	}
	t.state.events = kept
	return pruned, nil
}

// Client metrics

func (t *tx) AddClientMetrics(_ context.Context, entries []model.ClientMetricsEntry) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	for _, e := range entries {
		key := metricsKey{e.FeatureName, e.AppName, e.Environment, e.Timestamp.Unix()}
		if existing, ok := t.state.metrics[key]; ok {
			existing.Yes += e.Yes
			existing.No += e.No
			t.state.metrics[key] = existing
		} else {
			t.state.metrics[key] = e
		}
	}
	return nil
}

func (t *tx) ListClientMetrics(_ context.Context, featureName string, since time.Time) ([]model.ClientMetricsEntry, error) {
	ret := make([]model.ClientMetricsEntry, 0)
	for k, e := range t.state.metrics {
		if k.feature == featureName && !e.Timestamp.Before(since) {
			ret = append(ret, e)
		}
	}
	sort.Slice(ret, func(i, j int) bool {
		a, b := ret[i], ret[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if a.Environment != b.Environment {
			return a.Environment < b.Environment
		}
		return a.AppName < b.AppName
	})
	return ret, nil
}

func (t *tx) PruneClientMetrics(_ context.Context, before time.Time) (int64, error) {
	if err := t.checkWrite(); err != nil {
		return 0, err
	}
	var n int64
	for k, e := range t.state.metrics {
		if e.Timestamp.Before(before) {
			delete(t.state.metrics, k)
			n++
		}
	}
	return n, nil
}

func (t *tx) UpsertClientApplication(_ context.Context, app model.ClientApplication) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	key := appKey{app.AppName, app.InstanceID}
	if existing, ok := t.state.applications[key]; ok && app.Started.IsZero() {
		app.Started = existing.Started
	}
	app.Strategies = append([]string(nil), app.Strategies...)
	t.state.applications[key] = app
	return nil
}

func (t *tx) ListClientApplications(context.Context) ([]model.ClientApplication, error) {
	ret := make([]model.ClientApplication, 0, len(t.state.applications))
	for _, a := range t.state.applications {
		a.Strategies = append([]string(nil), a.Strategies...)
		ret = append(ret, a)
	}
	sort.Slice(ret, func(i, j int) bool {
		if ret[i].AppName != ret[j].AppName {
			return ret[i].AppName < ret[j].AppName
		}
		return ret[i].InstanceID < ret[j].InstanceID
	})
	return ret, nil
}
