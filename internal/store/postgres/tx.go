package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/flagpole-io/flagpole/internal/model"
	"github.com/flagpole-io/flagpole/internal/store"
)

type tx struct {
	tx       pgx.Tx
	readOnly bool
}

func (t *tx) checkWrite() error {
	if t.readOnly {
		return store.ErrReadOnly
	}
	return nil
}

func (t *tx) exec(ctx context.Context, sql string, args ...interface{}) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	_, err := t.tx.Exec(ctx, sql, args...)
	return mapError(err)
}

func (t *tx) execOne(ctx context.Context, sql string, args ...interface{}) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	return affectedOne(t.tx.Exec(ctx, sql, args...))
}

// Projects

const projectColumns = `id, name, description, created_at`

func scanProject(row pgx.Row) (model.Project, error) {
	var p model.Project
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt)
	p.CreatedAt = p.CreatedAt.UTC()
	return p, mapError(err)
}

func (t *tx) GetProject(ctx context.Context, id string) (model.Project, error) {
	return scanProject(t.tx.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, id))
}

func (t *tx) ListProjects(ctx context.Context) ([]model.Project, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY id`)
	if err != nil {
		return nil, mapError(err)
	}
	return collect(rows, scanProject)
}

func (t *tx) InsertProject(ctx context.Context, p model.Project) error {
	return t.exec(ctx, `INSERT INTO projects (`+projectColumns+`) VALUES ($1, $2, $3, $4)`,
		p.ID, p.Name, p.Description, p.CreatedAt)
}

func (t *tx) UpdateProject(ctx context.Context, p model.Project) error {
	return t.execOne(ctx, `UPDATE projects SET name = $2, description = $3 WHERE id = $1`,
		p.ID, p.Name, p.Description)
}

func (t *tx) DeleteProject(ctx context.Context, id string) error {
	return t.execOne(ctx, `DELETE FROM projects WHERE id = $1`, id)
}

// Environments

const environmentColumns = `name, type, enabled, protected, sort_order, created_at`

func scanEnvironment(row pgx.Row) (model.Environment, error) {
	var e model.Environment
	err := row.Scan(&e.Name, &e.Type, &e.Enabled, &e.Protected, &e.SortOrder, &e.CreatedAt)
	e.CreatedAt = e.CreatedAt.UTC()
	return e, mapError(err)
}

func (t *tx) GetEnvironment(ctx context.Context, name string) (model.Environment, error) {
	return scanEnvironment(t.tx.QueryRow(ctx,
		`SELECT `+environmentColumns+` FROM environments WHERE name = $1`, name))
}

func (t *tx) ListEnvironments(ctx context.Context) ([]model.Environment, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+environmentColumns+` FROM environments ORDER BY sort_order, name`)
	if err != nil {
		return nil, mapError(err)
	}
	return collect(rows, scanEnvironment)
}

func (t *tx) InsertEnvironment(ctx context.Context, e model.Environment) error {
	return t.exec(ctx, `INSERT INTO environments (`+environmentColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		e.Name, e.Type, e.Enabled, e.Protected, e.SortOrder, e.CreatedAt)
}

func (t *tx) UpdateEnvironment(ctx context.Context, e model.Environment) error {
	return t.execOne(ctx,
		`UPDATE environments SET type = $2, enabled = $3, protected = $4, sort_order = $5 WHERE name = $1`,
		e.Name, e.Type, e.Enabled, e.Protected, e.SortOrder)
}

func (t *tx) DeleteEnvironment(ctx context.Context, name string) error {
	return t.execOne(ctx, `DELETE FROM environments WHERE name = $1`, name)
}

// Features

const featureColumns = `name, project, description, type, stale, impression_data, archived, archived_at,
	created_at, created_by`

func scanFeature(row pgx.Row) (model.Feature, error) {
	var f model.Feature
	err := row.Scan(&f.Name, &f.Project, &f.Description, &f.Type, &f.Stale, &f.ImpressionData, &f.Archived,
		&f.ArchivedAt, &f.CreatedAt, &f.CreatedBy)
	f.ArchivedAt = utcPtr(f.ArchivedAt)
	f.CreatedAt = f.CreatedAt.UTC()
	return f, mapError(err)
}

func (t *tx) GetFeature(ctx context.Context, name string) (model.Feature, error) {
	return scanFeature(t.tx.QueryRow(ctx, `SELECT `+featureColumns+` FROM features WHERE name = $1`, name))
}

func (t *tx) ListFeatures(ctx context.Context, q store.FeatureQuery) ([]model.Feature, error) {
	var projects []string
	if len(q.Projects) != 0 {
		projects = q.Projects
	}
	rows, err := t.tx.Query(ctx, `SELECT `+featureColumns+` FROM features
		WHERE ($1::text[] IS NULL OR project = ANY($1))
		AND ($2::text[] IS NULL OR name = ANY($2))
		AND ($3::boolean IS NULL OR archived = $3)
		ORDER BY name`, projects, q.Names, q.Archived)
	if err != nil {
		return nil, mapError(err)
	}
	return collect(rows, scanFeature)
}

func (t *tx) InsertFeature(ctx context.Context, f model.Feature) error {
	return t.exec(ctx, `INSERT INTO features (`+featureColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		f.Name, f.Project, f.Description, f.Type, f.Stale, f.ImpressionData, f.Archived, f.ArchivedAt,
		f.CreatedAt, f.CreatedBy)
}

func (t *tx) UpdateFeature(ctx context.Context, f model.Feature) error {
	return t.execOne(ctx, `UPDATE features SET project = $2, description = $3, type = $4, stale = $5,
		impression_data = $6, archived = $7, archived_at = $8, created_by = $9 WHERE name = $1`,
		f.Name, f.Project, f.Description, f.Type, f.Stale, f.ImpressionData, f.Archived, f.ArchivedAt, f.CreatedBy)
}

func (t *tx) DeleteFeature(ctx context.Context, name string) error {
	return t.execOne(ctx, `DELETE FROM features WHERE name = $1`, name)
}

func scanFeatureEnvironment(row pgx.Row) (model.FeatureEnvironment, error) {
	var fe model.FeatureEnvironment
	err := row.Scan(&fe.FeatureName, &fe.Environment, &fe.Enabled)
	return fe, mapError(err)
}

func (t *tx) GetFeatureEnvironments(ctx context.Context, featureName string) ([]model.FeatureEnvironment, error) {
	rows, err := t.tx.Query(ctx, `SELECT feature_name, environment, enabled FROM feature_environments
		WHERE feature_name = $1 ORDER BY environment`, featureName)
	if err != nil {
		return nil, mapError(err)
	}
	return collect(rows, scanFeatureEnvironment)
}

func (t *tx) ListFeatureEnvironments(
	ctx context.Context,
	environment string,
	featureNames []string,
) ([]model.FeatureEnvironment, error) {
	rows, err := t.tx.Query(ctx, `SELECT feature_name, environment, enabled FROM feature_environments
		WHERE environment = $1 AND ($2::text[] IS NULL OR feature_name = ANY($2))
		ORDER BY feature_name`, environment, featureNames)
	if err != nil {
		return nil, mapError(err)
	}
	return collect(rows, scanFeatureEnvironment)
}

func (t *tx) SetFeatureEnvironment(ctx context.Context, fe model.FeatureEnvironment) error {
	return t.exec(ctx, `INSERT INTO feature_environments (feature_name, environment, enabled) VALUES ($1, $2, $3)
		ON CONFLICT (feature_name, environment) DO UPDATE SET enabled = EXCLUDED.enabled`,
		fe.FeatureName, fe.Environment, fe.Enabled)
}

// Strategies

const strategyColumns = `id, feature_name, project_id, environment, name, title, parameters, constraints,
	segments, disabled, sort_order, created_at`

func scanStrategy(row pgx.Row) (model.FeatureStrategy, error) {
	var (
		s                   model.FeatureStrategy
		params, constraints []byte
	)
	err := row.Scan(&s.ID, &s.FeatureName, &s.ProjectID, &s.Environment, &s.Name, &s.Title, &params, &constraints,
		&s.Segments, &s.Disabled, &s.SortOrder, &s.CreatedAt)
	if err != nil {
		return s, mapError(err)
	}
	s.CreatedAt = s.CreatedAt.UTC()
	if err := decodeJSON(params, &s.Parameters); err != nil {
		return s, err
	}
	return s, decodeJSON(constraints, &s.Constraints)
}

func (t *tx) GetFeatureStrategy(ctx context.Context, id string) (model.FeatureStrategy, error) {
	return scanStrategy(t.tx.QueryRow(ctx, `SELECT `+strategyColumns+` FROM feature_strategies WHERE id = $1`, id))
}

func (t *tx) ListFeatureStrategies(ctx context.Context, q store.StrategyQuery) ([]model.FeatureStrategy, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+strategyColumns+` FROM feature_strategies
		WHERE ($1::text[] IS NULL OR feature_name = ANY($1))
		AND ($2::text = '' OR environment = $2)
		AND ($3::bigint IS NULL OR $3 = ANY(segments))
		ORDER BY feature_name, environment, sort_order, created_at, id`,
		q.FeatureNames, q.Environment, q.SegmentID)
	if err != nil {
		return nil, mapError(err)
	}
	return collect(rows, scanStrategy)
}

func (t *tx) InsertFeatureStrategy(ctx context.Context, s model.FeatureStrategy) error {
	params, err := encodeJSON(nonNilMap(s.Parameters))
	if err != nil {
		return err
	}
	constraints, err := encodeJSON(nonNil(s.Constraints))
	if err != nil {
		return err
	}
	return t.exec(ctx, `INSERT INTO feature_strategies (`+strategyColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		s.ID, s.FeatureName, s.ProjectID, s.Environment, s.Name, s.Title, params, constraints,
		nonNil(s.Segments), s.Disabled, s.SortOrder, s.CreatedAt)
}

func (t *tx) UpdateFeatureStrategy(ctx context.Context, s model.FeatureStrategy) error {
	params, err := encodeJSON(nonNilMap(s.Parameters))
	if err != nil {
		return err
	}
	constraints, err := encodeJSON(nonNil(s.Constraints))
	if err != nil {
		return err
	}
	return t.execOne(ctx, `UPDATE feature_strategies SET name = $2, title = $3, parameters = $4,
		constraints = $5, segments = $6, disabled = $7, sort_order = $8 WHERE id = $1`,
		s.ID, s.Name, s.Title, params, constraints, nonNil(s.Segments), s.Disabled, s.SortOrder)
}

func (t *tx) DeleteFeatureStrategy(ctx context.Context, id string) error {
	return t.execOne(ctx, `DELETE FROM feature_strategies WHERE id = $1`, id)
}

const definitionColumns = `name, display_name, description, parameters, built_in, deprecated`

func scanDefinition(row pgx.Row) (model.StrategyDefinition, error) {
	var (
		d      model.StrategyDefinition
		params []byte
	)
	if err := row.Scan(&d.Name, &d.DisplayName, &d.Description, &params, &d.BuiltIn, &d.Deprecated); err != nil {
		return d, mapError(err)
	}
	return d, decodeJSON(params, &d.Parameters)
}

func (t *tx) GetStrategyDefinition(ctx context.Context, name string) (model.StrategyDefinition, error) {
	return scanDefinition(t.tx.QueryRow(ctx,
		`SELECT `+definitionColumns+` FROM strategy_definitions WHERE name = $1`, name))
}

func (t *tx) ListStrategyDefinitions(ctx context.Context) ([]model.StrategyDefinition, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+definitionColumns+` FROM strategy_definitions ORDER BY name`)
	if err != nil {
		return nil, mapError(err)
	}
	return collect(rows, scanDefinition)
}

func (t *tx) InsertStrategyDefinition(ctx context.Context, d model.StrategyDefinition) error {
	params, err := encodeJSON(nonNil(d.Parameters))
	if err != nil {
		return err
	}
	return t.exec(ctx, `INSERT INTO strategy_definitions (`+definitionColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		d.Name, d.DisplayName, d.Description, params, d.BuiltIn, d.Deprecated)
}

func (t *tx) UpdateStrategyDefinition(ctx context.Context, d model.StrategyDefinition) error {
	params, err := encodeJSON(nonNil(d.Parameters))
	if err != nil {
		return err
	}
	return t.execOne(ctx, `UPDATE strategy_definitions SET display_name = $2, description = $3, parameters = $4,
		built_in = $5, deprecated = $6 WHERE name = $1`,
		d.Name, d.DisplayName, d.Description, params, d.BuiltIn, d.Deprecated)
}

func (t *tx) DeleteStrategyDefinition(ctx context.Context, name string) error {
	return t.execOne(ctx, `DELETE FROM strategy_definitions WHERE name = $1`, name)
}

// Segments

const segmentColumns = `id, name, description, project, constraints, created_at, created_by`

func scanSegment(row pgx.Row) (model.Segment, error) {
	var (
		s           model.Segment
		constraints []byte
	)
	err := row.Scan(&s.ID, &s.Name, &s.Description, &s.Project, &constraints, &s.CreatedAt, &s.CreatedBy)
	if err != nil {
		return s, mapError(err)
	}
	s.CreatedAt = s.CreatedAt.UTC()
	return s, decodeJSON(constraints, &s.Constraints)
}

func (t *tx) GetSegment(ctx context.Context, id int64) (model.Segment, error) {
	return scanSegment(t.tx.QueryRow(ctx, `SELECT `+segmentColumns+` FROM segments WHERE id = $1`, id))
}

func (t *tx) ListSegments(ctx context.Context) ([]model.Segment, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+segmentColumns+` FROM segments ORDER BY id`)
	if err != nil {
		return nil, mapError(err)
	}
	return collect(rows, scanSegment)
}

func (t *tx) InsertSegment(ctx context.Context, s model.Segment) (int64, error) {
	if err := t.checkWrite(); err != nil {
		return 0, err
	}
	constraints, err := encodeJSON(nonNil(s.Constraints))
	if err != nil {
		return 0, err
	}
	var id int64
	err = t.tx.QueryRow(ctx, `INSERT INTO segments (name, description, project, constraints, created_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		s.Name, s.Description, s.Project, constraints, s.CreatedAt, s.CreatedBy).Scan(&id)
	return id, mapError(err)
}

func (t *tx) UpdateSegment(ctx context.Context, s model.Segment) error {
	constraints, err := encodeJSON(nonNil(s.Constraints))
	if err != nil {
		return err
	}
	return t.execOne(ctx, `UPDATE segments SET name = $2, description = $3, project = $4, constraints = $5
		WHERE id = $1`, s.ID, s.Name, s.Description, s.Project, constraints)
}

func (t *tx) DeleteSegment(ctx context.Context, id int64) error {
	return t.execOne(ctx, `DELETE FROM segments WHERE id = $1`, id)
}

// Tags

func scanTagType(row pgx.Row) (model.TagType, error) {
	var tt model.TagType
	err := row.Scan(&tt.Name, &tt.Description, &tt.Icon)
	return tt, mapError(err)
}

func (t *tx) GetTagType(ctx context.Context, name string) (model.TagType, error) {
	return scanTagType(t.tx.QueryRow(ctx, `SELECT name, description, icon FROM tag_types WHERE name = $1`, name))
}

func (t *tx) ListTagTypes(ctx context.Context) ([]model.TagType, error) {
	rows, err := t.tx.Query(ctx, `SELECT name, description, icon FROM tag_types ORDER BY name`)
	if err != nil {
		return nil, mapError(err)
	}
	return collect(rows, scanTagType)
}

func (t *tx) InsertTagType(ctx context.Context, tt model.TagType) error {
	return t.exec(ctx, `INSERT INTO tag_types (name, description, icon) VALUES ($1, $2, $3)`,
		tt.Name, tt.Description, tt.Icon)
}

func (t *tx) UpdateTagType(ctx context.Context, tt model.TagType) error {
	return t.execOne(ctx, `UPDATE tag_types SET description = $2, icon = $3 WHERE name = $1`,
		tt.Name, tt.Description, tt.Icon)
}

func (t *tx) DeleteTagType(ctx context.Context, name string) error {
	return t.execOne(ctx, `DELETE FROM tag_types WHERE name = $1`, name)
}

func (t *tx) ListFeatureTags(ctx context.Context, featureName string) ([]model.Tag, error) {
	rows, err := t.tx.Query(ctx, `SELECT tag_type, tag_value FROM feature_tags WHERE feature_name = $1
		ORDER BY tag_type, tag_value`, featureName)
	if err != nil {
		return nil, mapError(err)
	}
	return collect(rows, func(row pgx.Row) (model.Tag, error) {
		var tag model.Tag
		err := row.Scan(&tag.Type, &tag.Value)
		return tag, mapError(err)
	})
}

func (t *tx) AddFeatureTag(ctx context.Context, featureName string, tag model.Tag) error {
	return t.exec(ctx, `INSERT INTO feature_tags (feature_name, tag_type, tag_value) VALUES ($1, $2, $3)`,
		featureName, tag.Type, tag.Value)
}

func (t *tx) RemoveFeatureTag(ctx context.Context, featureName string, tag model.Tag) error {
	return t.execOne(ctx, `DELETE FROM feature_tags WHERE feature_name = $1 AND tag_type = $2 AND tag_value = $3`,
		featureName, tag.Type, tag.Value)
}

// Tokens

const tokenColumns = `secret, token_name, type, environment, projects, expires_at, created_at, seen_at`

func scanToken(row pgx.Row) (model.APIToken, error) {
	var tok model.APIToken
	err := row.Scan(&tok.Secret, &tok.TokenName, &tok.Type, &tok.Environment, &tok.Projects, &tok.ExpiresAt,
		&tok.CreatedAt, &tok.SeenAt)
	tok.ExpiresAt = utcPtr(tok.ExpiresAt)
	tok.SeenAt = utcPtr(tok.SeenAt)
	tok.CreatedAt = tok.CreatedAt.UTC()
	return tok, mapError(err)
}

func (t *tx) GetToken(ctx context.Context, secret string) (model.APIToken, error) {
	return scanToken(t.tx.QueryRow(ctx, `SELECT `+tokenColumns+` FROM api_tokens WHERE secret = $1`, secret))
}

func (t *tx) ListTokens(ctx context.Context) ([]model.APIToken, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+tokenColumns+` FROM api_tokens ORDER BY created_at, secret`)
	if err != nil {
		return nil, mapError(err)
	}
	return collect(rows, scanToken)
}

func (t *tx) InsertToken(ctx context.Context, tok model.APIToken) error {
	return t.exec(ctx, `INSERT INTO api_tokens (`+tokenColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		tok.Secret, tok.TokenName, tok.Type, tok.Environment, nonNil(tok.Projects), tok.ExpiresAt,
		tok.CreatedAt, tok.SeenAt)
}

func (t *tx) UpdateToken(ctx context.Context, tok model.APIToken) error {
	return t.execOne(ctx, `UPDATE api_tokens SET token_name = $2, type = $3, environment = $4, projects = $5,
		expires_at = $6, seen_at = $7 WHERE secret = $1`,
		tok.Secret, tok.TokenName, tok.Type, tok.Environment, nonNil(tok.Projects), tok.ExpiresAt, tok.SeenAt)
}

func (t *tx) DeleteToken(ctx context.Context, secret string) error {
	return t.execOne(ctx, `DELETE FROM api_tokens WHERE secret = $1`, secret)
}

// Users

const userColumns = `id, name, email, username, root_role, is_service, password_hash, login_attempts,
	seen_at, created_at`

func scanUser(row pgx.Row) (model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Username, &u.RootRole, &u.IsService, &u.PasswordHash,
		&u.LoginAttempts, &u.SeenAt, &u.CreatedAt)
	u.SeenAt = utcPtr(u.SeenAt)
	u.CreatedAt = u.CreatedAt.UTC()
	return u, mapError(err)
}

func (t *tx) GetUser(ctx context.Context, id int64) (model.User, error) {
	return scanUser(t.tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (t *tx) GetUserByLogin(ctx context.Context, login string) (model.User, error) {
	return scanUser(t.tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users
		WHERE (email <> '' AND lower(email) = lower($1)) OR (username <> '' AND lower(username) = lower($1))
		ORDER BY id LIMIT 1`, login))
}

func (t *tx) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, mapError(err)
	}
	return collect(rows, scanUser)
}

func (t *tx) InsertUser(ctx context.Context, u model.User) (int64, error) {
	if err := t.checkWrite(); err != nil {
		return 0, err
	}
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO users (name, email, username, root_role, is_service, password_hash,
		login_attempts, seen_at, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		u.Name, u.Email, u.Username, u.RootRole, u.IsService, u.PasswordHash, u.LoginAttempts, u.SeenAt,
		u.CreatedAt).Scan(&id)
	return id, mapError(err)
}

func (t *tx) UpdateUser(ctx context.Context, u model.User) error {
	return t.execOne(ctx, `UPDATE users SET name = $2, email = $3, username = $4, root_role = $5,
		is_service = $6, password_hash = $7, login_attempts = $8, seen_at = $9 WHERE id = $1`,
		u.ID, u.Name, u.Email, u.Username, u.RootRole, u.IsService, u.PasswordHash, u.LoginAttempts, u.SeenAt)
}

func (t *tx) DeleteUser(ctx context.Context, id int64) error {
	return t.execOne(ctx, `DELETE FROM users WHERE id = $1`, id)
}

// Addons

const addonColumns = `id, provider, description, enabled, parameters, events, projects, environments, created_at`

func scanAddon(row pgx.Row) (model.Addon, error) {
	var (
		a      model.Addon
		params []byte
		events []string
	)
	err := row.Scan(&a.ID, &a.Provider, &a.Description, &a.Enabled, &params, &events, &a.Projects,
		&a.Environments, &a.CreatedAt)
	if err != nil {
		return a, mapError(err)
	}
	a.CreatedAt = a.CreatedAt.UTC()
	for _, e := range events {
		a.Events = append(a.Events, model.EventType(e))
	}
	return a, decodeJSON(params, &a.Parameters)
}

func addonEventNames(a model.Addon) []string {
	ret := make([]string, 0, len(a.Events))
	for _, e := range a.Events {
		ret = append(ret, string(e))
	}
	return ret
}

func (t *tx) GetAddon(ctx context.Context, id int64) (model.Addon, error) {
	return scanAddon(t.tx.QueryRow(ctx, `SELECT `+addonColumns+` FROM addons WHERE id = $1`, id))
}

func (t *tx) ListAddons(ctx context.Context) ([]model.Addon, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+addonColumns+` FROM addons ORDER BY id`)
	if err != nil {
		return nil, mapError(err)
	}
	return collect(rows, scanAddon)
}

func (t *tx) InsertAddon(ctx context.Context, a model.Addon) (int64, error) {
	if err := t.checkWrite(); err != nil {
		return 0, err
	}
	params, err := encodeJSON(nonNilMap(a.Parameters))
	if err != nil {
		return 0, err
	}
	var id int64
	err = t.tx.QueryRow(ctx, `INSERT INTO addons (provider, description, enabled, parameters, events, projects,
		environments, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		a.Provider, a.Description, a.Enabled, params, addonEventNames(a), nonNil(a.Projects),
		nonNil(a.Environments), a.CreatedAt).Scan(&id)
	return id, mapError(err)
}

func (t *tx) UpdateAddon(ctx context.Context, a model.Addon) error {
	params, err := encodeJSON(nonNilMap(a.Parameters))
	if err != nil {
		return err
	}
	return t.execOne(ctx, `UPDATE addons SET provider = $2, description = $3, enabled = $4, parameters = $5,
		events = $6, projects = $7, environments = $8 WHERE id = $1`,
		a.ID, a.Provider, a.Description, a.Enabled, params, addonEventNames(a), nonNil(a.Projects),
		nonNil(a.Environments))
}

func (t *tx) DeleteAddon(ctx context.Context, id int64) error {
	return t.execOne(ctx, `DELETE FROM addons WHERE id = $1`, id)
}

// Events

const eventColumns = `id, type, revision, created_by, created_at, feature_name, project, environment,
	segment_id, tags, data, pre_data`

func scanEvent(row pgx.Row) (model.Event, error) {
	var (
		e                   model.Event
		tags, data, preData []byte
	)
	err := row.Scan(&e.ID, &e.Type, &e.Revision, &e.CreatedBy, &e.CreatedAt, &e.FeatureName, &e.Project,
		&e.Environment, &e.SegmentID, &tags, &data, &preData)
	if err != nil {
		return e, mapError(err)
	}
	e.CreatedAt = e.CreatedAt.UTC()
	if len(data) != 0 {
		e.Data = data
	}
	if len(preData) != 0 {
		e.PreData = preData
	}
	return e, decodeJSON(tags, &e.Tags)
}

// AppendEvent locks the revision_state row for the rest of the transaction when it advances the
// revision, so concurrent writers commit revisions in order.
func (t *tx) AppendEvent(ctx context.Context, e model.Event) (model.Event, error) {
	if err := t.checkWrite(); err != nil {
		return model.Event{}, err
	}
	advances := e.Type.AdvancesRevision()
	var err error
	if advances {
		err = t.tx.QueryRow(ctx,
			`UPDATE revision_state SET revision = revision + 1 WHERE id = 1 RETURNING revision`).Scan(&e.Revision)
	} else {
		err = t.tx.QueryRow(ctx, `SELECT revision FROM revision_state WHERE id = 1`).Scan(&e.Revision)
	}
	if err != nil {
		return model.Event{}, mapError(err)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	var tags []byte
	if len(e.Tags) != 0 {
		if tags, err = encodeJSON(e.Tags); err != nil {
			return model.Event{}, err
		}
	}
	err = t.tx.QueryRow(ctx, `INSERT INTO events (type, revision, advances, created_by, created_at, feature_name,
		project, environment, segment_id, tags, data, pre_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12) RETURNING id`,
		e.Type, e.Revision, advances, e.CreatedBy, e.CreatedAt, e.FeatureName, e.Project, e.Environment,
		e.SegmentID, tags, nullJSON(e.Data), nullJSON(e.PreData)).Scan(&e.ID)
	if err != nil {
		return model.Event{}, mapError(err)
	}
	return e, nil
}

func nullJSON(data []byte) []byte {
	if len(data) == 0 {
		return nil
	}
	return data
}

func (t *tx) CurrentRevision(ctx context.Context) (int64, error) {
	var rev int64
	err := t.tx.QueryRow(ctx, `SELECT revision FROM revision_state WHERE id = 1`).Scan(&rev)
	return rev, mapError(err)
}

func (t *tx) HistoryFloor(ctx context.Context) (int64, error) {
	var floor int64
	err := t.tx.QueryRow(ctx, `SELECT floor FROM revision_state WHERE id = 1`).Scan(&floor)
	return floor, mapError(err)
}

func (t *tx) ListEvents(ctx context.Context, q store.EventQuery) ([]model.Event, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+eventColumns+` FROM events
		WHERE ($1::text = '' OR type = $1) AND ($2::text = '' OR feature_name = $2) AND ($3::text = '' OR project = $3)
		ORDER BY id DESC LIMIT NULLIF($4, 0) OFFSET $5`,
		string(q.Type), q.FeatureName, q.Project, q.Limit, q.Offset)
	if err != nil {
		return nil, mapError(err)
	}
	return collect(rows, scanEvent)
}

func (t *tx) EventsSinceRevision(ctx context.Context, after int64) ([]model.Event, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+eventColumns+` FROM events
		WHERE advances AND revision > $1 ORDER BY revision, id`, after)
	if err != nil {
		return nil, mapError(err)
	}
	return collect(rows, scanEvent)
}

func (t *tx) PruneEvents(ctx context.Context, before time.Time) (int64, error) {
	if err := t.checkWrite(); err != nil {
		return 0, err
	}
	var count, maxRevision int64
	err := t.tx.QueryRow(ctx, `WITH pruned AS (DELETE FROM events WHERE created_at < $1 RETURNING revision, advances)
		SELECT count(*), COALESCE(MAX(revision) FILTER (WHERE advances), 0) FROM pruned`, before).
		Scan(&count, &maxRevision)
	if err != nil {
		return 0, mapError(err)
	}
	if maxRevision > 0 {
		if _, err := t.tx.Exec(ctx, `UPDATE revision_state SET floor = GREATEST(floor, $1) WHERE id = 1`,
			maxRevision); err != nil {
			return 0, mapError(err)
		}
	}
	return count, nil
}

// Client metrics

func (t *tx) AddClientMetrics(ctx context.Context, entries []model.ClientMetricsEntry) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(`INSERT INTO client_metrics (feature_name, app_name, environment, ts, yes, no)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (feature_name, app_name, environment, ts)
			DO UPDATE SET yes = client_metrics.yes + EXCLUDED.yes, no = client_metrics.no + EXCLUDED.no`,
			e.FeatureName, e.AppName, e.Environment, e.Timestamp, e.Yes, e.No)
	}
	return mapError(t.tx.SendBatch(ctx, batch).Close())
}

func (t *tx) ListClientMetrics(
	ctx context.Context,
	featureName string,
	since time.Time,
) ([]model.ClientMetricsEntry, error) {
	rows, err := t.tx.Query(ctx, `SELECT feature_name, app_name, environment, ts, yes, no FROM client_metrics
		WHERE feature_name = $1 AND ts >= $2 ORDER BY ts, environment, app_name`, featureName, since)
	if err != nil {
		return nil, mapError(err)
	}
	return collect(rows, func(row pgx.Row) (model.ClientMetricsEntry, error) {
		var e model.ClientMetricsEntry
		err := row.Scan(&e.FeatureName, &e.AppName, &e.Environment, &e.Timestamp, &e.Yes, &e.No)
		e.Timestamp = e.Timestamp.UTC()
		return e, mapError(err)
	})
}

func (t *tx) PruneClientMetrics(ctx context.Context, before time.Time) (int64, error) {
	if err := t.checkWrite(); err != nil {
		return 0, err
	}
	tag, err := t.tx.Exec(ctx, `DELETE FROM client_metrics WHERE ts < $1`, before)
	if err != nil {
		return 0, mapError(err)
	}
	return tag.RowsAffected(), nil
}

func (t *tx) UpsertClientApplication(ctx context.Context, app model.ClientApplication) error {
	var started *time.Time
	if !app.Started.IsZero() {
		started = &app.Started
	}
	return t.exec(ctx, `INSERT INTO client_applications (app_name, instance_id, sdk_version, environment,
		strategies, interval_ms, started, seen_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (app_name, instance_id) DO UPDATE SET sdk_version = EXCLUDED.sdk_version,
		environment = EXCLUDED.environment, strategies = EXCLUDED.strategies, interval_ms = EXCLUDED.interval_ms,
		started = COALESCE(EXCLUDED.started, client_applications.started), seen_at = EXCLUDED.seen_at`,
		app.AppName, app.InstanceID, app.SDKVersion, app.Environment, nonNil(app.Strategies), app.Interval,
		started, app.SeenAt)
}

func (t *tx) ListClientApplications(ctx context.Context) ([]model.ClientApplication, error) {
	rows, err := t.tx.Query(ctx, `SELECT app_name, instance_id, sdk_version, environment, strategies, interval_ms,
		started, seen_at FROM client_applications ORDER BY app_name, instance_id`)
	if err != nil {
		return nil, mapError(err)
	}
	return collect(rows, func(row pgx.Row) (model.ClientApplication, error) {
		var (
			a       model.ClientApplication
			started *time.Time
		)
		err := row.Scan(&a.AppName, &a.InstanceID, &a.SDKVersion, &a.Environment, &a.Strategies, &a.Interval,
			&started, &a.SeenAt)
		if started != nil {
			a.Started = started.UTC()
		}
		a.SeenAt = a.SeenAt.UTC()
		return a, mapError(err)
	})
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (T, error)) ([]T, error) {
	defer rows.Close()
	ret := make([]T, 0)
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		ret = append(ret, item)
	}
	return ret, mapError(rows.Err())
}
