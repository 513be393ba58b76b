package permission

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/flagpole-io/flagpole/internal/model"
)

var (
	adminUser     = Identity{Kind: KindUser, Role: model.RoleAdmin, Name: "admin"}
	editorUser    = Identity{Kind: KindUser, Role: model.RoleEditor, Name: "editor"}
	viewerUser    = Identity{Kind: KindUser, Role: model.RoleViewer, Name: "viewer"}
	adminToken    = Identity{Kind: KindAdminToken, Name: "ops"}
	clientToken   = Identity{Kind: KindClientToken, Projects: []string{"default"}, Environment: "development"}
	frontendToken = Identity{Kind: KindFrontendToken, Projects: []string{"default"}, Environment: "development"}
)

func TestEveryPermissionIsClassified(t *testing.T) {
	all := All()
	assert.Len(t, all, int(numPermissions))
	for _, p := range all {
		assert.NotPanics(t, func() { classify(p) }, p.String())
		assert.NotEmpty(t, permissionNames[p], "permission %d has no name", int(p))
	}
}

func TestUnknownPermissionPanics(t *testing.T) {
	assert.Panics(t, func() { Check(adminUser, numPermissions) })
	assert.Equal(t, "Permission(99)", Permission(99).String())
}

func TestCheck(t *testing.T) {
	for _, p := range All() {
		t.Run(p.String(), func(t *testing.T) {
			switch classify(p) {
			case classAnyAdminCaller:
				assert.True(t, Check(viewerUser, p))
				assert.True(t, Check(adminToken, p))
				assert.False(t, Check(clientToken, p))
				assert.False(t, Check(frontendToken, p))
			case classEditor:
				assert.True(t, Check(adminUser, p))
				assert.True(t, Check(editorUser, p))
				assert.True(t, Check(adminToken, p))
				assert.False(t, Check(viewerUser, p))
				assert.False(t, Check(clientToken, p))
			case classAdmin:
				assert.True(t, Check(adminUser, p))
				assert.True(t, Check(adminToken, p))
				assert.False(t, Check(editorUser, p))
				assert.False(t, Check(viewerUser, p))
				assert.False(t, Check(frontendToken, p))
			case classClient:
				assert.True(t, Check(clientToken, p))
				assert.False(t, Check(frontendToken, p))
				assert.False(t, Check(adminUser, p))
			case classFrontend:
				assert.True(t, Check(frontendToken, p))
				assert.False(t, Check(clientToken, p))
				assert.False(t, Check(editorUser, p))
			}
		})
	}
}

func TestCanAccessProject(t *testing.T) {
	assert.True(t, CanAccessProject(viewerUser, "anything"))
	assert.True(t, CanAccessProject(clientToken, "default"))
	assert.False(t, CanAccessProject(clientToken, "other"))
	assert.True(t, CanAccessProject(Identity{Kind: KindClientToken, Projects: []string{"*"}}, "other"))
}
