// Package permission defines the closed set of permissions checked by the admin and client APIs, and
// the rules that decide which identities hold them.
package permission

import (
	"fmt"

	"github.com/flagpole-io/flagpole/internal/model"
)

// Permission is a capability required by an API operation.
type Permission int

// The permissions. None is required by read-only admin operations.
const (
	None Permission = iota
	Admin

	CreateProject
	UpdateProject
	DeleteProject

	CreateFeature
	UpdateFeature
	DeleteFeature
	UpdateFeatureEnvironment
	CreateFeatureStrategy
	UpdateFeatureStrategy
	DeleteFeatureStrategy

	CreateStrategy
	UpdateStrategy
	DeleteStrategy

	CreateSegment
	UpdateSegment
	DeleteSegment

	CreateTagType
	UpdateTagType
	DeleteTagType

	CreateEnvironment
	UpdateEnvironment
	DeleteEnvironment

	ReadAPIToken
	CreateAPIToken
	UpdateAPIToken
	DeleteAPIToken

	CreateAddon
	UpdateAddon
	DeleteAddon

	ReadClientAPI
	ReadFrontendAPI

	numPermissions
)

var permissionNames = [numPermissions]string{ //nolint:gochecknoglobals
	None:                     "NONE",
	Admin:                    "ADMIN",
	CreateProject:            "CREATE_PROJECT",
	UpdateProject:            "UPDATE_PROJECT",
	DeleteProject:            "DELETE_PROJECT",
	CreateFeature:            "CREATE_FEATURE",
	UpdateFeature:            "UPDATE_FEATURE",
	DeleteFeature:            "DELETE_FEATURE",
	UpdateFeatureEnvironment: "UPDATE_FEATURE_ENVIRONMENT",
	CreateFeatureStrategy:    "CREATE_FEATURE_STRATEGY",
	UpdateFeatureStrategy:    "UPDATE_FEATURE_STRATEGY",
	DeleteFeatureStrategy:    "DELETE_FEATURE_STRATEGY",
	CreateStrategy:           "CREATE_STRATEGY",
	UpdateStrategy:           "UPDATE_STRATEGY",
	DeleteStrategy:           "DELETE_STRATEGY",
	CreateSegment:            "CREATE_SEGMENT",
	UpdateSegment:            "UPDATE_SEGMENT",
	DeleteSegment:            "DELETE_SEGMENT",
	CreateTagType:            "CREATE_TAG_TYPE",
	UpdateTagType:            "UPDATE_TAG_TYPE",
	DeleteTagType:            "DELETE_TAG_TYPE",
	CreateEnvironment:        "CREATE_ENVIRONMENT",
	UpdateEnvironment:        "UPDATE_ENVIRONMENT",
	DeleteEnvironment:        "DELETE_ENVIRONMENT",
	ReadAPIToken:             "READ_API_TOKEN",
	CreateAPIToken:           "CREATE_API_TOKEN",
	UpdateAPIToken:           "UPDATE_API_TOKEN",
	DeleteAPIToken:           "DELETE_API_TOKEN",
	CreateAddon:              "CREATE_ADDON",
	UpdateAddon:              "UPDATE_ADDON",
	DeleteAddon:              "DELETE_ADDON",
	ReadClientAPI:            "READ_CLIENT_API",
	ReadFrontendAPI:          "READ_FRONTEND_API",
}

// String returns the permission's name, such as "CREATE_FEATURE".
func (p Permission) String() string {
	if p >= 0 && p < numPermissions {
		return permissionNames[p]
	}
	return fmt.Sprintf("Permission(%d)", int(p))
}

// All returns every Permission value.
func All() []Permission {
	ret := make([]Permission, 0, numPermissions)
	for p := None; p < numPermissions; p++ {
		ret = append(ret, p)
	}
	return ret
}

// Kind is the kind of caller an Identity represents.
type Kind int

const (
	// KindUser is a human user authenticated with a password, or anyone when auth is disabled.
	KindUser Kind = iota
	// KindAdminToken is a caller using an admin API token (including service accounts).
	KindAdminToken
	// KindClientToken is a server-side SDK using a client token.
	KindClientToken
	// KindFrontendToken is a browser or mobile SDK using a frontend token.
	KindFrontendToken
)

// Identity is the authenticated caller of a request.
type Identity struct {
	Kind        Kind
	UserID      int64
	Name        string
	Role        model.RootRole
	Projects    []string
	Environment string
}

// Username is the name recorded as the author of events.
func (id Identity) Username() string {
	if id.Name == "" {
		return "unknown"
	}
	return id.Name
}

type class int

const (
	classAnyAdminCaller class = iota
	classEditor
	classAdmin
	classClient
	classFrontend
)

func classify(p Permission) class {
	switch p {
	case None:
		return classAnyAdminCaller
	case Admin,
		CreateEnvironment, UpdateEnvironment, DeleteEnvironment,
		ReadAPIToken, CreateAPIToken, UpdateAPIToken, DeleteAPIToken,
		CreateAddon, UpdateAddon, DeleteAddon:
		return classAdmin
	case CreateProject, UpdateProject, DeleteProject,
		CreateFeature, UpdateFeature, DeleteFeature, UpdateFeatureEnvironment,
		CreateFeatureStrategy, UpdateFeatureStrategy, DeleteFeatureStrategy,
		CreateStrategy, UpdateStrategy, DeleteStrategy,
		CreateSegment, UpdateSegment, DeleteSegment,
		CreateTagType, UpdateTagType, DeleteTagType:
		return classEditor
	case ReadClientAPI:
		return classClient
	case ReadFrontendAPI:
		return classFrontend
	default:
		panic(fmt.Sprintf("unclassified permission %s", p))
	}
}

// Check reports whether the identity holds the permission.
func Check(id Identity, p Permission) bool {
	switch classify(p) {
	case classAnyAdminCaller:
		return id.Kind == KindUser || id.Kind == KindAdminToken
	case classEditor:
		return id.Kind == KindAdminToken ||
			(id.Kind == KindUser && (id.Role == model.RoleAdmin || id.Role == model.RoleEditor))
	case classAdmin:
		return id.Kind == KindAdminToken || (id.Kind == KindUser && id.Role == model.RoleAdmin)
	case classClient:
		return id.Kind == KindClientToken || id.Kind == KindAdminToken
	case classFrontend:
		return id.Kind == KindFrontendToken || id.Kind == KindAdminToken
	}
	return false
}

// CanAccessProject reports whether the identity's token scope includes the project. Users are not
// project-scoped.
func CanAccessProject(id Identity, project string) bool {
	if id.Kind == KindUser || len(id.Projects) == 0 {
		return true
	}
	for _, p := range id.Projects {
		if p == model.AllProjects || p == project {
			return true
		}
	}
	return false
}
