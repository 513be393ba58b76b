package server

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/launchdarkly/go-sdk-common/v3/ldlog"

	"github.com/flagpole-io/flagpole/config"
	"github.com/flagpole-io/flagpole/internal/logging"
	"github.com/flagpole-io/flagpole/internal/metrics"
	"github.com/flagpole-io/flagpole/internal/middleware"
	"github.com/flagpole-io/flagpole/internal/permission"
	"github.com/flagpole-io/flagpole/internal/services"
)

// makeRouter creates and configures a Router containing all of the routes of the API.
//
// The route strings used here, such as "/projects/{projectId}", appear in metrics data under the
// "route" tag, so path variables should be named consistently.
func (s *Server) makeRouter() *mux.Router {
	router := mux.NewRouter()
	router.Use(logging.GlobalContextLoggersMiddleware(s.loggers))
	if s.loggers.GetMinLevel() == ldlog.Debug {
		router.Use(logging.RequestLoggerMiddleware(s.loggers))
	}
	router.Use(middleware.MetricsContext(s.metricsManager.GetOpenCensusContext()), s.limitRequestBody)
	router.Handle("/health", healthHandler(s)).Methods("GET")

	authenticate := middleware.Authenticate(middleware.AuthConfig{
		Tokens:   s.services.APITokens,
		Users:    s.services.Users,
		Disabled: s.config.Auth.Type == config.AuthTypeNone,
		Limiter:  s.limiter,
		IsInvalidCredentials: func(err error) bool {
			return errors.Is(err, services.ErrInvalidCredentials)
		},
		Loggers: s.loggers,
	})

	// Server-side SDKs
	clientRouter := router.PathPrefix("/api/client").Subrouter()
	clientRouter.Use(
		authenticate,
		middleware.RequestCount(metrics.ClientRequests),
		middleware.RequirePermission(permission.ReadClientAPI),
		middleware.RequireJSON,
	)
	clientRouter.HandleFunc("/features", s.getClientFeatures).Methods("GET")
	clientRouter.HandleFunc("/features/{featureName}", s.getClientFeature).Methods("GET")
	clientRouter.HandleFunc("/delta", s.getDelta).Methods("GET")
	clientRouter.Handle("/streaming", middleware.CountStreamConns(s.streamHandler)).Methods("GET")
	clientRouter.HandleFunc("/register", s.registerClient).Methods("POST")
	clientRouter.HandleFunc("/metrics", s.recordClientMetrics).Methods("POST")

	// Browser and mobile SDKs
	frontendRouter := router.PathPrefix("/api/frontend").Subrouter()
	frontendRouter.Use(
		authenticate,
		middleware.RequestCount(metrics.FrontendRequests),
		middleware.RequirePermission(permission.ReadFrontendAPI),
		middleware.RequireJSON,
	)
	frontendRouter.HandleFunc("", s.getFrontendToggles).Methods("GET", "POST")
	frontendRouter.HandleFunc("/client/register", s.registerClient).Methods("POST")
	frontendRouter.HandleFunc("/client/metrics", s.recordClientMetrics).Methods("POST")

	adminRouter := router.PathPrefix("/api/admin").Subrouter()
	adminRouter.Use(
		authenticate,
		middleware.RequestCount(metrics.AdminRequests),
		middleware.RequireJSON,
	)
	admin := adminRoutes{adminRouter}

	admin.handle("/projects", permission.None, s.listProjects, "GET")
	admin.handle("/projects", permission.CreateProject, s.createProject, "POST")
	admin.handle("/projects/{projectId}", permission.None, s.getProject, "GET")
	admin.handle("/projects/{projectId}", permission.UpdateProject, s.updateProject, "PUT")
	admin.handle("/projects/{projectId}", permission.DeleteProject, s.deleteProject, "DELETE")

	admin.handle("/projects/{projectId}/features", permission.None, s.listFeatures, "GET")
	admin.handle("/projects/{projectId}/features", permission.CreateFeature, s.createFeature, "POST")
	admin.handle("/projects/{projectId}/features/{featureName}", permission.None, s.getFeature, "GET")
	admin.handle("/projects/{projectId}/features/{featureName}", permission.UpdateFeature, s.updateFeature, "PUT")
	admin.handle("/projects/{projectId}/features/{featureName}", permission.DeleteFeature, s.archiveFeature, "DELETE")
	admin.handle("/projects/{projectId}/features/{featureName}/environments/{environment}/on",
		permission.UpdateFeatureEnvironment, s.setFeatureEnvironmentEnabled(true), "POST")
	admin.handle("/projects/{projectId}/features/{featureName}/environments/{environment}/off",
		permission.UpdateFeatureEnvironment, s.setFeatureEnvironmentEnabled(false), "POST")
	admin.handle("/projects/{projectId}/features/{featureName}/environments/{environment}/strategies",
		permission.None, s.listFeatureStrategies, "GET")
	admin.handle("/projects/{projectId}/features/{featureName}/environments/{environment}/strategies",
		permission.CreateFeatureStrategy, s.addFeatureStrategy, "POST")
	admin.handle("/projects/{projectId}/features/{featureName}/environments/{environment}/strategies/{strategyId}",
		permission.None, s.getFeatureStrategy, "GET")
	admin.handle("/projects/{projectId}/features/{featureName}/environments/{environment}/strategies/{strategyId}",
		permission.UpdateFeatureStrategy, s.updateFeatureStrategy, "PUT")
	admin.handle("/projects/{projectId}/features/{featureName}/environments/{environment}/strategies/{strategyId}",
		permission.DeleteFeatureStrategy, s.deleteFeatureStrategy, "DELETE")

	admin.handle("/archive/features", permission.None, s.listArchivedFeatures, "GET")
	admin.handle("/archive/features/{projectId}", permission.None, s.listArchivedFeatures, "GET")
	admin.handle("/archive/revive/{featureName}", permission.UpdateFeature, s.reviveFeature, "POST")
	admin.handle("/archive/{featureName}", permission.DeleteFeature, s.deleteFeature, "DELETE")

	admin.handle("/features/{featureName}/tags", permission.None, s.listFeatureTags, "GET")
	admin.handle("/features/{featureName}/tags", permission.UpdateFeature, s.addFeatureTag, "POST")
	admin.handle("/features/{featureName}/tags/{type}/{value}", permission.UpdateFeature, s.removeFeatureTag, "DELETE")
	admin.handle("/tag-types", permission.None, s.listTagTypes, "GET")
	admin.handle("/tag-types", permission.CreateTagType, s.createTagType, "POST")
	admin.handle("/tag-types/{name}", permission.None, s.getTagType, "GET")
	admin.handle("/tag-types/{name}", permission.UpdateTagType, s.updateTagType, "PUT")
	admin.handle("/tag-types/{name}", permission.DeleteTagType, s.deleteTagType, "DELETE")

	admin.handle("/environments", permission.None, s.listEnvironments, "GET")
	admin.handle("/environments", permission.CreateEnvironment, s.createEnvironment, "POST")
	admin.handle("/environments/{name}", permission.None, s.getEnvironment, "GET")
	admin.handle("/environments/{name}", permission.UpdateEnvironment, s.updateEnvironment, "PUT")
	admin.handle("/environments/{name}", permission.DeleteEnvironment, s.deleteEnvironment, "DELETE")
	admin.handle("/environments/{name}/on", permission.UpdateEnvironment, s.setEnvironmentEnabled(true), "POST")
	admin.handle("/environments/{name}/off", permission.UpdateEnvironment, s.setEnvironmentEnabled(false), "POST")

	admin.handle("/strategies", permission.None, s.listStrategies, "GET")
	admin.handle("/strategies", permission.CreateStrategy, s.createStrategy, "POST")
	admin.handle("/strategies/{name}", permission.None, s.getStrategy, "GET")
	admin.handle("/strategies/{name}", permission.UpdateStrategy, s.updateStrategy, "PUT")
	admin.handle("/strategies/{name}", permission.DeleteStrategy, s.deleteStrategy, "DELETE")
	admin.handle("/strategies/{name}/deprecate", permission.UpdateStrategy, s.deprecateStrategy, "POST")
	admin.handle("/strategies/{name}/reactivate", permission.UpdateStrategy, s.reactivateStrategy, "POST")

	admin.handle("/segments", permission.None, s.listSegments, "GET")
	admin.handle("/segments", permission.CreateSegment, s.createSegment, "POST")
	admin.handle("/segments/{id:[0-9]+}", permission.None, s.getSegment, "GET")
	admin.handle("/segments/{id:[0-9]+}", permission.UpdateSegment, s.updateSegment, "PUT")
	admin.handle("/segments/{id:[0-9]+}", permission.DeleteSegment, s.deleteSegment, "DELETE")

	admin.handle("/api-tokens", permission.ReadAPIToken, s.listAPITokens, "GET")
	admin.handle("/api-tokens", permission.CreateAPIToken, s.createAPIToken, "POST")
	admin.handle("/api-tokens/{token}", permission.UpdateAPIToken, s.updateAPITokenExpiry, "PUT")
	admin.handle("/api-tokens/{token}", permission.DeleteAPIToken, s.deleteAPIToken, "DELETE")

	admin.handle("/addons", permission.Admin, s.listAddons, "GET")
	admin.handle("/addons", permission.CreateAddon, s.createAddon, "POST")
	admin.handle("/addons/{id:[0-9]+}", permission.Admin, s.getAddon, "GET")
	admin.handle("/addons/{id:[0-9]+}", permission.UpdateAddon, s.updateAddon, "PUT")
	admin.handle("/addons/{id:[0-9]+}", permission.DeleteAddon, s.deleteAddon, "DELETE")

	admin.handle("/user", permission.None, s.getCurrentUser, "GET")
	admin.handle("/user/change-password", permission.None, s.changeOwnPassword, "POST")
	admin.handle("/user-admin", permission.Admin, s.listUsers, "GET")
	admin.handle("/user-admin", permission.Admin, s.createUser, "POST")
	admin.handle("/user-admin/accounts", permission.Admin, s.listAccounts, "GET")
	admin.handle("/user-admin/{id:[0-9]+}", permission.Admin, s.getUser, "GET")
	admin.handle("/user-admin/{id:[0-9]+}", permission.Admin, s.updateUser, "PUT")
	admin.handle("/user-admin/{id:[0-9]+}", permission.Admin, s.deleteUser, "DELETE")
	admin.handle("/user-admin/{id:[0-9]+}/change-password", permission.Admin, s.changeUserPassword, "POST")
	admin.handle("/service-account", permission.Admin, s.listServiceAccounts, "GET")
	admin.handle("/service-account", permission.Admin, s.createServiceAccount, "POST")
	admin.handle("/service-account/{id:[0-9]+}", permission.Admin, s.getServiceAccount, "GET")
	admin.handle("/service-account/{id:[0-9]+}", permission.Admin, s.updateServiceAccount, "PUT")
	admin.handle("/service-account/{id:[0-9]+}", permission.Admin, s.deleteServiceAccount, "DELETE")

	admin.handle("/events", permission.None, s.listEvents, "GET")
	admin.handle("/playground", permission.None, s.evaluatePlayground, "POST")
	admin.handle("/client-metrics/features/{featureName}", permission.None, s.getFeatureMetrics, "GET")
	admin.handle("/metrics/applications", permission.None, s.listApplications, "GET")
	admin.handle("/state/export", permission.Admin, s.exportState, "GET")
	admin.handle("/state/import", permission.Admin, s.importState, "POST")

	return router
}

type adminRoutes struct {
	router *mux.Router
}

func (a adminRoutes) handle(path string, p permission.Permission, h http.HandlerFunc, methods ...string) {
	a.router.Handle(path, middleware.RequirePermission(p)(h)).Methods(methods...)
}
