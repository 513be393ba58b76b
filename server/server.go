package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/launchdarkly/go-sdk-common/v3/ldlog"

	"github.com/flagpole-io/flagpole/config"
	"github.com/flagpole-io/flagpole/internal/delta"
	"github.com/flagpole-io/flagpole/internal/filedata"
	"github.com/flagpole-io/flagpole/internal/flags"
	"github.com/flagpole-io/flagpole/internal/httpconfig"
	"github.com/flagpole-io/flagpole/internal/metrics"
	"github.com/flagpole-io/flagpole/internal/middleware"
	"github.com/flagpole-io/flagpole/internal/services"
	"github.com/flagpole-io/flagpole/internal/store"
	"github.com/flagpole-io/flagpole/internal/streams"
	"github.com/flagpole-io/flagpole/internal/util"
	"github.com/flagpole-io/flagpole/internal/version"
)

// Server is the Flagpole HTTP API together with the background tasks it depends on: revision
// notifications for streaming connections, addon webhook deliveries, event log pruning, and the
// optional state file import.
//
// This type exports no methods other than ServeHTTP, Hub and Close.
type Server struct {
	http.Handler
	store          store.Store
	services       *services.Services
	deltas         *delta.Service
	hub            *streams.RevisionHub
	streamHandler  *streams.Handler
	metricsManager *metrics.Manager
	webhooks       *services.WebhookDeliverer
	redisBridge    *streams.RedisBridge
	stateFile      *filedata.StateFileManager
	limiter        *middleware.LoginLimiter
	stopPruner     context.CancelFunc
	version        string
	closed         bool
	lock           sync.Mutex
	config         config.Config
	loggers        ldlog.Loggers
}

// Using a struct type for this instead of adding parameters to newServerInternal keeps test code
// stable when more things become configurable.
type serverInternalOptions struct {
	loggers      ldlog.Loggers
	now          func() time.Time
	passwordCost int
	httpClient   *http.Client
}

// New creates a Server for a configuration and a data store. The caller remains responsible for
// closing the store after closing the Server.
//
// If any metrics exporters are enabled in c.MetricsConfig, it also registers those in OpenCensus.
// Initialization creates the default project, environments and strategy definitions and the bootstrap
// credentials from c.Auth if they do not exist yet.
func New(c config.Config, st store.Store, loggers ldlog.Loggers) (*Server, error) {
	return newServerInternal(c, st, serverInternalOptions{loggers: loggers})
}

func newServerInternal(c config.Config, st store.Store, options serverInternalOptions) (*Server, error) {
	var thingsToCleanUp util.CleanupTasks // keeps track of partially constructed things in case we exit early
	defer thingsToCleanUp.Run()

	loggers := options.loggers
	if st == nil {
		return nil, errNoStore
	}
	if err := config.ValidateConfig(&c, loggers); err != nil { // in case a not-yet-validated Config was passed to New
		return nil, err
	}
	if c.Main.LogLevel.IsDefined() {
		loggers.SetMinLevel(c.Main.LogLevel.GetOrElse(ldlog.Info))
	}

	metricsManager, err := metrics.NewManager(c.MetricsConfig, loggers)
	if err != nil {
		return nil, errNewMetricsManagerFailed(err)
	}
	thingsToCleanUp.AddFunc(metricsManager.Close)

	svcs := services.New(services.Config{
		Store:              st,
		Loggers:            loggers,
		Now:                options.now,
		DisableAdminTokens: c.Auth.DisableAdminTokens,
		PasswordCost:       options.passwordCost,
	})
	ctx := context.Background()
	if err := svcs.Initialize(ctx, services.InitOptions{
		AdminEmail:     c.Auth.InitAdminEmail,
		AdminPassword:  c.Auth.InitAdminPassword,
		AdminTokens:    c.Auth.InitAdminTokens.Values(),
		ClientTokens:   c.Auth.InitClientTokens.Values(),
		FrontendTokens: c.Auth.InitFrontendTokens.Values(),
	}); err != nil {
		return nil, errInitializeFailed(err)
	}

	s := &Server{
		store:          st,
		services:       svcs,
		deltas:         delta.NewService(st, loggers),
		hub:            streams.NewRevisionHub(),
		metricsManager: metricsManager,
		limiter:        middleware.NewLoginLimiter(c.Auth.LoginRateLimit.GetOrElse(config.DefaultLoginRateLimit)),
		version:        version.Version,
		config:         c,
		loggers:        loggers,
	}
	thingsToCleanUp.AddFunc(s.hub.Close)
	svcs.Bus.Subscribe(s.hub.HandleEvents)

	if c.Redis.URL.IsDefined() {
		bridge, err := streams.NewRedisBridge(ctx, streams.RedisBridgeConfig{
			URL:        c.Redis.URL.String(),
			Password:   c.Redis.Password,
			TLS:        c.Redis.TLS,
			Channel:    c.Redis.Channel,
			InstanceID: metricsManager.InstanceID(),
		}, s.hub, loggers)
		if err != nil {
			return nil, errRedisFailed(err)
		}
		thingsToCleanUp.AddCloser(bridge)
		s.redisBridge = bridge
		svcs.Bus.Subscribe(bridge.HandleEvents)
	}

	httpClient := options.httpClient
	if httpClient == nil {
		httpConfig, err := httpconfig.NewHTTPConfig(c.Proxy, "", loggers)
		if err != nil {
			return nil, errHTTPConfigFailed(err)
		}
		httpClient = httpConfig.Client()
	}
	s.webhooks = services.NewWebhookDeliverer(st, httpClient, loggers)
	thingsToCleanUp.AddCloser(s.webhooks)
	svcs.Bus.Subscribe(s.webhooks.HandleEvents)

	if c.Import.File != "" {
		stateFile, err := filedata.NewStateFileManager(filedata.StateFileParams{
			FilePath: c.Import.File,
			Importer: svcs.State,
			Options:  services.ImportOptions{DropBeforeImport: c.Import.DropBeforeImport},
			Watch:    c.Import.Watch,
		}, loggers)
		if err != nil {
			return nil, errStateFileFailed(err)
		}
		thingsToCleanUp.AddFunc(stateFile.Close)
		s.stateFile = stateFile
	}

	s.streamHandler = streams.NewHandler(
		s.deltas,
		s.hub,
		c.Experimental,
		s.scopeForRequest,
		streams.HandlerConfig{
			Interval:          c.Streaming.Interval.GetOrElse(config.DefaultStreamingInterval),
			MaxConnectionTime: c.Streaming.MaxConnectionTime.GetOrElse(0),
		},
		loggers,
	)

	pruneCtx, stopPruner := context.WithCancel(ctx)
	s.stopPruner = stopPruner
	go svcs.Events.RunPruner(pruneCtx,
		c.Events.PruneInterval.GetOrElse(config.DefaultEventPruneInterval),
		c.Events.Retention.GetOrElse(config.DefaultEventRetention))

	s.Handler = s.makeRouter()

	thingsToCleanUp.Clear() // we've succeeded so we do not want to throw away these things
	loggers.Infof("Flagpole %s is ready", s.version)
	return s, nil
}

// Hub returns the RevisionHub that wakes up streaming connections. Other components can announce
// revisions committed elsewhere to it.
func (s *Server) Hub() *streams.RevisionHub {
	return s.hub
}

// Close shuts down the background tasks and ends all open streams. It does not close the data store.
func (s *Server) Close() error {
	s.lock.Lock()
	if s.closed {
		s.lock.Unlock()
		return errAlreadyClosed
	}
	s.closed = true
	s.lock.Unlock()

	s.stopPruner()
	if s.stateFile != nil {
		s.stateFile.Close()
	}
	s.hub.Close()
	var errs []error
	if s.redisBridge != nil {
		errs = append(errs, s.redisBridge.Close())
	}
	errs = append(errs, s.webhooks.Close())
	s.metricsManager.Close()
	return errors.Join(errs...)
}

func (s *Server) scopeForRequest(req *http.Request) flags.Scope {
	id, _ := middleware.GetIdentity(req.Context())
	return flags.ScopeFor(id)
}
