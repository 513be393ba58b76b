package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/kardianos/minwinsvc"
	"golang.org/x/sync/errgroup"

	"github.com/launchdarkly/go-sdk-common/v3/ldlog"

	"github.com/flagpole-io/flagpole/config"
	"github.com/flagpole-io/flagpole/internal/application"
	"github.com/flagpole-io/flagpole/internal/logging"
	"github.com/flagpole-io/flagpole/internal/store"
	"github.com/flagpole-io/flagpole/internal/store/memory"
	"github.com/flagpole-io/flagpole/internal/store/postgres"
	"github.com/flagpole-io/flagpole/internal/version"
	"github.com/flagpole-io/flagpole/server"
)

const shutdownTimeout = 10 * time.Second

func main() {
	loggers := logging.MakeDefaultLoggers()

	opts, err := application.ReadOptions(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	loggers.Infof("Starting Flagpole version %s with %s",
		application.DescribeVersion(version.Version), opts.DescribeConfigSource())

	c := config.DefaultConfig()
	if opts.ConfigFile != "" {
		if err := config.LoadConfigFile(&c, opts.ConfigFile, loggers); err != nil {
			loggers.Errorf("Error loading configuration: %s", err)
			os.Exit(1)
		}
	}
	if opts.UseEnvironment {
		if err := config.LoadConfigFromEnvironment(&c, loggers); err != nil {
			loggers.Errorf("Error loading configuration: %s", err)
			os.Exit(1)
		}
	}
	if c.Main.LogLevel.IsDefined() {
		loggers.SetMinLevel(c.Main.LogLevel.GetOrElse(ldlog.Info))
	}

	if err := run(c, loggers); err != nil {
		loggers.Errorf("%s", err)
		os.Exit(1)
	}
}

func run(c config.Config, loggers ldlog.Loggers) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, c, loggers)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			loggers.Warnf("Error closing data store: %s", err)
		}
	}()

	s, err := server.New(c, st, loggers)
	if err != nil {
		return fmt.Errorf("unable to create server: %w", err)
	}
	defer func() {
		if err := s.Close(); err != nil {
			loggers.Warnf("Error during shutdown: %s", err)
		}
	}()

	httpServer, errCh := application.StartHTTPServer(application.ServerParamsFromConfig(c.Main), s, loggers)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		select {
		case err := <-errCh:
			return fmt.Errorf("error starting HTTP listener: %w", err)
		case <-gctx.Done():
			return nil
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		loggers.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	return g.Wait()
}

func openStore(ctx context.Context, c config.Config, loggers ldlog.Loggers) (store.Store, error) {
	if !c.Database.URL.IsDefined() {
		loggers.Warn("No database is configured; all data will be lost when the process exits")
		return memory.New(), nil
	}
	pg, err := postgres.Open(ctx, c.Database, loggers)
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}
	return pg, nil
}
