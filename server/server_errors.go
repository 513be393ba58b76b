package server

import (
	"errors"
	"fmt"
)

var (
	errAlreadyClosed = errors.New("this Server was already shut down")
	errNoStore       = errors.New("a data store is required")
)

func errInitializeFailed(err error) error {
	return fmt.Errorf("unable to initialize data store: %w", err)
}

func errNewMetricsManagerFailed(err error) error {
	return fmt.Errorf("unable to create metrics manager: %w", err)
}

func errHTTPConfigFailed(err error) error {
	return fmt.Errorf("invalid proxy configuration: %w", err)
}

func errRedisFailed(err error) error {
	return fmt.Errorf("unable to connect to Redis for revision notifications: %w", err)
}

func errStateFileFailed(err error) error {
	return fmt.Errorf("unable to import state file: %w", err)
}
