package filedata

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/launchdarkly/go-sdk-common/v3/ldlog"

	"github.com/flagpole-io/flagpole/internal/services"

	"github.com/fsnotify/fsnotify"
)

const (
	defaultRetryInterval       = time.Second
	maxRetriesIfFileNotChanged = 2
)

// StateFileParams contains the parameters for NewStateFileManager.
type StateFileParams struct {
	FilePath string
	Importer StateImporter
	Options  services.ImportOptions
	// Watch makes the manager import the file again whenever it changes.
	Watch bool
	// RetryInterval is how long to wait before reading the file again after a failure. Zero means one second.
	RetryInterval time.Duration
}

// StateFileManager imports a state file and optionally keeps watching it.
//
// A changed file is imported only if its content differs from the last successful import. A read
// failure may be caused by a file that is still being copied, so the manager retries a few times.
type StateFileManager struct {
	params       StateFileParams
	lastChecksum string
	watcher      *fsnotify.Watcher
	loggers      ldlog.Loggers
	closeCh      chan struct{}
	doneCh       chan struct{}
	closeOnce    sync.Once
	lock         sync.Mutex
}

// NewStateFileManager imports the file, returning an error if it cannot be read or imported. If
// params.Watch is set it then monitors the file until Close is called.
func NewStateFileManager(params StateFileParams, loggers ldlog.Loggers) (*StateFileManager, error) {
	fileInfo, err := os.Stat(params.FilePath)
	if err != nil {
		return nil, errCannotOpenStateFile(params.FilePath, err)
	}
	if params.RetryInterval == 0 {
		params.RetryInterval = defaultRetryInterval
	}
	m := &StateFileManager{
		params:  params,
		loggers: loggers,
		closeCh: make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	m.loggers.SetPrefix("[StateFile]")

	sf, err := readStateFile(params.FilePath)
	if err != nil {
		return nil, err
	}
	if err := m.importState(sf); err != nil {
		return nil, err
	}

	if !params.Watch {
		close(m.doneCh)
		return m, nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errCreateWatcherFailed(params.FilePath, err) // COVERAGE: can't cause this condition in unit tests
	}
	if err := watcher.Add(params.FilePath); err != nil {
		_ = watcher.Close()
		return nil, errCreateWatcherFailed(params.FilePath, err) // COVERAGE: can't cause this condition in unit tests
	}
	m.watcher = watcher
	m.loggers.Infof(logMsgWatching, params.FilePath)
	go m.run(fileInfo)

	return m, nil
}

// LastChecksum returns the checksum of the content of the last successful import.
func (m *StateFileManager) LastChecksum() string {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.lastChecksum
}

// Close stops watching the file.
func (m *StateFileManager) Close() {
	m.closeOnce.Do(func() {
		close(m.closeCh)
	})
	<-m.doneCh
}

func (m *StateFileManager) importState(sf stateFile) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if sf.checksum == m.lastChecksum {
		m.loggers.Infof(logMsgUnchanged, m.params.FilePath)
		return nil
	}
	if len(sf.doc.Features) == 0 {
		m.loggers.Warn(logMsgNoFeatures)
	}
	result, err := m.params.Importer.Import(context.Background(), sf.doc, m.params.Options, ImportUser)
	if err != nil {
		return errImportFailed(m.params.FilePath, err)
	}
	m.lastChecksum = sf.checksum
	m.loggers.Infof(logMsgImported, m.params.FilePath,
		result.FeaturesCreated, result.FeaturesUpdated, result.FeaturesDeleted)
	return nil
}

func (m *StateFileManager) run(originalFileInfo os.FileInfo) {
	defer close(m.doneCh)
	lastFileInfo := originalFileInfo
	retryCh := make(chan struct{}, 1)
	needRetry := false
	retriedCountSinceLastChange := 0
	var lastError error

	scheduleRetry := func() {
		m.loggers.Debug("Will schedule retry")
		needRetry = true
		time.AfterFunc(m.params.RetryInterval, func() {
			// Non-blocking because we never need to queue more than one retry signal
			select {
			case retryCh <- struct{}{}:
			default:
			}
		})
	}

	maybeReload := func() {
		curFileInfo, err := os.Stat(m.params.FilePath)
		if err == nil {
			if fileMayHaveChanged(curFileInfo, lastFileInfo) {
				retriedCountSinceLastChange = 0
				lastError = nil
				m.loggers.Debugf("File info changed: old (size=%d, mtime=%s), new(size=%d, mtime=%s)",
					lastFileInfo.Size(), lastFileInfo.ModTime(), curFileInfo.Size(), curFileInfo.ModTime())
				lastFileInfo = curFileInfo
				needRetry = false
				sf, err := readStateFile(m.params.FilePath)
				if err != nil {
					// This might be a partially copied file, so we always retry at least once.
					m.loggers.Warnf(logMsgReloadError, err.Error())
					lastError = err
					scheduleRetry()
					return
				}
				if err := m.importState(sf); err != nil {
					m.loggers.Errorf(logMsgImportError, err)
				}
				return
			}
			m.loggers.Debug("File has not changed")
			if lastError == nil {
				// spurious notification
				return
			}
		} else if lastError == nil {
			m.loggers.Warn(logMsgReloadFileNotFound)
			lastError = err
		}
		// Either the file was not found, or this is a delayed retry and the file has not changed since the
		// last failed attempt. A slow copy may still be in progress, so retry up to a limit.
		if retriedCountSinceLastChange < maxRetriesIfFileNotChanged {
			retriedCountSinceLastChange++
			m.loggers.Warn(logMsgReloadUnchangedRetry)
			scheduleRetry()
		} else {
			m.loggers.Errorf(logMsgReloadUnchangedNoMoreRetries, lastError)
		}
	}

	watchErrors := m.watcher.Errors
	for {
		select {
		case <-m.closeCh:
			_ = m.watcher.Close()
			return

		case event, ok := <-m.watcher.Events:
			if !ok {
				return // COVERAGE: can't cause this condition in unit tests
			}
			m.loggers.Debugf("Got file watcher event: %+v", event)
			m.consumeExtraEvents()
			if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				// the watch is lost when the file is replaced
				_ = m.watcher.Add(m.params.FilePath)
			}
			maybeReload()

		case err, ok := <-watchErrors:
			if !ok {
				watchErrors = nil
				continue
			}
			m.loggers.Warnf("File watcher error: %s", err)

		case <-retryCh:
			if needRetry {
				m.loggers.Debug("Got retry signal")
				if lastError != nil {
					_ = m.watcher.Add(m.params.FilePath)
				}
				maybeReload()
			} else {
				m.loggers.Debug("Ignoring obsolete retry signal") // COVERAGE: can't cause this condition in unit tests
			}
		}
	}
}

func (m *StateFileManager) consumeExtraEvents() {
	for {
		select {
		case <-m.watcher.Events: // COVERAGE: can't simulate this condition in unit tests
		default:
			return
		}
	}
}

func fileMayHaveChanged(oldInfo, newInfo os.FileInfo) bool {
	return oldInfo.ModTime() != newInfo.ModTime() || oldInfo.Size() != newInfo.Size()
}
