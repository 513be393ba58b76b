package filedata

import "fmt"

// All log messages, error singletons, and error constructors for this package should be collected here,
// except for debug logging.

const (
	logMsgImported                     = "Imported %s: %d features created, %d updated, %d deleted"
	logMsgUnchanged                    = "State file %s has the same content as the last import; skipping"
	logMsgNoFeatures                   = "The state file does not contain any features; check your configuration"
	logMsgWatching                     = "Watching state file %s for changes"
	logMsgReloadFileNotFound           = "State file reload failed; file not found, will retry"
	logMsgReloadError                  = "State file reload failed; file is invalid or possibly incomplete, will retry (error: %s)"
	logMsgImportError                  = "State file import failed: %s"
	logMsgReloadUnchangedRetry         = "State file has not changed since last failure, will wait and retry in case it is still being copied"
	logMsgReloadUnchangedNoMoreRetries = "State file reload failed, and no further changes were detected; giving up until next change (error: %s)"
)

func errCannotOpenStateFile(filePath string, err error) error {
	return fmt.Errorf("unable to read state file %s: %w", filePath, err)
}

func errCreateWatcherFailed(filePath string, err error) error { // COVERAGE: can't cause this condition in unit tests
	return fmt.Errorf("unable to watch state file %q: %w", filePath, err)
}

func errBadStateJSON(filePath string, err error) error {
	return fmt.Errorf("state file %s is not a valid state document: %w", filePath, err)
}

func errUnsupportedVersion(version int) error {
	return fmt.Errorf("state document version %d is not supported", version)
}

func errUncompressedFileTooBig(filePath string, maxSize int64) error {
	return fmt.Errorf("detected malformed or malicious state file %q; its uncompressed size is >= %d bytes",
		filePath, maxSize)
}

func errImportFailed(filePath string, err error) error {
	return fmt.Errorf("unable to import state file %s: %w", filePath, err)
}
