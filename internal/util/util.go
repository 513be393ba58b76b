package util

import (
	"encoding/json"
	"io"
	"net/url"
)

type errorJSON struct {
	Message string `json:"message"`
}

// ErrorJSONMsg returns a json-encoded error message
func ErrorJSONMsg(msg string) (j []byte) {
	j, _ = json.Marshal(errorJSON{Message: msg})
	return
}

// RedactURL is equivalent to parsing a URL string and then calling Redacted() to
// replace passwords, if any, with xxxxx.
func RedactURL(inputURL string) string {
	if parsed, err := url.Parse(inputURL); err == nil {
		if parsed != nil && parsed.User != nil {
			if _, hasPW := parsed.User.Password(); hasPW {
				transformed := *parsed
				transformed.User = url.UserPassword(parsed.User.Username(), "xxxxx")
				return transformed.String()
			}
		}
	}
	return inputURL
}

// CleanupTasks accumulates functions to be called if a multi-step construction fails partway
// through. Call Clear once construction has succeeded so that Run does nothing.
type CleanupTasks []func()

// AddFunc adds a function to the list.
func (t *CleanupTasks) AddFunc(f func()) {
	*t = append(*t, f)
}

// AddCloser adds an io.Closer whose Close method will be called, ignoring its error.
func (t *CleanupTasks) AddCloser(c io.Closer) {
	*t = append(*t, func() { _ = c.Close() })
}

// Clear discards all pending tasks.
func (t *CleanupTasks) Clear() {
	*t = nil
}

// Run calls all pending tasks in reverse order of addition.
func (t *CleanupTasks) Run() {
	tasks := *t
	*t = nil
	for i := len(tasks) - 1; i >= 0; i-- {
		tasks[i]()
	}
}
