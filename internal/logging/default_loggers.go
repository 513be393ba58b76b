package logging

import (
	"io"
	"log"
	"os"

	"github.com/launchdarkly/go-sdk-common/v3/ldlog"
)

// MakeDefaultLoggers returns the loggers used by the flagpole executable: Info level and above, on
// stdout, with errors on stderr.
func MakeDefaultLoggers() ldlog.Loggers {
	return MakeLoggers(os.Stdout, os.Stderr)
}

// MakeLoggers returns Info-level loggers that write errors to errOut and everything else to out.
func MakeLoggers(out, errOut io.Writer) ldlog.Loggers {
	loggers := ldlog.NewDefaultLoggers()
	loggers.SetBaseLogger(log.New(out, "", log.LstdFlags|log.Lmicroseconds))
	loggers.SetBaseLoggerForLevel(ldlog.Error, log.New(errOut, "", log.LstdFlags|log.Lmicroseconds))
	loggers.SetMinLevel(ldlog.Info)
	return loggers
}
