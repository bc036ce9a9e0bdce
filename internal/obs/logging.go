package obs

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/lmbridge/lmbridge/pkg/daemon"
)

// Log levels accepted by the configuration surface. They map onto logrus
// levels; "trace" additionally enables trace-file capture in the server.
const (
	LogLevelOff     = "off"
	LogLevelBasic   = "basic"
	LogLevelVerbose = "verbose"
	LogLevelTrace   = "trace"
)

// IsValidLogLevel reports whether s is one of the accepted level names.
// The empty string is valid and means "basic".
func IsValidLogLevel(s string) bool {
	switch s {
	case "", LogLevelOff, LogLevelBasic, LogLevelVerbose, LogLevelTrace:
		return true
	}
	return false
}

// LogOptions configures process-wide logging.
type LogOptions struct {
	// Level is one of off, basic, verbose, trace. Empty means basic.
	Level string

	// File, when set, receives log output through a rotating writer.
	File string

	// Quiet suppresses stdout so only the file is written. Used in
	// daemon mode where stdout is detached.
	Quiet bool
}

// SetupLogging configures the global logrus logger. Call once at startup;
// safe to call again when the configured level changes.
func SetupLogging(opts LogOptions) {
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	switch opts.Level {
	case LogLevelOff:
		logrus.SetLevel(logrus.PanicLevel)
		logrus.SetOutput(io.Discard)
		return
	case LogLevelVerbose:
		logrus.SetLevel(logrus.DebugLevel)
	case LogLevelTrace:
		logrus.SetLevel(logrus.TraceLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}

	if opts.File == "" {
		logrus.SetOutput(os.Stdout)
		return
	}

	logWriter := daemon.NewLogger(daemon.DefaultLogRotationConfig(opts.File))
	if opts.Quiet {
		logrus.SetOutput(logWriter)
	} else {
		logrus.SetOutput(io.MultiWriter(os.Stdout, logWriter))
	}
}
