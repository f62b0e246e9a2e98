// Package ulog is the logging facade shared by every backend in this
// module: the HiiDB parser, the BlobStore2 transport, the iLO Redfish
// adapter and the dispatcher. It mirrors the teacher's pkg/log shape
// (interface + package-level DefaultLogger) so callers can swap in their
// own sink without the core depending on a specific logging framework.
package ulog

import (
	"log"
	"os"
)

// Logger describes a logger usable by every component in this module.
type Logger interface {
	// Warnf logs a warning message, e.g. an unknown IFR opcode skipped
	// or a BlobStore status code not recognized by this build.
	Warnf(format string, args ...interface{})

	// Errorf logs an error message.
	Errorf(format string, args ...interface{})

	// Fatalf logs a fatal message and exits the process.
	Fatalf(format string, args ...interface{})
}

// DefaultLogger is the logger used when a component is not given one
// explicitly.
var DefaultLogger Logger

func init() {
	DefaultLogger = logWrapper{Logger: log.New(os.Stderr, "", log.LstdFlags)}
}

type logWrapper struct {
	Logger *log.Logger
}

func (l logWrapper) Warnf(format string, args ...interface{}) {
	l.Logger.Printf("[uefisettings][WARN] "+format, args...)
}

func (l logWrapper) Errorf(format string, args ...interface{}) {
	l.Logger.Printf("[uefisettings][ERROR] "+format, args...)
}

func (l logWrapper) Fatalf(format string, args ...interface{}) {
	l.Logger.Fatalf("[uefisettings][FATAL] "+format, args...)
}

// Warnf logs a warning message via DefaultLogger.
func Warnf(format string, args ...interface{}) { DefaultLogger.Warnf(format, args...) }

// Errorf logs an error message via DefaultLogger.
func Errorf(format string, args ...interface{}) { DefaultLogger.Errorf(format, args...) }

// Fatalf logs a fatal message via DefaultLogger and exits the process.
func Fatalf(format string, args ...interface{}) { DefaultLogger.Fatalf(format, args...) }

// Tagged returns a Logger that adds a "[component] " tag to every message,
// right after the "[uefisettings][LEVEL] " prefix, so log output from the HII
// parser and the iLO transport can be told apart without separate
// Logger implementations.
func Tagged(component string) Logger {
	return taggedLogger{component: component}
}

type taggedLogger struct {
	component string
}

func (t taggedLogger) Warnf(format string, args ...interface{}) {
	DefaultLogger.Warnf("["+t.component+"] "+format, args...)
}

func (t taggedLogger) Errorf(format string, args ...interface{}) {
	DefaultLogger.Errorf("["+t.component+"] "+format, args...)
}

func (t taggedLogger) Fatalf(format string, args ...interface{}) {
	DefaultLogger.Fatalf("["+t.component+"] "+format, args...)
}
