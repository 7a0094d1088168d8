// Package mlog is the thin logging wrapper every MetricQ component is handed
// explicitly, mirroring the teacher's injected comp/core/log.Component rather
// than a package-level global. It is backed by github.com/cihub/seelog.
package mlog

import (
	"fmt"
	"strings"

	"github.com/cihub/seelog"
)

// Logger is a named, leveled logger. The zero value is not usable; construct
// one with New or NOP.
type Logger struct {
	name string
	sl   seelog.LoggerInterface
}

// New constructs a Logger backed by seelog's current logger, tagging
// every line with name (the component: "agent", "sink", "source", ...).
func New(name string) *Logger {
	return &Logger{name: name, sl: seelog.Current}
}

// NOP returns a Logger that discards everything, for tests and examples that
// don't wire a logger explicitly.
func NOP() *Logger {
	return &Logger{name: "nop", sl: seelog.Disabled}
}

func (l *Logger) prefix(format string) string {
	return "[" + l.name + "] " + format
}

func (l *Logger) Tracef(format string, args ...interface{}) {
	_ = l.sl.Trace(fmt.Sprintf(l.prefix(format), args...))
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	_ = l.sl.Debug(fmt.Sprintf(l.prefix(format), args...))
}

func (l *Logger) Infof(format string, args ...interface{}) {
	_ = l.sl.Info(fmt.Sprintf(l.prefix(format), args...))
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	_ = l.sl.Warn(fmt.Sprintf(l.prefix(format), args...))
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	_ = l.sl.Error(fmt.Sprintf(l.prefix(format), args...))
}

func (l *Logger) Criticalf(format string, args ...interface{}) {
	_ = l.sl.Critical(fmt.Sprintf(l.prefix(format), args...))
}

// With returns a child Logger whose name is qualified by suffix, e.g.
// agentLog.With("watchdog") -> "[agent.watchdog]".
func (l *Logger) With(suffix string) *Logger {
	return &Logger{name: l.name + "." + suffix, sl: l.sl}
}

var levelNames = map[string]string{
	"trace":    "trace",
	"debug":    "debug",
	"info":     "info",
	"warn":     "warn",
	"warning":  "warn",
	"error":    "error",
	"critical": "critical",
}

// Setup replaces seelog's current logger with one writing to stdout at
// level, for cmd/* entry points that take a --log-level flag. Loggers built
// by New after Setup returns write through it; ones built earlier keep the
// logger that was current when they were built.
func Setup(level string) error {
	name, ok := levelNames[strings.ToLower(level)]
	if !ok {
		name = "info"
	}
	config := fmt.Sprintf(`
<seelog minlevel="%s">
	<outputs formatid="main">
		<console/>
	</outputs>
	<formats>
		<format id="main" format="%%Date %%Time [%%LEVEL] %%Msg%%n"/>
	</formats>
</seelog>`, name)

	logger, err := seelog.LoggerFromConfigAsString(config)
	if err != nil {
		return err
	}
	return seelog.ReplaceLogger(logger)
}
