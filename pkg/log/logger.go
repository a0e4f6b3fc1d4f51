package log

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	easy "github.com/t-tomalak/logrus-easy-formatter"
)

var logger *logrus.Logger

// nolint:gochecknoinits
func init() {
	logger = newLogger(os.Stderr)
}

// Fields is a set of structured values attached to a log line.
type Fields = logrus.Fields

func newLogger(out io.Writer) *logrus.Logger {
	return &logrus.Logger{
		Out:   out,
		Level: logrus.InfoLevel,
		Hooks: make(logrus.LevelHooks),
		Formatter: &easy.Formatter{
			TimestampFormat: "01-02 15:04:05.000",
			LogFormat:       "[%lvl%]   [%time%]   -   %msg%\r\n",
		},
	}
}

// SetLevel
// DebugLevel = 0
// InfoLevel = 1
// WarnLevel = 2
// ErrorLevel = 3
func SetLevel(lvl int) {
	level := logrus.InfoLevel
	switch lvl {
	case 0:
		level = logrus.DebugLevel
	case 2:
		level = logrus.WarnLevel
	case 3:
		level = logrus.ErrorLevel
	}
	logger.SetLevel(level)
	Infof("log level set to %s.", level)
}

// SetOutput redirects every log line, tests use it to capture output.
func SetOutput(out io.Writer) {
	logger.SetOutput(out)
}

// Entry is a logger bound to a fixed set of key=value pairs.
type Entry struct {
	prefix string
}

// WithField returns an entry that prints key=value in front of every message.
func WithField(key string, value interface{}) Entry {
	return WithFields(Fields{key: value})
}

// WithFields returns an entry prefixed with the given fields in key order. The easy
// formatter only renders the message, so fields are folded into it.
func WithFields(fields Fields) Entry {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%v ", k, fields[k])
	}
	return Entry{prefix: b.String()}
}

func (e Entry) Debugf(format string, args ...interface{}) {
	logger.Debug(e.prefix + fmt.Sprintf(format, args...))
}

func (e Entry) Infof(format string, args ...interface{}) {
	logger.Info(e.prefix + fmt.Sprintf(format, args...))
}

func (e Entry) Warnf(format string, args ...interface{}) {
	logger.Warn(e.prefix + fmt.Sprintf(format, args...))
}

func (e Entry) Errorf(format string, args ...interface{}) {
	logger.Error(e.prefix + fmt.Sprintf(format, args...))
}

func Debug(content interface{}) {
	logger.Debug(content)
}

func Debugf(format string, args ...interface{}) {
	logger.Debug(fmt.Sprintf(format, args...))
}

func Info(content interface{}) {
	logger.Info(content)
}

func Infof(format string, args ...interface{}) {
	logger.Info(fmt.Sprintf(format, args...))
}

func Warn(content interface{}) {
	logger.Warn(content)
}

func Warnf(format string, args ...interface{}) {
	logger.Warn(fmt.Sprintf(format, args...))
}

func Error(content interface{}) {
	logger.Error(content)
}

func Errorf(format string, args ...interface{}) {
	logger.Error(fmt.Sprintf(format, args...))
}

func Fatal(content interface{}) {
	logger.Fatal(content)
}

func Fatalf(format string, args ...interface{}) {
	logger.Fatal(fmt.Sprintf(format, args...))
}
