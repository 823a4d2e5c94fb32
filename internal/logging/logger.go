// Package logging provides the leveled, structured logger used across the
// service. Entries are written as text or JSON lines; request scoped loggers
// travel on the context.
package logging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/kyleking/rafs-ddms/internal/config"
)

// LogLevel represents the severity level of a log message
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

const (
	logDirPerm  = 0755
	logFilePerm = 0644

	// stack frames from caller() up to the code that logged
	callerSkip = 3

	// CorrelationIDField is the field name carrying a per-request id
	CorrelationIDField = "correlation_id"
)

var levelNames = map[LogLevel]string{
	DebugLevel: "DEBUG",
	InfoLevel:  "INFO",
	WarnLevel:  "WARN",
	ErrorLevel: "ERROR",
}

func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}

	return "UNKNOWN"
}

// parseLogLevel maps a configured level name to a LogLevel; unknown names
// log at info
func parseLogLevel(level string) LogLevel {
	level = strings.ToUpper(level)
	if level == "WARNING" {
		level = "WARN"
	}

	for l, name := range levelNames {
		if name == level {
			return l
		}
	}

	return InfoLevel
}

// LogEntry is one JSON log line
type LogEntry struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Caller    string                 `json:"caller,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// sink is the destination shared by a logger and every logger derived from it
type sink struct {
	mu   sync.Mutex
	w    io.Writer
	file *os.File
}

// Logger writes leveled entries carrying a fixed set of fields. Derived
// loggers share the parent's sink.
type Logger struct {
	sink       *sink
	level      LogLevel
	json       bool
	showCaller bool
	fields     map[string]interface{}
}

var (
	globalLogger *Logger
	loggerOnce   sync.Once
)

// InitializeLogger sets up the global logger once per process
func InitializeLogger(cfg config.LoggingConfig) error {
	var err error

	loggerOnce.Do(func() {
		globalLogger, err = NewLogger(cfg)
	})

	return err
}

// NewLogger creates a logger from the logging configuration. Debug level
// implies caller information.
func NewLogger(cfg config.LoggingConfig) (*Logger, error) {
	s := &sink{}

	switch strings.ToLower(cfg.Output) {
	case "stdout":
		s.w = os.Stdout
	case "stderr", "":
		s.w = os.Stderr
	case "file":
		if cfg.File == "" {
			return nil, errors.New("log file path is required when output is 'file'")
		}

		path := config.ExpandPath(cfg.File)
		if err := os.MkdirAll(filepath.Dir(path), logDirPerm); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePerm)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}

		s.w, s.file = file, file
	default:
		return nil, fmt.Errorf("invalid log output: %s", cfg.Output)
	}

	logger := newLogger(s, cfg.Level, cfg.Format)
	logger.showCaller = cfg.AddSource || logger.level == DebugLevel

	return logger, nil
}

// NewWithWriter creates a logger writing to w
func NewWithWriter(level, format string, w io.Writer) *Logger {
	return newLogger(&sink{w: w}, level, format)
}

// NewNop returns a logger that discards everything
func NewNop() *Logger {
	return NewWithWriter("error", "text", io.Discard)
}

func newLogger(s *sink, level, format string) *Logger {
	return &Logger{
		sink:   s,
		level:  parseLogLevel(level),
		json:   strings.EqualFold(format, "json"),
		fields: map[string]interface{}{},
	}
}

// WithField returns a logger that adds key to every entry
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.WithFields(map[string]interface{}{key: value})
}

// WithFields returns a logger that adds fields to every entry
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	derived := *l
	derived.fields = make(map[string]interface{}, len(l.fields)+len(fields))

	for k, v := range l.fields {
		derived.fields[k] = v
	}

	for k, v := range fields {
		derived.fields[k] = v
	}

	return &derived
}

// WithError adds err as the "error" field; a nil err returns l
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}

	return l.WithField("error", err.Error())
}

func (l *Logger) log(level LogLevel, message string, err error) {
	if level < l.level {
		return
	}

	entry := LogEntry{
		Timestamp: time.Now().Format(time.RFC3339),
		Level:     level.String(),
		Message:   message,
	}

	if len(l.fields) > 0 {
		entry.Fields = l.fields
	}

	if err != nil {
		entry.Error = err.Error()
	}

	if l.showCaller {
		entry.Caller = caller()
	}

	var buf bytes.Buffer

	if l.json {
		data, _ := json.Marshal(entry)
		buf.Write(data)
	} else {
		writeText(&buf, entry)
	}

	buf.WriteByte('\n')

	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()

	_, _ = l.sink.w.Write(buf.Bytes())
}

// writeText renders: [time] LEVEL (caller) message {k=v ...} error=...
func writeText(buf *bytes.Buffer, entry LogEntry) {
	fmt.Fprintf(buf, "[%s] %s", entry.Timestamp, entry.Level)

	if entry.Caller != "" {
		fmt.Fprintf(buf, " (%s)", entry.Caller)
	}

	buf.WriteByte(' ')
	buf.WriteString(entry.Message)

	if len(entry.Fields) > 0 {
		keys := make([]string, 0, len(entry.Fields))
		for k := range entry.Fields {
			keys = append(keys, k)
		}

		slices.Sort(keys)

		buf.WriteString(" {")

		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(' ')
			}

			buf.WriteString(k + "=" + textValue(entry.Fields[k]))
		}

		buf.WriteByte('}')
	}

	if entry.Error != "" {
		buf.WriteString(" error=" + entry.Error)
	}
}

// textValue quotes values that would break key=value parsing
func textValue(v interface{}) string {
	s := fmt.Sprint(v)
	if strings.ContainsAny(s, " ={}\"") {
		return strconv.Quote(s)
	}

	return s
}

func caller() string {
	_, file, line, ok := runtime.Caller(callerSkip)
	if !ok {
		return "unknown"
	}

	return filepath.Base(file) + ":" + strconv.Itoa(line)
}

func (l *Logger) Debug(message string) { l.log(DebugLevel, message, nil) }

func (l *Logger) Debugf(format string, args ...interface{}) {
	l.log(DebugLevel, fmt.Sprintf(format, args...), nil)
}

func (l *Logger) Info(message string) { l.log(InfoLevel, message, nil) }

func (l *Logger) Infof(format string, args ...interface{}) {
	l.log(InfoLevel, fmt.Sprintf(format, args...), nil)
}

func (l *Logger) Warn(message string) { l.log(WarnLevel, message, nil) }

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.log(WarnLevel, fmt.Sprintf(format, args...), nil)
}

func (l *Logger) Error(message string) { l.log(ErrorLevel, message, nil) }

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.log(ErrorLevel, fmt.Sprintf(format, args...), nil)
}

// ErrorWithErr logs message at error level with err in the entry's error slot
func (l *Logger) ErrorWithErr(message string, err error) {
	l.log(ErrorLevel, message, err)
}

// Close closes the log file, if the logger writes to one
func (l *Logger) Close() error {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()

	if l.sink.file == nil {
		return nil
	}

	err := l.sink.file.Close()
	l.sink.file = nil

	return err
}

// GetLogger returns the global logger, falling back to info level text on
// stderr before InitializeLogger ran
func GetLogger() *Logger {
	if globalLogger == nil {
		SetupFallbackLogger()
	}

	return globalLogger
}

// SetupFallbackLogger installs the stderr fallback as the global logger
func SetupFallbackLogger() {
	globalLogger = NewWithWriter("info", "text", os.Stderr)
}

func Debugf(format string, args ...interface{}) { GetLogger().Debugf(format, args...) }

func Infof(format string, args ...interface{}) { GetLogger().Infof(format, args...) }

func Warnf(format string, args ...interface{}) { GetLogger().Warnf(format, args...) }

func ErrorWithErr(message string, err error) { GetLogger().ErrorWithErr(message, err) }

type ctxKey struct{}

// WithContext stores a logger on the context
func WithContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the request logger, or the global logger when none is set
func FromContext(ctx context.Context) *Logger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxKey{}).(*Logger); ok && l != nil {
			return l
		}
	}

	return GetLogger()
}

// WithCorrelationID derives a request logger tagged with a fresh correlation id
func WithCorrelationID(ctx context.Context) (context.Context, string) {
	id := uuid.NewString()
	return WithContext(ctx, FromContext(ctx).WithField(CorrelationIDField, id)), id
}

// Timed runs fn and logs its duration under the operation name. Failures
// are logged at error level and returned unchanged.
func Timed(ctx context.Context, operation string, fn func() error) error {
	logger := FromContext(ctx).WithField("operation", operation)
	logger.Debug("Starting operation")

	start := time.Now()
	err := fn()
	logger = logger.WithField("duration", time.Since(start))

	if err != nil {
		logger.ErrorWithErr("Operation failed", err)
	} else {
		logger.Debug("Operation completed successfully")
	}

	return err
}
