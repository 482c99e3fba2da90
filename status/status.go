// Leveled logging shared by all parts of the monitor.
//
// Messages at or above the current level go to stderr (if installed) and to an underlying logger
// (if installed).  The underlying logger is normally a zap logger, see Start.

package status

import (
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarning
	LogLevelError
	LogLevelCritical
)

// Implementations of this must be thread-safe.
type Logger interface {
	// Print only messages at level l or above
	SetLevel(l LogLevel)

	// Lower log level at least to l
	LowerLevelTo(l LogLevel)

	// Print on this stream, if installed
	SetStderr(w io.Writer)

	// Print on this underlying logger, if installed
	SetUnderlying(w UnderlyingLogger)

	// None of these must exit or panic, the name indicates the log level only.
	Debug(xs ...any)
	Debugf(format string, args ...any)

	Info(xs ...any)
	Infof(format string, args ...any)

	Warning(xs ...any)
	Warningf(format string, args ...any)

	Error(xs ...any)
	Errorf(format string, args ...any)

	Critical(xs ...any)
	Criticalf(format string, args ...any)
}

// An underlying logger must be thread-safe.  ZapLogger implements it.
type UnderlyingLogger interface {
	Debug(m string) error
	Info(m string) error
	Warning(m string) error
	Err(m string) error
	Crit(m string) error
}

type StandardLogger struct {
	sync.Mutex
	level      LogLevel
	stderr     io.Writer
	underlying UnderlyingLogger
}

// MT: Constant after initialization, thread-safe.
var defaultLogger Logger = NewStandardLogger(os.Stderr)

func Default() Logger {
	return defaultLogger
}

// The new logger prints warnings and above.
func NewStandardLogger(stderr io.Writer) *StandardLogger {
	return &StandardLogger{
		level:  LogLevelWarning,
		stderr: stderr,
	}
}

func (sl *StandardLogger) SetLevel(l LogLevel) {
	sl.Lock()
	defer sl.Unlock()

	sl.level = l
}

func (sl *StandardLogger) LowerLevelTo(l LogLevel) {
	sl.Lock()
	defer sl.Unlock()

	if sl.level > l {
		sl.level = l
	}
}

func (sl *StandardLogger) SetStderr(stderr io.Writer) {
	sl.Lock()
	defer sl.Unlock()

	sl.stderr = stderr
}

func (sl *StandardLogger) SetUnderlying(underlying UnderlyingLogger) {
	sl.Lock()
	defer sl.Unlock()

	sl.underlying = underlying
}

func (sl *StandardLogger) emit(l LogLevel, s string) {
	sl.Lock()
	defer sl.Unlock()

	if l < sl.level {
		return
	}
	if sl.stderr != nil {
		fmt.Fprintln(sl.stderr, s)
	}
	if sl.underlying != nil {
		switch l {
		case LogLevelDebug:
			sl.underlying.Debug(s)
		case LogLevelInfo:
			sl.underlying.Info(s)
		case LogLevelWarning:
			sl.underlying.Warning(s)
		case LogLevelError:
			sl.underlying.Err(s)
		default:
			sl.underlying.Crit(s)
		}
	}
}

func (sl *StandardLogger) Critical(xs ...any) {
	sl.emit(LogLevelCritical, fmt.Sprint(xs...))
}

func (sl *StandardLogger) Criticalf(format string, args ...any) {
	sl.emit(LogLevelCritical, fmt.Sprintf(format, args...))
}

func (sl *StandardLogger) Error(xs ...any) {
	sl.emit(LogLevelError, fmt.Sprint(xs...))
}

func (sl *StandardLogger) Errorf(format string, args ...any) {
	sl.emit(LogLevelError, fmt.Sprintf(format, args...))
}

func (sl *StandardLogger) Warning(xs ...any) {
	sl.emit(LogLevelWarning, fmt.Sprint(xs...))
}

func (sl *StandardLogger) Warningf(format string, args ...any) {
	sl.emit(LogLevelWarning, fmt.Sprintf(format, args...))
}

func (sl *StandardLogger) Info(xs ...any) {
	sl.emit(LogLevelInfo, fmt.Sprint(xs...))
}

func (sl *StandardLogger) Infof(format string, args ...any) {
	sl.emit(LogLevelInfo, fmt.Sprintf(format, args...))
}

func (sl *StandardLogger) Debug(xs ...any) {
	sl.emit(LogLevelDebug, fmt.Sprint(xs...))
}

func (sl *StandardLogger) Debugf(format string, args ...any) {
	sl.emit(LogLevelDebug, fmt.Sprintf(format, args...))
}

// ZapLogger adapts a zap logger to the UnderlyingLogger interface.  zap does its own filtering too,
// but it is always created at debug level here so that StandardLogger alone decides.

type ZapLogger struct {
	sugar *zap.SugaredLogger
}

func NewZapLogger(l *zap.Logger) *ZapLogger {
	return &ZapLogger{sugar: l.Sugar()}
}

func (z *ZapLogger) Debug(m string) error {
	z.sugar.Debug(m)
	return nil
}

func (z *ZapLogger) Info(m string) error {
	z.sugar.Info(m)
	return nil
}

func (z *ZapLogger) Warning(m string) error {
	z.sugar.Warn(m)
	return nil
}

func (z *ZapLogger) Err(m string) error {
	z.sugar.Error(m)
	return nil
}

// Crit must not exit, so it does not map to zap's Fatal.
func (z *ZapLogger) Crit(m string) error {
	z.sugar.DPanic(m)
	return nil
}

func (z *ZapLogger) Sync() error {
	return z.sugar.Sync()
}

// Older API, still useful

// Start installs a JSON zap logger on stdout, named by logTag, as the underlying logger of the
// default logger.  Messages then go both to stderr (plain) and to stdout (structured).
func Start(logTag string) *ZapLogger {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	cfg.OutputPaths = []string{"stdout"}
	cfg.Development = false
	logger, err := cfg.Build()
	if err != nil {
		Fatal(err.Error())
	}
	z := NewZapLogger(logger.Named(logTag))
	defaultLogger.SetUnderlying(z)
	return z
}

func Fatal(msg string) {
	defaultLogger.Critical(msg)
	os.Exit(1)
}

func Fatalf(format string, args ...any) {
	defaultLogger.Criticalf(format, args...)
	os.Exit(1)
}

func Error(msg string) {
	defaultLogger.Error(msg)
}

func Errorf(format string, args ...any) {
	defaultLogger.Errorf(format, args...)
}

func Warning(msg string) {
	defaultLogger.Warning(msg)
}

func Warningf(format string, args ...any) {
	defaultLogger.Warningf(format, args...)
}

func Info(msg string) {
	defaultLogger.Info(msg)
}

func Infof(format string, args ...any) {
	defaultLogger.Infof(format, args...)
}
