package logger

import (
	"io"
	"os"
	"strings"
	"syscall"

	"codeberg.org/mutker/sysmonitor/internal/errors"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	// TimeFormat matches the line layout of the monitor log file.
	TimeFormat = "2006-01-02 15:04:05"

	defaultMaxSizeMB  = 5
	defaultMaxBackups = 5
)

var (
	log     = zerolog.Nop()
	rotator *lumberjack.Logger
)

type LogLevel int8

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// Format selects how log lines are rendered.
type Format string

const (
	FormatConsole Format = "console"
	FormatJSON    Format = "json"
)

// Config describes where and how the process logs.
type Config struct {
	File       string
	MaxSizeMB  int
	MaxBackups int
	Level      LogLevel
	Format     Format
	Console    bool
}

type LogEvent struct {
	*zerolog.Event
}

func (e *LogEvent) Msg(msg string) {
	e.Event.Msg(msg)
}

// Init replaces the package logger. Lines go to a size-rotated file and,
// when cfg.Console is set, to stdout as well.
func Init(cfg Config) error {
	if err := Close(); err != nil {
		return err
	}

	var writers []io.Writer

	if cfg.File != "" {
		if cfg.MaxSizeMB <= 0 {
			cfg.MaxSizeMB = defaultMaxSizeMB
		}
		if cfg.MaxBackups <= 0 {
			cfg.MaxBackups = defaultMaxBackups
		}

		rotator = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		}
		writers = append(writers, formatWriter(rotator, cfg.Format, false))
	}

	if cfg.Console || len(writers) == 0 {
		writers = append(writers, formatWriter(os.Stdout, cfg.Format, IsService()))
	}

	log = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		With().Timestamp().Logger().
		Level(zerolog.Level(cfg.Level))

	return nil
}

// Close releases the rotating file, if any.
func Close() error {
	if rotator == nil {
		return nil
	}

	err := rotator.Close()
	rotator = nil
	if err != nil {
		return errors.New().Wrap(errors.ErrShutdownFailed, err)
	}

	return nil
}

func formatWriter(out io.Writer, format Format, isService bool) io.Writer {
	if format == FormatJSON {
		return out
	}

	cw := zerolog.ConsoleWriter{
		Out:        out,
		NoColor:    true,
		TimeFormat: TimeFormat,
	}

	// journald stamps lines itself
	if isService {
		cw.FormatTimestamp = func(_ interface{}) string {
			return ""
		}
	}

	return cw
}

// ParseLevel maps a configured level name onto a LogLevel.
func ParseLevel(name string) (LogLevel, error) {
	switch strings.ToLower(name) {
	case "debug":
		return DebugLevel, nil
	case "info", "":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	default:
		return InfoLevel, errors.New().WithData(errors.ErrInvalidLogLevel, name)
	}
}

// IsService checks if the application is running as a service
func IsService() bool {
	if _, err := os.Stdin.Stat(); err != nil {
		return true
	}
	if os.Getenv("SERVICE_NAME") != "" || os.Getenv("INVOCATION_ID") != "" {
		return true
	}
	if os.Getppid() == 1 {
		return true
	}

	return syscall.Getpgrp() == syscall.Getpid()
}

// Debug logs a debug message
func Debug() *LogEvent {
	return &LogEvent{log.Debug()}
}

// Info logs an info message
func Info() *LogEvent {
	return &LogEvent{log.Info()}
}

// Warn logs a warning message
func Warn() *LogEvent {
	return &LogEvent{log.Warn()}
}

// Error logs an error message
func Error() *LogEvent {
	return &LogEvent{log.Error()}
}

// ErrorWithCode logs an error message with a specific error code
func ErrorWithCode(err errors.Error) *LogEvent {
	return withCode(log.Error(), err)
}

func withCode(ev *zerolog.Event, err errors.Error) *LogEvent {
	ev = ev.
		Str("error_code", string(err.Code())).
		Str("error_message", err.Error()).
		AnErr("error", err.Unwrap())
	if data := err.GetData(); data != nil {
		ev = ev.Interface("error_data", data)
	}

	return &LogEvent{ev}
}

// instance is a Logger bound to its own zerolog.Logger
type instance struct {
	zl zerolog.Logger
}

// New returns a Logger writing to w, independent of the package logger.
func New(w io.Writer, format Format, level LogLevel) Logger {
	zl := zerolog.New(formatWriter(w, format, false)).
		With().Timestamp().Logger().
		Level(zerolog.Level(level))

	return &instance{zl: zl}
}

// Nop returns a Logger that discards everything.
func Nop() Logger {
	return &instance{zl: zerolog.Nop()}
}

func (l *instance) Debug() *LogEvent { return &LogEvent{l.zl.Debug()} }
func (l *instance) Info() *LogEvent  { return &LogEvent{l.zl.Info()} }
func (l *instance) Warn() *LogEvent  { return &LogEvent{l.zl.Warn()} }
func (l *instance) Error() *LogEvent { return &LogEvent{l.zl.Error()} }

func (l *instance) ErrorWithCode(err errors.Error) *LogEvent {
	return withCode(l.zl.Error(), err)
}

// global forwards to the package logger as it is at call time
type global struct{}

// Default returns a Logger backed by the package logger configured by Init.
func Default() Logger {
	return global{}
}

func (global) Debug() *LogEvent                         { return Debug() }
func (global) Info() *LogEvent                          { return Info() }
func (global) Warn() *LogEvent                          { return Warn() }
func (global) Error() *LogEvent                         { return Error() }
func (global) ErrorWithCode(err errors.Error) *LogEvent { return ErrorWithCode(err) }
