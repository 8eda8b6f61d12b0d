package types

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/kairos-io/mount-luks/constants"
	"github.com/rs/zerolog"
)

var processStart = time.Now()

// elapsed renders the console timestamp as seconds since the process started.
func elapsed(_ interface{}) string {
	return fmt.Sprintf("%.3f", time.Since(processStart).Seconds())
}

// NewLogger creates a new logger with the given name and level.
// The level defaults to info and can be overridden by setting $NAME_DEBUG or $NAME_TRACE
// (name upper-cased, dashes turned into underscores) to any value.
// If quiet is true, the logger will not log to the console.
func NewLogger(name, level string, quiet bool) Logger {
	var loggers []io.Writer
	var fileLock *flock.Flock
	var logfile *os.File

	journald := isJournaldAvailable()
	if journald {
		loggers = append(loggers, getJournaldWriter())
	} else {
		_ = os.MkdirAll(constants.LogDir, os.ModeDir|os.ModePerm)
		logFileName := filepath.Join(constants.LogDir, fmt.Sprintf("%s.log", name))

		f, err := os.OpenFile(logFileName, os.O_APPEND|os.O_CREATE|os.O_WRONLY, constants.FilePerm)
		if err == nil {
			logfile = f
			loggers = append(loggers, zerolog.ConsoleWriter{Out: logfile, TimeFormat: time.RFC3339, NoColor: true})
			fileLock = flock.New(logFileName + ".lock")
		}
	}

	if !quiet {
		loggers = append(loggers, zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) {
			w.Out = os.Stderr
			w.FormatTimestamp = elapsed
		}))
	}

	l, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		l = zerolog.InfoLevel
	}

	envName := strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
	if os.Getenv(envName+"_DEBUG") != "" {
		l = zerolog.DebugLevel
	}
	if os.Getenv(envName+"_TRACE") != "" {
		l = zerolog.TraceLevel
	}

	k := Logger{
		Logger:   zerolog.New(zerolog.MultiLevelWriter(loggers...)).With().Timestamp().Logger().Level(l),
		fileLock: fileLock,
		logFile:  logfile,
		journald: journald,
	}

	runtime.SetFinalizer(&k, func(k *Logger) {
		k.Close()
	})

	return k
}

func NewBufferLogger(b *bytes.Buffer) Logger {
	return Logger{
		Logger:   zerolog.New(b).With().Timestamp().Logger(),
		journald: true,
	}
}

func NewNullLogger() Logger {
	return Logger{
		Logger:   zerolog.New(io.Discard),
		journald: true,
	}
}

// Logger wraps zerolog and serialises writes to the shared log file between concurrent runs.
type Logger struct {
	zerolog.Logger
	fileLock *flock.Flock
	logFile  *os.File
	journald bool // journald needs no file lock
}

// Close releases the log file, if any.
func (m *Logger) Close() {
	if m.fileLock != nil {
		_ = m.fileLock.Lock()
		defer func() {
			_ = m.fileLock.Unlock()
			m.fileLock = nil
		}()
	}
	if m.logFile != nil {
		_ = m.logFile.Close()
		m.logFile = nil
	}
}

func (m *Logger) SetLevel(level string) {
	l, err := zerolog.ParseLevel(level)
	if err != nil {
		return
	}
	m.Logger = m.Logger.Level(l)
}

func (m Logger) IsDebug() bool {
	return m.Logger.GetLevel() <= zerolog.DebugLevel
}

// emit writes msg at level, holding the file lock and tagging the pid when logging to a file.
func (m Logger) emit(level zerolog.Level, msg string) {
	if !m.journald && m.fileLock != nil {
		_ = m.fileLock.Lock()
		defer func() { _ = m.fileLock.Unlock() }()
		msg = fmt.Sprintf("[%v] %s", os.Getpid(), msg)
	}
	m.Logger.WithLevel(level).Msg(msg)
}

func (m Logger) Infof(tpl string, args ...interface{})  { m.emit(zerolog.InfoLevel, fmt.Sprintf(tpl, args...)) }
func (m Logger) Info(args ...interface{})               { m.emit(zerolog.InfoLevel, fmt.Sprint(args...)) }
func (m Logger) Warnf(tpl string, args ...interface{})  { m.emit(zerolog.WarnLevel, fmt.Sprintf(tpl, args...)) }
func (m Logger) Warn(args ...interface{})               { m.emit(zerolog.WarnLevel, fmt.Sprint(args...)) }
func (m Logger) Debugf(tpl string, args ...interface{}) { m.emit(zerolog.DebugLevel, fmt.Sprintf(tpl, args...)) }
func (m Logger) Debug(args ...interface{})              { m.emit(zerolog.DebugLevel, fmt.Sprint(args...)) }
func (m Logger) Errorf(tpl string, args ...interface{}) { m.emit(zerolog.ErrorLevel, fmt.Sprintf(tpl, args...)) }
func (m Logger) Error(args ...interface{})              { m.emit(zerolog.ErrorLevel, fmt.Sprint(args...)) }
func (m Logger) Tracef(tpl string, args ...interface{}) { m.emit(zerolog.TraceLevel, fmt.Sprintf(tpl, args...)) }
