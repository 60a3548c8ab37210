package cli

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/openagents/openagents/internal/config"
	"github.com/openagents/openagents/internal/constants"
	"github.com/openagents/openagents/internal/logging"
)

// logFileWriter holds the log file writer for cleanup during shutdown.
var logFileWriter io.WriteCloser //nolint:gochecknoglobals // needed for cleanup

// globalLogger stores the logger initialized in PersistentPreRunE for use by
// subcommands. Access is protected by globalLoggerMu.
var (
	globalLogger   zerolog.Logger //nolint:gochecknoglobals // CLI logger requires global access
	globalLoggerMu sync.RWMutex   //nolint:gochecknoglobals // protects globalLogger
)

// Logger returns the initialized logger for use by subcommands. It must only
// be called after the root command's PersistentPreRunE has executed.
func Logger() zerolog.Logger {
	globalLoggerMu.RLock()
	defer globalLoggerMu.RUnlock()
	return globalLogger
}

// InitLogger creates and configures a zerolog.Logger based on verbosity
// flags.
//
// Log levels: verbose=Debug, quiet=Warn, default Info. A TTY without
// NO_COLOR gets the console writer; everything else gets JSON on stderr.
// The logger also writes to ~/.openagents/logs/openagents.log with rotation;
// if the log file cannot be created, console-only logging continues. The
// redaction hook runs before either sink sees an event.
func InitLogger(verbose, quiet bool) zerolog.Logger {
	writer := selectOutput()

	if fileWriter, err := createLogFileWriter(); err == nil {
		logFileWriter = fileWriter
		writer = zerolog.MultiLevelWriter(writer, fileWriter)
	}

	logger := zerolog.New(writer).
		Level(selectLevel(verbose, quiet)).
		Hook(logging.NewRedactHook()).
		With().Timestamp().Logger()

	setGlobalLogger(logger)
	return logger
}

// InitLoggerWithWriter creates a logger with a custom writer. Primarily for
// tests.
func InitLoggerWithWriter(verbose, quiet bool, w io.Writer) zerolog.Logger {
	logger := zerolog.New(w).
		Level(selectLevel(verbose, quiet)).
		Hook(logging.NewRedactHook()).
		With().Timestamp().Logger()

	setGlobalLogger(logger)
	return logger
}

// CloseLogFile closes the log file writer if it was opened. Called during
// shutdown.
func CloseLogFile() {
	if logFileWriter != nil {
		_ = logFileWriter.Close()
		logFileWriter = nil
	}
}

// setGlobalLogger stores the CLI logger and mirrors it into the zerolog
// package-level logger so stray log.Info() calls match our formatting.
func setGlobalLogger(logger zerolog.Logger) {
	globalLoggerMu.Lock()
	defer globalLoggerMu.Unlock()
	globalLogger = logger
	log.Logger = logger
}

// selectLevel determines the log level from the verbosity flags.
func selectLevel(verbose, quiet bool) zerolog.Level {
	switch {
	case verbose:
		return zerolog.DebugLevel
	case quiet:
		return zerolog.WarnLevel
	default:
		return zerolog.InfoLevel
	}
}

// selectOutput picks console rendering for a TTY without NO_COLOR and JSON
// on stderr otherwise.
func selectOutput() io.Writer {
	if term.IsTerminal(int(os.Stderr.Fd())) && os.Getenv("NO_COLOR") == "" {
		return zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.Kitchen,
		}
	}
	return os.Stderr
}

// createLogFileWriter creates the rotating file writer for the user-level
// CLI log.
func createLogFileWriter() (io.WriteCloser, error) {
	logDir := config.UserLogDir()
	if logDir == "" {
		return nil, os.ErrNotExist
	}
	if err := os.MkdirAll(logDir, 0o750); err != nil {
		return nil, err
	}

	return &lumberjack.Logger{
		Filename:   filepath.Join(logDir, constants.CLILogFile),
		MaxSize:    constants.LogMaxSizeMB,
		MaxBackups: constants.LogMaxBackups,
		MaxAge:     constants.LogMaxAgeDays,
		Compress:   true,
	}, nil
}
