package logx

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"
	"gopkg.in/natefinch/lumberjack.v2"
	"io"
	"os"
	"path"
	"time"
)

var logger zerolog.Logger
var startTime time.Time
var pid = os.Getpid()

// LoggingConfig holds the configuration for logging.
type LoggingConfig struct {
	// Level is the log level to use (e.g., "Info", "Debug").
	Level string
	// ConsoleLogging enables logging to the console.
	ConsoleLogging bool
	// FileLogging enables logging to a rolling file.
	FileLogging bool
	// Directory specifies the directory for log files (used if FileLogging is enabled).
	Directory string
	// Filename is the name of the log file.
	Filename string
	// MaxSize is the maximum size (in MB) of a log file before it is rolled.
	MaxSize int
	// MaxBackups is the maximum number of rolled log files to keep.
	MaxBackups int
	// MaxAge is the maximum age (in days) to keep a log file.
	MaxAge int
	// Compress enables compression of rolled log files.
	Compress bool
}

// Initialize configures the package logger from the given config. It must be
// called once at startup before any component logger is derived.
func Initialize(cfg *LoggingConfig) error {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(level)
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack

	var writers []io.Writer
	if cfg.ConsoleLogging || !cfg.FileLogging {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	}
	if cfg.FileLogging {
		writers = append(writers, &lumberjack.Logger{
			Filename:   path.Join(cfg.Directory, cfg.Filename),
			MaxBackups: cfg.MaxBackups, // files
			MaxSize:    cfg.MaxSize,    // megabytes
			MaxAge:     cfg.MaxAge,     // days
			Compress:   cfg.Compress,
		})
	}

	logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).With().
		Timestamp().
		Int("pid", pid).
		Logger()

	return nil
}

// As returns the package logger.
func As() *zerolog.Logger {
	return &logger
}

// Component derives a child logger tagged with a component name. Components
// receive their logger at construction instead of reaching for the package
// logger, which keeps log attribution stable when they run concurrently.
func Component(name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}

func StartTimer() {
	startTime = time.Now()
}

func ExecutionTime() string {
	return time.Since(startTime).Round(time.Second).String()
}

func GetPid() int {
	return pid
}
