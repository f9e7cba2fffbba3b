package utils

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
	gormlogger "gorm.io/gorm/logger"
)

// LogOptions mirrors the logging section of the configuration.
type LogOptions struct {
	Output     string // stdout, file, both
	FilePath   string
	MaxSize    int // MB
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

// NewLogWriter returns the writer application logs go to. The returned
// closer flushes the rotating file; it is a no-op for stdout.
func NewLogWriter(opts LogOptions) (io.Writer, func() error) {
	if opts.Output != "file" && opts.Output != "both" {
		return os.Stdout, func() error { return nil }
	}

	rotator := &lumberjack.Logger{
		Filename:   opts.FilePath,
		MaxSize:    opts.MaxSize,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAge,
		Compress:   opts.Compress,
	}
	if opts.Output == "file" {
		return rotator, rotator.Close
	}
	return io.MultiWriter(os.Stdout, rotator), rotator.Close
}

// SetupLogger points the standard logger at the configured output and
// returns a closer for main to defer.
func SetupLogger(opts LogOptions) func() error {
	w, closer := NewLogWriter(opts)
	log.SetOutput(w)
	log.SetFlags(log.LstdFlags | log.LUTC)
	return closer
}

// GormLogLevel maps LOG_LEVEL onto the ORM logger. Slow query logging
// needs at least the warn level to be emitted.
func GormLogLevel(level string, slowQueryLog bool) gormlogger.LogLevel {
	var lvl gormlogger.LogLevel
	switch level {
	case "debug":
		lvl = gormlogger.Info
	case "warn":
		lvl = gormlogger.Warn
	default:
		lvl = gormlogger.Error
	}
	if slowQueryLog && lvl < gormlogger.Warn {
		lvl = gormlogger.Warn
	}
	return lvl
}
