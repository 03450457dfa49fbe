// Package logutil configures the logrus logger shared by every component.
package logutil

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// UTCFormatter stamps entries in UTC before delegating.
type UTCFormatter struct {
	logrus.Formatter
}

func (u UTCFormatter) Format(e *logrus.Entry) ([]byte, error) {
	e.Time = e.Time.UTC()
	return u.Formatter.Format(e)
}

// Options selects level, format and destination. An empty File logs to stderr.
type Options struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

func DefaultOptions() Options {
	return Options{
		Level:      "info",
		Format:     "text",
		MaxSizeMB:  100,
		MaxBackups: 5,
		MaxAgeDays: 30,
	}
}

// New builds a logger from opts.
func New(opts Options) (*logrus.Logger, error) {
	log := logrus.New()
	if err := Configure(log, opts); err != nil {
		return nil, err
	}
	return log, nil
}

// Configure applies opts to an existing logger.
func Configure(log *logrus.Logger, opts Options) error {
	level := opts.Level
	if level == "" {
		level = "info"
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	log.SetLevel(lvl)

	switch strings.ToLower(opts.Format) {
	case "", "text":
		log.SetFormatter(UTCFormatter{Formatter: &logrus.TextFormatter{FullTimestamp: true}})
	case "json":
		log.SetFormatter(UTCFormatter{Formatter: &logrus.JSONFormatter{}})
	default:
		return fmt.Errorf("unsupported log format %q (text, json)", opts.Format)
	}
	log.SetOutput(Writer(opts))
	return nil
}

// Writer returns the destination for opts: a rotating file or stderr.
func Writer(opts Options) io.Writer {
	if opts.File == "" {
		return os.Stderr
	}
	return &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   opts.Compress,
	}
}

// SetupTestLogging turns on debug output for tests.
func SetupTestLogging() {
	logrus.SetLevel(logrus.DebugLevel)
	logrus.SetFormatter(UTCFormatter{Formatter: &logrus.TextFormatter{FullTimestamp: true}})
}
