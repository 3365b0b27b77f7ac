package logs

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"auto_hedge_go/config"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const timestampFormat = "2006-01-02 15:04:05"

// FileHook writes every entry to a rotated file with its own (colorless) formatter.
type FileHook struct {
	formatter logrus.Formatter
	writer    io.Writer
}

func newFileHook(writer io.Writer, formatter logrus.Formatter) *FileHook {
	return &FileHook{
		writer:    writer,
		formatter: formatter,
	}
}

// Levels returns all log levels, so the hook is fired for all log entries.
func (h *FileHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire formats and writes the log entry to the file.
func (h *FileHook) Fire(entry *logrus.Entry) error {
	formattedBytes, err := h.formatter.Format(entry)
	if err != nil {
		return err
	}
	_, err = h.writer.Write(formattedBytes)
	return err
}

var (
	// log starts as a plain console logger so packages can log before Init runs (tests, early startup).
	log              = newConsoleLogger(false)
	fileHookInstance *FileHook
)

func newConsoleLogger(colors bool) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{
		ForceColors:            colors,
		FullTimestamp:          true,
		TimestampFormat:        timestampFormat,
		DisableLevelTruncation: true,
		PadLevelText:           true,
	})
	return l
}

// Init replaces the default console logger with the configured one and attaches the rotated file hook.
func Init(cfg *config.LogConfig, logFilePath string) error {
	l := newConsoleLogger(true)
	parsedLevel, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		parsedLevel = logrus.InfoLevel
	}
	l.SetLevel(parsedLevel)

	// Silence the global logrus instance so stray logrus.Info calls do not bypass our hooks.
	logrus.SetOutput(io.Discard)
	logrus.StandardLogger().Hooks = make(logrus.LevelHooks)

	logDir := filepath.Dir(logFilePath)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	rotated := &lumberjack.Logger{
		Filename:   logFilePath,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	fileHookInstance = newFileHook(rotated, &logrus.TextFormatter{
		DisableColors:   true,
		FullTimestamp:   true,
		TimestampFormat: timestampFormat,
	})
	l.AddHook(fileHookInstance)

	log = l
	Infof("Logging system initialized, level=%s file=%s", parsedLevel, logFilePath)
	return nil
}

// SetOutput redirects console output; tests use it to capture or discard logs.
func SetOutput(w io.Writer) {
	log.SetOutput(w)
}

// SetLevel changes the active level. Unknown names are ignored.
func SetLevel(level string) {
	if parsed, err := logrus.ParseLevel(level); err == nil {
		log.SetLevel(parsed)
	}
}

// Close closes the file hook's underlying writer.
func Close() {
	if fileHookInstance != nil {
		if closer, ok := fileHookInstance.writer.(io.Closer); ok {
			closer.Close()
		}
	}
	Info("Logging system closed.")
}

// WithFields returns an entry tagged with the given fields, e.g. the position a message belongs to.
func WithFields(fields logrus.Fields) *logrus.Entry { return log.WithFields(fields) }

// Wrapper functions to expose the logger.
func Debug(args ...interface{})                 { log.Debug(args...) }
func Debugf(format string, args ...interface{}) { log.Debugf(format, args...) }
func Info(args ...interface{})                  { log.Info(args...) }
func Infof(format string, args ...interface{})  { log.Infof(format, args...) }
func Warn(args ...interface{})                  { log.Warn(args...) }
func Warnf(format string, args ...interface{})  { log.Warnf(format, args...) }
func Error(args ...interface{})                 { log.Error(args...) }
func Errorf(format string, args ...interface{}) { log.Errorf(format, args...) }
func Fatal(args ...interface{})                 { log.Fatal(args...) }
func Fatalf(format string, args ...interface{}) { log.Fatalf(format, args...) }
