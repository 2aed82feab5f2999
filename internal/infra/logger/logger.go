// Package logger — глобальная обёртка над zap для бота.
// Консольный core пишет в переназначаемые потоки (CLI подменяет их на свои),
// опциональный файловый core ротируется через lumberjack и имеет собственный уровень.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileOptions — параметры файлового лога.
type FileOptions struct {
	Path       string
	Level      string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

var (
	mu  sync.Mutex
	log *zap.Logger

	consoleLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
	fileLevel    = zap.NewAtomicLevelAt(zap.DebugLevel)

	stdoutWriter = zapcore.Lock(zapcore.AddSync(os.Stdout))
	stderrWriter = zapcore.Lock(zapcore.AddSync(os.Stderr))

	// fileSink != nil, пока включён файловый лог.
	fileSink *lumberjack.Logger
)

func consoleEncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalColorLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05"),
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

// fileEncoderConfig — JSON без цветов, чтобы файл читался машиной.
func fileEncoderConfig() zapcore.EncoderConfig {
	cfg := consoleEncoderConfig()
	cfg.EncodeLevel = zapcore.LowercaseLevelEncoder
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeDuration = zapcore.MillisDurationEncoder
	return cfg
}

// rebuildLoggerLocked пересобирает логгер из текущих потоков. Вызывать под mu.
func rebuildLoggerLocked() {
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleEncoderConfig()), stdoutWriter, consoleLevel),
	}
	if fileSink != nil {
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(fileEncoderConfig()), zapcore.AddSync(fileSink), fileLevel))
	}
	if log != nil {
		_ = log.Sync()
	}
	log = zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1), zap.ErrorOutput(stderrWriter))
}

func parseLevel(level string, fallback zapcore.Level) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zap.DebugLevel
	case "info":
		return zap.InfoLevel
	case "warn":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	default:
		return fallback
	}
}

// Init задаёт уровень консольного вывода: debug, info (по умолчанию), warn, error.
func Init(level string) {
	mu.Lock()
	defer mu.Unlock()

	consoleLevel.SetLevel(parseLevel(level, zap.InfoLevel))
	rebuildLoggerLocked()
}

// InitFile включает ротируемый файловый лог. Пустой Path выключает его.
func InitFile(opts FileOptions) {
	mu.Lock()
	defer mu.Unlock()

	if fileSink != nil {
		_ = fileSink.Close()
		fileSink = nil
	}
	if strings.TrimSpace(opts.Path) != "" {
		fileSink = &lumberjack.Logger{
			Filename:   opts.Path,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
		}
		fileLevel.SetLevel(parseLevel(opts.Level, zap.DebugLevel))
	}
	rebuildLoggerLocked()
}

// SetWriters переназначает потоки консольного вывода. Nil — os.Stdout/os.Stderr.
func SetWriters(stdout, stderr io.Writer) {
	mu.Lock()
	defer mu.Unlock()

	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	stdoutWriter = zapcore.Lock(zapcore.AddSync(stdout))
	stderrWriter = zapcore.Lock(zapcore.AddSync(stderr))
	rebuildLoggerLocked()
}

// Close сбрасывает буферы и закрывает файловый лог.
func Close() {
	mu.Lock()
	defer mu.Unlock()

	if log != nil {
		_ = log.Sync()
	}
	if fileSink != nil {
		_ = fileSink.Close()
	}
}

// Logger возвращает текущий zap.Logger, создавая его при первом обращении.
func Logger() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()

	if log == nil {
		rebuildLoggerLocked()
	}
	return log
}

// Named — дочерний логгер подсистемы (без пропуска обёрток).
func Named(name string) *zap.Logger {
	return Logger().WithOptions(zap.AddCallerSkip(-1)).Named(name)
}

// IsDebugEnabled сообщает, пишет ли хоть один core уровень debug.
func IsDebugEnabled() bool {
	return Logger().Core().Enabled(zap.DebugLevel)
}

func Debug(msg string, fields ...zap.Field) { Logger().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { Logger().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { Logger().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { Logger().Error(msg, fields...) }

// Fatal пишет сообщение и завершает процесс.
func Fatal(msg string, fields ...zap.Field) {
	Logger().Fatal(msg, fields...)
}

// Debugf и остальные *f форматируют через fmt.Sprintf; в горячих путях лучше поля.
func Debugf(msg string, a ...any) { Logger().Debug(fmt.Sprintf(msg, a...)) }
func Infof(msg string, a ...any)  { Logger().Info(fmt.Sprintf(msg, a...)) }
func Warnf(msg string, a ...any)  { Logger().Warn(fmt.Sprintf(msg, a...)) }
func Errorf(msg string, a ...any) { Logger().Error(fmt.Sprintf(msg, a...)) }
