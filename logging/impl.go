package logging

import (
	"fmt"
	"os"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the logging interface handed to every camcalib component.
type Logger interface {
	Debug(args ...interface{})
	Debugf(template string, args ...interface{})
	Debugw(msg string, keysAndValues ...interface{})
	Info(args ...interface{})
	Infof(template string, args ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warn(args ...interface{})
	Warnf(template string, args ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Error(args ...interface{})
	Errorf(template string, args ...interface{})
	Errorw(msg string, keysAndValues ...interface{})

	// AddAppender adds an output to the logger. It must not race with logging calls.
	AddAppender(appender Appender)
	SetLevel(level Level)
	GetLevel() Level
	Sublogger(subname string) Logger
	AsZap() *zap.SugaredLogger
	Sync() error
}

// Appender is an output for log entries. Any `zapcore.Core` is an Appender.
type Appender interface {
	zapcore.Core
}

type impl struct {
	name      string
	level     AtomicLevel
	appenders []Appender
	sugared   *zap.SugaredLogger
}

func newImpl(name string, level Level, appenders ...Appender) *impl {
	imp := &impl{name: name, level: NewAtomicLevelAt(level), appenders: appenders}
	imp.sugared = imp.build()
	return imp
}

func (imp *impl) build() *zap.SugaredLogger {
	cores := make([]zapcore.Core, 0, len(imp.appenders))
	for _, appender := range imp.appenders {
		cores = append(cores, appender)
	}
	enabler := zap.LevelEnablerFunc(func(l zapcore.Level) bool {
		return l >= imp.level.Get().AsZap()
	})
	core, err := zapcore.NewIncreaseLevelCore(zapcore.NewTee(cores...), enabler)
	if err != nil {
		// the tee accepts every level, so this only happens for an empty appender set.
		core = zapcore.NewNopCore()
	}
	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).Sugar().Named(imp.name)
}

// NewStdoutAppender creates a console appender that writes to stdout.
func NewStdoutAppender() Appender {
	config := NewLoggerConfig()
	encoder := zapcore.NewConsoleEncoder(config.EncoderConfig)
	return zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), zapcore.DebugLevel)
}

// FileAppender writes JSON log lines to a size rotated file.
type FileAppender struct {
	zapcore.Core
	file *lumberjack.Logger
}

// NewFileAppender creates an appender writing to path, rotating it every maxSizeMB megabytes and keeping
// the two most recent backups.
func NewFileAppender(path string, maxSizeMB int) *FileAppender {
	file := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: 2,
	}
	encoderCfg := NewLoggerConfig().EncoderConfig
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	encoder := zapcore.NewJSONEncoder(encoderCfg)
	return &FileAppender{
		Core: zapcore.NewCore(encoder, zapcore.AddSync(file), zapcore.DebugLevel),
		file: file,
	}
}

// Close closes the current log file.
func (fa *FileAppender) Close() error {
	return fa.file.Close()
}

func (imp *impl) AddAppender(appender Appender) {
	imp.appenders = append(imp.appenders, appender)
	imp.sugared = imp.build()
}

func (imp *impl) SetLevel(level Level) {
	imp.level.Set(level)
}

func (imp *impl) GetLevel() Level {
	return imp.level.Get()
}

func (imp *impl) Sublogger(subname string) Logger {
	newName := subname
	if imp.name != "" {
		newName = fmt.Sprintf("%s.%s", imp.name, subname)
	}
	return newImpl(newName, imp.level.Get(), imp.appenders...)
}

func (imp *impl) AsZap() *zap.SugaredLogger {
	return imp.sugared
}

func (imp *impl) Sync() error {
	var errs []error
	for _, appender := range imp.appenders {
		if err := appender.Sync(); err != nil {
			errs = append(errs, err)
		}
	}
	return multierr.Combine(errs...)
}

func (imp *impl) Debug(args ...interface{}) { imp.sugared.Debug(args...) }

func (imp *impl) Debugf(template string, args ...interface{}) { imp.sugared.Debugf(template, args...) }

func (imp *impl) Debugw(msg string, keysAndValues ...interface{}) {
	imp.sugared.Debugw(msg, keysAndValues...)
}

func (imp *impl) Info(args ...interface{}) { imp.sugared.Info(args...) }

func (imp *impl) Infof(template string, args ...interface{}) { imp.sugared.Infof(template, args...) }

func (imp *impl) Infow(msg string, keysAndValues ...interface{}) {
	imp.sugared.Infow(msg, keysAndValues...)
}

func (imp *impl) Warn(args ...interface{}) { imp.sugared.Warn(args...) }

func (imp *impl) Warnf(template string, args ...interface{}) { imp.sugared.Warnf(template, args...) }

func (imp *impl) Warnw(msg string, keysAndValues ...interface{}) {
	imp.sugared.Warnw(msg, keysAndValues...)
}

func (imp *impl) Error(args ...interface{}) { imp.sugared.Error(args...) }

func (imp *impl) Errorf(template string, args ...interface{}) { imp.sugared.Errorf(template, args...) }

func (imp *impl) Errorw(msg string, keysAndValues ...interface{}) {
	imp.sugared.Errorw(msg, keysAndValues...)
}
