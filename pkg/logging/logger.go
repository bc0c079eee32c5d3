package logging

import (
	"go.uber.org/zap"
)

// Logger is the process-wide logger. It is a no-op until InitLogger runs.
var Logger = zap.NewNop().Sugar()

var DebugEnabled bool

// InitLogger builds the console logger. Debug mode logs everything, otherwise
// only warnings and above reach the console.
func InitLogger(debug bool) {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	cfg.Encoding = "console"
	logger, err := cfg.Build()
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	DebugEnabled = debug
	Logger = logger.Sugar()
}

// Sync flushes buffered log entries.
func Sync() {
	_ = Logger.Sync()
}

// Debugf logs only if debug logging is enabled
func Debugf(format string, args ...interface{}) {
	if DebugEnabled {
		Logger.Debugf(format, args...)
	}
}

func Infof(format string, args ...interface{}) {
	Logger.Infof(format, args...)
}

func Warnf(format string, args ...interface{}) {
	Logger.Warnf(format, args...)
}

func Errorf(format string, args ...interface{}) {
	Logger.Errorf(format, args...)
}

// With returns a child logger carrying the given key/value pairs.
func With(args ...interface{}) *zap.SugaredLogger {
	return Logger.With(args...)
}
