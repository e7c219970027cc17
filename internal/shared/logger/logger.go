package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var log *zap.Logger

// Init initializes the global logger. Call again with debug=true to
// switch to development output after the config has been loaded.
func Init(debug bool) {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		// ロガーが作れない場合は何もできないので標準のものにフォールバック
		l = zap.NewNop()
	}
	log = l
}

// Sync flushes buffered log entries. Call from main via defer.
func Sync() {
	if log != nil {
		_ = log.Sync()
	}
}

func ensure() *zap.Logger {
	if log == nil {
		Init(false)
	}
	return log
}

func Debug(msg string, fields ...zap.Field) { ensure().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { ensure().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { ensure().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { ensure().Error(msg, fields...) }
func Fatal(msg string, fields ...zap.Field) { ensure().Fatal(msg, fields...) }
