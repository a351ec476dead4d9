package logger

import (
	"os"

	"go.uber.org/zap"
)

var sugar *zap.SugaredLogger

func init() {
	var config zap.Config

	env := os.Getenv("LOG_ENV")
	if env == "production" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
	}

	log, err := config.Build(zap.AddCallerSkip(1))
	if err != nil {
		panic(err)
	}
	sugar = log.Sugar()
}

func Infof(format string, args ...interface{}) {
	sugar.Infof(format, args...)
}

func Warnf(format string, args ...interface{}) {
	sugar.Warnf(format, args...)
}

func Errorf(format string, args ...interface{}) {
	sugar.Errorf(format, args...)
}

func Fatalf(format string, args ...interface{}) {
	sugar.Fatalf(format, args...)
}

// Sync flushes buffered entries, call in main defer.
func Sync() {
	_ = sugar.Sync()
}
