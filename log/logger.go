package log

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	loggerInstance *zap.Logger
	once           sync.Once
)

// initLogger initializes structured JSON logger for production.
// The level comes from LOG_LEVEL (debug, info, warn, error) and defaults to info.
func initLogger() {
	config := zap.NewProductionConfig()
	config.OutputPaths = []string{"stdout"}
	config.ErrorOutputPaths = []string{"stderr"}
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02T15:04:05.000Z07:00")
	config.EncoderConfig.LevelKey = "level"
	config.EncoderConfig.MessageKey = "message"
	config.EncoderConfig.CallerKey = "caller"
	config.EncoderConfig.StacktraceKey = "stacktrace"

	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		level, err := zap.ParseAtomicLevel(lvl)
		if err != nil {
			panic("Invalid LOG_LEVEL: " + err.Error())
		}
		config.Level = level
	}

	logger, err := config.Build()
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	loggerInstance = logger
}

func GetInstance() *zap.Logger {
	once.Do(initLogger)
	return loggerInstance
}
