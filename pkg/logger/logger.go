// Package logger builds the JSON zap logger shared by the ramdump tools.
package logger

import (
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// A scan over a large capture can log an unresolved page per pfn; past the
// first entries of a message only every samplingThereafter-th is kept.
const (
	samplingTick       = time.Second
	samplingFirst      = 100
	samplingThereafter = 1000
)

type LoggerConfig struct {
	ServiceName string
	SessionID   string

	IsInternal    bool
	IsDevelopment bool
	IsDebug       bool

	// OutputPath defaults to stderr, leaving stdout to reports.
	OutputPath    string
	InitialFields []zap.Field

	Cores []zapcore.Core
}

func NewLogger(loggerConfig LoggerConfig) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if loggerConfig.IsDebug {
		level = zapcore.DebugLevel
	}

	outputPath := loggerConfig.OutputPath
	if outputPath == "" {
		outputPath = "stderr"
	}

	sink, _, err := zap.Open(outputPath)
	if err != nil {
		return nil, fmt.Errorf("error opening log output %s: %w", outputPath, err)
	}

	var core zapcore.Core = zapcore.NewCore(
		zapcore.NewJSONEncoder(GetEncoderConfig(zapcore.DefaultLineEnding)),
		sink,
		level,
	)

	if !loggerConfig.IsDevelopment {
		core = zapcore.NewSamplerWithOptions(core, samplingTick, samplingFirst, samplingThereafter)
	}

	cores := []zapcore.Core{core}

	if loggerConfig.IsInternal {
		cores = append(cores,
			otelzap.NewCore(loggerConfig.ServiceName, otelzap.WithLoggerProvider(global.GetLoggerProvider())),
		)
	}

	cores = append(cores, loggerConfig.Cores...)

	fields := []zap.Field{
		zap.String("service", loggerConfig.ServiceName),
		zap.Int("pid", os.Getpid()),
	}
	if loggerConfig.SessionID != "" {
		fields = append(fields, WithSessionID(loggerConfig.SessionID))
	}

	opts := []zap.Option{
		zap.Fields(fields...),
		zap.Fields(loggerConfig.InitialFields...),
		zap.ErrorOutput(zapcore.Lock(os.Stderr)),
		zap.AddStacktrace(zapcore.ErrorLevel),
	}
	if loggerConfig.IsDevelopment {
		opts = append(opts, zap.Development(), zap.AddCaller())
	}

	return zap.New(zapcore.NewTee(cores...), opts...), nil
}

func GetEncoderConfig(lineEnding string) zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:       "timestamp",
		MessageKey:    "message",
		LevelKey:      "level",
		EncodeLevel:   zapcore.LowercaseLevelEncoder,
		NameKey:       "logger",
		StacktraceKey: "stacktrace",
		EncodeTime:    zapcore.RFC3339TimeEncoder,
		LineEnding:    lineEnding,
	}
}
