package logger

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the application-wide logger.
var Logger *zap.Logger

// level backs the logger's level so it can be changed after init (e.g. on config reload).
var level = zap.NewAtomicLevelAt(zapcore.InfoLevel)

// componentNameKey is a context key for storing the component name.
type componentNameKeyType string

const componentNameKey componentNameKeyType = "componentName"

func init() {
	// Configure development logger
	config := zap.NewDevelopmentConfig()
	config.Level = level
	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder // Add color to level output
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.OutputPaths = []string{"stderr"} // stdout belongs to the console sink
	config.ErrorOutputPaths = []string{"stderr"}

	var err error
	Logger, err = config.Build()
	if err != nil {
		panic(err)
	}
	zap.ReplaceGlobals(Logger) // Set as global logger
}

// Configure sets the minimum level of the application logger.
// Accepted values are the zap level names ("debug", "info", "warn", "error").
func Configure(levelName string) error {
	if levelName == "" {
		return nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(levelName)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", levelName, err)
	}
	level.SetLevel(l)
	return nil
}

// ComponentName extracts the component name from the context.
func ComponentName(ctx context.Context) string {
	if ctx == nil {
		return "unknown"
	}
	if name, ok := ctx.Value(componentNameKey).(string); ok {
		return name
	}
	return "unknown" // Default if not found in context
}

// WithComponentName creates a new context with the component name set.
// Gateways and the controller use it to identify themselves in log lines.
func WithComponentName(ctx context.Context, componentName string) context.Context {
	return context.WithValue(ctx, componentNameKey, componentName)
}

func withComponent(ctx context.Context, fields []zap.Field) []zap.Field {
	return append(fields, zap.String("component", ComponentName(ctx)))
}

// Info logs at info level, tagged with the component name carried by ctx.
func Info(ctx context.Context, msg string, fields ...zap.Field) {
	Logger.Info(msg, withComponent(ctx, fields)...)
}

// Warn logs at warn level.
func Warn(ctx context.Context, msg string, fields ...zap.Field) {
	Logger.Warn(msg, withComponent(ctx, fields)...)
}

// Error logs at error level.
func Error(ctx context.Context, msg string, fields ...zap.Field) {
	Logger.Error(msg, withComponent(ctx, fields)...)
}

// Fatal logs at fatal level and exits the process.
func Fatal(ctx context.Context, msg string, fields ...zap.Field) {
	Logger.Fatal(msg, withComponent(ctx, fields)...)
}

// Debug logs at debug level.
func Debug(ctx context.Context, msg string, fields ...zap.Field) {
	Logger.Debug(msg, withComponent(ctx, fields)...)
}

// SetLogger allows external packages to set the internal zap.Logger instance.
// This is primarily for testing purposes or advanced logger re-configuration.
func SetLogger(l *zap.Logger) {
	Logger = l
}
