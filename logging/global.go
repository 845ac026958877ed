package logging

import (
	"io"
	"log"
	"os"
	"runtime/debug"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func getFileWriter(logFileName string) io.Writer {
	fileLogger := &lumberjack.Logger{
		Filename:   logFileName,
		MaxSize:    500, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   false,
	}

	return fileLogger
}

func parseConfigLevelEncoder(levelEncoderName string) zapcore.LevelEncoder {
	switch levelEncoderName {
	case "capitalColor":
		return zapcore.CapitalColorLevelEncoder
	case "capital":
		return zapcore.CapitalLevelEncoder
	case "lowercase":
		return zapcore.LowercaseLevelEncoder
	default:
		return zapcore.CapitalLevelEncoder
	}
}

// SetGlobalLogger replaces zap's global logger with one configured
// from the given level, level encoder and optional log file path.
func SetGlobalLogger(levelName string, levelEncoderName string, logFilePath string) error {
	level, err := zapcore.ParseLevel(levelName)
	if err != nil {
		return err
	}

	levelEncoder := parseConfigLevelEncoder(levelEncoderName)

	lv := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return lvl >= level
	})

	encoderConfig := zapcore.EncoderConfig{
		MessageKey:  "message",
		LevelKey:    "level",
		EncodeLevel: levelEncoder,
		TimeKey:     "time",
		EncodeTime: func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(t.UTC().Format("2006-01-02T15:04:05.000000Z"))
		},
		CallerKey:        "caller",
		EncodeCaller:     zapcore.ShortCallerEncoder,
		EncodeDuration:   zapcore.StringDurationEncoder,
		NameKey:          "name",
		ConsoleSeparator: "\t",
	}

	consoleCore := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), os.Stdout, lv)

	if logFilePath == "" {
		zap.ReplaceGlobals(zap.New(consoleCore))
		return nil
	}

	logFileWriter := getFileWriter(logFilePath)

	fileLevel := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return true // the file log keeps everything
	})

	fileEncoder := zapcore.NewJSONEncoder(zap.NewDevelopmentEncoderConfig())
	fileCore := zapcore.NewCore(fileEncoder, zapcore.AddSync(logFileWriter), fileLevel)

	zap.ReplaceGlobals(zap.New(zapcore.NewTee(consoleCore, fileCore)))

	return nil
}

// CapturePanic logs and re-raises a recovered panic with its stack trace.
func CapturePanic(logger *zap.Logger) {
	if r := recover(); r != nil {
		defer func() {
			if err := logger.Sync(); err != nil {
				log.Println("failed to sync zap.Logger", err)
			}
		}()
		stackTrace := string(debug.Stack())
		logger.Panic("Recovered from panic", zap.Any("panic", r), zap.String("stackTrace", stackTrace))
	}
}
