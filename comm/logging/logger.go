package logging

import (
	"errors"
	"os"
	"strconv"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger 日志输出接口，协议层只依赖此接口
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
}

type Level = zapcore.Level

const (
	DebugLevel Level = iota - 1
	InfoLevel
	WarnLevel
	ErrorLevel
	DPanicLevel
	PanicLevel
	FatalLevel
)

var (
	flushLogs           func() error
	defaultLogger       Logger
	defaultLoggingLevel Level
)

func init() {
	// export ZK_LOGGING_LEVEL=-1
	lvl := os.Getenv("ZK_LOGGING_LEVEL")
	if len(lvl) > 0 {
		loggingLevel, err := strconv.ParseInt(lvl, 10, 8)
		if err != nil {
			panic("invalid ZK_LOGGING_LEVEL, " + err.Error())
		}
		defaultLoggingLevel = Level(loggingLevel)
	}

	// export ZK_LOGGING_FILE=/var/log/zklink.log
	fileName := os.Getenv("ZK_LOGGING_FILE")
	if len(fileName) > 0 {
		var err error
		defaultLogger, flushLogs, err = CreateLoggerAsLocalFile(fileName, defaultLoggingLevel)
		if err != nil {
			panic("invalid ZK_LOGGING_FILE, " + err.Error())
		}
	} else {
		cfg := zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(defaultLoggingLevel)
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		zapLogger, _ := cfg.Build()
		defaultLogger = zapLogger.Sugar()
		flushLogs = zapLogger.Sync
	}
}

func getEncoder() zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewConsoleEncoder(encoderConfig)
}

// LogLevel 当前默认日志级别
func LogLevel() string {
	return defaultLoggingLevel.String()
}

// CreateLoggerAsLocalFile 创建输出到本地文件的日志，文件按大小滚动
func CreateLoggerAsLocalFile(localFilePath string, logLevel Level) (logger Logger, flush func() error, err error) {
	if len(localFilePath) == 0 {
		return nil, nil, errors.New("invalid local logger path")
	}

	// lumberjack.Logger 本身是并发安全的
	lumberJackLogger := &lumberjack.Logger{
		Filename:   localFilePath,
		MaxSize:    100, // megabytes
		MaxBackups: 2,
		MaxAge:     15, // days
	}

	encoder := getEncoder()
	ws := zapcore.AddSync(lumberJackLogger)
	zapcore.Lock(ws)

	levelEnabler := zap.LevelEnablerFunc(func(level Level) bool {
		return level >= logLevel
	})
	core := zapcore.NewCore(encoder, ws, levelEnabler)
	zapLogger := zap.New(core, zap.AddCaller())
	logger = zapLogger.Sugar()
	flush = zapLogger.Sync
	return
}

// NopLogger 丢弃全部输出
func NopLogger() Logger {
	return zap.NewNop().Sugar()
}

func GetDefaultLogger() Logger {
	return defaultLogger
}

func GetDefaultFlusher() func() error {
	return flushLogs
}

func SetDefaultLoggerAndFlusher(logger Logger, flusher func() error) {
	defaultLogger, flushLogs = logger, flusher
}
