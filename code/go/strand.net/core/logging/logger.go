package logging

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the process-wide logger. Packages log through it unless a
// caller injects its own *zap.Logger.
var (
	Logger *zap.Logger
	once   sync.Once
)

// InitLogging builds the global logger. mode "development" enables console
// colors and, when logging.console is set, mirrors output to stdout. The
// level is read from the "logging.level" viper key. Safe to call more than
// once; only the first call wins.
func InitLogging(mode, logDir, logFile string) {
	once.Do(func() {
		initLogging(mode, logDir, logFile)
	})
}

func initLogging(mode, logDir, logFile string) {
	logWriter := getWriteSyncer(filepath.Join(logDir, logFile))

	var cfg zap.Config
	if mode != "development" {
		cfg = zap.NewProductionConfig()
		cfg.DisableCaller = true
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.LevelKey = "level"
		cfg.EncoderConfig.NameKey = "name"
		cfg.EncoderConfig.MessageKey = "msg"
		cfg.EncoderConfig.CallerKey = "caller"
		cfg.EncoderConfig.StacktraceKey = "stacktrace"
		if viper.GetBool("logging.console") {
			logWriter = zapcore.NewMultiWriteSyncer(zapcore.AddSync(os.Stdout), logWriter)
		}
	}
	if err := cfg.Level.UnmarshalText([]byte(viper.GetString("logging.level"))); err != nil {
		panic(err)
	}

	cfg.Encoding = "console"
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(cfg.EncoderConfig), logWriter, cfg.Level)
	l, err := cfg.Build(zap.WrapCore(func(zapcore.Core) zapcore.Core { return core }))
	if err != nil {
		panic(err)
	}

	Logger = l
}

func getWriteSyncer(logName string) zapcore.WriteSyncer {
	ioWriter := &lumberjack.Logger{
		Filename:   logName,
		MaxSize:    1024, // MB
		MaxBackups: 3,
		MaxAge:     28, // days
		LocalTime:  true,
		Compress:   false,
	}
	_ = ioWriter.Rotate()
	return zapcore.AddSync(ioWriter)
}
