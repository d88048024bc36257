package obs

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	loggerMu sync.Mutex
	logger   *zap.Logger
)

// NewLogger builds the service logger. Dev environments get a console
// encoder, everything else emits JSON lines.
func NewLogger(environment string) (*zap.Logger, error) {
	if environment == "dev" {
		return zap.NewDevelopmentConfig().Build()
	}
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.MessageKey = "msg"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

// Logger returns the shared process logger. Until SetLogger is called it
// falls back to a production logger so early failures are still captured.
func Logger() *zap.Logger {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if logger == nil {
		l, err := NewLogger("prod")
		if err != nil {
			l = zap.NewNop()
		}
		logger = l
	}
	return logger
}

// SetLogger installs the shared logger. Intended for startup and tests.
func SetLogger(l *zap.Logger) {
	if l == nil {
		return
	}
	loggerMu.Lock()
	defer loggerMu.Unlock()
	logger = l
}
