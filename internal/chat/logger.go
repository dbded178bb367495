package chat

import (
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a JSON logger scoped to the session identity. Output goes
// to a file because the terminal belongs to the TUI.
func NewLogger(identity string) (*zap.Logger, error) {
	path := DefaultLogPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return newLoggerWithWriter(identity, f), nil
}

func newLoggerWithWriter(identity string, w io.Writer) *zap.Logger {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:     "timestamp",
		LevelKey:    "level",
		MessageKey:  "message",
		EncodeTime:  zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel: zapcore.LowercaseLevelEncoder,
	}
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(w),
		zapcore.DebugLevel,
	)
	return zap.New(core).With(zap.String("session_id", identity))
}

func DefaultLogPath() string {
	if p := os.Getenv("CARECHAT_LOG"); p != "" {
		return p
	}
	cfgPath := DefaultConfigPath()
	if cfgPath == "" {
		return filepath.Join(os.TempDir(), "carechat", "carechat.log")
	}
	return filepath.Join(filepath.Dir(cfgPath), "carechat.log")
}
