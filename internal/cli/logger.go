package cli

import "go.uber.org/zap"

// newLogger returns a JSON debug logger on stderr when --verbose is set and
// a no-op logger otherwise.
func newLogger(globals *Globals) *zap.Logger {
	if globals == nil || !globals.Verbose {
		return zap.NewNop()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	cfg.Encoding = "json"
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger.With(zap.String("version", Version))
}
