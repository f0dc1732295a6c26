package logger

import "go.uber.org/zap"

// New builds the production JSON logger at the given level ("debug", "info", ...).
func New(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	cfg.EncoderConfig.TimeKey = "ts"
	return cfg.Build()
}

// Named returns a child logger tagged with the process and component names.
func Named(l *zap.Logger, service, component string) *zap.Logger {
	return l.Named(component).With(zap.String("service", service))
}
