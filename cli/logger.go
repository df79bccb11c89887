package cli

import (
	"fmt"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"mrcrypt/mrcrypt/config"
)

// newLogger maps -v repetition onto the log level: warnings by default, info
// with -v, debug with -vv. A log_level config entry sets the base level when
// no -v flag is given.
func newLogger(c *cli.Context, configProvider config.ConfigProvider) (*zap.Logger, error) {
	level := zapcore.WarnLevel
	if configured := configProvider.GetConfig().LogLevel; configured != "" {
		parsed, err := zapcore.ParseLevel(configured)
		if err != nil {
			return nil, fmt.Errorf("invalid log_level %q: %w", configured, err)
		}
		level = parsed
	}
	switch c.Count("verbose") {
	case 0:
	case 1:
		level = zapcore.InfoLevel
	default:
		level = zapcore.DebugLevel
	}

	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.DisableStacktrace = true

	return cfg.Build()
}
