// Package logging constructs the process-wide zap logger.
package logging

import (
	"fmt"

	"go.uber.org/zap"
)

// New returns a configured zap logger. Development mode uses the console
// encoder and DEBUG level; production uses sampled JSON at INFO.
func New(development bool) (*zap.Logger, error) {
	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}
