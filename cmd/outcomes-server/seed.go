package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/outcomes/outcomes/internal/domain/measure"
)

// seedCORE10 stores the CORE-10 definition unless a version already exists.
// It reports whether a definition was created.
func seedCORE10(ctx context.Context, defs measure.DefinitionRepository, logger zerolog.Logger) (bool, error) {
	core := measure.CORE10()
	latest, err := defs.LatestVersion(ctx, core.Code)
	if err != nil {
		return false, fmt.Errorf("lookup %s: %w", core.Code, err)
	}
	if latest > 0 {
		logger.Info().Str("measure", core.Code).Int("version", latest).Msg("measure already installed")
		return false, nil
	}
	if err := measure.NewService(defs, nil, logger).CreateDefinition(ctx, core); err != nil {
		return false, fmt.Errorf("create %s: %w", core.Code, err)
	}
	logger.Info().Str("measure", core.Code).Str("id", core.ID.String()).Msg("measure installed")
	return true, nil
}
