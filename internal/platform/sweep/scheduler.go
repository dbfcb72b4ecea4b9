package sweep

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// TenantSource lists the tenants a scheduled sweep covers.
type TenantSource func(ctx context.Context) ([]string, error)

// StaticTenants returns a TenantSource for a fixed list.
func StaticTenants(tenants []string) TenantSource {
	return func(context.Context) ([]string, error) { return tenants, nil }
}

// Scheduler triggers sweeps on cron schedules.
type Scheduler struct {
	runner  *Runner
	tenants TenantSource
	logger  zerolog.Logger
	cron    *cron.Cron
	cancel  context.CancelFunc
}

func NewScheduler(runner *Runner, tenants TenantSource, logger zerolog.Logger) *Scheduler {
	return &Scheduler{runner: runner, tenants: tenants, logger: logger}
}

// Start registers the flag and quality sweeps. An empty spec disables that
// sweep.
func (s *Scheduler) Start(ctx context.Context, flagsSpec, qualitySpec string) error {
	runCtx, cancel := context.WithCancel(ctx)
	c := cron.New()
	for kind, spec := range map[string]string{KindFlags: flagsSpec, KindQuality: qualitySpec} {
		if spec == "" {
			continue
		}
		kind := kind
		if _, err := c.AddFunc(spec, func() { s.RunAll(runCtx, kind) }); err != nil {
			cancel()
			return fmt.Errorf("schedule %s sweep %q: %w", kind, spec, err)
		}
		s.logger.Info().Str("sweep", kind).Str("spec", spec).Msg("sweep scheduled")
	}
	c.Start()
	s.cron = c
	s.cancel = cancel
	return nil
}

// Stop cancels running sweeps and waits for them to return.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// RunAll sweeps every tenant in turn. A failing tenant does not stop the
// others.
func (s *Scheduler) RunAll(ctx context.Context, kind string) []Stats {
	tenants, err := s.tenants(ctx)
	if err != nil {
		s.logger.Error().Err(err).Str("sweep", kind).Msg("list tenants failed")
		return nil
	}
	out := make([]Stats, 0, len(tenants))
	for _, t := range tenants {
		if ctx.Err() != nil {
			break
		}
		st, err := s.runner.Sweep(ctx, t, kind)
		if err != nil {
			s.logger.Error().Err(err).Str("tenant", t).Str("sweep", kind).Msg("tenant sweep failed")
		}
		out = append(out, st)
	}
	return out
}
