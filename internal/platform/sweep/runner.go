package sweep

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/outcomes/outcomes/internal/domain/client"
)

// Sweep kinds.
const (
	KindFlags   = "flags"
	KindQuality = "quality"
)

const (
	defaultConcurrency = 4
	lockTTL            = 2 * time.Minute
)

type ClientLister interface {
	ListIDs(ctx context.Context, statuses ...string) ([]uuid.UUID, error)
}

// Locker is a distributed lock keyed by name.
type Locker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (bool, string, error)
	Unlock(ctx context.Context, name, token string) error
	Refresh(ctx context.Context, name, token string, ttl time.Duration) error
}

// Stats summarises one tenant sweep.
type Stats struct {
	Tenant    string        `json:"tenant"`
	Kind      string        `json:"kind"`
	Clients   int           `json:"clients"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Skipped   bool          `json:"skipped"`
	Duration  time.Duration `json:"duration"`
}

// Runner sweeps every client of a tenant. Each client is processed in its
// own tenant-scoped connection so clients can run in parallel.
type Runner struct {
	clients     ClientLister
	evaluator   *Evaluator
	inTenant    TenantFunc
	locker      Locker
	concurrency int
	logger      zerolog.Logger
	now         func() time.Time
}

func NewRunner(clients ClientLister, evaluator *Evaluator, inTenant TenantFunc, logger zerolog.Logger) *Runner {
	return &Runner{
		clients:     clients,
		evaluator:   evaluator,
		inTenant:    inTenant,
		concurrency: defaultConcurrency,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetLocker makes sweeps take a per-tenant lock so only one replica sweeps
// a tenant at a time.
func (r *Runner) SetLocker(l Locker) { r.locker = l }

func (r *Runner) SetConcurrency(n int) {
	if n > 0 {
		r.concurrency = n
	}
}

// SweepFlags evaluates flag rules for every open or waiting-list client.
func (r *Runner) SweepFlags(ctx context.Context, tenant string) (Stats, error) {
	return r.sweep(ctx, tenant, KindFlags, []string{client.StatusOpen, client.StatusWaitingList},
		func(ctx context.Context, id uuid.UUID, at time.Time) error {
			_, err := r.evaluator.flags.EvaluateClient(ctx, id, at, true)
			return err
		})
}

// SweepQuality recalculates the data quality score of every client.
func (r *Runner) SweepQuality(ctx context.Context, tenant string) (Stats, error) {
	return r.sweep(ctx, tenant, KindQuality, nil,
		func(ctx context.Context, id uuid.UUID, at time.Time) error {
			_, err := r.evaluator.quality.CalculateForClient(ctx, id, at)
			return err
		})
}

// Sweep runs the named kind.
func (r *Runner) Sweep(ctx context.Context, tenant, kind string) (Stats, error) {
	switch kind {
	case KindFlags:
		return r.SweepFlags(ctx, tenant)
	case KindQuality:
		return r.SweepQuality(ctx, tenant)
	}
	return Stats{}, fmt.Errorf("unknown sweep kind %q", kind)
}

func (r *Runner) sweep(ctx context.Context, tenant, kind string, statuses []string,
	fn func(ctx context.Context, id uuid.UUID, at time.Time) error) (Stats, error) {
	start := r.now()
	stats := Stats{Tenant: tenant, Kind: kind}
	log := r.logger.With().Str("tenant", tenant).Str("sweep", kind).Logger()

	if r.locker != nil {
		release, ok, err := r.lock(ctx, "sweep:"+kind+":"+tenant, log)
		if err != nil {
			return stats, err
		}
		if !ok {
			log.Info().Msg("sweep already running elsewhere")
			stats.Skipped = true
			return stats, nil
		}
		defer release()
	}

	var ids []uuid.UUID
	err := r.inTenant(ctx, tenant, func(ctx context.Context) error {
		var err error
		ids, err = r.clients.ListIDs(ctx, statuses...)
		return err
	})
	if err != nil {
		return stats, fmt.Errorf("list clients: %w", err)
	}
	stats.Clients = len(ids)

	var ok, failed int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, id := range ids {
		if gctx.Err() != nil {
			break
		}
		id := id
		g.Go(func() error {
			err := r.inTenant(gctx, tenant, func(ctx context.Context) error {
				return fn(ctx, id, start)
			})
			if err != nil {
				atomic.AddInt64(&failed, 1)
				log.Error().Err(err).Str("client_id", id.String()).Msg("client sweep failed")
				return nil
			}
			atomic.AddInt64(&ok, 1)
			return nil
		})
	}
	g.Wait()

	stats.Succeeded = int(ok)
	stats.Failed = int(failed)
	stats.Duration = r.now().Sub(start)
	log.Info().
		Int("clients", stats.Clients).
		Int("succeeded", stats.Succeeded).
		Int("failed", stats.Failed).
		Dur("duration", stats.Duration).
		Msg("sweep finished")
	return stats, ctx.Err()
}

// lock takes name and keeps it alive until release is called.
func (r *Runner) lock(ctx context.Context, name string, log zerolog.Logger) (func(), bool, error) {
	acquired, token, err := r.locker.TryLock(ctx, name, lockTTL)
	if err != nil {
		return nil, false, fmt.Errorf("acquire %s: %w", name, err)
	}
	if !acquired {
		return nil, false, nil
	}

	refreshCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		tick := time.NewTicker(lockTTL / 2)
		defer tick.Stop()
		for {
			select {
			case <-refreshCtx.Done():
				return
			case <-tick.C:
				if err := r.locker.Refresh(refreshCtx, name, token, lockTTL); err != nil {
					log.Warn().Err(err).Str("lock", name).Msg("lock refresh failed")
				}
			}
		}
	}()

	release := func() {
		cancel()
		<-done
		if err := r.locker.Unlock(context.WithoutCancel(ctx), name, token); err != nil {
			log.Warn().Err(err).Str("lock", name).Msg("lock release failed")
		}
	}
	return release, true, nil
}
