package sweep

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/outcomes/outcomes/internal/domain/flag"
	"github.com/outcomes/outcomes/internal/domain/measure"
	"github.com/outcomes/outcomes/internal/domain/quality"
	"github.com/outcomes/outcomes/internal/platform/events"
)

type FlagEvaluator interface {
	EvaluateClient(ctx context.Context, clientID uuid.UUID, at time.Time, apply bool) (*flag.Evaluation, error)
}

type QualityCalculator interface {
	CalculateForClient(ctx context.Context, clientID uuid.UUID, at time.Time) (*quality.Result, error)
}

// TenantFunc runs fn with ctx scoped to tenant's schema.
type TenantFunc func(ctx context.Context, tenant string, fn func(ctx context.Context) error) error

// Evaluator re-assesses one client after new data arrives: the data
// quality score is recalculated first so quality rules see the new value,
// then flag rules run and their raises are applied.
type Evaluator struct {
	flags    FlagEvaluator
	quality  QualityCalculator
	inTenant TenantFunc
	logger   zerolog.Logger
}

func NewEvaluator(flags FlagEvaluator, q QualityCalculator, inTenant TenantFunc, logger zerolog.Logger) *Evaluator {
	return &Evaluator{flags: flags, quality: q, inTenant: inTenant, logger: logger}
}

func (e *Evaluator) EvaluateClient(ctx context.Context, clientID uuid.UUID, at time.Time) error {
	if _, err := e.quality.CalculateForClient(ctx, clientID, at); err != nil {
		return fmt.Errorf("data quality for %s: %w", clientID, err)
	}
	ev, err := e.flags.EvaluateClient(ctx, clientID, at, true)
	if err != nil {
		return fmt.Errorf("flags for %s: %w", clientID, err)
	}
	if n := len(ev.Raises()); n > 0 {
		e.logger.Info().Str("client_id", clientID.String()).Int("raised", n).Msg("client flags raised")
	}
	return nil
}

// FormSubmitted runs in the submitting request's tenant context.
func (e *Evaluator) FormSubmitted(ctx context.Context, evt measure.FormSubmittedEvent) error {
	return e.EvaluateClient(ctx, evt.ClientID, evt.SubmittedAt)
}

// HandleMessage consumes form.submitted events from the broker.
func (e *Evaluator) HandleMessage(ctx context.Context, routingKey string, body []byte) error {
	if routingKey != measure.EventFormSubmitted {
		return fmt.Errorf("%w: unexpected routing key %q", events.ErrPoison, routingKey)
	}
	var evt measure.FormSubmittedEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return fmt.Errorf("%w: %v", events.ErrPoison, err)
	}
	if evt.Tenant == "" || evt.ClientID == uuid.Nil {
		return fmt.Errorf("%w: event missing tenant or client", events.ErrPoison)
	}
	return e.inTenant(ctx, evt.Tenant, func(ctx context.Context) error {
		return e.FormSubmitted(ctx, evt)
	})
}
