package flag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/outcomes/outcomes/internal/domain/client"
	"github.com/outcomes/outcomes/internal/platform/auth"
	"github.com/outcomes/outcomes/internal/platform/db"
)

// Routing keys published by the service.
const (
	EventFlagRaised  = "flag.raised"
	EventFlagCleared = "flag.cleared"
)

// FlagEvent is the payload of EventFlagRaised and EventFlagCleared.
type FlagEvent struct {
	Tenant   string     `json:"tenant"`
	FlagID   uuid.UUID  `json:"flag_id"`
	ClientID uuid.UUID  `json:"client_id"`
	Type     string     `json:"type"`
	RuleID   *uuid.UUID `json:"rule_id,omitempty"`
	Reason   string     `json:"reason"`
	Actor    string     `json:"actor"`
	At       time.Time  `json:"at"`
}

// SnapshotSource loads the evaluation view of a client.
type SnapshotSource interface {
	Snapshot(ctx context.Context, clientID uuid.UUID) (*client.Snapshot, error)
}

// Publisher delivers domain events to the message broker.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload interface{}) error
}

type Service struct {
	rules     RuleRepository
	flags     FlagRepository
	snapshots SnapshotSource
	engine    *Engine
	publisher Publisher
	autoClear bool
	logger    zerolog.Logger
}

func NewService(rules RuleRepository, flags FlagRepository, snapshots SnapshotSource, logger zerolog.Logger) *Service {
	return &Service{
		rules:     rules,
		flags:     flags,
		snapshots: snapshots,
		engine:    NewEngine(logger),
		logger:    logger,
	}
}

func (s *Service) SetPublisher(p Publisher) { s.publisher = p }

// SetAutoClear enables the clearance pass after each evaluation.
func (s *Service) SetAutoClear(on bool) { s.autoClear = on }

// -- Rules --

func validateRule(r *Rule) error {
	if !ValidType(r.FlagType) {
		return fmt.Errorf("%w: %w %q", ErrInvalidRule, ErrInvalidType, r.FlagType)
	}
	if _, err := ParseCondition(r.Condition); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	return nil
}

func (s *Service) CreateRule(ctx context.Context, r *Rule) error {
	if err := validateRule(r); err != nil {
		return err
	}
	return s.rules.Create(ctx, r)
}

func (s *Service) UpdateRule(ctx context.Context, r *Rule) error {
	if err := validateRule(r); err != nil {
		return err
	}
	return s.rules.Update(ctx, r)
}

func (s *Service) DeleteRule(ctx context.Context, id uuid.UUID) error {
	return s.rules.Delete(ctx, id)
}

func (s *Service) ListRules(ctx context.Context) ([]Rule, error) {
	return s.rules.List(ctx, false)
}

// -- Flags --

func (s *Service) ListClientFlags(ctx context.Context, clientID uuid.UUID, includeCleared bool) ([]ClientFlag, error) {
	return s.flags.ListByClient(ctx, clientID, includeCleared)
}

// RaiseManual opens a flag on behalf of a clinician.
func (s *Service) RaiseManual(ctx context.Context, f *ClientFlag, actor string, at time.Time) error {
	if !ValidType(f.Type) {
		return fmt.Errorf("%w %q", ErrInvalidType, f.Type)
	}
	if strings.TrimSpace(f.Reason) == "" {
		return errors.New("reason is required")
	}
	if _, err := s.snapshots.Snapshot(ctx, f.ClientID); err != nil {
		return err
	}
	f.RaisedAt = at
	f.RaisedBy = actor
	f.RuleID = nil
	f.Cleared = false
	if err := s.flags.Create(ctx, f); err != nil {
		return err
	}
	s.publish(ctx, EventFlagRaised, FlagEvent{
		FlagID: f.ID, ClientID: f.ClientID, Type: f.Type, Reason: f.Reason, Actor: actor, At: at,
	})
	return nil
}

// ClearFlag closes an open flag. Clearing is one-way.
func (s *Service) ClearFlag(ctx context.Context, id uuid.UUID, actor string, note *string, at time.Time) (*ClientFlag, error) {
	f, err := s.flags.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if f.Cleared {
		return nil, ErrAlreadyCleared
	}
	if err := s.flags.Clear(ctx, id, actor, note, at); err != nil {
		return nil, err
	}
	f.Cleared = true
	f.ClearedAt = &at
	f.ClearedBy = &actor
	f.ClearanceNote = note
	reason := ""
	if note != nil {
		reason = *note
	}
	s.publish(ctx, EventFlagCleared, FlagEvent{
		FlagID: f.ID, ClientID: f.ClientID, Type: f.Type, RuleID: f.RuleID, Reason: reason, Actor: actor, At: at,
	})
	return f, nil
}

// EvaluateClient runs the active rules against the client as of at. With
// apply set, raise decisions are persisted and, when auto-clear is on,
// flags whose rule no longer holds are cleared by the system actor.
func (s *Service) EvaluateClient(ctx context.Context, clientID uuid.UUID, at time.Time, apply bool) (*Evaluation, error) {
	snap, err := s.snapshots.Snapshot(ctx, clientID)
	if err != nil {
		return nil, err
	}
	rules, err := s.rules.List(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("load flag rules: %w", err)
	}

	ev := s.engine.Evaluate(snap, rules, at)
	var clears Evaluation
	if s.autoClear {
		clears = s.engine.EvaluateClearances(snap, rules, at)
	}
	if apply {
		if err := s.applyRaises(ctx, clientID, ev.Decisions, at); err != nil {
			return nil, err
		}
		if err := s.applyClears(ctx, clientID, clears.Decisions, at); err != nil {
			return nil, err
		}
	}
	ev.Decisions = append(ev.Decisions, clears.Decisions...)
	return &ev, nil
}

func (s *Service) applyRaises(ctx context.Context, clientID uuid.UUID, decisions []Decision, at time.Time) error {
	for i := range decisions {
		d := &decisions[i]
		if d.Action != ActionRaise {
			continue
		}
		ruleID := d.RuleID
		f := ClientFlag{
			ClientID: clientID,
			Type:     d.FlagType,
			Reason:   d.Reason,
			RaisedAt: at,
			RaisedBy: auth.SystemActor,
			RuleID:   &ruleID,
		}
		err := s.flags.Create(ctx, &f)
		if errors.Is(err, ErrAlreadyOpen) {
			// Another evaluation raised it first.
			d.Action = ActionNoAction
			d.Reason = reasonAlreadyOpen
			continue
		}
		if err != nil {
			return fmt.Errorf("raise %s flag: %w", d.FlagType, err)
		}
		id := f.ID
		d.FlagID = &id
		s.logger.Info().
			Str("client_id", clientID.String()).
			Str("flag_type", d.FlagType).
			Str("rule", d.RuleName).
			Msg("flag raised")
		s.publish(ctx, EventFlagRaised, FlagEvent{
			FlagID: f.ID, ClientID: clientID, Type: f.Type, RuleID: f.RuleID, Reason: f.Reason, Actor: auth.SystemActor, At: at,
		})
	}
	return nil
}

func (s *Service) applyClears(ctx context.Context, clientID uuid.UUID, decisions []Decision, at time.Time) error {
	for _, d := range decisions {
		if d.Action != ActionClear || d.FlagID == nil {
			continue
		}
		note := "auto-cleared: " + d.Reason
		err := s.flags.Clear(ctx, *d.FlagID, auth.SystemActor, &note, at)
		if errors.Is(err, ErrAlreadyCleared) {
			continue
		}
		if err != nil {
			return fmt.Errorf("clear flag %s: %w", d.FlagID, err)
		}
		s.logger.Info().
			Str("client_id", clientID.String()).
			Str("flag_type", d.FlagType).
			Str("rule", d.RuleName).
			Msg("flag auto-cleared")
		ruleID := d.RuleID
		s.publish(ctx, EventFlagCleared, FlagEvent{
			FlagID: *d.FlagID, ClientID: clientID, Type: d.FlagType, RuleID: &ruleID, Reason: note, Actor: auth.SystemActor, At: at,
		})
	}
	return nil
}

func (s *Service) publish(ctx context.Context, key string, evt FlagEvent) {
	if s.publisher == nil {
		return
	}
	evt.Tenant = db.TenantFromContext(ctx)
	if err := s.publisher.Publish(ctx, key, evt); err != nil {
		s.logger.Error().Err(err).Str("flag_id", evt.FlagID.String()).Msgf("publish %s failed", key)
	}
}
