package measure

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/outcomes/outcomes/internal/platform/db"
)

// EventFormSubmitted is the routing key published after a form is scored.
const EventFormSubmitted = "form.submitted"

// FormSubmittedEvent is the payload of EventFormSubmitted.
type FormSubmittedEvent struct {
	Tenant       string          `json:"tenant"`
	FormID       uuid.UUID       `json:"form_id"`
	ClientID     uuid.UUID       `json:"client_id"`
	MeasureID    uuid.UUID       `json:"measure_id"`
	MeasureCode  string          `json:"measure_code"`
	Total        decimal.Decimal `json:"total"`
	Flags        []string        `json:"flags"`
	RiskDetected bool            `json:"risk_detected"`
	SubmittedBy  string          `json:"submitted_by"`
	SubmittedAt  time.Time       `json:"submitted_at"`
}

// Publisher delivers domain events to the message broker.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload interface{}) error
}

// SubmitHook runs after a form has been scored and stored.
type SubmitHook interface {
	FormSubmitted(ctx context.Context, evt FormSubmittedEvent) error
}

type Service struct {
	defs      DefinitionRepository
	forms     FormRepository
	cache     DefinitionCache
	publisher Publisher
	hooks     []SubmitHook
	logger    zerolog.Logger
}

func NewService(defs DefinitionRepository, forms FormRepository, logger zerolog.Logger) *Service {
	return &Service{defs: defs, forms: forms, logger: logger}
}

func (s *Service) SetCache(c DefinitionCache) { s.cache = c }
func (s *Service) SetPublisher(p Publisher)   { s.publisher = p }
func (s *Service) AddSubmitHook(h SubmitHook) { s.hooks = append(s.hooks, h) }

// -- Definitions --

// CreateDefinition stores a new definition. Submitting a code that already
// exists creates the next version; earlier versions are left untouched.
func (s *Service) CreateDefinition(ctx context.Context, d *Definition) error {
	if err := d.Validate(); err != nil {
		return err
	}
	latest, err := s.defs.LatestVersion(ctx, d.Code)
	if err != nil {
		return fmt.Errorf("lookup version of %s: %w", d.Code, err)
	}
	d.Version = latest + 1
	d.Active = true
	d.AssignIDs()
	return s.defs.Create(ctx, d)
}

func (s *Service) GetDefinition(ctx context.Context, id uuid.UUID) (*Definition, error) {
	tenant := db.TenantFromContext(ctx)
	if s.cache != nil {
		d, err := s.cache.GetDefinition(ctx, tenant, id)
		if err != nil {
			s.logger.Warn().Err(err).Str("measure_id", id.String()).Msg("measure cache read failed")
		} else if d != nil {
			return d, nil
		}
	}

	d, err := s.defs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.SetDefinition(ctx, tenant, d); err != nil {
			s.logger.Warn().Err(err).Str("measure_id", id.String()).Msg("measure cache write failed")
		}
	}
	return d, nil
}

func (s *Service) ListDefinitions(ctx context.Context, limit, offset int) ([]*Definition, int, error) {
	return s.defs.List(ctx, limit, offset)
}

// RetireDefinition stops new administrations of a definition. Forms
// already administered can still be submitted.
func (s *Service) RetireDefinition(ctx context.Context, id uuid.UUID) error {
	if err := s.defs.SetActive(ctx, id, false); err != nil {
		return err
	}
	if s.cache != nil {
		if err := s.cache.InvalidateDefinition(ctx, db.TenantFromContext(ctx), id); err != nil {
			s.logger.Warn().Err(err).Str("measure_id", id.String()).Msg("measure cache invalidate failed")
		}
	}
	return nil
}

// -- Scoring --

func (s *Service) PreviewScore(ctx context.Context, measureID uuid.UUID, answers AnswerSet, mode CompletionMode) (*ScoreResult, error) {
	def, err := s.GetDefinition(ctx, measureID)
	if err != nil {
		return nil, err
	}
	return Score(def, answers, mode)
}

func (s *Service) CheckRisk(ctx context.Context, measureID uuid.UUID, answers AnswerSet) ([]string, error) {
	def, err := s.GetDefinition(ctx, measureID)
	if err != nil {
		return nil, err
	}
	return TriggeredRiskItems(def, answers), nil
}

// -- Forms --

func (s *Service) AdministerForm(ctx context.Context, f *AdministeredForm, actor string, at time.Time) error {
	if f.ClientID == uuid.Nil {
		return fmt.Errorf("client_id is required")
	}
	if f.MeasureID == uuid.Nil {
		return fmt.Errorf("measure_id is required")
	}
	def, err := s.GetDefinition(ctx, f.MeasureID)
	if err != nil {
		return err
	}
	if !def.Active {
		return ErrMeasureInactive
	}
	f.Status = FormPending
	f.AdministeredBy = actor
	f.AdministeredAt = at
	return s.forms.Create(ctx, f)
}

func (s *Service) GetForm(ctx context.Context, id uuid.UUID) (*AdministeredForm, error) {
	return s.forms.GetByID(ctx, id)
}

func (s *Service) ListClientForms(ctx context.Context, clientID uuid.UUID, limit, offset int) ([]*AdministeredForm, int, error) {
	return s.forms.ListByClient(ctx, clientID, limit, offset)
}

// SubmitForm scores answers in strict mode, stores the result and notifies
// the publisher and submit hooks. Hook and publish failures are logged and do
// not undo the submission.
func (s *Service) SubmitForm(ctx context.Context, formID uuid.UUID, answers []Answer, actor string, at time.Time) (*AdministeredForm, *ScoreResult, error) {
	f, err := s.forms.GetByID(ctx, formID)
	if err != nil {
		return nil, nil, err
	}
	if f.Status == FormSubmitted {
		return nil, nil, ErrAlreadySubmitted
	}
	def, err := s.GetDefinition(ctx, f.MeasureID)
	if err != nil {
		return nil, nil, err
	}

	set := make(AnswerSet, len(answers))
	for _, a := range answers {
		if _, dup := set[a.ItemID]; dup {
			return nil, nil, fmt.Errorf("duplicate answer for item %s", a.ItemID)
		}
		set[a.ItemID] = a.Value
	}

	result, err := Score(def, set, Strict)
	if err != nil {
		return nil, nil, err
	}

	submittedAt := at
	total := result.Total
	f.Answers = answers
	for i := range f.Answers {
		f.Answers[i].FormID = f.ID
	}
	f.Status = FormSubmitted
	f.SubmittedAt = &submittedAt
	f.TotalScore = &total
	f.SubscaleScores = result.Subscales
	f.Flags = result.Flags
	if err := s.forms.Submit(ctx, f); err != nil {
		return nil, nil, err
	}

	evt := FormSubmittedEvent{
		Tenant:       db.TenantFromContext(ctx),
		FormID:       f.ID,
		ClientID:     f.ClientID,
		MeasureID:    def.ID,
		MeasureCode:  def.Code,
		Total:        total,
		Flags:        result.Flags,
		RiskDetected: result.HasFlag(FlagRiskDetected),
		SubmittedBy:  actor,
		SubmittedAt:  submittedAt,
	}
	log := s.logger.With().Str("form_id", f.ID.String()).Str("client_id", f.ClientID.String()).Logger()
	log.Info().Str("measure", def.Code).Str("total", total.String()).Strs("flags", result.Flags).Msg("form submitted")

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, EventFormSubmitted, evt); err != nil {
			log.Error().Err(err).Msg("publish form.submitted failed")
		}
	}
	for _, h := range s.hooks {
		if err := h.FormSubmitted(ctx, evt); err != nil {
			log.Error().Err(err).Msg("post-submit evaluation failed")
		}
	}
	return f, result, nil
}

// IsScoringError reports whether err came from Score rejecting the answers.
func IsScoringError(err error) bool {
	var se *ScoringError
	return errors.As(err, &se)
}
