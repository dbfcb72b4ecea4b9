package quality

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/outcomes/outcomes/internal/domain/client"
	"github.com/outcomes/outcomes/internal/platform/middleware"
)

type mockRepo struct {
	items []Requirement
}

func (m *mockRepo) Create(_ context.Context, r *Requirement) error {
	r.ID = uuid.New()
	m.items = append(m.items, *r)
	return nil
}

func (m *mockRepo) Delete(_ context.Context, id uuid.UUID) error {
	for i, r := range m.items {
		if r.ID == id {
			m.items = append(m.items[:i], m.items[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (m *mockRepo) List(context.Context) ([]Requirement, error) {
	return m.items, nil
}

type mockClients struct {
	clients map[uuid.UUID]client.Client
	scores  map[uuid.UUID]int
	failing bool
}

func (m *mockClients) Snapshot(_ context.Context, id uuid.UUID) (*client.Snapshot, error) {
	c, ok := m.clients[id]
	if !ok {
		return nil, client.ErrNotFound
	}
	return client.NewSnapshot(c, nil, nil, nil, nil, nil), nil
}

func (m *mockClients) RecordDataQuality(_ context.Context, id uuid.UUID, score int, _ time.Time) error {
	if m.failing {
		return errors.New("db down")
	}
	m.scores[id] = score
	return nil
}

func newTestService() (*Service, *mockRepo, *mockClients) {
	repo := &mockRepo{}
	clients := &mockClients{clients: make(map[uuid.UUID]client.Client), scores: make(map[uuid.UUID]int)}
	return NewService(repo, clients, zerolog.Nop()), repo, clients
}

func TestCreateRequirement(t *testing.T) {
	svc, repo, _ := newTestService()
	r := &Requirement{FieldName: "Email", Required: true}
	if err := svc.CreateRequirement(context.Background(), r); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Weight != 1 || r.Stage != StageIntake || len(repo.items) != 1 {
		t.Errorf("expected defaults weight 1 stage Intake, got %+v", r)
	}
}

func TestCreateRequirement_UnknownField(t *testing.T) {
	svc, _, _ := newTestService()
	err := svc.CreateRequirement(context.Background(), &Requirement{FieldName: "Horoscope", Required: true})
	if !errors.Is(err, ErrUnknownField) {
		t.Fatalf("expected ErrUnknownField, got %v", err)
	}
}

func TestCalculateForClient_Persists(t *testing.T) {
	svc, _, clients := newTestService()
	ctx := context.Background()
	id := uuid.New()
	clients.clients[id] = client.Client{ID: id, Email: strp("a@b.c")}
	svc.CreateRequirement(ctx, &Requirement{FieldName: "Email", Required: true})
	svc.CreateRequirement(ctx, &Requirement{FieldName: "Phone", Required: true})

	res, err := svc.CalculateForClient(ctx, id, calcTime)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Score != 3 || clients.scores[id] != 3 {
		t.Errorf("expected stored score 3, got result %d stored %d", res.Score, clients.scores[id])
	}
}

func TestCalculateForClient_StoreFailure(t *testing.T) {
	svc, _, clients := newTestService()
	id := uuid.New()
	clients.clients[id] = client.Client{ID: id}
	clients.failing = true
	if _, err := svc.CalculateForClient(context.Background(), id, calcTime); err == nil {
		t.Fatal("expected error")
	}
}

// -- Handler Tests --

func TestHandler_CreateRequirement(t *testing.T) {
	svc, _, _ := newTestService()
	h := NewHandler(svc)
	e := echo.New()
	e.Validator = middleware.NewValidator()

	body := `{"field_name":"Ethnicity","required":true,"stage":"Intake","weight":2}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	if err := h.CreateRequirement(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated || !strings.Contains(rec.Body.String(), `"weight":2`) {
		t.Errorf("unexpected response %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandler_CreateRequirement_BadStage(t *testing.T) {
	svc, _, _ := newTestService()
	h := NewHandler(svc)
	e := echo.New()
	e.Validator = middleware.NewValidator()

	body := `{"field_name":"Email","required":true,"stage":"Aftercare"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)

	err := h.CreateRequirement(e.NewContext(req, httptest.NewRecorder()))
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestHandler_CalculateForClient(t *testing.T) {
	svc, _, clients := newTestService()
	h := NewHandler(svc)
	h.now = func() time.Time { return calcTime }
	id := uuid.New()
	clients.clients[id] = client.Client{ID: id}

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(id.String())

	if err := h.CalculateForClient(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"score":5`) {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}
}

func TestHandler_CalculateForClient_NotFound(t *testing.T) {
	svc, _, _ := newTestService()
	h := NewHandler(svc)
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())

	err := h.CalculateForClient(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
}

func TestHandler_DeleteRequirement_NotFound(t *testing.T) {
	svc, _, _ := newTestService()
	h := NewHandler(svc)
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodDelete, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())

	err := h.DeleteRequirement(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
}
