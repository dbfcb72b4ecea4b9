package client

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
	"github.com/shopspring/decimal"

	"github.com/outcomes/outcomes/internal/platform/middleware"
)

// -- Mock Repository --

type mockRepo struct {
	clients  map[uuid.UUID]*Client
	sessions map[uuid.UUID][]Session
	notes    map[uuid.UUID][]CaseNote
	programs []*Program
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		clients:  make(map[uuid.UUID]*Client),
		sessions: make(map[uuid.UUID][]Session),
		notes:    make(map[uuid.UUID][]CaseNote),
	}
}

func (m *mockRepo) Create(_ context.Context, c *Client) error {
	c.ID = uuid.New()
	m.clients[c.ID] = c
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Client, error) {
	c, ok := m.clients[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

func (m *mockRepo) Update(_ context.Context, c *Client) error {
	if _, ok := m.clients[c.ID]; !ok {
		return ErrNotFound
	}
	m.clients[c.ID] = c
	return nil
}

func (m *mockRepo) List(_ context.Context, status string, limit, offset int) ([]*Client, int, error) {
	var out []*Client
	for _, c := range m.clients {
		if status == "" || c.Status == status {
			out = append(out, c)
		}
	}
	return out, len(out), nil
}

func (m *mockRepo) ListIDs(_ context.Context, statuses ...string) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for id, c := range m.clients {
		if len(statuses) == 0 {
			ids = append(ids, id)
			continue
		}
		for _, s := range statuses {
			if c.Status == s {
				ids = append(ids, id)
			}
		}
	}
	return ids, nil
}

func (m *mockRepo) UpdateDataQuality(_ context.Context, id uuid.UUID, score int, at time.Time) error {
	c, ok := m.clients[id]
	if !ok {
		return ErrNotFound
	}
	c.DataQualityScore = &score
	c.DataQualityCalculatedAt = &at
	return nil
}

func (m *mockRepo) AddSession(_ context.Context, s *Session) error {
	s.ID = uuid.New()
	m.sessions[s.ClientID] = append(m.sessions[s.ClientID], *s)
	return nil
}

func (m *mockRepo) ListSessions(_ context.Context, clientID uuid.UUID) ([]Session, error) {
	return m.sessions[clientID], nil
}

func (m *mockRepo) AddNote(_ context.Context, n *CaseNote) error {
	n.ID = uuid.New()
	m.notes[n.ClientID] = append(m.notes[n.ClientID], *n)
	return nil
}

func (m *mockRepo) ListNotes(_ context.Context, clientID uuid.UUID) ([]CaseNote, error) {
	return m.notes[clientID], nil
}

func (m *mockRepo) CreateProgram(_ context.Context, p *Program) error {
	p.ID = uuid.New()
	m.programs = append(m.programs, p)
	return nil
}

func (m *mockRepo) ListPrograms(_ context.Context) ([]*Program, error) {
	return m.programs, nil
}

type mockHistory struct {
	forms    []FormSummary
	measures []MeasureInfo
	open     []OpenFlag
	err      error
}

func (m *mockHistory) Forms(context.Context, uuid.UUID) ([]FormSummary, []MeasureInfo, error) {
	return m.forms, m.measures, m.err
}

func (m *mockHistory) OpenFlags(context.Context, uuid.UUID) ([]OpenFlag, error) {
	return m.open, nil
}

func newTestService() (*Service, *mockRepo, *mockHistory) {
	repo := newMockRepo()
	hist := &mockHistory{}
	return NewService(repo, hist, zerolog.Nop()), repo, hist
}

// -- Tests --

func TestCreateClient_DefaultsToOpen(t *testing.T) {
	svc, _, _ := newTestService()
	c := &Client{ClientCode: "C-001", FirstName: "Ada", LastName: "Byron"}
	if err := svc.CreateClient(context.Background(), c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Status != StatusOpen || c.ID == uuid.Nil {
		t.Errorf("expected open client with id, got %+v", c)
	}
}

func TestCreateClient_ClosedNeedsDate(t *testing.T) {
	svc, _, _ := newTestService()
	c := &Client{ClientCode: "C-002", Status: StatusClosed}
	if err := svc.CreateClient(context.Background(), c); err == nil {
		t.Fatal("expected error for closed client without closed_date")
	}
}

func TestCreateClient_InvalidStatus(t *testing.T) {
	svc, _, _ := newTestService()
	c := &Client{ClientCode: "C-003", Status: "Archived"}
	if err := svc.CreateClient(context.Background(), c); err == nil {
		t.Fatal("expected error for unknown status")
	}
}

func TestRecordSession_UnknownClient(t *testing.T) {
	svc, _, _ := newTestService()
	s := &Session{ClientID: uuid.New(), SessionDate: time.Now(), SessionType: "assessment"}
	if err := svc.RecordSession(context.Background(), s); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSnapshot_Assembles(t *testing.T) {
	svc, repo, hist := newTestService()
	ctx := context.Background()
	c := &Client{ClientCode: "C-010", FirstName: "A", LastName: "B"}
	svc.CreateClient(ctx, c)

	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	svc.RecordSession(ctx, &Session{ClientID: c.ID, SessionDate: at, SessionType: "therapy"})
	m := uuid.New()
	hist.forms = []FormSummary{{FormID: uuid.New(), MeasureID: m, SubmittedAt: at.Add(-day), Total: decimal.NewFromInt(12)}}
	hist.measures = []MeasureInfo{{ID: m, Code: "CORE-10", HigherIsWorse: true}}
	hist.open = []OpenFlag{{ID: uuid.New(), Type: "Risk"}}

	snap, err := svc.Snapshot(ctx, c.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(snap.Sessions) != 1 || len(snap.Scores[m]) != 1 || !snap.HasOpenFlag("Risk") {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
	if !snap.LastActivity.Equal(at) {
		t.Errorf("expected last activity %v, got %v", at, snap.LastActivity)
	}
	if len(repo.sessions[c.ID]) != 1 {
		t.Error("expected session to be stored")
	}
}

func TestSnapshot_HistoryError(t *testing.T) {
	svc, _, hist := newTestService()
	ctx := context.Background()
	c := &Client{ClientCode: "C-011"}
	svc.CreateClient(ctx, c)
	hist.err = errors.New("boom")

	if _, err := svc.Snapshot(ctx, c.ID); err == nil {
		t.Fatal("expected error")
	}
}

func TestRecordDataQuality(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()
	c := &Client{ClientCode: "C-012"}
	svc.CreateClient(ctx, c)

	at := time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC)
	if err := svc.RecordDataQuality(ctx, c.ID, 4, at); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := repo.clients[c.ID].DataQualityScore; got == nil || *got != 4 {
		t.Errorf("expected stored score 4, got %v", got)
	}
}

// -- Handler Tests --

func TestHandler_CreateClient(t *testing.T) {
	svc, _, _ := newTestService()
	h := NewHandler(svc)
	e := echo.New()
	e.Validator = middleware.NewValidator()

	body := `{"client_code":"C-100","first_name":"Grace","last_name":"Hopper","email":"grace@example.org"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	if err := h.CreateClient(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated || !strings.Contains(rec.Body.String(), `"status":"Open"`) {
		t.Errorf("unexpected response %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandler_CreateClient_BadEmail(t *testing.T) {
	svc, _, _ := newTestService()
	h := NewHandler(svc)
	e := echo.New()
	e.Validator = middleware.NewValidator()

	body := `{"client_code":"C-101","first_name":"G","last_name":"H","email":"not-an-email"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)

	err := h.CreateClient(e.NewContext(req, httptest.NewRecorder()))
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestHandler_GetClient_NotFound(t *testing.T) {
	svc, _, _ := newTestService()
	h := NewHandler(svc)
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())

	err := h.GetClient(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
}
