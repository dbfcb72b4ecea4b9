package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/outcomes/outcomes/internal/config"
	"github.com/outcomes/outcomes/internal/domain/client"
	"github.com/outcomes/outcomes/internal/domain/flag"
	"github.com/outcomes/outcomes/internal/domain/measure"
	"github.com/outcomes/outcomes/internal/domain/quality"
	"github.com/outcomes/outcomes/internal/platform/middleware"
)

// ---------------------------------------------------------------------------
// configuration helpers
// ---------------------------------------------------------------------------

func TestJWTConfig_SigningKey(t *testing.T) {
	jc := jwtConfig(&config.Config{AuthIssuer: "https://idp", AuthSigningKey: "shared"})
	if string(jc.SigningKey) != "shared" || jc.Issuer != "https://idp" {
		t.Errorf("unexpected jwt config %+v", jc)
	}
}

func TestJWTConfig_JWKS(t *testing.T) {
	jc := jwtConfig(&config.Config{AuthJWKSURL: "https://idp/jwks"})
	if jc.SigningKey != nil || jc.JWKSURL != "https://idp/jwks" {
		t.Errorf("expected JWKS validation, got %+v", jc)
	}
}

func TestRateLimitConfig(t *testing.T) {
	rl := rateLimitConfig(&config.Config{RateLimitRPS: 10, RateLimitBurst: 20})
	if rl.RequestsPerSecond != 10 || rl.BurstSize != 20 {
		t.Errorf("unexpected config %+v", rl)
	}
	if got := rateLimitConfig(&config.Config{}); got != middleware.DefaultRateLimitConfig() {
		t.Errorf("expected defaults for unset limits, got %+v", got)
	}
}

// ---------------------------------------------------------------------------
// routes
// ---------------------------------------------------------------------------

func testApp() *app {
	logger := zerolog.Nop()
	clients := client.NewService(nil, nil, logger)
	return &app{
		cfg:      &config.Config{Env: "development", DefaultTenant: "default", RateLimitRPS: 100, RateLimitBurst: 100},
		logger:   logger,
		clients:  clients,
		measures: measure.NewService(nil, nil, logger),
		flags:    flag.NewService(nil, nil, clients, logger),
		quality:  quality.NewService(nil, clients, logger),
	}
}

func TestNewEcho_Routes(t *testing.T) {
	e := newEcho(testApp())

	registered := make(map[string]bool)
	for _, r := range e.Routes() {
		registered[r.Method+" "+r.Path] = true
	}
	for _, want := range []string{
		"GET /health",
		"GET /health/db",
		"POST /api/v1/measures",
		"POST /api/v1/measures/:id/score",
		"POST /api/v1/forms/:id/submit",
		"GET /api/v1/clients/:id",
		"POST /api/v1/flag-rules",
		"POST /api/v1/clients/:id/flags/evaluate",
		"POST /api/v1/flags/:id/clear",
		"GET /api/v1/clients/:id/data-quality",
		"DELETE /api/v1/data-quality/requirements/:id",
	} {
		if !registered[want] {
			t.Errorf("route %s not registered", want)
		}
	}
}

func TestNewEcho_HealthWithoutDependencies(t *testing.T) {
	e := newEcho(testApp())
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

// ---------------------------------------------------------------------------
// CORE-10 seed
// ---------------------------------------------------------------------------

type mockDefinitionRepo struct {
	defs    map[uuid.UUID]*measure.Definition
	lookErr error
}

func (m *mockDefinitionRepo) Create(_ context.Context, d *measure.Definition) error {
	m.defs[d.ID] = d
	return nil
}

func (m *mockDefinitionRepo) GetByID(_ context.Context, id uuid.UUID) (*measure.Definition, error) {
	d, ok := m.defs[id]
	if !ok {
		return nil, measure.ErrNotFound
	}
	return d, nil
}

func (m *mockDefinitionRepo) LatestVersion(_ context.Context, code string) (int, error) {
	if m.lookErr != nil {
		return 0, m.lookErr
	}
	v := 0
	for _, d := range m.defs {
		if d.Code == code && d.Version > v {
			v = d.Version
		}
	}
	return v, nil
}

func (m *mockDefinitionRepo) SetActive(_ context.Context, id uuid.UUID, active bool) error {
	d, ok := m.defs[id]
	if !ok {
		return measure.ErrNotFound
	}
	d.Active = active
	return nil
}

func (m *mockDefinitionRepo) List(_ context.Context, limit, offset int) ([]*measure.Definition, int, error) {
	var out []*measure.Definition
	for _, d := range m.defs {
		out = append(out, d)
	}
	return out, len(out), nil
}

func TestSeedCORE10(t *testing.T) {
	repo := &mockDefinitionRepo{defs: make(map[uuid.UUID]*measure.Definition)}
	ctx := context.Background()

	created, err := seedCORE10(ctx, repo, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created || len(repo.defs) != 1 {
		t.Fatalf("expected one definition created, got %d", len(repo.defs))
	}
	for _, d := range repo.defs {
		if d.Code != "CORE-10" || d.Version != 1 || !d.Active {
			t.Errorf("unexpected definition %s v%d active=%v", d.Code, d.Version, d.Active)
		}
	}

	created, err = seedCORE10(ctx, repo, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error on reseed: %v", err)
	}
	if created || len(repo.defs) != 1 {
		t.Errorf("expected reseed to be a no-op, got %d definitions", len(repo.defs))
	}
}

func TestSeedCORE10_LookupError(t *testing.T) {
	repo := &mockDefinitionRepo{defs: make(map[uuid.UUID]*measure.Definition), lookErr: errors.New("db down")}
	if _, err := seedCORE10(context.Background(), repo, zerolog.Nop()); err == nil {
		t.Fatal("expected error")
	}
}
