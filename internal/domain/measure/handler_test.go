package measure

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/outcomes/outcomes/internal/platform/middleware"
)

func newTestHandler() (*Handler, *echo.Echo, *mockDefRepo) {
	svc, defs, _ := newTestService()
	h := NewHandler(svc)
	h.now = func() time.Time { return testTime }
	e := echo.New()
	e.Validator = middleware.NewValidator()
	return h, e, defs
}

func jsonRequest(method, path string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func httpCode(t *testing.T, err error) int {
	t.Helper()
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected *echo.HTTPError, got %T: %v", err, err)
	}
	return he.Code
}

func TestHandler_GetDefinition(t *testing.T) {
	h, e, defs := newTestHandler()
	d := CORE10()
	defs.store[d.ID] = d

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(d.ID.String())

	if err := h.GetDefinition(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"code":"CORE-10"`) {
		t.Errorf("unexpected response %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandler_GetDefinition_NotFound(t *testing.T) {
	h, e, _ := newTestHandler()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())

	if code := httpCode(t, h.GetDefinition(c)); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}
}

func TestHandler_GetDefinition_BadID(t *testing.T) {
	h, e, _ := newTestHandler()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")

	if code := httpCode(t, h.GetDefinition(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_PreviewScore(t *testing.T) {
	h, e, defs := newTestHandler()
	d := CORE10()
	defs.store[d.ID] = d

	answers := map[string]int{}
	for i, v := range []int{2, 2, 1, 3, 0, 2, 1, 3, 2, 0} {
		answers[d.Items[i].ID.String()] = v
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/", map[string]interface{}{"answers": answers}), rec)
	c.SetParamNames("id")
	c.SetParamValues(d.ID.String())

	if err := h.PreviewScore(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"total":"18"`) {
		t.Errorf("expected total 18, got %s", rec.Body.String())
	}
}

func TestHandler_PreviewScore_IncompleteIs422(t *testing.T) {
	h, e, defs := newTestHandler()
	d := CORE10()
	defs.store[d.ID] = d

	body := map[string]interface{}{"answers": map[string]int{d.Items[0].ID.String(): 1}}
	c := e.NewContext(jsonRequest(http.MethodPost, "/", body), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(d.ID.String())

	if code := httpCode(t, h.PreviewScore(c)); code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", code)
	}
}

func TestHandler_PreviewScore_BadMode(t *testing.T) {
	h, e, defs := newTestHandler()
	d := CORE10()
	defs.store[d.ID] = d

	body := map[string]interface{}{"answers": map[string]int{}, "mode": "lenient"}
	c := e.NewContext(jsonRequest(http.MethodPost, "/", body), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(d.ID.String())

	if code := httpCode(t, h.PreviewScore(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_CheckRisk(t *testing.T) {
	h, e, defs := newTestHandler()
	d := CORE10()
	defs.store[d.ID] = d

	body := map[string]interface{}{"answers": map[string]int{d.Items[5].ID.String(): 0}}
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/", body), rec)
	c.SetParamNames("id")
	c.SetParamValues(d.ID.String())

	if err := h.CheckRisk(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp riskResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Risk || len(resp.Items) != 0 {
		t.Errorf("expected no risk, got %+v", resp)
	}
}

func TestHandler_SubmitForm(t *testing.T) {
	h, e, defs := newTestHandler()
	d := CORE10()
	defs.store[d.ID] = d
	f := administer(t, h.svc, d)

	body := submitRequest{Answers: core10Submission(d, 0, 4, 4, 0, 0, 0, 0, 0, 0, 0)}
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/", body), rec)
	c.SetParamNames("id")
	c.SetParamValues(f.ID.String())

	if err := h.SubmitForm(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), fmt.Sprintf(`"status":"%s"`, FormSubmitted)) {
		t.Errorf("expected submitted status, got %s", rec.Body.String())
	}

	c2 := e.NewContext(jsonRequest(http.MethodPost, "/", body), httptest.NewRecorder())
	c2.SetParamNames("id")
	c2.SetParamValues(f.ID.String())
	if code := httpCode(t, h.SubmitForm(c2)); code != http.StatusConflict {
		t.Errorf("expected 409 on resubmit, got %d", code)
	}
}

func TestHandler_SubmitForm_EmptyAnswers(t *testing.T) {
	h, e, _ := newTestHandler()
	c := e.NewContext(jsonRequest(http.MethodPost, "/", submitRequest{}), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())

	if code := httpCode(t, h.SubmitForm(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_CreateDefinition(t *testing.T) {
	h, e, _ := newTestHandler()
	d := testDefinition()
	d.ID = uuid.Nil
	for i := range d.Items {
		d.Items[i].ID = uuid.Nil
	}

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/", d), rec)
	if err := h.CreateDefinition(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated || !strings.Contains(rec.Body.String(), `"version":1`) {
		t.Errorf("unexpected response %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandler_RegisterRoutes(t *testing.T) {
	h, e, _ := newTestHandler()
	h.RegisterRoutes(e.Group("/api/v1"))

	registered := map[string]bool{}
	for _, r := range e.Routes() {
		registered[r.Method+" "+r.Path] = true
	}
	for _, k := range []string{
		"GET /api/v1/measures",
		"POST /api/v1/measures",
		"POST /api/v1/measures/:id/score",
		"POST /api/v1/measures/:id/risk",
		"POST /api/v1/forms/:id/submit",
		"GET /api/v1/clients/:id/forms",
		"DELETE /api/v1/measures/:id",
	} {
		if !registered[k] {
			t.Errorf("route %s not registered", k)
		}
	}
}
