package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/opine-ai/opine/config"
	"github.com/opine-ai/opine/internal/session"
)

func TestJWTRoundTrip(t *testing.T) {
	secret := []byte("test-secret")
	token, err := SignJWT("user-1", secret, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	e := echo.New()
	var gotSubject string
	handler := AuthMiddleware(secret)(func(c echo.Context) error {
		sub, _ := SubjectFromContext(c.Request().Context())
		gotSubject = sub
		return c.NoContent(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	if err := handler(e.NewContext(req, rec)); err != nil {
		t.Fatalf("middleware rejected valid token: %v", err)
	}
	if gotSubject != "user-1" {
		t.Fatalf("subject lost: %q", gotSubject)
	}

	// Wrong secret must be rejected.
	req2 := httptest.NewRequest(http.MethodGet, "/", nil)
	req2.Header.Set("Authorization", "Bearer "+token)
	bad := AuthMiddleware([]byte("other"))(func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	if err := bad(e.NewContext(req2, httptest.NewRecorder())); err == nil {
		t.Fatalf("expected rejection for wrong secret")
	}

	// Missing token must be rejected.
	req3 := httptest.NewRequest(http.MethodGet, "/", nil)
	if err := handler(e.NewContext(req3, httptest.NewRecorder())); err == nil {
		t.Fatalf("expected rejection for missing token")
	}
}

func TestLoadJWTSecretPreference(t *testing.T) {
	cfg := &config.Config{}
	if _, err := LoadJWTSecret(cfg); err == nil {
		t.Fatalf("expected error when no secret configured")
	}
	cfg.General.JWTSecret = "general"
	if s, _ := LoadJWTSecret(cfg); string(s) != "general" {
		t.Fatalf("general secret not used")
	}
	cfg.Server.JWTSecret = "server"
	if s, _ := LoadJWTSecret(cfg); string(s) != "server" {
		t.Fatalf("server secret must win over general")
	}
}

func TestHistoryEndpoint(t *testing.T) {
	store := session.NewInMemoryStore()
	_ = store.Append(context.Background(), "s1", session.Turn{ID: "t1", Role: session.RoleUser, Content: "hi"})
	_ = store.Append(context.Background(), "s1", session.Turn{ID: "t2", Role: session.RoleAssistant, Content: "hello"})
	h := &ChatHandler{Sessions: store}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/sessions/s1/history", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/api/sessions/:id/history")
	c.SetParamNames("id")
	c.SetParamValues("s1")

	if err := h.history(c); err != nil {
		t.Fatalf("history: %v", err)
	}
	var body struct {
		Turns []session.Turn `json:"turns"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if len(body.Turns) != 2 || body.Turns[0].ID != "t1" {
		t.Fatalf("unexpected turns %+v", body.Turns)
	}
}

func TestHistoryEndpointRejectsBadLimit(t *testing.T) {
	h := &ChatHandler{Sessions: session.NewInMemoryStore()}
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/sessions/s1/history?limit=-3", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("s1")
	err := h.history(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative limit, got %v", err)
	}
}
