package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"faceattend/internal/attendance"
	"faceattend/internal/auth"
	"faceattend/internal/config"
	"faceattend/internal/fraud"
	"faceattend/internal/store"
	"faceattend/internal/users"
)

type testDeps struct {
	cfg      config.App
	db       *store.DB
	users    *users.Repository
	detector *fraud.Detector
}

func newTestServer(t *testing.T) (*gin.Engine, *testDeps) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := store.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	cfg := config.App{
		JWTIssuer:     "faceattend",
		JWTSigningKey: "test-signing-key",
		AccessTTL:     time.Hour,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	userRepo := users.NewRepository(db)
	alertRepo := fraud.NewRepository(db)
	recordRepo := attendance.NewRepository(db)
	detector := fraud.NewDetector(alertRepo, recordRepo, fraud.NewRing(16), nil, nil, logger)

	a := &api{
		cfg:       cfg,
		markLimit: func(c *gin.Context) { c.Next() },
		logger:    logger,
		users:     userRepo,
		alerts:    alertRepo,
		detector:  detector,
	}
	r := gin.New()
	a.register(r)

	return r, &testDeps{cfg: cfg, db: db, users: userRepo, detector: detector}
}

func bearer(t *testing.T, deps *testDeps, subject, role string) string {
	t.Helper()
	tok, err := auth.Issue(subject, role, deps.cfg.JWTIssuer, deps.cfg.JWTSigningKey, deps.cfg.AccessTTL)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return "Bearer " + tok.Value
}

func doJSON(r *gin.Engine, method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			panic(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestLoginUnknownEmailHidesExistence(t *testing.T) {
	r, _ := newTestServer(t)

	w := doJSON(r, http.MethodPost, "/v1/auth/login", "",
		map[string]string{"email": "ghost@example.org", "password": "whatever"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if !strings.Contains(w.Body.String(), "invalid credentials") {
		t.Fatalf("body = %s", w.Body.String())
	}
}

func TestLoginWrongPassword(t *testing.T) {
	r, deps := newTestServer(t)

	hash, err := users.HashPassword("right-password")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	u := &users.User{Name: "Ada", Email: "ada@example.org", PasswordHash: hash, Role: users.RoleStudent, IsActive: true}
	if err := deps.users.Create(context.Background(), u); err != nil {
		t.Fatalf("create user: %v", err)
	}

	w := doJSON(r, http.MethodPost, "/v1/auth/login", "",
		map[string]string{"email": "ada@example.org", "password": "wrong"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestLoginDatabaseOutageIsNotUnauthorized(t *testing.T) {
	r, deps := newTestServer(t)

	deps.db.Close()

	w := doJSON(r, http.MethodPost, "/v1/auth/login", "",
		map[string]string{"email": "ada@example.org", "password": "whatever"})
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if strings.Contains(w.Body.String(), "invalid credentials") {
		t.Fatalf("outage reported as bad credentials: %s", w.Body.String())
	}
}

func TestListAlertsIsAdminOnly(t *testing.T) {
	r, deps := newTestServer(t)

	if w := doJSON(r, http.MethodGet, "/v1/alerts", bearer(t, deps, "staff-1", users.RoleStaff), nil); w.Code != http.StatusForbidden {
		t.Fatalf("staff status = %d, want 403", w.Code)
	}
	if w := doJSON(r, http.MethodGet, "/v1/alerts", bearer(t, deps, "admin-1", users.RoleAdmin), nil); w.Code != http.StatusOK {
		t.Fatalf("admin status = %d, want 200", w.Code)
	}
}

func TestListAlertsLiveServesRing(t *testing.T) {
	r, deps := newTestServer(t)

	alert, err := deps.detector.Raise(context.Background(), "user-1",
		fraud.TypeDuplicate, "marked twice within the cooldown window", fraud.SeverityMedium)
	if err != nil {
		t.Fatalf("raise: %v", err)
	}

	w := doJSON(r, http.MethodGet, "/v1/alerts?live=true", bearer(t, deps, "admin-1", users.RoleAdmin), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), alert.ID) {
		t.Fatalf("live alerts missing %s: %s", alert.ID, w.Body.String())
	}
}
