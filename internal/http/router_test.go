package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/odin/gateway/internal/auth"
	"github.com/odin/gateway/internal/config"
	"github.com/odin/gateway/internal/delivery"
	"github.com/odin/gateway/internal/http/handlers"
	"github.com/odin/gateway/internal/presence"
	"github.com/odin/gateway/internal/session"
	"github.com/odin/gateway/internal/undelivered"
	"github.com/odin/gateway/internal/ws"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func init() { gin.SetMode(gin.TestMode) }

func testConfig() config.Config {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

func signedToken(t *testing.T, secret, subject string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": subject})
	s, err := tok.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

type stubPresence struct {
	pod string
	ok  bool
}

func (s stubPresence) Lookup(ctx context.Context, userID string) (string, bool, error) {
	return s.pod, s.ok, nil
}

type stubDelivery struct {
	result delivery.Result
}

func (s stubDelivery) DeliverHTTP(ctx context.Context, from, target, body string) (delivery.Result, error) {
	return s.result, nil
}

type stubBacklog struct{}

func (stubBacklog) Fetch(ctx context.Context, receiverID string) ([]undelivered.Envelope, error) {
	return nil, nil
}
func (stubBacklog) DeleteAll(ctx context.Context, receiverID string) error { return nil }
func (stubBacklog) Has(ctx context.Context, receiverID string) (bool, error) {
	return false, nil
}

func newTestEngine(t *testing.T, secret string) *gin.Engine {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	verifier := auth.NewVerifier(secret)
	hub := ws.NewHub(session.NewTable(), presence.New(rdb), verifier, "pod-a", 65536, 30*time.Second, 10*time.Second, 8)
	gw := handlers.NewGateway(stubPresence{pod: "pod-b", ok: true}, stubDelivery{result: delivery.Delivered}, stubBacklog{})

	r := gin.New()
	RegisterRoutes(r, hub, gw, verifier, testConfig())
	return r
}

func TestHealthEndpoint(t *testing.T) {
	r := newTestEngine(t, "test-secret")
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestUserStatusEndpoint_NoAuthRequired(t *testing.T) {
	r := newTestEngine(t, "test-secret")
	req := httptest.NewRequest(http.MethodGet, "/v1/websocket/user-status/42", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}
}

func TestSendMessageEndpoint_RequiresBearer(t *testing.T) {
	r := newTestEngine(t, "test-secret")
	req := httptest.NewRequest(http.MethodPost, "/v1/websocket/send-message",
		strings.NewReader(`{"receiverId":"2","actualMessage":"hi"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestSendMessageEndpoint_ValidBearer(t *testing.T) {
	r := newTestEngine(t, "test-secret")
	body := `{"receiverId":"2","actualMessage":"hi"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/websocket/send-message",
		strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+signedToken(t, "test-secret", "1"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}
}

func TestCheckUndeliveredEndpoint_ValidBearer(t *testing.T) {
	r := newTestEngine(t, "test-secret")
	req := httptest.NewRequest(http.MethodGet, "/v1/messages/undelivered/check", nil)
	req.Header.Set("Authorization", "Bearer "+signedToken(t, "test-secret", "2"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}
	var resp handlers.CheckUndeliveredResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.ReceiverID != "2" {
		t.Fatalf("ReceiverID = %q, want 2", resp.ReceiverID)
	}
}

func TestNoRoute(t *testing.T) {
	r := newTestEngine(t, "test-secret")
	req := httptest.NewRequest(http.MethodGet, "/nonexistent", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}
