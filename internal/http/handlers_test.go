package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/example/rickshaw-rides/internal/dispatch"
	"github.com/example/rickshaw-rides/internal/geo"
	"github.com/example/rickshaw-rides/internal/lifecycle"
	"github.com/example/rickshaw-rides/internal/models"
	"github.com/example/rickshaw-rides/internal/observability"
	"github.com/example/rickshaw-rides/internal/points"
	"github.com/example/rickshaw-rides/internal/reports"
	"github.com/example/rickshaw-rides/internal/storage"
)

func newTestServer(t *testing.T) (*Server, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	err := store.SeedLocations(context.Background(), []models.NamedLocation{
		{Block: "CUET_CAMPUS", Name: "CUET Campus", Lat: 22.4633, Lng: 91.9714},
		{Block: "PAHARTOLI", Name: "Pahartoli", Lat: 22.4725, Lng: 91.9845},
	})
	if err != nil {
		t.Fatal(err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	index := geo.NewMemoryIndex()
	engine := &lifecycle.Engine{
		Store:          store,
		Index:          index,
		Log:            logger,
		PendingTimeout: time.Minute,
	}
	ledger := &points.Ledger{Store: store, Log: logger}
	rep := &reports.Service{Store: store}
	return NewServer(store, engine, ledger, rep, index, nil, dispatch.NewRegistry(), logger), store
}

func doJSON(t *testing.T, s *Server, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	out := map[string]any{}
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &out)
	}
	return w, out
}

func TestFullRideFlowOverHTTP(t *testing.T) {
	s, _ := newTestServer(t)

	w, _ := doJSON(t, s, "POST", "/api/rickshaw/register", map[string]any{
		"rickshawID": "RICK001", "puller": "Abdul Karim", "lat": 22.4633, "lng": 91.9714,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("register: %d %s", w.Code, w.Body)
	}

	w, resp := doJSON(t, s, "POST", "/api/ride/request", map[string]any{
		"pickup": "CUET_CAMPUS", "destination": "PAHARTOLI",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("request: %d %s", w.Code, w.Body)
	}
	rideID := int64(resp["rideID"].(float64))

	w, resp = doJSON(t, s, "GET", "/api/ride/pending?rickshawID=RICK001", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("pending: %d %s", w.Code, w.Body)
	}
	if rides := resp["rides"].([]any); len(rides) != 1 {
		t.Fatalf("pending rides = %d, want 1", len(rides))
	}

	w, resp = doJSON(t, s, "POST", "/api/ride/accept", map[string]any{
		"rideID": rideID, "rickshawID": "RICK001",
	})
	if w.Code != http.StatusOK || resp["success"] != true {
		t.Fatalf("accept: %d %v", w.Code, resp)
	}

	// second accept is contention: HTTP 200 with success=false
	w, resp = doJSON(t, s, "POST", "/api/ride/accept", map[string]any{
		"rideID": rideID, "rickshawID": "RICK001",
	})
	if w.Code != http.StatusOK || resp["success"] != false || resp["reason"] != "ALREADY_TAKEN" {
		t.Fatalf("re-accept: %d %v", w.Code, resp)
	}

	w, _ = doJSON(t, s, "POST", "/api/ride/pickup", map[string]any{"rideID": rideID})
	if w.Code != http.StatusOK {
		t.Fatalf("pickup: %d %s", w.Code, w.Body)
	}

	w, resp = doJSON(t, s, "POST", "/api/ride/complete", map[string]any{
		"rideID": rideID, "dropLat": 22.4725, "dropLng": 91.9845,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("complete: %d %s", w.Code, w.Body)
	}
	if resp["points"] != float64(10) || resp["status"] != "COMPLETED" {
		t.Fatalf("complete payload: %v", resp)
	}
	if _, ok := resp["distance"].(string); !ok {
		t.Fatalf("distance must be a formatted string, got %T", resp["distance"])
	}

	w, resp = doJSON(t, s, "GET", "/api/admin/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("stats: %d %s", w.Code, w.Body)
	}
	if resp["rides_today"] != float64(1) || resp["points_today"] != float64(10) {
		t.Fatalf("stats payload: %v", resp)
	}

	w, resp = doJSON(t, s, "GET", "/api/points/history?rickshawID=RICK001", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("history: %d %s", w.Code, w.Body)
	}
	if resp["balance"] != float64(10) {
		t.Fatalf("history balance: %v", resp)
	}
	if txs := resp["transactions"].([]any); len(txs) != 1 {
		t.Fatalf("history transactions = %d, want 1", len(txs))
	}
}

func TestLocationsCatalog(t *testing.T) {
	s, _ := newTestServer(t)
	w, resp := doJSON(t, s, "GET", "/api/locations", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("locations: %d %s", w.Code, w.Body)
	}
	if locs := resp["locations"].([]any); len(locs) != 2 {
		t.Fatalf("locations = %d, want 2", len(locs))
	}
}

func TestRequestMissingFields(t *testing.T) {
	s, _ := newTestServer(t)
	w, _ := doJSON(t, s, "POST", "/api/ride/request", map[string]any{"pickup": "CUET_CAMPUS"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestRideStatusIdleWhenNoRides(t *testing.T) {
	s, _ := newTestServer(t)
	w, resp := doJSON(t, s, "GET", "/api/ride/status?pickup=CUET_CAMPUS", nil)
	if w.Code != http.StatusOK || resp["status"] != "IDLE" {
		t.Fatalf("status: %d %v", w.Code, resp)
	}
}

func TestPendingForUnknownDriverIsEmptyList(t *testing.T) {
	s, _ := newTestServer(t)
	if _, resp := doJSON(t, s, "POST", "/api/ride/request", map[string]any{
		"pickup": "CUET_CAMPUS", "destination": "PAHARTOLI",
	}); resp["rideID"] == nil {
		t.Fatal("seed request failed")
	}
	w, resp := doJSON(t, s, "GET", "/api/ride/pending?rickshawID=ghost", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for unknown driver, got %d", w.Code)
	}
	if rides := resp["rides"].([]any); len(rides) != 0 {
		t.Fatalf("unknown driver got %d rides", len(rides))
	}
}

func TestRedeemInsufficientBalance(t *testing.T) {
	s, store := newTestServer(t)
	if err := store.UpsertRickshaw(context.Background(), models.Rickshaw{ID: "R9", Online: true, UpdatedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
	w, _ := doJSON(t, s, "POST", "/api/points/redeem", map[string]any{
		"rickshawID": "R9", "amount": 100, "reward": "phone-topup",
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d %s", w.Code, w.Body)
	}

	w, _ = doJSON(t, s, "POST", "/api/points/redeem", map[string]any{
		"rickshawID": "nobody", "amount": 1, "reward": "x",
	})
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown driver: expected 404, got %d", w.Code)
	}
}

func TestRegisterGaugeIgnoresReRegisters(t *testing.T) {
	s, _ := newTestServer(t)
	before := testutil.ToFloat64(observability.RickshawsOnline)

	for i := 0; i < 3; i++ {
		w, _ := doJSON(t, s, "POST", "/api/rickshaw/register", map[string]any{
			"rickshawID": "RICK777", "puller": "Abdul Karim", "lat": 22.4633, "lng": 91.9714,
		})
		if w.Code != http.StatusOK {
			t.Fatalf("register %d: %d %s", i, w.Code, w.Body)
		}
	}

	if got := testutil.ToFloat64(observability.RickshawsOnline) - before; got != 1 {
		t.Fatalf("gauge moved by %v after re-registers, want 1", got)
	}
}

func TestWSSessionReapedOnClose(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/RICK001"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}

	// the session registers as soon as the upgrade completes
	deadline := time.Now().Add(2 * time.Second)
	for s.WSReg.Send("RICK001", map[string]string{"event": "ping"}) != nil {
		if time.Now().After(deadline) {
			t.Fatal("session never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	conn.Close()

	for !errors.Is(s.WSReg.Send("RICK001", map[string]string{"event": "ping"}), dispatch.ErrNoSession) {
		if time.Now().After(deadline) {
			t.Fatal("closed session was not reaped")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCancelInvalidTransition(t *testing.T) {
	s, _ := newTestServer(t)
	w, _ := doJSON(t, s, "POST", "/api/ride/cancel", map[string]any{
		"rideID": 12345, "rickshawID": "RICK001",
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}
