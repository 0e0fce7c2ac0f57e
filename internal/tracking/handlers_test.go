package tracking

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cbram/travel-companion-sub002/internal/auth"
	"github.com/cbram/travel-companion-sub002/internal/lifecycle"
	"github.com/cbram/travel-companion-sub002/internal/power"

	"github.com/gofiber/fiber/v2"
)

const handlerSecret = "handler-test-secret"

type fakeIngestor struct {
	emitted bool
	samples []RawSample
}

func (f *fakeIngestor) Push(s RawSample) bool {
	f.samples = append(f.samples, s)
	return f.emitted
}

func newHandlerApp(t *testing.T, trips TripProvider) (*fiber.App, *Service, *fakeIngestor) {
	t.Helper()
	svc := NewService(newFakeSource(), power.Static{Lvl: 1}, trips, &fakeCommitter{}, nil, Options{})
	coord := lifecycle.NewCoordinator(svc, time.Second)
	ingest := &fakeIngestor{emitted: true}

	app := fiber.New()
	RegisterRoutes(app.Group("/tracking"), svc, ingest, coord, auth.JWTMiddleware(handlerSecret))
	return app, svc, ingest
}

func signedToken(t *testing.T) string {
	t.Helper()
	token, err := auth.SignToken(handlerSecret, "user-1", time.Minute)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestStartRequiresToken(t *testing.T) {
	app, _, _ := newHandlerApp(t, fakeTrips{id: "trip-1"})

	req := httptest.NewRequest("POST", "/tracking/start", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestStartWithoutTripFailsPrecondition(t *testing.T) {
	app, _, _ := newHandlerApp(t, fakeTrips{})

	req := httptest.NewRequest("POST", "/tracking/start", bytes.NewReader([]byte(`{"mode":"tracking"}`)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+signedToken(t))

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusPreconditionFailed {
		t.Fatalf("expected 412, got %d", resp.StatusCode)
	}
}

func TestStartStopRoundTrip(t *testing.T) {
	app, svc, _ := newHandlerApp(t, fakeTrips{id: "trip-1"})

	req := httptest.NewRequest("POST", "/tracking/start", bytes.NewReader([]byte(`{"mode":"tracking"}`)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+signedToken(t))

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var session Session
	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &session); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if session.TripID != "trip-1" || session.Mode != ModeTracking {
		t.Fatalf("unexpected session %+v", session)
	}

	// a second start conflicts
	req = httptest.NewRequest("POST", "/tracking/start", bytes.NewReader([]byte(`{"mode":"tracking"}`)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+signedToken(t))
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}

	req = httptest.NewRequest("POST", "/tracking/stop", nil)
	req.Header.Set("Authorization", "Bearer "+signedToken(t))
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	if svc.Status(req.Context()).IsTracking {
		t.Fatalf("expected tracking stopped")
	}
}

func TestSampleIngestion(t *testing.T) {
	app, _, ingest := newHandlerApp(t, fakeTrips{id: "trip-1"})

	payload, _ := json.Marshal(RawSample{Lat: 52.52, Lng: 13.405, AccuracyM: 8, CapturedAt: t0})
	req := httptest.NewRequest("POST", "/tracking/samples", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+signedToken(t))

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	var out map[string]bool
	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !out["emitted"] {
		t.Fatalf("expected emitted=true")
	}
	if len(ingest.samples) != 1 {
		t.Fatalf("expected sample forwarded to the source")
	}
}

func TestSampleIngestionRejectsInvalid(t *testing.T) {
	app, _, ingest := newHandlerApp(t, fakeTrips{id: "trip-1"})

	payload, _ := json.Marshal(RawSample{Lat: 91, Lng: 0, AccuracyM: 8, CapturedAt: t0})
	req := httptest.NewRequest("POST", "/tracking/samples", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+signedToken(t))

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
	if len(ingest.samples) != 0 {
		t.Fatalf("invalid sample must not reach the source")
	}
}

func TestManualWaypointEndpoint(t *testing.T) {
	app, svc, _ := newHandlerApp(t, fakeTrips{id: "trip-1"})

	payload := []byte(`{"label":"summit","lat":47.42,"lng":10.98}`)
	req := httptest.NewRequest("POST", "/tracking/waypoints", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+signedToken(t))

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusPreconditionFailed {
		t.Fatalf("expected 412 without a session, got %d", resp.StatusCode)
	}

	if _, err := svc.StartTracking(req.Context(), "user-1", "", ModeTracking); err != nil {
		t.Fatalf("start: %v", err)
	}

	req = httptest.NewRequest("POST", "/tracking/waypoints", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+signedToken(t))
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var wp Waypoint
	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &wp); err != nil {
		t.Fatalf("decode waypoint: %v", err)
	}
	if wp.Kind != "manual" || wp.Label != "summit" {
		t.Fatalf("unexpected waypoint %+v", wp)
	}
	_ = svc.StopTracking(req.Context())
}

func TestLifecycleEndpoint(t *testing.T) {
	app, _, _ := newHandlerApp(t, fakeTrips{id: "trip-1"})

	req := httptest.NewRequest("POST", "/tracking/lifecycle", bytes.NewReader([]byte(`{"state":"hibernating"}`)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+signedToken(t))
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("expected 400 for unknown state, got %d", resp.StatusCode)
	}

	req = httptest.NewRequest("POST", "/tracking/lifecycle", bytes.NewReader([]byte(`{"state":"background"}`)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+signedToken(t))
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var out map[string]string
	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out["state"] != "background" {
		t.Fatalf("expected background state, got %q", out["state"])
	}
}

func TestStatusEndpointIsPublic(t *testing.T) {
	app, _, _ := newHandlerApp(t, fakeTrips{id: "trip-1"})

	req := httptest.NewRequest("GET", "/tracking/status", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var st Status
	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if st.IsTracking {
		t.Fatalf("expected idle status")
	}
}
