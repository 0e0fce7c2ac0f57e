package trip

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cbram/travel-companion-sub002/internal/auth"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
)

const tripSecret = "trip-test-secret"

func newTripApp(t *testing.T) (*fiber.App, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	app := fiber.New()
	RegisterRoutes(app.Group("/trips"), NewService(mock), auth.JWTMiddleware(tripSecret))
	return app, mock
}

func tripToken(t *testing.T) string {
	t.Helper()
	token, err := auth.SignToken(tripSecret, "user-1", time.Minute)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestCreateTripEndpoint(t *testing.T) {
	app, mock := newTripApp(t)
	defer mock.Close()

	mock.ExpectQuery(`INSERT INTO trips`).
		WithArgs(pgxmock.AnyArg(), "Alps Crossing", "", "user-1", "active", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(time.Now()))

	req := httptest.NewRequest("POST", "/trips/", bytes.NewReader([]byte(`{"name":"Alps Crossing"}`)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+tripToken(t))

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var created Trip
	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("decode trip: %v", err)
	}
	if created.OwnerID != "user-1" {
		t.Fatalf("expected owner from token, got %q", created.OwnerID)
	}
}

func TestCreateTripRequiresName(t *testing.T) {
	app, mock := newTripApp(t)
	defer mock.Close()

	req := httptest.NewRequest("POST", "/trips/", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+tripToken(t))

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestGetTripNotFound(t *testing.T) {
	app, mock := newTripApp(t)
	defer mock.Close()

	mock.ExpectQuery(`SELECT id, name, description`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	req := httptest.NewRequest("GET", "/trips/missing", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestActiveTripNotFound(t *testing.T) {
	app, mock := newTripApp(t)
	defer mock.Close()

	mock.ExpectQuery(`SELECT id FROM trips`).
		WithArgs("user-1").
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	req := httptest.NewRequest("GET", "/trips/active", nil)
	req.Header.Set("Authorization", "Bearer "+tripToken(t))

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestEndTripEndpoint(t *testing.T) {
	app, mock := newTripApp(t)
	defer mock.Close()

	mock.ExpectExec(`UPDATE trips SET status='ended'`).
		WithArgs("trip-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	req := httptest.NewRequest("POST", "/trips/trip-1/end", nil)
	req.Header.Set("Authorization", "Bearer "+tripToken(t))

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
