package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"gamerent/pkg/idempotency"
	"gamerent/pkg/render"
	"gamerent/services/ledger"
	"gamerent/services/notifier"
	"gamerent/services/rentals"
)

type testServer struct {
	api     *API
	handler http.Handler
	svc     *rentals.Service
}

type fakeExporter struct {
	result ledger.Result
	err    error
}

func (f fakeExporter) Export(context.Context) (ledger.Result, error) { return f.result, f.err }

type fakeAnalytics struct{}

func (fakeAnalytics) GameSessionStats(context.Context) ([]rentals.GameStats, error) {
	return []rentals.GameStats{{GameID: "g1", Rentals: 2, DistinctUsers: 2, Revenue: decimal.NewFromInt(240)}}, nil
}

func (fakeAnalytics) Totals(context.Context) (rentals.Totals, error) {
	return rentals.Totals{Rentals: 2, DistinctUsers: 2, Payments: 2, Revenue: decimal.NewFromInt(240)}, nil
}

func newTestServer(t *testing.T, mutate func(*Options)) *testServer {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, rentals.AutoMigrate(db))
	require.NoError(t, notifier.AutoMigrate(db))

	svc, err := rentals.NewService(db)
	require.NoError(t, err)
	notes, err := notifier.New(db, nil)
	require.NoError(t, err)
	engine, err := render.New()
	require.NoError(t, err)

	opts := Options{
		Rentals:       svc,
		Renderer:      engine,
		Notifications: notes,
		Idempotency:   idempotency.NewMemory(time.Hour),
		Logger:        zerolog.Nop(),
	}
	if mutate != nil {
		mutate(&opts)
	}

	a, err := New(opts)
	require.NoError(t, err)
	h, err := a.Routes()
	require.NoError(t, err)
	return &testServer{api: a, handler: h, svc: svc}
}

func (s *testServer) do(t *testing.T, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
}

func TestCreateThenExtendOverHTTP(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/Rentals/createRental", `{"user":"u1","game":"g1","time":"3600","price":100}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	require.Equal(t, "Rental created successfully!", body["message"])
	rental := body["rental"].(map[string]any)
	require.EqualValues(t, 3600, rental["time"])
	require.EqualValues(t, 100, rental["price"])

	rec = s.do(t, http.MethodPut, "/Rentals/extendRentalTime/u1/g1", `{"additionalTime":1800,"additionalPrice":"50"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rental = decodeBody(t, rec)["rental"].(map[string]any)
	require.EqualValues(t, 5400, rental["time"])
	require.EqualValues(t, 150, rental["price"])

	rec = s.do(t, http.MethodGet, "/Rentals/getLatestRental/u1/g1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualValues(t, 5400, decodeBody(t, rec)["time"])

	rec = s.do(t, http.MethodGet, "/Rentals/checkExistingRental/u1/g1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, map[string]any{"hasExistingRental": true, "hasActiveRental": true}, decodeBody(t, rec))
}

func TestExtendUnknownPairIs404(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPut, "/Rentals/extendRentalTime/u9/g9", `{"additionalTime":60,"additionalPrice":1}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "NOT_FOUND", decodeBody(t, rec)["error"])

	rec = s.do(t, http.MethodGet, "/Rentals/getAllRentals", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `[]`, rec.Body.String())
}

func TestValidationErrors(t *testing.T) {
	s := newTestServer(t, nil)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
	}{
		{"missing user", http.MethodPost, "/Rentals/createRental", `{"game":"g1","time":60,"price":1}`},
		{"non numeric time", http.MethodPost, "/Rentals/createRental", `{"user":"u1","game":"g1","time":"soon","price":1}`},
		{"negative time", http.MethodPost, "/Rentals/createRental", `{"user":"u1","game":"g1","time":-5,"price":1}`},
		{"unknown field", http.MethodPost, "/Rentals/createRental", `{"user":"u1","game":"g1","time":60,"price":1,"extra":true}`},
		{"empty body", http.MethodPost, "/Rentals/createRental", ``},
		{"zero extension", http.MethodPut, "/Rentals/extendRentalTime/u1/g1", `{"additionalTime":0,"additionalPrice":1}`},
		{"bad id", http.MethodGet, "/Rentals/getRental/not-a-uuid", ``},
		{"update time without value", http.MethodPut, "/Rentals/updateRentalTime/" + uuid.NewString(), `{}`},
		{"bad payment kind", http.MethodPost, "/rentalPayments/create", `{"user":"u1","game":"g1","rental":"` + uuid.NewString() + `","amount":5,"kind":"refund"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, tt.method, tt.path, tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			require.Equal(t, "VALIDATION_ERROR", decodeBody(t, rec)["error"])
		})
	}
}

func TestUpdateRentalTimeOverHTTP(t *testing.T) {
	s := newTestServer(t, nil)
	r, err := s.svc.CreateRental(context.Background(), rentals.CreateInput{UserID: "u1", GameID: "g1", Time: 600, Price: decimal.NewFromInt(10)})
	require.NoError(t, err)
	path := "/Rentals/updateRentalTime/" + r.ID.String()

	rec := s.do(t, http.MethodPut, path, `{"remainingTime":"420"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	require.EqualValues(t, 420, body["time"])
	require.Equal(t, r.ID.String(), body["id"])
	require.NotContains(t, body, "message")

	rec = s.do(t, http.MethodGet, "/Rentals/getRental/"+r.ID.String(), "")
	require.EqualValues(t, 420, decodeBody(t, rec)["time"])

	rec = s.do(t, http.MethodPut, path, `{"time":500}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPut, path, `{"time":100,"version":1}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "CONFLICT", decodeBody(t, rec)["error"])
}

func TestUpdateRentalReturnsRental(t *testing.T) {
	s := newTestServer(t, nil)
	r, err := s.svc.CreateRental(context.Background(), rentals.CreateInput{UserID: "u1", GameID: "g1", Time: 600, Price: decimal.NewFromInt(10)})
	require.NoError(t, err)

	rec := s.do(t, http.MethodPut, "/Rentals/updateRental/"+r.ID.String(), `{"time":1200,"price":"20.50"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	require.EqualValues(t, 1200, body["time"])
	require.EqualValues(t, 20.5, body["price"])
	require.Equal(t, "active", body["status"])
}

func TestPurchaseIdempotencyReplay(t *testing.T) {
	s := newTestServer(t, nil)
	body := `{"user":"u1","game":"g1","time":3600,"price":150,"meta":{"method":"card"}}`

	first := s.do(t, http.MethodPost, "/Rentals/purchase", body, "Idempotency-Key", "abc-1")
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())

	second := s.do(t, http.MethodPost, "/Rentals/purchase", body, "Idempotency-Key", "abc-1")
	require.Equal(t, http.StatusCreated, second.Code)
	require.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	require.Equal(t, first.Body.String(), second.Body.String())

	list, err := s.svc.ListRentals(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)

	payments := s.do(t, http.MethodGet, "/rentalPayments/", "")
	require.Equal(t, http.StatusOK, payments.Code)
	got := decodeBody(t, payments)
	require.EqualValues(t, 1, got["totalPayments"])
	require.EqualValues(t, 150, got["totalAmount"])

	third := s.do(t, http.MethodPost, "/Rentals/purchase", body, "Idempotency-Key", "abc-2")
	require.Equal(t, http.StatusCreated, third.Code)
	list, err = s.svc.ListRentals(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
}

func TestPaymentsOverHTTP(t *testing.T) {
	s := newTestServer(t, nil)
	ctx := context.Background()
	r, err := s.svc.CreateRental(ctx, rentals.CreateInput{UserID: "u1", GameID: "g1", Time: 3600, Price: decimal.NewFromInt(100)})
	require.NoError(t, err)

	rec := s.do(t, http.MethodPost, "/rentalPayments/create", `{"user":"u1","game":"g1","rental":"`+r.ID.String()+`","amount":"100.00"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	paymentID := decodeBody(t, rec)["id"].(string)

	rec = s.do(t, http.MethodGet, "/rentalPayments/"+paymentID+"/receipt", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	require.Contains(t, rec.Body.String(), "LKR 100.00")
	require.Contains(t, rec.Body.String(), "1 hour remaining (active)")

	rec = s.do(t, http.MethodDelete, "/rentalPayments/"+paymentID, "")
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodDelete, "/Rentals/deleteRentalByID/"+r.ID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodDelete, "/rentalPayments/"+paymentID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/rentalPayments/"+paymentID, "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionEndpoints(t *testing.T) {
	s := newTestServer(t, nil)
	r, err := s.svc.CreateRental(context.Background(), rentals.CreateInput{UserID: "u1", GameID: "g1", Time: 600, Price: decimal.NewFromInt(10)})
	require.NoError(t, err)
	base := "/Rentals/session/" + r.ID.String()

	rec := s.do(t, http.MethodPost, base+"/start", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, true, decodeBody(t, rec)["running"])

	rec = s.do(t, http.MethodGet, base, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, base+"/stop", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, false, decodeBody(t, rec)["running"])

	rec = s.do(t, http.MethodPut, "/Rentals/closeRental/"+r.ID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, base+"/start", "")
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestDurationsOverHTTP(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPut, "/rentalDurations/game/g1", `{"duration":3600,"price":150}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	id := decodeBody(t, rec)["id"].(string)

	rec = s.do(t, http.MethodGet, "/rentalDurations/game/g1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	require.EqualValues(t, 3600, list[0]["duration"])
	require.EqualValues(t, 150, list[0]["price"])

	rec = s.do(t, http.MethodDelete, "/rentalDurations/"+id, "")
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestOptionalFeatures(t *testing.T) {
	disabled := newTestServer(t, nil)
	rec := disabled.do(t, http.MethodGet, "/rentalPayments/export", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	rec = disabled.do(t, http.MethodGet, "/analytics/sessions", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	enabled := newTestServer(t, func(o *Options) {
		o.Exporter = fakeExporter{result: ledger.Result{Key: "ledger/x.csv.gz", URL: "https://s3.local/x", Count: 2}}
		o.Analytics = fakeAnalytics{}
	})
	rec = enabled.do(t, http.MethodGet, "/rentalPayments/export", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "https://s3.local/x", decodeBody(t, rec)["url"])

	rec = enabled.do(t, http.MethodGet, "/analytics/sessions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	games := decodeBody(t, rec)["games"].([]any)
	require.Len(t, games, 1)

	failing := newTestServer(t, func(o *Options) {
		o.Exporter = fakeExporter{err: errors.New("s3: access denied for key secret")}
	})
	rec = failing.do(t, http.MethodGet, "/rentalPayments/export", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, "SERVER_ERROR", body["error"])
	require.NotContains(t, body["message"], "secret")
}

func TestNotificationsOverHTTP(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/notifications/user/u1?unread=true", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.JSONEq(t, `{"notifications":[]}`, rec.Body.String())

	rec = s.do(t, http.MethodPut, "/notifications/"+uuid.NewString()+"/read", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPut, "/notifications/user/u1/read", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	ready := errors.New("db down")
	s := newTestServer(t, func(o *Options) {
		o.Ready = func(context.Context) error { return ready }
	})

	rec := s.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	s.do(t, http.MethodPost, "/Rentals/createRental", `{"user":"u1","game":"g1","time":60,"price":1}`)

	rec = s.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, bytes.Contains(rec.Body.Bytes(), []byte("gamerent_rentals_created_total 1")), rec.Body.String())
}

func TestIdempotencyKeyReleasedAfterPanic(t *testing.T) {
	s := newTestServer(t, nil)

	calls := 0
	h := middleware.Recoverer(s.api.idempotent(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls == 1 {
			panic("boom")
		}
		respondJSON(w, http.StatusCreated, map[string]int{"calls": calls})
	})))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/Rentals/purchase", strings.NewReader(`{}`))
		req.Header.Set("Idempotency-Key", "k-1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	require.Equal(t, http.StatusInternalServerError, send().Code)

	retry := send()
	require.Equal(t, http.StatusCreated, retry.Code, retry.Body.String())
	require.Equal(t, 2, calls)

	replay := send()
	require.Equal(t, http.StatusCreated, replay.Code)
	require.Equal(t, "true", replay.Header().Get("Idempotent-Replayed"))
	require.Equal(t, 2, calls)
}
