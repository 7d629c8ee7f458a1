package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"

	"meterlog/internal/core"
	"meterlog/internal/events"
)

// fakeStore is an in-memory ReadingStore for handler tests.
type fakeStore struct {
	readings map[string]core.Reading
	nextID   int64
	pingErr  error
	failAll  bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{readings: make(map[string]core.Reading), nextID: 1}
}

var errBoom = errors.New("boom")

func (f *fakeStore) ListReadings(ctx context.Context, limit int) ([]core.Reading, error) {
	if f.failAll {
		return nil, errBoom
	}
	months := make([]string, 0, len(f.readings))
	for m := range f.readings {
		months = append(months, m)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(months)))
	if len(months) > limit {
		months = months[:limit]
	}
	out := make([]core.Reading, 0, len(months))
	for _, m := range months {
		out = append(out, f.readings[m])
	}
	return out, nil
}

func (f *fakeStore) GetReading(ctx context.Context, month string) (core.Reading, error) {
	if f.failAll {
		return core.Reading{}, errBoom
	}
	r, ok := f.readings[month]
	if !ok {
		return core.Reading{}, core.ErrNotFound
	}
	return r, nil
}

func (f *fakeStore) CreateReading(ctx context.Context, reading core.Reading) (int64, error) {
	if f.failAll {
		return 0, errBoom
	}
	if _, ok := f.readings[reading.Month]; ok {
		return 0, core.ErrMonthExists
	}
	reading.ID = f.nextID
	f.nextID++
	f.readings[reading.Month] = reading
	return reading.ID, nil
}

func (f *fakeStore) UpdateReading(ctx context.Context, month string, reading core.Reading) error {
	if f.failAll {
		return errBoom
	}
	existing, ok := f.readings[month]
	if !ok {
		return core.ErrNotFound
	}
	reading.ID = existing.ID
	reading.Month = month
	f.readings[month] = reading
	return nil
}

func (f *fakeStore) DeleteReading(ctx context.Context, month string) error {
	if f.failAll {
		return errBoom
	}
	if _, ok := f.readings[month]; !ok {
		return core.ErrNotFound
	}
	delete(f.readings, month)
	return nil
}

func (f *fakeStore) Ping(ctx context.Context) error { return f.pingErr }

type recordingPublisher struct {
	published []*events.ReadingEvent
	err       error
}

func (p *recordingPublisher) PublishReadingEvent(ctx context.Context, event *events.ReadingEvent) error {
	p.published = append(p.published, event)
	return p.err
}

func doRequest(t *testing.T, srv *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	return rr
}

func TestCreateThenGetRoundtrip(t *testing.T) {
	store := newFakeStore()
	srv := NewServer(":0", store, nil)
	defer srv.rateLimiter.stop()

	rr := doRequest(t, srv, http.MethodPost, "/api/energy",
		`{"month":"2024-03","gas_kwh":120.5,"water_m3":33.2,"pulse_count":42}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rr.Code, rr.Body.String())
	}
	var created struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if created.ID == 0 {
		t.Fatalf("create must return assigned id: %s", rr.Body.String())
	}

	rr = doRequest(t, srv, http.MethodGet, "/api/energy/2024-03", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get status = %d", rr.Code)
	}
	var got map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode get response: %v", err)
	}
	if got["month"] != "2024-03" || got["gas_kwh"] != 120.5 || got["water_m3"] != 33.2 {
		t.Fatalf("unexpected body: %v", got)
	}
	// Omitted fields come back as explicit zeros, never absent.
	for _, field := range []string{"solar_kwh", "tariff1_kwh", "tariff2_kwh"} {
		v, ok := got[field]
		if !ok {
			t.Fatalf("field %s missing from response", field)
		}
		if v != 0.0 {
			t.Fatalf("field %s = %v, want 0", field, v)
		}
	}
}

func TestCreateValidation(t *testing.T) {
	srv := NewServer(":0", newFakeStore(), nil)
	defer srv.rateLimiter.stop()

	cases := []struct {
		name string
		body string
	}{
		{"malformed month", `{"month":"03-2024"}`},
		{"missing month", `{"gas_kwh":10}`},
		{"month with day", `{"month":"2024-03-01"}`},
		{"month 13", `{"month":"2024-13"}`},
		{"negative value", `{"month":"2024-03","gas_kwh":-5}`},
		{"not json", `gas=10`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := doRequest(t, srv, http.MethodPost, "/api/energy", tc.body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400 (body %s)", rr.Code, rr.Body.String())
			}
		})
	}
}

func TestCreateConflict(t *testing.T) {
	store := newFakeStore()
	srv := NewServer(":0", store, nil)
	defer srv.rateLimiter.stop()

	body := `{"month":"2024-03","gas_kwh":10}`
	if rr := doRequest(t, srv, http.MethodPost, "/api/energy", body); rr.Code != http.StatusCreated {
		t.Fatalf("first create status = %d", rr.Code)
	}
	rr := doRequest(t, srv, http.MethodPost, "/api/energy", `{"month":"2024-03","gas_kwh":99}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("duplicate create status = %d, want 409", rr.Code)
	}
	// First record unchanged by the rejected create.
	if store.readings["2024-03"].GasKWh != 10 {
		t.Fatalf("conflicting create must not mutate existing record")
	}
}

func TestUpdateSemantics(t *testing.T) {
	store := newFakeStore()
	srv := NewServer(":0", store, nil)
	defer srv.rateLimiter.stop()

	// Update of a missing month is 404 and creates nothing.
	rr := doRequest(t, srv, http.MethodPut, "/api/energy/2024-05", `{"gas_kwh":10}`)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("update missing month status = %d, want 404", rr.Code)
	}
	if len(store.readings) != 0 {
		t.Fatalf("update must never create records")
	}

	doRequest(t, srv, http.MethodPost, "/api/energy",
		`{"month":"2024-05","gas_kwh":10,"water_m3":5,"pulse_count":7}`)

	// Full overwrite: fields omitted from the body are stored as zero.
	rr = doRequest(t, srv, http.MethodPut, "/api/energy/2024-05", `{"gas_kwh":20}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("update status = %d", rr.Code)
	}
	got := store.readings["2024-05"]
	if got.GasKWh != 20 || got.WaterM3 != 0 || got.PulseCount != 0 {
		t.Fatalf("update must be a full overwrite, got %+v", got)
	}

	rr = doRequest(t, srv, http.MethodPut, "/api/energy/bad-month", `{"gas_kwh":1}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("update with bad month status = %d, want 400", rr.Code)
	}
}

func TestDelete(t *testing.T) {
	store := newFakeStore()
	srv := NewServer(":0", store, nil)
	defer srv.rateLimiter.stop()

	if rr := doRequest(t, srv, http.MethodDelete, "/api/energy/2024-01", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("delete missing month status = %d, want 404", rr.Code)
	}

	doRequest(t, srv, http.MethodPost, "/api/energy", `{"month":"2024-01"}`)
	if rr := doRequest(t, srv, http.MethodDelete, "/api/energy/2024-01", ""); rr.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rr.Code)
	}
	if len(store.readings) != 0 {
		t.Fatalf("record not deleted")
	}
}

func TestListNewestFirstCapped(t *testing.T) {
	store := newFakeStore()
	srv := NewServer(":0", store, nil)
	defer srv.rateLimiter.stop()

	months := []string{
		"2023-02", "2023-03", "2023-04", "2023-05", "2023-06", "2023-07",
		"2023-08", "2023-09", "2023-10", "2023-11", "2023-12", "2024-01",
		"2024-02",
	}
	for _, m := range months {
		store.readings[m] = core.Reading{Month: m}
	}

	rr := doRequest(t, srv, http.MethodGet, "/api/energy", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("list status = %d", rr.Code)
	}
	var got []map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(got) != 12 {
		t.Fatalf("list returned %d entries, want 12", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i-1]["month"].(string) <= got[i]["month"].(string) {
			t.Fatalf("list not strictly descending at %d: %v", i, got)
		}
	}
	if got[0]["month"] != "2024-02" {
		t.Fatalf("newest month = %v, want 2024-02", got[0]["month"])
	}
}

func TestListEmptyIsArray(t *testing.T) {
	srv := NewServer(":0", newFakeStore(), nil)
	defer srv.rateLimiter.stop()

	rr := doRequest(t, srv, http.MethodGet, "/api/energy", "")
	if strings.TrimSpace(rr.Body.String()) != "[]" {
		t.Fatalf("empty list body = %q, want []", rr.Body.String())
	}
}

func TestSeriesEndpoint(t *testing.T) {
	store := newFakeStore()
	srv := NewServer(":0", store, nil)
	defer srv.rateLimiter.stop()

	store.readings["2024-01"] = core.Reading{Month: "2024-01", GasKWh: 10}
	store.readings["2024-02"] = core.Reading{Month: "2024-02", GasKWh: 15}
	store.readings["2024-03"] = core.Reading{Month: "2024-03", GasKWh: 12}

	rr := doRequest(t, srv, http.MethodGet, "/api/energy/series", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("series status = %d", rr.Code)
	}
	var points []seriesPointResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &points); err != nil {
		t.Fatalf("decode series: %v", err)
	}
	if len(points) != 3 {
		t.Fatalf("series has %d points, want 3", len(points))
	}
	if points[0].Month != "2024-03" || points[0].GasDelta != -3 {
		t.Fatalf("newest point wrong: %+v", points[0])
	}
	if points[1].GasDelta != 5 || points[2].GasDelta != 0 {
		t.Fatalf("deltas wrong: %+v", points)
	}
	if points[0].Label != "Mar 24" {
		t.Fatalf("label = %q", points[0].Label)
	}

	if rr := doRequest(t, srv, http.MethodGet, "/api/energy/series?window=0", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("window=0 status = %d, want 400", rr.Code)
	}
	if rr := doRequest(t, srv, http.MethodGet, "/api/energy/series?window=abc", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("window=abc status = %d, want 400", rr.Code)
	}
}

func TestStoreFailureIsGeneric500(t *testing.T) {
	store := newFakeStore()
	store.failAll = true
	srv := NewServer(":0", store, nil)
	defer srv.rateLimiter.stop()

	cases := []struct {
		method, target, body string
	}{
		{http.MethodGet, "/api/energy", ""},
		{http.MethodGet, "/api/energy/2024-01", ""},
		{http.MethodPost, "/api/energy", `{"month":"2024-01"}`},
		{http.MethodPut, "/api/energy/2024-01", `{}`},
		{http.MethodDelete, "/api/energy/2024-01", ""},
	}
	for _, tc := range cases {
		rr := doRequest(t, srv, tc.method, tc.target, tc.body)
		if rr.Code != http.StatusInternalServerError {
			t.Fatalf("%s %s status = %d, want 500", tc.method, tc.target, rr.Code)
		}
		if strings.Contains(rr.Body.String(), "boom") {
			t.Fatalf("driver error leaked to client: %s", rr.Body.String())
		}
	}
}

func TestHealth(t *testing.T) {
	store := newFakeStore()
	srv := NewServer(":0", store, nil)
	defer srv.rateLimiter.stop()

	if rr := doRequest(t, srv, http.MethodGet, "/health", ""); rr.Code != http.StatusOK {
		t.Fatalf("health status = %d", rr.Code)
	}

	store.pingErr = errBoom
	if rr := doRequest(t, srv, http.MethodGet, "/health", ""); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("health with failing store status = %d, want 503", rr.Code)
	}
}

func TestMutationsPublishEvents(t *testing.T) {
	store := newFakeStore()
	pub := &recordingPublisher{}
	srv := NewServer(":0", store, pub)
	defer srv.rateLimiter.stop()

	doRequest(t, srv, http.MethodPost, "/api/energy", `{"month":"2024-03"}`)
	doRequest(t, srv, http.MethodPut, "/api/energy/2024-03", `{"gas_kwh":1}`)
	doRequest(t, srv, http.MethodDelete, "/api/energy/2024-03", "")

	if len(pub.published) != 3 {
		t.Fatalf("published %d events, want 3", len(pub.published))
	}
	wantActions := []string{events.ActionCreated, events.ActionUpdated, events.ActionDeleted}
	for i, event := range pub.published {
		if event.Action != wantActions[i] || event.Month != "2024-03" {
			t.Fatalf("event %d = %+v", i, event)
		}
	}

	// Publisher failures never surface to the client.
	pub.err = errBoom
	rr := doRequest(t, srv, http.MethodPost, "/api/energy", `{"month":"2024-04"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create with failing publisher status = %d", rr.Code)
	}
}

func TestRateLimitOnWrites(t *testing.T) {
	store := newFakeStore()
	srv := NewServer(":0", store, nil)
	defer srv.rateLimiter.stop()

	var last int
	for i := 0; i < 70; i++ {
		rr := doRequest(t, srv, http.MethodDelete, "/api/energy/2020-01", "")
		last = rr.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after write burst, got %d", last)
	}

	// Reads are never rate limited.
	if rr := doRequest(t, srv, http.MethodGet, "/api/energy", ""); rr.Code != http.StatusOK {
		t.Fatalf("read blocked by rate limiter: %d", rr.Code)
	}
}
