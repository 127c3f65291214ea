package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mr1hm/nepal-hazard-watch/internal/alerts"
	"github.com/mr1hm/nepal-hazard-watch/internal/engine"
	"github.com/mr1hm/nepal-hazard-watch/internal/location"
	"github.com/mr1hm/nepal-hazard-watch/internal/models"
	"github.com/mr1hm/nepal-hazard-watch/internal/repository"
)

var kathmandu = models.Location{Name: "Kathmandu", Lat: 27.7172, Lon: 85.3240}

// fakeEngine implements Engine for testing
type fakeEngine struct {
	mu        sync.Mutex
	alerts    []models.Alert
	dismissed []string
	offered   map[models.AlertKind]bool
	listeners map[int]alerts.Listener
	nextID    int
	hazards   []models.RankedHazard
	loc       models.Location

	searchResults []models.PlaceCandidate
	searchErr     error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		offered:   make(map[models.AlertKind]bool),
		listeners: make(map[int]alerts.Listener),
		loc:       kathmandu,
	}
}

func (f *fakeEngine) CurrentAlerts() []models.Alert {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Alert{}, f.alerts...)
}

func (f *fakeEngine) DismissAlert(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dismissed = append(f.dismissed, id)
	for i, a := range f.alerts {
		if a.ID == id {
			f.alerts = append(f.alerts[:i], f.alerts[i+1:]...)
			return true
		}
	}
	return false
}

func (f *fakeEngine) Subscribe(fn alerts.Listener) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.listeners[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.listeners, id)
	}
}

func (f *fakeEngine) emit(ch models.AlertChange) {
	f.mu.Lock()
	fns := make([]alerts.Listener, 0, len(f.listeners))
	for _, fn := range f.listeners {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(ch)
	}
}

func (f *fakeEngine) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

func (f *fakeEngine) OfferTestAlert(kind models.AlertKind) (models.Alert, bool, error) {
	if !kind.Valid() {
		return models.Alert{}, false, fmt.Errorf("%w: %q", engine.ErrUnknownKind, kind)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.offered[kind] {
		return models.Alert{}, false, nil
	}
	f.offered[kind] = true
	a := models.Alert{ID: "a-" + string(kind), Kind: kind}
	f.alerts = append([]models.Alert{a}, f.alerts...)
	return a, true, nil
}

func (f *fakeEngine) NearbyHazards() []models.RankedHazard {
	return f.hazards
}

func (f *fakeEngine) Conditions() engine.Conditions {
	return engine.Conditions{
		Location: f.Location(),
		Weather:  &models.WeatherSnapshot{Temperature: 24.5, Humidity: 60, WindSpeed: 12.6, Description: "haze"},
	}
}

func (f *fakeEngine) Location() models.Location {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loc
}

func (f *fakeEngine) SetLocation(loc models.Location) error {
	if !loc.Valid() {
		return location.ErrInvalidLocation
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loc = loc
	return nil
}

func (f *fakeEngine) Search(ctx context.Context, text string) ([]models.PlaceCandidate, error) {
	return f.searchResults, f.searchErr
}

func (f *fakeEngine) UseDeviceLocation(ctx context.Context, locator location.DeviceLocator) (models.Location, error) {
	lat, lon, err := locator.Locate(ctx)
	if err != nil {
		return models.Location{}, err
	}
	loc := models.Location{Name: location.CurrentLocationName, Lat: lat, Lon: lon}
	if err := f.SetLocation(loc); err != nil {
		return models.Location{}, err
	}
	return loc, nil
}

// mockContacts implements repository.ContactRepository for testing
type mockContacts struct {
	contacts []models.Contact
	err      error
}

func (m *mockContacts) ListContacts(ctx context.Context, query string) ([]models.Contact, error) {
	if m.err != nil {
		return nil, m.err
	}
	var results []models.Contact
	for _, c := range m.contacts {
		if strings.Contains(strings.ToLower(c.Name), strings.ToLower(query)) {
			results = append(results, c)
		}
	}
	return results, nil
}

func (m *mockContacts) GetContact(ctx context.Context, id int64) (*models.Contact, error) {
	for _, c := range m.contacts {
		if c.ID == id {
			return &c, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *mockContacts) AddContact(ctx context.Context, c *models.Contact) error {
	c.ID = int64(len(m.contacts) + 1)
	m.contacts = append(m.contacts, *c)
	return nil
}

func setupTestRouter(e Engine, contacts repository.ContactRepository) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	handler := NewHandler(e, contacts)
	handler.RegisterRoutes(router)
	return router
}

func doRequest(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	var req *http.Request
	if body == "" {
		req, _ = http.NewRequest(method, path, nil)
	} else {
		req, _ = http.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	router.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	router := setupTestRouter(newFakeEngine(), &mockContacts{})

	w := doRequest(router, "GET", "/health", "")
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
}

func TestGetAlerts(t *testing.T) {
	e := newFakeEngine()
	e.alerts = []models.Alert{
		{ID: "a2", Kind: models.AlertKindHeatWave},
		{ID: "a1", Kind: models.AlertKindEarthquake},
	}
	router := setupTestRouter(e, &mockContacts{})

	w := doRequest(router, "GET", "/api/alerts", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp struct {
		Alerts []models.Alert `json:"alerts"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Alerts) != 2 {
		t.Fatalf("expected 2 alerts, got %d", len(resp.Alerts))
	}
	if resp.Alerts[0].ID != "a2" {
		t.Errorf("expected newest alert first, got %s", resp.Alerts[0].ID)
	}
}

func TestGetAlerts_EmptyIsArray(t *testing.T) {
	router := setupTestRouter(newFakeEngine(), &mockContacts{})

	w := doRequest(router, "GET", "/api/alerts", "")
	if !strings.Contains(w.Body.String(), `"alerts":[]`) {
		t.Errorf("expected empty array, got %s", w.Body.String())
	}
}

func TestDismissAlert_AlwaysNoContent(t *testing.T) {
	e := newFakeEngine()
	e.alerts = []models.Alert{{ID: "a1"}}
	router := setupTestRouter(e, &mockContacts{})

	for _, id := range []string{"a1", "a1", "missing"} {
		w := doRequest(router, "DELETE", "/api/alerts/"+id, "")
		if w.Code != http.StatusNoContent {
			t.Errorf("dismiss %s: expected status 204, got %d", id, w.Code)
		}
	}
	if len(e.CurrentAlerts()) != 0 {
		t.Errorf("expected alert to be dismissed")
	}
	if len(e.dismissed) != 3 {
		t.Errorf("expected 3 dismiss calls, got %d", len(e.dismissed))
	}
}

func TestCreateTestAlert(t *testing.T) {
	router := setupTestRouter(newFakeEngine(), &mockContacts{})

	w := doRequest(router, "POST", "/api/debug/test-alert", `{"kind":"flood"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", w.Code)
	}

	w = doRequest(router, "POST", "/api/debug/test-alert", `{"kind":"flood"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200 for duplicate, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"admitted":false`) {
		t.Errorf("expected duplicate to be rejected, got %s", w.Body.String())
	}
}

func TestCreateTestAlert_BadRequests(t *testing.T) {
	router := setupTestRouter(newFakeEngine(), &mockContacts{})

	tests := []struct {
		name string
		body string
	}{
		{"unknown kind", `{"kind":"tsunami"}`},
		{"missing kind", `{}`},
		{"malformed", `{"kind":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(router, "POST", "/api/debug/test-alert", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("expected status 400, got %d", w.Code)
			}
		})
	}
}

func TestGetNearbyHazards(t *testing.T) {
	e := newFakeEngine()
	e.hazards = []models.RankedHazard{
		{
			Event: models.HazardEvent{
				ID:          "us7000abcd",
				Magnitude:   5.1,
				Place:       "10 km NE of Gorkha, Nepal",
				Coordinates: models.Coordinates{Latitude: 28.0, Longitude: 84.6},
				OccurredAt:  time.Date(2026, 10, 1, 3, 0, 0, 0, time.UTC),
			},
			DistanceKm: 81.2345,
		},
	}
	router := setupTestRouter(e, &mockContacts{})

	w := doRequest(router, "GET", "/api/hazards/nearby", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp struct {
		Location models.Location       `json:"location"`
		Hazards  []models.RankedHazard `json:"hazards"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Location != kathmandu {
		t.Errorf("expected location %v, got %v", kathmandu, resp.Location)
	}
	if len(resp.Hazards) != 1 || resp.Hazards[0].Event.ID != "us7000abcd" {
		t.Errorf("unexpected hazards: %+v", resp.Hazards)
	}
}

func TestGetNearbyHazards_ReturnsGeoJSON(t *testing.T) {
	e := newFakeEngine()
	e.hazards = []models.RankedHazard{
		{
			Event: models.HazardEvent{
				ID:          "us7000abcd",
				Magnitude:   5.1,
				Coordinates: models.Coordinates{Latitude: 28.0, Longitude: 84.6},
			},
			DistanceKm: 81.2345,
		},
	}
	router := setupTestRouter(e, &mockContacts{})

	w := doRequest(router, "GET", "/api/hazards/nearby?format=geojson", "")
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	contentType := w.Header().Get("Content-Type")
	if contentType != "application/geo+json" {
		t.Errorf("expected content-type application/geo+json, got %s", contentType)
	}

	var fc FeatureCollection
	if err := json.Unmarshal(w.Body.Bytes(), &fc); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if fc.Type != "FeatureCollection" {
		t.Errorf("expected type FeatureCollection, got %s", fc.Type)
	}
	if len(fc.Features) != 1 {
		t.Fatalf("expected 1 feature, got %d", len(fc.Features))
	}

	f := fc.Features[0]
	if f.Geometry.Coordinates[0] != 84.6 || f.Geometry.Coordinates[1] != 28.0 {
		t.Errorf("expected [lon, lat] coordinates, got %v", f.Geometry.Coordinates)
	}
	if f.Properties["distance_km"] != 81.2 {
		t.Errorf("expected distance_km 81.2, got %v", f.Properties["distance_km"])
	}
}

func TestGetConditions(t *testing.T) {
	router := setupTestRouter(newFakeEngine(), &mockContacts{})

	w := doRequest(router, "GET", "/api/conditions", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"precipitation":null`) {
		t.Errorf("expected missing precipitation to be null, got %s", w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"temperature":24.5`) {
		t.Errorf("expected weather in response, got %s", w.Body.String())
	}
}

func TestSetLocation(t *testing.T) {
	e := newFakeEngine()
	router := setupTestRouter(e, &mockContacts{})

	w := doRequest(router, "PUT", "/api/location", `{"name":"Pokhara","lat":28.2096,"lon":83.9856}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if got := e.Location().Name; got != "Pokhara" {
		t.Errorf("expected location Pokhara, got %s", got)
	}

	w = doRequest(router, "GET", "/api/location", "")
	var loc models.Location
	json.Unmarshal(w.Body.Bytes(), &loc)
	if loc.Name != "Pokhara" {
		t.Errorf("expected GET to return Pokhara, got %s", loc.Name)
	}
}

func TestSetLocation_Invalid(t *testing.T) {
	e := newFakeEngine()
	router := setupTestRouter(e, &mockContacts{})

	for _, body := range []string{`{"name":"x","lat":120,"lon":0}`, `{"name":"x"}`, `nope`} {
		w := doRequest(router, "PUT", "/api/location", body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected status 400, got %d", body, w.Code)
		}
	}
	if e.Location() != kathmandu {
		t.Errorf("expected location unchanged, got %v", e.Location())
	}
}

func TestSearchLocation(t *testing.T) {
	e := newFakeEngine()
	e.searchResults = []models.PlaceCandidate{
		{Name: "Kathmandu", DisplayName: "Kathmandu, Bagmati Province, Nepal", Lat: 27.7, Lon: 85.3},
	}
	router := setupTestRouter(e, &mockContacts{})

	w := doRequest(router, "GET", "/api/location/search?q=kath", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp struct {
		Results []models.PlaceCandidate `json:"results"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Results) != 1 {
		t.Errorf("expected 1 result, got %d", len(resp.Results))
	}
}

func TestSearchLocation_Errors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"superseded", location.ErrSuperseded, http.StatusConflict},
		{"geocoder failure", errors.New("nominatim: 503"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newFakeEngine()
			e.searchErr = tt.err
			router := setupTestRouter(e, &mockContacts{})

			w := doRequest(router, "GET", "/api/location/search?q=kath", "")
			if w.Code != tt.want {
				t.Errorf("expected status %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestUseDeviceLocation(t *testing.T) {
	e := newFakeEngine()
	router := setupTestRouter(e, &mockContacts{})

	w := doRequest(router, "POST", "/api/location/device", `{"lat":28.2096,"lon":83.9856}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if e.Location().Lat != 28.2096 {
		t.Errorf("expected device coordinates to be committed, got %v", e.Location())
	}
}

func TestUseDeviceLocation_MissingCoordinates(t *testing.T) {
	e := newFakeEngine()
	router := setupTestRouter(e, &mockContacts{})

	w := doRequest(router, "POST", "/api/location/device", `{}`)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "enable location services") {
		t.Errorf("expected location services hint, got %s", w.Body.String())
	}
	if e.Location() != kathmandu {
		t.Errorf("expected location unchanged, got %v", e.Location())
	}
}

func TestUseDeviceLocation_InvalidCoordinates(t *testing.T) {
	router := setupTestRouter(newFakeEngine(), &mockContacts{})

	w := doRequest(router, "POST", "/api/location/device", `{"lat":95,"lon":85}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
}

func TestGetContacts(t *testing.T) {
	contacts := &mockContacts{
		contacts: []models.Contact{
			{ID: 1, Name: "Nepal Police", Number: "100", Type: "police"},
			{ID: 2, Name: "Fire Brigade", Number: "101", Type: "fire"},
		},
	}
	router := setupTestRouter(newFakeEngine(), contacts)

	w := doRequest(router, "GET", "/api/contacts?q=police", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp struct {
		Contacts []models.Contact `json:"contacts"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Contacts) != 1 || resp.Contacts[0].Number != "100" {
		t.Errorf("unexpected contacts: %+v", resp.Contacts)
	}
}

func TestGetContacts_Error(t *testing.T) {
	router := setupTestRouter(newFakeEngine(), &mockContacts{err: errors.New("db closed")})

	w := doRequest(router, "GET", "/api/contacts", "")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", w.Code)
	}
}

func TestGetContact(t *testing.T) {
	contacts := &mockContacts{
		contacts: []models.Contact{{ID: 7, Name: "Bir Hospital", Number: "01-4221119"}},
	}
	router := setupTestRouter(newFakeEngine(), contacts)

	tests := []struct {
		path string
		want int
	}{
		{"/api/contacts/7", http.StatusOK},
		{"/api/contacts/8", http.StatusNotFound},
		{"/api/contacts/abc", http.StatusBadRequest},
	}
	for _, tt := range tests {
		w := doRequest(router, "GET", tt.path, "")
		if w.Code != tt.want {
			t.Errorf("%s: expected status %d, got %d", tt.path, tt.want, w.Code)
		}
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RateLimitMiddleware(1))
	NewHandler(newFakeEngine(), &mockContacts{}).RegisterRoutes(router)

	w := doRequest(router, "GET", "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected first request to pass, got %d", w.Code)
	}
	w = doRequest(router, "GET", "/health", "")
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("expected status 429, got %d", w.Code)
	}
}

func TestStreamAlerts(t *testing.T) {
	e := newFakeEngine()
	e.alerts = []models.Alert{{ID: "a1", Kind: models.AlertKindFlood}}
	srv := httptest.NewServer(setupTestRouter(e, &mockContacts{}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, "GET", srv.URL+"/api/alerts/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream request failed: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("expected content-type text/event-stream, got %s", ct)
	}

	scanner := bufio.NewScanner(resp.Body)
	next := func() (string, string) {
		var event, data string
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "event:"):
				event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			case line == "" && event != "":
				return event, data
			}
		}
		return event, data
	}

	event, data := next()
	if event != "snapshot" {
		t.Fatalf("expected snapshot event first, got %q", event)
	}
	if !strings.Contains(data, `"a1"`) {
		t.Errorf("expected snapshot to carry live alerts, got %s", data)
	}
	if e.subscribers() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", e.subscribers())
	}

	e.emit(models.AlertChange{Type: models.ChangeDismissed, Alert: models.Alert{ID: "a1"}})

	event, data = next()
	if event != "alert" {
		t.Fatalf("expected alert event, got %q", event)
	}
	var change models.AlertChange
	if err := json.Unmarshal([]byte(data), &change); err != nil {
		t.Fatalf("failed to parse change: %v", err)
	}
	if change.Type != models.ChangeDismissed || change.Alert.ID != "a1" {
		t.Errorf("unexpected change: %+v", change)
	}

	cancel()
	deadline := time.Now().Add(2 * time.Second)
	for e.subscribers() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if e.subscribers() != 0 {
		t.Errorf("expected stream to unsubscribe after client left")
	}
}
