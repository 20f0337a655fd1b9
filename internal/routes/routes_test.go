package routes

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracknow/internal/apperr"
	"tracknow/internal/broadcast"
	"tracknow/internal/cache"
	"tracknow/internal/controllers"
	"tracknow/internal/geocode"
	"tracknow/internal/location"
	"tracknow/internal/messages"
	"tracknow/internal/metrics"
	"tracknow/internal/middleware"
	"tracknow/internal/profiles"
	"tracknow/internal/routequery"
	"tracknow/internal/stops"
	"tracknow/internal/testdb"
)

type fakeGeocoder struct {
	places map[string]geocode.LatLon
	calls  int
}

func (f *fakeGeocoder) Resolve(_ context.Context, place string) (geocode.LatLon, error) {
	f.calls++
	if place == "offline" {
		return geocode.LatLon{}, apperr.Unavailable(nil, "geocoding service unavailable")
	}
	at, ok := f.places[place]
	if !ok {
		return geocode.LatLon{}, apperr.NotFound("location not found, try a more specific name")
	}
	return at, nil
}

type server struct {
	t        *testing.T
	handler  http.Handler
	auth     *middleware.Auth
	geocoder *fakeGeocoder
}

func newServer(t *testing.T) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := testdb.Open(t)
	engine := stops.NewEngine(db)
	store := location.NewStore(db)
	poller := location.NewPoller(store, 2*time.Minute, nil)
	geocoder := &fakeGeocoder{places: map[string]geocode.LatLon{
		"Central": {Lat: 13.0827, Lon: 80.2757},
		"Egmore":  {Lat: 13.0780, Lon: 80.2609},
		"Guindy":  {Lat: 13.0067, Lon: 80.2206},
	}}
	auth := middleware.NewAuth("test-secret")

	ctl := &controllers.Controller{
		Profiles: profiles.NewService(db),
		Routes:   routequery.NewService(db, engine, cache.NewMemory(), time.Minute, nil),
		Stops:    engine,
		Geocoder: geocoder,
		Sink:     broadcast.NewSink(store, broadcast.Noop{}),
		Poller:   poller,
		Feed:     location.NewPollingFeed(poller, 10*time.Millisecond),
		Messages: messages.NewService(db, broadcast.Noop{}),
	}
	h := SetupRouter(Options{Controller: ctl, Auth: auth, Metrics: metrics.NewCollector()})
	return &server{t: t, handler: h, auth: auth, geocoder: geocoder}
}

func (s *server) token(subject, role string) string {
	tok, err := s.auth.GenerateToken(subject, role, time.Hour)
	require.NoError(s.t, err)
	return tok
}

func (s *server) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	s.t.Helper()
	var reader *strings.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(s.t, err)
		reader = strings.NewReader(string(b))
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

type stopView struct {
	ID    string `json:"id"`
	Name  string `json:"stop_name"`
	Order int    `json:"order"`
}

func stopNames(list []stopView) []string {
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = s.Name
	}
	return out
}

// setupDriver saves a driver profile and route and returns the driver token and id.
func setupDriver(s *server) (string, string) {
	s.t.Helper()
	tok := s.token("auth-driver", middleware.RoleDriver)
	w := s.do(http.MethodPut, "/driver/profile", tok, map[string]string{"name": "Ravi", "bus_number": "21G", "phone_number": "9000000000"})
	require.Equal(s.t, http.StatusOK, w.Code, w.Body.String())
	var profile struct {
		Driver struct {
			ID string `json:"id"`
		} `json:"driver"`
	}
	decode(s.t, w, &profile)

	w = s.do(http.MethodPut, "/driver/route", tok, map[string]string{"route_name": "Central - Guindy", "start_point": "Central", "end_point": "Guindy"})
	require.Equal(s.t, http.StatusOK, w.Code, w.Body.String())
	return tok, profile.Driver.ID
}

func TestHealthz(t *testing.T) {
	s := newServer(t)
	w := s.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestRoleGuards(t *testing.T) {
	s := newServer(t)
	passenger := s.token("p", middleware.RolePassenger)

	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/driver/route", "", nil).Code)
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodGet, "/driver/route", passenger, nil).Code)
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodGet, "/admin/drivers", passenger, nil).Code)

	w := s.do(http.MethodPut, "/driver/profile", passenger, map[string]string{"name": "Intruder", "bus_number": "99X", "phone_number": "9000000001"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.JSONEq(t, `{"error":"Insufficient permissions"}`, w.Body.String())

	admin := s.token("admin", middleware.RoleAdmin)
	w = s.do(http.MethodGet, "/admin/drivers", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"drivers":[]}`, w.Body.String())
}

func TestDriverStopWorkflow(t *testing.T) {
	s := newServer(t)
	tok := s.token("auth-driver", middleware.RoleDriver)

	// No profile yet.
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/driver/route", tok, nil).Code)

	tok, _ = setupDriver(s)

	var rws struct {
		Stops []stopView `json:"stops"`
	}
	w := s.do(http.MethodGet, "/driver/route", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &rws)
	assert.NotNil(t, rws.Stops)
	assert.Empty(t, rws.Stops)

	for _, add := range []struct {
		name  string
		order int
	}{{"Central", 1}, {"Guindy", 2}, {"Egmore", 2}} {
		w := s.do(http.MethodPost, "/driver/route/stops", tok, map[string]interface{}{"stop_name": add.name, "order": add.order})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}

	w = s.do(http.MethodGet, "/driver/route", tok, nil)
	decode(t, w, &rws)
	assert.Equal(t, []string{"Central", "Egmore", "Guindy"}, stopNames(rws.Stops))
	for i, st := range rws.Stops {
		assert.Equal(t, i+1, st.Order)
	}

	calls := s.geocoder.calls
	tests := []struct {
		name    string
		body    map[string]interface{}
		status  int
		geocode bool
	}{
		{name: "zero order", body: map[string]interface{}{"stop_name": "Central", "order": 0}, status: http.StatusBadRequest},
		{name: "blank name", body: map[string]interface{}{"stop_name": "  ", "order": 1}, status: http.StatusBadRequest},
		{name: "unknown place", body: map[string]interface{}{"stop_name": "Atlantis", "order": 1}, status: http.StatusNotFound, geocode: true},
		{name: "geocoder down", body: map[string]interface{}{"stop_name": "offline", "order": 1}, status: http.StatusServiceUnavailable, geocode: true},
	}
	for _, tc := range tests {
		w := s.do(http.MethodPost, "/driver/route/stops", tok, tc.body)
		assert.Equal(t, tc.status, w.Code, tc.name)
		assert.Contains(t, w.Body.String(), `"error"`, tc.name)
		if tc.geocode {
			calls++
		}
		assert.Equal(t, calls, s.geocoder.calls, tc.name)
	}

	w = s.do(http.MethodGet, "/driver/route", tok, nil)
	decode(t, w, &rws)
	require.Len(t, rws.Stops, 3, "failed inserts must not touch the route")

	w = s.do(http.MethodDelete, "/driver/route/stops/"+rws.Stops[0].ID, tok, nil)
	require.Equal(t, http.StatusNoContent, w.Code)
	w = s.do(http.MethodGet, "/driver/route", tok, nil)
	decode(t, w, &rws)
	assert.Equal(t, []string{"Egmore", "Guindy"}, stopNames(rws.Stops))
	assert.Equal(t, 1, rws.Stops[0].Order)

	assert.Equal(t, http.StatusNotFound, s.do(http.MethodDelete, "/driver/route/stops/missing", tok, nil).Code)
}

func TestLocationAndPassengerWorkflow(t *testing.T) {
	s := newServer(t)
	driverTok, driverID := setupDriver(s)
	w := s.do(http.MethodPost, "/driver/route/stops", driverTok, map[string]interface{}{"stop_name": "Central", "order": 1})
	require.Equal(t, http.StatusCreated, w.Code)
	var created struct {
		Stop struct {
			ID      string `json:"id"`
			RouteID string `json:"route_id"`
		} `json:"stop"`
	}
	decode(t, w, &created)

	passengerTok := s.token("auth-passenger", middleware.RolePassenger)

	// Selection workflow.
	var buses struct {
		Buses []struct {
			ID        string `json:"id"`
			BusNumber string `json:"bus_number"`
		} `json:"buses"`
	}
	w = s.do(http.MethodGet, "/passenger/buses", passengerTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &buses)
	require.Len(t, buses.Buses, 1)
	assert.Equal(t, driverID, buses.Buses[0].ID)

	w = s.do(http.MethodGet, "/passenger/buses/"+driverID+"/routes", passengerTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), created.Stop.RouteID)

	w = s.do(http.MethodGet, "/passenger/routes/"+created.Stop.RouteID+"/stops", passengerTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), created.Stop.ID)

	w = s.do(http.MethodPut, "/passenger/profile", passengerTok, map[string]string{
		"name": "Priya", "register_number": "REG-1", "driver_id": driverID, "route_id": created.Stop.RouteID, "stop_id": "bogus",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = s.do(http.MethodPut, "/passenger/profile", passengerTok, map[string]string{
		"name": "Priya", "register_number": "REG-1", "driver_id": driverID, "route_id": created.Stop.RouteID, "stop_id": created.Stop.ID,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Nothing published yet.
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/passenger/bus/location", passengerTok, nil).Code)

	now := time.Now().UTC()
	w = s.do(http.MethodPut, "/driver/location", driverTok, map[string]interface{}{
		"latitude": 13.08, "longitude": 80.27, "recorded_at": now.Format(time.RFC3339Nano),
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"applied":true}`, w.Body.String())

	// An older sample arriving late is ignored.
	w = s.do(http.MethodPut, "/driver/location", driverTok, map[string]interface{}{
		"latitude": 1, "longitude": 1, "recorded_at": now.Add(-time.Minute).Format("2006-01-02T15:04:05.000"),
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"applied":false}`, w.Body.String())

	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPut, "/driver/location", driverTok, map[string]interface{}{"latitude": 100, "longitude": 1}).Code)

	var loc struct {
		Location location.Reading `json:"location"`
	}
	w = s.do(http.MethodGet, "/passenger/bus/location", passengerTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &loc)
	assert.Equal(t, 13.08, loc.Location.Latitude)
	assert.Equal(t, location.StateFresh, loc.Location.State)

	// Map with the passenger's own position.
	w = s.do(http.MethodGet, "/passenger/bus/map?lat=13.1&lon=80.3", passengerTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var fc struct {
		Type     string            `json:"type"`
		Features []json.RawMessage `json:"features"`
	}
	decode(t, w, &fc)
	assert.Equal(t, "FeatureCollection", fc.Type)
	assert.Len(t, fc.Features, 3) // passenger, bus, one stop
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/passenger/bus/map?lat=north&lon=80", passengerTok, nil).Code)

	// Messages.
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/driver/messages", driverTok, map[string]string{"message": " "}).Code)
	w = s.do(http.MethodPost, "/driver/messages", driverTok, map[string]string{"message": "Running 10 minutes late"})
	require.Equal(t, http.StatusCreated, w.Code)
	w = s.do(http.MethodGet, "/passenger/messages", passengerTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Running 10 minutes late")
}

func TestAdminEndpoints(t *testing.T) {
	s := newServer(t)
	driverTok, driverID := setupDriver(s)
	admin := s.token("auth-admin", middleware.RoleAdmin)

	w := s.do(http.MethodGet, "/admin/drivers", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), driverID)

	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/admin/drivers/"+driverID+"/location", admin, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/admin/drivers/nobody/map", admin, nil).Code)

	w = s.do(http.MethodGet, "/admin/drivers/"+driverID+"/map", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var fc struct {
		Type     string            `json:"type"`
		Features []json.RawMessage `json:"features"`
	}
	decode(t, w, &fc)
	assert.Equal(t, "FeatureCollection", fc.Type)
	assert.Empty(t, fc.Features)

	w = s.do(http.MethodPut, "/driver/location", driverTok, map[string]interface{}{"latitude": 13.08, "longitude": 80.27})
	require.Equal(t, http.StatusOK, w.Code)
	w = s.do(http.MethodGet, "/admin/drivers/"+driverID+"/location", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"state":"fresh"`)
}

func TestAdminLocationStream(t *testing.T) {
	s := newServer(t)
	driverTok, driverID := setupDriver(s)
	admin := s.token("auth-admin", middleware.RoleAdmin)
	w := s.do(http.MethodPut, "/driver/location", driverTok, map[string]interface{}{"latitude": 13.08, "longitude": 80.27})
	require.Equal(t, http.StatusOK, w.Code)

	srv := httptest.NewServer(s.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/admin/drivers/"+driverID+"/location/stream", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+admin)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	sc := bufio.NewScanner(resp.Body)
	var event, data string
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "event:") {
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		}
		if strings.HasPrefix(line, "data:") {
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			break
		}
	}
	assert.Equal(t, "location", event)
	assert.Contains(t, data, `"latitude":13.08`)
}
