package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracknow/internal/apperr"
	"tracknow/internal/location"
)

func TestHTTPSink_Upsert(t *testing.T) {
	var got location.Sample
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/driver/location", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"applied":true}`))
	}))
	defer srv.Close()

	at := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	applied, err := NewHTTPSink(srv.URL, "tok", time.Second).Upsert(context.Background(), "d1", location.Sample{Latitude: 13.08, Longitude: 80.27, RecordedAt: at})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, 13.08, got.Latitude)
	assert.True(t, at.Equal(got.RecordedAt))
}

func TestHTTPSink_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   apperr.Kind
	}{
		{name: "bad token", status: http.StatusUnauthorized, body: `{"error":"Invalid or expired token"}`, kind: apperr.KindPermissionDenied},
		{name: "no profile", status: http.StatusNotFound, body: `{"error":"save your driver details first"}`, kind: apperr.KindNotFound},
		{name: "rejected", status: http.StatusBadRequest, body: `{"error":"latitude/longitude out of range"}`, kind: apperr.KindValidation},
		{name: "server error", status: http.StatusBadGateway, body: `upstream down`, kind: apperr.KindUnavailable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := NewHTTPSink(srv.URL, "tok", time.Second).Upsert(context.Background(), "d1", location.Sample{})
			require.Error(t, err)
			assert.Equal(t, tc.kind, apperr.KindOf(err))
		})
	}
}

func TestHTTPSink_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewHTTPSink(url, "tok", time.Second).Upsert(context.Background(), "d1", location.Sample{})
	assert.True(t, apperr.Is(err, apperr.KindUnavailable))
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("AGENT_TRACK_FILE", "track.csv")
	t.Setenv("AGENT_TOKEN", "tok")
	t.Setenv("AGENT_SERVER_URL", "http://api.local/")
	t.Setenv("AGENT_MIN_DISTANCE_M", "25")
	t.Setenv("AGENT_RETRY_ATTEMPTS", "5")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "http://api.local", cfg.ServerURL)
	assert.Equal(t, 25.0, cfg.Publisher.MinDistance)
	assert.Equal(t, uint(5), cfg.Publisher.RetryAttempts)
	assert.Equal(t, 5*time.Second, cfg.Publisher.MinInterval)
	assert.Equal(t, time.Second, cfg.SampleInterval)
	assert.True(t, cfg.Loop)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "no track", env: map[string]string{"AGENT_TRACK_FILE": ""}},
		{name: "no credentials", env: map[string]string{"AGENT_TOKEN": ""}},
		{name: "bad distance", env: map[string]string{"AGENT_MIN_DISTANCE_M": "-3"}},
		{name: "bad interval", env: map[string]string{"AGENT_SAMPLE_INTERVAL_MS": "fast"}},
		{name: "zero attempts", env: map[string]string{"AGENT_RETRY_ATTEMPTS": "0"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("AGENT_TRACK_FILE", "track.csv")
			t.Setenv("AGENT_TOKEN", "tok")
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig()
			assert.Error(t, err)
		})
	}
}
