package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"tracknow/internal/apperr"
	"tracknow/internal/location"
)

// HTTPSink writes samples to PUT /driver/location. The server resolves the
// driver from the bearer token, so the driver id passed to Upsert is only
// used for logging by callers.
type HTTPSink struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewHTTPSink(baseURL, token string, timeout time.Duration) *HTTPSink {
	return &HTTPSink{baseURL: baseURL, token: token, client: &http.Client{Timeout: timeout}}
}

func (s *HTTPSink) Upsert(ctx context.Context, _ string, sample location.Sample) (bool, error) {
	body, err := json.Marshal(sample)
	if err != nil {
		return false, errors.Wrap(err, "encode sample")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.baseURL+"/driver/location", bytes.NewReader(body))
	if err != nil {
		return false, errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.client.Do(req)
	if err != nil {
		return false, apperr.Unavailable(err, "location server unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, statusError(resp)
	}
	var out struct {
		Applied bool `json:"applied"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, apperr.Unavailable(err, "decode server response")
	}
	return out.Applied, nil
}

func statusError(resp *http.Response) error {
	var payload struct {
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := string(raw)
	if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
		msg = payload.Error
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return apperr.PermissionDenied("server refused the token: %s", msg)
	case resp.StatusCode == http.StatusNotFound:
		return apperr.NotFound("%s", msg)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return apperr.Validation("%s", msg)
	default:
		return apperr.Unavailable(fmt.Errorf("status %d", resp.StatusCode), "%s", msg)
	}
}
