package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoreply/internal/domain"
)

func newTestRouter(t *testing.T) (http.Handler, *int) {
	t.Helper()
	calls := 0
	fb := newTestConnector(FacebookSpec(), Credentials{AppSecret: "fb-secret", VerifyToken: "T"})
	fb.On(domain.EventMessage, func(ctx context.Context, ev domain.Event) error {
		calls++
		return nil
	})
	h := NewRouter(RouterConfig{
		Connectors:  []*Connector{fb},
		MetricsPath: "/metrics",
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("ok_total 1\n"))
		}),
		Logger: testLogger(),
	})
	return h, &calls
}

func TestRouter_Handshake(t *testing.T) {
	h, _ := newTestRouter(t)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("GET", "/webhook/facebook?hub.mode=subscribe&hub.verify_token=T&hub.challenge=42", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "42", rr.Body.String())

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("GET", "/webhook/facebook?hub.mode=subscribe&hub.verify_token=X&hub.challenge=42", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRouter_UnknownAndDisabledPlatforms(t *testing.T) {
	h, _ := newTestRouter(t)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("POST", "/webhook/telegram", bytes.NewBufferString(`{}`)))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("POST", "/webhook/whatsapp", bytes.NewBufferString(`{}`)))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRouter_PostErrors(t *testing.T) {
	h, calls := newTestRouter(t)
	body := []byte(`{"object":"page","entry":[{"id":"P","messaging":[{"sender":{"id":"U"},"timestamp":1,"message":{"mid":"m","text":"hi"}}]}]}`)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("POST", "/webhook/facebook", bytes.NewReader(body)))
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Contains(t, rr.Body.String(), `"error"`)

	bad := []byte(`[oops`)
	req := httptest.NewRequest("POST", "/webhook/facebook", bytes.NewReader(bad))
	req.Header.Set("X-Hub-Signature", Sign(SHA1, "fb-secret", bad))
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	assert.Equal(t, 0, *calls)
}

type failingBody struct{}

func (failingBody) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestRouter_BodyReadErrors(t *testing.T) {
	fb := newTestConnector(FacebookSpec(), Credentials{AppSecret: "fb-secret", VerifyToken: "T"})
	h := NewRouter(RouterConfig{Connectors: []*Connector{fb}, MaxBodyBytes: 16, Logger: testLogger()})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("POST", "/webhook/facebook", bytes.NewReader(bytes.Repeat([]byte("x"), 64))))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("POST", "/webhook/facebook", failingBody{}))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "cannot read request body")
}

func TestRouter_PostDispatches(t *testing.T) {
	h, calls := newTestRouter(t)
	body := []byte(`{"object":"page","entry":[{"id":"P","messaging":[{"sender":{"id":"U"},"timestamp":1,"message":{"mid":"m","text":"hi"}}]}]}`)

	req := httptest.NewRequest("POST", "/webhook/facebook", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature", Sign(SHA1, "fb-secret", body))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var out WebhookResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	require.Len(t, out.Results, 1)
	assert.Equal(t, domain.StatusProcessed, out.Results[0].Status)
	assert.Equal(t, 1, *calls)
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	h, _ := newTestRouter(t)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("GET", "/healthz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "facebook")

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, "ok_total 1\n", rr.Body.String())
}
