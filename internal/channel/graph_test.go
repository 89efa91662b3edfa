package channel

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoreply/internal/domain"
)

type capturedRequest struct {
	path   string
	query  string
	auth   string
	header http.Header
	body   []byte
}

func captureServer(t *testing.T, status int, response string) (*httptest.Server, *capturedRequest) {
	t.Helper()
	got := &capturedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.path = r.URL.Path
		got.query = r.URL.RawQuery
		got.auth = r.Header.Get("Authorization")
		got.header = r.Header.Clone()
		got.body, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, response)
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func newGoldie(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestConnectorSendText_Messenger(t *testing.T) {
	srv, got := captureServer(t, http.StatusOK, `{"recipient_id":"24680","message_id":"mid.1"}`)
	graph := NewGraphClient(GraphClientConfig{APIBase: srv.URL, Timeout: 5 * time.Second, Logger: testLogger()})
	c := NewConnector(ConnectorConfig{
		Spec:        FacebookSpec(),
		Credentials: Credentials{AccessToken: "PAGE_TOKEN"},
		Graph:       graph,
		Logger:      testLogger(),
	})

	receipt, err := c.SendText(context.Background(), "24680", "Thanks for reaching out!")
	require.NoError(t, err)

	assert.Equal(t, "/me/messages", got.path)
	assert.Equal(t, "access_token=PAGE_TOKEN", got.query)
	assert.Equal(t, "application/json", got.header.Get("Content-Type"))
	assert.Empty(t, got.auth)
	newGoldie(t).Assert(t, "messenger_send", got.body)

	assert.Equal(t, "mid.1", receipt.MessageID)
	assert.Equal(t, "24680", receipt.RecipientID)
}

func TestConnectorSendText_WhatsApp(t *testing.T) {
	srv, got := captureServer(t, http.StatusOK,
		`{"messaging_product":"whatsapp","contacts":[{"input":"5551234","wa_id":"5551234"}],"messages":[{"id":"wamid.out"}]}`)
	graph := NewGraphClient(GraphClientConfig{APIBase: srv.URL, Timeout: 5 * time.Second, Logger: testLogger()})
	c := NewConnector(ConnectorConfig{
		Spec:        WhatsAppSpec(),
		Credentials: Credentials{AccessToken: "WA_TOKEN", PhoneNumberID: "123"},
		Graph:       graph,
		Logger:      testLogger(),
	})

	receipt, err := c.SendText(context.Background(), "5551234", "hello back")
	require.NoError(t, err)

	assert.Equal(t, "/123/messages", got.path)
	assert.Equal(t, "Bearer WA_TOKEN", got.auth)
	newGoldie(t).Assert(t, "whatsapp_send", got.body)
	assert.Equal(t, "wamid.out", receipt.MessageID)
}

func TestGraphClient_Non2xxIsSendError(t *testing.T) {
	srv, _ := captureServer(t, http.StatusBadRequest, `{"error":{"message":"Invalid OAuth access token."}}`)
	graph := NewGraphClient(GraphClientConfig{APIBase: srv.URL, Timeout: 5 * time.Second, Logger: testLogger()})

	_, err := graph.SendMessenger(context.Background(), domain.PlatformInstagram, "bad", "U1", "hi")
	require.Error(t, err)

	var sendErr *SendError
	require.True(t, errors.As(err, &sendErr))
	assert.Equal(t, http.StatusBadRequest, sendErr.StatusCode)
	assert.Equal(t, domain.PlatformInstagram, sendErr.Platform)
	assert.Contains(t, sendErr.Body, "Invalid OAuth")
}

func TestGraphClient_WhatsAppRequiresPhoneNumberID(t *testing.T) {
	graph := NewGraphClient(GraphClientConfig{Timeout: time.Second, Logger: testLogger()})
	_, err := graph.SendWhatsApp(context.Background(), "tok", "", "1", "hi")
	assert.Error(t, err)
}
