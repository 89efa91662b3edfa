package channel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoreply/internal/domain"
)

func newTestConnector(spec PlatformSpec, creds Credentials) *Connector {
	return NewConnector(ConnectorConfig{Spec: spec, Credentials: creds, Logger: testLogger()})
}

func signedHeaders(spec PlatformSpec, secret string, body []byte) http.Header {
	h := http.Header{}
	h.Set(spec.SignatureHeader, Sign(spec.Algorithm, secret, body))
	return h
}

// --- Handshake ---

func TestHandshake_Facebook(t *testing.T) {
	c := newTestConnector(FacebookSpec(), Credentials{VerifyToken: "T"})

	challenge, err := c.Handshake(url.Values{
		"hub.mode": {"subscribe"}, "hub.verify_token": {"T"}, "hub.challenge": {"42"},
	})
	require.NoError(t, err)
	assert.Equal(t, "42", challenge)

	_, err = c.Handshake(url.Values{
		"hub.mode": {"subscribe"}, "hub.verify_token": {"X"}, "hub.challenge": {"42"},
	})
	require.Error(t, err)
	assert.True(t, domain.IsVerificationError(err))
}

func TestHandshake_WrongModeFails(t *testing.T) {
	c := newTestConnector(InstagramSpec(), Credentials{VerifyToken: "T"})
	_, err := c.Handshake(url.Values{"hub.mode": {"unsubscribe"}, "hub.verify_token": {"T"}})
	assert.True(t, domain.IsVerificationError(err))
}

func TestHandshake_UnconfiguredTokenAlwaysFails(t *testing.T) {
	c := newTestConnector(WhatsAppSpec(), Credentials{})
	_, err := c.Handshake(url.Values{"hub.mode": {"subscribe"}, "hub.verify_token": {""}, "hub.challenge": {"1"}})
	assert.True(t, domain.IsVerificationError(err))
}

// --- Request-boundary failures ---

func TestHandleWebhook_MissingSignatureNeverReachesHandlers(t *testing.T) {
	calls := 0
	c := newTestConnector(WhatsAppSpec(), Credentials{AppSecret: "secret"})
	c.On(domain.EventMessage, func(ctx context.Context, ev domain.Event) error {
		calls++
		return nil
	})

	body := []byte(`{"object":"whatsapp_business_account","entry":[{"changes":[{"field":"messages","value":{"messages":[{"id":"wamid.1","from":"1","type":"text","text":{"body":"hi"}}]}}]}]}`)
	res, err := c.HandleWebhook(context.Background(), http.Header{}, body)

	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, domain.IsSignatureError(err))
	assert.Equal(t, 0, calls)
}

func TestHandleWebhook_InvalidJSONIsParseError(t *testing.T) {
	c := newTestConnector(FacebookSpec(), Credentials{AppSecret: "secret"})
	body := []byte(`{not json`)
	_, err := c.HandleWebhook(context.Background(), signedHeaders(FacebookSpec(), "secret", body), body)
	require.Error(t, err)
	assert.True(t, domain.IsParseError(err))
}

func TestHandleWebhook_NoSecretSkipsWithFlag(t *testing.T) {
	c := newTestConnector(FacebookSpec(), Credentials{})
	res, err := c.HandleWebhook(context.Background(), http.Header{}, []byte(`{"object":"page","entry":[]}`))
	require.NoError(t, err)
	assert.True(t, res.SignatureSkipped)
	assert.Equal(t, StateDispatched, res.State)
	assert.Empty(t, res.Results)
}

// --- Classification ---

func TestHandleWebhook_ClassifiesMessengerEvents(t *testing.T) {
	body := []byte(`{"object":"page","entry":[{"id":"PAGE","time":1,"messaging":[
		{"sender":{"id":"U1"},"recipient":{"id":"PAGE"},"timestamp":1700000000000,"message":{"mid":"m1","text":"hi"}},
		{"sender":{"id":"PAGE"},"recipient":{"id":"U1"},"timestamp":1700000000001,"message":{"mid":"m2","text":"yo","is_echo":true}},
		{"sender":{"id":"U1"},"recipient":{"id":"PAGE"},"timestamp":1700000000002,"delivery":{"mids":["m2"]}},
		{"sender":{"id":"U1"},"recipient":{"id":"PAGE"},"timestamp":1700000000003,"read":{"watermark":1}},
		{"sender":{"id":"U1"},"recipient":{"id":"PAGE"},"timestamp":1700000000004,"postback":{"payload":"START"}},
		{"sender":{"id":"U1"},"recipient":{"id":"PAGE"},"timestamp":1700000000005,"reaction":{"mid":"m2","action":"react"}},
		{"sender":{"id":"U1"},"recipient":{"id":"PAGE"},"timestamp":1700000000006,"optin":{}}
	],"changes":[{"field":"feed","value":{"item":"comment","comment_id":"c1","post_id":"p1"}}]}]}`)

	var seen []domain.EventType
	c := newTestConnector(FacebookSpec(), Credentials{})
	for _, typ := range []domain.EventType{
		domain.EventMessage, domain.EventMessageEcho, domain.EventDelivery, domain.EventRead,
		domain.EventPostback, domain.EventReaction, domain.EventComment,
	} {
		c.On(typ, func(ctx context.Context, ev domain.Event) error {
			seen = append(seen, ev.Type)
			return nil
		})
	}

	res, err := c.HandleWebhook(context.Background(), http.Header{}, body)
	require.NoError(t, err)
	require.Len(t, res.Results, 8)

	assert.Equal(t, []domain.EventType{
		domain.EventMessage, domain.EventMessageEcho, domain.EventDelivery, domain.EventRead,
		domain.EventPostback, domain.EventReaction, domain.EventComment,
	}, seen)

	assert.Equal(t, "m1", res.Results[0].Identifier)
	assert.Equal(t, domain.EventUnknown, res.Results[6].EventType)
	assert.Equal(t, domain.StatusIgnored, res.Results[6].Status)
	assert.Equal(t, "c1", res.Results[7].Identifier)
}

func TestHandleWebhook_ClassifiesInstagramChanges(t *testing.T) {
	body := []byte(`{"object":"instagram","entry":[{"id":"IG","time":1,"changes":[
		{"field":"comments","value":{"id":"17865799348089039","text":"nice"}},
		{"field":"mentions","value":{"media_id":"m9","comment_id":"c9"}},
		{"field":"story_insights","value":{"media_id":"m10"}}
	]}]}`)

	c := newTestConnector(InstagramSpec(), Credentials{})
	c.On(domain.EventComment, func(ctx context.Context, ev domain.Event) error { return nil })
	c.On(domain.EventMention, func(ctx context.Context, ev domain.Event) error { return nil })

	res, err := c.HandleWebhook(context.Background(), http.Header{}, body)
	require.NoError(t, err)
	require.Len(t, res.Results, 3)
	assert.Equal(t, domain.EventComment, res.Results[0].EventType)
	assert.Equal(t, domain.EventMention, res.Results[1].EventType)
	assert.Equal(t, "c9", res.Results[1].Identifier)
	assert.Equal(t, domain.EventUnknown, res.Results[2].EventType)
	assert.Equal(t, domain.StatusIgnored, res.Results[2].Status)
}

func TestHandleWebhook_WhatsAppMessagesAndStatuses(t *testing.T) {
	body := []byte(`{"object":"whatsapp_business_account","entry":[{"id":"WABA","changes":[{"field":"messages","value":{
		"metadata":{"phone_number_id":"123"},
		"contacts":[{"wa_id":"5551234","profile":{"name":"Ana"}}],
		"messages":[
			{"type":"text","from":"5551234","id":"wamid.1","timestamp":"1700000000","text":{"body":"hello"}},
			{"type":"reaction","from":"5551234","id":"wamid.r1","timestamp":"1700000001","reaction":{"message_id":"wamid.0","emoji":"👍"}},
			{"type":"unsupported","from":"5551234","id":"wamid.u1","timestamp":"1700000002"}
		],
		"statuses":[{"id":"wamid.0","status":"DELIVERED","recipient_id":"5551234"}]
	}}]}]}`)

	var payload waMessagePayload
	var statusTypes []domain.EventType
	c := newTestConnector(WhatsAppSpec(), Credentials{AppSecret: "s"})
	c.On(domain.EventMessage, func(ctx context.Context, ev domain.Event) error {
		assert.Equal(t, "123", ev.OwnerID)
		return json.Unmarshal(ev.Payload, &payload)
	})
	c.OnStatus(func(ctx context.Context, ev domain.Event) error {
		statusTypes = append(statusTypes, ev.Type)
		return nil
	})

	res, err := c.HandleWebhook(context.Background(), signedHeaders(WhatsAppSpec(), "s", body), body)
	require.NoError(t, err)
	require.Len(t, res.Results, 4)
	assert.Equal(t, "wamid.1", res.Results[0].Identifier)
	assert.Equal(t, domain.StatusProcessed, res.Results[0].Status)
	assert.Equal(t, domain.EventReaction, res.Results[1].EventType)
	assert.Equal(t, domain.StatusIgnored, res.Results[1].Status)
	assert.Equal(t, domain.EventUnknown, res.Results[2].EventType)
	assert.Equal(t, domain.StatusIgnored, res.Results[2].Status)
	assert.Equal(t, []domain.EventType{"status_delivered"}, statusTypes)
	assert.Contains(t, string(payload.Message), `"wamid.1"`)
	assert.Contains(t, string(payload.Contacts), "Ana")
}

// --- Dispatch isolation ---

func TestHandleWebhook_PerEventIsolation(t *testing.T) {
	body := []byte(`{"object":"page","entry":[{"id":"PAGE","messaging":[
		{"sender":{"id":"A"},"timestamp":1,"message":{"mid":"bad","text":"x"}},
		{"sender":{"id":"B"},"timestamp":2,"message":{"mid":"boom","text":"x"}},
		{"sender":{"id":"C"},"timestamp":3,"message":{"mid":"good","text":"x"}},
		{"sender":{"id":"C"},"timestamp":4,"read":{"watermark":4}}
	]}]}`)

	c := newTestConnector(FacebookSpec(), Credentials{})
	c.On(domain.EventMessage, func(ctx context.Context, ev domain.Event) error {
		switch ev.Identifier {
		case "bad":
			return errors.New("handler failed")
		case "boom":
			panic("kaboom")
		}
		return nil
	})

	res, err := c.HandleWebhook(context.Background(), http.Header{}, body)
	require.NoError(t, err)
	require.Len(t, res.Results, 4)

	assert.Equal(t, domain.StatusError, res.Results[0].Status)
	assert.Equal(t, "handler failed", res.Results[0].Error)
	assert.Equal(t, domain.StatusError, res.Results[1].Status)
	assert.Contains(t, res.Results[1].Error, "kaboom")
	assert.Equal(t, domain.StatusProcessed, res.Results[2].Status)
	assert.Equal(t, domain.StatusIgnored, res.Results[3].Status)
}

func TestSendText_WithoutGraphClient(t *testing.T) {
	c := newTestConnector(FacebookSpec(), Credentials{})
	_, err := c.SendText(context.Background(), "U1", "hi")
	assert.Error(t, err)
}
