package responder

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoreply/internal/conversation"
	"autoreply/internal/domain"
	"autoreply/internal/provider"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeKnowledge struct {
	items []domain.KnowledgeItem
	err   error
	calls int
}

func (f *fakeKnowledge) Search(ctx context.Context, query, userID string) ([]domain.KnowledgeItem, error) {
	f.calls++
	return f.items, f.err
}

type recordingProvider struct {
	reply string
	err   error
	last  domain.GenerateRequest
}

func (p *recordingProvider) Name() string { return "recorder" }

func (p *recordingProvider) Generate(ctx context.Context, req domain.GenerateRequest) (*domain.GenerateResult, error) {
	p.last = req
	if p.err != nil {
		return nil, p.err
	}
	return &domain.GenerateResult{Content: p.reply, Attempts: 1, Metadata: map[string]any{"model": "m"}}, nil
}

func registryWith(p domain.Provider) *provider.Registry {
	reg := provider.NewRegistry()
	reg.Register(p)
	return reg
}

func testMessage(content string) *domain.Message {
	return &domain.Message{
		Platform:       domain.PlatformWhatsApp,
		SenderID:       "5551234",
		Content:        content,
		MessageID:      "wamid.1",
		Timestamp:      time.Unix(1700000000, 0),
		ConversationID: "whatsapp_5551234",
	}
}

func newGenerator(p domain.Provider, kb domain.KnowledgeProvider, store *conversation.Store) *Generator {
	return NewGenerator(GeneratorConfig{
		Conversations: store,
		Providers:     registryWith(p),
		Knowledge:     kb,
		Provider:      p.Name(),
		SystemPrompt:  "Be helpful.",
		Logger:        testLogger(),
	})
}

func TestGenerate_Success(t *testing.T) {
	p := &recordingProvider{reply: "Your order ships tomorrow."}
	kb := &fakeKnowledge{items: []domain.KnowledgeItem{{ID: "k1", Content: "Shipping takes 1 day."}, {ID: "k2"}}}
	store := conversation.NewStore(conversation.StoreConfig{Logger: testLogger()})
	g := newGenerator(p, kb, store)

	resp := g.Generate(context.Background(), testMessage("when does my order ship?"), true)

	assert.False(t, resp.Failed())
	assert.Equal(t, "Your order ships tomorrow.", resp.Content)
	assert.Equal(t, []string{"k1", "k2"}, resp.KnowledgeUsed)
	assert.Equal(t, "recorder", resp.Provider)
	assert.Equal(t, 1, resp.Metadata["attempts"])
	assert.Equal(t, "m", resp.Metadata["model"])
	assert.False(t, resp.Timestamp.IsZero())

	assert.Equal(t, "Be helpful.", p.last.SystemPrompt)
	assert.Len(t, p.last.Knowledge, 2)
	require.Len(t, p.last.History, 1)
	assert.Equal(t, domain.RoleUser, p.last.History[0].Role)

	conv, ok := g.Conversation("whatsapp_5551234")
	require.True(t, ok)
	h := conv.History()
	require.Len(t, h, 2)
	assert.Equal(t, domain.RoleUser, h[0].Role)
	assert.Equal(t, time.Unix(1700000000, 0), h[0].Timestamp)
	assert.Equal(t, domain.RoleAssistant, h[1].Role)
	assert.Equal(t, "Your order ships tomorrow.", h[1].Content)
}

func TestGenerate_KnowledgeErrorIsRecovered(t *testing.T) {
	p := &recordingProvider{reply: "ok"}
	kb := &fakeKnowledge{err: errors.New("db down")}
	g := newGenerator(p, kb, nil)

	resp := g.Generate(context.Background(), testMessage("hi"), true)
	assert.False(t, resp.Failed())
	assert.Equal(t, 1, kb.calls)
	assert.Empty(t, resp.KnowledgeUsed)
	assert.Empty(t, p.last.Knowledge)
}

func TestGenerate_SkipsKnowledgeWhenNotRequested(t *testing.T) {
	kb := &fakeKnowledge{items: []domain.KnowledgeItem{{ID: "k1"}}}
	g := newGenerator(&recordingProvider{reply: "ok"}, kb, nil)

	resp := g.Generate(context.Background(), testMessage("hi"), false)
	assert.Equal(t, 0, kb.calls)
	assert.Empty(t, resp.KnowledgeUsed)
}

func TestGenerate_ProviderFailureReturnsApology(t *testing.T) {
	p := &recordingProvider{err: &domain.ProviderError{Provider: "recorder", Attempts: 5, Err: errors.New("boom")}}
	store := conversation.NewStore(conversation.StoreConfig{Logger: testLogger()})
	g := newGenerator(p, nil, store)

	resp := g.Generate(context.Background(), testMessage("hi"), true)
	assert.True(t, resp.Failed())
	assert.Equal(t, defaultApology, resp.Content)
	assert.Contains(t, resp.Error, "boom")
	assert.Equal(t, "recorder", resp.Provider)

	conv, _ := store.Get("whatsapp_5551234")
	assert.Equal(t, 1, conv.Len(), "apology is not recorded as an assistant turn")
}

func TestGenerate_EmptyReplyIsFailure(t *testing.T) {
	g := newGenerator(&recordingProvider{reply: "   "}, nil, nil)
	resp := g.Generate(context.Background(), testMessage("hi"), false)
	assert.True(t, resp.Failed())
}

func TestGenerate_UnknownProvider(t *testing.T) {
	g := NewGenerator(GeneratorConfig{
		Providers:      provider.NewRegistry(),
		Provider:       "gpt",
		ApologyMessage: "Desculpe!",
		Logger:         testLogger(),
	})
	resp := g.Generate(context.Background(), testMessage("hi"), false)
	assert.Equal(t, "Desculpe!", resp.Content)
	assert.Contains(t, resp.Error, `"gpt" is not registered`)
}

func TestGenerateWithKnowledge_UsesGivenItems(t *testing.T) {
	p := &recordingProvider{reply: "ok"}
	kb := &fakeKnowledge{}
	g := newGenerator(p, kb, nil)

	items := []domain.KnowledgeItem{{ID: "pre"}}
	resp := g.GenerateWithKnowledge(context.Background(), testMessage("hi"), items)
	assert.Equal(t, []string{"pre"}, resp.KnowledgeUsed)
	assert.Equal(t, 0, kb.calls)
}

func TestGenerate_HistoryStaysBounded(t *testing.T) {
	store := conversation.NewStore(conversation.StoreConfig{MaxHistory: 4, Logger: testLogger()})
	g := newGenerator(&recordingProvider{reply: "ok"}, nil, store)

	for i := 0; i < 5; i++ {
		g.Generate(context.Background(), testMessage("again"), false)
	}
	conv, _ := store.Get("whatsapp_5551234")
	assert.Equal(t, 4, conv.Len())
}

func TestGenerate_WithRulesProvider(t *testing.T) {
	reg := provider.NewRegistry()
	reg.Register(provider.NewRules(nil))
	g := NewGenerator(GeneratorConfig{Providers: reg, Logger: testLogger()})

	resp := g.Generate(context.Background(), testMessage("hello"), true)
	assert.False(t, resp.Failed())
	assert.Equal(t, "rules", resp.Provider)
	assert.Equal(t, "greeting", resp.Metadata["rule"])
	assert.NotNil(t, resp.KnowledgeUsed)
}
