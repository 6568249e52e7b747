package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sdr-backend/internal/agents"
	"sdr-backend/internal/cache"
	"sdr-backend/internal/conversations"
	"sdr-backend/internal/debounce"
	"sdr-backend/internal/dedup"
	"sdr-backend/internal/domain"
	"sdr-backend/internal/events"
	"sdr-backend/internal/jobs"
	"sdr-backend/internal/orchestrator"
	"sdr-backend/pkg/logger"
)

type fakeProcessor struct {
	mu        sync.Mutex
	texts     []string
	documents []orchestrator.DocumentTask
	err       error
}

func (p *fakeProcessor) Process(_ context.Context, ev domain.InboundEvent, text string) (orchestrator.Reply, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return orchestrator.Reply{}, p.err
	}
	p.texts = append(p.texts, text)
	return orchestrator.Reply{Intent: agents.IntentFollow, Answer: orchestrator.MsgQualifier, ConversationID: ev.ConversationID, Delivered: true}, nil
}

func (p *fakeProcessor) HandleDocument(_ context.Context, t orchestrator.DocumentTask) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.documents = append(p.documents, t)
	return nil
}

func (p *fakeProcessor) processed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.texts...)
}

type failingLimiter struct{}

func (failingLimiter) IncrWindow(context.Context, string, time.Duration) (int64, error) {
	return 0, errors.New("redis down")
}

type env struct {
	repo   *conversations.MemoryRepo
	events *events.MemoryRepo
	proc   *fakeProcessor
	queue  *jobs.MemoryQueue
	store  *cache.MemoryStore
	router *gin.Engine
	h      *Handler
}

func newEnv(t *testing.T, buf TextBuffer, opts Options) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	e := &env{
		repo:   conversations.NewMemoryRepo(),
		events: events.NewMemoryRepo(),
		proc:   &fakeProcessor{},
		queue:  jobs.NewMemoryQueue(8),
		store:  cache.NewMemoryStore(),
	}
	e.h = NewHandler(Deps{
		Dedup:         dedup.NewFilter(e.store, e.repo, time.Hour, logger.Discard(), nil),
		Conversations: conversations.NewService(e.repo, logger.Discard()),
		Events:        events.NewService(e.events, logger.Discard()),
		Processor:     e.proc,
		Buffer:        buf,
		Jobs:          e.queue,
		Limiter:       e.store,
	}, opts)
	e.router = gin.New()
	e.router.POST("/webhooks/evolution", e.h.Evolution)
	return e
}

func (e *env) post(t *testing.T, body string, header map[string]string) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/evolution", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	var res Response
	if w.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	}
	return w, res
}

const hello = `{"mensagem_id":"m1","contato":"+551199","tipo":"texto","conteudo":"Hello"}`

func TestEvolution_RedeliveryIsIgnored(t *testing.T) {
	var mu sync.Mutex
	var units []debounce.Unit
	buf := debounce.New(context.Background(), 30*time.Millisecond, func(_ context.Context, u debounce.Unit) {
		mu.Lock()
		units = append(units, u)
		mu.Unlock()
	}, logger.Discard(), nil)
	defer buf.Close()
	e := newEnv(t, buf, Options{})

	w, first := e.post(t, hello, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, StatusBuffered, first.Status)
	assert.NotEmpty(t, first.ConversationID)
	assert.NotEmpty(t, first.MessageID)

	w, second := e.post(t, hello, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, StatusIgnored, second.Status)
	assert.Equal(t, ReasonDuplicate, second.Reason)

	msgs := e.repo.Messages(first.ConversationID)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Hello", msgs[0].Content)
	assert.Equal(t, conversations.AuthorLead, msgs[0].Author)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(units) == 1
	}, time.Second, 10*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	mu.Lock()
	assert.Len(t, units, 1)
	assert.Equal(t, "Hello", units[0].Text)
	mu.Unlock()

	assert.Equal(t, []events.Type{events.TypeIncomingMessage, events.TypeTextBuffered}, e.events.Types(first.ConversationID))
}

func TestEvolution_SynchronousReplyWithoutBuffer(t *testing.T) {
	e := newEnv(t, nil, Options{})

	w, res := e.post(t, hello, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, StatusOK, res.Status)
	require.NotNil(t, res.Reply)
	assert.Equal(t, agents.IntentFollow, res.Reply.Intent)
	assert.Equal(t, []string{"Hello"}, e.proc.processed())
}

func TestEvolution_SecretMismatch(t *testing.T) {
	e := newEnv(t, nil, Options{Secret: "s3cret"})

	w, _ := e.post(t, hello, map[string]string{SecretHeader: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_signature")
	assert.Empty(t, e.proc.processed())

	w, res := e.post(t, hello, map[string]string{SecretHeader: "s3cret"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, StatusOK, res.Status)
}

func TestEvolution_RateLimit(t *testing.T) {
	e := newEnv(t, nil, Options{RateLimitPerMinute: 2})

	for i, id := range []string{"r1", "r2"} {
		w, _ := e.post(t, `{"mensagem_id":"`+id+`","contato":"+5511","tipo":"texto","conteudo":"oi"}`, nil)
		require.Equal(t, http.StatusOK, w.Code, "request %d", i)
	}
	w, _ := e.post(t, `{"mensagem_id":"r3","contato":"+5511","tipo":"texto","conteudo":"oi"}`, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestEvolution_RateLimiterFailsOpen(t *testing.T) {
	e := newEnv(t, nil, Options{RateLimitPerMinute: 1})
	e.h.deps.Limiter = failingLimiter{}

	for _, id := range []string{"f1", "f2", "f3"} {
		w, _ := e.post(t, `{"mensagem_id":"`+id+`","contato":"+5511","tipo":"texto","conteudo":"oi"}`, nil)
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestEvolution_IgnoredPayloads(t *testing.T) {
	e := newEnv(t, nil, Options{})

	_, res := e.post(t, `not json`, nil)
	assert.Equal(t, StatusIgnored, res.Status)
	assert.Equal(t, ReasonJSONInvalid, res.Reason)

	_, res = e.post(t, `{"data":{"key":{"id":"x"}}}`, nil)
	assert.Equal(t, ReasonMissingSender, res.Reason)
	assert.Empty(t, e.events.Events())
}

func TestEvolution_AudioIsQueued(t *testing.T) {
	e := newEnv(t, nil, Options{})
	raw := `{"data":{"key":{"remoteJid":"5511@s.whatsapp.net","id":"A1"},"message":{"audioMessage":{"url":"https://mmg.whatsapp.net/a.ogg","mimetype":"audio/ogg"}}}}`

	w, res := e.post(t, raw, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, StatusAck, res.Status)
	assert.Equal(t, "transcription", res.Queued)
	require.Equal(t, 1, e.queue.Len())

	j, err := e.queue.Dequeue(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, jobs.KindTranscription, j.Kind)
	assert.Equal(t, res.ConversationID, j.ConversationID)
	assert.Equal(t, res.MessageID, j.MessageID)
	assert.Equal(t, "A1", j.Event.ID)
	assert.Empty(t, e.proc.processed())
}

func TestEvolution_DocumentRunsInBackground(t *testing.T) {
	e := newEnv(t, nil, Options{})
	raw := `{"data":{"key":{"remoteJid":"5511","id":"D1"},"message":{"documentMessage":{"url":"https://cdn.example.com/m.pdf","mimetype":"application/pdf","caption":"qual a metragem?"}}}}`

	w, res := e.post(t, raw, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, StatusAck, res.Status)
	assert.Equal(t, "document_processing", res.Queued)

	e.h.Wait()
	require.Len(t, e.proc.documents, 1)
	assert.Equal(t, res.ConversationID, e.proc.documents[0].ConversationID)
	assert.Equal(t, "qual a metragem?", e.proc.documents[0].Event.Caption())
}

func TestEvolution_FailureReleasesDedup(t *testing.T) {
	e := newEnv(t, nil, Options{})
	e.proc.err = errors.New("provider down")

	w, _ := e.post(t, hello, nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	e.proc.err = nil
	w, res := e.post(t, hello, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, StatusOK, res.Status, "retry after a failure must be processed")
}
