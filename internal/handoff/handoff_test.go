package handoff

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sdr-backend/internal/events"
	"sdr-backend/internal/profile"
	"sdr-backend/pkg/logger"
)

type fixedCompany struct{ c profile.Company }

func (f fixedCompany) Company(context.Context) (profile.Company, error) { return f.c, nil }

type echoSummarizer struct{}

func (echoSummarizer) Summarize(_ context.Context, history, _ string) (string, error) {
	return "- " + history, nil
}

func TestDispatch_SignsAndPostsPayload(t *testing.T) {
	var gotSig string
	var got Payload
	var raw []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(SignatureHeader)
		raw, _ = io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	evRepo := events.NewMemoryRepo()
	repo := NewMemoryRepo()
	svc := NewService(echoSummarizer{}, fixedCompany{profile.Company{HandoffWebhookURL: srv.URL, HandoffWebhookSecret: "s3cret"}},
		repo, events.NewService(evRepo, logger.Discard()), time.Second, logger.Discard())

	summary, err := svc.Dispatch(context.Background(), Request{
		ConversationID: "c1", LeadName: "Ana", LeadContact: "5511999990000",
		History: "lead: quero visitar", Status: "no_reply_24h",
	})
	require.NoError(t, err)
	assert.Equal(t, "- lead: quero visitar", summary)
	assert.Equal(t, "Ana", got.LeadName)
	assert.Equal(t, "no_reply_24h", got.Status)
	assert.Equal(t, Sign("s3cret", raw), gotSig)
	require.Len(t, repo.Records(), 1)
	assert.Equal(t, []events.Type{events.TypeHandoffSummary}, evRepo.Types("c1"))
}

func TestDispatch_WebhookFailureIsRecordedNotReturned(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	evRepo := events.NewMemoryRepo()
	svc := NewService(echoSummarizer{}, fixedCompany{profile.Company{HandoffWebhookURL: srv.URL}},
		NewMemoryRepo(), events.NewService(evRepo, logger.Discard()), time.Second, logger.Discard())

	_, err := svc.Dispatch(context.Background(), Request{ConversationID: "c1", History: "h"})
	require.NoError(t, err)
	assert.Equal(t, []events.Type{events.TypeHandoffSummary, events.TypeHandoffWebhookError}, evRepo.Types("c1"))
}

func TestDispatch_NoWebhookConfigured(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(echoSummarizer{}, fixedCompany{}, repo, nil, 0, logger.Discard())

	_, err := svc.Dispatch(context.Background(), Request{ConversationID: "c1", History: "h"})
	require.NoError(t, err)
	assert.Len(t, repo.Records(), 1)

	_, err = svc.Dispatch(context.Background(), Request{})
	require.Error(t, err)
}

func TestSign_KnownVector(t *testing.T) {
	// RFC 4231 test case 2.
	assert.Equal(t,
		"5bdcc146bf60754e6a042426089575c75a003f089d2739839dec58b964ec3843",
		Sign("Jefe", []byte("what do ya want for nothing?")))
}
