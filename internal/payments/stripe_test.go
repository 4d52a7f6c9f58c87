package payments

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"

	"github.com/sellora/escrowd/internal/fundrelease"
)

const testSecret = "whsec_test"

type conditionFlip struct {
	id    string
	cond  fundrelease.Condition
	value bool
}

// stubConditioner fakes the fund release lookup the webhook needs.
type stubConditioner struct {
	bySubOrder map[string]string // sub-order ID -> release ID
	flips      []conditionFlip
}

func (s *stubConditioner) GetBySubOrder(ctx context.Context, subOrderID string) (*fundrelease.FundRelease, error) {
	id, ok := s.bySubOrder[subOrderID]
	if !ok {
		return nil, fundrelease.ErrNotFound
	}
	return &fundrelease.FundRelease{ID: id, SubOrderID: subOrderID}, nil
}

func (s *stubConditioner) UpdateCondition(ctx context.Context, id string, cond fundrelease.Condition, value bool) (*fundrelease.FundRelease, error) {
	s.flips = append(s.flips, conditionFlip{id: id, cond: cond, value: value})
	return &fundrelease.FundRelease{ID: id}, nil
}

func newWebhookRouter(releases *stubConditioner) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewStripeHandler(releases, testSecret, slog.New(slog.NewTextHandler(io.Discard, nil)))
	h.RegisterRoutes(r.Group("/"))
	return r
}

// signedRequest builds a webhook POST with a valid Stripe-Signature header.
func signedRequest(t *testing.T, payload []byte) *http.Request {
	t.Helper()
	now := time.Now()
	sig := webhook.ComputeSignature(now, payload, testSecret)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature",
		fmt.Sprintf("t=%d,v1=%s", now.Unix(), hex.EncodeToString(sig)))
	return req
}

func eventPayload(eventType, metadata string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": "evt_1",
		"api_version": %q,
		"type": %q,
		"data": {"object": {"id": "pi_1", "object": "payment_intent", "metadata": {"sub_order_ids": %q}}}
	}`, stripe.APIVersion, eventType, metadata))
}

func TestHandleWebhook_PaymentIntentSucceeded(t *testing.T) {
	releases := &stubConditioner{bySubOrder: map[string]string{"sub_1": "fr_1", "sub_2": "fr_2"}}
	router := newWebhookRouter(releases)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, signedRequest(t, eventPayload("payment_intent.succeeded", "sub_1, sub_2")))

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, releases.flips, 2)
	assert.Equal(t, conditionFlip{id: "fr_1", cond: fundrelease.CondPaymentCleared, value: true}, releases.flips[0])
	assert.Equal(t, conditionFlip{id: "fr_2", cond: fundrelease.CondPaymentCleared, value: true}, releases.flips[1])
	assert.Contains(t, rec.Body.String(), `"updated":2`)
}

func TestHandleWebhook_UnknownSubOrderStillAcks(t *testing.T) {
	releases := &stubConditioner{bySubOrder: map[string]string{"sub_1": "fr_1"}}
	router := newWebhookRouter(releases)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, signedRequest(t, eventPayload("payment_intent.succeeded", "sub_unknown,sub_1")))

	// 200 so Stripe stops retrying; the known sub-order is still updated.
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, releases.flips, 1)
	assert.Equal(t, "fr_1", releases.flips[0].id)
	assert.Contains(t, rec.Body.String(), `"updated":1`)
}

func TestHandleWebhook_IgnoresOtherEvents(t *testing.T) {
	releases := &stubConditioner{}
	router := newWebhookRouter(releases)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, signedRequest(t, eventPayload("charge.refunded", "sub_1")))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, releases.flips)
	assert.Contains(t, rec.Body.String(), "ignored")
}

func TestHandleWebhook_BadSignature(t *testing.T) {
	releases := &stubConditioner{bySubOrder: map[string]string{"sub_1": "fr_1"}}
	router := newWebhookRouter(releases)

	payload := eventPayload("payment_intent.succeeded", "sub_1")
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, releases.flips)
}

func TestSplitIDs(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"sub_1,sub_2", []string{"sub_1", "sub_2"}},
		{" sub_1 , sub_2 ", []string{"sub_1", "sub_2"}},
		{"sub_1,,", []string{"sub_1"}},
		{"", nil},
		{" , ", nil},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, splitIDs(tc.in), "splitIDs(%q)", tc.in)
	}
}
