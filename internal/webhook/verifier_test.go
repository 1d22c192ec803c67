package webhook

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "whsec_test"

var succeededPayload = []byte(`{
	"id": "evt_1",
	"type": "payment_intent.succeeded",
	"created": 1700000000,
	"data": {"object": {
		"id": "pi_123",
		"object": "payment_intent",
		"amount": 115000,
		"currency": "lkr",
		"status": "succeeded",
		"metadata": {"orderId": "9f3c7a40-5a2e-4a57-a8c3-2f0b3e7b9d11"},
		"payment_method_details": {"card": {"brand": "visa", "last4": "4242"}}
	}}
}`)

func fixedVerifier(now time.Time) *Verifier {
	v := NewVerifier(testSecret, 5*time.Minute)
	v.now = func() time.Time { return now }
	return v
}

func TestVerifyAcceptsValidSignature(t *testing.T) {
	now := time.Unix(1700000100, 0)
	v := fixedVerifier(now)

	evt, err := v.Verify(succeededPayload, Sign(succeededPayload, testSecret, now))
	require.NoError(t, err)
	assert.Equal(t, "evt_1", evt.ID)
	assert.Equal(t, KindIntentSucceeded, evt.Kind)
	assert.Equal(t, "pi_123", evt.Object.IntentID)
	assert.Equal(t, "9f3c7a40-5a2e-4a57-a8c3-2f0b3e7b9d11", evt.Object.OrderID())
	assert.Equal(t, "visa", evt.Object.CardBrand)
	assert.Equal(t, "4242", evt.Object.Last4)
}

func TestVerifyRejects(t *testing.T) {
	now := time.Unix(1700000100, 0)
	tampered := append([]byte{}, succeededPayload...)
	tampered[len(tampered)-3] = ' '

	tests := []struct {
		name    string
		payload []byte
		header  string
		secret  string
		want    error
	}{
		{"wrong secret", succeededPayload, Sign(succeededPayload, "other", now), testSecret, ErrSignatureInvalid},
		{"tampered body", tampered, Sign(succeededPayload, testSecret, now), testSecret, ErrSignatureInvalid},
		{"missing header", succeededPayload, "", testSecret, ErrSignatureInvalid},
		{"garbage header", succeededPayload, "nonsense", testSecret, ErrSignatureInvalid},
		{"too old", succeededPayload, Sign(succeededPayload, testSecret, now.Add(-10*time.Minute)), testSecret, ErrExpired},
		{"from the future", succeededPayload, Sign(succeededPayload, testSecret, now.Add(10*time.Minute)), testSecret, ErrExpired},
		{"empty secret", succeededPayload, Sign(succeededPayload, "", now), "", ErrSignatureInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewVerifier(tt.secret, 5*time.Minute)
			v.now = func() time.Time { return now }
			_, err := v.Verify(tt.payload, tt.header)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestVerifyWithoutToleranceStillRejectsReplays(t *testing.T) {
	now := time.Unix(1700000100, 0)
	v := NewVerifier(testSecret, 0)
	v.now = func() time.Time { return now }

	_, err := v.Verify(succeededPayload, Sign(succeededPayload, testSecret, now.Add(-time.Hour)))
	assert.ErrorIs(t, err, ErrExpired)

	_, err = v.Verify(succeededPayload, Sign(succeededPayload, testSecret, now.Add(-time.Minute)))
	assert.NoError(t, err)
}

func TestVerifyAcceptsAnyOfSeveralSignatures(t *testing.T) {
	now := time.Unix(1700000100, 0)
	v := fixedVerifier(now)
	good := Sign(succeededPayload, testSecret, now)
	header := good + ",v1=deadbeef"
	header = "v1=00ff," + header

	_, err := v.Verify(succeededPayload, header)
	assert.NoError(t, err)
}

func TestVerifyMalformedBody(t *testing.T) {
	now := time.Unix(1700000100, 0)
	v := fixedVerifier(now)
	body := []byte(`{"id": "evt_2"`)

	_, err := v.Verify(body, Sign(body, testSecret, now))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestParseRefundAndFailure(t *testing.T) {
	refund, err := Parse([]byte(`{"id":"evt_r","type":"charge.refunded","created":1,
		"data":{"object":{"id":"ch_1","object":"charge","payment_intent":"pi_9",
		"metadata":{"orderId":"abc"},"refunds":{"data":[{"id":"re_1"}]}}}}`))
	require.NoError(t, err)
	assert.Equal(t, KindChargeRefunded, refund.Kind)
	assert.Equal(t, "pi_9", refund.Object.IntentID)
	assert.Equal(t, "re_1", refund.Object.RefundID)

	failed, err := Parse([]byte(`{"id":"evt_f","type":"payment_intent.payment_failed","created":1,
		"data":{"object":{"id":"pi_9","object":"payment_intent",
		"last_payment_error":{"message":"card declined"}}}}`))
	require.NoError(t, err)
	assert.Equal(t, KindIntentFailed, failed.Kind)
	assert.Equal(t, "pi_9", failed.Object.IntentID)
	assert.Equal(t, "card declined", failed.Object.FailureReason)
	assert.NotNil(t, failed.Object.Metadata)

	other, err := Parse([]byte(`{"id":"evt_o","type":"customer.created","data":{"object":{}}}`))
	require.NoError(t, err)
	assert.Equal(t, KindUnknown, other.Kind)
}
