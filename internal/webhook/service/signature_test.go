package service

import (
	"testing"
	"time"

	"github.com/smallbiznis/siteledger/internal/webhook/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifySignature(t *testing.T) {
	secret := "whsec_test"
	body := []byte(`{"id":"evt_1","type":"invoice.created","data":{"object":{}}}`)
	now := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, VerifySignature(secret, Sign(secret, body, now), body, now, 5*time.Minute))

	rolled := Sign("whsec_old", body, now) + ",v1=" + computeSignature(secret, "1740830400", body)
	require.NoError(t, VerifySignature(secret, rolled, body, now, 5*time.Minute))

	cases := map[string]string{
		"wrong secret": Sign("other", body, now),
		"missing":      "",
		"malformed":    "garbage",
		"stale":        Sign(secret, body, now.Add(-10*time.Minute)),
		"future":       Sign(secret, body, now.Add(10*time.Minute)),
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, VerifySignature(secret, header, body, now, 5*time.Minute), domain.ErrSignatureInvalid)
		})
	}

	assert.ErrorIs(t, VerifySignature("", Sign("", body, now), body, now, time.Minute), domain.ErrSignatureInvalid)
	assert.ErrorIs(t, VerifySignature(secret, Sign(secret, body, now), []byte(`{"tampered":true}`), now, time.Minute), domain.ErrSignatureInvalid)
}
