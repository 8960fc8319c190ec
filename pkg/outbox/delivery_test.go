package outbox

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/agentbackend/pkg/models"
)

func TestSign_MatchesManualHMAC(t *testing.T) {
	secret := "s3cr3t"
	timestamp := int64(1700000000)
	body := []byte(`{"hello":"world"}`)

	got := sign(secret, timestamp, body)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))

	assert.Equal(t, want, got)
}

func TestBackoffDelay_CapsAtMax(t *testing.T) {
	d := backoffDelay(50, 30*time.Second, time.Hour)
	assert.LessOrEqual(t, d, time.Hour)
}

func TestSend_SetsSignatureHeaders(t *testing.T) {
	var gotSig, gotTS, gotIdem string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Hook-Signature")
		gotTS = r.Header.Get("X-Hook-Timestamp")
		gotIdem = r.Header.Get("X-Hook-Idempotency")
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, `{"k":"v"}`, string(body))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDelivery(nil, Config{Secret: "sekret", BaseURL: srv.URL}, nil)
	msg := &models.OutboxMessage{
		Body:           []byte(`{"k":"v"}`),
		IdempotencyKey: "idem-1",
	}

	status, err := d.send(context.Background(), srv.URL, msg)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, gotSig)
	assert.NotEmpty(t, gotTS)
	assert.Equal(t, "idem-1", gotIdem)
}
