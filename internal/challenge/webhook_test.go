package challenge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookDeliverer(t *testing.T) {
	var got map[string]string
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	d := NewWebhookDeliverer(srv.URL, "relay-token")
	require.NoError(t, d.Deliver(context.Background(), "admin@example.com", "123456", "ch-1"))
	assert.Equal(t, "Bearer relay-token", auth)
	assert.Equal(t, "123456", got["code"])
	assert.Equal(t, "ch-1", got["challengeId"])
	assert.Equal(t, "admin@example.com", got["target"])
}

func TestWebhookDelivererRelayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewWebhookDeliverer(srv.URL, "").Deliver(context.Background(), "a@b.c", "1", "ch")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}
