package validator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/daddykev/stardust-dsp/internal/config"
	erndomain "github.com/daddykev/stardust-dsp/internal/ern/domain"
	"github.com/daddykev/stardust-dsp/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newClient(url string) *Client {
	cfg := config.Config{}
	cfg.Validation.URL = url
	cfg.Validation.APIKey = "test-key"
	cfg.Validation.Timeout = 2 * time.Second
	return New(cfg, zap.NewNop())
}

func sampleMessage() *erndomain.Message {
	return &erndomain.Message{
		Version: "ERN-4.3",
		Profile: "AudioSingle",
		Header:  erndomain.Header{MessageID: "MSG-1", Sender: "Acme Records"},
	}
}

func TestValidateValidResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "ERN-4.3", req["version"])
		assert.Equal(t, "AudioSingle", req["profile"])
		assert.ElementsMatch(t, []any{"schema", "business", "technical"}, req["validationTypes"])

		json.NewEncoder(w).Encode(Result{Valid: true, Warnings: []string{"deprecated territory code"}})
	}))
	defer srv.Close()

	result, err := newClient(srv.URL).Validate(context.Background(), sampleMessage())
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Empty(t, result.Errors)
	assert.Equal(t, []string{"deprecated territory code"}, result.Warnings)
}

func TestValidateInvalidResponseIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Result{Valid: false, Errors: []string{"missing ISRC", "bad territory"}})
	}))
	defer srv.Close()

	result, err := newClient(srv.URL).Validate(context.Background(), sampleMessage())
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Len(t, result.Errors, 2)
}

func TestValidateServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newClient(srv.URL).Validate(context.Background(), sampleMessage())
	require.Error(t, err)
	assert.True(t, pipeline.IsTransient(err))
}

func TestValidateNetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	_, err := newClient(srv.URL).Validate(context.Background(), sampleMessage())
	require.Error(t, err)
	assert.True(t, pipeline.IsTransient(err))
}

func TestValidateClientErrorIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := newClient(srv.URL).Validate(context.Background(), sampleMessage())
	require.Error(t, err)
	assert.False(t, pipeline.IsTransient(err))
}
