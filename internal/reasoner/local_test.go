package reasoner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLocalReasoner_AppliesDefaults(t *testing.T) {
	r := NewLocalReasoner("", "")

	assert.Equal(t, DefaultLocalHost, r.host)
	assert.Equal(t, DefaultLocalModel, r.model)
}

func TestLocalReasoner_Complete_ReturnsTrimmedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "/api/generate", req.URL.Path)
		var body ollamaGenerateRequest
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		assert.Equal(t, "a one-line summary of the note", body.Prompt)
		assert.False(t, body.Stream)

		_ = json.NewEncoder(w).Encode(ollamaGenerateResponse{
			Response: "  the note is about onboarding  \n",
			Done:     true,
		})
	}))
	defer srv.Close()

	r := NewLocalReasoner(srv.URL, "qwen3:0.6b")
	out, err := r.Complete(context.Background(), "a one-line summary of the note", CompleteOptions{})

	require.NoError(t, err)
	assert.Equal(t, "the note is about onboarding", out)
}

func TestLocalReasoner_Complete_NonOKStatus_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("model not loaded"))
	}))
	defer srv.Close()

	r := NewLocalReasoner(srv.URL, "qwen3:0.6b")
	_, err := r.Complete(context.Background(), "prompt", CompleteOptions{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestLocalReasoner_Name(t *testing.T) {
	r := NewLocalReasoner("", "qwen3:0.6b")
	assert.Equal(t, "local:qwen3:0.6b", r.Name())
}

func TestLocalReasoner_Available(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path == "/api/tags" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	r := NewLocalReasoner(srv.URL, "qwen3:0.6b")
	assert.True(t, r.Available(context.Background()))
}

func TestLocalReasoner_Available_Unreachable_ReturnsFalse(t *testing.T) {
	r := NewLocalReasoner("http://127.0.0.1:1", "qwen3:0.6b")
	assert.False(t, r.Available(context.Background()))
}
