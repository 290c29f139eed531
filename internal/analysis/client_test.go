package analysis

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/analyze", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "var x=1", req.Code)
		assert.Equal(t, "main.js", req.Filename)
		assert.True(t, req.DryRun)

		json.NewEncoder(w).Encode(Result{
			Success:        true,
			Transformed:    "let x = 1",
			DetectedIssues: []string{"var-usage"},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	result, err := client.Run(context.Background(), Request{
		Code:     "var x=1",
		Filename: "main.js",
		DryRun:   true,
	})

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "let x = 1", result.Transformed)
	assert.Equal(t, []any{"var-usage"}, result.DetectedIssues)
}

func TestClientRunServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "analysis backend unavailable", http.StatusBadGateway)
	}))
	defer srv.Close()

	result, err := NewClient(srv.URL).Run(context.Background(), Request{Code: "x"})
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "analysis backend unavailable")
}

func TestClientRunRespectsContextDeadline(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewClient(srv.URL).Run(ctx, Request{Code: "x"})
	require.Error(t, err)
}

func TestClientRunMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{not json"))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Run(context.Background(), Request{Code: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode")
}

func TestEngineFunc(t *testing.T) {
	called := false
	engine := EngineFunc(func(ctx context.Context, req Request) (*Result, error) {
		called = true
		return &Result{Success: true}, nil
	})

	result, err := engine.Run(context.Background(), Request{})
	require.NoError(t, err)
	assert.True(t, called)
	assert.True(t, result.Success)
}
