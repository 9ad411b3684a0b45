package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/malwarebo/paygate/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testPayload = []models.ServicePair{
	{I: 0, V: "APP1"},
	{I: 1, V: "Acme"},
	{I: 2, V: "Default Entity"},
	{I: 3, V: "mtnmomo"},
	{I: 4, V: "Default Country"},
}

func TestHTTPProviderClient_JSONResponse(t *testing.T) {
	var received []models.ServicePair
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"reference":"abc-123","accepted":true}`))
	}))
	defer srv.Close()

	var observed int
	client := CreateHTTPProviderClient(time.Second, func(code int, _ time.Duration) { observed = code })
	result := client.Call(context.Background(), srv.URL+"/provider/api/collection", testPayload)

	assert.Equal(t, http.StatusOK, result.StatusCode)
	data, ok := result.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "abc-123", data["reference"])
	assert.Equal(t, testPayload, received)
	assert.Equal(t, http.StatusOK, observed)
}

func TestHTTPProviderClient_TextAndErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("maintenance"))
	}))
	defer srv.Close()

	result := CreateHTTPProviderClient(time.Second, nil).Call(context.Background(), srv.URL, testPayload)
	assert.Equal(t, http.StatusServiceUnavailable, result.StatusCode)
	assert.Equal(t, "maintenance", result.Data)
}

func TestHTTPProviderClient_MalformedJSONFallsBackToText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte("{not json"))
	}))
	defer srv.Close()

	result := CreateHTTPProviderClient(time.Second, nil).Call(context.Background(), srv.URL, testPayload)
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Equal(t, "{not json", result.Data)
}

func TestHTTPProviderClient_TimeoutIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		time.Sleep(300 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	result := CreateHTTPProviderClient(50*time.Millisecond, nil).Call(context.Background(), srv.URL, testPayload)

	assert.Equal(t, 500, result.StatusCode)
	data, ok := result.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, data["error"], "Microservice call failed: ")
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPProviderClient_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	result := CreateHTTPProviderClient(time.Second, nil).Call(context.Background(), url, testPayload)
	assert.Equal(t, 500, result.StatusCode)
}

func TestHTTPProviderClient_IgnoresCallerCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := CreateHTTPProviderClient(time.Second, nil).Call(ctx, srv.URL, testPayload)
	assert.Equal(t, http.StatusOK, result.StatusCode)
}
