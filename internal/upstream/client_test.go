package upstream

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Responses(t *testing.T) {
	var gotAuth string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/responses", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		gotBody, _ = io.ReadAll(r.Body)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"resp_1","usage":{"input_tokens":10,"output_tokens":8}}`))
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, APIKey: "sk-test"})
	defer client.Close()

	result, err := client.Responses(context.Background(), []byte(`{"model":"gpt-4o","input":"hi"}`))
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.JSONEq(t, `{"model":"gpt-4o","input":"hi"}`, string(gotBody))

	usage := ExtractUsage(result.Body)
	assert.True(t, usage.Found)
	assert.Equal(t, 10, usage.InputTokens)
	assert.Equal(t, 8, usage.OutputTokens)
}

func TestClient_UpstreamErrorIsNotTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, APIKey: "sk-test"})
	defer client.Close()

	result, err := client.Responses(context.Background(), []byte(`{"model":"gpt-4o"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, result.StatusCode)
	assert.Contains(t, string(result.Body), "overloaded")
}

func TestClient_TransportFailure(t *testing.T) {
	client := NewClient(Config{BaseURL: "http://127.0.0.1:1", APIKey: "sk-test"})
	defer client.Close()

	_, err := client.Responses(context.Background(), []byte(`{}`))
	require.Error(t, err)
}

func TestClient_MockMode(t *testing.T) {
	client := NewClient(Config{Mock: true})

	result, err := client.Responses(context.Background(), []byte(`{"model":"gpt-4o-mini"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, result.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(result.Body, &body))
	assert.Equal(t, "gpt-4o-mini", body["model"])

	usage := ExtractUsage(result.Body)
	assert.True(t, usage.Found)
	assert.Equal(t, 7, usage.OutputTokens)
}

func TestExtractUsage(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		found   bool
		in, out int
	}{
		{
			name:  "responses api names",
			body:  `{"usage":{"input_tokens":5,"output_tokens":3}}`,
			found: true, in: 5, out: 3,
		},
		{
			name:  "chat completions names",
			body:  `{"usage":{"prompt_tokens":5,"completion_tokens":3}}`,
			found: true, in: 5, out: 3,
		},
		{
			name: "missing usage",
			body: `{"id":"resp_1"}`,
		},
		{
			name: "malformed",
			body: `not json`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			usage := ExtractUsage([]byte(tt.body))
			assert.Equal(t, tt.found, usage.Found)
			assert.Equal(t, tt.in, usage.InputTokens)
			assert.Equal(t, tt.out, usage.OutputTokens)
		})
	}
}
