package probe

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelwatch/internal/models"
)

func TestProbeSuccess(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hello"}}]}`))
	}))
	defer server.Close()

	p := New(5 * time.Second)
	res := p.Probe(context.Background(), Endpoint{BaseURL: server.URL, APIKey: "sk-test"}, "gpt-test")

	assert.True(t, res.Success)
	assert.True(t, res.GotReply)
	assert.Equal(t, models.ErrKindNone, res.Kind)
	assert.Equal(t, "/v1/chat/completions", gotPath)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "gpt-test", gotBody["model"])
}

func TestProbeNormalizesConfiguredSuffix(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`{"choices":[{}]}`))
	}))
	defer server.Close()

	p := New(5 * time.Second)
	res := p.Probe(context.Background(), Endpoint{BaseURL: server.URL + "/v1/chat/completions", APIKey: "k"}, "m")

	assert.True(t, res.Success)
	assert.Equal(t, "/v1/chat/completions", gotPath)
}

func TestProbeHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"invalid api key"}}`))
	}))
	defer server.Close()

	p := New(5 * time.Second)
	res := p.Probe(context.Background(), Endpoint{BaseURL: server.URL, APIKey: "bad"}, "m")

	assert.False(t, res.Success)
	assert.True(t, res.GotReply)
	assert.Equal(t, models.ErrKindHTTP, res.Kind)
	assert.Equal(t, http.StatusUnauthorized, res.HTTPStatus)
	assert.Equal(t, "invalid api key", res.Message)
}

func TestProbeHTTPErrorTruncatesBody(t *testing.T) {
	long := strings.Repeat("x", 1000)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(long))
	}))
	defer server.Close()

	p := New(5 * time.Second)
	res := p.Probe(context.Background(), Endpoint{BaseURL: server.URL, APIKey: "k"}, "m")

	assert.Equal(t, models.ErrKindHTTP, res.Kind)
	assert.Len(t, res.Message, maxErrorMessageLen)
}

func TestProbeMalformedResponse(t *testing.T) {
	cases := map[string]string{
		"empty choices": `{"choices":[]}`,
		"no choices":    `{"object":"chat.completion"}`,
		"not json":      `<html>gateway</html>`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(body))
			}))
			defer server.Close()

			p := New(5 * time.Second)
			res := p.Probe(context.Background(), Endpoint{BaseURL: server.URL, APIKey: "k"}, "m")

			assert.False(t, res.Success)
			assert.Equal(t, models.ErrKindMalformed, res.Kind)
		})
	}
}

func TestProbeTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(`{"choices":[{}]}`))
	}))
	defer server.Close()

	p := New(20 * time.Millisecond)
	res := p.Probe(context.Background(), Endpoint{BaseURL: server.URL, APIKey: "k"}, "m")

	assert.False(t, res.Success)
	assert.False(t, res.GotReply)
	assert.Equal(t, models.ErrKindTimeout, res.Kind)
}

func TestProbeNetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // nothing listening anymore

	p := New(time.Second)
	res := p.Probe(context.Background(), Endpoint{BaseURL: server.URL, APIKey: "k"}, "m")

	assert.False(t, res.Success)
	assert.False(t, res.GotReply)
	assert.Equal(t, models.ErrKindNetwork, res.Kind)
	assert.NotEmpty(t, res.Message)
}

func TestEndpointValidate(t *testing.T) {
	assert.NoError(t, Endpoint{BaseURL: "https://api.example.com", APIKey: "k"}.Validate())

	for _, ep := range []Endpoint{
		{},
		{BaseURL: "https://api.example.com"},
		{APIKey: "k"},
		{BaseURL: "::bad::", APIKey: "k"},
	} {
		err := ep.Validate()
		assert.ErrorIs(t, err, ErrNotConfigured)
	}
}

func TestListAvailableModels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/models", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.Write([]byte(`{"data":[{"id":"gpt-a","owned_by":"org"},{"id":"gpt-b"}]}`))
	}))
	defer server.Close()

	p := New(5 * time.Second)
	got, err := p.ListAvailableModels(context.Background(), Endpoint{BaseURL: server.URL, APIKey: "sk-test"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "gpt-a", got[0].ID)
	assert.Equal(t, "org", got[0].OwnedBy)
}

func TestListAvailableModelsUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	p := New(5 * time.Second)
	_, err := p.ListAvailableModels(context.Background(), Endpoint{BaseURL: server.URL, APIKey: "k"})
	assert.Error(t, err)
}
