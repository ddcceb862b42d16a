package aiconnectors

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replydesk/internal/config"
)

func TestOptionsFromConfig_DefaultModel(t *testing.T) {
	opts := OptionsFromConfig(config.ModelConfig{Provider: "Groq", APIKey: "gsk_test"})
	assert.Equal(t, ProviderGroq, opts.Provider)
	assert.Equal(t, "llama3-8b-8192", opts.Model)

	opts = OptionsFromConfig(config.ModelConfig{Provider: "openai", Model: "gpt-4o"})
	assert.Equal(t, "gpt-4o", opts.Model)
}

func TestNewConnector(t *testing.T) {
	c, err := NewConnector(context.Background(), ConnectorOptions{Provider: ProviderGroq, APIKey: "gsk_test", Model: "llama3-8b-8192"})
	require.NoError(t, err)
	assert.Equal(t, ProviderGroq, c.GetProvider())
	assert.Equal(t, GroqBaseURL, c.options.BaseURL)
	assert.NotNil(t, c.Model())
	assert.Len(t, c.CallOptions(), 1)

	_, err = NewConnector(context.Background(), ConnectorOptions{Provider: "mistral"})
	assert.ErrorContains(t, err, "unsupported provider")
}

func TestNewEmbedder(t *testing.T) {
	_, err := NewEmbedder(config.EmbeddingConfig{Provider: "openai", APIKey: "sk-test", Model: "text-embedding-3-small"})
	assert.NoError(t, err)

	_, err = NewEmbedder(config.EmbeddingConfig{Provider: "claude"})
	assert.Error(t, err)
}

func TestOllamaProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"models":[{"name":"llama3:latest","size":1}]}`))
	}))
	defer srv.Close()

	models, err := FetchOllamaModels(context.Background(), srv.URL+"/api", "")
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "llama3:latest", models[0].Name)

	c, err := NewConnector(context.Background(), ConnectorOptions{Provider: ProviderOllama, BaseURL: srv.URL, Model: "llama3"})
	require.NoError(t, err)
	assert.NoError(t, c.Probe(context.Background()))
}

func TestOllamaProbe_NoModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"models":[]}`))
	}))
	defer srv.Close()

	assert.ErrorContains(t, ValidateOllamaConnection(context.Background(), srv.URL, ""), "no models")
}
